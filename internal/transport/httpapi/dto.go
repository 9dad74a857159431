package httpapi

import (
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/cart"
	"github.com/vladislavdragonenkov/storefront/internal/service/ledger"
)

type itemRequestDTO struct {
	ProductID string `json:"product_id"`
	Quantity  int32  `json:"quantity"`
}

type createOrderRequestDTO struct {
	Items []itemRequestDTO `json:"items"`
}

type productDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Category    string `json:"category,omitempty"`
	Description string `json:"description,omitempty"`
	PriceMinor  int64  `json:"price_minor"`
	Stock       int32  `json:"stock"`
}

type cartLineDTO struct {
	ProductID string      `json:"product_id"`
	Quantity  int32       `json:"quantity"`
	AddedAt   time.Time   `json:"added_at"`
	Product   *productDTO `json:"product,omitempty"`
}

type cartDTO struct {
	ID        string        `json:"id"`
	UserID    string        `json:"user_id"`
	Version   int64         `json:"version"`
	Items     []cartLineDTO `json:"items"`
	UpdatedAt time.Time     `json:"updated_at"`
}

type orderItemDTO struct {
	ProductID      string      `json:"product_id"`
	Quantity       int32       `json:"quantity"`
	UnitPriceMinor int64       `json:"unit_price_minor"`
	LineTotalMinor int64       `json:"line_total_minor"`
	Product        *productDTO `json:"product,omitempty"`
}

type orderDTO struct {
	ID         string         `json:"id"`
	UserID     string         `json:"user_id"`
	Status     string         `json:"status"`
	TotalMinor int64          `json:"total_minor"`
	Items      []orderItemDTO `json:"items"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	Timeline   []timelineDTO  `json:"timeline,omitempty"`
}

type timelineDTO struct {
	Type     string    `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred"`
}

type historyDTO struct {
	Orders []orderDTO `json:"orders"`
}

// productFromRef отдаёт данные товара, только если ссылка разрешена по каталогу.
func productFromRef(ref domain.ProductRef) *productDTO {
	p, ok := ref.Product()
	if !ok {
		return nil
	}
	return &productDTO{
		ID:          p.ID,
		Name:        p.Name,
		Category:    p.Category,
		Description: p.Description,
		PriceMinor:  p.PriceMinor,
		Stock:       p.Stock,
	}
}

func cartFromView(v cart.View) cartDTO {
	out := cartDTO{
		ID:        v.ID,
		UserID:    v.UserID,
		Version:   v.Version,
		Items:     make([]cartLineDTO, 0, len(v.Items)),
		UpdatedAt: v.UpdatedAt,
	}
	for _, line := range v.Items {
		out.Items = append(out.Items, cartLineDTO{
			ProductID: line.Product.ID(),
			Quantity:  line.Quantity,
			AddedAt:   line.AddedAt,
			Product:   productFromRef(line.Product),
		})
	}
	return out
}

func orderFromDomain(o domain.Order) orderDTO {
	out := orderDTO{
		ID:         o.ID,
		UserID:     o.UserID,
		Status:     string(o.Status),
		TotalMinor: o.TotalMinor,
		Items:      make([]orderItemDTO, 0, len(o.Items)),
		CreatedAt:  o.CreatedAt,
		UpdatedAt:  o.UpdatedAt,
	}
	for _, item := range o.Items {
		out.Items = append(out.Items, orderItemDTO{
			ProductID:      item.ProductID,
			Quantity:       item.Quantity,
			UnitPriceMinor: item.UnitPriceMinor,
			LineTotalMinor: item.LineTotal(),
		})
	}
	return out
}

func orderFromView(v ledger.OrderView) orderDTO {
	out := orderDTO{
		ID:         v.ID,
		UserID:     v.UserID,
		Status:     string(v.Status),
		TotalMinor: v.TotalMinor,
		Items:      make([]orderItemDTO, 0, len(v.Items)),
		CreatedAt:  v.CreatedAt,
		UpdatedAt:  v.UpdatedAt,
	}
	for _, item := range v.Items {
		out.Items = append(out.Items, orderItemDTO{
			ProductID:      item.Product.ID(),
			Quantity:       item.Quantity,
			UnitPriceMinor: item.UnitPriceMinor,
			LineTotalMinor: item.LineTotalMinor,
			Product:        productFromRef(item.Product),
		})
	}
	return out
}

func timelineFromDomain(events []domain.TimelineEvent) []timelineDTO {
	out := make([]timelineDTO, 0, len(events))
	for _, e := range events {
		out = append(out, timelineDTO{Type: e.Type, Reason: e.Reason, Occurred: e.Occurred})
	}
	return out
}
