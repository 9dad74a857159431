// Package checkout превращает корзину или явный список позиций в заказ.
// Это единственное место, где создаются заказы и списываются остатки.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

const (
	sourceCart  = "cart"
	sourceItems = "items"
)

// CartInvalidator сбрасывает кэш корзины после оформления.
type CartInvalidator interface {
	Invalidate(ctx context.Context, userID string)
}

// Dependencies - зависимости оркестратора.
type Dependencies struct {
	Catalog  domain.ProductCatalog
	Users    domain.UserDirectory
	Carts    domain.CartRepository
	Store    domain.CheckoutStore
	Timeline domain.TimelineRepository
	// CartCache опционален.
	CartCache CartInvalidator
	Metrics   *metrics.StoreMetrics
	Logger    *log.Entry
}

// Orchestrator выполняет оформление заказа.
type Orchestrator struct {
	catalog   domain.ProductCatalog
	users     domain.UserDirectory
	carts     domain.CartRepository
	store     domain.CheckoutStore
	timeline  domain.TimelineRepository
	cartCache CartInvalidator
	metrics   *metrics.StoreMetrics
	logger    *log.Entry

	now   func() time.Time
	newID func() string
}

// NewOrchestrator создаёт оркестратор оформления.
func NewOrchestrator(deps Dependencies) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = log.WithField("component", "checkout")
	}
	return &Orchestrator{
		catalog:   deps.Catalog,
		users:     deps.Users,
		carts:     deps.Carts,
		store:     deps.Store,
		timeline:  deps.Timeline,
		cartCache: deps.CartCache,
		metrics:   deps.Metrics,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
}

// CheckoutCart оформляет открытую корзину пользователя и закрывает её в той же транзакции.
// Если корзина изменилась между чтением и записью, возвращается ErrCartVersionConflict.
func (o *Orchestrator) CheckoutCart(ctx context.Context, userID string) (domain.Order, error) {
	userID = strings.TrimSpace(userID)
	if err := o.ensureUser(ctx, userID); err != nil {
		return domain.Order{}, err
	}

	cart, err := o.carts.GetOpen(ctx, userID)
	switch {
	case errors.Is(err, domain.ErrCartNotFound):
		return domain.Order{}, domain.ErrEmptyCart
	case err != nil:
		return domain.Order{}, domain.Internal("load cart", err)
	}

	order, err := o.place(ctx, sourceCart, userID, cart.ItemRequests(), &cart)
	if err != nil {
		return domain.Order{}, err
	}
	if o.cartCache != nil {
		o.cartCache.Invalidate(ctx, userID)
	}
	return order, nil
}

// CreateOrder оформляет явный список позиций. Сохранённая корзина не читается и не меняется.
func (o *Orchestrator) CreateOrder(ctx context.Context, userID string, items []domain.ItemRequest) (domain.Order, error) {
	userID = strings.TrimSpace(userID)
	if err := o.ensureUser(ctx, userID); err != nil {
		return domain.Order{}, err
	}
	return o.place(ctx, sourceItems, userID, items, nil)
}

func (o *Orchestrator) place(ctx context.Context, source, userID string, items []domain.ItemRequest, cart *domain.Cart) (order domain.Order, err error) {
	started := time.Now()
	o.metrics.CheckoutStarted()
	defer func() {
		o.metrics.CheckoutFinished(source, err, time.Since(started))
	}()

	if len(items) == 0 {
		return domain.Order{}, domain.ErrEmptyCart
	}
	items, err = domain.MergeItemRequests(items)
	if err != nil {
		return domain.Order{}, err
	}

	order, err = o.buildOrder(ctx, userID, items)
	if err != nil {
		return domain.Order{}, err
	}

	req := domain.PlaceOrderRequest{Order: order}
	if cart != nil {
		req.CartID = cart.ID
		req.CartVersion = cart.Version
	}

	msg, err := kafka.NewOrderEvent(domain.EventOrderCreated, order, req.CartID, order.CreatedAt).OutboxMessage()
	if err != nil {
		return domain.Order{}, domain.Internal("build order event", err)
	}
	req.Events = []domain.OutboxMessage{msg}

	placed, err := o.store.PlaceOrder(ctx, req)
	if err != nil {
		entry := o.logger.WithError(err).WithFields(log.Fields{"user_id": userID, "source": source})
		if domain.KindOf(err) == domain.KindInternal {
			entry.Error("place order failed")
		} else {
			entry.Info("place order rejected")
		}
		return domain.Order{}, domain.Internal("place order", err)
	}

	o.metrics.RecordOutboxEvent(len(req.Events))
	o.metrics.RecordOrderTotal(placed.TotalMinor)
	o.appendTimeline(ctx, placed.ID, domain.TimelineOrderCreated, source, placed.CreatedAt)

	o.logger.WithFields(log.Fields{
		"order_id":    placed.ID,
		"user_id":     userID,
		"source":      source,
		"items":       len(placed.Items),
		"total_minor": placed.TotalMinor,
	}).Info("order created")

	return placed, nil
}

// buildOrder проверяет наличие и остаток по каждой позиции и снимает цены.
// Окончательную проверку остатка делает CheckoutStore атомарно при списании.
func (o *Orchestrator) buildOrder(ctx context.Context, userID string, items []domain.ItemRequest) (domain.Order, error) {
	lines := make([]domain.OrderItem, 0, len(items))
	for _, item := range items {
		product, err := o.catalog.FindOne(ctx, item.ProductID)
		if err != nil {
			return domain.Order{}, withProduct(domain.Internal("find product", err), item.ProductID)
		}
		if product.Stock < item.Quantity {
			return domain.Order{}, withProduct(domain.ErrInsufficientStock, item.ProductID)
		}
		lines = append(lines, domain.OrderItem{
			ID:             o.newID(),
			ProductID:      product.ID,
			Quantity:       item.Quantity,
			UnitPriceMinor: product.PriceMinor,
		})
	}

	total, err := domain.SumItems(lines)
	if err != nil {
		return domain.Order{}, err
	}

	now := o.now()
	order := domain.Order{
		ID:         o.newID(),
		UserID:     userID,
		Items:      lines,
		TotalMinor: total,
		Status:     domain.OrderStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return domain.Order{}, domain.Internal("validate order", errors.Join(errs...))
	}
	return order, nil
}

func (o *Orchestrator) ensureUser(ctx context.Context, userID string) error {
	if err := domain.ValidateUserID(userID); err != nil {
		return err
	}
	if _, err := o.users.FindOne(ctx, userID); err != nil {
		return domain.Internal("find user", err)
	}
	return nil
}

func (o *Orchestrator) appendTimeline(ctx context.Context, orderID, eventType, reason string, at time.Time) {
	if o.timeline == nil {
		return
	}
	err := o.timeline.Append(ctx, domain.TimelineEvent{
		OrderID:  orderID,
		Type:     eventType,
		Reason:   reason,
		Occurred: at,
	})
	if err != nil {
		o.logger.WithError(err).WithField("order_id", orderID).Warn("timeline append failed")
		return
	}
	o.metrics.RecordTimelineEvent()
}

// withProduct добавляет ID товара к сообщению, сохраняя цепочку для errors.Is.
func withProduct(err error, productID string) error {
	if domain.KindOf(err) == domain.KindInternal {
		return err
	}
	return fmt.Errorf("%w: product %s", err, productID)
}
