package domain

import (
	"strings"
	"time"
)

// MaxItemQuantity ограничивает количество одной позиции.
const MaxItemQuantity int32 = 10000

// LineItem - позиция корзины. Quantity всегда >= 1, позиция с нулём удаляется.
type LineItem struct {
	ProductID string
	Quantity  int32
	AddedAt   time.Time
}

// Cart - открытая корзина пользователя. Открытой может быть не больше одной на пользователя.
type Cart struct {
	ID         string
	UserID     string
	Items      []LineItem
	CheckedOut bool
	// Version растёт при каждой мутации и защищает оформление от гонок.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsEmpty сообщает, нечего ли оформлять.
func (c Cart) IsEmpty() bool { return len(c.Items) == 0 }

// Item ищет позицию по товару.
func (c Cart) Item(productID string) (LineItem, bool) {
	for _, item := range c.Items {
		if item.ProductID == productID {
			return item, true
		}
	}
	return LineItem{}, false
}

// Clone возвращает копию корзины с независимым срезом позиций.
func (c Cart) Clone() Cart {
	dst := c
	dst.Items = append([]LineItem(nil), c.Items...)
	return dst
}

// ItemRequests превращает позиции корзины во вход оформления.
func (c Cart) ItemRequests() []ItemRequest {
	out := make([]ItemRequest, 0, len(c.Items))
	for _, item := range c.Items {
		out = append(out, ItemRequest{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return out
}

// ItemRequest - пара (товар, количество) от клиента или из корзины.
type ItemRequest struct {
	ProductID string
	Quantity  int32
}

// ValidateUserID проверяет идентификатор пользователя.
func ValidateUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrUserIDRequired
	}
	return nil
}

// ValidateQuantity проверяет количество: целое, от 1 до MaxItemQuantity.
func ValidateQuantity(qty int32) error {
	if qty <= 0 || qty > MaxItemQuantity {
		return ErrInvalidQuantity
	}
	return nil
}

// Validate проверяет структуру позиции до любых обращений к хранилищу.
func (r ItemRequest) Validate() error {
	if strings.TrimSpace(r.ProductID) == "" {
		return ErrProductIDRequired
	}
	return ValidateQuantity(r.Quantity)
}

// MergeItemRequests валидирует список и схлопывает повторы товара, суммируя количество.
// Порядок первых вхождений сохраняется.
func MergeItemRequests(items []ItemRequest) ([]ItemRequest, error) {
	merged := make([]ItemRequest, 0, len(items))
	index := make(map[string]int, len(items))
	for _, item := range items {
		item.ProductID = strings.TrimSpace(item.ProductID)
		if err := item.Validate(); err != nil {
			return nil, err
		}
		if i, ok := index[item.ProductID]; ok {
			merged[i].Quantity += item.Quantity
			if err := ValidateQuantity(merged[i].Quantity); err != nil {
				return nil, err
			}
			continue
		}
		index[item.ProductID] = len(merged)
		merged = append(merged, item)
	}
	return merged, nil
}
