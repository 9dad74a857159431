package domain

import (
	"errors"
	"math"
	"time"
)

// OrderStatus описывает жизненный цикл заказа: pending -> completed.
type OrderStatus string

const (
	// OrderStatusPending - заказ создан при оформлении.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusCompleted - терминальный статус, выставляется оператором.
	OrderStatusCompleted OrderStatus = "completed"
)

// Valid проверяет, что статус поддерживается.
func (s OrderStatus) Valid() bool {
	return s == OrderStatusPending || s == OrderStatusCompleted
}

// CanTransitionTo разрешает только pending -> completed.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	return s == OrderStatusPending && next == OrderStatusCompleted
}

var (
	errOrderUserRequired  = errors.New("order user_id is required")
	errOrderItemsRequired = errors.New("order must contain at least one item")
	errOrderItemQty       = errors.New("order item quantity must be greater than zero")
	errOrderItemPrice     = errors.New("order item price must be non-negative")
	errOrderTotalMismatch = errors.New("order total does not match items sum")
	errOrderStatusInvalid = errors.New("order status is invalid")
)

// OrderItem - позиция заказа со снимком цены на момент оформления.
type OrderItem struct {
	ID        string
	ProductID string
	Quantity  int32
	// UnitPriceMinor не меняется после создания заказа, даже если цена в каталоге изменилась.
	UnitPriceMinor int64
}

// LineTotal возвращает стоимость позиции. Для заказа, чья сумма посчитана
// через SumItems, переполнения здесь уже нет.
func (i OrderItem) LineTotal() int64 {
	return int64(i.Quantity) * i.UnitPriceMinor
}

func (i OrderItem) checkedLineTotal() (int64, error) {
	q, price := int64(i.Quantity), i.UnitPriceMinor
	if q == 0 || price == 0 {
		return 0, nil
	}
	total := q * price
	if total/q != price || (q == -1 && price == math.MinInt64) {
		return 0, ErrOrderTotalOverflow
	}
	return total, nil
}

// Order неизменяем после создания, кроме Status.
type Order struct {
	ID         string
	UserID     string
	Items      []OrderItem
	TotalMinor int64
	Status     OrderStatus
	Version    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Clone возвращает глубокую копию заказа.
func (o Order) Clone() Order {
	dst := o
	dst.Items = append([]OrderItem(nil), o.Items...)
	return dst
}

// SumItems считает сумму позиций и возвращает ErrOrderTotalOverflow,
// если произведение или сумма выходят за int64.
func SumItems(items []OrderItem) (int64, error) {
	var total int64
	for _, item := range items {
		line, err := item.checkedLineTotal()
		if err != nil {
			return 0, err
		}
		if (line > 0 && total > math.MaxInt64-line) || (line < 0 && total < math.MinInt64-line) {
			return 0, ErrOrderTotalOverflow
		}
		total += line
	}
	return total, nil
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.UserID == "" {
		errs = append(errs, errOrderUserRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, errOrderItemsRequired)
	}
	if !o.Status.Valid() {
		errs = append(errs, errOrderStatusInvalid)
	}
	for _, item := range o.Items {
		if item.Quantity <= 0 {
			errs = append(errs, errOrderItemQty)
		}
		if item.UnitPriceMinor < 0 {
			errs = append(errs, errOrderItemPrice)
		}
	}
	if total, err := SumItems(o.Items); err != nil {
		errs = append(errs, err)
	} else if total != o.TotalMinor {
		errs = append(errs, errOrderTotalMismatch)
	}

	return errs
}
