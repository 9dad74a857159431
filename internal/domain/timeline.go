package domain

import "time"

const (
	TimelineOrderCreated   = "OrderCreated"
	TimelineOrderCompleted = "OrderCompleted"
)

// TimelineEvent описывает событие в жизненном цикле заказа.
type TimelineEvent struct {
	OrderID  string
	Type     string
	Reason   string
	Occurred time.Time
}
