package domain

import "time"

const (
	// AggregateOrder - тип агрегата для событий заказа.
	AggregateOrder = "order"

	EventOrderCreated   = "order.created"
	EventOrderCompleted = "order.completed"
)

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
