package domain

import (
	"context"
	"time"
)

// ProductCatalog - внешний каталог товаров.
type ProductCatalog interface {
	// FindOne возвращает товар или ErrProductNotFound.
	FindOne(ctx context.Context, id string) (Product, error)
	// FindMany возвращает найденные товары по ID; отсутствующие просто не попадают в map.
	FindMany(ctx context.Context, ids []string) (map[string]Product, error)
	// DecrementStock атомарно списывает qty, только если остаток не уйдёт в минус.
	DecrementStock(ctx context.Context, id string, qty int32) (Product, error)
}

// UserDirectory подтверждает существование пользователя.
type UserDirectory interface {
	FindOne(ctx context.Context, id string) (User, error)
}

// CartRepository хранит открытые корзины. Слияние позиций выполняется атомарно внутри хранилища.
type CartRepository interface {
	// GetOpen возвращает открытую корзину или ErrCartNotFound.
	GetOpen(ctx context.Context, userID string) (Cart, error)
	// AddItem создаёт корзину при необходимости и прибавляет qty к существующей позиции.
	AddItem(ctx context.Context, userID, productID string, qty int32) (Cart, error)
	// RemoveItem удаляет позицию; ErrCartNotFound или ErrProductNotInCart при отсутствии.
	RemoveItem(ctx context.Context, userID, productID string) (Cart, error)
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(ctx context.Context, id string) (Order, error)
	// ListByUser возвращает заказы пользователя (новые первыми); пустой status - без фильтра.
	ListByUser(ctx context.Context, userID string, status OrderStatus, limit int) ([]Order, error)
	// Save применяет обновления с учётом optimistic locking и в той же транзакции кладёт события в outbox.
	Save(ctx context.Context, order Order, events ...OutboxMessage) error
}

// PlaceOrderRequest - всё, что оформление записывает одной атомарной единицей.
type PlaceOrderRequest struct {
	Order Order
	// CartID пуст при оформлении по явному списку позиций.
	CartID      string
	CartVersion int64
	Events      []OutboxMessage
}

// CheckoutStore применяет оформление целиком или не применяет ничего:
// условное списание остатков, запись заказа, закрытие корзины, outbox.
type CheckoutStore interface {
	PlaceOrder(ctx context.Context, req PlaceOrderRequest) (Order, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, orderID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	// Release освобождает ключ, который ещё в processing; завершённые записи не трогает.
	Release(ctx context.Context, key string) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// TokenRevocations - общее для всех инстансов хранилище отозванных токенов с TTL.
type TokenRevocations interface {
	Revoke(ctx context.Context, tokenHash string, ttl time.Duration) error
	IsRevoked(ctx context.Context, tokenHash string) (bool, error)
}
