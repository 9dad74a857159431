// Package ledger отвечает за историю заказов и перевод их статуса.
package ledger

import (
	"context"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/resolve"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 10 * time.Millisecond
)

// ItemView - позиция заказа для отображения. Цена берётся из снимка, а не из каталога.
type ItemView struct {
	Product        domain.ProductRef
	Quantity       int32
	UnitPriceMinor int64
	LineTotalMinor int64
}

// OrderView - заказ с позициями, разрешёнными по каталогу.
type OrderView struct {
	ID         string
	UserID     string
	Items      []ItemView
	TotalMinor int64
	Status     domain.OrderStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Config задаёт retry при конфликте версий.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Service реализует OrderLedger.
type Service struct {
	orders   domain.OrderRepository
	users    domain.UserDirectory
	timeline domain.TimelineRepository
	resolver *resolve.Resolver
	metrics  *metrics.StoreMetrics
	logger   *log.Entry
	cfg      Config
	now      func() time.Time
}

// NewService создаёт OrderLedger. timeline и m могут быть nil.
func NewService(orders domain.OrderRepository, users domain.UserDirectory, catalog domain.ProductCatalog, timeline domain.TimelineRepository, m *metrics.StoreMetrics, logger *log.Entry, cfg Config) *Service {
	if logger == nil {
		logger = log.WithField("component", "order-ledger")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BaseDelay < 0 {
		cfg.BaseDelay = 0
	}
	return &Service{
		orders:   orders,
		users:    users,
		timeline: timeline,
		resolver: resolve.New(catalog),
		metrics:  m,
		logger:   logger,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// History возвращает завершённые заказы пользователя, новые первыми.
// Пустой результат - ErrNoOrderHistory.
func (s *Service) History(ctx context.Context, userID string) ([]OrderView, error) {
	userID = strings.TrimSpace(userID)
	if err := domain.ValidateUserID(userID); err != nil {
		return nil, err
	}
	if _, err := s.users.FindOne(ctx, userID); err != nil {
		return nil, domain.Internal("find user", err)
	}

	orders, err := s.orders.ListByUser(ctx, userID, domain.OrderStatusCompleted, 0)
	if err != nil {
		return nil, domain.Internal("list orders", err)
	}
	if len(orders) == 0 {
		return nil, domain.ErrNoOrderHistory
	}
	return s.views(ctx, orders)
}

// Get возвращает заказ с его timeline.
func (s *Service) Get(ctx context.Context, orderID string) (OrderView, []domain.TimelineEvent, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return OrderView{}, nil, domain.ErrOrderIDRequired
	}

	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return OrderView{}, nil, domain.Internal("get order", err)
	}
	views, err := s.views(ctx, []domain.Order{order})
	if err != nil {
		return OrderView{}, nil, err
	}

	var events []domain.TimelineEvent
	if s.timeline != nil {
		events, err = s.timeline.List(ctx, orderID)
		if err != nil {
			s.logger.WithError(err).WithField("order_id", orderID).Warn("timeline list failed")
			events = nil
		}
	}
	return views[0], events, nil
}

// Complete переводит заказ pending -> completed. Повторный вызов на завершённом заказе
// ничего не меняет и возвращает заказ без ошибки.
// При конфликте версий заказ перечитывается, задержка растёт экспоненциально.
func (s *Service) Complete(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, domain.ErrOrderIDRequired
	}

	for attempt := 1; ; attempt++ {
		order, err := s.orders.Get(ctx, orderID)
		if err != nil {
			s.metrics.RecordStatusUpdate(metrics.ResultLabel(err))
			return domain.Order{}, domain.Internal("get order", err)
		}
		if order.Status == domain.OrderStatusCompleted {
			s.metrics.RecordStatusUpdate("noop")
			return order, nil
		}
		if !order.Status.CanTransitionTo(domain.OrderStatusCompleted) {
			s.metrics.RecordStatusUpdate(metrics.ResultLabel(domain.ErrInvalidTransition))
			return domain.Order{}, domain.ErrInvalidTransition
		}

		next := order.Clone()
		next.Status = domain.OrderStatusCompleted
		next.UpdatedAt = s.now()

		msg, err := kafka.NewOrderEvent(domain.EventOrderCompleted, next, "", next.UpdatedAt).OutboxMessage()
		if err != nil {
			return domain.Order{}, domain.Internal("build order event", err)
		}

		err = s.orders.Save(ctx, next, msg)
		if err == nil {
			next.Version++
			s.afterComplete(ctx, next)
			return next, nil
		}
		if !domain.IsVersionConflict(err) || attempt >= s.cfg.MaxAttempts {
			s.metrics.RecordStatusUpdate(metrics.ResultLabel(err))
			s.logger.WithError(err).WithFields(log.Fields{"order_id": orderID, "attempt": attempt}).Error("failed to persist status")
			return domain.Order{}, domain.Internal("save order", err)
		}

		s.logger.WithFields(log.Fields{
			"order_id": orderID,
			"attempt":  attempt,
			"version":  order.Version,
		}).Warn("version conflict detected, retrying")

		if err := sleep(ctx, s.backoff(attempt)); err != nil {
			return domain.Order{}, domain.Internal("complete order", err)
		}
	}
}

func (s *Service) afterComplete(ctx context.Context, order domain.Order) {
	s.metrics.RecordStatusUpdate("completed")
	s.metrics.RecordOutboxEvent(1)

	if s.timeline != nil {
		err := s.timeline.Append(ctx, domain.TimelineEvent{
			OrderID:  order.ID,
			Type:     domain.TimelineOrderCompleted,
			Occurred: order.UpdatedAt,
		})
		if err != nil {
			s.logger.WithError(err).WithField("order_id", order.ID).Warn("append timeline event failed")
		} else {
			s.metrics.RecordTimelineEvent()
		}
	}

	s.logger.WithFields(log.Fields{"order_id": order.ID, "user_id": order.UserID}).Info("order completed")
}

func (s *Service) backoff(attempt int) time.Duration {
	if s.cfg.BaseDelay <= 0 {
		return 0
	}
	return s.cfg.BaseDelay * time.Duration(1<<uint(attempt-1))
}

func (s *Service) views(ctx context.Context, orders []domain.Order) ([]OrderView, error) {
	var ids []string
	for _, order := range orders {
		for _, item := range order.Items {
			ids = append(ids, item.ProductID)
		}
	}
	refs, err := s.resolver.Refs(ctx, ids)
	if err != nil {
		return nil, err
	}

	views := make([]OrderView, 0, len(orders))
	for _, order := range orders {
		view := OrderView{
			ID:         order.ID,
			UserID:     order.UserID,
			Items:      make([]ItemView, 0, len(order.Items)),
			TotalMinor: order.TotalMinor,
			Status:     order.Status,
			CreatedAt:  order.CreatedAt,
			UpdatedAt:  order.UpdatedAt,
		}
		for _, item := range order.Items {
			view.Items = append(view.Items, ItemView{
				Product:        refs[item.ProductID],
				Quantity:       item.Quantity,
				UnitPriceMinor: item.UnitPriceMinor,
				LineTotalMinor: item.LineTotal(),
			})
		}
		views = append(views, view)
	}
	return views, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
