// Package outbox доставляет события заказов из transactional outbox в брокер.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// maxDrainRounds ограничивает число батчей подряд без ожидания тика.
const maxDrainRounds = 10

var (
	publishAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_outbox_publish_attempts_total",
		Help: "Outbox publish attempts by result.",
	}, []string{"result"})
	pendingRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "storefront_outbox_pending_records",
		Help: "Pending outbox records.",
	})
	oldestPendingAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "storefront_outbox_oldest_pending_age_seconds",
		Help: "Age of the oldest pending outbox record in seconds.",
	})
)

// Worker забирает pending-сообщения батчами и публикует их с повторами.
// Сообщение, не ушедшее за все попытки, помечается failed и копируется в DLQ.
type Worker struct {
	repo      domain.OutboxRepository
	publisher domain.OutboxPublisher
	cfg       config
	logger    *log.Entry
}

func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Worker {
	cfg := defaultConfig()
	for _, apply := range options {
		apply(&cfg)
	}
	cfg.normalize()

	return &Worker{repo: repo, publisher: publisher, cfg: cfg, logger: cfg.logger}
}

// Run опрашивает outbox до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker disabled: no repository or publisher")
		return
	}

	ticker := time.NewTicker(w.cfg.pollInterval)
	defer ticker.Stop()

	for {
		w.drain(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// drain повторяет ProcessOnce, пока батчи приходят полными.
func (w *Worker) drain(ctx context.Context) {
	for round := 0; round < maxDrainRounds; round++ {
		if ctx.Err() != nil || w.ProcessOnce(ctx) < w.cfg.batchSize {
			return
		}
	}
}

// ProcessOnce обрабатывает один батч и возвращает число взятых в работу сообщений.
func (w *Worker) ProcessOnce(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}

	w.observeBacklog(ctx)
	defer w.observeBacklog(ctx)

	batch, err := w.repo.PullPending(ctx, w.cfg.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("pull pending outbox messages")
		return 0
	}

	var n int
	for _, msg := range batch {
		if ctx.Err() != nil {
			break
		}
		w.deliver(ctx, msg)
		n++
	}
	return n
}

func (w *Worker) deliver(ctx context.Context, msg domain.OutboxMessage) {
	entry := w.logger.WithFields(log.Fields{
		"outbox_id":    msg.ID,
		"event_type":   msg.EventType,
		"aggregate_id": msg.AggregateID,
	})

	publishErr := w.publishWithRetry(ctx, msg)
	switch {
	case publishErr == nil:
		if err := w.repo.MarkSent(ctx, msg.ID); err != nil {
			entry.WithError(err).Warn("mark outbox message sent")
		}
		return
	case ctx.Err() != nil:
		// Остановка: сообщение остаётся pending до следующего запуска.
		return
	}

	entry.WithError(publishErr).Error("outbox message undeliverable")
	publishAttempts.WithLabelValues("failed").Inc()

	if err := w.sendToDLQ(ctx, msg, publishErr); err != nil {
		entry.WithError(err).Warn("dlq publish failed")
		publishAttempts.WithLabelValues("dlq_failed").Inc()
	}
	if err := w.repo.MarkFailed(ctx, msg.ID); err != nil {
		entry.WithError(err).Warn("mark outbox message failed")
	}
}

func (w *Worker) publishWithRetry(ctx context.Context, msg domain.OutboxMessage) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = w.publishOnce(ctx, w.publisher, msg)
		if err == nil {
			publishAttempts.WithLabelValues("sent").Inc()
			return nil
		}
		publishAttempts.WithLabelValues("retry_error").Inc()
		if attempt == w.cfg.maxAttempts {
			break
		}
		if err := sleepCtx(ctx, w.retryBackoff(attempt)); err != nil {
			return err
		}
	}
	return fmt.Errorf("publish failed after %d attempts: %w", w.cfg.maxAttempts, err)
}

func (w *Worker) publishOnce(ctx context.Context, publisher domain.OutboxPublisher, msg domain.OutboxMessage) error {
	attemptCtx, cancel := context.WithTimeout(ctx, w.cfg.publishTimeout)
	defer cancel()
	return publisher.Publish(attemptCtx, msg)
}

// retryBackoff: base * 2^(attempt-1) с насыщением вместо переполнения.
func (w *Worker) retryBackoff(attempt int) time.Duration {
	base := w.cfg.retryBaseDelay
	if base <= 0 || attempt < 1 {
		return 0
	}
	shift := attempt - 1
	if shift >= 62 || base > time.Duration(math.MaxInt64>>shift) {
		return time.Duration(math.MaxInt64)
	}
	return base << shift
}

func sleepCtx(ctx context.Context, d time.Duration) error {
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

func (w *Worker) observeBacklog(ctx context.Context) {
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.logger.WithError(err).Debug("outbox stats unavailable")
		return
	}

	pendingRecords.Set(float64(stats.PendingCount))
	age := 0.0
	if stats.PendingCount > 0 && !stats.OldestPendingAt.IsZero() {
		age = max(time.Since(stats.OldestPendingAt).Seconds(), 0)
	}
	oldestPendingAge.Set(age)
}

// dlqEnvelope сохраняет исходное сообщение вместе с причиной отказа.
type dlqEnvelope struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`
	FailedAt      time.Time       `json:"dlq_published_at"`
}

func (w *Worker) sendToDLQ(ctx context.Context, msg domain.OutboxMessage, cause error) error {
	if w.cfg.dlq == nil {
		return nil
	}

	payload := json.RawMessage(msg.Payload)
	if !json.Valid(payload) {
		// Не-JSON полезная нагрузка уходит строкой.
		payload, _ = json.Marshal(string(msg.Payload))
	}
	body, err := json.Marshal(dlqEnvelope{
		OutboxID:      msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       payload,
		PublishError:  cause.Error(),
		FailedAt:      time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode dlq envelope: %w", err)
	}

	dead := msg
	dead.Payload = body
	if err := w.publishOnce(ctx, w.cfg.dlq, dead); err != nil {
		return fmt.Errorf("publish to dlq: %w", err)
	}
	return nil
}
