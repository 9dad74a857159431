package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	// DefaultKeyTTL - сколько живёт сохранённый ответ на повтор оформления.
	DefaultKeyTTL = 24 * time.Hour

	releaseTimeout = 2 * time.Second
)

// Outcome - что делать с запросом, пришедшим с Idempotency-Key.
type Outcome int

const (
	// OutcomeProceed - ключ новый, запрос нужно выполнить и вызвать Finish.
	OutcomeProceed Outcome = iota
	// OutcomeReplay - запрос уже выполнен, вернуть сохранённый ответ.
	OutcomeReplay
	// OutcomeInProgress - тот же запрос ещё выполняется.
	OutcomeInProgress
	// OutcomeMismatch - ключ занят запросом с другим телом.
	OutcomeMismatch
)

// Decision - результат Begin.
type Decision struct {
	Outcome Outcome
	Record  domain.IdempotencyRecord
}

// Guard защищает оформление заказа от повторной отправки одного и того же запроса.
type Guard struct {
	repo   domain.IdempotencyRepository
	ttl    time.Duration
	logger *log.Entry
	now    func() time.Time
}

// NewGuard создаёт Guard; ttl <= 0 заменяется на DefaultKeyTTL.
func NewGuard(repo domain.IdempotencyRepository, ttl time.Duration, logger *log.Entry) *Guard {
	if ttl <= 0 {
		ttl = DefaultKeyTTL
	}
	if logger == nil {
		logger = log.WithField("component", "idempotency-guard")
	}
	return &Guard{
		repo:   repo,
		ttl:    ttl,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// RequestHash строит отпечаток запроса: пользователь, маршрут и тело.
func RequestHash(userID, route string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(strings.TrimSpace(userID)))
	h.Write([]byte{0})
	h.Write([]byte(route))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// Begin занимает ключ или сообщает, что делать с повтором.
func (g *Guard) Begin(ctx context.Context, key, requestHash string) (Decision, error) {
	record, err := g.repo.CreateProcessing(ctx, key, requestHash, g.now().Add(g.ttl))
	switch {
	case err == nil:
		return Decision{Outcome: OutcomeProceed, Record: record}, nil
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return Decision{Outcome: OutcomeMismatch, Record: record}, nil
	case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
		if record.Replayable() {
			return Decision{Outcome: OutcomeReplay, Record: record}, nil
		}
		return Decision{Outcome: OutcomeInProgress, Record: record}, nil
	default:
		return Decision{}, fmt.Errorf("reserve idempotency key: %w", err)
	}
}

// Finish сохраняет ответ для будущих повторов. Ошибка сохранения только логируется:
// ответ клиенту уже сформирован.
//
// 2xx и 4xx сохраняются и повторяются как есть. После 5xx ничего не применено,
// поэтому ключ освобождается и следующий запрос с ним выполнится заново.
func (g *Guard) Finish(ctx context.Context, key string, httpStatus int, body []byte) {
	if httpStatus >= http.StatusInternalServerError {
		g.Release(ctx, key)
		return
	}

	mark := g.repo.MarkDone
	if httpStatus >= http.StatusBadRequest {
		mark = g.repo.MarkFailed
	}
	if err := mark(ctx, key, body, httpStatus); err != nil {
		g.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotent response")
	}
}

// Release освобождает занятый ключ без сохранения ответа. Вызывается и тогда,
// когда обработка оборвалась паникой.
func (g *Guard) Release(ctx context.Context, key string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	if err := g.repo.Release(ctx, key); err != nil {
		g.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to release idempotency key")
	}
}
