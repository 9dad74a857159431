package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Revocations - хранилище отозванных токенов для memory-режима и тестов.
// Работает только внутри одного процесса; для нескольких инстансов нужен redis.Revocations.
type Revocations struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewRevocations создаёт пустое хранилище отзывов.
func NewRevocations() *Revocations {
	return &Revocations{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Revoke помечает токен отозванным на ttl.
func (r *Revocations) Revoke(_ context.Context, tokenHash string, ttl time.Duration) error {
	tokenHash = strings.TrimSpace(tokenHash)
	if tokenHash == "" || ttl <= 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[tokenHash] = r.now().Add(ttl)
	return nil
}

// IsRevoked сообщает, отозван ли токен; просроченные записи удаляются лениво.
func (r *Revocations) IsRevoked(_ context.Context, tokenHash string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	expiresAt, ok := r.entries[tokenHash]
	if !ok {
		return false, nil
	}
	if !r.now().Before(expiresAt) {
		delete(r.entries, tokenHash)
		return false, nil
	}
	return true, nil
}

var _ domain.TokenRevocations = (*Revocations)(nil)
