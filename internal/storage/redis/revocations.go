package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Revocations - список отозванных токенов, общий для всех инстансов сервиса.
// Запись живёт ровно до истечения самого токена.
type Revocations struct {
	client *redis.Client
}

// NewRevocations создаёт хранилище отзывов поверх клиента Redis.
func NewRevocations(client *redis.Client) *Revocations {
	return &Revocations{client: client}
}

func (r *Revocations) Revoke(ctx context.Context, tokenHash string, ttl time.Duration) error {
	// Токен без срока жизни или пустой хэш отзывать нечего.
	if tokenHash == "" || ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, revokedKey(tokenHash), 1, ttl).Err(); err != nil {
		return fmt.Errorf("redis revoke token: %w", err)
	}
	return nil
}

func (r *Revocations) IsRevoked(ctx context.Context, tokenHash string) (bool, error) {
	n, err := r.client.Exists(ctx, revokedKey(tokenHash)).Result()
	if err != nil {
		return false, fmt.Errorf("redis check revoked token: %w", err)
	}
	return n > 0, nil
}

func revokedKey(tokenHash string) string {
	return "revoked:" + tokenHash
}

var _ domain.TokenRevocations = (*Revocations)(nil)
