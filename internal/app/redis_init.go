package app

import (
	"context"

	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/service/cart"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
	"github.com/vladislavdragonenkov/storefront/internal/storage/redis"
)

type redisDependencies struct {
	client      *goredis.Client
	cartCache   cart.Cache
	revocations domain.TokenRevocations
	checker     healthcheck.Checker
}

// initRedis подключает кэш корзин и общий список отзывов. Без Redis сервис
// работает без кэша, а отзывы живут только в памяти процесса.
func initRedis(ctx context.Context, cfg Config, logger *log.Entry) *redisDependencies {
	fallback := &redisDependencies{revocations: memory.NewRevocations()}
	if cfg.RedisAddr == "" {
		return fallback
	}

	client, err := redis.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.WithError(err).Warn("redis is unavailable, continuing without cart cache and shared revocations")
		return fallback
	}
	logger.WithField("addr", cfg.RedisAddr).Info("redis connected")

	return &redisDependencies{
		client:      client,
		cartCache:   redis.NewCartCache(client, cfg.CartCacheTTL),
		revocations: redis.NewRevocations(client),
		checker: healthcheck.Optional("redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}),
	}
}

func (d *redisDependencies) close(logger *log.Entry) {
	if d == nil || d.client == nil {
		return
	}
	if err := d.client.Close(); err != nil {
		logger.WithError(err).Warn("failed to close redis client")
	}
}
