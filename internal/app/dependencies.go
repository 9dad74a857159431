package app

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
)

// runtimeDependencies - порты хранилища выбранного драйвера.
type runtimeDependencies struct {
	catalog     domain.ProductCatalog
	users       domain.UserDirectory
	carts       domain.CartRepository
	orders      domain.OrderRepository
	checkout    domain.CheckoutStore
	outbox      domain.OutboxRepository
	timeline    domain.TimelineRepository
	idempotency domain.IdempotencyRepository

	// storageChecker nil для memory.
	storageChecker healthcheck.Checker
	closeFn        func() error
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	switch driver := strings.ToLower(strings.TrimSpace(cfg.StorageDriver)); driver {
	case StorageDriverMemory:
		return newMemoryDependencies(logger), nil
	case StorageDriverPostgres:
		return newPostgresDependencies(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func newMemoryDependencies(logger *log.Entry) *runtimeDependencies {
	store := memory.NewStore()
	store.Seed(memory.DemoUsers(), memory.DemoProducts())
	logger.WithField("products", len(memory.DemoProducts())).Info("memory storage seeded with demo catalog")

	return &runtimeDependencies{
		catalog:     store.Catalog(),
		users:       store.Users(),
		carts:       store.Carts(),
		orders:      store.Orders(),
		checkout:    store.Checkout(),
		outbox:      store.Outbox(),
		timeline:    memory.NewTimelineRepository(),
		idempotency: memory.NewIdempotencyRepository(),
	}
}

func newPostgresDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	dsn := strings.TrimSpace(cfg.PostgresDSN)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required for storage driver %q", StorageDriverPostgres)
	}

	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if cfg.PostgresAutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		version, applied, err := store.MigrationStatus(ctx)
		if err == nil {
			logger.WithFields(log.Fields{"version": version, "applied": applied}).Info("postgres schema is up to date")
		}
	}
	if cfg.PostgresSeedDemo {
		if err := store.Seed(ctx, memory.DemoUsers(), memory.DemoProducts()); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("seed demo catalog: %w", err)
		}
		logger.Info("postgres seeded with demo catalog")
	}

	return &runtimeDependencies{
		catalog:        postgres.NewCatalog(store),
		users:          postgres.NewUserDirectory(store),
		carts:          postgres.NewCartRepository(store),
		orders:         postgres.NewOrderRepository(store),
		checkout:       postgres.NewCheckoutStore(store),
		outbox:         postgres.NewOutboxRepository(store),
		timeline:       postgres.NewTimelineRepository(store),
		idempotency:    postgres.NewIdempotencyRepository(store),
		storageChecker: healthcheck.Critical("postgres", store.Ping),
		closeFn:        store.Close,
	}, nil
}
