// Package app собирает сервис витрины: хранилище, сервисы, воркеры и серверы.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/cart"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
	"github.com/vladislavdragonenkov/storefront/internal/service/ledger"
	"github.com/vladislavdragonenkov/storefront/internal/service/outbox"
	"github.com/vladislavdragonenkov/storefront/internal/transport/httpapi"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

// Run запускает сервис и блокируется до отмены ctx или падения одного из серверов.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if deps.closeFn != nil {
		defer func() {
			if err := deps.closeFn(); err != nil {
				logger.WithError(err).Warn("failed to close storage")
			}
		}()
	}

	redisDeps := initRedis(ctx, cfg, logger)
	defer redisDeps.close(logger)

	producer, err := initKafkaProducer(cfg.KafkaBrokers, cfg.KafkaClientID, logger)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
	}
	defer closeKafka(producer, logger)

	handler := newAPIHandler(cfg, deps, redisDeps, logger)

	healthHandler := healthcheck.NewHandler(version.Version())
	if deps.storageChecker != nil {
		healthHandler.RegisterChecker("postgres", deps.storageChecker)
	}
	if redisDeps.checker != nil {
		healthHandler.RegisterChecker("redis", redisDeps.checker)
	}
	if cfg.OutboxMaxPending > 0 {
		healthHandler.RegisterChecker("outbox", outboxBacklogChecker(deps.outbox, cfg.OutboxMaxPending))
	}

	apiLis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen http %s: %w", cfg.HTTPAddr, err)
	}
	metricsLis, err := net.Listen("tcp", cfg.MetricsAddr)
	if err != nil {
		_ = apiLis.Close()
		return fmt.Errorf("listen metrics %s: %w", cfg.MetricsAddr, err)
	}
	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		_ = apiLis.Close()
		_ = metricsLis.Close()
		return fmt.Errorf("listen grpc %s: %w", cfg.GRPCAddr, err)
	}

	workersCtx, stopWorkers := context.WithCancel(ctx)
	var workers sync.WaitGroup
	startWorkers(workersCtx, &workers, cfg, deps, producer, logger)

	apiSrv := &http.Server{Handler: handler}
	metricsSrv := &http.Server{Handler: newMetricsMux(healthHandler)}
	grpcSrv, grpcHealth := newGRPCServer(logger.WithField("layer", "grpc"))
	grpcHealth.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	errCh := make(chan error, 3)
	serveHTTP(apiSrv, apiLis, "api", logger, errCh)
	serveHTTP(metricsSrv, metricsLis, "metrics", logger, errCh)
	go func() {
		logger.WithField("addr", grpcLis.Addr().String()).Info("grpc server listening")
		if err := grpcSrv.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		runErr = ctx.Err()
	case runErr = <-errCh:
		logger.WithError(runErr).Error("server failed, shutting down")
	}

	shutdownHTTP(apiSrv, logger)
	stopGRPC(grpcSrv, grpcHealth, logger)
	shutdownHTTP(metricsSrv, logger)
	stopWorkers()
	workers.Wait()

	return runErr
}

// newAPIHandler собирает сервисы поверх портов хранилища и отдаёт HTTP API.
func newAPIHandler(cfg Config, deps *runtimeDependencies, redisDeps *redisDependencies, logger *log.Entry) http.Handler {
	storeMetrics := metrics.NewStoreMetrics()

	cartOpts := []cart.Option{
		cart.WithLogger(logger.WithField("layer", "cart")),
		cart.WithMetrics(storeMetrics),
	}
	if redisDeps.cartCache != nil {
		cartOpts = append(cartOpts, cart.WithCache(redisDeps.cartCache))
	}
	carts := cart.NewService(deps.carts, deps.catalog, deps.users, cartOpts...)

	orchestrator := checkout.NewOrchestrator(checkout.Dependencies{
		Catalog:   deps.catalog,
		Users:     deps.users,
		Carts:     deps.carts,
		Store:     deps.checkout,
		Timeline:  deps.timeline,
		CartCache: carts,
		Metrics:   storeMetrics,
		Logger:    logger.WithField("layer", "checkout"),
	})

	orders := ledger.NewService(deps.orders, deps.users, deps.catalog, deps.timeline, storeMetrics,
		logger.WithField("layer", "ledger"),
		ledger.Config{MaxAttempts: cfg.LedgerMaxAttempts, BaseDelay: cfg.LedgerRetryDelay})

	return httpapi.NewRouter(httpapi.Deps{
		Carts:          carts,
		Checkout:       orchestrator,
		Ledger:         orders,
		Idempotency:    idempotency.NewGuard(deps.idempotency, cfg.IdempotencyKeyTTL, logger.WithField("layer", "idempotency")),
		Revocations:    redisDeps.revocations,
		Logger:         logger.WithField("layer", "http"),
		RequestTimeout: cfg.RequestTimeout,
		RevocationTTL:  cfg.RevocationTTL,
	})
}

func startWorkers(ctx context.Context, wg *sync.WaitGroup, cfg Config, deps *runtimeDependencies, producer *kafka.Producer, logger *log.Entry) {
	var publisher, dlq domain.OutboxPublisher = logPublisher{logger: logger.WithField("layer", "outbox")}, nil
	if producer != nil {
		publisher = kafka.NewOutboxPublisher(producer, cfg.KafkaTopic)
		dlq = kafka.NewOutboxPublisher(producer, cfg.KafkaDLQTopic)
	}

	outboxOpts := []outbox.Option{
		outbox.WithLogger(logger.WithField("layer", "outbox")),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	}
	if dlq != nil {
		outboxOpts = append(outboxOpts, outbox.WithDLQPublisher(dlq))
	}
	outboxWorker := outbox.NewWorker(deps.outbox, publisher, outboxOpts...)

	cleanup := idempotency.NewCleanupWorker(deps.idempotency,
		idempotency.WithLogger(logger.WithField("layer", "idempotency-cleanup")),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		outboxWorker.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		cleanup.Run(ctx)
	}()
}
