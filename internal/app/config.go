package app

import "time"

const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска сервиса.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool
	// PostgresSeedDemo заливает демо-каталог в Postgres. memory-драйвер заполняется всегда.
	PostgresSeedDemo bool

	// RedisAddr пустой - кэш корзин выключен, отзывы токенов хранятся в памяти процесса.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CartCacheTTL  time.Duration

	// KafkaBrokers - список через запятую; пустой - события outbox только логируются.
	KafkaBrokers  string
	KafkaClientID string
	KafkaTopic    string
	KafkaDLQTopic string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
	// OutboxMaxPending - порог backlog, после которого health отдаёт degraded. 0 - без проверки.
	OutboxMaxPending int

	IdempotencyKeyTTL           time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	LedgerMaxAttempts int
	LedgerRetryDelay  time.Duration

	RequestTimeout time.Duration
	RevocationTTL  time.Duration
}

// DefaultConfig возвращает настройки для локального запуска.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		GRPCAddr:    ":50051",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,

		CartCacheTTL: 5 * time.Minute,

		KafkaClientID: "storefront",
		KafkaTopic:    "storefront.order.events",
		KafkaDLQTopic: "storefront.dlq",

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   50 * time.Millisecond,
		OutboxMaxPending:   1000,

		IdempotencyKeyTTL:           24 * time.Hour,
		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,

		LedgerMaxAttempts: 3,
		LedgerRetryDelay:  10 * time.Millisecond,

		RequestTimeout: 10 * time.Second,
		RevocationTTL:  24 * time.Hour,
	}
}
