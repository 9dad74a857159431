package outbox

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	defaultPollInterval   = time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
	defaultPublishTimeout = 5 * time.Second
)

type config struct {
	logger         *log.Entry
	dlq            domain.OutboxPublisher
	pollInterval   time.Duration
	batchSize      int
	maxAttempts    int
	retryBaseDelay time.Duration
	publishTimeout time.Duration
}

func defaultConfig() config {
	return config{
		pollInterval:   defaultPollInterval,
		batchSize:      defaultBatchSize,
		maxAttempts:    defaultMaxAttempts,
		retryBaseDelay: defaultRetryBaseDelay,
		publishTimeout: defaultPublishTimeout,
	}
}

// normalize возвращает к значениям по умолчанию всё, что выставлено в ноль или меньше.
func (c *config) normalize() {
	def := defaultConfig()
	if c.logger == nil {
		c.logger = log.WithField("component", "outbox-worker")
	}
	if c.pollInterval <= 0 {
		c.pollInterval = def.pollInterval
	}
	if c.batchSize <= 0 {
		c.batchSize = def.batchSize
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = def.maxAttempts
	}
	if c.publishTimeout <= 0 {
		c.publishTimeout = def.publishTimeout
	}
	c.retryBaseDelay = max(c.retryBaseDelay, 0)
}

// Option настраивает Worker.
type Option func(*config)

func WithLogger(logger *log.Entry) Option {
	return func(c *config) { c.logger = logger }
}

// WithDLQPublisher включает отправку в DLQ, когда попытки исчерпаны.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(c *config) { c.dlq = publisher }
}

func WithPollInterval(interval time.Duration) Option {
	return func(c *config) { c.pollInterval = interval }
}

func WithBatchSize(n int) Option {
	return func(c *config) { c.batchSize = n }
}

// WithMaxAttempts считает и первую попытку.
func WithMaxAttempts(n int) Option {
	return func(c *config) { c.maxAttempts = n }
}

// WithRetryBaseDelay задаёт первую паузу; дальше она удваивается. Ноль отключает паузы.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(c *config) { c.retryBaseDelay = delay }
}

func WithPublishTimeout(timeout time.Duration) Option {
	return func(c *config) { c.publishTimeout = timeout }
}
