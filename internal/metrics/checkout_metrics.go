package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// StoreMetrics содержит метрики корзины, оформления и статусов заказов.
// Методы безопасны для nil-получателя: сервисы работают и без метрик.
type StoreMetrics struct {
	// Оформление
	checkouts         *prometheus.CounterVec
	checkoutDuration  prometheus.Histogram
	checkoutsInFlight prometheus.Gauge
	orderTotal        prometheus.Histogram

	// Корзина
	cartMutations *prometheus.CounterVec
	cartCache     *prometheus.CounterVec

	// Статусы заказов
	statusTransitions *prometheus.CounterVec

	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter
}

// NewStoreMetrics регистрирует метрики в prometheus.DefaultRegisterer.
func NewStoreMetrics() *StoreMetrics {
	return NewStoreMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewStoreMetricsWithRegisterer регистрирует метрики в переданном registerer.
// Повторная регистрация возвращает уже существующие коллекторы.
func NewStoreMetricsWithRegisterer(registerer prometheus.Registerer) *StoreMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &StoreMetrics{
		checkouts: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_checkouts_total",
			Help: "Total number of checkout attempts grouped by result",
		}, []string{"source", "result"})),
		checkoutDuration: register(registerer, prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "storefront_checkout_duration_seconds",
			Help:    "Duration of checkout pipeline in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		})),
		checkoutsInFlight: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "storefront_checkouts_in_flight",
			Help: "Number of checkouts currently being processed",
		})),
		orderTotal: register(registerer, prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "storefront_order_total_minor",
			Help:    "Order totals in minor currency units",
			Buckets: prometheus.ExponentialBuckets(100, 4, 8),
		})),
		cartMutations: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_cart_mutations_total",
			Help: "Total number of cart mutations grouped by operation and result",
		}, []string{"op", "result"})),
		cartCache: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_cart_cache_requests_total",
			Help: "Cart cache lookups grouped by result",
		}, []string{"result"})),
		statusTransitions: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_order_status_updates_total",
			Help: "Order status update requests grouped by result",
		}, []string{"result"})),
		timelineEvents: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storefront_timeline_events_total",
			Help: "Total number of timeline events recorded",
		})),
		outboxEvents: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storefront_outbox_events_total",
			Help: "Total number of events written to the outbox",
		})),
	}
}

func register[T prometheus.Collector](registerer prometheus.Registerer, collector T) T {
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(T)
			if !ok {
				panic(fmt.Sprintf("collector %T already registered with unexpected type", collector))
			}
			return existing
		}
		panic(fmt.Sprintf("register collector %T: %v", collector, err))
	}
	return collector
}

// ResultLabel сводит ошибку оформления к значению метки.
func ResultLabel(err error) string {
	if err == nil {
		return "success"
	}
	return string(domain.KindOf(err))
}

// CheckoutStarted отмечает начало оформления.
func (m *StoreMetrics) CheckoutStarted() {
	if m == nil {
		return
	}
	m.checkoutsInFlight.Inc()
}

// CheckoutFinished фиксирует результат и длительность оформления.
func (m *StoreMetrics) CheckoutFinished(source string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	m.checkoutsInFlight.Dec()
	m.checkouts.WithLabelValues(source, ResultLabel(err)).Inc()
	m.checkoutDuration.Observe(duration.Seconds())
}

// RecordOrderTotal записывает сумму созданного заказа.
func (m *StoreMetrics) RecordOrderTotal(totalMinor int64) {
	if m == nil {
		return
	}
	m.orderTotal.Observe(float64(totalMinor))
}

// RecordCartMutation увеличивает счётчик изменений корзины.
func (m *StoreMetrics) RecordCartMutation(op string, err error) {
	if m == nil {
		return
	}
	m.cartMutations.WithLabelValues(op, ResultLabel(err)).Inc()
}

// RecordCartCache учитывает hit/miss/error кэша корзин.
func (m *StoreMetrics) RecordCartCache(result string) {
	if m == nil {
		return
	}
	m.cartCache.WithLabelValues(result).Inc()
}

// RecordStatusUpdate учитывает результат перевода статуса: completed, noop или ошибка.
func (m *StoreMetrics) RecordStatusUpdate(result string) {
	if m == nil {
		return
	}
	m.statusTransitions.WithLabelValues(result).Inc()
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *StoreMetrics) RecordTimelineEvent() {
	if m == nil {
		return
	}
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *StoreMetrics) RecordOutboxEvent(n int) {
	if m == nil {
		return
	}
	m.outboxEvents.Add(float64(n))
}
