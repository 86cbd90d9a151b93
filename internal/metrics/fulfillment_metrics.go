package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Причины отказа при создании и исключения из листинга.
const (
	ReasonValidation        = "validation"
	ReasonOrderNotFound     = "order_not_found"
	ReasonOrderState        = "order_state"
	ReasonProductNotFound   = "product_not_found"
	ReasonInsufficientStock = "insufficient_stock"
	ReasonDuplicate         = "duplicate"
	ReasonStorage           = "storage"
)

// FulfillmentMetrics содержит метрики координатора позиций отгрузки.
// Все методы безопасны для nil-получателя.
type FulfillmentMetrics struct {
	itemsCreated     prometheus.Counter
	itemsRejected    *prometheus.CounterVec
	itemsDeactivated prometheus.Counter
	listExcluded     *prometheus.CounterVec

	cascadeResults  *prometheus.CounterVec
	cascadeInFlight prometheus.Gauge

	upstreamDuration *prometheus.HistogramVec
	outboxFailures   prometheus.Counter
}

// NewFulfillmentMetrics регистрирует метрики в prometheus.DefaultRegisterer.
func NewFulfillmentMetrics() *FulfillmentMetrics {
	return NewFulfillmentMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewFulfillmentMetricsWithRegisterer регистрирует метрики в указанном registerer.
func NewFulfillmentMetricsWithRegisterer(registerer prometheus.Registerer) *FulfillmentMetrics {
	return &FulfillmentMetrics{
		itemsCreated: register(registerer, "shipping_order_items_created_total", prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shipping_order_items_created_total",
			Help: "Total number of order items created.",
		})),
		itemsRejected: register(registerer, "shipping_order_items_rejected_total", prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shipping_order_items_rejected_total",
			Help: "Total number of rejected create requests grouped by reason.",
		}, []string{"reason"})),
		itemsDeactivated: register(registerer, "shipping_order_items_deactivated_total", prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shipping_order_items_deactivated_total",
			Help: "Total number of order items switched to inactive.",
		})),
		listExcluded: register(registerer, "shipping_order_items_list_excluded_total", prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shipping_order_items_list_excluded_total",
			Help: "Total number of active order items hidden from listing grouped by reason.",
		}, []string{"reason"})),
		cascadeResults: register(registerer, "shipping_status_cascade_total", prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shipping_status_cascade_total",
			Help: "Total number of order status recompute requests grouped by result.",
		}, []string{"result"})),
		cascadeInFlight: register(registerer, "shipping_status_cascade_in_flight", prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shipping_status_cascade_in_flight",
			Help: "Number of order status recompute requests currently in flight.",
		})),
		upstreamDuration: register(registerer, "shipping_upstream_call_duration_seconds", prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shipping_upstream_call_duration_seconds",
			Help:    "Duration of calls to order and product services in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"upstream", "result"})),
		outboxFailures: register(registerer, "shipping_outbox_enqueue_failures_total", prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shipping_outbox_enqueue_failures_total",
			Help: "Total number of domain events that could not be written to outbox.",
		})),
	}
}

// RecordItemCreated увеличивает счётчик созданных позиций.
func (m *FulfillmentMetrics) RecordItemCreated() {
	if m == nil {
		return
	}
	m.itemsCreated.Inc()
}

// RecordItemRejected увеличивает счётчик отказов по причине reason.
func (m *FulfillmentMetrics) RecordItemRejected(reason string) {
	if m == nil {
		return
	}
	m.itemsRejected.WithLabelValues(reason).Inc()
}

// RecordItemDeactivated увеличивает счётчик деактивированных позиций.
func (m *FulfillmentMetrics) RecordItemDeactivated() {
	if m == nil {
		return
	}
	m.itemsDeactivated.Inc()
}

// RecordListExcluded увеличивает счётчик позиций, скрытых из листинга.
func (m *FulfillmentMetrics) RecordListExcluded(reason string) {
	if m == nil {
		return
	}
	m.listExcluded.WithLabelValues(reason).Inc()
}

// RecordCascadeStarted отмечает запуск пересчёта статуса заказа.
func (m *FulfillmentMetrics) RecordCascadeStarted() {
	if m == nil {
		return
	}
	m.cascadeInFlight.Inc()
}

// RecordCascadeFinished фиксирует результат пересчёта статуса заказа.
func (m *FulfillmentMetrics) RecordCascadeFinished(result string) {
	if m == nil {
		return
	}
	m.cascadeInFlight.Dec()
	m.cascadeResults.WithLabelValues(result).Inc()
}

// RecordCascadeSkipped фиксирует пересчёт, не запущенный после остановки координатора.
func (m *FulfillmentMetrics) RecordCascadeSkipped() {
	if m == nil {
		return
	}
	m.cascadeResults.WithLabelValues("skipped").Inc()
}

// ObserveUpstreamCall записывает длительность вызова внешнего сервиса.
func (m *FulfillmentMetrics) ObserveUpstreamCall(upstream, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.upstreamDuration.WithLabelValues(upstream, result).Observe(elapsed.Seconds())
}

// RecordOutboxEnqueueFailed увеличивает счётчик потерянных доменных событий.
func (m *FulfillmentMetrics) RecordOutboxEnqueueFailed() {
	if m == nil {
		return
	}
	m.outboxFailures.Inc()
}
