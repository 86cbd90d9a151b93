package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OutboxMetrics: метрики публикации событий позиций из outbox.
type OutboxMetrics struct {
	publishAttempts *prometheus.CounterVec
	pendingRecords  prometheus.Gauge
	oldestPending   prometheus.Gauge
}

// NewOutboxMetrics регистрирует метрики outbox worker.
func NewOutboxMetrics(registerer prometheus.Registerer) *OutboxMetrics {
	return &OutboxMetrics{
		publishAttempts: register(registerer, "shipping_outbox_publish_attempts_total", prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shipping_outbox_publish_attempts_total",
			Help: "Total number of outbox publish attempts grouped by result.",
		}, []string{"result"})),
		pendingRecords: register(registerer, "shipping_outbox_pending_records", prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shipping_outbox_pending_records",
			Help: "Current number of pending records in transactional outbox.",
		})),
		oldestPending: register(registerer, "shipping_outbox_oldest_pending_age_seconds", prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shipping_outbox_oldest_pending_age_seconds",
			Help: "Age in seconds of the oldest pending outbox record.",
		})),
	}
}

// RecordPublish фиксирует попытку публикации с результатом result.
func (m *OutboxMetrics) RecordPublish(result string) {
	if m == nil {
		return
	}
	m.publishAttempts.WithLabelValues(result).Inc()
}

// SetBacklog обновляет размер backlog и возраст самого старого сообщения.
func (m *OutboxMetrics) SetBacklog(pending int, oldestAge time.Duration) {
	if m == nil {
		return
	}
	if oldestAge < 0 {
		oldestAge = 0
	}
	m.pendingRecords.Set(float64(pending))
	m.oldestPending.Set(oldestAge.Seconds())
}

// CleanupMetrics: метрики очистки ключей идемпотентности.
type CleanupMetrics struct {
	runs        *prometheus.CounterVec
	deleted     prometheus.Counter
	lastDeleted prometheus.Gauge
}

// NewCleanupMetrics регистрирует метрики cleanup worker.
func NewCleanupMetrics(registerer prometheus.Registerer) *CleanupMetrics {
	return &CleanupMetrics{
		runs: register(registerer, "shipping_idempotency_cleanup_runs_total", prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shipping_idempotency_cleanup_runs_total",
			Help: "Total number of idempotency cleanup runs grouped by result.",
		}, []string{"result"})),
		deleted: register(registerer, "shipping_idempotency_cleanup_deleted_total", prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shipping_idempotency_cleanup_deleted_total",
			Help: "Total number of deleted expired idempotency records.",
		})),
		lastDeleted: register(registerer, "shipping_idempotency_cleanup_last_deleted", prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shipping_idempotency_cleanup_last_deleted",
			Help: "Number of deleted records during the last cleanup run.",
		})),
	}
}

// RecordRun фиксирует завершённый цикл очистки.
func (m *CleanupMetrics) RecordRun(result string, deleted int) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(result).Inc()
	if result == "ok" {
		m.lastDeleted.Set(float64(deleted))
	}
}

// AddDeleted увеличивает счётчик удалённых записей.
func (m *CleanupMetrics) AddDeleted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.deleted.Add(float64(n))
}
