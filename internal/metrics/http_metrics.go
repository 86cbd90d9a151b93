package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics: метрики REST API.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewHTTPMetrics регистрирует метрики HTTP-сервера в registerer.
func NewHTTPMetrics(registerer prometheus.Registerer) *HTTPMetrics {
	return &HTTPMetrics{
		requests: register(registerer, "shipping_http_requests_total", prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shipping_http_requests_total",
			Help: "Total number of HTTP requests grouped by method, route and status.",
		}, []string{"method", "route", "status"})),
		latency: register(registerer, "shipping_http_request_duration_seconds", prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shipping_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"})),
	}
}

// ObserveRequest фиксирует завершённый HTTP-запрос.
func (m *HTTPMetrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
