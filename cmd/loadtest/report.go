package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// scenarioMetric: имя, под которым учитывается весь сценарий целиком.
const scenarioMetric = "scenario"

var latencyObjectives = map[float64]float64{0.5: 0.01, 0.95: 0.005, 0.99: 0.001}

type latencySummary struct {
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type callReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Statuses  map[string]int64 `json:"statuses"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt         time.Time             `json:"started_at"`
	DurationSeconds   float64               `json:"duration_seconds"`
	TotalScenarios    int64                 `json:"total_scenarios"`
	SuccessScenarios  int64                 `json:"success_scenarios"`
	FailedScenarios   int64                 `json:"failed_scenarios"`
	ErrorRate         float64               `json:"error_rate"`
	RPS               float64               `json:"rps"`
	ScenarioLatencyMs latencySummary        `json:"scenario_latency_ms"`
	Calls             map[string]callReport `json:"calls"`
}

// collector копит результаты вызовов в собственном prometheus-реестре:
// summary по задержкам и счётчик исходов по HTTP-статусу.
type collector struct {
	registry *prometheus.Registry
	latency  *prometheus.SummaryVec
	outcomes *prometheus.CounterVec
}

func newCollector() *collector {
	c := &collector{
		registry: prometheus.NewRegistry(),
		latency: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name:       "loadtest_call_latency_ms",
			Help:       "Latency of load test calls in milliseconds.",
			Objectives: latencyObjectives,
			MaxAge:     24 * time.Hour,
			AgeBuckets: 1,
		}, []string{"call"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loadtest_call_outcomes_total",
			Help: "Load test calls by status and result.",
		}, []string{"call", "status", "result"}),
	}
	c.registry.MustRegister(c.latency, c.outcomes)
	return c
}

// record учитывает вызов; status: HTTP-код строкой или метка транспортной ошибки.
func (c *collector) record(name string, latency time.Duration, status string, ok bool) {
	result := "failed"
	if ok {
		result = "success"
	}
	c.latency.WithLabelValues(name).Observe(float64(latency.Microseconds()) / 1000)
	c.outcomes.WithLabelValues(name, status, result).Inc()
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Calls:           make(map[string]callReport),
	}

	families, err := c.registry.Gather()
	if err != nil {
		return result
	}
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			labels := metricLabels(metric)
			call := result.Calls[labels["call"]]
			switch family.GetName() {
			case "loadtest_call_latency_ms":
				call.LatencyMs = summarize(metric.GetSummary())
			case "loadtest_call_outcomes_total":
				call.addOutcome(labels["status"], labels["result"] == "success", int64(metric.GetCounter().GetValue()))
			}
			result.Calls[labels["call"]] = call
		}
	}

	if scenario, ok := result.Calls[scenarioMetric]; ok {
		result.TotalScenarios = scenario.Calls
		result.SuccessScenarios = scenario.Success
		result.FailedScenarios = scenario.Failed
		result.ErrorRate = scenario.ErrorRate
		result.ScenarioLatencyMs = scenario.LatencyMs
	}
	if duration > 0 {
		result.RPS = float64(result.TotalScenarios) / duration.Seconds()
	}
	return result
}

func (r *callReport) addOutcome(status string, ok bool, n int64) {
	if r.Statuses == nil {
		r.Statuses = make(map[string]int64)
	}
	r.Statuses[status] += n
	r.Calls += n
	if ok {
		r.Success += n
	} else {
		r.Failed += n
	}
	r.ErrorRate = ratio(r.Failed, r.Calls)
}

func metricLabels(metric *dto.Metric) map[string]string {
	labels := make(map[string]string, len(metric.GetLabel()))
	for _, pair := range metric.GetLabel() {
		labels[pair.GetName()] = pair.GetValue()
	}
	return labels
}

func summarize(summary *dto.Summary) latencySummary {
	if summary.GetSampleCount() == 0 {
		return latencySummary{}
	}
	out := latencySummary{Avg: summary.GetSampleSum() / float64(summary.GetSampleCount())}
	for _, q := range summary.GetQuantile() {
		switch q.GetQuantile() {
		case 0.5:
			out.P50 = q.GetValue()
		case 0.95:
			out.P95 = q.GetValue()
		case 0.99:
			out.P99 = q.GetValue()
		}
	}
	return out
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	switch {
	case cleanPath == "." || cleanPath == string(filepath.Separator):
		return errors.New("output path must point to a file")
	case cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)):
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- путь задан явным флагом -output.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return errors.Join(encoder.Encode(result), file.Close())
}

func printReport(w io.Writer, result report, cfg config) {
	lat := result.ScenarioLatencyMs
	_, _ = fmt.Fprintf(w, "load test against %s (mode=%s, %s)\n", cfg.baseURL, cfg.mode, runTarget(cfg))
	_, _ = fmt.Fprintf(w, "scenarios: total=%d ok=%d failed=%d error_rate=%.4f rps=%.2f in %.2fs\n",
		result.TotalScenarios, result.SuccessScenarios, result.FailedScenarios,
		result.ErrorRate, result.RPS, result.DurationSeconds)
	_, _ = fmt.Fprintf(w, "scenario latency ms: avg=%.2f p50=%.2f p95=%.2f p99=%.2f\n", lat.Avg, lat.P50, lat.P95, lat.P99)

	for _, name := range slices.Sorted(maps.Keys(result.Calls)) {
		if name == scenarioMetric {
			continue
		}
		call := result.Calls[name]
		_, _ = fmt.Fprintf(w, "  %-10s calls=%d failed=%d p95=%.2fms statuses=%v\n",
			name, call.Calls, call.Failed, call.LatencyMs.P95, call.Statuses)
	}
}

func runTarget(cfg config) string {
	switch {
	case cfg.duration <= 0:
		return fmt.Sprintf("count:%d", cfg.total)
	case cfg.totalSet:
		return fmt.Sprintf("duration:%s,max-total:%d", cfg.duration, cfg.total)
	default:
		return fmt.Sprintf("duration:%s", cfg.duration)
	}
}

func ratio(failed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
