// Package health отдаёт /healthz, /readyz и /livez для оркестратора.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Status: состояние компонента.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

const defaultCheckTimeout = 2 * time.Second

// Check: результат одной проверки.
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Response: тело /healthz.
type Response struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Checks        map[string]Check `json:"checks,omitempty"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Draining      bool             `json:"draining,omitempty"`
}

// Checker проверяет один компонент. Реализация должна уважать ctx.
type Checker interface {
	Check(ctx context.Context) Check
}

// Handler агрегирует зарегистрированные проверки.
type Handler struct {
	mu           sync.RWMutex
	checkers     map[string]Checker
	version      string
	startTime    time.Time
	checkTimeout time.Duration
	draining     atomic.Bool
}

// NewHandler создаёт handler, отчитывающийся версией сборки.
func NewHandler(version string) *Handler {
	return &Handler{
		checkers:     make(map[string]Checker),
		version:      version,
		startTime:    time.Now(),
		checkTimeout: defaultCheckTimeout,
	}
}

// RegisterChecker добавляет или заменяет проверку по имени.
func (h *Handler) RegisterChecker(name string, checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[name] = checker
}

// SetDraining переводит readiness в 503 на время graceful shutdown.
func (h *Handler) SetDraining(draining bool) {
	h.draining.Store(draining)
}

// Run выполняет все проверки параллельно, каждую со своим таймаутом.
func (h *Handler) Run(ctx context.Context) (Status, map[string]Check) {
	h.mu.RLock()
	names := make([]string, 0, len(h.checkers))
	checkers := make([]Checker, 0, len(h.checkers))
	for name, checker := range h.checkers {
		names = append(names, name)
		checkers = append(checkers, checker)
	}
	h.mu.RUnlock()

	results := make([]Check, len(checkers))
	var g errgroup.Group
	for i := range checkers {
		g.Go(func() error {
			checkCtx, cancel := context.WithTimeout(ctx, h.checkTimeout)
			defer cancel()
			results[i] = checkers[i].Check(checkCtx)
			if results[i].Name == "" {
				results[i].Name = names[i]
			}
			return nil
		})
	}
	_ = g.Wait()

	overall := StatusHealthy
	checks := make(map[string]Check, len(results))
	for i, check := range results {
		checks[names[i]] = check
		switch check.Status {
		case StatusUnhealthy:
			overall = StatusUnhealthy
		case StatusDegraded:
			if overall == StatusHealthy {
				overall = StatusDegraded
			}
		}
	}

	return overall, checks
}

// ServeHTTP отвечает подробным JSON; 503 только при unhealthy.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	overall, checks := h.Run(r.Context())

	response := Response{
		Status:        overall,
		Timestamp:     time.Now().UTC(),
		Checks:        checks,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Draining:      h.draining.Load(),
	}

	statusCode := http.StatusOK
	if overall == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}

// ReadinessHandler: 503, если сервис останавливается или критичная проверка не прошла.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if h.draining.Load() {
		http.Error(w, "draining", http.StatusServiceUnavailable)
		return
	}

	overall, checks := h.Run(r.Context())
	if overall == StatusUnhealthy {
		failed := make([]string, 0, len(checks))
		for name, check := range checks {
			if check.Status == StatusUnhealthy {
				failed = append(failed, name)
			}
		}
		sort.Strings(failed)
		http.Error(w, "not ready: "+strings.Join(failed, ","), http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// LivenessHandler всегда отвечает 200, пока процесс обслуживает HTTP.
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// ProbeChecker оборачивает функцию проверки.
// Некритичный компонент при сбое даёт degraded, а не unhealthy.
type ProbeChecker struct {
	name     string
	probe    func(ctx context.Context) error
	critical bool
}

// NewProbe создаёт критичную проверку: сбой делает сервис неготовым.
func NewProbe(name string, probe func(ctx context.Context) error) *ProbeChecker {
	return &ProbeChecker{name: name, probe: probe, critical: true}
}

// NewOptionalProbe создаёт некритичную проверку.
func NewOptionalProbe(name string, probe func(ctx context.Context) error) *ProbeChecker {
	return &ProbeChecker{name: name, probe: probe}
}

// Check выполняет проверку.
func (c *ProbeChecker) Check(ctx context.Context) Check {
	start := time.Now()
	err := c.probe(ctx)
	check := Check{
		Name:       c.name,
		Status:     StatusHealthy,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		check.Status = StatusDegraded
		if c.critical {
			check.Status = StatusUnhealthy
		}
		check.Message = err.Error()
	}
	return check
}
