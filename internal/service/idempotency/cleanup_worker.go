// Package idempotency убирает устаревшие ключи Idempotency-Key,
// сохранённые REST-слоем для повторов POST /api/shippings.
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shipping/internal/domain"
	"github.com/vladislavdragonenkov/shipping/internal/metrics"
)

const (
	defaultCleanupInterval  = 10 * time.Minute
	defaultCleanupBatchSize = 500
	// defaultMaxBatches ограничивает один проход; остаток уйдёт на следующем тике.
	defaultMaxBatches = 20

	resultOK    = "ok"
	resultError = "error"
)

// Options задаёт параметры CleanupWorker.
type Options struct {
	Logger     *log.Entry
	Metrics    *metrics.CleanupMetrics
	Interval   time.Duration
	BatchSize  int
	MaxBatches int
	Now        func() time.Time
}

// Option настраивает CleanupWorker.
type Option func(*Options)

// WithLogger задаёт logger воркера.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithMetrics задаёт метрики воркера.
func WithMetrics(m *metrics.CleanupMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// WithInterval задаёт паузу между проходами.
func WithInterval(interval time.Duration) Option {
	return func(opts *Options) {
		opts.Interval = interval
	}
}

// WithBatchSize задаёт число записей, удаляемых одним запросом к хранилищу.
func WithBatchSize(batchSize int) Option {
	return func(opts *Options) {
		opts.BatchSize = batchSize
	}
}

// WithMaxBatches ограничивает число запросов на удаление за один проход.
func WithMaxBatches(maxBatches int) Option {
	return func(opts *Options) {
		opts.MaxBatches = maxBatches
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(opts *Options) {
		opts.Now = now
	}
}

// CleanupWorker периодически удаляет ключи, у которых истёк TTL.
type CleanupWorker struct {
	repo       domain.IdempotencyRepository
	metrics    *metrics.CleanupMetrics
	logger     *log.Entry
	interval   time.Duration
	batchSize  int
	maxBatches int
	now        func() time.Time
}

// NewCleanupWorker создаёт воркер очистки.
func NewCleanupWorker(repo domain.IdempotencyRepository, options ...Option) *CleanupWorker {
	opts := Options{}
	for _, option := range options {
		option(&opts)
	}

	w := &CleanupWorker{
		repo:       repo,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		interval:   opts.Interval,
		batchSize:  opts.BatchSize,
		maxBatches: opts.MaxBatches,
		now:        opts.Now,
	}
	if w.logger == nil {
		w.logger = log.WithField("component", "idempotency-cleanup")
	}
	if w.metrics == nil {
		w.metrics = metrics.NewCleanupMetrics(prometheus.DefaultRegisterer)
	}
	if w.interval <= 0 {
		w.interval = defaultCleanupInterval
	}
	if w.batchSize <= 0 {
		w.batchSize = defaultCleanupBatchSize
	}
	if w.maxBatches <= 0 {
		w.maxBatches = defaultMaxBatches
	}
	if w.now == nil {
		w.now = time.Now
	}
	return w
}

// Run выполняет проход сразу и затем раз в interval до отмены ctx.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.repo == nil {
		w.logger.Warn("idempotency cleanup disabled: no repository")
		return
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			w.runOnce(ctx)
			timer.Reset(w.interval)
		}
	}
}

func (w *CleanupWorker) runOnce(ctx context.Context) {
	deleted, err := w.Sweep(ctx)
	switch {
	case errors.Is(err, context.Canceled):
		return
	case err != nil:
		w.metrics.RecordRun(resultError, deleted)
		w.logger.WithError(err).WithField("deleted", deleted).Warn("idempotency cleanup failed")
	default:
		w.metrics.RecordRun(resultOK, deleted)
		if deleted > 0 {
			w.logger.WithField("deleted", deleted).Info("expired idempotency keys removed")
		}
	}
}

// Sweep удаляет ключи, просроченные к началу прохода. Удаление идёт
// порциями batchSize, пока хранилище отдаёт полные порции, но не более
// maxBatches запросов.
func (w *CleanupWorker) Sweep(ctx context.Context) (int, error) {
	cutoff := w.now().UTC()

	total := 0
	for batch := 0; batch < w.maxBatches; batch++ {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		deleted, err := w.repo.DeleteExpired(cutoff, w.batchSize)
		total += deleted
		w.metrics.AddDeleted(deleted)
		if err != nil {
			return total, err
		}
		if deleted < w.batchSize {
			return total, nil
		}
	}

	w.logger.WithField("deleted", total).Debug("idempotency cleanup hit batch limit, continuing next run")
	return total, nil
}
