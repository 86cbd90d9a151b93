// Package outbox доставляет события позиций отгрузки из transactional outbox
// в брокер сообщений.
package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shipping/internal/domain"
	"github.com/vladislavdragonenkov/shipping/internal/metrics"
)

const (
	defaultPollInterval   = time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
	maxRetryDelay         = 5 * time.Second

	resultSent      = "sent"
	resultRetry     = "retry_error"
	resultFailed    = "failed"
	resultParked    = "parked"
	resultDLQFailed = "dlq_failed"
)

// WorkerOptions задаёт параметры Worker.
type WorkerOptions struct {
	Logger         *log.Entry
	Metrics        *metrics.OutboxMetrics
	DLQPublisher   domain.OutboxPublisher
	PollInterval   time.Duration
	BatchSize      int
	MaxAttempts    int
	RetryBaseDelay time.Duration
	Now            func() time.Time
}

// Option настраивает Worker.
type Option func(*WorkerOptions)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *WorkerOptions) {
		opts.Logger = logger
	}
}

// WithMetrics задаёт метрики публикации и backlog.
func WithMetrics(m *metrics.OutboxMetrics) Option {
	return func(opts *WorkerOptions) {
		opts.Metrics = m
	}
}

// WithDLQPublisher задаёт publisher для событий, которые не удалось доставить.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(opts *WorkerOptions) {
		opts.DLQPublisher = publisher
	}
}

// WithPollInterval задаёт паузу между опросами outbox.
func WithPollInterval(interval time.Duration) Option {
	return func(opts *WorkerOptions) {
		opts.PollInterval = interval
	}
}

// WithBatchSize задаёт число событий, забираемых за один опрос.
func WithBatchSize(batchSize int) Option {
	return func(opts *WorkerOptions) {
		opts.BatchSize = batchSize
	}
}

// WithMaxAttempts задаёт число попыток публикации одного события.
func WithMaxAttempts(maxAttempts int) Option {
	return func(opts *WorkerOptions) {
		opts.MaxAttempts = maxAttempts
	}
}

// WithRetryBaseDelay задаёт первую паузу между попытками; дальше она удваивается.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(opts *WorkerOptions) {
		opts.RetryBaseDelay = delay
	}
}

// WithClock подменяет источник времени для DLQ-конверта и возраста backlog.
func WithClock(now func() time.Time) Option {
	return func(opts *WorkerOptions) {
		opts.Now = now
	}
}

// BatchResult описывает итог одного опроса outbox.
type BatchResult struct {
	Sent   int
	Failed int
	// Parked: события позиции, предыдущее событие которой в этом же батче ушло в DLQ.
	Parked int
}

// Worker публикует OrderItemCreated и OrderItemDeactivated в порядке постановки.
// События одной позиции (aggregate id "orderId:productId") не обгоняют друг
// друга: если событие позиции не доставлено, её последующие события из того же
// батча отправляются в DLQ следом без попыток публикации.
type Worker struct {
	repo         domain.OutboxRepository
	publisher    domain.OutboxPublisher
	dlqPublisher domain.OutboxPublisher
	metrics      *metrics.OutboxMetrics
	logger       *log.Entry
	now          func() time.Time

	pollInterval   time.Duration
	batchSize      int
	maxAttempts    int
	retryBaseDelay time.Duration
}

// NewWorker создаёт outbox worker.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Worker {
	opts := WorkerOptions{
		PollInterval:   defaultPollInterval,
		BatchSize:      defaultBatchSize,
		MaxAttempts:    defaultMaxAttempts,
		RetryBaseDelay: defaultRetryBaseDelay,
	}
	for _, option := range options {
		option(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "outbox-worker")
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewOutboxMetrics(prometheus.DefaultRegisterer)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.RetryBaseDelay < 0 {
		opts.RetryBaseDelay = 0
	}

	return &Worker{
		repo:           repo,
		publisher:      publisher,
		dlqPublisher:   opts.DLQPublisher,
		metrics:        opts.Metrics,
		logger:         opts.Logger,
		now:            opts.Now,
		pollInterval:   opts.PollInterval,
		batchSize:      opts.BatchSize,
		maxAttempts:    opts.MaxAttempts,
		retryBaseDelay: opts.RetryBaseDelay,
	}
}

// Run опрашивает outbox до отмены ctx. Полный батч забирается следующим
// опросом сразу, без ожидания pollInterval.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker disabled: no repository or publisher")
		return
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			result := w.ProcessOnce(ctx)
			next := w.pollInterval
			if result.Sent+result.Failed+result.Parked >= w.batchSize {
				next = 0
			}
			timer.Reset(next)
		}
	}
}

// ProcessOnce забирает один батч pending-событий и публикует его.
func (w *Worker) ProcessOnce(ctx context.Context) BatchResult {
	var result BatchResult
	if ctx.Err() != nil {
		return result
	}

	batch, err := w.repo.PullPending(w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull pending outbox messages")
		return result
	}

	blocked := make(map[string]string)
	for _, event := range batch {
		if ctx.Err() != nil {
			break
		}

		logger := w.logger.WithFields(log.Fields{
			"outbox_id":    event.ID,
			"event_type":   event.EventType,
			"aggregate_id": event.AggregateID,
		})

		if cause, ok := blocked[event.AggregateID]; ok {
			w.deadLetter(logger, event, dlqReasonAggregateBlocked, cause, 0)
			w.metrics.RecordPublish(resultParked)
			result.Parked++
			continue
		}

		attempts, err := w.publish(ctx, event)
		if err != nil {
			if ctx.Err() != nil {
				// Событие остаётся pending и будет отправлено после рестарта.
				break
			}
			logger.WithError(err).WithField("attempts", attempts).Error("outbox event not delivered")
			w.metrics.RecordPublish(resultFailed)
			w.deadLetter(logger, event, dlqReasonPublishFailed, err.Error(), attempts)
			blocked[event.AggregateID] = event.ID
			result.Failed++
			continue
		}

		if err := w.repo.MarkSent(event.ID); err != nil {
			// Событие уйдёт повторно; потребители дедуплицируют по outbox id.
			logger.WithError(err).Warn("failed to mark outbox message as sent")
			continue
		}
		result.Sent++
	}

	w.refreshBacklog()
	if result.Failed > 0 || result.Parked > 0 {
		w.logger.WithFields(log.Fields{
			"sent":   result.Sent,
			"failed": result.Failed,
			"parked": result.Parked,
		}).Warn("outbox batch finished with undelivered events")
	}
	return result
}

// publish делает до maxAttempts попыток и возвращает число сделанных.
func (w *Worker) publish(ctx context.Context, event domain.OutboxMessage) (int, error) {
	var lastErr error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		if lastErr = w.publisher.Publish(event); lastErr == nil {
			w.metrics.RecordPublish(resultSent)
			return attempt, nil
		}
		w.metrics.RecordPublish(resultRetry)

		if attempt == w.maxAttempts {
			break
		}
		if delay := w.backoff(attempt); delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return attempt, ctx.Err()
			case <-timer.C:
			}
		}
	}
	return w.maxAttempts, fmt.Errorf("%w after %d attempts: %w", domain.ErrOutboxPublish, w.maxAttempts, lastErr)
}

// backoff возвращает паузу после attempt-й неудачи: base, 2*base, 4*base...
func (w *Worker) backoff(attempt int) time.Duration {
	if w.retryBaseDelay <= 0 {
		return 0
	}
	delay := w.retryBaseDelay
	for i := 1; i < attempt && delay < maxRetryDelay; i++ {
		delay *= 2
	}
	return min(delay, maxRetryDelay)
}

func (w *Worker) refreshBacklog() {
	stats, err := w.repo.Stats()
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}

	w.metrics.SetBacklog(stats.PendingCount, stats.Age(w.now()))
}
