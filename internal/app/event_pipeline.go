package app

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shipping/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/shipping/internal/health"
	"github.com/vladislavdragonenkov/shipping/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/shipping/internal/metrics"
	"github.com/vladislavdragonenkov/shipping/internal/service/fulfillment"
	"github.com/vladislavdragonenkov/shipping/internal/service/outbox"
)

type producerDialer func(brokers []string, options ...kafka.ProducerOption) (*kafka.Producer, error)

// eventPipeline связывает outbox с Kafka. Без producer pipeline выключен:
// координатор не пишет в outbox, воркер не запускается.
type eventPipeline struct {
	producer *kafka.Producer
	worker   *outbox.Worker
	logger   *log.Entry
}

// newEventPipeline подключается к брокерам из cfg. Недоступная Kafka
// не мешает старту: pipeline остаётся выключенным.
func newEventPipeline(cfg Config, repo domain.OutboxRepository, registerer prometheus.Registerer, dial producerDialer, logger *log.Entry) *eventPipeline {
	p := &eventPipeline{logger: logger.WithField("component", "event-pipeline")}

	brokers := cfg.kafkaBrokerList()
	if len(brokers) == 0 {
		p.logger.Info("kafka is not configured, order item events are not published")
		return p
	}

	producer, err := dial(brokers, kafka.WithProducerLogger(logger.WithField("component", "kafka-producer")))
	if err != nil {
		p.logger.WithError(err).WithField("brokers", brokers).Warn("kafka is unreachable, order item events are not published")
		return p
	}

	p.producer = producer
	p.worker = outbox.NewWorker(repo,
		kafka.NewOutboxPublisher(producer, cfg.KafkaTopic),
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithMetrics(metrics.NewOutboxMetrics(registerer)),
		outbox.WithDLQPublisher(kafka.NewOutboxPublisher(producer, kafka.TopicDeadLetterQueue)),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	)
	p.logger.WithFields(log.Fields{"brokers": brokers, "topic": cfg.KafkaTopic}).Info("order item events are published to kafka")
	return p
}

func (p *eventPipeline) enabled() bool {
	return p.producer != nil
}

// coordinatorOptions включает запись событий в outbox, только если их есть кому публиковать.
func (p *eventPipeline) coordinatorOptions(repo domain.OutboxRepository) []fulfillment.Option {
	if !p.enabled() {
		return nil
	}
	return []fulfillment.Option{fulfillment.WithOutbox(repo)}
}

func (p *eventPipeline) start(ctx context.Context, wg *sync.WaitGroup) {
	if p.worker == nil {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.worker.Run(ctx)
	}()
}

// registerHealth добавляет необязательную проверку брокеров.
func (p *eventPipeline) registerHealth(h *healthcheck.Handler) {
	if !p.enabled() {
		return
	}
	producer := p.producer
	h.RegisterChecker("kafka", healthcheck.NewOptionalProbe("kafka", func(context.Context) error {
		return producer.Check()
	}))
}

func (p *eventPipeline) close() {
	if !p.enabled() {
		return
	}
	if err := p.producer.Close(); err != nil {
		p.logger.WithError(err).Warn("failed to close kafka producer")
		return
	}
	p.logger.Info("kafka producer closed")
}
