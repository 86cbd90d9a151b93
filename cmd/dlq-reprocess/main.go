// Command dlq-reprocess возвращает события позиций отгрузки из DLQ в основной topic.
// По умолчанию работает в dry-run режиме и только печатает кандидатов.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shipping/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/shipping/internal/service/outbox"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second

	// headerReplayedFrom помечает повторно опубликованные события.
	headerReplayedFrom = "x-replayed-from"
)

var errNotReplayable = errors.New("message is not an outbox dlq event")

type config struct {
	brokers     []string
	sourceTopic string
	targetTopic string
	limit       int
	execute     bool
	fromNewest  bool
	idleTimeout time.Duration

	eventType string
	orderID   int
}

type offsetClient interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
	Close() error
}

type partitionConsumer interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionConsumerSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error)
	Close() error
}

// eventPublisher: часть kafka.Producer, нужная для повторной публикации.
type eventPublisher interface {
	PublishEvent(topic, key string, event any, headers map[string]string) error
	Close() error
}

type saramaConsumerAdapter struct {
	consumer sarama.Consumer
}

func (a saramaConsumerAdapter) ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error) {
	return a.consumer.ConsumePartition(topic, partition, offset)
}

func (a saramaConsumerAdapter) Close() error {
	return a.consumer.Close()
}

// dependencies: подключения к Kafka; publisher создаётся только в execute-режиме.
type dependencies struct {
	client    offsetClient
	consumer  partitionConsumerSource
	publisher eventPublisher
}

func (d dependencies) close() {
	if d.publisher != nil {
		_ = d.publisher.Close()
	}
	if d.consumer != nil {
		_ = d.consumer.Close()
	}
	if d.client != nil {
		_ = d.client.Close()
	}
}

var newDependencies = func(cfg config) (dependencies, error) {
	consumerConfig := sarama.NewConfig()
	consumerConfig.ClientID = "shipping-dlq-reprocess"
	consumerConfig.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, consumerConfig)
	if err != nil {
		return dependencies{}, fmt.Errorf("create kafka client: %w", err)
	}

	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return dependencies{}, fmt.Errorf("create kafka consumer: %w", err)
	}
	deps := dependencies{client: client, consumer: saramaConsumerAdapter{consumer: consumer}}

	if !cfg.execute {
		return deps, nil
	}

	producer, err := kafka.NewProducer(cfg.brokers,
		kafka.WithClientID("shipping-dlq-reprocess"),
		kafka.WithProducerLogger(log.WithField("component", "dlq-reprocess")))
	if err != nil {
		deps.close()
		return dependencies{}, fmt.Errorf("create kafka producer: %w", err)
	}
	deps.publisher = producer
	return deps, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	cfg, err := readConfig()
	if err != nil {
		fail("%v", err)
	}

	if err := run(context.Background(), cfg); err != nil {
		fail("dlq replay failed: %v", err)
	}
}

func readConfig() (config, error) {
	var (
		brokersRaw string
		cfg        config
	)

	flag.StringVar(&brokersRaw, "brokers", "", "Kafka brokers as comma-separated list (fallback: KAFKA_BROKERS)")
	flag.StringVar(&cfg.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "DLQ source topic")
	flag.StringVar(&cfg.targetTopic, "target-topic", kafka.TopicOrderItemEvents, "target topic for replay")
	flag.IntVar(&cfg.limit, "limit", defaultReplayLimit, "max number of messages to scan per run")
	flag.BoolVar(&cfg.execute, "execute", false, "publish replayed events; default is dry-run")
	flag.BoolVar(&cfg.fromNewest, "from-newest", false, "scan latest messages first (bounded by limit)")
	flag.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "idle timeout per partition")
	flag.StringVar(&cfg.eventType, "event-type", "", "replay only this event type (OrderItemCreated|OrderItemDeactivated)")
	flag.IntVar(&cfg.orderID, "order-id", 0, "replay only events of this order")
	flag.Parse()

	if strings.TrimSpace(brokersRaw) == "" {
		brokersRaw = os.Getenv("KAFKA_BROKERS")
	}

	cfg.brokers = parseBrokers(brokersRaw)
	switch {
	case len(cfg.brokers) == 0:
		return config{}, fmt.Errorf("kafka brokers are required (-brokers or KAFKA_BROKERS)")
	case strings.TrimSpace(cfg.sourceTopic) == "":
		return config{}, fmt.Errorf("source-topic is required")
	case strings.TrimSpace(cfg.targetTopic) == "":
		return config{}, fmt.Errorf("target-topic is required")
	case cfg.sourceTopic == cfg.targetTopic:
		return config{}, fmt.Errorf("source-topic and target-topic must differ")
	case cfg.limit <= 0:
		return config{}, fmt.Errorf("limit must be > 0")
	case cfg.idleTimeout <= 0:
		return config{}, fmt.Errorf("idle-timeout must be > 0")
	case cfg.orderID < 0:
		return config{}, fmt.Errorf("order-id must be >= 0")
	}

	return cfg, nil
}

func parseBrokers(raw string) []string {
	var brokers []string
	for _, chunk := range strings.Split(raw, ",") {
		if broker := strings.TrimSpace(chunk); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

func run(ctx context.Context, cfg config) error {
	log.WithFields(log.Fields{
		"source_topic": cfg.sourceTopic,
		"target_topic": cfg.targetTopic,
		"limit":        cfg.limit,
		"execute":      cfg.execute,
		"event_type":   cfg.eventType,
		"order_id":     cfg.orderID,
	}).Info("starting dlq replay")

	deps, err := newDependencies(cfg)
	if err != nil {
		return err
	}
	defer deps.close()

	stats, err := newReplayer(cfg, deps).Run(ctx)
	if err != nil {
		return err
	}

	mode := "dry-run"
	if cfg.execute {
		mode = "execute"
	}
	log.WithFields(log.Fields{
		"mode":      mode,
		"processed": stats.processed,
		"replayed":  stats.replayed,
		"filtered":  stats.filtered,
		"skipped":   stats.skipped,
	}).Info("dlq replay finished")
	return nil
}

type replayStats struct {
	processed int
	replayed  int
	filtered  int
	skipped   int
}

func (s *replayStats) add(other replayStats) {
	s.processed += other.processed
	s.replayed += other.replayed
	s.filtered += other.filtered
	s.skipped += other.skipped
}

// replayer читает DLQ партиция за партицией в пределах limit.
type replayer struct {
	cfg  config
	deps dependencies
}

func newReplayer(cfg config, deps dependencies) *replayer {
	return &replayer{cfg: cfg, deps: deps}
}

// Run обходит партиции в порядке возрастания номера.
func (r *replayer) Run(ctx context.Context) (replayStats, error) {
	var total replayStats
	if r.deps.client == nil || r.deps.consumer == nil {
		return total, fmt.Errorf("kafka client and consumer are required")
	}
	if r.cfg.execute && r.deps.publisher == nil {
		return total, fmt.Errorf("publisher is required in execute mode")
	}

	partitions, err := r.deps.client.Partitions(r.cfg.sourceTopic)
	if err != nil {
		return total, fmt.Errorf("get partitions for topic %s: %w", r.cfg.sourceTopic, err)
	}
	if len(partitions) == 0 {
		log.WithField("topic", r.cfg.sourceTopic).Warn("source topic has no partitions")
		return total, nil
	}
	slices.Sort(partitions)

	for _, partition := range partitions {
		remaining := r.cfg.limit - total.processed
		if remaining <= 0 {
			break
		}
		stats, err := r.replayPartition(ctx, partition, remaining)
		total.add(stats)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (r *replayer) replayPartition(ctx context.Context, partition int32, limit int) (replayStats, error) {
	var stats replayStats
	topic := r.cfg.sourceTopic

	oldest, err := r.deps.client.GetOffset(topic, partition, sarama.OffsetOldest)
	if err != nil {
		return stats, fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	newest, err := r.deps.client.GetOffset(topic, partition, sarama.OffsetNewest)
	if err != nil {
		return stats, fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return stats, nil
	}

	start := oldest
	if r.cfg.fromNewest {
		start = max(newest-int64(limit), oldest)
	}

	pc, err := r.deps.consumer.ConsumePartition(topic, partition, start)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	idle := time.NewTimer(r.cfg.idleTimeout)
	defer idle.Stop()

	for stats.processed < limit {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case <-idle.C:
			return stats, nil
		case cerr := <-pc.Errors():
			if cerr != nil {
				return stats, fmt.Errorf("partition %d consumer error: %w", partition, cerr)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil || msg.Offset >= newest {
				return stats, nil
			}
			idle.Reset(r.cfg.idleTimeout)

			stats.processed++
			if err := r.handle(msg, &stats); err != nil {
				return stats, err
			}
			if msg.Offset+1 >= newest {
				return stats, nil
			}
		}
	}
	return stats, nil
}

func (r *replayer) handle(msg *sarama.ConsumerMessage, stats *replayStats) error {
	fields := log.Fields{"partition": msg.Partition, "offset": msg.Offset}

	event, err := decodeDLQEvent(msg.Value)
	if err != nil {
		stats.skipped++
		log.WithError(err).WithFields(fields).Warn("skip unsupported dlq message")
		return nil
	}
	if !r.matches(event) {
		stats.filtered++
		return nil
	}

	fields["aggregate_id"] = event.AggregateID
	fields["event_type"] = event.EventType

	if !r.cfg.execute {
		stats.replayed++
		log.WithFields(fields).WithField("publish_error", event.publishError).Info("dlq replay candidate")
		return nil
	}

	if err := publishReplay(r.deps.publisher, r.cfg, event); err != nil {
		return fmt.Errorf("publish replay of %s: %w", event.ID, err)
	}
	stats.replayed++
	log.WithFields(fields).Info("dlq event replayed")
	return nil
}

func (r *replayer) matches(event replayEvent) bool {
	if r.cfg.eventType != "" && event.EventType != r.cfg.eventType {
		return false
	}
	if r.cfg.orderID > 0 {
		if event.OrderID() != strconv.Itoa(r.cfg.orderID) {
			return false
		}
	}
	return true
}

// replayEvent: исходное событие outbox, восстановленное из DLQ.
type replayEvent struct {
	kafka.EventEnvelope
	publishError string
}

// decodeDLQEvent разбирает EventEnvelope, внутри которого лежит outbox.DLQEnvelope.
func decodeDLQEvent(raw []byte) (replayEvent, error) {
	var envelope kafka.EventEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return replayEvent{}, fmt.Errorf("%w: %v", errNotReplayable, err)
	}
	if len(envelope.Payload) == 0 {
		return replayEvent{}, errNotReplayable
	}

	var dlq outbox.DLQEnvelope
	if err := json.Unmarshal(envelope.Payload, &dlq); err != nil {
		return replayEvent{}, fmt.Errorf("decode dlq payload: %w", err)
	}
	if len(dlq.Payload) == 0 || dlq.OutboxID == "" {
		return replayEvent{}, fmt.Errorf("dlq payload does not contain the original event")
	}

	return replayEvent{
		EventEnvelope: kafka.EventEnvelope{
			ID:            dlq.OutboxID,
			AggregateType: dlq.AggregateType,
			AggregateID:   dlq.AggregateID,
			EventType:     dlq.EventType,
			Payload:       dlq.Payload,
		},
		publishError: dlq.PublishError,
	}, nil
}

func publishReplay(publisher eventPublisher, cfg config, event replayEvent) error {
	if publisher == nil {
		return fmt.Errorf("publisher is nil")
	}

	envelope := event.EventEnvelope
	envelope.PublishedAt = time.Now().UTC()

	headers := envelope.Headers()
	headers[headerReplayedFrom] = cfg.sourceTopic
	return publisher.PublishEvent(cfg.targetTopic, envelope.PartitionKey(), envelope, headers)
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
