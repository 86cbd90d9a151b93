package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

const (
	defaultClientID   = "shipping-service"
	defaultMaxRetries = 5
)

// ErrProducerClosed: клиент закрыт или не видит ни одного брокера.
var ErrProducerClosed = errors.New("kafka producer is not connected")

type ProducerOptions struct {
	Logger     *log.Entry
	ClientID   string
	MaxRetries int
}

type ProducerOption func(*ProducerOptions)

func WithProducerLogger(logger *log.Entry) ProducerOption {
	return func(opts *ProducerOptions) {
		opts.Logger = logger
	}
}

// WithClientID задаёт client.id, под которым процесс виден брокеру.
func WithClientID(clientID string) ProducerOption {
	return func(opts *ProducerOptions) {
		opts.ClientID = clientID
	}
}

// WithMaxRetries ограничивает повторы отправки внутри sarama.
func WithMaxRetries(n int) ProducerOption {
	return func(opts *ProducerOptions) {
		opts.MaxRetries = n
	}
}

func resolveProducerOptions(options []ProducerOption) ProducerOptions {
	opts := ProducerOptions{ClientID: defaultClientID, MaxRetries: defaultMaxRetries}
	for _, option := range options {
		option(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "kafka-producer")
	}
	// Идемпотентный producer требует хотя бы одного повтора.
	opts.MaxRetries = max(opts.MaxRetries, 1)
	return opts
}

// producerConfig: синхронный идемпотентный producer с подтверждением от всех реплик.
// Один запрос в полёте сохраняет порядок событий внутри партиции.
func producerConfig(opts ProducerOptions) *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = opts.ClientID
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Idempotent = true
	config.Producer.Retry.Max = opts.MaxRetries
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Net.MaxOpenRequests = 1
	return config
}

// Producer публикует JSON-события в Kafka.
type Producer struct {
	client   sarama.Client
	producer sarama.SyncProducer
	logger   *log.Entry
}

// NewProducer подключается к brokers.
func NewProducer(brokers []string, options ...ProducerOption) (*Producer, error) {
	opts := resolveProducerOptions(options)

	client, err := sarama.NewClient(brokers, producerConfig(opts))
	if err != nil {
		return nil, fmt.Errorf("connect to kafka brokers %v: %w", brokers, err)
	}
	syncProducer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	return &Producer{client: client, producer: syncProducer, logger: opts.Logger}, nil
}

// NewProducerFromSync оборачивает готовый SyncProducer, например mocks.SyncProducer.
// Check такого producer не проверяет брокеров.
func NewProducerFromSync(syncProducer sarama.SyncProducer, options ...ProducerOption) *Producer {
	return &Producer{producer: syncProducer, logger: resolveProducerOptions(options).Logger}
}

// PublishEvent кодирует event в JSON и синхронно отправляет его в topic.
func (p *Producer) PublishEvent(topic, key string, event any, headers map[string]string) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event for %s: %w", topic, err)
	}

	msg := buildMessage(topic, key, value, headers)
	partition, offset, err := p.producer.SendMessage(msg)
	logger := p.logger.WithFields(log.Fields{"topic": topic, "key": key})
	if err != nil {
		logger.WithError(err).Error("kafka send failed")
		return fmt.Errorf("send to %s: %w", topic, err)
	}

	logger.WithFields(log.Fields{"partition": partition, "offset": offset}).Debug("kafka message sent")
	return nil
}

// buildMessage раскладывает заголовки в порядке имён.
func buildMessage(topic, key string, value []byte, headers map[string]string) *sarama.ProducerMessage {
	msg := &sarama.ProducerMessage{
		Topic:     topic,
		Key:       sarama.StringEncoder(key),
		Value:     sarama.ByteEncoder(value),
		Timestamp: time.Now().UTC(),
		Headers:   make([]sarama.RecordHeader, 0, len(headers)),
	}
	for _, name := range slices.Sorted(maps.Keys(headers)) {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(name), Value: []byte(headers[name])})
	}
	return msg
}

func (p *Producer) Check() error {
	switch {
	case p == nil || p.producer == nil:
		return ErrProducerClosed
	case p.client == nil:
		return nil
	case p.client.Closed(), len(p.client.Brokers()) == 0:
		return ErrProducerClosed
	}
	return nil
}

func (p *Producer) Close() error {
	var errs []error
	if err := p.producer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close kafka producer: %w", err))
	}
	if p.client != nil && !p.client.Closed() {
		if err := p.client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close kafka client: %w", err))
		}
	}
	return errors.Join(errs...)
}
