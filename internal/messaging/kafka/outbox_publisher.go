package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/shipping/internal/domain"
)

// eventSender: часть Producer, нужная паблишеру.
type eventSender interface {
	PublishEvent(topic, key string, event any, headers map[string]string) error
}

// OutboxTopicPublisher отправляет события outbox в один Kafka topic.
type OutboxTopicPublisher struct {
	sender eventSender
	topic  string
	now    func() time.Time
}

// NewOutboxPublisher создаёт паблишер; пустой topic означает TopicOrderItemEvents.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicOrderItemEvents
	}
	p := &OutboxTopicPublisher{topic: topic, now: time.Now}
	// Типизированный nil внутри интерфейса не отличить от рабочего sender.
	if producer != nil {
		p.sender = producer
	}
	return p
}

// Topic возвращает topic назначения.
func (p *OutboxTopicPublisher) Topic() string {
	return p.topic
}

// Publish оборачивает событие позиции в EventEnvelope.
func (p *OutboxTopicPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.sender == nil {
		return fmt.Errorf("%w: kafka producer is not configured", domain.ErrOutboxPublish)
	}
	if !json.Valid(event.Payload) {
		return fmt.Errorf("%w: outbox message %s has invalid json payload", domain.ErrOutboxPublish, event.ID)
	}

	envelope := EventEnvelope{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       json.RawMessage(event.Payload),
		PublishedAt:   p.now().UTC(),
	}
	if err := p.sender.PublishEvent(p.topic, envelope.PartitionKey(), envelope, envelope.Headers()); err != nil {
		return fmt.Errorf("publish %s for order item %s to %s: %w", event.EventType, event.AggregateID, p.topic, err)
	}
	return nil
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
