package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shipping/internal/domain"
)

const (
	dlqReasonPublishFailed    = "publish_failed"
	dlqReasonAggregateBlocked = "aggregate_blocked"
)

// DLQEnvelope: исходное событие outbox и причина, по которой оно не доставлено.
// cmd/dlq-reprocess восстанавливает из него событие для повторной публикации.
type DLQEnvelope struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	// Reason: publish_failed или aggregate_blocked.
	Reason string `json:"reason"`
	// PublishError для aggregate_blocked содержит id заблокировавшего события.
	PublishError   string    `json:"publish_error"`
	Attempts       int       `json:"attempts"`
	DLQPublishedAt time.Time `json:"dlq_published_at"`
}

// deadLetter отправляет событие в DLQ и помечает его failed. Без DLQ
// publisher событие только помечается failed.
func (w *Worker) deadLetter(logger *log.Entry, event domain.OutboxMessage, reason, cause string, attempts int) {
	if err := w.publishDLQ(event, reason, cause, attempts); err != nil {
		logger.WithError(err).Warn("failed to publish outbox event to DLQ")
		w.metrics.RecordPublish(resultDLQFailed)
	}
	if err := w.repo.MarkFailed(event.ID); err != nil {
		logger.WithError(err).Warn("failed to mark outbox message as failed")
	}
}

func (w *Worker) publishDLQ(event domain.OutboxMessage, reason, cause string, attempts int) error {
	if w.dlqPublisher == nil {
		return nil
	}

	payload, err := json.Marshal(DLQEnvelope{
		OutboxID:       event.ID,
		AggregateType:  event.AggregateType,
		AggregateID:    event.AggregateID,
		EventType:      event.EventType,
		Payload:        json.RawMessage(event.Payload),
		Reason:         reason,
		PublishError:   cause,
		Attempts:       attempts,
		DLQPublishedAt: w.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode dlq envelope for %s: %w", event.ID, err)
	}

	dead := event
	dead.Payload = payload
	if err := w.dlqPublisher.Publish(dead); err != nil {
		return fmt.Errorf("publish %s to dlq: %w", event.ID, err)
	}
	return nil
}
