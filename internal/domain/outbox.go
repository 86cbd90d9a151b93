package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// AggregateTypeOrderItem: тип агрегата для событий outbox.
	AggregateTypeOrderItem = "order_item"

	EventOrderItemCreated     = "OrderItemCreated"
	EventOrderItemDeactivated = "OrderItemDeactivated"
)

// OutboxStatus: состояние строки outbox. Переход возможен только из pending.
type OutboxStatus string

const (
	OutboxStatusPending OutboxStatus = "pending"
	OutboxStatusSent    OutboxStatus = "sent"
	OutboxStatusFailed  OutboxStatus = "failed"
)

// ErrInvalidOutboxMessage: событие нельзя поставить в очередь.
var ErrInvalidOutboxMessage = errors.New("invalid outbox message")

// OutboxMessage: событие позиции, ожидающее публикации.
// AggregateID имеет вид "<order_id>:<product_id>".
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает backlog outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

// Age возвращает возраст самого старого pending-события или 0 при пустом backlog.
func (s OutboxStats) Age(now time.Time) time.Duration {
	if s.PendingCount == 0 || s.OldestPendingAt.IsZero() {
		return 0
	}
	return max(now.Sub(s.OldestPendingAt), 0)
}

// NewOrderItemMessage собирает событие позиции с ключом агрегата.
func NewOrderItemMessage(eventType string, key ItemKey, payload []byte) OutboxMessage {
	return OutboxMessage{
		AggregateType: AggregateTypeOrderItem,
		AggregateID:   key.String(),
		EventType:     eventType,
		Payload:       payload,
	}
}

// PrepareForEnqueue проверяет событие и заполняет тип агрегата и ID по умолчанию.
// Хранилища вызывают её до записи.
func (m OutboxMessage) PrepareForEnqueue() (OutboxMessage, error) {
	if strings.TrimSpace(m.AggregateID) == "" {
		return OutboxMessage{}, fmt.Errorf("%w: aggregate id is required", ErrInvalidOutboxMessage)
	}
	switch m.EventType {
	case EventOrderItemCreated, EventOrderItemDeactivated:
	default:
		return OutboxMessage{}, fmt.Errorf("%w: unknown event type %q", ErrInvalidOutboxMessage, m.EventType)
	}
	if m.AggregateType == "" {
		m.AggregateType = AggregateTypeOrderItem
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.Payload = append([]byte(nil), m.Payload...)
	return m, nil
}
