package kafka

import (
	"encoding/json"
	"strings"
	"time"
)

// Topics для событий позиций отгрузки.
const (
	TopicOrderItemEvents = "shipping.order_item.events"
	TopicDeadLetterQueue = "shipping.order_item.dlq"
)

// Kafka headers, по которым потребители фильтруют события без разбора тела.
const (
	HeaderEventType     = "x-event-type"
	HeaderAggregateType = "x-aggregate-type"
	HeaderOutboxID      = "x-outbox-id"
	HeaderOrderID       = "x-order-id"
)

// EventEnvelope: формат сообщения, публикуемого из outbox.
type EventEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// OrderID возвращает заказ из aggregate id позиции "orderId:productId".
func (e EventEnvelope) OrderID() string {
	orderID, _, _ := strings.Cut(e.AggregateID, ":")
	return orderID
}

// PartitionKey: ключ сообщения. Все позиции заказа попадают в одну партицию,
// так что потребитель видит изменения заказа в порядке публикации.
func (e EventEnvelope) PartitionKey() string {
	if orderID := e.OrderID(); orderID != "" {
		return orderID
	}
	return e.ID
}

// Headers возвращает стандартные заголовки события.
func (e EventEnvelope) Headers() map[string]string {
	headers := map[string]string{
		HeaderEventType:     e.EventType,
		HeaderAggregateType: e.AggregateType,
		HeaderOutboxID:      e.ID,
	}
	if orderID := e.OrderID(); orderID != "" {
		headers[HeaderOrderID] = orderID
	}
	return headers
}
