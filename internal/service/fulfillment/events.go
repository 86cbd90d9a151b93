package fulfillment

import (
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shipping/internal/domain"
)

// OrderItemEvent: полезная нагрузка событий OrderItemCreated и OrderItemDeactivated.
type OrderItemEvent struct {
	OrderID         int       `json:"orderId"`
	ProductID       int       `json:"productId"`
	OrderedQuantity int       `json:"orderedQuantity"`
	Active          bool      `json:"active"`
	OccurredAt      time.Time `json:"occurredAt"`
}

// enqueueEvent кладёт событие в outbox. Ошибка только логируется:
// позиция уже сохранена, и ответ клиенту от outbox не зависит.
func (c *Coordinator) enqueueEvent(logger *log.Entry, eventType string, item domain.OrderItem) {
	if c.outbox == nil {
		return
	}

	payload, err := json.Marshal(OrderItemEvent{
		OrderID:         item.OrderID,
		ProductID:       item.ProductID,
		OrderedQuantity: item.OrderedQuantity,
		Active:          item.Active,
		OccurredAt:      item.UpdatedAt,
	})
	if err != nil {
		c.metrics.RecordOutboxEnqueueFailed()
		logger.WithError(err).WithField("event_type", eventType).Error("failed to encode order item event")
		return
	}

	if _, err := c.outbox.Enqueue(domain.NewOrderItemMessage(eventType, item.Key(), payload)); err != nil {
		c.metrics.RecordOutboxEnqueueFailed()
		logger.WithError(err).WithField("event_type", eventType).Error("failed to enqueue order item event")
	}
}
