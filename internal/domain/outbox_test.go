package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOutboxMessage_PrepareForEnqueue(t *testing.T) {
	msg := NewOrderItemMessage(EventOrderItemCreated, ItemKey{OrderID: 3, ProductID: 8}, []byte(`{}`))
	msg.AggregateType = ""

	prepared, err := msg.PrepareForEnqueue()
	require.NoError(t, err)
	require.NotEmpty(t, prepared.ID)
	require.Equal(t, AggregateTypeOrderItem, prepared.AggregateType)
	require.Equal(t, "3:8", prepared.AggregateID)

	msg.Payload[0] = '['
	require.Equal(t, []byte(`{}`), prepared.Payload, "payload is copied")

	kept, err := OutboxMessage{ID: "fixed", AggregateID: "1:1", EventType: EventOrderItemDeactivated}.PrepareForEnqueue()
	require.NoError(t, err)
	require.Equal(t, "fixed", kept.ID)
}

func TestOutboxMessage_PrepareForEnqueueRejects(t *testing.T) {
	for name, msg := range map[string]OutboxMessage{
		"no aggregate":  {EventType: EventOrderItemCreated},
		"blank":         {AggregateID: "  ", EventType: EventOrderItemCreated},
		"unknown event": {AggregateID: "1:1", EventType: "OrderPaid"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := msg.PrepareForEnqueue()
			require.ErrorIs(t, err, ErrInvalidOutboxMessage)
		})
	}
}

func TestOutboxStats_Age(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.Zero(t, OutboxStats{}.Age(now))
	require.Equal(t, time.Minute, OutboxStats{PendingCount: 2, OldestPendingAt: now.Add(-time.Minute)}.Age(now))
	require.Zero(t, OutboxStats{PendingCount: 1, OldestPendingAt: now.Add(time.Minute)}.Age(now), "clock skew")
}
