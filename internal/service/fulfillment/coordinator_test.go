package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shipping/internal/domain"
	"github.com/vladislavdragonenkov/shipping/internal/metrics"
	"github.com/vladislavdragonenkov/shipping/internal/storage/memory"
	"github.com/vladislavdragonenkov/shipping/internal/upstream"
)

type fixture struct {
	repo        domain.OrderItemRepository
	client      *upstream.MockClient
	outbox      *memory.OutboxRepository
	coordinator *Coordinator
	recomputed  chan int
}

func newFixture(t *testing.T, options ...Option) *fixture {
	t.Helper()

	f := &fixture{
		repo:       memory.NewOrderItemRepository(),
		client:     upstream.NewMockClient(),
		outbox:     memory.NewOutboxRepository(),
		recomputed: make(chan int, 16),
	}
	f.client.OnRecompute(func(orderID int) { f.recomputed <- orderID })

	opts := append([]Option{
		WithOutbox(f.outbox),
		WithMetrics(metrics.NewFulfillmentMetricsWithRegisterer(prometheus.NewRegistry())),
	}, options...)
	f.coordinator = NewCoordinator(f.repo, f.client, opts...)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = f.coordinator.Shutdown(ctx)
	})
	return f
}

func (f *fixture) waitRecompute(t *testing.T) int {
	t.Helper()
	select {
	case id := <-f.recomputed:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("status cascade was not dispatched")
		return 0
	}
}

func cmd(orderID, productID, qty int) CreateItemCommand {
	return CreateItemCommand{OrderID: orderID, ProductID: productID, OrderedQuantity: qty}
}

func TestCoordinator_CreateFindDuplicateScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.client.SetOrder(1, domain.OrderStatusOrdered)
	f.client.SetProduct(1, 10)

	view, err := f.coordinator.Create(ctx, cmd(1, 1, 5))
	require.NoError(t, err)
	require.Equal(t, 5, view.OrderedQuantity)
	require.NotNil(t, view.Order)
	require.NotNil(t, view.Product)
	require.Equal(t, 10, view.Product.Quantity)
	require.Equal(t, 1, f.waitRecompute(t))

	found, err := f.coordinator.FindByID(ctx, domain.ItemKey{OrderID: 1, ProductID: 1})
	require.NoError(t, err)
	require.Equal(t, view.Key(), found.Key())
	require.Equal(t, 5, found.OrderedQuantity)

	_, err = f.coordinator.Create(ctx, cmd(1, 1, 3))
	require.ErrorIs(t, err, domain.ErrDuplicateItem)
}

func TestCoordinator_CreateRejectsUnacceptableOrderStatus(t *testing.T) {
	statuses := []domain.OrderStatus{
		domain.OrderStatusCreated,
		domain.OrderStatusCompleted,
		domain.OrderStatus("CANCELLED"),
		domain.OrderStatus(""),
	}

	for _, status := range statuses {
		t.Run(string(status), func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)
			f.client.SetOrder(2, status)
			f.client.SetProduct(1, 10)

			_, err := f.coordinator.Create(ctx, cmd(2, 1, 1))
			require.ErrorIs(t, err, domain.ErrInvalidOrderState)

			_, err = f.coordinator.FindByID(ctx, domain.ItemKey{OrderID: 2, ProductID: 1})
			require.ErrorIs(t, err, domain.ErrOrderItemNotFound)
			require.Empty(t, f.client.Recomputed())
		})
	}
}

func TestCoordinator_CreateAcceptsInPayment(t *testing.T) {
	f := newFixture(t)
	f.client.SetOrder(3, domain.OrderStatusInPayment)
	f.client.SetProduct(1, 1)

	_, err := f.coordinator.Create(context.Background(), cmd(3, 1, 1))
	require.NoError(t, err)
}

func TestCoordinator_CreateInsufficientStockScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.client.SetOrder(5, domain.OrderStatusOrdered)
	f.client.SetProduct(3, 2)

	_, err := f.coordinator.Create(ctx, cmd(5, 3, 3))
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	var stockErr *domain.InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	require.Equal(t, 2, stockErr.Available)
	require.Equal(t, 3, stockErr.Requested)

	// boundary: ordered == available succeeds
	view, err := f.coordinator.Create(ctx, cmd(5, 3, 2))
	require.NoError(t, err)
	require.Equal(t, 2, view.OrderedQuantity)
}

func TestCoordinator_CreateValidation(t *testing.T) {
	tests := []struct {
		name  string
		cmd   CreateItemCommand
		cause error
	}{
		{name: "missing order", cmd: cmd(0, 1, 1), cause: domain.ErrOrderIDRequired},
		{name: "missing product", cmd: cmd(1, 0, 1), cause: domain.ErrProductIDRequired},
		{name: "missing quantity", cmd: cmd(1, 1, 0), cause: domain.ErrQuantityInvalid},
		{name: "negative quantity", cmd: cmd(1, 1, -4), cause: domain.ErrQuantityInvalid},
		{name: "order id above integer range", cmd: cmd(domain.MaxValue+1, 1, 1), cause: domain.ErrValueOutOfRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.coordinator.Create(context.Background(), tt.cmd)
			require.ErrorIs(t, err, domain.ErrValidation)
			require.ErrorIs(t, err, tt.cause)

			calls := f.client.Calls()
			require.Zero(t, calls.FetchOrder+calls.FetchProduct, "validation must not reach upstreams")
		})
	}
}

func TestCoordinator_CreateFailClosedOnWrite(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*upstream.MockClient)
		want  error
	}{
		{
			name: "order absent",
			setup: func(m *upstream.MockClient) {
				m.SetProduct(1, 10)
			},
			want: domain.ErrOrderNotFound,
		},
		{
			name: "order unavailable",
			setup: func(m *upstream.MockClient) {
				m.SetOrder(1, domain.OrderStatusOrdered)
				m.FailOrder(1, domain.ErrRemoteUnavailable)
				m.SetProduct(1, 10)
			},
			want: domain.ErrOrderNotFound,
		},
		{
			name: "product absent",
			setup: func(m *upstream.MockClient) {
				m.SetOrder(1, domain.OrderStatusOrdered)
			},
			want: domain.ErrProductNotFound,
		},
		{
			name: "product unavailable",
			setup: func(m *upstream.MockClient) {
				m.SetOrder(1, domain.OrderStatusOrdered)
				m.SetProduct(1, 10)
				m.FailProduct(1, domain.ErrRemoteUnavailable)
			},
			want: domain.ErrProductNotFound,
		},
		{
			name: "order checked before product",
			setup: func(m *upstream.MockClient) {
				m.FailProduct(1, domain.ErrRemoteUnavailable)
			},
			want: domain.ErrOrderNotFound,
		},
		{
			name: "order state checked before product",
			setup: func(m *upstream.MockClient) {
				m.SetOrder(1, domain.OrderStatusCompleted)
			},
			want: domain.ErrInvalidOrderState,
		},
		{
			name: "product existence checked before stock",
			setup: func(m *upstream.MockClient) {
				m.SetOrder(1, domain.OrderStatusOrdered)
				m.FailProduct(1, domain.ErrRemoteNotFound)
			},
			want: domain.ErrProductNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)
			tt.setup(f.client)

			_, err := f.coordinator.Create(ctx, cmd(1, 1, 1))
			require.ErrorIs(t, err, tt.want)

			_, err = f.repo.FindByKey(ctx, domain.ItemKey{OrderID: 1, ProductID: 1})
			require.ErrorIs(t, err, domain.ErrOrderItemNotFound, "rejected create must not insert")
			require.Empty(t, f.outbox.AllPending())
		})
	}
}

func TestCoordinator_DeactivateScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.client.SetOrder(1, domain.OrderStatusOrdered)
	f.client.SetProduct(1, 10)
	key := domain.ItemKey{OrderID: 1, ProductID: 1}

	_, err := f.coordinator.Create(ctx, cmd(1, 1, 5))
	require.NoError(t, err)
	f.waitRecompute(t)

	before := f.client.Calls()
	require.NoError(t, f.coordinator.Deactivate(ctx, key))
	require.NoError(t, f.coordinator.Deactivate(ctx, key), "deactivate is idempotent")
	require.Equal(t, before, f.client.Calls(), "deactivate makes no remote calls")

	views, err := f.coordinator.ListAll(ctx)
	require.NoError(t, err)
	require.Empty(t, views)

	_, err = f.coordinator.FindByID(ctx, key)
	require.ErrorIs(t, err, domain.ErrOrderItemNotFound)

	row, err := f.repo.FindByKey(ctx, key)
	require.NoError(t, err)
	require.False(t, row.Active)
	require.Equal(t, 5, row.OrderedQuantity)

	_, err = f.coordinator.Create(ctx, cmd(1, 1, 1))
	require.ErrorIs(t, err, domain.ErrDuplicateItem, "inactive rows still hold the key")
}

func TestCoordinator_DeactivateMissing(t *testing.T) {
	f := newFixture(t)
	err := f.coordinator.Deactivate(context.Background(), domain.ItemKey{OrderID: 9, ProductID: 9})
	require.ErrorIs(t, err, domain.ErrOrderItemNotFound)
}

func TestCoordinator_OutboxEvents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.client.SetOrder(1, domain.OrderStatusOrdered)
	f.client.SetProduct(2, 10)

	_, err := f.coordinator.Create(ctx, cmd(1, 2, 4))
	require.NoError(t, err)
	require.NoError(t, f.coordinator.Deactivate(ctx, domain.ItemKey{OrderID: 1, ProductID: 2}))
	require.NoError(t, f.coordinator.Deactivate(ctx, domain.ItemKey{OrderID: 1, ProductID: 2}))

	events := f.outbox.AllPending()
	require.Len(t, events, 2)
	require.Equal(t, domain.EventOrderItemCreated, events[0].EventType)
	require.Equal(t, domain.EventOrderItemDeactivated, events[1].EventType)
	for _, event := range events {
		require.Equal(t, domain.AggregateTypeOrderItem, event.AggregateType)
		require.Equal(t, "1:2", event.AggregateID)
	}

	var deactivated OrderItemEvent
	require.NoError(t, json.Unmarshal(events[1].Payload, &deactivated))
	require.Equal(t, 4, deactivated.OrderedQuantity)
	require.False(t, deactivated.Active)
	require.False(t, deactivated.OccurredAt.IsZero())
}

type failingOutbox struct {
	*memory.OutboxRepository
}

func (failingOutbox) Enqueue(domain.OutboxMessage) (domain.OutboxMessage, error) {
	return domain.OutboxMessage{}, errors.New("outbox down")
}

func TestCoordinator_OutboxFailureDoesNotFailCreate(t *testing.T) {
	f := newFixture(t, WithOutbox(failingOutbox{memory.NewOutboxRepository()}))
	f.client.SetOrder(1, domain.OrderStatusOrdered)
	f.client.SetProduct(1, 1)

	_, err := f.coordinator.Create(context.Background(), cmd(1, 1, 1))
	require.NoError(t, err)
}

func TestCoordinator_FindByIDFailOpenOnRead(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.client.PutOrder(domain.OrderSnapshot{OrderID: 1, OrderStatus: domain.OrderStatusOrdered, OrderDesc: "init"})
	f.client.SetProduct(1, 10)
	key := domain.ItemKey{OrderID: 1, ProductID: 1}

	_, err := f.coordinator.Create(ctx, cmd(1, 1, 2))
	require.NoError(t, err)

	f.client.FailProduct(1, domain.ErrRemoteUnavailable)
	view, err := f.coordinator.FindByID(ctx, key)
	require.NoError(t, err)
	require.Nil(t, view.Product, "product is dropped when unavailable")
	require.Equal(t, "init", view.Order.OrderDesc)

	f.client.FailOrder(1, domain.ErrRemoteUnavailable)
	view, err = f.coordinator.FindByID(ctx, key)
	require.NoError(t, err)
	require.Equal(t, domain.OrderSnapshot{OrderID: 1}, *view.Order, "order falls back to minimal reference")

	f.client.FailOrder(1, nil)
	f.client.RemoveOrder(1)
	view, err = f.coordinator.FindByID(ctx, key)
	require.NoError(t, err)
	require.Equal(t, 1, view.Order.OrderID)
	require.Equal(t, 2, view.OrderedQuantity)
}

func TestCoordinator_FindByIDMissing(t *testing.T) {
	f := newFixture(t)
	_, err := f.coordinator.FindByID(context.Background(), domain.ItemKey{OrderID: 1, ProductID: 1})
	require.ErrorIs(t, err, domain.ErrOrderItemNotFound)
	require.Zero(t, f.client.Calls().FetchOrder)
}

func TestCoordinator_FindByIDWithoutOrderReference(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.repo.Insert(ctx, domain.OrderItem{OrderID: 0, ProductID: 1, OrderedQuantity: 1, Active: true})
	require.NoError(t, err)

	_, err = f.coordinator.FindByID(ctx, domain.ItemKey{OrderID: 0, ProductID: 1})
	require.ErrorIs(t, err, domain.ErrOrderItemNotFound)
}

func TestCoordinator_ConcurrentCreateSameKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.client.SetOrder(1, domain.OrderStatusOrdered)
	f.client.SetProduct(1, 100)

	const workers = 10
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		successes  int
		duplicates int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(qty int) {
			defer wg.Done()
			_, err := f.coordinator.Create(ctx, cmd(1, 1, qty))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else if errors.Is(err, domain.ErrDuplicateItem) {
				duplicates++
			}
		}(i + 1)
	}
	wg.Wait()

	require.Equal(t, 1, successes)
	require.Equal(t, workers-1, duplicates)
}
