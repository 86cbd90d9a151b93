package postgres

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shipping/internal/domain"
)

func TestOrderItemRepository_PostgresLifecycle(t *testing.T) {
	repo := NewOrderItemRepository(openMigratedStore(t))
	ctx := context.Background()

	created, err := repo.Insert(ctx, domain.OrderItem{OrderID: 7, ProductID: 42, OrderedQuantity: 3, Active: true})
	require.NoError(t, err)
	require.False(t, created.CreatedAt.IsZero())

	found, err := repo.FindByKey(ctx, domain.ItemKey{OrderID: 7, ProductID: 42})
	require.NoError(t, err)
	require.Equal(t, 3, found.OrderedQuantity)
	require.True(t, found.Active)

	found.Deactivate(time.Now().UTC())
	found.OrderedQuantity = 99
	updated, err := repo.Update(ctx, found)
	require.NoError(t, err)
	require.False(t, updated.Active)
	require.Equal(t, 3, updated.OrderedQuantity)

	_, err = repo.Insert(ctx, domain.OrderItem{OrderID: 7, ProductID: 42, OrderedQuantity: 1, Active: true})
	require.ErrorIs(t, err, domain.ErrDuplicateItem)

	_, err = repo.FindByKey(ctx, domain.ItemKey{OrderID: 1, ProductID: 1})
	require.ErrorIs(t, err, domain.ErrOrderItemNotFound)

	_, err = repo.Update(ctx, domain.OrderItem{OrderID: 1, ProductID: 1})
	require.ErrorIs(t, err, domain.ErrOrderItemNotFound)
}

func TestOrderItemRepository_PostgresFindAllActiveOrdering(t *testing.T) {
	repo := NewOrderItemRepository(openMigratedStore(t))
	ctx := context.Background()

	for _, key := range []domain.ItemKey{{OrderID: 2, ProductID: 1}, {OrderID: 1, ProductID: 5}, {OrderID: 1, ProductID: 2}} {
		_, err := repo.Insert(ctx, domain.OrderItem{OrderID: key.OrderID, ProductID: key.ProductID, OrderedQuantity: 1, Active: true})
		require.NoError(t, err)
	}
	_, err := repo.Insert(ctx, domain.OrderItem{OrderID: 1, ProductID: 3, OrderedQuantity: 1, Active: false})
	require.NoError(t, err)

	items, err := repo.FindAllActive(ctx)
	require.NoError(t, err)

	keys := make([]domain.ItemKey, 0, len(items))
	for _, item := range items {
		keys = append(keys, item.Key())
	}
	require.Equal(t, []domain.ItemKey{{OrderID: 1, ProductID: 2}, {OrderID: 1, ProductID: 5}, {OrderID: 2, ProductID: 1}}, keys)
}

func TestOrderItemRepository_PostgresConcurrentInsertSingleWinner(t *testing.T) {
	repo := NewOrderItemRepository(openMigratedStore(t))
	ctx := context.Background()

	var (
		wg         sync.WaitGroup
		wins, dups atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Insert(ctx, domain.OrderItem{OrderID: 3, ProductID: 3, OrderedQuantity: 1, Active: true})
			switch {
			case err == nil:
				wins.Add(1)
			case err == domain.ErrDuplicateItem:
				dups.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), wins.Load())
	require.Equal(t, int32(7), dups.Load())
}
