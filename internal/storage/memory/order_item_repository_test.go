package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/shipping/internal/domain"
	"github.com/vladislavdragonenkov/shipping/internal/storage/memory"
)

func newItem(orderID, productID int) domain.OrderItem {
	return domain.OrderItem{
		OrderID:         orderID,
		ProductID:       productID,
		OrderedQuantity: 2,
		Active:          true,
	}
}

func TestOrderItemRepository_InsertFind(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderItemRepository()

	saved, err := repo.Insert(ctx, newItem(1, 10))
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if saved.CreatedAt.IsZero() {
		t.Fatal("expected created_at to be set")
	}

	stored, err := repo.FindByKey(ctx, domain.ItemKey{OrderID: 1, ProductID: 10})
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if stored.OrderedQuantity != 2 || !stored.Active {
		t.Fatalf("unexpected stored item: %+v", stored)
	}

	if _, err := repo.FindByKey(ctx, domain.ItemKey{OrderID: 2, ProductID: 10}); !errors.Is(err, domain.ErrOrderItemNotFound) {
		t.Fatalf("expected ErrOrderItemNotFound, got %v", err)
	}
}

func TestOrderItemRepository_DuplicateIncludesInactive(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderItemRepository()

	item, err := repo.Insert(ctx, newItem(1, 10))
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if _, err := repo.Insert(ctx, newItem(1, 10)); !errors.Is(err, domain.ErrDuplicateItem) {
		t.Fatalf("expected ErrDuplicateItem, got %v", err)
	}

	item.Deactivate(time.Now().UTC())
	if _, err := repo.Update(ctx, item); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if _, err := repo.Insert(ctx, newItem(1, 10)); !errors.Is(err, domain.ErrDuplicateItem) {
		t.Fatalf("expected ErrDuplicateItem for inactive key, got %v", err)
	}
}

func TestOrderItemRepository_FindAllActiveOrdered(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderItemRepository()

	for _, key := range [][2]int{{2, 1}, {1, 5}, {1, 3}, {3, 1}} {
		if _, err := repo.Insert(ctx, newItem(key[0], key[1])); err != nil {
			t.Fatalf("insert %v failed: %v", key, err)
		}
	}

	inactive, _ := repo.FindByKey(ctx, domain.ItemKey{OrderID: 3, ProductID: 1})
	inactive.Deactivate(time.Now().UTC())
	if _, err := repo.Update(ctx, inactive); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	items, err := repo.FindAllActive(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}

	want := []domain.ItemKey{{OrderID: 1, ProductID: 3}, {OrderID: 1, ProductID: 5}, {OrderID: 2, ProductID: 1}}
	if len(items) != len(want) {
		t.Fatalf("expected %d items, got %d", len(want), len(items))
	}
	for i, key := range want {
		if items[i].Key() != key {
			t.Fatalf("position %d: expected %v, got %v", i, key, items[i].Key())
		}
	}
}

func TestOrderItemRepository_UpdateKeepsQuantity(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderItemRepository()

	if _, err := repo.Insert(ctx, newItem(1, 1)); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	updated, err := repo.Update(ctx, domain.OrderItem{OrderID: 1, ProductID: 1, OrderedQuantity: 99, Active: false})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.OrderedQuantity != 2 {
		t.Fatalf("ordered quantity must be immutable, got %d", updated.OrderedQuantity)
	}
	if updated.Active {
		t.Fatal("expected inactive item")
	}

	if _, err := repo.Update(ctx, newItem(9, 9)); !errors.Is(err, domain.ErrOrderItemNotFound) {
		t.Fatalf("expected ErrOrderItemNotFound, got %v", err)
	}
}

func TestOrderItemRepository_ConcurrentInsertSingleWinner(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderItemRepository()

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		dupes     int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Insert(ctx, newItem(5, 5))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, domain.ErrDuplicateItem):
				dupes++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 || dupes != workers-1 {
		t.Fatalf("expected 1 success and %d duplicates, got %d/%d", workers-1, successes, dupes)
	}
}

func TestOrderItemRepository_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	repo := memory.NewOrderItemRepository()
	if _, err := repo.Insert(ctx, newItem(1, 1)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
