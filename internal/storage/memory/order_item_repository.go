package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/shipping/internal/domain"
)

// orderItemRepositoryInMemory: in-memory реализация OrderItemRepository.
type orderItemRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[domain.ItemKey]domain.OrderItem
}

// NewOrderItemRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderItemRepository() domain.OrderItemRepository {
	return &orderItemRepositoryInMemory{
		items: make(map[domain.ItemKey]domain.OrderItem),
	}
}

// Insert сохраняет позицию, если ключ ещё не занят ни активной, ни деактивированной строкой.
func (r *orderItemRepositoryInMemory) Insert(ctx context.Context, item domain.OrderItem) (domain.OrderItem, error) {
	if err := ctx.Err(); err != nil {
		return domain.OrderItem{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := item.Key()
	if _, exists := r.items[key]; exists {
		return domain.OrderItem{}, domain.ErrDuplicateItem
	}

	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = item.CreatedAt
	}
	r.items[key] = item
	return item, nil
}

// FindByKey возвращает позицию в любом состоянии.
func (r *orderItemRepositoryInMemory) FindByKey(ctx context.Context, key domain.ItemKey) (domain.OrderItem, error) {
	if err := ctx.Err(); err != nil {
		return domain.OrderItem{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	item, ok := r.items[key]
	if !ok {
		return domain.OrderItem{}, domain.ErrOrderItemNotFound
	}
	return item, nil
}

// FindAllActive возвращает активные позиции, отсортированные по (order_id, product_id).
func (r *orderItemRepositoryInMemory) FindAllActive(ctx context.Context) ([]domain.OrderItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.OrderItem, 0, len(r.items))
	for _, item := range r.items {
		if !item.Active {
			continue
		}
		result = append(result, item)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].OrderID != result[j].OrderID {
			return result[i].OrderID < result[j].OrderID
		}
		return result[i].ProductID < result[j].ProductID
	})

	return result, nil
}

// Update перезаписывает состояние позиции. Количество и время создания не меняются.
func (r *orderItemRepositoryInMemory) Update(ctx context.Context, item domain.OrderItem) (domain.OrderItem, error) {
	if err := ctx.Err(); err != nil {
		return domain.OrderItem{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := item.Key()
	current, ok := r.items[key]
	if !ok {
		return domain.OrderItem{}, domain.ErrOrderItemNotFound
	}

	current.Active = item.Active
	current.UpdatedAt = item.UpdatedAt
	if current.UpdatedAt.IsZero() {
		current.UpdatedAt = time.Now().UTC()
	}
	r.items[key] = current
	return current, nil
}

var _ domain.OrderItemRepository = (*orderItemRepositoryInMemory)(nil)
