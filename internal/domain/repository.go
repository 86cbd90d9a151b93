package domain

import "context"

// OrderItemRepository описывает требования к хранилищу позиций отгрузки.
// Ключ уникален среди всех строк, включая деактивированные.
type OrderItemRepository interface {
	// Insert сохраняет новую позицию. Возвращает ErrDuplicateItem, если ключ уже занят.
	Insert(ctx context.Context, item OrderItem) (OrderItem, error)
	// FindByKey возвращает позицию в любом состоянии или ErrOrderItemNotFound.
	FindByKey(ctx context.Context, key ItemKey) (OrderItem, error)
	// FindAllActive возвращает активные позиции в порядке (order_id, product_id).
	FindAllActive(ctx context.Context) ([]OrderItem, error)
	// Update сохраняет изменяемые поля позиции (Active, UpdatedAt).
	Update(ctx context.Context, item OrderItem) (OrderItem, error)
}
