package domain

import (
	"fmt"
	"math"
	"time"
)

// MaxValue: верхняя граница идентификаторов и количества (колонки INTEGER).
const MaxValue = math.MaxInt32

// ItemKey: составной идентификатор позиции: пара (заказ, товар).
// Суррогатного ключа нет, уникальность держится ровно на этой паре.
type ItemKey struct {
	OrderID   int
	ProductID int
}

// String возвращает ключ в формате "orderId:productId" (используется как aggregate id).
func (k ItemKey) String() string {
	return fmt.Sprintf("%d:%d", k.OrderID, k.ProductID)
}

// Validate проверяет, что обе части ключа лежат в (0, MaxValue].
func (k ItemKey) Validate() []error {
	var errs []error
	errs = appendRangeError(errs, "order_id", k.OrderID, ErrOrderIDRequired)
	errs = appendRangeError(errs, "product_id", k.ProductID, ErrProductIDRequired)
	return errs
}

// OrderItem: локально хранимая позиция отгрузки, связывающая заказ и товар.
type OrderItem struct {
	OrderID   int
	ProductID int
	// OrderedQuantity задаётся при создании и больше не меняется.
	OrderedQuantity int
	// Active=false означает мягкое удаление: строка остаётся для истории.
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Key возвращает составной ключ позиции.
func (i OrderItem) Key() ItemKey {
	return ItemKey{OrderID: i.OrderID, ProductID: i.ProductID}
}

// Validate проверяет входные поля позиции перед созданием.
func (i *OrderItem) Validate() []error {
	errs := i.Key().Validate()
	errs = appendRangeError(errs, "ordered_quantity", i.OrderedQuantity, ErrQuantityInvalid)
	return errs
}

func appendRangeError(errs []error, field string, value int, missing error) []error {
	switch {
	case value <= 0:
		return append(errs, missing)
	case value > MaxValue:
		return append(errs, fmt.Errorf("%s %d: %w", field, value, ErrValueOutOfRange))
	default:
		return errs
	}
}

// Deactivate переводит позицию в неактивное состояние.
// Возвращает false, если позиция уже была неактивна.
func (i *OrderItem) Deactivate(now time.Time) bool {
	if !i.Active {
		return false
	}
	i.Active = false
	i.UpdatedAt = now
	return true
}

// OrderItemView: позиция, обогащённая последними полученными снимками заказа и товара.
type OrderItemView struct {
	OrderID         int
	ProductID       int
	OrderedQuantity int
	Product         *ProductSnapshot
	Order           *OrderSnapshot
}

// NewOrderItemView собирает представление позиции без внешних данных.
func NewOrderItemView(item OrderItem) OrderItemView {
	return OrderItemView{
		OrderID:         item.OrderID,
		ProductID:       item.ProductID,
		OrderedQuantity: item.OrderedQuantity,
	}
}

// Key возвращает составной ключ представления.
func (v OrderItemView) Key() ItemKey {
	return ItemKey{OrderID: v.OrderID, ProductID: v.ProductID}
}
