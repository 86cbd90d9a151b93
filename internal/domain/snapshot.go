package domain

// OrderStatus: статус заказа в order-service. Набор значений принадлежит
// внешнему сервису, поэтому неизвестные значения допустимы и просто не
// проходят проверку AcceptsItems.
type OrderStatus string

const (
	OrderStatusCreated   OrderStatus = "CREATED"
	OrderStatusOrdered   OrderStatus = "ORDERED"
	OrderStatusInPayment OrderStatus = "IN_PAYMENT"
	OrderStatusCompleted OrderStatus = "COMPLETED"
)

// AcceptsItems сообщает, можно ли привязывать и показывать позиции для заказа в этом статусе.
func (s OrderStatus) AcceptsItems() bool {
	switch s {
	case OrderStatusOrdered, OrderStatusInPayment:
		return true
	default:
		return false
	}
}

// OrderSnapshot: снимок заказа, полученный от order-service. Не сохраняется.
type OrderSnapshot struct {
	OrderID     int         `json:"orderId"`
	OrderStatus OrderStatus `json:"orderStatus,omitempty"`
	OrderDate   string      `json:"orderDate,omitempty"`
	OrderDesc   string      `json:"orderDesc,omitempty"`
	OrderFee    float64     `json:"orderFee,omitempty"`
}

// ProductSnapshot: снимок товара, полученный от product-service. Не сохраняется.
type ProductSnapshot struct {
	ProductID    int     `json:"productId"`
	ProductTitle string  `json:"productTitle,omitempty"`
	ImageURL     string  `json:"imageUrl,omitempty"`
	SKU          string  `json:"sku,omitempty"`
	PriceUnit    float64 `json:"priceUnit,omitempty"`
	// Quantity: доступный остаток на момент запроса.
	Quantity int `json:"quantity"`
}
