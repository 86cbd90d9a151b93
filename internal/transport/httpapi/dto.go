package httpapi

import (
	"github.com/vladislavdragonenkov/shipping/internal/domain"
	"github.com/vladislavdragonenkov/shipping/internal/service/fulfillment"
)

// createOrderItemRequest: тело POST /api/shippings.
// Указатели отличают отсутствующее поле от нуля; оба случая считаются пропуском.
type createOrderItemRequest struct {
	OrderID         *int `json:"orderId"`
	ProductID       *int `json:"productId"`
	OrderedQuantity *int `json:"orderedQuantity"`
}

func (r createOrderItemRequest) command() fulfillment.CreateItemCommand {
	return fulfillment.CreateItemCommand{
		OrderID:         deref(r.OrderID),
		ProductID:       deref(r.ProductID),
		OrderedQuantity: deref(r.OrderedQuantity),
	}
}

func deref(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

type orderItemResponse struct {
	OrderID         int                     `json:"orderId"`
	ProductID       int                     `json:"productId"`
	OrderedQuantity int                     `json:"orderedQuantity"`
	Product         *domain.ProductSnapshot `json:"product,omitempty"`
	Order           *domain.OrderSnapshot   `json:"order,omitempty"`
}

type collectionResponse struct {
	Collection []orderItemResponse `json:"collection"`
}

func toResponse(view domain.OrderItemView) orderItemResponse {
	return orderItemResponse{
		OrderID:         view.OrderID,
		ProductID:       view.ProductID,
		OrderedQuantity: view.OrderedQuantity,
		Product:         view.Product,
		Order:           view.Order,
	}
}

func toCollection(views []domain.OrderItemView) collectionResponse {
	out := collectionResponse{Collection: make([]orderItemResponse, 0, len(views))}
	for _, v := range views {
		out.Collection = append(out.Collection, toResponse(v))
	}
	return out
}
