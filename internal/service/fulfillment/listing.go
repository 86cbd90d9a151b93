package fulfillment

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/vladislavdragonenkov/shipping/internal/domain"
	"github.com/vladislavdragonenkov/shipping/internal/metrics"
)

var (
	errListProductUnresolved = errors.New("product unresolved")
	errListOrderUnresolved   = errors.New("order unresolved")
	errListOrderState        = errors.New("order state does not accept items")
)

// ListAll возвращает активные позиции, для которых сейчас подтверждаются и
// заказ, и товар. Позиции с неразрешимыми ссылками или заказом в
// неподходящем статусе молча скрываются: это отфильтрованное, а не полное
// представление хранилища.
func (c *Coordinator) ListAll(ctx context.Context) ([]domain.OrderItemView, error) {
	items, err := c.repo.FindAllActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active order items: %w", err)
	}
	if len(items) == 0 {
		return []domain.OrderItemView{}, nil
	}

	views := make([]*domain.OrderItemView, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.listConcurrency)
	for i, item := range items {
		g.Go(func() error {
			view, err := c.enrichForList(gctx, item)
			if err != nil {
				c.recordExclusion(item, err)
				return nil
			}
			views[i] = &view
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return dedupeViews(views), nil
}

func (c *Coordinator) enrichForList(ctx context.Context, item domain.OrderItem) (domain.OrderItemView, error) {
	itemCtx, cancel := context.WithTimeout(ctx, c.listItemTimeout)
	defer cancel()

	var (
		order      domain.OrderSnapshot
		orderErr   error
		product    domain.ProductSnapshot
		productErr error
	)

	var g errgroup.Group
	g.Go(func() error {
		product, productErr = c.client.FetchProduct(itemCtx, item.ProductID)
		return nil
	})
	g.Go(func() error {
		order, orderErr = c.client.FetchOrder(itemCtx, item.OrderID)
		return nil
	})
	_ = g.Wait()

	switch {
	case productErr != nil:
		return domain.OrderItemView{}, fmt.Errorf("%w: %w", errListProductUnresolved, productErr)
	case orderErr != nil:
		return domain.OrderItemView{}, fmt.Errorf("%w: %w", errListOrderUnresolved, orderErr)
	case !order.OrderStatus.AcceptsItems():
		return domain.OrderItemView{}, fmt.Errorf("%w: %q", errListOrderState, order.OrderStatus)
	}

	view := domain.NewOrderItemView(item)
	view.Product = &product
	view.Order = &order
	return view, nil
}

func (c *Coordinator) recordExclusion(item domain.OrderItem, err error) {
	reason := metrics.ReasonOrderState
	switch {
	case errors.Is(err, errListProductUnresolved):
		reason = metrics.ReasonProductNotFound
	case errors.Is(err, errListOrderUnresolved):
		reason = metrics.ReasonOrderNotFound
	}

	c.metrics.RecordListExcluded(reason)
	c.logger.WithError(err).WithFields(log.Fields{
		"order_id":   item.OrderID,
		"product_id": item.ProductID,
		"reason":     reason,
	}).Debug("order item hidden from listing")
}

// dedupeViews отбрасывает пропуски и повторы ключей, сохраняя порядок хранилища.
func dedupeViews(views []*domain.OrderItemView) []domain.OrderItemView {
	seen := make(map[domain.ItemKey]struct{}, len(views))
	result := make([]domain.OrderItemView, 0, len(views))
	for _, view := range views {
		if view == nil {
			continue
		}
		key := view.Key()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		result = append(result, *view)
	}
	return result
}
