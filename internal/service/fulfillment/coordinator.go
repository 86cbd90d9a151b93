// Package fulfillment координирует позиции отгрузки между локальным
// хранилищем и внешними сервисами заказов и товаров.
//
// Политика при сбоях внешних сервисов: fail-closed на запись
// (Create отказывает, если заказ или товар нельзя подтвердить) и
// fail-open на чтение (FindByID и ListAll отдают то, что удалось собрать).
// Несогласованность между агрегатами не откатывается, а скрывается
// из листинга или отклоняется при создании.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/vladislavdragonenkov/shipping/internal/domain"
	"github.com/vladislavdragonenkov/shipping/internal/metrics"
)

const (
	defaultCascadeTimeout  = 5 * time.Second
	defaultListConcurrency = 8
	defaultListItemTimeout = 3 * time.Second
)

// Options задаёт параметры координатора.
type Options struct {
	Logger          *log.Entry
	Metrics         *metrics.FulfillmentMetrics
	Outbox          domain.OutboxRepository
	CascadeTimeout  time.Duration
	ListConcurrency int
	ListItemTimeout time.Duration
	Now             func() time.Time
}

// Option настраивает Coordinator.
type Option func(*Options)

// WithLogger задаёт logger координатора.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithMetrics задаёт метрики координатора.
func WithMetrics(m *metrics.FulfillmentMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// WithOutbox включает запись доменных событий в outbox.
func WithOutbox(repo domain.OutboxRepository) Option {
	return func(opts *Options) {
		opts.Outbox = repo
	}
}

// WithCascadeTimeout задаёт таймаут запроса на пересчёт статуса заказа.
func WithCascadeTimeout(timeout time.Duration) Option {
	return func(opts *Options) {
		opts.CascadeTimeout = timeout
	}
}

// WithListConcurrency ограничивает число позиций, обогащаемых параллельно.
func WithListConcurrency(limit int) Option {
	return func(opts *Options) {
		opts.ListConcurrency = limit
	}
}

// WithListItemTimeout задаёт таймаут обогащения одной позиции в листинге.
func WithListItemTimeout(timeout time.Duration) Option {
	return func(opts *Options) {
		opts.ListItemTimeout = timeout
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(opts *Options) {
		opts.Now = now
	}
}

// CreateItemCommand: входные данные для создания позиции.
type CreateItemCommand struct {
	OrderID         int
	ProductID       int
	OrderedQuantity int
}

// Coordinator реализует операции над позициями отгрузки.
type Coordinator struct {
	repo    domain.OrderItemRepository
	client  domain.AggregateClient
	outbox  domain.OutboxRepository
	metrics *metrics.FulfillmentMetrics
	logger  *log.Entry
	now     func() time.Time

	listConcurrency int
	listItemTimeout time.Duration

	cascade *cascadeDispatcher
}

// NewCoordinator создаёт координатор поверх хранилища и клиента внешних сервисов.
func NewCoordinator(repo domain.OrderItemRepository, client domain.AggregateClient, options ...Option) *Coordinator {
	opts := Options{
		CascadeTimeout:  defaultCascadeTimeout,
		ListConcurrency: defaultListConcurrency,
		ListItemTimeout: defaultListItemTimeout,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "fulfillment-coordinator")
	}
	if opts.CascadeTimeout <= 0 {
		opts.CascadeTimeout = defaultCascadeTimeout
	}
	if opts.ListConcurrency <= 0 {
		opts.ListConcurrency = defaultListConcurrency
	}
	if opts.ListItemTimeout <= 0 {
		opts.ListItemTimeout = defaultListItemTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Coordinator{
		repo:            repo,
		client:          client,
		outbox:          opts.Outbox,
		metrics:         opts.Metrics,
		logger:          logger,
		now:             func() time.Time { return opts.Now().UTC() },
		listConcurrency: opts.ListConcurrency,
		listItemTimeout: opts.ListItemTimeout,
		cascade:         newCascadeDispatcher(client, opts.CascadeTimeout, opts.Metrics, logger.WithField("operation", "status_cascade")),
	}
}

// Create создаёт позицию, если заказ и товар одновременно допускают её.
// Порядок проверок: ввод, существование заказа, статус заказа, существование
// товара, остаток, уникальность ключа. Недоступность сервиса при записи
// приравнивается к отсутствию агрегата (fail-closed).
func (c *Coordinator) Create(ctx context.Context, cmd CreateItemCommand) (domain.OrderItemView, error) {
	item := domain.OrderItem{
		OrderID:         cmd.OrderID,
		ProductID:       cmd.ProductID,
		OrderedQuantity: cmd.OrderedQuantity,
		Active:          true,
	}
	if errs := item.Validate(); len(errs) > 0 {
		c.metrics.RecordItemRejected(metrics.ReasonValidation)
		return domain.OrderItemView{}, domain.NewValidationError(errs...)
	}

	logger := c.logger.WithFields(log.Fields{
		"order_id":   item.OrderID,
		"product_id": item.ProductID,
	})

	order, product, err := c.confirmAggregates(ctx, item)
	if err != nil {
		c.metrics.RecordItemRejected(rejectionReason(err))
		logger.WithError(err).Debug("order item rejected")
		return domain.OrderItemView{}, err
	}

	now := c.now()
	item.CreatedAt = now
	item.UpdatedAt = now

	saved, err := c.repo.Insert(ctx, item)
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateItem) {
			c.metrics.RecordItemRejected(metrics.ReasonDuplicate)
			return domain.OrderItemView{}, err
		}
		c.metrics.RecordItemRejected(metrics.ReasonStorage)
		return domain.OrderItemView{}, fmt.Errorf("insert order item: %w", err)
	}

	c.metrics.RecordItemCreated()
	c.enqueueEvent(logger, domain.EventOrderItemCreated, saved)
	c.cascade.Dispatch(ctx, saved.OrderID)

	logger.WithField("ordered_quantity", saved.OrderedQuantity).Info("order item created")

	view := domain.NewOrderItemView(saved)
	view.Order = &order
	view.Product = &product
	return view, nil
}

// confirmAggregates запрашивает заказ и товар параллельно, но оценивает
// результаты в порядке "сначала заказ". Отказ по заказу отменяет запрос товара.
// Каждый запрос делается одной попыткой: сбой проверки сразу отклоняет запись.
func (c *Coordinator) confirmAggregates(ctx context.Context, item domain.OrderItem) (domain.OrderSnapshot, domain.ProductSnapshot, error) {
	var (
		order      domain.OrderSnapshot
		product    domain.ProductSnapshot
		productErr error
	)

	g, gctx := errgroup.WithContext(domain.WithSingleAttempt(ctx))
	g.Go(func() error {
		snapshot, err := c.client.FetchOrder(gctx, item.OrderID)
		if err != nil {
			return fmt.Errorf("%w: order %d: %w", domain.ErrOrderNotFound, item.OrderID, err)
		}
		if !snapshot.OrderStatus.AcceptsItems() {
			return fmt.Errorf("%w: order %d has status %q", domain.ErrInvalidOrderState, item.OrderID, snapshot.OrderStatus)
		}
		order = snapshot
		return nil
	})
	g.Go(func() error {
		// Ошибка товара не должна отменять проверку заказа.
		product, productErr = c.client.FetchProduct(gctx, item.ProductID)
		return nil
	})
	if err := g.Wait(); err != nil {
		return domain.OrderSnapshot{}, domain.ProductSnapshot{}, err
	}

	if productErr != nil {
		return domain.OrderSnapshot{}, domain.ProductSnapshot{}, fmt.Errorf("%w: product %d: %w", domain.ErrProductNotFound, item.ProductID, productErr)
	}
	if product.Quantity < item.OrderedQuantity {
		return domain.OrderSnapshot{}, domain.ProductSnapshot{}, &domain.InsufficientStockError{
			ProductID: item.ProductID,
			Available: product.Quantity,
			Requested: item.OrderedQuantity,
		}
	}
	return order, product, nil
}

// FindByID возвращает активную позицию с последними снимками заказа и товара.
// Сбои внешних сервисов не ломают чтение (fail-open): товар опускается,
// заказ заменяется минимальной ссылкой {orderId}.
func (c *Coordinator) FindByID(ctx context.Context, key domain.ItemKey) (domain.OrderItemView, error) {
	item, err := c.repo.FindByKey(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrOrderItemNotFound) {
			return domain.OrderItemView{}, err
		}
		return domain.OrderItemView{}, fmt.Errorf("find order item %s: %w", key, err)
	}
	if !item.Active {
		return domain.OrderItemView{}, fmt.Errorf("%w: %s is inactive", domain.ErrOrderItemNotFound, key)
	}
	if item.OrderID <= 0 {
		return domain.OrderItemView{}, fmt.Errorf("%w: %s has no order reference", domain.ErrOrderItemNotFound, key)
	}

	var (
		order      domain.OrderSnapshot
		orderErr   error
		product    domain.ProductSnapshot
		productErr error
	)

	var g errgroup.Group
	g.Go(func() error {
		product, productErr = c.client.FetchProduct(ctx, item.ProductID)
		return nil
	})
	g.Go(func() error {
		order, orderErr = c.client.FetchOrder(ctx, item.OrderID)
		return nil
	})
	_ = g.Wait()

	logger := c.logger.WithFields(log.Fields{
		"order_id":   item.OrderID,
		"product_id": item.ProductID,
	})

	view := domain.NewOrderItemView(item)
	if productErr != nil {
		logger.WithError(productErr).Debug("product snapshot unavailable, returning item without product")
	} else {
		view.Product = &product
	}
	if orderErr != nil {
		logger.WithError(orderErr).Debug("order snapshot unavailable, returning minimal order reference")
		order = domain.OrderSnapshot{OrderID: item.OrderID}
	}
	view.Order = &order

	return view, nil
}

// Deactivate переводит позицию в неактивное состояние. Повторный вызов
// для уже неактивной позиции успешен и ничего не записывает.
func (c *Coordinator) Deactivate(ctx context.Context, key domain.ItemKey) error {
	item, err := c.repo.FindByKey(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrOrderItemNotFound) {
			return err
		}
		return fmt.Errorf("find order item %s: %w", key, err)
	}

	if !item.Deactivate(c.now()) {
		return nil
	}

	saved, err := c.repo.Update(ctx, item)
	if err != nil {
		return fmt.Errorf("deactivate order item %s: %w", key, err)
	}

	logger := c.logger.WithFields(log.Fields{
		"order_id":   saved.OrderID,
		"product_id": saved.ProductID,
	})
	c.metrics.RecordItemDeactivated()
	c.enqueueEvent(logger, domain.EventOrderItemDeactivated, saved)
	logger.Info("order item deactivated")

	return nil
}

// Shutdown ожидает завершения запросов на пересчёт статуса заказов.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	return c.cascade.Shutdown(ctx)
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		return metrics.ReasonOrderNotFound
	case errors.Is(err, domain.ErrInvalidOrderState):
		return metrics.ReasonOrderState
	case errors.Is(err, domain.ErrProductNotFound):
		return metrics.ReasonProductNotFound
	case errors.Is(err, domain.ErrInsufficientStock):
		return metrics.ReasonInsufficientStock
	default:
		return metrics.ReasonStorage
	}
}
