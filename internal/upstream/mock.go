package upstream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/shipping/internal/domain"
)

// MockCalls: счётчики обращений к MockClient.
type MockCalls struct {
	FetchOrder   int
	FetchProduct int
	Recompute    int
}

// MockClient: конфигурируемая in-memory реализация AggregateClient
// для тестов и локального запуска без order/product сервисов.
type MockClient struct {
	mu sync.Mutex

	orders      map[int]domain.OrderSnapshot
	products    map[int]domain.ProductSnapshot
	orderErrs   map[int]error
	productErrs map[int]error

	recomputeErr error
	latency      time.Duration

	// permissive: неизвестные заказы считаются ORDERED, а товары имеют defaultStock.
	permissive   bool
	defaultStock int

	calls       MockCalls
	recomputed  []int
	onRecompute func(orderID int)
}

// NewMockClient возвращает пустой mock: все заказы и товары отсутствуют.
func NewMockClient() *MockClient {
	return &MockClient{
		orders:      make(map[int]domain.OrderSnapshot),
		products:    make(map[int]domain.ProductSnapshot),
		orderErrs:   make(map[int]error),
		productErrs: make(map[int]error),
	}
}

// NewPermissiveMockClient возвращает mock для локального запуска: любой заказ
// находится в статусе ORDERED, любой товар доступен в количестве stock.
func NewPermissiveMockClient(stock int) *MockClient {
	m := NewMockClient()
	m.permissive = true
	m.defaultStock = stock
	return m
}

// SetOrder регистрирует заказ с указанным статусом.
func (m *MockClient) SetOrder(orderID int, status domain.OrderStatus) {
	m.PutOrder(domain.OrderSnapshot{OrderID: orderID, OrderStatus: status})
}

// PutOrder регистрирует полный снимок заказа.
func (m *MockClient) PutOrder(snapshot domain.OrderSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[snapshot.OrderID] = snapshot
}

// SetProduct регистрирует товар с указанным остатком.
func (m *MockClient) SetProduct(productID, quantity int) {
	m.PutProduct(domain.ProductSnapshot{ProductID: productID, Quantity: quantity})
}

// PutProduct регистрирует полный снимок товара.
func (m *MockClient) PutProduct(snapshot domain.ProductSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[snapshot.ProductID] = snapshot
}

// RemoveOrder удаляет заказ.
func (m *MockClient) RemoveOrder(orderID int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.orders, orderID)
}

// FailOrder заставляет FetchOrder(orderID) возвращать err. nil снимает ошибку.
func (m *MockClient) FailOrder(orderID int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.orderErrs, orderID)
		return
	}
	m.orderErrs[orderID] = err
}

// FailProduct заставляет FetchProduct(productID) возвращать err. nil снимает ошибку.
func (m *MockClient) FailProduct(productID int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.productErrs, productID)
		return
	}
	m.productErrs[productID] = err
}

// SetRecomputeError задаёт ошибку для TriggerOrderStatusRecompute.
func (m *MockClient) SetRecomputeError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recomputeErr = err
}

// SetLatency задаёт задержку каждого вызова. Задержка прерывается отменой ctx.
func (m *MockClient) SetLatency(latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency = latency
}

// OnRecompute задаёт callback, вызываемый после каждого TriggerOrderStatusRecompute.
func (m *MockClient) OnRecompute(fn func(orderID int)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onRecompute = fn
}

// Calls возвращает копию счётчиков вызовов.
func (m *MockClient) Calls() MockCalls {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Recomputed возвращает заказы, для которых запрашивался пересчёт статуса.
func (m *MockClient) Recomputed() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.recomputed...)
}

// FetchOrder возвращает зарегистрированный заказ или ErrRemoteNotFound.
func (m *MockClient) FetchOrder(ctx context.Context, orderID int) (domain.OrderSnapshot, error) {
	m.mu.Lock()
	m.calls.FetchOrder++
	latency := m.latency
	snapshot, ok := m.orders[orderID]
	failure := m.orderErrs[orderID]
	permissive := m.permissive
	m.mu.Unlock()

	if err := wait(ctx, latency); err != nil {
		return domain.OrderSnapshot{}, fmt.Errorf("fetch order %d: %w", orderID, err)
	}
	if failure != nil {
		return domain.OrderSnapshot{}, fmt.Errorf("fetch order %d: %w", orderID, failure)
	}
	if !ok {
		if !permissive {
			return domain.OrderSnapshot{}, fmt.Errorf("fetch order %d: %w", orderID, domain.ErrRemoteNotFound)
		}
		snapshot = domain.OrderSnapshot{OrderID: orderID, OrderStatus: domain.OrderStatusOrdered}
	}
	return snapshot, nil
}

// FetchProduct возвращает зарегистрированный товар или ErrRemoteNotFound.
func (m *MockClient) FetchProduct(ctx context.Context, productID int) (domain.ProductSnapshot, error) {
	m.mu.Lock()
	m.calls.FetchProduct++
	latency := m.latency
	snapshot, ok := m.products[productID]
	failure := m.productErrs[productID]
	permissive := m.permissive
	stock := m.defaultStock
	m.mu.Unlock()

	if err := wait(ctx, latency); err != nil {
		return domain.ProductSnapshot{}, fmt.Errorf("fetch product %d: %w", productID, err)
	}
	if failure != nil {
		return domain.ProductSnapshot{}, fmt.Errorf("fetch product %d: %w", productID, failure)
	}
	if !ok {
		if !permissive {
			return domain.ProductSnapshot{}, fmt.Errorf("fetch product %d: %w", productID, domain.ErrRemoteNotFound)
		}
		snapshot = domain.ProductSnapshot{ProductID: productID, Quantity: stock}
	}
	return snapshot, nil
}

// TriggerOrderStatusRecompute фиксирует вызов и возвращает настроенную ошибку.
func (m *MockClient) TriggerOrderStatusRecompute(ctx context.Context, orderID int) error {
	m.mu.Lock()
	m.calls.Recompute++
	m.recomputed = append(m.recomputed, orderID)
	latency := m.latency
	failure := m.recomputeErr
	hook := m.onRecompute
	m.mu.Unlock()

	err := wait(ctx, latency)
	if err == nil && failure != nil {
		err = failure
	}
	if hook != nil {
		hook(orderID)
	}
	if err != nil {
		return fmt.Errorf("recompute order %d status: %w", orderID, err)
	}
	return nil
}

func wait(ctx context.Context, latency time.Duration) error {
	if latency <= 0 {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", domain.ErrRemoteUnavailable, ctx.Err())
		}
		return nil
	}

	timer := time.NewTimer(latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", domain.ErrRemoteUnavailable, ctx.Err())
	case <-timer.C:
		return nil
	}
}

var _ domain.AggregateClient = (*MockClient)(nil)
