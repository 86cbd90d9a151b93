package fulfillment

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shipping/internal/domain"
	"github.com/vladislavdragonenkov/shipping/internal/metrics"
)

// cascadeDispatcher отправляет запросы на пересчёт статуса заказа в фоне.
// Вызов не повторяется и никогда не влияет на результат Create.
type cascadeDispatcher struct {
	client  domain.AggregateClient
	timeout time.Duration
	metrics *metrics.FulfillmentMetrics
	logger  *log.Entry

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func newCascadeDispatcher(client domain.AggregateClient, timeout time.Duration, m *metrics.FulfillmentMetrics, logger *log.Entry) *cascadeDispatcher {
	return &cascadeDispatcher{
		client:  client,
		timeout: timeout,
		metrics: m,
		logger:  logger,
	}
}

// Dispatch запускает пересчёт статуса заказа orderID. Отмена ctx вызывающей
// стороной не прерывает запрос: у него собственный таймаут.
func (d *cascadeDispatcher) Dispatch(ctx context.Context, orderID int) {
	logger := d.logger.WithField("order_id", orderID)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.metrics.RecordCascadeSkipped()
		logger.Warn("status cascade skipped during shutdown")
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	detached := context.WithoutCancel(ctx)
	d.metrics.RecordCascadeStarted()

	go func() {
		defer d.wg.Done()

		callCtx, cancel := context.WithTimeout(detached, d.timeout)
		defer cancel()

		if err := d.client.TriggerOrderStatusRecompute(callCtx, orderID); err != nil {
			d.metrics.RecordCascadeFinished("error")
			logger.WithError(err).Warn("order status recompute failed")
			return
		}
		d.metrics.RecordCascadeFinished("ok")
		logger.Debug("order status recompute requested")
	}()
}

// Shutdown запрещает новые запросы и ждёт завершения текущих.
func (d *cascadeDispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	waitDone := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(waitDone)
	}()

	select {
	case <-waitDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
