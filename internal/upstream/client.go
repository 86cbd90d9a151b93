package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shipping/internal/domain"
)

const (
	defaultTimeout = 3 * time.Second
	maxBodyBytes   = 1 << 20

	// Имена сервисов в логах и метриках.
	UpstreamOrder   = "order"
	UpstreamProduct = "product"

	// Результаты вызова для метрик.
	ResultOK          = "ok"
	ResultNotFound    = "not_found"
	ResultUnavailable = "unavailable"
	ResultCircuitOpen = "circuit_open"
	// ResultCanceled: вызов прервала вызывающая сторона, сервис не виноват.
	ResultCanceled = "canceled"
)

// CallObserver получает длительность и результат каждого вызова.
type CallObserver interface {
	ObserveUpstreamCall(upstream, result string, elapsed time.Duration)
}

// Options задаёт параметры клиента.
type Options struct {
	Logger              *log.Entry
	Timeout             time.Duration
	BreakerMaxFailures  int
	BreakerResetTimeout time.Duration
	Observer            CallObserver
	Retry               RetryConfig
}

// Option настраивает Client.
type Option func(*Options)

// WithLogger задаёт logger клиента.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithTimeout задаёт таймаут одного HTTP-вызова.
func WithTimeout(timeout time.Duration) Option {
	return func(opts *Options) {
		opts.Timeout = timeout
	}
}

// WithCircuitBreaker включает breaker на каждый сервис. maxFailures <= 0 отключает его.
func WithCircuitBreaker(maxFailures int, resetTimeout time.Duration) Option {
	return func(opts *Options) {
		opts.BreakerMaxFailures = maxFailures
		opts.BreakerResetTimeout = resetTimeout
	}
}

// WithObserver задаёт получателя метрик вызовов.
func WithObserver(observer CallObserver) Option {
	return func(opts *Options) {
		opts.Observer = observer
	}
}

// WithRetry включает повтор GET-запросов при сбое транспорта.
// PATCH пересчёта статуса и вызовы с domain.WithSingleAttempt не повторяются.
func WithRetry(cfg RetryConfig) Option {
	return func(opts *Options) {
		opts.Retry = cfg
	}
}

// Client ходит в order-service и product-service по HTTP.
// HTTP-клиент (и его пул соединений) принадлежит процессу и передаётся снаружи.
type Client struct {
	httpClient     *http.Client
	orderURL       string
	productURL     string
	timeout        time.Duration
	orderBreaker   *CircuitBreaker
	productBreaker *CircuitBreaker
	observer       CallObserver
	retry          RetryConfig
	logger         *log.Entry
}

// NewClient создаёт клиента. orderURL и productURL задают базовые адреса коллекций,
// например http://order-service/api/orders.
func NewClient(httpClient *http.Client, orderURL, productURL string, options ...Option) *Client {
	opts := Options{Timeout: defaultTimeout, Retry: DefaultRetryConfig()}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "upstream-client")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	client := &Client{
		httpClient: httpClient,
		orderURL:   strings.TrimRight(orderURL, "/"),
		productURL: strings.TrimRight(productURL, "/"),
		timeout:    opts.Timeout,
		observer:   opts.Observer,
		retry:      opts.Retry.normalized(),
		logger:     logger,
	}
	if opts.BreakerMaxFailures > 0 {
		client.orderBreaker = NewCircuitBreaker(UpstreamOrder, opts.BreakerMaxFailures, opts.BreakerResetTimeout, logger)
		client.productBreaker = NewCircuitBreaker(UpstreamProduct, opts.BreakerMaxFailures, opts.BreakerResetTimeout, logger)
	}
	return client
}

// FetchOrder запрашивает GET {orderURL}/{orderId}.
func (c *Client) FetchOrder(ctx context.Context, orderID int) (domain.OrderSnapshot, error) {
	var snapshot domain.OrderSnapshot
	err := c.call(ctx, UpstreamOrder, "fetch_order", c.orderBreaker, c.retry, func(ctx context.Context) error {
		return c.getJSON(ctx, fmt.Sprintf("%s/%d", c.orderURL, orderID), &snapshot)
	})
	if err != nil {
		return domain.OrderSnapshot{}, fmt.Errorf("fetch order %d: %w", orderID, err)
	}
	if snapshot.OrderID == 0 {
		snapshot.OrderID = orderID
	}
	return snapshot, nil
}

// FetchProduct запрашивает GET {productURL}/{productId}.
func (c *Client) FetchProduct(ctx context.Context, productID int) (domain.ProductSnapshot, error) {
	var snapshot domain.ProductSnapshot
	err := c.call(ctx, UpstreamProduct, "fetch_product", c.productBreaker, c.retry, func(ctx context.Context) error {
		return c.getJSON(ctx, fmt.Sprintf("%s/%d", c.productURL, productID), &snapshot)
	})
	if err != nil {
		return domain.ProductSnapshot{}, fmt.Errorf("fetch product %d: %w", productID, err)
	}
	if snapshot.ProductID == 0 {
		snapshot.ProductID = productID
	}
	return snapshot, nil
}

// TriggerOrderStatusRecompute отправляет PATCH {orderURL}/{orderId}/status без тела.
// Любой 2xx считается подтверждением.
func (c *Client) TriggerOrderStatusRecompute(ctx context.Context, orderID int) error {
	err := c.call(ctx, UpstreamOrder, "patch_order_status", c.orderBreaker, RetryConfig{MaxAttempts: 1}, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPatch, fmt.Sprintf("%s/%d/status", c.orderURL, orderID), http.NoBody)
		if err != nil {
			return fmt.Errorf("%w: build request: %v", domain.ErrRemoteUnavailable, err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %w", domain.ErrRemoteUnavailable, err)
		}
		defer drainAndClose(resp.Body)

		return classifyStatus(resp.StatusCode)
	})
	if err != nil {
		return fmt.Errorf("recompute order %d status: %w", orderID, err)
	}
	return nil
}

func (c *Client) call(ctx context.Context, upstream, operation string, breaker *CircuitBreaker, retry RetryConfig, fn func(ctx context.Context) error) error {
	started := time.Now()

	run := func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		return fn(callCtx)
	}

	if domain.SingleAttempt(ctx) {
		retry.MaxAttempts = 1
	}

	err := withRetry(ctx, retry, c.logger, operation, func() error {
		if breaker != nil {
			return breaker.Execute(operation, run)
		}
		return run()
	})

	result := resultOf(err)
	if c.observer != nil {
		c.observer.ObserveUpstreamCall(upstream, result, time.Since(started))
	}
	if result == ResultUnavailable {
		c.logger.WithError(err).WithFields(log.Fields{
			"upstream":  upstream,
			"operation": operation,
		}).Debug("upstream call failed")
	}
	return err
}

func (c *Client) getJSON(ctx context.Context, url string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", domain.ErrRemoteUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrRemoteUnavailable, err)
	}
	defer drainAndClose(resp.Body)

	if err := classifyStatus(resp.StatusCode); err != nil {
		return err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", domain.ErrRemoteUnavailable, err)
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return domain.ErrRemoteNotFound
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("%w: decode body: %v", domain.ErrRemoteUnavailable, err)
	}
	return nil
}

func classifyStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return domain.ErrRemoteNotFound
	default:
		return fmt.Errorf("%w: unexpected status %d", domain.ErrRemoteUnavailable, code)
	}
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, ErrCircuitOpen):
		return ResultCircuitOpen
	case errors.Is(err, domain.ErrRemoteNotFound):
		return ResultNotFound
	case errors.Is(err, context.Canceled):
		return ResultCanceled
	default:
		return ResultUnavailable
	}
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, maxBodyBytes))
	_ = body.Close()
}

var _ domain.AggregateClient = (*Client)(nil)
