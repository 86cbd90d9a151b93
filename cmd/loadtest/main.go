// Command loadtest нагружает HTTP API shipping-service сценариями
// создания, чтения и деактивации позиций отгрузки.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/shipping/internal/transport/httpapi"
)

type loadMode string

const (
	modeCreate          loadMode = "create"
	modeCreateGet       loadMode = "create-get"
	modeCreateGetDelete loadMode = "create-get-delete"
)

const statusTransportError = "transport_error"

type config struct {
	baseURL          string
	total            int
	totalSet         bool
	duration         time.Duration
	concurrency      int
	timeout          time.Duration
	mode             loadMode
	orderBase        int
	productsPerOrder int
	quantity         int
	listEvery        int
	outputPath       string
}

func parseConfig() (config, error) {
	var (
		cfg       config
		modeValue string
	)

	flag.StringVar(&cfg.baseURL, "url", "http://localhost:8600", "shipping-service base URL")
	flag.IntVar(&cfg.total, "total", 400, "total scenarios to execute in count mode; in duration mode only used when explicitly set")
	flag.DurationVar(&cfg.duration, "duration", 0, "optional time-based run duration (e.g. 10m)")
	flag.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	flag.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-request timeout")
	flag.StringVar(&modeValue, "mode", string(modeCreate), "load mode: create | create-get | create-get-delete")
	flag.IntVar(&cfg.orderBase, "order-base", 0, "first order id; 0 derives a fresh base from the clock")
	flag.IntVar(&cfg.productsPerOrder, "products-per-order", 10, "number of products attached to each order")
	flag.IntVar(&cfg.quantity, "quantity", 1, "ordered quantity per item")
	flag.IntVar(&cfg.listEvery, "list-every", 0, "also list all items every N-th scenario (0 disables)")
	flag.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	flag.Parse()

	flag.CommandLine.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode
	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")

	switch {
	case cfg.baseURL == "":
		return cfg, errors.New("url is required")
	case cfg.duration < 0:
		return cfg, errors.New("duration must be >= 0")
	case cfg.duration == 0 && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when duration is not set")
	case cfg.duration > 0 && cfg.totalSet && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	case cfg.concurrency <= 0:
		return cfg, errors.New("concurrency must be > 0")
	case cfg.timeout <= 0:
		return cfg, errors.New("timeout must be > 0")
	case cfg.orderBase < 0:
		return cfg, errors.New("order-base must be >= 0")
	case cfg.productsPerOrder <= 0:
		return cfg, errors.New("products-per-order must be > 0")
	case cfg.quantity <= 0:
		return cfg, errors.New("quantity must be > 0")
	case cfg.listEvery < 0:
		return cfg, errors.New("list-every must be >= 0")
	}

	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch mode := loadMode(strings.TrimSpace(value)); mode {
	case modeCreate, modeCreateGet, modeCreateGetDelete:
		return mode, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func main() {
	cfg, err := parseConfig()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	httpClient := &http.Client{Transport: &http.Transport{
		MaxIdleConns:        cfg.concurrency,
		MaxIdleConnsPerHost: cfg.concurrency,
		IdleConnTimeout:     90 * time.Second,
	}}
	defer httpClient.CloseIdleConnections()

	result := runLoad(cfg, httpClient)

	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

// runLoad раздаёт сценарии воркерам и собирает отчёт.
func runLoad(cfg config, httpClient *http.Client) report {
	startedAt := time.Now()
	if cfg.orderBase == 0 {
		cfg.orderBase = int(startedAt.Unix()%1_000_000) * 10_000
	}
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())

	col := newCollector()
	client := &apiClient{http: httpClient, baseURL: cfg.baseURL, timeout: cfg.timeout, col: col}

	jobs := make(chan int, cfg.concurrency*2)
	var wg sync.WaitGroup
	for range cfg.concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range jobs {
				_ = runScenario(client, cfg, index, runID)
			}
		}()
	}

	dispatchJobs(jobs, cfg)
	wg.Wait()

	return col.buildReport(startedAt, time.Since(startedAt))
}

func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			jobs <- i
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()

	for i := 0; ; i++ {
		if cfg.totalSet && i >= cfg.total {
			return
		}

		select {
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

// itemForScenario раскладывает номер сценария на уникальную пару (заказ, товар).
func itemForScenario(cfg config, index int) (orderID, productID int) {
	return cfg.orderBase + index/cfg.productsPerOrder + 1, index%cfg.productsPerOrder + 1
}

func runScenario(client *apiClient, cfg config, index int, runID string) (err error) {
	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "failed"
		}
		client.col.record(scenarioMetric, time.Since(start), status, err == nil)
	}()

	orderID, productID := itemForScenario(cfg, index)
	key := fmt.Sprintf("lt-%s-%d", runID, index)

	if err := client.create(orderID, productID, cfg.quantity, key); err != nil {
		return err
	}
	if cfg.mode != modeCreate {
		if err := client.get(orderID, productID); err != nil {
			return err
		}
	}
	if cfg.listEvery > 0 && index%cfg.listEvery == 0 {
		if err := client.list(); err != nil {
			return err
		}
	}
	if cfg.mode == modeCreateGetDelete {
		return client.deactivate(orderID, productID)
	}
	return nil
}

// apiClient: тонкий клиент HTTP API; каждый вызов учитывается в collector.
type apiClient struct {
	http    *http.Client
	baseURL string
	timeout time.Duration
	col     *collector
}

func (c *apiClient) create(orderID, productID, quantity int, idempotencyKey string) error {
	body, err := json.Marshal(map[string]int{
		"orderId":         orderID,
		"productId":       productID,
		"orderedQuantity": quantity,
	})
	if err != nil {
		return err
	}
	headers := map[string]string{
		"Content-Type":               "application/json",
		httpapi.IdempotencyKeyHeader: idempotencyKey,
	}
	return c.do("create", http.MethodPost, httpapi.BasePath, body, headers, http.StatusCreated)
}

func (c *apiClient) get(orderID, productID int) error {
	return c.do("get", http.MethodGet, itemPath(orderID, productID), nil, nil, http.StatusOK)
}

func (c *apiClient) list() error {
	return c.do("list", http.MethodGet, httpapi.BasePath, nil, nil, http.StatusOK)
}

func (c *apiClient) deactivate(orderID, productID int) error {
	return c.do("deactivate", http.MethodDelete, itemPath(orderID, productID), nil, nil, http.StatusOK)
}

func itemPath(orderID, productID int) string {
	return httpapi.BasePath + "/" + strconv.Itoa(orderID) + "/" + strconv.Itoa(productID)
}

func (c *apiClient) do(name, method, path string, body []byte, headers map[string]string, want int) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		c.col.record(name, time.Since(start), statusTransportError, false)
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.col.record(name, time.Since(start), statusTransportError, false)
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	ok := resp.StatusCode == want
	c.col.record(name, time.Since(start), strconv.Itoa(resp.StatusCode), ok)
	if !ok {
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	return nil
}
