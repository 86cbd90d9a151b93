package app

import (
	"net"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shipping/internal/domain"
	"github.com/vladislavdragonenkov/shipping/internal/upstream"
)

// mockStock: остаток, который mock product-service отдаёт для любого товара.
const mockStock = 1000

// newUpstreamHTTPClient создаёт общий пул соединений к order- и product-service.
// Таймаут на запрос задаёт upstream.Client через context.
func newUpstreamHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   2 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   3 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	return &http.Client{Transport: transport}
}

// newAggregateClient выбирает HTTP-клиент или mock, если URL не заданы и mock разрешён.
func newAggregateClient(cfg Config, httpClient *http.Client, observer upstream.CallObserver, logger *log.Entry) domain.AggregateClient {
	if strings.TrimSpace(cfg.OrderServiceURL) == "" && cfg.AllowMockIntegrations {
		logger.Warn("order/product service URLs are not configured, using mock integrations")
		return upstream.NewPermissiveMockClient(mockStock)
	}

	options := []upstream.Option{
		upstream.WithLogger(logger.WithField("component", "upstream")),
		upstream.WithTimeout(cfg.UpstreamTimeout),
		upstream.WithObserver(observer),
		upstream.WithRetry(upstream.RetryConfig{
			MaxAttempts:   cfg.UpstreamRetryAttempts,
			InitialDelay:  cfg.UpstreamRetryDelay,
			MaxDelay:      cfg.UpstreamTimeout,
			BackoffFactor: 2,
		}),
	}
	if cfg.BreakerMaxFailures > 0 {
		options = append(options, upstream.WithCircuitBreaker(cfg.BreakerMaxFailures, cfg.BreakerResetTimeout))
	}

	logger.WithFields(log.Fields{
		"order_service":   cfg.OrderServiceURL,
		"product_service": cfg.ProductServiceURL,
	}).Info("upstream clients configured")

	return upstream.NewClient(httpClient, cfg.OrderServiceURL, cfg.ProductServiceURL, options...)
}
