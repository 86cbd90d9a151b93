package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shipping/internal/app"
	"github.com/vladislavdragonenkov/shipping/internal/version"
)

const (
	envHTTPAddr       = "SHIPPING_HTTP_ADDR"
	envMetricsAddr    = "SHIPPING_METRICS_ADDR"
	envGRPCHealthAddr = "SHIPPING_GRPC_HEALTH_ADDR"
	envLogLevel       = "SHIPPING_LOG_LEVEL"

	envStorageDriver       = "SHIPPING_STORAGE_DRIVER"
	envPostgresDSN         = "SHIPPING_POSTGRES_DSN"
	envPostgresAutoMigrate = "SHIPPING_POSTGRES_AUTO_MIGRATE"

	envOrderServiceURL       = "SHIPPING_ORDER_SERVICE_URL"
	envProductServiceURL     = "SHIPPING_PRODUCT_SERVICE_URL"
	envAllowMockIntegrations = "SHIPPING_ALLOW_MOCK_INTEGRATIONS"
	envUpstreamTimeout       = "SHIPPING_UPSTREAM_TIMEOUT"
	envUpstreamRetryAttempts = "SHIPPING_UPSTREAM_RETRY_ATTEMPTS"
	envUpstreamRetryDelay    = "SHIPPING_UPSTREAM_RETRY_DELAY"
	envBreakerMaxFailures    = "SHIPPING_BREAKER_MAX_FAILURES"
	envBreakerResetTimeout   = "SHIPPING_BREAKER_RESET_TIMEOUT"

	envCascadeTimeout  = "SHIPPING_CASCADE_TIMEOUT"
	envListConcurrency = "SHIPPING_LIST_CONCURRENCY"
	envListItemTimeout = "SHIPPING_LIST_ITEM_TIMEOUT"

	envKafkaBrokers       = "KAFKA_BROKERS"
	envKafkaTopic         = "SHIPPING_KAFKA_TOPIC"
	envOutboxPollInterval = "SHIPPING_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize    = "SHIPPING_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts  = "SHIPPING_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay   = "SHIPPING_OUTBOX_RETRY_DELAY"

	envIdempotencyTTL              = "SHIPPING_IDEMPOTENCY_TTL"
	envIdempotencyCleanupInterval  = "SHIPPING_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize = "SHIPPING_IDEMPOTENCY_CLEANUP_BATCH_SIZE"

	envShutdownTimeout = "SHIPPING_SHUTDOWN_TIMEOUT"
)

// envLookup совпадает по сигнатуре с os.LookupEnv; в тестах подменяется map.
type envLookup func(key string) (string, bool)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger(lookup envLookup) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	raw, ok := lookup(envLogLevel)
	if !ok || strings.TrimSpace(raw) == "" {
		return
	}
	level, err := log.ParseLevel(strings.TrimSpace(raw))
	if err != nil {
		log.WithError(err).WithField("env", envLogLevel).Warn("invalid log level, using info")
		return
	}
	log.SetLevel(level)
}

// readConfigFromEnv накладывает переменные окружения на DefaultConfig.
// Некорректные значения не применяются и возвращаются как предупреждения.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	var warnings []string

	warn := func(key, raw string, err error) {
		warnings = append(warnings, fmt.Sprintf("%s=%q ignored: %v", key, raw, err))
	}

	str := func(key string, target *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*target = strings.TrimSpace(v)
		}
	}
	boolean := func(key string, target *bool) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseBool(v)
		if err != nil {
			warn(key, v, err)
			return
		}
		*target = parsed
	}
	integer := func(key string, target *int, valid func(int) bool, rule string) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseInt(v, valid, rule)
		if err != nil {
			warn(key, v, err)
			return
		}
		*target = parsed
	}
	duration := func(key string, target *time.Duration, valid func(time.Duration) bool, rule string) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseDuration(v, valid, rule)
		if err != nil {
			warn(key, v, err)
			return
		}
		*target = parsed
	}

	positive := func(v int) bool { return v > 0 }
	nonNegative := func(v int) bool { return v >= 0 }
	positiveDuration := func(v time.Duration) bool { return v > 0 }
	nonNegativeDuration := func(v time.Duration) bool { return v >= 0 }

	str(envHTTPAddr, &cfg.HTTPAddr)
	str(envMetricsAddr, &cfg.MetricsAddr)
	str(envGRPCHealthAddr, &cfg.GRPCHealthAddr)

	str(envStorageDriver, &cfg.StorageDriver)
	cfg.StorageDriver = strings.ToLower(cfg.StorageDriver)
	str(envPostgresDSN, &cfg.PostgresDSN)
	boolean(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)

	str(envOrderServiceURL, &cfg.OrderServiceURL)
	str(envProductServiceURL, &cfg.ProductServiceURL)
	boolean(envAllowMockIntegrations, &cfg.AllowMockIntegrations)
	duration(envUpstreamTimeout, &cfg.UpstreamTimeout, positiveDuration, "must be > 0")
	integer(envUpstreamRetryAttempts, &cfg.UpstreamRetryAttempts, positive, "must be > 0")
	duration(envUpstreamRetryDelay, &cfg.UpstreamRetryDelay, nonNegativeDuration, "must be >= 0")
	integer(envBreakerMaxFailures, &cfg.BreakerMaxFailures, nonNegative, "must be >= 0")
	duration(envBreakerResetTimeout, &cfg.BreakerResetTimeout, positiveDuration, "must be > 0")

	duration(envCascadeTimeout, &cfg.CascadeTimeout, positiveDuration, "must be > 0")
	integer(envListConcurrency, &cfg.ListConcurrency, positive, "must be > 0")
	duration(envListItemTimeout, &cfg.ListItemTimeout, positiveDuration, "must be > 0")

	str(envKafkaBrokers, &cfg.KafkaBrokers)
	str(envKafkaTopic, &cfg.KafkaTopic)
	duration(envOutboxPollInterval, &cfg.OutboxPollInterval, positiveDuration, "must be > 0")
	integer(envOutboxBatchSize, &cfg.OutboxBatchSize, positive, "must be > 0")
	integer(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts, positive, "must be > 0")
	duration(envOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegativeDuration, "must be >= 0")

	duration(envIdempotencyTTL, &cfg.IdempotencyTTL, positiveDuration, "must be > 0")
	duration(envIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, positiveDuration, "must be > 0")
	integer(envIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize, positive, "must be > 0")

	duration(envShutdownTimeout, &cfg.ShutdownTimeout, positiveDuration, "must be > 0")

	return cfg, warnings
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value")
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if valid != nil && !valid(value) {
		return 0, errors.New(rule)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if valid != nil && !valid(value) {
		return 0, errors.New(rule)
	}
	return value, nil
}

func main() {
	setupLogger(os.LookupEnv)
	cfg, warnings := readConfigFromEnv(os.LookupEnv)
	for _, w := range warnings {
		log.Warn(w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"http_addr":      cfg.HTTPAddr,
		"metrics_addr":   cfg.MetricsAddr,
		"storage_driver": cfg.StorageDriver,
		"version":        version.String(),
	}).Info("starting shipping service")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("shipping service exited with error")
	}

	log.Info("shipping service stopped")
}
