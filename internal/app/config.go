package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/shipping/internal/messaging/kafka"
)

const (
	// StorageDriverMemory хранит позиции в памяти процесса; для локального запуска и тестов.
	StorageDriverMemory = "memory"
	// StorageDriverPostgres хранит позиции в PostgreSQL.
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска shipping-service.
// Все поля сравнимы, поэтому конфигурации можно сравнивать через ==.
type Config struct {
	HTTPAddr       string
	MetricsAddr    string
	GRPCHealthAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool

	OrderServiceURL       string
	ProductServiceURL     string
	AllowMockIntegrations bool
	UpstreamTimeout       time.Duration
	UpstreamRetryAttempts int
	UpstreamRetryDelay    time.Duration
	BreakerMaxFailures    int
	BreakerResetTimeout   time.Duration

	CascadeTimeout  time.Duration
	ListConcurrency int
	ListItemTimeout time.Duration

	KafkaBrokers       string
	KafkaTopic         string
	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	ShutdownTimeout time.Duration
}

// DefaultConfig возвращает настройки для локального запуска.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8600",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,

		UpstreamTimeout:       3 * time.Second,
		UpstreamRetryAttempts: 2,
		UpstreamRetryDelay:    100 * time.Millisecond,
		BreakerMaxFailures:    5,
		BreakerResetTimeout:   30 * time.Second,

		CascadeTimeout:  5 * time.Second,
		ListConcurrency: 8,
		ListItemTimeout: 3 * time.Second,

		KafkaTopic:         kafka.TopicOrderItemEvents,
		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   200 * time.Millisecond,

		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,

		ShutdownTimeout: 10 * time.Second,
	}
}

// kafkaBrokerList разбирает KafkaBrokers, отбрасывая пустые элементы.
func (c Config) kafkaBrokerList() []string {
	var brokers []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// Validate проверяет сочетания настроек, которые нельзя исправить подстановкой дефолта.
func (c Config) Validate() error {
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return fmt.Errorf("postgres storage driver requires a DSN")
		}
	default:
		return fmt.Errorf("unsupported storage driver %q", c.StorageDriver)
	}

	orderSet := strings.TrimSpace(c.OrderServiceURL) != ""
	productSet := strings.TrimSpace(c.ProductServiceURL) != ""
	switch {
	case orderSet != productSet:
		return fmt.Errorf("order and product service URLs must be configured together")
	case !orderSet && !c.AllowMockIntegrations:
		return fmt.Errorf("order and product service URLs are required unless mock integrations are allowed")
	}

	if c.HTTPAddr == "" {
		return fmt.Errorf("http address is required")
	}
	return nil
}
