package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shipping/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/shipping/internal/health"
	"github.com/vladislavdragonenkov/shipping/internal/storage/memory"
	"github.com/vladislavdragonenkov/shipping/internal/storage/postgres"
)

// runtimeDependencies: хранилища, выбранные по StorageDriver.
type runtimeDependencies struct {
	orderItems     domain.OrderItemRepository
	outbox         domain.OutboxRepository
	idempotency    domain.IdempotencyRepository
	storageChecker healthcheck.Checker
	closeFn        func() error
}

func (d *runtimeDependencies) close(logger *log.Entry) {
	if d == nil || d.closeFn == nil {
		return
	}
	if err := d.closeFn(); err != nil {
		logger.WithError(err).Warn("failed to close storage")
		return
	}
	logger.Info("storage closed")
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	switch cfg.StorageDriver {
	case StorageDriverMemory:
		logger.Warn("using in-memory storage, data is lost on restart")
		return &runtimeDependencies{
			orderItems:  memory.NewOrderItemRepository(),
			outbox:      memory.NewOutboxRepository(),
			idempotency: memory.NewIdempotencyRepository(),
			storageChecker: healthcheck.NewProbe("storage", func(ctx context.Context) error {
				return ctx.Err()
			}),
		}, nil
	case StorageDriverPostgres:
		return initPostgres(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func initPostgres(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("postgres storage driver requires a DSN")
	}

	store, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if cfg.PostgresAutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("apply postgres migrations: %w", err)
		}
		state, err := store.MigrationStatus(ctx)
		if err == nil {
			logger.WithField("schema_version", state.CurrentVersion).Info("postgres schema is up to date")
		}
	}

	return &runtimeDependencies{
		orderItems:     postgres.NewOrderItemRepository(store),
		outbox:         postgres.NewOutboxRepository(store),
		idempotency:    postgres.NewIdempotencyRepository(store),
		storageChecker: healthcheck.NewProbe("storage", store.Ping),
		closeFn:        store.Close,
	}, nil
}
