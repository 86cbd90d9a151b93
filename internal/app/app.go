package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/shipping/internal/health"
	"github.com/vladislavdragonenkov/shipping/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/shipping/internal/metrics"
	"github.com/vladislavdragonenkov/shipping/internal/service/fulfillment"
	"github.com/vladislavdragonenkov/shipping/internal/service/idempotency"
	"github.com/vladislavdragonenkov/shipping/internal/transport/httpapi"
	"github.com/vladislavdragonenkov/shipping/internal/version"
)

// Run собирает сервис по конфигурации и блокируется до отмены ctx
// или падения API-сервера.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)

	httpClient := newUpstreamHTTPClient()
	defer httpClient.CloseIdleConnections()

	fulfillmentMetrics := metrics.NewFulfillmentMetrics()
	client := newAggregateClient(cfg, httpClient, fulfillmentMetrics, logger)

	events := newEventPipeline(cfg, deps.outbox, prometheus.DefaultRegisterer, kafka.NewProducer, logger)
	defer events.close()

	coordinatorOptions := append([]fulfillment.Option{
		fulfillment.WithLogger(logger.WithField("layer", "fulfillment")),
		fulfillment.WithMetrics(fulfillmentMetrics),
		fulfillment.WithCascadeTimeout(cfg.CascadeTimeout),
		fulfillment.WithListConcurrency(cfg.ListConcurrency),
		fulfillment.WithListItemTimeout(cfg.ListItemTimeout),
	}, events.coordinatorOptions(deps.outbox)...)

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	var workers sync.WaitGroup
	events.start(workerCtx, &workers)

	cleanupWorker := idempotency.NewCleanupWorker(deps.idempotency,
		idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup")),
		idempotency.WithMetrics(metrics.NewCleanupMetrics(prometheus.DefaultRegisterer)),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	)
	workers.Add(1)
	go func() {
		defer workers.Done()
		cleanupWorker.Run(workerCtx)
	}()

	coordinator := fulfillment.NewCoordinator(deps.orderItems, client, coordinatorOptions...)

	api := httpapi.NewHandler(coordinator,
		httpapi.WithLogger(logger.WithField("layer", "http")),
		httpapi.WithMetrics(metrics.NewHTTPMetrics(prometheus.DefaultRegisterer)),
		httpapi.WithIdempotency(deps.idempotency, cfg.IdempotencyTTL),
	)

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("storage", deps.storageChecker)
	events.registerHealth(healthHandler)

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		metricsSrv, _, err = startMetricsServer(cfg.MetricsAddr, prometheus.DefaultGatherer, healthHandler, logger)
		if err != nil {
			return fmt.Errorf("listen metrics: %w", err)
		}
		defer shutdownHTTP(metricsSrv, logger)
	}

	grpcHealth, err := startGRPCHealthServer(cfg.GRPCHealthAddr, prometheus.DefaultRegisterer, logger)
	if err != nil {
		return fmt.Errorf("listen grpc health: %w", err)
	}

	lis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		grpcHealth.Stop(cfg.ShutdownTimeout)
		return fmt.Errorf("listen http: %w", err)
	}

	apiSrv := &http.Server{Handler: api.Routes(), ReadHeaderTimeout: readHeaderTimeout}
	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(log.Fields{
			"addr":    lis.Addr().String(),
			"version": version.GetVersion(),
		}).Info("shipping api listening")
		errCh <- apiSrv.Serve(lis)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, draining")
		runErr = ctx.Err()
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = err
		}
	}

	healthHandler.SetDraining(true)
	grpcHealth.Stop(cfg.ShutdownTimeout)
	shutdownHTTP(apiSrv, logger)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := coordinator.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("pending cascades did not finish before shutdown timeout")
	}

	stopWorkers()
	workers.Wait()

	logger.Info("shipping service stopped")
	return runErr
}
