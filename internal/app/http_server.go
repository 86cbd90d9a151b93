package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/shipping/internal/health"
)

const (
	readHeaderTimeout   = 5 * time.Second
	httpShutdownTimeout = 5 * time.Second
)

// startMetricsServer запускает служебный HTTP: /metrics и health-пробы.
func startMetricsServer(addr string, gatherer prometheus.Gatherer, healthHandler *healthcheck.Handler, logger *log.Entry) (*http.Server, net.Listener, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: readHeaderTimeout}
	lis, err := serve(srv, addr, "metrics", logger)
	if err != nil {
		return nil, nil, err
	}
	return srv, lis, nil
}

// serve слушает addr и обслуживает srv в фоне.
func serve(srv *http.Server, addr, name string, logger *log.Entry) (net.Listener, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	go func() {
		logger.WithFields(log.Fields{"server": name, "addr": lis.Addr().String()}).Info("http server listening")
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).WithField("server", name).Error("http server failed")
		}
	}()
	return lis, nil
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
