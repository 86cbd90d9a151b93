package app

import (
	"errors"
	"net"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// shippingServiceName: имя сервиса в grpc_health_v1 помимо общего "".
const shippingServiceName = "shipping.ShippingService"

// grpcHealthServer отдаёт стандартный gRPC health-check для оркестраторов,
// которые проверяют сервисы по gRPC.
type grpcHealthServer struct {
	server   *grpc.Server
	health   *health.Server
	listener net.Listener
	logger   *log.Entry
}

// startGRPCHealthServer поднимает сервер на addr; пустой addr отключает его.
func startGRPCHealthServer(addr string, registerer prometheus.Registerer, logger *log.Entry) (*grpcHealthServer, error) {
	if addr == "" {
		return nil, nil
	}

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	grpcMetrics := promgrpc.NewServerMetrics()
	if err := registerer.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(server, healthServer)
	reflection.Register(server)
	grpcMetrics.InitializeMetrics(server)

	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(shippingServiceName, healthpb.HealthCheckResponse_SERVING)

	s := &grpcHealthServer{server: server, health: healthServer, listener: lis, logger: logger}
	go func() {
		logger.WithField("addr", lis.Addr().String()).Info("grpc health server listening")
		if err := server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.WithError(err).Warn("grpc health server failed")
		}
	}()

	return s, nil
}

// Addr возвращает фактический адрес (полезно при порте 0).
func (s *grpcHealthServer) Addr() string {
	return s.listener.Addr().String()
}

// Stop переводит статус в NOT_SERVING и останавливает сервер,
// принудительно после timeout.
func (s *grpcHealthServer) Stop(timeout time.Duration) {
	if s == nil {
		return
	}
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(timeout):
		s.logger.Warn("grpc graceful stop timed out, forcing stop")
		s.server.Stop()
	}
}
