package app

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestGRPCHealthServer_Disabled(t *testing.T) {
	srv, err := startGRPCHealthServer("", prometheus.NewRegistry(), testLogger())
	require.NoError(t, err)
	require.Nil(t, srv)

	srv.Stop(time.Second)
}

func TestGRPCHealthServer_ServingUntilStopped(t *testing.T) {
	srv, err := startGRPCHealthServer("127.0.0.1:0", prometheus.NewRegistry(), testLogger())
	require.NoError(t, err)
	require.NotNil(t, srv)

	conn, err := grpc.NewClient(srv.Addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client := healthpb.NewHealthClient(conn)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, service := range []string{"", shippingServiceName} {
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		require.NoError(t, err)
		require.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
	}

	srv.Stop(time.Second)

	_, err = client.Check(ctx, &healthpb.HealthCheckRequest{})
	require.Error(t, err)
}

func TestGRPCHealthServer_MetricsRegisteredTwice(t *testing.T) {
	registry := prometheus.NewRegistry()

	first, err := startGRPCHealthServer("127.0.0.1:0", registry, testLogger())
	require.NoError(t, err)
	defer first.Stop(time.Second)

	second, err := startGRPCHealthServer("127.0.0.1:0", registry, testLogger())
	require.NoError(t, err)
	defer second.Stop(time.Second)
}
