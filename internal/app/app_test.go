package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func localConfig() Config {
	cfg := DefaultConfig()
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.MetricsAddr = "127.0.0.1:0"
	cfg.GRPCHealthAddr = "127.0.0.1:0"
	cfg.AllowMockIntegrations = true
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, localConfig()) }()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.True(t, errors.Is(err, context.Canceled), "unexpected error: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestRun_RejectsInvalidConfig(t *testing.T) {
	cfg := localConfig()
	cfg.AllowMockIntegrations = false

	err := Run(context.Background(), cfg)
	require.ErrorContains(t, err, "invalid config")
}

func TestRun_FailsOnInvalidHTTPAddr(t *testing.T) {
	cfg := localConfig()
	cfg.HTTPAddr = "256.0.0.1:80"

	err := Run(context.Background(), cfg)
	require.ErrorContains(t, err, "listen http")
}
