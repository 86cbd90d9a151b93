package app

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, ":8600", cfg.HTTPAddr)
	require.Equal(t, StorageDriverMemory, cfg.StorageDriver)
	require.True(t, cfg.PostgresAutoMigrate)
	require.Empty(t, cfg.kafkaBrokerList())
}

func TestConfig_Validate(t *testing.T) {
	withURLs := func(cfg Config) Config {
		cfg.OrderServiceURL = "http://order:8300"
		cfg.ProductServiceURL = "http://product:8500"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(Config) Config
		wantErr string
	}{
		{name: "urls configured", mutate: withURLs},
		{name: "mock allowed without urls", mutate: func(cfg Config) Config {
			cfg.AllowMockIntegrations = true
			return cfg
		}},
		{name: "urls missing", mutate: func(cfg Config) Config { return cfg }, wantErr: "required unless mock"},
		{name: "only order url", mutate: func(cfg Config) Config {
			cfg.OrderServiceURL = "http://order:8300"
			return cfg
		}, wantErr: "configured together"},
		{name: "postgres without dsn", mutate: func(cfg Config) Config {
			cfg = withURLs(cfg)
			cfg.StorageDriver = StorageDriverPostgres
			return cfg
		}, wantErr: "requires a DSN"},
		{name: "unknown driver", mutate: func(cfg Config) Config {
			cfg = withURLs(cfg)
			cfg.StorageDriver = "redis"
			return cfg
		}, wantErr: "unsupported storage driver"},
		{name: "empty http addr", mutate: func(cfg Config) Config {
			cfg = withURLs(cfg)
			cfg.HTTPAddr = ""
			return cfg
		}, wantErr: "http address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.mutate(DefaultConfig()).Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestConfig_KafkaBrokerList(t *testing.T) {
	cfg := DefaultConfig()
	cfg.KafkaBrokers = " kafka-1:9092, ,kafka-2:9092,"
	require.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.kafkaBrokerList())
}
