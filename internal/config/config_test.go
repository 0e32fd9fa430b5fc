package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("PG_CONNECTION_STRING", "postgres://localhost/firehose")
	t.Setenv("HTTP_KEY", "secret")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:6969", cfg.Addr())
	assert.Equal(t, "postgres://localhost/firehose", cfg.Database.URL)
	assert.Equal(t, "secret", cfg.Server.ControlKey)
	assert.Equal(t, defaultFirehoseURL, cfg.Firehose.URL)
	assert.Equal(t, 1024, cfg.Firehose.EventBuffer)
	assert.Equal(t, 64, cfg.Delivery.NumWorkers)
	assert.Equal(t, 10*time.Second, cfg.Delivery.Timeout)
	assert.Equal(t, 15*time.Second, cfg.Database.Timeout)
	assert.Equal(t, 5*time.Minute, cfg.Registry.RefreshInterval)
	assert.Equal(t, 2*time.Hour, cfg.Delivery.SuspendAfter)
	assert.Equal(t, 0, cfg.Delivery.RateLimit)
	assert.Equal(t, 5.0, cfg.Server.ControlRateLimit)
	assert.False(t, cfg.Database.AutoMigrate)
	assert.Empty(t, cfg.Redis.URL)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "8080")
	t.Setenv("HOST", "127.0.0.1")
	t.Setenv("NUM_WORKERS", "8")
	t.Setenv("SUSPEND_AFTER", "30m")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("AUTO_MIGRATE", "true")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8080", cfg.Addr())
	assert.Equal(t, 8, cfg.Delivery.NumWorkers)
	assert.Equal(t, 30*time.Minute, cfg.Delivery.SuspendAfter)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.True(t, cfg.Database.AutoMigrate)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestLoadDatabaseURLAlias(t *testing.T) {
	t.Setenv("PG_CONNECTION_STRING", "")
	t.Setenv("DATABASE_URL", "postgres://alias/db")
	t.Setenv("HTTP_KEY", "secret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://alias/db", cfg.Database.URL)
}

func TestLoadMissingRequired(t *testing.T) {
	t.Setenv("PG_CONNECTION_STRING", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("HTTP_KEY", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PG_CONNECTION_STRING")
	assert.Contains(t, err.Error(), "HTTP_KEY")
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		key, value, want string
	}{
		{"NUM_WORKERS", "0", "NUM_WORKERS"},
		{"EVENT_BUFFER", "-1", "EVENT_BUFFER"},
		{"PORT", "70000", "PORT"},
		{"DELIVERY_TIMEOUT", "0s", "DELIVERY_TIMEOUT"},
		{"LOG_LEVEL", "loud", "LOG_LEVEL"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
