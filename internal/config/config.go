package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const defaultFirehoseURL = "wss://bsky.network/xrpc/com.atproto.sync.subscribeRepos"

// Config holds all configuration for the worker.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Firehose FirehoseConfig
	Delivery DeliveryConfig
	Registry RegistryConfig
	LogLevel slog.Level
}

type ServerConfig struct {
	Host string
	Port int

	// ControlKey is the shared secret the registration app sends in Authorization.
	ControlKey string

	ControlRateLimit float64
	ControlRateBurst int
}

type DatabaseConfig struct {
	URL         string
	AutoMigrate bool
	Timeout     time.Duration
}

// RedisConfig is optional; an empty URL disables cross-replica refresh and
// delivery rate limiting.
type RedisConfig struct {
	URL string
}

type FirehoseConfig struct {
	URL         string
	EventBuffer int
}

type DeliveryConfig struct {
	NumWorkers   int
	Timeout      time.Duration
	SuspendAfter time.Duration
	RateLimit    int
	RateWindow   time.Duration
}

type RegistryConfig struct {
	RefreshInterval time.Duration
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// Load reads configuration from the environment.
func Load() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 6969)
	v.SetDefault("pg_connection_string", "")
	v.SetDefault("database_url", "")
	v.SetDefault("http_key", "")
	v.SetDefault("redis_url", "")
	v.SetDefault("firehose_url", defaultFirehoseURL)
	v.SetDefault("num_workers", 64)
	v.SetDefault("event_buffer", 1024)
	v.SetDefault("delivery_timeout", "10s")
	v.SetDefault("store_timeout", "15s")
	v.SetDefault("refresh_interval", "5m")
	v.SetDefault("suspend_after", "2h")
	v.SetDefault("delivery_rate_limit", 0)
	v.SetDefault("delivery_rate_window", "1s")
	v.SetDefault("control_rate_limit", 5.0)
	v.SetDefault("control_rate_burst", 10)
	v.SetDefault("auto_migrate", false)
	v.SetDefault("log_level", "info")

	dbURL := v.GetString("pg_connection_string")
	if dbURL == "" {
		dbURL = v.GetString("database_url")
	}

	level, err := parseLevel(v.GetString("log_level"))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Server: ServerConfig{
			Host:             v.GetString("host"),
			Port:             v.GetInt("port"),
			ControlKey:       v.GetString("http_key"),
			ControlRateLimit: v.GetFloat64("control_rate_limit"),
			ControlRateBurst: v.GetInt("control_rate_burst"),
		},
		Database: DatabaseConfig{
			URL:         dbURL,
			AutoMigrate: v.GetBool("auto_migrate"),
			Timeout:     v.GetDuration("store_timeout"),
		},
		Redis: RedisConfig{
			URL: v.GetString("redis_url"),
		},
		Firehose: FirehoseConfig{
			URL:         v.GetString("firehose_url"),
			EventBuffer: v.GetInt("event_buffer"),
		},
		Delivery: DeliveryConfig{
			NumWorkers:   v.GetInt("num_workers"),
			Timeout:      v.GetDuration("delivery_timeout"),
			SuspendAfter: v.GetDuration("suspend_after"),
			RateLimit:    v.GetInt("delivery_rate_limit"),
			RateWindow:   v.GetDuration("delivery_rate_window"),
		},
		Registry: RegistryConfig{
			RefreshInterval: v.GetDuration("refresh_interval"),
		},
		LogLevel: level,
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every missing or out-of-range setting at once.
func (c Config) Validate() error {
	var errs []error

	if c.Database.URL == "" {
		errs = append(errs, errors.New("PG_CONNECTION_STRING (or DATABASE_URL) is required"))
	}
	if c.Server.ControlKey == "" {
		errs = append(errs, errors.New("HTTP_KEY is required"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid PORT: %d", c.Server.Port))
	}
	if c.Firehose.URL == "" {
		errs = append(errs, errors.New("FIREHOSE_URL must not be empty"))
	}
	if c.Firehose.EventBuffer <= 0 {
		errs = append(errs, fmt.Errorf("EVENT_BUFFER must be positive, got %d", c.Firehose.EventBuffer))
	}
	if c.Delivery.NumWorkers <= 0 {
		errs = append(errs, fmt.Errorf("NUM_WORKERS must be positive, got %d", c.Delivery.NumWorkers))
	}

	durations := []struct {
		name string
		d    time.Duration
	}{
		{"DELIVERY_TIMEOUT", c.Delivery.Timeout},
		{"STORE_TIMEOUT", c.Database.Timeout},
		{"REFRESH_INTERVAL", c.Registry.RefreshInterval},
		{"SUSPEND_AFTER", c.Delivery.SuspendAfter},
		{"DELIVERY_RATE_WINDOW", c.Delivery.RateWindow},
	}
	for _, d := range durations {
		if d.d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be a positive duration, got %s", d.name, d.d))
		}
	}

	return errors.Join(errs...)
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL %q: %w", s, err)
	}
	return level, nil
}
