package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Priya8975/firehose-webhooks/internal/api"
	"github.com/Priya8975/firehose-webhooks/internal/config"
	"github.com/Priya8975/firehose-webhooks/internal/domain"
	"github.com/Priya8975/firehose-webhooks/internal/engine"
	"github.com/Priya8975/firehose-webhooks/internal/firehose"
	"github.com/Priya8975/firehose-webhooks/internal/registry"
	"github.com/Priya8975/firehose-webhooks/internal/store"
	ws "github.com/Priya8975/firehose-webhooks/internal/websocket"
	"github.com/Priya8975/firehose-webhooks/internal/worker"
	"github.com/cenkalti/backoff/v5"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to load .env", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("worker stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("worker stopped")
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// PostgreSQL
	pgStore, err := store.NewPostgres(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pgStore.Close()
	if err := pgStore.Ping(ctx); err != nil {
		logger.Warn("PostgreSQL unreachable at startup, retrying in the background", "error", err)
	} else {
		logger.Info("connected to PostgreSQL")
	}

	if cfg.Database.AutoMigrate {
		if err := migrate(ctx, pgStore, logger); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		logger.Info("database migrations applied")
	}

	// Redis is optional
	var (
		notifier  *store.RefreshNotifier
		publisher api.RefreshPublisher
		limiter   *engine.DeliveryLimiter
	)
	if cfg.Redis.URL != "" {
		redisStore, err := store.NewRedis(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer redisStore.Close()
		logger.Info("connected to Redis")

		notifier = store.NewRefreshNotifier(redisStore, logger.With("component", "notifier"))
		publisher = notifier
		if cfg.Delivery.RateLimit > 0 {
			limiter = engine.NewDeliveryLimiter(redisStore.Client(), cfg.Delivery.RateLimit, cfg.Delivery.RateWindow, logger)
		}
	}

	// The registry must be populated before the first post is consumed.
	reg := registry.New(pgStore, registry.Config{
		RefreshInterval: cfg.Registry.RefreshInterval,
		StoreTimeout:    cfg.Database.Timeout,
	}, logger.With("component", "registry"))
	if err := reg.Bootstrap(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	health := engine.NewHealthTracker(cfg.Delivery.SuspendAfter, logger.With("component", "health"))
	hub := ws.NewHub(logger)

	outcomes := make(chan domain.DeliveryOutcome, cfg.Delivery.NumWorkers*4)
	deliverer := worker.NewDeliverer(cfg.Delivery.Timeout, limiter, outcomes, hub, logger.With("component", "deliverer"))
	pool := worker.NewPool(cfg.Delivery.NumWorkers, deliverer, logger)
	dispatcher := worker.NewDispatcher(reg, health, pool, logger.With("component", "dispatcher"))

	stream := firehose.NewClient(firehose.Config{URL: cfg.Firehose.URL}, logger.With("component", "firehose"))
	posts := make(chan domain.Post, cfg.Firehose.EventBuffer)

	control := api.NewControlHandler(reg, publisher, cfg.Server.ControlKey, cfg.Database.Timeout, logger.With("component", "control"))
	router := api.NewRouter(api.RouterDeps{
		Secret:    cfg.Server.ControlKey,
		Control:   control,
		Dashboard: api.NewDashboardHandler(reg, health, stream, hub),
		Limiter:   api.NewIPLimiter(cfg.Server.ControlRateLimit, cfg.Server.ControlRateBurst),
		Registry:  reg,
		Stream:    stream,
		WebSocket: hub.HandleWebSocket,
	})

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	pool.Start(gctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		health.Run(gctx, outcomes)
		return nil
	})
	g.Go(func() error {
		return reg.Run(gctx)
	})
	if notifier != nil {
		g.Go(func() error {
			return notifier.Listen(gctx, func(ctx context.Context, tenantID string) {
				if err := reg.RefreshOne(ctx, tenantID); err != nil {
					logger.Error("replica tenant refresh failed", "tenant_id", tenantID, "error", err)
				}
			})
		})
	}
	g.Go(func() error {
		return dispatcher.Run(gctx, posts)
	})
	g.Go(func() error {
		return stream.Run(gctx, posts)
	})
	g.Go(func() error {
		logger.Info("server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()

	pool.Stop()
	control.Wait()
	logger.Info("final stream position", "cursor", stream.Cursor(), "malformed_frames", stream.Malformed())
	return err
}

// migrate retries until the database accepts the migrations. Store failures
// are never fatal.
func migrate(ctx context.Context, pg *store.PostgresStore, logger *slog.Logger) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if err := pg.RunMigrations(ctx); err != nil {
			logger.Warn("database migrations failed", "error", err)
			return struct{}{}, err
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(0))
	return err
}
