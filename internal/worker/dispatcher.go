package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/Priya8975/firehose-webhooks/internal/domain"
	"github.com/Priya8975/firehose-webhooks/internal/engine"
	"github.com/Priya8975/firehose-webhooks/internal/metrics"
	"github.com/Priya8975/firehose-webhooks/internal/registry"
	"github.com/google/uuid"
)

// SnapshotSource supplies the tenant view to match against.
type SnapshotSource interface {
	Snapshot() *registry.Snapshot
}

// Dispatcher matches each decoded post against the registry and hands one job
// per active matched tenant to the pool.
type Dispatcher struct {
	registry SnapshotSource
	health   *engine.HealthTracker
	pool     *Pool
	logger   *slog.Logger
}

func NewDispatcher(reg SnapshotSource, health *engine.HealthTracker, pool *Pool, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		registry: reg,
		health:   health,
		pool:     pool,
		logger:   logger,
	}
}

// Run dispatches posts until the channel closes or ctx ends.
func (d *Dispatcher) Run(ctx context.Context, posts <-chan domain.Post) error {
	d.logger.Info("dispatcher started")

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopping")
			return nil
		case post, ok := <-posts:
			if !ok {
				d.logger.Info("post stream closed, dispatcher stopping")
				return nil
			}
			d.dispatch(ctx, post)
		}
	}
}

// dispatch returns the number of jobs submitted for post.
func (d *Dispatcher) dispatch(ctx context.Context, post domain.Post) int {
	snap := d.registry.Snapshot()
	tenants := engine.Match(snap, &post)
	if len(tenants) == 0 {
		return 0
	}
	metrics.Matches.Add(float64(len(tenants)))

	now := time.Now()
	submitted := 0
	for _, t := range tenants {
		if !d.health.Allow(t.ID) {
			metrics.Deliveries.WithLabelValues("suspended").Inc()
			d.logger.Debug("skipping suspended tenant", "tenant_id", t.ID, "post_uri", post.URI)
			continue
		}

		signer, _ := snap.Signer(t.ID)
		job := DeliveryJob{
			ID:        uuid.NewString(),
			Tenant:    t,
			Signer:    signer,
			Post:      post,
			MatchedAt: now,
		}
		if !d.pool.Submit(ctx, job) {
			return submitted
		}
		submitted++
	}
	return submitted
}
