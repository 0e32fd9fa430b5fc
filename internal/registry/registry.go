package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Priya8975/firehose-webhooks/internal/domain"
	"github.com/Priya8975/firehose-webhooks/internal/metrics"
	"github.com/Priya8975/firehose-webhooks/internal/store"
	"github.com/cenkalti/backoff/v5"
)

// TenantSource is the durable store the registry loads tenants from.
type TenantSource interface {
	ListTenants(ctx context.Context) ([]store.TenantRecord, error)
	GetTenant(ctx context.Context, id string) (*store.TenantRecord, error)
}

type Config struct {
	RefreshInterval time.Duration
	StoreTimeout    time.Duration
}

func (c *Config) applyDefaults() {
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 5 * time.Minute
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 15 * time.Second
	}
}

// Registry holds the current tenant snapshot. Reads are lock-free; refreshes
// are serialized and publish a new snapshot by pointer swap.
type Registry struct {
	source TenantSource
	cfg    Config
	logger *slog.Logger

	current atomic.Pointer[Snapshot]
	mu      sync.Mutex
}

func New(source TenantSource, cfg Config, logger *slog.Logger) *Registry {
	cfg.applyDefaults()
	r := &Registry{source: source, cfg: cfg, logger: logger}
	r.current.Store(NewSnapshot(nil))
	return r
}

// Snapshot returns the current view. It never blocks.
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// FullRefresh rebuilds the snapshot from every stored tenant. On a store error
// the previous snapshot stays in place.
func (r *Registry) FullRefresh(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, r.cfg.StoreTimeout)
	defer cancel()

	records, err := r.source.ListTenants(ctx)
	if err != nil {
		metrics.RegistryRefreshes.WithLabelValues("full", "error").Inc()
		return fmt.Errorf("listing tenants: %w", err)
	}

	tenants := make([]*domain.Tenant, 0, len(records))
	skipped := 0
	for _, rec := range records {
		t, err := admit(rec)
		if err != nil {
			skipped++
			r.logger.Warn("skipping tenant", "error", err)
			continue
		}
		tenants = append(tenants, t)
	}

	snap := NewSnapshot(tenants)
	r.current.Store(snap)

	metrics.RegistryRefreshes.WithLabelValues("full", "ok").Inc()
	metrics.RegistryTenants.Set(float64(snap.Len()))
	r.logger.Info("registry refreshed",
		"tenants", snap.Len(),
		"phrases", len(snap.Phrases()),
		"skipped", skipped,
	)
	return nil
}

// RefreshOne reloads a single tenant, addressed by public ID or row key, and
// merges it into a copy of the current snapshot. A missing row is a no-op. A
// row that no longer validates removes the tenant.
func (r *Registry) RefreshOne(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, r.cfg.StoreTimeout)
	defer cancel()

	rec, err := r.source.GetTenant(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrTenantNotFound) {
			metrics.RegistryRefreshes.WithLabelValues("one", "missing").Inc()
			r.logger.Info("tenant not found, nothing to refresh", "tenant_id", id)
			return nil
		}
		metrics.RegistryRefreshes.WithLabelValues("one", "error").Inc()
		return fmt.Errorf("loading tenant %s: %w", id, err)
	}

	current := r.current.Load()

	t, err := admit(*rec)
	if err != nil {
		metrics.RegistryRefreshes.WithLabelValues("one", "invalid").Inc()
		if t == nil {
			r.logger.Warn("tenant row has an unusable key", "tenant_id", id, "error", err)
			return nil
		}
		if _, ok := current.Tenant(t.ID); ok {
			next := current.with(t.ID, nil)
			r.current.Store(next)
			metrics.RegistryTenants.Set(float64(next.Len()))
		}
		r.logger.Info("tenant no longer qualifies", "tenant_id", t.ID, "error", err)
		return nil
	}

	next := current.with(t.ID, t)
	r.current.Store(next)

	metrics.RegistryRefreshes.WithLabelValues("one", "ok").Inc()
	metrics.RegistryTenants.Set(float64(next.Len()))
	r.logger.Info("tenant refreshed",
		"tenant_id", t.ID,
		"phrases", len(t.Phrases),
		"target_did", t.TargetDID,
	)
	return nil
}

// admit converts and validates a stored row. The tenant is returned alongside
// a validation error when its identity could still be derived.
func admit(rec store.TenantRecord) (*domain.Tenant, error) {
	t, err := rec.Tenant()
	if err != nil {
		return nil, err
	}
	if err := t.Validate(); err != nil {
		return t, err
	}
	return t, nil
}

// Bootstrap retries FullRefresh with backoff until one succeeds or ctx ends.
func (r *Registry) Bootstrap(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if err := r.FullRefresh(ctx); err != nil {
			r.logger.Warn("initial registry load failed", "error", err)
			return struct{}{}, err
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(0))
	if err != nil {
		return fmt.Errorf("loading registry: %w", err)
	}
	return nil
}

// Run refreshes the whole registry every RefreshInterval until ctx ends.
// Failures are logged and retried on the next tick.
func (r *Registry) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.RefreshInterval)
	defer ticker.Stop()

	r.logger.Info("registry refresher started", "interval", r.cfg.RefreshInterval)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("registry refresher stopped")
			return nil
		case <-ticker.C:
			if err := r.FullRefresh(ctx); err != nil {
				r.logger.Error("periodic registry refresh failed", "error", err)
			}
		}
	}
}
