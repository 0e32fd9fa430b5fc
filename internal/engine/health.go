package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Priya8975/firehose-webhooks/internal/domain"
	"github.com/Priya8975/firehose-webhooks/internal/metrics"
)

// Tenant delivery states
const (
	StateActive    = "active"
	StateSuspended = "suspended"
)

// DefaultSuspendAfter is how long a tenant may fail continuously before
// deliveries to it are paused, and how long the pause lasts.
const DefaultSuspendAfter = 2 * time.Hour

type healthRecord struct {
	mu             sync.Mutex
	lastSuccessAt  time.Time
	failingSince   time.Time
	suspendedUntil time.Time
}

// HealthStatus is a point-in-time copy of a tenant's delivery health.
type HealthStatus struct {
	State          string    `json:"state"`
	LastSuccessAt  time.Time `json:"last_success_at,omitzero"`
	FailingSince   time.Time `json:"failing_since,omitzero"`
	SuspendedUntil time.Time `json:"suspended_until,omitzero"`
}

// HealthTracker suspends tenants whose endpoints have failed for longer than
// the threshold. Records live in memory and are created on first outcome.
//
// A failure streak starts at the first failure after the last success, or at
// tracker start for a tenant that has never succeeded. A
// failure arriving more than threshold after the streak started suspends the
// tenant for threshold, and the streak restarts at the suspension. Once the
// suspension has elapsed the next delivery goes ahead: success clears the
// record and failure suspends again.
type HealthTracker struct {
	threshold time.Duration
	now       func() time.Time
	started   time.Time
	logger    *slog.Logger

	mu      sync.RWMutex
	records map[string]*healthRecord
}

func NewHealthTracker(threshold time.Duration, logger *slog.Logger) *HealthTracker {
	if threshold <= 0 {
		threshold = DefaultSuspendAfter
	}
	return &HealthTracker{
		threshold: threshold,
		now:       time.Now,
		started:   time.Now(),
		logger:    logger,
		records:   make(map[string]*healthRecord),
	}
}

func (h *HealthTracker) lookup(tenantID string) *healthRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.records[tenantID]
}

func (h *HealthTracker) lookupOrCreate(tenantID string) *healthRecord {
	if r := h.lookup(tenantID); r != nil {
		return r
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.records[tenantID]
	if !ok {
		r = &healthRecord{}
		h.records[tenantID] = r
	}
	return r
}

// Allow reports whether a delivery to tenantID may be attempted now.
func (h *HealthTracker) Allow(tenantID string) bool {
	r := h.lookup(tenantID)
	if r == nil {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return !h.now().Before(r.suspendedUntil)
}

// Record applies one delivery outcome. It returns true when the outcome
// suspended the tenant.
func (h *HealthTracker) Record(o domain.DeliveryOutcome) bool {
	at := o.At
	if at.IsZero() {
		at = h.now()
	}

	r := h.lookupOrCreate(o.TenantID)
	r.mu.Lock()
	defer r.mu.Unlock()

	if o.Success {
		if !r.failingSince.IsZero() {
			h.logger.Info("tenant recovered",
				"tenant_id", o.TenantID,
				"failing_for", at.Sub(r.failingSince),
			)
		}
		r.lastSuccessAt = at
		r.failingSince = time.Time{}
		r.suspendedUntil = time.Time{}
		return false
	}

	if r.failingSince.IsZero() {
		r.failingSince = at
		if r.lastSuccessAt.IsZero() && h.started.Before(at) {
			r.failingSince = h.started
		}
	}

	expired := !r.suspendedUntil.IsZero() && !at.Before(r.suspendedUntil)
	if !expired && at.Sub(r.failingSince) <= h.threshold {
		return false
	}

	r.failingSince = at
	r.suspendedUntil = at.Add(h.threshold)
	metrics.Suspensions.Inc()
	h.logger.Warn("tenant suspended",
		"tenant_id", o.TenantID,
		"suspended_until", r.suspendedUntil,
		"status_code", o.StatusCode,
		"last_error", o.Error,
	)
	return true
}

// State returns the current health of tenantID. Unknown tenants are active.
func (h *HealthTracker) State(tenantID string) HealthStatus {
	r := h.lookup(tenantID)
	if r == nil {
		return HealthStatus{State: StateActive}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s := HealthStatus{
		State:          StateActive,
		LastSuccessAt:  r.lastSuccessAt,
		FailingSince:   r.failingSince,
		SuspendedUntil: r.suspendedUntil,
	}
	if h.now().Before(r.suspendedUntil) {
		s.State = StateSuspended
	}
	return s
}

// Suspended returns the number of tenants currently suspended.
func (h *HealthTracker) Suspended() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	now := h.now()
	n := 0
	for _, r := range h.records {
		r.mu.Lock()
		if now.Before(r.suspendedUntil) {
			n++
		}
		r.mu.Unlock()
	}
	return n
}

// Run consumes outcomes until the channel closes or ctx ends.
func (h *HealthTracker) Run(ctx context.Context, outcomes <-chan domain.DeliveryOutcome) {
	for {
		select {
		case <-ctx.Done():
			return
		case o, ok := <-outcomes:
			if !ok {
				return
			}
			h.Record(o)
		}
	}
}
