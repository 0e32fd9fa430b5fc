package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

// Refresher reloads one tenant into the registry.
type Refresher interface {
	RefreshOne(ctx context.Context, id string) error
}

// RefreshPublisher tells other worker replicas to reload a tenant.
type RefreshPublisher interface {
	Publish(ctx context.Context, tenantID string) error
}

// ControlHandler serves the registration app's "tenant changed" call.
type ControlHandler struct {
	refresher Refresher
	publisher RefreshPublisher
	secret    string
	timeout   time.Duration
	logger    *slog.Logger
	wg        sync.WaitGroup
}

// NewControlHandler builds the handler. publisher may be nil.
func NewControlHandler(refresher Refresher, publisher RefreshPublisher, secret string, timeout time.Duration, logger *slog.Logger) *ControlHandler {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &ControlHandler{
		refresher: refresher,
		publisher: publisher,
		secret:    secret,
		timeout:   timeout,
		logger:    logger,
	}
}

// Refresh authorizes the caller and issues a refresh of the tenant named in
// the path, by public ID or row key. It answers 204 once the refresh has
// been started; the outcome is only logged.
func (h *ControlHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if !authorize(w, r, h.secret) {
		h.logger.Warn("rejected control request", "remote_addr", r.RemoteAddr)
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "tenant id is required")
		return
	}

	ctx := context.WithoutCancel(r.Context())
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.refresh(ctx, id)
	}()

	w.WriteHeader(http.StatusNoContent)
}

func (h *ControlHandler) refresh(ctx context.Context, id string) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	if err := h.refresher.RefreshOne(ctx, id); err != nil {
		h.logger.Error("tenant refresh failed", "tenant_id", id, "error", err)
	}

	if h.publisher != nil {
		if err := h.publisher.Publish(ctx, id); err != nil {
			h.logger.Error("failed to broadcast tenant refresh", "tenant_id", id, "error", err)
		}
	}
}

// Wait blocks until every refresh started by Refresh has finished.
func (h *ControlHandler) Wait() {
	h.wg.Wait()
}
