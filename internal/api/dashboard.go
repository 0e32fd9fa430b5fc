package api

import (
	"net/http"
	"time"

	"github.com/Priya8975/firehose-webhooks/internal/domain"
	"github.com/Priya8975/firehose-webhooks/internal/engine"
	"github.com/Priya8975/firehose-webhooks/internal/registry"
	"github.com/go-chi/chi/v5"
)

type SnapshotSource interface {
	Snapshot() *registry.Snapshot
}

type HealthSource interface {
	State(tenantID string) engine.HealthStatus
	Suspended() int
}

type ClientCounter interface {
	ClientCount() int
}

// DashboardHandler serves read-only operator views of the worker's state.
type DashboardHandler struct {
	registry SnapshotSource
	health   HealthSource
	stream   StreamStatus
	hub      ClientCounter
}

func NewDashboardHandler(reg SnapshotSource, health HealthSource, stream StreamStatus, hub ClientCounter) *DashboardHandler {
	return &DashboardHandler{registry: reg, health: health, stream: stream, hub: hub}
}

type statsResponse struct {
	Tenants           int       `json:"tenants"`
	Phrases           int       `json:"phrases"`
	SuspendedTenants  int       `json:"suspended_tenants"`
	Cursor            int64     `json:"cursor"`
	MalformedFrames   int64     `json:"malformed_frames"`
	WebSocketClients  int       `json:"websocket_clients"`
	RegistryRefreshed time.Time `json:"registry_refreshed_at"`
}

// Stats returns aggregate worker state.
func (h *DashboardHandler) Stats(w http.ResponseWriter, r *http.Request) {
	snap := h.registry.Snapshot()
	resp := statsResponse{
		Tenants:           snap.Len(),
		Phrases:           len(snap.Phrases()),
		SuspendedTenants:  h.health.Suspended(),
		RegistryRefreshed: snap.BuiltAt(),
	}
	if h.stream != nil {
		resp.Cursor = h.stream.Cursor()
		resp.MalformedFrames = h.stream.Malformed()
	}
	if h.hub != nil {
		resp.WebSocketClients = h.hub.ClientCount()
	}
	respondJSON(w, http.StatusOK, resp)
}

type tenantHealth struct {
	*domain.Tenant
	Health engine.HealthStatus `json:"health"`
}

// Tenants lists every registered tenant with its delivery health.
func (h *DashboardHandler) Tenants(w http.ResponseWriter, r *http.Request) {
	tenants := h.registry.Snapshot().Tenants()

	result := make([]tenantHealth, 0, len(tenants))
	for _, t := range tenants {
		result = append(result, tenantHealth{Tenant: t, Health: h.health.State(t.ID)})
	}
	respondJSON(w, http.StatusOK, result)
}

// Tenant returns one tenant by public ID.
func (h *DashboardHandler) Tenant(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	t, ok := h.registry.Snapshot().Tenant(id)
	if !ok {
		respondError(w, http.StatusNotFound, "tenant not found")
		return
	}
	respondJSON(w, http.StatusOK, tenantHealth{Tenant: t, Health: h.health.State(id)})
}
