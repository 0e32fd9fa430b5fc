package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Priya8975/firehose-webhooks/internal/registry"
	"github.com/Priya8975/firehose-webhooks/internal/signing"
	"github.com/Priya8975/firehose-webhooks/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type oneRowSource struct {
	rec store.TenantRecord
}

func (s oneRowSource) ListTenants(ctx context.Context) ([]store.TenantRecord, error) {
	return []store.TenantRecord{s.rec}, nil
}

func (s oneRowSource) GetTenant(ctx context.Context, id string) (*store.TenantRecord, error) {
	pub, _ := signing.PublicIDFromSeed(s.rec.PrivateKey)
	if id == pub || id == s.rec.PrivateKey {
		rec := s.rec
		return &rec, nil
	}
	return nil, store.ErrTenantNotFound
}

func TestControl_OnboardsTenantWithoutFullRefresh(t *testing.T) {
	seed := fmt.Sprintf("%064x", 42)
	pub, err := signing.PublicIDFromSeed(seed)
	require.NoError(t, err)

	reg := registry.New(oneRowSource{store.TenantRecord{
		PrivateKey: seed,
		Endpoint:   "https://e.example/hook",
		Phrases:    []string{"helloworld"},
	}}, registry.Config{}, testLogger())
	control := NewControlHandler(reg, nil, testSecret, time.Second, testLogger())
	handler := NewRouter(RouterDeps{Secret: testSecret, Control: control, Registry: reg})

	send := func(auth string) int {
		req := httptest.NewRequest(http.MethodPost, "/"+pub, nil)
		req.Header.Set("Authorization", auth)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		control.Wait()
		return rec.Code
	}

	assert.Equal(t, http.StatusUnauthorized, send("wrong"))
	assert.Equal(t, 0, reg.Snapshot().Len(), "rejected call must not touch the registry")

	assert.Equal(t, http.StatusNoContent, send(testSecret))
	_, ok := reg.Snapshot().Tenant(pub)
	assert.True(t, ok)
	assert.Equal(t, []string{pub}, reg.Snapshot().PhraseTenants("helloworld"))
}
