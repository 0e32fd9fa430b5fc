// Command mock-endpoints is a local webhook receiver that verifies worker
// signatures. Point a tenant's endpoint at one of its routes.
package main

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/Priya8975/firehose-webhooks/internal/domain"
	"github.com/Priya8975/firehose-webhooks/internal/signing"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// maxSkew bounds how old a signed timestamp may be.
const maxSkew = 5 * time.Minute

var (
	errMissingHeaders = errors.New("missing signature headers")
	errStale          = errors.New("timestamp outside allowed window")
	errBadSignature   = errors.New("signature does not verify")
)

type receiver struct {
	// publicID pins the expected tenant; empty trusts X-Webhook-Tenant.
	publicID string
	now      func() time.Time
	logger   *slog.Logger

	received atomic.Int64
	rejected atomic.Int64
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	port := "9090"
	if p := os.Getenv("PORT"); p != "" {
		port = p
	}

	rc := &receiver{publicID: os.Getenv("PUBLIC_ID"), now: time.Now, logger: logger}

	logger.Info("mock endpoint server starting",
		"port", port,
		"routes", []string{
			"POST /webhook/success -> 204",
			"POST /webhook/slow -> 204 after 3s",
			"POST /webhook/fail -> 500",
			"POST /webhook/forbidden -> 403",
			"GET /stats",
		},
	)

	if err := http.ListenAndServe(":"+port, rc.routes()); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func (rc *receiver) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/webhook/success", rc.handle(http.StatusNoContent, 0))
	r.Post("/webhook/slow", rc.handle(http.StatusNoContent, 3*time.Second))
	r.Post("/webhook/fail", rc.handle(http.StatusInternalServerError, 0))
	r.Post("/webhook/forbidden", rc.handle(http.StatusForbidden, 0))

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int64{
			"received": rc.received.Load(),
			"rejected": rc.rejected.Load(),
		})
	})
	return r
}

// handle verifies the request and then answers with status after delay.
func (rc *receiver) handle(status int, delay time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			http.Error(w, "reading body", http.StatusBadRequest)
			return
		}

		payload, err := rc.verify(r.Header, body)
		if err != nil {
			rc.rejected.Add(1)
			rc.logger.Warn("rejected webhook", "path", r.URL.Path, "error", err)
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}

		count := rc.received.Add(1)
		rc.logger.Info("webhook received",
			"count", count,
			"path", r.URL.Path,
			"status", status,
			"delivery_id", r.Header.Get("X-Webhook-ID"),
			"uri", payload.URI,
			"author", payload.Author,
			"text", payload.Post["text"],
		)

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		w.WriteHeader(status)
	}
}

func (rc *receiver) verify(h http.Header, body []byte) (*domain.WebhookPayload, error) {
	sig := h.Get("X-Signature-Ed25519")
	tsHeader := h.Get("X-Signature-Timestamp")
	publicID := rc.publicID
	if publicID == "" {
		publicID = h.Get("X-Webhook-Tenant")
	}
	if sig == "" || tsHeader == "" || publicID == "" {
		return nil, errMissingHeaders
	}

	ts, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return nil, errStale
	}
	if d := rc.now().Sub(time.Unix(ts, 0)); d > maxSkew || d < -maxSkew {
		return nil, errStale
	}

	if !signing.Verify(publicID, ts, body, sig) {
		return nil, errBadSignature
	}

	var payload domain.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}
