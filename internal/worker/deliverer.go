package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Priya8975/firehose-webhooks/internal/domain"
	"github.com/Priya8975/firehose-webhooks/internal/engine"
	"github.com/Priya8975/firehose-webhooks/internal/metrics"
	"github.com/Priya8975/firehose-webhooks/internal/signing"
	ws "github.com/Priya8975/firehose-webhooks/internal/websocket"
)

// Webhook request headers
const (
	HeaderSignature = "X-Signature-Ed25519"
	HeaderTimestamp = "X-Signature-Timestamp"
	HeaderID        = "X-Webhook-ID"
	HeaderTenant    = "X-Webhook-Tenant"
)

// Feed receives live delivery events. *websocket.Hub implements it.
type Feed interface {
	Broadcast(ws.DeliveryEvent)
}

// Deliverer signs and sends webhooks, reporting every attempt on the outcomes channel.
type Deliverer struct {
	httpClient *http.Client
	timeout    time.Duration
	limiter    *engine.DeliveryLimiter
	outcomes   chan<- domain.DeliveryOutcome
	feed       Feed
	logger     *slog.Logger
}

// NewDeliverer builds a deliverer. limiter and feed may be nil.
func NewDeliverer(timeout time.Duration, limiter *engine.DeliveryLimiter, outcomes chan<- domain.DeliveryOutcome, feed Feed, logger *slog.Logger) *Deliverer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Deliverer{
		httpClient: &http.Client{},
		timeout:    timeout,
		limiter:    limiter,
		outcomes:   outcomes,
		feed:       feed,
		logger:     logger,
	}
}

// Deliver makes a single attempt. There are no retries; a failed attempt only
// counts towards the tenant's health. Rate-limited jobs are dropped unreported.
func (d *Deliverer) Deliver(ctx context.Context, job DeliveryJob) {
	if !d.limiter.Allow(ctx, job.Tenant.ID) {
		metrics.Deliveries.WithLabelValues("rate_limited").Inc()
		d.publish(ws.DeliveryEvent{
			Type:       ws.EventDeliverySkipped,
			DeliveryID: job.ID,
			TenantID:   job.Tenant.ID,
			PostURI:    job.Post.URI,
			Error:      "rate limited",
			Timestamp:  time.Now(),
		})
		return
	}

	outcome := d.send(ctx, job)

	metrics.DeliveryLatency.Observe(outcome.Duration.Seconds())
	event := ws.DeliveryEvent{
		DeliveryID: outcome.DeliveryID,
		TenantID:   outcome.TenantID,
		PostURI:    outcome.PostURI,
		StatusCode: outcome.StatusCode,
		ResponseMs: outcome.Duration.Milliseconds(),
		Error:      outcome.Reason,
		Timestamp:  outcome.At,
	}
	if outcome.Success {
		metrics.Deliveries.WithLabelValues("success").Inc()
		event.Type = ws.EventDeliverySuccess
		d.logger.Debug("delivery successful",
			"delivery_id", outcome.DeliveryID,
			"tenant_id", outcome.TenantID,
			"status_code", outcome.StatusCode,
			"response_time_ms", outcome.Duration.Milliseconds(),
		)
	} else {
		metrics.Deliveries.WithLabelValues("failed").Inc()
		event.Type = ws.EventDeliveryFailed
		d.logger.Warn("delivery failed",
			"delivery_id", outcome.DeliveryID,
			"tenant_id", outcome.TenantID,
			"endpoint", job.Tenant.Endpoint,
			"status_code", outcome.StatusCode,
			"error", outcome.Error,
			"response_time_ms", outcome.Duration.Milliseconds(),
		)
	}
	d.publish(event)

	select {
	case d.outcomes <- outcome:
	case <-ctx.Done():
	}
}

func (d *Deliverer) publish(event ws.DeliveryEvent) {
	if d.feed != nil {
		d.feed.Broadcast(event)
	}
}

func (d *Deliverer) send(ctx context.Context, job DeliveryJob) domain.DeliveryOutcome {
	start := time.Now()
	outcome := domain.DeliveryOutcome{
		DeliveryID: job.ID,
		TenantID:   job.Tenant.ID,
		PostURI:    job.Post.URI,
	}
	finish := func() domain.DeliveryOutcome {
		outcome.At = time.Now()
		outcome.Duration = outcome.At.Sub(start)
		return outcome
	}

	body, err := json.Marshal(job.Payload())
	if err != nil {
		outcome.Error = fmt.Sprintf("encoding payload: %v", err)
		outcome.Reason = domain.ReasonEncoding
		return finish()
	}

	signer := job.Signer
	if signer == nil {
		signer, err = signing.NewSigner(job.Tenant.SigningKey)
		if err != nil {
			outcome.Error = fmt.Sprintf("loading signing key: %v", err)
			outcome.Reason = domain.ReasonSigningKey
			return finish()
		}
	}
	ts := time.Now().Unix()

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.Tenant.Endpoint, bytes.NewReader(body))
	if err != nil {
		outcome.Error = fmt.Sprintf("creating request: %v", err)
		outcome.Reason = domain.ReasonRequest
		return finish()
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSignature, signer.Sign(ts, body))
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(HeaderID, job.ID)
	req.Header.Set(HeaderTenant, job.Tenant.ID)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		outcome.Error = fmt.Sprintf("request failed: %v", err)
		outcome.Reason = domain.ReasonTransport
		if errors.Is(err, context.DeadlineExceeded) {
			outcome.Reason = domain.ReasonTimeout
		}
		return finish()
	}
	defer resp.Body.Close()

	// Read at most 1KB so a large response cannot hold the worker.
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	outcome.StatusCode = resp.StatusCode
	outcome.Success = resp.StatusCode >= 200 && resp.StatusCode < 300
	if !outcome.Success {
		outcome.Error = fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
		outcome.Reason = domain.ReasonStatus
	}
	return finish()
}
