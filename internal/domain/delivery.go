package domain

import (
	"time"
)

// WebhookPayload is the JSON body sent to a tenant endpoint.
type WebhookPayload struct {
	URI       string         `json:"uri"`
	CID       string         `json:"cid"`
	Author    string         `json:"author"`
	Post      map[string]any `json:"post"`
	MatchedAt time.Time      `json:"matched_at"`
}

// Failure reasons for DeliveryOutcome.Reason.
const (
	ReasonEncoding   = "encoding_failed"
	ReasonSigningKey = "invalid_signing_key"
	ReasonRequest    = "invalid_request"
	ReasonTimeout    = "timeout"
	ReasonTransport  = "connection_failed"
	ReasonStatus     = "non_2xx_status"
)

// DeliveryOutcome is the result of one webhook call, reported to the health
// tracker. Error is detailed and may name the endpoint; Reason is a short
// failure class that can be shown to operators.
type DeliveryOutcome struct {
	DeliveryID string        `json:"delivery_id"`
	TenantID   string        `json:"tenant_id"`
	PostURI    string        `json:"post_uri"`
	Success    bool          `json:"success"`
	StatusCode int           `json:"status_code,omitempty"`
	Error      string        `json:"error,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	Duration   time.Duration `json:"duration"`
	At         time.Time     `json:"at"`
}
