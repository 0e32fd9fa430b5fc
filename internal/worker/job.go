package worker

import (
	"time"

	"github.com/Priya8975/firehose-webhooks/internal/domain"
	"github.com/Priya8975/firehose-webhooks/internal/signing"
)

// DeliveryJob is one post to be delivered to one tenant. Signer is derived
// once per registry snapshot; when it is nil the deliverer derives it from the
// tenant's key.
type DeliveryJob struct {
	ID        string
	Tenant    *domain.Tenant
	Signer    *signing.Signer
	Post      domain.Post
	MatchedAt time.Time
}

// Payload builds the JSON body sent to the tenant.
func (j DeliveryJob) Payload() domain.WebhookPayload {
	return domain.WebhookPayload{
		URI:       j.Post.URI,
		CID:       j.Post.CID,
		Author:    j.Post.AuthorDID,
		Post:      j.Post.RecordFields(),
		MatchedAt: j.MatchedAt.UTC(),
	}
}
