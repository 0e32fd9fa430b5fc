package worker

import (
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/Priya8975/firehose-webhooks/internal/domain"
	"github.com/Priya8975/firehose-webhooks/internal/signing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testTenant(t *testing.T, n int, endpoint string) *domain.Tenant {
	t.Helper()
	seed := fmt.Sprintf("%064x", n)
	id, err := signing.PublicIDFromSeed(seed)
	if err != nil {
		t.Fatalf("deriving public id: %v", err)
	}
	return &domain.Tenant{
		ID:         id,
		SigningKey: seed,
		Endpoint:   endpoint,
		Phrases:    []string{"hello world"},
	}
}

func testPost(text string) domain.Post {
	return domain.Post{
		Seq:       42,
		URI:       "at://did:plc:alice/app.bsky.feed.post/3kabc",
		CID:       "bafyreib2rxk3rh6kzwq",
		AuthorDID: "did:plc:alice",
		Record: domain.PostRecord{
			Type:      domain.PostCollection,
			Text:      text,
			CreatedAt: "2024-05-01T12:00:00Z",
		},
	}
}

func receiveOutcome(t *testing.T, ch <-chan domain.DeliveryOutcome) domain.DeliveryOutcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for delivery outcome")
		return domain.DeliveryOutcome{}
	}
}
