package engine

import (
	"sort"
	"strings"

	"github.com/Priya8975/firehose-webhooks/internal/domain"
	"github.com/Priya8975/firehose-webhooks/internal/registry"
)

// Match returns the tenants to notify for post, deduplicated and ordered by ID.
// A tenant matches when one of its phrases occurs in the post text, or when its
// target DID authored or is mentioned in the post.
func Match(snap *registry.Snapshot, post *domain.Post) []*domain.Tenant {
	if snap == nil || post == nil || snap.Len() == 0 {
		return nil
	}

	ids := make(map[string]struct{})

	if text := strings.ToLower(post.Record.Text); text != "" {
		for _, phrase := range snap.Phrases() {
			if strings.Contains(text, phrase) {
				for _, id := range snap.PhraseTenants(phrase) {
					ids[id] = struct{}{}
				}
			}
		}
	}

	for _, id := range snap.DIDTenants(post.AuthorDID) {
		ids[id] = struct{}{}
	}
	for _, did := range post.MentionedDIDs() {
		for _, id := range snap.DIDTenants(did) {
			ids[id] = struct{}{}
		}
	}

	if len(ids) == 0 {
		return nil
	}

	out := make([]*domain.Tenant, 0, len(ids))
	for id := range ids {
		if t, ok := snap.Tenant(id); ok {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
