package registry

import (
	"sort"
	"time"

	"github.com/Priya8975/firehose-webhooks/internal/domain"
	"github.com/Priya8975/firehose-webhooks/internal/signing"
)

// Snapshot is an immutable view of the tenant set. It is never modified after
// it has been published by the Registry.
type Snapshot struct {
	tenants map[string]*domain.Tenant
	phrases map[string][]string
	dids    map[string][]string
	signers map[string]*signing.Signer

	// phraseList holds the keys of phrases, sorted, for scanning.
	phraseList []string
	builtAt    time.Time
}

// NewSnapshot indexes tenants by phrase and target DID. Tenants are assumed valid.
func NewSnapshot(tenants []*domain.Tenant) *Snapshot {
	byID := make(map[string]*domain.Tenant, len(tenants))
	for _, t := range tenants {
		byID[t.ID] = t
	}
	return build(byID, nil)
}

// build indexes byID. Signers in prev are reused for tenants whose ID still
// matches the signer's public key.
func build(byID map[string]*domain.Tenant, prev map[string]*signing.Signer) *Snapshot {
	s := &Snapshot{
		tenants: byID,
		phrases: make(map[string][]string),
		dids:    make(map[string][]string),
		signers: make(map[string]*signing.Signer, len(byID)),
		builtAt: time.Now(),
	}

	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		t := byID[id]
		for _, p := range t.Phrases {
			s.phrases[p] = append(s.phrases[p], id)
		}
		if t.TargetDID != "" {
			s.dids[t.TargetDID] = append(s.dids[t.TargetDID], id)
		}
		if signer, ok := prev[id]; ok && signer.PublicID() == id {
			s.signers[id] = signer
		} else if signer, err := signing.NewSigner(t.SigningKey); err == nil {
			s.signers[id] = signer
		}
	}

	s.phraseList = make([]string, 0, len(s.phrases))
	for p := range s.phrases {
		s.phraseList = append(s.phraseList, p)
	}
	sort.Strings(s.phraseList)

	return s
}

// with returns a copy of s in which the tenant with the given id is replaced
// by t, or removed when t is nil.
func (s *Snapshot) with(id string, t *domain.Tenant) *Snapshot {
	byID := make(map[string]*domain.Tenant, len(s.tenants)+1)
	for k, v := range s.tenants {
		byID[k] = v
	}
	delete(byID, id)
	if t != nil {
		byID[t.ID] = t
	}
	return build(byID, s.signers)
}

func (s *Snapshot) Len() int {
	return len(s.tenants)
}

func (s *Snapshot) Tenant(id string) (*domain.Tenant, bool) {
	t, ok := s.tenants[id]
	return t, ok
}

// Tenants returns every tenant ordered by ID.
func (s *Snapshot) Tenants() []*domain.Tenant {
	out := make([]*domain.Tenant, 0, len(s.tenants))
	for _, t := range s.tenants {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Phrases returns the distinct registered phrases. Callers must not modify it.
func (s *Snapshot) Phrases() []string {
	return s.phraseList
}

// PhraseTenants returns the IDs of tenants registered for phrase.
func (s *Snapshot) PhraseTenants(phrase string) []string {
	return s.phrases[phrase]
}

// DIDTenants returns the IDs of tenants targeting did.
func (s *Snapshot) DIDTenants(did string) []string {
	return s.dids[did]
}

// Signer returns the signer derived for the tenant when the snapshot was built.
func (s *Snapshot) Signer(id string) (*signing.Signer, bool) {
	signer, ok := s.signers[id]
	return signer, ok
}

func (s *Snapshot) BuiltAt() time.Time {
	return s.builtAt
}
