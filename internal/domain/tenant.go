package domain

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"unicode/utf8"
)

// MinPhraseLength is the shortest phrase a tenant may register.
const MinPhraseLength = 5

// ErrInvalidTenant is returned when a tenant row cannot be admitted to the registry.
var ErrInvalidTenant = errors.New("invalid tenant")

// Tenant is a registered webhook subscriber.
type Tenant struct {
	// ID is the hex-encoded ed25519 public key. Receivers verify signatures with it.
	ID string `json:"id"`

	// SigningKey is the hex-encoded ed25519 seed. It doubles as the durable row key.
	SigningKey string `json:"-"`

	// TargetDID is an optional account identifier matched against post authorship.
	TargetDID string `json:"target_did,omitempty"`

	Endpoint string   `json:"endpoint"`
	Phrases  []string `json:"phrases"`
}

// Validate reports whether the tenant may be admitted to the registry.
func (t *Tenant) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: missing public identifier", ErrInvalidTenant)
	}
	if t.TargetDID == "" && len(t.Phrases) == 0 {
		return fmt.Errorf("%w: tenant %s has no phrases and no target did", ErrInvalidTenant, t.ID)
	}
	u, err := url.Parse(t.Endpoint)
	if err != nil {
		return fmt.Errorf("%w: endpoint: %v", ErrInvalidTenant, err)
	}
	if !u.IsAbs() || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: endpoint %q is not an absolute http url", ErrInvalidTenant, t.Endpoint)
	}
	return nil
}

// NormalizePhrases lower-cases, trims and de-duplicates phrases, dropping any
// shorter than MinPhraseLength. The result is sorted.
func NormalizePhrases(phrases []string) []string {
	seen := make(map[string]struct{}, len(phrases))
	out := make([]string, 0, len(phrases))
	for _, p := range phrases {
		p = strings.ToLower(strings.TrimSpace(p))
		if utf8.RuneCountInString(p) < MinPhraseLength {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
