// Package signing produces and verifies ed25519 webhook signatures.
//
// A signature covers the decimal unix timestamp immediately followed by the
// request body, so a receiver can reject replays by checking the timestamp.
package signing

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidKey = errors.New("invalid signing key")

// Signer signs payloads for one tenant.
type Signer struct {
	key      ed25519.PrivateKey
	publicID string
}

// NewSigner builds a signer from a hex-encoded 32-byte ed25519 seed.
func NewSigner(seedHex string) (*Signer, error) {
	seed, err := hex.DecodeString(strings.TrimSpace(seedHex))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: seed is %d bytes, want %d", ErrInvalidKey, len(seed), ed25519.SeedSize)
	}
	key := ed25519.NewKeyFromSeed(seed)
	return &Signer{
		key:      key,
		publicID: hex.EncodeToString(key.Public().(ed25519.PublicKey)),
	}, nil
}

// PublicIDFromSeed derives the tenant's public identifier from its seed.
func PublicIDFromSeed(seedHex string) (string, error) {
	s, err := NewSigner(seedHex)
	if err != nil {
		return "", err
	}
	return s.publicID, nil
}

// PublicID returns the hex-encoded public key.
func (s *Signer) PublicID() string {
	return s.publicID
}

// Sign returns the hex signature over ts || body.
func (s *Signer) Sign(ts int64, body []byte) string {
	return hex.EncodeToString(ed25519.Sign(s.key, message(ts, body)))
}

// Verify checks a hex signature produced by Sign against a public identifier.
func Verify(publicID string, ts int64, body []byte, signatureHex string) bool {
	pub, err := hex.DecodeString(publicID)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := hex.DecodeString(signatureHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, message(ts, body), sig)
}

func message(ts int64, body []byte) []byte {
	prefix := strconv.FormatInt(ts, 10)
	msg := make([]byte, 0, len(prefix)+len(body))
	msg = append(msg, prefix...)
	return append(msg, body...)
}
