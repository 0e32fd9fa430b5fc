package signing

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
)

const testSeed = "9d61b19deffd5a60ba844af492ec2cc44449c5697b326919703bac031cae7f60"

func TestNewSigner_DerivesPublicID(t *testing.T) {
	s, err := NewSigner(testSeed)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}

	// RFC 8032 test vector 1
	want := "d75a980182b10ab7d54bfed3c964073a0ee172f3daa62325af021a68f707511a"
	if s.PublicID() != want {
		t.Errorf("PublicID = %q, want %q", s.PublicID(), want)
	}

	id, err := PublicIDFromSeed(strings.ToUpper(testSeed))
	if err != nil {
		t.Fatalf("PublicIDFromSeed: %v", err)
	}
	if id != want {
		t.Errorf("PublicIDFromSeed = %q, want %q", id, want)
	}
}

func TestNewSigner_RejectsBadSeeds(t *testing.T) {
	tests := []struct {
		name string
		seed string
	}{
		{name: "not hex", seed: "zz"},
		{name: "too short", seed: "aa"},
		{name: "too long", seed: testSeed + "00"},
		{name: "empty", seed: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSigner(tt.seed)
			if !errors.Is(err, ErrInvalidKey) {
				t.Errorf("expected ErrInvalidKey, got %v", err)
			}
		})
	}
}

func TestSign_RoundTrip(t *testing.T) {
	s, err := NewSigner(testSeed)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}

	body := []byte(`{"uri":"at://did:plc:abc/app.bsky.feed.post/1","post":{"text":"hello world"}}`)
	sig := s.Sign(1700000000, body)

	raw, err := hex.DecodeString(sig)
	if err != nil {
		t.Fatalf("signature is not valid hex: %v", err)
	}
	if len(raw) != ed25519.SignatureSize {
		t.Fatalf("expected %d bytes, got %d", ed25519.SignatureSize, len(raw))
	}

	if !Verify(s.PublicID(), 1700000000, body, sig) {
		t.Error("signature should verify with the public id")
	}
	if Verify(s.PublicID(), 1700000001, body, sig) {
		t.Error("signature must not verify with a different timestamp")
	}
	if Verify(s.PublicID(), 1700000000, []byte(`{}`), sig) {
		t.Error("signature must not verify with a different body")
	}
}

func TestSign_Deterministic(t *testing.T) {
	s, _ := NewSigner(testSeed)
	body := []byte(`{"event":"test"}`)

	if s.Sign(42, body) != s.Sign(42, body) {
		t.Error("ed25519 signatures should be deterministic")
	}
}

func TestVerify_RejectsMalformedInput(t *testing.T) {
	s, _ := NewSigner(testSeed)
	body := []byte(`{}`)
	sig := s.Sign(1, body)

	if Verify("nothex", 1, body, sig) {
		t.Error("malformed public id should not verify")
	}
	if Verify(s.PublicID(), 1, body, "abcd") {
		t.Error("short signature should not verify")
	}

	other, _ := NewSigner(strings.Repeat("11", 32))
	if Verify(other.PublicID(), 1, body, sig) {
		t.Error("signature should not verify under another tenant's key")
	}
}
