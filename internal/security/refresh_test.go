package security

import (
	"encoding/base64"
	"testing"
)

func TestDefaultTokenGenerator(t *testing.T) {
	gen := DefaultTokenGenerator{}

	token, hash, err := gen.New()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		t.Fatalf("token is not url-safe base64: %v", err)
	}
	if len(raw) != 32 {
		t.Fatalf("expected 32 bytes of entropy, got %d", len(raw))
	}

	if hash != HashRefreshToken(token) {
		t.Fatal("hash does not match HashRefreshToken of the plaintext")
	}
	if hash == token {
		t.Fatal("hash must differ from plaintext")
	}

	token2, hash2, err := gen.New()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if token == token2 || hash == hash2 {
		t.Fatal("expected distinct tokens per call")
	}
}
