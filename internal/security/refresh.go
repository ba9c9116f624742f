package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// TokenGenerator produces an opaque refresh token and the hash under which
// it is persisted. Only the hash ever reaches storage.
type TokenGenerator interface {
	New() (token string, hash string, err error)
}

type DefaultTokenGenerator struct{}

func (DefaultTokenGenerator) New() (string, string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(buf)
	return token, HashRefreshToken(token), nil
}

func HashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
