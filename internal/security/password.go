package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const passwordScheme = "pbkdf2_sha256"

type PBKDF2Params struct {
	Iterations int
	SaltLength int
	KeyLength  int
}

func DefaultPBKDF2Params() PBKDF2Params {
	return PBKDF2Params{
		Iterations: 210_000,
		SaltLength: 16,
		KeyLength:  32,
	}
}

// HashPassword derives a key from the password with a fresh random salt and
// returns a self-describing encoding: pbkdf2_sha256$<iterations>$<salt>$<key>.
// The iteration count travels with the hash so it can be raised for new
// hashes without invalidating old ones.
func HashPassword(password string, params PBKDF2Params) (string, error) {
	salt := make([]byte, params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key := pbkdf2.Key([]byte(password), salt, params.Iterations, params.KeyLength, sha256.New)
	return fmt.Sprintf("%s$%d$%s$%s", passwordScheme, params.Iterations, hex.EncodeToString(salt), hex.EncodeToString(key)), nil
}

// VerifyPassword re-derives the key with the parameters embedded in the
// stored encoding and compares in constant time. Any malformed stored hash
// is treated as a mismatch, never surfaced as an error.
func VerifyPassword(password, encoded string) bool {
	parts := strings.SplitN(encoded, "$", 4)
	if len(parts) != 4 || parts[0] != passwordScheme {
		return false
	}

	iterations, err := strconv.Atoi(parts[1])
	if err != nil || iterations <= 0 {
		return false
	}
	salt, err := hex.DecodeString(parts[2])
	if err != nil || len(salt) == 0 {
		return false
	}
	expected, err := hex.DecodeString(parts[3])
	if err != nil || len(expected) == 0 {
		return false
	}

	computed := pbkdf2.Key([]byte(password), salt, iterations, len(expected), sha256.New)
	return subtle.ConstantTimeCompare(expected, computed) == 1
}
