package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// pbkdf2Iterations is the OWASP-recommended minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	// saltLen is the random salt length in bytes.
	saltLen = 16
	// hashLen is the derived hash length in bytes.
	hashLen = 32
	// keyLen is the length of a generated API key in bytes before encoding.
	keyLen = 24
)

// NewAPIKey generates a random API key. The plaintext is shown to the
// operator once; only its hash is kept in configuration.
func NewAPIKey() (string, error) {
	raw := make([]byte, keyLen)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("identity: generating api key: %w", err)
	}
	return "bp_" + hex.EncodeToString(raw), nil
}

// HashAPIKey derives a storable hash of an API key using PBKDF2-HMAC-SHA256
// with a random salt. The result encodes its own parameters:
//
//	pbkdf2$<iterations>$<salt b64>$<hash b64>
func HashAPIKey(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("identity: api key must not be empty")
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("identity: generating salt: %w", err)
	}

	hash := pbkdf2.Key([]byte(key), salt, pbkdf2Iterations, hashLen, sha256.New)

	return fmt.Sprintf("pbkdf2$%d$%s$%s",
		pbkdf2Iterations,
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(hash),
	), nil
}

// VerifyAPIKey checks a presented key against a stored hash produced by
// HashAPIKey. The comparison is constant time.
func VerifyAPIKey(key, stored string) bool {
	parts := strings.Split(stored, "$")
	if len(parts) != 4 || parts[0] != "pbkdf2" {
		return false
	}

	iterations, err := strconv.Atoi(parts[1])
	if err != nil || iterations <= 0 {
		return false
	}
	salt, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return false
	}
	want, err := base64.StdEncoding.DecodeString(parts[3])
	if err != nil {
		return false
	}

	got := pbkdf2.Key([]byte(key), salt, iterations, len(want), sha256.New)
	return subtle.ConstantTimeCompare(got, want) == 1
}
