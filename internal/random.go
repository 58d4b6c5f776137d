package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
)

const (
	sessionIDSize   = 16
	opaqueTokenSize = 32
)

// NewSessionID returns a random 128-bit identifier, base64url without padding.
func NewSessionID() (string, error) {
	var raw [sessionIDSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// NewOpaqueToken returns a random 256-bit bearer secret, base64url without padding.
func NewOpaqueToken() (string, error) {
	var raw [opaqueTokenSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// ValidOpaqueToken reports whether token has the shape produced by NewOpaqueToken.
func ValidOpaqueToken(token string) bool {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	return err == nil && len(raw) == opaqueTokenSize
}

// HashToken returns the hex SHA-256 of token. Stores index bearer secrets by
// this hash so plaintext tokens never become keys.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// ErrEmptyToken is returned by helpers that refuse to hash an empty token.
var ErrEmptyToken = errors.New("empty token")

// HashNonEmpty is HashToken with an emptiness check.
func HashNonEmpty(token string) (string, error) {
	if token == "" {
		return "", ErrEmptyToken
	}
	return HashToken(token), nil
}
