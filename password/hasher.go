package password

import (
	"errors"
	"fmt"
	"strings"
)

// Algorithm names a hashing scheme.
type Algorithm string

const (
	AlgorithmBcrypt   Algorithm = "bcrypt"
	AlgorithmArgon2id Algorithm = "argon2id"
)

// DefaultMaxPasswordBytes bounds the work an attacker can force per attempt.
const DefaultMaxPasswordBytes = 1024

// MinPasswordBytes is the shortest plaintext Hash accepts.
const MinPasswordBytes = 8

var (
	ErrPasswordTooShort = errors.New("password too short")
	ErrPasswordTooLong  = errors.New("password too long")
	ErrMalformedHash    = errors.New("malformed password hash")
)

// Hasher is implemented by every algorithm in this package.
type Hasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, encoded string) (bool, error)
	NeedsRehash(encoded string) (bool, error)
}

// Config selects and tunes an algorithm.
type Config struct {
	Algorithm  Algorithm
	BcryptCost int
	Argon2     Argon2Params
}

// DefaultConfig returns bcrypt at cost 12.
func DefaultConfig() Config {
	return Config{
		Algorithm:  AlgorithmBcrypt,
		BcryptCost: 12,
		Argon2:     DefaultArgon2Params(),
	}
}

// New returns the hasher named by cfg.Algorithm.
func New(cfg Config) (Hasher, error) {
	switch Algorithm(strings.ToLower(string(cfg.Algorithm))) {
	case AlgorithmBcrypt, "":
		return NewBcrypt(cfg.BcryptCost)
	case AlgorithmArgon2id, "argon2":
		return NewArgon2(cfg.Argon2)
	default:
		return nil, fmt.Errorf("password: unsupported algorithm %q", cfg.Algorithm)
	}
}

func checkLength(plaintext string, max int) error {
	if len(plaintext) < MinPasswordBytes {
		return ErrPasswordTooShort
	}
	if len(plaintext) > max {
		return ErrPasswordTooLong
	}
	return nil
}
