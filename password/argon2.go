package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	argon2ID              = "argon2id"
)

// Argon2Params tunes Argon2id. Memory is in KiB.
type Argon2Params struct {
	Memory           uint32
	Time             uint32
	Parallelism      uint8
	SaltLength       uint32
	KeyLength        uint32
	MaxPasswordBytes int
}

// DefaultArgon2Params follows the OWASP baseline of 64 MiB, 3 passes.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func (p Argon2Params) validate() error {
	switch {
	case p.Memory < minMemoryKB:
		return errors.New("password: argon2 memory must be >= 8192 KiB")
	case p.Time < minTimeCost:
		return errors.New("password: argon2 time must be >= 1")
	case p.Parallelism < minParallelism:
		return errors.New("password: argon2 parallelism must be >= 1")
	case p.SaltLength < minSaltLength:
		return errors.New("password: argon2 salt length must be >= 16")
	case p.KeyLength < minKeyLength:
		return errors.New("password: argon2 key length must be >= 16")
	case p.MaxPasswordBytes < 0:
		return errors.New("password: max password bytes must be >= 0")
	}
	return nil
}

// Argon2 hashes with Argon2id and encodes in PHC format.
type Argon2 struct {
	params Argon2Params
}

// NewArgon2 validates p. A zero MaxPasswordBytes selects DefaultMaxPasswordBytes.
func NewArgon2(p Argon2Params) (*Argon2, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if p.MaxPasswordBytes == 0 {
		p.MaxPasswordBytes = DefaultMaxPasswordBytes
	}
	return &Argon2{params: p}, nil
}

func (a *Argon2) Hash(plaintext string) (string, error) {
	if err := checkLength(plaintext, a.params.MaxPasswordBytes); err != nil {
		return "", err
	}

	salt := make([]byte, a.params.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(plaintext), salt, a.params.Time, a.params.Memory, a.params.Parallelism, a.params.KeyLength)

	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2ID, argon2.Version,
		a.params.Memory, a.params.Time, a.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify recomputes the key with the parameters stored in encoded and
// compares in constant time. Oversized plaintext fails without hashing.
func (a *Argon2) Verify(plaintext, encoded string) (bool, error) {
	ph, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}
	if len(plaintext) > a.params.MaxPasswordBytes {
		return false, nil
	}
	key := argon2.IDKey([]byte(plaintext), ph.salt, ph.time, ph.memory, ph.parallelism, uint32(len(ph.key)))
	return subtle.ConstantTimeCompare(key, ph.key) == 1, nil
}

// NeedsRehash reports true for foreign hashes and for any parameter weaker
// than the current configuration.
func (a *Argon2) NeedsRehash(encoded string) (bool, error) {
	if !strings.HasPrefix(encoded, "$"+argon2ID+"$") {
		return true, nil
	}
	ph, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}
	return a.params.Memory > ph.memory ||
		a.params.Time > ph.time ||
		a.params.Parallelism > ph.parallelism ||
		a.params.KeyLength != uint32(len(ph.key)), nil
}

type phc struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

func malformed(reason string) error {
	return fmt.Errorf("%w: %s", ErrMalformedHash, reason)
}

// decodeB64 accepts both padded and unpadded standard base64.
func decodeB64(s string) ([]byte, error) {
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

func parsePHC(encoded string) (*phc, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, malformed("invalid PHC format")
	}
	if parts[1] != argon2ID {
		return nil, malformed("unsupported algorithm")
	}

	version, ok := strings.CutPrefix(parts[2], "v=")
	if !ok {
		return nil, malformed("missing argon2 version")
	}
	if v, err := strconv.Atoi(version); err != nil || v != argon2.Version {
		return nil, malformed("unsupported argon2 version")
	}

	out := &phc{}
	if err := out.parseParams(parts[3]); err != nil {
		return nil, err
	}

	salt, err := decodeB64(parts[4])
	if err != nil || len(salt) < int(minSaltLength) {
		return nil, malformed("invalid salt")
	}
	key, err := decodeB64(parts[5])
	if err != nil || len(key) == 0 {
		return nil, malformed("invalid key")
	}
	out.salt, out.key = salt, key
	return out, nil
}

func (p *phc) parseParams(part string) error {
	var seen [3]bool
	for _, pair := range strings.Split(part, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return malformed("invalid parameter entry")
		}
		switch k {
		case "m":
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil || n < uint64(minMemoryKB) {
				return malformed("invalid memory parameter")
			}
			p.memory, seen[0] = uint32(n), true
		case "t":
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil || n < uint64(minTimeCost) {
				return malformed("invalid time parameter")
			}
			p.time, seen[1] = uint32(n), true
		case "p":
			n, err := strconv.ParseUint(v, 10, 8)
			if err != nil || n < uint64(minParallelism) {
				return malformed("invalid parallelism parameter")
			}
			p.parallelism, seen[2] = uint8(n), true
		default:
			return malformed("unsupported parameter " + k)
		}
	}
	if !seen[0] || !seen[1] || !seen[2] {
		return malformed("missing parameters")
	}
	return nil
}
