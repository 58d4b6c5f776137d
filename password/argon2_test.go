package password

import (
	"errors"
	"strings"
	"testing"
)

// fastParams keeps tests quick while passing validation.
func fastParams() Argon2Params {
	return Argon2Params{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
}

func newArgon2(t *testing.T, p Argon2Params) *Argon2 {
	t.Helper()
	h, err := NewArgon2(p)
	if err != nil {
		t.Fatalf("NewArgon2: %v", err)
	}
	return h
}

func TestArgon2HashAndVerify(t *testing.T) {
	h := newArgon2(t, fastParams())

	hash, err := h.Hash("P@ssw0rd-Ascii")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected PHC prefix: %s", hash)
	}

	ok, err := h.Verify("P@ssw0rd-Ascii", hash)
	if err != nil || !ok {
		t.Fatalf("expected verify to succeed: ok=%v err=%v", ok, err)
	}
	ok, err = h.Verify("wrong-password", hash)
	if err != nil || ok {
		t.Fatalf("expected wrong password to fail cleanly: ok=%v err=%v", ok, err)
	}
}

func TestArgon2AcceptsPaddedEncoding(t *testing.T) {
	h := newArgon2(t, fastParams())
	hash, _ := h.Hash("padded-password")

	parts := strings.Split(hash, "$")
	for i := 4; i <= 5; i++ {
		for len(parts[i])%4 != 0 {
			parts[i] += "="
		}
	}
	ok, err := h.Verify("padded-password", strings.Join(parts, "$"))
	if err != nil || !ok {
		t.Fatalf("expected padded PHC to verify: ok=%v err=%v", ok, err)
	}
}

func TestArgon2NeedsRehash(t *testing.T) {
	weak := newArgon2(t, fastParams())
	hash, _ := weak.Hash("upgrade-me-please")

	strong := fastParams()
	strong.Time = 2
	if need, err := newArgon2(t, strong).NeedsRehash(hash); err != nil || !need {
		t.Fatalf("expected weaker hash to need rehash: need=%v err=%v", need, err)
	}
	if need, err := weak.NeedsRehash(hash); err != nil || need {
		t.Fatalf("expected current hash not to need rehash: need=%v err=%v", need, err)
	}
	if need, _ := weak.NeedsRehash("$2a$12$abcdefghijklmnopqrstuv"); !need {
		t.Fatal("expected bcrypt hash to need rehash under argon2")
	}
}

func TestArgon2RejectsMalformedHashes(t *testing.T) {
	h := newArgon2(t, fastParams())
	hash, _ := h.Hash("version-test-pw")

	cases := map[string]string{
		"not phc":       "not-a-phc-hash",
		"wrong version": strings.Replace(hash, "$v=19$", "$v=18$", 1),
		"low memory":    strings.Replace(hash, "m=8192", "m=64", 1),
		"extra param":   strings.Replace(hash, "p=1", "p=1,x=2", 1),
	}
	for name, bad := range cases {
		if _, err := h.Verify("version-test-pw", bad); !errors.Is(err, ErrMalformedHash) {
			t.Fatalf("%s: expected ErrMalformedHash, got %v", name, err)
		}
	}
}

func TestArgon2LengthBounds(t *testing.T) {
	p := fastParams()
	p.MaxPasswordBytes = 64
	h := newArgon2(t, p)

	if _, err := h.Hash("short"); !errors.Is(err, ErrPasswordTooShort) {
		t.Fatalf("expected ErrPasswordTooShort, got %v", err)
	}
	if _, err := h.Hash(strings.Repeat("a", 65)); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("expected ErrPasswordTooLong, got %v", err)
	}
	exact := strings.Repeat("b", 64)
	hash, err := h.Hash(exact)
	if err != nil {
		t.Fatalf("expected max-length password accepted: %v", err)
	}
	if ok, _ := h.Verify(strings.Repeat("b", 65), hash); ok {
		t.Fatal("expected oversized plaintext to fail verification")
	}

	def := newArgon2(t, fastParams())
	if _, err := def.Hash(strings.Repeat("d", DefaultMaxPasswordBytes+1)); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("expected default max applied, got %v", err)
	}
}

func TestArgon2ParamValidation(t *testing.T) {
	p := fastParams()
	p.Memory = 1024
	if _, err := NewArgon2(p); err == nil {
		t.Fatal("expected low memory to be rejected")
	}
	p = fastParams()
	p.SaltLength = 8
	if _, err := NewArgon2(p); err == nil {
		t.Fatal("expected short salt to be rejected")
	}
}
