package password

import (
	"errors"
	"strings"
	"testing"
)

// fastConfig keeps the suite quick while staying above the parameter floor.
func fastConfig() Config {
	return Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func newHasher(t *testing.T, cfg Config) *Argon2 {
	t.Helper()
	h, err := NewArgon2(cfg)
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}
	return h
}

func TestHashAndVerify(t *testing.T) {
	hasher := newHasher(t, fastConfig())

	hash, err := hasher.Hash("P@ssw0rd-Ascii")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected PHC prefix: %s", hash)
	}

	ok, err := hasher.Verify("P@ssw0rd-Ascii", hash)
	if err != nil || !ok {
		t.Fatalf("Verify = %v, %v", ok, err)
	}
	ok, err = hasher.Verify("wrong-password", hash)
	if err != nil || ok {
		t.Fatalf("wrong password Verify = %v, %v", ok, err)
	}
}

func TestHashLengthPolicy(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxPasswordBytes = 64
	hasher := newHasher(t, cfg)

	if _, err := hasher.Hash("1234567"); !errors.Is(err, ErrTooShort) {
		t.Fatalf("7 bytes: err = %v", err)
	}
	if _, err := hasher.Hash("12345678"); err != nil {
		t.Fatalf("8 bytes should be accepted: %v", err)
	}
	if _, err := hasher.Hash(strings.Repeat("a", 65)); !errors.Is(err, ErrTooLong) {
		t.Fatalf("65 bytes: err = %v", err)
	}
	if _, err := hasher.Verify(strings.Repeat("a", 65), "$argon2id$x"); !errors.Is(err, ErrTooLong) {
		t.Fatalf("oversized Verify should fail before parsing, got %v", err)
	}
}

func TestDefaultMaxPasswordBytesApplied(t *testing.T) {
	hasher := newHasher(t, fastConfig())
	if err := hasher.CheckLength(strings.Repeat("d", DefaultMaxPasswordBytes+1)); !errors.Is(err, ErrTooLong) {
		t.Fatalf("expected password > %d bytes to be rejected", DefaultMaxPasswordBytes)
	}
	if err := hasher.CheckLength(strings.Repeat("e", DefaultMaxPasswordBytes)); err != nil {
		t.Fatalf("expected %d bytes to be accepted: %v", DefaultMaxPasswordBytes, err)
	}
}

func TestNeedsUpgrade(t *testing.T) {
	weak := newHasher(t, fastConfig())
	hash, err := weak.Hash("upgrade-me-please")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	if up, err := weak.NeedsUpgrade(hash); err != nil || up {
		t.Fatalf("same config NeedsUpgrade = %v, %v", up, err)
	}

	stronger := fastConfig()
	stronger.Time = 2
	if up, err := newHasher(t, stronger).NeedsUpgrade(hash); err != nil || !up {
		t.Fatalf("stronger config NeedsUpgrade = %v, %v", up, err)
	}
}

func TestVerifyMalformedHash(t *testing.T) {
	hasher := newHasher(t, fastConfig())
	for _, h := range []string{
		"",
		"not-a-hash",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=19$m=1,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=19$m=8192,t=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
	} {
		if _, err := hasher.Verify("whatever-password", h); !errors.Is(err, ErrMalformedHash) {
			t.Fatalf("%q: err = %v", h, err)
		}
	}
}

func TestNewArgon2RejectsWeakConfig(t *testing.T) {
	cfg := fastConfig()
	cfg.Memory = 1024
	if _, err := NewArgon2(cfg); err == nil {
		t.Fatal("expected low memory config to be rejected")
	}
}
