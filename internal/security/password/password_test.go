package password

import (
	"strings"
	"testing"
)

// testConfig keeps Argon2id cheap enough for unit tests.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	return cfg
}

func TestHashAndVerify_OK(t *testing.T) {
	cfg := testConfig()

	h, err := cfg.Hash("correct horse battery")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if !strings.HasPrefix(h, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected encoding: %s", h)
	}

	ok, err := cfg.Verify(h, "correct horse battery")
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if !ok {
		t.Fatalf("expected match")
	}
}

func TestVerify_WrongPassword(t *testing.T) {
	cfg := testConfig()

	h, err := cfg.Hash("correct horse battery")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	ok, err := cfg.Verify(h, "wrong password")
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if ok {
		t.Fatalf("expected mismatch")
	}
}

func TestVerify_InvalidHash(t *testing.T) {
	cfg := testConfig()

	for _, in := range []string{
		"not-a-hash",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdHNhbHQ$a2V5a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdHNhbHQ$a2V5a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=19$m=0,t=1,p=1$c2FsdHNhbHQ$a2V5a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=19$m=8192,t=1,p=1$!!$a2V5a2V5a2V5a2V5a2V5a2V5",
	} {
		ok, err := cfg.Verify(in, "whatever")
		if err != ErrInvalidHash {
			t.Fatalf("Verify(%q): expected ErrInvalidHash, got %v", in, err)
		}
		if ok {
			t.Fatalf("Verify(%q): expected false", in)
		}
	}
}

func TestVerify_RejectsOverpricedHash(t *testing.T) {
	strong := testConfig()
	strong.Params.Iterations = 5

	h, err := strong.Hash("correct horse battery")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	// Configured limit is t=1, so t=5 exceeds twice the cost.
	if _, err := testConfig().Verify(h, "correct horse battery"); err != ErrInvalidHash {
		t.Fatalf("expected ErrInvalidHash for overpriced params, got %v", err)
	}
}

func TestValidate_MinMax(t *testing.T) {
	cfg := testConfig()
	cfg.Policy.MinLength = 12
	cfg.Policy.MaxLength = 16

	if err := cfg.Validate("short"); err != ErrPasswordTooShort {
		t.Fatalf("expected ErrPasswordTooShort, got %v", err)
	}
	if err := cfg.Validate("this password is definitely too long"); err != ErrPasswordTooLong {
		t.Fatalf("expected ErrPasswordTooLong, got %v", err)
	}
	if err := cfg.Validate("goodpassw0rd!"); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
}

func TestHashUnchecked_SkipsPolicy(t *testing.T) {
	cfg := testConfig()
	if _, err := cfg.Hash("x"); err != ErrPasswordTooShort {
		t.Fatalf("expected policy rejection, got %v", err)
	}
	h, err := cfg.HashUnchecked("x")
	if err != nil {
		t.Fatalf("HashUnchecked: %v", err)
	}
	if ok, _ := cfg.Verify(h, "x"); !ok {
		t.Fatalf("expected match")
	}
}

func TestValidate_RejectsMalformedAndBlank(t *testing.T) {
	cfg := testConfig()

	if err := cfg.Validate("abc\x00defghij"); err != ErrPasswordMalformed {
		t.Fatalf("expected ErrPasswordMalformed for NUL, got %v", err)
	}
	if err := cfg.Validate("abcdefgh\xff"); err != ErrPasswordMalformed {
		t.Fatalf("expected ErrPasswordMalformed for invalid UTF-8, got %v", err)
	}
	if err := cfg.Validate("            "); err != ErrPasswordBlank {
		t.Fatalf("expected ErrPasswordBlank, got %v", err)
	}
	if err := cfg.Validate("pässwörd"); err != nil {
		t.Fatalf("expected multi-byte runes to count once, got %v", err)
	}
}
