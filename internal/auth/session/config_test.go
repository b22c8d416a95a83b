package session

import (
	"errors"
	"strings"
	"testing"
	"time"
)

const testSigningKey = "0123456789abcdef0123456789abcdef"

func TestLoadConfigFromEnv_MissingSigningKey(t *testing.T) {
	t.Setenv("TENANTAUTH_JWT_SIGNING_KEY", "")
	_, err := LoadConfigFromEnv()
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig on missing key, got %v", err)
	}
}

func TestLoadConfigFromEnv_ShortSigningKey(t *testing.T) {
	t.Setenv("TENANTAUTH_JWT_SIGNING_KEY", "too-short")
	_, err := LoadConfigFromEnv()
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig on short key, got %v", err)
	}
}

func TestLoadConfigFromEnv_Invalid(t *testing.T) {
	cases := map[string]string{
		"TENANTAUTH_ACCESS_TTL":          "-5m",
		"TENANTAUTH_REFRESH_TTL":         "10m",
		"TENANTAUTH_CLOCK_SKEW":          "1h",
		"TENANTAUTH_REFRESH_TOKEN_BYTES": "16",
		"TENANTAUTH_LOGOUT_ALL_POLICY":   "sometimes",
		"TENANTAUTH_TOKEN_HMAC_KEY":      "short",
	}
	for name, value := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("TENANTAUTH_JWT_SIGNING_KEY", testSigningKey)
			t.Setenv(name, value)
			_, err := LoadConfigFromEnv()
			if !errors.Is(err, ErrConfig) {
				t.Fatalf("expected ErrConfig for %s=%s, got %v", name, value, err)
			}
		})
	}
}

func TestLoadConfigFromEnv_Unparsable(t *testing.T) {
	t.Setenv("TENANTAUTH_JWT_SIGNING_KEY", testSigningKey)
	t.Setenv("TENANTAUTH_ACCESS_TTL", "soon")
	_, err := LoadConfigFromEnv()
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestLoadConfigFromEnv_RequiredHMACKey(t *testing.T) {
	t.Setenv("TENANTAUTH_JWT_SIGNING_KEY", testSigningKey)
	t.Setenv("TENANTAUTH_REQUIRE_TOKEN_HMAC_KEY", "true")
	_, err := LoadConfigFromEnv()
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig without HMAC key, got %v", err)
	}
}

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	t.Setenv("TENANTAUTH_JWT_SIGNING_KEY", testSigningKey)
	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.AccessTokenTTL != 30*time.Minute {
		t.Fatalf("access ttl = %s, want 30m", cfg.AccessTokenTTL)
	}
	if cfg.RefreshTokenTTL != 7*24*time.Hour {
		t.Fatalf("refresh ttl = %s, want 168h", cfg.RefreshTokenTTL)
	}
	if cfg.RefreshTokenBytes != 32 {
		t.Fatalf("refresh bytes = %d, want 32", cfg.RefreshTokenBytes)
	}
	if cfg.LogoutAllPolicy != LogoutAllAllowEmpty {
		t.Fatalf("policy = %q", cfg.LogoutAllPolicy)
	}
	if cfg.RevokeAllOnReuse {
		t.Fatalf("reuse revocation must default to off")
	}
}

func TestLoadConfigFromEnv_Overrides(t *testing.T) {
	t.Setenv("TENANTAUTH_JWT_SIGNING_KEY", testSigningKey)
	t.Setenv("TENANTAUTH_JWT_ISSUER", "auth.example")
	t.Setenv("TENANTAUTH_JWT_AUDIENCE", "api.example")
	t.Setenv("TENANTAUTH_ACCESS_TTL", "5m")
	t.Setenv("TENANTAUTH_REFRESH_TTL", "24h")
	t.Setenv("TENANTAUTH_REFRESH_TOKEN_BYTES", "48")
	t.Setenv("TENANTAUTH_LOGOUT_ALL_POLICY", "require_active")
	t.Setenv("TENANTAUTH_REVOKE_ALL_ON_REUSE", "true")
	t.Setenv("TENANTAUTH_TOKEN_HMAC_KEY", strings.Repeat("k", 32))

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Issuer != "auth.example" || cfg.Audience != "api.example" {
		t.Fatalf("iss/aud not applied: %+v", cfg)
	}
	if cfg.AccessTokenTTL != 5*time.Minute || cfg.RefreshTokenTTL != 24*time.Hour {
		t.Fatalf("ttls not applied: %+v", cfg)
	}
	if cfg.RefreshTokenBytes != 48 || cfg.LogoutAllPolicy != LogoutAllRequireActive || !cfg.RevokeAllOnReuse {
		t.Fatalf("options not applied: %+v", cfg)
	}
	h, err := cfg.Hasher()
	if err != nil || !h.Keyed() {
		t.Fatalf("expected keyed hasher, err=%v", err)
	}
}
