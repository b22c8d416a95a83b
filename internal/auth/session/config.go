package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"tenantauth/internal/security/token"
)

// LogoutAllPolicy decides what LogoutAll reports when nothing was revoked.
type LogoutAllPolicy string

const (
	// LogoutAllAllowEmpty treats revoking zero tokens as success.
	LogoutAllAllowEmpty LogoutAllPolicy = "allow_empty"
	// LogoutAllRequireActive reports NoActiveSessions when zero tokens were revoked.
	LogoutAllRequireActive LogoutAllPolicy = "require_active"
)

// Config is the runtime configuration of the session subsystem.
type Config struct {
	// SigningKey is the HS256 secret for access tokens.
	SigningKey string `env:"TENANTAUTH_JWT_SIGNING_KEY"`
	Issuer     string `env:"TENANTAUTH_JWT_ISSUER"`
	Audience   string `env:"TENANTAUTH_JWT_AUDIENCE"`

	AccessTokenTTL  time.Duration `env:"TENANTAUTH_ACCESS_TTL"`
	RefreshTokenTTL time.Duration `env:"TENANTAUTH_REFRESH_TTL"`

	// ClockSkew is the leeway applied to exp/iat during verification.
	ClockSkew time.Duration `env:"TENANTAUTH_CLOCK_SKEW"`

	// RefreshTokenBytes is the entropy of refresh token values (32..64).
	RefreshTokenBytes int `env:"TENANTAUTH_REFRESH_TOKEN_BYTES"`

	LogoutAllPolicy LogoutAllPolicy `env:"TENANTAUTH_LOGOUT_ALL_POLICY"`

	// RevokeAllOnReuse revokes every token of a user when an already rotated
	// token is presented again.
	RevokeAllOnReuse bool `env:"TENANTAUTH_REVOKE_ALL_ON_REUSE"`

	// TokenHMACKey keys the at-rest hash of refresh tokens. Optional.
	TokenHMACKey        string `env:"TENANTAUTH_TOKEN_HMAC_KEY"`
	RequireTokenHMACKey bool   `env:"TENANTAUTH_REQUIRE_TOKEN_HMAC_KEY"`
}

// DefaultConfig returns defaults for everything except SigningKey.
func DefaultConfig() Config {
	return Config{
		Issuer:            "tenantauth",
		Audience:          "tenantauth",
		AccessTokenTTL:    30 * time.Minute,
		RefreshTokenTTL:   7 * 24 * time.Hour,
		ClockSkew:         30 * time.Second,
		RefreshTokenBytes: 32,
		LogoutAllPolicy:   LogoutAllAllowEmpty,
	}
}

// LoadConfigFromEnv overlays TENANTAUTH_* variables on DefaultConfig and
// validates the result. Invalid configuration wraps ErrConfig.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges and required values.
func (c Config) Validate() error {
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: "+format, append([]any{ErrConfig}, args...)...)
	}

	switch {
	case len(c.SigningKey) < token.MinHMACKeyBytes:
		return bad("TENANTAUTH_JWT_SIGNING_KEY must be at least %d bytes", token.MinHMACKeyBytes)
	case strings.TrimSpace(c.Issuer) == "":
		return bad("issuer is required")
	case strings.TrimSpace(c.Audience) == "":
		return bad("audience is required")
	case c.AccessTokenTTL <= 0:
		return bad("access token ttl must be positive")
	case c.RefreshTokenTTL <= 0:
		return bad("refresh token ttl must be positive")
	case c.RefreshTokenTTL < c.AccessTokenTTL:
		return bad("refresh token ttl must not be shorter than access token ttl")
	case c.ClockSkew < 0 || c.ClockSkew > 5*time.Minute:
		return bad("clock skew must be within 0..5m")
	case c.RefreshTokenBytes < 32 || c.RefreshTokenBytes > 64:
		return bad("refresh token bytes must be within 32..64")
	}

	switch c.LogoutAllPolicy {
	case LogoutAllAllowEmpty, LogoutAllRequireActive:
	default:
		return bad("unknown logout-all policy %q", c.LogoutAllPolicy)
	}

	if _, err := c.Hasher(); err != nil {
		return bad("%v", err)
	}
	return nil
}

// Hasher builds the at-rest hasher for refresh tokens.
func (c Config) Hasher() (token.Hasher, error) {
	return token.NewHasher(c.TokenHMACKey, c.RequireTokenHMACKey)
}
