package api

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"tenantauth/internal/identity"
)

// ErrConfig is returned for invalid API configuration.
var ErrConfig = errors.New("invalid api config")

// Config controls the HTTP auth surface.
type Config struct {
	// TrustProxy honours X-Forwarded-For / X-Real-IP for client addresses.
	TrustProxy   bool  `env:"TENANTAUTH_TRUST_PROXY"`
	MaxBodyBytes int64 `env:"TENANTAUTH_MAX_BODY_BYTES"`

	// DefaultTenant is used when a login names no tenant.
	DefaultTenant string `env:"TENANTAUTH_DEFAULT_TENANT"`

	LoginUserMax    int           `env:"TENANTAUTH_LOGIN_USER_MAX"`
	LoginUserWindow time.Duration `env:"TENANTAUTH_LOGIN_USER_WINDOW"`
	LoginIPMax      int           `env:"TENANTAUTH_LOGIN_IP_MAX"`
	LoginIPWindow   time.Duration `env:"TENANTAUTH_LOGIN_IP_WINDOW"`

	// RedisURL shares throttle counters across instances. Empty keeps them in process.
	RedisURL string `env:"TENANTAUTH_REDIS_URL"`
}

// DefaultConfig returns safe defaults.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:    1 << 20, // 1 MiB
		LoginUserMax:    5,
		LoginUserWindow: 15 * time.Minute,
		LoginIPMax:      20,
		LoginIPWindow:   5 * time.Minute,
	}
}

// LoadConfigFromEnv overlays TENANTAUTH_* variables on DefaultConfig.
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

// Validate checks ranges. A zero throttle max disables that counter.
func (c Config) Validate() error {
	switch {
	case c.MaxBodyBytes <= 0 || c.MaxBodyBytes > 16<<20:
		return fmt.Errorf("%w: max body bytes must be within 1..16MiB", ErrConfig)
	case c.LoginUserMax < 0 || c.LoginIPMax < 0:
		return fmt.Errorf("%w: throttle limits must not be negative", ErrConfig)
	case c.LoginUserMax > 0 && c.LoginUserWindow <= 0, c.LoginIPMax > 0 && c.LoginIPWindow <= 0:
		return fmt.Errorf("%w: throttle windows must be positive", ErrConfig)
	}
	if t := strings.TrimSpace(c.DefaultTenant); t != "" {
		if _, ok := identity.NormalizeTenant(t); !ok {
			return fmt.Errorf("%w: invalid default tenant %q", ErrConfig, t)
		}
	}
	return nil
}
