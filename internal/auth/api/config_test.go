package api

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigFromEnv_Overrides(t *testing.T) {
	t.Setenv("TENANTAUTH_TRUST_PROXY", "true")
	t.Setenv("TENANTAUTH_DEFAULT_TENANT", "acme")
	t.Setenv("TENANTAUTH_LOGIN_USER_MAX", "10")
	t.Setenv("TENANTAUTH_LOGIN_USER_WINDOW", "1h")
	t.Setenv("TENANTAUTH_REDIS_URL", "redis://localhost:6379/0")

	cfg, err := LoadConfigFromEnv()
	require.NoError(t, err)
	assert.True(t, cfg.TrustProxy)
	assert.Equal(t, "acme", cfg.DefaultTenant)
	assert.Equal(t, 10, cfg.LoginUserMax)
	assert.Equal(t, time.Hour, cfg.LoginUserWindow)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
}

func TestLoadConfigFromEnv_Malformed(t *testing.T) {
	t.Setenv("TENANTAUTH_LOGIN_IP_WINDOW", "soon")
	_, err := LoadConfigFromEnv()
	require.True(t, errors.Is(err, ErrConfig), "got %v", err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero body limit", func(c *Config) { c.MaxBodyBytes = 0 }},
		{"huge body limit", func(c *Config) { c.MaxBodyBytes = 64 << 20 }},
		{"negative max", func(c *Config) { c.LoginIPMax = -1 }},
		{"missing window", func(c *Config) { c.LoginUserWindow = 0 }},
		{"bad default tenant", func(c *Config) { c.DefaultTenant = "Acme Corp!" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			require.ErrorIs(t, cfg.Validate(), ErrConfig)
		})
	}

	cfg := DefaultConfig()
	cfg.LoginUserMax = 0
	cfg.LoginUserWindow = 0
	assert.NoError(t, cfg.Validate(), "a disabled counter needs no window")
}
