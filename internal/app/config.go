package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// ErrConfig is returned for invalid process configuration.
var ErrConfig = errors.New("invalid app config")

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config contains the process-level runtime configuration. Session and API
// settings live in their own packages.
type Config struct {
	HTTPAddr  string `env:"TENANTAUTH_HTTP_ADDR"`
	LogLevel  string `env:"TENANTAUTH_LOG_LEVEL"`
	LogFormat string `env:"TENANTAUTH_LOG_FORMAT"`

	ReadHeaderTimeout time.Duration `env:"TENANTAUTH_HTTP_READ_HEADER_TIMEOUT"`
	ReadTimeout       time.Duration `env:"TENANTAUTH_HTTP_READ_TIMEOUT"`
	WriteTimeout      time.Duration `env:"TENANTAUTH_HTTP_WRITE_TIMEOUT"`
	IdleTimeout       time.Duration `env:"TENANTAUTH_HTTP_IDLE_TIMEOUT"`
	ShutdownTimeout   time.Duration `env:"TENANTAUTH_SHUTDOWN_TIMEOUT"`
	MaxHeaderBytes    int           `env:"TENANTAUTH_HTTP_MAX_HEADER_BYTES"`

	// StoreDriver selects the persistence backend: postgres or sqlite.
	StoreDriver string `env:"TENANTAUTH_STORE_DRIVER"`

	DatabaseURL string `env:"TENANTAUTH_DATABASE_URL"`
	DBMaxConns  int32  `env:"TENANTAUTH_DB_MAX_CONNS"`
	DBMinConns  int32  `env:"TENANTAUTH_DB_MIN_CONNS"`

	// AutoMigrate applies Postgres migrations on serve. SQLite always migrates.
	AutoMigrate bool `env:"TENANTAUTH_DB_AUTO_MIGRATE"`

	SQLitePath string `env:"TENANTAUTH_SQLITE_PATH"`

	// AuditTimeout bounds each audit-log insert on the request path.
	AuditTimeout time.Duration `env:"TENANTAUTH_AUDIT_TIMEOUT"`

	// OTELEndpoint enables trace export when set.
	OTELEndpoint string `env:"TENANTAUTH_OTEL_ENDPOINT"`
	ServiceName  string `env:"TENANTAUTH_SERVICE_NAME"`
}

// DefaultConfig returns local-development defaults.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:  "0.0.0.0:8080",
		LogLevel:  "info",
		LogFormat: "json",

		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		MaxHeaderBytes:    1 << 20,

		StoreDriver: DriverSQLite,
		DBMaxConns:  10,
		SQLitePath:  "tenantauth.db",
		ServiceName: "tenantauth",

		AuditTimeout: 2 * time.Second,
	}
}

// LoadConfig overlays TENANTAUTH_* variables on DefaultConfig.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the selected driver has what it needs.
func (c Config) Validate() error {
	switch c.StoreDriver {
	case DriverPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("%w: TENANTAUTH_DATABASE_URL is required for the postgres driver", ErrConfig)
		}
		if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
			return fmt.Errorf("%w: db pool bounds must satisfy 0 <= min <= max, max > 0", ErrConfig)
		}
	case DriverSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return fmt.Errorf("%w: TENANTAUTH_SQLITE_PATH is required for the sqlite driver", ErrConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store driver %q", ErrConfig, c.StoreDriver)
	}

	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("%w: log format must be json or text", ErrConfig)
	}
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return fmt.Errorf("%w: http addr is required", ErrConfig)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: shutdown timeout must be positive", ErrConfig)
	}
	if c.AuditTimeout <= 0 {
		return fmt.Errorf("%w: audit timeout must be positive", ErrConfig)
	}
	return nil
}
