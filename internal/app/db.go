package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"tenantauth/internal/auth/api"
	"tenantauth/internal/auth/session"
	"tenantauth/internal/identity"
	"tenantauth/internal/storage/migrations"
	"tenantauth/internal/storage/sqlite"
)

// NewDBPool builds a pgxpool from cfg and validates connectivity.
func NewDBPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("app: parse database url: %w", err)
	}

	if cfg.DBMaxConns > 0 {
		pcfg.MaxConns = cfg.DBMaxConns
	}
	if cfg.DBMinConns >= 0 {
		pcfg.MinConns = cfg.DBMinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	if err := PingDB(ctx, pool, 3*time.Second); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// PingDB checks if we can acquire a connection within timeout.
func PingDB(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	conn.Release()
	return nil
}

// stores bundles the persistence side of the process for one driver.
type stores struct {
	users    identity.Store
	sessions session.Store
	auditor  api.Auditor
	close    func()
}

// openStores opens the configured backend. Postgres migrations run only when
// migrate is true; SQLite always migrates on open.
func openStores(ctx context.Context, cfg Config, scfg session.Config, log *slog.Logger, migrate bool) (*stores, error) {
	hasher, err := scfg.Hasher()
	if err != nil {
		return nil, err
	}

	switch cfg.StoreDriver {
	case DriverPostgres:
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if migrate {
			n, err := migrations.UpPostgres(ctx, pool)
			if err != nil {
				pool.Close()
				return nil, err
			}
			log.Info("db.migrate", "driver", cfg.StoreDriver, "applied", n)
		}
		users, err := identity.NewPostgresStore(pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		sess, err := session.NewPostgresStore(pool, hasher)
		if err != nil {
			pool.Close()
			return nil, err
		}
		log.Info("db.enabled", "driver", cfg.StoreDriver)
		return &stores{users: users, sessions: sess, auditor: api.NewPostgresAuditor(pool, log, cfg.AuditTimeout), close: pool.Close}, nil

	case DriverSQLite:
		db, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		users, err := identity.NewSQLiteStore(db)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		sess, err := session.NewSQLiteStore(db, hasher)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		log.Info("db.enabled", "driver", cfg.StoreDriver, "path", cfg.SQLitePath)
		return &stores{
			users:    users,
			sessions: sess,
			auditor:  api.LogAuditor{Log: log},
			close:    func() { _ = db.Close() },
		}, nil

	default:
		return nil, fmt.Errorf("%w: unknown store driver %q", ErrConfig, cfg.StoreDriver)
	}
}
