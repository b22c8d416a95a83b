package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"tenantauth/internal/auth/session"
	"tenantauth/internal/identity"
	"tenantauth/internal/security/password"
	"tenantauth/internal/storage/migrations"
	"tenantauth/internal/storage/sqlite"
)

const usage = `usage: tenantauth [command]

commands:
  serve             run the HTTP server (default)
  migrate           apply database migrations
  seed -file PATH   create tenants and users from a YAML seed file
  delete-user -tenant ID -username NAME
                    remove a user and revoke its sessions
`

// Run is the CLI entrypoint used by cmd/tenantauth. It returns an error
// instead of calling os.Exit so deferred cleanup runs.
func Run(ctx context.Context, args []string, stderr io.Writer) error {
	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	log := NewLogger(cfg.LogLevel, cfg.LogFormat)

	switch cmd {
	case "serve":
		a, err := New(ctx, cfg, log, cfg.AutoMigrate)
		if err != nil {
			return err
		}
		return a.Run(ctx)

	case "migrate":
		return runMigrate(ctx, cfg, log)

	case "seed":
		fs := flag.NewFlagSet("seed", flag.ContinueOnError)
		fs.SetOutput(stderr)
		file := fs.String("file", "", "path to the YAML seed file")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if *file == "" {
			return errors.New("seed: -file is required")
		}
		return runSeed(ctx, cfg, log, *file)

	case "delete-user":
		fs := flag.NewFlagSet("delete-user", flag.ContinueOnError)
		fs.SetOutput(stderr)
		tenant := fs.String("tenant", "", "tenant id")
		username := fs.String("username", "", "username to remove")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if *tenant == "" || *username == "" {
			return errors.New("delete-user: -tenant and -username are required")
		}
		return runDeleteUser(ctx, cfg, log, *tenant, *username)

	case "help", "-h", "--help":
		_, _ = io.WriteString(stderr, usage)
		return nil

	default:
		_, _ = io.WriteString(stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func runMigrate(ctx context.Context, cfg Config, log Logger) error {
	switch cfg.StoreDriver {
	case DriverPostgres:
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return err
		}
		defer pool.Close()
		n, err := migrations.UpPostgres(ctx, pool)
		if err != nil {
			return err
		}
		log.Info("db.migrate", "driver", cfg.StoreDriver, "applied", n)
		return nil
	case DriverSQLite:
		db, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		n, err := migrations.Up(ctx, db.DB, migrations.SQLite)
		if err != nil {
			return err
		}
		log.Info("db.migrate", "driver", cfg.StoreDriver, "path", cfg.SQLitePath, "applied", n)
		return nil
	default:
		return fmt.Errorf("%w: unknown store driver %q", ErrConfig, cfg.StoreDriver)
	}
}

// withDirectory opens the stores and hands a directory over them to fn.
func withDirectory(ctx context.Context, cfg Config, log Logger, fn func(*identity.Directory) error) error {
	scfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return err
	}
	pcfg, err := password.FromEnv()
	if err != nil {
		return err
	}

	st, err := openStores(ctx, cfg, scfg, log, true)
	if err != nil {
		return err
	}
	defer st.close()

	dir, err := identity.NewDirectory(st.users, pcfg)
	if err != nil {
		return err
	}
	return fn(dir)
}

func runDeleteUser(ctx context.Context, cfg Config, log Logger, tenant, username string) error {
	return withDirectory(ctx, cfg, log, func(dir *identity.Directory) error {
		id, err := dir.Remove(ctx, tenant, username)
		if err != nil {
			return fmt.Errorf("delete-user: %w", err)
		}
		log.Info("user.deleted", "tenant_id", tenant, "user_id", id)
		return nil
	})
}

func runSeed(ctx context.Context, cfg Config, log Logger, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	defer func() { _ = f.Close() }()

	seed, err := identity.ParseSeed(f)
	if err != nil {
		return err
	}

	return withDirectory(ctx, cfg, log, func(dir *identity.Directory) error {
		rep, err := dir.Seed(ctx, seed)
		if err != nil {
			return err
		}
		log.Info("seed.done", "file", path, "created", rep.Created, "skipped", rep.Skipped)
		return nil
	})
}
