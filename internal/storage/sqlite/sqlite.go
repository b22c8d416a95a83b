// Package sqlite opens the embedded single-file store used for local
// development and tests.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"tenantauth/internal/storage/migrations"
)

// DriverName is the database/sql driver registered by modernc.org/sqlite.
const DriverName = "sqlite"

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// DSN builds the connection string for path. Writers take the lock when the
// transaction begins so concurrent compare-and-swap updates serialize instead
// of failing with SQLITE_BUSY on upgrade.
func DSN(path string) string {
	q := "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate"
	if path == MemoryPath {
		return "file::memory:?" + q
	}
	return "file:" + filepath.ToSlash(filepath.Clean(path)) + "?" + q + "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
}

// Open opens path and applies the embedded migrations.
func Open(ctx context.Context, path string) (*sqlx.DB, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("sqlite: path is required")
	}

	db, err := sqlx.Open(DriverName, DSN(path))
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	if path == MemoryPath {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	if _, err := migrations.Up(ctx, db.DB, migrations.SQLite); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// IsUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY failure.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var se *msqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

// IsBusy reports whether err is a lock timeout.
func IsBusy(err error) bool {
	var se *msqlite.Error
	if errors.As(err, &se) {
		return se.Code()&0xff == sqlite3lib.SQLITE_BUSY || se.Code()&0xff == sqlite3lib.SQLITE_LOCKED
	}
	return false
}

// Millis encodes t the way every table stores timestamps.
func Millis(t time.Time) int64 { return t.UTC().UnixMilli() }

// FromMillis decodes a stored timestamp.
func FromMillis(v int64) time.Time { return time.UnixMilli(v).UTC() }
