package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"tenantauth/internal/security/token"
	"tenantauth/internal/storage/sqlite"
)

// SQLiteStore implements Store over an embedded SQLite database.
// Write transactions take the database lock at BEGIN (see sqlite.DSN), which
// serializes concurrent rotations.
type SQLiteStore struct {
	db     *sqlx.DB
	hasher token.Hasher
}

// NewSQLiteStore wraps an already migrated database.
func NewSQLiteStore(db *sqlx.DB, hasher token.Hasher) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("session: nil db")
	}
	return &SQLiteStore{db: db, hasher: hasher}, nil
}

type sqliteTokenRow struct {
	ID               string         `db:"id"`
	UserID           string         `db:"user_id"`
	CreatedAt        int64          `db:"created_at"`
	ExpiresAt        int64          `db:"expires_at"`
	Revoked          int64          `db:"revoked"`
	RevokedAt        sql.NullInt64  `db:"revoked_at"`
	RevocationReason sql.NullString `db:"revocation_reason"`
	ReplacedBy       sql.NullString `db:"replaced_by"`
}

func (r sqliteTokenRow) record(value string) (Record, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return Record{}, err
	}
	uid, err := uuid.Parse(r.UserID)
	if err != nil {
		return Record{}, err
	}
	rec := Record{
		ID:               id,
		Value:            value,
		UserID:           uid,
		CreatedAt:        sqlite.FromMillis(r.CreatedAt),
		ExpiresAt:        sqlite.FromMillis(r.ExpiresAt),
		Revoked:          r.Revoked != 0,
		RevocationReason: r.RevocationReason.String,
	}
	if r.RevokedAt.Valid {
		t := sqlite.FromMillis(r.RevokedAt.Int64)
		rec.RevokedAt = &t
	}
	if r.ReplacedBy.Valid {
		succ, err := uuid.Parse(r.ReplacedBy.String)
		if err != nil {
			return Record{}, err
		}
		rec.ReplacedBy = &succ
	}
	return rec, nil
}

const sqliteInsertToken = `INSERT INTO refresh_tokens (id, token_hash, user_id, created_at, expires_at, revoked)
	VALUES (?, ?, ?, ?, ?, 0)`

func (s *SQLiteStore) insertArgs(rec Record) []any {
	return []any{
		rec.ID.String(), s.hasher.Hash(rec.Value), rec.UserID.String(),
		sqlite.Millis(rec.CreatedAt), sqlite.Millis(rec.ExpiresAt),
	}
}

// Persist inserts rec.
func (s *SQLiteStore) Persist(ctx context.Context, rec Record) error {
	const op = "persist"
	if err := checkRecord(rec); err != nil {
		return StoreError{Op: op, Err: err}
	}
	_, err := s.db.ExecContext(ctx, sqliteInsertToken, s.insertArgs(rec)...)
	return sqliteFail(op, err)
}

// FindActive loads the record for value without filtering.
func (s *SQLiteStore) FindActive(ctx context.Context, value string) (Record, error) {
	if !plausibleValue(value) {
		return Record{}, ErrTokenNotFound
	}
	var row sqliteTokenRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, user_id, created_at, expires_at, revoked, revoked_at, revocation_reason, replaced_by
		   FROM refresh_tokens
		  WHERE token_hash = ?`,
		s.hasher.Hash(value),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrTokenNotFound
	}
	if err != nil {
		return Record{}, sqliteFail("find", err)
	}
	rec, err := row.record(value)
	if err != nil {
		return Record{}, StoreError{Op: "find", Err: err}
	}
	return rec, nil
}

// Revoke is a compare-and-swap on the revoked flag.
func (s *SQLiteStore) Revoke(ctx context.Context, value string, now time.Time, reason string) (bool, error) {
	if !plausibleValue(value) {
		return false, nil
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE refresh_tokens
		    SET revoked = 1, revoked_at = ?, revocation_reason = ?
		  WHERE token_hash = ? AND revoked = 0`,
		sqlite.Millis(now), reason, s.hasher.Hash(value),
	)
	if err != nil {
		return false, sqliteFail("revoke", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, sqliteFail("revoke", err)
	}
	return n == 1, nil
}

// RevokeAllForUser revokes every unrevoked token of userID in one statement.
func (s *SQLiteStore) RevokeAllForUser(ctx context.Context, userID uuid.UUID, now time.Time, reason string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE refresh_tokens
		    SET revoked = 1, revoked_at = ?, revocation_reason = ?
		  WHERE user_id = ? AND revoked = 0`,
		sqlite.Millis(now), reason, userID.String(),
	)
	if err != nil {
		return 0, sqliteFail("revoke_all", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, sqliteFail("revoke_all", err)
	}
	return n, nil
}

// TryRevokeThenPersist inserts successor and retires value in one transaction.
func (s *SQLiteStore) TryRevokeThenPersist(ctx context.Context, value string, successor Record, now time.Time) (bool, error) {
	const op = "rotate"
	if err := checkRecord(successor); err != nil {
		return false, StoreError{Op: op, Err: err}
	}
	if !plausibleValue(value) {
		return false, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, sqliteFail(op, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, sqliteInsertToken, s.insertArgs(successor)...); err != nil {
		return false, sqliteFail(op, err)
	}

	nowMs := sqlite.Millis(now)
	res, err := tx.ExecContext(ctx,
		`UPDATE refresh_tokens
		    SET revoked = 1, revoked_at = ?, revocation_reason = ?, replaced_by = ?
		  WHERE token_hash = ? AND revoked = 0 AND expires_at > ?`,
		nowMs, ReasonRotated, successor.ID.String(), s.hasher.Hash(value), nowMs,
	)
	if err != nil {
		return false, sqliteFail(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, sqliteFail(op, err)
	}
	if n != 1 {
		return false, nil
	}

	if err := tx.Commit(); err != nil {
		return false, sqliteFail(op, err)
	}
	return true, nil
}

// Ping checks the database handle.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return StoreError{Op: "ping", Err: fmt.Errorf("%w: %w", ErrStoreUnavailable, err)}
	}
	return nil
}

func sqliteFail(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case sqlite.IsUniqueViolation(err):
		return StoreError{Op: op, Err: fmt.Errorf("%w: %w", ErrTokenCollision, err)}
	case sqlite.IsBusy(err):
		return StoreError{Op: op, Err: fmt.Errorf("%w: %w", ErrStoreUnavailable, err)}
	default:
		return StoreError{Op: op, Err: err}
	}
}
