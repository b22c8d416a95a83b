package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sethvargo/go-retry"

	"tenantauth/internal/security/token"
)

// PostgresStore implements Store over PostgreSQL.
// The pool is owned by the caller.
type PostgresStore struct {
	pool   *pgxpool.Pool
	hasher token.Hasher
	schema string

	maxRetries uint64
	retryBase  time.Duration
}

// PostgresOption configures a PostgresStore.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the schema holding refresh_tokens (default "public").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("session: invalid schema identifier %q", schema)
		}
		s.schema = schema
		return nil
	}
}

// WithRetry bounds how often a transient failure is retried and the first
// backoff interval. max=0 disables retries.
func WithRetry(max uint64, base time.Duration) PostgresOption {
	return func(s *PostgresStore) error {
		if base <= 0 {
			return errors.New("session: retry base must be positive")
		}
		s.maxRetries = max
		s.retryBase = base
		return nil
	}
}

// NewPostgresStore builds a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, hasher token.Hasher, opts ...PostgresOption) (*PostgresStore, error) {
	s := &PostgresStore{
		pool:       pool,
		hasher:     hasher,
		schema:     "public",
		maxRetries: 3,
		retryBase:  25 * time.Millisecond,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.pool == nil {
		return nil, errors.New("session: nil pool")
	}
	return s, nil
}

// Persist inserts rec.
func (s *PostgresStore) Persist(ctx context.Context, rec Record) error {
	const op = "persist"
	if err := checkRecord(rec); err != nil {
		return StoreError{Op: op, Err: err}
	}
	err := s.do(ctx, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, s.insertSQL(), s.insertArgs(rec)...)
		return err
	})
	return s.fail(op, err)
}

// FindActive loads the record for value without filtering.
func (s *PostgresStore) FindActive(ctx context.Context, value string) (Record, error) {
	const op = "find"
	if !plausibleValue(value) {
		return Record{}, ErrTokenNotFound
	}
	hash := s.hasher.Hash(value)

	rec, err := retry.DoValue(ctx, s.backoff(), func(ctx context.Context) (Record, error) {
		var r Record
		err := s.pool.QueryRow(ctx,
			`SELECT id, user_id, created_at, expires_at, revoked, revoked_at, revocation_reason, replaced_by
			   FROM `+s.table()+`
			  WHERE token_hash = $1`,
			hash,
		).Scan(&r.ID, &r.UserID, &r.CreatedAt, &r.ExpiresAt, &r.Revoked, &r.RevokedAt, pgNullString{&r.RevocationReason}, &r.ReplacedBy)
		return r, retryable(err)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrTokenNotFound
	}
	if err != nil {
		return Record{}, s.fail(op, err)
	}
	rec.Value = value
	return utcRecord(rec), nil
}

// Revoke is a compare-and-swap on the revoked flag.
func (s *PostgresStore) Revoke(ctx context.Context, value string, now time.Time, reason string) (bool, error) {
	const op = "revoke"
	if !plausibleValue(value) {
		return false, nil
	}
	hash := s.hasher.Hash(value)

	n, err := retry.DoValue(ctx, s.backoff(), func(ctx context.Context) (int64, error) {
		tag, err := s.pool.Exec(ctx,
			`UPDATE `+s.table()+`
			    SET revoked = TRUE, revoked_at = $2, revocation_reason = $3
			  WHERE token_hash = $1 AND NOT revoked`,
			hash, now.UTC(), reason,
		)
		return tag.RowsAffected(), retryable(err)
	})
	if err != nil {
		return false, s.fail(op, err)
	}
	return n == 1, nil
}

// RevokeAllForUser revokes every unrevoked token of userID in one statement.
func (s *PostgresStore) RevokeAllForUser(ctx context.Context, userID uuid.UUID, now time.Time, reason string) (int64, error) {
	const op = "revoke_all"
	n, err := retry.DoValue(ctx, s.backoff(), func(ctx context.Context) (int64, error) {
		tag, err := s.pool.Exec(ctx,
			`UPDATE `+s.table()+`
			    SET revoked = TRUE, revoked_at = $2, revocation_reason = $3
			  WHERE user_id = $1 AND NOT revoked`,
			userID, now.UTC(), reason,
		)
		return tag.RowsAffected(), retryable(err)
	})
	if err != nil {
		return 0, s.fail(op, err)
	}
	return n, nil
}

// TryRevokeThenPersist inserts successor and retires value in one
// transaction. The conditional UPDATE is the serialization point: a
// concurrent rotation blocks on the row lock, re-evaluates the predicate
// after the winner commits, matches nothing and rolls back.
func (s *PostgresStore) TryRevokeThenPersist(ctx context.Context, value string, successor Record, now time.Time) (bool, error) {
	const op = "rotate"
	if err := checkRecord(successor); err != nil {
		return false, StoreError{Op: op, Err: err}
	}
	if !plausibleValue(value) {
		return false, nil
	}
	hash := s.hasher.Hash(value)

	ok, err := retry.DoValue(ctx, s.backoff(), func(ctx context.Context) (bool, error) {
		ok, err := s.rotateTx(ctx, hash, successor, now.UTC())
		return ok, retryable(err)
	})
	if err != nil {
		return false, s.fail(op, err)
	}
	return ok, nil
}

func (s *PostgresStore) rotateTx(ctx context.Context, hash string, successor Record, now time.Time) (bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, s.insertSQL(), s.insertArgs(successor)...); err != nil {
		return false, err
	}

	tag, err := tx.Exec(ctx,
		`UPDATE `+s.table()+`
		    SET revoked = TRUE, revoked_at = $2, revocation_reason = $3, replaced_by = $4
		  WHERE token_hash = $1 AND NOT revoked AND expires_at > $2`,
		hash, now, ReasonRotated, successor.ID,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return StoreError{Op: "ping", Err: fmt.Errorf("%w: %w", ErrStoreUnavailable, err)}
	}
	return nil
}

func (s *PostgresStore) insertSQL() string {
	return `INSERT INTO ` + s.table() + ` (
	            id, token_hash, user_id, created_at, expires_at, revoked
	        ) VALUES ($1, $2, $3, $4, $5, FALSE)`
}

func (s *PostgresStore) insertArgs(rec Record) []any {
	return []any{rec.ID, s.hasher.Hash(rec.Value), rec.UserID, rec.CreatedAt.UTC(), rec.ExpiresAt.UTC()}
}

func (s *PostgresStore) table() string {
	return pgx.Identifier{s.schema, "refresh_tokens"}.Sanitize()
}

func (s *PostgresStore) backoff() retry.Backoff {
	return retry.WithMaxRetries(s.maxRetries, retry.WithJitterPercent(20, retry.NewExponential(s.retryBase)))
}

func (s *PostgresStore) do(ctx context.Context, fn func(context.Context) error) error {
	return retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
		return retryable(fn(ctx))
	})
}

func (s *PostgresStore) fail(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case pgIsUniqueViolation(err):
		return StoreError{Op: op, Err: fmt.Errorf("%w: %w", ErrTokenCollision, err)}
	case pgTransient(err):
		return StoreError{Op: op, Err: fmt.Errorf("%w: %w", ErrStoreUnavailable, err)}
	default:
		return StoreError{Op: op, Err: err}
	}
}

func retryable(err error) error {
	if err != nil && pgTransient(err) {
		return retry.RetryableError(err)
	}
	return err
}

// pgTransient reports failures that left no side effects and may succeed on
// a second attempt.
func pgTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "57P03", "53300":
			// serialization_failure, deadlock_detected, cannot_connect_now, too_many_connections
			return true
		}
		return false
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	return pgconn.SafeToRetry(err)
}

func pgIsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// pgNullString scans a nullable text column into a plain string.
type pgNullString struct{ dst *string }

func (n pgNullString) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*n.dst = ""
	case string:
		*n.dst = v
	case []byte:
		*n.dst = string(v)
	default:
		return fmt.Errorf("session: cannot scan %T into string", src)
	}
	return nil
}

func checkRecord(rec Record) error {
	switch {
	case rec.ID == uuid.Nil:
		return errors.New("record id is required")
	case rec.UserID == uuid.Nil:
		return errors.New("record user id is required")
	case rec.Value == "":
		return errors.New("record value is required")
	case !rec.ExpiresAt.After(rec.CreatedAt):
		return errors.New("record must expire after it is created")
	case rec.Revoked:
		return errors.New("record must not be revoked when persisted")
	}
	return nil
}

func plausibleValue(v string) bool {
	return v != "" && len(v) <= maxRefreshValueLen
}

func utcRecord(r Record) Record {
	r.CreatedAt = r.CreatedAt.UTC()
	r.ExpiresAt = r.ExpiresAt.UTC()
	if r.RevokedAt != nil {
		t := r.RevokedAt.UTC()
		r.RevokedAt = &t
	}
	return r
}
