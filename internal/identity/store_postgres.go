package identity

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
)

// PostgresStore implements Store over PostgreSQL.
// The pool is owned by the caller; the store never closes it.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the schema holding the users tables (default "public").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" || !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("identity: invalid schema identifier %q", schema)
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "public"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("identity: nil pool")
	}
	return st, nil
}

// CreateUser inserts the user and its roles in one transaction.
func (s *PostgresStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	u, err := prepareUser(op, in)
	if err != nil {
		return User{}, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return User{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO `+s.table("users")+` (
		     id, tenant_id, username, username_norm, display_name, password_hash, created_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.ID, u.TenantID, u.Username, NormalizeUsername(u.Username), u.DisplayName, in.PasswordHash, u.CreatedAt,
	)
	if err != nil {
		if pgIsUniqueViolation(err) {
			return User{}, ConflictError{Op: op, Field: "username"}
		}
		return User{}, err
	}

	for _, role := range u.Roles {
		if _, err := tx.Exec(ctx,
			`INSERT INTO `+s.table("user_roles")+` (user_id, role) VALUES ($1, $2)`,
			u.ID, role,
		); err != nil {
			return User{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return User{}, err
	}
	return u, nil
}

// GetUserAuth loads a user and password hash by tenant and normalized username.
func (s *PostgresStore) GetUserAuth(ctx context.Context, tenantID, usernameNorm string) (UserAuth, error) {
	const op = "identity.GetUserAuth"

	var ua UserAuth
	err := s.pool.QueryRow(ctx,
		`SELECT u.id, u.tenant_id, u.username, u.display_name, u.created_at, u.password_hash,
		        COALESCE(array_agg(r.role ORDER BY r.role) FILTER (WHERE r.role IS NOT NULL), '{}')
		   FROM `+s.table("users")+` u
		   LEFT JOIN `+s.table("user_roles")+` r ON r.user_id = u.id
		  WHERE u.tenant_id = $1 AND u.username_norm = $2
		  GROUP BY u.id`,
		tenantID, usernameNorm,
	).Scan(
		&ua.User.ID,
		&ua.User.TenantID,
		&ua.User.Username,
		&ua.User.DisplayName,
		&ua.User.CreatedAt,
		&ua.PasswordHash,
		&ua.User.Roles,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return UserAuth{}, notFound(op)
	}
	if err != nil {
		return UserAuth{}, err
	}
	return ua, nil
}

// GetUserByID loads a user with its roles.
func (s *PostgresStore) GetUserByID(ctx context.Context, id uuid.UUID) (User, error) {
	const op = "identity.GetUserByID"

	var u User
	err := s.pool.QueryRow(ctx,
		`SELECT u.id, u.tenant_id, u.username, u.display_name, u.created_at,
		        COALESCE(array_agg(r.role ORDER BY r.role) FILTER (WHERE r.role IS NOT NULL), '{}')
		   FROM `+s.table("users")+` u
		   LEFT JOIN `+s.table("user_roles")+` r ON r.user_id = u.id
		  WHERE u.id = $1
		  GROUP BY u.id`,
		id,
	).Scan(&u.ID, &u.TenantID, &u.Username, &u.DisplayName, &u.CreatedAt, &u.Roles)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, notFound(op)
	}
	if err != nil {
		return User{}, err
	}
	return u, nil
}

// DeleteUser removes a user; refresh tokens and roles cascade.
func (s *PostgresStore) DeleteUser(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+s.table("users")+` WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound("identity.DeleteUser")
	}
	return nil
}

func (s *PostgresStore) table(name string) string {
	return pgx.Identifier{s.schema, name}.Sanitize()
}

func pgIsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// prepareUser validates and normalizes input shared by all stores.
func prepareUser(op string, in CreateUserInput) (User, error) {
	tenant, ok := NormalizeTenant(in.TenantID)
	if !ok {
		return User{}, invalid(op, "invalid tenant id")
	}
	username := strings.TrimSpace(in.Username)
	if username == "" {
		return User{}, invalid(op, "username is required")
	}
	if strings.TrimSpace(in.PasswordHash) == "" {
		return User{}, invalid(op, "password hash is required")
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}

	return User{
		ID:          uuid.New(),
		TenantID:    tenant,
		Username:    username,
		DisplayName: strings.TrimSpace(in.DisplayName),
		Roles:       normalizeRoles(in.Roles),
		CreatedAt:   now.UTC(),
	}, nil
}
