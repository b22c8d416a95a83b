package identity

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"tenantauth/internal/storage/sqlite"
)

// SQLiteStore implements Store over an embedded SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore wraps an already migrated database (see sqlite.Open).
func NewSQLiteStore(db *sqlx.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("identity: nil db")
	}
	return &SQLiteStore{db: db}, nil
}

type sqliteUserRow struct {
	ID           string `db:"id"`
	TenantID     string `db:"tenant_id"`
	Username     string `db:"username"`
	DisplayName  string `db:"display_name"`
	PasswordHash string `db:"password_hash"`
	CreatedAt    int64  `db:"created_at"`
}

func (r sqliteUserRow) user() (User, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return User{}, err
	}
	return User{
		ID:          id,
		TenantID:    r.TenantID,
		Username:    r.Username,
		DisplayName: r.DisplayName,
		CreatedAt:   sqlite.FromMillis(r.CreatedAt),
	}, nil
}

// CreateUser inserts the user and its roles in one transaction.
func (s *SQLiteStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	u, err := prepareUser(op, in)
	if err != nil {
		return User{}, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return User{}, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO users (id, tenant_id, username, username_norm, display_name, password_hash, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ID.String(), u.TenantID, u.Username, NormalizeUsername(u.Username), u.DisplayName, in.PasswordHash,
		sqlite.Millis(u.CreatedAt),
	)
	if err != nil {
		if sqlite.IsUniqueViolation(err) {
			return User{}, ConflictError{Op: op, Field: "username"}
		}
		return User{}, err
	}

	for _, role := range u.Roles {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO user_roles (user_id, role) VALUES (?, ?)`, u.ID.String(), role,
		); err != nil {
			return User{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return User{}, err
	}
	return u, nil
}

// GetUserAuth loads a user and password hash by tenant and normalized username.
func (s *SQLiteStore) GetUserAuth(ctx context.Context, tenantID, usernameNorm string) (UserAuth, error) {
	const op = "identity.GetUserAuth"

	var row sqliteUserRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, tenant_id, username, display_name, password_hash, created_at
		   FROM users
		  WHERE tenant_id = ? AND username_norm = ?`,
		tenantID, usernameNorm,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return UserAuth{}, notFound(op)
	}
	if err != nil {
		return UserAuth{}, err
	}

	u, err := s.withRoles(ctx, row)
	if err != nil {
		return UserAuth{}, err
	}
	return UserAuth{User: u, PasswordHash: row.PasswordHash}, nil
}

// GetUserByID loads a user with its roles.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id uuid.UUID) (User, error) {
	const op = "identity.GetUserByID"

	var row sqliteUserRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, tenant_id, username, display_name, password_hash, created_at
		   FROM users
		  WHERE id = ?`,
		id.String(),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, notFound(op)
	}
	if err != nil {
		return User{}, err
	}
	return s.withRoles(ctx, row)
}

// DeleteUser removes a user; refresh tokens and roles cascade.
func (s *SQLiteStore) DeleteUser(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id.String())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound("identity.DeleteUser")
	}
	return nil
}

func (s *SQLiteStore) withRoles(ctx context.Context, row sqliteUserRow) (User, error) {
	u, err := row.user()
	if err != nil {
		return User{}, err
	}
	roles := []string{}
	if err := s.db.SelectContext(ctx, &roles,
		`SELECT role FROM user_roles WHERE user_id = ? ORDER BY role`, row.ID,
	); err != nil {
		return User{}, err
	}
	u.Roles = roles
	return u, nil
}
