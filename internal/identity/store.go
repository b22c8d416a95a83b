package identity

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Principal is an authenticated actor as seen by the session layer.
// Roles are a snapshot taken when the principal was loaded.
type Principal struct {
	UserID   uuid.UUID
	TenantID string
	Roles    []string
}

// User is a tenant-scoped account.
type User struct {
	ID          uuid.UUID
	TenantID    string
	Username    string
	DisplayName string
	Roles       []string
	CreatedAt   time.Time
}

// Principal projects the user onto the claims carried by tokens.
func (u User) Principal() Principal {
	roles := make([]string, len(u.Roles))
	copy(roles, u.Roles)
	return Principal{UserID: u.ID, TenantID: u.TenantID, Roles: roles}
}

// UserAuth is a user together with its stored password hash.
type UserAuth struct {
	User         User
	PasswordHash string
}

// CreateUserInput is a fully prepared row; PasswordHash is already encoded.
type CreateUserInput struct {
	TenantID     string
	Username     string
	DisplayName  string
	PasswordHash string
	Roles        []string
	Now          time.Time
}

// Store is the user persistence boundary.
type Store interface {
	CreateUser(ctx context.Context, in CreateUserInput) (User, error)
	// GetUserAuth looks a user up by tenant and normalized username.
	GetUserAuth(ctx context.Context, tenantID, usernameNorm string) (UserAuth, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (User, error)
	// DeleteUser removes the user and, by foreign-key cascade, its roles
	// and refresh tokens. Directory.Remove and the delete-user command use it.
	DeleteUser(ctx context.Context, id uuid.UUID) error
}
