package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"tenantauth/internal/security/password"
)

// Directory verifies credentials and resolves principals.
type Directory struct {
	store Store
	pw    password.Config
	now   func() time.Time

	// dummyHash is verified when the user does not exist so that unknown
	// usernames cost the same as wrong passwords.
	dummyHash string
}

// NewDirectory builds a Directory. It hashes a throwaway value once up front.
func NewDirectory(store Store, pw password.Config) (*Directory, error) {
	if store == nil {
		return nil, errors.New("identity: nil store")
	}
	dummy, err := pw.HashUnchecked("tenantauth-timing-equalizer")
	if err != nil {
		return nil, err
	}
	return &Directory{store: store, pw: pw, now: time.Now, dummyHash: dummy}, nil
}

// Authenticate checks username and password inside tenant.
// Every credential failure, including an unknown tenant or user, is
// ErrInvalidCredentials; other errors are store failures.
func (d *Directory) Authenticate(ctx context.Context, tenant, username, pass string) (Principal, error) {
	const op = "identity.Authenticate"

	tenantID, ok := NormalizeTenant(tenant)
	norm := NormalizeUsername(username)
	if !ok || norm == "" || pass == "" {
		d.burn(pass)
		return Principal{}, OpError{Op: op, Kind: ErrInvalidCredentials}
	}

	ua, err := d.store.GetUserAuth(ctx, tenantID, norm)
	if IsNotFound(err) {
		d.burn(pass)
		return Principal{}, OpError{Op: op, Kind: ErrInvalidCredentials}
	}
	if err != nil {
		return Principal{}, err
	}

	match, err := d.pw.Verify(ua.PasswordHash, pass)
	if err != nil {
		return Principal{}, OpError{Op: op, Kind: ErrInvalidCredentials, Msg: "stored hash unusable"}
	}
	if !match {
		return Principal{}, OpError{Op: op, Kind: ErrInvalidCredentials}
	}
	return ua.User.Principal(), nil
}

func (d *Directory) burn(pass string) {
	_, _ = d.pw.Verify(d.dummyHash, pass)
}

// PrincipalByID reloads the current roles for a user.
func (d *Directory) PrincipalByID(ctx context.Context, id uuid.UUID) (Principal, error) {
	u, err := d.store.GetUserByID(ctx, id)
	if err != nil {
		return Principal{}, err
	}
	return u.Principal(), nil
}

// RegisterInput is a plaintext registration request.
type RegisterInput struct {
	TenantID    string
	Username    string
	DisplayName string
	Password    string
	Roles       []string
}

// Register hashes the password under policy and creates the user.
func (d *Directory) Register(ctx context.Context, in RegisterInput) (User, error) {
	const op = "identity.Register"

	if strings.TrimSpace(in.Username) == "" {
		return User{}, invalid(op, "username is required")
	}
	hash, err := d.pw.Hash(in.Password)
	if err != nil {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: err.Error()}
	}
	return d.store.CreateUser(ctx, CreateUserInput{
		TenantID:     in.TenantID,
		Username:     in.Username,
		DisplayName:  in.DisplayName,
		PasswordHash: hash,
		Roles:        in.Roles,
		Now:          d.now(),
	})
}

// Remove deletes the user named username in tenant. Refresh tokens go with
// it, so every open session for the user stops rotating.
func (d *Directory) Remove(ctx context.Context, tenant, username string) (uuid.UUID, error) {
	const op = "identity.Remove"

	tenantID, ok := NormalizeTenant(tenant)
	norm := NormalizeUsername(username)
	if !ok || norm == "" {
		return uuid.Nil, invalid(op, "tenant and username are required")
	}
	ua, err := d.store.GetUserAuth(ctx, tenantID, norm)
	if err != nil {
		return uuid.Nil, err
	}
	if err := d.store.DeleteUser(ctx, ua.User.ID); err != nil {
		return uuid.Nil, err
	}
	return ua.User.ID, nil
}
