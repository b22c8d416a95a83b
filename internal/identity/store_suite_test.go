package identity

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreSuite checks behaviour every Store implementation must share.
func runStoreSuite(t *testing.T, open func(t *testing.T) Store) {
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("create and load", func(t *testing.T) {
		s := open(t)
		u, err := s.CreateUser(ctx, CreateUserInput{
			TenantID:     " Acme ",
			Username:     " John ",
			DisplayName:  "John Doe",
			PasswordHash: "hash-1",
			Roles:        []string{"user", "admin", "user", " "},
			Now:          now,
		})
		require.NoError(t, err)
		assert.Equal(t, "acme", u.TenantID)
		assert.Equal(t, "John", u.Username)
		assert.Equal(t, []string{"admin", "user"}, u.Roles)

		ua, err := s.GetUserAuth(ctx, "acme", "john")
		require.NoError(t, err)
		assert.Equal(t, u.ID, ua.User.ID)
		assert.Equal(t, "hash-1", ua.PasswordHash)
		assert.Equal(t, []string{"admin", "user"}, ua.User.Roles)
		assert.True(t, now.Equal(ua.User.CreatedAt))

		byID, err := s.GetUserByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, "John Doe", byID.DisplayName)
		assert.Equal(t, "acme", byID.TenantID)
	})

	t.Run("no roles loads empty slice", func(t *testing.T) {
		s := open(t)
		u, err := s.CreateUser(ctx, CreateUserInput{TenantID: "acme", Username: "plain", PasswordHash: "h", Now: now})
		require.NoError(t, err)

		got, err := s.GetUserByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Empty(t, got.Roles)
	})

	t.Run("username conflict is per tenant and case-insensitive", func(t *testing.T) {
		s := open(t)
		_, err := s.CreateUser(ctx, CreateUserInput{TenantID: "acme", Username: "alice", PasswordHash: "h", Now: now})
		require.NoError(t, err)

		_, err = s.CreateUser(ctx, CreateUserInput{TenantID: "acme", Username: "ALICE", PasswordHash: "h", Now: now})
		require.Error(t, err)
		assert.True(t, IsConflict(err))

		_, err = s.CreateUser(ctx, CreateUserInput{TenantID: "globex", Username: "alice", PasswordHash: "h", Now: now})
		require.NoError(t, err)
	})

	t.Run("lookup is tenant scoped", func(t *testing.T) {
		s := open(t)
		_, err := s.CreateUser(ctx, CreateUserInput{TenantID: "acme", Username: "bob", PasswordHash: "h", Now: now})
		require.NoError(t, err)

		_, err = s.GetUserAuth(ctx, "globex", "bob")
		assert.True(t, IsNotFound(err))
	})

	t.Run("invalid input", func(t *testing.T) {
		s := open(t)
		_, err := s.CreateUser(ctx, CreateUserInput{TenantID: "Not A Tenant!", Username: "x", PasswordHash: "h"})
		assert.True(t, IsInvalidInput(err))
		_, err = s.CreateUser(ctx, CreateUserInput{TenantID: "acme", Username: "  ", PasswordHash: "h"})
		assert.True(t, IsInvalidInput(err))
		_, err = s.CreateUser(ctx, CreateUserInput{TenantID: "acme", Username: "x"})
		assert.True(t, IsInvalidInput(err))
	})

	t.Run("delete", func(t *testing.T) {
		s := open(t)
		u, err := s.CreateUser(ctx, CreateUserInput{TenantID: "acme", Username: "gone", PasswordHash: "h", Roles: []string{"r"}, Now: now})
		require.NoError(t, err)

		require.NoError(t, s.DeleteUser(ctx, u.ID))
		_, err = s.GetUserByID(ctx, u.ID)
		assert.True(t, IsNotFound(err))
		assert.True(t, IsNotFound(s.DeleteUser(ctx, u.ID)))
		assert.True(t, IsNotFound(s.DeleteUser(ctx, uuid.New())))
	})
}
