package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenantauth/internal/identity"
)

// storeFixture is a Store plus a way to create users its tokens can
// reference.
type storeFixture struct {
	store Store
	users identity.Store
}

func (f storeFixture) newUser(t *testing.T, tenant string) uuid.UUID {
	t.Helper()
	u, err := f.users.CreateUser(context.Background(), identity.CreateUserInput{
		TenantID:     tenant,
		Username:     "u-" + uuid.NewString()[:8],
		PasswordHash: "unused",
	})
	require.NoError(t, err)
	return u.ID
}

func newRecord(userID uuid.UUID, value string, created time.Time, ttl time.Duration) Record {
	return Record{
		ID:        uuid.New(),
		Value:     value,
		UserID:    userID,
		CreatedAt: created,
		ExpiresAt: created.Add(ttl),
	}
}

// runStoreSuite is the behaviour every Store implementation shares.
func runStoreSuite(t *testing.T, open func(t *testing.T) storeFixture) {
	ctx := context.Background()
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	t.Run("persist and find", func(t *testing.T) {
		f := open(t)
		uid := f.newUser(t, "acme")
		rec := newRecord(uid, "value-1", now, time.Hour)
		require.NoError(t, f.store.Persist(ctx, rec))

		got, err := f.store.FindActive(ctx, "value-1")
		require.NoError(t, err)
		assert.Equal(t, rec.ID, got.ID)
		assert.Equal(t, uid, got.UserID)
		assert.Equal(t, "value-1", got.Value)
		assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))
		assert.True(t, rec.ExpiresAt.Equal(got.ExpiresAt))
		assert.False(t, got.Revoked)
		assert.Nil(t, got.ReplacedBy)
		assert.Equal(t, StateActive, got.StateAt(now))
	})

	t.Run("unknown value", func(t *testing.T) {
		f := open(t)
		_, err := f.store.FindActive(ctx, "nope")
		require.ErrorIs(t, err, ErrTokenNotFound)
		_, err = f.store.FindActive(ctx, "")
		require.ErrorIs(t, err, ErrTokenNotFound)
	})

	t.Run("duplicate value is a collision", func(t *testing.T) {
		f := open(t)
		uid := f.newUser(t, "acme")
		require.NoError(t, f.store.Persist(ctx, newRecord(uid, "dup", now, time.Hour)))

		err := f.store.Persist(ctx, newRecord(uid, "dup", now, time.Hour))
		require.ErrorIs(t, err, ErrTokenCollision)
	})

	t.Run("persist rejects malformed records", func(t *testing.T) {
		f := open(t)
		uid := f.newUser(t, "acme")
		bad := newRecord(uid, "v", now, -time.Hour)
		require.Error(t, f.store.Persist(ctx, bad))

		revoked := newRecord(uid, "v", now, time.Hour)
		revoked.Revoked = true
		require.Error(t, f.store.Persist(ctx, revoked))
	})

	t.Run("find does not filter", func(t *testing.T) {
		f := open(t)
		uid := f.newUser(t, "acme")
		require.NoError(t, f.store.Persist(ctx, newRecord(uid, "old", now.Add(-2*time.Hour), time.Hour)))

		got, err := f.store.FindActive(ctx, "old")
		require.NoError(t, err)
		assert.Equal(t, StateExpired, got.StateAt(now))

		require.NoError(t, f.store.Persist(ctx, newRecord(uid, "gone", now, time.Hour)))
		ok, err := f.store.Revoke(ctx, "gone", now, ReasonLogout)
		require.NoError(t, err)
		require.True(t, ok)

		got, err = f.store.FindActive(ctx, "gone")
		require.NoError(t, err)
		assert.True(t, got.Revoked)
		require.NotNil(t, got.RevokedAt)
		assert.True(t, now.Equal(*got.RevokedAt))
		assert.Equal(t, ReasonLogout, got.RevocationReason)
		assert.Equal(t, StateRevoked, got.StateAt(now))
	})

	t.Run("revoke is compare and swap", func(t *testing.T) {
		f := open(t)
		uid := f.newUser(t, "acme")
		require.NoError(t, f.store.Persist(ctx, newRecord(uid, "cas", now, time.Hour)))

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := f.store.Revoke(ctx, "cas", now, ReasonLogout)
				assert.NoError(t, err)
				if ok {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())

		ok, err := f.store.Revoke(ctx, "missing", now, ReasonLogout)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("revoke all for user", func(t *testing.T) {
		f := open(t)
		alice := f.newUser(t, "acme")
		bob := f.newUser(t, "acme")
		for _, v := range []string{"a1", "a2", "a3"} {
			require.NoError(t, f.store.Persist(ctx, newRecord(alice, v, now, time.Hour)))
		}
		require.NoError(t, f.store.Persist(ctx, newRecord(bob, "b1", now, time.Hour)))
		ok, err := f.store.Revoke(ctx, "a3", now, ReasonLogout)
		require.NoError(t, err)
		require.True(t, ok)

		n, err := f.store.RevokeAllForUser(ctx, alice, now, ReasonLogoutAll)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		n, err = f.store.RevokeAllForUser(ctx, alice, now, ReasonLogoutAll)
		require.NoError(t, err)
		assert.Zero(t, n)

		got, err := f.store.FindActive(ctx, "a3")
		require.NoError(t, err)
		assert.Equal(t, ReasonLogout, got.RevocationReason, "earlier revocation is kept")

		got, err = f.store.FindActive(ctx, "b1")
		require.NoError(t, err)
		assert.False(t, got.Revoked)
	})

	t.Run("try revoke then persist", func(t *testing.T) {
		f := open(t)
		uid := f.newUser(t, "acme")
		require.NoError(t, f.store.Persist(ctx, newRecord(uid, "r0", now, time.Hour)))

		succ := newRecord(uid, "r1", now, time.Hour)
		ok, err := f.store.TryRevokeThenPersist(ctx, "r0", succ, now)
		require.NoError(t, err)
		require.True(t, ok)

		old, err := f.store.FindActive(ctx, "r0")
		require.NoError(t, err)
		assert.True(t, old.Revoked)
		assert.True(t, old.Rotated())
		require.NotNil(t, old.ReplacedBy)
		assert.Equal(t, succ.ID, *old.ReplacedBy)
		assert.Equal(t, ReasonRotated, old.RevocationReason)

		next, err := f.store.FindActive(ctx, "r1")
		require.NoError(t, err)
		assert.False(t, next.Revoked)

		// The retired token cannot be rotated again and nothing is inserted.
		ok, err = f.store.TryRevokeThenPersist(ctx, "r0", newRecord(uid, "r2", now, time.Hour), now)
		require.NoError(t, err)
		assert.False(t, ok)
		_, err = f.store.FindActive(ctx, "r2")
		require.ErrorIs(t, err, ErrTokenNotFound)
	})

	t.Run("try revoke then persist refuses expired", func(t *testing.T) {
		f := open(t)
		uid := f.newUser(t, "acme")
		require.NoError(t, f.store.Persist(ctx, newRecord(uid, "e0", now.Add(-time.Hour), time.Hour)))

		ok, err := f.store.TryRevokeThenPersist(ctx, "e0", newRecord(uid, "e1", now, time.Hour), now)
		require.NoError(t, err)
		assert.False(t, ok, "expires_at == now is expired")

		old, err := f.store.FindActive(ctx, "e0")
		require.NoError(t, err)
		assert.False(t, old.Revoked)
		_, err = f.store.FindActive(ctx, "e1")
		require.ErrorIs(t, err, ErrTokenNotFound)
	})

	t.Run("try revoke then persist unknown", func(t *testing.T) {
		f := open(t)
		uid := f.newUser(t, "acme")
		ok, err := f.store.TryRevokeThenPersist(ctx, "ghost", newRecord(uid, "g1", now, time.Hour), now)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("concurrent rotations have one winner", func(t *testing.T) {
		f := open(t)
		uid := f.newUser(t, "acme")
		require.NoError(t, f.store.Persist(ctx, newRecord(uid, "race", now, time.Hour)))

		const n = 16
		var wins atomic.Int32
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				succ := newRecord(uid, "race-"+uuid.NewString(), now, time.Hour)
				ok, err := f.store.TryRevokeThenPersist(ctx, "race", succ, now)
				assert.NoError(t, err)
				if ok {
					wins.Add(1)
				}
			}(i)
		}
		close(start)
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())

		n2, err := f.store.RevokeAllForUser(ctx, uid, now, ReasonLogoutAll)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n2, "exactly one successor exists")
	})

	t.Run("ping", func(t *testing.T) {
		f := open(t)
		require.NoError(t, f.store.Ping(ctx))
	})
}
