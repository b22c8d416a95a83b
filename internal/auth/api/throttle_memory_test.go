package api

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryThrottle_SlidingWindow(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
	cfg := DefaultConfig()
	cfg.LoginUserMax = 3
	cfg.LoginUserWindow = time.Minute
	cfg.LoginIPMax = 0
	th := NewMemoryThrottle(cfg, clock.Now)
	ctx := context.Background()
	k := ThrottleKeys{Tenant: "acme", Username: "john", IP: "10.0.0.1"}

	for i := 0; i < 3; i++ {
		require.NoError(t, th.Fail(ctx, k))
		clock.Advance(10 * time.Second)
	}

	blocked, retryAfter, err := th.Blocked(ctx, k)
	require.NoError(t, err)
	assert.True(t, blocked)
	assert.Equal(t, 30*time.Second, retryAfter, "oldest failure leaves the window first")

	clock.Advance(31 * time.Second)
	blocked, _, err = th.Blocked(ctx, k)
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestMemoryThrottle_ResetKeepsIPCounter(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
	cfg := DefaultConfig()
	cfg.LoginUserMax = 2
	cfg.LoginIPMax = 2
	th := NewMemoryThrottle(cfg, clock.Now)
	ctx := context.Background()
	k := ThrottleKeys{Tenant: "acme", Username: "john", IP: "10.0.0.1"}

	require.NoError(t, th.Fail(ctx, k))
	require.NoError(t, th.Fail(ctx, k))
	require.NoError(t, th.Reset(ctx, k))

	blocked, _, err := th.Blocked(ctx, k)
	require.NoError(t, err)
	assert.True(t, blocked, "address counter survives a successful login")

	other := ThrottleKeys{Tenant: "acme", Username: "john", IP: "10.0.0.2"}
	blocked, _, err = th.Blocked(ctx, other)
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestMemoryThrottle_DisabledCounters(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LoginUserMax = 0
	cfg.LoginIPMax = 0
	th := NewMemoryThrottle(cfg, nil)
	k := ThrottleKeys{Tenant: "acme", Username: "john", IP: "10.0.0.1"}
	for i := 0; i < 50; i++ {
		require.NoError(t, th.Fail(context.Background(), k))
	}
	blocked, _, err := th.Blocked(context.Background(), k)
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestMemoryThrottle_EvictsIdleWindows(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
	cfg := DefaultConfig()
	cfg.LoginUserWindow = time.Minute
	cfg.LoginIPWindow = time.Minute
	th := NewMemoryThrottle(cfg, clock.Now)
	ctx := context.Background()

	for i := 0; i < 5000; i++ {
		require.NoError(t, th.Fail(ctx, ThrottleKeys{Tenant: "acme", Username: fmt.Sprintf("user-%d", i), IP: "10.0.0.1"}))
	}
	assert.Len(t, th.windows, 5001)

	clock.Advance(24 * time.Hour)
	k := ThrottleKeys{Tenant: "acme", Username: "fresh", IP: "10.0.0.2"}
	require.NoError(t, th.Fail(ctx, k))
	assert.Len(t, th.windows, 2, "only the fresh user and address remain")

	blocked, _, err := th.Blocked(ctx, k)
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestMemoryThrottle_SweepKeepsLiveWindows(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
	cfg := DefaultConfig()
	cfg.LoginUserMax = 2
	cfg.LoginUserWindow = time.Minute
	cfg.LoginIPMax = 0
	cfg.LoginIPWindow = time.Minute
	th := NewMemoryThrottle(cfg, clock.Now)
	ctx := context.Background()
	k := ThrottleKeys{Tenant: "acme", Username: "john"}

	require.NoError(t, th.Fail(ctx, k))
	clock.Advance(50 * time.Second)
	require.NoError(t, th.Fail(ctx, k))
	clock.Advance(20 * time.Second)
	// Triggers a sweep; john's newest failure is still inside the window.
	require.NoError(t, th.Fail(ctx, ThrottleKeys{Tenant: "acme", Username: "ann"}))

	blocked, _, err := th.Blocked(ctx, k)
	require.NoError(t, err)
	assert.False(t, blocked, "oldest failure expired")
	assert.Contains(t, th.windows, userKey(k))
}
