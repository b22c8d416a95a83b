package session

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a refresh token at a point in time.
type State string

const (
	StateActive  State = "active"
	StateRevoked State = "revoked"
	StateExpired State = "expired"
)

// Revocation reasons recorded with a revoked token.
const (
	ReasonRotated       = "rotated"
	ReasonLogout        = "logout"
	ReasonLogoutAll     = "logout_all"
	ReasonReuseDetected = "reuse_detected"
)

// Record is one refresh token. Value is the plain token; stores persist only
// its hash and echo back the value they were queried with.
type Record struct {
	ID               uuid.UUID
	Value            string
	UserID           uuid.UUID
	CreatedAt        time.Time
	ExpiresAt        time.Time
	Revoked          bool
	RevokedAt        *time.Time
	RevocationReason string
	ReplacedBy       *uuid.UUID
}

// StateAt classifies r at now. Revocation wins over expiry; a token is
// expired from the instant now reaches ExpiresAt.
func (r Record) StateAt(now time.Time) State {
	switch {
	case r.Revoked:
		return StateRevoked
	case !now.Before(r.ExpiresAt):
		return StateExpired
	default:
		return StateActive
	}
}

// Rotated reports whether r was revoked by rotation.
func (r Record) Rotated() bool { return r.Revoked && r.ReplacedBy != nil }

// Store persists refresh tokens. Every method hashes the value it is given.
//
// Unexpected failures are returned as StoreError; failures that persisted
// through retries additionally wrap ErrStoreUnavailable.
type Store interface {
	// Persist inserts a non-revoked record. A duplicate value is ErrTokenCollision.
	Persist(ctx context.Context, rec Record) error

	// FindActive returns the record for value regardless of revocation or
	// expiry, or ErrTokenNotFound.
	FindActive(ctx context.Context, value string) (Record, error)

	// Revoke flips revoked from false to true. It reports false when the
	// value is unknown or was already revoked.
	Revoke(ctx context.Context, value string, now time.Time, reason string) (bool, error)

	// RevokeAllForUser revokes every unrevoked token of userID in one
	// statement and returns how many changed.
	RevokeAllForUser(ctx context.Context, userID uuid.UUID, now time.Time, reason string) (int64, error)

	// TryRevokeThenPersist revokes value (only if unrevoked and unexpired at
	// now), links it to successor and inserts successor, atomically. It
	// reports false and changes nothing when value was not active.
	TryRevokeThenPersist(ctx context.Context, value string, successor Record, now time.Time) (bool, error)

	// Ping checks the store is reachable.
	Ping(ctx context.Context) error
}
