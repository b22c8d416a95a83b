package session

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidToken is returned when an access token fails verification.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenNotFound is returned when no refresh token matches a value.
	ErrTokenNotFound = errors.New("refresh token not found")

	// ErrTokenCollision is returned when a refresh token value is persisted twice.
	// With 256 bits of entropy this indicates a broken random source.
	ErrTokenCollision = errors.New("refresh token collision")

	// ErrStoreUnavailable is returned when the store could not be reached
	// after bounded retries.
	ErrStoreUnavailable = errors.New("token store unavailable")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// StoreError wraps a store failure with the operation that produced it.
type StoreError struct {
	Op  string
	Err error
}

func (e StoreError) Error() string { return fmt.Sprintf("session store %s: %v", e.Op, e.Err) }

func (e StoreError) Unwrap() error { return e.Err }
