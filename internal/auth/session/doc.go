// Package session implements the token lifecycle: access-token minting and
// verification, refresh-token persistence, single-use rotation and
// revocation.
//
// Access tokens are HS256 JWTs and are never revoked individually; they stay
// valid until they expire. Refresh tokens are opaque random strings stored
// only as hashes (HMAC-SHA256 when TENANTAUTH_TOKEN_HMAC_KEY is set, SHA-256
// otherwise).
//
// A refresh token moves from Active to Revoked or from Active to Expired and
// never back. Rotation is a compare-and-swap inside one transaction, so of any
// number of concurrent rotations of one token exactly one wins.
//
// Transport concerns live in package api.
package session
