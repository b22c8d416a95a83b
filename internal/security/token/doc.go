// Package token hashes opaque refresh-token values for storage.
//
// Stores never see plain refresh tokens. A Hasher turns each value into a
// 64-char hex digest: HMAC-SHA256 when a server key is configured, plain
// SHA-256 otherwise (local development only).
package token
