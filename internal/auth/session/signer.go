package session

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"tenantauth/internal/identity"
)

// Claims is the JWT body of an access token.
type Claims struct {
	TenantID string   `json:"tenant_id"`
	Roles    []string `json:"roles"`
	jwt.RegisteredClaims
}

// AccessToken is a signed access token and the metadata callers need.
type AccessToken struct {
	Value     string
	ID        string
	ExpiresAt time.Time
}

// AccessClaims is the verified identity carried by an access token.
type AccessClaims struct {
	UserID    uuid.UUID
	TenantID  string
	Roles     []string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Principal projects verified claims onto an identity.Principal.
func (c AccessClaims) Principal() identity.Principal {
	return identity.Principal{UserID: c.UserID, TenantID: c.TenantID, Roles: c.Roles}
}

// Signer mints and verifies access tokens and generates refresh values.
// It is safe for concurrent use.
type Signer struct {
	key          []byte
	issuer       string
	audience     string
	ttl          time.Duration
	leeway       time.Duration
	refreshBytes int
	entropy      io.Reader
}

// NewSigner validates cfg and builds a Signer. Every misconfiguration is
// reported here, so issuing never fails for configuration reasons.
func NewSigner(cfg Config) (*Signer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Signer{
		key:          []byte(cfg.SigningKey),
		issuer:       cfg.Issuer,
		audience:     cfg.Audience,
		ttl:          cfg.AccessTokenTTL,
		leeway:       cfg.ClockSkew,
		refreshBytes: cfg.RefreshTokenBytes,
		entropy:      rand.Reader,
	}, nil
}

// IssueAccessToken signs a token for p valid from now for the configured TTL.
func (s *Signer) IssueAccessToken(p identity.Principal, now time.Time) (AccessToken, error) {
	if p.UserID == uuid.Nil || p.TenantID == "" {
		return AccessToken{}, errors.New("session: principal is incomplete")
	}

	id, err := ulid.New(ulid.Timestamp(now), s.entropy)
	if err != nil {
		return AccessToken{}, fmt.Errorf("session: jti: %w", err)
	}

	roles := make([]string, len(p.Roles))
	copy(roles, p.Roles)

	now = now.UTC()
	exp := now.Add(s.ttl)
	claims := Claims{
		TenantID: p.TenantID,
		Roles:    roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID.String(),
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			ID:        id.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return AccessToken{}, fmt.Errorf("session: sign: %w", err)
	}
	// NumericDate has second precision; report what the token says.
	return AccessToken{Value: signed, ID: claims.ID, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// GenerateRefreshTokenValue returns a fresh opaque refresh value.
func (s *Signer) GenerateRefreshTokenValue() (string, error) {
	return newRefreshValue(s.entropy, s.refreshBytes)
}

// VerifyAccessToken checks signature, algorithm, issuer, audience and
// expiry at now. Every failure wraps ErrInvalidToken.
func (s *Signer) VerifyAccessToken(raw string, now time.Time) (AccessClaims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return AccessClaims{}, ErrInvalidToken
	}

	p := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(s.leeway),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)

	var c Claims
	if _, err := p.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) { return s.key, nil }); err != nil {
		return AccessClaims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	uid, err := uuid.Parse(c.Subject)
	if err != nil || uid == uuid.Nil {
		return AccessClaims{}, fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}
	if c.TenantID == "" || c.ID == "" {
		return AccessClaims{}, fmt.Errorf("%w: missing tenant or id", ErrInvalidToken)
	}

	out := AccessClaims{
		UserID:    uid,
		TenantID:  c.TenantID,
		Roles:     c.Roles,
		TokenID:   c.ID,
		ExpiresAt: c.ExpiresAt.Time,
	}
	if c.IssuedAt != nil {
		out.IssuedAt = c.IssuedAt.Time
	}
	if out.Roles == nil {
		out.Roles = []string{}
	}
	return out, nil
}
