package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"tenantauth/internal/identity"
)

// Directory authenticates credentials and reloads principals.
// *identity.Directory implements it.
type Directory interface {
	Authenticate(ctx context.Context, tenant, username, password string) (identity.Principal, error)
	PrincipalByID(ctx context.Context, id uuid.UUID) (identity.Principal, error)
}

// Manager drives the refresh-token state machine.
//
// Expected outcomes (bad credentials, stale tokens, lost races) are Result
// values. The error return is reserved for store failures and broken
// invariants; when it is non-nil the Result carries no usable pair.
type Manager struct {
	cfg     Config
	signer  *Signer
	store   Store
	users   Directory
	log     *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(mt *Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = mt }
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) ManagerOption {
	return func(m *Manager) {
		if t != nil {
			m.tracer = t
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager wires a Manager.
func NewManager(cfg Config, signer *Signer, store Store, users Directory, opts ...ManagerOption) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if signer == nil || store == nil || users == nil {
		return nil, fmt.Errorf("%w: signer, store and directory are required", ErrConfig)
	}
	m := &Manager{
		cfg:    cfg,
		signer: signer,
		store:  store,
		users:  users,
		log:    slog.Default(),
		tracer: otel.Tracer("tenantauth/session"),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// Signer returns the signer used for access tokens.
func (m *Manager) Signer() *Signer { return m.signer }

// Login authenticates a principal and issues a fresh pair. Unknown users
// and wrong passwords are both Unauthenticated with the same reason.
func (m *Manager) Login(ctx context.Context, tenant, username, password string) (res Result, err error) {
	ctx, done := m.begin(ctx, "login", attribute.String("tenant", tenant))
	defer func() { done(res, err) }()

	if strings.TrimSpace(username) == "" || password == "" {
		return fail(Invalid, ReasonMissingCredentials), nil
	}

	p, err := m.users.Authenticate(ctx, tenant, username, password)
	if errors.Is(err, identity.ErrInvalidCredentials) {
		return fail(Unauthenticated, ReasonInvalidCredentials), nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("session: authenticate: %w", err)
	}

	now := m.now()
	pair, rec, err := m.mint(p, now)
	if err != nil {
		return Result{}, err
	}
	if err := m.store.Persist(ctx, rec); err != nil {
		return Result{}, err
	}

	m.log.Info("session.login", "user_id", p.UserID, "tenant_id", p.TenantID, "token_id", rec.ID)
	return Result{Outcome: Succeeded, Pair: &pair}, nil
}

// Rotate exchanges a refresh token for a new pair. The presented token is
// retired in the same transaction that persists its successor; of several
// concurrent rotations of one token exactly one succeeds.
func (m *Manager) Rotate(ctx context.Context, value string) (res Result, err error) {
	ctx, done := m.begin(ctx, "rotate")
	defer func() { done(res, err) }()

	value = strings.TrimSpace(value)
	if value == "" {
		return fail(Invalid, ReasonMissingToken), nil
	}

	rec, err := m.store.FindActive(ctx, value)
	if errors.Is(err, ErrTokenNotFound) {
		return fail(Unauthenticated, ReasonTokenNotFound), nil
	}
	if err != nil {
		return Result{}, err
	}

	now := m.now()
	switch rec.StateAt(now) {
	case StateRevoked:
		if !rec.Rotated() {
			return fail(Unauthenticated, ReasonTokenRevoked), nil
		}
		return m.reused(ctx, rec, now)
	case StateExpired:
		return fail(Unauthenticated, ReasonTokenExpired), nil
	}

	p, err := m.users.PrincipalByID(ctx, rec.UserID)
	if identity.IsNotFound(err) {
		return fail(Unauthenticated, ReasonPrincipalGone), nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("session: load principal: %w", err)
	}

	pair, successor, err := m.mint(p, now)
	if err != nil {
		return Result{}, err
	}

	ok, err := m.store.TryRevokeThenPersist(ctx, value, successor, now)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		m.log.Info("session.rotate.lost_race", "user_id", rec.UserID, "token_id", rec.ID)
		return fail(Unauthenticated, ReasonLostRace), nil
	}

	m.metrics.revokedTokens(ReasonRotated, 1)
	m.log.Info("session.rotate", "user_id", p.UserID, "tenant_id", p.TenantID, "token_id", rec.ID, "successor_id", successor.ID)
	return Result{Outcome: Succeeded, Pair: &pair}, nil
}

// reused handles a rotated token presented again.
func (m *Manager) reused(ctx context.Context, rec Record, now time.Time) (Result, error) {
	if !m.cfg.RevokeAllOnReuse {
		m.log.Warn("session.rotate.reuse", "user_id", rec.UserID, "token_id", rec.ID)
		return fail(Unauthenticated, ReasonTokenReused), nil
	}

	n, err := m.store.RevokeAllForUser(ctx, rec.UserID, now, ReasonReuseDetected)
	if err != nil {
		return Result{}, err
	}
	m.metrics.revokedTokens(ReasonReuseDetected, n)
	m.log.Warn("session.rotate.reuse.revoked_all", "user_id", rec.UserID, "token_id", rec.ID, "revoked", n)
	return Result{Outcome: Unauthenticated, Reason: ReasonTokenReused, Revoked: n}, nil
}

// Logout revokes one refresh token owned by caller. A second logout with
// the same token is Unauthenticated.
func (m *Manager) Logout(ctx context.Context, caller identity.Principal, value string) (res Result, err error) {
	ctx, done := m.begin(ctx, "logout", attribute.String("tenant", caller.TenantID))
	defer func() { done(res, err) }()

	value = strings.TrimSpace(value)
	if value == "" {
		return fail(Invalid, ReasonMissingToken), nil
	}

	rec, err := m.store.FindActive(ctx, value)
	if errors.Is(err, ErrTokenNotFound) {
		return fail(Unauthenticated, ReasonTokenNotFound), nil
	}
	if err != nil {
		return Result{}, err
	}
	if rec.UserID != caller.UserID {
		m.log.Warn("session.logout.not_owner", "user_id", caller.UserID, "token_id", rec.ID)
		return fail(Forbidden, ReasonNotOwner), nil
	}

	ok, err := m.store.Revoke(ctx, value, m.now(), ReasonLogout)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return fail(Unauthenticated, ReasonTokenRevoked), nil
	}

	m.metrics.revokedTokens(ReasonLogout, 1)
	m.log.Info("session.logout", "user_id", caller.UserID, "tenant_id", caller.TenantID, "token_id", rec.ID)
	return Result{Outcome: Succeeded, Revoked: 1}, nil
}

// LogoutAll revokes every refresh token of caller. Access tokens already
// issued stay valid until they expire.
func (m *Manager) LogoutAll(ctx context.Context, caller identity.Principal) (res Result, err error) {
	ctx, done := m.begin(ctx, "logout_all", attribute.String("tenant", caller.TenantID))
	defer func() { done(res, err) }()

	if caller.UserID == uuid.Nil {
		return fail(Invalid, ReasonMissingCredentials), nil
	}

	n, err := m.store.RevokeAllForUser(ctx, caller.UserID, m.now(), ReasonLogoutAll)
	if err != nil {
		return Result{}, err
	}
	m.metrics.revokedTokens(ReasonLogoutAll, n)

	if n == 0 && m.cfg.LogoutAllPolicy == LogoutAllRequireActive {
		return Result{Outcome: NoActiveSessions, Reason: ReasonNoActiveSessions}, nil
	}

	m.log.Info("session.logout_all", "user_id", caller.UserID, "tenant_id", caller.TenantID, "revoked", n)
	return Result{Outcome: Succeeded, Revoked: n}, nil
}

// mint signs an access token for p and prepares the refresh record that
// goes with it. Nothing is persisted.
func (m *Manager) mint(p identity.Principal, now time.Time) (Pair, Record, error) {
	at, err := m.signer.IssueAccessToken(p, now)
	if err != nil {
		return Pair{}, Record{}, err
	}
	value, err := m.signer.GenerateRefreshTokenValue()
	if err != nil {
		return Pair{}, Record{}, fmt.Errorf("session: refresh value: %w", err)
	}

	now = now.UTC()
	rec := Record{
		ID:        uuid.New(),
		Value:     value,
		UserID:    p.UserID,
		CreatedAt: now,
		ExpiresAt: now.Add(m.cfg.RefreshTokenTTL),
	}
	return Pair{Principal: p, AccessToken: at, RefreshToken: value, RefreshExpiresAt: rec.ExpiresAt}, rec, nil
}

func (m *Manager) begin(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(Result, error)) {
	start := time.Now()
	ctx, span := m.tracer.Start(ctx, "session."+op, trace.WithAttributes(attrs...))
	return ctx, func(res Result, err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "store failure")
		} else {
			span.SetAttributes(
				attribute.String("session.outcome", res.Outcome.String()),
				attribute.String("session.reason", res.Reason),
			)
		}
		span.End()
		m.metrics.observe(op, res, err, time.Since(start))
	}
}
