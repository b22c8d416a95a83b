package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"tenantauth/internal/auth/session"
	"tenantauth/internal/identity"
)

// TenantHeader names a tenant when the login body does not.
const TenantHeader = "X-Tenant-ID"

// Handler wires the HTTP auth endpoints to the session manager.
type Handler struct {
	log      *slog.Logger
	cfg      Config
	sessions *session.Manager
	throttle Throttle
	audit    Auditor
	now      func() time.Time
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handler)

// WithThrottle overrides the default no-op login throttle.
func WithThrottle(t Throttle) HandlerOption {
	return func(h *Handler) {
		if t != nil {
			h.throttle = t
		}
	}
}

// WithAuditor overrides the default log auditor.
func WithAuditor(a Auditor) HandlerOption {
	return func(h *Handler) {
		if a != nil {
			h.audit = a
		}
	}
}

// WithNow overrides the clock used to verify access tokens.
func WithNow(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler constructs a Handler.
func NewHandler(log *slog.Logger, cfg Config, sessions *session.Manager, opts ...HandlerOption) (*Handler, error) {
	if sessions == nil {
		return nil, errors.New("api: nil session manager")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}

	h := &Handler{
		log:      log,
		cfg:      cfg,
		sessions: sessions,
		throttle: NoopThrottle{},
		audit:    LogAuditor{Log: log},
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

// Mount registers the auth routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", h.handleLogin)
		r.Post("/refresh", h.handleRefresh)
		r.Post("/logout", h.handleLogout)
		r.Post("/logout-all", h.handleLogoutAll)
	})
}

// ---- handlers ----

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	tenant, ok := h.resolveTenant(req.Tenant, r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", "tenant is required")
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "username and password are required")
		return
	}

	ctx := r.Context()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())
	keys := ThrottleKeys{Tenant: tenant, Username: identity.NormalizeUsername(req.Username), IP: ipString(ip)}

	if blocked, retryAfter, err := h.throttle.Blocked(ctx, keys); err != nil {
		// Fail open when the counter store is unreachable.
		h.log.Error("auth.login.throttle.fail", "err", err)
	} else if blocked {
		h.audit.Record(ctx, AuditEvent{Action: ActionLoginRateLimited, TenantID: tenant, IP: keys.IP, UserAgent: ua,
			Meta: map[string]any{"retry_after_s": int64(retryAfter.Seconds())}})
		writeRateLimited(w, retryAfter)
		return
	}

	res, err := h.sessions.Login(ctx, tenant, req.Username, req.Password)
	if err != nil {
		h.writeFailure(w, "auth.login.fail", err)
		return
	}

	switch res.Outcome {
	case session.Succeeded:
		if err := h.throttle.Reset(ctx, keys); err != nil {
			h.log.Error("auth.login.throttle_reset.fail", "err", err)
		}
		h.audit.Record(ctx, AuditEvent{Action: ActionLoginSuccess, TenantID: res.Pair.Principal.TenantID,
			UserID: res.Pair.Principal.UserID, IP: keys.IP, UserAgent: ua})
		writeJSON(w, http.StatusOK, h.tokens(res.Pair))
	case session.Invalid:
		writeError(w, http.StatusBadRequest, "invalid_request", "username and password are required")
	default:
		if err := h.throttle.Fail(ctx, keys); err != nil {
			h.log.Error("auth.login.throttle_fail.fail", "err", err)
		}
		h.audit.Record(ctx, AuditEvent{Action: ActionLoginFailed, TenantID: tenant, IP: keys.IP, UserAgent: ua,
			Meta: map[string]any{"reason": res.Reason}})
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
	}
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "refreshToken is required")
		return
	}

	ctx := r.Context()
	res, err := h.sessions.Rotate(ctx, req.RefreshToken)
	if err != nil {
		h.writeFailure(w, "auth.refresh.fail", err)
		return
	}

	ip := ipString(clientIP(r, h.cfg.TrustProxy))
	switch res.Outcome {
	case session.Succeeded:
		h.audit.Record(ctx, AuditEvent{Action: ActionRefreshSuccess, TenantID: res.Pair.Principal.TenantID,
			UserID: res.Pair.Principal.UserID, IP: ip, UserAgent: r.UserAgent()})
		writeJSON(w, http.StatusOK, h.tokens(res.Pair))
	case session.Invalid:
		writeError(w, http.StatusBadRequest, "invalid_request", "refreshToken is required")
	default:
		if res.Reason == session.ReasonTokenReused {
			h.audit.Record(ctx, AuditEvent{Action: ActionRefreshReuse, IP: ip, UserAgent: r.UserAgent(),
				Meta: map[string]any{"revoked": res.Revoked}})
		}
		writeError(w, http.StatusUnauthorized, "invalid_refresh_token", "refresh token is not valid")
	}
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	var req logoutRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	ctx := r.Context()
	res, err := h.sessions.Logout(ctx, claims.Principal(), req.RefreshToken)
	if err != nil {
		h.writeFailure(w, "auth.logout.fail", err)
		return
	}

	switch res.Outcome {
	case session.Succeeded:
		h.audit.Record(ctx, AuditEvent{Action: ActionLogout, TenantID: claims.TenantID, UserID: claims.UserID,
			IP: ipString(clientIP(r, h.cfg.TrustProxy)), UserAgent: r.UserAgent()})
		writeJSON(w, http.StatusOK, logoutResponse{Revoked: res.Revoked})
	case session.Invalid:
		writeError(w, http.StatusBadRequest, "invalid_request", "refreshToken is required")
	case session.Forbidden:
		// Indistinguishable from a token that does not exist for this caller.
		writeError(w, http.StatusNotFound, "not_found", "refresh token not found")
	default:
		writeError(w, http.StatusUnauthorized, "invalid_refresh_token", "refresh token is not valid")
	}
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	res, err := h.sessions.LogoutAll(ctx, claims.Principal())
	if err != nil {
		h.writeFailure(w, "auth.logout_all.fail", err)
		return
	}

	switch res.Outcome {
	case session.Succeeded:
		h.audit.Record(ctx, AuditEvent{Action: ActionLogoutAll, TenantID: claims.TenantID, UserID: claims.UserID,
			IP: ipString(clientIP(r, h.cfg.TrustProxy)), UserAgent: r.UserAgent(),
			Meta: map[string]any{"revoked": res.Revoked}})
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusNoContent)
	case session.NoActiveSessions:
		writeError(w, http.StatusBadRequest, "no_active_sessions", "no active sessions")
	default:
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request")
	}
}

// ---- helpers ----

func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (session.AccessClaims, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return session.AccessClaims{}, false
	}
	claims, err := h.sessions.Signer().VerifyAccessToken(token, h.now())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
		return session.AccessClaims{}, false
	}
	return claims, true
}

func (h *Handler) tokens(p *session.Pair) tokenResponse {
	return tokenResponse{
		AccessToken:      p.AccessToken.Value,
		RefreshToken:     p.RefreshToken,
		TokenType:        "Bearer",
		ExpiresIn:        int64(p.AccessToken.ExpiresAt.Sub(h.now()).Seconds()),
		AccessExpiresAt:  p.AccessToken.ExpiresAt,
		RefreshExpiresAt: p.RefreshExpiresAt,
	}
}

func (h *Handler) writeFailure(w http.ResponseWriter, event string, err error) {
	switch {
	case errors.Is(err, session.ErrStoreUnavailable), errors.Is(err, context.DeadlineExceeded):
		h.log.Error(event, "err", err)
		writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
	case errors.Is(err, context.Canceled):
		h.log.Warn(event, "err", err)
		writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
	default:
		h.log.Error(event, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

// resolveTenant picks the body tenant, then the header, then the default.
func (h *Handler) resolveTenant(body string, r *http.Request) (string, bool) {
	for _, raw := range []string{body, r.Header.Get(TenantHeader), h.cfg.DefaultTenant} {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		return identity.NormalizeTenant(raw)
	}
	return "", false
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return net.ParseIP(strings.TrimSpace(r.RemoteAddr))
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}

func ipString(ip net.IP) string {
	if ip == nil {
		return ""
	}
	return ip.String()
}
