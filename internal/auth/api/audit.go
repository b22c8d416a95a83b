package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// DefaultAuditTimeout bounds an audit insert when no timeout is configured.
const DefaultAuditTimeout = 2 * time.Second

// Audit actions.
const (
	ActionLoginSuccess     = "auth.login.success"
	ActionLoginFailed      = "auth.login.failed"
	ActionLoginRateLimited = "auth.login.rate_limited"
	ActionRefreshSuccess   = "auth.refresh.success"
	ActionRefreshReuse     = "auth.refresh.reuse_detected"
	ActionLogout           = "auth.logout"
	ActionLogoutAll        = "auth.logout_all"
)

// AuditEvent is one security-relevant auth event. It never carries secrets.
type AuditEvent struct {
	Action    string
	TenantID  string
	UserID    uuid.UUID
	IP        string
	UserAgent string
	Meta      map[string]any
}

// Auditor records auth events. Implementations must not fail the request.
type Auditor interface {
	Record(ctx context.Context, ev AuditEvent)
}

// LogAuditor writes events to a structured logger.
type LogAuditor struct {
	Log *slog.Logger
}

func (a LogAuditor) Record(ctx context.Context, ev AuditEvent) {
	log := a.Log
	if log == nil {
		log = slog.Default()
	}
	attrs := []any{"tenant_id", ev.TenantID, "ip", ev.IP}
	if ev.UserID != uuid.Nil {
		attrs = append(attrs, "user_id", ev.UserID)
	}
	for k, v := range ev.Meta {
		attrs = append(attrs, k, v)
	}
	log.InfoContext(ctx, ev.Action, attrs...)
}

// Execer runs a statement. *pgxpool.Pool satisfies it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresAuditor appends events to auth_audit_log. Each insert is
// detached from request cancellation but bounded by timeout.
type PostgresAuditor struct {
	pool    Execer
	log     *slog.Logger
	timeout time.Duration
}

// NewPostgresAuditor builds an auditor over pool. A non-positive timeout
// means DefaultAuditTimeout.
func NewPostgresAuditor(pool Execer, log *slog.Logger, timeout time.Duration) *PostgresAuditor {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultAuditTimeout
	}
	return &PostgresAuditor{pool: pool, log: log, timeout: timeout}
}

func (a *PostgresAuditor) Record(ctx context.Context, ev AuditEvent) {
	if a == nil || a.pool == nil || strings.TrimSpace(ev.Action) == "" {
		return
	}

	var userID any
	if ev.UserID != uuid.Nil {
		userID = ev.UserID
	}

	var meta *string
	if len(ev.Meta) > 0 {
		if b, err := json.Marshal(ev.Meta); err == nil {
			s := string(b)
			meta = &s
		}
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
	defer cancel()

	_, err := a.pool.Exec(ctx, `
		INSERT INTO auth_audit_log (action, tenant_id, user_id, ip, user_agent, meta, created_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, now())
	`, ev.Action, trimOrNil(ev.TenantID), userID, trimOrNil(ev.IP), trimOrNil(ev.UserAgent), meta)
	if err != nil {
		a.log.Error("auth.audit.insert.fail", "err", err, "action", ev.Action)
	}
}

func trimOrNil(s string) any {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return v
}
