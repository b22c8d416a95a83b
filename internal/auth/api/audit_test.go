package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogAuditor_Record(t *testing.T) {
	var buf bytes.Buffer
	a := LogAuditor{Log: slog.New(slog.NewJSONHandler(&buf, nil))}
	uid := uuid.New()

	a.Record(context.Background(), AuditEvent{
		Action:   ActionLogoutAll,
		TenantID: "acme",
		UserID:   uid,
		IP:       "10.0.0.1",
		Meta:     map[string]any{"revoked": 2},
	})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, ActionLogoutAll, line["msg"])
	assert.Equal(t, "acme", line["tenant_id"])
	assert.Equal(t, uid.String(), line["user_id"])
	assert.EqualValues(t, 2, line["revoked"])
}

func TestLogAuditor_OmitsNilUser(t *testing.T) {
	var buf bytes.Buffer
	a := LogAuditor{Log: slog.New(slog.NewJSONHandler(&buf, nil))}
	a.Record(context.Background(), AuditEvent{Action: ActionLoginFailed, TenantID: "acme"})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	_, ok := line["user_id"]
	assert.False(t, ok)
}

func TestTrimOrNil(t *testing.T) {
	assert.Nil(t, trimOrNil("   "))
	assert.Equal(t, "x", trimOrNil(" x "))
}

// stalledExec blocks until its context ends, like a pool with no free conns.
type stalledExec struct {
	deadline chan bool
}

func (e stalledExec) Exec(ctx context.Context, _ string, _ ...any) (pgconn.CommandTag, error) {
	_, ok := ctx.Deadline()
	e.deadline <- ok
	<-ctx.Done()
	return pgconn.CommandTag{}, ctx.Err()
}

func TestPostgresAuditor_RecordIsBounded(t *testing.T) {
	var buf bytes.Buffer
	exec := stalledExec{deadline: make(chan bool, 1)}
	a := NewPostgresAuditor(exec, slog.New(slog.NewJSONHandler(&buf, nil)), 50*time.Millisecond)

	// A cancelled request must not cut the insert short, but the timeout must.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	start := time.Now()
	go func() {
		a.Record(ctx, AuditEvent{Action: ActionRefreshSuccess, TenantID: "acme"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Record did not return after its timeout")
	}
	assert.True(t, <-exec.deadline, "insert runs under a deadline")
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Contains(t, buf.String(), "auth.audit.insert.fail")
}

func TestNewPostgresAuditor_DefaultTimeout(t *testing.T) {
	a := NewPostgresAuditor(stalledExec{}, nil, 0)
	assert.Equal(t, DefaultAuditTimeout, a.timeout)
}
