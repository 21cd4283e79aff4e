// Package auditlog appends to the Relay's admin-visible security trail
// (models.AuditEvent): auth failures, admin actions, and other events an
// operator needs to review via GET /admin/audit. Event IDs use the same
// oklog/ulid scheme internal/httpmw uses for request IDs.
package auditlog

import (
	"context"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/fedi3/fedi3/internal/models"
	"github.com/fedi3/fedi3/internal/storage"
)

// Logger appends audit events to storage, logging (but not failing the
// caller on) write errors — an audit-log outage must never block the
// request path it is observing.
type Logger struct {
	Store  storage.Store
	Logger *slog.Logger
}

func New(store storage.Store, logger *slog.Logger) *Logger {
	return &Logger{Store: store, Logger: logger}
}

func (l *Logger) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

// Event is the caller-facing shape; ID and CreatedAt are filled in by
// Record.
type Event struct {
	Kind          string
	Actor         string
	KeyID         string
	ActivityID    string
	OK            bool
	Status        int
	Detail        string
	RequestID     string
	CorrelationID string
	UserAgent     string
	IP            string
}

// Record appends one audit event. Errors are logged, not returned: callers
// should not fail their own request because the audit trail couldn't be
// written.
func (l *Logger) Record(ctx context.Context, e Event) {
	ev := models.AuditEvent{
		ID:            ulid.Make().String(),
		Kind:          e.Kind,
		Actor:         e.Actor,
		KeyID:         e.KeyID,
		ActivityID:    e.ActivityID,
		OK:            e.OK,
		Status:        e.Status,
		Detail:        e.Detail,
		RequestID:     e.RequestID,
		CorrelationID: e.CorrelationID,
		UserAgent:     e.UserAgent,
		IP:            e.IP,
		CreatedAt:     time.Now(),
	}
	if err := l.Store.InsertAudit(ctx, ev); err != nil {
		l.logger().Warn("auditlog: failed to record event",
			slog.String("kind", e.Kind), slog.String("error", err.Error()))
	}
}

// List returns the most recent limit audit events, newest first.
func (l *Logger) List(ctx context.Context, limit int) ([]models.AuditEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return l.Store.ListAudit(ctx, limit)
}
