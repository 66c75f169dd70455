package shared

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLog represents a record stored in audit_logs.
type AuditLog struct {
	ActorID  int64
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// AuditRecorder records completed mutations.
type AuditRecorder interface {
	Record(ctx context.Context, log AuditLog) error
}

// PGAuditLogger writes records into audit_logs.
type PGAuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new PGAuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *PGAuditLogger {
	return &PGAuditLogger{pool: pool}
}

// Record persists the log entry.
func (l *PGAuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil || l.pool == nil {
		return errors.New("audit logger not initialised")
	}
	if err := log.validate(); err != nil {
		return err
	}
	metaJSON, err := json.Marshal(log.metaOrEmpty())
	if err != nil {
		return err
	}
	var at any
	if !log.At.IsZero() {
		at = log.At.UTC()
	}
	_, err = l.pool.Exec(ctx, `INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at) VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`, log.ActorID, log.Action, log.Entity, log.EntityID, metaJSON, at)
	return err
}

// LogAuditRecorder writes audit records as structured log lines. It backs
// the in-memory store where no audit table exists.
type LogAuditRecorder struct {
	logger *slog.Logger
}

// NewLogAuditRecorder builds a LogAuditRecorder.
func NewLogAuditRecorder(logger *slog.Logger) *LogAuditRecorder {
	return &LogAuditRecorder{logger: logger}
}

// Record emits the entry at info level.
func (l *LogAuditRecorder) Record(ctx context.Context, log AuditLog) error {
	if err := log.validate(); err != nil {
		return err
	}
	if l == nil || l.logger == nil {
		return nil
	}
	l.logger.InfoContext(ctx, "audit",
		slog.Int64("actor_id", log.ActorID),
		slog.String("action", log.Action),
		slog.String("entity", log.Entity),
		slog.String("entity_id", log.EntityID),
		slog.Any("meta", log.metaOrEmpty()))
	return nil
}

// RecordAudit stamps the actor from ctx and records entry, logging failures
// instead of returning them. The mutation has already committed.
func RecordAudit(ctx context.Context, recorder AuditRecorder, logger *slog.Logger, entry AuditLog) {
	if recorder == nil {
		return
	}
	if entry.ActorID == 0 {
		entry.ActorID, _ = UserIDFromContext(ctx)
	}
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}
	if err := recorder.Record(ctx, entry); err != nil && logger != nil {
		logger.Warn("record audit", slog.String("action", entry.Action), slog.Any("error", err))
	}
}

func (l AuditLog) validate() error {
	if l.Action == "" || l.Entity == "" || l.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	return nil
}

func (l AuditLog) metaOrEmpty() map[string]any {
	if l.Meta == nil {
		return map[string]any{}
	}
	return l.Meta
}
