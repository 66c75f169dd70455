package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const timelineQuery = `SELECT id, occurred_at, actor_id, action, entity, entity_id, meta
FROM audit_logs
WHERE ($1::timestamptz IS NULL OR occurred_at >= $1)
  AND ($2::timestamptz IS NULL OR occurred_at < $2)
  AND ($3::bigint IS NULL OR actor_id = $3)
  AND ($4::text IS NULL OR entity = $4)
  AND ($5::text IS NULL OR action = $5)
ORDER BY occurred_at DESC, id DESC
OFFSET $6
LIMIT $7`

// PGRepository reads the audit_logs table written by shared.PGAuditLogger.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL timeline repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// TimelineWindow implements Repository.
func (r *PGRepository) TimelineWindow(ctx context.Context, params WindowParams) ([]TimelineRow, error) {
	rows, err := r.pool.Query(ctx, timelineQuery,
		toPgTime(params.From),
		toPgTime(params.To),
		optionalInt(params.ActorID),
		optionalText(params.Entity),
		optionalText(params.Action),
		params.Offset,
		optionalInt(int64(params.Limit)),
	)
	if err != nil {
		return nil, fmt.Errorf("audit: query timeline: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (TimelineRow, error) {
		var (
			entry TimelineRow
			at    pgtype.Timestamptz
		)
		if err := row.Scan(&entry.ID, &at, &entry.ActorID, &entry.Action, &entry.Entity, &entry.EntityID, &entry.Meta); err != nil {
			return TimelineRow{}, err
		}
		if at.Valid {
			entry.At = at.Time.UTC()
		}
		return entry, nil
	})
	if err != nil {
		return nil, fmt.Errorf("audit: scan timeline: %w", err)
	}
	return out, nil
}

func toPgTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func optionalText(value string) pgtype.Text {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: trimmed, Valid: true}
}

func optionalInt(value int64) pgtype.Int8 {
	if value <= 0 {
		return pgtype.Int8{}
	}
	return pgtype.Int8{Int64: value, Valid: true}
}
