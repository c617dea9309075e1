package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/inkboard/inkboard/internal/platform/db"
)

// PGRepository reads audit_logs from PostgreSQL.
type PGRepository struct {
	pool db.Querier
}

// NewRepository builds a PGRepository.
func NewRepository(pool db.Querier) *PGRepository {
	return &PGRepository{pool: pool}
}

const timelineSQL = `
SELECT id, occurred_at, actor_id, action, entity, entity_id, meta
FROM audit_logs
WHERE ($1::timestamptz IS NULL OR occurred_at >= $1)
  AND ($2::timestamptz IS NULL OR occurred_at < $2)
  AND ($3::text = '' OR actor_id = $3)
  AND ($4::text = '' OR action = $4)
  AND ($5::text = '' OR entity = $5)
  AND ($6::text = '' OR entity_id = $6)
ORDER BY occurred_at DESC, id DESC
LIMIT NULLIF($7::int, 0) OFFSET $8`

// Timeline implements Repository.
func (r *PGRepository) Timeline(ctx context.Context, q Query) ([]TimelineRow, error) {
	rows, err := r.pool.Query(ctx, timelineSQL, q.From, q.To, q.Actor, q.Action, q.Entity, q.EntityID, q.Limit, q.Offset)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (TimelineRow, error) {
		var (
			out  TimelineRow
			meta []byte
		)
		if err := row.Scan(&out.ID, &out.At, &out.Actor, &out.Action, &out.Entity, &out.EntityID, &meta); err != nil {
			return TimelineRow{}, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &out.Meta); err != nil {
				return TimelineRow{}, fmt.Errorf("decode meta for audit row %d: %w", out.ID, err)
			}
		}
		return out, nil
	})
}
