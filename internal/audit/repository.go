package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-pos/meridian-pos/internal/shared"
)

// Log is a persisted audit record.
type Log struct {
	ID         int64
	BusinessID int64
	UserID     *int64
	GroupID    uuid.UUID
	Action     string
	EntityType *string
	EntityID   *int64
	Before     []byte
	After      []byte
	Meta       []byte
	OccurredAt time.Time
}

// Filter narrows List results.
type Filter struct {
	Action     string
	EntityType string
	GroupID    uuid.UUID
	From       time.Time
	To         time.Time
	Limit      int
}

// Repository reads the append-only audit log. There is no update or
// delete path.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// List returns audit logs for the tenant, newest first.
func (r *Repository) List(ctx context.Context, scope shared.Scope, f Filter) ([]Log, error) {
	var (
		conds = []string{"business_id=$1"}
		args  = []any{scope.BusinessID}
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Action != "" {
		add("action=$%d", f.Action)
	}
	if f.EntityType != "" {
		add("entity_type=$%d", f.EntityType)
	}
	if f.GroupID != uuid.Nil {
		add("group_id=$%d", f.GroupID)
	}
	if !f.From.IsZero() {
		add("occurred_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("occurred_at <= $%d", f.To)
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
SELECT id, business_id, user_id, group_id, action, entity_type, entity_id, before, after, metadata, occurred_at
FROM audit_logs
WHERE %s
ORDER BY occurred_at DESC, id DESC
LIMIT $%d`, strings.Join(conds, " AND "), len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Log
	for rows.Next() {
		var l Log
		if err := rows.Scan(&l.ID, &l.BusinessID, &l.UserID, &l.GroupID, &l.Action, &l.EntityType, &l.EntityID, &l.Before, &l.After, &l.Meta, &l.OccurredAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
