package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-pos/meridian-pos/internal/shared"
)

// GLIntegrityJob scans posted journal entries and reports tenants
// whose debits and credits have drifted apart. Drift can only come
// from operator SQL or a defect; the posting engine rejects
// unbalanced entries up front.
type GLIntegrityJob struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewGLIntegrityJob(pool *pgxpool.Pool, logger *slog.Logger) *GLIntegrityJob {
	return &GLIntegrityJob{pool: pool, logger: logger}
}

type glDrift struct {
	BusinessID int64
	Debit      decimal.Decimal
	Credit     decimal.Decimal
}

// Handle processes TaskGLIntegrityScan tasks.
func (j *GLIntegrityJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload GLIntegrityScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	drifts, err := j.scan(ctx, payload.BusinessID)
	if err != nil {
		j.logger.ErrorContext(ctx, "gl integrity scan failed", slog.Any("error", err))
		return err
	}
	for _, d := range drifts {
		j.logger.ErrorContext(ctx, "gl integrity drift detected",
			slog.Int64("business_id", d.BusinessID),
			slog.String("debit_total", d.Debit.StringFixed(2)),
			slog.String("credit_total", d.Credit.StringFixed(2)),
			slog.String("difference", d.Debit.Sub(d.Credit).StringFixed(2)))
	}
	if len(drifts) == 0 {
		j.logger.InfoContext(ctx, "gl integrity scan clean",
			slog.Int64("business_id", payload.BusinessID))
	}
	return nil
}

func (j *GLIntegrityJob) scan(ctx context.Context, businessID int64) ([]glDrift, error) {
	query := `
SELECT e.business_id, COALESCE(SUM(l.debit),0), COALESCE(SUM(l.credit),0)
FROM journal_entries e
JOIN journal_lines l ON l.journal_entry_id = e.id
WHERE e.status = 'posted'`
	args := []any{}
	if businessID > 0 {
		query += ` AND e.business_id = $1`
		args = append(args, businessID)
	}
	query += ` GROUP BY e.business_id ORDER BY e.business_id`

	rows, err := j.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []glDrift
	for rows.Next() {
		var d glDrift
		if err := rows.Scan(&d.BusinessID, &d.Debit, &d.Credit); err != nil {
			return nil, err
		}
		if !shared.MoneyEqual(d.Debit, d.Credit) {
			out = append(out, d)
		}
	}
	return out, rows.Err()
}
