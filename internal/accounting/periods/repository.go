package periods

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	acctshared "github.com/meridian-pos/meridian-pos/internal/accounting/shared"
	"github.com/meridian-pos/meridian-pos/internal/platform/db"
	"github.com/meridian-pos/meridian-pos/internal/shared"
)

// Repository encapsulates DB operations for accounting periods.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn in a RepeatableRead transaction on the repository pool.
func (r *Repository) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	return db.WithTx(ctx, r.pool, fn)
}

const periodColumns = `id, business_id, name, start_date, end_date, status, closed_at, closed_by, reopened_at, reopened_by, created_at, updated_at`

func scanPeriod(row pgx.Row) (Period, error) {
	var p Period
	err := row.Scan(&p.ID, &p.BusinessID, &p.Name, &p.StartDate, &p.EndDate, &p.Status, &p.ClosedAt, &p.ClosedBy, &p.ReopenedAt, &p.ReopenedBy, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// List returns periods for the tenant, newest range first.
func (r *Repository) List(ctx context.Context, scope shared.Scope) ([]Period, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+periodColumns+` FROM accounting_periods WHERE business_id=$1 ORDER BY start_date DESC`, scope.BusinessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetForUpdate locks one period row inside the caller's transaction.
func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, scope shared.Scope, id int64) (Period, error) {
	p, err := scanPeriod(tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM accounting_periods WHERE business_id=$1 AND id=$2 FOR UPDATE`, scope.BusinessID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, acctshared.ErrPeriodNotFound
		}
		return Period{}, err
	}
	return p, nil
}

// ClosedExistsForDate reports whether date falls inside a closed period.
func (r *Repository) ClosedExistsForDate(ctx context.Context, q db.Querier, scope shared.Scope, date time.Time) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx, `
SELECT EXISTS (
  SELECT 1 FROM accounting_periods
  WHERE business_id=$1 AND status='closed' AND start_date <= $2::date AND end_date >= $2::date
)`, scope.BusinessID, date).Scan(&exists)
	return exists, err
}

// RangeConflict reports whether [start,end] intersects any stored
// period. Runs on the caller's transaction so the check and the
// insert it guards share one snapshot.
func (r *Repository) RangeConflict(ctx context.Context, q db.Querier, scope shared.Scope, start, end time.Time) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx, `
SELECT EXISTS (
  SELECT 1 FROM accounting_periods
  WHERE business_id=$1 AND start_date <= $3::date AND end_date >= $2::date
)`, scope.BusinessID, start, end).Scan(&exists)
	return exists, err
}

// Insert creates an open period.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, scope shared.Scope, name string, start, end time.Time) (Period, error) {
	p, err := scanPeriod(tx.QueryRow(ctx, `
INSERT INTO accounting_periods (business_id, name, start_date, end_date, status)
VALUES ($1,$2,$3,$4,'open')
RETURNING `+periodColumns, scope.BusinessID, name, start, end))
	return p, err
}

// PostedTotals sums posted debits and credits for entries dated in range.
func (r *Repository) PostedTotals(ctx context.Context, tx pgx.Tx, scope shared.Scope, start, end time.Time) (decimal.Decimal, decimal.Decimal, error) {
	var debit, credit decimal.Decimal
	err := tx.QueryRow(ctx, `
SELECT COALESCE(SUM(jl.debit),0), COALESCE(SUM(jl.credit),0)
FROM journal_lines jl
JOIN journal_entries je ON je.id = jl.journal_entry_id
WHERE je.business_id=$1 AND je.status='posted' AND je.entry_date BETWEEN $2::date AND $3::date`,
		scope.BusinessID, start, end).Scan(&debit, &credit)
	return debit, credit, err
}

// MarkClosed transitions the period to closed.
func (r *Repository) MarkClosed(ctx context.Context, tx pgx.Tx, scope shared.Scope, id int64, closedAt time.Time, closedBy int64) (Period, error) {
	p, err := scanPeriod(tx.QueryRow(ctx, `
UPDATE accounting_periods
SET status='closed', closed_at=$3, closed_by=$4, reopened_at=NULL, reopened_by=NULL, updated_at=NOW()
WHERE business_id=$1 AND id=$2
RETURNING `+periodColumns, scope.BusinessID, id, closedAt, nullInt(closedBy)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, acctshared.ErrPeriodNotFound
		}
		return Period{}, err
	}
	return p, nil
}

// MarkReopened transitions the period back to open.
func (r *Repository) MarkReopened(ctx context.Context, tx pgx.Tx, scope shared.Scope, id int64, reopenedAt time.Time, reopenedBy int64) (Period, error) {
	p, err := scanPeriod(tx.QueryRow(ctx, `
UPDATE accounting_periods
SET status='open', closed_at=NULL, closed_by=NULL, reopened_at=$3, reopened_by=$4, updated_at=NOW()
WHERE business_id=$1 AND id=$2
RETURNING `+periodColumns, scope.BusinessID, id, reopenedAt, nullInt(reopenedBy)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, acctshared.ErrPeriodNotFound
		}
		return Period{}, err
	}
	return p, nil
}

func nullInt(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
