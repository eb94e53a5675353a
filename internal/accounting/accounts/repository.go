package accounts

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-pos/meridian-pos/internal/platform/db"
	"github.com/meridian-pos/meridian-pos/internal/shared"
)

// Repository encapsulates DB operations for the chart of accounts.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const accountColumns = `id, business_id, code, name, type, subtype, normal_balance, is_system, is_active, created_at, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.BusinessID, &a.Code, &a.Name, &a.Type, &a.Subtype, &a.NormalBalance, &a.IsSystem, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

// List returns all accounts for the tenant ordered by code.
func (r *Repository) List(ctx context.Context, scope shared.Scope) ([]Account, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE business_id=$1 ORDER BY code ASC`, scope.BusinessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetByCode fetches one account by (business, code).
func (r *Repository) GetByCode(ctx context.Context, q db.Querier, scope shared.Scope, code string) (Account, error) {
	a, err := scanAccount(q.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE business_id=$1 AND code=$2`, scope.BusinessID, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, shared.ErrNotFound
		}
		return Account{}, err
	}
	return a, nil
}

// EnsureAccount inserts the account when absent and returns its id.
// The unique (business_id, code) index makes concurrent provisioning
// converge on a single row.
func (r *Repository) EnsureAccount(ctx context.Context, q db.Querier, scope shared.Scope, a Account) (int64, error) {
	var id int64
	err := q.QueryRow(ctx, `
INSERT INTO accounts (business_id, code, name, type, subtype, normal_balance, is_system, is_active)
VALUES ($1,$2,$3,$4,$5,$6,$7,TRUE)
ON CONFLICT (business_id, code) DO UPDATE SET updated_at = NOW()
RETURNING id`, scope.BusinessID, a.Code, a.Name, a.Type, a.Subtype, a.NormalBalance, a.IsSystem).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Deactivate flips an account inactive. Accounts are never deleted.
func (r *Repository) Deactivate(ctx context.Context, scope shared.Scope, id int64) error {
	cmd, err := r.pool.Exec(ctx, `UPDATE accounts SET is_active=FALSE, updated_at=NOW() WHERE business_id=$1 AND id=$2`, scope.BusinessID, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}
