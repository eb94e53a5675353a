package mappings

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	acctshared "github.com/meridian-pos/meridian-pos/internal/accounting/shared"
	"github.com/meridian-pos/meridian-pos/internal/platform/db"
	"github.com/meridian-pos/meridian-pos/internal/shared"
)

// Repository encapsulates DB operations for account mappings. Every
// method takes a Querier so lookups join the caller's transaction.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// Get resolves a mapping for the given key.
func (r *Repository) Get(ctx context.Context, q db.Querier, scope shared.Scope, key string) (AccountMapping, error) {
	if key == "" {
		return AccountMapping{}, errors.New("accounting: mapping key required")
	}
	var m AccountMapping
	err := q.QueryRow(ctx, `SELECT business_id, key, account_id, created_at, updated_at FROM account_mappings WHERE business_id=$1 AND key=$2`, scope.BusinessID, key).
		Scan(&m.BusinessID, &m.Key, &m.AccountID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AccountMapping{}, acctshared.ErrMappingMissing
		}
		return AccountMapping{}, err
	}
	return m, nil
}

// Upsert writes a mapping, replacing the target account on conflict.
func (r *Repository) Upsert(ctx context.Context, q db.Querier, scope shared.Scope, key string, accountID int64) error {
	_, err := q.Exec(ctx, `
INSERT INTO account_mappings (business_id, key, account_id)
VALUES ($1,$2,$3)
ON CONFLICT (business_id, key) DO UPDATE SET account_id=EXCLUDED.account_id, updated_at=NOW()`,
		scope.BusinessID, key, accountID)
	return err
}
