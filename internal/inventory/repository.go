package inventory

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-pos/meridian-pos/internal/platform/db"
	"github.com/meridian-pos/meridian-pos/internal/shared"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn inside a repeatable-read transaction on the pool.
func (r *Repository) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return db.WithTx(ctx, r.pool, fn)
}

const productColumns = `id, business_id, name, sku, price, cost_price, track_inventory, stock, is_active, created_at, updated_at`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.BusinessID, &p.Name, &p.SKU, &p.Price, &p.CostPrice,
		&p.TrackInventory, &p.Stock, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (r *Repository) GetProduct(ctx context.Context, q db.Querier, scope shared.Scope, id int64) (*Product, error) {
	p, err := scanProduct(q.QueryRow(ctx, `
SELECT `+productColumns+` FROM products WHERE business_id=$1 AND id=$2`, scope.BusinessID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// GetProductForUpdate locks one product row.
func (r *Repository) GetProductForUpdate(ctx context.Context, q db.Querier, scope shared.Scope, id int64) (*Product, error) {
	p, err := scanProduct(q.QueryRow(ctx, `
SELECT `+productColumns+` FROM products WHERE business_id=$1 AND id=$2 FOR UPDATE`, scope.BusinessID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// LockProducts locks the given product rows in ascending id order and
// returns them keyed by id. Unknown ids are simply absent from the map.
func (r *Repository) LockProducts(ctx context.Context, q db.Querier, scope shared.Scope, ids []int64) (map[int64]*Product, error) {
	rows, err := q.Query(ctx, `
SELECT `+productColumns+` FROM products
WHERE business_id=$1 AND id = ANY($2)
ORDER BY id ASC
FOR UPDATE`, scope.BusinessID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	products := make(map[int64]*Product, len(ids))
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products[p.ID] = &p
	}
	return products, rows.Err()
}

func (r *Repository) UpdateStock(ctx context.Context, q db.Querier, scope shared.Scope, productID int64, stock decimal.Decimal) error {
	cmd, err := q.Exec(ctx, `
UPDATE products SET stock=$3, updated_at=NOW() WHERE business_id=$1 AND id=$2`,
		scope.BusinessID, productID, stock)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// MovementExists reports whether a movement for (source, reason) was
// already written, which makes issue and void replays no-ops.
func (r *Repository) MovementExists(ctx context.Context, q db.Querier, scope shared.Scope, sourceType string, sourceID int64, reason string) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx, `
SELECT EXISTS (
  SELECT 1 FROM stock_movements
  WHERE business_id=$1 AND source_type=$2 AND source_id=$3 AND reason=$4
)`, scope.BusinessID, sourceType, sourceID, reason).Scan(&exists)
	return exists, err
}

func (r *Repository) InsertMovement(ctx context.Context, q db.Querier, scope shared.Scope, m *StockMovement) error {
	m.BusinessID = scope.BusinessID
	return q.QueryRow(ctx, `
INSERT INTO stock_movements
  (business_id, product_id, direction, reason, quantity, unit_cost, source_type, source_id, created_by, notes)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
RETURNING id, created_at`,
		scope.BusinessID, m.ProductID, m.Direction, m.Reason, m.Quantity, m.UnitCost,
		m.SourceType, m.SourceID, m.CreatedBy, m.Notes).Scan(&m.ID, &m.CreatedAt)
}

// MovementFilter narrows ListMovements.
type MovementFilter struct {
	ProductID int64
	Reason    string
	Limit     int
}

func (r *Repository) ListMovements(ctx context.Context, scope shared.Scope, filter MovementFilter) ([]StockMovement, error) {
	query := `
SELECT id, business_id, product_id, direction, reason, quantity, unit_cost, source_type, source_id, created_by, notes, created_at
FROM stock_movements WHERE business_id=$1`
	args := []any{scope.BusinessID}
	if filter.ProductID != 0 {
		args = append(args, filter.ProductID)
		query += ` AND product_id=$2`
	}
	if filter.Reason != "" {
		args = append(args, filter.Reason)
		query += ` AND reason=$` + itoa(len(args))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}
	args = append(args, limit)
	query += ` ORDER BY created_at DESC, id DESC LIMIT $` + itoa(len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StockMovement
	for rows.Next() {
		var m StockMovement
		if err := rows.Scan(&m.ID, &m.BusinessID, &m.ProductID, &m.Direction, &m.Reason, &m.Quantity,
			&m.UnitCost, &m.SourceType, &m.SourceID, &m.CreatedBy, &m.Notes, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *Repository) ListProducts(ctx context.Context, scope shared.Scope) ([]Product, error) {
	rows, err := r.pool.Query(ctx, `
SELECT `+productColumns+` FROM products WHERE business_id=$1 AND is_active ORDER BY name ASC`, scope.BusinessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
