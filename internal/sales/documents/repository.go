package documents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-pos/meridian-pos/internal/platform/db"
	"github.com/meridian-pos/meridian-pos/internal/shared"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return db.WithTx(ctx, r.pool, fn)
}

const documentColumns = `id, business_id, type, number, status, customer_id, issue_date, expiry_date, currency,
exchange_rate, reference, title, payment_terms_days, shipping_cost, discount_type, discount_value, discount_amount,
subtotal, tax_total, total, notes, terms, converted_invoice_id, sent_at, accepted_at, created_by, created_at, updated_at`

func scanDocument(row pgx.Row) (SalesDocument, error) {
	var d SalesDocument
	err := row.Scan(&d.ID, &d.BusinessID, &d.Type, &d.Number, &d.Status, &d.CustomerID, &d.IssueDate, &d.ExpiryDate,
		&d.Currency, &d.ExchangeRate, &d.Reference, &d.Title, &d.PaymentTermsDays, &d.ShippingCost, &d.DiscountType,
		&d.DiscountValue, &d.DiscountAmount, &d.Subtotal, &d.TaxTotal, &d.Total, &d.Notes, &d.Terms,
		&d.ConvertedInvoiceID, &d.SentAt, &d.AcceptedAt, &d.CreatedBy, &d.CreatedAt, &d.UpdatedAt)
	return d, err
}

func (r *Repository) Get(ctx context.Context, q db.Querier, scope shared.Scope, id int64) (*SalesDocument, error) {
	d, err := scanDocument(q.QueryRow(ctx, `
SELECT `+documentColumns+` FROM sales_documents WHERE business_id=$1 AND id=$2`, scope.BusinessID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (r *Repository) GetForUpdate(ctx context.Context, q db.Querier, scope shared.Scope, id int64) (*SalesDocument, error) {
	d, err := scanDocument(q.QueryRow(ctx, `
SELECT `+documentColumns+` FROM sales_documents WHERE business_id=$1 AND id=$2 FOR UPDATE`, scope.BusinessID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (r *Repository) Insert(ctx context.Context, q db.Querier, scope shared.Scope, d *SalesDocument) error {
	d.BusinessID = scope.BusinessID
	return q.QueryRow(ctx, `
INSERT INTO sales_documents
  (business_id, type, number, status, customer_id, issue_date, expiry_date, currency, exchange_rate,
   reference, title, payment_terms_days, shipping_cost, discount_type, discount_value, discount_amount,
   subtotal, tax_total, total, notes, terms, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
RETURNING id, created_at, updated_at`,
		scope.BusinessID, d.Type, d.Number, d.Status, d.CustomerID, d.IssueDate, d.ExpiryDate, d.Currency,
		d.ExchangeRate, d.Reference, d.Title, d.PaymentTermsDays, d.ShippingCost, d.DiscountType, d.DiscountValue,
		d.DiscountAmount, d.Subtotal, d.TaxTotal, d.Total, d.Notes, d.Terms, d.CreatedBy).
		Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
}

// UpdateTotals rewrites the computed money fields after an item sync.
func (r *Repository) UpdateTotals(ctx context.Context, q db.Querier, scope shared.Scope, d *SalesDocument) error {
	cmd, err := q.Exec(ctx, `
UPDATE sales_documents SET discount_amount=$3, subtotal=$4, tax_total=$5, total=$6, updated_at=NOW()
WHERE business_id=$1 AND id=$2`,
		scope.BusinessID, d.ID, d.DiscountAmount, d.Subtotal, d.TaxTotal, d.Total)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// ReplaceItems deletes and rewrites the document's lines.
func (r *Repository) ReplaceItems(ctx context.Context, q db.Querier, scope shared.Scope, documentID int64, items []Item) error {
	if _, err := q.Exec(ctx, `
DELETE FROM sales_document_items WHERE business_id=$1 AND document_id=$2`, scope.BusinessID, documentID); err != nil {
		return err
	}
	for i := range items {
		item := &items[i]
		item.DocumentID = documentID
		err := q.QueryRow(ctx, `
INSERT INTO sales_document_items
  (business_id, document_id, product_id, name, sku, description, quantity, unit, unit_price,
   discount_type, discount_value, discount_amount, tax_rate, tax_amount, line_subtotal, line_total, sort_order)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
RETURNING id`,
			scope.BusinessID, documentID, item.ProductID, item.Name, item.SKU, item.Description, item.Quantity,
			item.Unit, item.UnitPrice, item.DiscountType, item.DiscountValue, item.DiscountAmount, item.TaxRate,
			item.TaxAmount, item.LineSubtotal, item.LineTotal, item.SortOrder).Scan(&item.ID)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) ListItems(ctx context.Context, q db.Querier, scope shared.Scope, documentID int64) ([]Item, error) {
	rows, err := q.Query(ctx, `
SELECT id, document_id, product_id, name, sku, description, quantity, unit, unit_price,
       discount_type, discount_value, discount_amount, tax_rate, tax_amount, line_subtotal, line_total, sort_order
FROM sales_document_items WHERE business_id=$1 AND document_id=$2 ORDER BY sort_order ASC, id ASC`,
		scope.BusinessID, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.DocumentID, &it.ProductID, &it.Name, &it.SKU, &it.Description, &it.Quantity,
			&it.Unit, &it.UnitPrice, &it.DiscountType, &it.DiscountValue, &it.DiscountAmount, &it.TaxRate,
			&it.TaxAmount, &it.LineSubtotal, &it.LineTotal, &it.SortOrder); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// SetStatus moves the document through its lifecycle, stamping sent_at
// and accepted_at where relevant.
func (r *Repository) SetStatus(ctx context.Context, q db.Querier, scope shared.Scope, documentID int64, status string, at time.Time) error {
	query := `UPDATE sales_documents SET status=$3, updated_at=NOW()`
	switch status {
	case StatusSent:
		query = `UPDATE sales_documents SET status=$3, sent_at=$4, updated_at=NOW()`
	case StatusAccepted:
		query = `UPDATE sales_documents SET status=$3, accepted_at=$4, updated_at=NOW()`
	}
	query += ` WHERE business_id=$1 AND id=$2`

	args := []any{scope.BusinessID, documentID, status}
	if status == StatusSent || status == StatusAccepted {
		args = append(args, at)
	}
	cmd, err := q.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// MarkConverted links the document to its invoice.
func (r *Repository) MarkConverted(ctx context.Context, q db.Querier, scope shared.Scope, documentID, invoiceID int64) error {
	cmd, err := q.Exec(ctx, `
UPDATE sales_documents SET status=$3, converted_invoice_id=$4, updated_at=NOW()
WHERE business_id=$1 AND id=$2`,
		scope.BusinessID, documentID, StatusConverted, invoiceID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// ClearConvertedLink drops a stale invoice back-reference.
func (r *Repository) ClearConvertedLink(ctx context.Context, q db.Querier, scope shared.Scope, documentID int64) error {
	_, err := q.Exec(ctx, `
UPDATE sales_documents SET converted_invoice_id=NULL, updated_at=NOW()
WHERE business_id=$1 AND id=$2`, scope.BusinessID, documentID)
	return err
}

// ListFilter narrows List.
type ListFilter struct {
	Type   string
	Status string
	Limit  int
}

func (r *Repository) List(ctx context.Context, scope shared.Scope, filter ListFilter) ([]SalesDocument, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + documentColumns + ` FROM sales_documents WHERE business_id=$1`)
	args := []any{scope.BusinessID}
	if filter.Type != "" {
		args = append(args, filter.Type)
		fmt.Fprintf(&sb, ` AND type=$%d`, len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		fmt.Fprintf(&sb, ` AND status=$%d`, len(args))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	args = append(args, limit)
	fmt.Fprintf(&sb, ` ORDER BY id DESC LIMIT $%d`, len(args))

	rows, err := r.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SalesDocument
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
