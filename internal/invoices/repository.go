package invoices

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

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

func (r *Repository) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return db.WithTx(ctx, r.pool, fn)
}

const invoiceColumns = `id, business_id, number, status, customer_id, issue_date, due_date, currency, exchange_rate,
title, notes, subtotal, tax_total, shipping_cost, discount_total, total, amount_paid, balance_due,
paid_at, voided_at, voided_by, created_by, source_document_type, source_document_id, created_at, updated_at`

func scanInvoice(row pgx.Row) (Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.BusinessID, &inv.Number, &inv.Status, &inv.CustomerID, &inv.IssueDate, &inv.DueDate,
		&inv.Currency, &inv.ExchangeRate, &inv.Title, &inv.Notes, &inv.Subtotal, &inv.TaxTotal, &inv.ShippingCost,
		&inv.DiscountTotal, &inv.Total, &inv.AmountPaid, &inv.BalanceDue, &inv.PaidAt, &inv.VoidedAt, &inv.VoidedBy,
		&inv.CreatedBy, &inv.SourceDocumentType, &inv.SourceDocumentID, &inv.CreatedAt, &inv.UpdatedAt)
	return inv, err
}

func (r *Repository) Get(ctx context.Context, q db.Querier, scope shared.Scope, id int64) (*Invoice, error) {
	inv, err := scanInvoice(q.QueryRow(ctx, `
SELECT `+invoiceColumns+` FROM invoices WHERE business_id=$1 AND id=$2`, scope.BusinessID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &inv, nil
}

// GetForUpdate locks the invoice row. Always taken before any product
// lock in the same transaction.
func (r *Repository) GetForUpdate(ctx context.Context, q db.Querier, scope shared.Scope, id int64) (*Invoice, error) {
	inv, err := scanInvoice(q.QueryRow(ctx, `
SELECT `+invoiceColumns+` FROM invoices WHERE business_id=$1 AND id=$2 FOR UPDATE`, scope.BusinessID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &inv, nil
}

// GetWithDetails loads the invoice plus items and payments.
func (r *Repository) GetWithDetails(ctx context.Context, q db.Querier, scope shared.Scope, id int64) (*Invoice, error) {
	inv, err := r.Get(ctx, q, scope, id)
	if err != nil {
		return nil, err
	}
	if inv.Items, err = r.ListItems(ctx, q, scope, id); err != nil {
		return nil, err
	}
	if inv.Payments, err = r.ListPayments(ctx, q, scope, id); err != nil {
		return nil, err
	}
	return inv, nil
}

func (r *Repository) Insert(ctx context.Context, q db.Querier, scope shared.Scope, inv *Invoice) error {
	inv.BusinessID = scope.BusinessID
	return q.QueryRow(ctx, `
INSERT INTO invoices
  (business_id, number, status, customer_id, issue_date, due_date, currency, exchange_rate, title, notes,
   subtotal, tax_total, shipping_cost, discount_total, total, amount_paid, balance_due,
   created_by, source_document_type, source_document_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
RETURNING id, created_at, updated_at`,
		scope.BusinessID, inv.Number, inv.Status, inv.CustomerID, inv.IssueDate, inv.DueDate, inv.Currency,
		inv.ExchangeRate, inv.Title, inv.Notes, inv.Subtotal, inv.TaxTotal, inv.ShippingCost, inv.DiscountTotal,
		inv.Total, inv.AmountPaid, inv.BalanceDue, inv.CreatedBy, inv.SourceDocumentType, inv.SourceDocumentID).
		Scan(&inv.ID, &inv.CreatedAt, &inv.UpdatedAt)
}

func (r *Repository) InsertItem(ctx context.Context, q db.Querier, scope shared.Scope, item *Item) error {
	return q.QueryRow(ctx, `
INSERT INTO invoice_items
  (business_id, invoice_id, product_id, name, sku, quantity, unit_price, unit_cost,
   tax_rate, tax_amount, line_subtotal, line_total, line_cost_total, sort_order)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
RETURNING id`,
		scope.BusinessID, item.InvoiceID, item.ProductID, item.Name, item.SKU, item.Quantity, item.UnitPrice,
		item.UnitCost, item.TaxRate, item.TaxAmount, item.LineSubtotal, item.LineTotal, item.LineCostTotal,
		item.SortOrder).Scan(&item.ID)
}

func (r *Repository) ListItems(ctx context.Context, q db.Querier, scope shared.Scope, invoiceID int64) ([]Item, error) {
	rows, err := q.Query(ctx, `
SELECT id, invoice_id, product_id, name, sku, quantity, unit_price, unit_cost,
       tax_rate, tax_amount, line_subtotal, line_total, line_cost_total, sort_order
FROM invoice_items WHERE business_id=$1 AND invoice_id=$2 ORDER BY sort_order ASC, id ASC`,
		scope.BusinessID, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.InvoiceID, &it.ProductID, &it.Name, &it.SKU, &it.Quantity, &it.UnitPrice,
			&it.UnitCost, &it.TaxRate, &it.TaxAmount, &it.LineSubtotal, &it.LineTotal, &it.LineCostTotal,
			&it.SortOrder); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *Repository) InsertPayment(ctx context.Context, q db.Querier, scope shared.Scope, p *Payment) error {
	p.BusinessID = scope.BusinessID
	return q.QueryRow(ctx, `
INSERT INTO invoice_payments
  (business_id, invoice_id, kind, method, amount, currency, exchange_rate, paid_at, reference, received_by, notes)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
RETURNING id, created_at`,
		scope.BusinessID, p.InvoiceID, p.Kind, p.Method, p.Amount, p.Currency, p.ExchangeRate, p.PaidAt,
		p.Reference, p.ReceivedBy, p.Notes).Scan(&p.ID, &p.CreatedAt)
}

func (r *Repository) ListPayments(ctx context.Context, q db.Querier, scope shared.Scope, invoiceID int64) ([]Payment, error) {
	rows, err := q.Query(ctx, `
SELECT id, business_id, invoice_id, kind, method, amount, currency, exchange_rate, paid_at, reference, received_by, notes, created_at
FROM invoice_payments WHERE business_id=$1 AND invoice_id=$2 ORDER BY id DESC`,
		scope.BusinessID, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.BusinessID, &p.InvoiceID, &p.Kind, &p.Method, &p.Amount, &p.Currency,
			&p.ExchangeRate, &p.PaidAt, &p.Reference, &p.ReceivedBy, &p.Notes, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// FinancialUpdate carries the recomputed payment state.
type FinancialUpdate struct {
	Status     string
	AmountPaid decimal.Decimal
	BalanceDue decimal.Decimal
	PaidAt     *time.Time
}

func (r *Repository) UpdateFinancials(ctx context.Context, q db.Querier, scope shared.Scope, invoiceID int64, u FinancialUpdate) error {
	cmd, err := q.Exec(ctx, `
UPDATE invoices SET status=$3, amount_paid=$4, balance_due=$5, paid_at=$6, updated_at=NOW()
WHERE business_id=$1 AND id=$2`,
		scope.BusinessID, invoiceID, u.Status, u.AmountPaid, u.BalanceDue, u.PaidAt)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// UpdateTotals writes the computed totals after item insertion.
func (r *Repository) UpdateTotals(ctx context.Context, q db.Querier, scope shared.Scope, inv *Invoice) error {
	cmd, err := q.Exec(ctx, `
UPDATE invoices SET status=$3, subtotal=$4, tax_total=$5, shipping_cost=$6, discount_total=$7, total=$8,
  amount_paid=$9, balance_due=$10, paid_at=$11, updated_at=NOW()
WHERE business_id=$1 AND id=$2`,
		scope.BusinessID, inv.ID, inv.Status, inv.Subtotal, inv.TaxTotal, inv.ShippingCost, inv.DiscountTotal,
		inv.Total, inv.AmountPaid, inv.BalanceDue, inv.PaidAt)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *Repository) MarkVoid(ctx context.Context, q db.Querier, scope shared.Scope, invoiceID int64, at time.Time, by *int64) error {
	cmd, err := q.Exec(ctx, `
UPDATE invoices SET status=$3, voided_at=$4, voided_by=$5, amount_paid=0, balance_due=0, paid_at=NULL, updated_at=NOW()
WHERE business_id=$1 AND id=$2`,
		scope.BusinessID, invoiceID, StatusVoid, at, by)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// NextDocumentNumber reserves the next formatted number for a document
// type, creating the sequence row on first use. The sequence row lock
// serializes concurrent numbering.
func (r *Repository) NextDocumentNumber(ctx context.Context, q db.Querier, scope shared.Scope, docType, defaultPrefix string) (string, error) {
	if _, err := q.Exec(ctx, `
INSERT INTO document_sequences (business_id, type, prefix, next_number, padding)
VALUES ($1,$2,$3,1,6)
ON CONFLICT (business_id, type) DO NOTHING`,
		scope.BusinessID, docType, defaultPrefix); err != nil {
		return "", err
	}

	var (
		id         int64
		nextNumber int64
		padding    int
		prefix     string
	)
	err := q.QueryRow(ctx, `
SELECT id, next_number, padding, prefix FROM document_sequences
WHERE business_id=$1 AND type=$2 FOR UPDATE`,
		scope.BusinessID, docType).Scan(&id, &nextNumber, &padding, &prefix)
	if err != nil {
		return "", fmt.Errorf("invoices: document sequence %s: %w", docType, err)
	}
	if padding < 1 {
		padding = 6
	}
	if _, err := q.Exec(ctx, `
UPDATE document_sequences SET next_number=$2, updated_at=NOW() WHERE id=$1`, id, nextNumber+1); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%0*d", prefix, padding, nextNumber), nil
}

// ListFilter narrows List.
type ListFilter struct {
	Status     string
	CustomerID int64
	From       time.Time
	To         time.Time
	Limit      int
	Offset     int
}

func (r *Repository) List(ctx context.Context, scope shared.Scope, filter ListFilter) ([]Invoice, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + invoiceColumns + ` FROM invoices WHERE business_id=$1`)
	args := []any{scope.BusinessID}
	if filter.Status != "" {
		args = append(args, filter.Status)
		fmt.Fprintf(&sb, ` AND status=$%d`, len(args))
	}
	if filter.CustomerID != 0 {
		args = append(args, filter.CustomerID)
		fmt.Fprintf(&sb, ` AND customer_id=$%d`, len(args))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		fmt.Fprintf(&sb, ` AND issue_date >= $%d`, len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		fmt.Fprintf(&sb, ` AND issue_date <= $%d`, len(args))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	args = append(args, limit)
	fmt.Fprintf(&sb, ` ORDER BY id DESC LIMIT $%d`, len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		fmt.Fprintf(&sb, ` OFFSET $%d`, len(args))
	}

	rows, err := r.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}
