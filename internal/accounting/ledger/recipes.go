package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-pos/meridian-pos/internal/accounting/mappings"
	"github.com/meridian-pos/meridian-pos/internal/platform/db"
	"github.com/meridian-pos/meridian-pos/internal/shared"
)

// paymentMethodKeys maps invoice payment methods to directory account
// keys. Unknown methods settle against cash.
var paymentMethodKeys = map[string]string{
	"cash":    mappings.KeyCash,
	"bank":    mappings.KeyBank,
	"card":    mappings.KeyCard,
	"moncash": mappings.KeyMonCash,
	"cheque":  mappings.KeyCheque,
	"other":   mappings.KeyCash,
}

func PaymentMethodKey(method string) string {
	if key, ok := paymentMethodKeys[method]; ok {
		return key
	}
	return mappings.KeyCash
}

// InvoiceIssuedInput carries the invoice totals the issuance recipe
// needs. Amounts are the invoice's stored values, not recomputed here.
type InvoiceIssuedInput struct {
	InvoiceID    int64
	Number       string
	CustomerID   *int64
	IssueDate    time.Time
	Currency     string
	ExchangeRate decimal.Decimal
	Subtotal     decimal.Decimal
	TaxTotal     decimal.Decimal
	ShippingCost decimal.Decimal
	Total        decimal.Decimal
}

// PostInvoiceIssued records revenue recognition for a newly issued
// invoice: receivable against sales, tax payable and shipping income.
func (e *Engine) PostInvoiceIssued(ctx context.Context, q db.Querier, scope shared.Scope, in InvoiceIssuedInput) (*JournalEntry, error) {
	lines := []PostingLine{{
		AccountKey:  mappings.KeyAR,
		Debit:       in.Total,
		Description: fmt.Sprintf("Invoice %s issued", in.Number),
		CustomerID:  in.CustomerID,
	}}
	if in.Subtotal.IsPositive() {
		lines = append(lines, PostingLine{
			AccountKey:  mappings.KeySales,
			Credit:      in.Subtotal,
			Description: fmt.Sprintf("Sales - %s", in.Number),
			CustomerID:  in.CustomerID,
		})
	}
	if in.TaxTotal.IsPositive() {
		lines = append(lines, PostingLine{
			AccountKey:  mappings.KeyTaxPayable,
			Credit:      in.TaxTotal,
			Description: fmt.Sprintf("Tax - %s", in.Number),
			CustomerID:  in.CustomerID,
		})
	}
	if in.ShippingCost.IsPositive() {
		lines = append(lines, PostingLine{
			AccountKey:  mappings.KeyShippingIncome,
			Credit:      in.ShippingCost,
			Description: fmt.Sprintf("Shipping - %s", in.Number),
			CustomerID:  in.CustomerID,
		})
	}
	return e.Post(ctx, q, scope, PostingInput{
		Action:       ActionInvoiceIssued,
		SourceType:   SourceTypeInvoice,
		SourceID:     in.InvoiceID,
		EntryDate:    in.IssueDate,
		Currency:     in.Currency,
		ExchangeRate: in.ExchangeRate,
		Memo:         fmt.Sprintf("Invoice %s issued", in.Number),
		Lines:        lines,
	})
}

// PaymentInput describes a payment or refund leg against an invoice.
type PaymentInput struct {
	PaymentID     int64
	InvoiceNumber string
	CustomerID    *int64
	Method        string
	Amount        decimal.Decimal
	Currency      string
	ExchangeRate  decimal.Decimal
	PaidAt        time.Time
}

// PostInvoicePayment settles part of a receivable into the account
// matching the payment method.
func (e *Engine) PostInvoicePayment(ctx context.Context, q db.Querier, scope shared.Scope, in PaymentInput) (*JournalEntry, error) {
	return e.Post(ctx, q, scope, PostingInput{
		Action:       ActionInvoicePayment,
		SourceType:   SourceTypeInvoicePayment,
		SourceID:     in.PaymentID,
		EntryDate:    in.PaidAt,
		Currency:     in.Currency,
		ExchangeRate: in.ExchangeRate,
		Memo:         fmt.Sprintf("Payment received for %s", in.InvoiceNumber),
		Lines: []PostingLine{
			{
				AccountKey:  PaymentMethodKey(in.Method),
				Debit:       in.Amount,
				Description: fmt.Sprintf("Payment %d for %s", in.PaymentID, in.InvoiceNumber),
				CustomerID:  in.CustomerID,
			},
			{
				AccountKey:  mappings.KeyAR,
				Credit:      in.Amount,
				Description: fmt.Sprintf("A/R settlement %s", in.InvoiceNumber),
				CustomerID:  in.CustomerID,
			},
		},
	})
}

// PostInvoiceRefund is the mirror of a payment: money leaves the
// payment account and the receivable is restored.
func (e *Engine) PostInvoiceRefund(ctx context.Context, q db.Querier, scope shared.Scope, in PaymentInput) (*JournalEntry, error) {
	return e.Post(ctx, q, scope, PostingInput{
		Action:       ActionInvoiceRefund,
		SourceType:   SourceTypeInvoicePayment,
		SourceID:     in.PaymentID,
		EntryDate:    in.PaidAt,
		Currency:     in.Currency,
		ExchangeRate: in.ExchangeRate,
		Memo:         fmt.Sprintf("Refund issued for %s", in.InvoiceNumber),
		Lines: []PostingLine{
			{
				AccountKey:  mappings.KeyAR,
				Debit:       in.Amount,
				Description: fmt.Sprintf("Refund for %s", in.InvoiceNumber),
				CustomerID:  in.CustomerID,
			},
			{
				AccountKey:  PaymentMethodKey(in.Method),
				Credit:      in.Amount,
				Description: fmt.Sprintf("Cash/Bank out - refund %s", in.InvoiceNumber),
				CustomerID:  in.CustomerID,
			},
		},
	})
}

// PostInvoiceVoid reverses the issuance entry. The issuance entry must
// exist; voiding an invoice that never posted is a caller bug.
func (e *Engine) PostInvoiceVoid(ctx context.Context, q db.Querier, scope shared.Scope, invoiceID int64, number string, at time.Time) (*JournalEntry, error) {
	return e.Reverse(ctx, q, scope, ActionInvoiceIssued, SourceTypeInvoice, invoiceID,
		ActionInvoiceVoid, at, fmt.Sprintf("Void invoice %s", number))
}

// COGSInput carries the cost side of an invoice.
type COGSInput struct {
	InvoiceID    int64
	Number       string
	CustomerID   *int64
	IssueDate    time.Time
	Currency     string
	ExchangeRate decimal.Decimal
	CostTotal    decimal.Decimal
}

// cogsSkipThreshold matches the float guard the cost totals were
// historically compared against.
var cogsSkipThreshold = decimal.New(1, -5)

// PostInvoiceCOGS moves sold cost out of inventory into cost of goods
// sold. Returns (nil, nil) when the invoice carries no tracked cost.
func (e *Engine) PostInvoiceCOGS(ctx context.Context, q db.Querier, scope shared.Scope, in COGSInput) (*JournalEntry, error) {
	if in.CostTotal.LessThanOrEqual(cogsSkipThreshold) {
		return nil, nil
	}
	return e.Post(ctx, q, scope, PostingInput{
		Action:       ActionInvoiceCOGS,
		SourceType:   SourceTypeInvoice,
		SourceID:     in.InvoiceID,
		EntryDate:    in.IssueDate,
		Currency:     in.Currency,
		ExchangeRate: in.ExchangeRate,
		Memo:         fmt.Sprintf("COGS for %s", in.Number),
		Lines: []PostingLine{
			{
				AccountKey:  mappings.KeyCOGS,
				Debit:       in.CostTotal,
				Description: fmt.Sprintf("COGS %s", in.Number),
				CustomerID:  in.CustomerID,
			},
			{
				AccountKey:  mappings.KeyInventory,
				Credit:      in.CostTotal,
				Description: fmt.Sprintf("Inventory decrease %s", in.Number),
				CustomerID:  in.CustomerID,
			},
		},
	})
}

// PostInvoiceCOGSVoid reverses the cogs entry. Returns
// ErrJournalNotFound when no cogs entry exists; callers voiding an
// invoice that sold no tracked cost treat that as nothing to reverse.
func (e *Engine) PostInvoiceCOGSVoid(ctx context.Context, q db.Querier, scope shared.Scope, invoiceID int64, number string, at time.Time) (*JournalEntry, error) {
	return e.Reverse(ctx, q, scope, ActionInvoiceCOGS, SourceTypeInvoice, invoiceID,
		ActionInvoiceCOGSVoid, at, fmt.Sprintf("Reverse COGS for %s", number))
}
