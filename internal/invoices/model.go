package invoices

import (
	"time"

	"github.com/shopspring/decimal"
)

// Invoice status values. Status is derived from payment state; only
// void and refunded are terminal for payments.
const (
	StatusIssued        = "issued"
	StatusPartiallyPaid = "partially_paid"
	StatusPaid          = "paid"
	StatusRefunded      = "refunded"
	StatusVoid          = "void"
)

// Payment kinds.
const (
	KindPayment = "payment"
	KindRefund  = "refund"
)

// Invoice carries the financial state of one sale.
// amount_paid + balance_due always equals total, except void where
// both are zeroed.
type Invoice struct {
	ID           int64
	BusinessID   int64
	Number       string
	Status       string
	CustomerID   *int64
	IssueDate    time.Time
	DueDate      time.Time
	Currency     string
	ExchangeRate decimal.Decimal
	Title        string
	Notes        *string
	Subtotal     decimal.Decimal
	TaxTotal     decimal.Decimal
	ShippingCost decimal.Decimal
	DiscountTotal decimal.Decimal
	Total        decimal.Decimal
	AmountPaid   decimal.Decimal
	BalanceDue   decimal.Decimal
	PaidAt       *time.Time
	VoidedAt     *time.Time
	VoidedBy     *int64
	CreatedBy    *int64
	SourceDocumentType *string
	SourceDocumentID   *int64
	CreatedAt    time.Time
	UpdatedAt    time.Time

	Items    []Item
	Payments []Payment
}

// Item is one invoice line with the cost snapshot taken at issue time.
type Item struct {
	ID            int64
	InvoiceID     int64
	ProductID     *int64
	Name          string
	SKU           *string
	Quantity      decimal.Decimal
	UnitPrice     decimal.Decimal
	UnitCost      decimal.Decimal
	TaxRate       decimal.Decimal
	TaxAmount     decimal.Decimal
	LineSubtotal  decimal.Decimal
	LineTotal     decimal.Decimal
	LineCostTotal decimal.Decimal
	SortOrder     int
}

// Payment is one settlement or refund leg.
type Payment struct {
	ID           int64
	BusinessID   int64
	InvoiceID    int64
	Kind         string
	Method       string
	Amount       decimal.Decimal
	Currency     string
	ExchangeRate decimal.Decimal
	PaidAt       time.Time
	Reference    *string
	ReceivedBy   *int64
	Notes        *string
	CreatedAt    time.Time
}

// CostTotal sums the cost snapshots of all items.
func (inv *Invoice) CostTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range inv.Items {
		total = total.Add(item.LineCostTotal)
	}
	return total
}
