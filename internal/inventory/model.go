package inventory

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is a sellable item. Stock is the live on-hand quantity,
// maintained only when TrackInventory is set; products without
// tracking pass through stock flows untouched.
type Product struct {
	ID             int64
	BusinessID     int64
	Name           string
	SKU            string
	Price          decimal.Decimal
	CostPrice      decimal.Decimal
	TrackInventory bool
	Stock          decimal.Decimal
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Movement direction values.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// Movement reason values written by the engine.
const (
	ReasonInvoiceIssue     = "invoice_issue"
	ReasonInvoiceVoid      = "invoice_void"
	ReasonManualAdjustment = "manual_adjustment"
)

// SourceTypeManual marks adjustments with no backing document.
const SourceTypeManual = "ManualAdjustment"

// StockMovement is one append-only quantity change. Movements are
// never edited or deleted; the product's stock column is the rolling
// result.
type StockMovement struct {
	ID         int64
	BusinessID int64
	ProductID  int64
	Direction  string
	Reason     string
	Quantity   decimal.Decimal
	UnitCost   decimal.Decimal
	SourceType *string
	SourceID   *int64
	CreatedBy  *int64
	Notes      *string
	CreatedAt  time.Time
}
