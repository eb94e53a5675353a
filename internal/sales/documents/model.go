package documents

import (
	"time"

	"github.com/shopspring/decimal"
)

// Document types.
const (
	TypeQuote    = "quote"
	TypeProforma = "proforma"
)

// Document statuses. Only draft, sent and accepted documents convert.
const (
	StatusDraft     = "draft"
	StatusSent      = "sent"
	StatusAccepted  = "accepted"
	StatusRejected  = "rejected"
	StatusExpired   = "expired"
	StatusConverted = "converted"
	StatusCancelled = "cancelled"
)

// Discount types, applied per line or globally.
const (
	DiscountPercent = "percent"
	DiscountFixed   = "fixed"
)

// SalesDocument is a quote or proforma: a priced offer that can later
// be converted into exactly one invoice.
type SalesDocument struct {
	ID                 int64
	BusinessID         int64
	Type               string
	Number             string
	Status             string
	CustomerID         *int64
	IssueDate          time.Time
	ExpiryDate         *time.Time
	Currency           string
	ExchangeRate       decimal.Decimal
	Reference          *string
	Title              *string
	PaymentTermsDays   int
	ShippingCost       decimal.Decimal
	DiscountType       *string
	DiscountValue      *decimal.Decimal
	DiscountAmount     decimal.Decimal
	Subtotal           decimal.Decimal
	TaxTotal           decimal.Decimal
	Total              decimal.Decimal
	Notes              *string
	Terms              *string
	ConvertedInvoiceID *int64
	SentAt             *time.Time
	AcceptedAt         *time.Time
	CreatedBy          *int64
	CreatedAt          time.Time
	UpdatedAt          time.Time

	Items []Item
}

// Item is one offer line with its own discount and tax.
type Item struct {
	ID             int64
	DocumentID     int64
	ProductID      *int64
	Name           string
	SKU            *string
	Description    *string
	Quantity       decimal.Decimal
	Unit           *string
	UnitPrice      decimal.Decimal
	DiscountType   *string
	DiscountValue  *decimal.Decimal
	DiscountAmount decimal.Decimal
	TaxRate        decimal.Decimal
	TaxAmount      decimal.Decimal
	LineSubtotal   decimal.Decimal
	LineTotal      decimal.Decimal
	SortOrder      int
}

// Convertible reports whether the current status allows conversion.
func (d *SalesDocument) Convertible() bool {
	switch d.Status {
	case StatusDraft, StatusSent, StatusAccepted:
		return true
	}
	return false
}
