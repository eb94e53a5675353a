package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Action enumerates the posting recipes. The pair (action, source)
// identifies a posting event exactly once.
type Action string

const (
	ActionInvoiceIssued   Action = "invoice_issued"
	ActionInvoicePayment  Action = "invoice_payment"
	ActionInvoiceVoid     Action = "invoice_void"
	ActionInvoiceRefund   Action = "invoice_refund"
	ActionInvoiceCOGS     Action = "invoice_cogs"
	ActionInvoiceCOGSVoid Action = "invoice_cogs_void"
)

// EntryStatus enumerates journal entry lifecycle values. Entries are
// never edited; a reversing entry flips the original to reversed.
type EntryStatus string

const (
	EntryStatusPosted   EntryStatus = "posted"
	EntryStatusReversed EntryStatus = "reversed"
)

// SourceType values for the polymorphic source reference.
const (
	SourceTypeInvoice        = "Invoice"
	SourceTypeInvoicePayment = "InvoicePayment"
)

// JournalEntry is one posting event with its balanced line set.
type JournalEntry struct {
	ID              int64
	BusinessID      int64
	EntryDate       time.Time
	Action          Action
	Status          EntryStatus
	Memo            string
	SourceType      string
	SourceID        int64
	Currency        string
	ExchangeRate    decimal.Decimal
	TotalDebit      decimal.Decimal
	TotalCredit     decimal.Decimal
	ReversesEntryID *int64
	PostedBy        *int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Lines           []JournalLine
}

// JournalLine is one leg of an entry. Exactly one of Debit/Credit is
// nonzero. Lines are created atomically with their parent and never
// mutated; corrections are new reversing entries.
type JournalLine struct {
	ID          int64
	EntryID     int64
	LineNo      int
	AccountID   int64
	Description string
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	CustomerID  *int64
	VendorID    *int64
}
