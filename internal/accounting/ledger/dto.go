package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	acctshared "github.com/meridian-pos/meridian-pos/internal/accounting/shared"
)

// PostingLine describes one leg of a posting request. AccountKey is
// resolved through the account directory at posting time.
type PostingLine struct {
	AccountKey  string
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	Description string
	CustomerID  *int64
	VendorID    *int64
}

// PostingInput groups the fields required to post a journal entry.
type PostingInput struct {
	Action       Action
	SourceType   string
	SourceID     int64
	EntryDate    time.Time
	Currency     string
	ExchangeRate decimal.Decimal
	Memo         string
	Lines        []PostingLine
}

// Validate checks structural requirements. The balance invariant is
// re-checked on the resolved lines before insert.
func (in PostingInput) Validate() error {
	if in.Action == "" {
		return fmt.Errorf("ledger: action required")
	}
	if in.SourceType == "" || in.SourceID == 0 {
		return fmt.Errorf("ledger: source reference required")
	}
	if len(in.Lines) == 0 {
		return acctshared.ErrNoLines
	}
	for idx, line := range in.Lines {
		if line.AccountKey == "" {
			return fmt.Errorf("ledger: line %d missing account key", idx)
		}
		if line.Debit.IsNegative() || line.Credit.IsNegative() {
			return fmt.Errorf("ledger: line %d negative amount", idx)
		}
		if line.Debit.IsPositive() && line.Credit.IsPositive() {
			return fmt.Errorf("ledger: line %d cannot be both debit and credit", idx)
		}
	}
	return nil
}
