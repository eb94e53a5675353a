package accounts

import "time"

// AccountType enumerates the chart of accounts categories.
type AccountType string

const (
	AccountTypeAsset     AccountType = "asset"
	AccountTypeLiability AccountType = "liability"
	AccountTypeEquity    AccountType = "equity"
	AccountTypeIncome    AccountType = "income"
	AccountTypeExpense   AccountType = "expense"
)

// NormalBalance is the side on which an account's balance is
// conventionally positive.
type NormalBalance string

const (
	NormalBalanceDebit  NormalBalance = "debit"
	NormalBalanceCredit NormalBalance = "credit"
)

// Account models a tenant-scoped ledger account. Accounts are never
// deleted, only deactivated.
type Account struct {
	ID            int64
	BusinessID    int64
	Code          string
	Name          string
	Type          AccountType
	Subtype       string
	NormalBalance NormalBalance
	IsSystem      bool
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
