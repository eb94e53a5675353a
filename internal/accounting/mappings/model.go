package mappings

import "time"

// Mapping keys the engines resolve through the directory.
const (
	KeyCash           = "CASH"
	KeyBank           = "BANK"
	KeyCard           = "CARD"
	KeyMonCash        = "MONCASH"
	KeyCheque         = "CHEQUE"
	KeyAR             = "AR"
	KeySales          = "SALES"
	KeyTaxPayable     = "TAX_PAYABLE"
	KeyShippingIncome = "SHIPPING_INCOME"
	KeyInventory      = "INVENTORY"
	KeyCOGS           = "COGS"
)

// AccountMapping links a symbolic key to a ledger account, per tenant.
type AccountMapping struct {
	BusinessID int64
	Key        string
	AccountID  int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
