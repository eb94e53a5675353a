package shared

import "github.com/shopspring/decimal"

// Numeric tolerances shared by the financial engines.
var (
	// MoneyTolerance absorbs rounding drift on currency amounts.
	MoneyTolerance = decimal.New(1, -2) // 0.01
	// StockEpsilon absorbs rounding drift on stock quantities.
	StockEpsilon = decimal.New(1, -6) // 0.000001
)

// MoneyEqual reports whether two amounts match within MoneyTolerance.
func MoneyEqual(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().Cmp(MoneyTolerance) <= 0
}

// MoneyZero reports whether the amount is zero within MoneyTolerance.
func MoneyZero(a decimal.Decimal) bool {
	return a.Abs().Cmp(MoneyTolerance) <= 0
}

// QtyZero reports whether the quantity is zero within StockEpsilon.
func QtyZero(q decimal.Decimal) bool {
	return q.Abs().Cmp(StockEpsilon) <= 0
}
