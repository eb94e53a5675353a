package inventory

import "errors"

var (
	// ErrInsufficientStock rejects an issue or decrease beyond the
	// available quantity of a tracked product.
	ErrInsufficientStock = errors.New("inventory: insufficient stock")

	// ErrNotTracked rejects manual adjustments on untracked products.
	ErrNotTracked = errors.New("inventory: product does not track inventory")

	// ErrNoChange rejects a set adjustment whose target equals the
	// current stock.
	ErrNoChange = errors.New("inventory: no stock change detected")

	// ErrInvalidQuantity rejects non-positive adjustment quantities.
	ErrInvalidQuantity = errors.New("inventory: quantity must be greater than zero")
)
