package documents

import "errors"

var (
	// ErrAlreadyConverted rejects converting a document whose invoice
	// still exists.
	ErrAlreadyConverted = errors.New("documents: document already converted")

	// ErrNotConvertible rejects conversion from a non-convertible
	// status.
	ErrNotConvertible = errors.New("documents: document not convertible in current status")

	// ErrNoItems rejects converting a document without any positive
	// quantity line.
	ErrNoItems = errors.New("documents: document has no items to convert")

	// ErrZeroTotal rejects a conversion whose computed invoice total is
	// not positive.
	ErrZeroTotal = errors.New("documents: invoice total must be greater than zero")

	// ErrDiscountPair requires discount type and value together.
	ErrDiscountPair = errors.New("documents: provide discount type and value together")

	// ErrBadType rejects unknown document types.
	ErrBadType = errors.New("documents: type must be quote or proforma")
)
