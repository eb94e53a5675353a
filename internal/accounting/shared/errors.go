package shared

import "errors"

var (
	// ErrUnbalanced indicates debit != credit. This is a caller bug,
	// never user input; it must abort the transaction.
	ErrUnbalanced = errors.New("accounting: journal lines must balance")
	// ErrNoLines indicates a posting without lines.
	ErrNoLines = errors.New("accounting: journal requires at least one line")
	// ErrPeriodClosed indicates the entry date falls inside a closed period.
	ErrPeriodClosed = errors.New("accounting: period is closed")
	// ErrPeriodOverlap indicates a candidate range intersects an existing period.
	ErrPeriodOverlap = errors.New("accounting: period overlaps an existing period")
	// ErrPeriodRange indicates start_date > end_date.
	ErrPeriodRange = errors.New("accounting: invalid period range")
	// ErrPeriodUnbalanced indicates posted debits != credits inside the range.
	ErrPeriodUnbalanced = errors.New("accounting: cannot close, journal not balanced")
	// ErrPeriodNotFound indicates missing period.
	ErrPeriodNotFound = errors.New("accounting: period not found")
	// ErrJournalNotFound indicates missing entry.
	ErrJournalNotFound = errors.New("accounting: journal entry not found")
	// ErrPostingConflict indicates a concurrent insert won the unique
	// (action, source) race. The transaction is aborted at that point;
	// a retried request resolves through the duplicate pre-check.
	ErrPostingConflict = errors.New("accounting: concurrent posting, retry")
	// ErrMappingMissing indicates an account mapping could not be resolved
	// even after provisioning. Server-side defect, not user-correctable.
	ErrMappingMissing = errors.New("accounting: account mapping missing")
)
