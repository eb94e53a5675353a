package invoices

import "errors"

var (
	// ErrInvoiceNotPayable rejects payments against void or refunded
	// invoices.
	ErrInvoiceNotPayable = errors.New("invoices: invoice cannot accept payments")

	// ErrPaymentExceedsBalance rejects overpayment.
	ErrPaymentExceedsBalance = errors.New("invoices: payment exceeds remaining balance")

	// ErrRefundExceedsPaid rejects refunding more than was paid.
	ErrRefundExceedsPaid = errors.New("invoices: refund exceeds paid amount")

	// ErrNothingPaid rejects a refund when no payment was recorded.
	ErrNothingPaid = errors.New("invoices: no paid amount available to refund")

	// ErrVoidWithPayments requires refunding before voiding.
	ErrVoidWithPayments = errors.New("invoices: refund payments before voiding")

	// ErrZeroTotal rejects creating an invoice whose total is not
	// positive.
	ErrZeroTotal = errors.New("invoices: total must be greater than zero")

	// ErrCashReceivedShort rejects a cash checkout where the received
	// amount does not cover the payment.
	ErrCashReceivedShort = errors.New("invoices: cash received is less than payment amount")
)
