package invoices

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/meridian-pos/meridian-pos/internal/accounting/ledger"
	acctshared "github.com/meridian-pos/meridian-pos/internal/accounting/shared"
	"github.com/meridian-pos/meridian-pos/internal/audit"
	"github.com/meridian-pos/meridian-pos/internal/inventory"
	"github.com/meridian-pos/meridian-pos/internal/platform/db"
	"github.com/meridian-pos/meridian-pos/internal/shared"
)

// Store is the invoice persistence surface.
type Store interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
	Get(ctx context.Context, q db.Querier, scope shared.Scope, id int64) (*Invoice, error)
	GetForUpdate(ctx context.Context, q db.Querier, scope shared.Scope, id int64) (*Invoice, error)
	GetWithDetails(ctx context.Context, q db.Querier, scope shared.Scope, id int64) (*Invoice, error)
	Insert(ctx context.Context, q db.Querier, scope shared.Scope, inv *Invoice) error
	InsertItem(ctx context.Context, q db.Querier, scope shared.Scope, item *Item) error
	ListItems(ctx context.Context, q db.Querier, scope shared.Scope, invoiceID int64) ([]Item, error)
	InsertPayment(ctx context.Context, q db.Querier, scope shared.Scope, p *Payment) error
	UpdateFinancials(ctx context.Context, q db.Querier, scope shared.Scope, invoiceID int64, u FinancialUpdate) error
	UpdateTotals(ctx context.Context, q db.Querier, scope shared.Scope, inv *Invoice) error
	MarkVoid(ctx context.Context, q db.Querier, scope shared.Scope, invoiceID int64, at time.Time, by *int64) error
	NextDocumentNumber(ctx context.Context, q db.Querier, scope shared.Scope, docType, defaultPrefix string) (string, error)
	List(ctx context.Context, scope shared.Scope, filter ListFilter) ([]Invoice, error)
}

// LedgerPort is the posting engine surface the workflows drive.
type LedgerPort interface {
	PostInvoiceIssued(ctx context.Context, q db.Querier, scope shared.Scope, in ledger.InvoiceIssuedInput) (*ledger.JournalEntry, error)
	PostInvoicePayment(ctx context.Context, q db.Querier, scope shared.Scope, in ledger.PaymentInput) (*ledger.JournalEntry, error)
	PostInvoiceRefund(ctx context.Context, q db.Querier, scope shared.Scope, in ledger.PaymentInput) (*ledger.JournalEntry, error)
	PostInvoiceVoid(ctx context.Context, q db.Querier, scope shared.Scope, invoiceID int64, number string, at time.Time) (*ledger.JournalEntry, error)
	PostInvoiceCOGS(ctx context.Context, q db.Querier, scope shared.Scope, in ledger.COGSInput) (*ledger.JournalEntry, error)
	PostInvoiceCOGSVoid(ctx context.Context, q db.Querier, scope shared.Scope, invoiceID int64, number string, at time.Time) (*ledger.JournalEntry, error)
}

// StockPort is the inventory engine surface.
type StockPort interface {
	IssueStock(ctx context.Context, q db.Querier, scope shared.Scope, in inventory.IssueInput) error
	VoidStock(ctx context.Context, q db.Querier, scope shared.Scope, in inventory.IssueInput) error
}

// ProductPort resolves product snapshots for line costing.
type ProductPort interface {
	GetProduct(ctx context.Context, q db.Querier, scope shared.Scope, id int64) (*inventory.Product, error)
}

// AuditPort records invoice lifecycle events.
type AuditPort interface {
	Record(ctx context.Context, q db.Querier, scope shared.Scope, entry audit.Entry) error
}

// Service is the invoice financial state machine. Every transition
// runs in one transaction, locking the invoice row first and product
// rows second.
type Service struct {
	store    Store
	ledger   LedgerPort
	stock    StockPort
	products ProductPort
	audit    AuditPort
	logger   *slog.Logger
	now      shared.Clock
}

func NewService(store Store, ledgerPort LedgerPort, stockPort StockPort, products ProductPort, auditPort AuditPort, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		ledger:   ledgerPort,
		stock:    stockPort,
		products: products,
		audit:    auditPort,
		logger:   logger,
		now:      shared.UTCNow,
	}
}

func (s *Service) WithNow(now shared.Clock) {
	s.now = now
}

// CreateLine is one requested sale line. ProductID nil means a
// free-form service line with no stock or cost effect.
type CreateLine struct {
	ProductID *int64
	Name      string
	SKU       *string
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
	TaxRate   decimal.Decimal
}

// PaymentRequest is the optional settlement taken at checkout.
type PaymentRequest struct {
	Method       string
	Amount       decimal.Decimal
	CashReceived decimal.Decimal
	Reference    *string
}

// CreateInput describes a checkout.
type CreateInput struct {
	CustomerID *int64
	Notes      *string
	Currency   string
	Lines      []CreateLine
	Payment    *PaymentRequest
}

// Create runs a sale checkout end to end: number the invoice, snapshot
// item costs, issue stock, post revenue and cost entries and take the
// optional first payment.
func (s *Service) Create(ctx context.Context, scope shared.Scope, in CreateInput) (*Invoice, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if len(in.Lines) == 0 {
		return nil, fmt.Errorf("invoices: at least one line required")
	}

	var result *Invoice
	err := s.store.WithTx(ctx, func(tx pgx.Tx) error {
		now := s.now()
		number, err := s.store.NextDocumentNumber(ctx, tx, scope, "sale", "TKT-")
		if err != nil {
			return err
		}

		currency := in.Currency
		if currency == "" {
			currency = "USD"
		}

		inv := &Invoice{
			Number:       number,
			Status:       StatusIssued,
			CustomerID:   in.CustomerID,
			IssueDate:    now,
			DueDate:      now,
			Currency:     currency,
			ExchangeRate: decimal.NewFromInt(1),
			Title:        "POS Sale",
			Notes:        in.Notes,
		}
		if scope.ActorID != 0 {
			actor := scope.ActorID
			inv.CreatedBy = &actor
		}
		if err := s.store.Insert(ctx, tx, scope, inv); err != nil {
			return err
		}

		subtotal := decimal.Zero
		taxTotal := decimal.Zero
		costTotal := decimal.Zero
		var stockLines []inventory.StockLine

		for i, line := range in.Lines {
			item := Item{
				InvoiceID: inv.ID,
				ProductID: line.ProductID,
				Name:      line.Name,
				SKU:       line.SKU,
				Quantity:  line.Quantity,
				UnitPrice: line.UnitPrice,
				TaxRate:   line.TaxRate,
				SortOrder: i + 1,
			}
			if line.ProductID != nil {
				product, err := s.products.GetProduct(ctx, tx, scope, *line.ProductID)
				if err != nil {
					return err
				}
				if item.Name == "" {
					item.Name = product.Name
				}
				if item.SKU == nil && product.SKU != "" {
					sku := product.SKU
					item.SKU = &sku
				}
				if item.UnitPrice.IsZero() {
					item.UnitPrice = product.Price
				}
				item.UnitCost = product.CostPrice
			}
			if item.Name == "" {
				return fmt.Errorf("invoices: line %d requires a name", i)
			}

			item.LineSubtotal = item.Quantity.Mul(item.UnitPrice).Round(2)
			item.TaxAmount = item.LineSubtotal.Mul(item.TaxRate).Div(decimal.NewFromInt(100)).Round(2)
			item.LineTotal = item.LineSubtotal.Add(item.TaxAmount).Round(2)
			item.LineCostTotal = item.UnitCost.Mul(item.Quantity).Round(2)

			if err := s.store.InsertItem(ctx, tx, scope, &item); err != nil {
				return err
			}
			inv.Items = append(inv.Items, item)

			subtotal = subtotal.Add(item.LineSubtotal)
			taxTotal = taxTotal.Add(item.TaxAmount)
			costTotal = costTotal.Add(item.LineCostTotal)

			if line.ProductID != nil {
				stockLines = append(stockLines, inventory.StockLine{
					ProductID: *line.ProductID,
					Qty:       item.Quantity,
					UnitCost:  item.UnitCost,
				})
			}
		}

		total := subtotal.Add(taxTotal).Round(2)
		if !total.IsPositive() {
			return ErrZeroTotal
		}

		if err := s.stock.IssueStock(ctx, tx, scope, inventory.IssueInput{
			SourceType: "Invoice",
			SourceID:   inv.ID,
			Lines:      stockLines,
		}); err != nil {
			return err
		}

		if _, err := s.ledger.PostInvoiceIssued(ctx, tx, scope, ledger.InvoiceIssuedInput{
			InvoiceID:    inv.ID,
			Number:       inv.Number,
			CustomerID:   inv.CustomerID,
			IssueDate:    now,
			Currency:     currency,
			ExchangeRate: inv.ExchangeRate,
			Subtotal:     subtotal,
			TaxTotal:     taxTotal,
			Total:        total,
		}); err != nil {
			return err
		}
		if _, err := s.ledger.PostInvoiceCOGS(ctx, tx, scope, ledger.COGSInput{
			InvoiceID:    inv.ID,
			Number:       inv.Number,
			CustomerID:   inv.CustomerID,
			IssueDate:    now,
			Currency:     currency,
			ExchangeRate: inv.ExchangeRate,
			CostTotal:    costTotal,
		}); err != nil {
			return err
		}

		inv.Subtotal = subtotal
		inv.TaxTotal = taxTotal
		inv.Total = total
		inv.AmountPaid = decimal.Zero
		inv.BalanceDue = total

		if in.Payment != nil {
			amount := in.Payment.Amount.Round(2)
			if amount.IsZero() || amount.GreaterThan(total) {
				amount = total
			}
			if !amount.IsPositive() {
				return ErrZeroTotal
			}
			method := ledger.PaymentMethodKey(in.Payment.Method)
			if method == "CASH" && in.Payment.CashReceived.IsPositive() &&
				in.Payment.CashReceived.Add(shared.StockEpsilon).LessThan(amount) {
				return ErrCashReceivedShort
			}

			payment := Payment{
				InvoiceID:    inv.ID,
				Kind:         KindPayment,
				Method:       in.Payment.Method,
				Amount:       amount,
				Currency:     currency,
				ExchangeRate: inv.ExchangeRate,
				PaidAt:       now,
				Reference:    in.Payment.Reference,
			}
			if scope.ActorID != 0 {
				actor := scope.ActorID
				payment.ReceivedBy = &actor
			}
			if err := s.store.InsertPayment(ctx, tx, scope, &payment); err != nil {
				return err
			}
			if _, err := s.ledger.PostInvoicePayment(ctx, tx, scope, ledger.PaymentInput{
				PaymentID:     payment.ID,
				InvoiceNumber: inv.Number,
				CustomerID:    inv.CustomerID,
				Method:        payment.Method,
				Amount:        amount,
				Currency:      currency,
				ExchangeRate:  inv.ExchangeRate,
				PaidAt:        now,
			}); err != nil {
				return err
			}

			inv.AmountPaid = amount
			inv.BalanceDue = total.Sub(amount).Round(2)
			if inv.BalanceDue.IsNegative() {
				inv.BalanceDue = decimal.Zero
			}
			if shared.MoneyZero(inv.BalanceDue) {
				inv.Status = StatusPaid
				paidAt := now
				inv.PaidAt = &paidAt
			} else {
				inv.Status = StatusPartiallyPaid
			}
			inv.Payments = append(inv.Payments, payment)
		}

		if err := s.store.UpdateTotals(ctx, tx, scope, inv); err != nil {
			return err
		}

		if err := s.audit.Record(ctx, tx, scope, audit.Entry{
			Action:     "invoice.created",
			EntityType: "invoice",
			EntityID:   inv.ID,
			After: map[string]any{
				"number": inv.Number,
				"status": inv.Status,
				"total":  inv.Total.StringFixed(2),
			},
			Meta: map[string]any{"channel": "pos"},
		}); err != nil {
			return err
		}

		result = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "invoices: created",
		slog.Int64("business_id", scope.BusinessID),
		slog.Int64("invoice_id", result.ID),
		slog.String("number", result.Number),
		slog.String("status", result.Status))
	return result, nil
}

// PaymentInput describes an incremental payment or refund.
type PaymentInput struct {
	Method    string
	Amount    decimal.Decimal
	PaidAt    time.Time
	Reference *string
	Notes     *string
}

// AddPayment settles part of the balance and rolls the status forward.
func (s *Service) AddPayment(ctx context.Context, scope shared.Scope, invoiceID int64, in PaymentInput) (*Invoice, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	var result *Invoice
	err := s.store.WithTx(ctx, func(tx pgx.Tx) error {
		inv, err := s.store.GetForUpdate(ctx, tx, scope, invoiceID)
		if err != nil {
			return err
		}
		if inv.Status == StatusVoid || inv.Status == StatusRefunded {
			return ErrInvoiceNotPayable
		}

		amount := in.Amount.Round(2)
		if !amount.IsPositive() {
			return fmt.Errorf("invoices: payment amount must be positive")
		}
		if amount.Sub(inv.BalanceDue).GreaterThan(shared.MoneyTolerance) {
			return ErrPaymentExceedsBalance
		}

		beforePaid := inv.AmountPaid
		beforeBalance := inv.BalanceDue

		paidAt := in.PaidAt
		if paidAt.IsZero() {
			paidAt = s.now()
		}
		payment := Payment{
			InvoiceID:    inv.ID,
			Kind:         KindPayment,
			Method:       in.Method,
			Amount:       amount,
			Currency:     inv.Currency,
			ExchangeRate: inv.ExchangeRate,
			PaidAt:       paidAt,
			Reference:    in.Reference,
			Notes:        in.Notes,
		}
		if scope.ActorID != 0 {
			actor := scope.ActorID
			payment.ReceivedBy = &actor
		}
		if err := s.store.InsertPayment(ctx, tx, scope, &payment); err != nil {
			return err
		}

		if _, err := s.ledger.PostInvoicePayment(ctx, tx, scope, ledger.PaymentInput{
			PaymentID:     payment.ID,
			InvoiceNumber: inv.Number,
			CustomerID:    inv.CustomerID,
			Method:        payment.Method,
			Amount:        amount,
			Currency:      payment.Currency,
			ExchangeRate:  payment.ExchangeRate,
			PaidAt:        paidAt,
		}); err != nil {
			return err
		}

		newPaid := beforePaid.Add(amount).Round(2)
		newBalance := inv.Total.Sub(newPaid).Round(2)
		if newBalance.IsNegative() {
			newBalance = decimal.Zero
		}
		update := FinancialUpdate{
			AmountPaid: newPaid,
			BalanceDue: newBalance,
		}
		if shared.MoneyZero(newBalance) {
			update.Status = StatusPaid
			stamped := s.now()
			update.PaidAt = &stamped
		} else {
			update.Status = StatusPartiallyPaid
		}
		if err := s.store.UpdateFinancials(ctx, tx, scope, inv.ID, update); err != nil {
			return err
		}

		if err := s.audit.Record(ctx, tx, scope, audit.Entry{
			Action:     "invoice.payment_added",
			EntityType: "invoice",
			EntityID:   inv.ID,
			Before: map[string]any{
				"amount_paid": beforePaid.StringFixed(2),
				"balance_due": beforeBalance.StringFixed(2),
			},
			After: map[string]any{
				"amount_paid": newPaid.StringFixed(2),
				"balance_due": newBalance.StringFixed(2),
				"status":      update.Status,
			},
			Meta: map[string]any{
				"payment_id": payment.ID,
				"method":     payment.Method,
				"amount":     amount.StringFixed(2),
			},
		}); err != nil {
			return err
		}

		inv.AmountPaid = newPaid
		inv.BalanceDue = newBalance
		inv.Status = update.Status
		inv.PaidAt = update.PaidAt
		inv.Payments = append(inv.Payments, payment)
		result = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Refund returns part of the paid amount to the customer. A refund
// that brings the paid amount back to zero marks the invoice refunded.
func (s *Service) Refund(ctx context.Context, scope shared.Scope, invoiceID int64, in PaymentInput) (*Invoice, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	var result *Invoice
	err := s.store.WithTx(ctx, func(tx pgx.Tx) error {
		inv, err := s.store.GetForUpdate(ctx, tx, scope, invoiceID)
		if err != nil {
			return err
		}
		if inv.Status == StatusVoid {
			return ErrInvoiceNotPayable
		}
		if !inv.AmountPaid.IsPositive() {
			return ErrNothingPaid
		}

		amount := in.Amount.Round(2)
		if !amount.IsPositive() {
			return fmt.Errorf("invoices: refund amount must be positive")
		}
		if amount.Sub(inv.AmountPaid).GreaterThan(shared.MoneyTolerance) {
			return ErrRefundExceedsPaid
		}

		beforePaid := inv.AmountPaid
		beforeBalance := inv.BalanceDue

		paidAt := in.PaidAt
		if paidAt.IsZero() {
			paidAt = s.now()
		}
		refund := Payment{
			InvoiceID:    inv.ID,
			Kind:         KindRefund,
			Method:       in.Method,
			Amount:       amount,
			Currency:     inv.Currency,
			ExchangeRate: inv.ExchangeRate,
			PaidAt:       paidAt,
			Reference:    in.Reference,
			Notes:        in.Notes,
		}
		if scope.ActorID != 0 {
			actor := scope.ActorID
			refund.ReceivedBy = &actor
		}
		if err := s.store.InsertPayment(ctx, tx, scope, &refund); err != nil {
			return err
		}

		if _, err := s.ledger.PostInvoiceRefund(ctx, tx, scope, ledger.PaymentInput{
			PaymentID:     refund.ID,
			InvoiceNumber: inv.Number,
			CustomerID:    inv.CustomerID,
			Method:        refund.Method,
			Amount:        amount,
			Currency:      refund.Currency,
			ExchangeRate:  refund.ExchangeRate,
			PaidAt:        paidAt,
		}); err != nil {
			return err
		}

		newPaid := beforePaid.Sub(amount).Round(2)
		if newPaid.IsNegative() {
			newPaid = decimal.Zero
		}
		newBalance := beforeBalance.Add(amount).Round(2)
		if newBalance.GreaterThan(inv.Total) {
			newBalance = inv.Total
		}
		update := FinancialUpdate{
			AmountPaid: newPaid,
			BalanceDue: newBalance,
		}
		if shared.MoneyZero(newPaid) {
			update.Status = StatusRefunded
		} else {
			update.Status = StatusPartiallyPaid
		}
		if err := s.store.UpdateFinancials(ctx, tx, scope, inv.ID, update); err != nil {
			return err
		}

		if err := s.audit.Record(ctx, tx, scope, audit.Entry{
			Action:     "invoice.refunded",
			EntityType: "invoice",
			EntityID:   inv.ID,
			Before: map[string]any{
				"amount_paid": beforePaid.StringFixed(2),
				"balance_due": beforeBalance.StringFixed(2),
			},
			After: map[string]any{
				"amount_paid": newPaid.StringFixed(2),
				"balance_due": newBalance.StringFixed(2),
				"status":      update.Status,
			},
			Meta: map[string]any{
				"refund_id": refund.ID,
				"method":    refund.Method,
				"amount":    amount.StringFixed(2),
			},
		}); err != nil {
			return err
		}

		inv.AmountPaid = newPaid
		inv.BalanceDue = newBalance
		inv.Status = update.Status
		inv.PaidAt = nil
		inv.Payments = append(inv.Payments, refund)
		result = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Void cancels an unpaid invoice: issuance and cost entries are
// reversed, stock is restored and the financial amounts zeroed.
// Voiding an already void invoice returns it unchanged.
func (s *Service) Void(ctx context.Context, scope shared.Scope, invoiceID int64) (*Invoice, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	var result *Invoice
	err := s.store.WithTx(ctx, func(tx pgx.Tx) error {
		inv, err := s.store.GetForUpdate(ctx, tx, scope, invoiceID)
		if err != nil {
			return err
		}
		if inv.Status == StatusVoid {
			result = inv
			return nil
		}
		if inv.AmountPaid.IsPositive() {
			return ErrVoidWithPayments
		}

		beforeStatus := inv.Status
		now := s.now()

		if _, err := s.ledger.PostInvoiceVoid(ctx, tx, scope, inv.ID, inv.Number, now); err != nil {
			return err
		}
		// An invoice that sold no tracked cost has no cogs entry.
		if _, err := s.ledger.PostInvoiceCOGSVoid(ctx, tx, scope, inv.ID, inv.Number, now); err != nil &&
			!errors.Is(err, acctshared.ErrJournalNotFound) {
			return err
		}

		items, err := s.store.ListItems(ctx, tx, scope, inv.ID)
		if err != nil {
			return err
		}
		var stockLines []inventory.StockLine
		for _, item := range items {
			if item.ProductID == nil {
				continue
			}
			stockLines = append(stockLines, inventory.StockLine{
				ProductID: *item.ProductID,
				Qty:       item.Quantity,
				UnitCost:  item.UnitCost,
			})
		}
		if err := s.stock.VoidStock(ctx, tx, scope, inventory.IssueInput{
			SourceType: "Invoice",
			SourceID:   inv.ID,
			Lines:      stockLines,
		}); err != nil {
			return err
		}

		var voidedBy *int64
		if scope.ActorID != 0 {
			actor := scope.ActorID
			voidedBy = &actor
		}
		if err := s.store.MarkVoid(ctx, tx, scope, inv.ID, now, voidedBy); err != nil {
			return err
		}

		if err := s.audit.Record(ctx, tx, scope, audit.Entry{
			Action:     "invoice.void",
			EntityType: "invoice",
			EntityID:   inv.ID,
			Before:     map[string]any{"status": beforeStatus},
			After:      map[string]any{"status": StatusVoid},
			Meta:       map[string]any{"invoice_number": inv.Number},
		}); err != nil {
			return err
		}

		inv.Status = StatusVoid
		inv.AmountPaid = decimal.Zero
		inv.BalanceDue = decimal.Zero
		inv.PaidAt = nil
		inv.VoidedAt = &now
		inv.VoidedBy = voidedBy
		result = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DocumentSpec describes an invoice whose totals were already computed
// by the caller, typically from a sales document's lines. Items carry
// their cost snapshots.
type DocumentSpec struct {
	SequenceType   string
	SequencePrefix string
	CustomerID     *int64
	IssueDate      time.Time
	DueDate        time.Time
	Currency       string
	ExchangeRate   decimal.Decimal
	Title          string
	Notes          *string
	Subtotal       decimal.Decimal
	TaxTotal       decimal.Decimal
	ShippingCost   decimal.Decimal
	DiscountTotal  decimal.Decimal
	Total          decimal.Decimal
	Items          []Item
	Payment        *PaymentInput
	SourceType     *string
	SourceID       *int64
}

// IssueFromSpec creates and posts an invoice inside the caller's
// transaction: numbering, item snapshots, stock issue, revenue and
// cost entries, and the optional initial payment. The caller owns the
// surrounding workflow and its audit records.
func (s *Service) IssueFromSpec(ctx context.Context, tx pgx.Tx, scope shared.Scope, spec DocumentSpec) (*Invoice, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if !spec.Total.IsPositive() {
		return nil, ErrZeroTotal
	}

	number, err := s.store.NextDocumentNumber(ctx, tx, scope, spec.SequenceType, spec.SequencePrefix)
	if err != nil {
		return nil, err
	}

	issueDate := spec.IssueDate
	if issueDate.IsZero() {
		issueDate = s.now()
	}
	dueDate := spec.DueDate
	if dueDate.IsZero() {
		dueDate = issueDate
	}
	rate := spec.ExchangeRate
	if rate.IsZero() {
		rate = decimal.NewFromInt(1)
	}

	inv := &Invoice{
		Number:             number,
		Status:             StatusIssued,
		CustomerID:         spec.CustomerID,
		IssueDate:          issueDate,
		DueDate:            dueDate,
		Currency:           spec.Currency,
		ExchangeRate:       rate,
		Title:              spec.Title,
		Notes:              spec.Notes,
		Subtotal:           spec.Subtotal,
		TaxTotal:           spec.TaxTotal,
		ShippingCost:       spec.ShippingCost,
		DiscountTotal:      spec.DiscountTotal,
		Total:              spec.Total,
		AmountPaid:         decimal.Zero,
		BalanceDue:         spec.Total,
		SourceDocumentType: spec.SourceType,
		SourceDocumentID:   spec.SourceID,
	}
	if scope.ActorID != 0 {
		actor := scope.ActorID
		inv.CreatedBy = &actor
	}
	if err := s.store.Insert(ctx, tx, scope, inv); err != nil {
		return nil, err
	}

	costTotal := decimal.Zero
	var stockLines []inventory.StockLine
	for i := range spec.Items {
		item := spec.Items[i]
		item.InvoiceID = inv.ID
		if item.SortOrder == 0 {
			item.SortOrder = i + 1
		}
		if err := s.store.InsertItem(ctx, tx, scope, &item); err != nil {
			return nil, err
		}
		inv.Items = append(inv.Items, item)
		costTotal = costTotal.Add(item.LineCostTotal)
		if item.ProductID != nil {
			stockLines = append(stockLines, inventory.StockLine{
				ProductID: *item.ProductID,
				Qty:       item.Quantity,
				UnitCost:  item.UnitCost,
			})
		}
	}

	if err := s.stock.IssueStock(ctx, tx, scope, inventory.IssueInput{
		SourceType: "Invoice",
		SourceID:   inv.ID,
		Lines:      stockLines,
	}); err != nil {
		return nil, err
	}

	if _, err := s.ledger.PostInvoiceIssued(ctx, tx, scope, ledger.InvoiceIssuedInput{
		InvoiceID:    inv.ID,
		Number:       inv.Number,
		CustomerID:   inv.CustomerID,
		IssueDate:    issueDate,
		Currency:     inv.Currency,
		ExchangeRate: rate,
		Subtotal:     spec.Subtotal,
		TaxTotal:     spec.TaxTotal,
		ShippingCost: spec.ShippingCost,
		Total:        spec.Total,
	}); err != nil {
		return nil, err
	}
	if _, err := s.ledger.PostInvoiceCOGS(ctx, tx, scope, ledger.COGSInput{
		InvoiceID:    inv.ID,
		Number:       inv.Number,
		CustomerID:   inv.CustomerID,
		IssueDate:    issueDate,
		Currency:     inv.Currency,
		ExchangeRate: rate,
		CostTotal:    costTotal,
	}); err != nil {
		return nil, err
	}

	if spec.Payment != nil && spec.Payment.Amount.IsPositive() {
		amount := spec.Payment.Amount.Round(2)
		if amount.Sub(spec.Total).GreaterThan(shared.MoneyTolerance) {
			return nil, ErrPaymentExceedsBalance
		}
		paidAt := spec.Payment.PaidAt
		if paidAt.IsZero() {
			paidAt = s.now()
		}
		payment := Payment{
			InvoiceID:    inv.ID,
			Kind:         KindPayment,
			Method:       spec.Payment.Method,
			Amount:       amount,
			Currency:     inv.Currency,
			ExchangeRate: rate,
			PaidAt:       paidAt,
			Reference:    spec.Payment.Reference,
			Notes:        spec.Payment.Notes,
		}
		if scope.ActorID != 0 {
			actor := scope.ActorID
			payment.ReceivedBy = &actor
		}
		if err := s.store.InsertPayment(ctx, tx, scope, &payment); err != nil {
			return nil, err
		}
		if _, err := s.ledger.PostInvoicePayment(ctx, tx, scope, ledger.PaymentInput{
			PaymentID:     payment.ID,
			InvoiceNumber: inv.Number,
			CustomerID:    inv.CustomerID,
			Method:        payment.Method,
			Amount:        amount,
			Currency:      inv.Currency,
			ExchangeRate:  rate,
			PaidAt:        paidAt,
		}); err != nil {
			return nil, err
		}

		inv.AmountPaid = amount
		inv.BalanceDue = spec.Total.Sub(amount).Round(2)
		if inv.BalanceDue.IsNegative() {
			inv.BalanceDue = decimal.Zero
		}
		if shared.MoneyZero(inv.BalanceDue) {
			inv.Status = StatusPaid
			inv.PaidAt = &paidAt
		} else {
			inv.Status = StatusPartiallyPaid
		}
		inv.Payments = append(inv.Payments, payment)
	}

	if err := s.store.UpdateTotals(ctx, tx, scope, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// FindInTx loads an invoice with details inside the caller's
// transaction.
func (s *Service) FindInTx(ctx context.Context, tx pgx.Tx, scope shared.Scope, invoiceID int64) (*Invoice, error) {
	return s.store.GetWithDetails(ctx, tx, scope, invoiceID)
}

// ReissueStock replays the stock issue for an existing invoice. Used
// when a converted document's invoice predates stock tracking.
func (s *Service) ReissueStock(ctx context.Context, tx pgx.Tx, scope shared.Scope, inv *Invoice) error {
	var lines []inventory.StockLine
	for _, item := range inv.Items {
		if item.ProductID == nil {
			continue
		}
		lines = append(lines, inventory.StockLine{
			ProductID: *item.ProductID,
			Qty:       item.Quantity,
			UnitCost:  item.UnitCost,
		})
	}
	return s.stock.IssueStock(ctx, tx, scope, inventory.IssueInput{
		SourceType: "Invoice",
		SourceID:   inv.ID,
		Lines:      lines,
	})
}

// Get loads an invoice with items and payments.
func (s *Service) Get(ctx context.Context, scope shared.Scope, invoiceID int64) (*Invoice, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	var result *Invoice
	err := s.store.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		result, err = s.store.GetWithDetails(ctx, tx, scope, invoiceID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// List returns invoice headers matching the filter.
func (s *Service) List(ctx context.Context, scope shared.Scope, filter ListFilter) ([]Invoice, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	return s.store.List(ctx, scope, filter)
}
