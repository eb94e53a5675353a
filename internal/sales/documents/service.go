package documents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/meridian-pos/meridian-pos/internal/audit"
	"github.com/meridian-pos/meridian-pos/internal/inventory"
	"github.com/meridian-pos/meridian-pos/internal/invoices"
	"github.com/meridian-pos/meridian-pos/internal/platform/db"
	"github.com/meridian-pos/meridian-pos/internal/shared"
)

// Store is the document persistence surface.
type Store interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
	Get(ctx context.Context, q db.Querier, scope shared.Scope, id int64) (*SalesDocument, error)
	GetForUpdate(ctx context.Context, q db.Querier, scope shared.Scope, id int64) (*SalesDocument, error)
	Insert(ctx context.Context, q db.Querier, scope shared.Scope, d *SalesDocument) error
	UpdateTotals(ctx context.Context, q db.Querier, scope shared.Scope, d *SalesDocument) error
	ReplaceItems(ctx context.Context, q db.Querier, scope shared.Scope, documentID int64, items []Item) error
	ListItems(ctx context.Context, q db.Querier, scope shared.Scope, documentID int64) ([]Item, error)
	SetStatus(ctx context.Context, q db.Querier, scope shared.Scope, documentID int64, status string, at time.Time) error
	MarkConverted(ctx context.Context, q db.Querier, scope shared.Scope, documentID, invoiceID int64) error
	ClearConvertedLink(ctx context.Context, q db.Querier, scope shared.Scope, documentID int64) error
}

// SequencePort reserves document numbers.
type SequencePort interface {
	NextDocumentNumber(ctx context.Context, q db.Querier, scope shared.Scope, docType, defaultPrefix string) (string, error)
}

// InvoicePort is the invoice engine surface conversion drives.
type InvoicePort interface {
	IssueFromSpec(ctx context.Context, tx pgx.Tx, scope shared.Scope, spec invoices.DocumentSpec) (*invoices.Invoice, error)
	FindInTx(ctx context.Context, tx pgx.Tx, scope shared.Scope, invoiceID int64) (*invoices.Invoice, error)
	ReissueStock(ctx context.Context, tx pgx.Tx, scope shared.Scope, inv *invoices.Invoice) error
}

// ProductPort resolves product cost snapshots.
type ProductPort interface {
	GetProduct(ctx context.Context, q db.Querier, scope shared.Scope, id int64) (*inventory.Product, error)
}

// AuditPort records document lifecycle events.
type AuditPort interface {
	Record(ctx context.Context, q db.Querier, scope shared.Scope, entry audit.Entry) error
}

// Service manages quotes and proformas and their conversion into
// invoices.
type Service struct {
	store     Store
	sequences SequencePort
	invoices  InvoicePort
	products  ProductPort
	audit     AuditPort
	logger    *slog.Logger
	now       shared.Clock
}

func NewService(store Store, sequences SequencePort, invoicePort InvoicePort, products ProductPort, auditPort AuditPort, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		sequences: sequences,
		invoices:  invoicePort,
		products:  products,
		audit:     auditPort,
		logger:    logger,
		now:       shared.UTCNow,
	}
}

func (s *Service) WithNow(now shared.Clock) {
	s.now = now
}

// LineInput is one requested document line.
type LineInput struct {
	ProductID     *int64
	Name          string
	SKU           *string
	Description   *string
	Quantity      decimal.Decimal
	Unit          *string
	UnitPrice     decimal.Decimal
	DiscountType  *string
	DiscountValue *decimal.Decimal
	TaxRate       decimal.Decimal
	SortOrder     int
}

// CreateInput describes a new quote or proforma.
type CreateInput struct {
	Type             string
	CustomerID       *int64
	IssueDate        time.Time
	ExpiryDate       *time.Time
	Currency         string
	ExchangeRate     decimal.Decimal
	Reference        *string
	Title            *string
	PaymentTermsDays int
	ShippingCost     decimal.Decimal
	DiscountType     *string
	DiscountValue    *decimal.Decimal
	Notes            *string
	Terms            *string
	Items            []LineInput
}

func sequencePrefix(docType string) string {
	if docType == TypeQuote {
		return "DV-"
	}
	return "PF-"
}

// Create numbers and stores a new document with computed totals.
func (s *Service) Create(ctx context.Context, scope shared.Scope, in CreateInput) (*SalesDocument, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if in.Type != TypeQuote && in.Type != TypeProforma {
		return nil, ErrBadType
	}
	if len(in.Items) == 0 {
		return nil, ErrNoItems
	}
	if err := validateDiscount(in.DiscountType, in.DiscountValue); err != nil {
		return nil, err
	}

	var result *SalesDocument
	err := s.store.WithTx(ctx, func(tx pgx.Tx) error {
		number, err := s.sequences.NextDocumentNumber(ctx, tx, scope, in.Type, sequencePrefix(in.Type))
		if err != nil {
			return err
		}

		issueDate := in.IssueDate
		if issueDate.IsZero() {
			issueDate = s.now()
		}
		currency := in.Currency
		if currency == "" {
			currency = "USD"
		}
		rate := in.ExchangeRate
		if rate.IsZero() {
			rate = decimal.NewFromInt(1)
		}

		doc := &SalesDocument{
			Type:             in.Type,
			Number:           number,
			Status:           StatusDraft,
			CustomerID:       in.CustomerID,
			IssueDate:        issueDate,
			ExpiryDate:       in.ExpiryDate,
			Currency:         currency,
			ExchangeRate:     rate,
			Reference:        in.Reference,
			Title:            in.Title,
			PaymentTermsDays: in.PaymentTermsDays,
			ShippingCost:     in.ShippingCost,
			DiscountType:     in.DiscountType,
			DiscountValue:    in.DiscountValue,
			Notes:            in.Notes,
			Terms:            in.Terms,
		}
		if scope.ActorID != 0 {
			actor := scope.ActorID
			doc.CreatedBy = &actor
		}
		if err := s.store.Insert(ctx, tx, scope, doc); err != nil {
			return err
		}

		items, totals := computeItems(in.Items, doc.DiscountType, doc.DiscountValue, doc.ShippingCost)
		if err := s.store.ReplaceItems(ctx, tx, scope, doc.ID, items); err != nil {
			return err
		}
		doc.Items = items
		doc.Subtotal = totals.subtotal
		doc.TaxTotal = totals.taxTotal
		doc.DiscountAmount = totals.discount
		doc.Total = totals.total
		if err := s.store.UpdateTotals(ctx, tx, scope, doc); err != nil {
			return err
		}
		result = doc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateItems replaces a document's lines and recomputes totals.
// Converted and cancelled documents are frozen.
func (s *Service) UpdateItems(ctx context.Context, scope shared.Scope, documentID int64, items []LineInput) (*SalesDocument, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrNoItems
	}
	var result *SalesDocument
	err := s.store.WithTx(ctx, func(tx pgx.Tx) error {
		doc, err := s.store.GetForUpdate(ctx, tx, scope, documentID)
		if err != nil {
			return err
		}
		if doc.Status == StatusConverted || doc.Status == StatusCancelled {
			return ErrNotConvertible
		}
		computed, totals := computeItems(items, doc.DiscountType, doc.DiscountValue, doc.ShippingCost)
		if err := s.store.ReplaceItems(ctx, tx, scope, doc.ID, computed); err != nil {
			return err
		}
		doc.Items = computed
		doc.Subtotal = totals.subtotal
		doc.TaxTotal = totals.taxTotal
		doc.DiscountAmount = totals.discount
		doc.Total = totals.total
		if err := s.store.UpdateTotals(ctx, tx, scope, doc); err != nil {
			return err
		}
		result = doc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// MarkSent, Accept, Reject and Cancel are direct status moves.
func (s *Service) MarkSent(ctx context.Context, scope shared.Scope, documentID int64) error {
	return s.setStatus(ctx, scope, documentID, StatusSent)
}

func (s *Service) Accept(ctx context.Context, scope shared.Scope, documentID int64) error {
	return s.setStatus(ctx, scope, documentID, StatusAccepted)
}

func (s *Service) Reject(ctx context.Context, scope shared.Scope, documentID int64) error {
	return s.setStatus(ctx, scope, documentID, StatusRejected)
}

func (s *Service) Cancel(ctx context.Context, scope shared.Scope, documentID int64) error {
	return s.setStatus(ctx, scope, documentID, StatusCancelled)
}

func (s *Service) setStatus(ctx context.Context, scope shared.Scope, documentID int64, status string) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	return s.store.WithTx(ctx, func(tx pgx.Tx) error {
		return s.store.SetStatus(ctx, tx, scope, documentID, status, s.now())
	})
}

// Get loads a document with its items.
func (s *Service) Get(ctx context.Context, scope shared.Scope, documentID int64) (*SalesDocument, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	var result *SalesDocument
	err := s.store.WithTx(ctx, func(tx pgx.Tx) error {
		doc, err := s.store.Get(ctx, tx, scope, documentID)
		if err != nil {
			return err
		}
		if doc.Items, err = s.store.ListItems(ctx, tx, scope, documentID); err != nil {
			return err
		}
		result = doc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ConvertOptions tune a conversion: an optional discount override and
// an optional initial payment.
type ConvertOptions struct {
	DiscountType  *string
	DiscountValue *decimal.Decimal
	Payment       *invoices.PaymentInput
}

// ConvertToInvoice turns a convertible document into an issued
// invoice: cost snapshots from current product data, stock issue,
// ledger postings and the optional first payment, all in one
// transaction. Reconverting returns ErrAlreadyConverted after making
// sure the linked invoice's stock movement exists; a stale link to a
// deleted invoice is cleared and conversion proceeds.
func (s *Service) ConvertToInvoice(ctx context.Context, scope shared.Scope, documentID int64, opts ConvertOptions) (*invoices.Invoice, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if err := validateDiscount(opts.DiscountType, opts.DiscountValue); err != nil {
		return nil, err
	}

	var result *invoices.Invoice
	var existing *invoices.Invoice
	err := s.store.WithTx(ctx, func(tx pgx.Tx) error {
		doc, err := s.store.GetForUpdate(ctx, tx, scope, documentID)
		if err != nil {
			return err
		}

		if doc.ConvertedInvoiceID != nil {
			linked, err := s.invoices.FindInTx(ctx, tx, scope, *doc.ConvertedInvoiceID)
			if err == nil {
				// Replay the invoice's stock issue before refusing, so an
				// earlier partial failure heals. The replay must commit,
				// which is why the refusal happens outside the transaction.
				if err := s.invoices.ReissueStock(ctx, tx, scope, linked); err != nil {
					return err
				}
				existing = linked
				return nil
			}
			if !errors.Is(err, shared.ErrNotFound) {
				return err
			}
			if err := s.store.ClearConvertedLink(ctx, tx, scope, doc.ID); err != nil {
				return err
			}
			doc.ConvertedInvoiceID = nil
			if doc.Status == StatusConverted {
				doc.Status = StatusAccepted
				if err := s.store.SetStatus(ctx, tx, scope, doc.ID, StatusAccepted, s.now()); err != nil {
					return err
				}
			}
		}

		if !doc.Convertible() {
			return ErrNotConvertible
		}

		docItems, err := s.store.ListItems(ctx, tx, scope, doc.ID)
		if err != nil {
			return err
		}

		lineSubtotal := decimal.Zero
		lineTax := decimal.Zero
		var effective []Item
		for _, item := range docItems {
			if !item.Quantity.IsPositive() {
				continue
			}
			effective = append(effective, item)
			lineSubtotal = lineSubtotal.Add(item.LineSubtotal)
			lineTax = lineTax.Add(item.TaxAmount)
		}
		if len(effective) == 0 {
			return ErrNoItems
		}

		discountType := doc.DiscountType
		discountValue := doc.DiscountValue
		if opts.DiscountType != nil {
			discountType = opts.DiscountType
			discountValue = opts.DiscountValue
		}
		discount := globalDiscount(lineSubtotal, discountType, discountValue)
		subtotal := lineSubtotal.Sub(discount)
		if subtotal.IsNegative() {
			subtotal = decimal.Zero
		}
		total := subtotal.Add(lineTax).Add(doc.ShippingCost).Round(2)
		if !total.IsPositive() {
			return ErrZeroTotal
		}

		invoiceItems := make([]invoices.Item, 0, len(effective))
		for i, item := range effective {
			unitCost := decimal.Zero
			if item.ProductID != nil {
				product, err := s.products.GetProduct(ctx, tx, scope, *item.ProductID)
				if err == nil {
					unitCost = product.CostPrice
				} else if !errors.Is(err, shared.ErrNotFound) {
					return err
				}
			}
			invoiceItems = append(invoiceItems, invoices.Item{
				ProductID:     item.ProductID,
				Name:          item.Name,
				SKU:           item.SKU,
				Quantity:      item.Quantity,
				UnitPrice:     item.UnitPrice,
				UnitCost:      unitCost,
				TaxRate:       item.TaxRate,
				TaxAmount:     item.TaxAmount,
				LineSubtotal:  item.LineSubtotal,
				LineTotal:     item.LineTotal,
				LineCostTotal: unitCost.Mul(item.Quantity).Round(2),
				SortOrder:     i + 1,
			})
		}

		issueDate := doc.IssueDate
		if issueDate.IsZero() {
			issueDate = s.now()
		}
		dueDate := issueDate.AddDate(0, 0, doc.PaymentTermsDays)
		title := "Invoice (from proforma)"
		if doc.Type == TypeQuote {
			title = "Invoice (from quote)"
		}
		docType := doc.Type
		docID := doc.ID

		inv, err := s.invoices.IssueFromSpec(ctx, tx, scope, invoices.DocumentSpec{
			SequenceType:   "invoice",
			SequencePrefix: "FA-",
			CustomerID:     doc.CustomerID,
			IssueDate:      issueDate,
			DueDate:        dueDate,
			Currency:       doc.Currency,
			ExchangeRate:   doc.ExchangeRate,
			Title:          title,
			Notes:          doc.Notes,
			Subtotal:       subtotal,
			TaxTotal:       lineTax,
			ShippingCost:   doc.ShippingCost,
			DiscountTotal:  discount,
			Total:          total,
			Items:          invoiceItems,
			Payment:        opts.Payment,
			SourceType:     &docType,
			SourceID:       &docID,
		})
		if err != nil {
			return err
		}

		if err := s.store.MarkConverted(ctx, tx, scope, doc.ID, inv.ID); err != nil {
			return err
		}

		if err := s.audit.Record(ctx, tx, scope, audit.Entry{
			Action:     "document.convert_to_invoice",
			EntityType: "sales_document",
			EntityID:   doc.ID,
			Before:     map[string]any{"status": doc.Status},
			After:      map[string]any{"status": StatusConverted, "converted_invoice_id": inv.ID},
			Meta:       map[string]any{"invoice_number": inv.Number},
		}); err != nil {
			return err
		}
		if err := s.audit.Record(ctx, tx, scope, audit.Entry{
			Action:     "invoice.created_from_document",
			EntityType: "invoice",
			EntityID:   inv.ID,
			After: map[string]any{
				"number": inv.Number,
				"status": inv.Status,
				"total":  inv.Total.StringFixed(2),
			},
			Meta: map[string]any{
				"source_document_id": doc.ID,
				"source_type":        doc.Type,
				"discount":           discount.StringFixed(2),
			},
		}); err != nil {
			return err
		}

		result = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: invoice %s", ErrAlreadyConverted, existing.Number)
	}
	s.logger.InfoContext(ctx, "documents: converted to invoice",
		slog.Int64("business_id", scope.BusinessID),
		slog.Int64("document_id", documentID),
		slog.Int64("invoice_id", result.ID),
		slog.String("invoice_number", result.Number))
	return result, nil
}

type totals struct {
	subtotal decimal.Decimal
	taxTotal decimal.Decimal
	discount decimal.Decimal
	total    decimal.Decimal
}

// computeItems prices each line then applies the document-level
// discount and shipping. The stored subtotal is net of the global
// discount.
func computeItems(lines []LineInput, discountType *string, discountValue *decimal.Decimal, shipping decimal.Decimal) ([]Item, totals) {
	hundred := decimal.NewFromInt(100)
	items := make([]Item, 0, len(lines))
	lineSubtotal := decimal.Zero
	taxTotal := decimal.Zero

	for i, line := range lines {
		base := line.Quantity.Mul(line.UnitPrice)
		disc := decimal.Zero
		if line.DiscountType != nil && line.DiscountValue != nil {
			if *line.DiscountType == DiscountPercent {
				disc = base.Mul(*line.DiscountValue).Div(hundred)
			} else {
				disc = *line.DiscountValue
			}
		}
		afterDiscount := base.Sub(disc)
		if afterDiscount.IsNegative() {
			afterDiscount = decimal.Zero
		}
		tax := afterDiscount.Mul(line.TaxRate).Div(hundred).Round(2)
		sub := afterDiscount.Round(2)

		order := line.SortOrder
		if order == 0 {
			order = i + 1
		}
		items = append(items, Item{
			ProductID:      line.ProductID,
			Name:           line.Name,
			SKU:            line.SKU,
			Description:    line.Description,
			Quantity:       line.Quantity,
			Unit:           line.Unit,
			UnitPrice:      line.UnitPrice,
			DiscountType:   line.DiscountType,
			DiscountValue:  line.DiscountValue,
			DiscountAmount: disc.Round(2),
			TaxRate:        line.TaxRate,
			TaxAmount:      tax,
			LineSubtotal:   sub,
			LineTotal:      sub.Add(tax),
			SortOrder:      order,
		})
		lineSubtotal = lineSubtotal.Add(sub)
		taxTotal = taxTotal.Add(tax)
	}

	discount := globalDiscount(lineSubtotal, discountType, discountValue)
	subtotal := lineSubtotal.Sub(discount)
	if subtotal.IsNegative() {
		subtotal = decimal.Zero
	}
	return items, totals{
		subtotal: subtotal,
		taxTotal: taxTotal,
		discount: discount,
		total:    subtotal.Add(taxTotal).Add(shipping).Round(2),
	}
}

// globalDiscount caps the document discount at the line subtotal.
func globalDiscount(base decimal.Decimal, discountType *string, discountValue *decimal.Decimal) decimal.Decimal {
	if discountType == nil || discountValue == nil || !discountValue.IsPositive() || !base.IsPositive() {
		return decimal.Zero
	}
	var amount decimal.Decimal
	if *discountType == DiscountPercent {
		amount = base.Mul(*discountValue).Div(decimal.NewFromInt(100))
	} else {
		amount = *discountValue
	}
	if amount.GreaterThan(base) {
		amount = base
	}
	if amount.IsNegative() {
		return decimal.Zero
	}
	return amount.Round(2)
}

func validateDiscount(discountType *string, discountValue *decimal.Decimal) error {
	if (discountType == nil) != (discountValue == nil) {
		return ErrDiscountPair
	}
	if discountType != nil && *discountType != DiscountPercent && *discountType != DiscountFixed {
		return fmt.Errorf("documents: unknown discount type %q", *discountType)
	}
	return nil
}
