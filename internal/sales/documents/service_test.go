package documents

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-pos/meridian-pos/internal/audit"
	"github.com/meridian-pos/meridian-pos/internal/inventory"
	"github.com/meridian-pos/meridian-pos/internal/invoices"
	"github.com/meridian-pos/meridian-pos/internal/platform/db"
	"github.com/meridian-pos/meridian-pos/internal/shared"
)

var docScope = shared.NewScope(1, 5)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func pd(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

func ps(s string) *string { return &s }

func pi(n int64) *int64 { return &n }

type memoryDocStore struct {
	docs       map[int64]*SalesDocument
	items      map[int64][]Item
	nextID     int64
	nextItemID int64
}

func newMemoryDocStore() *memoryDocStore {
	return &memoryDocStore{
		docs:  make(map[int64]*SalesDocument),
		items: make(map[int64][]Item),
	}
}

func (m *memoryDocStore) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return fn(nil)
}

func (m *memoryDocStore) Get(_ context.Context, _ db.Querier, scope shared.Scope, id int64) (*SalesDocument, error) {
	doc, ok := m.docs[id]
	if !ok || doc.BusinessID != scope.BusinessID {
		return nil, shared.ErrNotFound
	}
	cp := *doc
	return &cp, nil
}

func (m *memoryDocStore) GetForUpdate(ctx context.Context, q db.Querier, scope shared.Scope, id int64) (*SalesDocument, error) {
	return m.Get(ctx, q, scope, id)
}

func (m *memoryDocStore) Insert(_ context.Context, _ db.Querier, scope shared.Scope, doc *SalesDocument) error {
	m.nextID++
	doc.ID = m.nextID
	doc.BusinessID = scope.BusinessID
	cp := *doc
	m.docs[doc.ID] = &cp
	return nil
}

func (m *memoryDocStore) UpdateTotals(_ context.Context, _ db.Querier, _ shared.Scope, doc *SalesDocument) error {
	stored, ok := m.docs[doc.ID]
	if !ok {
		return shared.ErrNotFound
	}
	stored.DiscountAmount = doc.DiscountAmount
	stored.Subtotal = doc.Subtotal
	stored.TaxTotal = doc.TaxTotal
	stored.Total = doc.Total
	return nil
}

func (m *memoryDocStore) ReplaceItems(_ context.Context, _ db.Querier, _ shared.Scope, documentID int64, items []Item) error {
	stored := make([]Item, len(items))
	for i := range items {
		m.nextItemID++
		items[i].ID = m.nextItemID
		items[i].DocumentID = documentID
		stored[i] = items[i]
	}
	m.items[documentID] = stored
	return nil
}

func (m *memoryDocStore) ListItems(_ context.Context, _ db.Querier, _ shared.Scope, documentID int64) ([]Item, error) {
	out := make([]Item, len(m.items[documentID]))
	copy(out, m.items[documentID])
	return out, nil
}

func (m *memoryDocStore) SetStatus(_ context.Context, _ db.Querier, _ shared.Scope, documentID int64, status string, at time.Time) error {
	doc, ok := m.docs[documentID]
	if !ok {
		return shared.ErrNotFound
	}
	doc.Status = status
	switch status {
	case StatusSent:
		doc.SentAt = &at
	case StatusAccepted:
		doc.AcceptedAt = &at
	}
	return nil
}

func (m *memoryDocStore) MarkConverted(_ context.Context, _ db.Querier, _ shared.Scope, documentID, invoiceID int64) error {
	doc, ok := m.docs[documentID]
	if !ok {
		return shared.ErrNotFound
	}
	doc.Status = StatusConverted
	doc.ConvertedInvoiceID = &invoiceID
	return nil
}

func (m *memoryDocStore) ClearConvertedLink(_ context.Context, _ db.Querier, _ shared.Scope, documentID int64) error {
	doc, ok := m.docs[documentID]
	if !ok {
		return shared.ErrNotFound
	}
	doc.ConvertedInvoiceID = nil
	return nil
}

type fakeSequences struct {
	counters map[string]int
}

func (f *fakeSequences) NextDocumentNumber(_ context.Context, _ db.Querier, _ shared.Scope, docType, prefix string) (string, error) {
	if f.counters == nil {
		f.counters = make(map[string]int)
	}
	f.counters[docType]++
	return fmt.Sprintf("%s%06d", prefix, f.counters[docType]), nil
}

type fakeInvoicePort struct {
	specs    []invoices.DocumentSpec
	byID     map[int64]*invoices.Invoice
	reissued []int64
	nextID   int64
}

func newFakeInvoicePort() *fakeInvoicePort {
	return &fakeInvoicePort{byID: make(map[int64]*invoices.Invoice)}
}

func (f *fakeInvoicePort) IssueFromSpec(_ context.Context, _ pgx.Tx, scope shared.Scope, spec invoices.DocumentSpec) (*invoices.Invoice, error) {
	f.specs = append(f.specs, spec)
	f.nextID++
	inv := &invoices.Invoice{
		ID:            f.nextID,
		BusinessID:    scope.BusinessID,
		Number:        fmt.Sprintf("%s%06d", spec.SequencePrefix, f.nextID),
		Status:        invoices.StatusIssued,
		Subtotal:      spec.Subtotal,
		TaxTotal:      spec.TaxTotal,
		ShippingCost:  spec.ShippingCost,
		DiscountTotal: spec.DiscountTotal,
		Total:         spec.Total,
		AmountPaid:    decimal.Zero,
		BalanceDue:    spec.Total,
		Items:         spec.Items,
	}
	if spec.Payment != nil {
		inv.AmountPaid = spec.Payment.Amount
		inv.BalanceDue = spec.Total.Sub(spec.Payment.Amount)
		if shared.MoneyZero(inv.BalanceDue) {
			inv.Status = invoices.StatusPaid
		} else {
			inv.Status = invoices.StatusPartiallyPaid
		}
	}
	f.byID[inv.ID] = inv
	return inv, nil
}

func (f *fakeInvoicePort) FindInTx(_ context.Context, _ pgx.Tx, _ shared.Scope, invoiceID int64) (*invoices.Invoice, error) {
	inv, ok := f.byID[invoiceID]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return inv, nil
}

func (f *fakeInvoicePort) ReissueStock(_ context.Context, _ pgx.Tx, _ shared.Scope, inv *invoices.Invoice) error {
	f.reissued = append(f.reissued, inv.ID)
	return nil
}

type fakeDocProducts struct {
	products map[int64]*inventory.Product
}

func (f *fakeDocProducts) GetProduct(_ context.Context, _ db.Querier, scope shared.Scope, id int64) (*inventory.Product, error) {
	p, ok := f.products[id]
	if !ok || p.BusinessID != scope.BusinessID {
		return nil, shared.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

type recordingAudit struct {
	entries []audit.Entry
}

func (r *recordingAudit) Record(_ context.Context, _ db.Querier, _ shared.Scope, entry audit.Entry) error {
	r.entries = append(r.entries, entry)
	return nil
}

func (r *recordingAudit) actions() []string {
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Action)
	}
	return out
}

type docFixture struct {
	store    *memoryDocStore
	invoices *fakeInvoicePort
	audit    *recordingAudit
	svc      *Service
}

func newDocFixture(t *testing.T) *docFixture {
	t.Helper()
	f := &docFixture{
		store:    newMemoryDocStore(),
		invoices: newFakeInvoicePort(),
		audit:    &recordingAudit{},
	}
	products := &fakeDocProducts{products: map[int64]*inventory.Product{
		10: {ID: 10, BusinessID: 1, Name: "Widget", Price: d("50.00"), CostPrice: d("20.00"), TrackInventory: true, Stock: d("100")},
	}}
	f.svc = NewService(f.store, &fakeSequences{}, f.invoices, products, f.audit, slog.Default())
	f.svc.WithNow(func() time.Time {
		return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	})
	return f
}

// twoLineQuote is a quote with one stocked product line and one
// service line, both taxed at 10%, no discounts.
func (f *docFixture) twoLineQuote(t *testing.T) *SalesDocument {
	t.Helper()
	doc, err := f.svc.Create(context.Background(), docScope, CreateInput{
		Type:             TypeQuote,
		PaymentTermsDays: 30,
		Items: []LineInput{
			{ProductID: pi(10), Name: "Widget", Quantity: d("2"), UnitPrice: d("50.00"), TaxRate: d("10")},
			{Name: "Installation", Quantity: d("1"), UnitPrice: d("30.00"), TaxRate: d("10")},
		},
	})
	require.NoError(t, err)
	return doc
}

func TestCreateComputesTotals(t *testing.T) {
	f := newDocFixture(t)

	doc := f.twoLineQuote(t)

	require.Equal(t, "DV-000001", doc.Number)
	require.Equal(t, StatusDraft, doc.Status)
	require.Len(t, doc.Items, 2)
	require.True(t, doc.Subtotal.Equal(d("130.00")), "subtotal %s", doc.Subtotal)
	require.True(t, doc.TaxTotal.Equal(d("13.00")), "tax %s", doc.TaxTotal)
	require.True(t, doc.Total.Equal(d("143.00")), "total %s", doc.Total)
	require.True(t, doc.DiscountAmount.IsZero())

	stored := f.store.docs[doc.ID]
	require.True(t, stored.Total.Equal(d("143.00")))
}

func TestCreateProformaSequence(t *testing.T) {
	f := newDocFixture(t)

	doc, err := f.svc.Create(context.Background(), docScope, CreateInput{
		Type: TypeProforma,
		Items: []LineInput{
			{Name: "Service", Quantity: d("1"), UnitPrice: d("75.00")},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "PF-000001", doc.Number)
}

func TestCreateAppliesLineAndGlobalDiscounts(t *testing.T) {
	f := newDocFixture(t)

	// Line: 10 x 20 = 200, 10% line discount -> 180, tax 5% -> 9.
	// Global fixed 30 -> subtotal 150, total 159 + 6 shipping = 165.
	doc, err := f.svc.Create(context.Background(), docScope, CreateInput{
		Type:          TypeQuote,
		ShippingCost:  d("6.00"),
		DiscountType:  ps(DiscountFixed),
		DiscountValue: pd("30.00"),
		Items: []LineInput{
			{Name: "Bulk widgets", Quantity: d("10"), UnitPrice: d("20.00"),
				DiscountType: ps(DiscountPercent), DiscountValue: pd("10"), TaxRate: d("5")},
		},
	})
	require.NoError(t, err)

	require.True(t, doc.Items[0].DiscountAmount.Equal(d("20.00")))
	require.True(t, doc.Items[0].LineSubtotal.Equal(d("180.00")))
	require.True(t, doc.Items[0].TaxAmount.Equal(d("9.00")))
	require.True(t, doc.DiscountAmount.Equal(d("30.00")))
	require.True(t, doc.Subtotal.Equal(d("150.00")))
	require.True(t, doc.Total.Equal(d("165.00")), "total %s", doc.Total)
}

func TestCreateGlobalDiscountCappedAtSubtotal(t *testing.T) {
	f := newDocFixture(t)

	doc, err := f.svc.Create(context.Background(), docScope, CreateInput{
		Type:          TypeQuote,
		DiscountType:  ps(DiscountFixed),
		DiscountValue: pd("500.00"),
		Items: []LineInput{
			{Name: "Service", Quantity: d("1"), UnitPrice: d("40.00")},
		},
	})
	require.NoError(t, err)
	require.True(t, doc.DiscountAmount.Equal(d("40.00")))
	require.True(t, doc.Subtotal.IsZero())
}

func TestCreateRequiresItems(t *testing.T) {
	f := newDocFixture(t)

	_, err := f.svc.Create(context.Background(), docScope, CreateInput{Type: TypeQuote})
	require.ErrorIs(t, err, ErrNoItems)
}

func TestCreateRejectsUnknownType(t *testing.T) {
	f := newDocFixture(t)

	_, err := f.svc.Create(context.Background(), docScope, CreateInput{
		Type:  "invoice",
		Items: []LineInput{{Name: "x", Quantity: d("1"), UnitPrice: d("1")}},
	})
	require.ErrorIs(t, err, ErrBadType)
}

func TestCreateRequiresDiscountPair(t *testing.T) {
	f := newDocFixture(t)

	_, err := f.svc.Create(context.Background(), docScope, CreateInput{
		Type:         TypeQuote,
		DiscountType: ps(DiscountFixed),
		Items:        []LineInput{{Name: "x", Quantity: d("1"), UnitPrice: d("10")}},
	})
	require.ErrorIs(t, err, ErrDiscountPair)
}

func TestMarkSentStampsTimestamp(t *testing.T) {
	f := newDocFixture(t)
	doc := f.twoLineQuote(t)

	require.NoError(t, f.svc.MarkSent(context.Background(), docScope, doc.ID))

	stored := f.store.docs[doc.ID]
	require.Equal(t, StatusSent, stored.Status)
	require.NotNil(t, stored.SentAt)
}

func TestConvertQuoteProducesInvoice(t *testing.T) {
	f := newDocFixture(t)
	doc := f.twoLineQuote(t)

	inv, err := f.svc.ConvertToInvoice(context.Background(), docScope, doc.ID, ConvertOptions{})
	require.NoError(t, err)

	require.Len(t, f.invoices.specs, 1)
	spec := f.invoices.specs[0]
	require.Equal(t, "invoice", spec.SequenceType)
	require.Equal(t, "FA-", spec.SequencePrefix)
	require.True(t, spec.Subtotal.Equal(d("130.00")))
	require.True(t, spec.TaxTotal.Equal(d("13.00")))
	require.True(t, spec.Total.Equal(d("143.00")))
	require.NotNil(t, spec.SourceType)
	require.Equal(t, TypeQuote, *spec.SourceType)
	require.NotNil(t, spec.SourceID)
	require.Equal(t, doc.ID, *spec.SourceID)

	// Cost snapshots come from current product data; the service line
	// carries no cost.
	require.Len(t, spec.Items, 2)
	require.True(t, spec.Items[0].UnitCost.Equal(d("20.00")))
	require.True(t, spec.Items[0].LineCostTotal.Equal(d("40.00")))
	require.True(t, spec.Items[1].UnitCost.IsZero())
	require.True(t, spec.Items[1].LineCostTotal.IsZero())

	// Due date derives from payment terms.
	require.Equal(t, spec.IssueDate.AddDate(0, 0, 30), spec.DueDate)

	stored := f.store.docs[doc.ID]
	require.Equal(t, StatusConverted, stored.Status)
	require.NotNil(t, stored.ConvertedInvoiceID)
	require.Equal(t, inv.ID, *stored.ConvertedInvoiceID)

	require.Equal(t, []string{"document.convert_to_invoice", "invoice.created_from_document"}, f.audit.actions())
}

func TestConvertTwiceRejected(t *testing.T) {
	f := newDocFixture(t)
	doc := f.twoLineQuote(t)

	inv, err := f.svc.ConvertToInvoice(context.Background(), docScope, doc.ID, ConvertOptions{})
	require.NoError(t, err)

	_, err = f.svc.ConvertToInvoice(context.Background(), docScope, doc.ID, ConvertOptions{})
	require.ErrorIs(t, err, ErrAlreadyConverted)
	// The existing invoice's stock issue is replayed so an earlier
	// partial failure self-heals.
	require.Equal(t, []int64{inv.ID}, f.invoices.reissued)
	require.Len(t, f.invoices.specs, 1)
}

func TestConvertClearsStaleInvoiceLink(t *testing.T) {
	f := newDocFixture(t)
	doc := f.twoLineQuote(t)

	missing := int64(999)
	f.store.docs[doc.ID].Status = StatusConverted
	f.store.docs[doc.ID].ConvertedInvoiceID = &missing

	inv, err := f.svc.ConvertToInvoice(context.Background(), docScope, doc.ID, ConvertOptions{})
	require.NoError(t, err)
	require.Len(t, f.invoices.specs, 1)

	stored := f.store.docs[doc.ID]
	require.Equal(t, StatusConverted, stored.Status)
	require.Equal(t, inv.ID, *stored.ConvertedInvoiceID)
}

func TestConvertRejectedStatus(t *testing.T) {
	f := newDocFixture(t)
	doc := f.twoLineQuote(t)
	f.store.docs[doc.ID].Status = StatusRejected

	_, err := f.svc.ConvertToInvoice(context.Background(), docScope, doc.ID, ConvertOptions{})
	require.ErrorIs(t, err, ErrNotConvertible)
}

func TestConvertSkipsNonPositiveLines(t *testing.T) {
	f := newDocFixture(t)
	doc := f.twoLineQuote(t)
	items := f.store.items[doc.ID]
	for i := range items {
		items[i].Quantity = decimal.Zero
	}

	_, err := f.svc.ConvertToInvoice(context.Background(), docScope, doc.ID, ConvertOptions{})
	require.ErrorIs(t, err, ErrNoItems)
}

func TestConvertZeroTotalRejected(t *testing.T) {
	f := newDocFixture(t)
	doc, err := f.svc.Create(context.Background(), docScope, CreateInput{
		Type: TypeQuote,
		Items: []LineInput{
			{Name: "Freebie", Quantity: d("1"), UnitPrice: d("25.00")},
		},
	})
	require.NoError(t, err)

	_, err = f.svc.ConvertToInvoice(context.Background(), docScope, doc.ID, ConvertOptions{
		DiscountType:  ps(DiscountFixed),
		DiscountValue: pd("25.00"),
	})
	require.ErrorIs(t, err, ErrZeroTotal)
}

func TestConvertDiscountOverride(t *testing.T) {
	f := newDocFixture(t)
	doc := f.twoLineQuote(t)

	_, err := f.svc.ConvertToInvoice(context.Background(), docScope, doc.ID, ConvertOptions{
		DiscountType:  ps(DiscountFixed),
		DiscountValue: pd("30.00"),
	})
	require.NoError(t, err)

	spec := f.invoices.specs[0]
	require.True(t, spec.DiscountTotal.Equal(d("30.00")))
	require.True(t, spec.Subtotal.Equal(d("100.00")))
	// Line taxes are computed before the document discount.
	require.True(t, spec.Total.Equal(d("113.00")), "total %s", spec.Total)
}

func TestConvertWithInitialPayment(t *testing.T) {
	f := newDocFixture(t)
	doc := f.twoLineQuote(t)

	inv, err := f.svc.ConvertToInvoice(context.Background(), docScope, doc.ID, ConvertOptions{
		Payment: &invoices.PaymentInput{Method: "cash", Amount: d("143.00")},
	})
	require.NoError(t, err)
	require.Equal(t, invoices.StatusPaid, inv.Status)
	require.NotNil(t, f.invoices.specs[0].Payment)
}

func TestUpdateItemsRecomputesTotals(t *testing.T) {
	f := newDocFixture(t)
	doc := f.twoLineQuote(t)

	updated, err := f.svc.UpdateItems(context.Background(), docScope, doc.ID, []LineInput{
		{Name: "Single widget", Quantity: d("1"), UnitPrice: d("50.00"), TaxRate: d("10")},
	})
	require.NoError(t, err)
	require.True(t, updated.Total.Equal(d("55.00")), "total %s", updated.Total)
	require.Len(t, f.store.items[doc.ID], 1)
}

func TestUpdateItemsOnConvertedDocument(t *testing.T) {
	f := newDocFixture(t)
	doc := f.twoLineQuote(t)
	f.store.docs[doc.ID].Status = StatusConverted

	_, err := f.svc.UpdateItems(context.Background(), docScope, doc.ID, []LineInput{
		{Name: "x", Quantity: d("1"), UnitPrice: d("1")},
	})
	require.ErrorIs(t, err, ErrNotConvertible)
}
