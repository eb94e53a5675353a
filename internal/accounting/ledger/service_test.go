package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	acctshared "github.com/meridian-pos/meridian-pos/internal/accounting/shared"
	"github.com/meridian-pos/meridian-pos/internal/audit"
	"github.com/meridian-pos/meridian-pos/internal/platform/db"
	"github.com/meridian-pos/meridian-pos/internal/shared"
)

type memoryStore struct {
	entries []*JournalEntry
	nextID  int64
}

func (s *memoryStore) FindBySource(ctx context.Context, q db.Querier, scope shared.Scope, action Action, sourceType string, sourceID int64) (*JournalEntry, error) {
	for _, e := range s.entries {
		if e.BusinessID == scope.BusinessID && e.Action == action && e.SourceType == sourceType && e.SourceID == sourceID {
			return e, nil
		}
	}
	return nil, acctshared.ErrJournalNotFound
}

func (s *memoryStore) Insert(ctx context.Context, q db.Querier, scope shared.Scope, entry *JournalEntry) error {
	s.nextID++
	entry.ID = s.nextID
	entry.BusinessID = scope.BusinessID
	for i := range entry.Lines {
		entry.Lines[i].EntryID = entry.ID
	}
	s.entries = append(s.entries, entry)
	return nil
}

func (s *memoryStore) MarkReversed(ctx context.Context, q db.Querier, scope shared.Scope, entryID int64) error {
	for _, e := range s.entries {
		if e.BusinessID == scope.BusinessID && e.ID == entryID {
			e.Status = EntryStatusReversed
			return nil
		}
	}
	return acctshared.ErrJournalNotFound
}

// racingStore mimics Postgres transaction semantics around the unique
// (action, source) index: rows committed by a concurrent winner are
// invisible to this transaction's snapshot but still reject its
// insert, and after that rejection every statement fails because the
// transaction is aborted.
type racingStore struct {
	memoryStore
	committed map[string]bool
	aborted   bool
}

func sourceKey(action Action, sourceType string, sourceID int64) string {
	return fmt.Sprintf("%s/%s/%d", action, sourceType, sourceID)
}

func (s *racingStore) abortErr() error {
	return &pgconn.PgError{Code: "25P02", Message: "current transaction is aborted, commands ignored until end of transaction block"}
}

func (s *racingStore) FindBySource(ctx context.Context, q db.Querier, scope shared.Scope, action Action, sourceType string, sourceID int64) (*JournalEntry, error) {
	if s.aborted {
		return nil, s.abortErr()
	}
	return s.memoryStore.FindBySource(ctx, q, scope, action, sourceType, sourceID)
}

func (s *racingStore) Insert(ctx context.Context, q db.Querier, scope shared.Scope, entry *JournalEntry) error {
	if s.aborted {
		return s.abortErr()
	}
	if s.committed[sourceKey(entry.Action, entry.SourceType, entry.SourceID)] {
		s.aborted = true
		return &pgconn.PgError{Code: "23505", ConstraintName: "journal_entries_source_uniq"}
	}
	return s.memoryStore.Insert(ctx, q, scope, entry)
}

func (s *racingStore) MarkReversed(ctx context.Context, q db.Querier, scope shared.Scope, entryID int64) error {
	if s.aborted {
		return s.abortErr()
	}
	return s.memoryStore.MarkReversed(ctx, q, scope, entryID)
}

type mapResolver struct {
	accounts map[string]int64
}

func (r *mapResolver) Resolve(ctx context.Context, q db.Querier, scope shared.Scope, key string) (int64, error) {
	id, ok := r.accounts[key]
	if !ok {
		return 0, acctshared.ErrMappingMissing
	}
	return id, nil
}

type stubGuard struct {
	closedBefore time.Time
}

func (g *stubGuard) AssertOpen(ctx context.Context, q db.Querier, scope shared.Scope, date time.Time) error {
	if !g.closedBefore.IsZero() && date.Before(g.closedBefore) {
		return acctshared.ErrPeriodClosed
	}
	return nil
}

type memoryAudit struct {
	entries []audit.Entry
}

func (a *memoryAudit) Record(ctx context.Context, q db.Querier, scope shared.Scope, entry audit.Entry) error {
	a.entries = append(a.entries, entry)
	return nil
}

func newTestEngine() (*Engine, *memoryStore, *memoryAudit, *stubGuard) {
	store := &memoryStore{}
	auditPort := &memoryAudit{}
	guard := &stubGuard{}
	resolver := &mapResolver{accounts: map[string]int64{
		"CASH": 1, "BANK": 2, "CARD": 3, "MONCASH": 4, "CHEQUE": 5,
		"AR": 6, "SALES": 7, "TAX_PAYABLE": 8, "SHIPPING_INCOME": 9,
		"INVENTORY": 10, "COGS": 11,
	}}
	engine := NewEngine(store, resolver, guard, auditPort, slog.Default())
	engine.WithNow(func() time.Time { return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC) })
	return engine, store, auditPort, guard
}

func testScope() shared.Scope {
	return shared.NewScope(1, 99)
}

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestPostBalancedEntry(t *testing.T) {
	engine, store, auditPort, _ := newTestEngine()
	scope := testScope()

	entry, err := engine.Post(context.Background(), nil, scope, PostingInput{
		Action:     ActionInvoicePayment,
		SourceType: SourceTypeInvoicePayment,
		SourceID:   42,
		Lines: []PostingLine{
			{AccountKey: "CASH", Debit: d("115.00")},
			{AccountKey: "AR", Credit: d("115.00")},
		},
	})
	require.NoError(t, err)
	require.Equal(t, EntryStatusPosted, entry.Status)
	require.True(t, entry.TotalDebit.Equal(d("115.00")))
	require.True(t, entry.TotalCredit.Equal(d("115.00")))
	require.Len(t, entry.Lines, 2)
	require.Equal(t, 1, entry.Lines[0].LineNo)
	require.Equal(t, 2, entry.Lines[1].LineNo)
	require.Len(t, store.entries, 1)
	require.Len(t, auditPort.entries, 1)
	require.Equal(t, "ledger.posted", auditPort.entries[0].Action)
}

func TestPostUnbalancedEntryRejected(t *testing.T) {
	engine, store, _, _ := newTestEngine()

	_, err := engine.Post(context.Background(), nil, testScope(), PostingInput{
		Action:     ActionInvoiceIssued,
		SourceType: SourceTypeInvoice,
		SourceID:   7,
		Lines: []PostingLine{
			{AccountKey: "AR", Debit: d("100.00")},
			{AccountKey: "SALES", Credit: d("99.99")},
		},
	})
	require.ErrorIs(t, err, acctshared.ErrUnbalanced)
	require.Empty(t, store.entries)
}

func TestPostIdempotentPerSource(t *testing.T) {
	engine, store, _, _ := newTestEngine()
	scope := testScope()
	in := PostingInput{
		Action:     ActionInvoiceIssued,
		SourceType: SourceTypeInvoice,
		SourceID:   5,
		Lines: []PostingLine{
			{AccountKey: "AR", Debit: d("50.00")},
			{AccountKey: "SALES", Credit: d("50.00")},
		},
	}

	first, err := engine.Post(context.Background(), nil, scope, in)
	require.NoError(t, err)
	second, err := engine.Post(context.Background(), nil, scope, in)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Len(t, store.entries, 1)
}

func newRacingEngine(store *racingStore) *Engine {
	resolver := &mapResolver{accounts: map[string]int64{
		"CASH": 1, "AR": 6, "SALES": 7, "INVENTORY": 10, "COGS": 11,
	}}
	engine := NewEngine(store, resolver, &stubGuard{}, &memoryAudit{}, slog.Default())
	engine.WithNow(func() time.Time { return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC) })
	return engine
}

func TestPostConcurrentDuplicateSurfacesConflict(t *testing.T) {
	scope := testScope()
	in := PostingInput{
		Action:     ActionInvoiceIssued,
		SourceType: SourceTypeInvoice,
		SourceID:   9,
		Lines: []PostingLine{
			{AccountKey: "AR", Debit: d("80.00")},
			{AccountKey: "SALES", Credit: d("80.00")},
		},
	}
	store := &racingStore{committed: map[string]bool{
		sourceKey(ActionInvoiceIssued, SourceTypeInvoice, 9): true,
	}}
	engine := newRacingEngine(store)

	_, err := engine.Post(context.Background(), nil, scope, in)
	require.ErrorIs(t, err, acctshared.ErrPostingConflict)
	require.True(t, store.aborted)
	require.Empty(t, store.entries)

	// The retried request runs on a fresh snapshot that sees the
	// winner's row and resolves through the pre-check.
	retryEngine := newRacingEngine(&racingStore{})
	winner, err := retryEngine.Post(context.Background(), nil, scope, in)
	require.NoError(t, err)
	again, err := retryEngine.Post(context.Background(), nil, scope, in)
	require.NoError(t, err)
	require.Equal(t, winner.ID, again.ID)
}

func TestReverseConcurrentDuplicateSurfacesConflict(t *testing.T) {
	scope := testScope()
	store := &racingStore{committed: map[string]bool{
		sourceKey(ActionInvoiceVoid, SourceTypeInvoice, 21): true,
	}}
	engine := newRacingEngine(store)

	_, err := engine.PostInvoiceIssued(context.Background(), nil, scope, InvoiceIssuedInput{
		InvoiceID: 21,
		Number:    "INV-000021",
		Subtotal:  d("100.00"),
		Total:     d("100.00"),
	})
	require.NoError(t, err)

	_, err = engine.PostInvoiceVoid(context.Background(), nil, scope, 21, "INV-000021", time.Time{})
	require.ErrorIs(t, err, acctshared.ErrPostingConflict)
	require.True(t, store.aborted)
	// Nothing after the violation ran: the original stays posted.
	require.Equal(t, EntryStatusPosted, store.entries[0].Status)
}

func TestPostRejectsClosedPeriod(t *testing.T) {
	engine, store, _, guard := newTestEngine()
	guard.closedBefore = time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

	_, err := engine.Post(context.Background(), nil, testScope(), PostingInput{
		Action:     ActionInvoiceIssued,
		SourceType: SourceTypeInvoice,
		SourceID:   8,
		EntryDate:  time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC),
		Lines: []PostingLine{
			{AccountKey: "AR", Debit: d("10.00")},
			{AccountKey: "SALES", Credit: d("10.00")},
		},
	})
	require.ErrorIs(t, err, acctshared.ErrPeriodClosed)
	require.Empty(t, store.entries)
}

func TestPostRequiresScope(t *testing.T) {
	engine, _, _, _ := newTestEngine()

	_, err := engine.Post(context.Background(), nil, shared.Scope{}, PostingInput{
		Action:     ActionInvoiceIssued,
		SourceType: SourceTypeInvoice,
		SourceID:   1,
		Lines:      []PostingLine{{AccountKey: "AR", Debit: d("1.00")}, {AccountKey: "SALES", Credit: d("1.00")}},
	})
	require.ErrorIs(t, err, shared.ErrNoBusiness)
}

func TestPostRejectsLineWithBothSides(t *testing.T) {
	engine, _, _, _ := newTestEngine()

	_, err := engine.Post(context.Background(), nil, testScope(), PostingInput{
		Action:     ActionInvoiceIssued,
		SourceType: SourceTypeInvoice,
		SourceID:   3,
		Lines:      []PostingLine{{AccountKey: "AR", Debit: d("5.00"), Credit: d("5.00")}},
	})
	require.Error(t, err)
}

func TestReverseNegatesOriginalExactly(t *testing.T) {
	engine, store, _, _ := newTestEngine()
	scope := testScope()

	issued, err := engine.PostInvoiceIssued(context.Background(), nil, scope, InvoiceIssuedInput{
		InvoiceID:    21,
		Number:       "INV-000021",
		Subtotal:     d("100.00"),
		TaxTotal:     d("10.00"),
		ShippingCost: d("5.00"),
		Total:        d("115.00"),
	})
	require.NoError(t, err)

	void, err := engine.PostInvoiceVoid(context.Background(), nil, scope, 21, "INV-000021", time.Time{})
	require.NoError(t, err)
	require.NotNil(t, void.ReversesEntryID)
	require.Equal(t, issued.ID, *void.ReversesEntryID)
	require.Equal(t, EntryStatusReversed, issued.Status)
	require.Len(t, void.Lines, len(issued.Lines))
	for i, line := range void.Lines {
		require.True(t, line.Debit.Equal(issued.Lines[i].Credit))
		require.True(t, line.Credit.Equal(issued.Lines[i].Debit))
		require.Equal(t, issued.Lines[i].AccountID, line.AccountID)
	}
	require.Len(t, store.entries, 2)

	again, err := engine.PostInvoiceVoid(context.Background(), nil, scope, 21, "INV-000021", time.Time{})
	require.NoError(t, err)
	require.Equal(t, void.ID, again.ID)
	require.Len(t, store.entries, 2)
}

func TestReverseMissingOriginal(t *testing.T) {
	engine, _, _, _ := newTestEngine()

	_, err := engine.PostInvoiceCOGSVoid(context.Background(), nil, testScope(), 404, "INV-000404", time.Time{})
	require.ErrorIs(t, err, acctshared.ErrJournalNotFound)
}

func TestInvoiceIssuedRecipeSkipsZeroComponents(t *testing.T) {
	engine, _, _, _ := newTestEngine()

	entry, err := engine.PostInvoiceIssued(context.Background(), nil, testScope(), InvoiceIssuedInput{
		InvoiceID: 31,
		Number:    "INV-000031",
		Subtotal:  d("200.00"),
		Total:     d("200.00"),
	})
	require.NoError(t, err)
	require.Len(t, entry.Lines, 2)
	require.True(t, entry.TotalDebit.Equal(d("200.00")))
}

func TestPaymentMethodKeyFallsBackToCash(t *testing.T) {
	require.Equal(t, "BANK", PaymentMethodKey("bank"))
	require.Equal(t, "MONCASH", PaymentMethodKey("moncash"))
	require.Equal(t, "CASH", PaymentMethodKey("other"))
	require.Equal(t, "CASH", PaymentMethodKey("barter"))
}

func TestCOGSSkippedWhenNoCost(t *testing.T) {
	engine, store, _, _ := newTestEngine()

	entry, err := engine.PostInvoiceCOGS(context.Background(), nil, testScope(), COGSInput{
		InvoiceID: 50,
		Number:    "INV-000050",
		CostTotal: d("0.000001"),
	})
	require.NoError(t, err)
	require.Nil(t, entry)
	require.Empty(t, store.entries)
}

func TestCOGSPostsAgainstInventory(t *testing.T) {
	engine, _, _, _ := newTestEngine()

	entry, err := engine.PostInvoiceCOGS(context.Background(), nil, testScope(), COGSInput{
		InvoiceID: 51,
		Number:    "INV-000051",
		CostTotal: d("75.50"),
	})
	require.NoError(t, err)
	require.Len(t, entry.Lines, 2)
	require.True(t, entry.Lines[0].Debit.Equal(d("75.50")))
	require.True(t, entry.Lines[1].Credit.Equal(d("75.50")))
}

func TestRefundMirrorsPayment(t *testing.T) {
	engine, _, _, _ := newTestEngine()
	scope := testScope()

	payment, err := engine.PostInvoicePayment(context.Background(), nil, scope, PaymentInput{
		PaymentID:     71,
		InvoiceNumber: "INV-000071",
		Method:        "card",
		Amount:        d("40.00"),
	})
	require.NoError(t, err)

	refund, err := engine.PostInvoiceRefund(context.Background(), nil, scope, PaymentInput{
		PaymentID:     72,
		InvoiceNumber: "INV-000071",
		Method:        "card",
		Amount:        d("40.00"),
	})
	require.NoError(t, err)

	require.True(t, payment.Lines[0].Debit.Equal(refund.Lines[1].Credit))
	require.Equal(t, payment.Lines[0].AccountID, refund.Lines[1].AccountID)
	require.Equal(t, payment.Lines[1].AccountID, refund.Lines[0].AccountID)
}
