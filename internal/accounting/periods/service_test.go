package periods

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	acctshared "github.com/meridian-pos/meridian-pos/internal/accounting/shared"
	"github.com/meridian-pos/meridian-pos/internal/audit"
	"github.com/meridian-pos/meridian-pos/internal/platform/db"
	"github.com/meridian-pos/meridian-pos/internal/shared"
)

var guardScope = shared.NewScope(1, 4)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

type memoryPeriodStore struct {
	periods map[int64]Period
	nextID  int64

	// posted debit/credit totals returned to Close.
	debit  decimal.Decimal
	credit decimal.Decimal

	inTx               bool
	overlapCheckedInTx bool
	onTxStart          func()
}

func newMemoryPeriodStore() *memoryPeriodStore {
	return &memoryPeriodStore{
		periods: make(map[int64]Period),
		debit:   decimal.Zero,
		credit:  decimal.Zero,
	}
}

func (m *memoryPeriodStore) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	if m.onTxStart != nil {
		m.onTxStart()
	}
	m.inTx = true
	defer func() { m.inTx = false }()
	return fn(nil)
}

func (m *memoryPeriodStore) List(_ context.Context, scope shared.Scope) ([]Period, error) {
	var out []Period
	for _, p := range m.periods {
		if p.BusinessID == scope.BusinessID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memoryPeriodStore) GetForUpdate(_ context.Context, _ pgx.Tx, scope shared.Scope, id int64) (Period, error) {
	p, ok := m.periods[id]
	if !ok || p.BusinessID != scope.BusinessID {
		return Period{}, shared.ErrNotFound
	}
	return p, nil
}

func (m *memoryPeriodStore) ClosedExistsForDate(_ context.Context, _ db.Querier, scope shared.Scope, date time.Time) (bool, error) {
	for _, p := range m.periods {
		if p.BusinessID != scope.BusinessID || p.Status != StatusClosed {
			continue
		}
		if !date.Before(p.StartDate) && !date.After(p.EndDate) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryPeriodStore) RangeConflict(_ context.Context, _ db.Querier, scope shared.Scope, start, end time.Time) (bool, error) {
	m.overlapCheckedInTx = m.inTx
	for _, p := range m.periods {
		if p.BusinessID != scope.BusinessID {
			continue
		}
		if !end.Before(p.StartDate) && !start.After(p.EndDate) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryPeriodStore) Insert(_ context.Context, _ pgx.Tx, scope shared.Scope, name string, start, end time.Time) (Period, error) {
	m.nextID++
	p := Period{
		ID:         m.nextID,
		BusinessID: scope.BusinessID,
		Name:       name,
		StartDate:  start,
		EndDate:    end,
		Status:     StatusOpen,
	}
	m.periods[p.ID] = p
	return p, nil
}

func (m *memoryPeriodStore) PostedTotals(_ context.Context, _ pgx.Tx, _ shared.Scope, _, _ time.Time) (decimal.Decimal, decimal.Decimal, error) {
	return m.debit, m.credit, nil
}

func (m *memoryPeriodStore) MarkClosed(_ context.Context, _ pgx.Tx, _ shared.Scope, id int64, closedAt time.Time, closedBy int64) (Period, error) {
	p := m.periods[id]
	p.Status = StatusClosed
	p.ClosedAt = &closedAt
	p.ClosedBy = &closedBy
	p.ReopenedAt = nil
	p.ReopenedBy = nil
	m.periods[id] = p
	return p, nil
}

func (m *memoryPeriodStore) MarkReopened(_ context.Context, _ pgx.Tx, _ shared.Scope, id int64, reopenedAt time.Time, reopenedBy int64) (Period, error) {
	p := m.periods[id]
	p.Status = StatusOpen
	p.ReopenedAt = &reopenedAt
	p.ReopenedBy = &reopenedBy
	m.periods[id] = p
	return p, nil
}

type guardAudit struct {
	actions []string
}

func (g *guardAudit) Record(_ context.Context, _ db.Querier, _ shared.Scope, entry audit.Entry) error {
	g.actions = append(g.actions, entry.Action)
	return nil
}

func newGuard(t *testing.T) (*Service, *memoryPeriodStore, *guardAudit) {
	t.Helper()
	store := newMemoryPeriodStore()
	rec := &guardAudit{}
	svc := NewService(store, rec)
	svc.WithNow(func() time.Time {
		return time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	})
	return svc, store, rec
}

func TestCreateRejectsInvertedRange(t *testing.T) {
	svc, _, _ := newGuard(t)
	_, err := svc.Create(context.Background(), guardScope, "Q1", day("2025-03-31"), day("2025-01-01"))
	require.ErrorIs(t, err, acctshared.ErrPeriodRange)
}

func TestCreateRejectsOverlap(t *testing.T) {
	svc, _, _ := newGuard(t)
	_, err := svc.Create(context.Background(), guardScope, "Jan", day("2025-01-01"), day("2025-01-31"))
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), guardScope, "Overlap", day("2025-01-15"), day("2025-02-15"))
	require.ErrorIs(t, err, acctshared.ErrPeriodOverlap)

	// Adjacent but disjoint ranges are fine.
	_, err = svc.Create(context.Background(), guardScope, "Feb", day("2025-02-01"), day("2025-02-28"))
	require.NoError(t, err)
}

func TestCreateDefaultsName(t *testing.T) {
	svc, _, _ := newGuard(t)
	p, err := svc.Create(context.Background(), guardScope, "", day("2025-01-01"), day("2025-01-31"))
	require.NoError(t, err)
	require.Equal(t, "2025-01-01 - 2025-01-31", p.Name)
}

func TestCreateChecksOverlapInsideInsertTransaction(t *testing.T) {
	svc, store, _ := newGuard(t)
	_, err := svc.Create(context.Background(), guardScope, "Jan", day("2025-01-01"), day("2025-01-31"))
	require.NoError(t, err)
	require.True(t, store.overlapCheckedInTx)
}

func TestCreateSeesPeriodCommittedBeforeItsTransaction(t *testing.T) {
	svc, store, _ := newGuard(t)
	// Another create for the same range commits between this request's
	// validation entry point and its insert transaction.
	store.onTxStart = func() {
		store.nextID++
		store.periods[store.nextID] = Period{
			ID:         store.nextID,
			BusinessID: guardScope.BusinessID,
			Name:       "Jan",
			StartDate:  day("2025-01-01"),
			EndDate:    day("2025-01-31"),
			Status:     StatusOpen,
		}
		store.onTxStart = nil
	}

	_, err := svc.Create(context.Background(), guardScope, "Overlap", day("2025-01-15"), day("2025-02-15"))
	require.ErrorIs(t, err, acctshared.ErrPeriodOverlap)
	require.Len(t, store.periods, 1)
}

func TestCloseBlocksPostingInsideRange(t *testing.T) {
	svc, _, rec := newGuard(t)
	p, err := svc.Create(context.Background(), guardScope, "Jan", day("2025-01-01"), day("2025-01-31"))
	require.NoError(t, err)

	require.NoError(t, svc.AssertOpen(context.Background(), nil, guardScope, day("2025-01-10")))

	closed, err := svc.Close(context.Background(), guardScope, p.ID)
	require.NoError(t, err)
	require.Equal(t, StatusClosed, closed.Status)
	require.NotNil(t, closed.ClosedAt)
	require.Equal(t, guardScope.ActorID, *closed.ClosedBy)
	require.Equal(t, []string{"period.closed"}, rec.actions)

	err = svc.AssertOpen(context.Background(), nil, guardScope, day("2025-01-10"))
	require.ErrorIs(t, err, acctshared.ErrPeriodClosed)

	// Dates outside the closed range stay postable.
	require.NoError(t, svc.AssertOpen(context.Background(), nil, guardScope, day("2025-02-01")))
}

func TestCloseIdempotent(t *testing.T) {
	svc, _, rec := newGuard(t)
	p, err := svc.Create(context.Background(), guardScope, "Jan", day("2025-01-01"), day("2025-01-31"))
	require.NoError(t, err)

	_, err = svc.Close(context.Background(), guardScope, p.ID)
	require.NoError(t, err)
	again, err := svc.Close(context.Background(), guardScope, p.ID)
	require.NoError(t, err)
	require.Equal(t, StatusClosed, again.Status)
	require.Len(t, rec.actions, 1, "replay must not re-audit")
}

func TestCloseRejectsUnbalancedJournal(t *testing.T) {
	svc, store, _ := newGuard(t)
	p, err := svc.Create(context.Background(), guardScope, "Jan", day("2025-01-01"), day("2025-01-31"))
	require.NoError(t, err)

	store.debit = decimal.RequireFromString("100.00")
	store.credit = decimal.RequireFromString("99.50")

	_, err = svc.Close(context.Background(), guardScope, p.ID)
	require.ErrorIs(t, err, acctshared.ErrPeriodUnbalanced)
	require.Equal(t, StatusOpen, store.periods[p.ID].Status)
}

func TestCloseToleratesCentDrift(t *testing.T) {
	svc, store, _ := newGuard(t)
	p, err := svc.Create(context.Background(), guardScope, "Jan", day("2025-01-01"), day("2025-01-31"))
	require.NoError(t, err)

	store.debit = decimal.RequireFromString("100.00")
	store.credit = decimal.RequireFromString("100.005")

	closed, err := svc.Close(context.Background(), guardScope, p.ID)
	require.NoError(t, err)
	require.Equal(t, StatusClosed, closed.Status)
}

func TestReopenRestoresPosting(t *testing.T) {
	svc, _, rec := newGuard(t)
	p, err := svc.Create(context.Background(), guardScope, "Jan", day("2025-01-01"), day("2025-01-31"))
	require.NoError(t, err)
	_, err = svc.Close(context.Background(), guardScope, p.ID)
	require.NoError(t, err)

	reopened, err := svc.Reopen(context.Background(), guardScope, p.ID)
	require.NoError(t, err)
	require.Equal(t, StatusOpen, reopened.Status)
	require.NotNil(t, reopened.ReopenedAt)
	require.Equal(t, []string{"period.closed", "period.reopened"}, rec.actions)

	require.NoError(t, svc.AssertOpen(context.Background(), nil, guardScope, day("2025-01-10")))
}

func TestReopenIdempotent(t *testing.T) {
	svc, _, rec := newGuard(t)
	p, err := svc.Create(context.Background(), guardScope, "Jan", day("2025-01-01"), day("2025-01-31"))
	require.NoError(t, err)

	reopened, err := svc.Reopen(context.Background(), guardScope, p.ID)
	require.NoError(t, err)
	require.Equal(t, StatusOpen, reopened.Status)
	require.Empty(t, rec.actions)
}

func TestCloseMissingPeriod(t *testing.T) {
	svc, _, _ := newGuard(t)
	_, err := svc.Close(context.Background(), guardScope, 42)
	require.ErrorIs(t, err, shared.ErrNotFound)
}
