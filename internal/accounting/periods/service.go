package periods

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	acctshared "github.com/meridian-pos/meridian-pos/internal/accounting/shared"
	"github.com/meridian-pos/meridian-pos/internal/audit"
	"github.com/meridian-pos/meridian-pos/internal/platform/db"
	"github.com/meridian-pos/meridian-pos/internal/shared"
)

// Store abstracts the repository for the guard service.
type Store interface {
	WithTx(ctx context.Context, fn func(pgx.Tx) error) error
	List(ctx context.Context, scope shared.Scope) ([]Period, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, scope shared.Scope, id int64) (Period, error)
	ClosedExistsForDate(ctx context.Context, q db.Querier, scope shared.Scope, date time.Time) (bool, error)
	RangeConflict(ctx context.Context, q db.Querier, scope shared.Scope, start, end time.Time) (bool, error)
	Insert(ctx context.Context, tx pgx.Tx, scope shared.Scope, name string, start, end time.Time) (Period, error)
	PostedTotals(ctx context.Context, tx pgx.Tx, scope shared.Scope, start, end time.Time) (decimal.Decimal, decimal.Decimal, error)
	MarkClosed(ctx context.Context, tx pgx.Tx, scope shared.Scope, id int64, closedAt time.Time, closedBy int64) (Period, error)
	MarkReopened(ctx context.Context, tx pgx.Tx, scope shared.Scope, id int64, reopenedAt time.Time, reopenedBy int64) (Period, error)
}

// AuditPort decouples the service from the audit recorder.
type AuditPort interface {
	Record(ctx context.Context, q db.Querier, scope shared.Scope, entry audit.Entry) error
}

// Service is the accounting period guard: it answers "is this date
// postable?" and owns the open/closed lifecycle.
type Service struct {
	store Store
	audit AuditPort
	now   shared.Clock
}

func NewService(store Store, auditPort AuditPort) *Service {
	return &Service{store: store, audit: auditPort, now: shared.UTCNow}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now shared.Clock) {
	if now != nil {
		s.now = now
	}
}

// List returns the tenant's periods.
func (s *Service) List(ctx context.Context, scope shared.Scope) ([]Period, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	return s.store.List(ctx, scope)
}

// IsDateClosed reports whether date falls inside a closed period.
func (s *Service) IsDateClosed(ctx context.Context, q db.Querier, scope shared.Scope, date time.Time) (bool, error) {
	if err := scope.Validate(); err != nil {
		return false, err
	}
	return s.store.ClosedExistsForDate(ctx, q, scope, date)
}

// AssertOpen fails with ErrPeriodClosed when date is inside a closed
// period. Engines call this before constructing any posting.
func (s *Service) AssertOpen(ctx context.Context, q db.Querier, scope shared.Scope, date time.Time) error {
	closed, err := s.IsDateClosed(ctx, q, scope, date)
	if err != nil {
		return err
	}
	if closed {
		return fmt.Errorf("%w: cannot post on %s", acctshared.ErrPeriodClosed, date.Format("2006-01-02"))
	}
	return nil
}

// ValidateRange rejects inverted or overlapping candidate ranges. The
// overlap query must run on the same transaction as the insert it
// protects, otherwise two concurrent creates can both pass it.
func (s *Service) ValidateRange(ctx context.Context, q db.Querier, scope shared.Scope, start, end time.Time) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	if start.After(end) {
		return acctshared.ErrPeriodRange
	}
	conflict, err := s.store.RangeConflict(ctx, q, scope, start, end)
	if err != nil {
		return err
	}
	if conflict {
		return acctshared.ErrPeriodOverlap
	}
	return nil
}

// Create opens a new period after range validation.
func (s *Service) Create(ctx context.Context, scope shared.Scope, name string, start, end time.Time) (Period, error) {
	if err := scope.Validate(); err != nil {
		return Period{}, err
	}
	if name == "" {
		name = fmt.Sprintf("%s - %s", start.Format("2006-01-02"), end.Format("2006-01-02"))
	}
	var period Period
	err := s.store.WithTx(ctx, func(tx pgx.Tx) error {
		if err := s.ValidateRange(ctx, tx, scope, start, end); err != nil {
			return err
		}
		var e error
		period, e = s.store.Insert(ctx, tx, scope, name, start, end)
		return e
	})
	if err != nil {
		return Period{}, err
	}
	return period, nil
}

// Close transitions a period open→closed after verifying the posted
// journal inside the range balances. Closing an already-closed period
// is a no-op returning the current row.
func (s *Service) Close(ctx context.Context, scope shared.Scope, periodID int64) (Period, error) {
	if err := scope.Validate(); err != nil {
		return Period{}, err
	}
	var period Period
	err := s.store.WithTx(ctx, func(tx pgx.Tx) error {
		current, err := s.store.GetForUpdate(ctx, tx, scope, periodID)
		if err != nil {
			return err
		}
		if current.Status == StatusClosed {
			period = current
			return nil
		}
		debit, credit, err := s.store.PostedTotals(ctx, tx, scope, current.StartDate, current.EndDate)
		if err != nil {
			return err
		}
		if !shared.MoneyEqual(debit, credit) {
			return acctshared.ErrPeriodUnbalanced
		}
		closed, err := s.store.MarkClosed(ctx, tx, scope, current.ID, s.now(), scope.ActorID)
		if err != nil {
			return err
		}
		period = closed
		if s.audit != nil {
			return s.audit.Record(ctx, tx, scope, audit.Entry{
				Action:     "period.closed",
				EntityType: "AccountingPeriod",
				EntityID:   closed.ID,
				Before:     snapshot(current),
				After:      snapshot(closed),
				Meta: map[string]any{
					"range": []string{current.StartDate.Format("2006-01-02"), current.EndDate.Format("2006-01-02")},
				},
			})
		}
		return nil
	})
	if err != nil {
		return Period{}, err
	}
	return period, nil
}

// Reopen transitions closed→open. It only restores mutability; no
// balance re-validation happens here.
func (s *Service) Reopen(ctx context.Context, scope shared.Scope, periodID int64) (Period, error) {
	if err := scope.Validate(); err != nil {
		return Period{}, err
	}
	var period Period
	err := s.store.WithTx(ctx, func(tx pgx.Tx) error {
		current, err := s.store.GetForUpdate(ctx, tx, scope, periodID)
		if err != nil {
			return err
		}
		if current.Status == StatusOpen {
			period = current
			return nil
		}
		reopened, err := s.store.MarkReopened(ctx, tx, scope, current.ID, s.now(), scope.ActorID)
		if err != nil {
			return err
		}
		period = reopened
		if s.audit != nil {
			return s.audit.Record(ctx, tx, scope, audit.Entry{
				Action:     "period.reopened",
				EntityType: "AccountingPeriod",
				EntityID:   reopened.ID,
				Before:     snapshot(current),
				After:      snapshot(reopened),
			})
		}
		return nil
	})
	if err != nil {
		return Period{}, err
	}
	return period, nil
}

func snapshot(p Period) map[string]any {
	m := map[string]any{
		"status":     string(p.Status),
		"start_date": p.StartDate.Format("2006-01-02"),
		"end_date":   p.EndDate.Format("2006-01-02"),
	}
	if p.ClosedAt != nil {
		m["closed_at"] = p.ClosedAt.UTC().Format(time.RFC3339)
	}
	if p.ReopenedAt != nil {
		m["reopened_at"] = p.ReopenedAt.UTC().Format(time.RFC3339)
	}
	return m
}
