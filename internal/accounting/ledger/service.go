package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	acctshared "github.com/meridian-pos/meridian-pos/internal/accounting/shared"
	"github.com/meridian-pos/meridian-pos/internal/audit"
	"github.com/meridian-pos/meridian-pos/internal/platform/db"
	"github.com/meridian-pos/meridian-pos/internal/shared"
)

// Store persists and looks up journal entries.
type Store interface {
	FindBySource(ctx context.Context, q db.Querier, scope shared.Scope, action Action, sourceType string, sourceID int64) (*JournalEntry, error)
	Insert(ctx context.Context, q db.Querier, scope shared.Scope, entry *JournalEntry) error
	MarkReversed(ctx context.Context, q db.Querier, scope shared.Scope, entryID int64) error
}

// Resolver maps account keys to concrete account ids for a business.
type Resolver interface {
	Resolve(ctx context.Context, q db.Querier, scope shared.Scope, key string) (int64, error)
}

// PeriodGuard rejects posting dates falling in a closed period.
type PeriodGuard interface {
	AssertOpen(ctx context.Context, q db.Querier, scope shared.Scope, date time.Time) error
}

// AuditPort records posting events on the request's audit group.
type AuditPort interface {
	Record(ctx context.Context, q db.Querier, scope shared.Scope, entry audit.Entry) error
}

// Engine is the single write path into the general ledger. All posting
// recipes reduce to Post, which enforces balance, period state and
// idempotency before any row is written.
type Engine struct {
	store    Store
	accounts Resolver
	periods  PeriodGuard
	audit    AuditPort
	logger   *slog.Logger
	now      shared.Clock
}

func NewEngine(store Store, accounts Resolver, periods PeriodGuard, auditPort AuditPort, logger *slog.Logger) *Engine {
	return &Engine{
		store:    store,
		accounts: accounts,
		periods:  periods,
		audit:    auditPort,
		logger:   logger,
		now:      shared.UTCNow,
	}
}

func (e *Engine) WithNow(now shared.Clock) {
	e.now = now
}

// Post creates a balanced journal entry inside the caller's
// transaction. Reposting the same (action, source) is a no-op that
// returns the existing entry.
func (e *Engine) Post(ctx context.Context, q db.Querier, scope shared.Scope, in PostingInput) (*JournalEntry, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	if existing, err := e.store.FindBySource(ctx, q, scope, in.Action, in.SourceType, in.SourceID); err == nil {
		e.logger.InfoContext(ctx, "ledger: duplicate posting skipped",
			slog.Int64("business_id", scope.BusinessID),
			slog.String("action", string(in.Action)),
			slog.Int64("source_id", in.SourceID))
		return existing, nil
	} else if !errors.Is(err, acctshared.ErrJournalNotFound) {
		return nil, err
	}

	entryDate := in.EntryDate
	if entryDate.IsZero() {
		entryDate = e.now()
	}
	if err := e.periods.AssertOpen(ctx, q, scope, entryDate); err != nil {
		return nil, err
	}

	entry, err := e.buildEntry(ctx, q, scope, in, entryDate)
	if err != nil {
		return nil, err
	}

	if err := e.store.Insert(ctx, q, scope, entry); err != nil {
		if db.IsUniqueViolation(err, "journal_entries_source_uniq") {
			// A concurrent transaction inserted the same (action, source)
			// first. The violation aborts this transaction and the
			// RepeatableRead snapshot predates the winner's commit, so
			// the existing row cannot be read here. The retried request
			// returns it through the pre-check above.
			return nil, fmt.Errorf("%w: %s %s/%d", acctshared.ErrPostingConflict, in.Action, in.SourceType, in.SourceID)
		}
		return nil, err
	}

	if err := e.audit.Record(ctx, q, scope, audit.Entry{
		Action:     "ledger.posted",
		EntityType: "journal_entry",
		EntityID:   entry.ID,
		After: map[string]any{
			"action":       string(entry.Action),
			"source_type":  entry.SourceType,
			"source_id":    entry.SourceID,
			"total_debit":  entry.TotalDebit.StringFixed(2),
			"total_credit": entry.TotalCredit.StringFixed(2),
		},
	}); err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "ledger: entry posted",
		slog.Int64("business_id", scope.BusinessID),
		slog.Int64("entry_id", entry.ID),
		slog.String("action", string(entry.Action)),
		slog.String("total", entry.TotalDebit.StringFixed(2)))
	return entry, nil
}

// buildEntry resolves account keys and checks the balance invariant on
// cent-rounded totals.
func (e *Engine) buildEntry(ctx context.Context, q db.Querier, scope shared.Scope, in PostingInput, entryDate time.Time) (*JournalEntry, error) {
	totalDebit := decimal.Zero
	totalCredit := decimal.Zero
	lines := make([]JournalLine, 0, len(in.Lines))
	for idx, pl := range in.Lines {
		accountID, err := e.accounts.Resolve(ctx, q, scope, pl.AccountKey)
		if err != nil {
			return nil, err
		}
		debit := pl.Debit.Round(2)
		credit := pl.Credit.Round(2)
		totalDebit = totalDebit.Add(debit)
		totalCredit = totalCredit.Add(credit)
		lines = append(lines, JournalLine{
			LineNo:      idx + 1,
			AccountID:   accountID,
			Description: pl.Description,
			Debit:       debit,
			Credit:      credit,
			CustomerID:  pl.CustomerID,
			VendorID:    pl.VendorID,
		})
	}
	if !totalDebit.Equal(totalCredit) {
		return nil, fmt.Errorf("%w: debit %s credit %s", acctshared.ErrUnbalanced,
			totalDebit.StringFixed(2), totalCredit.StringFixed(2))
	}

	currency := in.Currency
	if currency == "" {
		currency = "USD"
	}
	rate := in.ExchangeRate
	if rate.IsZero() {
		rate = decimal.NewFromInt(1)
	}

	var postedBy *int64
	if scope.ActorID != 0 {
		actor := scope.ActorID
		postedBy = &actor
	}
	return &JournalEntry{
		BusinessID:   scope.BusinessID,
		EntryDate:    entryDate,
		Action:       in.Action,
		Status:       EntryStatusPosted,
		Memo:         in.Memo,
		SourceType:   in.SourceType,
		SourceID:     in.SourceID,
		Currency:     currency,
		ExchangeRate: rate,
		TotalDebit:   totalDebit,
		TotalCredit:  totalCredit,
		PostedBy:     postedBy,
		Lines:        lines,
	}, nil
}

// Reverse posts an exact mirror of a prior entry under reverseAction
// and flips the original's status to reversed. Reversing an already
// reversed entry is a no-op returning the existing reversal.
func (e *Engine) Reverse(ctx context.Context, q db.Querier, scope shared.Scope, action Action, sourceType string, sourceID int64, reverseAction Action, entryDate time.Time, memo string) (*JournalEntry, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	original, err := e.store.FindBySource(ctx, q, scope, action, sourceType, sourceID)
	if err != nil {
		return nil, err
	}
	if existing, err := e.store.FindBySource(ctx, q, scope, reverseAction, sourceType, sourceID); err == nil {
		return existing, nil
	} else if !errors.Is(err, acctshared.ErrJournalNotFound) {
		return nil, err
	}

	if entryDate.IsZero() {
		entryDate = e.now()
	}
	if err := e.periods.AssertOpen(ctx, q, scope, entryDate); err != nil {
		return nil, err
	}

	var postedBy *int64
	if scope.ActorID != 0 {
		actor := scope.ActorID
		postedBy = &actor
	}
	reversal := &JournalEntry{
		BusinessID:      scope.BusinessID,
		EntryDate:       entryDate,
		Action:          reverseAction,
		Status:          EntryStatusPosted,
		Memo:            memo,
		SourceType:      sourceType,
		SourceID:        sourceID,
		Currency:        original.Currency,
		ExchangeRate:    original.ExchangeRate,
		TotalDebit:      original.TotalCredit,
		TotalCredit:     original.TotalDebit,
		ReversesEntryID: &original.ID,
		PostedBy:        postedBy,
	}
	for i, line := range original.Lines {
		reversal.Lines = append(reversal.Lines, JournalLine{
			LineNo:      i + 1,
			AccountID:   line.AccountID,
			Description: line.Description,
			Debit:       line.Credit,
			Credit:      line.Debit,
			CustomerID:  line.CustomerID,
			VendorID:    line.VendorID,
		})
	}

	if err := e.store.Insert(ctx, q, scope, reversal); err != nil {
		if db.IsUniqueViolation(err, "journal_entries_source_uniq") {
			return nil, fmt.Errorf("%w: %s %s/%d", acctshared.ErrPostingConflict, reverseAction, sourceType, sourceID)
		}
		return nil, err
	}
	if err := e.store.MarkReversed(ctx, q, scope, original.ID); err != nil {
		return nil, err
	}

	if err := e.audit.Record(ctx, q, scope, audit.Entry{
		Action:     "ledger.reversed",
		EntityType: "journal_entry",
		EntityID:   reversal.ID,
		Before:     map[string]any{"entry_id": original.ID, "status": string(EntryStatusPosted)},
		After:      map[string]any{"entry_id": original.ID, "status": string(EntryStatusReversed), "reversal_id": reversal.ID},
	}); err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "ledger: entry reversed",
		slog.Int64("business_id", scope.BusinessID),
		slog.Int64("entry_id", original.ID),
		slog.Int64("reversal_id", reversal.ID))
	return reversal, nil
}
