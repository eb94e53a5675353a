package ledger

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	acctshared "github.com/meridian-pos/meridian-pos/internal/accounting/shared"
	"github.com/meridian-pos/meridian-pos/internal/platform/db"
	"github.com/meridian-pos/meridian-pos/internal/shared"
)

// Repository persists journal entries and lines. Methods take a
// Querier because postings always run inside the workflow transaction
// that triggered them.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

const entryColumns = `id, business_id, entry_date, action, status, memo, source_type, source_id, currency, exchange_rate, total_debit, total_credit, reverses_entry_id, posted_by, created_at, updated_at`

func scanEntry(row pgx.Row) (JournalEntry, error) {
	var e JournalEntry
	err := row.Scan(&e.ID, &e.BusinessID, &e.EntryDate, &e.Action, &e.Status, &e.Memo, &e.SourceType, &e.SourceID,
		&e.Currency, &e.ExchangeRate, &e.TotalDebit, &e.TotalCredit, &e.ReversesEntryID, &e.PostedBy, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}

// FindBySource returns the entry for (business, action, source) with
// its lines, or ErrJournalNotFound.
func (r *Repository) FindBySource(ctx context.Context, q db.Querier, scope shared.Scope, action Action, sourceType string, sourceID int64) (*JournalEntry, error) {
	entry, err := scanEntry(q.QueryRow(ctx, `
SELECT `+entryColumns+` FROM journal_entries
WHERE business_id=$1 AND action=$2 AND source_type=$3 AND source_id=$4`,
		scope.BusinessID, action, sourceType, sourceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, acctshared.ErrJournalNotFound
		}
		return nil, err
	}
	lines, err := r.loadLines(ctx, q, entry.ID)
	if err != nil {
		return nil, err
	}
	entry.Lines = lines
	return &entry, nil
}

// Insert writes the entry header and all lines atomically within the
// caller's transaction, filling generated ids. The unique index on
// (business_id, action, source_type, source_id) surfaces concurrent
// duplicate postings as a 23505 error.
func (r *Repository) Insert(ctx context.Context, q db.Querier, scope shared.Scope, entry *JournalEntry) error {
	row := q.QueryRow(ctx, `
INSERT INTO journal_entries
  (business_id, entry_date, action, status, memo, source_type, source_id, currency, exchange_rate, total_debit, total_credit, reverses_entry_id, posted_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
RETURNING id, created_at, updated_at`,
		scope.BusinessID, entry.EntryDate, entry.Action, entry.Status, entry.Memo, entry.SourceType, entry.SourceID,
		entry.Currency, entry.ExchangeRate, entry.TotalDebit, entry.TotalCredit, entry.ReversesEntryID, entry.PostedBy)
	if err := row.Scan(&entry.ID, &entry.CreatedAt, &entry.UpdatedAt); err != nil {
		return err
	}
	entry.BusinessID = scope.BusinessID
	for i := range entry.Lines {
		line := &entry.Lines[i]
		line.EntryID = entry.ID
		err := q.QueryRow(ctx, `
INSERT INTO journal_lines (journal_entry_id, line_no, account_id, description, debit, credit, customer_id, vendor_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
RETURNING id`,
			entry.ID, line.LineNo, line.AccountID, line.Description, line.Debit, line.Credit, line.CustomerID, line.VendorID).Scan(&line.ID)
		if err != nil {
			return err
		}
	}
	return nil
}

// MarkReversed flips an entry's status after a reversing entry posts.
func (r *Repository) MarkReversed(ctx context.Context, q db.Querier, scope shared.Scope, entryID int64) error {
	cmd, err := q.Exec(ctx, `UPDATE journal_entries SET status=$3, updated_at=NOW() WHERE business_id=$1 AND id=$2`,
		scope.BusinessID, entryID, EntryStatusReversed)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return acctshared.ErrJournalNotFound
	}
	return nil
}

func (r *Repository) loadLines(ctx context.Context, q db.Querier, entryID int64) ([]JournalLine, error) {
	rows, err := q.Query(ctx, `
SELECT id, journal_entry_id, line_no, account_id, description, debit, credit, customer_id, vendor_id
FROM journal_lines WHERE journal_entry_id=$1 ORDER BY line_no ASC`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []JournalLine
	for rows.Next() {
		var l JournalLine
		if err := rows.Scan(&l.ID, &l.EntryID, &l.LineNo, &l.AccountID, &l.Description, &l.Debit, &l.Credit, &l.CustomerID, &l.VendorID); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}
