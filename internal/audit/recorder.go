// Package audit records append-only before/after snapshots of state
// transitions. Entries carry the acting user and a per-request group
// id so every log written during one request can be correlated.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/meridian-pos/meridian-pos/internal/platform/db"
	"github.com/meridian-pos/meridian-pos/internal/shared"
)

// Entry is one audit record. Before/After/Meta are snapshotted as JSON.
type Entry struct {
	Action     string
	EntityType string
	EntityID   int64
	Before     map[string]any
	After      map[string]any
	Meta       map[string]any
}

// Recorder persists audit entries. Recording is best-effort: a call
// without tenant scope is silently dropped, and only successful state
// transitions are audited (a rolled-back transaction discards the row
// along with everything else).
type Recorder struct {
	logger *slog.Logger
	now    shared.Clock
}

func NewRecorder(logger *slog.Logger) *Recorder {
	return &Recorder{logger: logger, now: shared.UTCNow}
}

// WithNow overrides the clock for deterministic tests.
func (r *Recorder) WithNow(now shared.Clock) {
	if now != nil {
		r.now = now
	}
}

// Record writes the entry through q, joining the caller's transaction
// when q is a pgx.Tx.
func (r *Recorder) Record(ctx context.Context, q db.Querier, scope shared.Scope, entry Entry) error {
	if r == nil || scope.BusinessID == 0 {
		return nil
	}
	beforeJSON, err := marshalSnapshot(entry.Before)
	if err != nil {
		return err
	}
	afterJSON, err := marshalSnapshot(entry.After)
	if err != nil {
		return err
	}
	metaJSON, err := marshalSnapshot(entry.Meta)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `
INSERT INTO audit_logs (business_id, user_id, group_id, action, entity_type, entity_id, before, after, metadata, occurred_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		scope.BusinessID, nullActor(scope.ActorID), scope.GroupID, entry.Action,
		nullString(entry.EntityType), nullEntity(entry.EntityID),
		beforeJSON, afterJSON, metaJSON, r.now())
	if err != nil && r.logger != nil {
		r.logger.Error("audit record failed", slog.String("action", entry.Action), slog.Any("error", err))
	}
	return err
}

func marshalSnapshot(m map[string]any) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}

func nullActor(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

func nullEntity(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
