package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/meridian-pos/meridian-pos/internal/audit"
	"github.com/meridian-pos/meridian-pos/internal/platform/db"
	"github.com/meridian-pos/meridian-pos/internal/shared"
)

// Store is the persistence surface the stock engine needs.
type Store interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
	GetProductForUpdate(ctx context.Context, q db.Querier, scope shared.Scope, id int64) (*Product, error)
	LockProducts(ctx context.Context, q db.Querier, scope shared.Scope, ids []int64) (map[int64]*Product, error)
	UpdateStock(ctx context.Context, q db.Querier, scope shared.Scope, productID int64, stock decimal.Decimal) error
	MovementExists(ctx context.Context, q db.Querier, scope shared.Scope, sourceType string, sourceID int64, reason string) (bool, error)
	InsertMovement(ctx context.Context, q db.Querier, scope shared.Scope, m *StockMovement) error
}

// AuditPort records manual stock adjustments.
type AuditPort interface {
	Record(ctx context.Context, q db.Querier, scope shared.Scope, entry audit.Entry) error
}

// Service is the stock engine. Issue and void run inside the caller's
// invoice transaction; manual adjustments open their own.
type Service struct {
	store  Store
	audit  AuditPort
	logger *slog.Logger
}

func NewService(store Store, auditPort AuditPort, logger *slog.Logger) *Service {
	return &Service{store: store, audit: auditPort, logger: logger}
}

// StockLine is one invoice line's inventory effect.
type StockLine struct {
	ProductID int64
	Qty       decimal.Decimal
	UnitCost  decimal.Decimal
}

// IssueInput describes the stock to issue for a source document.
type IssueInput struct {
	SourceType string
	SourceID   int64
	Lines      []StockLine
}

// IssueStock decrements tracked products for a source document inside
// the caller's transaction. Replays for the same source are no-ops.
// The whole issue fails if any tracked product lacks quantity.
func (s *Service) IssueStock(ctx context.Context, q db.Querier, scope shared.Scope, in IssueInput) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	lines := effectiveLines(in.Lines)
	if len(lines) == 0 {
		return nil
	}

	exists, err := s.store.MovementExists(ctx, q, scope, in.SourceType, in.SourceID, ReasonInvoiceIssue)
	if err != nil {
		return err
	}
	if exists {
		s.logger.InfoContext(ctx, "inventory: issue already recorded",
			slog.Int64("business_id", scope.BusinessID),
			slog.String("source_type", in.SourceType),
			slog.Int64("source_id", in.SourceID))
		return nil
	}

	products, err := s.lockRequired(ctx, q, scope, lines)
	if err != nil {
		return err
	}

	// Availability is checked over the aggregate before any row moves.
	required := requiredByProduct(lines)
	for _, id := range sortedKeys(required) {
		product, ok := products[id]
		if !ok || !product.TrackInventory {
			continue
		}
		if product.Stock.Add(shared.StockEpsilon).LessThan(required[id]) {
			return fmt.Errorf("%w: %s", ErrInsufficientStock, product.Name)
		}
	}

	for _, line := range lines {
		product, ok := products[line.ProductID]
		if !ok || !product.TrackInventory {
			continue
		}
		if err := s.writeMovement(ctx, q, scope, product, line, in, DirectionOut, ReasonInvoiceIssue); err != nil {
			return err
		}
		newStock := product.Stock.Sub(line.Qty)
		if newStock.IsNegative() {
			newStock = decimal.Zero
		}
		newStock = newStock.Round(3)
		if err := s.store.UpdateStock(ctx, q, scope, product.ID, newStock); err != nil {
			return err
		}
		product.Stock = newStock
	}
	return nil
}

// VoidStock restores quantities issued for a source document. Replays
// are no-ops.
func (s *Service) VoidStock(ctx context.Context, q db.Querier, scope shared.Scope, in IssueInput) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	lines := effectiveLines(in.Lines)
	if len(lines) == 0 {
		return nil
	}

	exists, err := s.store.MovementExists(ctx, q, scope, in.SourceType, in.SourceID, ReasonInvoiceVoid)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	products, err := s.lockRequired(ctx, q, scope, lines)
	if err != nil {
		return err
	}

	for _, line := range lines {
		product, ok := products[line.ProductID]
		if !ok || !product.TrackInventory {
			continue
		}
		if err := s.writeMovement(ctx, q, scope, product, line, in, DirectionIn, ReasonInvoiceVoid); err != nil {
			return err
		}
		newStock := product.Stock.Add(line.Qty).Round(3)
		if err := s.store.UpdateStock(ctx, q, scope, product.ID, newStock); err != nil {
			return err
		}
		product.Stock = newStock
	}
	return nil
}

// Adjustment operations.
const (
	OpIncrease = "increase"
	OpDecrease = "decrease"
	OpSet      = "set"
)

// AdjustInput describes a manual stock correction.
type AdjustInput struct {
	ProductID int64
	Operation string
	Quantity  decimal.Decimal
	Reason    string
	UnitCost  *decimal.Decimal
	Notes     *string
}

// AdjustResult reports the applied change.
type AdjustResult struct {
	Product  Product
	OldStock decimal.Decimal
	NewStock decimal.Decimal
	Movement StockMovement
}

// Adjust applies a manual correction in its own transaction and audit
// logs the before and after quantities.
func (s *Service) Adjust(ctx context.Context, scope shared.Scope, in AdjustInput) (*AdjustResult, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	var result *AdjustResult
	err := s.store.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		result, err = s.adjustLocked(ctx, tx, scope, in)
		return err
	})
	return result, err
}

func (s *Service) adjustLocked(ctx context.Context, q db.Querier, scope shared.Scope, in AdjustInput) (*AdjustResult, error) {
	product, err := s.store.GetProductForUpdate(ctx, q, scope, in.ProductID)
	if err != nil {
		return nil, err
	}
	if !product.TrackInventory {
		return nil, ErrNotTracked
	}

	oldStock := product.Stock
	qty := in.Quantity.Round(3)

	var direction string
	var movementQty decimal.Decimal
	var newStock decimal.Decimal

	switch in.Operation {
	case OpIncrease:
		if !qty.IsPositive() {
			return nil, ErrInvalidQuantity
		}
		newStock = oldStock.Add(qty)
		movementQty = qty
		direction = DirectionIn
	case OpDecrease:
		if !qty.IsPositive() {
			return nil, ErrInvalidQuantity
		}
		if qty.GreaterThan(oldStock.Add(shared.StockEpsilon)) {
			return nil, fmt.Errorf("%w: %s", ErrInsufficientStock, product.Name)
		}
		newStock = oldStock.Sub(qty)
		movementQty = qty
		direction = DirectionOut
	case OpSet:
		newStock = qty
		if newStock.IsNegative() {
			newStock = decimal.Zero
		}
		delta := newStock.Sub(oldStock).Round(3)
		if delta.Abs().LessThanOrEqual(shared.StockEpsilon) {
			return nil, ErrNoChange
		}
		if delta.IsPositive() {
			direction = DirectionIn
		} else {
			direction = DirectionOut
		}
		movementQty = delta.Abs()
	default:
		return nil, fmt.Errorf("inventory: unknown operation %q", in.Operation)
	}

	if newStock.IsNegative() {
		newStock = decimal.Zero
	}
	newStock = newStock.Round(3)

	unitCost := product.CostPrice
	if in.UnitCost != nil {
		unitCost = *in.UnitCost
	}
	reason := in.Reason
	if reason == "" {
		reason = ReasonManualAdjustment
	}

	if err := s.store.UpdateStock(ctx, q, scope, product.ID, newStock); err != nil {
		return nil, err
	}

	sourceType := SourceTypeManual
	movement := StockMovement{
		ProductID:  product.ID,
		Direction:  direction,
		Reason:     reason,
		Quantity:   movementQty,
		UnitCost:   unitCost,
		SourceType: &sourceType,
		Notes:      in.Notes,
	}
	if scope.ActorID != 0 {
		actor := scope.ActorID
		movement.CreatedBy = &actor
	}
	if err := s.store.InsertMovement(ctx, q, scope, &movement); err != nil {
		return nil, err
	}

	if err := s.audit.Record(ctx, q, scope, audit.Entry{
		Action:     "stock.adjusted",
		EntityType: "product",
		EntityID:   product.ID,
		Before:     map[string]any{"stock": oldStock.StringFixed(3)},
		After:      map[string]any{"stock": newStock.StringFixed(3)},
		Meta:       map[string]any{"operation": in.Operation, "reason": reason},
	}); err != nil {
		return nil, err
	}

	product.Stock = newStock
	return &AdjustResult{
		Product:  *product,
		OldStock: oldStock,
		NewStock: newStock,
		Movement: movement,
	}, nil
}

func (s *Service) lockRequired(ctx context.Context, q db.Querier, scope shared.Scope, lines []StockLine) (map[int64]*Product, error) {
	required := requiredByProduct(lines)
	return s.store.LockProducts(ctx, q, scope, sortedKeys(required))
}

func (s *Service) writeMovement(ctx context.Context, q db.Querier, scope shared.Scope, product *Product, line StockLine, in IssueInput, direction, reason string) error {
	sourceType := in.SourceType
	sourceID := in.SourceID
	movement := StockMovement{
		ProductID:  product.ID,
		Direction:  direction,
		Reason:     reason,
		Quantity:   line.Qty,
		UnitCost:   line.UnitCost,
		SourceType: &sourceType,
		SourceID:   &sourceID,
	}
	if scope.ActorID != 0 {
		actor := scope.ActorID
		movement.CreatedBy = &actor
	}
	return s.store.InsertMovement(ctx, q, scope, &movement)
}

func effectiveLines(lines []StockLine) []StockLine {
	out := lines[:0:0]
	for _, line := range lines {
		if line.ProductID == 0 || !line.Qty.IsPositive() {
			continue
		}
		out = append(out, line)
	}
	return out
}

func requiredByProduct(lines []StockLine) map[int64]decimal.Decimal {
	required := make(map[int64]decimal.Decimal, len(lines))
	for _, line := range lines {
		required[line.ProductID] = required[line.ProductID].Add(line.Qty)
	}
	return required
}

func sortedKeys(m map[int64]decimal.Decimal) []int64 {
	keys := make([]int64, 0, len(m))
	for id := range m {
		keys = append(keys, id)
	}
	slices.Sort(keys)
	return keys
}
