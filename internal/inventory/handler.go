package inventory

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/meridian-pos/meridian-pos/internal/platform/httpx"
	"github.com/meridian-pos/meridian-pos/internal/shared"
)

// Reader serves the read-only product and movement listings.
type Reader interface {
	ListProducts(ctx context.Context, scope shared.Scope) ([]Product, error)
	ListMovements(ctx context.Context, scope shared.Scope, filter MovementFilter) ([]StockMovement, error)
}

// Handler wires the inventory JSON endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	reader   Reader
	validate *validator.Validate
}

func NewHandler(logger *slog.Logger, service *Service, reader Reader) *Handler {
	return &Handler{logger: logger, service: service, reader: reader, validate: validator.New()}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/products", h.handleListProducts)
	r.Post("/products/{id}/adjust", h.handleAdjust)
	r.Get("/stock-movements", h.handleListMovements)
}

func (h *Handler) handleListProducts(w http.ResponseWriter, r *http.Request) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing tenant scope")
		return
	}
	products, err := h.reader.ListProducts(r.Context(), scope)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	views := make([]map[string]any, 0, len(products))
	for _, p := range products {
		views = append(views, map[string]any{
			"id":              p.ID,
			"name":            p.Name,
			"sku":             p.SKU,
			"price":           p.Price,
			"cost_price":      p.CostPrice,
			"track_inventory": p.TrackInventory,
			"stock":           p.Stock,
			"is_active":       p.IsActive,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"products": views})
}

type adjustRequest struct {
	Operation string           `json:"operation" validate:"required,oneof=increase decrease set"`
	Quantity  decimal.Decimal  `json:"quantity" validate:"required"`
	Reason    string           `json:"reason"`
	UnitCost  *decimal.Decimal `json:"unit_cost"`
	Notes     *string          `json:"notes"`
}

func (h *Handler) handleAdjust(w http.ResponseWriter, r *http.Request) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing tenant scope")
		return
	}
	productID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid product id")
		return
	}
	var req adjustRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	result, err := h.service.Adjust(r.Context(), scope, AdjustInput{
		ProductID: productID,
		Operation: req.Operation,
		Quantity:  req.Quantity,
		Reason:    req.Reason,
		UnitCost:  req.UnitCost,
		Notes:     req.Notes,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"product_id": result.Product.ID,
		"old_stock":  result.OldStock,
		"new_stock":  result.NewStock,
		"movement": map[string]any{
			"direction": result.Movement.Direction,
			"reason":    result.Movement.Reason,
			"quantity":  result.Movement.Quantity,
		},
	})
}

func (h *Handler) handleListMovements(w http.ResponseWriter, r *http.Request) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing tenant scope")
		return
	}
	q := r.URL.Query()
	filter := MovementFilter{Reason: q.Get("reason")}
	if raw := q.Get("product_id"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			filter.ProductID = id
		}
	}
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			filter.Limit = n
		}
	}
	movements, err := h.reader.ListMovements(r.Context(), scope, filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	views := make([]map[string]any, 0, len(movements))
	for _, m := range movements {
		view := map[string]any{
			"id":         m.ID,
			"product_id": m.ProductID,
			"direction":  m.Direction,
			"reason":     m.Reason,
			"quantity":   m.Quantity,
			"unit_cost":  m.UnitCost,
			"created_at": m.CreatedAt,
		}
		if m.SourceType != nil {
			view["source_type"] = *m.SourceType
		}
		if m.SourceID != nil {
			view["source_id"] = *m.SourceID
		}
		views = append(views, view)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": views})
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "product not found")
	case errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrNotTracked),
		errors.Is(err, ErrNoChange),
		errors.Is(err, ErrInvalidQuantity):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable", err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "inventory: request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
