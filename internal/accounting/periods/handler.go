package periods

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	acctshared "github.com/meridian-pos/meridian-pos/internal/accounting/shared"
	"github.com/meridian-pos/meridian-pos/internal/platform/httpx"
	"github.com/meridian-pos/meridian-pos/internal/shared"
)

// Handler wires the accounting period JSON endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers period routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/periods", h.handleList)
	r.Post("/periods", h.handleCreate)
	r.Post("/periods/{id}/close", h.handleClose)
	r.Post("/periods/{id}/reopen", h.handleReopen)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing tenant scope")
		return
	}
	periods, err := h.service.List(r.Context(), scope)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	views := make([]map[string]any, 0, len(periods))
	for _, p := range periods {
		views = append(views, periodView(p))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"periods": views})
}

type createPeriodRequest struct {
	Name      string `json:"name"`
	StartDate string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate   string `json:"end_date" validate:"required,datetime=2006-01-02"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing tenant scope")
		return
	}
	var req createPeriodRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	start, _ := time.Parse("2006-01-02", req.StartDate)
	end, _ := time.Parse("2006-01-02", req.EndDate)

	period, err := h.service.Create(r.Context(), scope, req.Name, start, end)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, periodView(period))
}

func (h *Handler) handleClose(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Close)
}

func (h *Handler) handleReopen(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Reopen)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, scope shared.Scope, id int64) (Period, error)) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing tenant scope")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid period id")
		return
	}
	period, err := op(r.Context(), scope, id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, periodView(period))
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound), errors.Is(err, acctshared.ErrPeriodNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "period not found")
	case errors.Is(err, acctshared.ErrPeriodRange),
		errors.Is(err, acctshared.ErrPeriodOverlap),
		errors.Is(err, acctshared.ErrPeriodUnbalanced):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable", err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "periods: request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func periodView(p Period) map[string]any {
	view := map[string]any{
		"id":         p.ID,
		"name":       p.Name,
		"start_date": p.StartDate.Format("2006-01-02"),
		"end_date":   p.EndDate.Format("2006-01-02"),
		"status":     string(p.Status),
	}
	if p.ClosedAt != nil {
		view["closed_at"] = p.ClosedAt.UTC().Format(time.RFC3339)
	}
	if p.ReopenedAt != nil {
		view["reopened_at"] = p.ReopenedAt.UTC().Format(time.RFC3339)
	}
	return view
}
