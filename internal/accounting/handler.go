// Package accounting exposes the chart-of-accounts and mapping
// administration endpoints. Posting itself has no HTTP surface; it
// only happens inside the sale and invoice workflows.
package accounting

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-pos/meridian-pos/internal/accounting/accounts"
	"github.com/meridian-pos/meridian-pos/internal/accounting/mappings"
	acctshared "github.com/meridian-pos/meridian-pos/internal/accounting/shared"
	"github.com/meridian-pos/meridian-pos/internal/platform/httpx"
	"github.com/meridian-pos/meridian-pos/internal/shared"
)

// Handler wires the chart-of-accounts JSON endpoints.
type Handler struct {
	logger    *slog.Logger
	accounts  *accounts.Repository
	directory *mappings.Directory
	pool      *pgxpool.Pool
	validate  *validator.Validate
}

func NewHandler(logger *slog.Logger, accountRepo *accounts.Repository, directory *mappings.Directory, pool *pgxpool.Pool) *Handler {
	return &Handler{logger: logger, accounts: accountRepo, directory: directory, pool: pool, validate: validator.New()}
}

// MountRoutes registers accounting routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/accounts", h.handleListAccounts)
	r.Put("/account-mappings/{key}", h.handleRebind)
}

func (h *Handler) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing tenant scope")
		return
	}
	list, err := h.accounts.List(r.Context(), scope)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	views := make([]map[string]any, 0, len(list))
	for _, a := range list {
		views = append(views, map[string]any{
			"id":             a.ID,
			"code":           a.Code,
			"name":           a.Name,
			"type":           string(a.Type),
			"subtype":        a.Subtype,
			"normal_balance": string(a.NormalBalance),
			"is_system":      a.IsSystem,
			"is_active":      a.IsActive,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"accounts": views})
}

type rebindRequest struct {
	AccountID int64 `json:"account_id" validate:"required,gt=0"`
}

func (h *Handler) handleRebind(w http.ResponseWriter, r *http.Request) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing tenant scope")
		return
	}
	key := chi.URLParam(r, "key")
	var req rebindRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	if err := h.directory.Rebind(r.Context(), h.pool, scope, key, req.AccountID); err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"key":        key,
		"account_id": req.AccountID,
	})
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "account not found")
	case errors.Is(err, acctshared.ErrMappingMissing):
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	default:
		h.logger.ErrorContext(r.Context(), "accounting: request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
