package audit

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/meridian-pos/meridian-pos/internal/platform/httpx"
	"github.com/meridian-pos/meridian-pos/internal/shared"
)

// Handler serves the read-only audit log listing.
type Handler struct {
	logger *slog.Logger
	repo   *Repository
}

func NewHandler(logger *slog.Logger, repo *Repository) *Handler {
	return &Handler{logger: logger, repo: repo}
}

// MountRoutes registers audit routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/audit-logs", h.handleList)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing tenant scope")
		return
	}
	q := r.URL.Query()
	filter := Filter{
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
	}
	if raw := q.Get("group_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid group_id")
			return
		}
		filter.GroupID = id
	}
	if raw := q.Get("from"); raw != "" {
		if t, err := time.Parse("2006-01-02", raw); err == nil {
			filter.From = t
		}
	}
	if raw := q.Get("to"); raw != "" {
		if t, err := time.Parse("2006-01-02", raw); err == nil {
			filter.To = t
		}
	}
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			filter.Limit = n
		}
	}

	logs, err := h.repo.List(r.Context(), scope, filter)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "audit: list failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	views := make([]map[string]any, 0, len(logs))
	for _, l := range logs {
		views = append(views, logView(l))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"logs": views})
}

func logView(l Log) map[string]any {
	view := map[string]any{
		"id":          l.ID,
		"action":      l.Action,
		"group_id":    l.GroupID,
		"occurred_at": l.OccurredAt.UTC().Format(time.RFC3339),
	}
	if l.UserID != nil {
		view["user_id"] = *l.UserID
	}
	if l.EntityType != nil {
		view["entity_type"] = *l.EntityType
	}
	if l.EntityID != nil {
		view["entity_id"] = *l.EntityID
	}
	// Snapshots are stored as JSONB; pass them through untouched.
	if len(l.Before) > 0 {
		view["before"] = json.RawMessage(l.Before)
	}
	if len(l.After) > 0 {
		view["after"] = json.RawMessage(l.After)
	}
	if len(l.Meta) > 0 {
		view["metadata"] = json.RawMessage(l.Meta)
	}
	return view
}
