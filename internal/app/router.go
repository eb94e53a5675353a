package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-pos/meridian-pos/internal/accounting"
	"github.com/meridian-pos/meridian-pos/internal/accounting/periods"
	"github.com/meridian-pos/meridian-pos/internal/audit"
	"github.com/meridian-pos/meridian-pos/internal/inventory"
	"github.com/meridian-pos/meridian-pos/internal/invoices"
	"github.com/meridian-pos/meridian-pos/internal/sales/documents"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	InvoiceHandler    *invoices.Handler
	InventoryHandler  *inventory.Handler
	DocumentHandler   *documents.Handler
	PeriodHandler     *periods.Handler
	AccountingHandler *accounting.Handler
	AuditHandler      *audit.Handler
}

// NewRouter constructs the chi.Router with Meridian defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger: params.Logger,
		Config: params.Config,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(RequireScope)

		if params.InvoiceHandler != nil {
			params.InvoiceHandler.MountRoutes(r)
		}
		if params.InventoryHandler != nil {
			params.InventoryHandler.MountRoutes(r)
		}
		if params.DocumentHandler != nil {
			params.DocumentHandler.MountRoutes(r)
		}
		if params.PeriodHandler != nil {
			params.PeriodHandler.MountRoutes(r)
		}
		if params.AccountingHandler != nil {
			params.AccountingHandler.MountRoutes(r)
		}
		if params.AuditHandler != nil {
			params.AuditHandler.MountRoutes(r)
		}
	})

	return r
}
