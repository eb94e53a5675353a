package invoices

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	acctshared "github.com/meridian-pos/meridian-pos/internal/accounting/shared"
	"github.com/meridian-pos/meridian-pos/internal/inventory"
	"github.com/meridian-pos/meridian-pos/internal/platform/httpx"
	"github.com/meridian-pos/meridian-pos/internal/shared"
)

// Handler wires the invoice JSON endpoints. Tenant and actor arrive in
// the request scope resolved by the app middleware.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers invoice routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/invoices", h.handleCreate)
	r.Get("/invoices", h.handleList)
	r.Get("/invoices/{id}", h.handleGet)
	r.Post("/invoices/{id}/payments", h.handleAddPayment)
	r.Post("/invoices/{id}/refunds", h.handleRefund)
	r.Post("/invoices/{id}/void", h.handleVoid)
}

type createLineRequest struct {
	ProductID *int64          `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  decimal.Decimal `json:"quantity" validate:"required"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	TaxRate   decimal.Decimal `json:"tax_rate"`
}

type paymentRequest struct {
	Method       string          `json:"method" validate:"required,oneof=cash bank card moncash cheque other"`
	Amount       decimal.Decimal `json:"amount"`
	CashReceived decimal.Decimal `json:"cash_received"`
	Reference    *string         `json:"reference"`
	Notes        *string         `json:"notes"`
}

type createInvoiceRequest struct {
	CustomerID *int64              `json:"customer_id"`
	Currency   string              `json:"currency"`
	Notes      *string             `json:"notes"`
	Lines      []createLineRequest `json:"lines" validate:"required,min=1,dive"`
	Payment    *paymentRequest     `json:"payment"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing tenant scope")
		return
	}
	var req createInvoiceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	in := CreateInput{
		CustomerID: req.CustomerID,
		Currency:   req.Currency,
		Notes:      req.Notes,
	}
	for _, line := range req.Lines {
		in.Lines = append(in.Lines, CreateLine{
			ProductID: line.ProductID,
			Name:      line.Name,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			TaxRate:   line.TaxRate,
		})
	}
	if req.Payment != nil {
		in.Payment = &PaymentRequest{
			Method:       req.Payment.Method,
			Amount:       req.Payment.Amount,
			CashReceived: req.Payment.CashReceived,
			Reference:    req.Payment.Reference,
		}
	}

	inv, err := h.service.Create(r.Context(), scope, in)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, invoiceView(inv))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing tenant scope")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid invoice id")
		return
	}
	inv, err := h.service.Get(r.Context(), scope, id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, invoiceView(inv))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing tenant scope")
		return
	}
	q := r.URL.Query()
	filter := ListFilter{Status: q.Get("status")}
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			filter.Limit = n
		}
	}
	if raw := q.Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			filter.Offset = n
		}
	}
	list, err := h.service.List(r.Context(), scope, filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	views := make([]map[string]any, 0, len(list))
	for i := range list {
		views = append(views, invoiceView(&list[i]))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"invoices": views})
}

type addPaymentRequest struct {
	Method    string          `json:"method" validate:"required,oneof=cash bank card moncash cheque other"`
	Amount    decimal.Decimal `json:"amount" validate:"required"`
	Reference *string         `json:"reference"`
	Notes     *string         `json:"notes"`
}

func (h *Handler) handleAddPayment(w http.ResponseWriter, r *http.Request) {
	h.handlePaymentLike(w, r, h.service.AddPayment)
}

func (h *Handler) handleRefund(w http.ResponseWriter, r *http.Request) {
	h.handlePaymentLike(w, r, h.service.Refund)
}

func (h *Handler) handlePaymentLike(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, scope shared.Scope, id int64, in PaymentInput) (*Invoice, error)) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing tenant scope")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid invoice id")
		return
	}
	var req addPaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if !req.Amount.IsPositive() {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "amount must be positive")
		return
	}

	inv, err := op(r.Context(), scope, id, PaymentInput{
		Method:    req.Method,
		Amount:    req.Amount,
		Reference: req.Reference,
		Notes:     req.Notes,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, invoiceView(inv))
}

func (h *Handler) handleVoid(w http.ResponseWriter, r *http.Request) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing tenant scope")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid invoice id")
		return
	}
	inv, err := h.service.Void(r.Context(), scope, id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, invoiceView(inv))
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "invoice not found")
	case errors.Is(err, acctshared.ErrPostingConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", "a concurrent request posted this event, retry")
	case errors.Is(err, ErrInvoiceNotPayable),
		errors.Is(err, ErrPaymentExceedsBalance),
		errors.Is(err, ErrRefundExceedsPaid),
		errors.Is(err, ErrNothingPaid),
		errors.Is(err, ErrVoidWithPayments),
		errors.Is(err, ErrZeroTotal),
		errors.Is(err, ErrCashReceivedShort),
		errors.Is(err, inventory.ErrInsufficientStock),
		errors.Is(err, acctshared.ErrPeriodClosed):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable", err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "invoices: request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func invoiceView(inv *Invoice) map[string]any {
	view := map[string]any{
		"id":            inv.ID,
		"number":        inv.Number,
		"status":        inv.Status,
		"customer_id":   inv.CustomerID,
		"issue_date":    inv.IssueDate.Format(time.RFC3339),
		"currency":      inv.Currency,
		"subtotal":      inv.Subtotal,
		"tax_total":     inv.TaxTotal,
		"shipping_cost": inv.ShippingCost,
		"total":         inv.Total,
		"amount_paid":   inv.AmountPaid,
		"balance_due":   inv.BalanceDue,
	}
	if inv.PaidAt != nil {
		view["paid_at"] = inv.PaidAt.UTC().Format(time.RFC3339)
	}
	if inv.VoidedAt != nil {
		view["voided_at"] = inv.VoidedAt.UTC().Format(time.RFC3339)
	}
	if len(inv.Items) > 0 {
		items := make([]map[string]any, 0, len(inv.Items))
		for _, item := range inv.Items {
			items = append(items, map[string]any{
				"product_id":    item.ProductID,
				"name":          item.Name,
				"quantity":      item.Quantity,
				"unit_price":    item.UnitPrice,
				"tax_amount":    item.TaxAmount,
				"line_subtotal": item.LineSubtotal,
				"line_total":    item.LineTotal,
			})
		}
		view["items"] = items
	}
	if len(inv.Payments) > 0 {
		payments := make([]map[string]any, 0, len(inv.Payments))
		for _, p := range inv.Payments {
			payments = append(payments, map[string]any{
				"kind":    p.Kind,
				"method":  p.Method,
				"amount":  p.Amount,
				"paid_at": p.PaidAt.UTC().Format(time.RFC3339),
			})
		}
		view["payments"] = payments
	}
	return view
}
