package documents

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
	"github.com/meridian-pos/meridian-pos/internal/invoices"
	"github.com/meridian-pos/meridian-pos/internal/platform/httpx"
	"github.com/meridian-pos/meridian-pos/internal/shared"
)

// Reader serves the document listing.
type Reader interface {
	List(ctx context.Context, scope shared.Scope, filter ListFilter) ([]SalesDocument, error)
}

// Handler wires the quote/proforma JSON endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	reader   Reader
	validate *validator.Validate
}

func NewHandler(logger *slog.Logger, service *Service, reader Reader) *Handler {
	return &Handler{logger: logger, service: service, reader: reader, validate: validator.New()}
}

// MountRoutes registers document routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/documents", h.handleCreate)
	r.Get("/documents", h.handleList)
	r.Get("/documents/{id}", h.handleGet)
	r.Post("/documents/{id}/send", h.statusHandler(h.service.MarkSent))
	r.Post("/documents/{id}/accept", h.statusHandler(h.service.Accept))
	r.Post("/documents/{id}/reject", h.statusHandler(h.service.Reject))
	r.Post("/documents/{id}/cancel", h.statusHandler(h.service.Cancel))
	r.Post("/documents/{id}/convert", h.handleConvert)
}

type lineRequest struct {
	ProductID     *int64           `json:"product_id"`
	Name          string           `json:"name" validate:"required"`
	Description   *string          `json:"description"`
	Quantity      decimal.Decimal  `json:"quantity" validate:"required"`
	Unit          *string          `json:"unit"`
	UnitPrice     decimal.Decimal  `json:"unit_price"`
	DiscountType  *string          `json:"discount_type" validate:"omitempty,oneof=percent fixed"`
	DiscountValue *decimal.Decimal `json:"discount_value"`
	TaxRate       decimal.Decimal  `json:"tax_rate"`
}

type createDocumentRequest struct {
	Type             string           `json:"type" validate:"required,oneof=quote proforma"`
	CustomerID       *int64           `json:"customer_id"`
	IssueDate        *time.Time       `json:"issue_date"`
	ExpiryDate       *time.Time       `json:"expiry_date"`
	Currency         string           `json:"currency"`
	Reference        *string          `json:"reference"`
	Title            *string          `json:"title"`
	PaymentTermsDays int              `json:"payment_terms_days"`
	ShippingCost     decimal.Decimal  `json:"shipping_cost"`
	DiscountType     *string          `json:"discount_type" validate:"omitempty,oneof=percent fixed"`
	DiscountValue    *decimal.Decimal `json:"discount_value"`
	Notes            *string          `json:"notes"`
	Terms            *string          `json:"terms"`
	Items            []lineRequest    `json:"items" validate:"required,min=1,dive"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing tenant scope")
		return
	}
	var req createDocumentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	in := CreateInput{
		Type:             req.Type,
		CustomerID:       req.CustomerID,
		ExpiryDate:       req.ExpiryDate,
		Currency:         req.Currency,
		Reference:        req.Reference,
		Title:            req.Title,
		PaymentTermsDays: req.PaymentTermsDays,
		ShippingCost:     req.ShippingCost,
		DiscountType:     req.DiscountType,
		DiscountValue:    req.DiscountValue,
		Notes:            req.Notes,
		Terms:            req.Terms,
	}
	if req.IssueDate != nil {
		in.IssueDate = *req.IssueDate
	}
	for i, item := range req.Items {
		in.Items = append(in.Items, LineInput{
			ProductID:     item.ProductID,
			Name:          item.Name,
			Description:   item.Description,
			Quantity:      item.Quantity,
			Unit:          item.Unit,
			UnitPrice:     item.UnitPrice,
			DiscountType:  item.DiscountType,
			DiscountValue: item.DiscountValue,
			TaxRate:       item.TaxRate,
			SortOrder:     i + 1,
		})
	}

	doc, err := h.service.Create(r.Context(), scope, in)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, documentView(doc))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing tenant scope")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid document id")
		return
	}
	doc, err := h.service.Get(r.Context(), scope, id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, documentView(doc))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing tenant scope")
		return
	}
	q := r.URL.Query()
	filter := ListFilter{Type: q.Get("type"), Status: q.Get("status")}
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			filter.Limit = n
		}
	}
	docs, err := h.reader.List(r.Context(), scope, filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	views := make([]map[string]any, 0, len(docs))
	for i := range docs {
		views = append(views, documentView(&docs[i]))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"documents": views})
}

func (h *Handler) statusHandler(op func(ctx context.Context, scope shared.Scope, id int64) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope, ok := shared.ScopeFromContext(r.Context())
		if !ok {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing tenant scope")
			return
		}
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid document id")
			return
		}
		if err := op(r.Context(), scope, id); err != nil {
			h.respondError(w, r, err)
			return
		}
		doc, err := h.service.Get(r.Context(), scope, id)
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		httpx.JSON(w, http.StatusOK, documentView(doc))
	}
}

type convertRequest struct {
	DiscountType  *string          `json:"discount_type" validate:"omitempty,oneof=percent fixed"`
	DiscountValue *decimal.Decimal `json:"discount_value"`
	Payment       *struct {
		Method    string          `json:"method" validate:"required,oneof=cash bank card moncash cheque other"`
		Amount    decimal.Decimal `json:"amount"`
		Reference *string         `json:"reference"`
	} `json:"payment"`
}

func (h *Handler) handleConvert(w http.ResponseWriter, r *http.Request) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing tenant scope")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid document id")
		return
	}

	var req convertRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
			return
		}
		if err := h.validate.Struct(req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
	}

	opts := ConvertOptions{DiscountType: req.DiscountType, DiscountValue: req.DiscountValue}
	if req.Payment != nil {
		opts.Payment = &invoices.PaymentInput{
			Method:    req.Payment.Method,
			Amount:    req.Payment.Amount,
			Reference: req.Payment.Reference,
		}
	}

	inv, err := h.service.ConvertToInvoice(r.Context(), scope, id, opts)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"invoice_id":     inv.ID,
		"invoice_number": inv.Number,
		"status":         inv.Status,
		"total":          inv.Total,
		"amount_paid":    inv.AmountPaid,
		"balance_due":    inv.BalanceDue,
	})
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "document not found")
	case errors.Is(err, ErrAlreadyConverted):
		httpx.Problem(w, http.StatusConflict, "Already Converted", err.Error())
	case errors.Is(err, acctshared.ErrPostingConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", "a concurrent request posted this event, retry")
	case errors.Is(err, ErrNotConvertible),
		errors.Is(err, ErrNoItems),
		errors.Is(err, ErrZeroTotal),
		errors.Is(err, ErrDiscountPair),
		errors.Is(err, ErrBadType),
		errors.Is(err, invoices.ErrPaymentExceedsBalance),
		errors.Is(err, inventory.ErrInsufficientStock),
		errors.Is(err, acctshared.ErrPeriodClosed):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable", err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "documents: request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func documentView(doc *SalesDocument) map[string]any {
	view := map[string]any{
		"id":              doc.ID,
		"type":            doc.Type,
		"number":          doc.Number,
		"status":          doc.Status,
		"customer_id":     doc.CustomerID,
		"issue_date":      doc.IssueDate.Format(time.RFC3339),
		"currency":        doc.Currency,
		"subtotal":        doc.Subtotal,
		"tax_total":       doc.TaxTotal,
		"discount_amount": doc.DiscountAmount,
		"shipping_cost":   doc.ShippingCost,
		"total":           doc.Total,
	}
	if doc.ExpiryDate != nil {
		view["expiry_date"] = doc.ExpiryDate.Format(time.RFC3339)
	}
	if doc.ConvertedInvoiceID != nil {
		view["converted_invoice_id"] = *doc.ConvertedInvoiceID
	}
	if len(doc.Items) > 0 {
		items := make([]map[string]any, 0, len(doc.Items))
		for _, item := range doc.Items {
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
	return view
}
