package ap

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

// Handler manages AP endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers AP routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/ap", func(r chi.Router) {
		r.Get("/vendors", h.listVendors)
		r.Post("/vendors", h.createVendor)
		r.Get("/vendors/{id}", h.getVendor)

		r.Get("/invoices", h.listInvoices)
		r.Post("/invoices", h.createInvoice)
		r.Get("/invoices/{id}", h.getInvoice)
		r.Post("/invoices/{id}/approve", h.approveInvoice)

		r.Get("/payments", h.listPayments)
		r.Post("/payments", h.createPayment)
		r.Get("/payments/{id}", h.getPayment)

		r.Get("/purchase-orders", h.listPurchaseOrders)
		r.Post("/purchase-orders", h.createPurchaseOrder)
		r.Get("/purchase-orders/{id}", h.getPurchaseOrder)
		r.Post("/purchase-orders/{id}/receive", h.receivePurchaseOrder)

		r.Get("/aging", h.aging)
	})
}

type vendorRequest struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"omitempty,email"`
}

type invoiceLineRequest struct {
	Description        string            `json:"description" validate:"required"`
	ExpenseAccountCode string            `json:"expense_account_code"`
	Amount             shared.MinorUnits `json:"amount" validate:"gt=0"`
}

type invoiceRequest struct {
	VendorID           int64                `json:"vendor_id" validate:"required"`
	Number             string               `json:"number"`
	Date               shared.Date          `json:"date"`
	DueDate            shared.Date          `json:"due_date"`
	FundID             *int64               `json:"fund_id"`
	ControlAccountCode string               `json:"control_account_code"`
	Approve            bool                 `json:"approve"`
	Lines              []invoiceLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type allocationRequest struct {
	InvoiceID int64             `json:"invoice_id" validate:"required"`
	Amount    shared.MinorUnits `json:"amount" validate:"gt=0"`
}

type paymentRequest struct {
	VendorID        int64               `json:"vendor_id" validate:"required"`
	Date            shared.Date         `json:"date"`
	Amount          shared.MinorUnits   `json:"amount" validate:"gt=0"`
	Reference       string              `json:"reference"`
	CashAccountCode string              `json:"cash_account_code"`
	Allocations     []allocationRequest `json:"allocations" validate:"dive"`
}

type poLineRequest struct {
	Description        string            `json:"description" validate:"required"`
	ExpenseAccountCode string            `json:"expense_account_code"`
	Quantity           int64             `json:"quantity" validate:"gt=0"`
	UnitCost           shared.MinorUnits `json:"unit_cost" validate:"gt=0"`
}

type purchaseOrderRequest struct {
	VendorID int64           `json:"vendor_id" validate:"required"`
	Date     shared.Date     `json:"date"`
	FundID   *int64          `json:"fund_id"`
	Lines    []poLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type receiveLineRequest struct {
	LineID   int64 `json:"line_id" validate:"required"`
	Quantity int64 `json:"quantity" validate:"gt=0"`
}

type receiveRequest struct {
	Date    shared.Date          `json:"date"`
	DueDate shared.Date          `json:"due_date"`
	Lines   []receiveLineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) createVendor(w http.ResponseWriter, r *http.Request) {
	var req vendorRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	vendor, err := h.service.CreateVendor(r.Context(), VendorInput{Name: req.Name, Email: req.Email, ActorID: httpx.ActorID(r)})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, vendor)
}

func (h *Handler) getVendor(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	vendor, err := h.service.GetVendor(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, vendor)
}

func (h *Handler) listVendors(w http.ResponseWriter, r *http.Request) {
	vendors, err := h.service.ListVendors(r.Context())
	if err != nil {
		h.logger.Error("list vendors", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if vendors == nil {
		vendors = []Vendor{}
	}
	httpx.JSON(w, http.StatusOK, vendors)
}

func (h *Handler) createInvoice(w http.ResponseWriter, r *http.Request) {
	var req invoiceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := InvoiceInput{
		VendorID:           req.VendorID,
		Number:             req.Number,
		Date:               req.Date.Time,
		DueDate:            req.DueDate.Ptr(),
		FundID:             req.FundID,
		ControlAccountCode: req.ControlAccountCode,
		Approve:            req.Approve,
		IdempotencyKey:     httpx.IdempotencyKey(r),
		ActorID:            httpx.ActorID(r),
	}
	for _, l := range req.Lines {
		input.Lines = append(input.Lines, InvoiceLineInput{Description: l.Description, ExpenseAccountCode: l.ExpenseAccountCode, Amount: int64(l.Amount)})
	}
	invoice, err := h.service.CreateInvoice(r.Context(), input)
	if err != nil {
		h.logger.Warn("invoice rejected", slog.Int64("vendor_id", req.VendorID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	status := http.StatusCreated
	if invoice.Replayed {
		status = http.StatusOK
	}
	httpx.JSON(w, status, invoice)
}

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	invoice, err := h.service.GetInvoice(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, invoice)
}

func (h *Handler) approveInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	invoice, err := h.service.ApproveInvoice(r.Context(), id, httpx.ActorID(r))
	if err != nil {
		h.logger.Warn("invoice approval rejected", slog.Int64("invoice_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, invoice)
}

func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	vendorID, err := httpx.QueryInt64(r, "vendor_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	invoices, err := h.service.ListInvoices(r.Context(), InvoiceFilter{VendorID: vendorID, Status: InvoiceStatus(r.URL.Query().Get("status"))})
	if err != nil {
		h.logger.Error("list invoices", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if invoices == nil {
		invoices = []Invoice{}
	}
	httpx.JSON(w, http.StatusOK, invoices)
}

func (h *Handler) createPayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := PaymentInput{
		VendorID:        req.VendorID,
		Date:            req.Date.Time,
		Amount:          int64(req.Amount),
		Reference:       req.Reference,
		CashAccountCode: req.CashAccountCode,
		IdempotencyKey:  httpx.IdempotencyKey(r),
		ActorID:         httpx.ActorID(r),
	}
	for _, a := range req.Allocations {
		input.Allocations = append(input.Allocations, AllocationInput{InvoiceID: a.InvoiceID, Amount: int64(a.Amount)})
	}
	payment, err := h.service.RecordPayment(r.Context(), input)
	if err != nil {
		h.logger.Warn("vendor payment rejected", slog.Int64("vendor_id", req.VendorID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	status := http.StatusCreated
	if payment.Replayed {
		status = http.StatusOK
	}
	httpx.JSON(w, status, payment)
}

func (h *Handler) getPayment(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	payment, err := h.service.GetPayment(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, payment)
}

func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) {
	vendorID, err := httpx.QueryInt64(r, "vendor_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	payments, err := h.service.ListPayments(r.Context(), vendorID)
	if err != nil {
		h.logger.Error("list vendor payments", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if payments == nil {
		payments = []Payment{}
	}
	httpx.JSON(w, http.StatusOK, payments)
}

func (h *Handler) createPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	var req purchaseOrderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := PurchaseOrderInput{VendorID: req.VendorID, Date: req.Date.Time, FundID: req.FundID, ActorID: httpx.ActorID(r)}
	for _, l := range req.Lines {
		input.Lines = append(input.Lines, POLineInput{Description: l.Description, ExpenseAccountCode: l.ExpenseAccountCode, Quantity: l.Quantity, UnitCost: int64(l.UnitCost)})
	}
	order, err := h.service.CreatePurchaseOrder(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, order)
}

func (h *Handler) getPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	order, err := h.service.GetPurchaseOrder(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) listPurchaseOrders(w http.ResponseWriter, r *http.Request) {
	vendorID, err := httpx.QueryInt64(r, "vendor_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	orders, err := h.service.ListPurchaseOrders(r.Context(), vendorID)
	if err != nil {
		h.logger.Error("list purchase orders", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if orders == nil {
		orders = []PurchaseOrder{}
	}
	httpx.JSON(w, http.StatusOK, orders)
}

func (h *Handler) receivePurchaseOrder(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req receiveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := ReceiveInput{
		PurchaseOrderID: id,
		Date:            req.Date.Time,
		DueDate:         req.DueDate.Ptr(),
		IdempotencyKey:  httpx.IdempotencyKey(r),
		ActorID:         httpx.ActorID(r),
	}
	for _, l := range req.Lines {
		input.Lines = append(input.Lines, ReceiveLineInput{LineID: l.LineID, Quantity: l.Quantity})
	}
	invoice, err := h.service.ReceivePurchaseOrder(r.Context(), input)
	if err != nil {
		h.logger.Warn("receipt rejected", slog.Int64("purchase_order_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	status := http.StatusCreated
	if invoice.Replayed {
		status = http.StatusOK
	}
	httpx.JSON(w, status, invoice)
}

func (h *Handler) aging(w http.ResponseWriter, r *http.Request) {
	asOf, err := httpx.QueryDate(r, "as_of")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var at time.Time
	if asOf != nil {
		at = *asOf
	}
	bucket, err := h.service.Aging(r.Context(), at)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, bucket)
}
