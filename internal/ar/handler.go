package ar

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

// Handler exposes student billing over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers AR routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/fees", func(r chi.Router) {
		r.Get("/", h.listBills)
		r.Post("/", h.createBill)
		r.Get("/{id}", h.getBill)
	})
	r.Route("/payments", func(r chi.Router) {
		r.Get("/", h.listPayments)
		r.Post("/", h.createPayment)
		r.Get("/{id}", h.getPayment)
	})
	r.Get("/ar/aging", h.aging)
}

type billLineRequest struct {
	Description       string            `json:"description" validate:"required"`
	IncomeAccountCode string            `json:"income_account_code"`
	Amount            shared.MinorUnits `json:"amount" validate:"gt=0"`
}

type billRequest struct {
	StudentID          int64             `json:"student_id" validate:"required"`
	Date               shared.Date       `json:"date"`
	DueDate            shared.Date       `json:"due_date"`
	Memo               string            `json:"memo"`
	FundID             *int64            `json:"fund_id"`
	ControlAccountCode string            `json:"control_account_code"`
	Lines              []billLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type allocationRequest struct {
	BillID     int64             `json:"bill_id" validate:"required"`
	LineItemID int64             `json:"line_item_id"`
	Amount     shared.MinorUnits `json:"amount" validate:"gt=0"`
}

type paymentRequest struct {
	StudentID       int64               `json:"student_id" validate:"required"`
	Date            shared.Date         `json:"date"`
	Amount          shared.MinorUnits   `json:"amount" validate:"gt=0"`
	Method          string              `json:"method"`
	Reference       string              `json:"reference"`
	CashAccountCode string              `json:"cash_account_code"`
	Allocations     []allocationRequest `json:"allocations" validate:"dive"`
}

func (h *Handler) createBill(w http.ResponseWriter, r *http.Request) {
	var req billRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := BillInput{
		StudentID:          req.StudentID,
		Date:               req.Date.Time,
		DueDate:            req.DueDate.Ptr(),
		Memo:               req.Memo,
		FundID:             req.FundID,
		ControlAccountCode: req.ControlAccountCode,
		IdempotencyKey:     httpx.IdempotencyKey(r),
		ActorID:            httpx.ActorID(r),
	}
	for _, l := range req.Lines {
		input.Lines = append(input.Lines, BillLineInput{Description: l.Description, IncomeAccountCode: l.IncomeAccountCode, Amount: int64(l.Amount)})
	}
	bill, err := h.service.RecordBill(r.Context(), input)
	if err != nil {
		h.logger.Warn("bill rejected", slog.Int64("student_id", req.StudentID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	status := http.StatusCreated
	if bill.Replayed {
		status = http.StatusOK
	}
	httpx.JSON(w, status, bill)
}

func (h *Handler) createPayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := PaymentInput{
		StudentID:       req.StudentID,
		Date:            req.Date.Time,
		Amount:          int64(req.Amount),
		Method:          req.Method,
		Reference:       req.Reference,
		CashAccountCode: req.CashAccountCode,
		IdempotencyKey:  httpx.IdempotencyKey(r),
		ActorID:         httpx.ActorID(r),
	}
	for _, a := range req.Allocations {
		input.Allocations = append(input.Allocations, AllocationInput{BillID: a.BillID, LineItemID: a.LineItemID, Amount: int64(a.Amount)})
	}
	payment, err := h.service.RecordPayment(r.Context(), input)
	if err != nil {
		h.logger.Warn("payment rejected", slog.Int64("student_id", req.StudentID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	status := http.StatusCreated
	if payment.Replayed {
		status = http.StatusOK
	}
	httpx.JSON(w, status, payment)
}

func (h *Handler) getBill(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	bill, err := h.service.GetBill(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, bill)
}

func (h *Handler) listBills(w http.ResponseWriter, r *http.Request) {
	studentID, err := httpx.QueryInt64(r, "student_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	bills, err := h.service.ListBills(r.Context(), studentID)
	if err != nil {
		h.logger.Error("list bills", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if bills == nil {
		bills = []Bill{}
	}
	httpx.JSON(w, http.StatusOK, bills)
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
	studentID, err := httpx.QueryInt64(r, "student_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	payments, err := h.service.ListPayments(r.Context(), studentID)
	if err != nil {
		h.logger.Error("list payments", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if payments == nil {
		payments = []Payment{}
	}
	httpx.JSON(w, http.StatusOK, payments)
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
