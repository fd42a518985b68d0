package reconciliation

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

// Handler exposes reconciliation runs over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers reconciliation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/reconciliations", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.run)
		r.Get("/{id}", h.get)
		r.Post("/{id}/resolve", h.resolve)
	})
}

// runRequest reconciles one control account, or all of them when
// control_account_id is omitted.
type runRequest struct {
	PeriodID         int64 `json:"period_id" validate:"required,gt=0"`
	ControlAccountID int64 `json:"control_account_id" validate:"gte=0"`
}

type resolveRequest struct {
	Notes             string       `json:"notes" validate:"required"`
	Adjust            bool         `json:"adjust"`
	OffsetAccountCode string       `json:"offset_account_code" validate:"required_if=Adjust true"`
	Date              *shared.Date `json:"date"`
}

func (h *Handler) run(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor := httpx.ActorID(r)
	if req.ControlAccountID == 0 {
		recs, err := h.service.ReconcileAll(r.Context(), req.PeriodID, actor)
		if err != nil {
			h.logger.Error("reconcile period", slog.Int64("period_id", req.PeriodID), slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		if recs == nil {
			recs = []GlReconciliation{}
		}
		httpx.JSON(w, http.StatusOK, recs)
		return
	}
	rec, err := h.service.ReconcilePeriod(r.Context(), req.PeriodID, req.ControlAccountID, actor)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	periodID, err := httpx.QueryInt64(r, "period_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	recs, err := h.service.List(r.Context(), periodID)
	if err != nil {
		h.logger.Error("list reconciliations", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if recs == nil {
		recs = []GlReconciliation{}
	}
	httpx.JSON(w, http.StatusOK, recs)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rec, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req resolveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in := ResolveInput{
		ID:                id,
		Notes:             req.Notes,
		Adjust:            req.Adjust,
		OffsetAccountCode: req.OffsetAccountCode,
		ActorID:           httpx.ActorID(r),
	}
	if req.Date != nil {
		in.Date = req.Date.Ptr()
	}
	rec, err := h.service.Resolve(r.Context(), in)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}
