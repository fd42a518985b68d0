package periods

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

// Handler exposes the fiscal calendar.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers fiscal period routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/fiscal-periods", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Get("/{id}", h.get)
		r.Post("/{id}/lock", h.lock)
		r.Post("/{id}/reopen", h.reopen)
	})
}

type createPeriodRequest struct {
	Name      string      `json:"name" validate:"required"`
	StartDate shared.Date `json:"start_date"`
	EndDate   shared.Date `json:"end_date"`
}

type reopenRequest struct {
	Reason string `json:"reason" validate:"required"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.ListPeriods(r.Context())
	if err != nil {
		h.logger.Error("list periods", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if rows == nil {
		rows = []Period{}
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createPeriodRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	period, err := h.service.CreatePeriod(r.Context(), CreateInput{
		Name:      req.Name,
		StartDate: req.StartDate.Time,
		EndDate:   req.EndDate.Time,
		ActorID:   httpx.ActorID(r),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, period)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	period, err := h.service.GetPeriod(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, period)
}

func (h *Handler) lock(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	period, err := h.service.LockPeriod(r.Context(), id, httpx.ActorID(r))
	if err != nil {
		h.logger.Warn("lock period rejected", slog.Int64("period_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("period locked", slog.Int64("period_id", id), slog.String("name", period.Name))
	httpx.JSON(w, http.StatusOK, period)
}

func (h *Handler) reopen(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req reopenRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	reopened, err := h.service.ReopenPeriod(r.Context(), id, httpx.ActorID(r), req.Reason, httpx.Elevated(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.logger.Warn("periods reopened", slog.Int64("period_id", id), slog.Int("count", len(reopened)), slog.Int64("actor_id", httpx.ActorID(r)))
	httpx.JSON(w, http.StatusOK, reopened)
}
