package mappings

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

// Handler exposes account mappings.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers mapping routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/mappings", h.list)
	r.Put("/mappings/{module}/{key}", h.set)
}

type setMappingRequest struct {
	AccountCode string `json:"account_code" validate:"required"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.List(r.Context())
	if err != nil {
		h.logger.Error("list mappings", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if rows == nil {
		rows = []AccountMapping{}
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func (h *Handler) set(w http.ResponseWriter, r *http.Request) {
	var req setMappingRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	mapping, err := h.service.SetMapping(r.Context(), chi.URLParam(r, "module"), chi.URLParam(r, "key"), req.AccountCode, httpx.ActorID(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, mapping)
}
