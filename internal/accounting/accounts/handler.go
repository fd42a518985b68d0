package accounts

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

// Handler exposes the chart of accounts over JSON.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers account and fund routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/accounts", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Get("/{code}", h.get)
		r.Delete("/{code}", h.delete)
		r.Post("/{code}/deactivate", h.deactivate)
		r.Post("/{code}/activate", h.activate)
	})
	r.Route("/funds", func(r chi.Router) {
		r.Get("/", h.listFunds)
		r.Post("/", h.createFund)
		r.Post("/{id}/deactivate", h.deactivateFund)
	})
}

type createAccountRequest struct {
	Code          string `json:"code" validate:"required"`
	Name          string `json:"name" validate:"required"`
	Type          string `json:"type" validate:"required"`
	NormalBalance string `json:"normal_balance"`
	FundID        *int64 `json:"fund_id"`
	IsControl     bool   `json:"is_control_account"`
	ControlOwner  string `json:"control_owner"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.service.ListAccounts(r.Context())
	if err != nil {
		h.logger.Error("list accounts", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if accounts == nil {
		accounts = []Account{}
	}
	httpx.JSON(w, http.StatusOK, accounts)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	account, err := h.service.CreateAccount(r.Context(), CreateAccountInput{
		Code:          req.Code,
		Name:          req.Name,
		Type:          AccountType(req.Type),
		NormalBalance: NormalBalance(req.NormalBalance),
		FundID:        req.FundID,
		IsControl:     req.IsControl,
		ControlOwner:  req.ControlOwner,
		ActorID:       httpx.ActorID(r),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, account)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	account, err := h.service.GetAccount(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, account)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteAccount(r.Context(), chi.URLParam(r, "code"), httpx.ActorID(r)); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deactivate(w http.ResponseWriter, r *http.Request) {
	account, err := h.service.DeactivateAccount(r.Context(), chi.URLParam(r, "code"), httpx.ActorID(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, account)
}

func (h *Handler) activate(w http.ResponseWriter, r *http.Request) {
	account, err := h.service.ActivateAccount(r.Context(), chi.URLParam(r, "code"), httpx.ActorID(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, account)
}

type createFundRequest struct {
	Name            string `json:"name" validate:"required"`
	RestrictionType string `json:"restriction_type"`
}

func (h *Handler) listFunds(w http.ResponseWriter, r *http.Request) {
	funds, err := h.service.ListFunds(r.Context())
	if err != nil {
		h.logger.Error("list funds", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if funds == nil {
		funds = []Fund{}
	}
	httpx.JSON(w, http.StatusOK, funds)
}

func (h *Handler) createFund(w http.ResponseWriter, r *http.Request) {
	var req createFundRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	fund, err := h.service.CreateFund(r.Context(), CreateFundInput{
		Name:            req.Name,
		RestrictionType: RestrictionType(req.RestrictionType),
		ActorID:         httpx.ActorID(r),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, fund)
}

func (h *Handler) deactivateFund(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	fund, err := h.service.DeactivateFund(r.Context(), id, httpx.ActorID(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, fund)
}
