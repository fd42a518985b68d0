package journals

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

// Handler exposes the journal engine over JSON. Entries posted here are
// always manual; subledger sources post through their adapters.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers journal routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/journals", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Get("/trial-balance", h.trialBalance)
		r.Get("/balances/verify", h.verify)
		r.Post("/balances/rebuild", h.rebuild)
		r.Get("/{id}", h.get)
		r.Post("/{id}/reverse", h.reverse)
	})
}

type lineRequest struct {
	AccountID   int64             `json:"account_id"`
	AccountCode string            `json:"account_code"`
	FundID      *int64            `json:"fund_id"`
	Debit       shared.MinorUnits `json:"debit"`
	Credit      shared.MinorUnits `json:"credit"`
	Description string            `json:"description"`
}

type createRequest struct {
	Date  shared.Date   `json:"date"`
	Memo  string        `json:"memo"`
	Lines []lineRequest `json:"lines" validate:"required,min=2,dive"`
}

type reverseRequest struct {
	Memo string      `json:"memo"`
	Date shared.Date `json:"date"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := PostingInput{
		Date:           req.Date.Time,
		Memo:           req.Memo,
		SourceType:     shared.SourceManual,
		IdempotencyKey: httpx.IdempotencyKey(r),
		PostedBy:       httpx.ActorID(r),
	}
	for _, l := range req.Lines {
		input.Lines = append(input.Lines, PostingLineInput{
			AccountID:   l.AccountID,
			AccountCode: l.AccountCode,
			FundID:      l.FundID,
			Debit:       int64(l.Debit),
			Credit:      int64(l.Credit),
			Description: l.Description,
		})
	}
	entry, err := h.service.PostEntry(r.Context(), input)
	if err != nil {
		h.logger.Warn("journal rejected", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	status := http.StatusCreated
	if entry.Replayed {
		status = http.StatusOK
	}
	httpx.JSON(w, status, entry)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	periodID, err := httpx.QueryInt64(r, "period_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	accountID, err := httpx.QueryInt64(r, "account_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	from, err := httpx.QueryDate(r, "from")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	to, err := httpx.QueryDate(r, "to")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter := Filter{PeriodID: periodID, AccountID: accountID, From: from, To: to, Limit: 500}
	if st := shared.SourceType(r.URL.Query().Get("source_type")); st != "" {
		if !st.Valid() {
			httpx.RespondError(w, shared.Invalid("source_type", "is not a known source type"))
			return
		}
		filter.SourceType = st
	}
	entries, err := h.service.ListEntries(r.Context(), filter)
	if err != nil {
		h.logger.Error("list journals", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if entries == nil {
		entries = []JournalEntry{}
	}
	httpx.JSON(w, http.StatusOK, entries)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entry, err := h.service.GetEntry(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) reverse(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req reverseRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	reversal, err := h.service.ReverseEntry(r.Context(), ReverseInput{
		EntryID:        id,
		ActorID:        httpx.ActorID(r),
		Memo:           req.Memo,
		Date:           req.Date.Ptr(),
		IdempotencyKey: httpx.IdempotencyKey(r),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	status := http.StatusCreated
	if reversal.Replayed {
		status = http.StatusOK
	}
	httpx.JSON(w, status, reversal)
}

func (h *Handler) trialBalance(w http.ResponseWriter, r *http.Request) {
	periodID, err := httpx.QueryInt64(r, "period_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if periodID <= 0 {
		httpx.RespondError(w, shared.Invalid("period_id", "is required"))
		return
	}
	tb, err := h.service.TrialBalance(r.Context(), periodID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, tb)
}

func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	drift, err := h.service.VerifyBalances(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if drift == nil {
		drift = []Drift{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"consistent": len(drift) == 0, "drift": drift})
}

func (h *Handler) rebuild(w http.ResponseWriter, r *http.Request) {
	if !httpx.Elevated(r) {
		httpx.RespondError(w, &shared.ForbiddenError{Action: "balances.rebuild"})
		return
	}
	n, err := h.service.RebuildBalances(r.Context())
	if err != nil {
		h.logger.Error("rebuild balances", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("balances rebuilt", slog.Int("rows", n), slog.Int64("actor_id", httpx.ActorID(r)))
	httpx.JSON(w, http.StatusOK, map[string]int{"rows": n})
}
