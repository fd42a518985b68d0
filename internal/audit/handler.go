package audit

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

const maxTimelineRange = 90 * 24 * time.Hour

// TimelineService is the read side the handler needs.
type TimelineService interface {
	Timeline(ctx context.Context, filters TimelineFilters) (Result, error)
}

// Handler serves the audit timeline.
type Handler struct {
	logger  *slog.Logger
	service TimelineService
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, service TimelineService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers GET /audit.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/audit", h.timeline)
}

func (h *Handler) timeline(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		h.logger.Error("audit timeline", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func parseFilters(r *http.Request) (TimelineFilters, error) {
	q := r.URL.Query()
	f := TimelineFilters{
		Entity:   strings.TrimSpace(q.Get("entity")),
		EntityID: strings.TrimSpace(q.Get("entity_id")),
		Action:   strings.TrimSpace(q.Get("action")),
	}
	var err error
	if f.ActorID, err = httpx.QueryInt64(r, "actor_id"); err != nil {
		return f, err
	}
	from, err := httpx.QueryDate(r, "from")
	if err != nil {
		return f, err
	}
	to, err := httpx.QueryDate(r, "to")
	if err != nil {
		return f, err
	}
	if from != nil {
		f.From = *from
	}
	if to != nil {
		// inclusive of the whole day
		f.To = to.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	if from != nil && to != nil {
		if from.After(*to) {
			return f, shared.Invalid("from", "must not be after to")
		}
		if to.Sub(*from) > maxTimelineRange {
			return f, shared.Invalid("to", "range exceeds 90 days")
		}
	}
	for name, dst := range map[string]*int{"page": &f.Page, "page_size": &f.PageSize} {
		raw := strings.TrimSpace(q.Get(name))
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return f, shared.Invalid(name, "must be a positive integer")
		}
		*dst = n
	}
	return f, nil
}
