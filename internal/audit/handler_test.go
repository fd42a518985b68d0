package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/memstore"
)

func TestHandlerTimelineFilters(t *testing.T) {
	svc := NewService(NewMemoryRepository(memstore.New()))
	ctx := context.Background()
	for i, action := range []string{"journal.post", "period.lock", "journal.post"} {
		require.NoError(t, svc.Record(ctx, Log{
			ActorID:  int64(i + 1),
			Action:   action,
			Entity:   "journal_entries",
			EntityID: EntityID(int64(i + 1)),
			At:       time.Date(2025, 3, 1+i, 12, 0, 0, 0, time.UTC),
		}))
	}
	r := chi.NewRouter()
	NewHandler(nil, svc).MountRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit?action=journal.post&from=2025-03-01&to=2025-03-03", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var result Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Len(t, result.Rows, 2)
	assert.Equal(t, "3", result.Rows[0].EntityID)

	for _, target := range []string{
		"/audit?from=2025-03-05&to=2025-03-01",
		"/audit?from=2025-01-01&to=2025-06-01",
		"/audit?page=0",
		"/audit?actor_id=x",
	} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}
