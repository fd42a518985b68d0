package app

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
)

func TestLoadConfigValidatesDrivers(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.StoreDriver)
	assert.True(t, cfg.LockRequireReconciled)
	assert.False(t, cfg.IsProduction())

	t.Setenv("STORE_DRIVER", "sqlite")
	_, err = LoadConfig()
	require.Error(t, err)

	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("NOTIFY_DRIVER", "amqp")
	_, err = LoadConfig()
	require.Error(t, err)
}

type client struct {
	t      *testing.T
	router http.Handler
}

func (c client) do(method, path string, body any) *httptest.ResponseRecorder {
	c.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(c.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-ID", "7")
	rec := httptest.NewRecorder()
	c.router.ServeHTTP(rec, req)
	return rec
}

func TestRouterServesLedgerOverMemoryStore(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &Config{StoreDriver: StoreMemory, LockRequireReconciled: true, LockBlockAPDrafts: true}
	metrics := observability.NewMetrics()
	services, err := NewServices(cfg, Infra{Metrics: metrics}, logger)
	require.NoError(t, err)
	c := client{t: t, router: NewRouter(RouterParams{Logger: logger, Config: cfg, Services: services, Metrics: metrics})}

	rec := c.do(http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	for _, acct := range []map[string]any{
		{"code": "1000", "name": "Cash", "type": "asset"},
		{"code": "1200", "name": "Student receivables", "type": "asset", "is_control_account": true, "control_owner": "ar"},
		{"code": "4000", "name": "Tuition", "type": "income"},
	} {
		rec = c.do(http.MethodPost, "/accounts", acct)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}
	rec = c.do(http.MethodPost, "/fiscal-periods", map[string]any{"name": "Spring-2025", "start_date": "2025-01-01", "end_date": "2025-04-30"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = c.do(http.MethodPost, "/journals", map[string]any{
		"date": "2025-02-01",
		"memo": "Donation",
		"lines": []map[string]any{
			{"account_code": "1000", "debit": 10000},
			{"account_code": "4000", "credit": 10000},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = c.do(http.MethodGet, "/journals/trial-balance?period_id=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var tb struct {
		Balanced   bool  `json:"balanced"`
		TotalDebit int64 `json:"total_debit"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tb))
	assert.True(t, tb.Balanced)
	assert.Equal(t, int64(10000), tb.TotalDebit)

	rec = c.do(http.MethodGet, "/reports/profit-and-loss?period_id=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"net_income":10000`)

	rec = c.do(http.MethodPost, "/fiscal-periods/1/lock", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = c.do(http.MethodPost, "/journals", map[string]any{
		"date": "2025-03-01",
		"lines": []map[string]any{
			{"account_code": "1000", "debit": 500},
			{"account_code": "4000", "credit": 500},
		},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = c.do(http.MethodGet, "/audit?entity=fiscal_periods", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "period.lock")

	rec = c.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `odyssey_ledger_entries_posted_total{source_type="manual"} 1`), body)
	assert.Contains(t, body, `odyssey_http_requests_total{code="201",route="/journals/"}`)
}

func TestNewServicesRejectsMissingPool(t *testing.T) {
	_, err := NewServices(&Config{StoreDriver: StorePostgres}, Infra{}, slog.Default())
	require.Error(t, err)
	_, err = NewServices(&Config{StoreDriver: StoreMemory, NotifyDriver: "asynq"}, Infra{}, slog.Default())
	require.Error(t, err)
}
