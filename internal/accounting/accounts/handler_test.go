package accounts

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"github.com/odyssey-erp/odyssey-ledger/internal/audit"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/memstore"
)

type HandlerSuite struct {
	suite.Suite
	router  chi.Router
	service *Service
}

func (s *HandlerSuite) SetupTest() {
	store := memstore.New()
	s.service = NewService(NewMemoryRepository(store), audit.NewService(audit.NewMemoryRepository(store)))
	s.router = chi.NewRouter()
	NewHandler(slog.Default(), s.service).MountRoutes(s.router)
}

func (s *HandlerSuite) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-ID", "7")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *HandlerSuite) TestCreateAndFetchAccount() {
	rec := s.do(http.MethodPost, "/accounts/", `{"code":"1000","name":"Cash","type":"asset"}`)
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())

	var created Account
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &created))
	s.Equal(NormalDebit, created.NormalBalance)
	s.True(created.IsActive)

	rec = s.do(http.MethodGet, "/accounts/1000", "")
	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), `"Cash"`)

	rec = s.do(http.MethodGet, "/accounts/9999", "")
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *HandlerSuite) TestCreateRejectsBadInput() {
	rec := s.do(http.MethodPost, "/accounts/", `{"code":"1000","type":"asset"}`)
	s.Equal(http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/accounts/", `{"code":"1000","name":"Cash","type":"asset","extra":1}`)
	s.Equal(http.StatusBadRequest, rec.Code)

	s.Require().Equal(http.StatusCreated, s.do(http.MethodPost, "/accounts/", `{"code":"1000","name":"Cash","type":"asset"}`).Code)
	rec = s.do(http.MethodPost, "/accounts/", `{"code":"1000","name":"Cash again","type":"asset"}`)
	s.Equal(http.StatusConflict, rec.Code)

	rec = s.do(http.MethodPost, "/accounts/", `{"code":"9000.1","name":"Orphan","type":"asset"}`)
	s.Equal(http.StatusUnprocessableEntity, rec.Code)
}

func (s *HandlerSuite) TestDeactivateAndActivate() {
	s.Require().Equal(http.StatusCreated, s.do(http.MethodPost, "/accounts/", `{"code":"4000","name":"Tuition","type":"income"}`).Code)

	rec := s.do(http.MethodPost, "/accounts/4000/deactivate", "")
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), `"active":false`)

	rec = s.do(http.MethodPost, "/accounts/4000/activate", "")
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), `"active":true`)

	rec = s.do(http.MethodDelete, "/accounts/4000", "")
	s.Equal(http.StatusNoContent, rec.Code)
	s.Equal(http.StatusOK, s.do(http.MethodGet, "/accounts/", "").Code)
}

func (s *HandlerSuite) TestFundLifecycle() {
	rec := s.do(http.MethodPost, "/funds/", `{"name":"Scholarships","restriction_type":"temporarily-restricted"}`)
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())

	var fund Fund
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &fund))

	rec = s.do(http.MethodPost, "/funds/"+strconv.FormatInt(fund.ID, 10)+"/deactivate", "")
	s.Equal(http.StatusOK, rec.Code)

	rec = s.do(http.MethodPost, "/funds/abc/deactivate", "")
	s.Equal(http.StatusBadRequest, rec.Code)
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}
