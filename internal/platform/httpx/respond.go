// Package httpx provides HTTP response utilities following RFC7807 problem details.
package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// Headers set by the upstream gateway once a caller is authenticated.
const (
	HeaderActorID        = "X-Actor-ID"
	HeaderElevated       = "X-Elevated-Privilege"
	HeaderIdempotencyKey = "Idempotency-Key"
)

// ProblemDetail represents RFC7807 problem details.
type ProblemDetail struct {
	Type   string `json:"type,omitempty"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Problem sends an RFC7807 problem details response.
func Problem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ProblemDetail{
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

var validate = validator.New()

// DecodeJSON decodes the request body into target and runs struct validation.
// Failures come back as shared.ValidationError.
func DecodeJSON(r *http.Request, target any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		var verr *shared.ValidationError
		if errors.As(err, &verr) {
			return verr
		}
		return shared.Invalid("body", "is not valid JSON: "+err.Error())
	}
	if err := validate.Struct(target); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return shared.Invalid(strings.ToLower(fe.Field()), fmt.Sprintf("failed %s", fe.Tag()))
		}
		return shared.Invalid("body", err.Error())
	}
	return nil
}

// URLParamInt64 parses a numeric chi URL parameter.
func URLParamInt64(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, shared.Invalid(name, "must be a positive integer")
	}
	return id, nil
}

// QueryInt64 parses an optional numeric query parameter.
func QueryInt64(r *http.Request, name string) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, shared.Invalid(name, "must be an integer")
	}
	return v, nil
}

// QueryDate parses an optional YYYY-MM-DD query parameter.
func QueryDate(r *http.Request, name string) (*time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	t, err := shared.ParseDate(name, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ActorID returns the authenticated actor forwarded by the gateway, or 0.
func ActorID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(r.Header.Get(HeaderActorID), 10, 64)
	return id
}

// Elevated reports whether the gateway granted elevated privilege.
func Elevated(r *http.Request) bool {
	ok, _ := strconv.ParseBool(r.Header.Get(HeaderElevated))
	return ok
}

// IdempotencyKey returns the caller supplied idempotency key.
func IdempotencyKey(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
}
