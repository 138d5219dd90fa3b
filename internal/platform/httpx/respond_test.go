package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glossbook/glossbook/internal/shared"
)

func decodeProblem(t *testing.T, rr *httptest.ResponseRecorder) ProblemDetail {
	t.Helper()
	var p ProblemDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &p))
	return p
}

func TestRespondErrorStatusMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"not found", fmt.Errorf("entry: %w", shared.ErrNotFound), http.StatusNotFound},
		{"conflict", shared.ErrIdempotencyConflict, http.StatusConflict},
		{"concurrent update", fmt.Errorf("platform/db: concurrent update %w: %w", shared.ErrConflict, errors.New("SQLSTATE 40001")), http.StatusConflict},
		{"validation", shared.NewValidationError("quantity", "must be greater than 0"), http.StatusBadRequest},
		{"unauthorized", shared.ErrUnauthorized, http.StatusUnauthorized},
		{"internal", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			RespondError(rr, tc.err)
			assert.Equal(t, tc.code, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
		})
	}
}

func TestRespondErrorInsufficientStockListsProducts(t *testing.T) {
	rr := httptest.NewRecorder()
	RespondError(rr, &shared.InsufficientStockError{Items: []shared.Shortfall{{Name: "Gel", Required: 30, Available: 20}}})

	require.Equal(t, http.StatusConflict, rr.Code)
	p := decodeProblem(t, rr)
	require.Len(t, p.InsufficientProducts, 1)
	assert.Equal(t, "Gel", p.InsufficientProducts[0].Name)
}

func TestRespondErrorValidationFields(t *testing.T) {
	rr := httptest.NewRecorder()
	RespondError(rr, shared.NewValidationError("date", "is required"))
	p := decodeProblem(t, rr)
	assert.Equal(t, "is required", p.Fields["date"])
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"x","extra":1}`))
	var target struct {
		Name string `json:"name"`
	}
	err := DecodeJSON(req, &target)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestQueryHelpers(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?start=2024-03-01&bad=03/01&id=not-a-uuid", nil)

	start, err := QueryDate(req, "start")
	require.NoError(t, err)
	require.NotNil(t, start)
	assert.Equal(t, 2024, start.Year())

	missing, err := QueryDate(req, "end")
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, err = QueryDate(req, "bad")
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = QueryUUID(req, "id")
	require.ErrorIs(t, err, shared.ErrValidation)
}
