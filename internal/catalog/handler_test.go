package catalog

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glossbook/glossbook/internal/shared"
)

func newTestRouter(repo *memoryRepo) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if id := req.Header.Get("X-User-ID"); id != "" {
				req = req.WithContext(shared.ContextWithUserID(req.Context(), id))
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Route("/catalog", NewHandler(slog.Default(), NewService(repo, ServiceConfig{})).MountRoutes)
	return r
}

func TestHandlerResetCategoriesNeedsUser(t *testing.T) {
	router := newTestRouter(newMemoryRepo())

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/catalog/categories/defaults", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodPost, "/catalog/categories/defaults", nil)
	req.Header.Set("X-User-ID", "studio-owner")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var categories []Category
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &categories))
	assert.Len(t, categories, len(DefaultCategories))
}

func TestHandlerProductLifecycle(t *testing.T) {
	router := newTestRouter(newMemoryRepo())

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/catalog/products/",
		strings.NewReader(`{"name":"Esmalte Vermelho","unit":"un","current_quantity":1,"min_quantity":2}`)))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/catalog/products/?low_stock=true", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var products []Product
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &products))
	require.Len(t, products, 1)
	assert.Equal(t, "PR-001", products[0].Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/catalog/products/?low_stock=maybe", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/catalog/service-types/"+products[0].ID.String(), nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
