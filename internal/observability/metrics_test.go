package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetricsHandlerExposesPrometheusMetrics(t *testing.T) {
	metrics := NewMetrics()
	metrics.Ledger().Operation("stock_entry.recorded")

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	metrics.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}

	body := rr.Body.String()
	if !strings.Contains(body, "glossbook_ledger_operations_total") {
		t.Fatalf("expected body to contain glossbook_ledger_operations_total, got: %s", body)
	}
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx)
	req = req.WithContext(ctx)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected status %d, got %d", http.StatusTeapot, rr.Code)
	}

	metricsRR := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(metricsRR, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	metricsBody := metricsRR.Body.String()
	if !strings.Contains(metricsBody, "http_requests_total{code=\"418\",route=\"/test\"} 1") {
		t.Fatalf("expected metrics to record request, got: %s", metricsBody)
	}
	if !strings.Contains(metricsBody, "http_request_duration_seconds_bucket{route=\"/test\"") {
		t.Fatalf("expected duration histogram to be present, got: %s", metricsBody)
	}
}

func TestLedgerMetricsCounters(t *testing.T) {
	ledger := NewLedgerMetrics(prometheus.NewRegistry())
	ledger.Operation("service.executed")
	ledger.Operation("service.executed")
	ledger.InsufficientStock()
	ledger.CleanupFailed("service")
	ledger.SideEffectFailed("cache")

	require.InDelta(t, 2, testutil.ToFloat64(ledger.operations.WithLabelValues("service.executed")), 0.0001)
	require.InDelta(t, 1, testutil.ToFloat64(ledger.rejections), 0.0001)
	require.InDelta(t, 1, testutil.ToFloat64(ledger.cleanupErrors.WithLabelValues("service")), 0.0001)
	require.InDelta(t, 1, testutil.ToFloat64(ledger.sideEffects.WithLabelValues("cache")), 0.0001)
}

func TestLedgerMetricsNilSafe(t *testing.T) {
	var ledger *LedgerMetrics
	ledger.Operation("x")
	ledger.InsufficientStock()
	ledger.CleanupFailed("x")
	ledger.SideEffectFailed("x")
}
