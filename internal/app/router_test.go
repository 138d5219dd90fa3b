package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glossbook/glossbook/internal/observability"
	"github.com/glossbook/glossbook/internal/shared"
)

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func TestIdentityMiddlewareStoresUser(t *testing.T) {
	var seen string
	h := IdentityMiddleware("X-Studio-User")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = shared.UserIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Studio-User", " user-42 ")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "user-42", seen)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Empty(t, seen)
}

func TestRouterHealthAndMetrics(t *testing.T) {
	cfg := &Config{AppEnv: "test", RateLimitPerMinute: 100, IdentityHeader: "X-User-ID"}
	router := NewRouter(RouterParams{Logger: NewLogger(cfg), Config: cfg, Database: stubPinger{}, Metrics: observability.NewMetrics()})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok","database":"ok"}`, rr.Body.String())
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "glossbook_http_requests_total")
}

func TestRouterHealthDegraded(t *testing.T) {
	cfg := &Config{RateLimitPerMinute: 100}
	router := NewRouter(RouterParams{Logger: NewLogger(cfg), Config: cfg, Database: stubPinger{err: errors.New("refused")}})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "X-User-ID", cfg.IdentityHeader)
	assert.Equal(t, "*/30 * * * *", cfg.ReconcileCron)
	assert.False(t, cfg.StockRawReversal)
	assert.False(t, cfg.KafkaEnabled())
	assert.Equal(t, 72*time.Hour, cfg.IdempotencyRetention)

	t.Setenv("KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")
	t.Setenv("STOCK_RAW_REVERSAL", "true")
	t.Setenv("REDIS_DB", "3")
	cfg, err = LoadConfig()
	require.NoError(t, err)
	assert.True(t, cfg.KafkaEnabled())
	assert.True(t, cfg.StockRawReversal)
	assert.Equal(t, 3, cfg.CacheOptions().DB)
	assert.Equal(t, 3, cfg.QueueRedis().DB)

	t.Setenv("IDEMPOTENCY_RETENTION", "0s")
	_, err = LoadConfig()
	assert.Error(t, err)
}
