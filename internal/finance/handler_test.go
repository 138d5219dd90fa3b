package finance

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(repo *memoryRepo) http.Handler {
	svc := NewService(repo, ServiceConfig{})
	svc.WithClock(func() time.Time { return time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC) })
	r := chi.NewRouter()
	r.Route("/finance", NewHandler(slog.Default(), svc).MountRoutes)
	return r
}

func TestHandlerSummaryIncludesMargin(t *testing.T) {
	router := newTestRouter(newMemoryRepo(
		rec(TypeIncome, 200, day(2024, 3, 1)),
		rec(TypeExpense, 50, day(2024, 3, 2)),
	))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/finance/summary", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var body summaryResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.InDelta(t, 150, body.Profit, 0.0001)
	assert.InDelta(t, 75, body.MarginPercent, 0.0001)
}

func TestHandlerMonthlyDefaultsToCurrentMonth(t *testing.T) {
	router := newTestRouter(newMemoryRepo(rec(TypeIncome, 40, day(2024, 3, 5)), rec(TypeIncome, 90, day(2024, 2, 5))))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/finance/summary/monthly", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var body MonthSummary
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, time.March, body.Month)
	assert.InDelta(t, 40, body.TotalIncome, 0.0001)
}

func TestHandlerTrendRejectsBadMonths(t *testing.T) {
	router := newTestRouter(newMemoryRepo())

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/finance/trend?months=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/finance/trend?months=2", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var trend []MonthSummary
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &trend))
	assert.Len(t, trend, 2)
}

func TestHandlerCreateAndDeleteRecord(t *testing.T) {
	repo := newMemoryRepo()
	router := newTestRouter(repo)

	rr := httptest.NewRecorder()
	body := `{"type":"expense","amount":35.5,"description":"Energia","date":"2024-03-10"}`
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/finance/records", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, rr.Code)

	var created Record
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/finance/records/"+created.ID.String(), nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/finance/records/"+created.ID.String(), nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandlerExportRecordsCSV(t *testing.T) {
	router := newTestRouter(newMemoryRepo(
		rec(TypeIncome, 50, day(2024, 3, 3)),
		rec(TypeExpense, 20, day(2024, 3, 1)),
	))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/finance/records/export.csv?start_date=2024-03-01", nil))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "text/csv; charset=utf-8", rr.Header().Get("Content-Type"))

	lines := strings.Split(strings.TrimSpace(rr.Body.String()), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, "date,type,amount,description,reference_type,reference_id", lines[0])
	assert.Equal(t, "2024-03-03,income,50.00,,,", lines[1])
	assert.Equal(t, "2024-03-01,expense,20.00,,,", lines[2])
	assert.Equal(t, ",profit,30.00,,,", lines[5])
}
