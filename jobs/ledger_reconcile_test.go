package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/glossbook/glossbook/internal/jobs"
	"github.com/glossbook/glossbook/internal/reconcile"
	"github.com/glossbook/glossbook/internal/shared"
)

type stubReconciler struct {
	calls  int
	repair bool
	report reconcile.Report
	err    error
}

func (s *stubReconciler) Run(_ context.Context, repair bool) (reconcile.Report, error) {
	s.calls++
	s.repair = repair
	return s.report, s.err
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func reconcileTask(t *testing.T, repair bool) *asynq.Task {
	t.Helper()
	task, err := NewLedgerReconcileTask(repair)
	require.NoError(t, err)
	return task
}

func gatherCounter(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue metrics
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestLedgerReconcileJobRecordsFindings(t *testing.T) {
	mr, client := newRedis(t)
	reg := prometheus.NewRegistry()
	stub := &stubReconciler{report: reconcile.Report{
		Findings: []reconcile.Finding{{Kind: reconcile.KindOrphanRecord}, {Kind: reconcile.KindOrphanRecord}, {Kind: reconcile.KindMissingIncome}},
		Counts:   map[reconcile.Kind]int{reconcile.KindOrphanRecord: 2, reconcile.KindMissingIncome: 1},
		Repaired: map[reconcile.Kind]int{reconcile.KindOrphanRecord: 2},
	}}
	job := NewLedgerReconcileJob(stub, client, nil, jobmetrics.NewMetrics(reg))

	require.NoError(t, job.Handle(context.Background(), reconcileTask(t, true)))
	assert.Equal(t, 1, stub.calls)
	assert.True(t, stub.repair)
	assert.False(t, mr.Exists(shared.ReconcileLockKey("ledger")), "lock released")

	assert.InDelta(t, 2, gatherCounter(t, reg, "glossbook_reconcile_findings_total", map[string]string{"kind": "orphan_record"}), 0.0001)
	assert.InDelta(t, 1, gatherCounter(t, reg, "glossbook_reconcile_findings_total", map[string]string{"kind": "missing_income"}), 0.0001)
	assert.InDelta(t, 2, gatherCounter(t, reg, "glossbook_reconcile_repairs_total", map[string]string{"kind": "orphan_record"}), 0.0001)
	assert.InDelta(t, 1, gatherCounter(t, reg, "glossbook_jobs_total", map[string]string{"job": TaskLedgerReconcile, "status": "success"}), 0.0001)
}

func TestLedgerReconcileJobSkipsWhenLocked(t *testing.T) {
	mr, client := newRedis(t)
	require.NoError(t, mr.Set(shared.ReconcileLockKey("ledger"), "other-worker"))
	stub := &stubReconciler{}
	job := NewLedgerReconcileJob(stub, client, nil, nil)

	require.NoError(t, job.Handle(context.Background(), reconcileTask(t, false)))
	assert.Zero(t, stub.calls)
}

func TestLedgerReconcileJobFailureCounts(t *testing.T) {
	_, client := newRedis(t)
	reg := prometheus.NewRegistry()
	boom := errors.New("db down")
	job := NewLedgerReconcileJob(&stubReconciler{err: boom}, client, nil, jobmetrics.NewMetrics(reg))

	require.ErrorIs(t, job.Handle(context.Background(), reconcileTask(t, false)), boom)
	assert.InDelta(t, 1, gatherCounter(t, reg, "glossbook_jobs_failures_total", map[string]string{"job": TaskLedgerReconcile}), 0.0001)
}

func TestLedgerReconcileJobRejectsBadPayload(t *testing.T) {
	job := NewLedgerReconcileJob(&stubReconciler{}, nil, nil, nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskLedgerReconcile, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

type stubEnqueuer struct {
	repair bool
	err    error
}

func (s *stubEnqueuer) EnqueueReconcile(_ context.Context, repair bool) (*asynq.TaskInfo, error) {
	s.repair = repair
	if s.err != nil {
		return nil, s.err
	}
	return &asynq.TaskInfo{ID: "task-1", Queue: QueueDefault}, nil
}

func TestHandlerTriggersReconcile(t *testing.T) {
	enq := &stubEnqueuer{}
	r := chi.NewRouter()
	r.Route("/jobs", NewHandler(nil, enq, nil).MountRoutes)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/jobs/reconcile?repair=true", nil))
	require.Equal(t, http.StatusAccepted, rr.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "task-1", body["task_id"])
	assert.True(t, enq.repair)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/jobs/reconcile?repair=perhaps", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	enq.err = asynq.ErrDuplicateTask
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/jobs/reconcile", nil))
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}
