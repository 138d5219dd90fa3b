package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	jobmetrics "github.com/glossbook/glossbook/internal/jobs"
	"github.com/glossbook/glossbook/internal/reconcile"
	"github.com/glossbook/glossbook/internal/shared"
)

const defaultLockTTL = 10 * time.Minute

// Reconciler runs one reconciliation pass.
type Reconciler interface {
	Run(ctx context.Context, repair bool) (reconcile.Report, error)
}

// LedgerReconcileJob runs reconciliation under a redis lock so overlapping
// cron ticks and manual triggers never repair concurrently.
type LedgerReconcileJob struct {
	Reconciler Reconciler
	Redis      redis.Cmdable
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
	LockTTL    time.Duration
}

// NewLedgerReconcileJob constructs the job handler.
func NewLedgerReconcileJob(reconciler Reconciler, client redis.Cmdable, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerReconcileJob {
	return &LedgerReconcileJob{Reconciler: reconciler, Redis: client, Logger: logger, Metrics: metrics, LockTTL: defaultLockTTL}
}

// Handle executes the reconcile task.
func (j *LedgerReconcileJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Reconciler == nil {
		return errors.New("ledger reconcile: dependencies not configured")
	}
	var payload LedgerReconcilePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	release, acquired, err := j.lock(ctx)
	if err != nil {
		return err
	}
	if !acquired {
		j.log().Info("ledger reconcile already running", slog.String("job", TaskLedgerReconcile))
		return nil
	}
	defer release()

	tracker := j.Metrics.Track(TaskLedgerReconcile)
	report, runErr := j.Reconciler.Run(ctx, payload.Repair)
	for _, kind := range reconcile.Kinds {
		j.Metrics.AddFindings(string(kind), report.Counts[kind])
		j.Metrics.AddRepairs(string(kind), report.Repaired[kind])
	}
	if runErr != nil {
		j.log().Error("ledger reconcile", slog.Bool("repair", payload.Repair), slog.Any("error", runErr))
		return tracker.End(runErr)
	}
	j.log().Info("ledger reconcile finished",
		slog.Bool("repair", payload.Repair),
		slog.Int("findings", len(report.Findings)),
		slog.Int("missing_expense", report.Counts[reconcile.KindMissingExpense]),
		slog.Int("missing_income", report.Counts[reconcile.KindMissingIncome]),
		slog.Int("orphan_record", report.Counts[reconcile.KindOrphanRecord]),
	)
	return tracker.End(nil)
}

func (j *LedgerReconcileJob) lock(ctx context.Context) (func(), bool, error) {
	if j.Redis == nil {
		return func() {}, true, nil
	}
	key := shared.ReconcileLockKey("ledger")
	ttl := j.LockTTL
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	ok, err := j.Redis.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return func() {
		if err := j.Redis.Del(context.WithoutCancel(ctx), key).Err(); err != nil {
			j.log().Warn("ledger reconcile unlock", slog.Any("error", err))
		}
	}, true, nil
}

func (j *LedgerReconcileJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
