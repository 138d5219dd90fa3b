package observability

import "github.com/prometheus/client_golang/prometheus"

// LedgerMetrics counts stock and finance mutations. All methods are safe on a nil receiver.
type LedgerMetrics struct {
	operations    *prometheus.CounterVec
	rejections    prometheus.Counter
	cleanupErrors *prometheus.CounterVec
	sideEffects   *prometheus.CounterVec
}

// NewLedgerMetrics registers ledger collectors against registerer.
func NewLedgerMetrics(registerer prometheus.Registerer) *LedgerMetrics {
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "glossbook_ledger_operations_total",
		Help: "Committed ledger operations by kind.",
	}, []string{"operation"})
	rejections := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "glossbook_service_insufficient_stock_total",
		Help: "Service executions rejected for insufficient stock.",
	})
	cleanup := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "glossbook_financial_cleanup_failures_total",
		Help: "Financial records left behind by a compensation.",
	}, []string{"reference_type"})
	sideEffects := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "glossbook_post_commit_failures_total",
		Help: "Post-commit side effects that failed, by step.",
	}, []string{"step"})
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	registerer.MustRegister(operations, rejections, cleanup, sideEffects)
	return &LedgerMetrics{operations: operations, rejections: rejections, cleanupErrors: cleanup, sideEffects: sideEffects}
}

// Operation counts one committed mutation.
func (m *LedgerMetrics) Operation(name string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(name).Inc()
}

// InsufficientStock counts a rejected service execution.
func (m *LedgerMetrics) InsufficientStock() {
	if m == nil {
		return
	}
	m.rejections.Inc()
}

// CleanupFailed counts a financial record that could not be removed.
func (m *LedgerMetrics) CleanupFailed(referenceType string) {
	if m == nil {
		return
	}
	m.cleanupErrors.WithLabelValues(referenceType).Inc()
}

// SideEffectFailed counts a post-commit step failure.
func (m *LedgerMetrics) SideEffectFailed(step string) {
	if m == nil {
		return
	}
	m.sideEffects.WithLabelValues(step).Inc()
}
