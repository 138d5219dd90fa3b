package shared

import "fmt"

// ReconcileLockKey builds the redis key guarding a reconciliation run.
func ReconcileLockKey(scope string) string {
	if scope == "" {
		scope = "ledger"
	}
	return fmt.Sprintf("reconcile:%s:lock", scope)
}
