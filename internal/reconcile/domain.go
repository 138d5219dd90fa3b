// Package reconcile cross-checks the stock and service ledgers against the
// financial records they own, and optionally repairs what drifted.
package reconcile

import (
	"time"

	"github.com/google/uuid"

	"github.com/glossbook/glossbook/internal/finance"
)

// Kind classifies a ledger inconsistency.
type Kind string

const (
	// KindMissingExpense is a stock entry without its expense record.
	KindMissingExpense Kind = "missing_expense"
	// KindMissingIncome is a service without its income record.
	KindMissingIncome Kind = "missing_income"
	// KindOrphanRecord is a linked financial record whose owner row is gone.
	KindOrphanRecord Kind = "orphan_record"
)

// Kinds lists every kind in report order.
var Kinds = []Kind{KindMissingExpense, KindMissingIncome, KindOrphanRecord}

// EntrySource is what an expense record is rebuilt from.
type EntrySource struct {
	EntryID     uuid.UUID
	ProductName string
	Quantity    float64
	Cost        float64
	Date        time.Time
}

// ServiceSource is what an income record is rebuilt from.
type ServiceSource struct {
	ServiceID       uuid.UUID
	ServiceTypeName string
	ClientName      string
	Price           float64
	Date            time.Time
}

// Finding is one inconsistency.
type Finding struct {
	Kind          Kind                  `json:"kind"`
	ReferenceType finance.ReferenceType `json:"reference_type"`
	ReferenceID   uuid.UUID             `json:"reference_id"`
	RecordID      *uuid.UUID            `json:"record_id,omitempty"`
	Repaired      bool                  `json:"repaired"`
}

// Report summarises one run.
type Report struct {
	Findings  []Finding    `json:"findings"`
	Counts    map[Kind]int `json:"counts"`
	Repaired  map[Kind]int `json:"repaired"`
	Repair    bool         `json:"repair"`
	CheckedAt time.Time    `json:"checked_at"`
}

// Clean reports whether nothing was found.
func (r Report) Clean() bool {
	return len(r.Findings) == 0
}
