package finance

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// RecordType distinguishes money in from money out.
type RecordType string

const (
	// TypeIncome records revenue from a service.
	TypeIncome RecordType = "income"
	// TypeExpense records stock purchases and other costs.
	TypeExpense RecordType = "expense"
)

// Valid reports whether t is a known record type.
func (t RecordType) Valid() bool {
	return t == TypeIncome || t == TypeExpense
}

// ReferenceType names the ledger row that owns a financial record.
type ReferenceType string

const (
	// ReferenceStockEntry links an expense to the stock entry that produced it.
	ReferenceStockEntry ReferenceType = "stock_entry"
	// ReferenceService links an income to the executed service.
	ReferenceService ReferenceType = "service"
)

// Record is one signed money movement.
type Record struct {
	ID            uuid.UUID      `json:"id"`
	Type          RecordType     `json:"type"`
	Amount        float64        `json:"amount"`
	Description   string         `json:"description"`
	ReferenceType *ReferenceType `json:"reference_type,omitempty"`
	ReferenceID   *uuid.UUID     `json:"reference_id,omitempty"`
	Date          time.Time      `json:"date"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Linked reports whether the record is owned by a stock entry or service.
func (r Record) Linked() bool {
	return r.ReferenceType != nil && r.ReferenceID != nil
}

// Filter narrows FetchRecords. Dates are inclusive calendar days.
type Filter struct {
	Type      *RecordType
	StartDate *time.Time
	EndDate   *time.Time
}

// Summary totals a set of records.
type Summary struct {
	TotalIncome  float64 `json:"total_income"`
	TotalExpense float64 `json:"total_expense"`
	Profit       float64 `json:"profit"`
}

// MonthSummary is the summary of one calendar month.
type MonthSummary struct {
	Year  int        `json:"year"`
	Month time.Month `json:"month"`
	Summary
}

// RecordInput creates a manual record.
type RecordInput struct {
	Type        RecordType `json:"type" validate:"required,oneof=income expense"`
	Amount      float64    `json:"amount" validate:"gt=0"`
	Description string     `json:"description" validate:"required,max=255"`
	Date        string     `json:"date" validate:"required,datetime=2006-01-02"`
}

// ErrLinkedRecord rejects manual edits of records owned by the stock or service ledger.
var ErrLinkedRecord = errors.New("finance: record is owned by a stock entry or service")

// NewStockEntryExpense builds the expense paired with a stock entry.
func NewStockEntryExpense(entryID uuid.UUID, productName string, quantity, cost float64, date time.Time) Record {
	ref := ReferenceStockEntry
	id := entryID
	return Record{
		ID:            uuid.New(),
		Type:          TypeExpense,
		Amount:        cost,
		Description:   StockEntryDescription(productName, quantity),
		ReferenceType: &ref,
		ReferenceID:   &id,
		Date:          date,
	}
}

// NewServiceIncome builds the income paired with an executed service.
func NewServiceIncome(serviceID uuid.UUID, serviceTypeName, clientName string, price float64, date time.Time) Record {
	ref := ReferenceService
	id := serviceID
	return Record{
		ID:            uuid.New(),
		Type:          TypeIncome,
		Amount:        price,
		Description:   ServiceDescription(serviceTypeName, clientName),
		ReferenceType: &ref,
		ReferenceID:   &id,
		Date:          date,
	}
}

// MonthRange returns the first and last calendar day of a month.
func MonthRange(year int, month time.Month) (time.Time, time.Time) {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return first, first.AddDate(0, 1, -1)
}
