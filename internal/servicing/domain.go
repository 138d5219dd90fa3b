// Package servicing executes services against stock: it checks that every
// product of the bill of materials is available, consumes it and books the
// income, and reverses all of that when an execution is deleted.
package servicing

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/glossbook/glossbook/internal/inventory"
	"github.com/glossbook/glossbook/internal/shared"
)

var (
	ErrServiceTypeNotFound = fmt.Errorf("servicing: service type %w", shared.ErrNotFound)
	ErrServiceNotFound     = fmt.Errorf("servicing: service %w", shared.ErrNotFound)
)

// State is the lifecycle position of one execution request.
type State string

const (
	StateRequested    State = "requested"
	StateStockChecked State = "stock_checked"
	StateRejected     State = "rejected"
	StateCommitted    State = "committed"
)

// Line is one bill-of-materials line joined with its product's stock.
type Line struct {
	Product         inventory.ProductStock
	DefaultQuantity float64
	UseUnitSystem   bool
}

// ServiceType is the priced service and what it consumes.
type ServiceType struct {
	ID    uuid.UUID
	Name  string
	Price float64
	Lines []Line
}

// RequiredProduct is a BOM line evaluated against current stock.
type RequiredProduct struct {
	ProductID        uuid.UUID `json:"product_id"`
	Name             string    `json:"name"`
	Unit             string    `json:"unit"`
	DefaultQuantity  float64   `json:"default_quantity"`
	UseUnitSystem    bool      `json:"use_unit_system"`
	ConversionFactor float64   `json:"conversion_factor"`
	CurrentQuantity  float64   `json:"current_quantity"`
	DeducedQuantity  float64   `json:"deduced_quantity"`
	UnitCost         float64   `json:"unit_cost"`
}

// Availability is the result of checking a service type against stock.
type Availability struct {
	ServiceTypeID        uuid.UUID          `json:"service_type_id"`
	Available            bool               `json:"available"`
	InsufficientProducts []shared.Shortfall `json:"insufficient_products"`
	Products             []RequiredProduct  `json:"products"`
}

// ProductCost prices the consumption at each product's last unit cost.
func (a Availability) ProductCost() float64 {
	var total float64
	for _, p := range a.Products {
		total += p.DeducedQuantity * p.UnitCost
	}
	return total
}

// Execution is one performed service.
type Execution struct {
	ID              uuid.UUID  `json:"id"`
	ServiceTypeID   *uuid.UUID `json:"service_type_id,omitempty"`
	ServiceTypeName string     `json:"service_type_name"`
	ClientName      string     `json:"client_name"`
	Price           float64    `json:"price"`
	ProductCost     float64    `json:"product_cost"`
	Date            time.Time  `json:"date"`
	Notes           string     `json:"notes,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	// ConsumptionsRecorded is false only for executions stored before the
	// per-product snapshot existed. An empty snapshot with the flag set
	// means nothing was consumed.
	ConsumptionsRecorded bool `json:"-"`
}

// Margin is the price left after product cost.
func (e Execution) Margin() float64 {
	return e.Price - e.ProductCost
}

// ExecutionInput requests a service execution.
type ExecutionInput struct {
	ClientName     string    `json:"client_name" validate:"required,max=120"`
	ServiceTypeID  uuid.UUID `json:"service_type_id" validate:"required"`
	Date           string    `json:"date" validate:"required,datetime=2006-01-02"`
	Notes          string    `json:"notes" validate:"max=500"`
	ActorID        string    `json:"-"`
	IdempotencyKey string    `json:"-"`
}

// Consumption is the stock one execution took from one product, kept so
// the execution can be reversed exactly.
type Consumption struct {
	ServiceID uuid.UUID `json:"service_id"`
	ProductID uuid.UUID `json:"product_id"`
	Quantity  float64   `json:"quantity"`
	UnitCost  float64   `json:"unit_cost"`
}

// ExecutionResult reports a committed execution.
type ExecutionResult struct {
	Execution       Execution     `json:"service"`
	State           State         `json:"state"`
	Consumptions    []Consumption `json:"consumptions"`
	FinancialRecord uuid.UUID     `json:"financial_record_id"`
}

// ExecutionFilter narrows ListServices. Dates are inclusive.
type ExecutionFilter struct {
	ServiceTypeID *uuid.UUID
	StartDate     *time.Time
	EndDate       *time.Time
	// Limit caps the newest executions returned; 0 returns all.
	Limit int
}

// ExecutionView is a listed execution with its margin.
type ExecutionView struct {
	Execution
	Margin float64 `json:"margin"`
}

// DeletionResult reports a reversed execution.
type DeletionResult struct {
	ServiceID        uuid.UUID     `json:"service_id"`
	Restored         []Consumption `json:"restored"`
	FromSnapshot     bool          `json:"from_snapshot"`
	FinancialCleaned bool          `json:"financial_cleaned"`
}
