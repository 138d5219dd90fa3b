package inventory

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/glossbook/glossbook/internal/shared"
)

var (
	// ErrProductNotFound indicates the product row does not exist.
	ErrProductNotFound = fmt.Errorf("inventory: product %w", shared.ErrNotFound)
	// ErrEntryNotFound indicates the stock entry does not exist or was already deleted.
	ErrEntryNotFound = fmt.Errorf("inventory: stock entry %w", shared.ErrNotFound)
	// ErrInvalidFactor indicates a product with a negative conversion factor.
	ErrInvalidFactor = fmt.Errorf("inventory: product conversion factor must be positive: %w", shared.ErrValidation)
)

// ProductStock is the stock view of a product, read under a row lock when mutating.
type ProductStock struct {
	ID               uuid.UUID `json:"id"`
	Name             string    `json:"name"`
	Unit             string    `json:"unit"`
	ConversionFactor float64   `json:"conversion_factor"`
	CurrentQuantity  float64   `json:"current_quantity"`
	LastUnitCost     *float64  `json:"last_unit_cost,omitempty"`
}

// Factor returns the effective conversion factor.
func (p ProductStock) Factor() float64 {
	return EffectiveFactor(p.ConversionFactor)
}

// UnitCost returns the last purchase cost per base unit, 0 when never purchased.
func (p ProductStock) UnitCost() float64 {
	if p.LastUnitCost == nil {
		return 0
	}
	return *p.LastUnitCost
}

// StockEntry is one purchase of a product.
type StockEntry struct {
	ID           uuid.UUID `json:"id"`
	ProductID    uuid.UUID `json:"product_id"`
	ProductName  string    `json:"product_name,omitempty"`
	Quantity     float64   `json:"quantity"`
	UnitPrice    float64   `json:"unit_price"`
	Cost         float64   `json:"cost"`
	BaseQuantity float64   `json:"base_quantity"`
	UnitCost     float64   `json:"unit_cost"`
	Date         time.Time `json:"date"`
	Notes        string    `json:"notes,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// EntryInput records a purchase. Either unit price or cost may be omitted and
// is then derived from the other.
type EntryInput struct {
	ProductID      uuid.UUID `json:"product_id" validate:"required"`
	Quantity       float64   `json:"quantity" validate:"gt=0"`
	UnitPrice      float64   `json:"unit_price" validate:"gte=0"`
	Cost           float64   `json:"cost" validate:"gte=0"`
	Date           string    `json:"date" validate:"required,datetime=2006-01-02"`
	Notes          string    `json:"notes" validate:"max=500"`
	ActorID        string    `json:"-"`
	IdempotencyKey string    `json:"-"`
}

// EntryFilter narrows ListEntries. Dates are inclusive.
type EntryFilter struct {
	ProductID *uuid.UUID
	StartDate *time.Time
	EndDate   *time.Time
}

// EntryResult reports the effect of a recorded entry.
type EntryResult struct {
	Entry           StockEntry `json:"entry"`
	StockIncrease   float64    `json:"stock_increase"`
	NewQuantity     float64    `json:"new_quantity"`
	FinancialRecord uuid.UUID  `json:"financial_record_id"`
}

// DeletionResult reports the effect of a compensated stock entry.
type DeletionResult struct {
	EntryID          uuid.UUID `json:"entry_id"`
	QuantityRemoved  float64   `json:"quantity_removed"`
	NewQuantity      float64   `json:"new_quantity"`
	FinancialCleaned bool      `json:"financial_cleaned"`
}

// ProductValue is one product's share of the stock value.
type ProductValue struct {
	ProductID       uuid.UUID `json:"product_id"`
	Name            string    `json:"name"`
	Unit            string    `json:"unit"`
	CurrentQuantity float64   `json:"current_quantity"`
	UnitCost        float64   `json:"unit_cost"`
	Value           float64   `json:"value"`
}

// Valuation is the stock on hand priced at each product's last unit cost.
type Valuation struct {
	Total    float64        `json:"total"`
	Products []ProductValue `json:"products"`
}
