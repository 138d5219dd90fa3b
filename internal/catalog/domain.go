// Package catalog manages the studio's reference data: units, brands,
// categories, products and service types with their bills of materials.
package catalog

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/glossbook/glossbook/internal/shared"
)

var (
	ErrUnitNotFound        = fmt.Errorf("catalog: unit %w", shared.ErrNotFound)
	ErrBrandNotFound       = fmt.Errorf("catalog: brand %w", shared.ErrNotFound)
	ErrCategoryNotFound    = fmt.Errorf("catalog: category %w", shared.ErrNotFound)
	ErrProductNotFound     = fmt.Errorf("catalog: product %w", shared.ErrNotFound)
	ErrServiceTypeNotFound = fmt.Errorf("catalog: service type %w", shared.ErrNotFound)
	// ErrInUse is returned when a row is still referenced by ledger data.
	ErrInUse = fmt.Errorf("catalog: still referenced: %w", shared.ErrConflict)
	// ErrDuplicateName is returned on a unique name clash.
	ErrDuplicateName = fmt.Errorf("catalog: name already exists: %w", shared.ErrConflict)
	// ErrOwnerRequired is returned when a per-user operation has no signed-in user.
	ErrOwnerRequired = fmt.Errorf("catalog: signed-in user required: %w", shared.ErrUnauthorized)
	errNoRepository  = errors.New("catalog repository not initialised")
)

// Unit is a measurement unit. DefaultValue, when set, is suggested as the
// conversion factor of new products using the unit.
type Unit struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Abbreviation string    `json:"abbreviation"`
	DefaultValue *float64  `json:"default_value,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// UnitInput creates or updates a unit.
type UnitInput struct {
	Name         string   `json:"name" validate:"required,max=60"`
	Abbreviation string   `json:"abbreviation" validate:"required,max=10"`
	DefaultValue *float64 `json:"default_value" validate:"omitempty,gt=0"`
}

// Brand is a product manufacturer.
type Brand struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// BrandInput creates or updates a brand.
type BrandInput struct {
	Name string `json:"name" validate:"required,max=100"`
}

// Category groups products and provides the product code prefix.
type Category struct {
	ID        uuid.UUID `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	Prefix    string    `json:"prefix"`
	CreatedAt time.Time `json:"created_at"`
}

// CategoryInput creates or updates a category.
type CategoryInput struct {
	Name   string `json:"name" validate:"required,max=60"`
	Prefix string `json:"prefix" validate:"required,alpha,min=2,max=4"`
}

// DefaultCategories is the starter set restored by ResetDefaultCategories.
var DefaultCategories = []CategoryInput{
	{Name: "Equipamento", Prefix: "EQ"},
	{Name: "Ferramenta", Prefix: "FR"},
	{Name: "Lixa", Prefix: "LX"},
	{Name: "Higiene", Prefix: "HP"},
	{Name: "Tips", Prefix: "TP"},
	{Name: "Gel", Prefix: "GL"},
	{Name: "Esmalte", Prefix: "ES"},
	{Name: "Finalizado", Prefix: "FN"},
	{Name: "Preparador", Prefix: "PQ"},
}

// Product is a stocked item. CurrentQuantity is kept in base units.
type Product struct {
	ID               uuid.UUID  `json:"id"`
	Code             string     `json:"code"`
	Name             string     `json:"name"`
	BrandID          *uuid.UUID `json:"brand_id,omitempty"`
	BrandName        string     `json:"brand_name,omitempty"`
	CategoryID       *uuid.UUID `json:"category_id,omitempty"`
	CategoryName     string     `json:"category_name,omitempty"`
	Unit             string     `json:"unit"`
	ConversionFactor float64    `json:"conversion_factor"`
	CurrentQuantity  float64    `json:"current_quantity"`
	MinQuantity      float64    `json:"min_quantity"`
	LastUnitCost     *float64   `json:"last_unit_cost,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// LowStock reports whether the product is at or below its minimum.
func (p Product) LowStock() bool {
	return p.CurrentQuantity <= p.MinQuantity
}

// ProductInput creates or updates a product. CurrentQuantity is honoured on
// creation only. A zero ConversionFactor is filled from the unit's default.
type ProductInput struct {
	Name             string     `json:"name" validate:"required,max=120"`
	BrandID          *uuid.UUID `json:"brand_id"`
	CategoryID       *uuid.UUID `json:"category_id"`
	Unit             string     `json:"unit" validate:"required,max=60"`
	ConversionFactor float64    `json:"conversion_factor" validate:"gte=0"`
	CurrentQuantity  float64    `json:"current_quantity" validate:"gte=0"`
	MinQuantity      float64    `json:"min_quantity" validate:"gte=0"`
}

// ProductFilter narrows ListProducts.
type ProductFilter struct {
	LowStockOnly bool
	CategoryID   *uuid.UUID
	Search       string
}

// BOMLine is one product consumed by a service type.
type BOMLine struct {
	ProductID        uuid.UUID `json:"product_id"`
	ProductName      string    `json:"product_name,omitempty"`
	ProductUnit      string    `json:"product_unit,omitempty"`
	CurrentQuantity  float64   `json:"current_quantity"`
	ConversionFactor float64   `json:"conversion_factor"`
	DefaultQuantity  float64   `json:"default_quantity"`
	UseUnitSystem    bool      `json:"use_unit_system"`
}

// ServiceType is a priced service with its bill of materials.
type ServiceType struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Price     float64   `json:"price"`
	Lines     []BOMLine `json:"lines"`
	CreatedAt time.Time `json:"created_at"`
}

// BOMLineInput is one line of a service type payload.
type BOMLineInput struct {
	ProductID       uuid.UUID `json:"product_id" validate:"required"`
	DefaultQuantity float64   `json:"default_quantity" validate:"gt=0"`
	UseUnitSystem   bool      `json:"use_unit_system"`
}

// ServiceTypeInput creates or replaces a service type and its whole BOM.
type ServiceTypeInput struct {
	Name  string         `json:"name" validate:"required,max=120"`
	Price float64        `json:"price" validate:"gt=0"`
	Lines []BOMLineInput `json:"lines" validate:"dive"`
}
