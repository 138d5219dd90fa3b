package inventory

import "github.com/glossbook/glossbook/internal/shared"

// ConsumptionLine is the part of a bill-of-materials line that decides how
// much stock one execution takes.
type ConsumptionLine struct {
	DefaultQuantity float64
	UseUnitSystem   bool
}

// EffectiveFactor returns the stored conversion factor, treating a missing
// (zero) value as 1 base unit per purchase unit.
func EffectiveFactor(stored float64) float64 {
	if stored == 0 {
		return 1
	}
	return stored
}

// ToBaseUnits converts a purchased quantity into base units.
func ToBaseUnits(quantity, factor float64) (float64, error) {
	if factor <= 0 {
		return 0, shared.NewValidationError("conversion_factor", "must be greater than 0")
	}
	return quantity * factor, nil
}

// Consumption returns the base units one execution takes from a product.
// Lines expressed in purchase units are multiplied by the factor, other lines
// are already in base units. No rounding is applied.
func Consumption(line ConsumptionLine, factor float64) (float64, error) {
	if factor <= 0 {
		return 0, shared.NewValidationError("conversion_factor", "must be greater than 0")
	}
	if line.UseUnitSystem {
		return line.DefaultQuantity * factor, nil
	}
	return line.DefaultQuantity, nil
}
