package shared

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates rejected input.
	ErrValidation = errors.New("validation failed")
	// ErrInsufficientStock indicates a product cannot cover the requested consumption.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrPartialFailure indicates a committed operation whose follow-up step failed.
	ErrPartialFailure = errors.New("partial failure")
	// ErrUnauthorized indicates a missing user identity.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrConflict indicates the request clashes with current state.
	ErrConflict = errors.New("conflict")
)

// ValidationError lists rejected fields.
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return fmt.Sprintf("%s: %s", ErrValidation.Error(), strings.Join(parts, "; "))
}

// Is reports ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Shortfall describes one product that cannot cover a consumption.
type Shortfall struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name"`
	Required  float64 `json:"required"`
	Available float64 `json:"available"`
}

// InsufficientStockError carries every product short of stock.
type InsufficientStockError struct {
	Items []Shortfall
}

func (e *InsufficientStockError) Error() string {
	if e == nil || len(e.Items) == 0 {
		return ErrInsufficientStock.Error()
	}
	names := make([]string, 0, len(e.Items))
	for _, item := range e.Items {
		names = append(names, item.Name)
	}
	return fmt.Sprintf("%s: %s", ErrInsufficientStock.Error(), strings.Join(names, ", "))
}

// Is reports ErrInsufficientStock.
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// PartialFailureError names the step that failed after the ledger committed.
type PartialFailureError struct {
	Step  string
	Cause error
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("%s at %s: %v", ErrPartialFailure.Error(), e.Step, e.Cause)
}

// Is reports ErrPartialFailure.
func (e *PartialFailureError) Is(target error) bool {
	return target == ErrPartialFailure
}

// Unwrap exposes the cause.
func (e *PartialFailureError) Unwrap() error {
	return e.Cause
}
