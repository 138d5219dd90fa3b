package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/glossbook/glossbook/internal/events"
	"github.com/glossbook/glossbook/internal/finance"
	"github.com/glossbook/glossbook/internal/observability"
	"github.com/glossbook/glossbook/internal/readcache"
	"github.com/glossbook/glossbook/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListEntries(ctx context.Context, filter EntryFilter) ([]StockEntry, error)
	ProductValues(ctx context.Context) ([]ProductValue, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

const idempotencyModule = "stock_entry"

// IdempotencyPort guards against replayed requests.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// Invalidator drops cached read models.
type Invalidator interface {
	Invalidate(ctx context.Context, namespaces ...string) error
}

// Service coordinates stock entries and their financial counterparts.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency IdempotencyPort
	cache       Invalidator
	publisher   events.Publisher
	metrics     *observability.LedgerMetrics
	logger      *slog.Logger
	validate    *validator.Validate
	rawReversal bool
	now         func() time.Time
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	// RawQuantityReversal subtracts the purchased quantity instead of the
	// base units that were added when an entry is deleted.
	RawQuantityReversal bool
	Cache               Invalidator
	Publisher           events.Publisher
	Metrics             *observability.LedgerMetrics
	Logger              *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, idem IdempotencyPort, cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Service{
		repo:        repo,
		audit:       audit,
		idempotency: idem,
		cache:       cfg.Cache,
		publisher:   publisher,
		metrics:     cfg.Metrics,
		logger:      logger,
		validate:    shared.NewValidator(),
		rawReversal: cfg.RawQuantityReversal,
		now:         time.Now,
	}
}

// RecordEntry adds a purchase to stock, refreshes the product's last unit
// cost and books the matching expense, all in one transaction.
func (s *Service) RecordEntry(ctx context.Context, input EntryInput) (EntryResult, error) {
	input, date, err := s.normaliseEntry(input)
	if err != nil {
		return EntryResult{}, err
	}

	insertedKey := false
	if s.idempotency != nil && input.IdempotencyKey != "" {
		if err := s.idempotency.CheckAndInsert(ctx, input.IdempotencyKey, idempotencyModule); err != nil {
			return EntryResult{}, err
		}
		insertedKey = true
	}

	var result EntryResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		product, err := tx.GetProductForUpdate(ctx, input.ProductID)
		if err != nil {
			return err
		}
		if product.ConversionFactor < 0 {
			return ErrInvalidFactor
		}
		increase, err := ToBaseUnits(input.Quantity, product.Factor())
		if err != nil {
			return err
		}
		entry := StockEntry{
			ID:           uuid.New(),
			ProductID:    product.ID,
			ProductName:  product.Name,
			Quantity:     input.Quantity,
			UnitPrice:    input.UnitPrice,
			Cost:         input.Cost,
			BaseQuantity: increase,
			UnitCost:     input.Cost / increase,
			Date:         date,
			Notes:        input.Notes,
			CreatedAt:    s.now().UTC(),
		}
		if err := tx.InsertEntry(ctx, entry); err != nil {
			return fmt.Errorf("inventory: insert entry: %w", err)
		}
		newQty, err := tx.IncreaseStock(ctx, product.ID, increase, entry.UnitCost)
		if err != nil {
			return fmt.Errorf("inventory: increase stock: %w", err)
		}
		record := finance.NewStockEntryExpense(entry.ID, product.Name, input.Quantity, input.Cost, date)
		record.CreatedAt = entry.CreatedAt
		if err := tx.InsertFinancialRecord(ctx, record); err != nil {
			return fmt.Errorf("inventory: insert expense: %w", err)
		}
		result = EntryResult{Entry: entry, StockIncrease: increase, NewQuantity: newQty, FinancialRecord: record.ID}
		return nil
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, input.IdempotencyKey, idempotencyModule)
		}
		return EntryResult{}, err
	}

	s.metrics.Operation(events.StockEntryRecorded)
	s.afterCommit(ctx, events.StockEntryRecorded, result.Entry.ID, input.ActorID, map[string]any{
		"product_id":     result.Entry.ProductID.String(),
		"quantity":       result.Entry.Quantity,
		"stock_increase": result.StockIncrease,
		"cost":           result.Entry.Cost,
		"unit_cost":      result.Entry.UnitCost,
	})
	return result, nil
}

// DeleteStockEntry reverses a purchase. The entry is re-read under lock, so a
// second call finds nothing and returns ErrEntryNotFound instead of removing
// stock twice. The paired expense is removed on a best-effort basis.
func (s *Service) DeleteStockEntry(ctx context.Context, entryID uuid.UUID, actorID string) (DeletionResult, error) {
	var result DeletionResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entry, err := tx.GetEntryForUpdate(ctx, entryID)
		if err != nil {
			return err
		}
		product, err := tx.GetProductForUpdate(ctx, entry.ProductID)
		if err != nil {
			return err
		}
		removed := s.reversalQuantity(entry, product)
		newQty, err := tx.DecreaseStockClamped(ctx, product.ID, removed)
		if err != nil {
			return fmt.Errorf("inventory: decrease stock: %w", err)
		}
		cleaned := s.cleanupFinancial(ctx, tx, entry.ID)
		if err := tx.DeleteEntry(ctx, entry.ID); err != nil {
			return err
		}
		result = DeletionResult{EntryID: entry.ID, QuantityRemoved: removed, NewQuantity: newQty, FinancialCleaned: cleaned}
		return nil
	})
	if err != nil {
		return DeletionResult{}, err
	}

	s.metrics.Operation(events.StockEntryDeleted)
	s.afterCommit(ctx, events.StockEntryDeleted, entryID, actorID, map[string]any{
		"quantity_removed":  result.QuantityRemoved,
		"financial_cleaned": result.FinancialCleaned,
	})
	return result, nil
}

// ListEntries lists stock entries newest first.
func (s *Service) ListEntries(ctx context.Context, filter EntryFilter) ([]StockEntry, error) {
	if filter.StartDate != nil && filter.EndDate != nil && filter.EndDate.Before(*filter.StartDate) {
		return nil, shared.NewValidationError("end_date", "must not be before start_date")
	}
	return s.repo.ListEntries(ctx, filter)
}

// StockValuation prices the stock on hand at each product's last unit cost.
// Products never purchased count with cost 0.
func (s *Service) StockValuation(ctx context.Context) (Valuation, error) {
	values, err := s.repo.ProductValues(ctx)
	if err != nil {
		return Valuation{}, err
	}
	out := Valuation{Products: values}
	for i := range out.Products {
		out.Products[i].Value = out.Products[i].CurrentQuantity * out.Products[i].UnitCost
		out.Total += out.Products[i].Value
	}
	out.Total = roundCents(out.Total)
	return out, nil
}

func (s *Service) normaliseEntry(input EntryInput) (EntryInput, time.Time, error) {
	if err := shared.ValidateStruct(s.validate, input); err != nil {
		return input, time.Time{}, err
	}
	switch {
	case input.Cost <= 0 && input.UnitPrice > 0:
		input.Cost = roundCents(input.Quantity * input.UnitPrice)
	case input.UnitPrice <= 0 && input.Cost > 0:
		input.UnitPrice = roundCents(input.Cost / input.Quantity)
	}
	if input.Cost <= 0 {
		return input, time.Time{}, shared.NewValidationError("cost", "must be greater than 0")
	}
	date, err := time.Parse(time.DateOnly, input.Date)
	if err != nil {
		return input, time.Time{}, shared.NewValidationError("date", "must be a date formatted YYYY-MM-DD")
	}
	return input, date, nil
}

func (s *Service) reversalQuantity(entry StockEntry, product ProductStock) float64 {
	if s.rawReversal {
		return entry.Quantity
	}
	if entry.BaseQuantity > 0 {
		return entry.BaseQuantity
	}
	return entry.Quantity * product.Factor()
}

// cleanupFinancial deletes the expense inside a savepoint. A failure rolls
// back only the savepoint; the orphan is logged and left for reconciliation.
func (s *Service) cleanupFinancial(ctx context.Context, tx TxRepository, entryID uuid.UUID) bool {
	var removed int64
	err := tx.WithSavepoint(ctx, func(ctx context.Context, sp TxRepository) error {
		n, err := sp.DeleteFinancialRecords(ctx, finance.ReferenceStockEntry, entryID)
		removed = n
		return err
	})
	if err != nil {
		s.metrics.CleanupFailed(string(finance.ReferenceStockEntry))
		s.logger.Warn("orphaned financial record",
			slog.String("event", "orphaned_financial_record"),
			slog.String("step", "delete_financial_record"),
			slog.String("reference_type", string(finance.ReferenceStockEntry)),
			slog.String("reference_id", entryID.String()),
			slog.Any("error", err),
		)
		return false
	}
	return removed > 0
}

func (s *Service) afterCommit(ctx context.Context, eventType string, id uuid.UUID, actorID string, meta map[string]any) {
	var failures []error
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, readcache.NamespaceProducts, readcache.NamespaceFinance); err != nil {
			s.metrics.SideEffectFailed("cache")
			failures = append(failures, &shared.PartialFailureError{Step: "cache", Cause: err})
		}
	}
	if err := s.publisher.Publish(ctx, events.New(eventType, id.String(), actorID, meta)); err != nil {
		s.metrics.SideEffectFailed("events")
		failures = append(failures, &shared.PartialFailureError{Step: "events", Cause: err})
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   eventType,
			Entity:   "stock_entry",
			EntityID: id.String(),
			Meta:     meta,
		}); err != nil {
			s.metrics.SideEffectFailed("audit")
			failures = append(failures, &shared.PartialFailureError{Step: "audit", Cause: err})
		}
	}
	if err := errors.Join(failures...); err != nil {
		s.logger.Warn("stock entry follow-up failed", slog.String("event", eventType), slog.String("reference_id", id.String()), slog.Any("error", err))
	}
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
