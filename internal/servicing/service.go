package servicing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/glossbook/glossbook/internal/events"
	"github.com/glossbook/glossbook/internal/finance"
	"github.com/glossbook/glossbook/internal/inventory"
	"github.com/glossbook/glossbook/internal/observability"
	"github.com/glossbook/glossbook/internal/readcache"
	"github.com/glossbook/glossbook/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	// GetServiceType reads the service type and current stock without locks.
	GetServiceType(ctx context.Context, id uuid.UUID) (ServiceType, error)
	ListServices(ctx context.Context, filter ExecutionFilter) ([]Execution, error)
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	GetServiceType(ctx context.Context, id uuid.UUID) (ServiceType, error)
	// LockProducts locks the rows in id order and returns them keyed by id.
	LockProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]inventory.ProductStock, error)
	InsertService(ctx context.Context, execution Execution) error
	// DecrementStock subtracts qty only while enough stock remains and reports
	// whether the row was updated.
	DecrementStock(ctx context.Context, productID uuid.UUID, qty float64) (bool, error)
	RestoreStock(ctx context.Context, productID uuid.UUID, qty float64) error
	InsertConsumptions(ctx context.Context, consumptions []Consumption) error
	ListConsumptions(ctx context.Context, serviceID uuid.UUID) ([]Consumption, error)
	InsertFinancialRecord(ctx context.Context, record finance.Record) error
	GetServiceForUpdate(ctx context.Context, id uuid.UUID) (Execution, error)
	DeleteService(ctx context.Context, id uuid.UUID) error
	DeleteFinancialRecords(ctx context.Context, refType finance.ReferenceType, refID uuid.UUID) (int64, error)
	WithSavepoint(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

const idempotencyModule = "service"

// IdempotencyPort guards against replayed requests.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// Invalidator drops cached read models.
type Invalidator interface {
	Invalidate(ctx context.Context, namespaces ...string) error
}

// Service executes and reverses services.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency IdempotencyPort
	cache       Invalidator
	publisher   events.Publisher
	metrics     *observability.LedgerMetrics
	logger      *slog.Logger
	validate    *validator.Validate
	now         func() time.Time
}

// ServiceConfig groups optional collaborators.
type ServiceConfig struct {
	Cache     Invalidator
	Publisher events.Publisher
	Metrics   *observability.LedgerMetrics
	Logger    *slog.Logger
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
		now:         time.Now,
	}
}

// CheckAvailability evaluates the service type against current stock. It
// takes no locks; CreateService repeats the check under lock.
func (s *Service) CheckAvailability(ctx context.Context, serviceTypeID uuid.UUID) (Availability, error) {
	st, err := s.repo.GetServiceType(ctx, serviceTypeID)
	if err != nil {
		return Availability{}, err
	}
	stock := make(map[uuid.UUID]inventory.ProductStock, len(st.Lines))
	for _, l := range st.Lines {
		stock[l.Product.ID] = l.Product
	}
	return evaluate(st, stock)
}

// evaluate computes what each line consumes from the given stock. A line is
// short iff current quantity < deduced quantity.
func evaluate(st ServiceType, stock map[uuid.UUID]inventory.ProductStock) (Availability, error) {
	out := Availability{
		ServiceTypeID:        st.ID,
		Available:            true,
		InsufficientProducts: []shared.Shortfall{},
		Products:             make([]RequiredProduct, 0, len(st.Lines)),
	}
	for _, line := range st.Lines {
		product, ok := stock[line.Product.ID]
		if !ok {
			product = line.Product
		}
		if product.ConversionFactor < 0 {
			return Availability{}, fmt.Errorf("%w: %s", inventory.ErrInvalidFactor, product.Name)
		}
		deduced, err := inventory.Consumption(inventory.ConsumptionLine{
			DefaultQuantity: line.DefaultQuantity,
			UseUnitSystem:   line.UseUnitSystem,
		}, product.Factor())
		if err != nil {
			return Availability{}, err
		}
		out.Products = append(out.Products, RequiredProduct{
			ProductID:        product.ID,
			Name:             product.Name,
			Unit:             product.Unit,
			DefaultQuantity:  line.DefaultQuantity,
			UseUnitSystem:    line.UseUnitSystem,
			ConversionFactor: product.Factor(),
			CurrentQuantity:  product.CurrentQuantity,
			DeducedQuantity:  deduced,
			UnitCost:         product.UnitCost(),
		})
		if product.CurrentQuantity < deduced {
			out.Available = false
			out.InsufficientProducts = append(out.InsufficientProducts, shared.Shortfall{
				ProductID: product.ID.String(),
				Name:      product.Name,
				Required:  deduced,
				Available: product.CurrentQuantity,
			})
		}
	}
	return out, nil
}

// CreateService performs a service: stock is locked and checked, consumed
// with a guarded decrement, snapshotted per product and the income booked,
// all in one transaction. Nothing is written when any product is short.
func (s *Service) CreateService(ctx context.Context, input ExecutionInput) (ExecutionResult, error) {
	if err := shared.ValidateStruct(s.validate, input); err != nil {
		return ExecutionResult{}, err
	}
	date, err := time.Parse(time.DateOnly, input.Date)
	if err != nil {
		return ExecutionResult{}, shared.NewValidationError("date", "must be a date formatted YYYY-MM-DD")
	}

	insertedKey := false
	if s.idempotency != nil && input.IdempotencyKey != "" {
		if err := s.idempotency.CheckAndInsert(ctx, input.IdempotencyKey, idempotencyModule); err != nil {
			return ExecutionResult{}, err
		}
		insertedKey = true
	}

	state := StateRequested
	var result ExecutionResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		st, err := tx.GetServiceType(ctx, input.ServiceTypeID)
		if err != nil {
			return err
		}
		stock, err := tx.LockProducts(ctx, productIDs(st))
		if err != nil {
			return err
		}
		availability, err := evaluate(st, stock)
		if err != nil {
			return err
		}
		state = StateStockChecked
		if !availability.Available {
			state = StateRejected
			return &shared.InsufficientStockError{Items: availability.InsufficientProducts}
		}

		stID := st.ID
		execution := Execution{
			ID:              uuid.New(),
			ServiceTypeID:   &stID,
			ServiceTypeName: st.Name,
			ClientName:      input.ClientName,
			Price:           st.Price,
			ProductCost:     roundCents(availability.ProductCost()),
			Date:            date,
			Notes:           input.Notes,
			CreatedAt:       s.now().UTC(),

			ConsumptionsRecorded: true,
		}
		if err := tx.InsertService(ctx, execution); err != nil {
			return fmt.Errorf("servicing: insert service: %w", err)
		}

		consumptions := make([]Consumption, 0, len(availability.Products))
		for _, p := range availability.Products {
			ok, err := tx.DecrementStock(ctx, p.ProductID, p.DeducedQuantity)
			if err != nil {
				return fmt.Errorf("servicing: decrement stock: %w", err)
			}
			if !ok {
				state = StateRejected
				return &shared.InsufficientStockError{Items: []shared.Shortfall{{
					ProductID: p.ProductID.String(), Name: p.Name, Required: p.DeducedQuantity, Available: p.CurrentQuantity,
				}}}
			}
			consumptions = append(consumptions, Consumption{ServiceID: execution.ID, ProductID: p.ProductID, Quantity: p.DeducedQuantity, UnitCost: p.UnitCost})
		}
		if err := tx.InsertConsumptions(ctx, consumptions); err != nil {
			return fmt.Errorf("servicing: insert consumptions: %w", err)
		}

		record := finance.NewServiceIncome(execution.ID, st.Name, input.ClientName, st.Price, date)
		record.CreatedAt = execution.CreatedAt
		if err := tx.InsertFinancialRecord(ctx, record); err != nil {
			return fmt.Errorf("servicing: insert income: %w", err)
		}
		state = StateCommitted
		result = ExecutionResult{Execution: execution, State: state, Consumptions: consumptions, FinancialRecord: record.ID}
		return nil
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, input.IdempotencyKey, idempotencyModule)
		}
		if errors.Is(err, shared.ErrInsufficientStock) {
			s.metrics.InsufficientStock()
		}
		s.logger.Debug("service execution failed", slog.String("state", string(state)), slog.Any("error", err))
		return ExecutionResult{}, err
	}

	s.metrics.Operation(events.ServiceExecuted)
	s.afterCommit(ctx, events.ServiceExecuted, result.Execution.ID, input.ActorID, map[string]any{
		"service_type_id": input.ServiceTypeID.String(),
		"client_name":     result.Execution.ClientName,
		"price":           result.Execution.Price,
		"product_cost":    result.Execution.ProductCost,
	})
	return result, nil
}

// DeleteService reverses an execution. Stock comes back from the consumption
// snapshot; executions recorded before snapshots existed fall back to the
// current bill of materials and conversion factors.
func (s *Service) DeleteService(ctx context.Context, serviceID uuid.UUID, actorID string) (DeletionResult, error) {
	var result DeletionResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		execution, err := tx.GetServiceForUpdate(ctx, serviceID)
		if err != nil {
			return err
		}
		restore, fromSnapshot, err := s.restorePlan(ctx, tx, execution)
		if err != nil {
			return err
		}
		ids := make([]uuid.UUID, 0, len(restore))
		for _, c := range restore {
			ids = append(ids, c.ProductID)
		}
		if _, err := tx.LockProducts(ctx, ids); err != nil {
			return err
		}
		for _, c := range restore {
			if err := tx.RestoreStock(ctx, c.ProductID, c.Quantity); err != nil {
				return fmt.Errorf("servicing: restore stock: %w", err)
			}
		}
		cleaned := s.cleanupFinancial(ctx, tx, execution.ID)
		if err := tx.DeleteService(ctx, execution.ID); err != nil {
			return err
		}
		result = DeletionResult{ServiceID: execution.ID, Restored: restore, FromSnapshot: fromSnapshot, FinancialCleaned: cleaned}
		return nil
	})
	if err != nil {
		return DeletionResult{}, err
	}

	s.metrics.Operation(events.ServiceDeleted)
	s.afterCommit(ctx, events.ServiceDeleted, serviceID, actorID, map[string]any{
		"restored_products": len(result.Restored),
		"from_snapshot":     result.FromSnapshot,
		"financial_cleaned": result.FinancialCleaned,
	})
	return result, nil
}

func (s *Service) restorePlan(ctx context.Context, tx TxRepository, execution Execution) ([]Consumption, bool, error) {
	snapshot, err := tx.ListConsumptions(ctx, execution.ID)
	if err != nil {
		return nil, false, err
	}
	if execution.ConsumptionsRecorded || len(snapshot) > 0 {
		return snapshot, true, nil
	}
	if execution.ServiceTypeID == nil {
		s.logger.Warn("service has no consumption snapshot and no service type",
			slog.String("event", "unrestorable_service_stock"),
			slog.String("reference_type", string(finance.ReferenceService)),
			slog.String("reference_id", execution.ID.String()))
		return nil, false, nil
	}
	st, err := tx.GetServiceType(ctx, *execution.ServiceTypeID)
	if errors.Is(err, ErrServiceTypeNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	stock, err := tx.LockProducts(ctx, productIDs(st))
	if err != nil {
		return nil, false, err
	}
	availability, err := evaluate(st, stock)
	if err != nil {
		return nil, false, err
	}
	plan := make([]Consumption, 0, len(availability.Products))
	for _, p := range availability.Products {
		plan = append(plan, Consumption{ServiceID: execution.ID, ProductID: p.ProductID, Quantity: p.DeducedQuantity, UnitCost: p.UnitCost})
	}
	return plan, false, nil
}

// ListServices lists executions newest first with their margin.
func (s *Service) ListServices(ctx context.Context, filter ExecutionFilter) ([]ExecutionView, error) {
	if filter.StartDate != nil && filter.EndDate != nil && filter.EndDate.Before(*filter.StartDate) {
		return nil, shared.NewValidationError("end_date", "must not be before start_date")
	}
	executions, err := s.repo.ListServices(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]ExecutionView, 0, len(executions))
	for _, e := range executions {
		out = append(out, ExecutionView{Execution: e, Margin: roundCents(e.Margin())})
	}
	return out, nil
}

func (s *Service) cleanupFinancial(ctx context.Context, tx TxRepository, serviceID uuid.UUID) bool {
	var removed int64
	err := tx.WithSavepoint(ctx, func(ctx context.Context, sp TxRepository) error {
		n, err := sp.DeleteFinancialRecords(ctx, finance.ReferenceService, serviceID)
		removed = n
		return err
	})
	if err != nil {
		s.metrics.CleanupFailed(string(finance.ReferenceService))
		s.logger.Warn("orphaned financial record",
			slog.String("event", "orphaned_financial_record"),
			slog.String("step", "delete_financial_record"),
			slog.String("reference_type", string(finance.ReferenceService)),
			slog.String("reference_id", serviceID.String()),
			slog.Any("error", err),
		)
		return false
	}
	return removed > 0
}

func (s *Service) afterCommit(ctx context.Context, eventType string, id uuid.UUID, actorID string, meta map[string]any) {
	var failures []error
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, readcache.NamespaceProducts, readcache.NamespaceServices, readcache.NamespaceFinance); err != nil {
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
			Entity:   "service",
			EntityID: id.String(),
			Meta:     meta,
		}); err != nil {
			s.metrics.SideEffectFailed("audit")
			failures = append(failures, &shared.PartialFailureError{Step: "audit", Cause: err})
		}
	}
	if err := errors.Join(failures...); err != nil {
		s.logger.Warn("service follow-up failed", slog.String("event", eventType), slog.String("reference_id", id.String()), slog.Any("error", err))
	}
}

func productIDs(st ServiceType) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(st.Lines))
	for _, l := range st.Lines {
		ids = append(ids, l.Product.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
