package finance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/glossbook/glossbook/internal/events"
	"github.com/glossbook/glossbook/internal/readcache"
	"github.com/glossbook/glossbook/internal/shared"
)

// MaxTrendMonths bounds MonthlyTrend.
const MaxTrendMonths = 36

// Repository persists financial records.
type Repository interface {
	ListRecords(ctx context.Context, filter Filter) ([]Record, error)
	GetRecord(ctx context.Context, id uuid.UUID) (Record, error)
	InsertRecord(ctx context.Context, record Record) error
	DeleteRecord(ctx context.Context, id uuid.UUID) error
}

// Cache is the subset of the read cache used by the service.
type Cache interface {
	BuildKey(ctx context.Context, namespace string, parts ...string) (string, error)
	FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error
	Invalidate(ctx context.Context, namespaces ...string) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service aggregates the financial ledger.
type Service struct {
	repo      Repository
	cache     Cache
	audit     AuditPort
	publisher events.Publisher
	logger    *slog.Logger
	validate  *validator.Validate
	now       func() time.Time
}

// ServiceConfig groups optional collaborators.
type ServiceConfig struct {
	Cache     Cache
	Audit     AuditPort
	Publisher events.Publisher
	Logger    *slog.Logger
}

// NewService builds Service.
func NewService(repo Repository, cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Service{
		repo:      repo,
		cache:     cfg.Cache,
		audit:     cfg.Audit,
		publisher: publisher,
		logger:    logger,
		validate:  shared.NewValidator(),
		now:       time.Now,
	}
}

// WithClock overrides the clock used for trends.
func (s *Service) WithClock(fn func() time.Time) {
	if fn != nil {
		s.now = fn
	}
}

// FetchRecords lists records newest first.
func (s *Service) FetchRecords(ctx context.Context, filter Filter) ([]Record, error) {
	if filter.Type != nil && !filter.Type.Valid() {
		return nil, shared.NewValidationError("type", "must be one of: income expense")
	}
	if filter.StartDate != nil && filter.EndDate != nil && filter.EndDate.Before(*filter.StartDate) {
		return nil, shared.NewValidationError("end_date", "must not be before start_date")
	}
	records, err := s.repo.ListRecords(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("finance: list records: %w", err)
	}
	return records, nil
}

// Summary totals every record matching filter.
func (s *Service) Summary(ctx context.Context, filter Filter) (Summary, error) {
	var out Summary
	err := s.cached(ctx, &out, []string{"summary", filterToken(filter)}, func(ctx context.Context) (any, error) {
		records, err := s.FetchRecords(ctx, filter)
		if err != nil {
			return nil, err
		}
		return Summarize(records), nil
	})
	return out, err
}

// MonthlySummary totals the records dated within one calendar month.
func (s *Service) MonthlySummary(ctx context.Context, year int, month time.Month) (MonthSummary, error) {
	if month < time.January || month > time.December {
		return MonthSummary{}, shared.NewValidationError("month", "must be between 1 and 12")
	}
	if year < 1 {
		return MonthSummary{}, shared.NewValidationError("year", "must be positive")
	}
	first, last := MonthRange(year, month)
	summary, err := s.Summary(ctx, Filter{StartDate: &first, EndDate: &last})
	if err != nil {
		return MonthSummary{}, err
	}
	return MonthSummary{Year: year, Month: month, Summary: summary}, nil
}

// MonthlyTrend returns n consecutive months ending with the current one, oldest first.
func (s *Service) MonthlyTrend(ctx context.Context, n int) ([]MonthSummary, error) {
	if n < 1 || n > MaxTrendMonths {
		return nil, shared.NewValidationError("months", fmt.Sprintf("must be between 1 and %d", MaxTrendMonths))
	}
	now := s.now()
	current := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	out := make([]MonthSummary, n)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i := 0; i < n; i++ {
		month := current.AddDate(0, i-(n-1), 0)
		g.Go(func() error {
			summary, err := s.MonthlySummary(gctx, month.Year(), month.Month())
			if err != nil {
				return err
			}
			out[i] = summary
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateRecord stores a manual record with no ledger reference.
func (s *Service) CreateRecord(ctx context.Context, input RecordInput, actorID string) (Record, error) {
	if err := shared.ValidateStruct(s.validate, input); err != nil {
		return Record{}, err
	}
	date, err := time.Parse(time.DateOnly, input.Date)
	if err != nil {
		return Record{}, shared.NewValidationError("date", "must be a date formatted YYYY-MM-DD")
	}
	record := Record{
		ID:          uuid.New(),
		Type:        input.Type,
		Amount:      input.Amount,
		Description: input.Description,
		Date:        date,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.repo.InsertRecord(ctx, record); err != nil {
		return Record{}, fmt.Errorf("finance: insert record: %w", err)
	}
	s.afterCommit(ctx, events.FinancialRecordCreated, record, actorID)
	return record, nil
}

// DeleteRecord removes a manual record. Linked records belong to their stock
// entry or service and are removed with it.
func (s *Service) DeleteRecord(ctx context.Context, id uuid.UUID, actorID string) error {
	record, err := s.repo.GetRecord(ctx, id)
	if err != nil {
		return err
	}
	if record.Linked() {
		return fmt.Errorf("%w: %w", ErrLinkedRecord, shared.ErrConflict)
	}
	if err := s.repo.DeleteRecord(ctx, id); err != nil {
		return fmt.Errorf("finance: delete record: %w", err)
	}
	s.afterCommit(ctx, events.FinancialRecordDeleted, record, actorID)
	return nil
}

func (s *Service) afterCommit(ctx context.Context, eventType string, record Record, actorID string) {
	if s.cache != nil {
		_ = s.cache.Invalidate(ctx, readcache.NamespaceFinance)
	}
	data := map[string]any{"type": record.Type, "amount": record.Amount}
	if err := s.publisher.Publish(ctx, events.New(eventType, record.ID.String(), actorID, data)); err != nil {
		s.logger.Warn("publish ledger event", slog.String("event", eventType), slog.Any("error", err))
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   eventType,
			Entity:   "financial_record",
			EntityID: record.ID.String(),
			Meta:     data,
		}); err != nil {
			s.logger.Warn("audit financial record", slog.Any("error", err))
		}
	}
}

func (s *Service) cached(ctx context.Context, dest any, parts []string, loader func(context.Context) (any, error)) error {
	if s.cache == nil {
		return decode(ctx, loader, dest)
	}
	key, err := s.cache.BuildKey(ctx, readcache.NamespaceFinance, parts...)
	if err != nil {
		s.logger.Warn("finance cache key", slog.Any("error", err))
		return decode(ctx, loader, dest)
	}
	return s.cache.FetchJSON(ctx, key, dest, loader)
}

func decode(ctx context.Context, loader func(context.Context) (any, error), dest any) error {
	value, err := loader(ctx)
	if err != nil {
		return err
	}
	out, ok := dest.(*Summary)
	if !ok {
		return errors.New("finance: unsupported cache destination")
	}
	*out = value.(Summary)
	return nil
}

func filterToken(f Filter) string {
	token := "all"
	if f.Type != nil {
		token = string(*f.Type)
	}
	return token + ":" + dateToken(f.StartDate) + ":" + dateToken(f.EndDate)
}

func dateToken(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return strconv.Itoa(t.Year()*10000 + int(t.Month())*100 + t.Day())
}
