package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/glossbook/glossbook/internal/finance"
	"github.com/glossbook/glossbook/internal/readcache"
)

// Repository reads ledger drift and applies repairs.
type Repository interface {
	EntriesWithoutExpense(ctx context.Context) ([]EntrySource, error)
	ServicesWithoutIncome(ctx context.Context) ([]ServiceSource, error)
	OrphanRecords(ctx context.Context) ([]finance.Record, error)
	InsertRecord(ctx context.Context, record finance.Record) error
	DeleteRecord(ctx context.Context, id uuid.UUID) error
}

// Invalidator drops cached read models.
type Invalidator interface {
	Invalidate(ctx context.Context, namespaces ...string) error
}

// Service runs reconciliation passes.
type Service struct {
	repo   Repository
	cache  Invalidator
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs Service. cache may be nil.
func NewService(repo Repository, cache Invalidator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, logger: logger, now: time.Now}
}

// Run collects every inconsistency. With repair set, orphan records are
// deleted and missing records are rebuilt from their source rows. Repair
// failures are joined into the returned error next to a complete report.
func (s *Service) Run(ctx context.Context, repair bool) (Report, error) {
	report := Report{
		Findings:  []Finding{},
		Counts:    map[Kind]int{},
		Repaired:  map[Kind]int{},
		Repair:    repair,
		CheckedAt: s.now().UTC(),
	}

	entries, err := s.repo.EntriesWithoutExpense(ctx)
	if err != nil {
		return report, fmt.Errorf("reconcile: stock entries: %w", err)
	}
	services, err := s.repo.ServicesWithoutIncome(ctx)
	if err != nil {
		return report, fmt.Errorf("reconcile: services: %w", err)
	}
	orphans, err := s.repo.OrphanRecords(ctx)
	if err != nil {
		return report, fmt.Errorf("reconcile: orphan records: %w", err)
	}

	var failures []error
	for _, e := range entries {
		f := Finding{Kind: KindMissingExpense, ReferenceType: finance.ReferenceStockEntry, ReferenceID: e.EntryID}
		if repair {
			record := finance.NewStockEntryExpense(e.EntryID, e.ProductName, e.Quantity, e.Cost, e.Date)
			if err := s.repo.InsertRecord(ctx, record); err != nil {
				failures = append(failures, fmt.Errorf("rebuild expense %s: %w", e.EntryID, err))
			} else {
				f.RecordID = &record.ID
				f.Repaired = true
			}
		}
		s.add(&report, f)
	}
	for _, svc := range services {
		f := Finding{Kind: KindMissingIncome, ReferenceType: finance.ReferenceService, ReferenceID: svc.ServiceID}
		if repair {
			record := finance.NewServiceIncome(svc.ServiceID, svc.ServiceTypeName, svc.ClientName, svc.Price, svc.Date)
			if err := s.repo.InsertRecord(ctx, record); err != nil {
				failures = append(failures, fmt.Errorf("rebuild income %s: %w", svc.ServiceID, err))
			} else {
				f.RecordID = &record.ID
				f.Repaired = true
			}
		}
		s.add(&report, f)
	}
	for _, rec := range orphans {
		if !rec.Linked() {
			continue
		}
		id := rec.ID
		f := Finding{Kind: KindOrphanRecord, ReferenceType: *rec.ReferenceType, ReferenceID: *rec.ReferenceID, RecordID: &id}
		if repair {
			if err := s.repo.DeleteRecord(ctx, rec.ID); err != nil && !errors.Is(err, finance.ErrRecordNotFound) {
				failures = append(failures, fmt.Errorf("delete orphan %s: %w", rec.ID, err))
			} else {
				f.Repaired = true
			}
		}
		s.add(&report, f)
	}

	if len(report.Repaired) > 0 && s.cache != nil {
		if err := s.cache.Invalidate(ctx, readcache.NamespaceFinance); err != nil {
			s.logger.Warn("reconcile cache invalidation", slog.Any("error", err))
		}
	}
	return report, errors.Join(failures...)
}

func (s *Service) add(report *Report, f Finding) {
	report.Findings = append(report.Findings, f)
	report.Counts[f.Kind]++
	if f.Repaired {
		report.Repaired[f.Kind]++
	}
	attrs := []any{
		slog.String("event", "ledger_inconsistency"),
		slog.String("kind", string(f.Kind)),
		slog.String("reference_type", string(f.ReferenceType)),
		slog.String("reference_id", f.ReferenceID.String()),
		slog.Bool("repaired", f.Repaired),
	}
	if f.RecordID != nil {
		attrs = append(attrs, slog.String("record_id", f.RecordID.String()))
	}
	s.logger.Warn("ledger inconsistency", attrs...)
}
