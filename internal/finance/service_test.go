package finance

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glossbook/glossbook/internal/readcache"
	"github.com/glossbook/glossbook/internal/shared"
)

type memoryRepo struct {
	mu        sync.Mutex
	records   map[uuid.UUID]Record
	listCalls int
}

func newMemoryRepo(records ...Record) *memoryRepo {
	repo := &memoryRepo{records: make(map[uuid.UUID]Record)}
	for _, r := range records {
		if r.ID == uuid.Nil {
			r.ID = uuid.New()
		}
		repo.records[r.ID] = r
	}
	return repo
}

func (m *memoryRepo) ListRecords(_ context.Context, filter Filter) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	out := []Record{}
	for _, r := range m.records {
		if filter.Type != nil && r.Type != *filter.Type {
			continue
		}
		if filter.StartDate != nil && r.Date.Before(*filter.StartDate) {
			continue
		}
		if filter.EndDate != nil && r.Date.After(*filter.EndDate) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out, nil
}

func (m *memoryRepo) GetRecord(_ context.Context, id uuid.UUID) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return Record{}, ErrRecordNotFound
	}
	return r, nil
}

func (m *memoryRepo) InsertRecord(_ context.Context, record Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[record.ID] = record
	return nil
}

func (m *memoryRepo) DeleteRecord(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return ErrRecordNotFound
	}
	delete(m.records, id)
	return nil
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func rec(t RecordType, amount float64, date time.Time) Record {
	return Record{ID: uuid.New(), Type: t, Amount: amount, Date: date}
}

func TestSummarizeAndCombineAreAdditive(t *testing.T) {
	a := []Record{rec(TypeIncome, 100, day(2024, 3, 1)), rec(TypeExpense, 40, day(2024, 3, 2))}
	b := []Record{rec(TypeIncome, 50, day(2024, 3, 3)), rec(TypeExpense, 5.5, day(2024, 3, 4))}

	whole := Summarize(append(append([]Record{}, a...), b...))
	combined := Summarize(a).Combine(Summarize(b))

	assert.InDelta(t, whole.TotalIncome, combined.TotalIncome, 0.0001)
	assert.InDelta(t, whole.TotalExpense, combined.TotalExpense, 0.0001)
	assert.InDelta(t, whole.Profit, combined.Profit, 0.0001)
	assert.InDelta(t, 104.5, whole.Profit, 0.0001)
	assert.Equal(t, Summary{}, Summarize(nil))
}

func TestMarginPercent(t *testing.T) {
	assert.InDelta(t, 60, Summary{TotalIncome: 100, TotalExpense: 40, Profit: 60}.MarginPercent(), 0.0001)
	assert.InDelta(t, 33, Summary{TotalIncome: 3, TotalExpense: 2, Profit: 1}.MarginPercent(), 0.0001)
	assert.Zero(t, Summary{TotalExpense: 10, Profit: -10}.MarginPercent())
}

func TestMonthlySummaryIncludesWholeMonth(t *testing.T) {
	repo := newMemoryRepo(
		rec(TypeIncome, 80, day(2024, 2, 1)),
		rec(TypeExpense, 30, day(2024, 2, 29)),
		rec(TypeIncome, 999, day(2024, 3, 1)),
		rec(TypeIncome, 999, day(2024, 1, 31)),
	)
	svc := NewService(repo, ServiceConfig{})

	got, err := svc.MonthlySummary(context.Background(), 2024, time.February)
	require.NoError(t, err)
	assert.InDelta(t, 80, got.TotalIncome, 0.0001)
	assert.InDelta(t, 30, got.TotalExpense, 0.0001)
	assert.InDelta(t, 50, got.Profit, 0.0001)

	_, err = svc.MonthlySummary(context.Background(), 2024, 13)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestMonthlyTrendOldestFirst(t *testing.T) {
	repo := newMemoryRepo(
		rec(TypeIncome, 10, day(2023, 12, 5)),
		rec(TypeIncome, 20, day(2024, 1, 5)),
		rec(TypeExpense, 5, day(2024, 2, 5)),
	)
	svc := NewService(repo, ServiceConfig{})
	svc.WithClock(func() time.Time { return time.Date(2024, 2, 15, 10, 0, 0, 0, time.UTC) })

	trend, err := svc.MonthlyTrend(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, trend, 3)

	assert.Equal(t, 2023, trend[0].Year)
	assert.Equal(t, time.December, trend[0].Month)
	assert.InDelta(t, 10, trend[0].TotalIncome, 0.0001)
	assert.Equal(t, time.January, trend[1].Month)
	assert.InDelta(t, 20, trend[1].TotalIncome, 0.0001)
	assert.Equal(t, time.February, trend[2].Month)
	assert.InDelta(t, -5, trend[2].Profit, 0.0001)

	_, err = svc.MonthlyTrend(context.Background(), 0)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestFetchRecordsFiltersAndOrders(t *testing.T) {
	repo := newMemoryRepo(
		rec(TypeIncome, 10, day(2024, 1, 5)),
		rec(TypeExpense, 20, day(2024, 1, 6)),
		rec(TypeIncome, 30, day(2024, 1, 7)),
	)
	svc := NewService(repo, ServiceConfig{})
	income := TypeIncome

	got, err := svc.FetchRecords(context.Background(), Filter{Type: &income})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.InDelta(t, 30, got[0].Amount, 0.0001)

	start, end := day(2024, 1, 7), day(2024, 1, 1)
	_, err = svc.FetchRecords(context.Background(), Filter{StartDate: &start, EndDate: &end})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestSummaryIsCachedUntilRecordCreated(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := newMemoryRepo(rec(TypeIncome, 100, day(2024, 3, 1)))
	svc := NewService(repo, ServiceConfig{Cache: readcache.New(client, time.Minute, nil)})
	ctx := context.Background()

	_, err := svc.MonthlySummary(ctx, 2024, time.March)
	require.NoError(t, err)
	_, err = svc.MonthlySummary(ctx, 2024, time.March)
	require.NoError(t, err)
	assert.Equal(t, 1, repo.listCalls)

	_, err = svc.CreateRecord(ctx, RecordInput{Type: TypeExpense, Amount: 25, Description: "Aluguel", Date: "2024-03-10"}, "user-1")
	require.NoError(t, err)

	got, err := svc.MonthlySummary(ctx, 2024, time.March)
	require.NoError(t, err)
	assert.Equal(t, 2, repo.listCalls)
	assert.InDelta(t, 75, got.Profit, 0.0001)
}

func TestCreateRecordValidates(t *testing.T) {
	svc := NewService(newMemoryRepo(), ServiceConfig{})
	_, err := svc.CreateRecord(context.Background(), RecordInput{Type: "gift", Amount: 0, Date: "10/03/2024"}, "")
	require.ErrorIs(t, err, shared.ErrValidation)

	var vErr *shared.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Fields, "type")
	assert.Contains(t, vErr.Fields, "amount")
	assert.Contains(t, vErr.Fields, "description")
	assert.Contains(t, vErr.Fields, "date")
}

func TestDeleteRecordRejectsLinkedRecords(t *testing.T) {
	linked := NewServiceIncome(uuid.New(), "Alongamento", "Ana", 120, day(2024, 3, 1))
	manual := rec(TypeExpense, 10, day(2024, 3, 2))
	repo := newMemoryRepo(linked, manual)
	svc := NewService(repo, ServiceConfig{})
	ctx := context.Background()

	err := svc.DeleteRecord(ctx, linked.ID, "user-1")
	require.ErrorIs(t, err, ErrLinkedRecord)
	require.ErrorIs(t, err, shared.ErrConflict)

	require.NoError(t, svc.DeleteRecord(ctx, manual.ID, "user-1"))
	require.ErrorIs(t, svc.DeleteRecord(ctx, manual.ID, "user-1"), shared.ErrNotFound)
}

func TestLedgerRecordConstructors(t *testing.T) {
	entryID := uuid.New()
	expense := NewStockEntryExpense(entryID, "Gel Builder", 10, 100, day(2024, 3, 1))
	assert.Equal(t, TypeExpense, expense.Type)
	assert.Equal(t, "Entrada de estoque: Gel Builder (10 un)", expense.Description)
	require.True(t, expense.Linked())
	assert.Equal(t, entryID, *expense.ReferenceID)
	assert.Equal(t, ReferenceStockEntry, *expense.ReferenceType)

	income := NewServiceIncome(uuid.New(), "Manicure", "Ana", 50, day(2024, 3, 1))
	assert.Equal(t, "Serviço: Manicure - Cliente: Ana", income.Description)
	assert.Equal(t, ReferenceService, *income.ReferenceType)
}

func TestDescriptionsUseBrazilianNumbers(t *testing.T) {
	assert.Equal(t, "Entrada de estoque: Lixa (2,5 un)", StockEntryDescription("Lixa", 2.5))
	assert.Equal(t, "R$ 1.234,50", FormatCurrency(1234.5))
}
