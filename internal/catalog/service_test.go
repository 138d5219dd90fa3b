package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glossbook/glossbook/internal/readcache"
	"github.com/glossbook/glossbook/internal/shared"
)

type memoryRepo struct {
	mu           sync.Mutex
	units        map[uuid.UUID]Unit
	brands       map[uuid.UUID]Brand
	categories   map[uuid.UUID]Category
	products     map[uuid.UUID]Product
	serviceTypes map[uuid.UUID]ServiceType
	productLists int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		units:        map[uuid.UUID]Unit{},
		brands:       map[uuid.UUID]Brand{},
		categories:   map[uuid.UUID]Category{},
		products:     map[uuid.UUID]Product{},
		serviceTypes: map[uuid.UUID]ServiceType{},
	}
}

func (m *memoryRepo) ListUnits(context.Context) ([]Unit, error) {
	out := []Unit{}
	for _, u := range m.units {
		out = append(out, u)
	}
	return out, nil
}

func (m *memoryRepo) FindUnit(_ context.Context, name string) (Unit, error) {
	for _, u := range m.units {
		if strings.EqualFold(u.Name, name) || strings.EqualFold(u.Abbreviation, name) {
			return u, nil
		}
	}
	return Unit{}, ErrUnitNotFound
}

func (m *memoryRepo) CreateUnit(_ context.Context, u Unit) error {
	m.units[u.ID] = u
	return nil
}

func (m *memoryRepo) UpdateUnit(_ context.Context, u Unit) error {
	if _, ok := m.units[u.ID]; !ok {
		return ErrUnitNotFound
	}
	m.units[u.ID] = u
	return nil
}

func (m *memoryRepo) DeleteUnit(_ context.Context, id uuid.UUID) error {
	delete(m.units, id)
	return nil
}

func (m *memoryRepo) ListBrands(context.Context) ([]Brand, error) {
	out := []Brand{}
	for _, b := range m.brands {
		out = append(out, b)
	}
	return out, nil
}

func (m *memoryRepo) CreateBrand(_ context.Context, b Brand) error {
	for _, existing := range m.brands {
		if existing.Name == b.Name {
			return ErrDuplicateName
		}
	}
	m.brands[b.ID] = b
	return nil
}

func (m *memoryRepo) UpdateBrand(_ context.Context, b Brand) error {
	if _, ok := m.brands[b.ID]; !ok {
		return ErrBrandNotFound
	}
	m.brands[b.ID] = b
	return nil
}

func (m *memoryRepo) DeleteBrand(_ context.Context, id uuid.UUID) error {
	delete(m.brands, id)
	return nil
}

func (m *memoryRepo) ListCategories(_ context.Context, ownerID string) ([]Category, error) {
	out := []Category{}
	for _, c := range m.categories {
		if c.OwnerID == ownerID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memoryRepo) GetCategory(_ context.Context, id uuid.UUID) (Category, error) {
	c, ok := m.categories[id]
	if !ok {
		return Category{}, ErrCategoryNotFound
	}
	return c, nil
}

func (m *memoryRepo) CreateCategory(_ context.Context, c Category) error {
	m.categories[c.ID] = c
	return nil
}

func (m *memoryRepo) UpdateCategory(_ context.Context, c Category) error {
	m.categories[c.ID] = c
	return nil
}

func (m *memoryRepo) DeleteCategory(_ context.Context, id uuid.UUID) error {
	delete(m.categories, id)
	return nil
}

func (m *memoryRepo) UpsertCategories(_ context.Context, categories []Category) error {
	for _, c := range categories {
		replaced := false
		for id, existing := range m.categories {
			if existing.OwnerID == c.OwnerID && existing.Name == c.Name {
				existing.Prefix = c.Prefix
				m.categories[id] = existing
				replaced = true
			}
		}
		if !replaced {
			m.categories[c.ID] = c
		}
	}
	return nil
}

func (m *memoryRepo) ListProducts(_ context.Context, filter ProductFilter) ([]Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.productLists++
	out := []Product{}
	for _, p := range m.products {
		if filter.LowStockOnly && !p.LowStock() {
			continue
		}
		if filter.CategoryID != nil && (p.CategoryID == nil || *p.CategoryID != *filter.CategoryID) {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(p.Name), strings.ToLower(filter.Search)) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memoryRepo) GetProduct(_ context.Context, id uuid.UUID) (Product, error) {
	p, ok := m.products[id]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	return p, nil
}

func (m *memoryRepo) NextProductSequence(_ context.Context, prefix string) (int, error) {
	n := 0
	for _, p := range m.products {
		var seq int
		if _, err := fmt.Sscanf(p.Code, prefix+"-%d", &seq); err == nil && seq > n {
			n = seq
		}
	}
	return n + 1, nil
}

func (m *memoryRepo) InsertProduct(_ context.Context, p Product) error {
	m.products[p.ID] = p
	return nil
}

// UpdateProduct mirrors the SQL statement: stock columns are not written.
func (m *memoryRepo) UpdateProduct(_ context.Context, p Product) error {
	existing, ok := m.products[p.ID]
	if !ok {
		return ErrProductNotFound
	}
	p.CurrentQuantity = existing.CurrentQuantity
	p.LastUnitCost = existing.LastUnitCost
	m.products[p.ID] = p
	return nil
}

func (m *memoryRepo) DeleteProduct(_ context.Context, id uuid.UUID) error {
	delete(m.products, id)
	return nil
}

func (m *memoryRepo) ListServiceTypes(context.Context) ([]ServiceType, error) {
	out := []ServiceType{}
	for _, st := range m.serviceTypes {
		out = append(out, st)
	}
	return out, nil
}

func (m *memoryRepo) GetServiceType(_ context.Context, id uuid.UUID) (ServiceType, error) {
	st, ok := m.serviceTypes[id]
	if !ok {
		return ServiceType{}, ErrServiceTypeNotFound
	}
	return st, nil
}

func (m *memoryRepo) SaveServiceType(_ context.Context, st ServiceType) error {
	for _, l := range st.Lines {
		if _, ok := m.products[l.ProductID]; !ok {
			return ErrProductNotFound
		}
	}
	m.serviceTypes[st.ID] = st
	return nil
}

func (m *memoryRepo) DeleteServiceType(_ context.Context, id uuid.UUID) error {
	if _, ok := m.serviceTypes[id]; !ok {
		return ErrServiceTypeNotFound
	}
	delete(m.serviceTypes, id)
	return nil
}

func TestResetDefaultCategories(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, ServiceConfig{})
	ctx := context.Background()

	_, err := svc.ResetDefaultCategories(ctx, "")
	require.ErrorIs(t, err, shared.ErrUnauthorized)

	custom, err := svc.CreateCategory(ctx, CategoryInput{Name: "Acrílico", Prefix: "ac"}, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "AC", custom.Prefix)
	_, err = svc.CreateCategory(ctx, CategoryInput{Name: "Gel", Prefix: "XX"}, "user-1")
	require.NoError(t, err)

	first, err := svc.ResetDefaultCategories(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, first, 10)

	second, err := svc.ResetDefaultCategories(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, second, 10, "reset is an upsert")

	prefixes := map[string]string{}
	for _, c := range second {
		prefixes[c.Name] = c.Prefix
	}
	assert.Equal(t, "GL", prefixes["Gel"])
	assert.Equal(t, "PQ", prefixes["Preparador"])
	assert.Equal(t, "AC", prefixes["Acrílico"])

	others, err := svc.ListCategories(ctx, "user-2")
	require.NoError(t, err)
	assert.Empty(t, others)
}

func TestCreateProductCodeAndFactor(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, ServiceConfig{})
	ctx := context.Background()

	pack := 12.0
	_, err := svc.CreateUnit(ctx, UnitInput{Name: "Pacote", Abbreviation: "pct", DefaultValue: &pack}, "")
	require.NoError(t, err)
	gel, err := svc.CreateCategory(ctx, CategoryInput{Name: "Gel", Prefix: "GL"}, "user-1")
	require.NoError(t, err)

	a, err := svc.CreateProduct(ctx, ProductInput{Name: "Gel Builder", CategoryID: &gel.ID, Unit: "pct", CurrentQuantity: 5}, "")
	require.NoError(t, err)
	assert.Equal(t, "GL-001", a.Code)
	assert.InDelta(t, 12, a.ConversionFactor, 0.0001)
	assert.InDelta(t, 5, a.CurrentQuantity, 0.0001)

	b, err := svc.CreateProduct(ctx, ProductInput{Name: "Gel Top", CategoryID: &gel.ID, Unit: "un", ConversionFactor: 3}, "")
	require.NoError(t, err)
	assert.Equal(t, "GL-002", b.Code)
	assert.InDelta(t, 3, b.ConversionFactor, 0.0001)

	c, err := svc.CreateProduct(ctx, ProductInput{Name: "Algodão", Unit: "g"}, "")
	require.NoError(t, err)
	assert.Equal(t, "PR-001", c.Code)
	assert.InDelta(t, 1, c.ConversionFactor, 0.0001)

	_, err = svc.CreateProduct(ctx, ProductInput{Name: "", Unit: "un", MinQuantity: -1}, "")
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "name")
	assert.Contains(t, verr.Fields, "min_quantity")
}

func TestUpdateProductKeepsLedgerColumns(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, ServiceConfig{})
	ctx := context.Background()

	p, err := svc.CreateProduct(ctx, ProductInput{Name: "Lixa", Unit: "un", ConversionFactor: 1, CurrentQuantity: 7}, "")
	require.NoError(t, err)
	cost := 1.5
	stored := repo.products[p.ID]
	stored.LastUnitCost = &cost
	repo.products[p.ID] = stored

	updated, err := svc.UpdateProduct(ctx, p.ID, ProductInput{Name: "Lixa 180", Unit: "un", ConversionFactor: 2, CurrentQuantity: 999, MinQuantity: 3}, "")
	require.NoError(t, err)
	assert.Equal(t, "Lixa 180", updated.Name)

	after := repo.products[p.ID]
	assert.InDelta(t, 7, after.CurrentQuantity, 0.0001)
	require.NotNil(t, after.LastUnitCost)
	assert.InDelta(t, 1.5, *after.LastUnitCost, 0.0001)
	assert.InDelta(t, 2, after.ConversionFactor, 0.0001)

	_, err = svc.UpdateProduct(ctx, uuid.New(), ProductInput{Name: "x", Unit: "un"}, "")
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestUpdateProductWithoutFactorKeepsStoredFactor(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, ServiceConfig{})
	ctx := context.Background()

	box := 10.0
	_, err := svc.CreateUnit(ctx, UnitInput{Name: "Caixa", Abbreviation: "cx", DefaultValue: &box}, "")
	require.NoError(t, err)
	p, err := svc.CreateProduct(ctx, ProductInput{Name: "Lixa", Unit: "cx", ConversionFactor: 15}, "")
	require.NoError(t, err)

	updated, err := svc.UpdateProduct(ctx, p.ID, ProductInput{Name: "Lixa 100", Unit: "cx", MinQuantity: 2}, "")
	require.NoError(t, err)
	assert.InDelta(t, 15, updated.ConversionFactor, 0.0001)
	assert.InDelta(t, 15, repo.products[p.ID].ConversionFactor, 0.0001)

	updated, err = svc.UpdateProduct(ctx, p.ID, ProductInput{Name: "Lixa 100", Unit: "cx", ConversionFactor: 20}, "")
	require.NoError(t, err)
	assert.InDelta(t, 20, updated.ConversionFactor, 0.0001)
}

func TestLowStockIncludesEqualToMinimum(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, ServiceConfig{})
	ctx := context.Background()

	for _, in := range []ProductInput{
		{Name: "Abaixo", Unit: "un", CurrentQuantity: 1, MinQuantity: 2},
		{Name: "Igual", Unit: "un", CurrentQuantity: 2, MinQuantity: 2},
		{Name: "Acima", Unit: "un", CurrentQuantity: 3, MinQuantity: 2},
	} {
		_, err := svc.CreateProduct(ctx, in, "")
		require.NoError(t, err)
	}
	low, err := svc.LowStockProducts(ctx)
	require.NoError(t, err)
	require.Len(t, low, 2)
	assert.Equal(t, "Abaixo", low[0].Name)
	assert.Equal(t, "Igual", low[1].Name)
}

func TestProductListCachedUntilMutation(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := newMemoryRepo()
	svc := NewService(repo, ServiceConfig{Cache: readcache.New(client, 0, nil)})
	ctx := context.Background()

	_, err := svc.CreateProduct(ctx, ProductInput{Name: "Base", Unit: "un"}, "")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		list, err := svc.ListProducts(ctx, ProductFilter{})
		require.NoError(t, err)
		require.Len(t, list, 1)
	}
	assert.Equal(t, 1, repo.productLists)

	_, err = svc.CreateProduct(ctx, ProductInput{Name: "Top", Unit: "un"}, "")
	require.NoError(t, err)
	list, err := svc.ListProducts(ctx, ProductFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 2)
	assert.Equal(t, 2, repo.productLists)
}

func TestServiceTypeBOMIsReplaced(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, ServiceConfig{})
	ctx := context.Background()

	a, err := svc.CreateProduct(ctx, ProductInput{Name: "Gel", Unit: "un"}, "")
	require.NoError(t, err)
	b, err := svc.CreateProduct(ctx, ProductInput{Name: "Lixa", Unit: "un"}, "")
	require.NoError(t, err)

	st, err := svc.CreateServiceType(ctx, ServiceTypeInput{Name: "Alongamento", Price: 150, Lines: []BOMLineInput{
		{ProductID: a.ID, DefaultQuantity: 2, UseUnitSystem: true},
		{ProductID: b.ID, DefaultQuantity: 1},
	}}, "")
	require.NoError(t, err)
	require.Len(t, st.Lines, 2)

	updated, err := svc.UpdateServiceType(ctx, st.ID, ServiceTypeInput{Name: "Alongamento", Price: 160, Lines: []BOMLineInput{
		{ProductID: b.ID, DefaultQuantity: 3},
	}}, "")
	require.NoError(t, err)
	require.Len(t, updated.Lines, 1)
	assert.Equal(t, b.ID, updated.Lines[0].ProductID)
	assert.InDelta(t, 160, updated.Price, 0.0001)

	_, err = svc.CreateServiceType(ctx, ServiceTypeInput{Name: "Dup", Price: 10, Lines: []BOMLineInput{
		{ProductID: a.ID, DefaultQuantity: 1},
		{ProductID: a.ID, DefaultQuantity: 2},
	}}, "")
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.CreateServiceType(ctx, ServiceTypeInput{Name: "Free", Price: 0}, "")
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.UpdateServiceType(ctx, uuid.New(), ServiceTypeInput{Name: "X", Price: 1}, "")
	require.ErrorIs(t, err, shared.ErrNotFound)
}
