package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/glossbook/glossbook/internal/readcache"
	"github.com/glossbook/glossbook/internal/shared"
)

// Repository persists catalog data.
type Repository interface {
	ListUnits(ctx context.Context) ([]Unit, error)
	FindUnit(ctx context.Context, nameOrAbbreviation string) (Unit, error)
	CreateUnit(ctx context.Context, unit Unit) error
	UpdateUnit(ctx context.Context, unit Unit) error
	DeleteUnit(ctx context.Context, id uuid.UUID) error

	ListBrands(ctx context.Context) ([]Brand, error)
	CreateBrand(ctx context.Context, brand Brand) error
	UpdateBrand(ctx context.Context, brand Brand) error
	DeleteBrand(ctx context.Context, id uuid.UUID) error

	ListCategories(ctx context.Context, ownerID string) ([]Category, error)
	GetCategory(ctx context.Context, id uuid.UUID) (Category, error)
	CreateCategory(ctx context.Context, category Category) error
	UpdateCategory(ctx context.Context, category Category) error
	DeleteCategory(ctx context.Context, id uuid.UUID) error
	UpsertCategories(ctx context.Context, categories []Category) error

	ListProducts(ctx context.Context, filter ProductFilter) ([]Product, error)
	GetProduct(ctx context.Context, id uuid.UUID) (Product, error)
	NextProductSequence(ctx context.Context, prefix string) (int, error)
	InsertProduct(ctx context.Context, product Product) error
	UpdateProduct(ctx context.Context, product Product) error
	DeleteProduct(ctx context.Context, id uuid.UUID) error

	ListServiceTypes(ctx context.Context) ([]ServiceType, error)
	GetServiceType(ctx context.Context, id uuid.UUID) (ServiceType, error)
	// SaveServiceType upserts the service type and replaces its BOM in one transaction.
	SaveServiceType(ctx context.Context, st ServiceType) error
	DeleteServiceType(ctx context.Context, id uuid.UUID) error
}

// Cache is the subset of the read cache used by the catalog.
type Cache interface {
	BuildKey(ctx context.Context, namespace string, parts ...string) (string, error)
	FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error
	Invalidate(ctx context.Context, namespaces ...string) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service implements catalog use cases.
type Service struct {
	repo     Repository
	cache    Cache
	audit    AuditPort
	logger   *slog.Logger
	validate *validator.Validate
	now      func() time.Time
}

// ServiceConfig groups optional collaborators.
type ServiceConfig struct {
	Cache  Cache
	Audit  AuditPort
	Logger *slog.Logger
}

// NewService builds Service.
func NewService(repo Repository, cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		cache:    cfg.Cache,
		audit:    cfg.Audit,
		logger:   logger,
		validate: shared.NewValidator(),
		now:      time.Now,
	}
}

// Units

func (s *Service) ListUnits(ctx context.Context) ([]Unit, error) {
	var out []Unit
	err := s.cached(ctx, readcache.NamespaceCatalog, &out, []string{"units"}, func(ctx context.Context) (any, error) {
		return s.repo.ListUnits(ctx)
	})
	return out, err
}

func (s *Service) CreateUnit(ctx context.Context, input UnitInput, actorID string) (Unit, error) {
	return s.saveUnit(ctx, uuid.New(), input, actorID, "unit.created")
}

func (s *Service) UpdateUnit(ctx context.Context, id uuid.UUID, input UnitInput, actorID string) (Unit, error) {
	return s.saveUnit(ctx, id, input, actorID, "unit.updated")
}

func (s *Service) saveUnit(ctx context.Context, id uuid.UUID, input UnitInput, actorID, action string) (Unit, error) {
	if err := shared.ValidateStruct(s.validate, input); err != nil {
		return Unit{}, err
	}
	unit := Unit{
		ID:           id,
		Name:         strings.TrimSpace(input.Name),
		Abbreviation: strings.TrimSpace(input.Abbreviation),
		DefaultValue: input.DefaultValue,
		CreatedAt:    s.now().UTC(),
	}
	save := s.repo.UpdateUnit
	if action == "unit.created" {
		save = s.repo.CreateUnit
	}
	if err := save(ctx, unit); err != nil {
		return Unit{}, err
	}
	s.changed(ctx, action, "unit", id, actorID, readcache.NamespaceCatalog)
	return unit, nil
}

func (s *Service) DeleteUnit(ctx context.Context, id uuid.UUID, actorID string) error {
	if err := s.repo.DeleteUnit(ctx, id); err != nil {
		return err
	}
	s.changed(ctx, "unit.deleted", "unit", id, actorID, readcache.NamespaceCatalog)
	return nil
}

// Brands

func (s *Service) ListBrands(ctx context.Context) ([]Brand, error) {
	var out []Brand
	err := s.cached(ctx, readcache.NamespaceCatalog, &out, []string{"brands"}, func(ctx context.Context) (any, error) {
		return s.repo.ListBrands(ctx)
	})
	return out, err
}

func (s *Service) CreateBrand(ctx context.Context, input BrandInput, actorID string) (Brand, error) {
	return s.saveBrand(ctx, uuid.New(), input, actorID, "brand.created")
}

func (s *Service) UpdateBrand(ctx context.Context, id uuid.UUID, input BrandInput, actorID string) (Brand, error) {
	return s.saveBrand(ctx, id, input, actorID, "brand.updated")
}

func (s *Service) saveBrand(ctx context.Context, id uuid.UUID, input BrandInput, actorID, action string) (Brand, error) {
	if err := shared.ValidateStruct(s.validate, input); err != nil {
		return Brand{}, err
	}
	brand := Brand{ID: id, Name: strings.TrimSpace(input.Name), CreatedAt: s.now().UTC()}
	save := s.repo.UpdateBrand
	if action == "brand.created" {
		save = s.repo.CreateBrand
	}
	if err := save(ctx, brand); err != nil {
		return Brand{}, err
	}
	// product lists embed the brand name
	s.changed(ctx, action, "brand", id, actorID, readcache.NamespaceCatalog, readcache.NamespaceProducts)
	return brand, nil
}

func (s *Service) DeleteBrand(ctx context.Context, id uuid.UUID, actorID string) error {
	if err := s.repo.DeleteBrand(ctx, id); err != nil {
		return err
	}
	s.changed(ctx, "brand.deleted", "brand", id, actorID, readcache.NamespaceCatalog, readcache.NamespaceProducts)
	return nil
}

// Categories

func (s *Service) ListCategories(ctx context.Context, ownerID string) ([]Category, error) {
	var out []Category
	err := s.cached(ctx, readcache.NamespaceCatalog, &out, []string{"categories", ownerID}, func(ctx context.Context) (any, error) {
		return s.repo.ListCategories(ctx, ownerID)
	})
	return out, err
}

func (s *Service) CreateCategory(ctx context.Context, input CategoryInput, ownerID string) (Category, error) {
	return s.saveCategory(ctx, uuid.New(), input, ownerID, "category.created")
}

func (s *Service) UpdateCategory(ctx context.Context, id uuid.UUID, input CategoryInput, ownerID string) (Category, error) {
	existing, err := s.repo.GetCategory(ctx, id)
	if err != nil {
		return Category{}, err
	}
	if existing.OwnerID != ownerID {
		return Category{}, ErrCategoryNotFound
	}
	return s.saveCategory(ctx, id, input, ownerID, "category.updated")
}

func (s *Service) saveCategory(ctx context.Context, id uuid.UUID, input CategoryInput, ownerID, action string) (Category, error) {
	if err := shared.ValidateStruct(s.validate, input); err != nil {
		return Category{}, err
	}
	category := Category{
		ID:        id,
		OwnerID:   ownerID,
		Name:      strings.TrimSpace(input.Name),
		Prefix:    strings.ToUpper(input.Prefix),
		CreatedAt: s.now().UTC(),
	}
	save := s.repo.UpdateCategory
	if action == "category.created" {
		save = s.repo.CreateCategory
	}
	if err := save(ctx, category); err != nil {
		return Category{}, err
	}
	s.changed(ctx, action, "category", id, ownerID, readcache.NamespaceCatalog, readcache.NamespaceProducts)
	return category, nil
}

func (s *Service) DeleteCategory(ctx context.Context, id uuid.UUID, ownerID string) error {
	existing, err := s.repo.GetCategory(ctx, id)
	if err != nil {
		return err
	}
	if existing.OwnerID != ownerID {
		return ErrCategoryNotFound
	}
	if err := s.repo.DeleteCategory(ctx, id); err != nil {
		return err
	}
	s.changed(ctx, "category.deleted", "category", id, ownerID, readcache.NamespaceCatalog, readcache.NamespaceProducts)
	return nil
}

// ResetDefaultCategories restores the starter categories of the signed-in
// user. Existing categories with the same name keep their id and get the
// default prefix back; other categories are left alone.
func (s *Service) ResetDefaultCategories(ctx context.Context, ownerID string) ([]Category, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, ErrOwnerRequired
	}
	now := s.now().UTC()
	defaults := make([]Category, 0, len(DefaultCategories))
	for _, d := range DefaultCategories {
		defaults = append(defaults, Category{ID: uuid.New(), OwnerID: ownerID, Name: d.Name, Prefix: d.Prefix, CreatedAt: now})
	}
	if err := s.repo.UpsertCategories(ctx, defaults); err != nil {
		return nil, fmt.Errorf("catalog: reset categories: %w", err)
	}
	s.invalidate(ctx, readcache.NamespaceCatalog)
	s.record(ctx, shared.AuditLog{ActorID: ownerID, Action: "category.reset_defaults", Entity: "category", EntityID: ownerID, Meta: map[string]any{"count": len(defaults)}})
	return s.repo.ListCategories(ctx, ownerID)
}

// Products

// ListProducts lists products ordered by name.
func (s *Service) ListProducts(ctx context.Context, filter ProductFilter) ([]Product, error) {
	filter.Search = strings.TrimSpace(filter.Search)
	category := "-"
	if filter.CategoryID != nil {
		category = filter.CategoryID.String()
	}
	var out []Product
	parts := []string{"list", fmt.Sprintf("low=%t", filter.LowStockOnly), "cat=" + category, "q=" + strings.ToLower(filter.Search)}
	err := s.cached(ctx, readcache.NamespaceProducts, &out, parts, func(ctx context.Context) (any, error) {
		return s.repo.ListProducts(ctx, filter)
	})
	return out, err
}

// LowStockProducts lists products at or below their minimum quantity.
func (s *Service) LowStockProducts(ctx context.Context) ([]Product, error) {
	return s.ListProducts(ctx, ProductFilter{LowStockOnly: true})
}

func (s *Service) GetProduct(ctx context.Context, id uuid.UUID) (Product, error) {
	return s.repo.GetProduct(ctx, id)
}

// CreateProduct stores a new product with a generated code.
func (s *Service) CreateProduct(ctx context.Context, input ProductInput, actorID string) (Product, error) {
	if err := shared.ValidateStruct(s.validate, input); err != nil {
		return Product{}, err
	}
	factor, err := s.resolveFactor(ctx, input)
	if err != nil {
		return Product{}, err
	}
	code, err := s.nextCode(ctx, input.CategoryID)
	if err != nil {
		return Product{}, err
	}
	now := s.now().UTC()
	product := Product{
		ID:               uuid.New(),
		Code:             code,
		Name:             strings.TrimSpace(input.Name),
		BrandID:          input.BrandID,
		CategoryID:       input.CategoryID,
		Unit:             strings.TrimSpace(input.Unit),
		ConversionFactor: factor,
		CurrentQuantity:  input.CurrentQuantity,
		MinQuantity:      input.MinQuantity,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.repo.InsertProduct(ctx, product); err != nil {
		return Product{}, err
	}
	s.changed(ctx, "product.created", "product", product.ID, actorID, readcache.NamespaceProducts)
	return product, nil
}

// UpdateProduct changes descriptive fields. Stock quantity and last unit
// cost are owned by the ledger and are never written here.
func (s *Service) UpdateProduct(ctx context.Context, id uuid.UUID, input ProductInput, actorID string) (Product, error) {
	if err := shared.ValidateStruct(s.validate, input); err != nil {
		return Product{}, err
	}
	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return Product{}, err
	}
	// an omitted factor keeps the stored one
	factor := product.ConversionFactor
	if input.ConversionFactor > 0 || factor <= 0 {
		if factor, err = s.resolveFactor(ctx, input); err != nil {
			return Product{}, err
		}
	}
	if !sameCategory(product.CategoryID, input.CategoryID) {
		if product.Code, err = s.nextCode(ctx, input.CategoryID); err != nil {
			return Product{}, err
		}
	}
	product.Name = strings.TrimSpace(input.Name)
	product.BrandID = input.BrandID
	product.CategoryID = input.CategoryID
	product.Unit = strings.TrimSpace(input.Unit)
	product.ConversionFactor = factor
	product.MinQuantity = input.MinQuantity
	product.UpdatedAt = s.now().UTC()
	if err := s.repo.UpdateProduct(ctx, product); err != nil {
		return Product{}, err
	}
	s.changed(ctx, "product.updated", "product", id, actorID, readcache.NamespaceProducts, readcache.NamespaceServices)
	return product, nil
}

func (s *Service) DeleteProduct(ctx context.Context, id uuid.UUID, actorID string) error {
	if err := s.repo.DeleteProduct(ctx, id); err != nil {
		return err
	}
	s.changed(ctx, "product.deleted", "product", id, actorID, readcache.NamespaceProducts)
	return nil
}

func (s *Service) resolveFactor(ctx context.Context, input ProductInput) (float64, error) {
	if input.ConversionFactor > 0 {
		return input.ConversionFactor, nil
	}
	unit, err := s.repo.FindUnit(ctx, strings.TrimSpace(input.Unit))
	switch {
	case err == nil && unit.DefaultValue != nil && *unit.DefaultValue > 0:
		return *unit.DefaultValue, nil
	case err == nil, isNotFound(err):
		return 1, nil
	default:
		return 0, err
	}
}

func (s *Service) nextCode(ctx context.Context, categoryID *uuid.UUID) (string, error) {
	prefix := "PR"
	if categoryID != nil {
		category, err := s.repo.GetCategory(ctx, *categoryID)
		if err != nil {
			return "", err
		}
		prefix = category.Prefix
	}
	seq, err := s.repo.NextProductSequence(ctx, prefix)
	if err != nil {
		return "", fmt.Errorf("catalog: product code: %w", err)
	}
	return fmt.Sprintf("%s-%03d", prefix, seq), nil
}

// Service types

// ListServiceTypes is not cached: its lines embed live stock quantities.
func (s *Service) ListServiceTypes(ctx context.Context) ([]ServiceType, error) {
	return s.repo.ListServiceTypes(ctx)
}

func (s *Service) GetServiceType(ctx context.Context, id uuid.UUID) (ServiceType, error) {
	return s.repo.GetServiceType(ctx, id)
}

func (s *Service) CreateServiceType(ctx context.Context, input ServiceTypeInput, actorID string) (ServiceType, error) {
	st, err := s.buildServiceType(uuid.New(), input)
	if err != nil {
		return ServiceType{}, err
	}
	st.CreatedAt = s.now().UTC()
	if err := s.repo.SaveServiceType(ctx, st); err != nil {
		return ServiceType{}, err
	}
	s.changed(ctx, "service_type.created", "service_type", st.ID, actorID, readcache.NamespaceServices)
	return s.repo.GetServiceType(ctx, st.ID)
}

// UpdateServiceType replaces name, price and the whole BOM.
func (s *Service) UpdateServiceType(ctx context.Context, id uuid.UUID, input ServiceTypeInput, actorID string) (ServiceType, error) {
	existing, err := s.repo.GetServiceType(ctx, id)
	if err != nil {
		return ServiceType{}, err
	}
	st, err := s.buildServiceType(id, input)
	if err != nil {
		return ServiceType{}, err
	}
	st.CreatedAt = existing.CreatedAt
	if err := s.repo.SaveServiceType(ctx, st); err != nil {
		return ServiceType{}, err
	}
	s.changed(ctx, "service_type.updated", "service_type", id, actorID, readcache.NamespaceServices)
	return s.repo.GetServiceType(ctx, id)
}

func (s *Service) DeleteServiceType(ctx context.Context, id uuid.UUID, actorID string) error {
	if err := s.repo.DeleteServiceType(ctx, id); err != nil {
		return err
	}
	s.changed(ctx, "service_type.deleted", "service_type", id, actorID, readcache.NamespaceServices)
	return nil
}

func (s *Service) buildServiceType(id uuid.UUID, input ServiceTypeInput) (ServiceType, error) {
	if err := shared.ValidateStruct(s.validate, input); err != nil {
		return ServiceType{}, err
	}
	seen := make(map[uuid.UUID]struct{}, len(input.Lines))
	lines := make([]BOMLine, 0, len(input.Lines))
	for _, l := range input.Lines {
		if _, dup := seen[l.ProductID]; dup {
			return ServiceType{}, shared.NewValidationError("lines", "product "+l.ProductID.String()+" listed more than once")
		}
		seen[l.ProductID] = struct{}{}
		lines = append(lines, BOMLine{ProductID: l.ProductID, DefaultQuantity: l.DefaultQuantity, UseUnitSystem: l.UseUnitSystem})
	}
	return ServiceType{ID: id, Name: strings.TrimSpace(input.Name), Price: input.Price, Lines: lines}, nil
}

func (s *Service) changed(ctx context.Context, action, entity string, id uuid.UUID, actorID string, namespaces ...string) {
	s.invalidate(ctx, namespaces...)
	s.record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: entity, EntityID: id.String()})
}

func (s *Service) invalidate(ctx context.Context, namespaces ...string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, namespaces...); err != nil {
		s.logger.Warn("catalog cache invalidate", slog.Any("error", err))
	}
}

func (s *Service) record(ctx context.Context, log shared.AuditLog) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, log); err != nil {
		s.logger.Warn("catalog audit", slog.String("action", log.Action), slog.Any("error", err))
	}
}

// cached reads through the versioned cache; without one it round-trips the
// loader result through JSON so callers see the same shape either way.
func (s *Service) cached(ctx context.Context, namespace string, dest any, parts []string, loader func(context.Context) (any, error)) error {
	if s.cache != nil {
		key, err := s.cache.BuildKey(ctx, namespace, parts...)
		if err == nil {
			return s.cache.FetchJSON(ctx, key, dest, loader)
		}
		s.logger.Warn("catalog cache key", slog.Any("error", err))
	}
	value, err := loader(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

func sameCategory(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
