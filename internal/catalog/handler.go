package catalog

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/glossbook/glossbook/internal/platform/httpx"
	"github.com/glossbook/glossbook/internal/shared"
)

// Handler wires HTTP endpoints for the catalog.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the catalog handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/units", func(r chi.Router) {
		r.Get("/", h.listUnits)
		r.Post("/", h.createUnit)
		r.Put("/{id}", h.updateUnit)
		r.Delete("/{id}", h.deleteUnit)
	})
	r.Route("/brands", func(r chi.Router) {
		r.Get("/", h.listBrands)
		r.Post("/", h.createBrand)
		r.Put("/{id}", h.updateBrand)
		r.Delete("/{id}", h.deleteBrand)
	})
	r.Route("/categories", func(r chi.Router) {
		r.Get("/", h.listCategories)
		r.Post("/", h.createCategory)
		r.Post("/defaults", h.resetCategories)
		r.Put("/{id}", h.updateCategory)
		r.Delete("/{id}", h.deleteCategory)
	})
	r.Route("/products", func(r chi.Router) {
		r.Get("/", h.listProducts)
		r.Post("/", h.createProduct)
		r.Get("/{id}", h.getProduct)
		r.Put("/{id}", h.updateProduct)
		r.Delete("/{id}", h.deleteProduct)
	})
	r.Route("/service-types", func(r chi.Router) {
		r.Get("/", h.listServiceTypes)
		r.Post("/", h.createServiceType)
		r.Get("/{id}", h.getServiceType)
		r.Put("/{id}", h.updateServiceType)
		r.Delete("/{id}", h.deleteServiceType)
	})
}

func (h *Handler) listUnits(w http.ResponseWriter, r *http.Request) {
	units, err := h.service.ListUnits(r.Context())
	h.respond(w, "list units", http.StatusOK, units, err)
}

func (h *Handler) createUnit(w http.ResponseWriter, r *http.Request) {
	var input UnitInput
	if !decode(w, r, &input) {
		return
	}
	unit, err := h.service.CreateUnit(r.Context(), input, actor(r))
	h.respond(w, "create unit", http.StatusCreated, unit, err)
}

func (h *Handler) updateUnit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	var input UnitInput
	if !ok || !decode(w, r, &input) {
		return
	}
	unit, err := h.service.UpdateUnit(r.Context(), id, input, actor(r))
	h.respond(w, "update unit", http.StatusOK, unit, err)
}

func (h *Handler) deleteUnit(w http.ResponseWriter, r *http.Request) {
	if id, ok := pathID(w, r); ok {
		h.noContent(w, "delete unit", h.service.DeleteUnit(r.Context(), id, actor(r)))
	}
}

func (h *Handler) listBrands(w http.ResponseWriter, r *http.Request) {
	brands, err := h.service.ListBrands(r.Context())
	h.respond(w, "list brands", http.StatusOK, brands, err)
}

func (h *Handler) createBrand(w http.ResponseWriter, r *http.Request) {
	var input BrandInput
	if !decode(w, r, &input) {
		return
	}
	brand, err := h.service.CreateBrand(r.Context(), input, actor(r))
	h.respond(w, "create brand", http.StatusCreated, brand, err)
}

func (h *Handler) updateBrand(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	var input BrandInput
	if !ok || !decode(w, r, &input) {
		return
	}
	brand, err := h.service.UpdateBrand(r.Context(), id, input, actor(r))
	h.respond(w, "update brand", http.StatusOK, brand, err)
}

func (h *Handler) deleteBrand(w http.ResponseWriter, r *http.Request) {
	if id, ok := pathID(w, r); ok {
		h.noContent(w, "delete brand", h.service.DeleteBrand(r.Context(), id, actor(r)))
	}
}

func (h *Handler) listCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.service.ListCategories(r.Context(), actor(r))
	h.respond(w, "list categories", http.StatusOK, categories, err)
}

func (h *Handler) createCategory(w http.ResponseWriter, r *http.Request) {
	var input CategoryInput
	if !decode(w, r, &input) {
		return
	}
	category, err := h.service.CreateCategory(r.Context(), input, actor(r))
	h.respond(w, "create category", http.StatusCreated, category, err)
}

func (h *Handler) resetCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.service.ResetDefaultCategories(r.Context(), actor(r))
	h.respond(w, "reset categories", http.StatusOK, categories, err)
}

func (h *Handler) updateCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	var input CategoryInput
	if !ok || !decode(w, r, &input) {
		return
	}
	category, err := h.service.UpdateCategory(r.Context(), id, input, actor(r))
	h.respond(w, "update category", http.StatusOK, category, err)
}

func (h *Handler) deleteCategory(w http.ResponseWriter, r *http.Request) {
	if id, ok := pathID(w, r); ok {
		h.noContent(w, "delete category", h.service.DeleteCategory(r.Context(), id, actor(r)))
	}
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ProductFilter{Search: q.Get("q")}
	if raw := q.Get("low_stock"); raw != "" {
		low, err := strconv.ParseBool(raw)
		if err != nil {
			httpx.RespondError(w, shared.NewValidationError("low_stock", "must be a boolean"))
			return
		}
		filter.LowStockOnly = low
	}
	var err error
	if filter.CategoryID, err = httpx.QueryUUID(r, "category_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	products, err := h.service.ListProducts(r.Context(), filter)
	h.respond(w, "list products", http.StatusOK, products, err)
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	if id, ok := pathID(w, r); ok {
		product, err := h.service.GetProduct(r.Context(), id)
		h.respond(w, "get product", http.StatusOK, product, err)
	}
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	var input ProductInput
	if !decode(w, r, &input) {
		return
	}
	product, err := h.service.CreateProduct(r.Context(), input, actor(r))
	h.respond(w, "create product", http.StatusCreated, product, err)
}

func (h *Handler) updateProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	var input ProductInput
	if !ok || !decode(w, r, &input) {
		return
	}
	product, err := h.service.UpdateProduct(r.Context(), id, input, actor(r))
	h.respond(w, "update product", http.StatusOK, product, err)
}

func (h *Handler) deleteProduct(w http.ResponseWriter, r *http.Request) {
	if id, ok := pathID(w, r); ok {
		h.noContent(w, "delete product", h.service.DeleteProduct(r.Context(), id, actor(r)))
	}
}

func (h *Handler) listServiceTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.service.ListServiceTypes(r.Context())
	h.respond(w, "list service types", http.StatusOK, types, err)
}

func (h *Handler) getServiceType(w http.ResponseWriter, r *http.Request) {
	if id, ok := pathID(w, r); ok {
		st, err := h.service.GetServiceType(r.Context(), id)
		h.respond(w, "get service type", http.StatusOK, st, err)
	}
}

func (h *Handler) createServiceType(w http.ResponseWriter, r *http.Request) {
	var input ServiceTypeInput
	if !decode(w, r, &input) {
		return
	}
	st, err := h.service.CreateServiceType(r.Context(), input, actor(r))
	h.respond(w, "create service type", http.StatusCreated, st, err)
}

func (h *Handler) updateServiceType(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	var input ServiceTypeInput
	if !ok || !decode(w, r, &input) {
		return
	}
	st, err := h.service.UpdateServiceType(r.Context(), id, input, actor(r))
	h.respond(w, "update service type", http.StatusOK, st, err)
}

func (h *Handler) deleteServiceType(w http.ResponseWriter, r *http.Request) {
	if id, ok := pathID(w, r); ok {
		h.noContent(w, "delete service type", h.service.DeleteServiceType(r.Context(), id, actor(r)))
	}
}

func (h *Handler) respond(w http.ResponseWriter, op string, status int, body any, err error) {
	if err != nil {
		h.logger.Error("catalog "+op, slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, status, body)
}

func (h *Handler) noContent(w http.ResponseWriter, op string, err error) {
	if err != nil {
		h.logger.Error("catalog "+op, slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decode(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := httpx.DecodeJSON(r, dest); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := httpx.PathUUID(chi.URLParam(r, "id"), "id")
	if err != nil {
		httpx.RespondError(w, err)
		return uuid.Nil, false
	}
	return id, true
}

func actor(r *http.Request) string {
	return shared.UserIDFromContext(r.Context())
}
