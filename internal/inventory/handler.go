package inventory

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/glossbook/glossbook/internal/platform/httpx"
	"github.com/glossbook/glossbook/internal/shared"
)

// Handler wires HTTP endpoints for the stock ledger.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/entries", h.listEntries)
	r.Post("/entries", h.recordEntry)
	r.Delete("/entries/{id}", h.deleteEntry)
	r.Get("/valuation", h.valuation)
}

func (h *Handler) listEntries(w http.ResponseWriter, r *http.Request) {
	var filter EntryFilter
	var err error
	if filter.ProductID, err = httpx.QueryUUID(r, "product_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.StartDate, err = httpx.QueryDate(r, "start_date"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.EndDate, err = httpx.QueryDate(r, "end_date"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	entries, err := h.service.ListEntries(r.Context(), filter)
	if err != nil {
		h.fail(w, "list entries", err)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}

func (h *Handler) recordEntry(w http.ResponseWriter, r *http.Request) {
	var input EntryInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input.ActorID = shared.UserIDFromContext(r.Context())
	input.IdempotencyKey = r.Header.Get("Idempotency-Key")
	result, err := h.service.RecordEntry(r.Context(), input)
	if err != nil {
		h.fail(w, "record entry", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) deleteEntry(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(chi.URLParam(r, "id"), "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.DeleteStockEntry(r.Context(), id, shared.UserIDFromContext(r.Context()))
	if err != nil {
		h.fail(w, "delete entry", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) valuation(w http.ResponseWriter, r *http.Request) {
	v, err := h.service.StockValuation(r.Context())
	if err != nil {
		h.fail(w, "valuation", err)
		return
	}
	httpx.JSON(w, http.StatusOK, v)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Error("inventory "+op, slog.Any("error", err))
	httpx.RespondError(w, err)
}
