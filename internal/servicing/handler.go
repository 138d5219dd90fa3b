package servicing

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/glossbook/glossbook/internal/platform/httpx"
	"github.com/glossbook/glossbook/internal/shared"
)

// Handler wires HTTP endpoints for service executions.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs servicing handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers servicing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Delete("/{id}", h.delete)
	r.Get("/availability/{serviceTypeID}", h.availability)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	var filter ExecutionFilter
	var err error
	if filter.ServiceTypeID, err = httpx.QueryUUID(r, "service_type_id"); err != nil {
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
	services, err := h.service.ListServices(r.Context(), filter)
	if err != nil {
		h.fail(w, "list services", err)
		return
	}
	httpx.JSON(w, http.StatusOK, services)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var input ExecutionInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input.ActorID = shared.UserIDFromContext(r.Context())
	input.IdempotencyKey = r.Header.Get("Idempotency-Key")
	result, err := h.service.CreateService(r.Context(), input)
	if err != nil {
		h.fail(w, "create service", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(chi.URLParam(r, "id"), "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.DeleteService(r.Context(), id, shared.UserIDFromContext(r.Context()))
	if err != nil {
		h.fail(w, "delete service", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) availability(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(chi.URLParam(r, "serviceTypeID"), "service_type_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	availability, err := h.service.CheckAvailability(r.Context(), id)
	if err != nil {
		h.fail(w, "check availability", err)
		return
	}
	httpx.JSON(w, http.StatusOK, availability)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Error("servicing "+op, slog.Any("error", err))
	httpx.RespondError(w, err)
}
