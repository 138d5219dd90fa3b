package finance

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/glossbook/glossbook/internal/platform/httpx"
	"github.com/glossbook/glossbook/internal/shared"
)

// Handler wires HTTP endpoints for the financial ledger.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the finance handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers finance routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/records", h.listRecords)
	r.Get("/records/export.csv", h.exportRecords)
	r.Post("/records", h.createRecord)
	r.Delete("/records/{id}", h.deleteRecord)
	r.Get("/summary", h.summary)
	r.Get("/summary/monthly", h.monthlySummary)
	r.Get("/trend", h.trend)
}

type summaryResponse struct {
	Summary
	MarginPercent float64 `json:"margin_percent"`
}

func (h *Handler) listRecords(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	records, err := h.service.FetchRecords(r.Context(), filter)
	if err != nil {
		h.fail(w, "list records", err)
		return
	}
	httpx.JSON(w, http.StatusOK, records)
}

func (h *Handler) exportRecords(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	records, err := h.service.FetchRecords(r.Context(), filter)
	if err != nil {
		h.fail(w, "export records", err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="financial-records.csv"`)
	if err := WriteRecordsCSV(w, records); err != nil {
		h.logger.Warn("write csv", slog.Any("error", err))
	}
}

func (h *Handler) createRecord(w http.ResponseWriter, r *http.Request) {
	var input RecordInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	record, err := h.service.CreateRecord(r.Context(), input, shared.UserIDFromContext(r.Context()))
	if err != nil {
		h.fail(w, "create record", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, record)
}

func (h *Handler) deleteRecord(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(chi.URLParam(r, "id"), "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeleteRecord(r.Context(), id, shared.UserIDFromContext(r.Context())); err != nil {
		h.fail(w, "delete record", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	s, err := h.service.Summary(r.Context(), filter)
	if err != nil {
		h.fail(w, "summary", err)
		return
	}
	httpx.JSON(w, http.StatusOK, summaryResponse{Summary: s, MarginPercent: s.MarginPercent()})
}

func (h *Handler) monthlySummary(w http.ResponseWriter, r *http.Request) {
	now := h.service.now()
	year, err := queryInt(r, "year", now.Year())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	month, err := queryInt(r, "month", int(now.Month()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	s, err := h.service.MonthlySummary(r.Context(), year, time.Month(month))
	if err != nil {
		h.fail(w, "monthly summary", err)
		return
	}
	httpx.JSON(w, http.StatusOK, s)
}

func (h *Handler) trend(w http.ResponseWriter, r *http.Request) {
	months, err := queryInt(r, "months", 6)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	trend, err := h.service.MonthlyTrend(r.Context(), months)
	if err != nil {
		h.fail(w, "monthly trend", err)
		return
	}
	httpx.JSON(w, http.StatusOK, trend)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Error("finance "+op, slog.Any("error", err))
	httpx.RespondError(w, err)
}

func parseFilter(r *http.Request) (Filter, error) {
	var f Filter
	if raw := r.URL.Query().Get("type"); raw != "" {
		t := RecordType(raw)
		f.Type = &t
	}
	start, err := httpx.QueryDate(r, "start_date")
	if err != nil {
		return Filter{}, err
	}
	end, err := httpx.QueryDate(r, "end_date")
	if err != nil {
		return Filter{}, err
	}
	f.StartDate, f.EndDate = start, end
	return f, nil
}

func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, shared.NewValidationError(name, "must be an integer")
	}
	return v, nil
}
