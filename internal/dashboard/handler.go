// Package dashboard assembles the studio overview: the current month's
// results and trend, products running low, the stock value and the latest
// services.
package dashboard

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/glossbook/glossbook/internal/catalog"
	"github.com/glossbook/glossbook/internal/finance"
	"github.com/glossbook/glossbook/internal/inventory"
	"github.com/glossbook/glossbook/internal/platform/httpx"
	"github.com/glossbook/glossbook/internal/servicing"
	"github.com/glossbook/glossbook/internal/shared"
)

const (
	defaultTrendMonths = 6
	recentServices     = 5
	requestTimeout     = 5 * time.Second
)

// FinanceReader is the slice of the finance service the dashboard reads.
type FinanceReader interface {
	MonthlySummary(ctx context.Context, year int, month time.Month) (finance.MonthSummary, error)
	MonthlyTrend(ctx context.Context, n int) ([]finance.MonthSummary, error)
}

// StockReader lists products at or below their minimum.
type StockReader interface {
	LowStockProducts(ctx context.Context) ([]catalog.Product, error)
}

// ValuationReader prices the stock on hand.
type ValuationReader interface {
	StockValuation(ctx context.Context) (inventory.Valuation, error)
}

// ServiceReader lists executions, newest first.
type ServiceReader interface {
	ListServices(ctx context.Context, filter servicing.ExecutionFilter) ([]servicing.ExecutionView, error)
}

// Overview is the dashboard payload.
type Overview struct {
	AsOf          time.Time                 `json:"as_of"`
	Month         finance.MonthSummary      `json:"month"`
	MarginPercent float64                   `json:"margin_percent"`
	Trend         []finance.MonthSummary    `json:"trend"`
	LowStock      []catalog.Product         `json:"low_stock"`
	StockValue    float64                   `json:"stock_value"`
	Recent        []servicing.ExecutionView `json:"recent_services"`
}

// Handler serves the dashboard.
type Handler struct {
	logger    *slog.Logger
	finance   FinanceReader
	stock     StockReader
	valuation ValuationReader
	services  ServiceReader
	now       func() time.Time
}

// NewHandler constructs the dashboard handler.
func NewHandler(logger *slog.Logger, fin FinanceReader, stock StockReader, valuation ValuationReader, services ServiceReader) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, finance: fin, stock: stock, valuation: valuation, services: services, now: time.Now}
}

// MountRoutes registers dashboard routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.overview)
}

func (h *Handler) overview(w http.ResponseWriter, r *http.Request) {
	months := defaultTrendMonths
	if raw := r.URL.Query().Get("months"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > finance.MaxTrendMonths {
			httpx.RespondError(w, shared.NewValidationError("months", "must be between 1 and "+strconv.Itoa(finance.MaxTrendMonths)))
			return
		}
		months = v
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	overview, err := h.build(ctx, months)
	if err != nil {
		h.logger.Error("dashboard overview", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, overview)
}

func (h *Handler) build(ctx context.Context, months int) (Overview, error) {
	now := h.now()
	out := Overview{AsOf: now.UTC()}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		summary, err := h.finance.MonthlySummary(ctx, now.Year(), now.Month())
		if err != nil {
			return err
		}
		out.Month = summary
		out.MarginPercent = summary.MarginPercent()
		return nil
	})

	g.Go(func() error {
		trend, err := h.finance.MonthlyTrend(ctx, months)
		if err != nil {
			return err
		}
		out.Trend = trend
		return nil
	})

	g.Go(func() error {
		products, err := h.stock.LowStockProducts(ctx)
		if err != nil {
			return err
		}
		out.LowStock = products
		return nil
	})

	g.Go(func() error {
		valuation, err := h.valuation.StockValuation(ctx)
		if err != nil {
			return err
		}
		out.StockValue = valuation.Total
		return nil
	})

	g.Go(func() error {
		recent, err := h.services.ListServices(ctx, servicing.ExecutionFilter{Limit: recentServices})
		if err != nil {
			return err
		}
		out.Recent = recent
		return nil
	})

	if err := g.Wait(); err != nil {
		return Overview{}, err
	}
	if out.LowStock == nil {
		out.LowStock = []catalog.Product{}
	}
	if out.Recent == nil {
		out.Recent = []servicing.ExecutionView{}
	}
	return out, nil
}
