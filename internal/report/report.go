// Package report turns persisted sale lines into profit and loss figures.
//
// Cost is taken from the product as it is today while the selling price is
// the snapshot stored on the sale item, so historical profit moves when a
// product's cost price is edited after the sale.
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"dukapos/internal/cache"
	"dukapos/internal/domain"
	"dukapos/internal/logging"
	"dukapos/internal/store"
)

const (
	DateLayout       = "2006-01-02"
	DefaultRangeDays = 7
)

type LineSource interface {
	ListSaleLines(ctx context.Context, from time.Time, to time.Time) ([]domain.SaleLineRecord, error)
}

type Engine struct {
	source   LineSource
	cache    cache.ReportCache
	cacheTTL time.Duration
	group    singleflight.Group
	logger   *zap.Logger
	now      func() time.Time
}

func NewEngine(source LineSource, cacheStore cache.ReportCache, cacheTTL time.Duration, logger *zap.Logger) *Engine {
	if cacheStore == nil {
		cacheStore = cache.NoopReportCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}

	return &Engine{
		source:   source,
		cache:    cacheStore,
		cacheTTL: cacheTTL,
		logger:   logging.OrNop(logger).Named("report"),
		now:      time.Now,
	}
}

// DefaultRange is the last seven days up to and including today.
func (e *Engine) DefaultRange() (time.Time, time.Time) {
	today := startOfDay(e.now().UTC())
	return today.AddDate(0, 0, -DefaultRangeDays), today
}

// Generate builds the report for the calendar dates [from, to], both
// inclusive. Results are cached per sale generation and concurrent identical
// requests share one computation.
func (e *Engine) Generate(ctx context.Context, from time.Time, to time.Time) (domain.ProfitLossReport, error) {
	from = startOfDay(from.UTC())
	to = startOfDay(to.UTC())
	if from.After(to) {
		return domain.ProfitLossReport{}, fmt.Errorf("%w: from date %s is after to date %s", store.ErrInvalidInput, from.Format(DateLayout), to.Format(DateLayout))
	}

	gen, err := e.cache.Generation(ctx)
	cacheable := err == nil
	if err != nil {
		e.logger.Warn("report cache generation unavailable", zap.Error(err))
	}

	key := buildCacheKey(gen, from, to)
	if cacheable {
		if cached, ok, err := e.cache.Get(ctx, key); err == nil && ok {
			return *cached, nil
		}
	}

	val, err, _ := e.group.Do(key, func() (any, error) {
		lines, err := e.source.ListSaleLines(ctx, from, endOfDay(to))
		if err != nil {
			return nil, err
		}
		result := Aggregate(from, to, lines)
		if cacheable {
			if err := e.cache.Set(ctx, key, &result, e.cacheTTL); err != nil {
				e.logger.Debug("report cache write failed", zap.Error(err))
			}
		}
		return result, nil
	})
	if err != nil {
		return domain.ProfitLossReport{}, fmt.Errorf("load sale lines: %w", err)
	}
	return val.(domain.ProfitLossReport), nil
}

// Invalidate retires every cached report.
func (e *Engine) Invalidate(ctx context.Context) error {
	return e.cache.Invalidate(ctx)
}

// Aggregate reduces sale lines to per-line figures and totals. It keeps the
// order of the input.
func Aggregate(from time.Time, to time.Time, records []domain.SaleLineRecord) domain.ProfitLossReport {
	result := domain.ProfitLossReport{
		From:  from,
		To:    to,
		Lines: make([]domain.ProfitLossLine, 0, len(records)),
		Totals: domain.ProfitLossTotals{
			Revenue: decimal.Zero,
			Cost:    decimal.Zero,
			Profit:  decimal.Zero,
		},
	}

	for _, rec := range records {
		qty := decimal.NewFromInt(int64(rec.Quantity))
		revenue := rec.UnitPrice.Mul(qty)
		cost := rec.CurrentCostPrice.Mul(qty)
		profit := revenue.Sub(cost)

		result.Lines = append(result.Lines, domain.ProfitLossLine{
			SaleDate:     rec.SaleDate,
			ProductName:  rec.ProductName,
			Quantity:     rec.Quantity,
			BuyingPrice:  rec.CurrentCostPrice,
			SellingPrice: rec.UnitPrice,
			Revenue:      revenue,
			Cost:         cost,
			Profit:       profit,
		})
		result.Totals.Revenue = result.Totals.Revenue.Add(revenue)
		result.Totals.Cost = result.Totals.Cost.Add(cost)
		result.Totals.Profit = result.Totals.Profit.Add(profit)
	}

	return result
}

func buildCacheKey(gen int64, from time.Time, to time.Time) string {
	return fmt.Sprintf("%d:%s:%s", gen, from.Format(DateLayout), to.Format(DateLayout))
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func endOfDay(t time.Time) time.Time {
	return startOfDay(t).AddDate(0, 0, 1).Add(-time.Nanosecond)
}
