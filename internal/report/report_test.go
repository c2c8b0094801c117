package report

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"dukapos/internal/cache"
	"dukapos/internal/domain"
	"dukapos/internal/store"
)

type countingSource struct {
	calls atomic.Int32
	lines []domain.SaleLineRecord
	from  time.Time
	to    time.Time
}

func (s *countingSource) ListSaleLines(_ context.Context, from time.Time, to time.Time) ([]domain.SaleLineRecord, error) {
	s.calls.Add(1)
	s.from, s.to = from, to
	return s.lines, nil
}

func money(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func day(v string) time.Time {
	t, err := time.Parse(DateLayout, v)
	if err != nil {
		panic(err)
	}
	return t
}

func TestAggregateComputesLinesAndTotals(t *testing.T) {
	records := []domain.SaleLineRecord{
		{SaleID: 1, SaleItemID: 1, SaleDate: day("2026-03-01"), ProductName: "Sukari", Quantity: 2, UnitPrice: money("15.00"), CurrentCostPrice: money("10.00")},
		{SaleID: 1, SaleItemID: 2, SaleDate: day("2026-03-01"), ProductName: "Chai", Quantity: 1, UnitPrice: money("8.50"), CurrentCostPrice: money("9.25")},
		{SaleID: 2, SaleItemID: 3, SaleDate: day("2026-03-02"), ProductName: "Sukari", Quantity: 3, UnitPrice: money("14.00"), CurrentCostPrice: money("10.00")},
	}

	got := Aggregate(day("2026-03-01"), day("2026-03-02"), records)
	require.Len(t, got.Lines, 3)

	assert.Equal(t, "Sukari", got.Lines[0].ProductName)
	assert.True(t, got.Lines[0].Revenue.Equal(money("30.00")))
	assert.True(t, got.Lines[0].Cost.Equal(money("20.00")))
	assert.True(t, got.Lines[0].Profit.Equal(money("10.00")))
	assert.True(t, got.Lines[1].Profit.Equal(money("-0.75")))

	assert.True(t, got.Totals.Revenue.Equal(money("80.50")))
	assert.True(t, got.Totals.Cost.Equal(money("59.25")))
	assert.True(t, got.Totals.Profit.Equal(got.Totals.Revenue.Sub(got.Totals.Cost)))

	sum := decimal.Zero
	for _, line := range got.Lines {
		sum = sum.Add(line.Profit)
	}
	assert.True(t, got.Totals.Profit.Equal(sum))
}

func TestAggregateEmptyRangeIsZero(t *testing.T) {
	got := Aggregate(day("2026-03-01"), day("2026-03-07"), nil)
	assert.NotNil(t, got.Lines)
	assert.Empty(t, got.Lines)
	assert.True(t, got.Totals.Revenue.IsZero())
	assert.True(t, got.Totals.Cost.IsZero())
	assert.True(t, got.Totals.Profit.IsZero())
}

func TestGenerateExtendsToEndOfDay(t *testing.T) {
	src := &countingSource{}
	engine := NewEngine(src, nil, time.Minute, zaptest.NewLogger(t))

	_, err := engine.Generate(context.Background(), day("2026-03-01").Add(15*time.Hour), day("2026-03-02"))
	require.NoError(t, err)
	assert.Equal(t, day("2026-03-01"), src.from)
	assert.Equal(t, day("2026-03-03").Add(-time.Nanosecond), src.to)
}

func TestGenerateRejectsInvertedRange(t *testing.T) {
	engine := NewEngine(&countingSource{}, nil, time.Minute, nil)

	_, err := engine.Generate(context.Background(), day("2026-03-05"), day("2026-03-01"))
	assert.ErrorIs(t, err, store.ErrInvalidInput)
}

func TestGenerateUsesCacheUntilInvalidated(t *testing.T) {
	mr := miniredis.RunT(t)
	redisCache := cache.NewRedisReportCache(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = redisCache.Close() })

	src := &countingSource{lines: []domain.SaleLineRecord{
		{SaleID: 1, SaleItemID: 1, SaleDate: day("2026-03-01"), ProductName: "Sukari", Quantity: 2, UnitPrice: money("15.00"), CurrentCostPrice: money("10.00")},
	}}
	engine := NewEngine(src, redisCache, time.Minute, zaptest.NewLogger(t))
	ctx := context.Background()

	first, err := engine.Generate(ctx, day("2026-03-01"), day("2026-03-01"))
	require.NoError(t, err)
	second, err := engine.Generate(ctx, day("2026-03-01"), day("2026-03-01"))
	require.NoError(t, err)
	assert.Equal(t, int32(1), src.calls.Load())
	assert.True(t, first.Totals.Profit.Equal(second.Totals.Profit))

	require.NoError(t, engine.Invalidate(ctx))
	_, err = engine.Generate(ctx, day("2026-03-01"), day("2026-03-01"))
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestGenerateConcurrentCallersAgree(t *testing.T) {
	src := &countingSource{lines: []domain.SaleLineRecord{
		{SaleID: 1, SaleItemID: 1, SaleDate: day("2026-03-01"), ProductName: "Mkate", Quantity: 1, UnitPrice: money("70.00"), CurrentCostPrice: money("55.00")},
	}}
	engine := NewEngine(src, nil, time.Minute, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := engine.Generate(context.Background(), day("2026-03-01"), day("2026-03-02"))
			assert.NoError(t, err)
			assert.True(t, got.Totals.Profit.Equal(money("15.00")))
		}()
	}
	wg.Wait()
	assert.GreaterOrEqual(t, src.calls.Load(), int32(1))
}

func TestDefaultRangeIsLastSevenDays(t *testing.T) {
	engine := NewEngine(&countingSource{}, nil, 0, nil)
	engine.now = func() time.Time { return time.Date(2026, 3, 10, 17, 45, 0, 0, time.UTC) }

	from, to := engine.DefaultRange()
	assert.Equal(t, day("2026-03-03"), from)
	assert.Equal(t, day("2026-03-10"), to)
}
