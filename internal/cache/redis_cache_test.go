package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dukapos/internal/domain"
)

func newTestCache(t *testing.T) (*RedisReportCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := NewRedisReportCache(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Ping(context.Background()))
	return c, mr
}

func TestRedisReportCacheRoundTrip(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	report := &domain.ProfitLossReport{
		Lines: []domain.ProfitLossLine{{ProductName: "Sukari", Quantity: 2, Revenue: decimal.RequireFromString("30.00")}},
		Totals: domain.ProfitLossTotals{
			Revenue: decimal.RequireFromString("30.00"),
			Cost:    decimal.RequireFromString("20.00"),
			Profit:  decimal.RequireFromString("10.00"),
		},
	}
	require.NoError(t, c.Set(ctx, "0:range", report, time.Minute))

	got, ok, err := c.Get(ctx, "0:range")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Sukari", got.Lines[0].ProductName)
	assert.True(t, got.Totals.Profit.Equal(decimal.RequireFromString("10")))

	mr.FastForward(2 * time.Minute)
	_, ok, err = c.Get(ctx, "0:range")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisReportCacheGeneration(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	gen, err := c.Generation(ctx)
	require.NoError(t, err)
	assert.Zero(t, gen)

	require.NoError(t, c.Invalidate(ctx))
	require.NoError(t, c.Invalidate(ctx))

	gen, err = c.Generation(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), gen)
}

func TestNoopReportCache(t *testing.T) {
	var c ReportCache = NoopReportCache{}
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", &domain.ProfitLossReport{}, time.Minute))
	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, c.Invalidate(ctx))
}
