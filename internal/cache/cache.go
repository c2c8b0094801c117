package cache

import (
	"context"
	"time"

	"dukapos/internal/domain"
)

// ReportCache stores computed profit/loss reports. Keys are scoped by a
// generation counter that is bumped whenever a sale is recorded, so stale
// entries are never read again and simply expire.
type ReportCache interface {
	Get(ctx context.Context, key string) (*domain.ProfitLossReport, bool, error)
	Set(ctx context.Context, key string, value *domain.ProfitLossReport, ttl time.Duration) error
	Generation(ctx context.Context) (int64, error)
	Invalidate(ctx context.Context) error
}

type NoopReportCache struct{}

func (NoopReportCache) Get(_ context.Context, _ string) (*domain.ProfitLossReport, bool, error) {
	return nil, false, nil
}

func (NoopReportCache) Set(_ context.Context, _ string, _ *domain.ProfitLossReport, _ time.Duration) error {
	return nil
}

func (NoopReportCache) Generation(_ context.Context) (int64, error) {
	return 0, nil
}

func (NoopReportCache) Invalidate(_ context.Context) error {
	return nil
}
