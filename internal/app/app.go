// Package app wires configuration into the concrete storage, cache and
// export backends shared by the server and the operator CLI.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"dukapos/internal/cache"
	"dukapos/internal/config"
	"dukapos/internal/logging"
	"dukapos/internal/report"
	"dukapos/internal/report/export"
	"dukapos/internal/service"
	"dukapos/internal/store"
	"dukapos/internal/store/gormstore"
	"dukapos/internal/store/memory"
	pgstore "dukapos/internal/store/postgres"
)

// Storage is the configured repository plus the hook that releases it.
type Storage struct {
	Repo    store.Repository
	Driver  string
	closeFn func() error
}

func (s *Storage) Close() error {
	if s == nil || s.closeFn == nil {
		return nil
	}
	return s.closeFn()
}

// OpenStorage connects the repository selected by DATABASE_DRIVER and brings
// its schema up to date.
func OpenStorage(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Storage, error) {
	logger = logging.OrNop(logger)

	switch cfg.DatabaseDriver {
	case config.DriverPostgres:
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, err
		}
		return &Storage{Repo: pg, Driver: cfg.DatabaseDriver, closeFn: pg.Close}, nil
	case config.DriverGormPostgres:
		db, err := gormstore.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return &Storage{Repo: db, Driver: cfg.DatabaseDriver, closeFn: db.Close}, nil
	case config.DriverSQLite:
		db, err := gormstore.Open("sqlite", cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &Storage{Repo: db, Driver: cfg.DatabaseDriver, closeFn: db.Close}, nil
	case config.DriverMemory, "":
		return &Storage{Repo: memory.NewSeeded(logger), Driver: config.DriverMemory}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.DatabaseDriver)
	}
}

// OpenReportCache returns the redis cache when REDIS_ADDR is set and
// reachable, otherwise the no-op cache. The returned closer is never nil.
func OpenReportCache(ctx context.Context, cfg config.Config, logger *zap.Logger) (cache.ReportCache, func() error) {
	logger = logging.OrNop(logger)
	noop := func() error { return nil }

	if strings.TrimSpace(cfg.RedisAddr) == "" {
		logger.Info("report cache: noop")
		return cache.NoopReportCache{}, noop
	}

	redisCache := cache.NewRedisReportCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := redisCache.Ping(pingCtx); err != nil {
		logger.Warn("redis unavailable, using noop report cache", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		_ = redisCache.Close()
		return cache.NoopReportCache{}, noop
	}
	logger.Info("report cache: redis", zap.String("addr", cfg.RedisAddr))
	return redisCache, redisCache.Close
}

// NewExporter renders PDFs through Gotenberg when GOTENBERG_URL is set and
// in process otherwise.
func NewExporter(cfg config.Config, logger *zap.Logger) (*export.Exporter, error) {
	var renderer export.PDFRenderer
	if strings.TrimSpace(cfg.GotenbergURL) != "" {
		client, err := export.NewGotenbergClient(cfg.GotenbergURL)
		if err != nil {
			return nil, err
		}
		renderer = client
	}
	return export.NewExporter(renderer, cfg.CurrencyLabel, logger), nil
}

// NewService assembles the report engine and the service on top of repo.
func NewService(cfg config.Config, repo store.Repository, reportCache cache.ReportCache, registerer prometheus.Registerer, logger *zap.Logger) (*service.Service, error) {
	exporter, err := NewExporter(cfg, logger)
	if err != nil {
		return nil, err
	}
	engine := report.NewEngine(repo, reportCache, cfg.ReportCacheTTL, logger)
	return service.New(repo, engine, exporter, service.Options{
		Logger:     logger,
		Registerer: registerer,
	}), nil
}
