package service

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"dukapos/internal/domain"
	"dukapos/internal/logging"
	"dukapos/internal/report"
	"dukapos/internal/report/export"
	"dukapos/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// CurrentUserProvider resolves who is recording a sale. An empty id means
// the sale is stored without attribution.
type CurrentUserProvider interface {
	CurrentUserID(ctx context.Context) string
}

// ContextUserProvider reads the authenticated actor placed in the context by
// the HTTP layer.
type ContextUserProvider struct{}

func (ContextUserProvider) CurrentUserID(ctx context.Context) string {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return ""
	}
	return actor.UserID
}

type Options struct {
	Logger     *zap.Logger
	Registerer prometheus.Registerer
	Users      CurrentUserProvider
}

type Service struct {
	repo     store.Repository
	reports  *report.Engine
	exporter *export.Exporter
	users    CurrentUserProvider
	validate *validator.Validate
	logger   *zap.Logger
	now      func() time.Time

	salesRecorded prometheus.Counter
	saleFailures  *prometheus.CounterVec
}

func New(repo store.Repository, reports *report.Engine, exporter *export.Exporter, opts Options) *Service {
	logger := logging.OrNop(opts.Logger).Named("service")
	if reports == nil {
		reports = report.NewEngine(repo, nil, 0, logger)
	}
	if exporter == nil {
		exporter = export.NewExporter(nil, "", logger)
	}
	users := opts.Users
	if users == nil {
		users = ContextUserProvider{}
	}
	registerer := opts.Registerer
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}
	factory := promauto.With(registerer)

	return &Service{
		repo:     repo,
		reports:  reports,
		exporter: exporter,
		users:    users,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
		now:      time.Now,
		salesRecorded: factory.NewCounter(prometheus.CounterOpts{
			Name: "dukapos_sales_recorded_total",
			Help: "Number of sales committed.",
		}),
		saleFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dukapos_sale_failures_total",
			Help: "Number of rejected or failed sale attempts by reason.",
		}, []string{"reason"}),
	}
}
