package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"
	"go.uber.org/zap"

	"dukapos/internal/domain"
	"dukapos/internal/logging"
	"dukapos/internal/service"
	"dukapos/internal/store"
)

const (
	maxJSONBody     = 1 << 20
	loginRateLimit  = 5
	loginRateWindow = time.Minute
	requestTimeout  = 30 * time.Second
)

var (
	anyRole      = []string{domain.RoleSuperAdmin, domain.RoleStoreOwner, domain.RoleSalesPerson}
	catalogRoles = []string{domain.RoleSuperAdmin, domain.RoleStoreOwner}
	reportRoles  = []string{domain.RoleSuperAdmin, domain.RoleStoreOwner}
	adminRoles   = []string{domain.RoleSuperAdmin}
)

type Options struct {
	AllowedOrigin string
	Production    bool
	Metrics       *Metrics
	Logger        *zap.Logger
}

type API struct {
	service       *service.Service
	auth          *AuthManager
	metrics       *Metrics
	logger        *zap.Logger
	allowedOrigin string
	secure        *secure.Secure
	authLimiter   func(http.Handler) http.Handler
}

func New(svc *service.Service, auth *AuthManager, opts Options) *API {
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}
	api := &API{
		service:       svc,
		auth:          auth,
		metrics:       opts.Metrics,
		logger:        logging.OrNop(opts.Logger).Named("http"),
		allowedOrigin: opts.AllowedOrigin,
		secure: secure.New(secure.Options{
			FrameDeny:             true,
			ContentTypeNosniff:    true,
			BrowserXssFilter:      true,
			ReferrerPolicy:        "strict-origin-when-cross-origin",
			ContentSecurityPolicy: "default-src 'self'; style-src 'self' 'unsafe-inline'",
			SSLRedirect:           opts.Production,
			SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
			IsDevelopment:         !opts.Production,
		}),
	}
	// The limiter is built once so its counters survive repeated Handler calls.
	api.authLimiter = httprate.Limit(loginRateLimit, loginRateWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
			writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		}),
	)
	return api
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RealIP,
		middleware.RequestID,
		a.requestLogger,
		middleware.Recoverer,
		a.metrics.Middleware,
		a.secure.Handler,
		a.withCORS,
		middleware.Timeout(requestTimeout),
	)

	r.Get("/healthz", a.handleHealth)
	r.Method(http.MethodGet, "/metrics", a.metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(a.authLimiter)
			r.Post("/auth/login", a.handleLogin)
			r.Post("/auth/register", a.handleRegister)
		})

		r.Get("/products", a.requireAuth(a.handleListProducts, anyRole...))
		r.Post("/products", a.requireAuth(a.handleCreateProduct, catalogRoles...))
		r.Get("/products/{id}", a.requireAuth(a.handleGetProduct, anyRole...))
		r.Put("/products/{id}", a.requireAuth(a.handleUpdateProduct, catalogRoles...))

		r.Post("/sales", a.requireAuth(a.handleRecordSale, anyRole...))
		r.Get("/sales", a.requireAuth(a.handleSalesHistory, anyRole...))
		r.Get("/sales/{id}/receipt", a.requireAuth(a.handleReceipt, anyRole...))

		r.Get("/reports/profit-loss", a.requireAuth(a.handleProfitLoss, reportRoles...))

		r.Get("/admin/users", a.requireAuth(a.handleListUsers, adminRoles...))
		r.Get("/admin/roles", a.requireAuth(a.handleListRoles, adminRoles...))
		r.Post("/admin/users/{id}/roles", a.requireAuth(a.handleAssignRole, adminRoles...))
		r.Delete("/admin/users/{id}/roles/{role}", a.requireAuth(a.handleRemoveRole, adminRoles...))
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) { writeMethodNotAllowed(w) })
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, errors.New("route not found"))
	})
	return r
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !hasAnyRole(actor, roles) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func hasAnyRole(actor domain.Actor, allowed []string) bool {
	for _, role := range allowed {
		if actor.HasRole(role) {
			return true
		}
	}
	return false
}

func (a *API) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
			w.Header().Set("Vary", "Origin")
		}

		if r.Method == http.MethodPost || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		startedAt := time.Now()
		next.ServeHTTP(ww, r)
		a.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(startedAt)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// fail maps service and store errors onto HTTP statuses.
func (a *API) fail(w http.ResponseWriter, err error) {
	var (
		notFound     *store.ProductNotFoundError
		insufficient *store.InsufficientStockError
		invalidQty   *store.InvalidQuantityError
	)
	switch {
	case errors.As(err, &insufficient):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":      err.Error(),
			"code":       "insufficient_stock",
			"product_id": insufficient.ProductID,
			"available":  insufficient.Available,
			"requested":  insufficient.Requested,
		})
	case errors.As(err, &notFound):
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error":      err.Error(),
			"code":       "product_not_found",
			"product_id": notFound.ProductID,
		})
	case errors.As(err, &invalidQty):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":      err.Error(),
			"code":       "invalid_quantity",
			"product_id": invalidQty.ProductID,
		})
	case errors.Is(err, store.ErrEmptyCart), errors.Is(err, store.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrInsufficientStock):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, service.ErrForbidden):
		writeError(w, http.StatusForbidden, err)
	case errors.Is(err, service.ErrInvalidCredentials), errors.Is(err, service.ErrInactiveAccount):
		writeError(w, http.StatusUnauthorized, err)
	default:
		a.logger.Error("internal error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err)
	}
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx bodies stay generic; the cause is logged by the caller.
	msg := err.Error()
	if status >= 500 {
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
