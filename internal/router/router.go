package router

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/referral-api/internal/handler/audit"
	"github.com/jwalitptl/referral-api/internal/handler/auth"
	"github.com/jwalitptl/referral-api/internal/handler/catalog"
	"github.com/jwalitptl/referral-api/internal/handler/health"
	"github.com/jwalitptl/referral-api/internal/handler/referral"
	"github.com/jwalitptl/referral-api/internal/handler/settings"
	"github.com/jwalitptl/referral-api/internal/handler/task"
	"github.com/jwalitptl/referral-api/internal/handler/upload"
	"github.com/jwalitptl/referral-api/internal/handler/user"
	"github.com/jwalitptl/referral-api/internal/middleware"
	"github.com/jwalitptl/referral-api/internal/model"
)

// Handlers groups every HTTP handler the router mounts.
type Handlers struct {
	Health   *health.Handler
	Auth     *auth.Handler
	User     *user.Handler
	Catalog  *catalog.Handler
	Referral *referral.Handler
	Task     *task.Handler
	Upload   *upload.Handler
	Audit    *audit.Handler
	Settings *settings.Handler
}

type RouterConfig struct {
	RateLimitEnabled bool
	RateLimit        rate.Limit
	RateBurst        int
	CORSConfig       middleware.CORSConfig
	SizeLimit        middleware.SizeLimitConfig
	MetricsNamespace string
	// Registerer receives the HTTP metrics. Nil skips them.
	Registerer prometheus.Registerer
}

type Router struct {
	engine      *gin.Engine
	auth        *middleware.AuthMiddleware
	handlers    Handlers
	rateLimiter *middleware.RateLimiter
	// metricsEnabled also exposes /metrics at the root for scrapers.
	metricsEnabled bool
}

func NewRouter(auth *middleware.AuthMiddleware, handlers Handlers, config RouterConfig) *Router {
	engine := gin.New()

	r := &Router{
		engine:   engine,
		auth:     auth,
		handlers: handlers,
	}

	engine.Use(
		middleware.RequestID(),
		middleware.Recovery(),
		middleware.Logger(),
		middleware.ErrorHandler(),
	)
	if config.Registerer != nil {
		r.metricsEnabled = true
		engine.Use(middleware.NewHTTPMetrics(config.MetricsNamespace, config.Registerer).Middleware())
	}
	engine.Use(
		middleware.SecurityHeaders(middleware.DefaultSecurityConfig()),
		middleware.CORS(config.CORSConfig),
	)

	if config.RateLimitEnabled {
		r.rateLimiter = middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  config.RateLimit,
			Burst: config.RateBurst,
		})
		engine.Use(r.rateLimiter.RateLimit())
	}
	engine.Use(middleware.SizeLimit(config.SizeLimit))

	return r
}

func (r *Router) Setup() {
	api := r.engine.Group("/api/v1")
	r.handlers.Health.RegisterRoutes(api)
	if r.metricsEnabled {
		r.engine.GET("/metrics", r.handlers.Health.Metrics())
	}

	// Public routes
	r.handlers.Auth.RegisterRoutes(api)

	// Staff and admin
	protected := api.Group("")
	protected.Use(r.auth.Authenticate())

	// Admin only
	admin := protected.Group("")
	admin.Use(r.auth.RequireRole(model.RoleAdmin))

	r.handlers.User.RegisterRoutes(protected, admin)
	r.handlers.Catalog.RegisterRoutes(protected, admin)
	r.handlers.Settings.RegisterRoutes(protected, admin)
	r.handlers.Referral.RegisterRoutes(protected)
	r.handlers.Task.RegisterRoutes(protected)
	r.handlers.Upload.RegisterRoutes(protected)
	r.handlers.Audit.RegisterRoutes(admin)
}

// RunMaintenance prunes idle rate limiter entries until ctx is done.
func (r *Router) RunMaintenance(ctx context.Context, interval time.Duration) {
	if r.rateLimiter == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.rateLimiter.Cleanup()
		}
	}
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
