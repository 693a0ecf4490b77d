package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/referral-api/internal/config"
	"github.com/jwalitptl/referral-api/internal/email"
	auditHandler "github.com/jwalitptl/referral-api/internal/handler/audit"
	authHandler "github.com/jwalitptl/referral-api/internal/handler/auth"
	catalogHandler "github.com/jwalitptl/referral-api/internal/handler/catalog"
	"github.com/jwalitptl/referral-api/internal/handler/health"
	referralHandler "github.com/jwalitptl/referral-api/internal/handler/referral"
	settingsHandler "github.com/jwalitptl/referral-api/internal/handler/settings"
	taskHandler "github.com/jwalitptl/referral-api/internal/handler/task"
	uploadHandler "github.com/jwalitptl/referral-api/internal/handler/upload"
	userHandler "github.com/jwalitptl/referral-api/internal/handler/user"
	"github.com/jwalitptl/referral-api/internal/middleware"
	"github.com/jwalitptl/referral-api/internal/pipeline"
	"github.com/jwalitptl/referral-api/internal/repository"
	"github.com/jwalitptl/referral-api/internal/repository/postgres"
	"github.com/jwalitptl/referral-api/internal/router"
	auditService "github.com/jwalitptl/referral-api/internal/service/audit"
	authService "github.com/jwalitptl/referral-api/internal/service/auth"
	catalogService "github.com/jwalitptl/referral-api/internal/service/catalog"
	referralService "github.com/jwalitptl/referral-api/internal/service/referral"
	settingsService "github.com/jwalitptl/referral-api/internal/service/settings"
	taskService "github.com/jwalitptl/referral-api/internal/service/task"
	uploadService "github.com/jwalitptl/referral-api/internal/service/upload"
	userService "github.com/jwalitptl/referral-api/internal/service/user"
	"github.com/jwalitptl/referral-api/internal/worker"
	"github.com/jwalitptl/referral-api/pkg/auth"
	"github.com/jwalitptl/referral-api/pkg/logger"
	"github.com/jwalitptl/referral-api/pkg/messaging"
	"github.com/jwalitptl/referral-api/pkg/messaging/redis"
	"github.com/jwalitptl/referral-api/pkg/metrics"
	"github.com/jwalitptl/referral-api/pkg/security"
)

// App holds every long-lived dependency. cmd/api and cmd/worker build one and pick what they need.
type App struct {
	Config   *config.Config
	Logger   *logger.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	DB     *sqlx.DB
	Store  *repository.Store
	Queue  messaging.Queue
	Locker messaging.Locker
	Mailer email.Dispatcher
	Hasher security.PasswordHasher

	Codes        *pipeline.CodeIssuer
	Orchestrator *pipeline.Orchestrator

	Auditor   *auditService.Service
	Settings  *settingsService.Service
	Users     *userService.Service
	Auth      *authService.Service
	Catalog   *catalogService.Service
	Referrals *referralService.Service
	Tasks     *taskService.Service
	Uploads   *uploadService.Service
}

func NewLogger(cfg config.LogConfig) *logger.Logger {
	return logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Level),
		TimeFormat: time.RFC3339,
		Output:     os.Stdout,
		JSON:       strings.EqualFold(cfg.Format, "json"),
	})
}

// New connects to postgres (and redis when configured) and wires the services.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	reg, m := newMetrics(cfg.Metrics.Namespace)

	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	a, err := build(cfg, log, reg, m, postgres.NewStore(db, m))
	if err != nil {
		db.Close()
		return nil, err
	}
	a.DB = db
	return a, nil
}

// NewWithStore wires the services over an existing store, such as the in-memory one.
func NewWithStore(cfg *config.Config, log *logger.Logger, store *repository.Store) (*App, error) {
	reg, m := newMetrics(cfg.Metrics.Namespace)
	return build(cfg, log, reg, m, store)
}

func newMetrics(namespace string) (*prometheus.Registry, *metrics.Metrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewMetrics(namespace, "", reg)
}

func build(cfg *config.Config, log *logger.Logger, reg *prometheus.Registry, m *metrics.Metrics,
	store *repository.Store) (*App, error) {
	a := &App{
		Config:   cfg,
		Logger:   log,
		Registry: reg,
		Metrics:  m,
		Store:    store,
		Hasher:   security.NewBcryptHasher(security.DefaultCost),
	}

	if err := a.initQueue(); err != nil {
		return nil, err
	}
	if err := a.initMailer(); err != nil {
		a.Close()
		return nil, err
	}

	a.Codes = pipeline.NewCodeIssuer(store.Referrals, cfg.Pipeline.CodeAttempts, m)
	processor := pipeline.NewProcessor(store, a.Mailer, a.Codes, pipeline.Templates{
		Medical:  email.Template{ID: cfg.Email.Medical.ID, Subject: cfg.Email.Medical.Subject},
		Wellness: email.Template{ID: cfg.Email.Wellness.ID, Subject: cfg.Email.Wellness.Subject},
	}, log.With("component", "processor"), m)
	a.Orchestrator = pipeline.NewOrchestrator(store, processor, log.With("component", "orchestrator"), m).
		WithHeartbeat(cfg.Worker.StaleAfter / 4)

	a.Auditor = auditService.NewService(store.Audit, log)
	a.Settings = settingsService.NewService(store.Settings, a.Auditor, settingsService.DefaultCacheTTL)
	a.Users = userService.NewService(store.Users, a.Hasher, a.Auditor, a.Settings.AllowedEmailDomain)
	a.Auth = authService.NewService(store.Users, auth.NewJWTService(auth.Config{
		Secret: cfg.JWT.Secret,
		Issuer: cfg.JWT.Issuer,
		Expiry: cfg.JWTExpiry(),
	}), a.Hasher, a.Auditor)
	a.Catalog = catalogService.NewService(store, a.Auditor)
	a.Referrals = referralService.NewService(store, a.Codes, a.Auditor)
	a.Tasks = taskService.NewService(store.Tasks, a.Auditor)
	a.Uploads = uploadService.NewService(store, a.Orchestrator, a.Queue, a.Auditor,
		log.With("component", "uploads"), uploadService.Mode(cfg.Pipeline.Mode))
	return a, nil
}

func (a *App) initQueue() error {
	if a.Config.Redis.URL == "" {
		a.Queue = messaging.NewMemoryQueue(0)
		a.Locker = messaging.NewMemoryLocker()
		return nil
	}

	client, err := redis.NewClient(redis.Config{
		URL:          a.Config.Redis.URL,
		Queue:        a.Config.Redis.Queue,
		MaxRetries:   a.Config.Redis.MaxRetries,
		RetryBackoff: a.Config.Redis.RetryBackoff,
		PoolSize:     a.Config.Redis.PoolSize,
		MinIdleConns: a.Config.Redis.MinIdleConns,
	})
	if err != nil {
		return err
	}
	a.Queue = redis.NewRedisQueue(client, a.Config.Redis.Queue, a.Logger.Zerolog(), a.Metrics)
	a.Locker = redis.NewRedisLocker(client)
	return nil
}

func (a *App) initMailer() error {
	cfg := a.Config.Email
	if cfg.Driver != "smtp" {
		a.Mailer = email.NewLogDispatcher(a.Logger.Zerolog())
		return nil
	}
	d, err := email.NewSMTPDispatcher(email.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		User:     cfg.SMTPUser,
		Password: cfg.SMTPPassword,
		From:     cfg.From,
		Bodies: map[string]string{
			cfg.Medical.ID:  cfg.Medical.Body,
			cfg.Wellness.ID: cfg.Wellness.Body,
		},
	}, a.Logger.Zerolog())
	if err != nil {
		return err
	}
	a.Mailer = d
	return nil
}

// Router builds the HTTP router with every handler mounted.
func (a *App) Router() *router.Router {
	var pinger health.Pinger
	if a.DB != nil {
		pinger = a.DB
	}

	r := router.NewRouter(middleware.NewAuthMiddleware(a.Auth), router.Handlers{
		Health:   health.NewHandler(pinger, a.Registry),
		Auth:     authHandler.NewHandler(a.Auth),
		User:     userHandler.NewHandler(a.Users),
		Catalog:  catalogHandler.NewHandler(a.Catalog),
		Referral: referralHandler.NewHandler(a.Referrals),
		Task:     taskHandler.NewHandler(a.Tasks),
		Upload:   uploadHandler.NewHandler(a.Uploads),
		Audit:    auditHandler.NewHandler(a.Auditor),
		Settings: settingsHandler.NewHandler(a.Settings),
	}, router.RouterConfig{
		RateLimitEnabled: a.Config.RateLimit.Enabled,
		RateLimit:        rate.Limit(a.Config.RateLimit.RequestsPerSecond),
		RateBurst:        a.Config.RateLimit.Burst,
		CORSConfig:       middleware.DefaultCORSConfig(a.Config.CORS.AllowedOrigins),
		SizeLimit:        middleware.DefaultSizeLimitConfig(a.Config.MaxUploadBytes()),
		MetricsNamespace: a.Config.Metrics.Namespace,
		Registerer:       a.Registry,
	})
	r.Setup()
	return r
}

func (a *App) BatchWorker() *worker.BatchWorker {
	return worker.NewBatchWorker(a.Queue, a.Locker, a.Store.Batches, a.Orchestrator, a.Logger, a.Metrics,
		worker.BatchWorkerConfig{
			PollTimeout: a.Config.Worker.PollTimeout,
			LockTTL:     a.Config.Worker.StaleAfter,
		})
}

func (a *App) Reaper() *worker.StaleBatchReaper {
	return worker.NewStaleBatchReaper(a.Store.Batches, a.Orchestrator, a.Logger,
		a.Config.Worker.StaleAfter, a.Config.Worker.ReapInterval)
}

func (a *App) Close() error {
	var errs []error
	// The redis queue owns the client and closes it.
	if a.Queue != nil {
		errs = append(errs, a.Queue.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to close app: %w", err)
	}
	return nil
}
