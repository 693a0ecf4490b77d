package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/referral-api/internal/app"
	"github.com/jwalitptl/referral-api/internal/config"
	"github.com/jwalitptl/referral-api/internal/handler/health"
)

const healthAddr = ":8081"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Redis.URL == "" {
		log.Fatal().Msg("redis.url is required: a standalone worker cannot share the in-process queue")
	}

	logger := app.NewLogger(cfg.Log)
	log.Logger = *logger.Zerolog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal(err, "failed to initialise worker")
	}
	defer a.Close()

	healthSrv := startHealthServer(a)

	var wg sync.WaitGroup
	for _, start := range []func(context.Context){a.BatchWorker().Start, a.Reaper().Start} {
		wg.Add(1)
		go func(fn func(context.Context)) {
			defer wg.Done()
			fn(ctx)
		}(start)
	}

	<-ctx.Done()
	logger.Info("shutting down worker")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := healthSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error(err, "health server shutdown failed")
	}
	wg.Wait()
}

// startHealthServer serves liveness, readiness and metrics for the orchestrator.
func startHealthServer(a *app.App) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	h := health.NewHandler(a.DB, a.Registry)
	h.RegisterRoutes(engine.Group(""))
	engine.GET("/metrics", h.Metrics())

	srv := &http.Server{Addr: healthAddr, Handler: engine, ReadTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error(err, "health server failed")
			os.Exit(1)
		}
	}()
	a.Logger.Info(fmt.Sprintf("health server listening on %s", healthAddr))
	return srv
}
