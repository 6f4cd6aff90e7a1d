package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hackgods/subject-visit-tracking/internal/api"
	"github.com/hackgods/subject-visit-tracking/internal/app"
	"github.com/hackgods/subject-visit-tracking/internal/config"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		app.NewLogger(config.LogConfig{}).Error("config load error", "error", err)
		os.Exit(1)
	}
	logger := app.NewLogger(cfg.Log)
	logger.Info("api-server starting up", "env", cfg.Env, "http_port", cfg.HTTPPort, "store", cfg.StoreDriver)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bootCtx, cancelBoot := context.WithTimeout(rootCtx, 30*time.Second)
	session, err := app.New(bootCtx, cfg, logger)
	cancelBoot()
	if err != nil {
		logger.Error("session start failed", "error", err)
		os.Exit(1)
	}

	var scheduler *cron.Cron
	if cfg.AutoMissSchedule != "" {
		scheduler = cron.New(cron.WithLocation(session.Location))
		if _, err := scheduler.AddFunc(cfg.AutoMissSchedule, func() {
			session.Service.RunAutoMiss(rootCtx)
		}); err != nil {
			logger.Error("invalid AUTO_MISS_SCHEDULE", "schedule", cfg.AutoMissSchedule, "error", err)
			closeSession(session, cfg.ShutdownTimeout)
			os.Exit(1)
		}
		scheduler.Start()
		logger.Info("auto-miss scheduled", "schedule", cfg.AutoMissSchedule)
	}

	deps := []api.Dependency{{Name: "store", Check: session.Service, Critical: true}}
	var leaseLost <-chan struct{}
	if session.Lease != nil {
		leaseLost = session.Lease.Lost()
		deps = append(deps, api.Dependency{Name: "lease", Critical: true, Check: api.PingFunc(func(context.Context) error {
			select {
			case <-leaseLost:
				return errors.New("session lease lost")
			default:
				return nil
			}
		})})
	}

	handler := api.NewRouter(api.RouterConfig{
		Service:      session.Service,
		Exporter:     session.Exporter,
		Metrics:      session.Metrics.Handler(),
		Dependencies: deps,
		Location:     session.Location,
		Logger:       logger,
		Env:          cfg.Env,
		Version:      version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	exitCode := 0
	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case <-leaseLost:
		logger.Error("session lease lost, shutting down")
		exitCode = 1
	case err := <-serveErr:
		logger.Error("http server error", "error", err)
		exitCode = 1
	}

	if scheduler != nil {
		<-scheduler.Stop().Done()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	cancel()

	closeSession(session, cfg.ShutdownTimeout)
	logger.Info("api-server stopped")
	os.Exit(exitCode)
}

func closeSession(session *app.App, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := session.Close(ctx); err != nil {
		session.Logger.Error("session close error", "error", err)
	}
}
