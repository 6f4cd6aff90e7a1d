// Command automiss opens the configured session, runs one auto-miss pass and
// exits once the result is saved.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/subject-visit-tracking/internal/app"
	"github.com/hackgods/subject-visit-tracking/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		app.NewLogger(config.LogConfig{}).Error("config load error", "error", err)
		os.Exit(1)
	}
	logger := app.NewLogger(cfg.Log)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	runCtx, cancel := context.WithTimeout(rootCtx, 30*time.Second)
	defer cancel()

	// Bootstrap already applies the pass; a second one picks up anything
	// that fell due while the session was loading.
	session, err := app.New(runCtx, cfg, logger)
	if err != nil {
		logger.Error("session start failed", "error", err)
		os.Exit(1)
	}
	missed := session.Service.RunAutoMiss(runCtx)

	closeCtx, cancelClose := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelClose()
	if err := session.Close(closeCtx); err != nil {
		logger.Error("session close error", "error", err)
		os.Exit(1)
	}
	logger.Info("auto-miss run complete", "late_missed", len(missed), "elapsed", time.Since(start))
}
