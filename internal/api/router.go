package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hackgods/subject-visit-tracking/internal/export"
	"github.com/hackgods/subject-visit-tracking/internal/tracking"
)

type RouterConfig struct {
	Service      *tracking.Service
	Exporter     *export.Exporter
	Metrics      http.Handler
	Dependencies []Dependency
	Location     *time.Location
	Logger       *slog.Logger
	Env          string
	Version      string
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	svc, loc := cfg.Service, cfg.Location

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(RecoveryMiddleware(cfg.Logger))

	health := NewHealthHandler(cfg.Dependencies, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Route("/subjects", func(r chi.Router) {
		r.Get("/", listSubjectsHandler(svc))
		r.Post("/", createSubjectHandler(svc, loc))
		r.Get("/{id}", getSubjectHandler(svc))
		r.Patch("/{id}", updateSubjectHandler(svc, loc))
		r.Post("/{id}/exit", exitSubjectHandler(svc, loc))
	})

	r.Route("/appointments", func(r chi.Router) {
		r.Get("/", listAppointmentsHandler(svc))
		r.Post("/", bookAppointmentHandler(svc, loc))
		r.Get("/{id}", getAppointmentHandler(svc))
		r.Post("/{id}/status", updateStatusHandler(svc))
		r.Post("/{id}/reschedule", rescheduleHandler(svc, loc))
		r.Post("/{id}/complete", completeHandler(svc, loc))
		r.Get("/{id}/draft", draftHandler(svc))
	})

	r.Post("/imports", importHandler(svc))
	r.Post("/automiss", autoMissHandler(svc))
	r.Get("/changelog", changeLogHandler(svc, loc))

	if cfg.Exporter != nil {
		r.Get("/exports", listArchivesHandler(cfg.Exporter))
		r.Get("/exports/{kind}", exportHandler(cfg.Exporter, loc))
	}

	return r
}
