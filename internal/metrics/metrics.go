package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hackgods/subject-visit-tracking/internal/tracking"
)

const namespace = "visits"

var _ tracking.Recorder = (*Recorder)(nil)

// Recorder exports service measurements to a dedicated Prometheus registry.
type Recorder struct {
	registry *prometheus.Registry

	operations     *prometheus.CounterVec
	latency        *prometheus.HistogramVec
	persists       *prometheus.CounterVec
	persistLatency prometheus.Histogram
	autoMissed     prometheus.Counter
	imported       *prometheus.CounterVec
	draftFallbacks prometheus.Counter
	exports        *prometheus.CounterVec
}

func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Service operations by name and outcome.",
		}, []string{"op", "outcome"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Service operation latency.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"op"}),
		persists: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_saves_total",
			Help:      "Snapshot save attempts by outcome.",
		}, []string{"outcome"}),
		persistLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "snapshot_save_duration_seconds",
			Help:      "Snapshot save latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		autoMissed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auto_missed_total",
			Help:      "Appointments moved to Missed by the auto-miss pass.",
		}),
		imported: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_rows_total",
			Help:      "Bulk import results by kind.",
		}, []string{"kind"}),
		draftFallbacks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "draft_fallbacks_total",
			Help:      "Drafts served from the built-in template after a drafter failure.",
		}),
		exports: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "export_archives_total",
			Help:      "Export archive uploads by outcome.",
		}, []string{"outcome"}),
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, tracking.ErrValidation):
		return "rejected"
	case errors.Is(err, tracking.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

func (r *Recorder) ObserveOperation(op string, d time.Duration, err error) {
	r.operations.WithLabelValues(op, outcome(err)).Inc()
	r.latency.WithLabelValues(op).Observe(d.Seconds())
}

func (r *Recorder) ObservePersist(d time.Duration, err error) {
	r.persists.WithLabelValues(outcome(err)).Inc()
	r.persistLatency.Observe(d.Seconds())
}

func (r *Recorder) ObserveAutoMiss(n int) {
	r.autoMissed.Add(float64(n))
}

func (r *Recorder) ObserveImport(res tracking.ImportResult) {
	r.imported.WithLabelValues("subject_created").Add(float64(res.SubjectsCreated))
	r.imported.WithLabelValues("subject_updated").Add(float64(res.SubjectsUpdated))
	r.imported.WithLabelValues("appointment_created").Add(float64(res.AppointmentsCreated))
	r.imported.WithLabelValues("rejected").Add(float64(len(res.Rejected)))
}

func (r *Recorder) ObserveDraftFallback() {
	r.draftFallbacks.Inc()
}

func (r *Recorder) ObserveArchive(err error) {
	r.exports.WithLabelValues(outcome(err)).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *Recorder) Registry() *prometheus.Registry { return r.registry }
