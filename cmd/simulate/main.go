package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/ilyakaznacheev/cleanenv"

	"github.com/hackgods/subject-visit-tracking/internal/api"
	"github.com/hackgods/subject-visit-tracking/internal/app"
	"github.com/hackgods/subject-visit-tracking/internal/config"
	"github.com/hackgods/subject-visit-tracking/internal/tracking"
)

type SimConfig struct {
	APIBaseURL string        `env:"SIM_API_BASE_URL" env-default:"http://localhost:8080"`
	Duration   time.Duration `env:"SIM_DURATION" env-default:"30s"`
	Workers    int           `env:"SIM_WORKERS" env-default:"10"`
	Subjects   int           `env:"SIM_SUBJECTS" env-default:"50"`

	BookRatio       float64 `env:"SIM_BOOK_RATIO" env-default:"0.3"`
	MissRatio       float64 `env:"SIM_MISS_RATIO" env-default:"0.15"`
	RescheduleRatio float64 `env:"SIM_RESCHEDULE_RATIO" env-default:"0.15"`
	CompleteRatio   float64 `env:"SIM_COMPLETE_RATIO" env-default:"0.2"`
	ReadRatio       float64 `env:"SIM_READ_RATIO" env-default:"0.2"`
}

// DataPool tracks the ids created during the run.
type DataPool struct {
	mu           sync.RWMutex
	subjects     []string
	appointments []string
}

func (dp *DataPool) AddSubject(id string) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.subjects = append(dp.subjects, id)
}

func (dp *DataPool) AddAppointment(id string) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) RandomSubject(rng *rand.Rand) (string, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.subjects) == 0 {
		return "", false
	}
	return dp.subjects[rng.Intn(len(dp.subjects))], true
}

func (dp *DataPool) RandomAppointment(rng *rand.Rand) (string, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return "", false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Rejected  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

// Record counts one call. A rejection is a well-formed 4xx answer from the
// lifecycle rules, not a failure of the server.
func (om *OperationMetrics) Record(latency time.Duration, success bool, rejected bool) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case success:
		atomic.AddInt64(&om.Success, 1)
	case rejected:
		atomic.AddInt64(&om.Rejected, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]
	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	CreateSubject OperationMetrics
	Book          OperationMetrics
	MarkMissed    OperationMetrics
	Reschedule    OperationMetrics
	Complete      OperationMetrics
	Read          OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	logger  *slog.Logger
	metrics Metrics
}

func main() {
	logger := app.NewLogger(config.LogConfig{Level: os.Getenv("LOG_LEVEL")})

	var cfg SimConfig
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		logger.Error("simulator config error", "error", err)
		os.Exit(1)
	}
	if err := validateConfig(&cfg); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}
	logger.Info("simulator starting", "base_url", cfg.APIBaseURL, "duration", cfg.Duration, "workers", cfg.Workers)

	sim := &Simulator{
		config: cfg,
		pool:   &DataPool{},
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	if err := sim.enroll(ctx); err != nil {
		logger.Error("enrolment failed", "error", err)
		os.Exit(1)
	}
	sim.Run(ctx)
	sim.PrintReport(os.Stdout)
}

func validateConfig(cfg *SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.Subjects <= 0 {
		return fmt.Errorf("SIM_SUBJECTS must be > 0")
	}

	total := cfg.BookRatio + cfg.MissRatio + cfg.RescheduleRatio + cfg.CompleteRatio + cfg.ReadRatio
	if total <= 0 {
		return fmt.Errorf("operation ratios must sum to a positive value")
	}
	cfg.BookRatio /= total
	cfg.MissRatio /= total
	cfg.RescheduleRatio /= total
	cfg.CompleteRatio /= total
	cfg.ReadRatio /= total
	return nil
}

// enroll creates the subject pool the workers draw from.
func (s *Simulator) enroll(ctx context.Context) error {
	for i := 0; i < s.config.Subjects; i++ {
		req := api.CreateSubjectRequest{
			ID:      fmt.Sprintf("SIM-%s", strings.ToUpper(gofakeit.LetterN(6))),
			Name:    gofakeit.Name(),
			Phone:   gofakeit.Phone(),
			Comment: "enrolled by simulator",
		}
		status, _, err := s.call(ctx, &s.metrics.CreateSubject, http.MethodPost, "/subjects", req)
		if err != nil {
			return err
		}
		if status == http.StatusCreated {
			s.pool.AddSubject(req.ID)
		}
	}
	if len(s.pool.subjects) == 0 {
		return fmt.Errorf("no subjects created")
	}
	s.logger.Info("subjects enrolled", "count", len(s.pool.subjects))
	return nil
}

func (s *Simulator) Run(ctx context.Context) {
	s.logger.Info("starting simulation", "duration", s.config.Duration, "workers", s.config.Workers)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}
	wg.Wait()
	s.logger.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
	c := s.config

	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < c.BookRatio:
			s.doBook(ctx, rng)
		case r < c.BookRatio+c.MissRatio:
			s.doMarkMissed(ctx, rng)
		case r < c.BookRatio+c.MissRatio+c.RescheduleRatio:
			s.doReschedule(ctx, rng)
		case r < c.BookRatio+c.MissRatio+c.RescheduleRatio+c.CompleteRatio:
			s.doComplete(ctx, rng)
		default:
			s.doRead(ctx, rng)
		}
	}
}

// doBook books a visit anywhere from two days back to two weeks ahead so each
// later transition has candidates on both sides of now.
func (s *Simulator) doBook(ctx context.Context, rng *rand.Rand) {
	subjectID, ok := s.pool.RandomSubject(rng)
	if !ok {
		return
	}
	date := time.Now().Add(time.Duration(rng.Intn(16*24)-48) * time.Hour)
	req := api.BookAppointmentRequest{SubjectID: subjectID, Date: date.Format(time.RFC3339)}

	status, body, err := s.call(ctx, &s.metrics.Book, http.MethodPost, "/appointments", req)
	if err != nil || status != http.StatusCreated {
		return
	}
	var appt tracking.Appointment
	if json.Unmarshal(body, &appt) == nil && appt.ID != "" {
		s.pool.AddAppointment(appt.ID)
	}
}

func (s *Simulator) doMarkMissed(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	reason := gofakeit.RandomString([]string{"", "no show", "phone unreachable", "travelling"})
	_, _, _ = s.call(ctx, &s.metrics.MarkMissed, http.MethodPost, "/appointments/"+id+"/status",
		api.StatusRequest{Status: string(tracking.StatusMissed), Reason: &reason})
}

func (s *Simulator) doReschedule(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	date := time.Now().AddDate(0, 0, 1+rng.Intn(14))
	_, _, _ = s.call(ctx, &s.metrics.Reschedule, http.MethodPost, "/appointments/"+id+"/reschedule",
		api.RescheduleRequest{Date: date.Format(time.RFC3339)})
}

func (s *Simulator) doComplete(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	attended := time.Now().Add(-time.Duration(rng.Intn(6*24)) * time.Hour)
	req := api.CompleteRequest{
		AttendedDate: attended.Format(time.RFC3339),
		Approximate:  rng.Intn(4) == 0,
		NextVisit: &api.NextVisitRequest{
			Date:  time.Now().AddDate(0, 0, 7+rng.Intn(21)).Format(time.RFC3339),
			Notes: "scheduled by simulator",
		},
	}
	status, body, err := s.call(ctx, &s.metrics.Complete, http.MethodPost, "/appointments/"+id+"/complete", req)
	if err != nil || status != http.StatusOK {
		return
	}
	var res tracking.CompletionResult
	if json.Unmarshal(body, &res) == nil && res.NextVisit != nil {
		s.pool.AddAppointment(res.NextVisit.ID)
	}
}

func (s *Simulator) doRead(ctx context.Context, rng *rand.Rand) {
	var path string
	switch rng.Intn(3) {
	case 0:
		id, ok := s.pool.RandomAppointment(rng)
		if !ok {
			return
		}
		path = "/appointments/" + id
	case 1:
		id, ok := s.pool.RandomSubject(rng)
		if !ok {
			return
		}
		path = "/appointments?subject_id=" + id
	default:
		path = "/changelog?type=Update"
	}
	_, _, _ = s.call(ctx, &s.metrics.Read, http.MethodGet, path, nil)
}

// call sends one request and records it. 422 and 404 count as rejections.
func (s *Simulator) call(ctx context.Context, om *OperationMetrics, method, path string, payload any) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, body)
	if err != nil {
		return 0, nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		if ctx.Err() == nil {
			om.Record(latency, false, false)
		}
		return 0, nil, err
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)

	success := resp.StatusCode < 300
	rejected := resp.StatusCode == http.StatusUnprocessableEntity || resp.StatusCode == http.StatusNotFound
	om.Record(latency, success, rejected)
	return resp.StatusCode, data, nil
}

func (s *Simulator) PrintReport(w io.Writer) {
	fmt.Fprintln(w, "\n"+strings.Repeat("=", 80))
	fmt.Fprintln(w, "SIMULATION REPORT")
	fmt.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintf(w, "Duration: %s\n", s.config.Duration)
	fmt.Fprintf(w, "Workers: %d\n\n", s.config.Workers)

	printOperationReport(w, "Create subject", &s.metrics.CreateSubject)
	printOperationReport(w, "Book", &s.metrics.Book)
	printOperationReport(w, "Mark missed", &s.metrics.MarkMissed)
	printOperationReport(w, "Reschedule", &s.metrics.Reschedule)
	printOperationReport(w, "Complete", &s.metrics.Complete)
	printOperationReport(w, "Read", &s.metrics.Read)
}

func printOperationReport(w io.Writer, name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}
	success := atomic.LoadInt64(&om.Success)
	rejected := atomic.LoadInt64(&om.Rejected)
	failed := atomic.LoadInt64(&om.Error)
	avg, min, max, p50, p95 := om.Stats()

	fmt.Fprintf(w, "%s:\n", name)
	fmt.Fprintf(w, "  Total: %d\n", total)
	fmt.Fprintf(w, "  Success: %d (%.1f%%)\n", success, pct(success, total))
	if rejected > 0 {
		fmt.Fprintf(w, "  Rejected: %d (%.1f%%)\n", rejected, pct(rejected, total))
	}
	if failed > 0 {
		fmt.Fprintf(w, "  Errors: %d (%.1f%%)\n", failed, pct(failed, total))
	}
	fmt.Fprintf(w, "  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
}

func pct(n, total int64) float64 {
	return float64(n) / float64(total) * 100
}
