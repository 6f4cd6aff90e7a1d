package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/ilyakaznacheev/cleanenv"

	"github.com/hackgods/subject-visit-tracking/internal/app"
	"github.com/hackgods/subject-visit-tracking/internal/config"
	"github.com/hackgods/subject-visit-tracking/internal/tracking"
)

type seedConfig struct {
	Subjects    int           `env:"SEED_SUBJECTS" env-default:"200"`
	MaxVisits   int           `env:"SEED_MAX_VISITS" env-default:"3"`
	FixedVisits int           `env:"SEED_FIXED_VISITS" env-default:"0"`
	Spread      time.Duration `env:"SEED_SPREAD" env-default:"720h"`
	BatchSize   int           `env:"SEED_BATCH_SIZE" env-default:"500"`
	RandomSeed  int64         `env:"SEED_RANDOM_SEED" env-default:"0"`
}

var remarks = []string{
	"",
	"baseline visit",
	"bring lab results",
	"fasting required",
	"follow-up questionnaire",
	"phone first",
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		app.NewLogger(config.LogConfig{}).Error("config load error", "error", err)
		os.Exit(1)
	}
	logger := app.NewLogger(cfg.Log)

	var sc seedConfig
	if err := cleanenv.ReadEnv(&sc); err != nil {
		logger.Error("seed config error", "error", err)
		os.Exit(1)
	}
	if sc.Subjects <= 0 || sc.MaxVisits <= 0 || sc.BatchSize <= 0 {
		logger.Error("SEED_SUBJECTS, SEED_MAX_VISITS and SEED_BATCH_SIZE must be positive")
		os.Exit(1)
	}
	logger.Info("seed starting", "subjects", sc.Subjects, "max_visits", sc.MaxVisits, "store", cfg.StoreDriver)

	seed := sc.RandomSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	gofakeit.Seed(seed)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	session, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("session start failed", "error", err)
		os.Exit(1)
	}

	rows := generateRows(sc, time.Now().In(session.Location))
	var total tracking.ImportResult
	for offset := 0; offset < len(rows); offset += sc.BatchSize {
		end := min(offset+sc.BatchSize, len(rows))
		res := session.Service.ImportBulk(ctx, rows[offset:end])
		total.SubjectsCreated += res.SubjectsCreated
		total.SubjectsUpdated += res.SubjectsUpdated
		total.AppointmentsCreated += res.AppointmentsCreated
		total.Rejected = append(total.Rejected, res.Rejected...)
		logger.Info("rows imported", "done", end, "total", len(rows))
	}

	closeCtx, cancelClose := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelClose()
	if err := session.Close(closeCtx); err != nil {
		logger.Error("session close error", "error", err)
		os.Exit(1)
	}

	logger.Info("seed complete",
		"subjects_created", total.SubjectsCreated,
		"subjects_updated", total.SubjectsUpdated,
		"appointments_created", total.AppointmentsCreated,
		"rejected", len(total.Rejected))
}

// generateRows produces bulk-entry rows around now, some in the past so the
// import marks them missed.
func generateRows(sc seedConfig, now time.Time) []tracking.RawImportRow {
	var rows []tracking.RawImportRow
	for i := 0; i < sc.Subjects; i++ {
		id := fmt.Sprintf("SV-%05d", gofakeit.Number(1, 99999))
		name := gofakeit.Name()
		phone := gofakeit.Phone()
		enrolled := gofakeit.DateRange(now.Add(-2*sc.Spread), now.Add(-sc.Spread))

		visits := gofakeit.Number(1, sc.MaxVisits)
		if sc.FixedVisits > 0 {
			visits = sc.FixedVisits
		}
		for v := 0; v < visits; v++ {
			date := gofakeit.DateRange(now.Add(-sc.Spread), now.Add(sc.Spread)).Truncate(15 * time.Minute)
			rows = append(rows, tracking.RawImportRow{
				SubjectID:       id,
				Name:            name,
				Phone:           phone,
				InsertionDate:   enrolled.Format("2006-01-02"),
				AppointmentDate: date.Format(time.RFC3339),
				Remark:          gofakeit.RandomString(remarks),
			})
		}
	}
	return rows
}
