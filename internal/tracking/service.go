package tracking

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
)

const defaultDraftTimeout = 10 * time.Second

// Drafter produces free text for a subject's appointment.
type Drafter interface {
	Draft(ctx context.Context, sub Subject, appt Appointment) (string, error)
}

// Recorder receives operational measurements.
type Recorder interface {
	ObserveOperation(op string, d time.Duration, err error)
	ObservePersist(d time.Duration, err error)
	ObserveAutoMiss(n int)
	ObserveImport(res ImportResult)
	ObserveDraftFallback()
}

type nopRecorder struct{}

func (nopRecorder) ObserveOperation(string, time.Duration, error) {}
func (nopRecorder) ObservePersist(time.Duration, error)           {}
func (nopRecorder) ObserveAutoMiss(int)                           {}
func (nopRecorder) ObserveImport(ImportResult)                    {}
func (nopRecorder) ObserveDraftFallback()                         {}

// Draft is the outcome of DraftMessage. Fallback is set when the drafter
// failed and the built-in reminder text was used instead.
type Draft struct {
	AppointmentID string `json:"appointment_id"`
	SubjectID     string `json:"subject_id"`
	Text          string `json:"text"`
	Fallback      bool   `json:"fallback"`
}

// Service owns one session snapshot. Calls are serialized; each successful
// mutation replaces the snapshot and is handed to the detached persister.
type Service struct {
	engine       *Engine
	store        SnapshotStore
	key          string
	logger       *slog.Logger
	metrics      Recorder
	drafter      Drafter
	draftTimeout time.Duration
	loc          *time.Location

	mu   sync.Mutex
	snap Snapshot

	persist *persister
}

type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.metrics = r }
}

func WithDrafter(d Drafter, timeout time.Duration) Option {
	return func(s *Service) {
		s.drafter = d
		if timeout > 0 {
			s.draftTimeout = timeout
		}
	}
}

// WithLocation sets the zone used to read import dates that carry no offset.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) { s.loc = loc }
}

func NewService(engine *Engine, store SnapshotStore, key string, opts ...Option) *Service {
	s := &Service{
		engine:       engine,
		store:        store,
		key:          key,
		logger:       slog.Default(),
		metrics:      nopRecorder{},
		draftTimeout: defaultDraftTimeout,
		loc:          time.Local,
		snap:         NewSnapshot(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.persist = newPersister(store, key, s.logger, s.metrics)
	return s
}

// Bootstrap loads the stored snapshot, or starts empty when none exists,
// then runs the auto-miss pass.
func (s *Service) Bootstrap(ctx context.Context) ([]Appointment, error) {
	snap, err := s.store.Load(ctx, s.key)
	switch {
	case errors.Is(err, ErrSnapshotNotFound):
		s.logger.InfoContext(ctx, "no stored snapshot, starting empty", "key", s.key)
		snap = NewSnapshot()
	case err != nil:
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	s.mu.Lock()
	s.snap = snap.ensure()
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "session loaded", "key", s.key,
		"subjects", len(snap.Subjects), "appointments", len(snap.Appointments), "entries", len(snap.ChangeLog))
	return s.RunAutoMiss(ctx), nil
}

// RunAutoMiss marks every overdue Scheduled appointment as Missed.
func (s *Service) RunAutoMiss(ctx context.Context) []Appointment {
	start := time.Now()
	s.mu.Lock()
	missed, m := s.engine.AutoMiss(s.snap)
	s.commitLocked(m)
	s.mu.Unlock()

	s.metrics.ObserveOperation("auto_miss", time.Since(start), nil)
	s.metrics.ObserveAutoMiss(len(missed))
	if len(missed) > 0 {
		s.logger.InfoContext(ctx, "auto-miss pass", "missed", len(missed))
	}
	return missed
}

func (s *Service) CreateSubject(ctx context.Context, in SubjectInput, comment string) (Subject, error) {
	start := time.Now()
	s.mu.Lock()
	sub, m, err := s.engine.CreateSubject(s.snap, in, comment)
	if err == nil {
		s.commitLocked(m)
	}
	s.mu.Unlock()
	s.observe(ctx, "create_subject", start, err)
	return sub, err
}

func (s *Service) UpdateSubject(ctx context.Context, id string, patch SubjectPatch, comment string) (Subject, error) {
	start := time.Now()
	s.mu.Lock()
	sub, m, err := s.engine.UpdateSubject(s.snap, id, patch, comment)
	if err == nil {
		s.commitLocked(m)
	}
	s.mu.Unlock()
	s.observe(ctx, "update_subject", start, err)
	return sub, err
}

func (s *Service) ExitSubject(ctx context.Context, id string, exit ExitInput) error {
	start := time.Now()
	s.mu.Lock()
	m, err := s.engine.ExitSubject(s.snap, id, exit)
	if err == nil {
		s.commitLocked(m)
	}
	s.mu.Unlock()
	s.observe(ctx, "exit_subject", start, err)
	return err
}

func (s *Service) BookAppointment(ctx context.Context, subjectID string, date time.Time, notes string) (Appointment, error) {
	start := time.Now()
	s.mu.Lock()
	appt, m, err := s.engine.BookAppointment(s.snap, subjectID, date, notes)
	if err == nil {
		s.commitLocked(m)
	}
	s.mu.Unlock()
	s.observe(ctx, "book_appointment", start, err)
	return appt, err
}

func (s *Service) UpdateAppointmentStatus(ctx context.Context, id string, to AppointmentStatus, reason *string) (Appointment, error) {
	start := time.Now()
	s.mu.Lock()
	appt, m, err := s.engine.UpdateAppointmentStatus(s.snap, id, to, reason)
	if err == nil {
		s.commitLocked(m)
	}
	s.mu.Unlock()
	s.observe(ctx, "update_status", start, err)
	return appt, err
}

func (s *Service) RescheduleAppointment(ctx context.Context, id string, newDate time.Time) (Appointment, error) {
	start := time.Now()
	s.mu.Lock()
	appt, m, err := s.engine.RescheduleAppointment(s.snap, id, newDate)
	if err == nil {
		s.commitLocked(m)
	}
	s.mu.Unlock()
	s.observe(ctx, "reschedule_appointment", start, err)
	return appt, err
}

func (s *Service) CompleteAppointment(ctx context.Context, id string, in CompletionInput) (CompletionResult, error) {
	start := time.Now()
	s.mu.Lock()
	res, m, err := s.engine.CompleteAppointment(s.snap, id, in)
	if err == nil {
		s.commitLocked(m)
	}
	s.mu.Unlock()
	s.observe(ctx, "complete_appointment", start, err)
	return res, err
}

// ImportBulk tokenizes raw rows and reconciles the accepted ones. Rejected
// rows are reported in the result and never imported.
func (s *Service) ImportBulk(ctx context.Context, raw []RawImportRow) ImportResult {
	start := time.Now()
	rows, rejected := ParseImportRows(raw, s.loc)

	s.mu.Lock()
	res, m := s.engine.ImportBulk(s.snap, rows)
	s.commitLocked(m)
	s.mu.Unlock()

	res.Rejected = append(rejected, res.Rejected...)
	slices.SortStableFunc(res.Rejected, func(a, b RowRejection) int { return cmp.Compare(a.Line, b.Line) })
	s.metrics.ObserveImport(res)
	s.observe(ctx, "import_bulk", start, nil)
	s.logger.InfoContext(ctx, "bulk import",
		"rows", len(raw),
		"subjects_created", res.SubjectsCreated,
		"subjects_updated", res.SubjectsUpdated,
		"appointments_created", res.AppointmentsCreated,
		"rejected", len(res.Rejected))
	return res
}

func (s *Service) ListSubjects() []Subject {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.ListSubjects()
}

func (s *Service) GetSubject(id string) (Subject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.GetSubject(id)
}

func (s *Service) ListAppointments(f AppointmentFilter) []Appointment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.ListAppointments(f)
}

func (s *Service) GetAppointment(id string) (Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.GetAppointment(id)
}

func (s *Service) ListChangeLog(f ChangeLogFilter) []ChangeLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.ListChangeLog(f)
}

// Snapshot returns a copy of the current session state.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.Clone()
}

// DraftMessage asks the drafter for reminder text. Drafter failures never
// reach the caller; they are logged and replaced by ReminderText.
func (s *Service) DraftMessage(ctx context.Context, appointmentID string) (Draft, error) {
	s.mu.Lock()
	appt, err := s.snap.GetAppointment(appointmentID)
	var sub Subject
	if err == nil {
		var ok bool
		if sub, ok = s.snap.subject(appt.SubjectID); !ok {
			sub = Subject{ID: appt.SubjectID, Name: UnknownSubjectName}
		}
	}
	s.mu.Unlock()
	if err != nil {
		return Draft{}, err
	}

	d := Draft{AppointmentID: appt.ID, SubjectID: appt.SubjectID}
	if s.drafter == nil {
		d.Text = ReminderText(sub, appt)
		return d, nil
	}

	draftCtx, cancel := context.WithTimeout(ctx, s.draftTimeout)
	defer cancel()

	text, err := s.drafter.Draft(draftCtx, sub, appt)
	if err == nil && text == "" {
		err = errors.New("empty draft")
	}
	if err != nil {
		s.logger.WarnContext(ctx, "drafter failed, using fallback text",
			"appointment_id", appt.ID,
			"error", &ExternalServiceError{Service: "drafting", Err: err})
		s.metrics.ObserveDraftFallback()
		d.Text = ReminderText(sub, appt)
		d.Fallback = true
		return d, nil
	}
	d.Text = text
	return d, nil
}

// Flush waits for every pending snapshot save to finish.
func (s *Service) Flush(ctx context.Context) error {
	return s.persist.flush(ctx)
}

// Close flushes pending saves and stops the persister.
func (s *Service) Close(ctx context.Context) error {
	return s.persist.close(ctx)
}

// Ping reports the health of the persistence backend when it supports it.
func (s *Service) Ping(ctx context.Context) error {
	if p, ok := s.store.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (s *Service) commitLocked(m Mutation) {
	if !m.Changed() {
		return
	}
	s.snap = m.Snapshot
	s.persist.submit(m.Snapshot)
}

func (s *Service) observe(ctx context.Context, op string, start time.Time, err error) {
	s.metrics.ObserveOperation(op, time.Since(start), err)
	if err == nil {
		return
	}
	var ve *ValidationError
	var nf *NotFoundError
	switch {
	case errors.As(err, &ve):
		s.logger.InfoContext(ctx, "operation rejected", "op", op, "code", ve.Code, "field", ve.Field)
	case errors.As(err, &nf):
		s.logger.InfoContext(ctx, "operation rejected", "op", op, "kind", nf.Kind, "id", nf.ID)
	default:
		s.logger.ErrorContext(ctx, "operation failed", "op", op, "error", err)
	}
}

// ReminderText is the built-in reminder used when no drafter is available.
func ReminderText(sub Subject, appt Appointment) string {
	name := sub.Name
	if name == "" {
		name = UnknownSubjectName
	}
	switch appt.Status {
	case StatusMissed:
		return fmt.Sprintf("Hello %s, we missed you at your visit on %s. Please contact us to rebook.",
			name, appt.Date.Format(dateLayout))
	default:
		return fmt.Sprintf("Hello %s, this is a reminder of your visit on %s at %s.",
			name, appt.Date.Format(dateLayout), appt.Date.Format("15:04"))
	}
}
