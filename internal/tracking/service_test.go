package tracking

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingStore struct {
	loadErr error
	saveErr error

	mu    sync.Mutex
	saves int
}

func (f *failingStore) Load(context.Context, string) (Snapshot, error) {
	if f.loadErr != nil {
		return Snapshot{}, f.loadErr
	}
	return Snapshot{}, ErrSnapshotNotFound
}

func (f *failingStore) Save(context.Context, string, Snapshot) error {
	f.mu.Lock()
	f.saves++
	f.mu.Unlock()
	return f.saveErr
}

type stubDrafter struct {
	text string
	err  error
}

func (d stubDrafter) Draft(context.Context, Subject, Appointment) (string, error) {
	return d.text, d.err
}

type countingRecorder struct {
	nopRecorder
	mu        sync.Mutex
	fallbacks int
	persists  int
	autoMiss  int
}

func (r *countingRecorder) ObservePersist(time.Duration, error) {
	r.mu.Lock()
	r.persists++
	r.mu.Unlock()
}

func (r *countingRecorder) ObserveAutoMiss(n int) {
	r.mu.Lock()
	r.autoMiss += n
	r.mu.Unlock()
}

func (r *countingRecorder) ObserveDraftFallback() {
	r.mu.Lock()
	r.fallbacks++
	r.mu.Unlock()
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T, store SnapshotStore, opts ...Option) *Service {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	svc := NewService(fixedEngine(now), store, "test", opts...)
	t.Cleanup(func() { _ = svc.Close(context.Background()) })
	return svc
}

func TestService_PersistsAndReloads(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemorySnapshotStore()

	svc := newTestService(t, store)
	missed, err := svc.Bootstrap(ctx)
	require.NoError(t, err)
	assert.Empty(t, missed)

	_, err = svc.CreateSubject(ctx, SubjectInput{ID: "S1", Name: "Ada"}, "enrolled")
	require.NoError(t, err)
	appt, err := svc.BookAppointment(ctx, "S1", now.AddDate(0, 0, 1), "")
	require.NoError(t, err)
	require.NoError(t, svc.Flush(ctx))
	require.NoError(t, svc.Close(ctx))

	again := NewService(fixedEngine(now.AddDate(0, 0, 2)), store, "test", WithLogger(quietLogger()))
	defer again.Close(ctx)
	missed, err = again.Bootstrap(ctx)
	require.NoError(t, err)
	require.Len(t, missed, 1, "reloaded session runs the auto-miss pass")
	assert.Equal(t, appt.ID, missed[0].ID)

	got, err := again.GetAppointment(appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusMissed, got.Status)
	assert.Len(t, again.ListChangeLog(ChangeLogFilter{}), 3)
}

func TestService_BootstrapLoadError(t *testing.T) {
	t.Parallel()
	store := &failingStore{loadErr: errors.New("connection refused")}
	svc := newTestService(t, store)

	_, err := svc.Bootstrap(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Zero(t, store.saves, "nothing is written over an unreadable store")
}

func TestService_RejectedOperationsDoNotPersist(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemorySnapshotStore()
	svc := newTestService(t, store)

	_, err := svc.CreateSubject(ctx, SubjectInput{ID: ""}, "c")
	requireCode(t, err, CodeMissingSubjectID)
	_, err = svc.GetSubject("nope")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, svc.Flush(ctx))
	assert.Zero(t, store.Saves())

	_, err = svc.CreateSubject(ctx, SubjectInput{ID: "S1", Name: "Ada"}, "enrolled")
	require.NoError(t, err)
	require.NoError(t, svc.Flush(ctx))
	saves := store.Saves()
	name := "Ada"
	_, err = svc.UpdateSubject(ctx, "S1", SubjectPatch{Name: &name}, "no change")
	require.NoError(t, err)
	require.NoError(t, svc.Flush(ctx))
	assert.Equal(t, saves, store.Saves(), "a value-equal update is not saved")
	assert.Len(t, svc.ListChangeLog(ChangeLogFilter{}), 1)

	missed := svc.RunAutoMiss(ctx)
	assert.Empty(t, missed)
	require.NoError(t, svc.Flush(ctx))
	assert.Equal(t, saves, store.Saves(), "a no-op pass is not saved")
}

func TestService_SaveFailureKeepsState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := &failingStore{saveErr: errors.New("disk full")}
	rec := &countingRecorder{}
	svc := newTestService(t, store, WithRecorder(rec))

	sub, err := svc.CreateSubject(ctx, SubjectInput{ID: "S1"}, "c")
	require.NoError(t, err, "persistence failures never fail the mutation")
	assert.Equal(t, "Subject S1", sub.Name)

	err = svc.Flush(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExternalService)

	_, err = svc.GetSubject("S1")
	assert.NoError(t, err)
	rec.mu.Lock()
	assert.Equal(t, 1, rec.persists)
	rec.mu.Unlock()
}

func TestService_Flush_Coalesces(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemorySnapshotStore()
	svc := newTestService(t, store)

	for _, id := range []string{"S1", "S2", "S3", "S4", "S5"} {
		_, err := svc.CreateSubject(ctx, SubjectInput{ID: id}, "c")
		require.NoError(t, err)
	}
	require.NoError(t, svc.Flush(ctx))
	assert.LessOrEqual(t, store.Saves(), 5)
	assert.GreaterOrEqual(t, store.Saves(), 1)

	stored, err := store.Load(ctx, "test")
	require.NoError(t, err)
	assert.Len(t, stored.Subjects, 5, "the latest snapshot is always written")
}

func TestService_ImportBulk(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := newTestService(t, NewMemorySnapshotStore(), WithLocation(time.UTC))

	res := svc.ImportBulk(ctx, []RawImportRow{
		{SubjectID: "B1", AppointmentDate: "2026-05-01"},
		{SubjectID: "B2", AppointmentDate: "bad"},
		{SubjectID: "B3", AppointmentDate: "2026-04-01"},
	})
	assert.Equal(t, 2, res.AppointmentsCreated)
	assert.Equal(t, 2, res.SubjectsCreated)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, 2, res.Rejected[0].Line)

	assert.Len(t, svc.ListAppointments(AppointmentFilter{Status: StatusMissed}), 1)
}

func TestService_DraftMessage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	setup := func(t *testing.T, opts ...Option) (*Service, Appointment) {
		svc := newTestService(t, NewMemorySnapshotStore(), opts...)
		_, err := svc.CreateSubject(ctx, SubjectInput{ID: "S1", Name: "Ada"}, "c")
		require.NoError(t, err)
		appt, err := svc.BookAppointment(ctx, "S1", time.Date(2026, 4, 22, 9, 0, 0, 0, time.UTC), "")
		require.NoError(t, err)
		return svc, appt
	}

	t.Run("built-in", func(t *testing.T) {
		t.Parallel()
		svc, appt := setup(t)
		d, err := svc.DraftMessage(ctx, appt.ID)
		require.NoError(t, err)
		assert.False(t, d.Fallback)
		assert.Equal(t, "Hello Ada, this is a reminder of your visit on 2026-04-22 at 09:00.", d.Text)
	})

	t.Run("drafter", func(t *testing.T) {
		t.Parallel()
		svc, appt := setup(t, WithDrafter(stubDrafter{text: "Hi Ada!"}, time.Second))
		d, err := svc.DraftMessage(ctx, appt.ID)
		require.NoError(t, err)
		assert.Equal(t, "Hi Ada!", d.Text)
		assert.False(t, d.Fallback)
	})

	t.Run("drafter failure falls back", func(t *testing.T) {
		t.Parallel()
		rec := &countingRecorder{}
		svc, appt := setup(t, WithRecorder(rec), WithDrafter(stubDrafter{err: errors.New("503")}, time.Second))
		d, err := svc.DraftMessage(ctx, appt.ID)
		require.NoError(t, err)
		assert.True(t, d.Fallback)
		assert.Equal(t, ReminderText(Subject{Name: "Ada"}, appt), d.Text)
		rec.mu.Lock()
		assert.Equal(t, 1, rec.fallbacks)
		rec.mu.Unlock()
	})

	t.Run("empty draft falls back", func(t *testing.T) {
		t.Parallel()
		svc, appt := setup(t, WithDrafter(stubDrafter{}, time.Second))
		d, err := svc.DraftMessage(ctx, appt.ID)
		require.NoError(t, err)
		assert.True(t, d.Fallback)
	})

	t.Run("exited subject", func(t *testing.T) {
		t.Parallel()
		svc, appt := setup(t)
		require.NoError(t, svc.ExitSubject(ctx, "S1", ExitInput{Reason: ExitRemoval, Date: now}))
		d, err := svc.DraftMessage(ctx, appt.ID)
		require.NoError(t, err)
		assert.Contains(t, d.Text, "Hello Unknown")
	})

	t.Run("unknown appointment", func(t *testing.T) {
		t.Parallel()
		svc, _ := setup(t)
		_, err := svc.DraftMessage(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestReminderText_Missed(t *testing.T) {
	t.Parallel()
	appt := Appointment{Date: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC), Status: StatusMissed}
	assert.Equal(t, "Hello Unknown, we missed you at your visit on 2026-04-01. Please contact us to rebook.",
		ReminderText(Subject{}, appt))
}
