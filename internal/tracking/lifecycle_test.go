package tracking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestAutoMiss(t *testing.T) {
	t.Parallel()
	e := fixedEngine(now)
	s := withSubject(t, e, NewSnapshot(), "A001", "Ada")
	s, yesterday := withAppointment(t, e, s, "A001", now.AddDate(0, 0, -1))
	s, justPast := withAppointment(t, e, s, "A001", now.Add(-time.Minute))
	s, exactlyNow := withAppointment(t, e, s, "A001", now)
	s, future := withAppointment(t, e, s, "A001", now.Add(time.Hour))

	missed, m := e.AutoMiss(s)
	require.Len(t, missed, 2)
	require.Len(t, m.Entries, 2)

	got, err := m.Snapshot.GetAppointment(yesterday.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusMissed, got.Status)
	assert.Equal(t, AutoMissReason, got.FollowUpReason)
	assert.Contains(t, got.Notes, "[System] Marked as missed automatically")

	got, _ = m.Snapshot.GetAppointment(justPast.ID)
	assert.Equal(t, StatusMissed, got.Status)
	got, _ = m.Snapshot.GetAppointment(exactlyNow.ID)
	assert.Equal(t, StatusScheduled, got.Status, "only strictly earlier dates are missed")
	got, _ = m.Snapshot.GetAppointment(future.ID)
	assert.Equal(t, StatusScheduled, got.Status)

	for _, a := range m.Snapshot.Appointments {
		if a.Status == StatusScheduled {
			assert.False(t, a.Date.Before(now))
		}
	}
	assert.Equal(t, "Status: Scheduled -> Missed", m.Entries[0].Details)
	assert.Equal(t, ChangeUpdate, m.Entries[0].ChangeType)

	again, m2 := e.AutoMiss(m.Snapshot)
	assert.Empty(t, again)
	assert.False(t, m2.Changed(), "second pass is a no-op")
}

func TestBookAppointment(t *testing.T) {
	t.Parallel()
	e := fixedEngine(now)
	s := withSubject(t, e, NewSnapshot(), "S1", "Ada")

	appt, m, err := e.BookAppointment(s, " S1 ", now.AddDate(0, 0, 7), "baseline")
	require.NoError(t, err)
	assert.Equal(t, "S1", appt.SubjectID)
	assert.Equal(t, StatusScheduled, appt.Status)
	assert.NotEmpty(t, appt.ID)
	require.Len(t, m.Entries, 1)
	assert.Equal(t, ChangeCreate, m.Entries[0].ChangeType)
	assert.Equal(t, "baseline", m.Entries[0].Comment)

	_, _, err = e.BookAppointment(s, "S2", now, "")
	assert.ErrorIs(t, err, ErrNotFound)

	_, _, err = e.BookAppointment(s, "S1", time.Time{}, "")
	requireCode(t, err, CodeMissingAppointmentDate)
}

func TestUpdateAppointmentStatus_FutureMissedRejected(t *testing.T) {
	t.Parallel()
	e := fixedEngine(now)
	s := withSubject(t, e, NewSnapshot(), "S1", "Ada")
	s, appt := withAppointment(t, e, s, "S1", now.Add(time.Second))

	_, m, err := e.UpdateAppointmentStatus(s, appt.ID, StatusMissed, ptr("no show"))
	requireCode(t, err, CodeFutureMissedNotAllowed)
	assert.False(t, m.Changed())

	unchanged, err := s.GetAppointment(appt.ID)
	require.NoError(t, err)
	assert.Equal(t, appt, unchanged)
}

func TestUpdateAppointmentStatus_Missed(t *testing.T) {
	t.Parallel()
	e := fixedEngine(now)
	s := withSubject(t, e, NewSnapshot(), "S1", "Ada")
	s, appt := withAppointment(t, e, s, "S1", now)

	_, _, err := e.UpdateAppointmentStatus(s, appt.ID, StatusMissed, nil)
	requireCode(t, err, CodeMissingReasonText)

	got, m, err := e.UpdateAppointmentStatus(s, appt.ID, StatusMissed, ptr(""))
	require.NoError(t, err, "a blank reason is accepted")
	assert.Equal(t, StatusMissed, got.Status)
	assert.Equal(t, "Marked as missed", m.Entries[0].Comment)

	got, m, err = e.UpdateAppointmentStatus(s, appt.ID, StatusMissed, ptr(" phone off "))
	require.NoError(t, err)
	assert.Equal(t, "phone off", got.FollowUpReason)
	assert.Equal(t, "phone off", m.Entries[0].Comment)
}

func TestUpdateAppointmentStatus_Transitions(t *testing.T) {
	t.Parallel()
	e := fixedEngine(now)
	s := withSubject(t, e, NewSnapshot(), "S1", "Ada")
	s, appt := withAppointment(t, e, s, "S1", now.AddDate(0, 0, 2))

	_, _, err := e.UpdateAppointmentStatus(s, appt.ID, StatusCompleted, nil)
	requireCode(t, err, CodeMissingFollowUpChoice)

	cancelled, m, err := e.UpdateAppointmentStatus(s, appt.ID, StatusCancelled, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.Equal(t, "Status: Scheduled -> Cancelled", m.Entries[0].Details)

	for _, to := range []AppointmentStatus{StatusScheduled, StatusMissed, StatusCancelled, StatusCompleted} {
		_, _, err := e.UpdateAppointmentStatus(m.Snapshot, appt.ID, to, ptr("x"))
		requireCode(t, err, CodeInvalidStatusTransition)
	}

	_, _, err = e.UpdateAppointmentStatus(s, "missing", StatusCancelled, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRescheduleAppointment(t *testing.T) {
	t.Parallel()
	e := fixedEngine(now)
	s := withSubject(t, e, NewSnapshot(), "S1", "Ada")
	s, appt := withAppointment(t, e, s, "S1", now.AddDate(0, 0, -3))
	_, m := e.AutoMiss(s)
	s = m.Snapshot

	startOfToday := time.Date(2026, 4, 20, 0, 0, 0, 0, time.UTC)
	_, _, err := e.RescheduleAppointment(s, appt.ID, startOfToday.Add(-time.Minute))
	requireCode(t, err, CodePastRescheduleDate)
	_, _, err = e.RescheduleAppointment(s, appt.ID, startOfToday)
	requireCode(t, err, CodePastRescheduleDate)

	tomorrow := now.AddDate(0, 0, 1)
	got, m, err := e.RescheduleAppointment(s, appt.ID, tomorrow)
	require.NoError(t, err)
	assert.Equal(t, appt.ID, got.ID)
	assert.Equal(t, tomorrow, got.Date)
	assert.Equal(t, StatusScheduled, got.Status)
	assert.Empty(t, got.FollowUpReason)
	assert.Contains(t, got.Notes, "Rescheduled from 2026-04-17 14:30")
	assert.Len(t, m.Snapshot.Appointments, 1, "rescheduling never creates a second appointment")
	assert.Equal(t, "Date: 2026-04-17 14:30 -> 2026-04-21 14:30; Status: Missed -> Scheduled", m.Entries[0].Details)

	later, _, err := e.RescheduleAppointment(s, appt.ID, now.Add(time.Hour))
	require.NoError(t, err, "later today is after the start of today")
	assert.Equal(t, appt.ID, later.ID)

	cancelled, cm, err := e.UpdateAppointmentStatus(m.Snapshot, appt.ID, StatusCancelled, nil)
	require.NoError(t, err)
	_, _, err = e.RescheduleAppointment(cm.Snapshot, cancelled.ID, tomorrow)
	requireCode(t, err, CodeInvalidStatusTransition)
}

func missedAppointment(t *testing.T, e *Engine, subjectID string) (Snapshot, Appointment) {
	t.Helper()
	s := withSubject(t, e, NewSnapshot(), subjectID, "Ada")
	s, appt := withAppointment(t, e, s, subjectID, now.AddDate(0, 0, -7))
	_, m := e.AutoMiss(s)
	return m.Snapshot, appt
}

func TestCompleteAppointment_CorrectionWindow(t *testing.T) {
	t.Parallel()
	e := fixedEngine(now)
	s, appt := missedAppointment(t, e, "S1")
	next := FollowUp{NextVisit: &NextVisit{Date: now.AddDate(0, 1, 0)}}

	tests := []struct {
		name     string
		attended time.Time
		ok       bool
	}{
		{name: "five days back is inclusive", attended: now.AddDate(0, 0, -5), ok: true},
		{name: "exactly now", attended: now, ok: true},
		{name: "six days back", attended: now.AddDate(0, 0, -6), ok: false},
		{name: "one second past the window", attended: now.AddDate(0, 0, -5).Add(-time.Second), ok: false},
		{name: "in the future", attended: now.Add(time.Minute), ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res, _, err := e.CompleteAppointment(s, appt.ID, CompletionInput{AttendedDate: tt.attended, FollowUp: next})
			if !tt.ok {
				requireCode(t, err, CodeCorrectionWindowExceeded)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, StatusCompleted, res.Appointment.Status)
			assert.Equal(t, tt.attended, res.Appointment.Date)
		})
	}
}

func TestCompleteAppointment_ScheduledAcceptsAnyDate(t *testing.T) {
	t.Parallel()
	e := fixedEngine(now)
	s := withSubject(t, e, NewSnapshot(), "S1", "Ada")
	s, appt := withAppointment(t, e, s, "S1", now.AddDate(0, 0, 10))

	res, _, err := e.CompleteAppointment(s, appt.ID, CompletionInput{
		AttendedDate: now.AddDate(0, 0, 20),
		FollowUp:     FollowUp{NextVisit: &NextVisit{Date: now.AddDate(0, 1, 0)}},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Appointment.Status)
}

func TestCompleteAppointment_NextVisit(t *testing.T) {
	t.Parallel()
	e := fixedEngine(now)
	s, appt := missedAppointment(t, e, "S1")
	before := len(s.ChangeLog)

	res, m, err := e.CompleteAppointment(s, appt.ID, CompletionInput{
		AttendedDate: now.AddDate(0, 0, -2),
		Approximate:  true,
		FollowUp:     FollowUp{NextVisit: &NextVisit{Date: now.AddDate(0, 0, 14), Notes: "week 3"}},
	})
	require.NoError(t, err)

	assert.Contains(t, res.Appointment.Notes, "(approximate)")
	require.NotNil(t, res.NextVisit)
	assert.Empty(t, res.ExitedID)
	assert.Equal(t, StatusScheduled, res.NextVisit.Status)
	assert.Equal(t, "week 3", res.NextVisit.Notes)

	assert.Len(t, m.Snapshot.Appointments, 2)
	assert.Len(t, m.Snapshot.Subjects, 1)
	require.Len(t, m.Entries, 2)
	assert.Equal(t, len(m.Snapshot.ChangeLog), before+2)
	assert.Equal(t, "Status: Missed -> Completed (correction)", m.Entries[0].Details)
	assert.Equal(t, ChangeCreate, m.Entries[1].ChangeType)
}

func TestCompleteAppointment_Exit(t *testing.T) {
	t.Parallel()
	e := fixedEngine(now)
	s := withSubject(t, e, NewSnapshot(), "S1", "Ada")
	s, appt := withAppointment(t, e, s, "S1", now.Add(-time.Hour))

	res, m, err := e.CompleteAppointment(s, appt.ID, CompletionInput{
		FollowUp: FollowUp{Exit: &ExitInput{Reason: ExitCompletedStudy, Date: now}},
	})
	require.NoError(t, err)

	assert.Nil(t, res.NextVisit)
	assert.Equal(t, "S1", res.ExitedID)
	assert.Equal(t, appt.Date, res.Appointment.Date, "zero attended date keeps the visit date")
	assert.Empty(t, m.Snapshot.ListSubjects())
	assert.Len(t, m.Snapshot.Appointments, 1)

	require.Len(t, m.Entries, 2)
	assert.Equal(t, ChangeUpdate, m.Entries[0].ChangeType)
	assert.Equal(t, ChangeDelete, m.Entries[1].ChangeType)
	assert.Equal(t, "Ada", m.Entries[1].SubjectName)
}

func TestCompleteAppointment_Validation(t *testing.T) {
	t.Parallel()
	e := fixedEngine(now)
	s := withSubject(t, e, NewSnapshot(), "S1", "Ada")
	s, appt := withAppointment(t, e, s, "S1", now)

	next := &NextVisit{Date: now.AddDate(0, 0, 1)}
	exit := &ExitInput{Reason: ExitRemoval, Date: now}

	tests := []struct {
		name string
		fu   FollowUp
		code Code
	}{
		{name: "neither", fu: FollowUp{}, code: CodeMissingFollowUpChoice},
		{name: "both", fu: FollowUp{NextVisit: next, Exit: exit}, code: CodeAmbiguousFollowUpChoice},
		{name: "past next visit", fu: FollowUp{NextVisit: &NextVisit{Date: now.AddDate(0, 0, -1)}}, code: CodePastFollowUpDate},
		{name: "bad exit", fu: FollowUp{Exit: &ExitInput{Reason: ExitOther, Date: now}}, code: CodeMissingReasonText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, m, err := e.CompleteAppointment(s, appt.ID, CompletionInput{AttendedDate: now, FollowUp: tt.fu})
			requireCode(t, err, tt.code)
			assert.False(t, m.Changed())
		})
	}

	done, m, err := e.CompleteAppointment(s, appt.ID, CompletionInput{FollowUp: FollowUp{NextVisit: next}})
	require.NoError(t, err)
	_, _, err = e.CompleteAppointment(m.Snapshot, done.Appointment.ID, CompletionInput{FollowUp: FollowUp{NextVisit: next}})
	requireCode(t, err, CodeInvalidStatusTransition)

	_, _, err = e.CompleteAppointment(s, "missing", CompletionInput{FollowUp: FollowUp{NextVisit: next}})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCompleteAppointment_ExactlyOneFollowUp(t *testing.T) {
	t.Parallel()
	e := fixedEngine(now)

	followUps := []FollowUp{
		{NextVisit: &NextVisit{Date: now.AddDate(0, 0, 1)}},
		{Exit: &ExitInput{Reason: ExitExpulsion, Date: now}},
	}
	for _, fu := range followUps {
		s := withSubject(t, e, NewSnapshot(), "S1", "Ada")
		s, appt := withAppointment(t, e, s, "S1", now)

		res, m, err := e.CompleteAppointment(s, appt.ID, CompletionInput{FollowUp: fu})
		require.NoError(t, err)

		newAppointments := len(m.Snapshot.Appointments) - len(s.Appointments)
		exits := len(s.Subjects) - len(m.Snapshot.Subjects)
		assert.Equal(t, 1, newAppointments+exits, "exactly one follow-up effect")
		assert.Equal(t, res.NextVisit != nil, newAppointments == 1)
		assert.Equal(t, res.ExitedID != "", exits == 1)
	}
}

func TestCompleteAppointment_NextVisitForExitedSubject(t *testing.T) {
	t.Parallel()
	e := fixedEngine(now)
	s := withSubject(t, e, NewSnapshot(), "S1", "Ada")
	s, appt := withAppointment(t, e, s, "S1", now)
	m, err := e.ExitSubject(s, "S1", ExitInput{Reason: ExitRemoval, Date: now})
	require.NoError(t, err)

	_, _, err = e.CompleteAppointment(m.Snapshot, appt.ID, CompletionInput{
		FollowUp: FollowUp{NextVisit: &NextVisit{Date: now.AddDate(0, 0, 1)}},
	})
	assert.ErrorIs(t, err, ErrNotFound)
}
