package tracking

import (
	"fmt"
	"strings"
	"time"
)

// AutoMiss moves every Scheduled appointment dated strictly before now to
// Missed. Running it again without time passing changes nothing.
func (e *Engine) AutoMiss(s Snapshot) ([]Appointment, Mutation) {
	t := e.begin(s)

	var missed []Appointment
	for i := range t.snap.Appointments {
		a := &t.snap.Appointments[i]
		if a.Status != StatusScheduled || !a.Date.Before(t.now) {
			continue
		}
		a.Status = StatusMissed
		a.FollowUpReason = AutoMissReason
		a.Notes = appendNote(a.Notes, fmt.Sprintf("[System] Marked as missed automatically on %s", formatDate(t.now)))
		t.recordFor(a.SubjectID, ChangeUpdate,
			statusDetails(StatusScheduled, StatusMissed), "Automatically marked as missed: appointment date has passed")
		missed = append(missed, *a)
	}
	return missed, t.result()
}

// BookAppointment schedules a visit for an active subject.
func (e *Engine) BookAppointment(s Snapshot, subjectID string, date time.Time, notes string) (Appointment, Mutation, error) {
	t := e.begin(s)

	subjectID = normalizeSubjectID(subjectID)
	if _, ok := t.snap.subject(subjectID); !ok {
		return Appointment{}, Mutation{}, subjectNotFound(subjectID)
	}
	if date.IsZero() {
		return Appointment{}, Mutation{}, invalid(CodeMissingAppointmentDate, "date", "appointment date is required")
	}

	appt := t.schedule(subjectID, date, notes)
	comment := strings.TrimSpace(notes)
	if comment == "" {
		comment = "Appointment booked"
	}
	t.recordFor(subjectID, ChangeCreate, "Appointment scheduled for "+formatDate(date), comment)
	return appt, t.result(), nil
}

func (t *txn) schedule(subjectID string, date time.Time, notes string) Appointment {
	appt := Appointment{
		ID:        t.e.newID(),
		SubjectID: subjectID,
		Date:      date,
		Status:    StatusScheduled,
		Notes:     notes,
	}
	t.snap.Appointments = append(t.snap.Appointments, appt)
	return appt
}

// UpdateAppointmentStatus handles the Missed and Cancelled transitions.
// Completion carries a mandatory follow-up and goes through CompleteAppointment.
// A nil reason means the field was not supplied; a blank one is accepted.
func (e *Engine) UpdateAppointmentStatus(s Snapshot, id string, to AppointmentStatus, reason *string) (Appointment, Mutation, error) {
	t := e.begin(s)

	idx := t.snap.appointmentIndex(id)
	if idx < 0 {
		return Appointment{}, Mutation{}, appointmentNotFound(id)
	}
	a := &t.snap.Appointments[idx]
	from := a.Status
	open := from == StatusScheduled || from == StatusMissed

	switch {
	case to == StatusCompleted && open:
		return Appointment{}, Mutation{}, invalid(CodeMissingFollowUpChoice, "follow_up",
			"completing an appointment requires a next visit or a subject exit")
	case from == StatusScheduled && to == StatusMissed:
		if a.Date.After(t.now) {
			return Appointment{}, Mutation{}, invalid(CodeFutureMissedNotAllowed, "status",
				fmt.Sprintf("appointment on %s is in the future and cannot be missed", formatDate(a.Date)))
		}
		if reason == nil {
			return Appointment{}, Mutation{}, invalid(CodeMissingReasonText, "reason", "a reason must be supplied when marking as missed")
		}
	case open && to == StatusCancelled:
	default:
		return Appointment{}, Mutation{}, invalid(CodeInvalidStatusTransition, "status",
			fmt.Sprintf("cannot change status from %s to %s", from, to))
	}

	text := ""
	if reason != nil {
		text = strings.TrimSpace(*reason)
	}
	a.Status = to
	a.FollowUpReason = text

	comment := text
	if comment == "" {
		comment = "Marked as " + strings.ToLower(string(to))
	}
	t.recordFor(a.SubjectID, ChangeUpdate, statusDetails(from, to), comment)
	return *a, t.result(), nil
}

// RescheduleAppointment moves a Scheduled or Missed appointment to a new date,
// keeping its id. The new date must fall after the start of the current day.
func (e *Engine) RescheduleAppointment(s Snapshot, id string, newDate time.Time) (Appointment, Mutation, error) {
	t := e.begin(s)

	idx := t.snap.appointmentIndex(id)
	if idx < 0 {
		return Appointment{}, Mutation{}, appointmentNotFound(id)
	}
	a := &t.snap.Appointments[idx]
	from := a.Status
	if from != StatusScheduled && from != StatusMissed {
		return Appointment{}, Mutation{}, invalid(CodeInvalidStatusTransition, "status",
			fmt.Sprintf("cannot reschedule a %s appointment", from))
	}
	if !newDate.After(t.startOfDay()) {
		return Appointment{}, Mutation{}, invalid(CodePastRescheduleDate, "date",
			fmt.Sprintf("new date %s is before today", formatDate(newDate)))
	}

	original := a.Date
	a.Date = newDate
	a.Status = StatusScheduled
	a.FollowUpReason = ""
	a.Notes = appendNote(a.Notes, "Rescheduled from "+formatDate(original))

	details := fmt.Sprintf("Date: %s -> %s", formatDate(original), formatDate(newDate))
	if from != StatusScheduled {
		details += "; " + statusDetails(from, StatusScheduled)
	}
	t.recordFor(a.SubjectID, ChangeUpdate, details, "Appointment rescheduled")
	return *a, t.result(), nil
}

// CompleteAppointment marks a visit as attended and applies its follow-up:
// either a new Scheduled appointment or the subject's exit, never both.
// A Missed appointment can only be corrected when the attended date falls
// within the trailing correction window; a Scheduled one accepts any date.
func (e *Engine) CompleteAppointment(s Snapshot, id string, in CompletionInput) (CompletionResult, Mutation, error) {
	t := e.begin(s)

	idx := t.snap.appointmentIndex(id)
	if idx < 0 {
		return CompletionResult{}, Mutation{}, appointmentNotFound(id)
	}
	a := t.snap.Appointments[idx]

	fu := in.FollowUp
	switch {
	case fu.NextVisit == nil && fu.Exit == nil:
		return CompletionResult{}, Mutation{}, invalid(CodeMissingFollowUpChoice, "follow_up",
			"choose a next visit or a subject exit")
	case fu.NextVisit != nil && fu.Exit != nil:
		return CompletionResult{}, Mutation{}, invalid(CodeAmbiguousFollowUpChoice, "follow_up",
			"a completion takes either a next visit or a subject exit, not both")
	}

	switch a.Status {
	case StatusScheduled:
	case StatusMissed:
		earliest := t.now.AddDate(0, 0, -CorrectionWindowDays)
		if in.AttendedDate.Before(earliest) || in.AttendedDate.After(t.now) {
			return CompletionResult{}, Mutation{}, invalid(CodeCorrectionWindowExceeded, "attended_date",
				fmt.Sprintf("attended date must be between %s and %s", formatDate(earliest), formatDate(t.now)))
		}
	default:
		return CompletionResult{}, Mutation{}, invalid(CodeInvalidStatusTransition, "status",
			fmt.Sprintf("cannot complete a %s appointment", a.Status))
	}

	if _, ok := t.snap.subject(a.SubjectID); !ok {
		return CompletionResult{}, Mutation{}, subjectNotFound(a.SubjectID)
	}
	if fu.NextVisit != nil && !fu.NextVisit.Date.After(t.startOfDay()) {
		return CompletionResult{}, Mutation{}, invalid(CodePastFollowUpDate, "next_visit.date",
			fmt.Sprintf("next visit date %s is before today", formatDate(fu.NextVisit.Date)))
	}
	if fu.Exit != nil {
		if err := validateExit(*fu.Exit); err != nil {
			return CompletionResult{}, Mutation{}, err
		}
	}

	from := a.Status
	attended := in.AttendedDate
	if attended.IsZero() {
		attended = a.Date
	}
	attendedNote := "Attended on " + formatDate(attended)
	if in.Approximate {
		attendedNote += " (approximate)"
	}
	details := statusDetails(from, StatusCompleted)
	if from == StatusMissed {
		details += " (correction)"
	}

	a.Status = StatusCompleted
	a.Date = attended
	a.FollowUpReason = ""
	a.Notes = appendNote(a.Notes, attendedNote)
	t.snap.Appointments[idx] = a
	t.recordFor(a.SubjectID, ChangeUpdate, details, attendedNote)

	res := CompletionResult{Appointment: a}
	if fu.NextVisit != nil {
		next := t.schedule(a.SubjectID, fu.NextVisit.Date, fu.NextVisit.Notes)
		t.recordFor(a.SubjectID, ChangeCreate, "Next appointment scheduled for "+formatDate(next.Date),
			"Follow-up after completed visit")
		res.NextVisit = &next
	} else {
		t.applyExit(a.SubjectID, *fu.Exit)
		res.ExitedID = a.SubjectID
	}
	return res, t.result(), nil
}

func statusDetails(from, to AppointmentStatus) string {
	return fmt.Sprintf("Status: %s -> %s", from, to)
}
