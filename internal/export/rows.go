package export

import (
	"time"

	"github.com/hackgods/subject-visit-tracking/internal/tracking"
)

const timeLayout = "2006-01-02 15:04"

var (
	subjectHeader     = []string{"id", "name", "phone", "alt_phone", "insertion_date", "notes"}
	appointmentHeader = []string{"id", "subject_id", "subject_name", "date", "status", "follow_up_reason", "notes"}
	changeLogHeader   = []string{"timestamp", "subject_id", "subject_name", "change_type", "details", "comment"}
)

func filterSubjects(snap tracking.Snapshot, req Request) []tracking.Subject {
	out := make([]tracking.Subject, 0)
	for _, s := range snap.ListSubjects() {
		if req.SubjectID != "" && s.ID != req.SubjectID {
			continue
		}
		if inRange(s.InsertionDate, req) {
			out = append(out, s)
		}
	}
	return out
}

func filterAppointments(snap tracking.Snapshot, req Request) []tracking.Appointment {
	out := make([]tracking.Appointment, 0)
	for _, a := range snap.ListAppointments(tracking.AppointmentFilter{SubjectID: req.SubjectID}) {
		if inRange(a.Date, req) {
			out = append(out, a)
		}
	}
	return out
}

func subjectRows(subjects []tracking.Subject) [][]string {
	rows := make([][]string, 0, len(subjects))
	for _, s := range subjects {
		rows = append(rows, []string{s.ID, s.Name, s.Phone, s.AltPhone, formatTime(s.InsertionDate), s.Notes})
	}
	return rows
}

func appointmentRows(snap tracking.Snapshot, appts []tracking.Appointment) [][]string {
	rows := make([][]string, 0, len(appts))
	for _, a := range appts {
		rows = append(rows, []string{
			a.ID, a.SubjectID, snap.SubjectName(a.SubjectID), formatTime(a.Date),
			string(a.Status), a.FollowUpReason, a.Notes,
		})
	}
	return rows
}

func changeLogRows(entries []tracking.ChangeLogEntry) [][]string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			formatTime(e.Timestamp), e.SubjectID, e.SubjectName, string(e.ChangeType), e.Details, e.Comment,
		})
	}
	return rows
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(timeLayout)
}
