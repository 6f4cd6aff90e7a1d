package tracking

import (
	"fmt"
	"strings"
)

const bulkImportComment = "Bulk import"

type stagedSubject struct {
	record   Subject
	existing *Subject
}

// ImportBulk merges tokenized rows into the directory and appointment store.
// Every row yields exactly one new appointment. Subjects are created or
// merged once per distinct id, and the whole batch appends at most two
// summary entries to the change log.
func (e *Engine) ImportBulk(s Snapshot, rows []ImportRow) (ImportResult, Mutation) {
	t := e.begin(s)

	var (
		res     ImportResult
		order   []string
		staged  = make(map[string]*stagedSubject)
		pending []Appointment
		missed  int
	)

	for i, row := range rows {
		id := normalizeSubjectID(row.SubjectID)
		if id == "" || row.AppointmentDate.IsZero() {
			line := row.Line
			if line == 0 {
				line = i + 1
			}
			res.Rejected = append(res.Rejected, RowRejection{Line: line, SubjectID: id, Reason: "missing subject id or appointment date"})
			continue
		}

		st, ok := staged[id]
		if !ok {
			if existing, found := t.snap.subject(id); found {
				cp := existing
				st = &stagedSubject{record: existing, existing: &cp}
			} else {
				st = &stagedSubject{record: Subject{ID: id, InsertionDate: t.startOfDay()}}
			}
			staged[id] = st
			order = append(order, id)
		}
		mergeRow(&st.record, row)

		appt := Appointment{
			ID:        e.newID(),
			SubjectID: id,
			Date:      row.AppointmentDate,
			Status:    StatusScheduled,
			Notes:     strings.TrimSpace(row.Remark),
		}
		if row.AppointmentDate.Before(t.now) {
			appt.Status = StatusMissed
			appt.FollowUpReason = BulkMissedReason
			missed++
		}
		pending = append(pending, appt)
	}

	for _, id := range order {
		st := staged[id]
		switch {
		case st.existing == nil:
			if st.record.Name == "" {
				st.record.Name = defaultSubjectName(id)
			}
			t.snap.Subjects[id] = st.record
			res.SubjectsCreated++
		case !st.record.sameValues(*st.existing):
			t.snap.Subjects[id] = st.record
			res.SubjectsUpdated++
		}
	}
	t.snap.Appointments = append(t.snap.Appointments, pending...)
	res.AppointmentsCreated = len(pending)

	if n := res.SubjectsCreated + res.SubjectsUpdated; n > 0 {
		ct := ChangeCreate
		if res.SubjectsCreated == 0 {
			ct = ChangeUpdate
		}
		t.record("", bulkImportComment, ct,
			fmt.Sprintf("Bulk import: %d subjects created, %d updated", res.SubjectsCreated, res.SubjectsUpdated),
			bulkImportComment)
	}
	if res.AppointmentsCreated > 0 {
		t.record("", bulkImportComment, ChangeCreate,
			fmt.Sprintf("Bulk import: %d appointments created (%d scheduled, %d missed)",
				res.AppointmentsCreated, res.AppointmentsCreated-missed, missed),
			bulkImportComment)
	}
	return res, t.result()
}

// mergeRow overwrites name, phone and insertion date only with non-empty incoming values.
func mergeRow(dst *Subject, row ImportRow) {
	if v := strings.TrimSpace(row.Name); v != "" {
		dst.Name = v
	}
	if v := strings.TrimSpace(row.Phone); v != "" {
		dst.Phone = v
	}
	if !row.InsertionDate.IsZero() {
		dst.InsertionDate = row.InsertionDate
	}
}
