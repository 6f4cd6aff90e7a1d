package tracking

import (
	"sort"
)

// Snapshot is the full session state: the active directory, every
// appointment ever created and the change log in append order.
type Snapshot struct {
	Subjects     map[string]Subject `json:"subjects"`
	Appointments []Appointment      `json:"appointments"`
	ChangeLog    []ChangeLogEntry   `json:"change_log"`
}

func NewSnapshot() Snapshot {
	return Snapshot{
		Subjects:     make(map[string]Subject),
		Appointments: []Appointment{},
		ChangeLog:    []ChangeLogEntry{},
	}
}

// Clone returns a deep copy; mutations on the copy never reach s.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{
		Subjects:     make(map[string]Subject, len(s.Subjects)),
		Appointments: make([]Appointment, len(s.Appointments)),
		ChangeLog:    make([]ChangeLogEntry, len(s.ChangeLog)),
	}
	for k, v := range s.Subjects {
		out.Subjects[k] = v
	}
	copy(out.Appointments, s.Appointments)
	copy(out.ChangeLog, s.ChangeLog)
	return out
}

func (s Snapshot) subject(id string) (Subject, bool) {
	sub, ok := s.Subjects[id]
	return sub, ok
}

// SubjectName resolves a weak subject reference; exited or unknown ids yield "Unknown".
func (s Snapshot) SubjectName(id string) string {
	if sub, ok := s.Subjects[id]; ok {
		return sub.Name
	}
	return UnknownSubjectName
}

func (s Snapshot) appointmentIndex(id string) int {
	for i := range s.Appointments {
		if s.Appointments[i].ID == id {
			return i
		}
	}
	return -1
}

// ListSubjects returns active subjects ordered by id.
func (s Snapshot) ListSubjects() []Subject {
	out := make([]Subject, 0, len(s.Subjects))
	for _, sub := range s.Subjects {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s Snapshot) GetSubject(id string) (Subject, error) {
	sub, ok := s.Subjects[normalizeSubjectID(id)]
	if !ok {
		return Subject{}, subjectNotFound(id)
	}
	return sub, nil
}

func (s Snapshot) GetAppointment(id string) (Appointment, error) {
	idx := s.appointmentIndex(id)
	if idx < 0 {
		return Appointment{}, appointmentNotFound(id)
	}
	return s.Appointments[idx], nil
}

// ListAppointments returns matching appointments ordered by date, then id.
// Appointments of exited subjects stay retrievable by subject id.
func (s Snapshot) ListAppointments(f AppointmentFilter) []Appointment {
	subjectID := normalizeSubjectID(f.SubjectID)
	out := make([]Appointment, 0)
	for _, a := range s.Appointments {
		if subjectID != "" && a.SubjectID != subjectID {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Date.Equal(out[j].Date) {
			return out[i].ID < out[j].ID
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out
}

// ensure replaces nil collections left by decoding partial snapshots.
func (s Snapshot) ensure() Snapshot {
	if s.Subjects == nil {
		s.Subjects = make(map[string]Subject)
	}
	if s.Appointments == nil {
		s.Appointments = []Appointment{}
	}
	if s.ChangeLog == nil {
		s.ChangeLog = []ChangeLogEntry{}
	}
	return s
}
