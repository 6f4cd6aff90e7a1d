package tracking

import (
	"time"
)

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "Scheduled"
	StatusCompleted AppointmentStatus = "Completed"
	StatusMissed    AppointmentStatus = "Missed"
	StatusCancelled AppointmentStatus = "Cancelled"
)

func (s AppointmentStatus) IsValid() bool {
	switch s {
	case StatusScheduled, StatusCompleted, StatusMissed, StatusCancelled:
		return true
	}
	return false
}

type ChangeType string

const (
	ChangeCreate ChangeType = "Create"
	ChangeUpdate ChangeType = "Update"
	ChangeDelete ChangeType = "Delete"
)

func (c ChangeType) IsValid() bool {
	switch c {
	case ChangeCreate, ChangeUpdate, ChangeDelete:
		return true
	}
	return false
}

// ExitReason is the closed set of reasons a subject can leave the study.
type ExitReason string

const (
	ExitRemoval        ExitReason = "Removal"
	ExitExpulsion      ExitReason = "Expulsion"
	ExitCompletedStudy ExitReason = "CompletedStudy"
	ExitOther          ExitReason = "Other"
)

func (r ExitReason) IsValid() bool {
	switch r {
	case ExitRemoval, ExitExpulsion, ExitCompletedStudy, ExitOther:
		return true
	}
	return false
}

const (
	UnknownSubjectName = "Unknown"

	AutoMissReason   = "Auto-detected: Past date"
	BulkMissedReason = "Past date on bulk entry"
)

type Subject struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Phone         string    `json:"phone"`
	AltPhone      string    `json:"alt_phone"`
	InsertionDate time.Time `json:"insertion_date"`
	Notes         string    `json:"notes"`
}

// sameValues reports whether two records carry identical field values.
func (s Subject) sameValues(o Subject) bool {
	return s.ID == o.ID &&
		s.Name == o.Name &&
		s.Phone == o.Phone &&
		s.AltPhone == o.AltPhone &&
		s.InsertionDate.Equal(o.InsertionDate) &&
		s.Notes == o.Notes
}

type Appointment struct {
	ID             string            `json:"id"`
	SubjectID      string            `json:"subject_id"`
	Date           time.Time         `json:"date"`
	Status         AppointmentStatus `json:"status"`
	FollowUpReason string            `json:"follow_up_reason,omitempty"`
	Notes          string            `json:"notes"`
}

type ChangeLogEntry struct {
	ID          string     `json:"id"`
	Timestamp   time.Time  `json:"timestamp"`
	SubjectID   string     `json:"subject_id"`
	SubjectName string     `json:"subject_name"`
	ChangeType  ChangeType `json:"change_type"`
	Details     string     `json:"details"`
	Comment     string     `json:"comment"`
}

// SubjectInput carries the fields of a new directory record.
type SubjectInput struct {
	ID            string
	Name          string
	Phone         string
	AltPhone      string
	InsertionDate time.Time
	Notes         string
}

// SubjectPatch holds optional replacements; nil fields are left untouched.
type SubjectPatch struct {
	Name          *string
	Phone         *string
	AltPhone      *string
	InsertionDate *time.Time
	Notes         *string
}

type ExitInput struct {
	Reason      ExitReason
	OtherText   string
	Date        time.Time
	Approximate bool
	Note        string
}

type NextVisit struct {
	Date  time.Time
	Notes string
}

// FollowUp must carry exactly one of NextVisit or Exit.
type FollowUp struct {
	NextVisit *NextVisit
	Exit      *ExitInput
}

type CompletionInput struct {
	AttendedDate time.Time
	Approximate  bool
	FollowUp     FollowUp
}

type AppointmentFilter struct {
	SubjectID string
	Status    AppointmentStatus
}

type ChangeLogFilter struct {
	Types     []ChangeType
	SubjectID string
	From      time.Time
	To        time.Time
}

// ImportRow is one tokenized bulk-entry row.
type ImportRow struct {
	// Line is the 1-based position of the row in the import source. Zero
	// means the row's index in the batch is used.
	Line            int
	SubjectID       string
	Name            string
	Phone           string
	InsertionDate   time.Time
	AppointmentDate time.Time
	Remark          string
}

// RawImportRow is a row as supplied by the import source, before date parsing.
type RawImportRow struct {
	SubjectID       string `json:"subject_id"`
	Name            string `json:"name"`
	Phone           string `json:"phone"`
	InsertionDate   string `json:"insertion_date"`
	AppointmentDate string `json:"appointment_date"`
	Remark          string `json:"remark"`
}

type RowRejection struct {
	Line      int    `json:"line"`
	SubjectID string `json:"subject_id"`
	Reason    string `json:"reason"`
}

type ImportResult struct {
	SubjectsCreated     int            `json:"subjects_created"`
	SubjectsUpdated     int            `json:"subjects_updated"`
	AppointmentsCreated int            `json:"appointments_created"`
	Rejected            []RowRejection `json:"rejected,omitempty"`
}

// CompletionResult reports the status change and its follow-up effect.
type CompletionResult struct {
	Appointment Appointment  `json:"appointment"`
	NextVisit   *Appointment `json:"next_visit,omitempty"`
	ExitedID    string       `json:"exited_subject_id,omitempty"`
}
