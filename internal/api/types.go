package api

import (
	"github.com/hackgods/subject-visit-tracking/internal/tracking"
)

// Dates in request bodies accept the same layouts as bulk import.

type CreateSubjectRequest struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Phone         string `json:"phone"`
	AltPhone      string `json:"alt_phone"`
	InsertionDate string `json:"insertion_date"`
	Notes         string `json:"notes"`
	Comment       string `json:"comment"`
}

type UpdateSubjectRequest struct {
	Name          *string `json:"name"`
	Phone         *string `json:"phone"`
	AltPhone      *string `json:"alt_phone"`
	InsertionDate *string `json:"insertion_date"`
	Notes         *string `json:"notes"`
	Comment       string  `json:"comment"`
}

type ExitRequest struct {
	Reason      string `json:"reason"`
	OtherText   string `json:"other_text"`
	Date        string `json:"date"`
	Approximate bool   `json:"approximate"`
	Note        string `json:"note"`
}

type BookAppointmentRequest struct {
	SubjectID string `json:"subject_id"`
	Date      string `json:"date"`
	Notes     string `json:"notes"`
}

type StatusRequest struct {
	Status string  `json:"status"`
	Reason *string `json:"reason"`
}

type RescheduleRequest struct {
	Date string `json:"date"`
}

type NextVisitRequest struct {
	Date  string `json:"date"`
	Notes string `json:"notes"`
}

type CompleteRequest struct {
	AttendedDate string            `json:"attended_date"`
	Approximate  bool              `json:"approximate"`
	NextVisit    *NextVisitRequest `json:"next_visit"`
	Exit         *ExitRequest      `json:"exit"`
}

type ImportRequest struct {
	Rows []tracking.RawImportRow `json:"rows"`
}

type AutoMissResponse struct {
	Missed []tracking.Appointment `json:"missed"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Field   string `json:"field,omitempty"`
	Details string `json:"details,omitempty"`
}
