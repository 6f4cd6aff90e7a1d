package tracking

import (
	"errors"
	"fmt"
)

var (
	ErrValidation       = errors.New("validation failed")
	ErrNotFound         = errors.New("not found")
	ErrExternalService  = errors.New("external service failure")
	ErrSnapshotNotFound = errors.New("snapshot not found")
)

// Code identifies a validation failure.
type Code string

const (
	CodeFutureMissedNotAllowed   Code = "FutureMissedNotAllowed"
	CodeCorrectionWindowExceeded Code = "CorrectionWindowExceeded"
	CodeMissingFollowUpChoice    Code = "MissingFollowUpChoice"
	CodeAmbiguousFollowUpChoice  Code = "AmbiguousFollowUpChoice"
	CodeMissingReasonText        Code = "MissingReasonText"
	CodePastRescheduleDate       Code = "PastRescheduleDate"
	CodePastFollowUpDate         Code = "PastFollowUpDate"
	CodeDuplicateSubjectID       Code = "DuplicateSubjectId"
	CodeMissingRequiredComment   Code = "MissingRequiredComment"
	CodeMissingSubjectID         Code = "MissingSubjectId"
	CodeMissingAppointmentDate   Code = "MissingAppointmentDate"
	CodeMissingExitDate          Code = "MissingExitDate"
	CodeInvalidExitReason        Code = "InvalidExitReason"
	CodeInvalidStatusTransition  Code = "InvalidStatusTransition"
)

type ValidationError struct {
	Code    Code
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(code Code, field, message string) *ValidationError {
	return &ValidationError{Code: code, Field: field, Message: message}
}

// CodeOf returns the validation code carried by err, or "" when err is not a validation failure.
func CodeOf(err error) Code {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Code
	}
	return ""
}

type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func subjectNotFound(id string) *NotFoundError {
	return &NotFoundError{Kind: "subject", ID: id}
}

func appointmentNotFound(id string) *NotFoundError {
	return &NotFoundError{Kind: "appointment", ID: id}
}

// ExternalServiceError wraps a collaborator failure. The service never returns
// it from a mutation; it is logged and replaced by a fallback value.
type ExternalServiceError struct {
	Service string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() []error { return []error{ErrExternalService, e.Err} }
