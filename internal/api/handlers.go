package api

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hackgods/subject-visit-tracking/internal/tracking"
)

const maxImportBody = 10 << 20

type dateError struct {
	field string
	err   error
}

func (e *dateError) Error() string { return fmt.Sprintf("%s: %v", e.field, e.err) }

// parseDate reads an optional date; an empty value yields the zero time so
// the service can report a missing one with its own code.
func parseDate(raw, field string, loc *time.Location) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return time.Time{}, nil
	}
	t, err := tracking.ParseImportDate(raw, loc)
	if err != nil {
		return time.Time{}, &dateError{field: field, err: err}
	}
	return t, nil
}

// parseRangeEnd is parseDate for an inclusive upper bound.
func parseRangeEnd(raw, field string, loc *time.Location) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return time.Time{}, nil
	}
	t, err := tracking.ParseRangeEnd(raw, loc)
	if err != nil {
		return time.Time{}, &dateError{field: field, err: err}
	}
	return t, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return true
}

func writeDateError(w http.ResponseWriter, err error) {
	writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
}

func listSubjectsHandler(svc *tracking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.ListSubjects())
	}
}

func getSubjectHandler(svc *tracking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, err := svc.GetSubject(chi.URLParam(r, "id"))
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sub)
	}
}

func createSubjectHandler(svc *tracking.Service, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateSubjectRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		insertion, err := parseDate(req.InsertionDate, "insertion_date", loc)
		if err != nil {
			writeDateError(w, err)
			return
		}

		sub, err := svc.CreateSubject(r.Context(), tracking.SubjectInput{
			ID:            req.ID,
			Name:          req.Name,
			Phone:         req.Phone,
			AltPhone:      req.AltPhone,
			InsertionDate: insertion,
			Notes:         req.Notes,
		}, req.Comment)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, sub)
	}
}

func updateSubjectHandler(svc *tracking.Service, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req UpdateSubjectRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		patch := tracking.SubjectPatch{
			Name:     req.Name,
			Phone:    req.Phone,
			AltPhone: req.AltPhone,
			Notes:    req.Notes,
		}
		if req.InsertionDate != nil {
			t, err := parseDate(*req.InsertionDate, "insertion_date", loc)
			if err != nil {
				writeDateError(w, err)
				return
			}
			patch.InsertionDate = &t
		}

		sub, err := svc.UpdateSubject(r.Context(), chi.URLParam(r, "id"), patch, req.Comment)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sub)
	}
}

func toExitInput(req ExitRequest, loc *time.Location) (tracking.ExitInput, error) {
	date, err := parseDate(req.Date, "exit.date", loc)
	if err != nil {
		return tracking.ExitInput{}, err
	}
	return tracking.ExitInput{
		Reason:      tracking.ExitReason(req.Reason),
		OtherText:   req.OtherText,
		Date:        date,
		Approximate: req.Approximate,
		Note:        req.Note,
	}, nil
}

func exitSubjectHandler(svc *tracking.Service, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ExitRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		exit, err := toExitInput(req, loc)
		if err != nil {
			writeDateError(w, err)
			return
		}
		if err := svc.ExitSubject(r.Context(), chi.URLParam(r, "id"), exit); err != nil {
			handleServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func listAppointmentsHandler(svc *tracking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		status := tracking.AppointmentStatus(q.Get("status"))
		if status != "" && !status.IsValid() {
			writeError(w, http.StatusBadRequest, "invalid_status", fmt.Sprintf("unknown status %q", status))
			return
		}
		writeJSON(w, http.StatusOK, svc.ListAppointments(tracking.AppointmentFilter{
			SubjectID: q.Get("subject_id"),
			Status:    status,
		}))
	}
}

func getAppointmentHandler(svc *tracking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appt, err := svc.GetAppointment(chi.URLParam(r, "id"))
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, appt)
	}
}

func bookAppointmentHandler(svc *tracking.Service, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookAppointmentRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		date, err := parseDate(req.Date, "date", loc)
		if err != nil {
			writeDateError(w, err)
			return
		}
		appt, err := svc.BookAppointment(r.Context(), req.SubjectID, date, req.Notes)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, appt)
	}
}

func updateStatusHandler(svc *tracking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req StatusRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		status := tracking.AppointmentStatus(req.Status)
		if !status.IsValid() {
			writeError(w, http.StatusBadRequest, "invalid_status", fmt.Sprintf("unknown status %q", req.Status))
			return
		}
		appt, err := svc.UpdateAppointmentStatus(r.Context(), chi.URLParam(r, "id"), status, req.Reason)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, appt)
	}
}

func rescheduleHandler(svc *tracking.Service, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RescheduleRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		date, err := parseDate(req.Date, "date", loc)
		if err != nil {
			writeDateError(w, err)
			return
		}
		appt, err := svc.RescheduleAppointment(r.Context(), chi.URLParam(r, "id"), date)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, appt)
	}
}

func completeHandler(svc *tracking.Service, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CompleteRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		attended, err := parseDate(req.AttendedDate, "attended_date", loc)
		if err != nil {
			writeDateError(w, err)
			return
		}
		in := tracking.CompletionInput{AttendedDate: attended, Approximate: req.Approximate}
		if req.NextVisit != nil {
			date, err := parseDate(req.NextVisit.Date, "next_visit.date", loc)
			if err != nil {
				writeDateError(w, err)
				return
			}
			in.FollowUp.NextVisit = &tracking.NextVisit{Date: date, Notes: req.NextVisit.Notes}
		}
		if req.Exit != nil {
			exit, err := toExitInput(*req.Exit, loc)
			if err != nil {
				writeDateError(w, err)
				return
			}
			in.FollowUp.Exit = &exit
		}

		res, err := svc.CompleteAppointment(r.Context(), chi.URLParam(r, "id"), in)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func draftHandler(svc *tracking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := svc.DraftMessage(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, d)
	}
}

func autoMissHandler(svc *tracking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		missed := svc.RunAutoMiss(r.Context())
		if missed == nil {
			missed = []tracking.Appointment{}
		}
		writeJSON(w, http.StatusOK, AutoMissResponse{Missed: missed})
	}
}

// importHandler accepts either {"rows": [...]} or a CSV body whose header
// names the row columns.
func importHandler(svc *tracking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := http.MaxBytesReader(w, r.Body, maxImportBody)

		var rows []tracking.RawImportRow
		mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if mediaType == "text/csv" {
			var err error
			if rows, err = readCSVRows(body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_csv", err.Error())
				return
			}
		} else {
			var req ImportRequest
			if err := json.NewDecoder(body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
				return
			}
			rows = req.Rows
		}

		writeJSON(w, http.StatusOK, svc.ImportBulk(r.Context(), rows))
	}
}

var csvColumns = map[string]func(*tracking.RawImportRow, string){
	"subject_id":       func(r *tracking.RawImportRow, v string) { r.SubjectID = v },
	"name":             func(r *tracking.RawImportRow, v string) { r.Name = v },
	"phone":            func(r *tracking.RawImportRow, v string) { r.Phone = v },
	"insertion_date":   func(r *tracking.RawImportRow, v string) { r.InsertionDate = v },
	"appointment_date": func(r *tracking.RawImportRow, v string) { r.AppointmentDate = v },
	"remark":           func(r *tracking.RawImportRow, v string) { r.Remark = v },
}

func readCSVRows(r io.Reader) ([]tracking.RawImportRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty csv")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	setters := make([]func(*tracking.RawImportRow, string), len(header))
	known := 0
	for i, col := range header {
		if set, ok := csvColumns[strings.ToLower(strings.TrimSpace(col))]; ok {
			setters[i] = set
			known++
		}
	}
	if known == 0 {
		return nil, errors.New("header names no known columns")
	}

	var rows []tracking.RawImportRow
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", len(rows)+1, err)
		}
		var row tracking.RawImportRow
		for i, v := range rec {
			if i < len(setters) && setters[i] != nil {
				setters[i](&row, v)
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func changeLogHandler(svc *tracking.Service, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := changeLogFilter(r, loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_filter", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, svc.ListChangeLog(f))
	}
}

func changeLogFilter(r *http.Request, loc *time.Location) (tracking.ChangeLogFilter, error) {
	q := r.URL.Query()
	f := tracking.ChangeLogFilter{SubjectID: q.Get("subject_id")}
	for _, raw := range q["type"] {
		for _, part := range strings.Split(raw, ",") {
			ct := tracking.ChangeType(strings.TrimSpace(part))
			if !ct.IsValid() {
				return f, fmt.Errorf("unknown change type %q", part)
			}
			f.Types = append(f.Types, ct)
		}
	}
	var err error
	if f.From, err = parseDate(q.Get("from"), "from", loc); err != nil {
		return f, err
	}
	if f.To, err = parseRangeEnd(q.Get("to"), "to", loc); err != nil {
		return f, err
	}
	return f, nil
}
