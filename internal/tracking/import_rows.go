package tracking

import (
	"fmt"
	"strings"
	"time"
)

var importLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02",
	"02/01/2006 15:04",
	"02/01/2006",
}

// ParseImportDate parses the date formats accepted by bulk entry. Layouts
// without an offset are read in loc.
func ParseImportDate(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range importLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", raw)
}

var dateOnlyLayouts = []string{"2006-01-02", "02/01/2006"}

// ParseRangeEnd reads the inclusive upper bound of a date range. A value
// without a time of day covers the whole day, up to the last instant before
// the next midnight in loc.
func ParseRangeEnd(raw string, loc *time.Location) (time.Time, error) {
	t, err := ParseImportDate(raw, loc)
	if err != nil {
		return time.Time{}, err
	}
	raw = strings.TrimSpace(raw)
	for _, layout := range dateOnlyLayouts {
		if _, err := time.ParseInLocation(layout, raw, t.Location()); err == nil {
			return t.AddDate(0, 0, 1).Add(-time.Nanosecond), nil
		}
	}
	return t, nil
}

// ParseImportRows tokenizes raw rows. Rows without a subject id or with an
// unparseable appointment date are excluded and reported; a bad insertion
// date is dropped rather than failing the row.
func ParseImportRows(raw []RawImportRow, loc *time.Location) ([]ImportRow, []RowRejection) {
	rows := make([]ImportRow, 0, len(raw))
	var rejected []RowRejection
	for i, r := range raw {
		id := normalizeSubjectID(r.SubjectID)
		if id == "" {
			rejected = append(rejected, RowRejection{Line: i + 1, Reason: "missing subject id"})
			continue
		}
		date, err := ParseImportDate(r.AppointmentDate, loc)
		if err != nil {
			rejected = append(rejected, RowRejection{Line: i + 1, SubjectID: id, Reason: "invalid appointment date: " + err.Error()})
			continue
		}
		row := ImportRow{
			Line:            i + 1,
			SubjectID:       id,
			Name:            r.Name,
			Phone:           r.Phone,
			AppointmentDate: date,
			Remark:          r.Remark,
		}
		if ins, err := ParseImportDate(r.InsertionDate, loc); err == nil {
			row.InsertionDate = ins
		}
		rows = append(rows, row)
	}
	return rows, rejected
}
