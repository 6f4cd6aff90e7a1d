// Package drafting produces reminder text for appointments.
package drafting

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/hackgods/subject-visit-tracking/internal/tracking"
)

var _ tracking.Drafter = (*Template)(nil)

const DefaultTemplate = `Hello {{.Name}}, {{if eq .Status "Missed"}}we missed you at your visit on {{.Date}}. Please contact us to rebook.{{else}}this is a reminder of your visit on {{.Date}} at {{.Time}}.{{end}}`

// Template renders reminders from a text/template.
type Template struct {
	tmpl *template.Template
}

type templateData struct {
	Name      string
	SubjectID string
	Phone     string
	Date      string
	Time      string
	Status    string
	Notes     string
}

func NewTemplate(text string) (*Template, error) {
	if strings.TrimSpace(text) == "" {
		text = DefaultTemplate
	}
	tmpl, err := template.New("reminder").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse reminder template: %w", err)
	}
	return &Template{tmpl: tmpl}, nil
}

func (t *Template) Draft(_ context.Context, sub tracking.Subject, appt tracking.Appointment) (string, error) {
	var buf bytes.Buffer
	if err := t.tmpl.Execute(&buf, dataFor(sub, appt)); err != nil {
		return "", fmt.Errorf("render reminder: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func dataFor(sub tracking.Subject, appt tracking.Appointment) templateData {
	name := sub.Name
	if name == "" {
		name = tracking.UnknownSubjectName
	}
	return templateData{
		Name:      name,
		SubjectID: sub.ID,
		Phone:     sub.Phone,
		Date:      appt.Date.Format("2006-01-02"),
		Time:      appt.Date.Format("15:04"),
		Status:    string(appt.Status),
		Notes:     appt.Notes,
	}
}
