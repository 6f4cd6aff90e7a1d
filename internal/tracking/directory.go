package tracking

import (
	"fmt"
	"strings"
	"time"
)

// CreateSubject adds a subject to the active directory.
func (e *Engine) CreateSubject(s Snapshot, in SubjectInput, comment string) (Subject, Mutation, error) {
	t := e.begin(s)

	id := normalizeSubjectID(in.ID)
	if id == "" {
		return Subject{}, Mutation{}, invalid(CodeMissingSubjectID, "id", "subject id is required")
	}
	if strings.TrimSpace(comment) == "" {
		return Subject{}, Mutation{}, invalid(CodeMissingRequiredComment, "comment", "a comment is required when creating a subject")
	}
	if _, exists := t.snap.subject(id); exists {
		return Subject{}, Mutation{}, invalid(CodeDuplicateSubjectID, "id", fmt.Sprintf("subject %q already exists", id))
	}

	insertion := in.InsertionDate
	if insertion.IsZero() {
		insertion = t.startOfDay()
	}
	sub := Subject{
		ID:            id,
		Name:          strings.TrimSpace(in.Name),
		Phone:         strings.TrimSpace(in.Phone),
		AltPhone:      strings.TrimSpace(in.AltPhone),
		InsertionDate: insertion,
		Notes:         in.Notes,
	}
	if sub.Name == "" {
		sub.Name = defaultSubjectName(id)
	}

	t.snap.Subjects[id] = sub
	t.record(id, sub.Name, ChangeCreate,
		fmt.Sprintf("Subject created: name=%q phone=%q", sub.Name, sub.Phone), comment)
	return sub, t.result(), nil
}

// UpdateSubject applies a patch to an active subject. The id never changes.
func (e *Engine) UpdateSubject(s Snapshot, id string, patch SubjectPatch, comment string) (Subject, Mutation, error) {
	t := e.begin(s)

	id = normalizeSubjectID(id)
	before, ok := t.snap.subject(id)
	if !ok {
		return Subject{}, Mutation{}, subjectNotFound(id)
	}
	if strings.TrimSpace(comment) == "" {
		return Subject{}, Mutation{}, invalid(CodeMissingRequiredComment, "comment", "a comment is required when updating a subject")
	}

	after := before
	var changes []string
	setString := func(field string, dst *string, v *string) {
		if v == nil || *v == *dst {
			return
		}
		changes = append(changes, fmt.Sprintf("%s: '%s' -> '%s'", field, *dst, *v))
		*dst = *v
	}
	setString("Name", &after.Name, patch.Name)
	setString("Phone", &after.Phone, patch.Phone)
	setString("AltPhone", &after.AltPhone, patch.AltPhone)
	setString("Notes", &after.Notes, patch.Notes)
	if patch.InsertionDate != nil && !patch.InsertionDate.Equal(after.InsertionDate) {
		changes = append(changes, fmt.Sprintf("InsertionDate: '%s' -> '%s'",
			after.InsertionDate.Format(dateLayout), patch.InsertionDate.Format(dateLayout)))
		after.InsertionDate = *patch.InsertionDate
	}

	// A patch that matches the stored values is not an update.
	if len(changes) == 0 {
		return before, t.result(), nil
	}

	t.snap.Subjects[id] = after
	t.record(id, after.Name, ChangeUpdate, strings.Join(changes, "; "), comment)
	return after, t.result(), nil
}

// ExitSubject removes a subject from the active directory. Its appointments
// and change log entries are kept.
func (e *Engine) ExitSubject(s Snapshot, id string, exit ExitInput) (Mutation, error) {
	t := e.begin(s)

	id = normalizeSubjectID(id)
	if _, ok := t.snap.subject(id); !ok {
		return Mutation{}, subjectNotFound(id)
	}
	if err := validateExit(exit); err != nil {
		return Mutation{}, err
	}
	t.applyExit(id, exit)
	return t.result(), nil
}

func validateExit(exit ExitInput) error {
	if !exit.Reason.IsValid() {
		return invalid(CodeInvalidExitReason, "reason", fmt.Sprintf("unknown exit reason %q", exit.Reason))
	}
	if exit.Reason == ExitOther && strings.TrimSpace(exit.OtherText) == "" {
		return invalid(CodeMissingReasonText, "other_text", "a description is required for reason Other")
	}
	if exit.Date.IsZero() {
		return invalid(CodeMissingExitDate, "date", "exit date is required")
	}
	return nil
}

func (t *txn) applyExit(id string, exit ExitInput) {
	name := t.snap.SubjectName(id)
	t.record(id, name, ChangeDelete, "Subject exited: "+string(exit.Reason), exitComment(exit))
	delete(t.snap.Subjects, id)
}

// exitComment embeds the structured reason, date and approximation marker.
func exitComment(exit ExitInput) string {
	reason := string(exit.Reason)
	if exit.Reason == ExitOther {
		reason = fmt.Sprintf("%s (%s)", reason, strings.TrimSpace(exit.OtherText))
	}
	date := exit.Date.Format(dateLayout)
	if exit.Approximate {
		date += " (approximate)"
	}
	comment := fmt.Sprintf("Exit reason: %s; Exit date: %s", reason, date)
	if note := strings.TrimSpace(exit.Note); note != "" {
		comment += "; " + note
	}
	return comment
}

func defaultSubjectName(id string) string {
	return "Subject " + id
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
