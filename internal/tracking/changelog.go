package tracking

import (
	"sort"
)

// record appends one entry to the in-flight snapshot. The subject name is
// captured at call time, so exits must record before removing the subject.
func (t *txn) record(subjectID, subjectName string, ct ChangeType, details, comment string) ChangeLogEntry {
	entry := ChangeLogEntry{
		ID:          t.e.newID(),
		Timestamp:   t.now,
		SubjectID:   subjectID,
		SubjectName: subjectName,
		ChangeType:  ct,
		Details:     details,
		Comment:     comment,
	}
	t.snap.ChangeLog = append(t.snap.ChangeLog, entry)
	t.entries = append(t.entries, entry)
	return entry
}

func (t *txn) recordFor(subjectID string, ct ChangeType, details, comment string) ChangeLogEntry {
	return t.record(subjectID, t.snap.SubjectName(subjectID), ct, details, comment)
}

// ListChangeLog returns matching entries newest first. Entries sharing a
// timestamp keep reverse append order.
func (s Snapshot) ListChangeLog(f ChangeLogFilter) []ChangeLogEntry {
	types := make(map[ChangeType]bool, len(f.Types))
	for _, ct := range f.Types {
		types[ct] = true
	}
	subjectID := normalizeSubjectID(f.SubjectID)

	out := make([]ChangeLogEntry, 0, len(s.ChangeLog))
	for i := len(s.ChangeLog) - 1; i >= 0; i-- {
		e := s.ChangeLog[i]
		if len(types) > 0 && !types[e.ChangeType] {
			continue
		}
		if subjectID != "" && e.SubjectID != subjectID {
			continue
		}
		if !f.From.IsZero() && e.Timestamp.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && e.Timestamp.After(f.To) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}
