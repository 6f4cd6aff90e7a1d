package tracking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSubject(t *testing.T) {
	t.Parallel()
	e := fixedEngine(now)

	sub, m, err := e.CreateSubject(NewSnapshot(), SubjectInput{ID: "  S-01 ", Phone: " 555 "}, "first visit")
	require.NoError(t, err)

	assert.Equal(t, "S-01", sub.ID)
	assert.Equal(t, "Subject S-01", sub.Name)
	assert.Equal(t, "555", sub.Phone)
	assert.Equal(t, time.Date(2026, 4, 20, 0, 0, 0, 0, time.UTC), sub.InsertionDate)

	require.Len(t, m.Entries, 1)
	entry := m.Entries[0]
	assert.Equal(t, ChangeCreate, entry.ChangeType)
	assert.Equal(t, "S-01", entry.SubjectID)
	assert.Equal(t, "Subject S-01", entry.SubjectName)
	assert.Equal(t, "first visit", entry.Comment)
	assert.Equal(t, now, entry.Timestamp)
	assert.Equal(t, m.Entries, m.Snapshot.ChangeLog)
}

func TestCreateSubject_Validation(t *testing.T) {
	t.Parallel()
	e := fixedEngine(now)
	base := withSubject(t, e, NewSnapshot(), "S1", "Ada")

	tests := []struct {
		name    string
		in      SubjectInput
		comment string
		code    Code
	}{
		{name: "missing id", in: SubjectInput{ID: "   "}, comment: "c", code: CodeMissingSubjectID},
		{name: "blank comment", in: SubjectInput{ID: "S2"}, comment: "  ", code: CodeMissingRequiredComment},
		{name: "duplicate", in: SubjectInput{ID: "S1"}, comment: "c", code: CodeDuplicateSubjectID},
		{name: "duplicate after trim", in: SubjectInput{ID: " S1\t"}, comment: "c", code: CodeDuplicateSubjectID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, m, err := e.CreateSubject(base, tt.in, tt.comment)
			requireCode(t, err, tt.code)
			assert.False(t, m.Changed())
		})
	}

	_, _, err := e.CreateSubject(base, SubjectInput{ID: "s1"}, "case differs")
	assert.NoError(t, err, "ids compare case-sensitively")
}

func TestUpdateSubject(t *testing.T) {
	t.Parallel()
	e := fixedEngine(now)
	base := withSubject(t, e, NewSnapshot(), "S1", "Ada")

	name, phone := "Ada L.", "555-0100"
	sub, m, err := e.UpdateSubject(base, "S1", SubjectPatch{Name: &name, Phone: &phone}, "typo")
	require.NoError(t, err)
	assert.Equal(t, "Ada L.", sub.Name)

	require.Len(t, m.Entries, 1)
	assert.Equal(t, ChangeUpdate, m.Entries[0].ChangeType)
	assert.Equal(t, "Name: 'Ada' -> 'Ada L.'", m.Entries[0].Details, "unchanged phone is not listed")
	assert.Equal(t, "Ada L.", m.Entries[0].SubjectName)

	same := "Ada"
	for _, patch := range []SubjectPatch{{}, {Name: &same}} {
		sub, m, err = e.UpdateSubject(base, "S1", patch, "nothing")
		require.NoError(t, err)
		assert.Equal(t, "Ada", sub.Name)
		assert.False(t, m.Changed(), "a value-equal patch records no entry")
	}
}

func TestUpdateSubject_Errors(t *testing.T) {
	t.Parallel()
	e := fixedEngine(now)
	base := withSubject(t, e, NewSnapshot(), "S1", "Ada")

	_, _, err := e.UpdateSubject(base, "S9", SubjectPatch{}, "c")
	assert.ErrorIs(t, err, ErrNotFound)

	_, _, err = e.UpdateSubject(base, "S1", SubjectPatch{}, "")
	requireCode(t, err, CodeMissingRequiredComment)
}

func TestExitSubject(t *testing.T) {
	t.Parallel()
	e := fixedEngine(now)
	base := withSubject(t, e, NewSnapshot(), "S1", "Ada")
	base, appt := withAppointment(t, e, base, "S1", now.Add(24*time.Hour))

	m, err := e.ExitSubject(base, "S1", ExitInput{
		Reason:      ExitOther,
		OtherText:   "moved abroad",
		Date:        time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		Approximate: true,
		Note:        "called in",
	})
	require.NoError(t, err)

	_, err = m.Snapshot.GetSubject("S1")
	assert.ErrorIs(t, err, ErrNotFound)

	kept, err := m.Snapshot.GetAppointment(appt.ID)
	require.NoError(t, err, "appointments outlive their subject")
	assert.Equal(t, "S1", kept.SubjectID)
	assert.Equal(t, UnknownSubjectName, m.Snapshot.SubjectName("S1"))

	require.Len(t, m.Entries, 1)
	entry := m.Entries[0]
	assert.Equal(t, ChangeDelete, entry.ChangeType)
	assert.Equal(t, "Ada", entry.SubjectName, "name is captured before removal")
	assert.Equal(t, "Exit reason: Other (moved abroad); Exit date: 2026-04-01 (approximate); called in", entry.Comment)

	_, _, err = e.CreateSubject(m.Snapshot, SubjectInput{ID: "S1"}, "re-enrolled")
	assert.NoError(t, err, "an exited id may be reused")
}

func TestExitSubject_Validation(t *testing.T) {
	t.Parallel()
	e := fixedEngine(now)
	base := withSubject(t, e, NewSnapshot(), "S1", "Ada")
	date := now.AddDate(0, 0, -1)

	tests := []struct {
		name string
		exit ExitInput
		code Code
	}{
		{name: "unknown reason", exit: ExitInput{Reason: "Bored", Date: date}, code: CodeInvalidExitReason},
		{name: "other without text", exit: ExitInput{Reason: ExitOther, OtherText: " ", Date: date}, code: CodeMissingReasonText},
		{name: "missing date", exit: ExitInput{Reason: ExitRemoval}, code: CodeMissingExitDate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := e.ExitSubject(base, "S1", tt.exit)
			requireCode(t, err, tt.code)
		})
	}

	_, err := e.ExitSubject(base, "nobody", ExitInput{Reason: ExitRemoval, Date: date})
	assert.ErrorIs(t, err, ErrNotFound)
}
