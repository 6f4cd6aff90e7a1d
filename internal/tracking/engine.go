package tracking

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// CorrectionWindowDays bounds how far back a missed visit may be corrected to completed.
	CorrectionWindowDays = 5

	dateLayout     = "2006-01-02"
	dateTimeLayout = "2006-01-02 15:04"
)

// Engine applies validated operations to snapshots. It holds no state of its
// own: every method takes a snapshot and returns a new one together with the
// change log entries it produced. The input snapshot is never modified.
type Engine struct {
	now   func() time.Time
	newID func() string
}

type EngineOption func(*Engine)

// WithClock sets the source of "now"; the location of returned times defines day boundaries.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

func WithIDSource(newID func() string) EngineOption {
	return func(e *Engine) { e.newID = newID }
}

func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Now returns the engine's current time.
func (e *Engine) Now() time.Time { return e.now() }

// Mutation is the outcome of a successful operation.
type Mutation struct {
	Snapshot Snapshot
	Entries  []ChangeLogEntry
}

// Changed reports whether the operation produced any log entry.
func (m Mutation) Changed() bool { return len(m.Entries) > 0 }

type txn struct {
	e       *Engine
	now     time.Time
	snap    Snapshot
	entries []ChangeLogEntry
}

func (e *Engine) begin(s Snapshot) *txn {
	return &txn{e: e, now: e.now(), snap: s.ensure().Clone()}
}

func (t *txn) startOfDay() time.Time {
	return dayOf(t.now)
}

func (t *txn) result() Mutation {
	return Mutation{Snapshot: t.snap, Entries: t.entries}
}

func normalizeSubjectID(id string) string {
	return strings.TrimSpace(id)
}

func appendNote(notes, note string) string {
	if strings.TrimSpace(notes) == "" {
		return note
	}
	return notes + "\n" + note
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(dateTimeLayout)
}
