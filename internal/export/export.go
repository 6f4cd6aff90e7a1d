// Package export renders session data as downloadable artifacts and archives
// each artifact to blob storage.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/hackgods/subject-visit-tracking/internal/blob"
	"github.com/hackgods/subject-visit-tracking/internal/tracking"
)

var ErrInvalidRequest = errors.New("invalid export request")

type Kind string

const (
	KindSubjects     Kind = "subjects"
	KindAppointments Kind = "appointments"
	KindChangeLog    Kind = "changelog"
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Request selects what to export. From and To bound insertion dates for
// subjects, visit dates for appointments and timestamps for the change log;
// zero values leave that side open.
type Request struct {
	Kind      Kind
	Format    Format
	SubjectID string
	Types     []tracking.ChangeType
	From      time.Time
	To        time.Time
}

type Artifact struct {
	Name        string
	ContentType string
	Data        []byte
	Rows        int
}

// Source supplies the state to export.
type Source interface {
	Snapshot() tracking.Snapshot
}

// ArchiveObserver is told about each archive attempt.
type ArchiveObserver interface {
	ObserveArchive(err error)
}

type Exporter struct {
	src      Source
	archive  blob.Store
	prefix   string
	logger   *slog.Logger
	observer ArchiveObserver
	now      func() time.Time

	wg sync.WaitGroup
}

type Option func(*Exporter)

func WithLogger(l *slog.Logger) Option { return func(e *Exporter) { e.logger = l } }

func WithObserver(o ArchiveObserver) Option { return func(e *Exporter) { e.observer = o } }

func WithClock(now func() time.Time) Option { return func(e *Exporter) { e.now = now } }

// New builds an exporter. A nil archive disables archiving.
func New(src Source, archive blob.Store, snapshotKey string, opts ...Option) *Exporter {
	e := &Exporter{
		src:     src,
		archive: archive,
		prefix:  "exports/" + snapshotKey + "/",
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Export renders the artifact and starts archiving it in the background.
// Archive failures are logged and never affect the returned artifact.
func (e *Exporter) Export(ctx context.Context, req Request) (Artifact, error) {
	if req.Format == "" {
		req.Format = FormatCSV
	}
	if req.Format != FormatCSV && req.Format != FormatJSON && req.Format != FormatYAML {
		return Artifact{}, fmt.Errorf("%w: unknown format %q", ErrInvalidRequest, req.Format)
	}
	if !req.From.IsZero() && !req.To.IsZero() && req.To.Before(req.From) {
		return Artifact{}, fmt.Errorf("%w: range end before start", ErrInvalidRequest)
	}

	snap := e.src.Snapshot()
	var (
		header []string
		rows   [][]string
		values any
		n      int
	)
	switch req.Kind {
	case KindSubjects:
		subjects := filterSubjects(snap, req)
		header, rows, values, n = subjectHeader, subjectRows(subjects), subjects, len(subjects)
	case KindAppointments:
		appts := filterAppointments(snap, req)
		header, rows, values, n = appointmentHeader, appointmentRows(snap, appts), appts, len(appts)
	case KindChangeLog:
		entries := snap.ListChangeLog(tracking.ChangeLogFilter{
			Types: req.Types, SubjectID: req.SubjectID, From: req.From, To: req.To,
		})
		header, rows, values, n = changeLogHeader, changeLogRows(entries), entries, len(entries)
	default:
		return Artifact{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidRequest, req.Kind)
	}

	art := Artifact{
		Name: fmt.Sprintf("%s-%s.%s", req.Kind, e.now().UTC().Format("20060102T150405"), req.Format),
		Rows: n,
	}
	var err error
	switch req.Format {
	case FormatCSV:
		art.ContentType = "text/csv"
		art.Data, err = renderCSV(header, rows)
	case FormatJSON:
		art.ContentType = "application/json"
		art.Data, err = json.MarshalIndent(values, "", "  ")
	case FormatYAML:
		art.ContentType = "application/yaml"
		art.Data, err = renderYAML(header, rows)
	}
	if err != nil {
		return Artifact{}, fmt.Errorf("render %s: %w", req.Kind, err)
	}

	e.archiveAsync(ctx, art)
	return art, nil
}

func (e *Exporter) archiveAsync(ctx context.Context, art Artifact) {
	if e.archive == nil {
		return
	}
	key := e.prefix + uuid.NewString()[:8] + "-" + art.Name
	attrs := slog.Group("archive", "key", key, "bytes", len(art.Data))

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		putCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()

		_, err := e.archive.Put(putCtx, key, bytes.NewReader(art.Data), art.ContentType)
		if e.observer != nil {
			e.observer.ObserveArchive(err)
		}
		if err != nil {
			e.logger.Error("export archive failed", attrs,
				"error", &tracking.ExternalServiceError{Service: "blob", Err: err})
			return
		}
		e.logger.Info("export archived", attrs)
	}()
}

// Archives lists archived artifacts for this snapshot key.
func (e *Exporter) Archives(ctx context.Context) ([]blob.Info, error) {
	if e.archive == nil {
		return []blob.Info{}, nil
	}
	return e.archive.List(ctx, e.prefix)
}

// Wait blocks until in-flight archive uploads finish.
func (e *Exporter) Wait() { e.wg.Wait() }

func renderCSV(header []string, rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	if err := w.WriteAll(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// renderYAML writes one mapping per row, keyed by the CSV header and in
// header order.
func renderYAML(header []string, rows [][]string) ([]byte, error) {
	doc := &yaml.Node{Kind: yaml.SequenceNode}
	for _, row := range rows {
		m := &yaml.Node{Kind: yaml.MappingNode}
		for i, col := range header {
			v := ""
			if i < len(row) {
				v = row[i]
			}
			m.Content = append(m.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Value: col},
				&yaml.Node{Kind: yaml.ScalarNode, Value: v, Style: yaml.DoubleQuotedStyle})
		}
		doc.Content = append(doc.Content, m)
	}
	return yaml.Marshal(doc)
}

func inRange(t time.Time, req Request) bool {
	if !req.From.IsZero() && t.Before(req.From) {
		return false
	}
	if !req.To.IsZero() && t.After(req.To) {
		return false
	}
	return true
}
