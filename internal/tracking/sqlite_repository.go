package tracking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/sqlscan"
	_ "modernc.org/sqlite" // pure go sqlite driver
)

var _ SnapshotStore = (*SQLiteSnapshotStore)(nil)

// SQLiteSnapshotStore keeps snapshots in a single SQLite file, one row per bucket.
type SQLiteSnapshotStore struct {
	db   *sql.DB
	path string
}

func NewSQLiteSnapshotStore(path string) (*SQLiteSnapshotStore, error) {
	if path == "" {
		path = "visits.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS snapshots (
		snapshot_key TEXT NOT NULL,
		bucket TEXT NOT NULL,
		payload BLOB NOT NULL,
		PRIMARY KEY (snapshot_key, bucket)
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create snapshots table: %w", err)
	}
	return &SQLiteSnapshotStore{db: db, path: path}, nil
}

func (r *SQLiteSnapshotStore) Load(ctx context.Context, key string) (Snapshot, error) {
	query, args, err := sq.Select("bucket", "payload").
		From("snapshots").
		Where(sq.Eq{"snapshot_key": key}).
		ToSql()
	if err != nil {
		return Snapshot{}, fmt.Errorf("build select: %w", err)
	}

	var rows []bucketRow
	if err := sqlscan.Select(ctx, r.db, &rows, query, args...); err != nil {
		return Snapshot{}, fmt.Errorf("select snapshot: %w", err)
	}
	return decodeRows(rows)
}

func (r *SQLiteSnapshotStore) Save(ctx context.Context, key string, snap Snapshot) error {
	payloads, err := EncodeBuckets(snap)
	if err != nil {
		return err
	}

	insert := sq.Insert("snapshots").Columns("snapshot_key", "bucket", "payload")
	for _, bucket := range Buckets {
		insert = insert.Values(key, bucket, payloads[bucket])
	}
	query, args, err := insert.
		Suffix("ON CONFLICT(snapshot_key, bucket) DO UPDATE SET payload = excluded.payload").
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

func (r *SQLiteSnapshotStore) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteSnapshotStore) Close() error {
	return r.db.Close()
}

// Path returns the database file path.
func (r *SQLiteSnapshotStore) Path() string { return r.path }
