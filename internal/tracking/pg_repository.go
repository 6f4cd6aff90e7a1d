package tracking

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var _ SnapshotStore = (*PgSnapshotStore)(nil)

// PgQuerier is the subset of *pgxpool.Pool the store needs.
type PgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PgSnapshotStore keeps snapshots in a Postgres table, one JSONB row per bucket.
type PgSnapshotStore struct {
	db PgQuerier
}

func NewPgSnapshotStore(db PgQuerier) *PgSnapshotStore {
	return &PgSnapshotStore{db: db}
}

// EnsureSchema creates the snapshot table when missing.
func (r *PgSnapshotStore) EnsureSchema(ctx context.Context) error {
	_, err := r.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS snapshots (
			snapshot_key TEXT NOT NULL,
			bucket       TEXT NOT NULL,
			payload      JSONB NOT NULL,
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (snapshot_key, bucket)
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure snapshots table: %w", err)
	}
	return nil
}

type bucketRow struct {
	Bucket  string `db:"bucket"`
	Payload []byte `db:"payload"`
}

func (r *PgSnapshotStore) Load(ctx context.Context, key string) (Snapshot, error) {
	query, args, err := psql.Select("bucket", "payload").
		From("snapshots").
		Where(sq.Eq{"snapshot_key": key}).
		ToSql()
	if err != nil {
		return Snapshot{}, fmt.Errorf("build select: %w", err)
	}

	var rows []bucketRow
	if err := pgxscan.Select(ctx, r.db, &rows, query, args...); err != nil {
		return Snapshot{}, fmt.Errorf("select snapshot: %w", err)
	}
	return decodeRows(rows)
}

// Save upserts every bucket in one statement, so a partial snapshot is never visible.
func (r *PgSnapshotStore) Save(ctx context.Context, key string, snap Snapshot) error {
	payloads, err := EncodeBuckets(snap)
	if err != nil {
		return err
	}

	insert := psql.Insert("snapshots").Columns("snapshot_key", "bucket", "payload", "updated_at")
	for _, bucket := range Buckets {
		insert = insert.Values(key, bucket, payloads[bucket], sq.Expr("now()"))
	}
	query, args, err := insert.
		Suffix("ON CONFLICT (snapshot_key, bucket) DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}

	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

func (r *PgSnapshotStore) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

// Keys lists the snapshot keys present in the table.
func (r *PgSnapshotStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT DISTINCT snapshot_key FROM snapshots ORDER BY snapshot_key`)
	if err != nil {
		return nil, fmt.Errorf("select keys: %w", err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect keys: %w", err)
	}
	return keys, nil
}

func decodeRows(rows []bucketRow) (Snapshot, error) {
	if len(rows) == 0 {
		return Snapshot{}, ErrSnapshotNotFound
	}
	payloads := make(map[string][]byte, len(rows))
	for _, row := range rows {
		payloads[row.Bucket] = row.Payload
	}
	return DecodeBuckets(payloads)
}
