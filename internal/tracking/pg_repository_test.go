package tracking

import (
	"context"
	"errors"
	"regexp"
	"testing"

	pgxmock "github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

var selectSnapshot = regexp.QuoteMeta(`SELECT bucket, payload FROM snapshots WHERE snapshot_key = $1`)

func TestPgSnapshotStore_Save(t *testing.T) {
	t.Parallel()
	mock := newMockPool(t)
	store := NewPgSnapshotStore(mock)

	payloads, err := EncodeBuckets(sampleSnapshot(t))
	require.NoError(t, err)

	mock.ExpectExec(`INSERT INTO snapshots \(snapshot_key,bucket,payload,updated_at\) VALUES`).
		WithArgs(
			"default", BucketSubjects, payloads[BucketSubjects],
			"default", BucketAppointments, payloads[BucketAppointments],
			"default", BucketChangeLog, payloads[BucketChangeLog],
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 3))

	require.NoError(t, store.Save(context.Background(), "default", sampleSnapshot(t)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgSnapshotStore_SaveError(t *testing.T) {
	t.Parallel()
	mock := newMockPool(t)
	store := NewPgSnapshotStore(mock)

	mock.ExpectExec(`INSERT INTO snapshots`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))

	err := store.Save(context.Background(), "default", NewSnapshot())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upsert snapshot")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgSnapshotStore_Load(t *testing.T) {
	t.Parallel()
	mock := newMockPool(t)
	store := NewPgSnapshotStore(mock)

	want := sampleSnapshot(t)
	payloads, err := EncodeBuckets(want)
	require.NoError(t, err)

	rows := pgxmock.NewRows([]string{"bucket", "payload"})
	for _, bucket := range Buckets {
		rows.AddRow(bucket, payloads[bucket])
	}
	mock.ExpectQuery(selectSnapshot).WithArgs("default").WillReturnRows(rows)

	got, err := store.Load(context.Background(), "default")
	require.NoError(t, err)
	assertSameSnapshot(t, want, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgSnapshotStore_LoadMissing(t *testing.T) {
	t.Parallel()
	mock := newMockPool(t)
	store := NewPgSnapshotStore(mock)

	mock.ExpectQuery(selectSnapshot).
		WithArgs("absent").
		WillReturnRows(pgxmock.NewRows([]string{"bucket", "payload"}))

	_, err := store.Load(context.Background(), "absent")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgSnapshotStore_Keys(t *testing.T) {
	t.Parallel()
	mock := newMockPool(t)
	store := NewPgSnapshotStore(mock)

	mock.ExpectQuery(`SELECT DISTINCT snapshot_key FROM snapshots`).
		WillReturnRows(pgxmock.NewRows([]string{"snapshot_key"}).AddRow("site-a").AddRow("site-b"))

	keys, err := store.Keys(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"site-a", "site-b"}, keys)
	assert.NoError(t, mock.ExpectationsWereMet())
}
