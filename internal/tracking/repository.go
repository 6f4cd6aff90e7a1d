package tracking

import (
	"context"
	"encoding/json"
	"fmt"
)

// SnapshotStore is the persistence collaborator. Save replaces the whole
// stored snapshot; Load returns ErrSnapshotNotFound when nothing was saved
// under key.
type SnapshotStore interface {
	Load(ctx context.Context, key string) (Snapshot, error)
	Save(ctx context.Context, key string, snap Snapshot) error
}

// Pinger is implemented by stores that can report backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Stores keep one payload per bucket so each collection is replaced as a unit.
const (
	BucketSubjects     = "subjects"
	BucketAppointments = "appointments"
	BucketChangeLog    = "change_log"
)

var Buckets = []string{BucketSubjects, BucketAppointments, BucketChangeLog}

// EncodeBuckets serializes a snapshot into per-bucket JSON payloads.
func EncodeBuckets(snap Snapshot) (map[string][]byte, error) {
	snap = snap.ensure()
	out := make(map[string][]byte, len(Buckets))
	for _, bucket := range Buckets {
		var (
			data []byte
			err  error
		)
		switch bucket {
		case BucketSubjects:
			data, err = json.Marshal(snap.Subjects)
		case BucketAppointments:
			data, err = json.Marshal(snap.Appointments)
		case BucketChangeLog:
			data, err = json.Marshal(snap.ChangeLog)
		}
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", bucket, err)
		}
		out[bucket] = data
	}
	return out, nil
}

// DecodeBuckets rebuilds a snapshot from per-bucket payloads. Unknown buckets are ignored.
func DecodeBuckets(payloads map[string][]byte) (Snapshot, error) {
	var snap Snapshot
	for bucket, data := range payloads {
		if len(data) == 0 {
			continue
		}
		var err error
		switch bucket {
		case BucketSubjects:
			err = json.Unmarshal(data, &snap.Subjects)
		case BucketAppointments:
			err = json.Unmarshal(data, &snap.Appointments)
		case BucketChangeLog:
			err = json.Unmarshal(data, &snap.ChangeLog)
		}
		if err != nil {
			return Snapshot{}, fmt.Errorf("decode %s: %w", bucket, err)
		}
	}
	return snap.ensure(), nil
}
