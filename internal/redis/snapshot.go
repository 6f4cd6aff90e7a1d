package redisclient

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/hackgods/subject-visit-tracking/internal/tracking"
)

var _ tracking.SnapshotStore = (*SnapshotStore)(nil)

// SnapshotStore keeps each snapshot in one hash, one field per bucket.
type SnapshotStore struct {
	client *redis.Client
}

func NewSnapshotStore(client *redis.Client) *SnapshotStore {
	return &SnapshotStore{client: client}
}

func snapshotKey(key string) string {
	return fmt.Sprintf("snapshot:%s", key)
}

func (s *SnapshotStore) Load(ctx context.Context, key string) (tracking.Snapshot, error) {
	fields, err := s.client.HGetAll(ctx, snapshotKey(key)).Result()
	if err != nil {
		return tracking.Snapshot{}, fmt.Errorf("hgetall snapshot: %w", err)
	}
	if len(fields) == 0 {
		return tracking.Snapshot{}, tracking.ErrSnapshotNotFound
	}
	payloads := make(map[string][]byte, len(fields))
	for bucket, v := range fields {
		payloads[bucket] = []byte(v)
	}
	return tracking.DecodeBuckets(payloads)
}

// Save replaces every bucket in a single MULTI/EXEC.
func (s *SnapshotStore) Save(ctx context.Context, key string, snap tracking.Snapshot) error {
	payloads, err := tracking.EncodeBuckets(snap)
	if err != nil {
		return err
	}
	values := make(map[string]any, len(payloads))
	for bucket, data := range payloads {
		values[bucket] = data
	}

	k := snapshotKey(key)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, k)
		pipe.HSet(ctx, k, values)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *SnapshotStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
