package redisclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLeaseHeld = errors.New("snapshot session lease held by another process")
)

// SessionLease guarantees a single live session per snapshot key. It is
// acquired with SET NX and kept alive until Release; if a refresh finds the
// key owned by someone else, Lost is closed.
type SessionLease struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
	logger *slog.Logger

	lost     chan struct{}
	lostOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func LeaseKey(snapshotKey string) string {
	return fmt.Sprintf("lease:snapshot:%s", snapshotKey)
}

func AcquireSessionLease(ctx context.Context, client *redis.Client, snapshotKey string, ttl time.Duration, logger *slog.Logger) (*SessionLease, error) {
	if logger == nil {
		logger = slog.Default()
	}
	key := LeaseKey(snapshotKey)
	token := uuid.NewString()

	ok, err := client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire session lease: %w", err)
	}
	if !ok {
		return nil, ErrLeaseHeld
	}

	l := &SessionLease{
		client: client,
		key:    key,
		token:  token,
		ttl:    ttl,
		logger: logger,
		lost:   make(chan struct{}),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go l.keepAlive()
	return l, nil
}

// Lost is closed when the lease could not be renewed.
func (l *SessionLease) Lost() <-chan struct{} { return l.lost }

func (l *SessionLease) Token() string { return l.token }

var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
  return 0
end
`)

func (l *SessionLease) keepAlive() {
	defer close(l.done)

	interval := l.ttl / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			if err := l.refresh(); err != nil {
				l.logger.Error("session lease lost", "key", l.key, "error", err)
				l.lostOnce.Do(func() { close(l.lost) })
				return
			}
		}
	}
}

func (l *SessionLease) refresh() error {
	ctx, cancel := context.WithTimeout(context.Background(), l.ttl/2+time.Second)
	defer cancel()

	n, err := refreshScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("refresh session lease: %w", err)
	}
	if n == 0 {
		return ErrLeaseHeld
	}
	return nil
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

// Release stops renewal and deletes the key if this lease still owns it.
func (l *SessionLease) Release(ctx context.Context) error {
	select {
	case <-l.stop:
	default:
		close(l.stop)
	}
	<-l.done

	_, err := unlockScript.Run(ctx, l.client, []string{l.key}, l.token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release session lease: %w", err)
	}
	return nil
}
