package tracking

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const saveTimeout = 30 * time.Second

// persister saves snapshots off the caller's path. Submissions coalesce:
// while a save is running only the newest pending snapshot is kept.
type persister struct {
	store   SnapshotStore
	key     string
	logger  *slog.Logger
	metrics Recorder

	mu        sync.Mutex
	pending   *Snapshot
	submitted uint64
	saved     uint64
	lastErr   error
	notify    chan struct{}

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

func newPersister(store SnapshotStore, key string, logger *slog.Logger, metrics Recorder) *persister {
	p := &persister{
		store:   store,
		key:     key,
		logger:  logger,
		metrics: metrics,
		notify:  make(chan struct{}),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *persister) submit(snap Snapshot) {
	p.mu.Lock()
	p.pending = &snap
	p.submitted++
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *persister) run() {
	defer close(p.done)
	for {
		select {
		case <-p.stop:
			p.drain()
			return
		case <-p.wake:
			p.drain()
		}
	}
}

func (p *persister) drain() {
	for {
		p.mu.Lock()
		snap, version := p.pending, p.submitted
		p.pending = nil
		p.mu.Unlock()
		if snap == nil {
			return
		}

		err := p.save(*snap)

		p.mu.Lock()
		p.saved = version
		p.lastErr = err
		close(p.notify)
		p.notify = make(chan struct{})
		p.mu.Unlock()
	}
}

// save runs detached from any request context; a cancelled caller never aborts a write.
func (p *persister) save(snap Snapshot) error {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	start := time.Now()
	err := p.store.Save(ctx, p.key, snap)
	p.metrics.ObservePersist(time.Since(start), err)
	if err != nil {
		err = &ExternalServiceError{Service: "persistence", Err: err}
		p.logger.Error("snapshot save failed", "key", p.key, "error", err)
		return err
	}
	p.logger.Debug("snapshot saved", "key", p.key,
		"subjects", len(snap.Subjects), "appointments", len(snap.Appointments), "entries", len(snap.ChangeLog))
	return nil
}

// flush waits until every snapshot submitted before the call has been written
// and returns the error of the most recent attempt.
func (p *persister) flush(ctx context.Context) error {
	p.mu.Lock()
	target := p.submitted
	p.mu.Unlock()

	for {
		p.mu.Lock()
		if p.saved >= target {
			err := p.lastErr
			p.mu.Unlock()
			return err
		}
		ch := p.notify
		p.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *persister) close(ctx context.Context) error {
	err := p.flush(ctx)
	select {
	case <-p.stop:
	default:
		close(p.stop)
	}
	select {
	case <-p.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}
