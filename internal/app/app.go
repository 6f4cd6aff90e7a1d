// Package app wires configuration into a running session.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hackgods/subject-visit-tracking/internal/blob"
	"github.com/hackgods/subject-visit-tracking/internal/config"
	"github.com/hackgods/subject-visit-tracking/internal/db"
	"github.com/hackgods/subject-visit-tracking/internal/drafting"
	"github.com/hackgods/subject-visit-tracking/internal/export"
	"github.com/hackgods/subject-visit-tracking/internal/metrics"
	redisclient "github.com/hackgods/subject-visit-tracking/internal/redis"
	"github.com/hackgods/subject-visit-tracking/internal/tracking"
)

// App is one session: a snapshot store, the service that owns it and the
// collaborators around it.
type App struct {
	Config   config.Config
	Logger   *slog.Logger
	Location *time.Location
	Metrics  *metrics.Recorder
	Store    tracking.SnapshotStore
	Service  *tracking.Service
	Exporter *export.Exporter
	Lease    *redisclient.SessionLease

	closers []func(context.Context) error
}

// New connects the configured backends and bootstraps the session. On error
// everything opened so far is closed again.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (_ *App, retErr error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	a := &App{Config: cfg, Logger: logger, Location: loc, Metrics: metrics.New()}
	defer func() {
		if retErr != nil {
			_ = a.closeAll(context.Background())
		}
	}()

	var rdb *redis.Client
	if cfg.UsesRedis() {
		rdb, err = redisclient.NewRedisClient(ctx, redisclient.ClientOptions{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Name:     "visit-tracking:" + cfg.SnapshotKey,
		})
		if err != nil {
			return nil, fmt.Errorf("redis connection: %w", err)
		}
		a.onClose(func(context.Context) error { return rdb.Close() })
		logger.Info("connected to redis", "addr", cfg.RedisAddr)

		lease, err := redisclient.AcquireSessionLease(ctx, rdb, cfg.SnapshotKey, cfg.LeaseTTL, logger)
		if err != nil {
			return nil, fmt.Errorf("session lease for %q: %w", cfg.SnapshotKey, err)
		}
		a.Lease = lease
		a.onClose(lease.Release)
	}

	store, err := a.openStore(ctx, rdb)
	if err != nil {
		return nil, err
	}
	a.Store = store

	drafter, err := NewDrafter(cfg.Draft)
	if err != nil {
		return nil, err
	}

	engine := tracking.NewEngine(tracking.WithClock(func() time.Time { return time.Now().In(loc) }))
	a.Service = tracking.NewService(engine, store, cfg.SnapshotKey,
		tracking.WithLogger(logger),
		tracking.WithRecorder(a.Metrics),
		tracking.WithDrafter(drafter, cfg.Draft.Timeout),
		tracking.WithLocation(loc),
	)
	a.onClose(a.Service.Close)

	archive, err := NewBlobStore(ctx, cfg.Blob)
	if err != nil {
		return nil, err
	}
	a.Exporter = export.New(a.Service, archive, cfg.SnapshotKey,
		export.WithLogger(logger), export.WithObserver(a.Metrics))
	a.onClose(func(context.Context) error { a.Exporter.Wait(); return nil })

	missed, err := a.Service.Bootstrap(ctx)
	if err != nil {
		return nil, fmt.Errorf("bootstrap session: %w", err)
	}
	logger.Info("session ready", "key", cfg.SnapshotKey, "store", cfg.StoreDriver, "auto_missed", len(missed))
	return a, nil
}

func (a *App) openStore(ctx context.Context, rdb *redis.Client) (tracking.SnapshotStore, error) {
	cfg := a.Config
	switch cfg.StoreDriver {
	case config.StoreMemory:
		return tracking.NewMemorySnapshotStore(), nil
	case config.StoreSQLite:
		s, err := tracking.NewSQLiteSnapshotStore(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		a.onClose(func(context.Context) error { return s.Close() })
		a.Logger.Info("opened sqlite store", "path", s.Path())
		return s, nil
	case config.StorePostgres:
		pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{})
		if err != nil {
			return nil, fmt.Errorf("postgres connection: %w", err)
		}
		a.onClose(func(context.Context) error { pool.Close(); return nil })
		s := tracking.NewPgSnapshotStore(pool)
		if err := s.EnsureSchema(pgCtx); err != nil {
			return nil, err
		}
		keys, err := s.Keys(pgCtx)
		if err != nil {
			return nil, err
		}
		a.Logger.Info("connected to postgres",
			"snapshot_keys", len(keys), "key_exists", slices.Contains(keys, cfg.SnapshotKey))
		return s, nil
	case config.StoreRedis:
		if rdb == nil {
			return nil, errors.New("redis store requires a redis connection")
		}
		return redisclient.NewSnapshotStore(rdb), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// NewBlobStore opens the archive backend for exports.
func NewBlobStore(ctx context.Context, cfg config.BlobConfig) (blob.Store, error) {
	switch cfg.Driver {
	case config.BlobMemory, "":
		return blob.NewMemory(), nil
	case config.BlobFS:
		return blob.NewFilesystem(cfg.FSRoot)
	case config.BlobS3:
		return blob.NewS3(ctx, blob.S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			PathStyle: cfg.S3PathStyle,

			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
		})
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
	}
}

// NewDrafter picks the Anthropic drafter when an API key is configured and
// the built-in template otherwise.
func NewDrafter(cfg config.DraftConfig) (tracking.Drafter, error) {
	if cfg.APIKey != "" {
		return drafting.NewAnthropic(cfg.APIKey, cfg.Model), nil
	}
	return drafting.NewTemplate("")
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition. The service is
// flushed before the store connections go away.
func (a *App) Close(ctx context.Context) error {
	return a.closeAll(ctx)
}

func (a *App) closeAll(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
