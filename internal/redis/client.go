// Package redisclient holds the Redis-backed pieces of a session: the
// connection, the snapshot store and the single-session lease.
package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type ClientOptions struct {
	Addr     string
	Username string
	Password string
	DB       int
	PoolSize int

	// Name is reported by CLIENT LIST.
	Name string
}

func (o ClientOptions) withDefaults() ClientOptions {
	if o.PoolSize <= 0 {
		o.PoolSize = 10
	}
	if o.Name == "" {
		o.Name = "visit-tracking"
	}
	return o
}

// NewRedisClient connects and pings once; the client is closed again if the ping fails.
func NewRedisClient(ctx context.Context, opts ClientOptions) (*redis.Client, error) {
	opts = opts.withDefaults()
	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Username:     opts.Username,
		Password:     opts.Password,
		DB:           opts.DB,
		ClientName:   opts.Name,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     opts.PoolSize,
		MinIdleConns: 1,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	return rdb, nil
}
