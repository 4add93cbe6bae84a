// Package ratelimit implements fixed window attempt counters on redis.
package ratelimit

import (
	"context"
	"time"

	"github.com/goliatone/go-errors"
	auth "github.com/goliatone/go-portal-auth"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "portal:attempts:"

var (
	_ auth.AttemptLimiter  = (*Limiter)(nil)
	_ auth.AttemptResetter = (*Limiter)(nil)
)

// Limiter allows Limit attempts per key in each Window. The window starts
// at the first attempt for a key.
type Limiter struct {
	client redis.Cmdable
	Limit  int64
	Window time.Duration
}

func New(client redis.Cmdable, limit int, window time.Duration) *Limiter {
	if limit <= 0 {
		limit = 10
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &Limiter{client: client, Limit: int64(limit), Window: window}
}

// Allow counts an attempt for key and reports whether it is within budget
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	count, err := l.incr(ctx, keyPrefix+key)
	if err != nil {
		return true, errors.Wrap(err, errors.CategoryOperation, "attempt counter unavailable").
			WithMetadata(map[string]any{"key": key})
	}
	return count <= l.Limit, nil
}

// Reset clears the counter for key
func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.client.Del(ctx, keyPrefix+key).Err()
}

func (l *Limiter) incr(ctx context.Context, key string) (int64, error) {
	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, l.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// Options configures the redis client
type Options struct {
	Addr        string
	Password    string
	DB          int
	PingTimeout time.Duration
}

// Open connects to redis and checks it with a PING
func Open(ctx context.Context, opts Options) (*redis.Client, error) {
	if opts.Addr == "" {
		return nil, errors.New("redis addr is required", errors.CategoryBadInput)
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = 2 * time.Second
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, opts.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, errors.CategoryOperation, "redis ping failed").
			WithMetadata(map[string]any{"addr": opts.Addr})
	}
	return rdb, nil
}
