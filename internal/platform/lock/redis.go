// Package lock provides a Redis-backed lock shared by every API instance.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	defaultKeyPrefix = "claims:lock:"
	defaultTTL       = 30 * time.Second
	defaultRetry     = 50 * time.Millisecond
)

// ErrLockTimeout is returned when the lock could not be taken before the wait expired.
var ErrLockTimeout = errors.New("timed out waiting for lock")

// Deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

type Options struct {
	KeyPrefix string
	// TTL bounds how long a crashed holder can block others.
	TTL   time.Duration
	Retry time.Duration
	// MaxWait caps time spent acquiring. Zero means TTL.
	MaxWait time.Duration
}

func (o Options) withDefaults() Options {
	if o.KeyPrefix == "" {
		o.KeyPrefix = defaultKeyPrefix
	}
	if o.TTL <= 0 {
		o.TTL = defaultTTL
	}
	if o.Retry <= 0 {
		o.Retry = defaultRetry
	}
	if o.MaxWait <= 0 {
		o.MaxWait = o.TTL
	}
	return o
}

// RedisLocker takes SET NX PX locks holding a random token, and releases
// them with a compare-and-delete script.
type RedisLocker struct {
	client redis.Cmdable
	opts   Options
	logger zerolog.Logger
}

func NewRedisLocker(client redis.Cmdable, opts Options, logger zerolog.Logger) *RedisLocker {
	return &RedisLocker{client: client, opts: opts.withDefaults(), logger: logger}
}

// NewRedisClient parses a redis:// URL and pings the server.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (l *RedisLocker) key(k string) string { return l.opts.KeyPrefix + k }

func (l *RedisLocker) Lock(ctx context.Context, k string) (func(), error) {
	key := l.key(k)
	token := uuid.NewString()

	waitCtx, cancel := context.WithTimeout(ctx, l.opts.MaxWait)
	defer cancel()

	ticker := time.NewTicker(l.opts.Retry)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(waitCtx, key, token, l.opts.TTL).Result()
		if err != nil && waitCtx.Err() == nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			return l.releaser(key, token), nil
		}

		select {
		case <-ticker.C:
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
		}
	}
}

func (l *RedisLocker) releaser(key, token string) func() {
	var once sync.Once
	return func() { once.Do(func() { l.release(key, token) }) }
}

func (l *RedisLocker) release(key, token string) {
	// The caller's context may already be cancelled; release must still run.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	n, err := releaseScript.Run(ctx, l.client, []string{key}, token).Int()
	switch {
	case err != nil:
		l.logger.Warn().Err(err).Str("lock_key", key).Msg("release lock failed, waiting for ttl")
	case n == 0:
		l.logger.Warn().Str("lock_key", key).Msg("lock expired before release")
	}
}
