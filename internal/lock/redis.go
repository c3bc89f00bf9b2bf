package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the lease only if it still carries our token, so
// a holder whose lease expired cannot release someone else's.
var releaseScript = redis.NewScript(`
    if redis.call('GET', KEYS[1]) == ARGV[1] then
        return redis.call('DEL', KEYS[1])
    end
    return 0
`)

// Redis is a lease-based lock shared across processes.  A lease is a key
// set with NX and a TTL whose value is a random token.  Leases are not
// extended; work done under the lock must finish well inside the TTL.
type Redis struct {
	rdb      *redis.Client
	prefix   string
	ttl      time.Duration
	interval time.Duration
	log      *zap.Logger
}

// RedisOption configures a Redis lock.
type RedisOption func(*Redis)

// WithPrefix sets the key prefix (default "lock").
func WithPrefix(p string) RedisOption { return func(r *Redis) { r.prefix = p } }

// WithTTL sets the lease TTL (default 10s).
func WithTTL(d time.Duration) RedisOption { return func(r *Redis) { r.ttl = d } }

// WithPollInterval sets how often a waiter retries SET NX (default 20ms).
func WithPollInterval(d time.Duration) RedisOption { return func(r *Redis) { r.interval = d } }

// WithLogger attaches a logger used for release failures.
func WithLogger(l *zap.Logger) RedisOption { return func(r *Redis) { r.log = l } }

// NewRedis returns a Redis lock on rdb.
func NewRedis(rdb *redis.Client, opts ...RedisOption) *Redis {
	r := &Redis{
		rdb:      rdb,
		prefix:   "lock",
		ttl:      10 * time.Second,
		interval: 20 * time.Millisecond,
		log:      zap.NewNop(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Redis) key(k string) string { return r.prefix + ":" + k }

// Lock polls SET NX PX until the lease is acquired or ctx is done.  Redis
// errors are reported as ErrUnavailable.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	if r.rdb == nil {
		return nil, ErrUnavailable
	}
	k := r.key(key)
	token := uuid.NewString()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		ok, err := r.rdb.SetNX(ctx, k, token, r.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if ok {
			return r.releaser(k, token), nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *Redis) releaser(k, token string) func() {
	released := false
	return func() {
		if released {
			return
		}
		released = true
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, r.rdb, []string{k}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			// The lease expires on its own after the TTL.
			r.log.Warn("lock release failed", zap.String("key", k), zap.Error(err))
		}
	}
}
