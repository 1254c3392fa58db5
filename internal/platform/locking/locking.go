// Package locking provides named, expiring mutual exclusion for jobs that must not overlap.
package locking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned when another holder owns the lock.
var ErrLockHeld = errors.New("locking: lock is held")

// ReleaseFunc gives up a lock. It is safe to call after the lock expired.
type ReleaseFunc func(ctx context.Context) error

// Locker acquires named locks that expire after ttl.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (ReleaseFunc, error)
}

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisLocker shares locks between instances using SET NX PX.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisLocker wraps a go-redis client.
func NewRedisLocker(client redis.UniversalClient, prefix string) (*RedisLocker, error) {
	if client == nil {
		return nil, errors.New("locking: redis client is required")
	}
	if strings.TrimSpace(prefix) == "" {
		prefix = "lock:"
	}
	return &RedisLocker{client: client, prefix: prefix}, nil
}

// Acquire implements Locker.
func (l *RedisLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (ReleaseFunc, error) {
	if ttl <= 0 {
		return nil, errors.New("locking: ttl must be positive")
	}
	key := l.prefix + name
	token := ulid.Make().String()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("locking: acquire %s: %w", name, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("locking: release %s: %w", name, err)
		}
		return nil
	}, nil
}

// LocalLocker serialises holders inside one process.
type LocalLocker struct {
	mu    sync.Mutex
	held  map[string]localLease
	clock func() time.Time
}

type localLease struct {
	token   string
	expires time.Time
}

// NewLocalLocker constructs a process-local locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]localLease), clock: time.Now}
}

// Acquire implements Locker.
func (l *LocalLocker) Acquire(_ context.Context, name string, ttl time.Duration) (ReleaseFunc, error) {
	if ttl <= 0 {
		return nil, errors.New("locking: ttl must be positive")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if lease, ok := l.held[name]; ok && now.Before(lease.expires) {
		return nil, ErrLockHeld
	}
	token := ulid.Make().String()
	l.held[name] = localLease{token: token, expires: now.Add(ttl)}

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if lease, ok := l.held[name]; ok && lease.token == token {
			delete(l.held, name)
		}
		return nil
	}, nil
}
