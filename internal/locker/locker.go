// Package locker provides the per-session lock the poller takes before
// checking a session, so no session is ever verified by two sweeps (or two
// service replicas) at once.
package locker

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// SessionLocker acquires a short-lived exclusive lock for a key. The release
// function is a no-op when acquisition failed.
type SessionLocker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), acquired bool, err error)
}

type redisLocker struct {
	client    redis.UniversalClient
	namespace string
}

// NewRedisLocker locks via SETNX with a TTL, so a crashed holder can never
// wedge a session forever.
func NewRedisLocker(client redis.UniversalClient, namespace string) SessionLocker {
	return &redisLocker{client: client, namespace: namespace}
}

func (l *redisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	fullKey := l.namespace + ":" + key
	ok, err := l.client.SetNX(ctx, fullKey, "1", ttl).Result()
	if err != nil {
		return func() {}, false, err
	}
	if !ok {
		return func() {}, false, nil
	}
	return func() {
		_ = l.client.Del(context.Background(), fullKey).Err()
	}, true, nil
}

type localLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocalLocker is the in-process fallback used in tests and single-instance
// deployments without redis.
func NewLocalLocker() SessionLocker {
	return &localLocker{held: make(map[string]struct{})}
}

func (l *localLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, taken := l.held[key]; taken {
		return func() {}, false, nil
	}
	l.held[key] = struct{}{}

	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}
	return release, true, nil
}
