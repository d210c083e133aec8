package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
)

const (
	scopeLockTTL = 5 * time.Minute
	// InventoryLockKey serializes all inventory passes so cross-shop GTIN checks see a stable store.
	InventoryLockKey = "inventory"
)

func ReceiptLockKey(filename string) string {
	return "receipt:" + filename
}

// Locker guards one reconcile scope at a time.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// RedisLocker obtains scope locks through Redis so passes from several processes serialize.
type RedisLocker struct {
	client *redislock.Client
	ttl    time.Duration
}

func NewRedisLocker(client *redislock.Client) *RedisLocker {
	return &RedisLocker{client: client, ttl: scopeLockTTL}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	lock, err := l.client.Obtain(ctx, "rechu:lock:"+key, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(200*time.Millisecond), 50),
	})
	if err == redislock.ErrNotObtained {
		return nil, fmt.Errorf("scope %s is locked by another pass", key)
	}
	if err != nil {
		return nil, err
	}
	return func() {
		// background context so a cancelled pass still releases
		_ = lock.Release(context.Background())
	}, nil
}

// LocalLocker is an in-process keyed mutex.
type LocalLocker struct {
	mu    sync.Mutex
	byKey map[string]*sync.Mutex
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{byKey: map[string]*sync.Mutex{}}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	km := l.byKey[key]
	if km == nil {
		km = &sync.Mutex{}
		l.byKey[key] = km
	}
	l.mu.Unlock()

	km.Lock()
	return km.Unlock, nil
}
