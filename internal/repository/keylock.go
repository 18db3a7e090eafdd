package repository

import (
	"context"
	"sync"
)

// keyLocks hands out one mutual-exclusion region per key. Waiting honours
// context cancellation, and idle keys are dropped so the map does not grow
// with every session ever touched.
type keyLocks struct {
	mu sync.Mutex
	m  map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{m: make(map[string]*keyLock)}
}

// acquire locks keys in the given order. On failure every key already taken
// is released again and the context error is returned.
func (l *keyLocks) acquire(ctx context.Context, keys ...string) (func(), error) {
	taken := make([]string, 0, len(keys))
	release := func() {
		for i := len(taken) - 1; i >= 0; i-- {
			l.unlock(taken[i])
		}
	}
	for _, k := range keys {
		if err := l.lock(ctx, k); err != nil {
			release()
			return nil, err
		}
		taken = append(taken, k)
	}
	return release, nil
}

func (l *keyLocks) lock(ctx context.Context, key string) error {
	l.mu.Lock()
	k, ok := l.m[key]
	if !ok {
		k = &keyLock{ch: make(chan struct{}, 1)}
		l.m[key] = k
	}
	k.refs++
	l.mu.Unlock()

	select {
	case k.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		l.dropLocked(key, k)
		l.mu.Unlock()
		return ctx.Err()
	}
}

func (l *keyLocks) unlock(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := l.m[key]
	<-k.ch
	l.dropLocked(key, k)
}

func (l *keyLocks) dropLocked(key string, k *keyLock) {
	k.refs--
	if k.refs == 0 {
		delete(l.m, key)
	}
}

// size reports the number of tracked keys. Used in tests.
func (l *keyLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}
