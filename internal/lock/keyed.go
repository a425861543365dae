package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// KeyedMutex serialises callers per key inside one process. The ttl argument
// of WithLock is accepted for interface parity with Locker and ignored.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	ch      chan struct{}
	waiters int
}

// WithLock runs fn while holding the in-process lock for key.
func (k *KeyedMutex) WithLock(ctx context.Context, key string, _ time.Duration, fn func(context.Context) error) error {
	if fn == nil {
		return errors.New("lock: callback not provided")
	}
	entry := k.acquireEntry(key)
	select {
	case entry.ch <- struct{}{}:
	case <-ctx.Done():
		k.releaseEntry(key, entry)
		return ctx.Err()
	}
	defer func() {
		<-entry.ch
		k.releaseEntry(key, entry)
	}()
	return fn(ctx)
}

func (k *KeyedMutex) acquireEntry(key string) *keyedEntry {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedEntry)
	}
	entry, ok := k.locks[key]
	if !ok {
		entry = &keyedEntry{ch: make(chan struct{}, 1)}
		k.locks[key] = entry
	}
	entry.waiters++
	return entry
}

func (k *KeyedMutex) releaseEntry(key string, entry *keyedEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	entry.waiters--
	if entry.waiters == 0 {
		delete(k.locks, key)
	}
}
