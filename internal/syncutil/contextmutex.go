// Package syncutil provides keyed mutual exclusion for per-account and
// per-device critical sections.
package syncutil

import (
	"context"
	"strings"
	"sync"
)

// KeyedMutex hands out one lock per key. Entries are reference counted and
// removed once no goroutine holds or waits on them, so memory tracks the
// number of keys in use rather than every key ever seen. Distinct keys never
// contend, which matters when a critical section spans a slow external call.
//
// Unlike sync.Mutex, a waiter can give up when its context is done.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

// NewKeyedMutex creates an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyLock)}
}

// LockContext acquires the lock for key. On success it returns an unlock
// func that the caller must call exactly once. If ctx ends first it returns
// ctx.Err() and no lock is held.
func (m *KeyedMutex) LockContext(ctx context.Context, key string) (func(), error) {
	kl := m.acquireRef(key)

	select {
	case <-kl.ch:
		var once sync.Once
		return func() {
			once.Do(func() {
				kl.ch <- struct{}{}
				m.releaseRef(key, kl)
			})
		}, nil
	case <-ctx.Done():
		m.releaseRef(key, kl)
		return nil, ctx.Err()
	}
}

// Len returns the number of keys currently held or awaited.
func (m *KeyedMutex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

func (m *KeyedMutex) acquireRef(key string) *keyLock {
	m.mu.Lock()
	defer m.mu.Unlock()
	kl, ok := m.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		kl.ch <- struct{}{}
		m.locks[key] = kl
	}
	kl.refs++
	return kl
}

func (m *KeyedMutex) releaseRef(key string, kl *keyLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(m.locks, key)
	}
}

// Key joins parts into a single lock key, e.g. Key("device", acct, digest).
func Key(parts ...string) string {
	return strings.Join(parts, "\x1f")
}
