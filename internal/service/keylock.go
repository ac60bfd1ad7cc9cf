package service

import "sync"

// keyMutex serializes work per key. Entries are refcounted and removed once
// the last holder unlocks, so the map does not grow with the number of keys
// ever touched.
type keyMutex[K comparable] struct {
	mu    sync.Mutex
	locks map[K]*keyLockEntry
}

type keyLockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyMutex[K comparable]() *keyMutex[K] {
	return &keyMutex[K]{locks: make(map[K]*keyLockEntry)}
}

func (k *keyMutex[K]) Lock(id K) {
	k.mu.Lock()
	e, ok := k.locks[id]
	if !ok {
		e = &keyLockEntry{}
		k.locks[id] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
}

func (k *keyMutex[K]) Unlock(id K) {
	k.mu.Lock()
	e := k.locks[id]
	e.refs--
	if e.refs == 0 {
		delete(k.locks, id)
	}
	k.mu.Unlock()

	e.mu.Unlock()
}
