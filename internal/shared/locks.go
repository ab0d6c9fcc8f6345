package shared

import (
	"fmt"
	"slices"
	"sync"
)

// ProductLockKey builds the lock key guarding a product and its batches.
func ProductLockKey(productID int64) string {
	return fmt.Sprintf("inventory:product:%d:lock", productID)
}

// KeyedLocker serialises writers per key while unrelated keys proceed in parallel.
type KeyedLocker struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedLocker constructs an empty locker.
func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{locks: make(map[string]*keyedEntry)}
}

// LockAll acquires every key in ascending order and returns the release func.
// Acquiring a whole set at once in a fixed order keeps overlapping callers deadlock free.
func (l *KeyedLocker) LockAll(keys ...string) func() {
	sorted := slices.Clone(keys)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	entries := make([]*keyedEntry, 0, len(sorted))
	for _, key := range sorted {
		entry := l.acquire(key)
		entry.mu.Lock()
		entries = append(entries, entry)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			for i := len(entries) - 1; i >= 0; i-- {
				entries[i].mu.Unlock()
				l.release(sorted[i])
			}
		})
	}
}

func (l *KeyedLocker) acquire(key string) *keyedEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.locks[key]
	if !ok {
		entry = &keyedEntry{}
		l.locks[key] = entry
	}
	entry.refs++
	return entry
}

func (l *KeyedLocker) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.locks[key]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(l.locks, key)
	}
}
