package ledger

import "sync"

// keyedMutex serializes operations per market id. Entries are reference
// counted and removed once the last holder releases, so the map does not grow
// with the number of markets ever touched.
type keyedMutex struct {
	mu      sync.Mutex
	entries map[int64]*kmEntry
}

type kmEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{entries: make(map[int64]*kmEntry)}
}

// Lock blocks until the mutex for key is held and returns the unlock func.
func (k *keyedMutex) Lock(key int64) func() {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &kmEntry{}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.entries, key)
		}
		k.mu.Unlock()
	}
}
