package auction

import "sync"

// Locker serializes work per auction id inside one process.  Entries are
// reference counted and dropped when the last holder unlocks, so the map
// only holds auctions with work in flight.
type Locker struct {
	mu    sync.Mutex
	locks map[uint64]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewLocker returns an empty Locker.
func NewLocker() *Locker {
	return &Locker{locks: make(map[uint64]*keyLock)}
}

// Lock blocks until the caller holds the lock for id and returns the
// function that releases it.
func (l *Locker) Lock(id uint64) func() {
	l.mu.Lock()
	k, ok := l.locks[id]
	if !ok {
		k = &keyLock{}
		l.locks[id] = k
	}
	k.refs++
	l.mu.Unlock()

	k.mu.Lock()
	return func() {
		k.mu.Unlock()
		l.mu.Lock()
		k.refs--
		if k.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
