package imagestore

import "sync"

// Locker hands out one RWMutex per post. Entries are reference counted and
// dropped once no goroutine holds or waits on them.
type Locker struct {
	mu    sync.Mutex
	locks map[uint]*lockEntry
}

type lockEntry struct {
	rw   sync.RWMutex
	refs int
}

// NewLocker creates an empty lock registry.
func NewLocker() *Locker {
	return &Locker{locks: make(map[uint]*lockEntry)}
}

func (l *Locker) acquire(postID uint) *lockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.locks[postID]
	if !ok {
		e = &lockEntry{}
		l.locks[postID] = e
	}
	e.refs++
	return e
}

func (l *Locker) release(postID uint, e *lockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, postID)
	}
}

// Lock takes the exclusive lock for postID and returns its release func.
func (l *Locker) Lock(postID uint) func() {
	e := l.acquire(postID)
	e.rw.Lock()
	return func() {
		e.rw.Unlock()
		l.release(postID, e)
	}
}

// RLock takes the shared lock for postID and returns its release func.
func (l *Locker) RLock(postID uint) func() {
	e := l.acquire(postID)
	e.rw.RLock()
	return func() {
		e.rw.RUnlock()
		l.release(postID, e)
	}
}

// Len reports how many posts currently have a live lock entry.
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
