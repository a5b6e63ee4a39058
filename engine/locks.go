package engine

import (
	"sync"

	"fitprogress/core"
)

// userLocks hands out one mutex per user so that read-modify-write cycles
// for the same user never interleave inside a process. Entries are
// reference counted and dropped when unused.
type userLocks struct {
	mu    sync.Mutex
	locks map[core.UserID]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[core.UserID]*userLock)}
}

// lock blocks until user is free and returns the matching unlock func.
func (l *userLocks) lock(user core.UserID) func() {
	l.mu.Lock()
	ul, ok := l.locks[user]
	if !ok {
		ul = &userLock{}
		l.locks[user] = ul
	}
	ul.refs++
	l.mu.Unlock()

	ul.mu.Lock()
	return func() {
		ul.mu.Unlock()
		l.mu.Lock()
		ul.refs--
		if ul.refs == 0 {
			delete(l.locks, user)
		}
		l.mu.Unlock()
	}
}

func (l *userLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
