// Package ownerlock provides per-owner write sections.
//
// Captures, restores, and live CRUD writes for one owner are serialized;
// different owners never contend. Capsule reads take no lock.
package ownerlock

import (
	"context"
	"sync"
)

// Locks is a set of keyed mutexes, one per owner id.
// Entries are reference counted and removed once no holder or waiter remains.
type Locks struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	sem  chan struct{}
	refs int
}

// New creates an empty lock set.
func New() *Locks {
	return &Locks{entries: make(map[string]*entry)}
}

// Lock enters the write section for owner, waiting until it is free or ctx ends.
// The returned unlock func must be called exactly once.
func (l *Locks) Lock(ctx context.Context, owner string) (func(), error) {
	e := l.acquire(owner)

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(owner, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			l.release(owner, e)
		})
	}, nil
}

// TryLock enters the write section only if it is free.
func (l *Locks) TryLock(owner string) (func(), bool) {
	e := l.acquire(owner)
	select {
	case e.sem <- struct{}{}:
	default:
		l.release(owner, e)
		return nil, false
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			l.release(owner, e)
		})
	}, true
}

func (l *Locks) acquire(owner string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[owner]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		l.entries[owner] = e
	}
	e.refs++
	return e
}

func (l *Locks) release(owner string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, owner)
	}
}

// Len reports how many owners currently have holders or waiters.
func (l *Locks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
