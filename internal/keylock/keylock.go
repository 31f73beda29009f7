// Package keylock provides mutual exclusion per string key.
package keylock

import (
	"context"
	"sync"
)

// Map hands out one lock per key. Locks for idle keys are dropped so the map
// only holds keys that are locked or being waited on.
type Map struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	sem  chan struct{}
	refs int
}

// New returns an empty lock map.
func New() *Map {
	return &Map{locks: make(map[string]*entry)}
}

// Lock blocks until key is held or ctx ends. The returned func releases the
// lock and must be called exactly once.
func (m *Map) Lock(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	e, ok := m.locks[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		m.locks[key] = e
	}
	e.refs++
	m.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		m.drop(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			m.drop(key, e)
		})
	}, nil
}

func (m *Map) drop(key string, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(m.locks, key)
	}
}

// Len reports how many keys are currently tracked.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
