// Package locks serializes identify operations whose observations touch
// overlapping identity keys. Keys are acquired in sorted order so two
// operations with intersecting key sets can never deadlock; disjoint key sets
// proceed fully in parallel.
package locks

import (
	"context"
	"sort"
	"sync"

	dErrors "conflux/pkg/domain-errors"
)

// Locker grants exclusive access to a set of identity keys.
type Locker interface {
	// Acquire blocks until every key is held or ctx is done. The returned
	// release function is safe to call more than once.
	Acquire(ctx context.Context, keys []string) (release func(), err error)
}

// KeyedLocker is the in-process Locker. Each key maps to a one-slot channel
// acting as a mutex; entries are reference-counted and removed when idle so
// the key table does not grow with the contact graph.
type KeyedLocker struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	ch   chan struct{}
	refs int
}

// NewKeyedLocker creates an empty locker.
func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{entries: make(map[string]*entry)}
}

func (l *KeyedLocker) Acquire(ctx context.Context, keys []string) (func(), error) {
	ordered := sortedUnique(keys)
	held := make([]string, 0, len(ordered))

	for _, key := range ordered {
		e := l.retain(key)
		select {
		case e.ch <- struct{}{}:
			held = append(held, key)
		case <-ctx.Done():
			l.release(key) // retained but never locked
			l.releaseAll(held)
			return nil, dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "identity lock acquisition cancelled")
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.releaseAll(held) })
	}, nil
}

func (l *KeyedLocker) retain(key string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	return e
}

func (l *KeyedLocker) releaseAll(keys []string) {
	// unlock in reverse acquisition order
	for i := len(keys) - 1; i >= 0; i-- {
		l.mu.Lock()
		e := l.entries[keys[i]]
		l.mu.Unlock()
		<-e.ch
		l.release(keys[i])
	}
}

func (l *KeyedLocker) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		return
	}
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

func sortedUnique(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
