package revision

import (
	"fmt"
	"sync"
)

// Key identifies one memoized query: a query kind applied to one file.
type Key struct {
	Kind string
	File string
}

func (k Key) String() string { return fmt.Sprintf("%s(%s)", k.Kind, k.File) }

type entry struct {
	rev   uint64
	value any
	// deps is the transitive set of files this result was computed from,
	// accumulated through nested GetOrCompute calls. Invalidation is a
	// single intersection test against the changed-file set.
	deps map[string]struct{}
}

// Tracker accumulates dependency edges while a query computes. Nested
// queries pass their tracker down so file reads recorded by callees roll up
// into every in-flight caller.
type Tracker struct {
	parent *Tracker
	deps   map[string]struct{}
}

// Depend records that the in-flight query read file.
func (t *Tracker) Depend(file string) {
	for cur := t; cur != nil; cur = cur.parent {
		cur.deps[file] = struct{}{}
	}
}

// Store memoizes query results per (kind, file) with the revision they were
// computed under. Reads are concurrent; writes happen under the store lock,
// and full invalidation happens only inside the writer's exclusive window.
type Store struct {
	mu      sync.RWMutex
	entries map[Key]entry
}

// NewStore returns an empty memoization store.
func NewStore() *Store {
	return &Store{entries: make(map[Key]entry)}
}

// GetOrCompute returns the cached result for key if one is live, else runs
// compute and records its result under the reader's revision together with
// the dependency set compute reported through the Tracker. The computing
// query automatically depends on its own file.
func (s *Store) GetOrCompute(rd *Reader, key Key, parent *Tracker, compute func(*Tracker) (any, error)) (any, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if ok {
		if parent != nil {
			for f := range e.deps {
				parent.Depend(f)
			}
		}
		return e.value, nil
	}

	if err := rd.Token.Err(); err != nil {
		return nil, err
	}

	tr := &Tracker{parent: parent, deps: make(map[string]struct{})}
	tr.Depend(key.File)
	value, err := compute(tr)
	if err != nil {
		return nil, err
	}

	// A result computed under a superseded token may be partial in spirit
	// even when compute returned cleanly; don't cache it.
	if rd.Token.Cancelled() {
		return value, nil
	}

	s.mu.Lock()
	if _, exists := s.entries[key]; !exists {
		s.entries[key] = entry{rev: rd.Rev, value: value, deps: tr.deps}
	}
	s.mu.Unlock()
	return value, nil
}

// Peek returns the cached value without computing.
func (s *Store) Peek(key Key) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	return e.value, true
}

// RevisionOf returns the revision a cached result was computed under.
func (s *Store) RevisionOf(key Key) (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return 0, false
	}
	return e.rev, true
}

// Invalidate drops every entry whose dependency set intersects the changed
// files. Dependency-disjoint results survive the revision bump untouched.
// Must only be called from within a Guard.Write window.
func (s *Store) Invalidate(changed []string) int {
	if len(changed) == 0 {
		return 0
	}
	changedSet := make(map[string]struct{}, len(changed))
	for _, f := range changed {
		changedSet[f] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	dropped := 0
	for key, e := range s.entries {
		hit := false
		for f := range changedSet {
			if _, ok := e.deps[f]; ok {
				hit = true
				break
			}
		}
		if hit {
			delete(s.entries, key)
			dropped++
		}
	}
	return dropped
}

// Len reports the number of live entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
