package taproot

import (
	"context"
	"fmt"
	"sort"

	"github.com/jward/taproot/internal/python"
	"github.com/jward/taproot/internal/revision"
	"github.com/jward/taproot/internal/semantic"
)

// Snapshot is a consistent read-only view of one revision. It holds a
// guard reader, so an Engine write blocks until the snapshot is closed;
// close promptly. Queries against a snapshot whose revision has been
// superseded return ErrCancelled.
type Snapshot struct {
	eng *Engine
	rd  *revision.Reader
}

// Snapshot opens a read view of the current revision. It blocks while a
// write is in progress.
func (e *Engine) Snapshot() *Snapshot {
	return &Snapshot{eng: e, rd: e.guard.BeginRead()}
}

// Close releases the snapshot's reader. Idempotent.
func (s *Snapshot) Close() { s.rd.Close() }

// Revision returns the revision this snapshot observes.
func (s *Snapshot) Revision() uint64 { return s.rd.Rev }

// Valid reports whether the snapshot's revision is still current. Results
// computed from an invalid snapshot are safe but stale; editor servers use
// this to decide whether to ship or re-run.
func (s *Snapshot) Valid() bool { return s.rd.Valid() }

// Files returns the paths visible in this snapshot, sorted.
func (s *Snapshot) Files() []string {
	out := make([]string, 0, len(s.eng.files))
	for path := range s.eng.files {
		out = append(out, path)
	}
	sort.Strings(out)
	return out
}

// Source returns the source text of path in this snapshot.
func (s *Snapshot) Source(path string) ([]byte, bool) {
	st, ok := s.eng.files[path]
	if !ok {
		return nil, false
	}
	return st.src, true
}

// Index returns the semantic index of path, building it on first use and
// memoizing it for the lifetime of the revision. Concurrent callers for
// the same revision share one result.
func (s *Snapshot) Index(path string) (*semantic.Index, error) {
	return s.index(path, nil)
}

func (s *Snapshot) index(path string, parent *revision.Tracker) (*semantic.Index, error) {
	st, ok := s.eng.files[path]
	if !ok {
		return nil, fmt.Errorf("index %s: %w", path, ErrUnknownFile)
	}

	key := revision.Key{Kind: "index", File: path}
	v, err := s.eng.memo.GetOrCompute(s.rd, key, parent, func(tr *revision.Tracker) (any, error) {
		tree, err := python.NewParser().Parse(context.Background(), st.src)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		ix, err := semantic.Build(path, st.src, tree, s.rd.Rev, s.rd.Token)
		if err != nil {
			return nil, err
		}
		return ix, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*semantic.Index), nil
}

// Query returns a QueryBuilder over this snapshot.
func (s *Snapshot) Query() *QueryBuilder {
	return &QueryBuilder{snap: s}
}
