// Package revision implements the incremental recomputation layer: a global
// revision counter with a writer barrier, cooperative cancellation tokens,
// and a memoizing query store with file-level dependency invalidation.
//
// Readers work against a fixed revision through a Reader handle; a writer
// cancels the current token, blocks until all readers drain, applies its
// edit, then bumps the revision and installs a fresh token. Cancellation is
// the only condition that unwinds through reader stacks; readers observe it
// at bounded intervals (scope boundaries) and return ErrCancelled.
package revision

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrCancelled is returned by readers whose work was superseded by an edit.
// It is an expected outcome: callers discard the partial result and re-query.
var ErrCancelled = errors.New("revision: computation cancelled")

// Token is a cooperative cancellation handle shared by all readers of one
// analysis generation. Checking is lock-free.
type Token struct {
	cancelled atomic.Bool
}

// Cancel flips the token. Idempotent.
func (t *Token) Cancel() { t.cancelled.Store(true) }

// Cancelled reports whether cancellation has been requested.
func (t *Token) Cancelled() bool { return t.cancelled.Load() }

// Err returns ErrCancelled once cancellation has been requested, else nil.
func (t *Token) Err() error {
	if t.cancelled.Load() {
		return ErrCancelled
	}
	return nil
}

// Guard serializes writers against concurrent readers. Readers register via
// BeginRead and must Close their handle; a writer calls Write, which cancels
// in-flight readers and blocks on a condition variable until they drain.
type Guard struct {
	mu      sync.Mutex
	cond    *sync.Cond
	readers int
	writing bool
	rev     uint64
	token   *Token
}

// NewGuard returns a guard at revision 1 with a fresh token.
func NewGuard() *Guard {
	g := &Guard{rev: 1, token: &Token{}}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// Revision returns the current global revision.
func (g *Guard) Revision() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rev
}

// Reader is a registered read handle pinned to one revision.
type Reader struct {
	guard  *Guard
	Rev    uint64
	Token  *Token
	closed bool
}

// BeginRead registers a reader against the current revision. If a writer is
// mid-barrier the call blocks until the new revision is installed, so fresh
// readers never start against a dying generation.
func (g *Guard) BeginRead() *Reader {
	g.mu.Lock()
	defer g.mu.Unlock()
	for g.writing {
		g.cond.Wait()
	}
	g.readers++
	return &Reader{guard: g, Rev: g.rev, Token: g.token}
}

// Close releases the reader. Safe to call more than once.
func (r *Reader) Close() {
	if r.closed {
		return
	}
	r.closed = true
	g := r.guard
	g.mu.Lock()
	g.readers--
	if g.readers == 0 {
		g.cond.Broadcast()
	}
	g.mu.Unlock()
}

// Valid reports whether results computed under this reader's revision are
// still current. Exposed for editor-server staleness checks.
func (r *Reader) Valid() bool {
	g := r.guard
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rev == r.Rev
}

// Write obtains exclusive access, runs apply, and bumps the revision.
// The sequence is: request cancellation on the shared token, wait (blocking,
// not spinning) for every outstanding reader to finish or unwind, run apply,
// then install a fresh un-cancelled token for subsequent readers.
func (g *Guard) Write(apply func()) uint64 {
	g.mu.Lock()
	for g.writing {
		g.cond.Wait()
	}
	g.writing = true
	g.token.Cancel()
	for g.readers > 0 {
		g.cond.Wait()
	}

	apply()

	g.rev++
	g.token = &Token{}
	g.writing = false
	rev := g.rev
	g.cond.Broadcast()
	g.mu.Unlock()
	return rev
}
