package taproot

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jward/taproot/internal/revision"
)

// Engine owns the in-memory file table, the revision guard, and the
// memoization store. All state lives in memory; nothing persists between
// processes (see internal/export for the explicit dump path).
type Engine struct {
	guard *revision.Guard
	memo  *revision.Store

	// files is mutated only inside guard.Write windows and read only while
	// holding a guard reader, so it needs no lock of its own.
	files map[string]*fileState

	workers int
	log     *slog.Logger
}

type fileState struct {
	src  []byte
	hash string
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers sets the worker count for bulk indexing. Defaults to
// GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// New creates an empty Engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		guard:   revision.NewGuard(),
		memo:    revision.NewStore(),
		files:   make(map[string]*fileState),
		workers: runtime.GOMAXPROCS(0),
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Revision returns the current revision number. It starts at 1 and bumps
// on every applied edit.
func (e *Engine) Revision() uint64 { return e.guard.Revision() }

func contentHash(src []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(src))
}

// lookup reads one file entry under a short-lived guard reader.
func (e *Engine) lookup(path string) (*fileState, bool) {
	rd := e.guard.BeginRead()
	defer rd.Close()
	st, ok := e.files[path]
	return st, ok
}

// SetFile installs or replaces the source of path. Setting identical
// content is a no-op and does not bump the revision. SetFile blocks until
// every open Snapshot is closed; in-flight queries on the old revision see
// their token cancelled first.
func (e *Engine) SetFile(path string, src []byte) {
	hash := contentHash(src)
	if cur, ok := e.lookup(path); ok && cur.hash == hash {
		return
	}
	var dropped int
	rev := e.guard.Write(func() {
		e.files[path] = &fileState{src: src, hash: hash}
		dropped = e.memo.Invalidate([]string{path})
	})
	e.log.Debug("file set", "path", path, "rev", rev, "invalidated", dropped)
}

// RemoveFile drops path from the index. Removing an unknown path is a
// no-op.
func (e *Engine) RemoveFile(path string) {
	if _, ok := e.lookup(path); !ok {
		return
	}
	var dropped int
	rev := e.guard.Write(func() {
		delete(e.files, path)
		dropped = e.memo.Invalidate([]string{path})
	})
	e.log.Debug("file removed", "path", path, "rev", rev, "invalidated", dropped)
}

// IndexFiles bulk-loads paths from disk in three phases: read and hash
// serially, commit the changed set in one revision bump, then build the
// changed indexes in parallel so later queries hit warm caches. Unchanged
// files (same content hash) are skipped entirely. Per-file errors are
// collected; the rest of the batch proceeds.
func (e *Engine) IndexFiles(ctx context.Context, paths []string) error {
	changed := make(map[string][]byte)
	var errs []error

	for _, path := range paths {
		src, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("read %s: %w", path, err))
			continue
		}
		if cur, ok := e.lookup(path); ok && cur.hash == contentHash(src) {
			continue
		}
		changed[path] = src
	}

	if len(changed) > 0 {
		e.guard.Write(func() {
			invalidate := make([]string, 0, len(changed))
			for path, src := range changed {
				e.files[path] = &fileState{src: src, hash: contentHash(src)}
				invalidate = append(invalidate, path)
			}
			e.memo.Invalidate(invalidate)
		})

		snap := e.Snapshot()
		defer snap.Close()

		g, _ := errgroup.WithContext(ctx)
		g.SetLimit(e.workers)
		var mu sync.Mutex
		for path := range changed {
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				if _, err := snap.Index(path); err != nil {
					mu.Lock()
					errs = append(errs, fmt.Errorf("index %s: %w", path, err))
					mu.Unlock()
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		e.log.Info("indexed", "files", len(changed), "rev", e.guard.Revision())
	}

	if len(errs) > 0 {
		return fmt.Errorf("indexing had %d error(s): %w", len(errs), errs[0])
	}
	return nil
}

// skipDirs are directory names excluded from IndexDirectory walks.
var skipDirs = map[string]bool{
	"__pycache__":  true,
	"node_modules": true,
	"venv":         true,
	".venv":        true,
}

// IndexDirectory walks root and indexes every .py file, skipping hidden
// directories and the usual vendored trees.
func (e *Engine) IndexDirectory(ctx context.Context, root string) error {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != root && (strings.HasPrefix(name, ".") || skipDirs[name]) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(path, ".py") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk directory: %w", err)
	}
	return e.IndexFiles(ctx, paths)
}

// Files returns the indexed paths in sorted order. Callers that need a
// consistent view across queries should use Snapshot.Files instead.
func (e *Engine) Files() []string {
	rd := e.guard.BeginRead()
	defer rd.Close()
	out := make([]string, 0, len(e.files))
	for path := range e.files {
		out = append(out, path)
	}
	sort.Strings(out)
	return out
}
