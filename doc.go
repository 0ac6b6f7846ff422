// Package taproot provides incremental, flow-sensitive semantic indexing
// for Python built on tree-sitter. It answers use-def questions that a
// purely lexical index cannot: which assignments can reach a use, under
// which branch conditions, and with which type narrowings in force.
//
// # Model
//
// Each file is indexed into a scope tree plus per-scope binding tables. A
// binding carries two constraints drawn from a shared interned constraint
// graph:
//
//   - Visibility: the branch combination under which the binding is live at
//     all (loop and try bindings get the Ambiguous terminal).
//   - Narrowing: the refinement known to hold for the value right after the
//     binding (isinstance guards, is-None tests, match patterns).
//
// Resolution returns every binding that can reach a use, with an explicit
// unbound sentinel whenever the combined visibility does not cover every
// execution path.
//
// # Usage
//
// Create an Engine, load sources, take a snapshot, and query:
//
//	e := taproot.New()
//	e.SetFile("app.py", src)
//
//	snap := e.Snapshot()
//	defer snap.Close()
//
//	q := snap.Query()
//	res, err := q.ResolveAt("app.py", 10, 5)
//
// # Incrementality
//
// Edits go through [Engine.SetFile] and [Engine.RemoveFile]. A write
// cancels the current revision's cooperative token, waits for open
// snapshots to close, applies the edit, and bumps the revision. Memoized
// per-file results whose dependency set is disjoint from the changed files
// survive the bump; everything else is recomputed on demand. In-flight
// queries observe the cancellation at scope boundaries and return
// [ErrCancelled] rather than a result built from superseded state.
//
// # Degradation
//
// Malformed fragments (parser error recovery) degrade to ambiguous
// bindings plus a diagnostic; the rest of the file indexes normally. A
// file is rejected outright only when its index would be unusable, in
// which case queries against it return [ErrUnanalyzable].
package taproot
