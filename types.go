package taproot

import (
	"errors"

	"github.com/jward/taproot/internal/constraints"
	"github.com/jward/taproot/internal/revision"
	"github.com/jward/taproot/internal/semantic"
)

// Public type aliases for internal types surfaced by the Snapshot and
// QueryBuilder APIs. These are Go type aliases (=) — identical to the
// internal types at compile time, so no conversion is needed.

type Index = semantic.Index
type Scope = semantic.Scope
type ScopeID = semantic.ScopeID
type ScopeKind = semantic.ScopeKind
type Binding = semantic.Binding
type BindingID = semantic.BindingID
type BindingKind = semantic.BindingKind
type ResolvedBinding = semantic.ResolvedBinding
type Diagnostic = semantic.Diagnostic
type ConstraintID = constraints.ID
type ConstraintGraph = constraints.Graph

// ErrCancelled is returned by queries whose revision was superseded by an
// edit while they were running.
var ErrCancelled = revision.ErrCancelled

// ErrUnanalyzable is returned for files whose index construction failed
// outright; per-fragment problems degrade to diagnostics instead.
var ErrUnanalyzable = semantic.ErrUnanalyzable

// ErrUnknownFile is returned for queries against a path the engine does
// not hold.
var ErrUnknownFile = errors.New("taproot: unknown file")
