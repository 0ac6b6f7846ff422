// Package semantic builds the per-file semantic index: the scope tree, the
// per-scope binding tables with narrowing and visibility constraints, and
// the use-def resolver that consumes them. The index is built in one forward
// pass over a tree-sitter Python syntax tree and is immutable afterwards;
// it is rebuilt wholesale whenever the file's text changes.
package semantic

import (
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/taproot/internal/constraints"
)

// ScopeID indexes into Index.Scopes. The module scope is always 0.
type ScopeID int32

// NoScope is the absent parent of the module scope.
const NoScope ScopeID = -1

// BindingID indexes into Index.Bindings.
type BindingID int32

// ScopeKind classifies a lexical scope.
type ScopeKind uint8

const (
	ScopeModule ScopeKind = iota
	ScopeClass
	ScopeFunction
	ScopeLambda
	ScopeComprehension
	ScopeTypeParams
)

var scopeKindNames = [...]string{
	ScopeModule:        "module",
	ScopeClass:         "class",
	ScopeFunction:      "function",
	ScopeLambda:        "lambda",
	ScopeComprehension: "comprehension",
	ScopeTypeParams:    "type-params",
}

func (k ScopeKind) String() string {
	if int(k) < len(scopeKindNames) {
		return scopeKindNames[k]
	}
	return "unknown"
}

// Scope is one lexical region. Names holds first-appearance order; Table
// maps each name to the bindings introduced for it within the scope, in
// insertion order.
type Scope struct {
	ID       ScopeID
	Kind     ScopeKind
	Parent   ScopeID
	Node     *sitter.Node
	Start    uint32
	End      uint32
	Names    []string
	Table    map[string][]BindingID
	Children []ScopeID

	// Globals and Nonlocals record declared redirections so resolution
	// for those names jumps straight to the right table.
	Globals   map[string]bool
	Nonlocals map[string]bool
}

// BindingKind classifies the syntactic form that introduced a binding.
type BindingKind uint8

const (
	BindAssign BindingKind = iota
	BindAugAssign
	BindForTarget
	BindWithTarget
	BindExceptTarget
	BindFunctionDef
	BindClassDef
	BindParam
	BindImport
	BindMatchCapture
	BindCompTarget
	BindWalrus
	// BindUnbound is the implicit sentinel at the start of a scope for a
	// name that is not definitely assigned before use.
	BindUnbound
)

var bindingKindNames = [...]string{
	BindAssign:       "assignment",
	BindAugAssign:    "augmented-assignment",
	BindForTarget:    "for-target",
	BindWithTarget:   "with-target",
	BindExceptTarget: "except-target",
	BindFunctionDef:  "function-definition",
	BindClassDef:     "class-definition",
	BindParam:        "parameter",
	BindImport:       "import",
	BindMatchCapture: "match-capture",
	BindCompTarget:   "comprehension-target",
	BindWalrus:       "walrus",
	BindUnbound:      "unbound",
}

func (k BindingKind) String() string {
	if int(k) < len(bindingKindNames) {
		return bindingKindNames[k]
	}
	return "unknown"
}

// Binding is one syntactic place that gives a name a value. Created once
// during the build pass, never mutated.
type Binding struct {
	ID    BindingID
	Scope ScopeID
	Name  string
	Kind  BindingKind
	Node  *sitter.Node // nil for the unbound sentinel
	Start uint32

	// Narrowing is the refinement known to hold for the value right after
	// this binding (e.g. a surrounding isinstance guard).
	Narrowing constraints.ID
	// Visibility is the branch combination under which the binding is
	// live at all. The Ambiguous terminal marks loop/try bindings whose
	// execution cannot be statically pinned.
	Visibility constraints.ID
	// Ambiguous mirrors Visibility == constraints.Ambiguous for cheap
	// filtering.
	Ambiguous bool
	// Unreachable marks bindings after an unconditional terminator; they
	// are recorded (for dead-code diagnostics) but never resolvable.
	Unreachable bool
}

// Diagnostic is an analysis finding, not an error: construction degrades and
// continues, recording what it gave up on.
type Diagnostic struct {
	Kind    string
	Message string
	Start   uint32
	End     uint32
}

// Diagnostic kinds produced by the builder.
const (
	DiagGlobalAfterUse   = "global-after-use"
	DiagNonlocalAfterUse = "nonlocal-after-use"
	DiagMalformed        = "malformed-fragment"
	DiagNonlocalBinding  = "nonlocal-without-binding"
)
