package semantic

import (
	"sort"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/taproot/internal/constraints"
	"github.com/jward/taproot/internal/python"
)

// liveRef is one entry of a name's live-binding set: the binding plus the
// visibility under which it reaches the current program point.
type liveRef struct {
	binding BindingID
	vis     constraints.ID
}

// flowEvent snapshots a name's live set at the byte offset where it changed
// (a binding or a control-flow join). Resolution is a binary search over
// these, not a re-traversal of the tree.
type flowEvent struct {
	at   uint32
	live []liveRef
}

// reachEvent snapshots a scope's reachability constraint at the offset
// where it changed: a terminator, a branch-arm entry, or a join. The use
// site's reach participates in the definitely-bound test, so a binding
// guarded by `flag` still covers a use that only executes under `flag`.
type reachEvent struct {
	at    uint32
	reach constraints.ID
}

// Index is the complete semantic index for one revision of one file.
type Index struct {
	Path     string
	Source   []byte
	Hash     string
	Revision uint64

	Tree  *sitter.Tree
	Lines *python.LineIndex
	Graph *constraints.Graph

	Scopes   []*Scope
	Bindings []*Binding

	// flows[scope][name] is the offset-ordered event list for name.
	flows []map[string][]flowEvent
	// ambiguous[scope][name] lists loop/try bindings that are live at any
	// point in the scope regardless of textual position.
	ambiguous []map[string][]BindingID
	// unbound[scope][name] is the implicit unbound sentinel.
	unbound []map[string]BindingID
	// reaches[scope] is the offset-ordered reachability event list.
	reaches [][]reachEvent
	// scopeOf maps a scope-introducing node's byte span to its scope.
	scopeOf map[nodeSpan]ScopeID

	diagnostics []Diagnostic
}

// ModuleScope returns the root scope.
func (ix *Index) ModuleScope() *Scope { return ix.Scopes[0] }

// Scope returns the scope with the given id.
func (ix *Index) Scope(id ScopeID) *Scope { return ix.Scopes[id] }

// Binding returns the binding with the given id.
func (ix *Index) Binding(id BindingID) *Binding { return ix.Bindings[id] }

// BindingsIn returns scope's bindings in insertion order, all names
// interleaved by creation sequence.
func (ix *Index) BindingsIn(scope ScopeID) []*Binding {
	var out []*Binding
	for _, b := range ix.Bindings {
		if b.Scope == scope && b.Kind != BindUnbound {
			out = append(out, b)
		}
	}
	return out
}

// NarrowingOf returns the narrowing constraint recorded on a binding.
func (ix *Index) NarrowingOf(id BindingID) constraints.ID {
	return ix.Bindings[id].Narrowing
}

// ScopeOf returns the scope introduced by node (a module, def, class,
// lambda or comprehension node), or the innermost scope containing it.
func (ix *Index) ScopeOf(node *sitter.Node) ScopeID {
	if node == nil {
		return 0
	}
	if id, ok := ix.scopeOf[nodeKey(node)]; ok {
		return id
	}
	return ix.ScopeAt(node.StartByte())
}

// ScopeAt returns the innermost scope whose span contains offset.
func (ix *Index) ScopeAt(offset uint32) ScopeID {
	best := ScopeID(0)
	for _, s := range ix.Scopes {
		if s.Start <= offset && offset < s.End && s.ID != 0 {
			b := ix.Scopes[best]
			if s.Start >= b.Start && s.End <= b.End {
				best = s.ID
			}
		}
	}
	return best
}

// Diagnostics returns the findings recorded during the build, ordered by
// position.
func (ix *Index) Diagnostics() []Diagnostic {
	out := make([]Diagnostic, len(ix.diagnostics))
	copy(out, ix.diagnostics)
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}
