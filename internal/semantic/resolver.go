package semantic

import (
	"sort"

	"github.com/jward/taproot/internal/constraints"
)

// ResolvedBinding is one binding that can reach a use site, together with
// the constraints under which it does.
type ResolvedBinding struct {
	Binding *Binding
	// Narrowing is the refinement in force for the bound value when it
	// reaches the use. Merging narrowings into a union type is the type
	// layer's job, not this resolver's.
	Narrowing constraints.ID
	// Visibility is the branch combination under which this particular
	// binding is the live one at the use site.
	Visibility constraints.ID
}

// PossiblyUnbound reports whether r is the implicit unbound sentinel.
func (r ResolvedBinding) PossiblyUnbound() bool {
	return r.Binding.Kind == BindUnbound
}

// Resolve returns every binding of name that can reach the use at offset in
// scope, in declaration order. Ambiguous bindings (loops, try bodies) are
// always included regardless of textual position: a loop body can execute
// before a use that textually precedes it. When the combined visibility does
// not cover every path, the unbound sentinel is included — the "possibly
// unbound" condition. If the name resolves in no reachable scope the result
// is nil; surfacing that as a diagnostic is the consumer's business.
//
// Enclosing-scope lookup follows the host language's rule: function scopes
// recurse outward, class scopes do not contribute to free-variable lookup.
func (ix *Index) Resolve(scope ScopeID, name string, offset uint32) []ResolvedBinding {
	cur := scope
	bounded := true // position bounds apply only in the scope of the use

	for {
		s := ix.Scopes[cur]
		if s.Globals[name] && cur != 0 {
			cur = 0
			bounded = false
			continue
		}
		if s.Nonlocals[name] {
			if enc := ix.enclosingFunction(cur); enc != NoScope {
				cur = enc
				bounded = false
				continue
			}
		}

		if out := ix.resolveLocal(cur, name, offset, bounded); len(out) > 0 {
			return out
		}
		if s.Kind == ScopeModule {
			return nil
		}

		next := s.Parent
		for next != NoScope && ix.Scopes[next].Kind == ScopeClass {
			next = ix.Scopes[next].Parent
		}
		if next == NoScope {
			return nil
		}
		cur = next
		bounded = false
	}
}

func (ix *Index) resolveLocal(scope ScopeID, name string, offset uint32, bounded bool) []ResolvedBinding {
	g := ix.Graph
	limit := offset
	if !bounded {
		// A free variable is read when the inner function runs, not where
		// it appears, so every binding of the outer scope is in play.
		limit = ^uint32(0)
	}

	var live []liveRef
	events := ix.flows[scope][name]
	i := sort.Search(len(events), func(i int) bool { return events[i].at > limit })
	if i > 0 {
		live = events[i-1].live
	}

	var out []ResolvedBinding
	seen := make(map[BindingID]bool)
	for _, ref := range live {
		if g.IsAlwaysFalse(ref.vis) {
			continue
		}
		bind := ix.Bindings[ref.binding]
		out = append(out, ResolvedBinding{Binding: bind, Narrowing: bind.Narrowing, Visibility: ref.vis})
		seen[ref.binding] = true
	}
	for _, id := range ix.ambiguous[scope][name] {
		if seen[id] {
			continue
		}
		bind := ix.Bindings[id]
		out = append(out, ResolvedBinding{Binding: bind, Narrowing: bind.Narrowing, Visibility: constraints.Ambiguous})
	}
	if len(out) == 0 {
		return nil
	}

	cover := constraints.AlwaysFalse
	for _, r := range out {
		cover = g.Or(cover, r.Visibility)
	}
	// Definite coverage is relative to the use site: a binding visible
	// under flag covers a use that itself only executes under flag. For a
	// free-variable read the relevant site is the closure call, whose
	// reach is unknown, so the discount applies only when bounded.
	reach := constraints.AlwaysTrue
	if bounded {
		revs := ix.reaches[scope]
		if j := sort.Search(len(revs), func(j int) bool { return revs[j].at > limit }); j > 0 {
			reach = revs[j-1].reach
		}
	}
	if g.Taut(g.Or(cover, g.Not(reach))) {
		cover = constraints.AlwaysTrue
	}
	if !g.IsAlwaysTrue(cover) {
		ub := ix.unbound[scope][name]
		out = append(out, ResolvedBinding{
			Binding:    ix.Bindings[ub],
			Narrowing:  constraints.AlwaysTrue,
			Visibility: g.Not(cover),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Binding.ID < out[j].Binding.ID })
	return out
}

// CombinedVisibility ORs the visibilities of a resolution result, excluding
// the unbound sentinel. AlwaysTrue means the name is definitely bound.
func (ix *Index) CombinedVisibility(resolved []ResolvedBinding) constraints.ID {
	cover := constraints.AlwaysFalse
	for _, r := range resolved {
		if r.PossiblyUnbound() {
			continue
		}
		cover = ix.Graph.Or(cover, r.Visibility)
	}
	if ix.Graph.Taut(cover) {
		return constraints.AlwaysTrue
	}
	return cover
}

// enclosingFunction returns the nearest enclosing function scope, skipping
// class scopes, or NoScope when there is none (module-level nonlocal).
func (ix *Index) enclosingFunction(scope ScopeID) ScopeID {
	cur := ix.Scopes[scope].Parent
	for cur != NoScope {
		if ix.Scopes[cur].Kind == ScopeFunction {
			return cur
		}
		cur = ix.Scopes[cur].Parent
	}
	return NoScope
}
