package semantic

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/taproot/internal/constraints"
	"github.com/jward/taproot/internal/python"
	"github.com/jward/taproot/internal/revision"
)

// ErrUnanalyzable is returned when an internal invariant fails while
// building one file's index. The failure is contained to that file; other
// files' indices are unaffected.
var ErrUnanalyzable = errors.New("semantic: file is unanalyzable")

// Build runs the single forward pass that produces the semantic index for
// one file: scope tree, binding tables, constraint graph, and flow tables.
//
// token may be nil. When set, cancellation is observed at every scope entry;
// a cancelled build returns revision.ErrCancelled and no index.
func Build(path string, src []byte, tree *sitter.Tree, rev uint64, token *revision.Token) (ix *Index, err error) {
	defer func() {
		if r := recover(); r != nil {
			ix = nil
			err = fmt.Errorf("%w: %v", ErrUnanalyzable, r)
		}
	}()

	b := &builder{
		ix: &Index{
			Path:     path,
			Source:   src,
			Hash:     fmt.Sprintf("%x", sha256.Sum256(src)),
			Revision: rev,
			Tree:     tree,
			Lines:    python.NewLineIndex(src),
			Graph:    constraints.NewGraph(),
			scopeOf:  make(map[nodeSpan]ScopeID),
		},
		src:   src,
		token: token,
	}

	root := tree.RootNode()
	b.pushScope(ScopeModule, root)
	b.walkBlock(root)
	b.popScope()

	if b.cancelled {
		return nil, revision.ErrCancelled
	}
	return b.ix, nil
}

// nodeSpan identifies an AST node by its byte extent. Node pointers are
// unusable as map keys here: the parser hands out a fresh *Node on every
// traversal, so only the span is stable across lookups.
type nodeSpan struct {
	start, end uint32
}

func nodeKey(n *sitter.Node) nodeSpan {
	return nodeSpan{start: n.StartByte(), end: n.EndByte()}
}

// scopeState is the flow state for one scope while the builder traverses it.
// reach and the narrowing map are relative to scope entry.
type scopeState struct {
	enclosing *scopeState
	scope     ScopeID
	reach     constraints.ID
	live      map[string][]liveRef
	narrow    map[string]constraints.ID
	seen      map[string]bool
	loop      int
	try       int
	// loopBreaks has one entry per enclosing loop in this scope; the top
	// entry flips when the innermost loop's body contains a break.
	loopBreaks []bool
}

func (st *scopeState) pushLoop() {
	st.loop++
	st.loopBreaks = append(st.loopBreaks, false)
}

func (st *scopeState) popLoop() bool {
	st.loop--
	saw := st.loopBreaks[len(st.loopBreaks)-1]
	st.loopBreaks = st.loopBreaks[:len(st.loopBreaks)-1]
	return saw
}

type builder struct {
	ix        *Index
	src       []byte
	token     *revision.Token
	cancelled bool
	st        *scopeState
}

func (b *builder) check() bool {
	if b.cancelled {
		return true
	}
	if b.token != nil && b.token.Cancelled() {
		b.cancelled = true
	}
	return b.cancelled
}

func (b *builder) pushScope(kind ScopeKind, node *sitter.Node) *Scope {
	// Scope entry is the cancellation checkpoint: frequent enough to bound
	// latency, coarse enough to stay off the per-node hot path.
	b.check()

	id := ScopeID(len(b.ix.Scopes))
	parent := NoScope
	if b.st != nil {
		parent = b.st.scope
		b.ix.Scopes[parent].Children = append(b.ix.Scopes[parent].Children, id)
	}
	if kind == ScopeModule && parent != NoScope {
		panic("module scope must be the root")
	}
	s := &Scope{
		ID:        id,
		Kind:      kind,
		Parent:    parent,
		Node:      node,
		Start:     node.StartByte(),
		End:       node.EndByte(),
		Table:     make(map[string][]BindingID),
		Globals:   make(map[string]bool),
		Nonlocals: make(map[string]bool),
	}
	b.ix.Scopes = append(b.ix.Scopes, s)
	b.ix.flows = append(b.ix.flows, make(map[string][]flowEvent))
	b.ix.ambiguous = append(b.ix.ambiguous, make(map[string][]BindingID))
	b.ix.unbound = append(b.ix.unbound, make(map[string]BindingID))
	b.ix.reaches = append(b.ix.reaches, nil)
	b.ix.scopeOf[nodeKey(node)] = id

	b.st = &scopeState{
		enclosing: b.st,
		scope:     id,
		reach:     constraints.AlwaysTrue,
		live:      make(map[string][]liveRef),
		narrow:    make(map[string]constraints.ID),
		seen:      make(map[string]bool),
	}
	return s
}

func (b *builder) popScope() {
	b.st = b.st.enclosing
}

func (b *builder) diag(kind, msg string, n *sitter.Node) {
	b.ix.diagnostics = append(b.ix.diagnostics, Diagnostic{
		Kind:    kind,
		Message: msg,
		Start:   n.StartByte(),
		End:     n.EndByte(),
	})
}

func (b *builder) text(n *sitter.Node) string {
	return n.Content(b.src)
}

func cloneRefs(refs []liveRef) []liveRef {
	out := make([]liveRef, len(refs))
	copy(out, refs)
	return out
}

func cloneLive(live map[string][]liveRef) map[string][]liveRef {
	out := make(map[string][]liveRef, len(live))
	for k, v := range live {
		out[k] = cloneRefs(v)
	}
	return out
}

func cloneNarrow(narrow map[string]constraints.ID) map[string]constraints.ID {
	out := make(map[string]constraints.ID, len(narrow))
	for k, v := range narrow {
		out[k] = v
	}
	return out
}

// bind records one binding of name in the current flow. Global/nonlocal
// declarations redirect the owning table to the proper enclosing scope;
// redirected bindings are ambiguous by nature (whether they ran depends on
// whether the function was called). forceAmb is used for degraded fragments.
func (b *builder) bind(name string, kind BindingKind, node *sitter.Node, forceAmb bool) BindingID {
	// A name becomes live once its defining token ends; assignments pass
	// the statement end instead so `w = w + 1` reads the prior binding.
	return b.bindAt(name, kind, node, forceAmb, node.EndByte())
}

func (b *builder) bindAt(name string, kind BindingKind, node *sitter.Node, forceAmb bool, at uint32) BindingID {
	st := b.st
	owner := st.scope
	redirected := false

	s := b.ix.Scopes[st.scope]
	switch {
	case s.Globals[name] && st.scope != 0:
		owner = 0
		redirected = true
	case s.Nonlocals[name]:
		if enc := b.ix.enclosingFunction(st.scope); enc != NoScope {
			owner = enc
			redirected = true
		}
	}

	vis := st.reach
	amb := false
	unreachable := vis == constraints.AlwaysFalse
	if !unreachable && (st.loop > 0 || st.try > 0 || redirected || forceAmb) {
		vis = constraints.Ambiguous
		amb = true
	}

	narrowing := constraints.AlwaysTrue
	if c, ok := st.narrow[name]; ok {
		narrowing = c
	}

	id := BindingID(len(b.ix.Bindings))
	b.ix.Bindings = append(b.ix.Bindings, &Binding{
		ID:          id,
		Scope:       owner,
		Name:        name,
		Kind:        kind,
		Node:        node,
		Start:       node.StartByte(),
		Narrowing:   narrowing,
		Visibility:  vis,
		Ambiguous:   amb,
		Unreachable: unreachable,
	})

	os := b.ix.Scopes[owner]
	if _, ok := os.Table[name]; !ok {
		os.Names = append(os.Names, name)
	}
	os.Table[name] = append(os.Table[name], id)
	b.ensureUnbound(owner, name)
	st.seen[name] = true

	if unreachable {
		return id
	}
	if amb {
		b.ix.ambiguous[owner][name] = append(b.ix.ambiguous[owner][name], id)
	}
	if owner == st.scope {
		if amb {
			// Ambiguous bindings never override: the prior live set stays
			// possible because the loop/try body may not have run.
			st.live[name] = append(cloneRefs(st.live[name]), liveRef{binding: id, vis: vis})
		} else {
			st.live[name] = []liveRef{{binding: id, vis: vis}}
		}
		b.recordFlow(name, at)
	}
	return id
}

func (b *builder) ensureUnbound(scope ScopeID, name string) {
	if _, ok := b.ix.unbound[scope][name]; ok {
		return
	}
	id := BindingID(len(b.ix.Bindings))
	b.ix.Bindings = append(b.ix.Bindings, &Binding{
		ID:         id,
		Scope:      scope,
		Name:       name,
		Kind:       BindUnbound,
		Start:      b.ix.Scopes[scope].Start,
		Narrowing:  constraints.AlwaysTrue,
		Visibility: constraints.AlwaysTrue,
	})
	b.ix.unbound[scope][name] = id
}

// recordReach notes a reachability change at a byte offset. Events are
// appended in traversal order, which is source order, so the per-scope list
// stays sorted for binary search.
func (b *builder) recordReach(at uint32) {
	scope := b.st.scope
	evs := b.ix.reaches[scope]
	if n := len(evs); n > 0 && evs[n-1].reach == b.st.reach && evs[n-1].at <= at {
		return
	}
	b.ix.reaches[scope] = append(evs, reachEvent{at: at, reach: b.st.reach})
}

func (b *builder) recordFlow(name string, at uint32) {
	scope := b.st.scope
	b.ix.flows[scope][name] = append(b.ix.flows[scope][name], flowEvent{
		at:   at,
		live: cloneRefs(b.st.live[name]),
	})
}

// bindTargets binds every identifier an assignment target introduces. at is
// the offset where the new bindings become live, typically the end of the
// enclosing statement.
func (b *builder) bindTargets(target *sitter.Node, kind BindingKind, at uint32) {
	for _, id := range python.BindingTargets(target) {
		b.bindAt(b.text(id), kind, id, false, at)
	}
}

// leftEnd is a nil-safe end offset for optional target nodes.
func leftEnd(n *sitter.Node) uint32 {
	if n == nil {
		return 0
	}
	return n.EndByte()
}

// walkBlock traverses the statements of a block. An unconditional terminator
// drops reachability to AlwaysFalse for the remainder of the block, so
// trailing bindings are recorded as unreachable rather than omitted.
func (b *builder) walkBlock(n *sitter.Node) {
	if n == nil {
		return
	}
	for _, stmt := range python.NamedChildren(n) {
		if b.cancelled {
			return
		}
		b.walkStmt(stmt)
		if python.IsTerminator(stmt.Type()) {
			b.st.reach = constraints.AlwaysFalse
			b.recordReach(stmt.EndByte())
		}
	}
}

func (b *builder) walkStmt(n *sitter.Node) {
	switch n.Type() {
	case python.KindExprStatement:
		for _, c := range python.NamedChildren(n) {
			b.walkExpr(c)
		}
	case python.KindAssignment:
		b.assignment(n)
	case python.KindAugAssignment:
		left := n.ChildByFieldName("left")
		b.walkExpr(n.ChildByFieldName("right"))
		b.walkExpr(left) // augmented assignment reads before it writes
		b.bindTargets(left, BindAugAssign, n.EndByte())
	case python.KindIf:
		b.ifStmt(n)
	case python.KindWhile:
		b.whileStmt(n)
	case python.KindFor:
		b.forStmt(n)
	case python.KindTry:
		b.tryStmt(n)
	case python.KindWith:
		b.withStmt(n)
	case python.KindMatch:
		b.matchStmt(n)
	case python.KindFunctionDef:
		b.functionDef(n)
	case python.KindClassDef:
		b.classDef(n)
	case python.KindDecoratedDef:
		for _, c := range python.NamedChildren(n) {
			if c.Type() == python.KindFunctionDef || c.Type() == python.KindClassDef {
				b.walkStmt(c)
			} else {
				b.walkExpr(c)
			}
		}
	case python.KindGlobal:
		b.declStmt(n, true)
	case python.KindNonlocal:
		b.declStmt(n, false)
	case python.KindImport, python.KindImportFrom:
		b.importStmt(n)
	case python.KindReturn, python.KindRaise:
		for _, c := range python.NamedChildren(n) {
			b.walkExpr(c)
		}
	case python.KindBreak:
		// Remembered so the loop can tell whether its else arm may be
		// skipped; the terminator handling lives in walkBlock.
		if st := b.st; len(st.loopBreaks) > 0 {
			st.loopBreaks[len(st.loopBreaks)-1] = true
		}
	case python.KindContinue, "pass_statement", "comment":
		// no flow effect beyond the terminator handling in walkBlock
	case python.KindError:
		b.degrade(n)
	default:
		// Unknown statement shapes degrade to a generic expression walk so
		// construction never aborts on a single node.
		for _, c := range python.NamedChildren(n) {
			b.walkExpr(c)
		}
	}
}

func (b *builder) assignment(n *sitter.Node) {
	left := n.ChildByFieldName("left")
	right := n.ChildByFieldName("right")
	if t := n.ChildByFieldName("type"); t != nil {
		b.walkExpr(t)
	}
	if right == nil {
		// Annotation-only declaration (`x: int`) binds nothing.
		return
	}
	b.walkExpr(right)
	b.bindTargets(left, BindAssign, n.EndByte())
}

// branchArm is one conditioned arm of a branching statement.
type branchArm struct {
	cond *sitter.Node // nil for else
	body *sitter.Node
}

type armResult struct {
	path     constraints.ID
	endReach constraints.ID
	live     map[string][]liveRef
}

func (b *builder) ifStmt(n *sitter.Node) {
	arms := []branchArm{{
		cond: n.ChildByFieldName("condition"),
		body: n.ChildByFieldName("consequence"),
	}}
	var elseBody *sitter.Node
	for _, c := range python.NamedChildren(n) {
		switch c.Type() {
		case python.KindElifClause:
			arms = append(arms, branchArm{
				cond: c.ChildByFieldName("condition"),
				body: c.ChildByFieldName("consequence"),
			})
		case python.KindElseClause:
			elseBody = c.ChildByFieldName("body")
		}
	}
	b.branch(n.EndByte(), arms, elseBody)
}

// branch implements the shared descend-and-join logic for if/elif/else and
// match statements. Each arm runs on a clone of the incoming flow state with
// reachability conjoined with its (possibly negated) path predicate; the
// join ORs arm visibilities back together.
func (b *builder) branch(at uint32, arms []branchArm, elseBody *sitter.Node) {
	st := b.st
	g := b.ix.Graph
	base := cloneLive(st.live)
	baseReach := st.reach
	baseNarrow := cloneNarrow(st.narrow)

	negAcc := constraints.AlwaysTrue
	var results []armResult
	type negEntry struct {
		pred    constraints.ID
		subject string
	}
	var negs []negEntry

	for _, arm := range arms {
		// The condition evaluates on every path that reaches this arm's
		// test, so walrus targets bound in it commit to the shared base
		// rather than to the arm; the arm body then runs on a clone.
		st.live = base
		st.narrow = cloneNarrow(baseNarrow)
		st.reach = g.And(baseReach, negAcc)
		b.walkExpr(arm.cond)

		pred, subject := b.predicate(arm.cond)
		path := g.And(negAcc, pred)
		st.live = cloneLive(base)
		st.reach = g.And(baseReach, path)
		if subject != "" {
			st.narrow[subject] = g.And(narrowOf(st.narrow, subject), pred)
		}

		if arm.body != nil {
			b.recordReach(arm.body.StartByte())
		}
		b.walkBlock(arm.body)
		results = append(results, armResult{path: path, endReach: st.reach, live: st.live})
		negs = append(negs, negEntry{pred: pred, subject: subject})
		negAcc = g.And(negAcc, g.Not(pred))
	}

	if elseBody != nil {
		st.live = cloneLive(base)
		st.narrow = cloneNarrow(baseNarrow)
		st.reach = g.And(baseReach, negAcc)
		for _, ne := range negs {
			if ne.subject != "" {
				st.narrow[ne.subject] = g.And(narrowOf(st.narrow, ne.subject), g.Not(ne.pred))
			}
		}
		b.recordReach(elseBody.StartByte())
		b.walkBlock(elseBody)
		results = append(results, armResult{path: negAcc, endReach: st.reach, live: st.live})
	} else {
		// Implicit fall-through arm: the branch was skipped entirely.
		results = append(results, armResult{
			path:     negAcc,
			endReach: g.And(baseReach, negAcc),
			live:     cloneLive(base),
		})
	}

	st.narrow = baseNarrow
	b.joinArms(base, baseReach, results, at)
}

func narrowOf(narrow map[string]constraints.ID, name string) constraints.ID {
	if c, ok := narrow[name]; ok {
		return c
	}
	return constraints.AlwaysTrue
}

// joinArms merges the per-arm live sets back into the current state,
// OR-ing visibilities for bindings that survive along multiple paths, and
// records flow events for every name a branch arm touched.
func (b *builder) joinArms(base map[string][]liveRef, baseReach constraints.ID, results []armResult, at uint32) {
	st := b.st
	g := b.ix.Graph

	// Post-join reachability: exact when arms terminated, and the cheap
	// incoming value when none did (avoids accumulating Or-chains).
	allSurvive, anySurvive := true, false
	for _, r := range results {
		if r.endReach == constraints.AlwaysFalse {
			allSurvive = false
		} else {
			anySurvive = true
		}
	}
	switch {
	case allSurvive:
		st.reach = baseReach
	case !anySurvive:
		st.reach = constraints.AlwaysFalse
	default:
		reach := constraints.AlwaysFalse
		for _, r := range results {
			reach = g.Or(reach, r.endReach)
		}
		st.reach = reach
	}
	b.recordReach(at)

	names := make(map[string]bool)
	for _, r := range results {
		for name := range r.live {
			names[name] = true
		}
	}

	for name := range names {
		// A name no arm touched keeps its incoming live set untouched;
		// merging it would only grow junk constraints.
		touched := false
		for _, r := range results {
			if !sameRefs(r.live[name], base[name]) {
				touched = true
				break
			}
		}
		if !touched {
			continue
		}

		var out []liveRef
		pos := make(map[BindingID]int)
		for _, r := range results {
			if r.endReach == constraints.AlwaysFalse {
				continue // this arm never reaches the join
			}
			for _, ref := range r.live[name] {
				v := g.And(ref.vis, r.path)
				if v == constraints.AlwaysFalse {
					continue
				}
				if i, ok := pos[ref.binding]; ok {
					out[i].vis = g.Or(out[i].vis, v)
				} else {
					pos[ref.binding] = len(out)
					out = append(out, liveRef{binding: ref.binding, vis: v})
				}
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].binding < out[j].binding })
		st.live[name] = out
		b.recordFlow(name, at)
	}
}

func sameRefs(a, c []liveRef) bool {
	if len(a) != len(c) {
		return false
	}
	for i := range a {
		if a[i] != c[i] {
			return false
		}
	}
	return true
}

func (b *builder) whileStmt(n *sitter.Node) {
	st := b.st
	g := b.ix.Graph
	cond := n.ChildByFieldName("condition")
	b.walkExpr(cond)
	pred, subject := b.predicate(cond)

	body := n.ChildByFieldName("body")
	baseReach := st.reach
	baseNarrow := cloneNarrow(st.narrow)
	if subject != "" {
		st.narrow[subject] = g.And(narrowOf(st.narrow, subject), pred)
	}
	st.pushLoop()
	b.walkBlock(body)
	sawBreak := st.popLoop()
	st.narrow = baseNarrow
	// A break inside the body ends the body path, not the statement.
	st.reach = baseReach
	if body != nil {
		b.recordReach(body.EndByte())
	}

	b.loopElse(n, sawBreak)
}

func (b *builder) forStmt(n *sitter.Node) {
	st := b.st
	b.walkExpr(n.ChildByFieldName("right"))

	body := n.ChildByFieldName("body")
	baseReach := st.reach
	st.pushLoop()
	left := n.ChildByFieldName("left")
	b.bindTargets(left, BindForTarget, leftEnd(left))
	b.walkBlock(body)
	sawBreak := st.popLoop()
	st.reach = baseReach
	if body != nil {
		b.recordReach(body.EndByte())
	}

	b.loopElse(n, sawBreak)
}

// loopElse walks a loop's else arm. A break in the body jumps past the arm,
// so when one exists the arm's bindings are forced ambiguous the same way
// loop-body bindings are.
func (b *builder) loopElse(n *sitter.Node, sawBreak bool) {
	st := b.st
	for _, c := range python.NamedChildren(n) {
		if c.Type() != python.KindElseClause {
			continue
		}
		if sawBreak {
			st.loop++
		}
		b.walkBlock(c.ChildByFieldName("body"))
		if sawBreak {
			st.loop--
		}
	}
}

// tryStmt marks bindings in the body and the handlers ambiguous: the true
// run-time path through a try is statically unknowable, and a body binding
// may or may not have happened when a handler runs.
func (b *builder) tryStmt(n *sitter.Node) {
	st := b.st
	baseReach := st.reach

	st.try++
	b.walkBlock(n.ChildByFieldName("body"))

	for _, c := range python.NamedChildren(n) {
		switch c.Type() {
		case python.KindExceptClause, python.KindExceptGroup:
			st.reach = baseReach
			b.recordReach(c.StartByte())
			b.exceptClause(c)
		case python.KindElseClause:
			st.reach = baseReach
			b.recordReach(c.StartByte())
			b.walkBlock(c.ChildByFieldName("body"))
		}
	}
	st.try--

	st.reach = baseReach
	for _, c := range python.NamedChildren(n) {
		if c.Type() == python.KindFinallyClause {
			b.recordReach(c.StartByte())
			// finally always runs; its bindings are not ambiguous.
			for _, fc := range python.NamedChildren(c) {
				if fc.Type() == python.KindBlock {
					b.walkBlock(fc)
				}
			}
		}
	}
	b.recordReach(n.EndByte())
}

func (b *builder) exceptClause(n *sitter.Node) {
	kids := python.NamedChildren(n)
	var block *sitter.Node
	var exprs []*sitter.Node
	for _, c := range kids {
		if c.Type() == python.KindBlock {
			block = c
		} else {
			exprs = append(exprs, c)
		}
	}
	// Shapes: `except:`, `except E:`, `except E as name:`.
	if len(exprs) >= 1 {
		b.walkExpr(exprs[0])
	}
	if len(exprs) >= 2 && exprs[1].Type() == python.KindIdentifier {
		b.bind(b.text(exprs[1]), BindExceptTarget, exprs[1], false)
	}
	b.walkBlock(block)
}

func (b *builder) withStmt(n *sitter.Node) {
	for _, c := range python.NamedChildren(n) {
		if c.Type() != python.KindWithClause {
			continue
		}
		for _, item := range python.NamedChildren(c) {
			if item.Type() != python.KindWithItem {
				continue
			}
			v := item.ChildByFieldName("value")
			if v != nil && v.Type() == python.KindAsPattern {
				b.walkExpr(v.NamedChild(0))
				if alias := v.ChildByFieldName("alias"); alias != nil {
					b.bindTargets(alias, BindWithTarget, leftEnd(alias))
				} else if v.NamedChildCount() > 1 {
					last := v.NamedChild(int(v.NamedChildCount()) - 1)
					b.bindTargets(last, BindWithTarget, leftEnd(last))
				}
			} else {
				b.walkExpr(v)
			}
		}
	}
	b.walkBlock(n.ChildByFieldName("body"))
}

// matchStmt lowers match/case onto the shared branch logic: captures of
// case i are bound under "subject matched pattern i" conjoined with the
// negations of every earlier case's pattern (and guard, when present).
func (b *builder) matchStmt(n *sitter.Node) {
	st := b.st
	g := b.ix.Graph
	subjectNode := n.ChildByFieldName("subject")
	b.walkExpr(subjectNode)
	subject := ""
	if subjectNode != nil && subjectNode.Type() == python.KindIdentifier {
		subject = b.text(subjectNode)
	}

	body := n.ChildByFieldName("body")
	if body == nil {
		return
	}

	base := cloneLive(st.live)
	baseReach := st.reach
	baseNarrow := cloneNarrow(st.narrow)
	negAcc := constraints.AlwaysTrue
	var results []armResult

	for _, clause := range python.NamedChildren(body) {
		if clause.Type() != python.KindCaseClause {
			continue
		}
		var patterns []*sitter.Node
		var guard *sitter.Node
		consequence := clause.ChildByFieldName("consequence")
		for _, c := range python.NamedChildren(clause) {
			switch c.Type() {
			case python.KindCasePattern:
				patterns = append(patterns, c)
			case python.KindIfClause:
				guard = c
			case python.KindBlock:
				if consequence == nil {
					consequence = c
				}
			}
		}

		pred := g.Atomic(constraints.Predicate{
			Kind:    constraints.PredPattern,
			Subject: subject,
			Key:     spanKey(clause),
			Node:    clause.StartByte(),
		}, false)
		casePred := pred
		if guard != nil {
			b.walkExpr(guard)
			gp, _ := b.predicate(guard.NamedChild(0))
			casePred = g.And(casePred, gp)
		}

		st.live = cloneLive(base)
		st.narrow = cloneNarrow(baseNarrow)
		path := g.And(negAcc, casePred)
		st.reach = g.And(baseReach, path)
		b.recordReach(clause.StartByte())
		if subject != "" {
			st.narrow[subject] = g.And(narrowOf(st.narrow, subject), casePred)
		}

		supported := true
		for _, p := range patterns {
			caps, ok := python.PatternCaptures(p)
			if !ok {
				supported = false
				break
			}
			for _, cap := range caps {
				b.bind(b.text(cap), BindMatchCapture, cap, false)
			}
		}
		if !supported {
			// Unsupported pattern shape: bind every identifier in the
			// pattern ambiguously instead of dropping the captures.
			for _, p := range patterns {
				b.bindIdentifiersAmbiguously(p, BindMatchCapture)
			}
		}

		b.walkBlock(consequence)
		results = append(results, armResult{path: path, endReach: st.reach, live: st.live})
		negAcc = g.And(negAcc, g.Not(casePred))
	}

	// No case may match at all; the fall-through arm models that.
	results = append(results, armResult{
		path:     negAcc,
		endReach: g.And(baseReach, negAcc),
		live:     cloneLive(base),
	})
	st.narrow = baseNarrow
	b.joinArms(base, baseReach, results, n.EndByte())
}

func (b *builder) bindIdentifiersAmbiguously(n *sitter.Node, kind BindingKind) {
	if n.Type() == python.KindIdentifier {
		b.bind(b.text(n), kind, n, true)
		return
	}
	for _, c := range python.NamedChildren(n) {
		b.bindIdentifiersAmbiguously(c, kind)
	}
}

func (b *builder) bindIdentifiers(n *sitter.Node, kind BindingKind) {
	if n.Type() == python.KindIdentifier {
		b.bind(b.text(n), kind, n, false)
		return
	}
	for _, c := range python.NamedChildren(n) {
		b.bindIdentifiers(c, kind)
	}
}

func (b *builder) functionDef(n *sitter.Node) {
	if name := n.ChildByFieldName("name"); name != nil {
		b.bind(b.text(name), BindFunctionDef, name, false)
	}

	// Parameter defaults and annotations evaluate at definition time, in
	// the enclosing scope.
	params := n.ChildByFieldName("parameters")
	b.walkParamExprs(params)
	if rt := n.ChildByFieldName("return_type"); rt != nil {
		b.walkExpr(rt)
	}

	typeParams := n.ChildByFieldName("type_parameters")
	if typeParams != nil {
		b.pushScope(ScopeTypeParams, typeParams)
		b.bindIdentifiers(typeParams, BindParam)
	}

	b.pushScope(ScopeFunction, n)
	b.bindParams(params)
	b.walkBlock(n.ChildByFieldName("body"))
	b.popScope()

	if typeParams != nil {
		b.popScope()
	}
}

func (b *builder) classDef(n *sitter.Node) {
	if name := n.ChildByFieldName("name"); name != nil {
		b.bind(b.text(name), BindClassDef, name, false)
	}
	if sup := n.ChildByFieldName("superclasses"); sup != nil {
		b.walkExpr(sup)
	}

	typeParams := n.ChildByFieldName("type_parameters")
	if typeParams != nil {
		b.pushScope(ScopeTypeParams, typeParams)
		b.bindIdentifiers(typeParams, BindParam)
	}

	b.pushScope(ScopeClass, n)
	b.walkBlock(n.ChildByFieldName("body"))
	b.popScope()

	if typeParams != nil {
		b.popScope()
	}
}

// walkParamExprs walks default values and annotations in the enclosing scope.
func (b *builder) walkParamExprs(params *sitter.Node) {
	if params == nil {
		return
	}
	for _, p := range python.NamedChildren(params) {
		switch p.Type() {
		case "default_parameter", "typed_default_parameter":
			if v := p.ChildByFieldName("value"); v != nil {
				b.walkExpr(v)
			}
			if t := p.ChildByFieldName("type"); t != nil {
				b.walkExpr(t)
			}
		case "typed_parameter":
			if t := p.ChildByFieldName("type"); t != nil {
				b.walkExpr(t)
			}
		}
	}
}

// bindParams binds the parameter names inside the new function scope.
func (b *builder) bindParams(params *sitter.Node) {
	if params == nil {
		return
	}
	for _, p := range python.NamedChildren(params) {
		switch p.Type() {
		case python.KindIdentifier:
			b.bind(b.text(p), BindParam, p, false)
		case "default_parameter", "typed_default_parameter":
			if name := p.ChildByFieldName("name"); name != nil && name.Type() == python.KindIdentifier {
				b.bind(b.text(name), BindParam, name, false)
			}
		case "typed_parameter", "list_splat_pattern", "dictionary_splat_pattern":
			for _, c := range python.NamedChildren(p) {
				if c.Type() == python.KindIdentifier {
					b.bind(b.text(c), BindParam, c, false)
					break
				}
			}
		case "positional_separator", "keyword_separator":
			// '/' and '*' markers bind nothing
		}
	}
}

// declStmt handles global/nonlocal declarations. Using or binding the name
// earlier in the scope is an ordering error: flagged, never fatal.
func (b *builder) declStmt(n *sitter.Node, global bool) {
	st := b.st
	s := b.ix.Scopes[st.scope]
	for _, c := range python.NamedChildren(n) {
		if c.Type() != python.KindIdentifier {
			continue
		}
		name := b.text(c)
		if st.seen[name] {
			kind := DiagGlobalAfterUse
			if !global {
				kind = DiagNonlocalAfterUse
			}
			b.diag(kind, fmt.Sprintf("name %q is used before its %s declaration", name, declWord(global)), c)
		}
		if global {
			s.Globals[name] = true
		} else {
			if b.ix.enclosingFunction(st.scope) == NoScope {
				b.diag(DiagNonlocalBinding, fmt.Sprintf("no binding for nonlocal %q found", name), c)
				continue
			}
			s.Nonlocals[name] = true
		}
	}
}

func declWord(global bool) string {
	if global {
		return "global"
	}
	return "nonlocal"
}

func (b *builder) importStmt(n *sitter.Node) {
	moduleName := n.ChildByFieldName("module_name")
	for _, c := range python.NamedChildren(n) {
		if moduleName != nil && c.StartByte() == moduleName.StartByte() && c.EndByte() == moduleName.EndByte() {
			continue // the `from X` part binds nothing
		}
		switch c.Type() {
		case "dotted_name":
			// `import a.b` binds `a`; `from m import x` binds `x` (the
			// sole component).
			var first *sitter.Node
			if n.Type() == python.KindImportFrom {
				first = c.NamedChild(int(c.NamedChildCount()) - 1)
			} else {
				first = c.NamedChild(0)
			}
			if first != nil && first.Type() == python.KindIdentifier {
				b.bind(b.text(first), BindImport, first, false)
			}
		case "aliased_import":
			if alias := c.ChildByFieldName("alias"); alias != nil {
				b.bind(b.text(alias), BindImport, alias, false)
			}
		case "wildcard_import", "relative_import":
			// star imports and bare relative modules bind no inspectable name
		}
	}
}

// degrade handles a malformed fragment from parser error recovery: record a
// finding, then bind every identifier in the fragment ambiguously so the
// rest of the file still gets a usable index.
func (b *builder) degrade(n *sitter.Node) {
	b.diag(DiagMalformed, "malformed fragment; bindings are approximate", n)
	b.bindIdentifiersAmbiguously(n, BindAssign)
}

func spanKey(n *sitter.Node) string {
	return fmt.Sprintf("%d:%d", n.StartByte(), n.EndByte())
}

// predicate evaluates (or synthesizes) the atomic constraint for a branch
// test. Recognized shapes: bare names, `not X`, `isinstance(name, ...)`,
// `name is None` / `name is not None`, and parenthesized variants. Anything
// else becomes an opaque truthiness atom keyed by its span.
func (b *builder) predicate(n *sitter.Node) (constraints.ID, string) {
	g := b.ix.Graph
	if n == nil {
		return constraints.AlwaysTrue, ""
	}
	switch n.Type() {
	case "parenthesized_expression":
		if inner := n.NamedChild(0); inner != nil {
			return b.predicate(inner)
		}
	case python.KindNotOp:
		if arg := n.ChildByFieldName("argument"); arg != nil {
			id, subject := b.predicate(arg)
			return g.Not(id), subject
		}
	case python.KindIdentifier:
		name := b.text(n)
		return g.Atomic(constraints.Predicate{
			Kind:    constraints.PredTruthy,
			Subject: name,
			Key:     "truthy:" + name,
			Node:    n.StartByte(),
		}, false), name
	case python.KindCall:
		fn := n.ChildByFieldName("function")
		args := n.ChildByFieldName("arguments")
		if fn != nil && args != nil && fn.Type() == python.KindIdentifier && b.text(fn) == "isinstance" {
			if first := args.NamedChild(0); first != nil && first.Type() == python.KindIdentifier {
				name := b.text(first)
				return g.Atomic(constraints.Predicate{
					Kind:    constraints.PredInstance,
					Subject: name,
					Key:     "isinstance:" + b.text(args),
					Node:    n.StartByte(),
				}, false), name
			}
		}
	case python.KindComparison:
		if id, subject, ok := b.isNoneTest(n); ok {
			return id, subject
		}
	}
	return g.Atomic(constraints.Predicate{
		Kind: constraints.PredTruthy,
		Key:  spanKey(n),
		Node: n.StartByte(),
	}, false), ""
}

// isNoneTest recognizes `name is None` and `name is not None`.
func (b *builder) isNoneTest(n *sitter.Node) (constraints.ID, string, bool) {
	g := b.ix.Graph
	kids := python.NamedChildren(n)
	if len(kids) != 2 || kids[0].Type() != python.KindIdentifier || kids[1].Type() != "none" {
		return 0, "", false
	}
	hasIs, hasNot := false, false
	for i := 0; i < int(n.ChildCount()); i++ {
		switch n.Child(i).Type() {
		case "is":
			hasIs = true
		case "not":
			hasNot = true
		}
	}
	if !hasIs {
		return 0, "", false
	}
	name := b.text(kids[0])
	id := g.Atomic(constraints.Predicate{
		Kind:    constraints.PredIsNone,
		Subject: name,
		Key:     "is-none:" + name,
		Node:    n.StartByte(),
	}, false)
	if hasNot {
		id = g.Not(id)
	}
	return id, name, true
}

// walkExpr traverses an expression, tracking walrus bindings, short-circuit
// reachability, and nested scopes (lambdas, comprehensions).
func (b *builder) walkExpr(n *sitter.Node) {
	if n == nil || b.cancelled {
		return
	}
	st := b.st
	g := b.ix.Graph
	switch n.Type() {
	case python.KindIdentifier:
		st.seen[b.text(n)] = true
	case python.KindNamedExpr:
		b.walkExpr(n.ChildByFieldName("value"))
		if name := n.ChildByFieldName("name"); name != nil && name.Type() == python.KindIdentifier {
			b.bind(b.text(name), BindWalrus, name, false)
		}
	case python.KindAssignment:
		// chained assignment in expression position (`a = b = rhs`)
		b.assignment(n)
	case python.KindAugAssignment:
		left := n.ChildByFieldName("left")
		b.walkExpr(n.ChildByFieldName("right"))
		b.walkExpr(left) // augmented assignment reads before it writes
		b.bindTargets(left, BindAugAssign, n.EndByte())
	case python.KindBoolOp:
		left := n.ChildByFieldName("left")
		right := n.ChildByFieldName("right")
		b.walkExpr(left)
		pred, subject := b.predicate(left)
		isAnd := false
		for i := 0; i < int(n.ChildCount()); i++ {
			if n.Child(i).Type() == "and" {
				isAnd = true
				break
			}
		}
		baseReach := st.reach
		baseNarrow := cloneNarrow(st.narrow)
		cond := pred
		if !isAnd {
			cond = g.Not(pred)
		}
		st.reach = g.And(baseReach, cond)
		if subject != "" {
			st.narrow[subject] = g.And(narrowOf(st.narrow, subject), cond)
		}
		b.walkExpr(right)
		st.reach = baseReach
		st.narrow = baseNarrow
	case python.KindConditionalExpr:
		// `a if c else d`: named children are [a, c, d]
		value := n.NamedChild(0)
		cond := n.NamedChild(1)
		alt := n.NamedChild(2)
		b.walkExpr(cond)
		pred, subject := b.predicate(cond)
		baseReach := st.reach
		baseNarrow := cloneNarrow(st.narrow)
		st.reach = g.And(baseReach, pred)
		if subject != "" {
			st.narrow[subject] = g.And(narrowOf(st.narrow, subject), pred)
		}
		b.walkExpr(value)
		st.narrow = cloneNarrow(baseNarrow)
		st.reach = g.And(baseReach, g.Not(pred))
		if subject != "" {
			st.narrow[subject] = g.And(narrowOf(st.narrow, subject), g.Not(pred))
		}
		b.walkExpr(alt)
		st.reach = baseReach
		st.narrow = baseNarrow
	case python.KindLambda:
		b.walkParamExprs(n.ChildByFieldName("parameters"))
		b.pushScope(ScopeLambda, n)
		b.bindParams(n.ChildByFieldName("parameters"))
		b.walkExpr(n.ChildByFieldName("body"))
		b.popScope()
	case python.KindListComp, python.KindSetComp, python.KindDictComp, python.KindGeneratorExp:
		b.comprehension(n)
	case python.KindError:
		b.degrade(n)
	default:
		for _, c := range python.NamedChildren(n) {
			b.walkExpr(c)
		}
	}
}

// comprehension introduces its own scope; iteration targets are ambiguous
// since the iterable may be empty.
func (b *builder) comprehension(n *sitter.Node) {
	b.pushScope(ScopeComprehension, n)
	st := b.st

	var bodies []*sitter.Node
	for _, c := range python.NamedChildren(n) {
		switch c.Type() {
		case python.KindForInClause:
			b.walkExpr(c.ChildByFieldName("right"))
			st.loop++
			tgt := c.ChildByFieldName("left")
			b.bindTargets(tgt, BindCompTarget, leftEnd(tgt))
		case python.KindIfClause:
			b.walkExpr(c.NamedChild(0))
		default:
			bodies = append(bodies, c)
		}
	}
	for _, body := range bodies {
		b.walkExpr(body)
	}
	st.loop = 0
	b.popScope()
}
