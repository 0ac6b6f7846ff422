package semantic

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/taproot/internal/constraints"
	"github.com/jward/taproot/internal/python"
	"github.com/jward/taproot/internal/revision"
)

func parseAndBuild(t *testing.T, src string) *Index {
	t.Helper()
	tree, err := python.NewParser().Parse(context.Background(), []byte(src))
	require.NoError(t, err)
	ix, err := Build("fixture.py", []byte(src), tree, 1, nil)
	require.NoError(t, err)
	require.NotNil(t, ix)
	return ix
}

// offsetOf returns the byte offset of the first occurrence of marker.
func offsetOf(t *testing.T, src, marker string) uint32 {
	t.Helper()
	i := strings.Index(src, marker)
	require.GreaterOrEqual(t, i, 0, "marker %q not found in fixture", marker)
	return uint32(i)
}

// scopeOfKind returns the nth scope of the given kind, in creation order.
func scopeOfKind(t *testing.T, ix *Index, kind ScopeKind, nth int) *Scope {
	t.Helper()
	for _, s := range ix.Scopes {
		if s.Kind == kind {
			if nth == 0 {
				return s
			}
			nth--
		}
	}
	t.Fatalf("no %s scope at index %d", kind, nth)
	return nil
}

func bindingsNamed(ix *Index, scope ScopeID, name string) []*Binding {
	var out []*Binding
	for _, id := range ix.Scopes[scope].Table[name] {
		out = append(out, ix.Bindings[id])
	}
	return out
}

func TestBuild_ScopeTree(t *testing.T) {
	src := `x = 1

def f(a):
    y = a

class C:
    def m(self):
        return x

g = lambda n: n + 1
squares = [i * i for i in range(10)]
`
	ix := parseAndBuild(t, src)

	mod := ix.ModuleScope()
	assert.Equal(t, ScopeModule, mod.Kind)
	assert.Equal(t, NoScope, mod.Parent)

	fn := scopeOfKind(t, ix, ScopeFunction, 0)
	assert.Equal(t, mod.ID, fn.Parent)
	assert.Contains(t, fn.Table, "a")
	assert.Contains(t, fn.Table, "y")

	cls := scopeOfKind(t, ix, ScopeClass, 0)
	assert.Equal(t, mod.ID, cls.Parent)
	assert.Contains(t, cls.Table, "m")

	method := scopeOfKind(t, ix, ScopeFunction, 1)
	assert.Equal(t, cls.ID, method.Parent)
	assert.Contains(t, method.Table, "self")

	lam := scopeOfKind(t, ix, ScopeLambda, 0)
	assert.Equal(t, mod.ID, lam.Parent)
	assert.Contains(t, lam.Table, "n")

	comp := scopeOfKind(t, ix, ScopeComprehension, 0)
	assert.Equal(t, mod.ID, comp.Parent)
	assert.Contains(t, comp.Table, "i")
	assert.NotContains(t, mod.Table, "i", "comprehension targets must not leak")

	// ScopeAt picks the innermost scope containing an offset.
	assert.Equal(t, fn.ID, ix.ScopeAt(offsetOf(t, src, "y = a")))
	assert.Equal(t, method.ID, ix.ScopeAt(offsetOf(t, src, "return x")))
	assert.Equal(t, mod.ID, ix.ScopeAt(offsetOf(t, src, "x = 1")))
}

func TestBuild_BindingKinds(t *testing.T) {
	src := `import os
from collections import OrderedDict
import numpy as np

def f(a, b=1):
    pass

class C:
    pass

for item in rows:
    pass

with open(p) as fh:
    pass

try:
    pass
except ValueError as err:
    pass

total = 0
total += 1
n = (m := 2)
`
	ix := parseAndBuild(t, src)
	mod := ix.ModuleScope().ID

	kindOf := func(name string) BindingKind {
		t.Helper()
		bs := bindingsNamed(ix, mod, name)
		require.NotEmpty(t, bs, "no binding for %q", name)
		return bs[0].Kind
	}

	assert.Equal(t, BindImport, kindOf("os"))
	assert.Equal(t, BindImport, kindOf("OrderedDict"))
	assert.Equal(t, BindImport, kindOf("np"))
	assert.Equal(t, BindFunctionDef, kindOf("f"))
	assert.Equal(t, BindClassDef, kindOf("C"))
	assert.Equal(t, BindForTarget, kindOf("item"))
	assert.Equal(t, BindWithTarget, kindOf("fh"))
	assert.Equal(t, BindExceptTarget, kindOf("err"))
	assert.Equal(t, BindAssign, kindOf("total"))
	assert.Equal(t, BindWalrus, kindOf("m"))

	totals := bindingsNamed(ix, mod, "total")
	require.Len(t, totals, 2)
	assert.Equal(t, BindAugAssign, totals[1].Kind)

	fn := scopeOfKind(t, ix, ScopeFunction, 0)
	for _, name := range []string{"a", "b"} {
		bs := bindingsNamed(ix, fn.ID, name)
		require.Len(t, bs, 1)
		assert.Equal(t, BindParam, bs[0].Kind)
	}
}

func TestBuild_TupleTargets(t *testing.T) {
	src := `a, b = pair
[c, (d, e)] = nested
x.attr, f = mixed
`
	ix := parseAndBuild(t, src)
	mod := ix.ModuleScope().ID

	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		assert.NotEmpty(t, bindingsNamed(ix, mod, name), "missing binding for %q", name)
	}
	// Attribute targets mutate an object, they bind no name.
	assert.Empty(t, ix.Scopes[mod].Table["attr"])
}

func TestBuild_Idempotence(t *testing.T) {
	src := `x = 1
if isinstance(x, str):
    x = int(x)
elif x is None:
    x = 0

while x:
    x -= 1

def f(v):
    try:
        v = parse(v)
    except ValueError:
        v = None
    return v

print(x)
`
	a := parseAndBuild(t, src)
	b := parseAndBuild(t, src)

	require.Equal(t, len(a.Scopes), len(b.Scopes))
	for i := range a.Scopes {
		assert.Equal(t, a.Scopes[i].Kind, b.Scopes[i].Kind)
		assert.Equal(t, a.Scopes[i].Names, b.Scopes[i].Names)
		assert.Equal(t, a.Scopes[i].Parent, b.Scopes[i].Parent)
	}

	require.Equal(t, len(a.Bindings), len(b.Bindings))
	for i := range a.Bindings {
		ba, bb := a.Bindings[i], b.Bindings[i]
		assert.Equal(t, ba.Name, bb.Name)
		assert.Equal(t, ba.Kind, bb.Kind)
		assert.Equal(t, ba.Start, bb.Start)
		assert.Equal(t, ba.Ambiguous, bb.Ambiguous)
		assert.Equal(t, a.Graph.String(ba.Visibility), b.Graph.String(bb.Visibility))
		assert.Equal(t, a.Graph.String(ba.Narrowing), b.Graph.String(bb.Narrowing))
	}

	assert.Equal(t, a.Diagnostics(), b.Diagnostics())
}

func TestBuild_TerminatorKillsReachability(t *testing.T) {
	src := `def f(flag):
    if flag:
        return 1
        dead = 2
    r = 3
    return r
`
	ix := parseAndBuild(t, src)
	fn := scopeOfKind(t, ix, ScopeFunction, 0)

	dead := bindingsNamed(ix, fn.ID, "dead")
	require.Len(t, dead, 1)
	assert.True(t, dead[0].Unreachable)

	// Only the fall-through path reaches r = 3, and the use runs on that
	// same path, so the name is still definitely bound at return r.
	got := ix.Resolve(fn.ID, "r", offsetOf(t, src, "return r"))
	require.Len(t, got, 1)
	assert.False(t, got[0].PossiblyUnbound())
	assert.Equal(t, "not(truthy(flag))", ix.Graph.String(got[0].Visibility))
}

func TestBuild_GlobalAfterUseDiagnostic(t *testing.T) {
	src := `def f():
    count = 1
    global count
`
	ix := parseAndBuild(t, src)

	diags := ix.Diagnostics()
	require.Len(t, diags, 1)
	assert.Equal(t, DiagGlobalAfterUse, diags[0].Kind)
	assert.Contains(t, diags[0].Message, "count")
}

func TestBuild_NonlocalDiagnostics(t *testing.T) {
	src := `def outer():
    v = 1
    def inner():
        print(v)
        nonlocal v

nonlocal_at_module = 1
def lonely():
    nonlocal missing
`
	ix := parseAndBuild(t, src)

	kinds := make(map[string]int)
	for _, d := range ix.Diagnostics() {
		kinds[d.Kind]++
	}
	assert.Equal(t, 1, kinds[DiagNonlocalAfterUse])
	assert.Equal(t, 1, kinds[DiagNonlocalBinding])
}

func TestBuild_MalformedFragmentDegrades(t *testing.T) {
	src := `good = 1
broken ==== ??? yikes
after = 2
`
	ix := parseAndBuild(t, src)
	mod := ix.ModuleScope().ID

	var malformed []Diagnostic
	for _, d := range ix.Diagnostics() {
		if d.Kind == DiagMalformed {
			malformed = append(malformed, d)
		}
	}
	assert.NotEmpty(t, malformed)

	// The rest of the file still indexes normally.
	assert.NotEmpty(t, bindingsNamed(ix, mod, "good"))
	assert.NotEmpty(t, bindingsNamed(ix, mod, "after"))
}

func TestBuild_Cancellation(t *testing.T) {
	tok := &revision.Token{}
	tok.Cancel()

	src := []byte("x = 1\n")
	tree, err := python.NewParser().Parse(context.Background(), src)
	require.NoError(t, err)

	ix, err := Build("fixture.py", src, tree, 1, tok)
	assert.Nil(t, ix)
	assert.ErrorIs(t, err, revision.ErrCancelled)
}

func TestBuild_LoopBindingsAmbiguous(t *testing.T) {
	src := `for row in rows:
    acc = row

while more():
    step = 1

try:
    risky = 2
except Exception:
    pass
`
	ix := parseAndBuild(t, src)
	mod := ix.ModuleScope().ID

	for _, name := range []string{"row", "acc", "step", "risky"} {
		bs := bindingsNamed(ix, mod, name)
		require.Len(t, bs, 1, name)
		assert.True(t, bs[0].Ambiguous, "%s should be ambiguous", name)
		assert.Equal(t, constraints.Ambiguous, bs[0].Visibility)
	}
}

func TestBuild_FinallyBindsUnconditionally(t *testing.T) {
	src := `try:
    a = 1
finally:
    b = 2
print(b)
`
	ix := parseAndBuild(t, src)
	mod := ix.ModuleScope().ID

	bs := bindingsNamed(ix, mod, "b")
	require.Len(t, bs, 1)
	assert.False(t, bs[0].Ambiguous)

	got := ix.Resolve(mod, "b", offsetOf(t, src, "print(b)"))
	require.Len(t, got, 1)
	assert.False(t, got[0].PossiblyUnbound())
}

func TestBuild_DefaultsEvaluateInEnclosingScope(t *testing.T) {
	src := `def f(a, b=(c := 1)):
    return a + b
`
	ix := parseAndBuild(t, src)
	mod := ix.ModuleScope().ID
	fn := scopeOfKind(t, ix, ScopeFunction, 0)

	// The walrus in the default runs at definition time, in the module.
	assert.NotEmpty(t, bindingsNamed(ix, mod, "c"))
	assert.Empty(t, ix.Scopes[fn.ID].Table["c"])
}

func TestBuild_ScopeOfFreshNodes(t *testing.T) {
	src := `def f():
    x = 1
`
	ix := parseAndBuild(t, src)
	fn := scopeOfKind(t, ix, ScopeFunction, 0)

	// Each traversal hands out a distinct *Node value for the same syntax
	// node, so the lookup must work from position alone.
	first := ix.Tree.RootNode().NamedChild(0)
	second := ix.Tree.RootNode().NamedChild(0)
	require.Equal(t, "function_definition", first.Type())
	assert.Equal(t, fn.ID, ix.ScopeOf(first))
	assert.Equal(t, fn.ID, ix.ScopeOf(second))
	assert.Equal(t, ix.ModuleScope().ID, ix.ScopeOf(ix.Tree.RootNode()))

	// Non-scope nodes fall back to the innermost containing scope.
	body := first.ChildByFieldName("body")
	require.NotNil(t, body)
	assert.Equal(t, fn.ID, ix.ScopeOf(body))
}
