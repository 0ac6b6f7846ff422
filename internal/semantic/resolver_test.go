package semantic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/taproot/internal/constraints"
)

func TestResolve_ConditionalShadow(t *testing.T) {
	src := `x = 1
if cond:
    x = 2
print(x)
`
	ix := parseAndBuild(t, src)
	mod := ix.ModuleScope().ID

	got := ix.Resolve(mod, "x", offsetOf(t, src, "print(x)"))
	require.Len(t, got, 2)

	assert.Equal(t, offsetOf(t, src, "x = 1"), got[0].Binding.Start)
	assert.Equal(t, "not(truthy(cond))", ix.Graph.String(got[0].Visibility))
	assert.Equal(t, offsetOf(t, src, "x = 2"), got[1].Binding.Start)
	assert.Equal(t, "truthy(cond)", ix.Graph.String(got[1].Visibility))

	for _, r := range got {
		assert.False(t, r.PossiblyUnbound())
	}
	assert.Equal(t, constraints.AlwaysTrue, ix.CombinedVisibility(got))
}

func TestResolve_LoopOnlyBinding(t *testing.T) {
	src := `while cond:
    y = compute()
print(y)
`
	ix := parseAndBuild(t, src)
	mod := ix.ModuleScope().ID

	got := ix.Resolve(mod, "y", offsetOf(t, src, "print(y)"))
	require.Len(t, got, 2)

	var real, sentinel *ResolvedBinding
	for i := range got {
		if got[i].PossiblyUnbound() {
			sentinel = &got[i]
		} else {
			real = &got[i]
		}
	}
	require.NotNil(t, real)
	require.NotNil(t, sentinel)
	assert.True(t, real.Binding.Ambiguous)
	assert.Equal(t, constraints.Ambiguous, real.Visibility)
	assert.NotEqual(t, constraints.AlwaysTrue, ix.CombinedVisibility(got))
}

func TestResolve_LoopBindingVisibleBeforeLoop(t *testing.T) {
	src := `def f():
    print(y)
    while cond:
        y = compute()
`
	ix := parseAndBuild(t, src)
	fn := scopeOfKind(t, ix, ScopeFunction, 0)

	// Ambiguous bindings surface regardless of textual position: the loop
	// below never runs before the print, but a resolver that dropped it
	// would hide the only candidate definition from callers.
	got := ix.Resolve(fn.ID, "y", offsetOf(t, src, "print(y)"))
	require.Len(t, got, 2)
	counts := map[bool]int{}
	for _, r := range got {
		counts[r.PossiblyUnbound()]++
	}
	assert.Equal(t, 1, counts[true])
	assert.Equal(t, 1, counts[false])
}

func TestResolve_ExhaustiveElifChain(t *testing.T) {
	src := `if a:
    r = 1
elif b:
    r = 2
else:
    r = 3
use(r)
`
	ix := parseAndBuild(t, src)
	mod := ix.ModuleScope().ID

	got := ix.Resolve(mod, "r", offsetOf(t, src, "use(r)"))
	require.Len(t, got, 3)
	for _, r := range got {
		assert.False(t, r.PossiblyUnbound())
	}
	assert.Equal(t, constraints.AlwaysTrue, ix.CombinedVisibility(got))
}

func TestResolve_NonExhaustiveChain(t *testing.T) {
	src := `if a:
    r = 1
elif b:
    r = 2
use(r)
`
	ix := parseAndBuild(t, src)
	mod := ix.ModuleScope().ID

	got := ix.Resolve(mod, "r", offsetOf(t, src, "use(r)"))
	require.Len(t, got, 3)
	var sentinel *ResolvedBinding
	for i := range got {
		if got[i].PossiblyUnbound() {
			sentinel = &got[i]
		}
	}
	require.NotNil(t, sentinel, "neither branch may run; r can be unbound")
}

func TestResolve_IsinstanceNarrowing(t *testing.T) {
	src := `def f(v):
    if isinstance(v, int):
        v = v + 1
    else:
        v = 0
    return v
`
	ix := parseAndBuild(t, src)
	fn := scopeOfKind(t, ix, ScopeFunction, 0)

	got := ix.Resolve(fn.ID, "v", offsetOf(t, src, "return v"))
	require.Len(t, got, 2)

	assert.Equal(t, "isinstance(v)", ix.Graph.String(got[0].Narrowing))
	assert.Equal(t, "isinstance(v)", ix.Graph.String(got[0].Visibility))
	assert.Equal(t, "not(isinstance(v))", ix.Graph.String(got[1].Narrowing))
	assert.Equal(t, "not(isinstance(v))", ix.Graph.String(got[1].Visibility))
	assert.Equal(t, constraints.AlwaysTrue, ix.CombinedVisibility(got))
}

func TestResolve_IsNoneGuard(t *testing.T) {
	src := `def g(v):
    if v is None:
        v = 0
    return v
`
	ix := parseAndBuild(t, src)
	fn := scopeOfKind(t, ix, ScopeFunction, 0)

	got := ix.Resolve(fn.ID, "v", offsetOf(t, src, "return v"))
	require.Len(t, got, 2)

	// The untouched parameter flows through only when the guard failed.
	assert.Equal(t, BindParam, got[0].Binding.Kind)
	assert.Equal(t, "not(is-none(v))", ix.Graph.String(got[0].Visibility))
	assert.Equal(t, BindAssign, got[1].Binding.Kind)
	assert.Equal(t, "is-none(v)", ix.Graph.String(got[1].Visibility))
	assert.Equal(t, "is-none(v)", ix.Graph.String(got[1].Narrowing))
	assert.Equal(t, constraints.AlwaysTrue, ix.CombinedVisibility(got))
}

func TestResolve_SelfReferentialAssignment(t *testing.T) {
	src := `w = 1
w = w + 2
done(w)
`
	ix := parseAndBuild(t, src)
	mod := ix.ModuleScope().ID

	// The right-hand side of the second assignment reads the first binding.
	got := ix.Resolve(mod, "w", offsetOf(t, src, "w + 2"))
	require.Len(t, got, 1)
	assert.Equal(t, offsetOf(t, src, "w = 1"), got[0].Binding.Start)

	got = ix.Resolve(mod, "w", offsetOf(t, src, "done(w)"))
	require.Len(t, got, 1)
	assert.Equal(t, offsetOf(t, src, "w = w + 2"), got[0].Binding.Start)
}

func TestResolve_UseBeforeAnyBinding(t *testing.T) {
	src := `print(w)
w = 1
`
	ix := parseAndBuild(t, src)
	mod := ix.ModuleScope().ID

	assert.Nil(t, ix.Resolve(mod, "w", offsetOf(t, src, "print(w)")))
	assert.Nil(t, ix.Resolve(mod, "never", offsetOf(t, src, "print(w)")))
}

func TestResolve_ClassScopeSkipped(t *testing.T) {
	src := `x = 1
class C:
    x = 2
    def m(self):
        return x
`
	ix := parseAndBuild(t, src)
	method := scopeOfKind(t, ix, ScopeFunction, 0)

	got := ix.Resolve(method.ID, "x", offsetOf(t, src, "return x"))
	require.Len(t, got, 1)
	assert.Equal(t, ix.ModuleScope().ID, got[0].Binding.Scope)
	assert.Equal(t, offsetOf(t, src, "x = 1"), got[0].Binding.Start)
}

func TestResolve_ClosureReadsEnclosing(t *testing.T) {
	src := `def outer():
    z = 1
    def inner():
        return z
    return inner
`
	ix := parseAndBuild(t, src)
	outer := scopeOfKind(t, ix, ScopeFunction, 0)
	inner := scopeOfKind(t, ix, ScopeFunction, 1)

	got := ix.Resolve(inner.ID, "z", offsetOf(t, src, "return z"))
	require.Len(t, got, 1)
	assert.Equal(t, outer.ID, got[0].Binding.Scope)
	assert.False(t, got[0].PossiblyUnbound())
}

func TestResolve_GlobalRedirect(t *testing.T) {
	src := `count = 0

def bump():
    global count
    count = count + 1
`
	ix := parseAndBuild(t, src)
	bump := scopeOfKind(t, ix, ScopeFunction, 0)

	got := ix.Resolve(bump.ID, "count", offsetOf(t, src, "count + 1"))
	require.Len(t, got, 2)
	for _, r := range got {
		assert.Equal(t, ix.ModuleScope().ID, r.Binding.Scope)
		assert.False(t, r.PossiblyUnbound())
	}
	// The in-function rebinding only happens if bump ran.
	assert.False(t, got[0].Binding.Ambiguous)
	assert.True(t, got[1].Binding.Ambiguous)
}

func TestResolve_NonlocalRedirect(t *testing.T) {
	src := `def outer():
    acc = 0
    def add(n):
        nonlocal acc
        acc = acc + n
    return add
`
	ix := parseAndBuild(t, src)
	outer := scopeOfKind(t, ix, ScopeFunction, 0)
	add := scopeOfKind(t, ix, ScopeFunction, 1)

	got := ix.Resolve(add.ID, "acc", offsetOf(t, src, "acc + n"))
	require.Len(t, got, 2)
	for _, r := range got {
		assert.Equal(t, outer.ID, r.Binding.Scope)
	}
}

func TestResolve_TryExceptAmbiguity(t *testing.T) {
	src := `def f():
    try:
        h = start()
    except OSError as e:
        h = None
    return h
`
	ix := parseAndBuild(t, src)
	fn := scopeOfKind(t, ix, ScopeFunction, 0)

	got := ix.Resolve(fn.ID, "h", offsetOf(t, src, "return h"))
	require.Len(t, got, 3)

	ambiguous, sentinels := 0, 0
	for _, r := range got {
		switch {
		case r.PossiblyUnbound():
			sentinels++
		case r.Binding.Ambiguous:
			ambiguous++
		}
	}
	assert.Equal(t, 2, ambiguous)
	assert.Equal(t, 1, sentinels)
}

func TestResolve_MatchCaptures(t *testing.T) {
	src := `def f(m):
    match m:
        case [x]:
            m = x
        case str():
            m = None
    return m
`
	ix := parseAndBuild(t, src)
	fn := scopeOfKind(t, ix, ScopeFunction, 0)

	// The capture is bound under its clause's pattern constraint.
	capt := ix.Resolve(fn.ID, "x", offsetOf(t, src, "m = x")+4)
	require.Len(t, capt, 1)
	assert.Equal(t, BindMatchCapture, capt[0].Binding.Kind)
	assert.Contains(t, ix.Graph.String(capt[0].Visibility), "pattern(m)")

	// Rebinding the subject inside a clause narrows it to that pattern.
	first := bindingsNamed(ix, fn.ID, "m")
	var caseBind *Binding
	for _, b := range first {
		if b.Start == offsetOf(t, src, "m = x") {
			caseBind = b
		}
	}
	require.NotNil(t, caseBind)
	assert.Contains(t, ix.Graph.String(caseBind.Narrowing), "pattern(m)")

	// No case has to match, so m may still be the untouched parameter;
	// the parameter plus both rebindings all remain in play.
	got := ix.Resolve(fn.ID, "m", offsetOf(t, src, "return m"))
	require.Len(t, got, 3)
	assert.Equal(t, constraints.AlwaysTrue, ix.CombinedVisibility(got))
}

func TestResolve_ShortCircuitWalrus(t *testing.T) {
	src := `ok = check() and (n := read())
use(n)
`
	ix := parseAndBuild(t, src)
	mod := ix.ModuleScope().ID

	got := ix.Resolve(mod, "n", offsetOf(t, src, "use(n)"))
	require.Len(t, got, 2)

	var walrus, sentinel *ResolvedBinding
	for i := range got {
		if got[i].PossiblyUnbound() {
			sentinel = &got[i]
		} else {
			walrus = &got[i]
		}
	}
	require.NotNil(t, walrus)
	require.NotNil(t, sentinel, "the right operand may never evaluate")
	assert.Equal(t, BindWalrus, walrus.Binding.Kind)
}

func TestResolve_ConditionalExpressionArms(t *testing.T) {
	src := `r = (a := 1) if cond else (b := 2)
use(a)
`
	ix := parseAndBuild(t, src)
	mod := ix.ModuleScope().ID

	got := ix.Resolve(mod, "a", offsetOf(t, src, "use(a)"))
	require.Len(t, got, 2)
	var sentinel *ResolvedBinding
	for i := range got {
		if got[i].PossiblyUnbound() {
			sentinel = &got[i]
		}
	}
	require.NotNil(t, sentinel, "a binds only on the true arm")
}

func TestResolve_ComprehensionScope(t *testing.T) {
	src := `xs = [1, 2]
ys = [i * k for i in xs]
`
	ix := parseAndBuild(t, src)
	mod := ix.ModuleScope().ID
	comp := scopeOfKind(t, ix, ScopeComprehension, 0)

	// The iteration variable resolves inside the comprehension, where it
	// is ambiguous (the iterable may be empty), and nowhere outside it.
	got := ix.Resolve(comp.ID, "i", offsetOf(t, src, "i * k"))
	require.NotEmpty(t, got)
	assert.Equal(t, BindCompTarget, got[0].Binding.Kind)
	assert.True(t, got[0].Binding.Ambiguous)

	assert.Nil(t, ix.Resolve(mod, "i", uint32(len(src))))

	// Free names inside the comprehension reach the module.
	xs := ix.Resolve(comp.ID, "xs", offsetOf(t, src, "in xs")+3)
	require.Len(t, xs, 1)
	assert.Equal(t, mod, xs[0].Binding.Scope)
}

func TestCombinedVisibility_Empty(t *testing.T) {
	ix := parseAndBuild(t, "x = 1\n")
	assert.Equal(t, constraints.AlwaysFalse, ix.CombinedVisibility(nil))
}

func TestResolve_LoopElseSkippedByBreak(t *testing.T) {
	src := `while cond:
    if other:
        break
else:
    z = 1
print(z)
`
	ix := parseAndBuild(t, src)
	mod := ix.ModuleScope().ID

	got := ix.Resolve(mod, "z", offsetOf(t, src, "print(z)"))
	require.Len(t, got, 2)

	var real, sentinel *ResolvedBinding
	for i := range got {
		if got[i].PossiblyUnbound() {
			sentinel = &got[i]
		} else {
			real = &got[i]
		}
	}
	require.NotNil(t, real)
	require.NotNil(t, sentinel, "a break jumps past the else arm; z can be unbound")
	assert.True(t, real.Binding.Ambiguous)
	assert.NotEqual(t, constraints.AlwaysTrue, ix.CombinedVisibility(got))
}

func TestResolve_LoopElseWithoutBreak(t *testing.T) {
	src := `for item in items:
    total = item
else:
    z = 1
use(z)
`
	ix := parseAndBuild(t, src)
	mod := ix.ModuleScope().ID

	// No break means the else arm always runs once the loop finishes.
	got := ix.Resolve(mod, "z", offsetOf(t, src, "use(z)"))
	require.Len(t, got, 1)
	assert.False(t, got[0].PossiblyUnbound())
	assert.Equal(t, constraints.AlwaysTrue, ix.CombinedVisibility(got))
}

func TestResolve_LoopElseIgnoresNestedBreak(t *testing.T) {
	src := `while outer:
    while inner:
        break
else:
    w = 1
use(w)
`
	ix := parseAndBuild(t, src)
	mod := ix.ModuleScope().ID

	// The break exits the inner loop only; the outer else still always runs.
	got := ix.Resolve(mod, "w", offsetOf(t, src, "use(w)"))
	require.Len(t, got, 1)
	assert.False(t, got[0].PossiblyUnbound())
	assert.Equal(t, constraints.AlwaysTrue, ix.CombinedVisibility(got))
}

func TestResolve_WalrusInIfCondition(t *testing.T) {
	src := `if (n := read()):
    pass
use(n)
`
	ix := parseAndBuild(t, src)
	mod := ix.ModuleScope().ID

	// The condition evaluates whether or not the branch is taken, so the
	// walrus target is definitely bound afterwards.
	got := ix.Resolve(mod, "n", offsetOf(t, src, "use(n)"))
	require.Len(t, got, 1)
	assert.Equal(t, BindWalrus, got[0].Binding.Kind)
	assert.False(t, got[0].PossiblyUnbound())
	assert.Equal(t, constraints.AlwaysTrue, ix.CombinedVisibility(got))
}

func TestResolve_WalrusInElifCondition(t *testing.T) {
	src := `if first:
    pass
elif (m := fetch()):
    pass
use(m)
`
	ix := parseAndBuild(t, src)
	mod := ix.ModuleScope().ID

	// The elif test only evaluates when the first condition was false.
	got := ix.Resolve(mod, "m", offsetOf(t, src, "use(m)"))
	require.Len(t, got, 2)

	var walrus, sentinel *ResolvedBinding
	for i := range got {
		if got[i].PossiblyUnbound() {
			sentinel = &got[i]
		} else {
			walrus = &got[i]
		}
	}
	require.NotNil(t, walrus)
	require.NotNil(t, sentinel)
	assert.Equal(t, "not(truthy(first))", ix.Graph.String(walrus.Visibility))
}
