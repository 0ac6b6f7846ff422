package taproot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func querySnapshot(t *testing.T, src string) *Snapshot {
	t.Helper()
	e := New()
	e.SetFile("fixture.py", []byte(src))
	snap := e.Snapshot()
	t.Cleanup(snap.Close)
	return snap
}

func TestQuery_ResolveAtConditionalBindings(t *testing.T) {
	snap := querySnapshot(t, `def f(cond):
    if cond:
        x = 1
    else:
        x = 2
    return x
`)

	res, err := snap.Query().ResolveAt("fixture.py", 5, 11)
	require.NoError(t, err)
	require.Len(t, res, 2)

	assert.Equal(t, "x", res[0].Name)
	assert.Equal(t, "assignment", res[0].Kind)
	assert.Equal(t, "truthy(cond)", res[0].Visibility)
	assert.Equal(t, uint32(2), res[0].Location.StartLine)

	assert.Equal(t, "not(truthy(cond))", res[1].Visibility)
	assert.Equal(t, uint32(4), res[1].Location.StartLine)

	for _, r := range res {
		assert.False(t, r.PossiblyUnbound, "both arms bind, no unbound path")
	}
}

func TestQuery_ResolveAtIncludesSentinel(t *testing.T) {
	snap := querySnapshot(t, `def g(flag):
    if flag:
        y = 1
    return y
`)

	res, err := snap.Query().ResolveAt("fixture.py", 3, 11)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "truthy(flag)", res[0].Visibility)
	assert.False(t, res[0].PossiblyUnbound)
	assert.True(t, res[1].PossiblyUnbound)
	assert.Equal(t, "not(truthy(flag))", res[1].Visibility)
}

func TestQuery_ResolveAtMissPositions(t *testing.T) {
	snap := querySnapshot(t, `x = y
`)

	// Cursor on the = token, not an identifier.
	res, err := snap.Query().ResolveAt("fixture.py", 0, 2)
	require.NoError(t, err)
	assert.Empty(t, res)

	// y has no binding anywhere in the file.
	res, err = snap.Query().ResolveAt("fixture.py", 0, 4)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestQuery_DefinitionAt(t *testing.T) {
	snap := querySnapshot(t, `def f(cond):
    if cond:
        x = 1
    else:
        x = 2
    return x
`)

	locs, err := snap.Query().DefinitionAt("fixture.py", 5, 11)
	require.NoError(t, err)
	require.Len(t, locs, 2)
	assert.Equal(t, uint32(2), locs[0].StartLine)
	assert.Equal(t, uint32(4), locs[1].StartLine)
	assert.Equal(t, "fixture.py", locs[0].File)
}

func TestQuery_ScopeAt(t *testing.T) {
	snap := querySnapshot(t, `top = 1

def worker():
    local = 2
`)

	mod, err := snap.Query().ScopeAt("fixture.py", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "module", mod.Kind.String())

	fn, err := snap.Query().ScopeAt("fixture.py", 3, 4)
	require.NoError(t, err)
	assert.Equal(t, "function", fn.Kind.String())
	assert.Equal(t, mod.ID, fn.Parent)
}

func TestQuery_BindingsAt(t *testing.T) {
	snap := querySnapshot(t, `def f(cond):
    if cond:
        x = 1
    else:
        x = 2
    return x
`)

	bindings, err := snap.Query().BindingsAt("fixture.py", 5, 4)
	require.NoError(t, err)

	names := make([]string, len(bindings))
	for i, b := range bindings {
		names[i] = b.Name
	}
	assert.Equal(t, []string{"cond", "x", "x"}, names)
}

func TestQuery_Diagnostics(t *testing.T) {
	snap := querySnapshot(t, `def f():
    count = 1
    global count
`)

	diags, err := snap.Query().Diagnostics("fixture.py")
	require.NoError(t, err)
	require.Len(t, diags, 1)
	assert.Equal(t, "global-after-use", diags[0].Kind)
}

func TestQuery_PossiblyUnbound(t *testing.T) {
	snap := querySnapshot(t, `def g(flag):
    if flag:
        y = 1
    else:
        z = 2
    print(y)
    print(z)
    print(flag)
`)

	uses, err := snap.Query().PossiblyUnbound("fixture.py")
	require.NoError(t, err)
	require.Len(t, uses, 2)
	assert.Equal(t, "y", uses[0].Name)
	assert.Equal(t, uint32(5), uses[0].Location.StartLine)
	assert.Equal(t, "z", uses[1].Name)
	assert.Equal(t, uint32(6), uses[1].Location.StartLine)
}

func TestQuery_PossiblyUnboundSkipsNonUses(t *testing.T) {
	snap := querySnapshot(t, `import os

def h(flag):
    if flag:
        v = os.path
    return v.name
`)

	uses, err := snap.Query().PossiblyUnbound("fixture.py")
	require.NoError(t, err)
	// v is reported once; the attribute names path/name and the import
	// path os are not name loads.
	require.Len(t, uses, 1)
	assert.Equal(t, "v", uses[0].Name)
}

func TestQuery_NarrowingRendered(t *testing.T) {
	snap := querySnapshot(t, `def f(v):
    if isinstance(v, int):
        use(v)
`)

	res, err := snap.Query().ResolveAt("fixture.py", 2, 12)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "parameter", res[0].Kind)
	assert.Contains(t, res[0].Narrowing, "isinstance(v)")
}
