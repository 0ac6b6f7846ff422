package taproot

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, files map[string]string) *Engine {
	t.Helper()
	e := New(WithWorkers(2))
	for path, src := range files {
		e.SetFile(path, []byte(src))
	}
	return e
}

func TestEngine_SetFileBumpsRevision(t *testing.T) {
	e := New()
	require.Equal(t, uint64(1), e.Revision())

	e.SetFile("a.py", []byte("x = 1\n"))
	assert.Equal(t, uint64(2), e.Revision())

	// Identical content is a no-op.
	e.SetFile("a.py", []byte("x = 1\n"))
	assert.Equal(t, uint64(2), e.Revision())

	e.SetFile("a.py", []byte("x = 2\n"))
	assert.Equal(t, uint64(3), e.Revision())

	e.RemoveFile("a.py")
	assert.Equal(t, uint64(4), e.Revision())
	e.RemoveFile("a.py")
	assert.Equal(t, uint64(4), e.Revision())
}

func TestEngine_SnapshotIndexAndMemoization(t *testing.T) {
	e := newTestEngine(t, map[string]string{
		"app.py": "x = 1\nprint(x)\n",
	})

	snap := e.Snapshot()
	defer snap.Close()

	ix1, err := snap.Index("app.py")
	require.NoError(t, err)
	ix2, err := snap.Index("app.py")
	require.NoError(t, err)
	assert.Same(t, ix1, ix2, "same revision must share one index")
	assert.Equal(t, snap.Revision(), ix1.Revision)

	_, err = snap.Index("missing.py")
	assert.ErrorIs(t, err, ErrUnknownFile)
}

func TestEngine_EditInvalidatesOnlyTouchedFiles(t *testing.T) {
	e := newTestEngine(t, map[string]string{
		"a.py": "x = 1\n",
		"b.py": "y = 2\n",
	})

	snap := e.Snapshot()
	ixA, err := snap.Index("a.py")
	require.NoError(t, err)
	ixB, err := snap.Index("b.py")
	require.NoError(t, err)
	snap.Close()

	e.SetFile("a.py", []byte("x = 3\n"))

	snap2 := e.Snapshot()
	defer snap2.Close()

	ixA2, err := snap2.Index("a.py")
	require.NoError(t, err)
	assert.NotSame(t, ixA, ixA2, "edited file must rebuild")

	ixB2, err := snap2.Index("b.py")
	require.NoError(t, err)
	assert.Same(t, ixB, ixB2, "untouched file survives the revision bump")
}

func TestEngine_EditSupersedesInFlightQuery(t *testing.T) {
	e := newTestEngine(t, map[string]string{
		"app.py": "x = 1\nprint(x)\n",
	})

	snap := e.Snapshot()

	writeStarted := make(chan struct{})
	writeDone := make(chan struct{})
	go func() {
		close(writeStarted)
		e.SetFile("app.py", []byte("x = 2\nprint(x)\n"))
		close(writeDone)
	}()

	<-writeStarted
	// The write cancels the open snapshot's token before blocking on it.
	require.Eventually(t, func() bool { return snap.rd.Token.Cancelled() },
		time.Second, time.Millisecond)

	_, err := snap.Index("app.py")
	assert.ErrorIs(t, err, ErrCancelled)

	select {
	case <-writeDone:
		t.Fatal("write completed while a snapshot was still open")
	default:
	}
	snap.Close()
	<-writeDone
	assert.False(t, snap.Valid(), "superseded revision")

	// The superseded result was not cached; the new revision resolves.
	snap2 := e.Snapshot()
	defer snap2.Close()
	res, err := snap2.Query().ResolveAt("app.py", 1, 6)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "x", res[0].Name)
	assert.True(t, snap2.Valid())
}

func TestEngine_ConcurrentSnapshotsShareRevision(t *testing.T) {
	e := newTestEngine(t, map[string]string{
		"app.py": "x = 1\nprint(x)\n",
	})

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap := e.Snapshot()
			defer snap.Close()
			ix, err := snap.Index("app.py")
			assert.NoError(t, err)
			assert.Equal(t, snap.Revision(), ix.Revision)
		}()
	}
	wg.Wait()
}

func TestEngine_IndexFiles(t *testing.T) {
	dir := t.TempDir()
	write := func(name, src string) string {
		t.Helper()
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(src), 0o644))
		return p
	}
	a := write("a.py", "x = 1\n")
	b := write("b.py", "y = x\n")

	e := New(WithWorkers(2))
	require.NoError(t, e.IndexFiles(context.Background(), []string{a, b}))
	assert.Equal(t, []string{a, b}, e.Files())

	rev := e.Revision()
	// Unchanged content leaves the revision alone.
	require.NoError(t, e.IndexFiles(context.Background(), []string{a, b}))
	assert.Equal(t, rev, e.Revision())

	snap := e.Snapshot()
	defer snap.Close()
	ix, err := snap.Index(a)
	require.NoError(t, err)
	assert.NotNil(t, ix.ModuleScope())
}

func TestEngine_IndexFilesReportsReadErrors(t *testing.T) {
	e := New()
	err := e.IndexFiles(context.Background(), []string{"does-not-exist.py"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 error(s)")
}

func TestEngine_IndexDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.py"), []byte("x = 1\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "__pycache__"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "__pycache__", "a.py"), []byte("x = 1\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not python"), 0o644))

	e := New()
	require.NoError(t, e.IndexDirectory(context.Background(), dir))
	assert.Equal(t, []string{filepath.Join(dir, "a.py")}, e.Files())
}
