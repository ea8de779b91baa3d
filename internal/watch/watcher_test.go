package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nokeedev/objtx/pkg/utils"
)

func startWatcher(t *testing.T, root string) *Watcher {
	t.Helper()
	set, err := utils.NewSourceSet(root, []string{"src/**/*.cpp"}, []string{"src/generated/**"})
	require.NoError(t, err)

	w, err := New(set, 50*time.Millisecond, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		_ = w.Close()
	})
	require.NoError(t, w.Start(ctx))
	return w
}

func nextBatch(t *testing.T, w *Watcher) Batch {
	t.Helper()
	select {
	case batch, ok := <-w.Batches():
		require.True(t, ok, "batch channel closed")
		return batch
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a batch")
		return Batch{}
	}
}

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestWatcher_ModifiedAndRemovedSources(t *testing.T) {
	root := t.TempDir()
	a := filepath.Join(root, "src", "a.cpp")
	b := filepath.Join(root, "src", "b.cpp")
	write(t, a, "int a;")
	write(t, b, "int b;")

	w := startWatcher(t, root)

	write(t, a, "int a = 1;")
	require.NoError(t, os.Remove(b))

	batch := nextBatch(t, w)
	assert.Equal(t, []string{a}, batch.Sources)
	assert.Equal(t, []string{b}, batch.Removed)
}

func TestWatcher_IgnoresNonSources(t *testing.T) {
	root := t.TempDir()
	a := filepath.Join(root, "src", "a.cpp")
	write(t, a, "int a;")

	w := startWatcher(t, root)

	write(t, filepath.Join(root, "src", "a.h"), "extern int a;")
	write(t, filepath.Join(root, "src", "generated", "g.cpp"), "int g;")
	write(t, filepath.Join(root, "README"), "docs")
	write(t, a, "int a = 2;")

	batch := nextBatch(t, w)
	assert.Equal(t, []string{a}, batch.Sources)
	assert.Empty(t, batch.Removed)
}

func TestWatcher_NewDirectory(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0755))

	w := startWatcher(t, root)

	c := filepath.Join(root, "src", "nested", "deep", "c.cpp")
	write(t, c, "int c;")

	batch := nextBatch(t, w)
	assert.Contains(t, batch.Sources, c)
}

func TestWatcher_CloseEndsBatches(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, root)

	require.NoError(t, w.Close())
	_, ok := <-w.Batches()
	assert.False(t, ok)

	// Closing twice is harmless
	assert.NoError(t, w.Close())
}

func TestClassify(t *testing.T) {
	root := t.TempDir()
	present := filepath.Join(root, "present.cpp")
	write(t, present, "")
	dir := filepath.Join(root, "dir.cpp")
	require.NoError(t, os.MkdirAll(dir, 0755))

	batch := classify([]string{filepath.Join(root, "gone.cpp"), present, dir})

	assert.Equal(t, []string{present}, batch.Sources)
	assert.Equal(t, []string{filepath.Join(root, "gone.cpp")}, batch.Removed)
	assert.False(t, batch.Empty())
	assert.True(t, Batch{}.Empty())
}
