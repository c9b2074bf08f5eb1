package assets

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherFiresOnWrite(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "pt.hlsl")
	require.NoError(t, os.WriteFile(src, []byte("// v1"), 0o644))

	w, err := NewWatcher(10 * time.Millisecond)
	require.NoError(t, err)
	defer w.Shutdown()

	changed := make(chan string, 4)
	require.NoError(t, w.Watch(src, func(path string) { changed <- path }))
	assert.True(t, w.IsWatched(src))

	require.NoError(t, os.WriteFile(src, []byte("// v2"), 0o644))

	select {
	case p := <-changed:
		abs, _ := filepath.Abs(src)
		assert.Equal(t, abs, p)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not fire")
	}
}

func TestWatcherDebouncesBursts(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "burst.hlsl")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))

	w, err := NewWatcher(100 * time.Millisecond)
	require.NoError(t, err)
	defer w.Shutdown()

	var calls atomic.Int32
	require.NoError(t, w.Watch(src, func(string) { calls.Add(1) }))

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(src, []byte{byte('a' + i)}, 0o644))
	}

	assert.Eventually(t, func() bool { return calls.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "watched.hlsl")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))

	w, err := NewWatcher(5 * time.Millisecond)
	require.NoError(t, err)
	defer w.Shutdown()

	var calls atomic.Int32
	require.NoError(t, w.Watch(src, func(string) { calls.Add(1) }))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.hlsl"), []byte("y"), 0o644))

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())

	w.Unwatch(src)
	assert.False(t, w.IsWatched(src))
}

func TestWatcherClosed(t *testing.T) {
	w, err := NewWatcher(0)
	require.NoError(t, err)
	require.NoError(t, w.Shutdown())
	require.NoError(t, w.Shutdown())

	assert.ErrorIs(t, w.Watch(filepath.Join(t.TempDir(), "a.hlsl"), func(string) {}), ErrWatcherClosed)
	assert.ErrorIs(t, w.AddRecursive(t.TempDir()), ErrWatcherClosed)
}

func TestAddRecursive(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "shaders", "include"), 0o755))

	w, err := NewWatcher(0)
	require.NoError(t, err)
	defer w.Shutdown()

	require.NoError(t, w.AddRecursive(root))
	w.mutex.RLock()
	assert.Len(t, w.dirs, 3)
	w.mutex.RUnlock()

	require.NoError(t, w.RemoveRecursive(root))
	w.mutex.RLock()
	assert.Len(t, w.dirs, 0)
	w.mutex.RUnlock()
}
