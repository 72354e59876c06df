package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu  sync.Mutex
	ops []Op
}

func (r *recorder) record(op Op) {
	r.mu.Lock()
	r.ops = append(r.ops, op)
	r.mu.Unlock()
}

func (r *recorder) last() (Op, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.ops) == 0 {
		return 0, false
	}
	return r.ops[len(r.ops)-1], true
}

func startWatcher(t *testing.T, path string) *recorder {
	t.Helper()
	rec := &recorder{}
	w, err := New(path, rec.record)
	require.NoError(t, err)
	w.SetDebounce(20 * time.Millisecond)
	require.NoError(t, w.Start())
	t.Cleanup(func() { _ = w.Stop() })
	return rec
}

func TestWatcher_ReportsWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "storage.json")
	rec := startWatcher(t, path)

	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0600))

	assert.Eventually(t, func() bool {
		op, ok := rec.last()
		return ok && op == Changed
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatcher_ReportsDelete(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "storage.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0600))
	rec := startWatcher(t, path)

	require.NoError(t, os.Remove(path))

	assert.Eventually(t, func() bool {
		op, ok := rec.last()
		return ok && op == Deleted
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatcher_IgnoresSiblings(t *testing.T) {
	dir := t.TempDir()
	rec := startWatcher(t, filepath.Join(dir, "storage.json"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.json"), []byte(`{}`), 0600))

	time.Sleep(150 * time.Millisecond)
	_, ok := rec.last()
	assert.False(t, ok)
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	w, err := New(filepath.Join(t.TempDir(), "x"), nil)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	require.NoError(t, w.Start())
	assert.NoError(t, w.Stop())
	assert.NoError(t, w.Stop())
}

func TestOpString(t *testing.T) {
	assert.Equal(t, "changed", Changed.String())
	assert.Equal(t, "deleted", Deleted.String())
}
