package watch

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/timeblocker/internal/storage"
)

type counter struct{ n atomic.Int32 }

func (c *counter) ReloadBlocks() { c.n.Add(1) }

func start(t *testing.T, location string) *counter {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	ctx, cancel := context.WithCancel(context.Background())
	c := &counter{}
	done := make(chan error, 1)
	go func() { done <- watch(ctx, location, c, logger, 50*time.Millisecond) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	// Let the watcher register before the test writes.
	time.Sleep(100 * time.Millisecond)
	return c
}

func TestWatchFSBackendReloadsOnce(t *testing.T) {
	kv, err := storage.NewFS(t.TempDir())
	require.NoError(t, err)
	c := start(t, kv.Location())

	for i := 0; i < 3; i++ {
		require.NoError(t, kv.Set(storage.KeyTimeBlocks, []byte(`[]`)))
	}

	require.Eventually(t, func() bool { return c.n.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(1), c.n.Load(), "bursts are debounced into one reload")
}

func TestWatchIgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	c := start(t, dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden.json"), []byte("x"), 0o644))

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(0), c.n.Load())
}

func TestWatchSQLiteLocation(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "state.db")
	require.NoError(t, os.WriteFile(db, nil, 0o644))
	c := start(t, db)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.db"), []byte("x"), 0o644))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(0), c.n.Load())

	require.NoError(t, os.WriteFile(db+"-wal", []byte("x"), 0o644))
	require.Eventually(t, func() bool { return c.n.Load() == 1 }, 3*time.Second, 20*time.Millisecond)
}

func TestMatcher(t *testing.T) {
	dir := t.TempDir()

	watched, belongs := matcher(dir)
	assert.Equal(t, dir, watched)
	assert.True(t, belongs(filepath.Join(dir, "timeBlocks.json")))
	assert.False(t, belongs(filepath.Join(dir, ".timeblocker-tmp-123")))
	assert.False(t, belongs(filepath.Join(dir, "sub", "timeBlocks.json")))

	db := filepath.Join(dir, "app.db")
	watched, belongs = matcher(db)
	assert.Equal(t, dir, watched)
	assert.True(t, belongs(db))
	assert.True(t, belongs(db+"-shm"))
	assert.False(t, belongs(filepath.Join(dir, "app.dbx")))
}
