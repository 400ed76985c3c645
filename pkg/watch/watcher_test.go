package watch_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/sift/pkg/watch"
)

type recordingIngestor struct {
	mu    sync.Mutex
	paths []string
}

func (r *recordingIngestor) IngestFile(_ context.Context, path, _ string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
	return int64(len(r.paths)), nil
}

func (r *recordingIngestor) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

func TestWatcher_IngestsExistingAndNewFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "existing.txt"), []byte("already here"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "skip.bin"), []byte{0x1}, 0o644))

	rec := &recordingIngestor{}
	w, err := watch.NewWithConfig(rec, watch.WatcherConfig{
		Dir:      dir,
		Scope:    "drop",
		Debounce: 100 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(rec.seen()) == 1
	}, 2*time.Second, 20*time.Millisecond, "existing supported file must be ingested")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "incoming.md"), []byte("new arrival"), 0o644))

	require.Eventually(t, func() bool {
		return len(rec.seen()) == 2
	}, 2*time.Second, 20*time.Millisecond, "new file must be picked up")

	paths := rec.seen()
	assert.Contains(t, paths[0], "existing.txt")
	assert.Contains(t, paths[1], "incoming.md")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop on cancel")
	}
}

func TestWatcher_RejectsMissingDirectory(t *testing.T) {
	_, err := watch.NewWithConfig(&recordingIngestor{}, watch.WatcherConfig{
		Dir: "/nonexistent/drop",
	})
	assert.Error(t, err)
}
