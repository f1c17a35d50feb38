package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWatcher(t *testing.T, roots []string, calls *atomic.Int32) {
	t.Helper()
	w, err := New(roots, func() { calls.Add(1) })
	require.NoError(t, err)
	w.Debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		_ = w.Close()
		<-done
	})
}

func TestWatcherFiresOnTranscriptWrite(t *testing.T) {
	root := t.TempDir()
	project := filepath.Join(root, "-Users-dev-shop")
	require.NoError(t, os.MkdirAll(project, 0o755))

	var calls atomic.Int32
	startWatcher(t, []string{root}, &calls)

	path := filepath.Join(project, "s.jsonl")
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte("{}\n"), 0o600)
		return calls.Load() > 0
	}, 3*time.Second, 50*time.Millisecond)
}

func TestWatcherPicksUpNewProjectDirs(t *testing.T) {
	root := t.TempDir()
	var calls atomic.Int32
	startWatcher(t, []string{root}, &calls)

	// Give Start time to register the root before the directory appears.
	time.Sleep(100 * time.Millisecond)
	project := filepath.Join(root, "-Users-dev-new")
	require.NoError(t, os.MkdirAll(project, 0o755))

	path := filepath.Join(project, "s.jsonl")
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte("{}\n"), 0o600)
		return calls.Load() > 0
	}, 3*time.Second, 50*time.Millisecond)
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	root := t.TempDir()
	var calls atomic.Int32
	startWatcher(t, []string{root}, &calls)

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o600))
		time.Sleep(20 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, calls.Load())
}

func TestWatcherDisabledWithoutRoots(t *testing.T) {
	w, err := New([]string{filepath.Join(t.TempDir(), "missing")}, func() {})
	require.NoError(t, err)
	defer w.Close()

	done := make(chan struct{})
	go func() {
		w.Start(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start should return when no root can be watched")
	}
}
