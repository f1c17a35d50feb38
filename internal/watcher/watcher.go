// Package watcher nudges the poller when transcripts are written, so status
// changes show up before the next scheduled cycle.
package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/asheshgoplani/agent-sessions/internal/logging"
)

var watchLog = logging.ForComponent(logging.CompWatch)

// DefaultDebounce coalesces bursts of writes into one notification.
const DefaultDebounce = 100 * time.Millisecond

// Watcher watches transcript roots and their direct subdirectories.
type Watcher struct {
	roots    []string
	watcher  *fsnotify.Watcher
	onChange func()

	// Debounce may be changed before Start.
	Debounce time.Duration
	// Extensions are the file suffixes that trigger onChange.
	Extensions []string

	closeOnce sync.Once
}

// New creates a watcher over roots. Call Start to begin watching.
func New(roots []string, onChange func()) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		roots:      roots,
		watcher:    fw,
		onChange:   onChange,
		Debounce:   DefaultDebounce,
		Extensions: []string{".jsonl"},
	}, nil
}

// Start watches until ctx is done or Close is called. Roots that do not
// exist are skipped with a warning; with none left Start returns at once.
func (w *Watcher) Start(ctx context.Context) {
	watched := 0
	for _, root := range w.roots {
		if w.addTree(root) {
			watched++
		}
	}
	if watched == 0 {
		watchLog.Warn("watcher_disabled", slog.Any("roots", w.roots))
		return
	}
	watchLog.Info("watcher_started", slog.Int("dirs", len(w.watcher.WatchList())))

	var (
		debounceTimer *time.Timer
		pendingMu     sync.Mutex
	)
	defer func() {
		pendingMu.Lock()
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
		pendingMu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if event.Has(fsnotify.Create) && w.isRoot(filepath.Dir(event.Name)) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					w.add(event.Name)
					continue
				}
			}
			if !w.relevant(event) {
				continue
			}

			pendingMu.Lock()
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.Debounce, func() {
				if ctx.Err() == nil && w.onChange != nil {
					w.onChange()
				}
			})
			pendingMu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			watchLog.Warn("watcher_error", slog.String("error", err.Error()))
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() { err = w.watcher.Close() })
	return err
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return false
	}
	for _, ext := range w.Extensions {
		if strings.HasSuffix(event.Name, ext) {
			return true
		}
	}
	return false
}

func (w *Watcher) isRoot(dir string) bool {
	for _, root := range w.roots {
		if filepath.Clean(root) == filepath.Clean(dir) {
			return true
		}
	}
	return false
}

// addTree watches root and each directory directly under it.
func (w *Watcher) addTree(root string) bool {
	if !w.add(root) {
		return false
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return true
	}
	for _, e := range entries {
		if e.IsDir() {
			w.add(filepath.Join(root, e.Name()))
		}
	}
	return true
}

func (w *Watcher) add(dir string) bool {
	if err := w.watcher.Add(dir); err != nil {
		watchLog.Warn("watcher_add_failed", slog.String("dir", dir), slog.String("error", err.Error()))
		return false
	}
	return true
}
