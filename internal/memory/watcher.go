package memory

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"ratchet/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// MemoryWatcher watches the project memory directory for external changes
// and triggers a reload when a file settles. Hand-edits and saves from a
// second ratchet process both show up this way.
type MemoryWatcher struct {
	mu          sync.RWMutex
	watcher     *fsnotify.Watcher
	dir         string
	onReload    func(path string)
	debounceMap map[string]time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool

	stats WatcherStats
}

// WatcherStats tracks watcher activity for debugging.
type WatcherStats struct {
	FilesChanged     int
	ReloadsTriggered int
	Errors           int
	LastEventTime    time.Time
	LastEventPath    string
}

// NewMemoryWatcher creates a watcher over homeDir/projects. onReload is
// called with the settled file path after the debounce window passes.
func NewMemoryWatcher(homeDir string, onReload func(path string)) (*MemoryWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &MemoryWatcher{
		watcher:     watcher,
		dir:         filepath.Join(homeDir, "projects"),
		onReload:    onReload,
		debounceMap: make(map[string]time.Time),
		debounceDur: 500 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching. Non-blocking; the event loop runs in a goroutine.
func (mw *MemoryWatcher) Start(ctx context.Context) error {
	mw.mu.Lock()
	if mw.running {
		mw.mu.Unlock()
		return nil
	}
	mw.running = true
	mw.mu.Unlock()

	if err := os.MkdirAll(mw.dir, 0755); err != nil {
		logging.Get(logging.CategoryMemory).Warn("MemoryWatcher: failed to create %s: %v (continuing anyway)", mw.dir, err)
	}

	if err := mw.watcher.Add(mw.dir); err != nil {
		logging.Get(logging.CategoryMemory).Warn("MemoryWatcher: initial watch failed: %v", err)
	} else {
		logging.Memory("MemoryWatcher: watching %s", mw.dir)
	}

	go mw.run(ctx)
	return nil
}

// Stop stops the watcher and waits for the event loop to exit.
func (mw *MemoryWatcher) Stop() {
	mw.mu.Lock()
	if !mw.running {
		mw.mu.Unlock()
		return
	}
	mw.running = false
	mw.mu.Unlock()

	close(mw.stopCh)
	<-mw.doneCh

	if err := mw.watcher.Close(); err != nil {
		logging.Get(logging.CategoryMemory).Error("MemoryWatcher: error closing watcher: %v", err)
	}
	logging.Memory("MemoryWatcher: stopped")
}

// IsWatching reports whether the event loop is running.
func (mw *MemoryWatcher) IsWatching() bool {
	mw.mu.RLock()
	defer mw.mu.RUnlock()
	return mw.running
}

// Stats returns a copy of the current watcher statistics.
func (mw *MemoryWatcher) Stats() WatcherStats {
	mw.mu.RLock()
	defer mw.mu.RUnlock()
	return mw.stats
}

func (mw *MemoryWatcher) run(ctx context.Context) {
	defer close(mw.doneCh)

	debounceTicker := time.NewTicker(100 * time.Millisecond)
	defer debounceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.MemoryDebug("MemoryWatcher: context cancelled")
			return

		case <-mw.stopCh:
			return

		case event, ok := <-mw.watcher.Events:
			if !ok {
				return
			}
			mw.handleEvent(event)

		case err, ok := <-mw.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryMemory).Error("MemoryWatcher: %v", err)
			mw.mu.Lock()
			mw.stats.Errors++
			mw.mu.Unlock()

		case <-debounceTicker.C:
			mw.processDebounced()
		}
	}
}

// handleEvent records a settled-candidate event. Temp and corrupt files are
// skipped; our own atomic saves show up as a rename onto the .json path.
func (mw *MemoryWatcher) handleEvent(event fsnotify.Event) {
	if !strings.HasSuffix(event.Name, ".json") {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return
	}

	logging.MemoryDebug("MemoryWatcher: change detected: %s", filepath.Base(event.Name))

	mw.mu.Lock()
	mw.stats.FilesChanged++
	mw.stats.LastEventTime = time.Now()
	mw.stats.LastEventPath = event.Name
	mw.debounceMap[event.Name] = time.Now()
	mw.mu.Unlock()
}

// processDebounced fires reloads for files that settled past the window.
func (mw *MemoryWatcher) processDebounced() {
	mw.mu.Lock()
	now := time.Now()
	var settled []string
	for path, eventTime := range mw.debounceMap {
		if now.Sub(eventTime) >= mw.debounceDur {
			settled = append(settled, path)
			delete(mw.debounceMap, path)
		}
	}
	mw.mu.Unlock()

	for _, path := range settled {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		mw.mu.Lock()
		mw.stats.ReloadsTriggered++
		mw.mu.Unlock()
		logging.Memory("MemoryWatcher: reloading %s", filepath.Base(path))
		if mw.onReload != nil {
			mw.onReload(path)
		}
	}
}
