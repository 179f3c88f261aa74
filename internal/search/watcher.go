package search

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/openpress/pubstore/internal/logging"
)

// Watcher watches the articles tree and marks the index dirty when records
// change, so the next read triggers a lazy rebuild.
type Watcher struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	watcherDone chan bool
	index       *Index
}

// NewWatcher starts watching articlesRoot (and its per-journal
// subdirectories) for record changes.
func NewWatcher(articlesRoot string, index *Index) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	w := &Watcher{
		watcher:     fsw,
		watcherDone: make(chan bool),
		index:       index,
	}

	if err := fsw.Add(articlesRoot); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", articlesRoot, err)
	}
	// fsnotify does not recurse; watch existing journal directories too.
	if entries, err := os.ReadDir(articlesRoot); err == nil {
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			dir := filepath.Join(articlesRoot, e.Name())
			if err := fsw.Add(dir); err != nil {
				log.Printf("WARN: Failed to watch journal directory %s: %v", dir, err)
			}
		}
	}
	log.Printf("INFO: Watching %s for article changes (lazy reindex enabled)", articlesRoot)

	go w.watchLoop(fsw)
	return w, nil
}

// Stop stops the article watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watcher == nil {
		return
	}
	select {
	case <-w.watcherDone:
		// already closed
	default:
		close(w.watcherDone)
	}
	w.watcher.Close()
	w.watcher = nil
	log.Printf("INFO: Article watcher stopped")
}

// watchLoop handles filesystem events for article records.
func (w *Watcher) watchLoop(fsw *fsnotify.Watcher) {
	// Debounce to avoid repeated invalidation on rapid successive writes.
	var debounceTimer *time.Timer
	debounceDuration := 500 * time.Millisecond

	for {
		select {
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create == fsnotify.Create {
				// A new journal directory needs its own watch.
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := fsw.Add(event.Name); err != nil {
						log.Printf("WARN: Failed to watch new directory %s: %v", event.Name, err)
					} else {
						logging.Debug("Watching new journal directory %s", event.Name)
					}
				}
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDuration, func() {
					logging.Debug("Article change detected: %s", filepath.Base(event.Name))
					w.index.MarkDirty()
				})
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			log.Printf("ERROR: Article watcher error: %v", err)

		case <-w.watcherDone:
			log.Printf("INFO: Stopping article watcher")
			return
		}
	}
}
