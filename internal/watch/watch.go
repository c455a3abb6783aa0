// Package watch turns file system activity in agent session stores into a
// debounced "something changed" signal.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Eric-Song-Nop/agentwatch/internal/logging"
)

var watchLog = logging.ForComponent(logging.CompWatch)

const (
	// DefaultDebounce coalesces bursts of writes into one signal.
	DefaultDebounce = 500 * time.Millisecond
	// maxDepth is how far below a root directories are watched. Codex
	// nests rollouts as sessions/YYYY/MM/DD.
	maxDepth = 3
	// maxWatches caps inotify usage on very large stores.
	maxWatches = 4096
)

// StoreWatcher watches a set of root directories and their subdirectories
// up to maxDepth. Directories created later are picked up as they appear.
type StoreWatcher struct {
	watcher  *fsnotify.Watcher
	debounce time.Duration
	changes  chan struct{}

	mu      sync.Mutex
	roots   []string
	watched map[string]bool
	limit   int
	full    bool // limit reached and reported
}

// New creates a watcher over roots. Missing roots are skipped; they are
// not created.
func New(roots []string, debounce time.Duration) (*StoreWatcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	sw := &StoreWatcher{
		watcher:  w,
		debounce: debounce,
		changes:  make(chan struct{}, 1),
		watched:  make(map[string]bool),
		limit:    maxWatches,
	}
	for _, root := range roots {
		if root == "" {
			continue
		}
		root = filepath.Clean(root)
		sw.roots = append(sw.roots, root)
		sw.addTree(root)
	}
	return sw, nil
}

// Changes delivers one value per debounced burst of store activity.
func (sw *StoreWatcher) Changes() <-chan struct{} {
	return sw.changes
}

// Watched returns the number of directories currently watched.
func (sw *StoreWatcher) Watched() int {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return len(sw.watched)
}

// depth returns how far dir is below the root that contains it, or -1.
func (sw *StoreWatcher) depth(dir string) int {
	for _, root := range sw.roots {
		if dir == root {
			return 0
		}
		if rel, err := filepath.Rel(root, dir); err == nil && !strings.HasPrefix(rel, "..") {
			return strings.Count(rel, string(filepath.Separator)) + 1
		}
	}
	return -1
}

// addTree watches dir and its subdirectories within maxDepth.
func (sw *StoreWatcher) addTree(dir string) {
	base := sw.depth(dir)
	if base < 0 || base > maxDepth {
		return
	}
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == dir {
				watchLog.Debug("root_missing", slog.String("path", dir))
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if sw.depth(path) > maxDepth {
			return filepath.SkipDir
		}
		if !sw.add(path) {
			return filepath.SkipAll
		}
		return nil
	})
}

// add watches one directory. It returns false once the watch limit is
// reached; the limit is logged the first time only.
func (sw *StoreWatcher) add(dir string) bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.watched[dir] {
		return true
	}
	if len(sw.watched) >= sw.limit {
		if !sw.full {
			sw.full = true
			watchLog.Warn("watch_limit_reached", slog.Int("limit", sw.limit))
		}
		return false
	}
	if err := sw.watcher.Add(dir); err != nil {
		watchLog.Debug("watch_add_failed", slog.String("path", dir), slog.String("error", err.Error()))
		return true
	}
	sw.watched[dir] = true
	return true
}

// Run dispatches events until ctx is done or the watcher is closed.
func (sw *StoreWatcher) Run(ctx context.Context) {
	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-sw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create != 0 {
				if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
					sw.addTree(event.Name)
				}
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(sw.debounce)
			} else {
				timer.Reset(sw.debounce)
			}
			timerC = timer.C

		case <-timerC:
			timerC = nil
			select {
			case sw.changes <- struct{}{}:
			default:
			}

		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}
			watchLog.Warn("watcher_error", slog.String("error", err.Error()))
		}
	}
}

// Close releases the underlying watcher.
func (sw *StoreWatcher) Close() error {
	return sw.watcher.Close()
}
