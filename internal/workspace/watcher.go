package workspace

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const debounceInterval = 500 * time.Millisecond

// excludedDirs are directories excluded from file counting.
var excludedDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	"vendor":       true,
}

// CountCallback is called when the workspace file count changes.
type CountCallback func(fileCount int)

// Watcher monitors a workspace directory tree for file changes while a
// scenario runs, so side effects between steps are noticed even when no
// listing is taken.
type Watcher struct {
	dir       string
	callback  CountCallback
	log       *zap.Logger
	fsWatcher *fsnotify.Watcher
	cancel    chan struct{}
	loopDone  chan struct{}
	closeOnce sync.Once

	mu        sync.Mutex
	lastCount int
}

// NewWatcher creates a watcher for dir. Call Start to begin watching.
func NewWatcher(dir string, callback CountCallback, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		dir:       dir,
		callback:  callback,
		log:       logger,
		cancel:    make(chan struct{}),
		loopDone:  make(chan struct{}),
		lastCount: -1, // Force initial update.
	}
}

// Start adds the directory tree to fsnotify and starts the event loop.
func (w *Watcher) Start() error {
	fsW, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	// Add directories recursively.
	if err := addDirsRecursive(fsW, w.dir); err != nil {
		fsW.Close()
		return err
	}
	w.fsWatcher = fsW

	w.recount()
	go w.watchLoop()
	return nil
}

// Close stops watching. It is safe to call more than once.
func (w *Watcher) Close() {
	w.closeOnce.Do(func() {
		close(w.cancel)
		if w.fsWatcher != nil {
			w.fsWatcher.Close()
			<-w.loopDone
		}
	})
}

// Count returns the most recent file count, or -1 before the first count.
func (w *Watcher) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastCount
}

// watchLoop processes fsnotify events with debouncing.
func (w *Watcher) watchLoop() {
	defer close(w.loopDone)

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-w.cancel:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}

			// If a new directory is created, watch it too.
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					base := filepath.Base(event.Name)
					if !excludedDirs[base] && !isHidden(base) {
						w.fsWatcher.Add(event.Name)
					}
				}
			}

			// Debounce: reset timer on each event.
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceInterval, w.recount)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("workspace watcher error", zap.String("dir", w.dir), zap.Error(err))
		}
	}
}

// recount recalculates the file count and notifies if it changed.
func (w *Watcher) recount() {
	select {
	case <-w.cancel:
		return
	default:
	}

	count := CountFiles(w.dir)

	w.mu.Lock()
	changed := count != w.lastCount
	w.lastCount = count
	w.mu.Unlock()

	if changed && w.callback != nil {
		w.callback(count)
	}
}

// CountFiles counts all non-excluded, non-hidden files under dir.
func CountFiles(dir string) int {
	count := 0
	filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // Skip inaccessible paths.
		}

		name := d.Name()

		if d.IsDir() {
			if path == dir {
				return nil
			}
			if excludedDirs[name] || isHidden(name) {
				return filepath.SkipDir
			}
			return nil
		}

		if isHidden(name) {
			return nil
		}

		count++
		return nil
	})
	return count
}

// addDirsRecursive adds a directory and its subdirectories to an fsnotify watcher.
func addDirsRecursive(w *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}

		name := d.Name()
		if path != dir && (excludedDirs[name] || isHidden(name)) {
			return filepath.SkipDir
		}

		return w.Add(path)
	})
}

func isHidden(name string) bool {
	return len(name) > 0 && name[0] == '.'
}
