// Package watcher watches the photo directory with fsnotify and schedules
// debounced index rebuilds.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher watches the photo directory and fires a single rebuild callback
// after changes settle. Builds are wholesale, so there is no per-file event
// routing: any relevant change restarts the debounce timer and one rebuild
// covers everything that happened in the window.
type Watcher struct {
	root       string
	extensions []string
	recursive  bool
	onRebuild  func()
	debounce   time.Duration
	watcher    *fsnotify.Watcher
	logger     *zap.Logger

	mu       sync.Mutex
	timer    *time.Timer
	done     chan struct{}
	started  bool
	stopOnce sync.Once
}

// NewWatcher creates a watcher over root. onRebuild is invoked once per
// settled burst of changes; extensions filter which files count (empty = all).
func NewWatcher(root string, extensions []string, recursive bool, debounce time.Duration, onRebuild func(), logger *zap.Logger) *Watcher {
	return &Watcher{
		root:       root,
		extensions: extensions,
		recursive:  recursive,
		onRebuild:  onRebuild,
		debounce:   debounce,
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// Start starts watching. It runs until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.watcher = fsw
	w.started = true
	w.mu.Unlock()

	if err := w.addDirs(); err != nil {
		_ = fsw.Close()
		return err
	}
	w.logger.Info("watching photo directory",
		zap.String("root", w.root),
		zap.Bool("recursive", w.recursive),
		zap.Duration("debounce", w.debounce))
	go w.run(ctx)
	return nil
}

func (w *Watcher) addDirs() error {
	if !w.recursive {
		return w.watcher.Add(w.root)
	}
	return filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

func (w *Watcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if err != nil {
				w.logger.Debug("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	switch {
	case ev.Op.Has(fsnotify.Create):
		// New subdirectories must be watched before their contents change.
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if w.recursive {
				_ = w.watcher.Add(ev.Name)
				w.scheduleRebuild(ev)
			}
			return
		}
	case ev.Op.Has(fsnotify.Write), ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
	default:
		return
	}
	if !w.matchExtension(ev.Name) {
		return
	}
	w.scheduleRebuild(ev)
}

func (w *Watcher) matchExtension(path string) bool {
	if len(w.extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, allowed := range w.extensions {
		if strings.EqualFold(ext, allowed) {
			return true
		}
	}
	return false
}

// scheduleRebuild restarts the debounce timer. The callback fires once after
// the directory has been quiet for the full debounce window.
func (w *Watcher) scheduleRebuild(ev fsnotify.Event) {
	w.logger.Debug("photo directory changed",
		zap.String("op", ev.Op.String()),
		zap.String("path", ev.Name))
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.onRebuild)
}

// Stop stops the watcher and cancels any pending rebuild.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
			w.timer = nil
		}
		if w.watcher != nil {
			_ = w.watcher.Close()
		}
		w.mu.Unlock()
	})
}
