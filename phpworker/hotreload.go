package phpworker

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"go-appbridge/internal/logger"
)

// reloadDebounce coalesces bursts of writes (editors, git checkouts).
const reloadDebounce = 250 * time.Millisecond

// Recycler is anything whose workers can be restarted.
type Recycler interface {
	Recycle()
}

// Watcher recycles workers when PHP sources change.
type Watcher struct {
	watcher  *fsnotify.Watcher
	target   Recycler
	onReload func(path string)

	mu    sync.Mutex
	timer *time.Timer
}

// NewWatcher watches dirs (recursively) under baseDir. Missing directories
// are skipped, so an application without e.g. routes/ still reloads.
func NewWatcher(baseDir string, dirs []string, target Recycler, onReload func(path string)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{watcher: fw, target: target, onReload: onReload}

	for _, dir := range dirs {
		root := dir
		if !filepath.IsAbs(root) {
			root = filepath.Join(baseDir, dir)
		}
		if info, err := os.Stat(root); err != nil || !info.IsDir() {
			logger.Debug("hot reload: skipping missing directory", "dir", root)
			continue
		}

		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				if strings.HasPrefix(d.Name(), ".") && path != root {
					return filepath.SkipDir
				}
				return fw.Add(path)
			}
			return nil
		})
		if err != nil {
			_ = fw.Close()
			return nil, err
		}
	}

	return w, nil
}

// Run processes events until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.mu.Unlock()
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ev)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("hot reload watcher error", logger.KeyError, err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			_ = w.watcher.Add(ev.Name)
			return
		}
	}

	if !strings.HasSuffix(ev.Name, ".php") {
		return
	}
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	path := ev.Name
	w.timer = time.AfterFunc(reloadDebounce, func() {
		logger.Info("PHP source changed, recycling workers", logger.KeyPath, path)
		w.target.Recycle()
		if w.onReload != nil {
			w.onReload(path)
		}
	})
}
