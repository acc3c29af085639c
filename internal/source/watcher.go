package source

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"media-gallery/internal/logging"
)

// DefaultDebounce is how long the watcher waits for a burst of events to
// settle before reporting a change.
const DefaultDebounce = 500 * time.Millisecond

// Watcher reports debounced changes under a DirectorySource's root.
type Watcher struct {
	src      *DirectorySource
	debounce time.Duration
	onChange func()

	watcher *fsnotify.Watcher

	mu      sync.Mutex
	timer   *time.Timer
	watched int
	done    chan struct{}
}

// NewWatcher creates a watcher that calls onChange after events settle.
func NewWatcher(src *DirectorySource, debounce time.Duration, onChange func()) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	return &Watcher{
		src:      src,
		debounce: debounce,
		onChange: onChange,
		watcher:  w,
		done:     make(chan struct{}),
	}, nil
}

// Start adds every directory under the root and processes events until ctx
// is done. It returns after the initial directories are registered.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addTree(w.src.Root()); err != nil {
		_ = w.watcher.Close()
		return err
	}
	logging.Info("Watching %d directories under %s", w.Watched(), w.src.Root())

	go w.loop(ctx)
	return nil
}

// Watched returns the number of registered directories.
func (w *Watcher) Watched() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.watched
}

// Done is closed once the event loop has exited.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			logging.Warn("Watcher skipping %s: %v", p, err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != w.src.Root() && w.ignored(p) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(p); err != nil {
			logging.Warn("failed to add path to watcher %s: %v", p, err)
			return nil
		}
		w.mu.Lock()
		w.watched++
		w.mu.Unlock()
		return nil
	})
}

// ignored reports whether p is hidden. The trash directory and .favorites
// files are not.
func (w *Watcher) ignored(p string) bool {
	rel, err := filepath.Rel(w.src.Root(), p)
	if err != nil {
		return true
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || w.src.inTrash(rel) {
		return false
	}

	parts := strings.Split(rel, "/")
	for i, part := range parts {
		if !strings.HasPrefix(part, ".") {
			continue
		}
		if i == len(parts)-1 && part == FavoritesFile {
			return false
		}
		return true
	}
	return false
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	defer func() {
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
		if err := w.watcher.Close(); err != nil {
			logging.Error("failed to close file watcher: %v", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Error("Watcher error: %v", err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) {
		return
	}
	if w.ignored(event.Name) {
		return
	}

	if event.Has(fsnotify.Create) {
		if err := w.addTree(event.Name); err != nil {
			logging.Debug("Watcher could not add %s: %v", event.Name, err)
		}
	}

	logging.Debug("Watcher event %s on %s", event.Op, event.Name)
	w.schedule()
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Reset(w.debounce)
		return
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		w.timer = nil
		w.mu.Unlock()
		w.onChange()
	})
}
