package assets

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spaghettifunk/lumen/engine/core"
)

// WatchHandler is called with the absolute path of a changed file.
type WatchHandler func(path string)

// Editors often write a file in several steps; events for the same path
// within this window collapse into a single callback.
const DefaultDebounce = 50 * time.Millisecond

var ErrWatcherClosed = errors.New("watcher instance already closed")

type Watcher struct {
	mutex sync.RWMutex

	handlers map[string][]WatchHandler
	dirs     map[string]struct{}
	pending  map[string]*time.Timer
	debounce time.Duration

	done     chan struct{}
	stopped  chan struct{}
	fsnotify *fsnotify.Watcher
	isClosed bool
}

func NewWatcher(debounce time.Duration) (*Watcher, error) {
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce < 0 {
		debounce = 0
	}

	w := &Watcher{
		handlers: make(map[string][]WatchHandler),
		dirs:     make(map[string]struct{}),
		pending:  make(map[string]*time.Timer),
		debounce: debounce,
		fsnotify: fsWatch,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go w.start()

	return w, nil
}

// AddRecursive starts watching the named directory and all sub-directories.
func (w *Watcher) AddRecursive(root string) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if w.isClosed {
		return ErrWatcherClosed
	}
	return w.watchRecursive(root, false)
}

// RemoveRecursive stops watching the named directory and all sub-directories.
func (w *Watcher) RemoveRecursive(root string) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if w.isClosed {
		return ErrWatcherClosed
	}
	return w.watchRecursive(root, true)
}

// Watch registers fn for changes of the file at path. The parent directory is
// watched rather than the file, so replace-by-rename saves are seen too.
func (w *Watcher) Watch(path string, fn WatchHandler) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	w.mutex.Lock()
	defer w.mutex.Unlock()
	if w.isClosed {
		return ErrWatcherClosed
	}

	dir := filepath.Dir(abs)
	if _, ok := w.dirs[dir]; !ok {
		if err := w.fsnotify.Add(dir); err != nil {
			return err
		}
		w.dirs[dir] = struct{}{}
	}
	w.handlers[abs] = append(w.handlers[abs], fn)
	return nil
}

// Unwatch drops every handler of path.
func (w *Watcher) Unwatch(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}
	w.mutex.Lock()
	defer w.mutex.Unlock()
	delete(w.handlers, abs)
	if t, ok := w.pending[abs]; ok {
		t.Stop()
		delete(w.pending, abs)
	}
}

func (w *Watcher) IsWatched(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	w.mutex.RLock()
	defer w.mutex.RUnlock()
	return len(w.handlers[abs]) > 0
}

func (w *Watcher) Shutdown() error {
	w.mutex.Lock()
	if w.isClosed {
		w.mutex.Unlock()
		return nil
	}
	w.isClosed = true
	for p, t := range w.pending {
		t.Stop()
		delete(w.pending, p)
	}
	w.mutex.Unlock()

	close(w.done)
	<-w.stopped
	return nil
}

func (w *Watcher) start() {
	defer close(w.stopped)
	for {
		select {

		case e, ok := <-w.fsnotify.Events:
			if !ok {
				return
			}
			s, err := os.Stat(e.Name)
			if err == nil && s != nil && s.IsDir() {
				if e.Op&fsnotify.Create != 0 {
					w.mutex.Lock()
					if err := w.watchRecursive(e.Name, false); err != nil {
						core.LogWarn("failed to watch new directory %s: %s", e.Name, err)
					}
					w.mutex.Unlock()
				}
				continue
			}
			// Handle create or modify events
			if e.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				w.schedule(e.Name)
			}

		case err, ok := <-w.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError("file watcher: %s", err)

		case <-w.done:
			w.fsnotify.Close()
			return
		}
	}
}

func (w *Watcher) schedule(name string) {
	abs, err := filepath.Abs(name)
	if err != nil {
		return
	}

	w.mutex.Lock()
	defer w.mutex.Unlock()
	if w.isClosed || len(w.handlers[abs]) == 0 {
		return
	}
	if t, ok := w.pending[abs]; ok {
		t.Reset(w.debounce)
		return
	}
	w.pending[abs] = time.AfterFunc(w.debounce, func() {
		w.fire(abs)
	})
}

func (w *Watcher) fire(abs string) {
	w.mutex.Lock()
	delete(w.pending, abs)
	if w.isClosed {
		w.mutex.Unlock()
		return
	}
	handlers := make([]WatchHandler, len(w.handlers[abs]))
	copy(handlers, w.handlers[abs])
	w.mutex.Unlock()

	core.LogDebug("source changed: %s", abs)
	for _, h := range handlers {
		h(abs)
	}
}

// watchRecursive adds all directories under the given one to the watch list.
// Callers hold the mutex.
func (w *Watcher) watchRecursive(path string, unWatch bool) error {
	return filepath.Walk(path, func(walkPath string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !fi.IsDir() {
			return nil
		}
		abs, err := filepath.Abs(walkPath)
		if err != nil {
			return err
		}
		if unWatch {
			if _, ok := w.dirs[abs]; !ok {
				return nil
			}
			delete(w.dirs, abs)
			return w.fsnotify.Remove(abs)
		}
		if _, ok := w.dirs[abs]; ok {
			return nil
		}
		if err := w.fsnotify.Add(abs); err != nil {
			return err
		}
		w.dirs[abs] = struct{}{}
		return nil
	})
}
