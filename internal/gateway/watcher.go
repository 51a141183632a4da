package gateway

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"dmsrelay/pkg/logger"
)

const debounceDelay = 100 * time.Millisecond

// Watcher reports changes to a set of files. Parent directories are
// watched so editors that replace the file via rename are still seen.
type Watcher struct {
	watcher  *fsnotify.Watcher
	files    map[string]struct{}
	onChange func(path string)
	stopCh   chan struct{}
	stopOnce sync.Once
	debounce map[string]*time.Timer
	mu       sync.Mutex
	log      zerolog.Logger
}

// NewWatcher creates a watcher that calls onChange once per burst of
// writes to any of files.
func NewWatcher(onChange func(path string), files ...string) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	set := make(map[string]struct{}, len(files))
	for _, f := range files {
		if abs, err := filepath.Abs(f); err == nil {
			f = abs
		}
		set[filepath.Clean(f)] = struct{}{}
	}

	return &Watcher{
		watcher:  w,
		files:    set,
		onChange: onChange,
		stopCh:   make(chan struct{}),
		debounce: make(map[string]*time.Timer),
		log:      logger.Component("watcher"),
	}, nil
}

// Start begins watching. Directories that cannot be watched are logged and
// skipped.
func (w *Watcher) Start() error {
	dirs := make(map[string]struct{})
	for f := range w.files {
		dirs[filepath.Dir(f)] = struct{}{}
	}
	for dir := range dirs {
		if err := w.watcher.Add(dir); err != nil {
			w.log.Warn().Err(err).Str("path", dir).Msg("failed to watch path")
		}
	}

	go w.run()
	return nil
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if _, watched := w.files[filepath.Clean(event.Name)]; watched {
				w.handleEvent(filepath.Clean(event.Name))
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Msg("file watcher error")
		}
	}
}

// handleEvent restarts the debounce timer for path.
func (w *Watcher) handleEvent(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.debounce[path]; ok {
		timer.Stop()
	}

	w.debounce[path] = time.AfterFunc(debounceDelay, func() {
		w.mu.Lock()
		delete(w.debounce, path)
		w.mu.Unlock()

		select {
		case <-w.stopCh:
			return
		default:
		}

		w.log.Debug().Str("path", path).Msg("file changed")
		if w.onChange != nil {
			w.onChange(path)
		}
	})
}

// Stop stops the watcher and cancels pending notifications.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)

		w.mu.Lock()
		for _, timer := range w.debounce {
			timer.Stop()
		}
		w.mu.Unlock()

		_ = w.watcher.Close()
	})
}
