package options

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// ReloadEvent reports one reload of the seed file.
type ReloadEvent struct {
	// Path is the seed file that changed.
	Path string
	// Err is the load error, nil on success.
	Err error
}

// Watcher reloads a Registry whenever its seed file changes.
//
// The parent directory is watched rather than the file, so editors that
// save by rename-and-replace are still seen.
type Watcher struct {
	registry *Registry
	watcher  *fsnotify.Watcher
	path     string
	events   chan ReloadEvent
	done     chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
}

// Watch loads path into r and starts reloading it on change. Stop the
// returned watcher to release it.
func (r *Registry) Watch(path string) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve options file %s: %w", path, err)
	}
	if err := r.LoadFile(abs); err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("failed to watch directory %s: %w", filepath.Dir(abs), err)
	}

	w := &Watcher{
		registry: r,
		watcher:  fw,
		path:     abs,
		events:   make(chan ReloadEvent, 16),
		done:     make(chan struct{}),
		running:  true,
	}
	w.wg.Add(1)
	go w.processEvents()
	return w, nil
}

// Events returns reload notifications. The channel is closed by Stop.
func (w *Watcher) Events() <-chan ReloadEvent {
	return w.events
}

// Stop stops watching and waits for the event loop to exit.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)
	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	w.wg.Wait()
	close(w.events)
	return nil
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			err := w.registry.LoadFile(w.path)
			if err != nil {
				w.registry.logger.Printf("WARNING: reload of %s failed, keeping previous options: %v", w.path, err)
			}
			w.emit(ReloadEvent{Path: w.path, Err: err})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.registry.logger.Printf("WARNING: watcher error: %v", err)
		}
	}
}

// relevant reports whether event rewrote the seed file. Removal is ignored
// so a file deleted mid-save keeps the last good options.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	abs, err := filepath.Abs(event.Name)
	if err != nil || abs != w.path {
		return false
	}
	return event.Has(fsnotify.Create) || event.Has(fsnotify.Write)
}

func (w *Watcher) emit(ev ReloadEvent) {
	select {
	case w.events <- ev:
	case <-w.done:
	default:
		// Nobody is draining; the registry is already updated.
	}
}
