// Package notify turns modifications of the registry's backing file into
// "something changed" signals for viewers. Signals are delivered at least
// once per successful write and may coalesce; consumers must re-read full
// state rather than trust a delta.
package notify

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	changes chan struct{}
	stop    chan struct{}
	done    chan struct{}
	log     zerolog.Logger
}

func NewWatcher(registryPath string, log zerolog.Logger) *Watcher {
	return &Watcher{
		path:    registryPath,
		changes: make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		log:     log,
	}
}

// Start watches the registry's directory. The directory, not the file: the
// atomic-rename write model replaces the file on every commit, and a watch
// on the old inode would go quiet after the first write.
func (w *Watcher) Start() error {
	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create watch dir: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close() //nolint:errcheck
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.watcher = fsw
	go w.loop()
	return nil
}

// Changes delivers one signal per batch of writes. The channel has a buffer
// of one; rapid successive writes coalesce into a single pending signal.
func (w *Watcher) Changes() <-chan struct{} {
	return w.changes
}

func (w *Watcher) Stop() {
	close(w.stop)
	if w.watcher == nil {
		return
	}
	w.watcher.Close() //nolint:errcheck
	<-w.done
}

func (w *Watcher) loop() {
	defer close(w.done)
	base := filepath.Base(w.path)
	for {
		select {
		case <-w.stop:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			select {
			case w.changes <- struct{}{}:
			default:
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("registry watch error")
		}
	}
}
