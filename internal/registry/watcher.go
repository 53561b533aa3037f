package registry

import (
	"log"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a Registry when its backing file changes.
type Watcher struct {
	registry *Registry
	path     string
	onReload func(error)

	watcher *fsnotify.Watcher
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

// Watch starts watching path and reloads reg on every write or create.
// onReload, if non-nil, is called after each reload attempt with its error.
// The parent directory is watched so editors that replace the file by
// rename are still observed.
func Watch(reg *Registry, path string, onReload func(error)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{
		registry: reg,
		path:     filepath.Clean(path),
		onReload: onReload,
		watcher:  fw,
		done:     make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			err := w.registry.Load(w.path)
			if err != nil {
				// Keep serving the previous roster.
				log.Printf("[registry] reload of %s failed: %v", w.path, err)
			}
			if w.onReload != nil {
				w.onReload(err)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[registry] watcher error: %v", err)
		}
	}
}

// Close stops the watcher and waits for the reload loop to exit.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.watcher.Close()
		w.wg.Wait()
	})
	return err
}
