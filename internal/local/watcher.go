package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/torfstack/twin/internal/logging"
)

type WatchEvent struct {
	Path string
	Op   fsnotify.Op
}

// Watcher reports changes below a tree's base directory. It only observes;
// nothing served by the nodes is cached.
type Watcher struct {
	watcher  *fsnotify.Watcher
	Events   chan WatchEvent
	RootPath string
}

func NewWatcher(rootPath string) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher:  watcher,
		Events:   make(chan WatchEvent),
		RootPath: rootPath,
	}

	// NOTE: fsnotify does not recursively watch subdirectories
	err = filepath.Walk(rootPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if err = w.addDir(path); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = watcher.Close()
		return nil, err
	}

	return w, nil
}

func (w *Watcher) addDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("add-dir: could not stat directory: %w", err)
	}
	if !info.IsDir() {
		return nil
	}

	if err = w.watcher.Add(path); err != nil {
		return fmt.Errorf("add-dir: could not add directory to watcher: %w", err)
	}
	logging.Debugf("Added directory to watcher: %s", path)
	return nil
}

func (w *Watcher) Close() {
	if err := w.watcher.Close(); err != nil {
		logging.Errorf("Error closing watcher: %s", err)
	}
}

// Run forwards events to Events until ctx is done or the underlying
// watcher is closed. Events is closed when Run returns.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.Events)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}

			relativePath, err := filepath.Rel(w.RootPath, event.Name)
			if err != nil || relativePath == ".." || event.Name == w.RootPath {
				continue
			}

			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err = w.addDir(event.Name); err != nil {
						return fmt.Errorf("add-dir: could not add directory to watcher: %w", err)
					}
				}
			}

			select {
			case w.Events <- WatchEvent{Path: relativePath, Op: event.Op}:
			case <-ctx.Done():
				return nil
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher error channel closed")
			}
			logging.Errorf("FSNotify Error: %v", err)
		}
	}
}
