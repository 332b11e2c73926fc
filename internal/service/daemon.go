package service

import (
	"context"
	"fmt"

	"github.com/fsnotify/fsnotify"
	"github.com/torfstack/twin/internal/local"
	"github.com/torfstack/twin/internal/logging"
	"github.com/torfstack/twin/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// watchTree logs changes below dir until ctx is done. Watching is purely
// informational, so failures are logged instead of stopping the node.
func watchTree(ctx context.Context, dir string) error {
	w, err := local.NewWatcher(dir)
	if err != nil {
		logging.Error("Could not watch files directory", err, "dir", dir)
		return nil
	}
	defer w.Close()

	go consumeWatcherEvents(w.Events)
	err = w.Run(ctx)
	if err != nil {
		logging.Error("Error while watching files directory", err, "dir", dir)
	}
	return nil
}

func consumeWatcherEvents(c <-chan local.WatchEvent) {
	for event := range c {
		switch {
		case event.Op.Has(fsnotify.Create):
			logging.Debugf("File created: %s", event.Path)
		case event.Op.Has(fsnotify.Write):
			logging.Debugf("File written: %s", event.Path)
		case event.Op.Has(fsnotify.Remove):
			logging.Debugf("File removed: %s", event.Path)
		case event.Op.Has(fsnotify.Rename):
			logging.Debugf("File renamed: %s", event.Path)
		}
	}
}

// runNode serves the node alongside its optional watcher and metrics
// endpoint; the first fatal error stops all of them.
func runNode(ctx context.Context, serve func(context.Context) error, dir string, watch bool, metricsAddr string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return serve(ctx)
	})
	if watch {
		g.Go(func() error {
			return watchTree(ctx, dir)
		})
	}
	if metricsAddr != "" {
		g.Go(func() error {
			if err := metrics.Serve(ctx, metricsAddr); err != nil {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}
	return g.Wait()
}
