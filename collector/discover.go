package collector

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/jnesss/temporal-lens/shm"
)

// Discover lists the segment files under root, sorted by path.
func Discover(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", root, err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, ok := shm.ParseName(entry.Name()); ok {
			paths = append(paths, filepath.Join(root, entry.Name()))
		}
	}
	slices.Sort(paths)
	return paths, nil
}

// SegmentFunc is called by Watch when a segment appears (added true) or
// disappears (added false).
type SegmentFunc func(path string, added bool)

// Watch reports the segments already under root, then every segment
// created or removed there until ctx is cancelled.
func Watch(ctx context.Context, root string, logger *zap.Logger, fn SegmentFunc) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(root); err != nil {
		return fmt.Errorf("failed to watch directory %s: %w", root, err)
	}
	logger.Info("Watching for segments", zap.String("root", root))

	existing, err := Discover(root)
	if err != nil {
		return err
	}
	for _, path := range existing {
		fn(path, true)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if _, ok := shm.ParseName(filepath.Base(ev.Name)); !ok {
				continue
			}
			switch {
			case ev.Op.Has(fsnotify.Create):
				fn(ev.Name, true)
			case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
				fn(ev.Name, false)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("File watcher error", zap.Error(err))
		}
	}
}
