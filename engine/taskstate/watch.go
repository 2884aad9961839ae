package taskstate

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"

	"github.com/compozy/enginebridge/pkg/logger"
)

// Watch reports the marker's state to onChange once on start and again each
// time it changes, until ctx is done. The parent directory is watched
// because Write publishes by rename.
func Watch(ctx context.Context, path string, onChange func(State)) error {
	log := logger.FromContext(ctx)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create marker watcher: %w", err)
	}
	defer watcher.Close()
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	fs := afero.NewOsFs()
	last := State("")
	emit := func() {
		state, err := Read(fs, path)
		if err != nil && !errors.Is(err, ErrMarkerMissing) {
			log.Debug("Marker not readable", "path", path, "error", err)
		}
		if state == last {
			return
		}
		last = state
		onChange(state)
	}
	emit()
	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			emit()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("Marker watcher error", "path", path, "error", err)
		}
	}
}
