package snapshot

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// AwaitMetadata blocks until the _metadata marker exists in the snapshot
// directory, the context is done, or watching fails. Materialization is
// observed via filesystem events; an existence check after the watch is
// established covers markers that appeared first.
func AwaitMetadata(ctx context.Context, dir string) error {
	target := filepath.Join(dir, MetadataFileName)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return err
	}

	// The marker may have been renamed into place before the watch began.
	if _, err := os.Stat(target); err == nil {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return ErrNotMaterialized
			}
			if ev.Name != target {
				continue
			}
			if ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Rename) {
				if _, err := os.Stat(target); err == nil {
					return nil
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return ErrNotMaterialized
			}
			return err
		}
	}
}
