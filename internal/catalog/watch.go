// SPDX-License-Identifier: MIT

package catalog

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fitstream/fitstream/internal/log"
	"github.com/fsnotify/fsnotify"
)

// debounce window for editors that write the file in several events.
const reloadDebounce = 250 * time.Millisecond

// Watch reloads the catalog whenever its file changes on disk. It blocks
// until ctx is cancelled. Watching the parent directory instead of the file
// keeps the watch alive across atomic rename-replace writers.
func (c *Catalog) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(c.path)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	logger := log.WithComponent("catalog")
	logger.Info().Str("dir", dir).Msg("watching catalog for changes")

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(c.path) {
				continue
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
				timerC = timer.C
			} else {
				timer.Reset(reloadDebounce)
			}
		case <-timerC:
			if err := c.Reload(); err != nil {
				logger.Error().Err(err).Msg("catalog reload failed, keeping previous catalog")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("catalog watcher error")
		}
	}
}
