// SPDX-License-Identifier: MIT

package assets

import (
	"os"
	"path/filepath"
	"time"

	"github.com/fitstream/fitstream/internal/log"
)

// Stats summarizes the download cache.
type Stats struct {
	Files int   `json:"files"`
	Bytes int64 `json:"bytes"`
}

// Stats walks the cache directory and reports its size.
func (r *Resolver) Stats() (Stats, error) {
	var s Stats
	entries, err := os.ReadDir(r.cacheDir)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return s, err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		s.Files++
		s.Bytes += info.Size()
	}
	return s, nil
}

// Sweep deletes cached downloads older than maxAge and returns how many
// files were removed. A non-positive maxAge disables sweeping.
func (r *Resolver) Sweep(maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}

	entries, err := os.ReadDir(r.cacheDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(r.cacheDir, entry.Name())); err == nil {
			removed++
		}
	}

	if removed > 0 {
		logger := log.WithComponent("assets")
		logger.Info().
			Int("removed", removed).
			Dur("max_age", maxAge).
			Msg("download cache swept")
	}
	return removed, nil
}

// SweepLoop sweeps the cache on an interval until the context ends.
func (r *Resolver) SweepLoop(done <-chan struct{}, interval, maxAge time.Duration) {
	if interval <= 0 || maxAge <= 0 {
		return
	}
	logger := log.WithComponent("assets")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if _, err := r.Sweep(maxAge); err != nil {
				logger.Warn().Err(err).Msg("cache sweep failed")
			}
		}
	}
}
