// SPDX-License-Identifier: MIT

// Package breaks manages rest-break clips: target-format videos rendering a
// static background for the rest interval between exercises. Common
// durations are pre-generated into a shared cache so workout assembly never
// waits on them.
package breaks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fitstream/fitstream/internal/log"
	"github.com/fitstream/fitstream/internal/media/encode"
	"github.com/fitstream/fitstream/internal/media/probe"
	"github.com/fitstream/fitstream/internal/metrics"
	"github.com/google/uuid"
)

// commonDurations are the rest lengths kept permanently in the cache.
var commonDurations = []int{5, 10, 15, 20, 25, 30, 35, 40}

// Factory produces break clips.
type Factory struct {
	cacheDir string
	image    string
	runner   encode.Runner
	prober   probe.Prober
}

// NewFactory returns a Factory caching clips under cacheDir, rendered from
// the given background image.
func NewFactory(cacheDir, image string, runner encode.Runner, prober probe.Prober) *Factory {
	return &Factory{
		cacheDir: cacheDir,
		image:    image,
		runner:   runner,
		prober:   prober,
	}
}

func (f *Factory) clipPath(seconds int) string {
	return filepath.Join(f.cacheDir, fmt.Sprintf("break_%ds.mp4", seconds))
}

func isCommon(seconds int) bool {
	for _, d := range commonDurations {
		if d == seconds {
			return true
		}
	}
	return false
}

// generate renders a break clip of the given duration to out. ffmpeg writes
// to a sibling temp path which is renamed in, so readers never see a
// half-written clip.
func (f *Factory) generate(ctx context.Context, seconds int, out string) error {
	tmp := filepath.Join(filepath.Dir(out), "."+uuid.NewString()+".mp4")
	defer func() { _ = os.Remove(tmp) }()

	args, err := encode.BreakArgs(f.image, seconds, tmp)
	if err != nil {
		return err
	}
	if err := f.runner.Run(ctx, "break", args); err != nil {
		return fmt.Errorf("generate %ds break clip: %w", seconds, err)
	}
	return os.Rename(tmp, out)
}

// Prewarm ensures every common duration exists in the cache in target
// format. Clips that fail probing or drifted from the target format are
// regenerated. Individual failures do not stop the rest of the warmup.
func (f *Factory) Prewarm(ctx context.Context) error {
	logger := log.WithComponent("breaks")
	target := encode.Target()

	var errs []error
	for _, seconds := range commonDurations {
		path := f.clipPath(seconds)

		if _, statErr := os.Stat(path); statErr == nil {
			format, probeErr := f.prober.Probe(ctx, path)
			if probeErr == nil && format.Matches(target) {
				continue
			}
			logger.Warn().
				Int("seconds", seconds).
				AnErr("probe_error", probeErr).
				Msg("cached break clip unusable, regenerating")
			if err := f.generate(ctx, seconds, path); err != nil {
				metrics.IncBreakCache("error")
				errs = append(errs, err)
				continue
			}
			metrics.IncBreakCache("regenerated")
			continue
		}

		if err := f.generate(ctx, seconds, path); err != nil {
			metrics.IncBreakCache("error")
			errs = append(errs, err)
			continue
		}
		metrics.IncBreakCache("generated")
	}

	if len(errs) > 0 {
		return fmt.Errorf("prewarm break clips: %w", errors.Join(errs...))
	}
	logger.Info().Ints("durations", commonDurations).Msg("break clip cache warm")
	return nil
}

// Get returns a break clip of the requested duration. Common durations come
// from (or are added to) the shared cache; odd durations are rendered into
// tmpDir and belong to the caller's job.
func (f *Factory) Get(ctx context.Context, seconds int, tmpDir string) (string, error) {
	if seconds < 1 {
		return "", fmt.Errorf("break duration must be >= 1s, got %d", seconds)
	}

	if isCommon(seconds) {
		path := f.clipPath(seconds)
		if info, err := os.Stat(path); err == nil && info.Size() > 0 {
			metrics.IncBreakCache("hit")
			return path, nil
		}
		if err := f.generate(ctx, seconds, path); err != nil {
			metrics.IncBreakCache("error")
			return "", err
		}
		metrics.IncBreakCache("generated")
		return path, nil
	}

	out := filepath.Join(tmpDir, fmt.Sprintf("break_%ds.mp4", seconds))
	if err := f.generate(ctx, seconds, out); err != nil {
		metrics.IncBreakCache("error")
		return "", err
	}
	metrics.IncBreakCache("generated")
	return out, nil
}
