// SPDX-License-Identifier: MIT

// Package assemble turns a workout plan into a single video: it prepares
// per-segment clips, concatenates them, and feeds the result to the
// streaming pipeline.
package assemble

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fitstream/fitstream/internal/log"
	"github.com/fitstream/fitstream/internal/media/encode"
	"github.com/fitstream/fitstream/internal/media/probe"
	"github.com/fitstream/fitstream/internal/metrics"
	"github.com/google/renameio/v2"
)

// Assembler merges an ordered clip sequence into one file.
type Assembler interface {
	Build(ctx context.Context, clips []string, out string) error
}

// Progressive merges clips pairwise into a rolling accumulator. At most two
// intermediate files exist at any time regardless of workout length, and
// each step stream-copies when both inputs are already in target format.
type Progressive struct {
	runner encode.Runner
	prober probe.Prober
}

// NewProgressive returns a progressive assembler.
func NewProgressive(runner encode.Runner, prober probe.Prober) *Progressive {
	return &Progressive{runner: runner, prober: prober}
}

// Build merges clips into out. Intermediate accumulators live next to out
// and are deleted as soon as they are superseded.
func (a *Progressive) Build(ctx context.Context, clips []string, out string) error {
	if len(clips) == 0 {
		return fmt.Errorf("nothing to assemble")
	}

	logger := log.WithComponentFromContext(ctx, "assemble")
	dir := filepath.Dir(out)
	formats := make(map[string]probe.Format, len(clips))

	if len(clips) == 1 {
		// Already in target format: no encode, just place the bytes.
		if a.inTargetFormat(ctx, formats, clips[0]) {
			return copyFile(clips[0], out)
		}
		args, err := encode.NormalizeArgs(clips[0], out)
		if err != nil {
			return err
		}
		return a.runner.Run(ctx, "normalize", args)
	}

	acc := clips[0]
	accIsTemp := false

	for i := 1; i < len(clips); i++ {
		next := clips[i]

		dst := out
		if i < len(clips)-1 {
			dst = filepath.Join(dir, fmt.Sprintf(".acc_%d.mp4", i))
		}

		err := a.mergePair(ctx, formats, acc, next, dst, dir, i)

		// The superseded accumulator is dead weight either way.
		if accIsTemp {
			_ = os.Remove(acc)
		}
		if err != nil {
			return err
		}

		// A merged accumulator is always in target format: either it was a
		// pure stream copy of target-format inputs or it was re-encoded.
		formats[dst] = encode.Target()

		acc = dst
		accIsTemp = dst != out
	}

	logger.Debug().Int("clips", len(clips)).Str("out", out).Msg("progressive assembly complete")
	return nil
}

// mergePair merges acc and next into dst. Heterogeneous pairs are brought to
// target format first: the concat demuxer needs homogeneous stream
// parameters even when the merge itself re-encodes.
func (a *Progressive) mergePair(ctx context.Context, formats map[string]probe.Format, acc, next, dst, dir string, step int) error {
	streamCopy := a.inTargetFormat(ctx, formats, acc) && a.inTargetFormat(ctx, formats, next)

	mergeAcc, mergeNext := acc, next
	if !streamCopy {
		var err error
		var cleanAcc, cleanNext func()
		mergeAcc, cleanAcc, err = a.ensureTarget(ctx, formats, acc, dir, fmt.Sprintf("%d_a", step))
		if err != nil {
			return err
		}
		defer cleanAcc()
		mergeNext, cleanNext, err = a.ensureTarget(ctx, formats, next, dir, fmt.Sprintf("%d_b", step))
		if err != nil {
			return err
		}
		defer cleanNext()
	}

	list := filepath.Join(dir, fmt.Sprintf(".merge_%d.txt", step))
	defer func() { _ = os.Remove(list) }()
	if err := encode.WriteConcatList(list, []string{mergeAcc, mergeNext}); err != nil {
		return err
	}
	return a.mergeStep(ctx, list, dst, streamCopy)
}

// ensureTarget returns a path known to be in target format, normalizing
// into dir when the input is not. The cleanup removes the temp file.
func (a *Progressive) ensureTarget(ctx context.Context, formats map[string]probe.Format, path, dir, tag string) (string, func(), error) {
	if a.inTargetFormat(ctx, formats, path) {
		return path, func() {}, nil
	}

	norm := filepath.Join(dir, fmt.Sprintf(".norm_%s.mp4", tag))
	args, err := encode.NormalizeArgs(path, norm)
	if err != nil {
		return "", nil, err
	}
	if err := a.runner.Run(ctx, "normalize", args); err != nil {
		return "", nil, err
	}
	formats[norm] = encode.Target()
	return norm, func() { _ = os.Remove(norm) }, nil
}

// copyFile places src's bytes at dst atomically.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()

	pending, err := renameio.NewPendingFile(dst, renameio.WithPermissions(0o640))
	if err != nil {
		return fmt.Errorf("create pending output: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	if _, err := io.Copy(pending, in); err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return pending.CloseAtomicallyReplace()
}

// mergeStep runs one concat invocation. A failed stream copy is retried as
// a re-encode before giving up, since copy failures usually mean the inputs
// were not as uniform as the probe suggested.
func (a *Progressive) mergeStep(ctx context.Context, list, dst string, streamCopy bool) error {
	args, err := encode.ConcatArgs(list, dst, streamCopy)
	if err != nil {
		return err
	}
	if err := a.runner.Run(ctx, "merge", args); err != nil {
		if !streamCopy {
			return err
		}
		logger := log.WithComponentFromContext(ctx, "assemble")
		logger.Warn().
			Err(err).
			Str("dst", dst).
			Msg("stream-copy merge failed, retrying with re-encode")
		args, argErr := encode.ConcatArgs(list, dst, false)
		if argErr != nil {
			return argErr
		}
		if err := a.runner.Run(ctx, "merge", args); err != nil {
			return err
		}
		metrics.IncConcatStep("reencode")
		return nil
	}
	if streamCopy {
		metrics.IncConcatStep("copy")
	} else {
		metrics.IncConcatStep("reencode")
	}
	return nil
}

// inTargetFormat probes path once per build and reports whether it can be
// stream-copied. Probe failures demote the clip to the re-encode path.
func (a *Progressive) inTargetFormat(ctx context.Context, cache map[string]probe.Format, path string) bool {
	f, ok := cache[path]
	if !ok {
		var err error
		f, err = a.prober.Probe(ctx, path)
		if err != nil {
			return false
		}
		cache[path] = f
	}
	return f.Matches(encode.Target())
}

// Sequential merges all clips in a single re-encoding pass. Slower than the
// progressive path but immune to format drift, so it serves as the fallback.
type Sequential struct {
	runner encode.Runner
}

// NewSequential returns the single-pass fallback assembler.
func NewSequential(runner encode.Runner) *Sequential {
	return &Sequential{runner: runner}
}

// Build concatenates clips into out with one re-encode.
func (a *Sequential) Build(ctx context.Context, clips []string, out string) error {
	if len(clips) == 0 {
		return fmt.Errorf("nothing to assemble")
	}

	list := filepath.Join(filepath.Dir(out), ".merge_all.txt")
	defer func() { _ = os.Remove(list) }()

	if err := encode.WriteConcatList(list, clips); err != nil {
		return err
	}
	args, err := encode.ConcatArgs(list, out, false)
	if err != nil {
		return err
	}
	if err := a.runner.Run(ctx, "merge", args); err != nil {
		return err
	}
	metrics.IncConcatStep("reencode")
	return nil
}
