// SPDX-License-Identifier: MIT

package assemble

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fitstream/fitstream/internal/assets"
	"github.com/fitstream/fitstream/internal/breaks"
	"github.com/fitstream/fitstream/internal/config"
	"github.com/fitstream/fitstream/internal/log"
	"github.com/fitstream/fitstream/internal/media/encode"
	"github.com/fitstream/fitstream/internal/media/probe"
	"github.com/fitstream/fitstream/internal/media/stream"
	"github.com/fitstream/fitstream/internal/metrics"
	"github.com/fitstream/fitstream/internal/store"
	"github.com/fitstream/fitstream/internal/workout"
)

// Deps are the collaborators of a Generator.
type Deps struct {
	Config   config.AppConfig
	Resolver *assets.Resolver
	Breaks   *breaks.Factory
	Prober   probe.Prober
	Runner   encode.Runner
	Pipeline *stream.Pipeline
	Jobs     *store.JobStore
}

// Generator renders workout plans into video, either streamed directly or
// staged to disk for later playback.
type Generator struct {
	cfg      config.AppConfig
	resolver *assets.Resolver
	breaks   *breaks.Factory
	prober   probe.Prober
	runner   encode.Runner
	pipeline *stream.Pipeline
	jobs     *store.JobStore

	assembler Assembler
	fallback  Assembler
}

// NewGenerator wires a Generator from its dependencies.
func NewGenerator(d Deps) *Generator {
	return &Generator{
		cfg:       d.Config,
		resolver:  d.Resolver,
		breaks:    d.Breaks,
		prober:    d.Prober,
		runner:    d.Runner,
		pipeline:  d.Pipeline,
		jobs:      d.Jobs,
		assembler: NewProgressive(d.Runner, d.Prober),
		fallback:  NewSequential(d.Runner),
	}
}

func (g *Generator) newJobDir(id string) (string, error) {
	dir := filepath.Join(g.cfg.JobsDir(), id)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create job dir: %w", err)
	}
	return dir, nil
}

func cleanupJobDir(dir string, failed bool) {
	outcome := "success"
	if failed {
		outcome = "failure"
	}
	if err := os.RemoveAll(dir); err != nil {
		metrics.JobCleanupTotal.WithLabelValues("failure").Inc()
		logger := log.WithComponent("assemble")
		logger.Warn().Err(err).Str("dir", dir).Msg("job dir cleanup failed")
		return
	}
	metrics.JobCleanupTotal.WithLabelValues(outcome).Inc()
}

// Generate streams the workout for plan directly to w. All temp files live
// in a per-job directory that is removed when the stream ends, successfully
// or not.
func (g *Generator) Generate(ctx context.Context, plan workout.Plan, w io.Writer) error {
	ctx = log.ContextWithJobID(ctx, plan.ID)
	logger := log.WithComponentFromContext(ctx, "assemble")

	jobDir, err := g.newJobDir(plan.ID)
	if err != nil {
		return err
	}
	failed := true
	defer func() { cleanupJobDir(jobDir, failed) }()

	clips, err := g.prepareClips(ctx, plan, jobDir)
	if err != nil {
		return err
	}

	list := filepath.Join(jobDir, "concat.txt")
	if err := encode.WriteConcatList(list, clips); err != nil {
		return err
	}

	args, err := encode.StreamArgs(encode.StreamInput{
		Path:       list,
		ConcatList: true,
		Speed:      plan.Speed,
	})
	if err != nil {
		return err
	}

	logger.Info().Int("segments", len(clips)).Float64("speed", plan.Speed).Msg("starting direct workout stream")
	if err := g.pipeline.Run(ctx, args, w); err != nil {
		return err
	}
	failed = false
	return nil
}

// Stage renders the workout for plan to disk and registers it as a staged
// job. The job's files live until the job TTL expires or it is deleted.
func (g *Generator) Stage(ctx context.Context, plan workout.Plan) (store.StagedJob, error) {
	ctx = log.ContextWithJobID(ctx, plan.ID)
	logger := log.WithComponentFromContext(ctx, "assemble")

	jobDir, err := g.newJobDir(plan.ID)
	if err != nil {
		return store.StagedJob{}, err
	}
	staged := false
	defer func() {
		if !staged {
			cleanupJobDir(jobDir, true)
		}
	}()

	clips, err := g.prepareClips(ctx, plan, jobDir)
	if err != nil {
		return store.StagedJob{}, err
	}

	final := filepath.Join(jobDir, "workout.mp4")
	if err := g.assembler.Build(ctx, clips, final); err != nil {
		logger.Warn().Err(err).Msg("progressive assembly failed, retrying sequentially")
		if err := g.fallback.Build(ctx, clips, final); err != nil {
			return store.StagedJob{}, err
		}
	}

	job := store.StagedJob{
		ID:        plan.ID,
		Path:      final,
		Dir:       jobDir,
		Plan:      plan,
		CreatedAt: time.Now(),
	}
	g.jobs.Put(job)
	staged = true

	logger.Info().Int("segments", len(clips)).Str("path", final).Msg("workout staged")
	return job, nil
}

// Job returns the staged job registered under id.
func (g *Generator) Job(id string) (store.StagedJob, error) {
	return g.jobs.Get(id)
}

// Stream plays a previously staged workout to w using the buffered-startup
// pipeline.
func (g *Generator) Stream(ctx context.Context, id string, w io.Writer) error {
	job, err := g.jobs.Get(id)
	if err != nil {
		return err
	}

	ctx = log.ContextWithJobID(ctx, id)
	args, err := encode.StreamArgs(encode.StreamInput{
		Path:  job.Path,
		Speed: job.Plan.Speed,
	})
	if err != nil {
		return err
	}
	return g.pipeline.RunBuffered(ctx, args, w)
}

// prepareClips resolves, normalizes and trims every exercise clip and
// interleaves break clips between them. The returned paths are in playback
// order.
func (g *Generator) prepareClips(ctx context.Context, plan workout.Plan, jobDir string) ([]string, error) {
	refs := make([]string, len(plan.Exercises))
	for i, e := range plan.Exercises {
		refs[i] = e.VideoURL
	}

	resolved, err := g.resolver.ResolveAll(ctx, refs)
	if err != nil {
		return nil, err
	}

	clips := make([]string, 0, 2*len(resolved))
	for i, src := range resolved {
		clip, err := g.prepareExercise(ctx, src, i, plan.Intervals.WorkSec, jobDir)
		if err != nil {
			return nil, fmt.Errorf("prepare %q: %w", plan.Exercises[i].Name, err)
		}
		clips = append(clips, clip)

		if i < len(resolved)-1 {
			breakClip, err := g.breaks.Get(ctx, plan.Intervals.RestSec, jobDir)
			if err != nil {
				return nil, err
			}
			clips = append(clips, breakClip)
		}
	}
	return clips, nil
}

// prepareExercise brings a source clip to target format, capped at the work
// interval. The trim re-encodes, so it normalizes as a side effect; a failed
// probe just means the clip's format and duration are unknown, in which case
// everything goes through the encoder. A failed trim falls back to the
// untrimmed (but normalized) clip rather than failing the workout.
func (g *Generator) prepareExercise(ctx context.Context, src string, idx, workSec int, jobDir string) (string, error) {
	logger := log.WithComponentFromContext(ctx, "assemble")

	format, err := g.prober.Probe(ctx, src)
	if err != nil {
		logger.Warn().Err(err).Str("clip", src).Msg("probe failed, re-encoding conservatively")
		format = probe.Format{}
	}

	// An unknown duration (0) also lands here: -t on a shorter clip is a no-op.
	if format.Duration <= 0 || format.Duration > float64(workSec) {
		trimmed := filepath.Join(jobDir, fmt.Sprintf("seg_%d.mp4", idx))
		args, err := encode.TrimArgs(src, workSec, trimmed)
		if err != nil {
			return "", err
		}
		if err := g.runner.Run(ctx, "trim", args); err != nil {
			logger.Warn().Err(err).Str("clip", src).Msg("trim failed, using untrimmed clip")
		} else {
			return trimmed, nil
		}
	}

	// No trim happened: either the clip is short enough or the trim failed.
	if format.Matches(encode.Target()) {
		return src, nil
	}
	normalized := filepath.Join(jobDir, fmt.Sprintf("seg_%d_norm.mp4", idx))
	args, err := encode.NormalizeArgs(src, normalized)
	if err != nil {
		return "", err
	}
	if err := g.runner.Run(ctx, "normalize", args); err != nil {
		return "", err
	}
	return normalized, nil
}
