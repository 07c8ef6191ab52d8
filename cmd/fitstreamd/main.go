// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/fitstream/fitstream/internal/api"
	"github.com/fitstream/fitstream/internal/assemble"
	"github.com/fitstream/fitstream/internal/assets"
	"github.com/fitstream/fitstream/internal/breaks"
	"github.com/fitstream/fitstream/internal/catalog"
	"github.com/fitstream/fitstream/internal/config"
	"github.com/fitstream/fitstream/internal/daemon"
	fslog "github.com/fitstream/fitstream/internal/log"
	"github.com/fitstream/fitstream/internal/media/encode"
	"github.com/fitstream/fitstream/internal/media/probe"
	"github.com/fitstream/fitstream/internal/media/stream"
	"github.com/fitstream/fitstream/internal/planner"
	"github.com/fitstream/fitstream/internal/store"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

// cacheSweepInterval is how often the download cache is checked for stale
// entries. The retention horizon itself comes from configuration.
const cacheSweepInterval = time.Hour

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	ctx := daemon.WaitForShutdown()

	cfg, err := config.Load()
	if err != nil {
		logger := fslog.WithComponent("main")
		logger.Fatal().
			Err(err).
			Msg("failed to load configuration")
	}

	fslog.Configure(fslog.Config{
		Level:   cfg.LogLevel,
		Service: "fitstream",
	})
	logger := fslog.WithComponent("main")

	logger.Info().
		Str("version", version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Str("listen", cfg.Listen).
		Msg("starting fitstream")

	if err := cfg.EnsureDirs(); err != nil {
		logger.Fatal().Err(err).Msg("failed to create data directories")
	}

	cat, err := catalog.Open(cfg.CatalogPath)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("path", cfg.CatalogPath).
			Msg("failed to load exercise catalog")
	}
	logger.Info().Int("exercises", cat.Len()).Str("path", cfg.CatalogPath).Msg("exercise catalog loaded")

	go func() {
		if err := cat.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn().Err(err).Msg("catalog watch unavailable, edits need a restart")
		}
	}()

	runner := encode.NewExec(cfg.FFmpegBin, cfg.EncodeTimeout)
	prober := probe.New(cfg.FFprobeBin, cfg.ProbeTimeout)

	resolver := assets.NewResolver(assets.Options{
		CacheDir:    cfg.CacheDir,
		ProjectRoot: cfg.ProjectRoot,
		AssetsBase:  cfg.AssetsBase,
		MaxParallel: cfg.MaxParallelDownloads,
		Timeout:     cfg.DownloadTimeout,
	})
	if cfg.CacheMaxAge > 0 {
		go resolver.SweepLoop(ctx.Done(), cacheSweepInterval, cfg.CacheMaxAge)
	}

	breakFactory := breaks.NewFactory(cfg.BreakCacheDir(), cfg.BreakImage, runner, prober)
	switch {
	case cfg.BreakImage == "":
		logger.Warn().Msg("FITSTREAM_BREAK_IMAGE not set, workouts with rest breaks will fail until it is configured")
	case cfg.PrewarmBreaks:
		if err := breakFactory.Prewarm(ctx); err != nil {
			logger.Warn().Err(err).Msg("break clip prewarm incomplete, clips generate on demand")
		}
	}

	jobs := store.NewJobStore(cfg.StagedJobTTL, 5*time.Minute)
	defer jobs.Stop()

	workouts, err := store.OpenWorkouts(cfg.DBPath)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("path", cfg.DBPath).
			Msg("failed to open workout database")
	}
	defer func() {
		if err := workouts.Close(); err != nil {
			logger.Warn().Err(err).Msg("workout database close failed")
		}
	}()

	pipeline := stream.New(runner, stream.Config{
		StreamTimeout:      cfg.StreamTimeout,
		ReadTimeout:        cfg.ReadTimeout,
		StartupTimeout:     cfg.StartupTimeout,
		StartupReadTimeout: cfg.StartupReadTimeout,
		BufferThreshold:    cfg.BufferThreshold,
	})

	gen := assemble.NewGenerator(assemble.Deps{
		Config:   cfg,
		Resolver: resolver,
		Breaks:   breakFactory,
		Prober:   prober,
		Runner:   runner,
		Pipeline: pipeline,
		Jobs:     jobs,
	})

	srv := api.NewServer(cfg, cat, planner.New(cat, cfg.SlotSeconds, nil), gen, workouts, resolver)

	d := daemon.New(daemon.Config{ListenAddr: cfg.Listen}, srv.Router())
	if err := d.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server failed")
	}
	logger.Info().Msg("server exiting")
}
