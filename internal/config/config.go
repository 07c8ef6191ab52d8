// SPDX-License-Identifier: MIT

// Package config loads service configuration from environment variables with
// sane defaults. Precedence: environment > defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// AppConfig holds the full runtime configuration of the service.
type AppConfig struct {
	// HTTP
	Listen        string // listen address, e.g. ":8080"
	RatePerMinute int    // per-IP request limit for generation endpoints

	// Filesystem layout
	DataDir       string // root for job temp dirs, caches and the workout database
	ProjectRoot   string // base for project-relative catalog video paths
	AssetsBase    string // base for asset-relative catalog video paths
	CacheDir      string // download cache for remote exercise clips
	BreakImage    string // static background image used for break clips
	PrewarmBreaks bool   // render common break durations at startup
	CatalogPath   string // exercises.json
	DBPath        string // sqlite database for generated-workout metadata

	// External tools
	FFmpegBin  string
	FFprobeBin string

	// Resolution / downloads
	MaxParallelDownloads int
	DownloadTimeout      time.Duration
	CacheMaxAge          time.Duration // download cache sweep horizon (0 disables)

	// Streaming
	StreamTimeout      time.Duration // overall wall clock for a direct stream
	ReadTimeout        time.Duration // per-chunk read during direct streaming
	StartupTimeout     time.Duration // overall buffered-startup window
	StartupReadTimeout time.Duration // per-chunk read while filling the startup buffer
	BufferThreshold    int           // bytes buffered before the first chunk is released

	// Workout planning
	SlotSeconds     int // seconds of total duration per planned exercise
	DefaultWorkSec  int
	DefaultRestSec  int
	StagedJobTTL    time.Duration
	EncodeTimeout   time.Duration // per-invocation cap for trim/break/merge encodes
	ProbeTimeout    time.Duration

	// Logging
	LogLevel string
}

// Load builds an AppConfig from the environment.
func Load() (AppConfig, error) {
	dataDir := ParseString("FITSTREAM_DATA", "/tmp/fitstream")

	cfg := AppConfig{
		Listen:        ParseString("FITSTREAM_LISTEN", ":8080"),
		RatePerMinute: ParseInt("FITSTREAM_RATE_PER_MINUTE", 30),

		DataDir:       dataDir,
		ProjectRoot:   ParseString("FITSTREAM_PROJECT_ROOT", "."),
		AssetsBase:    ParseString("FITSTREAM_ASSETS_BASE", ""),
		CacheDir:      ParseString("FITSTREAM_CACHE_DIR", filepath.Join(dataDir, "videocache")),
		BreakImage:    ParseString("FITSTREAM_BREAK_IMAGE", ""),
		PrewarmBreaks: ParseBool("FITSTREAM_PREWARM_BREAKS", true),
		CatalogPath:   ParseString("FITSTREAM_CATALOG", "exercises.json"),
		DBPath:        ParseString("FITSTREAM_DB", filepath.Join(dataDir, "fitstream.db")),

		FFmpegBin:  ParseString("FITSTREAM_FFMPEG", "ffmpeg"),
		FFprobeBin: ParseString("FITSTREAM_FFPROBE", "ffprobe"),

		MaxParallelDownloads: ParseInt("FITSTREAM_MAX_PARALLEL_DOWNLOADS", 4),
		DownloadTimeout:      ParseDuration("FITSTREAM_DOWNLOAD_TIMEOUT", 120*time.Second),
		CacheMaxAge:          ParseDuration("FITSTREAM_CACHE_MAX_AGE", 24*time.Hour),

		StreamTimeout:      ParseDuration("FITSTREAM_STREAM_TIMEOUT", 300*time.Second),
		ReadTimeout:        ParseDuration("FITSTREAM_READ_TIMEOUT", 300*time.Second),
		StartupTimeout:     ParseDuration("FITSTREAM_STARTUP_TIMEOUT", 120*time.Second),
		StartupReadTimeout: ParseDuration("FITSTREAM_STARTUP_READ_TIMEOUT", 30*time.Second),
		BufferThreshold:    ParseInt("FITSTREAM_BUFFER_THRESHOLD", 256*1024),

		SlotSeconds:    ParseInt("FITSTREAM_SLOT_SECONDS", 60),
		DefaultWorkSec: ParseInt("FITSTREAM_WORK_SECONDS", 40),
		DefaultRestSec: ParseInt("FITSTREAM_REST_SECONDS", 20),
		StagedJobTTL:   ParseDuration("FITSTREAM_JOB_TTL", 30*time.Minute),
		EncodeTimeout:  ParseDuration("FITSTREAM_ENCODE_TIMEOUT", 120*time.Second),
		ProbeTimeout:   ParseDuration("FITSTREAM_PROBE_TIMEOUT", 10*time.Second),

		LogLevel: ParseString("FITSTREAM_LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// Validate enforces the configuration invariants. It is called by Load but
// exported so tests and callers constructing configs by hand can reuse it.
func (c AppConfig) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if c.MaxParallelDownloads < 1 {
		return fmt.Errorf("max parallel downloads must be >= 1, got %d", c.MaxParallelDownloads)
	}
	if c.BufferThreshold < 1 {
		return fmt.Errorf("buffer threshold must be >= 1, got %d", c.BufferThreshold)
	}
	if c.SlotSeconds < 1 {
		return fmt.Errorf("slot seconds must be >= 1, got %d", c.SlotSeconds)
	}
	if c.DefaultWorkSec < 1 || c.DefaultRestSec < 1 {
		return fmt.Errorf("work/rest seconds must be positive, got work=%d rest=%d", c.DefaultWorkSec, c.DefaultRestSec)
	}
	for name, d := range map[string]time.Duration{
		"download timeout":     c.DownloadTimeout,
		"stream timeout":       c.StreamTimeout,
		"read timeout":         c.ReadTimeout,
		"startup timeout":      c.StartupTimeout,
		"startup read timeout": c.StartupReadTimeout,
		"encode timeout":       c.EncodeTimeout,
		"probe timeout":        c.ProbeTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	return nil
}

// EnsureDirs creates the directories the service writes to.
func (c AppConfig) EnsureDirs() error {
	for _, dir := range []string{c.DataDir, c.CacheDir, c.JobsDir(), c.BreakCacheDir()} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// JobsDir is the root for per-job temp directories.
func (c AppConfig) JobsDir() string {
	return filepath.Join(c.DataDir, "jobs")
}

// BreakCacheDir is the shared cache for pre-generated break clips.
func (c AppConfig) BreakCacheDir() string {
	return filepath.Join(c.CacheDir, "breaks")
}
