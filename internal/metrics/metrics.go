// SPDX-License-Identifier: MIT

// Package metrics exposes Prometheus instrumentation for the video pipeline.
// No per-request identifiers in labels to keep cardinality bounded.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AssetFetchTotal counts asset resolution outcomes.
	// result: hit_disk | downloaded | local | notfound | error
	AssetFetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fitstream_asset_fetch_total",
		Help: "Total number of asset resolution attempts, by result.",
	}, []string{"result"})

	// AssetDownloadBytes observes downloaded clip sizes.
	AssetDownloadBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fitstream_asset_download_bytes",
		Help:    "Size distribution of downloaded exercise clips.",
		Buckets: prometheus.ExponentialBuckets(64*1024, 4, 8),
	})

	// BreakCacheTotal counts break clip factory outcomes.
	// result: hit | generated | regenerated | error
	BreakCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fitstream_break_cache_total",
		Help: "Total number of break clip requests, by result.",
	}, []string{"result"})

	// ConcatStepTotal counts pairwise merge steps by mode.
	// mode: copy | reencode
	ConcatStepTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fitstream_concat_step_total",
		Help: "Total number of progressive concatenation steps, by merge mode.",
	}, []string{"mode"})

	// EncodeFailTotal counts encoder subprocess failures by pipeline step.
	// step: trim | break | normalize | merge | stream
	EncodeFailTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fitstream_encode_fail_total",
		Help: "Total number of encoder subprocess failures, by step.",
	}, []string{"step"})

	// StreamTimeoutTotal counts encoder streams killed for producing no output in time.
	StreamTimeoutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fitstream_stream_timeout_total",
		Help: "Total number of streaming encodes terminated by timeout.",
	})

	// ActiveStreams tracks streams currently relaying encoder output.
	ActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fitstream_active_streams",
		Help: "Current number of in-flight video streams.",
	})

	// StreamTTFB observes seconds from stream start to first delivered chunk.
	StreamTTFB = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fitstream_stream_ttfb_seconds",
		Help:    "Time to first delivered chunk for streamed workout videos.",
		Buckets: prometheus.DefBuckets,
	})

	// JobCleanupTotal counts generation job teardowns by outcome.
	// outcome: success | failure | expired
	JobCleanupTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fitstream_job_cleanup_total",
		Help: "Total number of generation job cleanups, by job outcome.",
	}, []string{"outcome"})
)

// IncAssetFetch records an asset resolution outcome.
func IncAssetFetch(result string) {
	AssetFetchTotal.WithLabelValues(result).Inc()
}

// IncBreakCache records a break clip factory outcome.
func IncBreakCache(result string) {
	BreakCacheTotal.WithLabelValues(result).Inc()
}

// IncConcatStep records a pairwise merge step.
func IncConcatStep(mode string) {
	ConcatStepTotal.WithLabelValues(mode).Inc()
}

// IncEncodeFail records an encoder failure for a pipeline step.
func IncEncodeFail(step string) {
	EncodeFailTotal.WithLabelValues(step).Inc()
}
