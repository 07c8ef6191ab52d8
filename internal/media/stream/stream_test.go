// SPDX-License-Identifier: MIT

package stream

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/fitstream/fitstream/internal/media/encode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testConfig() Config {
	return Config{
		StreamTimeout:      10 * time.Second,
		ReadTimeout:        5 * time.Second,
		StartupTimeout:     10 * time.Second,
		StartupReadTimeout: 5 * time.Second,
		BufferThreshold:    8,
	}
}

// shPipeline runs shell commands instead of ffmpeg.
func shPipeline(cfg Config) *Pipeline {
	return New(encode.NewExec("sh", time.Minute), cfg)
}

func TestRunRelaysOutput(t *testing.T) {
	p := shPipeline(testConfig())

	var out bytes.Buffer
	err := p.Run(context.Background(), []string{"-c", "printf 'encoded video bytes'"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "encoded video bytes", out.String())
}

func TestRunNoOutput(t *testing.T) {
	p := shPipeline(testConfig())

	var out bytes.Buffer
	err := p.Run(context.Background(), []string{"-c", "exit 0"}, &out)
	assert.ErrorIs(t, err, ErrNoOutput)
}

func TestRunEncoderFailure(t *testing.T) {
	p := shPipeline(testConfig())

	var out bytes.Buffer
	err := p.Run(context.Background(), []string{"-c", "echo 'codec exploded' >&2; exit 2"}, &out)
	require.Error(t, err)

	var encErr *encode.Error
	require.ErrorAs(t, err, &encErr)
	assert.Equal(t, 2, encErr.ExitCode)
	assert.Contains(t, encErr.Stderr[0], "codec exploded")
}

func TestRunReadTimeoutKillsEncoder(t *testing.T) {
	cfg := testConfig()
	cfg.ReadTimeout = 200 * time.Millisecond
	p := shPipeline(cfg)

	var out bytes.Buffer
	start := time.Now()
	err := p.Run(context.Background(), []string{"-c", "sleep 30"}, &out)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRunReadTimeoutEscalatesStubbornEncoder(t *testing.T) {
	cfg := testConfig()
	cfg.ReadTimeout = 200 * time.Millisecond
	p := shPipeline(cfg)

	// The shell ignores SIGTERM, so the abort has to escalate to SIGKILL
	// after the grace window.
	var out bytes.Buffer
	start := time.Now()
	err := p.Run(context.Background(), []string{"-c", "trap '' TERM; while true; do sleep 1; done"}, &out)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestRunTotalTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.StreamTimeout = 300 * time.Millisecond
	p := shPipeline(cfg)

	var out bytes.Buffer
	err := p.Run(context.Background(), []string{"-c", "while true; do printf x; sleep 0.1; done"}, &out)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestRunContextCancel(t *testing.T) {
	p := shPipeline(testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	var out bytes.Buffer
	err := p.Run(ctx, []string{"-c", "sleep 30"}, &out)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunBufferedHoldsThenRelays(t *testing.T) {
	cfg := testConfig()
	cfg.BufferThreshold = 4
	p := shPipeline(cfg)

	var out bytes.Buffer
	err := p.RunBuffered(context.Background(), []string{"-c", "printf '0123456789'"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", out.String())
}

func TestRunBufferedShortEncodeUnderThreshold(t *testing.T) {
	cfg := testConfig()
	cfg.BufferThreshold = 1 << 20
	p := shPipeline(cfg)

	var out bytes.Buffer
	err := p.RunBuffered(context.Background(), []string{"-c", "printf tiny"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "tiny", out.String())
}

func TestRunBufferedStartupTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.StartupTimeout = 300 * time.Millisecond
	cfg.StartupReadTimeout = 200 * time.Millisecond
	p := shPipeline(cfg)

	var out bytes.Buffer
	err := p.RunBuffered(context.Background(), []string{"-c", "sleep 30"}, &out)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Zero(t, out.Len())
}

func TestRunBufferedNoOutput(t *testing.T) {
	p := shPipeline(testConfig())

	var out bytes.Buffer
	err := p.RunBuffered(context.Background(), []string{"-c", "exit 0"}, &out)
	assert.ErrorIs(t, err, ErrNoOutput)
}
