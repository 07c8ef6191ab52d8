// SPDX-License-Identifier: MIT

// Package stream relays encoder stdout to an HTTP response writer with
// timeout supervision. Two modes exist: direct chunk relay for clients that
// tolerate slow starts, and buffered startup which withholds output until
// enough is queued for stutter-free playback.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fitstream/fitstream/internal/log"
	"github.com/fitstream/fitstream/internal/media/encode"
	"github.com/fitstream/fitstream/internal/metrics"
	"github.com/rs/zerolog"
)

var (
	// ErrTimeout means the encoder produced no output within its window.
	ErrTimeout = errors.New("stream timed out waiting for encoder output")
	// ErrNoOutput means the encoder exited without emitting a single byte.
	ErrNoOutput = errors.New("encoder produced no output")
)

// chunkSize is the relay unit between encoder stdout and the client.
const chunkSize = 64 * 1024

// Config are the supervision windows of the pipeline.
type Config struct {
	StreamTimeout      time.Duration // overall wall clock in direct mode
	ReadTimeout        time.Duration // per-chunk read after startup
	StartupTimeout     time.Duration // overall buffered-startup window
	StartupReadTimeout time.Duration // per-chunk read while filling the startup buffer
	BufferThreshold    int           // bytes withheld before the first flush in buffered mode
}

// Pipeline runs streaming encodes.
type Pipeline struct {
	runner encode.Runner
	cfg    Config
}

// New returns a pipeline using runner for encoder processes.
func New(runner encode.Runner, cfg Config) *Pipeline {
	return &Pipeline{runner: runner, cfg: cfg}
}

type chunk struct {
	data []byte
	err  error
}

// readChunks pumps stdout into a channel so relay loops can select against
// timers. The channel is closed when the pipe ends.
func readChunks(stdout io.Reader) <-chan chunk {
	ch := make(chan chunk, 1)
	go func() {
		defer close(ch)
		for {
			buf := make([]byte, chunkSize)
			n, err := stdout.Read(buf)
			if n > 0 {
				ch <- chunk{data: buf[:n]}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					ch <- chunk{err: err}
				}
				return
			}
		}
	}()
	return ch
}

// abortGrace bounds how long an aborted encoder may run after SIGTERM
// before it is killed outright.
const abortGrace = 2 * time.Second

// abort stops the encoder gracefully and drains the reader so no goroutine
// is left blocked on a dead pipe. The drain runs concurrently with the
// shutdown: a terminating encoder may still flush output, and reaping closes
// the stdout pipe under the reader.
func abort(p *encode.Process, ch <-chan chunk) {
	drained := make(chan struct{})
	go func() {
		for range ch {
		}
		close(drained)
	}()
	p.Shutdown(abortGrace)
	<-drained
}

func flush(w io.Writer) {
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// Run starts the encoder and relays its stdout to w chunk by chunk. The
// whole stream must finish within StreamTimeout and every chunk must arrive
// within ReadTimeout.
func (p *Pipeline) Run(ctx context.Context, args []string, w io.Writer) error {
	proc, err := p.runner.Start(ctx, "stream", args)
	if err != nil {
		return err
	}

	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	logger := log.WithComponentFromContext(ctx, "stream")
	start := time.Now()
	ch := readChunks(proc.Stdout)

	deadline := time.NewTimer(p.cfg.StreamTimeout)
	defer deadline.Stop()

	var written int64
	firstChunk := true

	for {
		readTimer := time.NewTimer(p.cfg.ReadTimeout)

		select {
		case <-ctx.Done():
			readTimer.Stop()
			abort(proc, ch)
			logger.Debug().Int64("bytes", written).Msg("client went away, stream aborted")
			return ctx.Err()

		case <-deadline.C:
			readTimer.Stop()
			abort(proc, ch)
			metrics.StreamTimeoutTotal.Inc()
			logger.Warn().Int64("bytes", written).Dur("elapsed", time.Since(start)).Msg("stream exceeded total timeout")
			return fmt.Errorf("%w: after %s", ErrTimeout, p.cfg.StreamTimeout)

		case <-readTimer.C:
			abort(proc, ch)
			metrics.StreamTimeoutTotal.Inc()
			logger.Warn().Int64("bytes", written).Msg("no encoder output within read timeout")
			return fmt.Errorf("%w: no chunk within %s", ErrTimeout, p.cfg.ReadTimeout)

		case c, ok := <-ch:
			readTimer.Stop()
			if !ok {
				// Encoder closed stdout; reap it and check the exit.
				if err := proc.Wait(); err != nil {
					return err
				}
				if written == 0 {
					return ErrNoOutput
				}
				logger.Info().Int64("bytes", written).Dur("elapsed", time.Since(start)).Msg("stream complete")
				return nil
			}
			if c.err != nil {
				abort(proc, ch)
				return fmt.Errorf("read encoder output: %w", c.err)
			}
			if _, err := w.Write(c.data); err != nil {
				abort(proc, ch)
				return fmt.Errorf("write to client: %w", err)
			}
			flush(w)
			if firstChunk {
				firstChunk = false
				metrics.StreamTTFB.Observe(time.Since(start).Seconds())
			}
			written += int64(len(c.data))
		}
	}
}

// RunBuffered starts the encoder but withholds output until BufferThreshold
// bytes are queued (or the encoder finishes), then flushes the buffer as one
// write and relays the remainder. Slow encoder startups thus do not trickle
// tiny stuttering chunks to the player.
func (p *Pipeline) RunBuffered(ctx context.Context, args []string, w io.Writer) error {
	proc, err := p.runner.Start(ctx, "stream", args)
	if err != nil {
		return err
	}

	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	logger := log.WithComponentFromContext(ctx, "stream")
	start := time.Now()
	ch := readChunks(proc.Stdout)

	buf, done, err := p.fillStartupBuffer(ctx, proc, ch, logger)
	if err != nil {
		return err
	}

	var written int64
	if len(buf) > 0 {
		if _, err := w.Write(buf); err != nil {
			abort(proc, ch)
			return fmt.Errorf("write to client: %w", err)
		}
		flush(w)
		metrics.StreamTTFB.Observe(time.Since(start).Seconds())
		written = int64(len(buf))
	}

	if done {
		if err := proc.Wait(); err != nil {
			return err
		}
		if written == 0 {
			return ErrNoOutput
		}
		logger.Info().Int64("bytes", written).Msg("stream complete from startup buffer")
		return nil
	}

	for {
		readTimer := time.NewTimer(p.cfg.ReadTimeout)

		select {
		case <-ctx.Done():
			readTimer.Stop()
			abort(proc, ch)
			return ctx.Err()

		case <-readTimer.C:
			abort(proc, ch)
			metrics.StreamTimeoutTotal.Inc()
			logger.Warn().Int64("bytes", written).Msg("no encoder output within read timeout")
			return fmt.Errorf("%w: no chunk within %s", ErrTimeout, p.cfg.ReadTimeout)

		case c, ok := <-ch:
			readTimer.Stop()
			if !ok {
				if err := proc.Wait(); err != nil {
					return err
				}
				if written == 0 {
					return ErrNoOutput
				}
				logger.Info().Int64("bytes", written).Dur("elapsed", time.Since(start)).Msg("stream complete")
				return nil
			}
			if c.err != nil {
				abort(proc, ch)
				return fmt.Errorf("read encoder output: %w", c.err)
			}
			if _, err := w.Write(c.data); err != nil {
				abort(proc, ch)
				return fmt.Errorf("write to client: %w", err)
			}
			flush(w)
			written += int64(len(c.data))
		}
	}
}

// fillStartupBuffer accumulates encoder output until the threshold is met,
// the encoder finishes (done=true), or the startup window closes. A closed
// window with a non-empty buffer is not an error: whatever is queued gets
// streamed and the relay continues.
func (p *Pipeline) fillStartupBuffer(ctx context.Context, proc *encode.Process, ch <-chan chunk, logger zerolog.Logger) ([]byte, bool, error) {
	buf := make([]byte, 0, p.cfg.BufferThreshold)

	window := time.NewTimer(p.cfg.StartupTimeout)
	defer window.Stop()

	for len(buf) < p.cfg.BufferThreshold {
		readTimer := time.NewTimer(p.cfg.StartupReadTimeout)

		select {
		case <-ctx.Done():
			readTimer.Stop()
			abort(proc, ch)
			return nil, false, ctx.Err()

		case <-window.C:
			readTimer.Stop()
			if len(buf) > 0 {
				logger.Warn().Int("buffered", len(buf)).Msg("startup window closed below threshold, streaming what is queued")
				return buf, false, nil
			}
			abort(proc, ch)
			metrics.StreamTimeoutTotal.Inc()
			return nil, false, fmt.Errorf("%w: no startup output within %s", ErrTimeout, p.cfg.StartupTimeout)

		case <-readTimer.C:
			if len(buf) > 0 {
				logger.Warn().Int("buffered", len(buf)).Msg("startup read stalled below threshold, streaming what is queued")
				return buf, false, nil
			}
			abort(proc, ch)
			metrics.StreamTimeoutTotal.Inc()
			return nil, false, fmt.Errorf("%w: no startup chunk within %s", ErrTimeout, p.cfg.StartupReadTimeout)

		case c, ok := <-ch:
			readTimer.Stop()
			if !ok {
				// Short encodes can finish entirely inside the buffer.
				return buf, true, nil
			}
			if c.err != nil {
				abort(proc, ch)
				return nil, false, fmt.Errorf("read encoder output: %w", c.err)
			}
			buf = append(buf, c.data...)
		}
	}
	return buf, false, nil
}
