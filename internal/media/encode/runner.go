// SPDX-License-Identifier: MIT

package encode

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fitstream/fitstream/internal/log"
	"github.com/fitstream/fitstream/internal/metrics"
	"github.com/fitstream/fitstream/internal/procgroup"
)

// stderrLines is how many trailing stderr lines are kept per invocation.
const stderrLines = 64

// Error is a failed encoder invocation with its trailing stderr.
type Error struct {
	Op       string
	ExitCode int
	Stderr   []string
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("ffmpeg %s failed (exit %d)", e.Op, e.ExitCode)
	if len(e.Stderr) > 0 {
		msg += ": " + strings.Join(e.Stderr, " | ")
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Runner executes encoder invocations. The interface exists so the pipeline
// can be tested without an ffmpeg binary.
type Runner interface {
	// Run executes an invocation to completion.
	Run(ctx context.Context, op string, args []string) error
	// Start launches an invocation whose stdout is consumed by the caller.
	Start(ctx context.Context, op string, args []string) (*Process, error)
}

// Exec runs the ffmpeg binary in a supervised process group.
type Exec struct {
	Bin     string
	Timeout time.Duration // per-invocation cap for Run; Start is uncapped
}

// NewExec returns an Exec runner. An empty bin defaults to "ffmpeg" on PATH.
func NewExec(bin string, timeout time.Duration) *Exec {
	if bin == "" {
		bin = "ffmpeg"
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Exec{Bin: bin, Timeout: timeout}
}

// Run executes ffmpeg to completion, capped by the runner timeout.
func (x *Exec) Run(ctx context.Context, op string, args []string) error {
	ctx, cancel := context.WithTimeout(ctx, x.Timeout)
	defer cancel()

	ring := NewLineRing(stderrLines)

	// #nosec G204 -- bin comes from config; args are built by this package
	cmd := exec.CommandContext(ctx, x.Bin, args...)
	procgroup.Set(cmd)
	cmd.Stderr = ring
	cmd.Cancel = func() error {
		return procgroup.Kill(cmd, syscall.SIGKILL)
	}

	logger := log.WithComponentFromContext(ctx, "encode")
	logger.Debug().Str("op", op).Str("command", cmd.String()).Msg("running ffmpeg")

	if err := cmd.Run(); err != nil {
		metrics.IncEncodeFail(op)
		code := 1
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		}
		encErr := &Error{Op: op, ExitCode: code, Stderr: ring.LastN(8), Err: err}
		logger.Error().
			Str("op", op).
			Int("exit_code", code).
			Strs("stderr", encErr.Stderr).
			Msg("ffmpeg invocation failed")
		return encErr
	}
	return nil
}

// Process is a running streaming invocation. The caller owns Stdout and
// must call Wait (after Shutdown or Kill on abnormal paths) exactly once.
type Process struct {
	op   string
	cmd  *exec.Cmd
	ring *LineRing

	Stdout io.ReadCloser

	waitOnce sync.Once
	waitErr  error
}

// Start launches ffmpeg with stdout piped to the caller. The context cancels
// the whole process group if it is still running.
func (x *Exec) Start(ctx context.Context, op string, args []string) (*Process, error) {
	ring := NewLineRing(stderrLines)

	// #nosec G204 -- bin comes from config; args are built by this package
	cmd := exec.CommandContext(ctx, x.Bin, args...)
	procgroup.Set(cmd)
	// Stderr goes straight into the ring: exec guarantees the copy is
	// complete before Wait returns, so the excerpt survives any exit path.
	cmd.Stderr = ring
	cmd.Cancel = func() error {
		return procgroup.Kill(cmd, syscall.SIGKILL)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("pipe ffmpeg stdout: %w", err)
	}

	p := &Process{op: op, cmd: cmd, ring: ring, Stdout: stdout}

	logger := log.WithComponentFromContext(ctx, "encode")
	logger.Info().Str("op", op).Str("command", cmd.String()).Msg("starting streaming ffmpeg")

	if err := cmd.Start(); err != nil {
		metrics.IncEncodeFail(op)
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}
	return p, nil
}

// Kill terminates the whole process group immediately.
func (p *Process) Kill() {
	_ = procgroup.Kill(p.cmd, syscall.SIGKILL)
}

// Shutdown stops the process group gracefully: SIGTERM, up to grace to
// exit, then SIGKILL. The process is reaped before Shutdown returns.
func (p *Process) Shutdown(grace time.Duration) {
	waitCh := make(chan error, 1)
	go func() { waitCh <- p.Wait() }()
	_ = procgroup.Terminate(p.cmd, waitCh, grace)
}

// Wait reaps the process and reports its exit. Idempotent.
func (p *Process) Wait() error {
	p.waitOnce.Do(func() {
		if err := p.cmd.Wait(); err != nil {
			code := 1
			if exitErr, ok := err.(*exec.ExitError); ok {
				code = exitErr.ExitCode()
			}
			p.waitErr = &Error{Op: p.op, ExitCode: code, Stderr: p.ring.LastN(8), Err: err}
		}
	})
	return p.waitErr
}

// StderrLines returns the most recent stderr lines for diagnostics.
func (p *Process) StderrLines(n int) []string {
	return p.ring.LastN(n)
}
