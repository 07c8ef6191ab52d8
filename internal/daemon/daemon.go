// SPDX-License-Identifier: MIT

// Package daemon provides the HTTP server lifecycle: startup, signal-driven
// shutdown, and graceful drain of in-flight streams.
package daemon

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fitstream/fitstream/internal/log"
	"github.com/rs/zerolog"
)

// Config holds server lifecycle settings.
type Config struct {
	ListenAddr string

	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration

	// ShutdownTimeout bounds the graceful drain. Long-running video streams
	// past this deadline are cut.
	ShutdownTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.ReadHeaderTimeout <= 0 {
		c.ReadHeaderTimeout = 10 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 120 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 15 * time.Second
	}
}

// Daemon runs the HTTP server until its context is cancelled.
type Daemon struct {
	config Config
	server *http.Server
	logger zerolog.Logger
}

// New creates a daemon serving handler on cfg.ListenAddr.
func New(cfg Config, handler http.Handler) *Daemon {
	cfg.applyDefaults()
	return &Daemon{
		config: cfg,
		server: &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           handler,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			IdleTimeout:       cfg.IdleTimeout,
			// No WriteTimeout: video streams legitimately outlive any fixed
			// response deadline. The stream pipeline enforces its own.
		},
		logger: log.WithComponent("daemon"),
	}
}

// Start serves until ctx is cancelled or the listener fails, then drains
// gracefully.
func (d *Daemon) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		d.logger.Info().Str("listen", d.config.ListenAddr).Msg("http server listening")
		if err := d.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		return d.Shutdown(context.Background())
	}
}

// Shutdown drains the server within the configured timeout.
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, d.config.ShutdownTimeout)
	defer cancel()

	if err := d.server.Shutdown(shutdownCtx); err != nil {
		d.logger.Error().Err(err).Msg("http server shutdown error")
		return err
	}
	d.logger.Info().Msg("daemon stopped")
	return nil
}

// WaitForShutdown returns a context cancelled on SIGINT or SIGTERM.
func WaitForShutdown() context.Context {
	ctx, _ := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return ctx
}
