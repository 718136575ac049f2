// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/waydroid/appmonitor/internal/lifecycle"
	"github.com/waydroid/appmonitor/internal/log"
	"github.com/waydroid/appmonitor/internal/metrics"
	apperrors "github.com/waydroid/appmonitor/pkg/errors"
)

// Monitor is the binder side of the bridge. *monitor.Monitor implements it.
type Monitor interface {
	Start(ctx context.Context)
	Done() <-chan struct{}
}

// Stopper closes every waiting launch and stops the monitor.
// *orchestrator.Orchestrator implements it.
type Stopper interface {
	StopAll(ctx context.Context) int
}

// Options configures a Controller.
type Options struct {
	Version string

	// PIDFile is held while the controller runs. Empty disables it.
	PIDFile string

	// MetricsAddr serves /metrics when set.
	MetricsAddr string

	// StopTimeout bounds Shutdown when Run drives it.
	StopTimeout time.Duration

	Logger *slog.Logger
}

// Controller hosts the app monitor for the lifetime of a serve process.
type Controller struct {
	opts    Options
	logger  *slog.Logger
	monitor Monitor
	stopper Stopper

	mu      sync.Mutex
	started bool
	pidFile *lifecycle.PIDFile
	server  *http.Server
	ln      net.Listener
}

// New returns a controller for mon. stopper is asked to close all launch
// endpoints on shutdown. Without a logger it logs as LOG_LEVEL and
// WAYDROID_DEBUG ask.
func New(mon Monitor, stopper Stopper, opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = log.New(log.FromEnv())
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 10 * time.Second
	}
	return &Controller{
		opts:    opts,
		logger:  log.WithComponent(opts.Logger, "controller"),
		monitor: mon,
		stopper: stopper,
	}
}

// Start takes the PID file, starts the monitor and the metrics endpoint.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return fmt.Errorf("controller already started")
	}

	if c.opts.PIDFile != "" {
		pf := lifecycle.NewPIDFile(c.opts.PIDFile)
		if err := pf.Acquire(os.Getpid()); err != nil {
			return apperrors.Wrap(err, "failed to write PID file")
		}
		c.pidFile = pf
	}

	if c.opts.MetricsAddr != "" {
		ln, err := net.Listen("tcp", c.opts.MetricsAddr)
		if err != nil {
			c.releasePIDFile()
			return apperrors.Wrapf(err, "failed to listen on %s", c.opts.MetricsAddr)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok\n"))
		})
		c.ln = ln
		c.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := c.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				c.logger.Error("metrics server failed", log.Error(err))
			}
		}()
	}

	c.monitor.Start(ctx)
	c.started = true

	attrs := []any{slog.String("version", c.opts.Version)}
	if c.ln != nil {
		attrs = append(attrs, slog.String("metrics_addr", c.ln.Addr().String()))
	}
	c.logger.Info("app monitor ready", attrs...)
	return nil
}

// MetricsAddr returns the bound metrics address, or "" when not serving.
func (c *Controller) MetricsAddr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ln == nil {
		return ""
	}
	return c.ln.Addr().String()
}

// Shutdown closes all launch endpoints, stops the monitor and releases the
// PID file. It is a no-op before Start.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return nil
	}
	c.started = false

	n := c.stopper.StopAll(ctx)
	c.logger.Info("closed app endpoints", slog.Int("count", n))

	var errs []error
	if c.server != nil {
		if err := c.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server shutdown: %w", err))
		}
		c.server = nil
		c.ln = nil
	}
	if err := c.releasePIDFile(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *Controller) releasePIDFile() error {
	if c.pidFile == nil {
		return nil
	}
	err := c.pidFile.Release()
	c.pidFile = nil
	return err
}

// Run starts the controller and blocks until ctx is done or the monitor
// gives up, then shuts down within StopTimeout.
func (c *Controller) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := c.Start(runCtx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		c.logger.Info("shutting down")
	case <-c.monitor.Done():
		c.logger.Warn("app monitor exited")
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), c.opts.StopTimeout)
	defer stop()
	if err := c.Shutdown(shutdownCtx); err != nil {
		return err
	}
	c.logger.Info("shutdown complete")
	return nil
}
