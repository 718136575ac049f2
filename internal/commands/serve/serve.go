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
// Package serve implements the serve and stop commands that run the app
// monitor as a long-lived process.
package serve

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/waydroid/appmonitor/internal/commands/shared"
	"github.com/waydroid/appmonitor/internal/config"
	"github.com/waydroid/appmonitor/internal/controller"
	"github.com/waydroid/appmonitor/internal/log"
)

// newController builds the controller for a serve invocation. Tests swap it.
var newController = func(cfg *config.Config, logger *slog.Logger) (runner, func() error) {
	comps := controller.NewComponents(cfg, logger)
	mon := comps.Monitor()
	orch := comps.Orchestrator(mon)
	v, _, _ := shared.GetVersion()
	ctrl := controller.New(mon, orch, controller.Options{
		Version:     v,
		PIDFile:     cfg.Serve.PIDFile,
		MetricsAddr: cfg.Metrics.Addr,
		StopTimeout: cfg.Serve.StopTimeout,
		Logger:      logger,
	})
	return ctrl, comps.Close
}

type runner interface {
	Run(ctx context.Context) error
}

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	var (
		metricsAddr string
		pidFile     string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the app monitor",
		Long: `Register the app monitor service with the container's vendor service
manager and relay app open and close events to waiting launches.

The monitor re-registers whenever the service manager restarts. On SIGINT
or SIGTERM every waiting launch is told that its app closed.`,
		Example: `  # Run in the foreground with metrics
  waydroid-appmonitor serve --metrics-addr 127.0.0.1:9464`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := shared.LoadConfig()
			if err != nil {
				return err
			}
			if metricsAddr != "" {
				cfg.Metrics.Addr = metricsAddr
			}
			if pidFile != "" {
				cfg.Serve.PIDFile = pidFile
			}
			return runServe(cmd, cfg)
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	cmd.Flags().StringVar(&pidFile, "pid-file", "", "PID file location (default from config)")

	return cmd
}

func runServe(cmd *cobra.Command, cfg *config.Config) error {
	logger := shared.NewLogger(cfg, cmd.ErrOrStderr())

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := shared.StartTracing(ctx, cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Debug("trace flush failed", log.Error(err))
		}
	}()

	ctrl, closeComponents := newController(cfg, logger)
	defer func() {
		if err := closeComponents(); err != nil {
			logger.Debug("failed to close bus connections", log.Error(err))
		}
	}()

	return ctrl.Run(ctx)
}
