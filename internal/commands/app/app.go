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
// Package app implements the launch commands: app launch, app intent and
// show-full-ui.
package app

import (
	"context"
	"io"
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

// Launcher runs launches. *orchestrator.Orchestrator implements it.
type Launcher interface {
	LaunchApp(ctx context.Context, pkg string) error
	LaunchIntent(ctx context.Context, action, uri string) error
	ShowFullUI(ctx context.Context) error
}

// newLauncher builds the launcher for one command invocation. Tests swap it.
var newLauncher = func(cfg *config.Config, logger *slog.Logger) (Launcher, io.Closer) {
	comps := controller.NewComponents(cfg, logger)
	return comps.LaunchOrchestrator(), comps
}

// NewCommand creates the app command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "app",
		Short: "Launch Android apps",
		Long: `Commands for launching Android apps inside the WayDroid container.

A launch waits until the app has closed again. If no session is running,
one is started in the background first.`,
	}

	cmd.AddCommand(newLaunchCommand())
	cmd.AddCommand(newIntentCommand())

	return cmd
}

func newLaunchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "launch PACKAGE",
		Short: "Start an app and wait until it closes",
		Long: `Start an Android app by package name.

The command blocks until the app reports that it closed. Launching an app
that is already being waited on by another command does nothing.`,
		Example: `  # Launch the settings app
  waydroid-appmonitor app launch com.android.settings`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLauncher(cmd, func(ctx context.Context, l Launcher) error {
				return l.LaunchApp(ctx, args[0])
			})
		},
	}
}

func newIntentCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "intent ACTION URI",
		Short: "Open a URI with an intent action",
		Long: `Send an intent to the container and return once it was delivered.

The app handling the intent is not known in advance, so the command does
not wait for it to close.`,
		Example: `  # Open a web page
  waydroid-appmonitor app intent android.intent.action.VIEW https://waydro.id`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLauncher(cmd, func(ctx context.Context, l Launcher) error {
				return l.LaunchIntent(ctx, args[0], args[1])
			})
		},
	}
}

// NewShowFullUICommand creates the show-full-ui command.
func NewShowFullUICommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show-full-ui",
		Short: "Show the complete Android UI",
		Long: `Show the full Android home screen in a window of its own and wait
until it is closed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLauncher(cmd, func(ctx context.Context, l Launcher) error {
				return l.ShowFullUI(ctx)
			})
		},
	}
}

// withLauncher loads configuration, sets up logging and tracing and runs fn
// until it returns or the process is interrupted.
func withLauncher(cmd *cobra.Command, fn func(ctx context.Context, l Launcher) error) error {
	cfg, err := shared.LoadConfig()
	if err != nil {
		return err
	}
	logger := shared.NewLogger(cfg, cmd.ErrOrStderr())

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
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

	launcher, closer := newLauncher(cfg, logger)
	defer closer.Close()

	return fn(ctx, launcher)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
