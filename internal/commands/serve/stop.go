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
package serve

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/waydroid/appmonitor/internal/commands/shared"
	"github.com/waydroid/appmonitor/internal/lifecycle"
)

// NewStopCommand creates the stop command.
func NewStopCommand() *cobra.Command {
	var (
		timeout time.Duration
		pidFile string
	)

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a running app monitor",
		Long: `Stop the app monitor started with serve.

Sends SIGTERM and waits for the monitor to close every waiting launch and
exit. Stopping a monitor that is not running succeeds.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := shared.LoadConfig()
			if err != nil {
				return err
			}
			if pidFile == "" {
				pidFile = cfg.Serve.PIDFile
			}
			if !cmd.Flags().Changed("timeout") {
				timeout = cfg.Serve.StopTimeout
			}
			return runStop(cmd, pidFile, timeout)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "How long to wait for the monitor to exit")
	cmd.Flags().StringVar(&pidFile, "pid-file", "", "PID file location (default from config)")

	return cmd
}

func runStop(cmd *cobra.Command, path string, timeout time.Duration) error {
	pid, err := lifecycle.NewPIDFile(path).Read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cmd.Println("App monitor is not running")
			return nil
		}
		return err
	}

	if err := lifecycle.Terminate(pid, timeout); err != nil {
		if errors.Is(err, lifecycle.ErrProcessNotRunning) {
			cmd.Printf("App monitor process %d is not running (stale PID file)\n", pid)
			return nil
		}
		return fmt.Errorf("failed to stop app monitor: %w", err)
	}

	cmd.Printf("App monitor (PID %d) stopped\n", pid)
	return nil
}
