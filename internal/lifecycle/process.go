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

package lifecycle

import (
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"
)

var (
	// ErrProcessNotRunning is returned when the process does not exist.
	ErrProcessNotRunning = errors.New("process not running")

	// ErrNotMonitorProcess is returned when a PID belongs to some other
	// program.
	ErrNotMonitorProcess = errors.New("process is not an app monitor")

	// ErrShutdownTimeout is returned when the process doesn't exit within the timeout.
	ErrShutdownTimeout = errors.New("shutdown timeout exceeded")
)

// ProgramName appears in the command line of every monitor process.
const ProgramName = "waydroid-appmonitor"

// IsProcessRunning checks if a process with the given PID exists.
func IsProcessRunning(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 only checks for existence.
	return proc.Signal(syscall.Signal(0)) == nil
}

// IsMonitorProcess reports whether pid runs this program, so a stale PID
// file never gets an unrelated process signalled.
func IsMonitorProcess(pid int) bool {
	return isMonitorProcess(pid)
}

// Terminate sends SIGTERM to a monitor and waits up to timeout for it to
// exit.
func Terminate(pid int, timeout time.Duration) error {
	if !IsProcessRunning(pid) {
		return ErrProcessNotRunning
	}
	if !IsMonitorProcess(pid) {
		return fmt.Errorf("%w: pid %d", ErrNotMonitorProcess, pid)
	}
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to send SIGTERM to process %d: %w", pid, err)
	}
	return WaitForExit(pid, timeout)
}

// WaitForExit polls until the process is gone. It returns
// ErrShutdownTimeout if the process is still running after timeout.
func WaitForExit(pid int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !IsProcessRunning(pid) {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return ErrShutdownTimeout
}
