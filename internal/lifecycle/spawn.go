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
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
)

// Spawner starts detached copies of the current process.
type Spawner struct {
	// Env is the base environment of spawned processes.
	Env []string

	// Guard is set in the environment of re-executed children.
	Guard Guard

	// LogPath receives the child's stdout and stderr. Empty discards them.
	LogPath string

	// Args is the command line to re-execute, os.Args by default.
	Args []string

	// Executable overrides the program Reexec starts. Empty means the
	// running binary.
	Executable string
}

// NewSpawner returns a spawner re-executing this process with guard set.
func NewSpawner(guard Guard, logPath string) *Spawner {
	return &Spawner{
		Env:     os.Environ(),
		Guard:   guard,
		LogPath: logPath,
		Args:    os.Args,
	}
}

// Reexec starts this program again with the same arguments and the guard
// set. It returns the child's PID without waiting for it.
func (s *Spawner) Reexec() (int, error) {
	if len(s.Args) == 0 {
		return 0, fmt.Errorf("nothing to re-execute")
	}
	binary := s.Executable
	if binary == "" {
		exe, err := os.Executable()
		if err != nil {
			exe = s.Args[0]
		}
		binary = exe
	}
	return s.spawn(binary, s.Args[1:], s.Guard.Environ(s.Env))
}

// SpawnDetached starts binary in a session of its own with stdin closed
// and output sent to LogPath.
func (s *Spawner) SpawnDetached(binary string, args []string) (int, error) {
	return s.spawn(binary, args, s.Env)
}

func (s *Spawner) spawn(binary string, args, env []string) (int, error) {
	out, err := s.openLog()
	if err != nil {
		return 0, err
	}
	defer out.Close()

	cmd := exec.Command(binary, args...)
	cmd.Env = env
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.Stdin = nil
	// A new session is also a new process group; asking for Setpgid on
	// top of it fails with EPERM.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start process: %w", err)
	}

	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		return pid, fmt.Errorf("process started but failed to release: %w", err)
	}
	return pid, nil
}

func (s *Spawner) openLog() (*os.File, error) {
	if s.LogPath == "" {
		return os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	}
	if err := os.MkdirAll(filepath.Dir(s.LogPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(s.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}
