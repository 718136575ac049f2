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
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"
)

// skipOnSpawnError skips when the sandbox forbids fork/exec.
func skipOnSpawnError(t *testing.T, err error) {
	t.Helper()
	if err != nil && strings.Contains(err.Error(), "operation not permitted") {
		t.Skipf("Skipping: spawn not permitted in this environment: %v", err)
	}
}

// waitForFile polls until path contains want.
func waitForFile(t *testing.T, path, want string) string {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		content, _ := os.ReadFile(path)
		if strings.Contains(string(content), want) || time.Now().After(deadline) {
			return string(content)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestSpawner_Reexec(t *testing.T) {
	if os.Getenv("SKIP_SPAWN_TESTS") != "" {
		t.Skip("Skipping spawn tests (SKIP_SPAWN_TESTS is set)")
	}
	tmpDir := t.TempDir()

	t.Run("sets the guard and keeps arguments", func(t *testing.T) {
		logPath := filepath.Join(tmpDir, "nested", "session.log")
		s := NewSpawner(Guard("TEST_APPMONITOR_GUARD"), logPath)
		s.Env = []string{"PATH=" + os.Getenv("PATH"), "TEST_APPMONITOR_GUARD=0"}
		s.Executable = "/bin/sh"
		s.Args = []string{"waydroid-appmonitor", "-c", `echo "guard=$TEST_APPMONITOR_GUARD args=$0"`, "app"}

		pid, err := s.Reexec()
		skipOnSpawnError(t, err)
		if err != nil {
			t.Fatalf("Reexec() error = %v", err)
		}
		defer syscall.Kill(pid, syscall.SIGKILL)

		content := waitForFile(t, logPath, "guard=")
		if !strings.Contains(content, "guard=1 args=app") {
			t.Errorf("unexpected child output %q", content)
		}

		info, err := os.Stat(filepath.Dir(logPath))
		if err != nil {
			t.Fatalf("log directory not created: %v", err)
		}
		if mode := info.Mode() & os.ModePerm; mode != 0700 {
			t.Errorf("log directory mode = %04o, want 0700", mode)
		}
	})

	t.Run("child runs in its own session", func(t *testing.T) {
		s := NewSpawner(Guard("TEST_APPMONITOR_GUARD"), "")
		pid, err := s.SpawnDetached("sleep", []string{"2"})
		skipOnSpawnError(t, err)
		if err != nil {
			t.Fatalf("SpawnDetached() error = %v", err)
		}
		defer syscall.Kill(pid, syscall.SIGKILL)

		pgid, err := syscall.Getpgid(pid)
		if err != nil {
			t.Fatalf("Getpgid() error = %v", err)
		}
		if pgid != pid {
			t.Errorf("child process group = %d, want %d", pgid, pid)
		}
	})

	t.Run("appends to existing log file", func(t *testing.T) {
		logPath := filepath.Join(tmpDir, "append.log")
		if err := os.WriteFile(logPath, []byte("initial\n"), 0600); err != nil {
			t.Fatalf("Failed to create initial log: %v", err)
		}

		s := NewSpawner(Guard("TEST_APPMONITOR_GUARD"), logPath)
		pid, err := s.SpawnDetached("echo", []string{"appended"})
		skipOnSpawnError(t, err)
		if err != nil {
			t.Fatalf("SpawnDetached() error = %v", err)
		}
		defer syscall.Kill(pid, syscall.SIGKILL)

		content := waitForFile(t, logPath, "appended")
		if !strings.Contains(content, "initial") || !strings.Contains(content, "appended") {
			t.Errorf("log content = %q, want initial and appended lines", content)
		}
	})
}

func TestSpawner_NoArgs(t *testing.T) {
	s := &Spawner{}
	if _, err := s.Reexec(); err == nil {
		t.Error("Reexec() with no arguments should fail")
	}
}

func TestGuard(t *testing.T) {
	g := Guard("TEST_APPMONITOR_GUARD")

	t.Setenv(string(g), "")
	if g.Set() {
		t.Error("Set() = true for empty value")
	}
	t.Setenv(string(g), "1")
	if !g.Set() {
		t.Error("Set() = false for value 1")
	}

	env := g.Environ([]string{"HOME=/home/u", "TEST_APPMONITOR_GUARD=0", "TEST_APPMONITOR_GUARD_X=2"})
	want := []string{"HOME=/home/u", "TEST_APPMONITOR_GUARD_X=2", "TEST_APPMONITOR_GUARD=1"}
	if strings.Join(env, ",") != strings.Join(want, ",") {
		t.Errorf("Environ() = %v, want %v", env, want)
	}
}
