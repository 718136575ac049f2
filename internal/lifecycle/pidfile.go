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
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

var (
	// ErrAlreadyRunning is returned by Acquire when a live monitor holds
	// the PID file.
	ErrAlreadyRunning = errors.New("monitor already running")

	// ErrInvalidPID is returned when the PID file contains invalid data.
	ErrInvalidPID = errors.New("invalid PID in file")

	// ErrUnsafeDirectory is returned when the PID file parent is world-writable.
	ErrUnsafeDirectory = errors.New("PID file directory is world-writable")
)

// PIDFile records the running monitor. The holder keeps an exclusive flock
// on it, so a file left behind by a crashed monitor is recognised as stale.
type PIDFile struct {
	path string
	lock *os.File
}

// NewPIDFile returns a PID file at path.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path}
}

// Path returns the file location.
func (p *PIDFile) Path() string { return p.path }

// Acquire writes pid and takes the lock. A file whose lock is free is
// stale and gets replaced; a held lock yields ErrAlreadyRunning.
func (p *PIDFile) Acquire(pid int) error {
	dir := filepath.Dir(p.path)
	if info, err := os.Stat(dir); err == nil && info.Mode()&0002 != 0 {
		return fmt.Errorf("%w: %s has mode %04o", ErrUnsafeDirectory, dir, info.Mode()&os.ModePerm)
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create PID file directory: %w", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(p.path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
		if os.IsExist(err) {
			if err := p.clearStale(); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to create PID file: %w", err)
		}

		if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
			f.Close()
			os.Remove(p.path)
			if errors.Is(err, syscall.EWOULDBLOCK) {
				return ErrAlreadyRunning
			}
			return fmt.Errorf("failed to lock PID file: %w", err)
		}
		if _, err := fmt.Fprintf(f, "%d\n", pid); err != nil {
			p.abandon(f)
			return fmt.Errorf("failed to write PID: %w", err)
		}
		if err := f.Sync(); err != nil {
			p.abandon(f)
			return fmt.Errorf("failed to sync PID file: %w", err)
		}
		p.lock = f
		return nil
	}
	return ErrAlreadyRunning
}

// clearStale removes an existing file nobody holds a lock on.
func (p *PIDFile) clearStale() error {
	f, err := os.OpenFile(p.path, os.O_RDWR, 0)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open PID file: %w", err)
	}
	defer f.Close()

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return ErrAlreadyRunning
		}
		return fmt.Errorf("failed to lock PID file: %w", err)
	}
	defer syscall.Flock(int(f.Fd()), syscall.LOCK_UN)

	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stale PID file: %w", err)
	}
	return nil
}

func (p *PIDFile) abandon(f *os.File) {
	syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	f.Close()
	os.Remove(p.path)
}

// Read returns the recorded PID.
func (p *PIDFile) Read() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, err
		}
		return 0, fmt.Errorf("failed to read PID file: %w", err)
	}

	s := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrInvalidPID, s)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("%w: PID must be positive, got %d", ErrInvalidPID, pid)
	}
	return pid, nil
}

// Release removes the file and drops the lock. It is a no-op unless
// Acquire succeeded.
func (p *PIDFile) Release() error {
	if p.lock == nil {
		return nil
	}
	err := os.Remove(p.path)
	syscall.Flock(int(p.lock.Fd()), syscall.LOCK_UN)
	p.lock.Close()
	p.lock = nil
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}
