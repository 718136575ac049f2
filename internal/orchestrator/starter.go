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

package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/waydroid/appmonitor/internal/container"
	"github.com/waydroid/appmonitor/internal/log"
	apperrors "github.com/waydroid/appmonitor/pkg/errors"
)

// DetachedSpawner starts a program in a session of its own.
// *lifecycle.Spawner implements it.
type DetachedSpawner interface {
	SpawnDetached(binary string, args []string) (int, error)
}

// SessionHost serves app events for a session this process started.
// *monitor.Monitor implements it.
type SessionHost interface {
	Start(ctx context.Context)
	Done() <-chan struct{}
}

// CommandSessionStarter starts a session by running an external command
// and waits for the session to show up on the bus. With a Host it serves
// app events until the session is gone.
type CommandSessionStarter struct {
	Spawner DetachedSpawner
	Command []string
	Probe   container.Prober
	Host    SessionHost

	// Interval is the pause between probes; Timeout bounds the wait.
	Interval time.Duration
	Timeout  time.Duration

	Clock  clockwork.Clock
	Logger *slog.Logger
}

// StartSession implements SessionStarter.
func (s *CommandSessionStarter) StartSession(ctx context.Context, action Action) error {
	clock := s.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger := s.Logger
	if logger == nil {
		logger = log.Discard()
	}

	pid, err := s.Spawner.SpawnDetached(s.Command[0], s.Command[1:])
	if err != nil {
		return &apperrors.SessionError{Cause: err}
	}
	logger.Debug("session command started", slog.Int("pid", pid))

	deadline := clock.Now().Add(s.Timeout)
	for {
		err := s.Probe.Probe(ctx)
		if err == nil {
			break
		}
		if !clock.Now().Before(deadline) {
			return &apperrors.TimeoutError{Operation: "session start", Duration: s.Timeout, Cause: err}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clock.After(s.Interval):
		}
	}

	if s.Host != nil {
		s.Host.Start(ctx)
		logger.Info("serving app events for the new session")
	}

	if action != nil {
		if err := action(ctx); err != nil {
			return err
		}
	}
	if s.Host == nil {
		return nil
	}
	return s.hold(ctx, clock, logger)
}

// hold blocks while the session is up and the host is serving.
func (s *CommandSessionStarter) hold(ctx context.Context, clock clockwork.Clock, logger *slog.Logger) error {
	interval := s.Interval
	if interval <= 0 {
		interval = time.Second
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.Host.Done():
			logger.Warn("app monitor exited before the session")
			return nil
		case <-clock.After(interval):
			if err := s.Probe.Probe(ctx); err != nil {
				logger.Info("waydroid session ended", log.Error(err))
				return nil
			}
		}
	}
}
