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
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// SessionState tracks one launch from the waiting side.
type SessionState int32

const (
	Waiting SessionState = iota
	Opened
	TimedOut
	Closed
)

func (s SessionState) String() string {
	switch s {
	case Waiting:
		return "waiting"
	case Opened:
		return "opened"
	case TimedOut:
		return "timed_out"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// LaunchSession is one wait for an app to open. Only the holder of the
// package's endpoint claim creates one.
type LaunchSession struct {
	ID          uuid.UUID
	PackageName string
	Deadline    time.Duration
	Started     time.Time

	state atomic.Int32
}

func newLaunchSession(pkg string, deadline time.Duration, now time.Time) *LaunchSession {
	return &LaunchSession{
		ID:          uuid.New(),
		PackageName: pkg,
		Deadline:    deadline,
		Started:     now,
	}
}

// State returns the current state.
func (s *LaunchSession) State() SessionState {
	return SessionState(s.state.Load())
}

func (s *LaunchSession) set(st SessionState) {
	s.state.Store(int32(st))
}
