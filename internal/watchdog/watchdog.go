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

// Package watchdog bounds how long a launch waits for its app to open.
package watchdog

import (
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// State is the lifecycle of a watchdog. A watchdog leaves Armed exactly once.
type State int32

const (
	Armed State = iota
	Cancelled
	Expired
)

func (s State) String() string {
	switch s {
	case Armed:
		return "armed"
	case Cancelled:
		return "cancelled"
	case Expired:
		return "expired"
	default:
		return "invalid"
	}
}

// Watchdog fires a timeout callback unless cancelled before its deadline.
type Watchdog struct {
	state     atomic.Int32
	deadline  time.Duration
	timer     clockwork.Timer
	expired   chan struct{}
	onTimeout func()
}

// Start arms a watchdog that calls onTimeout once deadline has elapsed on
// clock. onTimeout may be nil when the caller only watches Expired.
func Start(clock clockwork.Clock, deadline time.Duration, onTimeout func()) *Watchdog {
	w := &Watchdog{
		deadline:  deadline,
		expired:   make(chan struct{}),
		onTimeout: onTimeout,
	}
	w.timer = clock.AfterFunc(deadline, w.fire)
	return w
}

func (w *Watchdog) fire() {
	if !w.state.CompareAndSwap(int32(Armed), int32(Expired)) {
		return
	}
	close(w.expired)
	if w.onTimeout != nil {
		w.onTimeout()
	}
}

// Cancel disarms the watchdog. It returns true if this call prevented the
// timeout; false if the watchdog had already expired or been cancelled.
func (w *Watchdog) Cancel() bool {
	if !w.state.CompareAndSwap(int32(Armed), int32(Cancelled)) {
		return false
	}
	w.timer.Stop()
	return true
}

// State returns the current state.
func (w *Watchdog) State() State {
	return State(w.state.Load())
}

// Deadline returns the duration the watchdog was armed with.
func (w *Watchdog) Deadline() time.Duration {
	return w.deadline
}

// Expired returns a channel closed when the deadline passes uncancelled.
func (w *Watchdog) Expired() <-chan struct{} {
	return w.expired
}
