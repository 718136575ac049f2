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

// Package container talks to the host-side Waydroid services: the
// container manager on the system bus and the user session on the session
// bus.
package container

import (
	"context"
	"errors"
)

// State is the container session state reported by the container manager.
type State string

const (
	StateRunning State = "RUNNING"
	StateFrozen  State = "FROZEN"
	StateStopped State = "STOPPED"
)

// ErrNoSession is returned by a probe when the session bus is up but no
// Waydroid session owns its name.
var ErrNoSession = errors.New("no waydroid session on the bus")

// Session is the property map GetSession returns, e.g. state, user_name,
// user_id and wayland_display.
type Session map[string]string

// State returns the session state. A map without one means there is no
// session.
func (s Session) State() State {
	if v, ok := s["state"]; ok && v != "" {
		return State(v)
	}
	return StateStopped
}

// Manager reads and transitions the container session.
type Manager interface {
	GetSession(ctx context.Context) (Session, error)
	Freeze(ctx context.Context) error
	Unfreeze(ctx context.Context) error
}

// Prober reports whether a Waydroid session is reachable at all.
type Prober interface {
	Probe(ctx context.Context) error
}
