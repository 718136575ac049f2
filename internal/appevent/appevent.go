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

// Package appevent defines the app lifecycle notifications that travel from
// the container's binder service to host-side launch sessions.
package appevent

import "fmt"

// Kind is the lifecycle transition an event reports.
type Kind int

const (
	// Unknown marks a transaction code the monitor does not understand.
	Unknown Kind = iota
	// Open reports that an app's first activity became visible.
	Open
	// Close reports that an app's task went away.
	Close
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case Open:
		return "open"
	case Close:
		return "close"
	default:
		return "unknown"
	}
}

// Event is one decoded lifecycle notification. Values are immutable once
// built by the decoder.
type Event struct {
	Kind        Kind
	PackageName string

	// Code is the raw transaction code, kept for Unknown events.
	Code uint32
}

// NewOpen builds an Open event for pkg.
func NewOpen(pkg string) Event {
	return Event{Kind: Open, PackageName: pkg, Code: 1}
}

// NewClose builds a Close event for pkg.
func NewClose(pkg string) Event {
	return Event{Kind: Close, PackageName: pkg, Code: 2}
}

func (e Event) String() string {
	if e.Kind == Unknown {
		return fmt.Sprintf("unknown(code=%d)", e.Code)
	}
	return fmt.Sprintf("%s(%s)", e.Kind, e.PackageName)
}
