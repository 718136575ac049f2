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

package relay

import (
	"context"
	"errors"
)

var (
	// ErrAlreadyClaimed is returned when another process owns the endpoint.
	ErrAlreadyClaimed = errors.New("relay: endpoint already claimed")

	// ErrEndpointGone is returned when a call targets a name nobody owns.
	ErrEndpointGone = errors.New("relay: endpoint not claimed")
)

// Method is a lifecycle callback exposed by a claimed endpoint.
type Method string

const (
	MethodOnOpen  Method = "OnOpen"
	MethodOnClose Method = "OnClose"
)

// Endpoint receives the callbacks delivered to a claimed name.
type Endpoint interface {
	OnOpen()
	OnClose()
}

// Registration is ownership of one name on a transport.
type Registration interface {
	// Release gives the name up. It is safe to call more than once.
	Release() error
}

// Transport is the message bus the relay publishes endpoints on.
type Transport interface {
	// RequestName claims name for ep without queueing. It returns
	// ErrAlreadyClaimed when the name has an owner.
	RequestName(ctx context.Context, name string, ep Endpoint) (Registration, error)

	// Call invokes method on the owner of name and waits for it to return.
	// It returns ErrEndpointGone when name has no owner.
	Call(ctx context.Context, name string, method Method) error

	// ListNames returns every name currently owned on the bus.
	ListNames(ctx context.Context) ([]string, error)

	Close() error
}
