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
	"sort"
	"sync"
)

// MemoryTransport is an in-process Transport. Every Relay sharing one
// MemoryTransport sees the same names, the way processes share a session
// bus.
type MemoryTransport struct {
	mu     sync.Mutex
	owners map[string]Endpoint
}

// NewMemoryTransport returns an empty in-process bus.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{owners: make(map[string]Endpoint)}
}

// RequestName implements Transport.
func (m *MemoryTransport) RequestName(ctx context.Context, name string, ep Endpoint) (Registration, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.owners[name]; taken {
		return nil, ErrAlreadyClaimed
	}
	m.owners[name] = ep
	return &memoryRegistration{bus: m, name: name, ep: ep}, nil
}

// Call implements Transport. The endpoint runs on the caller's goroutine.
func (m *MemoryTransport) Call(ctx context.Context, name string, method Method) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	ep, ok := m.owners[name]
	m.mu.Unlock()
	if !ok {
		return ErrEndpointGone
	}

	switch method {
	case MethodOnOpen:
		ep.OnOpen()
	case MethodOnClose:
		ep.OnClose()
	}
	return nil
}

// ListNames implements Transport.
func (m *MemoryTransport) ListNames(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.owners))
	for name := range m.owners {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Close implements Transport.
func (m *MemoryTransport) Close() error { return nil }

type memoryRegistration struct {
	bus  *MemoryTransport
	name string
	ep   Endpoint
}

func (r *memoryRegistration) Release() error {
	r.bus.mu.Lock()
	defer r.bus.mu.Unlock()
	if r.bus.owners[r.name] == r.ep {
		delete(r.bus.owners, r.name)
	}
	return nil
}
