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

package monitor

import (
	"context"
	"log/slog"
	"sync"

	"github.com/waydroid/appmonitor/internal/log"
	"github.com/waydroid/appmonitor/internal/relay"
)

// Monitor is the session-side half of the bridge: the registered binder
// service plus the relay it forwards into.
type Monitor struct {
	relay  *relay.Relay
	dial   Dialer
	opts   RegistrarOptions
	logger *slog.Logger

	mu     sync.Mutex
	handle *Handle
}

// Options configures a Monitor.
type Options struct {
	RegistrarOptions
}

// New wires a service forwarding into r and a registrar publishing it.
func New(r *relay.Relay, dial Dialer, opts Options) *Monitor {
	logger := opts.Logger
	if logger == nil {
		logger = log.Discard()
	}
	return &Monitor{
		relay:  r,
		dial:   dial,
		opts:   RegistrarOptions{RetryInterval: opts.RetryInterval, Logger: logger},
		logger: log.WithComponent(logger, "monitor"),
	}
}

// Start begins serving. Calling it twice is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handle != nil {
		return
	}
	svc := NewService(ctx, m.relay, m.opts.Logger)
	m.handle = NewRegistrar(m.dial, svc, m.opts).Start(ctx)
	m.logger.Info("app monitor started")
}

// Stop stops re-registering and waits for the registrar to finish.
// Telling waiting launches that their apps closed is left to the relay's
// BroadcastClose.
func (m *Monitor) Stop(ctx context.Context) {
	m.mu.Lock()
	h := m.handle
	m.handle = nil
	m.mu.Unlock()

	if h == nil {
		return
	}
	h.Stop()
	select {
	case <-h.Done():
	case <-ctx.Done():
	}
	m.logger.Info("app monitor stopped")
}

// Done is closed when the monitor has stopped. It is nil before Start.
func (m *Monitor) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handle == nil {
		return nil
	}
	return m.handle.Done()
}
