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

package container

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/waydroid/appmonitor/internal/log"
	apperrors "github.com/waydroid/appmonitor/pkg/errors"
)

const (
	// ManagerBusName is the container manager's name on the system bus.
	ManagerBusName = "id.waydro.Container"
	// ManagerPath is the container manager's object path.
	ManagerPath = dbus.ObjectPath("/ContainerManager")
	// ManagerInterface is the container manager's interface.
	ManagerInterface = "id.waydro.ContainerManager"

	// SessionBusName is owned by a running Waydroid user session.
	SessionBusName = "id.waydro.Session"
)

// Dial opens a bus connection.
type Dial func(ctx context.Context) (*dbus.Conn, error)

// ConnectSystemBus opens a private system bus connection.
func ConnectSystemBus(ctx context.Context) (*dbus.Conn, error) {
	return dbus.ConnectSystemBus(dbus.WithContext(ctx))
}

// ConnectSessionBus opens a private session bus connection.
func ConnectSessionBus(ctx context.Context) (*dbus.Conn, error) {
	return dbus.ConnectSessionBus(dbus.WithContext(ctx))
}

// DBusManager is a Manager backed by the container manager service.
type DBusManager struct {
	dial    Dial
	timeout time.Duration
	logger  *slog.Logger

	mu   sync.Mutex
	conn *dbus.Conn
}

// NewDBusManager returns a manager that connects lazily with dial. A nil
// dial uses ConnectSystemBus. timeout bounds each call.
func NewDBusManager(dial Dial, timeout time.Duration, logger *slog.Logger) *DBusManager {
	if dial == nil {
		dial = ConnectSystemBus
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &DBusManager{
		dial:    dial,
		timeout: timeout,
		logger:  log.WithComponent(logger, "container"),
	}
}

// GetSession implements Manager.
func (m *DBusManager) GetSession(ctx context.Context) (Session, error) {
	var session map[string]string
	if err := m.call(ctx, "GetSession", &session); err != nil {
		return nil, err
	}
	return Session(session), nil
}

// Freeze implements Manager.
func (m *DBusManager) Freeze(ctx context.Context) error {
	return m.call(ctx, "Freeze")
}

// Unfreeze implements Manager.
func (m *DBusManager) Unfreeze(ctx context.Context) error {
	return m.call(ctx, "Unfreeze")
}

// Close drops the bus connection, if one was made.
func (m *DBusManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return nil
	}
	err := m.conn.Close()
	m.conn = nil
	return err
}

func (m *DBusManager) connection(ctx context.Context) (*dbus.Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil && m.conn.Connected() {
		return m.conn, nil
	}
	conn, err := m.dial(ctx)
	if err != nil {
		return nil, &apperrors.TransportError{Transport: "system bus", Target: ManagerBusName, Cause: err}
	}
	m.conn = conn
	return conn, nil
}

func (m *DBusManager) call(ctx context.Context, method string, out ...interface{}) error {
	conn, err := m.connection(ctx)
	if err != nil {
		return err
	}

	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	log.Trace(m.logger, "container manager call", slog.String("method", method))
	obj := conn.Object(ManagerBusName, ManagerPath)
	call := obj.CallWithContext(ctx, ManagerInterface+"."+method, 0)
	if call.Err != nil {
		return fmt.Errorf("%s.%s: %w", ManagerInterface, method, call.Err)
	}
	if len(out) == 0 {
		return nil
	}
	if err := call.Store(out...); err != nil {
		return fmt.Errorf("%s.%s: %w", ManagerInterface, method, err)
	}
	return nil
}

var _ Manager = (*DBusManager)(nil)

// SessionProbe checks that the Waydroid session owns its name on the
// session bus.
type SessionProbe struct {
	dial Dial
}

// NewSessionProbe returns a probe dialing with dial. A nil dial uses
// ConnectSessionBus.
func NewSessionProbe(dial Dial) *SessionProbe {
	if dial == nil {
		dial = ConnectSessionBus
	}
	return &SessionProbe{dial: dial}
}

// Probe returns a *TransportError when the session bus cannot be reached
// or when nothing owns SessionBusName.
func (p *SessionProbe) Probe(ctx context.Context) error {
	conn, err := p.dial(ctx)
	if err != nil {
		return &apperrors.TransportError{Transport: "session bus", Target: SessionBusName, Cause: err}
	}
	defer conn.Close()

	var owned bool
	if err := conn.BusObject().CallWithContext(ctx, "org.freedesktop.DBus.NameHasOwner", 0, SessionBusName).Store(&owned); err != nil {
		return &apperrors.TransportError{Transport: "session bus", Target: SessionBusName, Cause: err}
	}
	if !owned {
		return &apperrors.TransportError{Transport: "session bus", Target: SessionBusName, Cause: ErrNoSession}
	}
	return nil
}

var _ Prober = (*SessionProbe)(nil)
