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
	"fmt"
	"log/slog"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/waydroid/appmonitor/internal/log"
	apperrors "github.com/waydroid/appmonitor/pkg/errors"
)

const (
	// ObjectPath is where every app endpoint exports its callbacks.
	ObjectPath = dbus.ObjectPath("/Monitor")

	// Interface is the D-Bus interface of an app endpoint.
	Interface = "id.waydro.AppMonitor"

	errServiceUnknown = "org.freedesktop.DBus.Error.ServiceUnknown"
	errNameHasNoOwner = "org.freedesktop.DBus.Error.NameHasNoOwner"
)

// Connector opens a new connection to the session bus.
type Connector func(ctx context.Context) (*dbus.Conn, error)

// ConnectSessionBus opens a private session bus connection.
func ConnectSessionBus(ctx context.Context) (*dbus.Conn, error) {
	return dbus.ConnectSessionBus(dbus.WithContext(ctx))
}

// DBusTransport publishes endpoints on the D-Bus session bus.
//
// Each claimed name gets a connection of its own so that releasing the
// claim, or the process exiting, drops the name without touching other
// claims. Outgoing calls share one connection.
type DBusTransport struct {
	connect Connector
	logger  *slog.Logger

	mu     sync.Mutex
	shared *dbus.Conn
}

// NewDBusTransport returns a transport that dials with connect. A nil
// connect uses ConnectSessionBus.
func NewDBusTransport(connect Connector, logger *slog.Logger) *DBusTransport {
	if connect == nil {
		connect = ConnectSessionBus
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &DBusTransport{
		connect: connect,
		logger:  log.WithComponent(logger, "relay.dbus"),
	}
}

func (t *DBusTransport) dial(ctx context.Context, target string) (*dbus.Conn, error) {
	conn, err := t.connect(ctx)
	if err != nil {
		return nil, &apperrors.TransportError{Transport: "session bus", Target: target, Cause: err}
	}
	return conn, nil
}

func (t *DBusTransport) sharedConn(ctx context.Context, target string) (*dbus.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.shared != nil && t.shared.Connected() {
		return t.shared, nil
	}
	conn, err := t.dial(ctx, target)
	if err != nil {
		return nil, err
	}
	t.shared = conn
	return conn, nil
}

// RequestName implements Transport. The endpoint object is exported before
// the name is requested so no call can arrive at a name without a handler.
func (t *DBusTransport) RequestName(ctx context.Context, name string, ep Endpoint) (Registration, error) {
	conn, err := t.dial(ctx, name)
	if err != nil {
		return nil, err
	}

	if err := conn.Export(&monitorObject{ep: ep}, ObjectPath, Interface); err != nil {
		conn.Close()
		return nil, apperrors.Wrapf(err, "export %s on %s", ObjectPath, name)
	}

	reply, err := conn.RequestName(name, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return nil, &apperrors.TransportError{Transport: "session bus", Target: name, Cause: err}
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return nil, ErrAlreadyClaimed
	}

	t.logger.Debug("claimed bus name", slog.String("name", name))
	return &dbusRegistration{conn: conn, name: name}, nil
}

// Call implements Transport.
func (t *DBusTransport) Call(ctx context.Context, name string, method Method) error {
	conn, err := t.sharedConn(ctx, name)
	if err != nil {
		return err
	}

	call := conn.Object(name, ObjectPath).CallWithContext(ctx, Interface+"."+string(method), 0)
	if call.Err != nil {
		switch dbusErrorName(call.Err) {
		case errServiceUnknown, errNameHasNoOwner:
			return ErrEndpointGone
		}
		return fmt.Errorf("%s.%s on %s: %w", Interface, method, name, call.Err)
	}
	return nil
}

// ListNames implements Transport.
func (t *DBusTransport) ListNames(ctx context.Context) ([]string, error) {
	conn, err := t.sharedConn(ctx, "org.freedesktop.DBus")
	if err != nil {
		return nil, err
	}

	var names []string
	if err := conn.BusObject().CallWithContext(ctx, "org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		return nil, fmt.Errorf("list bus names: %w", err)
	}
	return names, nil
}

// Close implements Transport. Outstanding registrations stay valid.
func (t *DBusTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.shared == nil {
		return nil
	}
	err := t.shared.Close()
	t.shared = nil
	return err
}

func dbusErrorName(err error) string {
	var derr dbus.Error
	if errors.As(err, &derr) {
		return derr.Name
	}
	var pderr *dbus.Error
	if errors.As(err, &pderr) {
		return pderr.Name
	}
	return ""
}

// monitorObject is exported at ObjectPath for a claimed name.
type monitorObject struct {
	ep Endpoint
}

func (m *monitorObject) OnOpen() *dbus.Error {
	m.ep.OnOpen()
	return nil
}

func (m *monitorObject) OnClose() *dbus.Error {
	m.ep.OnClose()
	return nil
}

type dbusRegistration struct {
	once sync.Once
	conn *dbus.Conn
	name string
	err  error
}

func (r *dbusRegistration) Release() error {
	r.once.Do(func() {
		if _, err := r.conn.ReleaseName(r.name); err != nil {
			r.err = err
		}
		if err := r.conn.Close(); err != nil && r.err == nil {
			r.err = err
		}
	})
	return r.err
}
