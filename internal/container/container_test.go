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
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/waydroid/appmonitor/pkg/errors"
)

func TestSession_State(t *testing.T) {
	tests := []struct {
		name    string
		session Session
		want    State
	}{
		{"running", Session{"state": "RUNNING", "user_name": "alice"}, StateRunning},
		{"frozen", Session{"state": "FROZEN"}, StateFrozen},
		{"empty map", Session{}, StateStopped},
		{"nil", nil, StateStopped},
		{"blank state", Session{"state": ""}, StateStopped},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.session.State())
		})
	}
}

func failingDial(ctx context.Context) (*dbus.Conn, error) {
	return nil, errors.New("dial unix /run/dbus/system_bus_socket: connect: no such file or directory")
}

func TestDBusManager_Unreachable(t *testing.T) {
	m := NewDBusManager(failingDial, time.Second, nil)

	_, err := m.GetSession(context.Background())
	var te *apperrors.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "system bus", te.Transport)
	assert.Equal(t, ManagerBusName, te.Target)

	assert.ErrorAs(t, m.Freeze(context.Background()), &te)
	assert.ErrorAs(t, m.Unfreeze(context.Background()), &te)
	assert.NoError(t, m.Close())
}

func TestSessionProbe_Unreachable(t *testing.T) {
	err := NewSessionProbe(failingDial).Probe(context.Background())
	var te *apperrors.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "session bus", te.Transport)
}

type stubManager struct {
	mu     sync.Mutex
	state  string
	frozen int
}

func (s *stubManager) GetSession() (map[string]string, *dbus.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]string{"state": s.state, "user_name": "alice"}, nil
}

func (s *stubManager) Freeze() *dbus.Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frozen++
	s.state = string(StateFrozen)
	return nil
}

func (s *stubManager) Unfreeze() *dbus.Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = string(StateRunning)
	return nil
}

// Exercises the client against a stub exported on the session bus.
func TestDBusManager_SessionBus(t *testing.T) {
	if os.Getenv("DBUS_SESSION_BUS_ADDRESS") == "" {
		t.Skip("no session bus")
	}
	ctx := context.Background()

	server, err := ConnectSessionBus(ctx)
	require.NoError(t, err)
	defer server.Close()

	stub := &stubManager{state: string(StateFrozen)}
	require.NoError(t, server.Export(stub, ManagerPath, ManagerInterface))
	reply, err := server.RequestName(ManagerBusName, dbus.NameFlagDoNotQueue)
	require.NoError(t, err)
	if reply != dbus.RequestNameReplyPrimaryOwner {
		t.Skip(ManagerBusName + " already owned on this bus")
	}

	m := NewDBusManager(ConnectSessionBus, 2*time.Second, nil)
	defer m.Close()

	session, err := m.GetSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateFrozen, session.State())
	assert.Equal(t, "alice", session["user_name"])

	require.NoError(t, m.Unfreeze(ctx))
	session, err = m.GetSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateRunning, session.State())

	require.NoError(t, m.Freeze(ctx))
	stub.mu.Lock()
	defer stub.mu.Unlock()
	assert.Equal(t, 1, stub.frozen)
}

func TestSessionProbe_SessionBus(t *testing.T) {
	if os.Getenv("DBUS_SESSION_BUS_ADDRESS") == "" {
		t.Skip("no session bus")
	}
	ctx := context.Background()
	probe := NewSessionProbe(nil)

	owner, err := ConnectSessionBus(ctx)
	require.NoError(t, err)
	defer owner.Close()

	var owned bool
	require.NoError(t, owner.BusObject().Call("org.freedesktop.DBus.NameHasOwner", 0, SessionBusName).Store(&owned))
	if owned {
		t.Skip(SessionBusName + " already owned on this bus")
	}

	err = probe.Probe(ctx)
	assert.ErrorIs(t, err, ErrNoSession)

	reply, err := owner.RequestName(SessionBusName, dbus.NameFlagDoNotQueue)
	require.NoError(t, err)
	require.Equal(t, dbus.RequestNameReplyPrimaryOwner, reply)
	assert.NoError(t, probe.Probe(ctx))
}
