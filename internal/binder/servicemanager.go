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

package binder

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/waydroid/appmonitor/internal/log"
	apperrors "github.com/waydroid/appmonitor/pkg/errors"
)

// ServiceManagerInterface is the descriptor of the context manager.
const ServiceManagerInterface = "android.os.IServiceManager"

const (
	smGetService   = FirstCallTransaction
	smCheckService = FirstCallTransaction + 1
	smAddService   = FirstCallTransaction + 2

	dumpFlagPriorityDefault = int32(1 << 3)
)

// ServiceManagerOptions configures a service manager client.
type ServiceManagerOptions struct {
	// Device is the binder device node, e.g. /dev/vndbinder.
	Device string

	// Protocol is used for local objects and for services fetched through
	// GetService.
	Protocol Protocol

	// ServiceManagerProtocol is used for calls on the service manager.
	ServiceManagerProtocol Protocol

	// PollInterval is how often an absent service manager is pinged.
	PollInterval time.Duration

	// Clock paces polling. Defaults to the real clock.
	Clock clockwork.Clock

	Logger *slog.Logger
}

// ServiceManager is a client for the context manager on one binder device.
type ServiceManager struct {
	conn         Conn
	objProto     Protocol
	smProto      Protocol
	pollInterval time.Duration
	clock        clockwork.Clock
	logger       *slog.Logger
}

// NewServiceManager wraps an open connection.
func NewServiceManager(conn Conn, opts ServiceManagerOptions) *ServiceManager {
	logger := opts.Logger
	if logger == nil {
		logger = log.Discard()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Protocol == 0 {
		opts.Protocol = ProtocolAIDL3
	}
	if opts.ServiceManagerProtocol == 0 {
		opts.ServiceManagerProtocol = opts.Protocol
	}
	return &ServiceManager{
		conn:         conn,
		objProto:     opts.Protocol,
		smProto:      opts.ServiceManagerProtocol,
		pollInterval: opts.PollInterval,
		clock:        opts.Clock,
		logger:       log.WithComponent(logger, "servicemanager"),
	}
}

// DialServiceManager opens the device in opts and returns a client for its
// service manager. A missing device node is waited for.
func DialServiceManager(ctx context.Context, opts ServiceManagerOptions) (*ServiceManager, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Discard()
	}

	conn, err := openDevice(opts.Device, logger)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Info("binder device not present, waiting for it", slog.String("device", opts.Device))
		if werr := WaitForDevice(ctx, opts.Device); werr != nil {
			return nil, werr
		}
		conn, err = openDevice(opts.Device, logger)
	}
	if err != nil {
		return nil, &apperrors.TransportError{Transport: "binder", Target: opts.Device, Cause: err}
	}
	return NewServiceManager(conn, opts), nil
}

// Conn returns the underlying connection.
func (sm *ServiceManager) Conn() Conn { return sm.conn }

// NewLocalObject creates an object served over this connection.
func (sm *ServiceManager) NewLocalObject(iface string, h Handler) *LocalObject {
	return NewLocalObject(iface, sm.objProto, h)
}

// Ping checks that a service manager is running.
func (sm *ServiceManager) Ping(ctx context.Context) error {
	_, err := sm.conn.Transact(ctx, 0, pingTransaction, NewWriter(sm.smProto), 0)
	return err
}

// AddService registers obj under name.
func (sm *ServiceManager) AddService(ctx context.Context, name string, obj *LocalObject) error {
	sm.conn.Publish(obj)

	w := NewWriter(sm.smProto)
	w.WriteInterfaceToken(ServiceManagerInterface)
	w.WriteString16(name)
	w.WriteLocalObject(obj)
	w.WriteBool(false) // allowIsolated
	if sm.smProto >= ProtocolAIDL2 {
		w.WriteInt32(dumpFlagPriorityDefault)
	}

	r, err := sm.conn.Transact(ctx, 0, smAddService, w, 0)
	if err != nil {
		return &apperrors.RegistrationError{Service: name, Cause: err}
	}
	status, err := r.ReadInt32()
	if err != nil {
		return &apperrors.RegistrationError{Service: name, Cause: err}
	}
	if status != 0 {
		return &apperrors.RegistrationError{Service: name, Status: status}
	}
	return nil
}

// GetService looks name up once and returns a client for iface. It returns
// ErrServiceNotFound when nothing is registered under name.
func (sm *ServiceManager) GetService(ctx context.Context, name, iface string) (*Remote, error) {
	w := NewWriter(sm.smProto)
	w.WriteInterfaceToken(ServiceManagerInterface)
	w.WriteString16(name)

	r, err := sm.conn.Transact(ctx, 0, smCheckService, w, 0)
	if err != nil {
		return nil, fmt.Errorf("check service %s: %w", name, err)
	}
	if sm.smProto >= ProtocolAIDL3 {
		if err := r.ReadException(); err != nil {
			return nil, fmt.Errorf("check service %s: %w", name, err)
		}
	}
	obj, err := r.ReadObject()
	if err != nil {
		return nil, fmt.Errorf("check service %s: %w", name, err)
	}
	if obj.IsNull() {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}
	if !obj.IsHandle() {
		return nil, fmt.Errorf("check service %s: got a local object", name)
	}
	return NewRemote(sm.conn, obj.Handle(), iface, sm.objProto), nil
}

// Presence reports service manager availability. It sends true when the
// service manager answers a ping and false when it dies, then keeps
// watching. The channel is closed when ctx is done.
func (sm *ServiceManager) Presence(ctx context.Context) <-chan bool {
	ch := make(chan bool)
	go func() {
		defer close(ch)
		for {
			if err := sm.Ping(ctx); err != nil {
				log.Trace(sm.logger, "service manager not present", log.Error(err))
				if !sm.sleep(ctx) {
					return
				}
				continue
			}

			if !sendCtx(ctx, ch, true) {
				return
			}
			if !sm.waitForDeath(ctx) {
				return
			}
			if !sendCtx(ctx, ch, false) {
				return
			}
		}
	}()
	return ch
}

// waitForDeath returns true once the service manager is gone, false when
// ctx ends first.
func (sm *ServiceManager) waitForDeath(ctx context.Context) bool {
	died, cancel, err := sm.conn.LinkToDeath(0)
	if err != nil {
		sm.logger.Debug("death notification unavailable, polling instead", log.Error(err))
		for {
			if !sm.sleep(ctx) {
				return false
			}
			if err := sm.Ping(ctx); err != nil {
				return true
			}
		}
	}
	defer cancel()

	select {
	case <-ctx.Done():
		return false
	case <-died:
		return true
	}
}

// Serve runs the connection's looper.
func (sm *ServiceManager) Serve(ctx context.Context) error {
	return sm.conn.Serve(ctx)
}

// Close releases the connection.
func (sm *ServiceManager) Close() error {
	return sm.conn.Close()
}

// sleep waits one poll interval. It returns false when ctx ends first.
func (sm *ServiceManager) sleep(ctx context.Context) bool {
	t := sm.clock.NewTimer(sm.pollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.Chan():
		return true
	}
}

func sendCtx(ctx context.Context, ch chan<- bool, v bool) bool {
	select {
	case <-ctx.Done():
		return false
	case ch <- v:
		return true
	}
}
