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
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/waydroid/appmonitor/internal/binder"
	"github.com/waydroid/appmonitor/internal/log"
	"github.com/waydroid/appmonitor/internal/metrics"
)

// ErrPresenceLost ends a registration lifetime whose service manager died.
var ErrPresenceLost = errors.New("service manager went away")

// ServiceManager is the part of *binder.ServiceManager the registrar uses.
type ServiceManager interface {
	NewLocalObject(iface string, h binder.Handler) *binder.LocalObject
	AddService(ctx context.Context, name string, obj *binder.LocalObject) error
	Presence(ctx context.Context) <-chan bool
	Serve(ctx context.Context) error
	Close() error
}

// Dialer opens a fresh service manager connection.
type Dialer func(ctx context.Context) (ServiceManager, error)

// BinderDialer adapts binder.DialServiceManager to a Dialer.
func BinderDialer(opts binder.ServiceManagerOptions) Dialer {
	return func(ctx context.Context) (ServiceManager, error) {
		sm, err := binder.DialServiceManager(ctx, opts)
		if err != nil {
			return nil, err
		}
		return sm, nil
	}
}

// RegistrarOptions configures a Registrar.
type RegistrarOptions struct {
	// RetryInterval spaces out registration lifetimes.
	RetryInterval time.Duration

	Logger *slog.Logger
}

// Registrar keeps the monitor service registered with the container's
// service manager for as long as it runs.
type Registrar struct {
	dial    Dialer
	handler binder.Handler
	retry   time.Duration
	logger  *slog.Logger
}

// NewRegistrar returns a registrar publishing h as ServiceName.
func NewRegistrar(dial Dialer, h binder.Handler, opts RegistrarOptions) *Registrar {
	logger := opts.Logger
	if logger == nil {
		logger = log.Discard()
	}
	retry := opts.RetryInterval
	if retry <= 0 {
		retry = time.Second
	}
	return &Registrar{
		dial:    dial,
		handler: h,
		retry:   retry,
		logger:  log.WithComponent(logger, "registrar"),
	}
}

// Run is one registration lifetime. It connects, registers the service
// each time the service manager shows up, and returns when registration
// fails, the service manager dies (ErrPresenceLost) or ctx is done.
func (r *Registrar) Run(ctx context.Context) error {
	sm, err := r.dial(ctx)
	if err != nil {
		return err
	}
	defer sm.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	obj := sm.NewLocalObject(Interface, r.handler)

	serveErr := make(chan error, 1)
	go func() { serveErr <- sm.Serve(ctx) }()

	presence := sm.Presence(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-serveErr:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err

		case up, ok := <-presence:
			if !ok {
				return ctx.Err()
			}
			if !up {
				return ErrPresenceLost
			}
			if err := sm.AddService(ctx, ServiceName, obj); err != nil {
				metrics.RecordRegistration("failure")
				r.logger.Error("Failed to add service", slog.String(log.ServiceKey, ServiceName), log.Error(err))
				return err
			}
			metrics.RecordRegistration("success")
			r.logger.Info("service registered", slog.String(log.ServiceKey, ServiceName))
		}
	}
}

// Loop runs registration lifetimes back to back until ctx is done.
func (r *Registrar) Loop(ctx context.Context) {
	limiter := rate.NewLimiter(rate.Every(r.retry), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		err := r.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, ErrPresenceLost) {
			r.logger.Info("service manager went away, waiting for it to return")
			continue
		}
		r.logger.Warn("registration ended", log.Error(err))
	}
}

// Start runs Loop in the background.
func (r *Registrar) Start(ctx context.Context) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		r.Loop(ctx)
	}()
	return h
}

// Handle controls a running registrar.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Stop asks the registrar to finish. It does not wait.
func (h *Handle) Stop() { h.cancel() }

// Done is closed once the registrar has finished.
func (h *Handle) Done() <-chan struct{} { return h.done }
