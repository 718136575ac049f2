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

// Package relay connects app lifecycle events to the launch sessions waiting
// for them. Each launching package claims an exclusive endpoint on a bus;
// events decoded from the container are forwarded to that endpoint.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/waydroid/appmonitor/internal/appevent"
	"github.com/waydroid/appmonitor/internal/log"
	"github.com/waydroid/appmonitor/internal/metrics"
)

// DefaultPrefix is prepended to a package name to form its endpoint name.
const DefaultPrefix = "id.waydro.App."

// claimBuffer is how many undelivered callbacks a claim holds before the
// caller delivering the next one blocks.
const claimBuffer = 16

// Options configures a Relay.
type Options struct {
	// Prefix is prepended to package names. Default: DefaultPrefix.
	Prefix string

	// CallTimeout bounds each delivery. Zero means no bound beyond the
	// caller's context.
	CallTimeout time.Duration

	Logger *slog.Logger
}

// Relay claims endpoints and delivers lifecycle callbacks to them.
type Relay struct {
	transport   Transport
	prefix      string
	callTimeout time.Duration
	logger      *slog.Logger
	tracer      trace.Tracer
}

// New returns a Relay publishing on transport.
func New(transport Transport, opts Options) *Relay {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.Logger == nil {
		opts.Logger = log.Discard()
	}
	return &Relay{
		transport:   transport,
		prefix:      opts.Prefix,
		callTimeout: opts.CallTimeout,
		logger:      log.WithComponent(opts.Logger, "relay"),
		tracer:      otel.Tracer("github.com/waydroid/appmonitor/internal/relay"),
	}
}

// EndpointName returns the bus name for pkg.
func (r *Relay) EndpointName(pkg string) string {
	return r.prefix + pkg
}

// ClaimExclusive takes ownership of the endpoint for pkg. It fails
// immediately with ErrAlreadyClaimed if another session owns it.
func (r *Relay) ClaimExclusive(ctx context.Context, pkg string) (*Claim, error) {
	c := &Claim{
		name:     r.EndpointName(pkg),
		pkg:      pkg,
		events:   make(chan appevent.Kind, claimBuffer),
		released: make(chan struct{}),
	}

	reg, err := r.transport.RequestName(ctx, c.name, c)
	if err != nil {
		if errors.Is(err, ErrAlreadyClaimed) {
			metrics.RecordClaim("already_claimed")
		} else {
			metrics.RecordClaim("failed")
		}
		return nil, err
	}
	c.reg = reg
	metrics.RecordClaim("acquired")
	r.logger.Debug("claimed endpoint", slog.String(log.PackageKey, pkg))
	return c, nil
}

// Forward delivers ev to the endpoint of its package. An event for a
// package nobody has claimed is dropped.
func (r *Relay) Forward(ctx context.Context, ev appevent.Event) error {
	var method Method
	switch ev.Kind {
	case appevent.Open:
		method = MethodOnOpen
	case appevent.Close:
		method = MethodOnClose
	default:
		return nil
	}

	ctx, span := r.tracer.Start(ctx, "relay.Forward", trace.WithAttributes(
		attribute.String("app.package", ev.PackageName),
		attribute.String("app.event", ev.Kind.String()),
	))
	defer span.End()

	err := r.call(ctx, r.EndpointName(ev.PackageName), method)
	switch {
	case err == nil:
		metrics.RecordForward(ev.Kind.String(), "delivered")
		return nil
	case errors.Is(err, ErrEndpointGone):
		metrics.RecordForward(ev.Kind.String(), "dropped")
		r.logger.Debug("no endpoint for event, dropping",
			slog.String(log.PackageKey, ev.PackageName),
			slog.String(log.EventKey, ev.Kind.String()))
		return nil
	default:
		metrics.RecordForward(ev.Kind.String(), "failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
}

// BroadcastClose delivers OnClose to every claimed endpoint and returns
// how many deliveries succeeded. Individual failures are skipped.
func (r *Relay) BroadcastClose(ctx context.Context) int {
	names, err := r.transport.ListNames(ctx)
	if err != nil {
		r.logger.Debug("cannot list endpoints", log.Error(err))
		return 0
	}

	delivered := 0
	for _, name := range names {
		if !strings.HasPrefix(name, r.prefix) {
			continue
		}
		if err := r.call(ctx, name, MethodOnClose); err != nil {
			r.logger.Debug("close broadcast skipped endpoint", slog.String("name", name), log.Error(err))
			continue
		}
		delivered++
	}
	metrics.RecordBroadcastClose(delivered)
	return delivered
}

// Close releases the transport.
func (r *Relay) Close() error {
	return r.transport.Close()
}

func (r *Relay) call(ctx context.Context, name string, method Method) error {
	if r.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.callTimeout)
		defer cancel()
	}
	return r.transport.Call(ctx, name, method)
}

// Claim is exclusive ownership of one package's endpoint. Callbacks that
// arrive at the endpoint are queued on Events in arrival order.
type Claim struct {
	name     string
	pkg      string
	reg      Registration
	events   chan appevent.Kind
	released chan struct{}
	once     sync.Once
	err      error
}

// Name returns the claimed bus name.
func (c *Claim) Name() string { return c.name }

// Package returns the package the claim was made for.
func (c *Claim) Package() string { return c.pkg }

// Events returns the callbacks received, Open or Close, in order.
func (c *Claim) Events() <-chan appevent.Kind { return c.events }

// OnOpen implements Endpoint.
func (c *Claim) OnOpen() { c.deliver(appevent.Open) }

// OnClose implements Endpoint.
func (c *Claim) OnClose() { c.deliver(appevent.Close) }

// deliver blocks while the queue is full so no callback is lost or
// reordered. It gives up once the claim is released.
func (c *Claim) deliver(k appevent.Kind) {
	select {
	case c.events <- k:
	case <-c.released:
	}
}

// Release gives the endpoint up. Further callbacks are discarded.
func (c *Claim) Release() error {
	c.once.Do(func() {
		close(c.released)
		if c.reg != nil {
			c.err = c.reg.Release()
		}
	})
	return c.err
}
