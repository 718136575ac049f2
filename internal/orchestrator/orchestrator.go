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

// Package orchestrator sequences an app launch: it makes sure a session
// exists, thaws the container for the duration of the launch, claims the
// package's endpoint so a launch runs once, and waits for the app to
// report that it opened.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/waydroid/appmonitor/internal/appevent"
	"github.com/waydroid/appmonitor/internal/container"
	"github.com/waydroid/appmonitor/internal/log"
	"github.com/waydroid/appmonitor/internal/metrics"
	"github.com/waydroid/appmonitor/internal/relay"
	"github.com/waydroid/appmonitor/internal/watchdog"
	apperrors "github.com/waydroid/appmonitor/pkg/errors"
)

// Action is the user visible part of a launch, run while the launch waits.
type Action func(ctx context.Context) error

// Claimer hands out exclusive package endpoints and tells all of them when
// their apps are gone. *relay.Relay implements it.
type Claimer interface {
	ClaimExclusive(ctx context.Context, pkg string) (*relay.Claim, error)
	BroadcastClose(ctx context.Context) int
}

// SessionStarter brings a session up in this process and runs action once
// it is usable.
type SessionStarter interface {
	StartSession(ctx context.Context, action Action) error
}

// Respawner starts a detached copy of this process with the re-entry guard
// set. *lifecycle.Spawner implements it.
type Respawner interface {
	Reexec() (int, error)
}

// Stopper ends the session side monitor. *monitor.Monitor implements it.
type Stopper interface {
	Stop(ctx context.Context)
}

// Deps are the collaborators of an Orchestrator. Sessions, Spawner and
// Monitor may be nil when the caller never needs them.
type Deps struct {
	Probe    container.Prober
	Manager  container.Manager
	Relay    Claimer
	Sessions SessionStarter
	Spawner  Respawner
	Monitor  Stopper
	Platform Platform
}

// Options configures an Orchestrator.
type Options struct {
	// Timeout bounds the wait for a launch in a running session.
	Timeout time.Duration

	// ColdStartTimeout bounds the wait after spawning a session process.
	ColdStartTimeout time.Duration

	// Reentered is true in a process spawned by a cold start.
	Reentered bool

	Clock  clockwork.Clock
	Logger *slog.Logger
}

// Launch strategies, as recorded in metrics.
const (
	strategyDirect    = "direct"
	strategyLocal     = "local"
	strategyColdStart = "cold_start"
	strategyInProcess = "in_process"
)

// Orchestrator runs launches.
type Orchestrator struct {
	deps   Deps
	opts   Options
	clock  clockwork.Clock
	logger *slog.Logger
	tracer trace.Tracer
}

// New returns an Orchestrator.
func New(deps Deps, opts Options) *Orchestrator {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = log.Discard()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.ColdStartTimeout <= 0 {
		opts.ColdStartTimeout = opts.Timeout
	}
	return &Orchestrator{
		deps:   deps,
		opts:   opts,
		clock:  opts.Clock,
		logger: log.WithComponent(opts.Logger, "orchestrator"),
		tracer: otel.Tracer("github.com/waydroid/appmonitor/internal/orchestrator"),
	}
}

// Launch runs action for pkg and waits until the app opens and later
// closes. An empty pkg runs action synchronously without waiting. A launch
// of a package that is already being waited on is a no-op.
func (o *Orchestrator) Launch(ctx context.Context, pkg string, action Action) (err error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.Launch", trace.WithAttributes(
		attribute.String("package", pkg),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := o.deps.Probe.Probe(ctx); err != nil {
		var te *apperrors.TransportError
		if !errors.As(err, &te) {
			return err
		}
		o.logger.Debug("no session reachable", log.Error(err))
		span.SetAttributes(attribute.Bool("cold_start", true))
		return o.coldStart(ctx, pkg, action)
	}

	restore, err := o.thaw(ctx)
	if err != nil {
		return err
	}
	defer restore()

	if pkg == "" {
		err := action(ctx)
		metrics.RecordLaunch(strategyDirect, outcomeOf(err))
		return err
	}
	return o.claimAndWait(ctx, pkg, action, o.opts.Timeout, strategyLocal)
}

// ShowTransient runs action under label the way Launch does for a package,
// for UI that reports itself under a name of its own.
func (o *Orchestrator) ShowTransient(ctx context.Context, label string, action Action) error {
	return o.Launch(ctx, label, action)
}

// StopAll tells every waiting launch that its app closed, then stops the
// session side monitor if this process hosts one. It returns the number of
// endpoints notified.
func (o *Orchestrator) StopAll(ctx context.Context) int {
	n := o.deps.Relay.BroadcastClose(ctx)
	if o.deps.Monitor != nil {
		o.deps.Monitor.Stop(ctx)
	}
	o.logger.Debug("stopped all launches", slog.Int("notified", n))
	return n
}

// thaw unfreezes a frozen container and returns the function that puts it
// back. A container manager that cannot be asked is logged and skipped.
func (o *Orchestrator) thaw(ctx context.Context) (func(), error) {
	noop := func() {}

	session, err := o.deps.Manager.GetSession(ctx)
	if err != nil {
		o.logger.Error("Failed to unfreeze container. Trying to launch anyways...", log.Error(err))
		return noop, nil
	}

	switch state := session.State(); state {
	case container.StateStopped:
		o.logger.Error("WayDroid session is stopped")
		return nil, &apperrors.SessionError{State: string(state)}

	case container.StateFrozen:
		if err := o.deps.Manager.Unfreeze(ctx); err != nil {
			o.logger.Error("Failed to unfreeze container. Trying to launch anyways...", log.Error(err))
			return noop, nil
		}
		o.logger.Debug("container unfrozen")
		return func() {
			// The launch context may already be gone; the freeze must still happen.
			if err := o.deps.Manager.Freeze(context.WithoutCancel(ctx)); err != nil {
				o.logger.Warn("failed to refreeze container", log.Error(err))
			}
		}, nil

	default:
		return noop, nil
	}
}

// coldStart handles a launch with no reachable session. The spawned child
// starts the session and runs the action; this process claims the package
// first so no event from the child can be missed, then only waits.
func (o *Orchestrator) coldStart(ctx context.Context, pkg string, action Action) error {
	if o.opts.Reentered {
		return o.hostSession(ctx, action)
	}

	if o.deps.Spawner == nil {
		return &apperrors.SessionError{Cause: errors.New("no session reachable")}
	}
	if pkg == "" {
		if err := o.spawn(ctx); err != nil {
			metrics.RecordLaunch(strategyColdStart, "error")
			return err
		}
		metrics.RecordLaunch(strategyColdStart, "spawned")
		return nil
	}
	return o.claimAndWait(ctx, pkg, o.spawn, o.opts.ColdStartTimeout, strategyColdStart)
}

func (o *Orchestrator) spawn(ctx context.Context) error {
	pid, err := o.deps.Spawner.Reexec()
	if err != nil {
		return apperrors.Wrap(err, "spawn session process")
	}
	o.logger.Info("spawned session process", slog.Int("pid", pid))
	return nil
}

// hostSession runs in the spawned child. The session starter returns once
// the session it started is gone; every endpoint still waiting is then told
// that its app closed.
func (o *Orchestrator) hostSession(ctx context.Context, action Action) error {
	if o.deps.Sessions == nil {
		return &apperrors.SessionError{Cause: errors.New("no session starter configured")}
	}
	o.logger.Info("Starting waydroid session")
	err := o.deps.Sessions.StartSession(ctx, action)
	metrics.RecordLaunch(strategyInProcess, outcomeOf(err))
	if o.deps.Monitor != nil {
		o.StopAll(context.WithoutCancel(ctx))
	}
	return err
}

// claimAndWait claims pkg's endpoint, starts action in the background and
// waits for the app. Losing the claim means another launch is waiting
// already, which is not an error.
func (o *Orchestrator) claimAndWait(ctx context.Context, pkg string, action Action, deadline time.Duration, strategy string) error {
	claim, err := o.deps.Relay.ClaimExclusive(ctx, pkg)
	if errors.Is(err, relay.ErrAlreadyClaimed) {
		o.logger.Info(fmt.Sprintf("App %s is already launched", pkg), slog.String(log.PackageKey, pkg))
		metrics.RecordLaunch(strategy, "already_running")
		return nil
	}
	if err != nil {
		metrics.RecordLaunch(strategy, "error")
		return err
	}
	defer claim.Release()

	sess := newLaunchSession(pkg, deadline, o.clock.Now())
	logger := log.WithLaunch(o.logger, sess.ID.String(), pkg)
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("launch_id", sess.ID.String()))

	var actionErr chan error
	if action != nil {
		actionErr = make(chan error, 1)
		go func() { actionErr <- action(ctx) }()
	}

	err = o.wait(ctx, sess, claim, actionErr, logger)
	metrics.RecordLaunch(strategy, sess.State().String())
	return err
}

// wait is the single blocking point of a launch. It ends when the app
// closes, the watchdog expires, the action fails or ctx is done.
func (o *Orchestrator) wait(ctx context.Context, sess *LaunchSession, claim *relay.Claim, actionErr <-chan error, logger *slog.Logger) error {
	wd := watchdog.Start(o.clock, sess.Deadline, nil)
	defer wd.Cancel()

	logger.Debug("waiting for app", slog.Duration("deadline", sess.Deadline))
	for {
		select {
		case kind := <-claim.Events():
			switch kind {
			case appevent.Open:
				if wd.Cancel() {
					sess.set(Opened)
					metrics.ObserveOpenLatency(o.clock.Since(sess.Started).Seconds())
					logger.Info("app opened")
				}
			case appevent.Close:
				sess.set(Closed)
				logger.Info("app closed")
				return nil
			}

		case <-wd.Expired():
			sess.set(TimedOut)
			logger.Error("App didn't start in time")
			return &apperrors.TimeoutError{Operation: "app launch", Duration: sess.Deadline}

		case err := <-actionErr:
			actionErr = nil
			if err != nil {
				sess.set(Closed)
				logger.Error("launch action failed", log.Error(err))
				return err
			}

		case <-ctx.Done():
			sess.set(Closed)
			return ctx.Err()
		}
	}
}

func outcomeOf(err error) string {
	if err != nil {
		return "error"
	}
	return "done"
}
