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
package controller

import (
	"errors"
	"log/slog"

	"github.com/waydroid/appmonitor/internal/binder"
	"github.com/waydroid/appmonitor/internal/config"
	"github.com/waydroid/appmonitor/internal/container"
	"github.com/waydroid/appmonitor/internal/lifecycle"
	"github.com/waydroid/appmonitor/internal/monitor"
	"github.com/waydroid/appmonitor/internal/orchestrator"
	"github.com/waydroid/appmonitor/internal/platform"
	"github.com/waydroid/appmonitor/internal/relay"
)

// Components are the long-lived clients built from configuration. Nothing
// is dialed until first use.
type Components struct {
	Relay    *relay.Relay
	Manager  *container.DBusManager
	Probe    *container.SessionProbe
	Platform *platform.Service
	Spawner  *lifecycle.Spawner
	Guard    lifecycle.Guard

	cfg    *config.Config
	logger *slog.Logger
}

// NewComponents builds the clients described by cfg. cfg must have passed
// Validate.
func NewComponents(cfg *config.Config, logger *slog.Logger) *Components {
	guard := lifecycle.Guard(cfg.Launch.GuardEnv)

	transport := relay.NewDBusTransport(relay.ConnectSessionBus, logger)
	r := relay.New(transport, relay.Options{
		Prefix:      cfg.Bus.AppNamePrefix,
		CallTimeout: cfg.Bus.CallTimeout,
		Logger:      logger,
	})

	lookup := platform.LookupOptions{
		Attempts: cfg.Launch.ServiceLookupAttempts,
		Interval: cfg.Launch.ServiceLookupInterval,
		Logger:   logger,
	}

	return &Components{
		Relay:    r,
		Manager:  container.NewDBusManager(container.ConnectSystemBus, cfg.Bus.CallTimeout, logger),
		Probe:    container.NewSessionProbe(container.ConnectSessionBus),
		Platform: platform.NewService(platform.BinderDialer(serviceManagerOptions(cfg.Binder.System, cfg, logger)), lookup),
		Spawner:  lifecycle.NewSpawner(guard, cfg.Launch.SpawnLog),
		Guard:    guard,
		cfg:      cfg,
		logger:   logger,
	}
}

// Orchestrator returns an orchestrator over the components. mon is the
// monitor this process hosts, or nil. A session started in process is
// served by mon for as long as it runs.
func (c *Components) Orchestrator(mon *monitor.Monitor) *orchestrator.Orchestrator {
	var (
		stopper orchestrator.Stopper
		host    orchestrator.SessionHost
	)
	if mon != nil {
		stopper, host = mon, mon
	}

	starter := &orchestrator.CommandSessionStarter{
		Spawner:  c.Spawner,
		Command:  c.cfg.Launch.SessionCommand,
		Probe:    c.Probe,
		Host:     host,
		Interval: c.cfg.Launch.ServiceLookupInterval,
		Timeout:  c.cfg.Launch.ColdStartTimeout(),
		Logger:   c.logger,
	}

	deps := orchestrator.Deps{
		Probe:    c.Probe,
		Manager:  c.Manager,
		Relay:    c.Relay,
		Sessions: starter,
		Spawner:  c.Spawner,
		Monitor:  stopper,
		Platform: c.Platform,
	}

	return orchestrator.New(deps, orchestrator.Options{
		Timeout:          c.cfg.Launch.Timeout,
		ColdStartTimeout: c.cfg.Launch.ColdStartTimeout(),
		Reentered:        c.Guard.Set(),
		Logger:           c.logger,
	})
}

// LaunchOrchestrator returns the orchestrator for a launch command. A
// process spawned by a cold start hosts the monitor for the session it
// starts.
func (c *Components) LaunchOrchestrator() *orchestrator.Orchestrator {
	if c.Guard.Set() {
		return c.Orchestrator(c.Monitor())
	}
	return c.Orchestrator(nil)
}

// Monitor returns the binder side monitor forwarding into the relay.
func (c *Components) Monitor() *monitor.Monitor {
	dial := monitor.BinderDialer(serviceManagerOptions(c.cfg.Binder.Vendor, c.cfg, c.logger))
	return monitor.New(c.Relay, dial, monitor.Options{
		RegistrarOptions: monitor.RegistrarOptions{
			RetryInterval: c.cfg.Binder.RetryInterval,
			Logger:        c.logger,
		},
	})
}

// Close drops the bus connections.
func (c *Components) Close() error {
	return errors.Join(c.Relay.Close(), c.Manager.Close())
}

func serviceManagerOptions(ep config.BinderEndpoint, cfg *config.Config, logger *slog.Logger) binder.ServiceManagerOptions {
	return binder.ServiceManagerOptions{
		Device:                 ep.Device,
		Protocol:               binder.MustParseProtocol(ep.Protocol),
		ServiceManagerProtocol: binder.MustParseProtocol(ep.ServiceManagerProtocol),
		PollInterval:           cfg.Binder.PresencePollInterval,
		Logger:                 logger,
	}
}
