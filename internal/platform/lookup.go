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

package platform

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/waydroid/appmonitor/internal/binder"
	"github.com/waydroid/appmonitor/internal/log"
	apperrors "github.com/waydroid/appmonitor/pkg/errors"
)

// ServiceGetter looks up a binder service once. *binder.ServiceManager
// implements it.
type ServiceGetter interface {
	GetService(ctx context.Context, name, iface string) (*binder.Remote, error)
}

// LookupOptions bounds the wait for the platform service to register.
type LookupOptions struct {
	Attempts int
	Interval time.Duration

	// Clock defaults to the real clock.
	Clock  clockwork.Clock
	Logger *slog.Logger
}

// Budget is the longest a lookup can take.
func (o LookupOptions) Budget() time.Duration {
	return time.Duration(o.Attempts) * o.Interval
}

// Lookup polls sm until the platform service is registered. It returns a
// *TimeoutError with Operation "service lookup" once every attempt has
// missed.
func Lookup(ctx context.Context, sm ServiceGetter, opts LookupOptions) (*Client, error) {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Discard()
	}
	attempts := opts.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-clock.After(opts.Interval):
			}
		}

		remote, err := sm.GetService(ctx, ServiceName, Interface)
		if err == nil {
			logger.Debug("platform service found", slog.Int("attempt", i+1))
			c := NewClient(remote)
			c.services, c.clock = sm, clock
			return c, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !errors.Is(err, binder.ErrServiceNotFound) {
			log.Trace(logger, "platform service lookup failed", log.Error(err))
		}
		lastErr = err
	}

	return nil, &apperrors.TimeoutError{
		Operation: "service lookup",
		Duration:  opts.Budget(),
		Cause:     lastErr,
	}
}
