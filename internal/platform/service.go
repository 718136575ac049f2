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
	"log/slog"

	"github.com/waydroid/appmonitor/internal/binder"
	"github.com/waydroid/appmonitor/internal/log"
)

// Dialer connects to the service manager the platform service registers
// with.
type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}

// Session is an open service manager connection.
type Session interface {
	ServiceGetter
	Close() error
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context) (Session, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(ctx context.Context) (Session, error) { return f(ctx) }

// BinderDialer dials the service manager described by opts.
func BinderDialer(opts binder.ServiceManagerOptions) Dialer {
	return DialerFunc(func(ctx context.Context) (Session, error) {
		sm, err := binder.DialServiceManager(ctx, opts)
		if err != nil {
			return nil, err
		}
		return sm, nil
	})
}

// Service runs calls against the platform service, connecting for each
// one.
type Service struct {
	dialer Dialer
	lookup LookupOptions
	logger *slog.Logger
}

// NewService returns a Service.
func NewService(d Dialer, lookup LookupOptions) *Service {
	logger := lookup.Logger
	if logger == nil {
		logger = log.Discard()
	}
	return &Service{dialer: d, lookup: lookup, logger: log.WithComponent(logger, "platform")}
}

// Do waits for the platform service and runs fn against it.
func (s *Service) Do(ctx context.Context, fn func(ctx context.Context, c *Client) error) error {
	sess, err := s.dialer.Dial(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	c, err := Lookup(ctx, sess, s.lookup)
	if err != nil {
		s.logger.Error("Failed to access IPlatform service", log.Error(err))
		return err
	}
	defer c.Release()

	return fn(ctx, c)
}
