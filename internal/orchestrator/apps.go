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

package orchestrator

import (
	"context"
	"errors"
	"log/slog"

	"github.com/waydroid/appmonitor/internal/log"
	"github.com/waydroid/appmonitor/internal/platform"
)

// Platform runs calls against the in-container platform service.
// *platform.Service implements it.
type Platform interface {
	Do(ctx context.Context, fn func(ctx context.Context, c *platform.Client) error) error
}

var errNoPlatform = errors.New("no platform service configured")

// LaunchApp launches pkg through the platform service and waits for it.
func (o *Orchestrator) LaunchApp(ctx context.Context, pkg string) error {
	return o.Launch(ctx, pkg, o.platformAction(func(ctx context.Context, c *platform.Client) error {
		return c.LaunchAndShow(ctx, pkg)
	}))
}

// ShowFullUI shows the whole Android UI.
func (o *Orchestrator) ShowFullUI(ctx context.Context) error {
	return o.ShowTransient(ctx, platform.FullUILabel, o.platformAction(func(ctx context.Context, c *platform.Client) error {
		return c.ShowFullUI(ctx)
	}))
}

// LaunchIntent opens uri with action. The handling app is not known in
// advance, so nothing is waited for.
func (o *Orchestrator) LaunchIntent(ctx context.Context, action, uri string) error {
	return o.Launch(ctx, "", o.platformAction(func(ctx context.Context, c *platform.Client) error {
		pkg, err := c.OpenIntent(ctx, action, uri)
		if err != nil {
			return err
		}
		if pkg == "" {
			o.logger.Info("no app handled the intent", slog.String("action", action))
			return nil
		}
		o.logger.Debug("intent handled", slog.String(log.PackageKey, pkg))
		return nil
	}))
}

func (o *Orchestrator) platformAction(fn func(ctx context.Context, c *platform.Client) error) Action {
	return func(ctx context.Context) error {
		if o.deps.Platform == nil {
			return errNoPlatform
		}
		return o.deps.Platform.Do(ctx, fn)
	}
}
