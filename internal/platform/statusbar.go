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
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/waydroid/appmonitor/internal/binder"
)

const (
	// StatusBarServiceName is the system status bar's binder name.
	StatusBarServiceName = "statusbar"

	// StatusBarInterface is the status bar service's AIDL descriptor.
	StatusBarInterface = "com.android.internal.statusbar.IStatusBarService"

	// refreshPause is how long the panel stays expanded on a refresh.
	refreshPause = 500 * time.Millisecond
)

const (
	txExpand   = binder.FirstCallTransaction + 0
	txCollapse = binder.FirstCallTransaction + 1
)

// StatusBar calls the status bar service.
type StatusBar struct {
	remote Caller
}

// NewStatusBar wraps remote.
func NewStatusBar(remote Caller) *StatusBar {
	return &StatusBar{remote: remote}
}

// Release drops the reference on the service.
func (s *StatusBar) Release() { s.remote.Release() }

// Expand pulls down the notification panel.
func (s *StatusBar) Expand(ctx context.Context) error {
	_, err := transact(ctx, s.remote, "expand", txExpand, s.remote.NewRequest())
	return err
}

// Collapse closes every open panel.
func (s *StatusBar) Collapse(ctx context.Context) error {
	_, err := transact(ctx, s.remote, "collapse", txCollapse, s.remote.NewRequest())
	return err
}

// Refresh expands and collapses the panel, which makes the display redraw
// after the window policy changed.
func (s *StatusBar) Refresh(ctx context.Context, clock clockwork.Clock) error {
	if err := s.Expand(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-clock.After(refreshPause):
	}
	return s.Collapse(ctx)
}
