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

	"github.com/waydroid/appmonitor/internal/binder"
)

const (
	// PropActiveApps names the app the host window is showing.
	PropActiveApps = "waydroid.active_apps"

	// PropMultiWindows is "true" when apps get windows of their own.
	PropMultiWindows = "persist.waydroid.multi_windows"

	// FullUILabel is the active app shown for the whole Android UI.
	FullUILabel = "Waydroid"

	policyControl = "policy_control"
)

// LaunchAndShow marks pkg active, launches it and applies the window policy.
func (c *Client) LaunchAndShow(ctx context.Context, pkg string) error {
	if err := c.SetProp(ctx, PropActiveApps, pkg); err != nil {
		return err
	}
	if err := c.LaunchApp(ctx, pkg); err != nil {
		return err
	}
	return c.applyWindowPolicy(ctx)
}

// ShowFullUI shows the whole Android UI instead of a single app and
// refreshes the display through the status bar when one is registered.
func (c *Client) ShowFullUI(ctx context.Context) error {
	if err := c.SetProp(ctx, PropActiveApps, FullUILabel); err != nil {
		return err
	}
	if err := c.SettingsPutString(ctx, SettingsGlobal, policyControl, "null*"); err != nil {
		return err
	}

	sb, err := c.StatusBar(ctx)
	if errors.Is(err, binder.ErrServiceNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	defer sb.Release()
	return sb.Refresh(ctx, c.clock)
}

// OpenIntent launches an intent and shows whatever handled it. It returns
// the package shown, or "" when the intent went nowhere.
func (c *Client) OpenIntent(ctx context.Context, action, uri string) (string, error) {
	pkg, err := c.LaunchIntent(ctx, action, uri)
	if err != nil || pkg == "" {
		return "", err
	}
	if pkg == "android" {
		pkg = FullUILabel
	}
	if err := c.SetProp(ctx, PropActiveApps, pkg); err != nil {
		return "", err
	}
	return pkg, c.applyWindowPolicy(ctx)
}

// applyWindowPolicy hides system bars the way the window mode expects:
// only the status bar in single window mode, everything otherwise.
func (c *Client) applyWindowPolicy(ctx context.Context) error {
	multi, err := c.GetProp(ctx, PropMultiWindows, "false")
	if err != nil {
		return err
	}
	policy := "immersive.full=*"
	if multi == "false" {
		policy = "immersive.status=*"
	}
	return c.SettingsPutString(ctx, SettingsGlobal, policyControl, policy)
}
