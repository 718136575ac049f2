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

// Package platform is a client for the platform service running inside the
// container, which launches apps and edits system properties and settings
// on behalf of the host.
package platform

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"

	"github.com/waydroid/appmonitor/internal/binder"
)

const (
	// ServiceName is the platform service's binder name.
	ServiceName = "waydroidplatform"

	// Interface is the platform service's AIDL descriptor.
	Interface = "lineageos.waydroid.IPlatform"
)

// Transaction codes, in IPlatform declaration order.
const (
	txGetprop           = binder.FirstCallTransaction + 0
	txSetprop           = binder.FirstCallTransaction + 1
	txLaunchApp         = binder.FirstCallTransaction + 6
	txSettingsPutString = binder.FirstCallTransaction + 8
	txLaunchIntent      = binder.FirstCallTransaction + 12
)

// Settings tables accepted by SettingsPutString.
const (
	SettingsSystem int32 = 0
	SettingsSecure int32 = 1
	SettingsGlobal int32 = 2
)

// Caller performs calls on a remote binder object. *binder.Remote
// implements it.
type Caller interface {
	NewRequest() *binder.Writer
	Transact(ctx context.Context, code uint32, req *binder.Writer) (*binder.Reader, error)
	Release()
}

// Client calls the platform service.
type Client struct {
	remote Caller

	// services finds companion services such as the status bar. It is nil
	// for clients built with NewClient.
	services ServiceGetter
	clock    clockwork.Clock
}

// NewClient wraps remote.
func NewClient(remote Caller) *Client {
	return &Client{remote: remote, clock: clockwork.NewRealClock()}
}

// Release drops the reference on the service.
func (c *Client) Release() { c.remote.Release() }

// GetProp returns the value of a system property, or def when unset.
func (c *Client) GetProp(ctx context.Context, name, def string) (string, error) {
	req := c.remote.NewRequest()
	req.WriteString16(name)
	req.WriteString16(def)
	return c.callString(ctx, "getprop", txGetprop, req)
}

// SetProp sets a system property.
func (c *Client) SetProp(ctx context.Context, name, value string) error {
	req := c.remote.NewRequest()
	req.WriteString16(name)
	req.WriteString16(value)
	_, err := c.call(ctx, "setprop", txSetprop, req)
	return err
}

// LaunchApp starts the launcher activity of pkg.
func (c *Client) LaunchApp(ctx context.Context, pkg string) error {
	req := c.remote.NewRequest()
	req.WriteString16(pkg)
	_, err := c.call(ctx, "launchApp", txLaunchApp, req)
	return err
}

// SettingsPutString writes name=value into a settings table.
func (c *Client) SettingsPutString(ctx context.Context, table int32, name, value string) error {
	req := c.remote.NewRequest()
	req.WriteInt32(table)
	req.WriteString16(name)
	req.WriteString16(value)
	_, err := c.call(ctx, "settingsPutString", txSettingsPutString, req)
	return err
}

// LaunchIntent starts an activity for action and uri and returns the
// package that handled it. An empty result means nothing did.
func (c *Client) LaunchIntent(ctx context.Context, action, uri string) (string, error) {
	req := c.remote.NewRequest()
	req.WriteString16(action)
	req.WriteString16(uri)
	return c.callString(ctx, "launchIntent", txLaunchIntent, req)
}

// StatusBar looks up the status bar service registered next to the
// platform service.
func (c *Client) StatusBar(ctx context.Context) (*StatusBar, error) {
	if c.services == nil {
		return nil, fmt.Errorf("%w: %s", binder.ErrServiceNotFound, StatusBarServiceName)
	}
	remote, err := c.services.GetService(ctx, StatusBarServiceName, StatusBarInterface)
	if err != nil {
		return nil, err
	}
	return NewStatusBar(remote), nil
}

func (c *Client) call(ctx context.Context, method string, code uint32, req *binder.Writer) (*binder.Reader, error) {
	return transact(ctx, c.remote, method, code, req)
}

func transact(ctx context.Context, remote Caller, method string, code uint32, req *binder.Writer) (*binder.Reader, error) {
	reply, err := remote.Transact(ctx, code, req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	if err := reply.ReadException(); err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return reply, nil
}

func (c *Client) callString(ctx context.Context, method string, code uint32, req *binder.Writer) (string, error) {
	reply, err := c.call(ctx, method, code, req)
	if err != nil {
		return "", err
	}
	s, err := reply.ReadString16()
	if err != nil {
		return "", fmt.Errorf("%s: %w", method, err)
	}
	return s, nil
}
