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
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waydroid/appmonitor/internal/binder"
	apperrors "github.com/waydroid/appmonitor/pkg/errors"
)

const proto = binder.ProtocolAIDL3

// fakePlatform is a binder connection to an in-memory platform service.
type fakePlatform struct {
	mu       sync.Mutex
	props    map[string]string
	settings map[string]string
	launched []string
	intents  map[string]string
	calls    []uint32
	released int
	failCode uint32

	// missing is how many lookups fail before the service shows up.
	missing int
	lookups int

	// statusBar registers a status bar service next to the platform.
	statusBar   bool
	statusCalls []uint32
}

const (
	platformHandle  = 3
	statusBarHandle = 4
)

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		props:    map[string]string{},
		settings: map[string]string{},
		intents:  map[string]string{},
	}
}

func (f *fakePlatform) GetService(ctx context.Context, name, iface string) (*binder.Remote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if name == StatusBarServiceName && f.statusBar {
		return binder.NewRemote(f, statusBarHandle, iface, proto), nil
	}
	f.lookups++
	if name != ServiceName || f.lookups <= f.missing {
		return nil, fmt.Errorf("%w: %s", binder.ErrServiceNotFound, name)
	}
	return binder.NewRemote(f, platformHandle, iface, proto), nil
}

func (f *fakePlatform) Close() error { return nil }

func (f *fakePlatform) Transact(ctx context.Context, handle, code uint32, data *binder.Writer, flags uint32) (*binder.Reader, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if handle == statusBarHandle {
		return f.statusBarTransact(code, data)
	}
	f.calls = append(f.calls, code)

	req := binder.NewReader(data.Bytes(), proto)
	if iface, err := req.ReadInterfaceToken(); err != nil || iface != Interface {
		return nil, fmt.Errorf("bad interface token %q: %v", iface, err)
	}

	reply := binder.NewWriter(proto)
	if code == f.failCode {
		reply.WriteInt32(-3) // EX_ILLEGAL_ARGUMENT
		reply.WriteString16("nope")
		return binder.NewReader(reply.Bytes(), proto), nil
	}

	str := func() string {
		s, err := req.ReadString16()
		if err != nil {
			panic(err)
		}
		return s
	}

	switch code {
	case txGetprop:
		name, def := str(), str()
		v, ok := f.props[name]
		if !ok {
			v = def
		}
		reply.WriteInt32(0)
		reply.WriteString16(v)
	case txSetprop:
		name, value := str(), str()
		f.props[name] = value
		reply.WriteInt32(0)
	case txLaunchApp:
		f.launched = append(f.launched, str())
		reply.WriteInt32(0)
	case txSettingsPutString:
		table, err := req.ReadInt32()
		if err != nil {
			return nil, err
		}
		name, value := str(), str()
		f.settings[fmt.Sprintf("%d/%s", table, name)] = value
		reply.WriteInt32(0)
	case txLaunchIntent:
		action, uri := str(), str()
		reply.WriteInt32(0)
		reply.WriteString16(f.intents[action+" "+uri])
	default:
		return nil, &binder.StatusError{Status: binder.StatusUnknownTransaction}
	}
	return binder.NewReader(reply.Bytes(), proto), nil
}

func (f *fakePlatform) statusBarTransact(code uint32, data *binder.Writer) (*binder.Reader, error) {
	req := binder.NewReader(data.Bytes(), proto)
	if iface, err := req.ReadInterfaceToken(); err != nil || iface != StatusBarInterface {
		return nil, fmt.Errorf("bad interface token %q: %v", iface, err)
	}
	f.statusCalls = append(f.statusCalls, code)
	reply := binder.NewWriter(proto)
	reply.WriteInt32(0)
	return binder.NewReader(reply.Bytes(), proto), nil
}

func (f *fakePlatform) Publish(obj *binder.LocalObject) {}

func (f *fakePlatform) LinkToDeath(handle uint32) (<-chan struct{}, func(), error) {
	return nil, nil, errors.New("not supported")
}

func (f *fakePlatform) ReleaseHandle(handle uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released++
}

func (f *fakePlatform) Serve(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (f *fakePlatform) client(t *testing.T) *Client {
	t.Helper()
	remote, err := f.GetService(context.Background(), ServiceName, Interface)
	require.NoError(t, err)
	return NewClient(remote)
}

func TestClient_Props(t *testing.T) {
	f := newFakePlatform()
	c := f.client(t)
	ctx := context.Background()

	v, err := c.GetProp(ctx, PropMultiWindows, "false")
	require.NoError(t, err)
	assert.Equal(t, "false", v)

	require.NoError(t, c.SetProp(ctx, PropMultiWindows, "true"))
	v, err = c.GetProp(ctx, PropMultiWindows, "false")
	require.NoError(t, err)
	assert.Equal(t, "true", v)

	assert.Equal(t, []uint32{1, 2, 1}, f.calls)
}

func TestClient_RemoteException(t *testing.T) {
	f := newFakePlatform()
	f.failCode = txLaunchApp
	c := f.client(t)

	err := c.LaunchApp(context.Background(), "com.example")
	var re *binder.RemoteException
	require.ErrorAs(t, err, &re)
	assert.Equal(t, int32(-3), re.Code)
	assert.Equal(t, "nope", re.Message)
	assert.Contains(t, err.Error(), "launchApp")
}

func TestClient_LaunchAndShow(t *testing.T) {
	tests := []struct {
		name       string
		multi      string
		wantPolicy string
	}{
		{"single window", "", "immersive.status=*"},
		{"multi window", "true", "immersive.full=*"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakePlatform()
			if tt.multi != "" {
				f.props[PropMultiWindows] = tt.multi
			}
			c := f.client(t)

			require.NoError(t, c.LaunchAndShow(context.Background(), "com.example"))
			assert.Equal(t, []string{"com.example"}, f.launched)
			assert.Equal(t, "com.example", f.props[PropActiveApps])
			assert.Equal(t, tt.wantPolicy, f.settings["2/policy_control"])
		})
	}
}

func TestClient_ShowFullUI(t *testing.T) {
	f := newFakePlatform()
	c := f.client(t)

	require.NoError(t, c.ShowFullUI(context.Background()))
	assert.Equal(t, FullUILabel, f.props[PropActiveApps])
	assert.Equal(t, "null*", f.settings["2/policy_control"])
	assert.Empty(t, f.launched)
}

func TestService_ShowFullUIRefreshesStatusBar(t *testing.T) {
	f := newFakePlatform()
	f.statusBar = true
	clock := clockwork.NewFakeClock()
	svc := NewService(DialerFunc(func(ctx context.Context) (Session, error) { return f, nil }),
		LookupOptions{Attempts: 1, Clock: clock})

	done := make(chan error, 1)
	go func() {
		done <- svc.Do(context.Background(), func(ctx context.Context, c *Client) error {
			return c.ShowFullUI(ctx)
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	f.mu.Lock()
	assert.Equal(t, []uint32{txExpand}, f.statusCalls)
	f.mu.Unlock()
	clock.Advance(refreshPause)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("ShowFullUI did not return")
	}
	assert.Equal(t, []uint32{txExpand, txCollapse}, f.statusCalls)
	assert.Equal(t, "null*", f.settings["2/policy_control"])
	assert.Equal(t, 2, f.released, "platform and status bar references are dropped")
}

func TestService_ShowFullUIWithoutStatusBar(t *testing.T) {
	f := newFakePlatform()
	svc := NewService(DialerFunc(func(ctx context.Context) (Session, error) { return f, nil }),
		LookupOptions{Attempts: 1})

	err := svc.Do(context.Background(), func(ctx context.Context, c *Client) error {
		return c.ShowFullUI(ctx)
	})
	require.NoError(t, err)
	assert.Empty(t, f.statusCalls)
	assert.Equal(t, FullUILabel, f.props[PropActiveApps])
}

func TestClient_OpenIntent(t *testing.T) {
	tests := []struct {
		name       string
		handledBy  string
		wantPkg    string
		wantActive string
	}{
		{"app", "org.mozilla.firefox", "org.mozilla.firefox", "org.mozilla.firefox"},
		{"system", "android", FullUILabel, FullUILabel},
		{"nothing", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakePlatform()
			f.intents["android.intent.action.VIEW https://example.org"] = tt.handledBy
			c := f.client(t)

			pkg, err := c.OpenIntent(context.Background(), "android.intent.action.VIEW", "https://example.org")
			require.NoError(t, err)
			assert.Equal(t, tt.wantPkg, pkg)
			assert.Equal(t, tt.wantActive, f.props[PropActiveApps])
			if tt.wantPkg == "" {
				assert.Equal(t, []uint32{txLaunchIntent}, f.calls)
			} else {
				assert.Equal(t, "immersive.status=*", f.settings["2/policy_control"])
			}
		})
	}
}

func TestLookup_FindsServiceAfterRetries(t *testing.T) {
	f := newFakePlatform()
	f.missing = 3
	clock := clockwork.NewFakeClock()

	type result struct {
		c   *Client
		err error
	}
	done := make(chan result, 1)
	go func() {
		c, err := Lookup(context.Background(), f, LookupOptions{Attempts: 10, Interval: time.Second, Clock: clock})
		done <- result{c, err}
	}()

	for i := 0; i < f.missing; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		require.NoError(t, clock.BlockUntilContext(ctx, 1))
		cancel()
		clock.Advance(time.Second)
	}

	select {
	case r := <-done:
		require.NoError(t, r.err)
		require.NotNil(t, r.c)
		r.c.Release()
		assert.Equal(t, 1, f.released)
	case <-time.After(2 * time.Second):
		t.Fatal("lookup did not finish")
	}
	assert.Equal(t, 4, f.lookups)
}

func TestLookup_Timeout(t *testing.T) {
	f := newFakePlatform()
	f.missing = 100

	opts := LookupOptions{Attempts: 3, Interval: time.Millisecond}
	_, err := Lookup(context.Background(), f, opts)

	var te *apperrors.TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "service lookup", te.Operation)
	assert.Equal(t, 3*time.Millisecond, te.Duration)
	assert.ErrorIs(t, err, binder.ErrServiceNotFound)
	assert.Equal(t, 3, f.lookups)
}

func TestLookup_Cancelled(t *testing.T) {
	f := newFakePlatform()
	f.missing = 100
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Lookup(ctx, f, LookupOptions{Attempts: 5, Interval: time.Hour})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestService_Do(t *testing.T) {
	f := newFakePlatform()
	f.missing = 1
	svc := NewService(DialerFunc(func(ctx context.Context) (Session, error) { return f, nil }),
		LookupOptions{Attempts: 5, Interval: time.Millisecond})

	err := svc.Do(context.Background(), func(ctx context.Context, c *Client) error {
		return c.LaunchAndShow(ctx, "com.example")
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"com.example"}, f.launched)
	assert.Equal(t, 1, f.released)
}

func TestService_DialFailure(t *testing.T) {
	dialErr := &apperrors.TransportError{Transport: "binder", Target: "/dev/binder", Cause: errors.New("permission denied")}
	svc := NewService(DialerFunc(func(ctx context.Context) (Session, error) { return nil, dialErr }), LookupOptions{Attempts: 1})

	called := false
	err := svc.Do(context.Background(), func(ctx context.Context, c *Client) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, dialErr)
	assert.False(t, called)
}
