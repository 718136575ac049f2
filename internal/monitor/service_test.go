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

package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waydroid/appmonitor/internal/appevent"
	"github.com/waydroid/appmonitor/internal/binder"
	"github.com/waydroid/appmonitor/internal/relay"
)

type recordingForwarder struct {
	mu     sync.Mutex
	events []appevent.Event
	err    error
}

func (f *recordingForwarder) Forward(ctx context.Context, ev appevent.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return f.err
}

func (f *recordingForwarder) got() []appevent.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]appevent.Event(nil), f.events...)
}

func request(p binder.Protocol, pkg string) []byte {
	w := binder.NewWriter(p)
	w.WriteInterfaceToken(Interface)
	w.WriteString16(pkg)
	return w.Bytes()
}

// truncatedRequest announces a 40 character name and then ends.
func truncatedRequest(p binder.Protocol) []byte {
	w := binder.NewWriter(p)
	w.WriteInterfaceToken(Interface)
	w.WriteInt32(40)
	return w.Bytes()
}

func replyStatus(t *testing.T, reply *binder.Writer, p binder.Protocol) Status {
	t.Helper()
	require.NotNil(t, reply)
	v, err := binder.NewReader(reply.Bytes(), p).ReadInt32()
	require.NoError(t, err)
	return Status(v)
}

func TestService_Transactions(t *testing.T) {
	p := binder.ProtocolAIDL3
	tests := []struct {
		name       string
		code       uint32
		data       []byte
		wantStatus Status
		wantEvents []appevent.Event
	}{
		{
			name:       "open",
			code:       TransactionOpen,
			data:       request(p, "com.example"),
			wantStatus: StatusOK,
			wantEvents: []appevent.Event{appevent.NewOpen("com.example")},
		},
		{
			name:       "close",
			code:       TransactionClose,
			data:       request(p, "com.example"),
			wantStatus: StatusOK,
			wantEvents: []appevent.Event{appevent.NewClose("com.example")},
		},
		{
			name:       "unsupported code",
			code:       9,
			data:       request(p, "com.example"),
			wantStatus: StatusUnsupported,
		},
		{
			name:       "bad parcel",
			code:       TransactionOpen,
			data:       truncatedRequest(p),
			wantStatus: StatusBadParcel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fwd := &recordingForwarder{}
			obj := binder.NewLocalObject(Interface, p, NewService(context.Background(), fwd, nil))

			reply, status := obj.Dispatch(binder.Transaction{Code: tt.code}, tt.data)
			assert.Equal(t, binder.StatusOK, status)
			assert.Equal(t, tt.wantStatus, replyStatus(t, reply, p))
			assert.Equal(t, tt.wantEvents, fwd.got())
		})
	}
}

func TestService_ForwardFailureStillAcknowledges(t *testing.T) {
	p := binder.ProtocolAIDL2
	fwd := &recordingForwarder{err: relay.ErrEndpointGone}
	obj := binder.NewLocalObject(Interface, p, NewService(context.Background(), fwd, nil))

	reply, status := obj.Dispatch(binder.Transaction{Code: TransactionOpen}, request(p, "com.example"))
	assert.Equal(t, binder.StatusOK, status)
	assert.Equal(t, StatusOK, replyStatus(t, reply, p))
	assert.Len(t, fwd.got(), 1)
}

func TestService_OneWayHasNoReplyBody(t *testing.T) {
	p := binder.ProtocolAIDL3
	fwd := &recordingForwarder{}
	obj := binder.NewLocalObject(Interface, p, NewService(context.Background(), fwd, nil))

	reply, status := obj.Dispatch(binder.Transaction{Code: TransactionClose, Flags: binder.FlagOneWay}, request(p, "com.example"))
	assert.Equal(t, binder.StatusOK, status)
	require.NotNil(t, reply)
	assert.Zero(t, reply.Len())
	assert.Len(t, fwd.got(), 1)
}

func TestService_WrongInterfaceRejected(t *testing.T) {
	p := binder.ProtocolAIDL3
	fwd := &recordingForwarder{}
	obj := binder.NewLocalObject(Interface, p, NewService(context.Background(), fwd, nil))

	w := binder.NewWriter(p)
	w.WriteInterfaceToken("android.os.IServiceManager")
	w.WriteString16("com.example")

	_, status := obj.Dispatch(binder.Transaction{Code: TransactionOpen}, w.Bytes())
	assert.Equal(t, binder.StatusBadType, status)
	assert.Empty(t, fwd.got())
}

// Events for one package reach its endpoint in the order they arrived.
func TestService_DeliversThroughRelayInOrder(t *testing.T) {
	p := binder.ProtocolAIDL3
	r := relay.New(relay.NewMemoryTransport(), relay.Options{})
	ctx := context.Background()

	claim, err := r.ClaimExclusive(ctx, "com.example")
	require.NoError(t, err)
	defer claim.Release()

	obj := binder.NewLocalObject(Interface, p, NewService(ctx, r, nil))

	want := []appevent.Kind{appevent.Open, appevent.Close, appevent.Open, appevent.Close}
	go func() {
		for _, k := range want {
			code := TransactionOpen
			if k == appevent.Close {
				code = TransactionClose
			}
			obj.Dispatch(binder.Transaction{Code: code}, request(p, "com.example"))
		}
	}()

	for i, k := range want {
		select {
		case got := <-claim.Events():
			assert.Equal(t, k, got, "event %d", i)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}
