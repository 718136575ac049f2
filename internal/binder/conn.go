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

package binder

import (
	"context"
	"errors"
)

var (
	// ErrDeadObject is returned when the target of a transaction has died.
	ErrDeadObject = errors.New("binder: dead object")

	// ErrFailedReply is returned when the kernel could not deliver a
	// transaction or its reply.
	ErrFailedReply = errors.New("binder: failed reply")

	// ErrClosed is returned by operations on a closed connection.
	ErrClosed = errors.New("binder: connection closed")

	// ErrServiceNotFound is returned when the service manager has no
	// service registered under the requested name.
	ErrServiceNotFound = errors.New("binder: service not found")
)

// Conn is an open binder device.
type Conn interface {
	// Transact sends data to handle and waits for the reply. One-way
	// transactions return a nil reader once the kernel accepted them.
	Transact(ctx context.Context, handle, code uint32, data *Writer, flags uint32) (*Reader, error)

	// Publish makes obj reachable for incoming transactions.
	Publish(obj *LocalObject)

	// LinkToDeath returns a channel closed when the node behind handle dies,
	// and a function that cancels the notification.
	LinkToDeath(handle uint32) (<-chan struct{}, func(), error)

	// ReleaseHandle drops the strong reference taken when handle was read
	// from a reply.
	ReleaseHandle(handle uint32)

	// Serve runs the looper that dispatches incoming transactions until ctx
	// is done or the connection is closed.
	Serve(ctx context.Context) error

	Close() error
}

// Remote is a client for a service living in another process.
type Remote struct {
	conn     Conn
	handle   uint32
	iface    string
	protocol Protocol
}

// NewRemote wraps handle as a client for iface.
func NewRemote(conn Conn, handle uint32, iface string, p Protocol) *Remote {
	return &Remote{conn: conn, handle: handle, iface: iface, protocol: p}
}

// Handle returns the remote handle.
func (r *Remote) Handle() uint32 { return r.handle }

// Interface returns the interface descriptor calls are tagged with.
func (r *Remote) Interface() string { return r.iface }

// NewRequest returns a parcel with the interface token already written.
func (r *Remote) NewRequest() *Writer {
	w := NewWriter(r.protocol)
	w.WriteInterfaceToken(r.iface)
	return w
}

// Transact performs a two-way call.
func (r *Remote) Transact(ctx context.Context, code uint32, req *Writer) (*Reader, error) {
	return r.conn.Transact(ctx, r.handle, code, req, 0)
}

// Ping checks that the remote node is alive.
func (r *Remote) Ping(ctx context.Context) error {
	_, err := r.conn.Transact(ctx, r.handle, pingTransaction, NewWriter(r.protocol), 0)
	return err
}

// Release drops the reference held on the remote node.
func (r *Remote) Release() {
	if r.handle != 0 {
		r.conn.ReleaseHandle(r.handle)
	}
}
