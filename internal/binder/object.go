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
	"errors"
	"fmt"
	"sync/atomic"
)

// Transaction codes handled by every binder object.
const (
	// FirstCallTransaction is the first code available to AIDL methods.
	FirstCallTransaction = uint32(1)

	pingTransaction      = uint32(0x5f504e47) // '_PNG'
	interfaceTransaction = uint32(0x5f4e5446) // '_NTF'
)

// Transaction flags.
const (
	FlagOneWay     = uint32(0x01)
	flagStatusCode = uint32(0x08)
)

// Status values (status_t) sent in status-only replies.
const (
	StatusOK                 = int32(0)
	StatusUnknownError       = int32(-2147483648)
	StatusBadType            = int32(-2147483647)
	StatusUnknownTransaction = int32(-74)
	StatusDeadObject         = int32(-32)
)

// Transaction describes an incoming call on a local object.
type Transaction struct {
	Code       uint32
	Flags      uint32
	SenderPID  int32
	SenderEUID uint32
}

// OneWay reports whether the caller expects no reply.
func (t Transaction) OneWay() bool {
	return t.Flags&FlagOneWay != 0
}

// Handler serves the transactions of a local object. The request reader is
// positioned after the interface token. Anything written to reply is sent
// back to the caller; a returned *StatusError is sent as a status-only reply.
type Handler interface {
	HandleTransaction(tx Transaction, req *Reader, reply *Writer) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(tx Transaction, req *Reader, reply *Writer) error

// HandleTransaction calls f.
func (f HandlerFunc) HandleTransaction(tx Transaction, req *Reader, reply *Writer) error {
	return f(tx, req, reply)
}

// StatusError carries a status_t back to a caller instead of a reply parcel.
type StatusError struct {
	Status int32
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("binder: status %d", e.Status)
}

var nextObjectID atomic.Uint64

// LocalObject is a binder node hosted by this process.
type LocalObject struct {
	iface    string
	protocol Protocol
	handler  Handler
	ptr      uint64
}

// NewLocalObject creates an object implementing iface. Incoming parcels are
// decoded, and replies encoded, using protocol p.
func NewLocalObject(iface string, p Protocol, h Handler) *LocalObject {
	return &LocalObject{
		iface:    iface,
		protocol: p,
		handler:  h,
		ptr:      nextObjectID.Add(1) << 4,
	}
}

// Interface returns the AIDL interface descriptor of the object.
func (o *LocalObject) Interface() string { return o.iface }

// ID returns the node address the kernel knows the object by.
func (o *LocalObject) ID() uint64 { return o.ptr }

// Dispatch runs one incoming transaction against the object. It returns
// either a reply parcel with StatusOK or a nil parcel with the status to
// send instead.
func (o *LocalObject) Dispatch(tx Transaction, data []byte) (*Writer, int32) {
	reply := NewWriter(o.protocol)

	switch tx.Code {
	case pingTransaction:
		return reply, StatusOK
	case interfaceTransaction:
		reply.WriteString16(o.iface)
		return reply, StatusOK
	}

	req := NewReader(data, o.protocol)
	iface, err := req.ReadInterfaceToken()
	if err != nil || iface != o.iface {
		return nil, StatusBadType
	}

	if err := o.handler.HandleTransaction(tx, req, reply); err != nil {
		var se *StatusError
		if errors.As(err, &se) {
			return nil, se.Status
		}
		return nil, StatusUnknownError
	}
	return reply, StatusOK
}
