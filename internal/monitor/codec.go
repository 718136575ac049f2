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

// Package monitor hosts the binder service apps inside the container call
// when they open or close, and keeps it registered while the container's
// service manager comes and goes.
package monitor

import (
	"github.com/waydroid/appmonitor/internal/appevent"
	"github.com/waydroid/appmonitor/internal/binder"
	apperrors "github.com/waydroid/appmonitor/pkg/errors"
)

const (
	// ServiceName is the name the service is registered under.
	ServiceName = "waydroidappmonitor"

	// Interface is the AIDL descriptor callers tag their transactions with.
	Interface = "vendor.waydroid.appmonitor.IAppMonitor"

	// TransactionOpen carries Open(String packageName).
	TransactionOpen = binder.FirstCallTransaction
	// TransactionClose carries Close(String packageName).
	TransactionClose = binder.FirstCallTransaction + 1
)

// Status is the int32 every transaction is answered with.
type Status int32

const (
	StatusOK Status = 0

	// StatusUnsupported answers a transaction code the interface does not
	// define.
	StatusUnsupported Status = -1

	// StatusBadParcel answers a transaction whose package name could not
	// be read.
	StatusBadParcel Status = -2
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusUnsupported:
		return "unsupported"
	case StatusBadParcel:
		return "bad_parcel"
	default:
		return "unknown"
	}
}

// Decode turns one transaction into an event. Codes outside the interface
// decode to an Unknown event without error; a payload that cannot be read
// returns a *ProtocolError.
func Decode(code uint32, r *binder.Reader) (appevent.Event, error) {
	var kind appevent.Kind
	switch code {
	case TransactionOpen:
		kind = appevent.Open
	case TransactionClose:
		kind = appevent.Close
	default:
		return appevent.Event{Kind: appevent.Unknown, Code: code}, nil
	}

	pkg, err := r.ReadString16()
	if err != nil {
		return appevent.Event{Kind: appevent.Unknown, Code: code}, &apperrors.ProtocolError{
			Code:   code,
			Reason: "unreadable package name",
			Cause:  err,
		}
	}
	return appevent.Event{Kind: kind, PackageName: pkg, Code: code}, nil
}

// EncodeReply writes the reply body for status.
func EncodeReply(w *binder.Writer, status Status) {
	w.WriteInt32(int32(status))
}
