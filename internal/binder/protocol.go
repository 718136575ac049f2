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

// Package binder speaks the Android binder IPC protocol from a Linux host:
// parcel encoding for the AIDL protocol variants, a kernel driver client for
// binder device nodes, and a service manager client on top of it.
package binder

import (
	"fmt"
	"strings"
)

// Protocol selects how interface tokens and flattened binder objects are
// laid out in a parcel. Each Android release changed the layout.
type Protocol int

const (
	// ProtocolAIDL is used by Android 8.1 and older (API < 28).
	ProtocolAIDL Protocol = iota + 1
	// ProtocolAIDL2 adds the work source header (API 28-29).
	ProtocolAIDL2
	// ProtocolAIDL3 adds the 'SYST' header and binder stability (API 30+).
	ProtocolAIDL3
	// ProtocolAIDL4 encodes stability as a versioned category. Only the
	// Android 12 service manager speaks it.
	ProtocolAIDL4
)

// Interface token header values.
const (
	strictModePenaltyGather = int32(0x40 << 16)
	unsetWorkSource         = int32(-1)
	systemHeader            = int32(0x53595354) // 'SYST'
)

// stabilitySystem is the stability level declared for objects this process
// hosts.
const stabilitySystem = int32(0x0c)

// ParseProtocol parses a protocol name as written in configuration.
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToLower(s) {
	case "aidl":
		return ProtocolAIDL, nil
	case "aidl2":
		return ProtocolAIDL2, nil
	case "aidl3":
		return ProtocolAIDL3, nil
	case "aidl4":
		return ProtocolAIDL4, nil
	default:
		return 0, fmt.Errorf("unknown binder protocol %q", s)
	}
}

// MustParseProtocol is ParseProtocol for values already validated by config.
func MustParseProtocol(s string) Protocol {
	p, err := ParseProtocol(s)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Protocol) String() string {
	switch p {
	case ProtocolAIDL:
		return "aidl"
	case ProtocolAIDL2:
		return "aidl2"
	case ProtocolAIDL3:
		return "aidl3"
	case ProtocolAIDL4:
		return "aidl4"
	default:
		return fmt.Sprintf("Protocol(%d)", int(p))
	}
}

// ProtocolsForAPILevel returns the object and service manager protocols
// matching an Android SDK level as found in ro.build.version.sdk.
func ProtocolsForAPILevel(api int) (object, serviceManager Protocol) {
	switch {
	case api < 28:
		return ProtocolAIDL, ProtocolAIDL
	case api < 30:
		return ProtocolAIDL2, ProtocolAIDL2
	case api < 31:
		return ProtocolAIDL3, ProtocolAIDL3
	default:
		return ProtocolAIDL3, ProtocolAIDL4
	}
}

func (p Protocol) hasWorkSource() bool { return p >= ProtocolAIDL2 }

func (p Protocol) hasHeader() bool { return p >= ProtocolAIDL3 }

func (p Protocol) hasStability() bool { return p >= ProtocolAIDL3 }

// stability returns the int32 written after a flattened binder object.
func (p Protocol) stability() int32 {
	if p == ProtocolAIDL4 {
		// Category{version: 1, level: system} packed little endian.
		return stabilitySystem<<24 | 1
	}
	return stabilitySystem
}
