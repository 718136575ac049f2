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

package errors

import (
	"fmt"
	"time"
)

// ValidationError represents user input validation failures.
// Use this for malformed package names, bad CLI arguments or constraint violations.
type ValidationError struct {
	// Field identifies which input field failed validation
	Field string

	// Message is the human-readable error description
	Message string

	// Suggestion provides actionable guidance for fixing the error
	Suggestion string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// ConfigError represents configuration problems.
// Use this for configuration file errors, missing settings, or invalid config values.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "binder.device", "launch.timeout")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// TimeoutError represents a bounded wait that elapsed.
// The launch watchdog returns it when an app never reports that it opened.
type TimeoutError struct {
	// Operation describes what timed out (e.g., "app launch", "service lookup")
	Operation string

	// Duration is how long the operation ran before timing out
	Duration time.Duration

	// Cause is the underlying error (if any)
	Cause error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s operation timed out after %v", e.Operation, e.Duration)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// IsUserVisible implements UserVisibleError.
func (e *TimeoutError) IsUserVisible() bool { return true }

// UserMessage implements UserVisibleError.
func (e *TimeoutError) UserMessage() string {
	if e.Operation == "app launch" {
		return "App didn't start in time"
	}
	return e.Error()
}

// Suggestion implements UserVisibleError.
func (e *TimeoutError) Suggestion() string { return "" }

// TransportError reports that a bus or binder endpoint could not be reached at all.
// The launch path treats an unreachable session bus as a cue to cold start a
// session rather than as a hard failure.
type TransportError struct {
	// Transport names the IPC mechanism ("session bus", "system bus", "binder")
	Transport string

	// Target is the bus name, service name or device path that was addressed
	Target string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("%s unreachable (%s): %v", e.Transport, e.Target, e.Cause)
	}
	return fmt.Sprintf("%s unreachable: %v", e.Transport, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *TransportError) Unwrap() error {
	return e.Cause
}

// SessionError reports that the container session is absent or unusable.
type SessionError struct {
	// State is the session state reported by the container manager, if any
	State string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *SessionError) Error() string {
	if e.State != "" {
		return fmt.Sprintf("waydroid session unavailable (state %s)", e.State)
	}
	if e.Cause != nil {
		return fmt.Sprintf("waydroid session unavailable: %v", e.Cause)
	}
	return "waydroid session unavailable"
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *SessionError) Unwrap() error {
	return e.Cause
}

// IsUserVisible implements UserVisibleError.
func (e *SessionError) IsUserVisible() bool { return true }

// UserMessage implements UserVisibleError.
func (e *SessionError) UserMessage() string { return "WayDroid session is stopped" }

// Suggestion implements UserVisibleError.
func (e *SessionError) Suggestion() string { return "Start it with 'waydroid session start'" }

// RegistrationError reports that the binder service manager refused a service registration.
type RegistrationError struct {
	// Service is the binder service name being registered
	Service string

	// Status is the status code returned by the service manager
	Status int32

	// Cause is the underlying transport error, if the call itself failed
	Cause error
}

// Error implements the error interface.
func (e *RegistrationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("failed to add service %s: %v", e.Service, e.Cause)
	}
	return fmt.Sprintf("failed to add service %s: status %d", e.Service, e.Status)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *RegistrationError) Unwrap() error {
	return e.Cause
}

// ProtocolError reports a binder transaction that could not be decoded.
type ProtocolError struct {
	// Code is the transaction code received
	Code uint32

	// Reason explains what was wrong with the transaction
	Reason string

	// Cause is the underlying decode error, if any
	Cause error
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error on transaction %d: %s", e.Code, e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ProtocolError) Unwrap() error {
	return e.Cause
}
