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

package shared

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	apperrors "github.com/waydroid/appmonitor/pkg/errors"
)

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: ExitSuccess},
		{name: "plain error", err: errors.New("boom"), want: ExitLaunchFailed},
		{
			name: "launch timeout",
			err:  fmt.Errorf("launching: %w", &apperrors.TimeoutError{Operation: "app launch"}),
			want: ExitLaunchTimeout,
		},
		{name: "stopped session", err: &apperrors.SessionError{State: "STOPPED"}, want: ExitSessionStopped},
		{name: "config", err: &apperrors.ConfigError{Key: "validation", Reason: "bad"}, want: ExitConfigError},
		{
			name: "explicit exit error wins",
			err:  NewConfigError("loading", &apperrors.SessionError{State: "STOPPED"}),
			want: ExitConfigError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCodeFor(tt.err); got != tt.want {
				t.Errorf("ExitCodeFor() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPrintError_UserVisible(t *testing.T) {
	var buf bytes.Buffer
	err := fmt.Errorf("launch com.example: %w", &apperrors.SessionError{State: "STOPPED"})

	PrintError(&buf, err)

	out := buf.String()
	if !strings.HasPrefix(out, "Error: WayDroid session is stopped\n") {
		t.Errorf("expected user message line, got %q", out)
	}
	if !strings.Contains(out, "Suggestion: Start it with 'waydroid session start'") {
		t.Errorf("expected suggestion, got %q", out)
	}
}

func TestPrintError_PlainError(t *testing.T) {
	var buf bytes.Buffer
	PrintError(&buf, errors.New("some internal error"))

	if buf.String() != "Error: some internal error\n" {
		t.Errorf("unexpected output %q", buf.String())
	}
}

func TestExitError_Unwrap(t *testing.T) {
	innerErr := errors.New("inner error")
	exitErr := NewLaunchError("launch failed", innerErr)

	if errors.Unwrap(exitErr) != innerErr {
		t.Errorf("expected unwrapped error to be innerErr")
	}
	if exitErr.Error() != "launch failed: inner error" {
		t.Errorf("unexpected message %q", exitErr.Error())
	}
}
