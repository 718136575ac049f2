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
package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var entries []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("expected valid JSON output: %v", err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestLogTransaction(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "debug", Format: FormatJSON, Output: &buf})

	LogTransaction(logger, &TransactionRecord{
		Code:     1,
		Event:    "open",
		Package:  "com.example.app",
		Status:   "ok",
		Duration: 3 * time.Millisecond,
	})

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	entry := entries[0]

	if entry["msg"] != "transaction handled" {
		t.Errorf("unexpected message: %v", entry["msg"])
	}
	if entry[TransactionKey] != float64(1) {
		t.Errorf("expected transaction 1, got %v", entry[TransactionKey])
	}
	if entry[PackageKey] != "com.example.app" {
		t.Errorf("expected package com.example.app, got %v", entry[PackageKey])
	}
	if entry[EventKey] != "open" {
		t.Errorf("expected event open, got %v", entry[EventKey])
	}
	if entry[DurationKey] != float64(3) {
		t.Errorf("expected duration 3ms, got %v", entry[DurationKey])
	}
}

func TestLogTransaction_OmitsUndecodedFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "debug", Format: FormatJSON, Output: &buf})

	LogTransaction(logger, &TransactionRecord{Code: 99, Status: "unsupported"})

	entry := decodeLines(t, &buf)[0]
	if _, ok := entry[PackageKey]; ok {
		t.Error("package should be omitted when not decoded")
	}
	if _, ok := entry[EventKey]; ok {
		t.Error("event should be omitted when not decoded")
	}
}

func TestTransactionMiddleware_Handle(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "trace", Format: FormatJSON, Output: &buf})

	m := NewTransactionMiddleware(logger)
	tick := time.Unix(0, 0)
	m.now = func() time.Time {
		tick = tick.Add(5 * time.Millisecond)
		return tick
	}

	err := m.Handle(&TransactionRecord{Code: 2, SenderPID: 42}, func(rec *TransactionRecord) error {
		rec.Event = "close"
		rec.Package = "com.example.app"
		rec.Status = "ok"
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entries := decodeLines(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("expected start and completion entries, got %d", len(entries))
	}
	if entries[0]["msg"] != "received transaction" || entries[0]["sender_pid"] != float64(42) {
		t.Errorf("unexpected start entry: %v", entries[0])
	}
	if entries[1][EventKey] != "close" {
		t.Errorf("expected handler fields in completion entry, got %v", entries[1])
	}
	if entries[1][DurationKey] != float64(5) {
		t.Errorf("expected duration 5ms, got %v", entries[1][DurationKey])
	}
}

func TestTransactionMiddleware_HandleError(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "debug", Format: FormatJSON, Output: &buf})

	wantErr := errors.New("endpoint gone")
	rec := &TransactionRecord{Code: 1}
	err := NewTransactionMiddleware(logger).Handle(rec, func(rec *TransactionRecord) error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected handler error to be returned, got %v", err)
	}
	if !errors.Is(rec.Err, wantErr) {
		t.Errorf("expected record to carry the error, got %v", rec.Err)
	}

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry at debug level, got %d", len(entries))
	}
	if entries[0]["msg"] != "transaction handled, delivery failed" {
		t.Errorf("unexpected message: %v", entries[0]["msg"])
	}
	if entries[0]["error"] != "endpoint gone" {
		t.Errorf("expected error field, got %v", entries[0]["error"])
	}
}
