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
	"context"
	"log/slog"
	"time"
)

// TransactionRecord describes one binder transaction for logging purposes.
// Handlers fill in what they learn while processing it.
type TransactionRecord struct {
	// Code is the transaction code.
	Code uint32

	// SenderPID is the calling process as reported by the driver.
	SenderPID int

	// Event and Package are set once the payload is decoded.
	Event   string
	Package string

	// Status is the reply status name.
	Status string

	// Err is a failure past the reply, such as a lost delivery.
	Err error

	// Duration is set by the middleware.
	Duration time.Duration
}

// LogTransactionStart logs a transaction as it arrives, at trace level.
func LogTransactionStart(logger *slog.Logger, rec *TransactionRecord) {
	Trace(logger, "received transaction",
		slog.Uint64(TransactionKey, uint64(rec.Code)),
		slog.Int("sender_pid", rec.SenderPID))
}

// LogTransaction logs a handled transaction at debug level.
func LogTransaction(logger *slog.Logger, rec *TransactionRecord) {
	attrs := []slog.Attr{
		slog.Uint64(TransactionKey, uint64(rec.Code)),
		slog.String("status", rec.Status),
		slog.Int64(DurationKey, rec.Duration.Milliseconds()),
	}
	if rec.Event != "" {
		attrs = append(attrs, slog.String(EventKey, rec.Event))
	}
	if rec.Package != "" {
		attrs = append(attrs, slog.String(PackageKey, rec.Package))
	}

	message := "transaction handled"
	if rec.Err != nil {
		attrs = append(attrs, Error(rec.Err))
		message = "transaction handled, delivery failed"
	}

	logger.LogAttrs(context.Background(), slog.LevelDebug, message, attrs...)
}

// TransactionMiddleware wraps a transaction handler with logging.
type TransactionMiddleware struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewTransactionMiddleware creates a transaction logging middleware.
func NewTransactionMiddleware(logger *slog.Logger) *TransactionMiddleware {
	return &TransactionMiddleware{
		logger: logger,
		now:    time.Now,
	}
}

// Handle logs rec, runs handler and logs rec again with the duration once
// handler returns.
func (m *TransactionMiddleware) Handle(rec *TransactionRecord, handler func(rec *TransactionRecord) error) error {
	start := m.now()
	LogTransactionStart(m.logger, rec)

	err := handler(rec)

	rec.Duration = m.now().Sub(start)
	if err != nil && rec.Err == nil {
		rec.Err = err
	}
	LogTransaction(m.logger, rec)

	return err
}
