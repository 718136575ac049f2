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
	"log/slog"

	"github.com/waydroid/appmonitor/internal/appevent"
	"github.com/waydroid/appmonitor/internal/binder"
	"github.com/waydroid/appmonitor/internal/log"
	"github.com/waydroid/appmonitor/internal/metrics"
)

// Forwarder delivers decoded events to whoever is waiting for them.
type Forwarder interface {
	Forward(ctx context.Context, ev appevent.Event) error
}

// Service answers the transactions of the monitor's binder object. Each
// event is forwarded before the reply is sent, so the caller's next
// transaction cannot overtake it.
type Service struct {
	forwarder  Forwarder
	logger     *slog.Logger
	middleware *log.TransactionMiddleware
	base       context.Context
}

// NewService returns a handler forwarding to f. Forward calls run under
// ctx, so cancelling it aborts deliveries still in flight.
func NewService(ctx context.Context, f Forwarder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = log.Discard()
	}
	logger = log.WithComponent(logger, "monitor")
	return &Service{
		forwarder:  f,
		logger:     logger,
		middleware: log.NewTransactionMiddleware(logger),
		base:       ctx,
	}
}

// HandleTransaction implements binder.Handler. It always writes a status.
func (s *Service) HandleTransaction(tx binder.Transaction, req *binder.Reader, reply *binder.Writer) error {
	rec := &log.TransactionRecord{Code: tx.Code, SenderPID: int(tx.SenderPID)}
	_ = s.middleware.Handle(rec, func(rec *log.TransactionRecord) error {
		status, err := s.handle(tx.Code, req, rec)
		rec.Status = status.String()
		if !tx.OneWay() {
			EncodeReply(reply, status)
		}
		return err
	})
	return nil
}

// handle decodes and forwards one event. The returned error is a failed
// delivery; it never changes the status.
func (s *Service) handle(code uint32, req *binder.Reader, rec *log.TransactionRecord) (Status, error) {
	ev, err := Decode(code, req)
	status := StatusOK
	var ferr error
	switch {
	case err != nil:
		s.logger.Warn("malformed transaction", slog.Uint64(log.TransactionKey, uint64(code)), log.Error(err))
		status = StatusBadParcel

	case ev.Kind == appevent.Unknown:
		s.logger.Warn("unsupported transaction code", slog.Uint64(log.TransactionKey, uint64(code)))
		status = StatusUnsupported

	default:
		rec.Event = ev.Kind.String()
		rec.Package = ev.PackageName
		ferr = s.forwarder.Forward(s.base, ev)
	}

	metrics.RecordTransaction(ev.Kind.String(), status.String())
	return status, ferr
}

var _ binder.Handler = (*Service)(nil)
