// Copyright (C) 2025 TrackMed (engineering@trackmed.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/neutron420/Trackmed-sub000/services/trackmed/datatypes"
	"github.com/neutron420/Trackmed-sub000/services/trackmed/events"
	"github.com/neutron420/Trackmed-sub000/services/trackmed/ledger"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeGateway is a scripted ledger.
type fakeGateway struct {
	mu sync.Mutex

	record      *ledger.Record
	getErr      error
	registerRes *ledger.RegisterResult
	registerErr error
	updateRes   *ledger.UpdateResult
	updateErr   error

	getCalls      int
	registerCalls int
	updateCalls   int
}

func (g *fakeGateway) RegisterBatch(ctx context.Context, owner, batchHash string, manufactured, expiry time.Time) (*ledger.RegisterResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.registerCalls++
	if g.registerErr != nil {
		return nil, g.registerErr
	}
	if g.registerRes != nil {
		return g.registerRes, nil
	}
	return &ledger.RegisterResult{
		TxRef:   "tx-" + batchHash,
		Address: ledger.Derive(owner, batchHash),
	}, nil
}

func (g *fakeGateway) UpdateStatus(ctx context.Context, owner, batchHash string, status ledger.Status) (*ledger.UpdateResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.updateCalls++
	if g.updateErr != nil {
		return nil, g.updateErr
	}
	if g.updateRes != nil {
		return g.updateRes, nil
	}
	return &ledger.UpdateResult{TxRef: "tx-update-" + batchHash}, nil
}

func (g *fakeGateway) GetBatch(ctx context.Context, address string) (*ledger.Record, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.getCalls++
	if g.getErr != nil {
		return nil, g.getErr
	}
	if g.record == nil {
		return nil, &ledger.Error{Code: ledger.CodeNotFound, Op: "get_batch", Err: fmt.Errorf("no record")}
	}
	return g.record, nil
}

// fakeSink captures published events.
type fakeSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *fakeSink) Publish(e events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *fakeSink) types() []events.Type {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []events.Type
	for _, e := range s.events {
		out = append(out, e.Type)
	}
	return out
}

// fakeScanRecorder captures scan log entries synchronously.
type fakeScanRecorder struct {
	mu   sync.Mutex
	logs []datatypes.ScanLog
}

func (r *fakeScanRecorder) Log(sl datatypes.ScanLog) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, sl)
}

func (r *fakeScanRecorder) all() []datatypes.ScanLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]datatypes.ScanLog(nil), r.logs...)
}
