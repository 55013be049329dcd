// Copyright (C) 2025 TrackMed (engineering@trackmed.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package services holds the TrackMed business logic: batch
// registration, status updates, verification reconciliation, scan
// logging, and the cart/order engine. Each service owns a narrow store
// interface so logic tests run against in-memory fakes.
package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/neutron420/Trackmed-sub000/services/trackmed/datatypes"
	"github.com/neutron420/Trackmed-sub000/services/trackmed/observability"
)

// Pagination describes one page of a list response.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// NewPagination computes page metadata from a total row count.
func NewPagination(page, limit, total int) Pagination {
	pages := total / limit
	if total%limit != 0 {
		pages++
	}
	return Pagination{Page: page, Limit: limit, Total: total, TotalPages: pages}
}

// ScanStore is the persistence surface the scan logger needs.
type ScanStore interface {
	InsertScanLog(ctx context.Context, sl *datatypes.ScanLog) error
	ScansForBatch(ctx context.Context, batchID string, limit, offset int) ([]datatypes.ScanLog, int, error)
}

// ScanRecorder accepts scan events without blocking. The verification
// reconciler depends on this rather than the concrete logger.
type ScanRecorder interface {
	Log(sl datatypes.ScanLog)
}

// ScanLogger appends scan events asynchronously. A verification response
// must never wait on, or fail because of, the audit write: Log hands the
// entry to a buffered channel and returns; a background writer drains it.
// When the buffer is full the entry is dropped and counted.
type ScanLogger struct {
	store   ScanStore
	logger  *slog.Logger
	metrics *observability.Metrics
	ch      chan datatypes.ScanLog
	done    chan struct{}
}

// NewScanLogger builds the logger. Start must be called for entries to
// reach the store. Buffer defaults to 1024 when non-positive.
func NewScanLogger(store ScanStore, logger *slog.Logger, metrics *observability.Metrics, buffer int) *ScanLogger {
	if buffer <= 0 {
		buffer = 1024
	}
	return &ScanLogger{
		store:   store,
		logger:  logger,
		metrics: metrics,
		ch:      make(chan datatypes.ScanLog, buffer),
		done:    make(chan struct{}),
	}
}

// Log queues a scan entry, filling in ID and timestamp when absent.
// Never blocks; drops on a full buffer.
func (l *ScanLogger) Log(sl datatypes.ScanLog) {
	if sl.ID == "" {
		sl.ID = uuid.NewString()
	}
	if sl.CreatedAt.IsZero() {
		sl.CreatedAt = time.Now().UTC()
	}
	if sl.ScanType == "" {
		sl.ScanType = datatypes.ScanVerification
	}

	select {
	case l.ch <- sl:
	default:
		l.metrics.RecordScanDrop()
		l.logger.Warn("scan log entry dropped, buffer full", "batch_id", sl.BatchID)
	}
}

// Start runs the background writer until ctx is cancelled, then drains
// whatever is already queued.
func (l *ScanLogger) Start(ctx context.Context) {
	go func() {
		defer close(l.done)
		for {
			select {
			case <-ctx.Done():
				l.drain()
				return
			case sl := <-l.ch:
				l.write(sl)
			}
		}
	}()
}

// Done is closed once the writer has exited.
func (l *ScanLogger) Done() <-chan struct{} {
	return l.done
}

func (l *ScanLogger) drain() {
	for {
		select {
		case sl := <-l.ch:
			l.write(sl)
		default:
			return
		}
	}
}

func (l *ScanLogger) write(sl datatypes.ScanLog) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.store.InsertScanLog(ctx, &sl); err != nil {
		l.logger.Error("scan log write failed", "batch_id", sl.BatchID, "error", err)
		return
	}
	l.metrics.RecordScan(string(sl.ScanType))
}

// Scans returns a page of scan history for a batch, newest first.
func (l *ScanLogger) Scans(ctx context.Context, batchID string, page, limit int) ([]datatypes.ScanLog, Pagination, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	scans, total, err := l.store.ScansForBatch(ctx, batchID, limit, (page-1)*limit)
	if err != nil {
		return nil, Pagination{}, err
	}
	return scans, NewPagination(page, limit, total), nil
}
