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
	"log/slog"

	"github.com/neutron420/Trackmed-sub000/services/trackmed/datatypes"
	"github.com/neutron420/Trackmed-sub000/services/trackmed/events"
	"github.com/neutron420/Trackmed-sub000/services/trackmed/ledger"
)

// StatusStore is the persistence surface status updates need.
type StatusStore interface {
	BatchByHash(ctx context.Context, hash string) (*datatypes.Batch, error)
	UpdateBatchStatus(ctx context.Context, id string, status datatypes.BatchStatus, txRef string) error
}

// StatusService applies dual-write status transitions, ledger first.
// Any ledger failure aborts before the local row is touched, so the
// local store can lag the ledger but never contradict a transition the
// ledger refused.
type StatusService struct {
	store  StatusStore
	gw     ledger.Gateway
	sink   events.Sink
	logger *slog.Logger
}

// NewStatusService wires the status update flow.
func NewStatusService(store StatusStore, gw ledger.Gateway, sink events.Sink, logger *slog.Logger) *StatusService {
	return &StatusService{store: store, gw: gw, sink: sink, logger: logger}
}

// UpdateStatus transitions a batch's validity status for the
// authenticated caller.
//
// # Outputs
//
//   - *datatypes.Batch: the batch with the new status applied
//   - error: ErrValidation, ErrNotFound, ErrOwnershipMismatch, or a
//     *ledger.Error (local row untouched).
func (s *StatusService) UpdateStatus(ctx context.Context, caller, batchHash string, status datatypes.BatchStatus) (*datatypes.Batch, error) {
	if status != datatypes.BatchValid && status != datatypes.BatchRecalled {
		return nil, fmt.Errorf("status %q: %w", status, datatypes.ErrValidation)
	}

	b, err := s.store.BatchByHash(ctx, batchHash)
	if err != nil {
		return nil, err
	}
	if b.Manufacturer == nil || b.Manufacturer.WalletAddress != caller {
		return nil, fmt.Errorf("batch %s: %w", batchHash, datatypes.ErrOwnershipMismatch)
	}

	res, err := s.gw.UpdateStatus(ctx, caller, batchHash, ledger.Status(status.LedgerString()))
	if err != nil {
		return nil, fmt.Errorf("update status of %s on ledger: %w", batchHash, err)
	}

	if err := s.store.UpdateBatchStatus(ctx, b.ID, status, res.TxRef); err != nil {
		// Ledger already moved; verification reports the mismatch until
		// an operator replays the local update.
		s.logger.Error("local status update failed after ledger commit",
			"batch_hash", batchHash, "ledger_tx", res.TxRef, "error", err)
		return nil, err
	}

	b.Status = status
	b.LedgerTxRef = res.TxRef

	s.sink.Publish(events.New(events.BatchStatusUpdated, map[string]string{
		"batchHash":   b.BatchHash,
		"status":      string(status),
		"ledgerTxRef": res.TxRef,
	}))
	s.logger.Info("batch status updated",
		"batch_hash", batchHash, "status", string(status), "ledger_tx", res.TxRef)
	return b, nil
}
