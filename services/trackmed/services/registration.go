// Copyright (C) 2025 TrackMed (engineering@trackmed.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/neutron420/Trackmed-sub000/services/trackmed/datatypes"
	"github.com/neutron420/Trackmed-sub000/services/trackmed/events"
	"github.com/neutron420/Trackmed-sub000/services/trackmed/ledger"
	"github.com/neutron420/Trackmed-sub000/services/trackmed/observability"
	"github.com/neutron420/Trackmed-sub000/services/trackmed/storage/journal"
)

// maxBatchHashLen mirrors the ledger program's seed-length limit.
const maxBatchHashLen = 64

// recoverConcurrency bounds parallel local inserts during a sweep.
const recoverConcurrency = 4

// RegistrationStore is the persistence surface registration needs.
type RegistrationStore interface {
	ManufacturerByID(ctx context.Context, id string) (*datatypes.Manufacturer, error)
	InsertBatch(ctx context.Context, b *datatypes.Batch) error
}

// RegistrationJournal persists pending-local-write markers across the
// ledger-to-database window.
type RegistrationJournal interface {
	Put(ctx context.Context, e journal.Entry) error
	Delete(ctx context.Context, batchHash string) error
	List(ctx context.Context) ([]journal.Entry, error)
}

// RegistrationInput is the business payload of a registration request.
type RegistrationInput struct {
	BatchHash         string
	BatchNumber       string
	ManufacturerID    string
	MedicineID        string
	ManufacturingDate time.Time
	ExpiryDate        time.Time
	Quantity          int
	InvoiceNumber     string
	InvoiceDate       *time.Time
	GSTNumber         string
	WarehouseLocation string
	WarehouseAddress  string
	ImageURL          string
}

// RegistrationService creates batches ledger-first.
//
// # Description
//
// The ledger write happens before the relational insert and the
// operation fails closed: a ledger failure aborts with no local row, so
// a batch never exists locally without a ledger reference. Between the
// two writes a journal marker covers the inconsistency window; the
// RecoverPending sweep replays markers whose local insert never
// committed.
type RegistrationService struct {
	store   RegistrationStore
	journal RegistrationJournal
	gw      ledger.Gateway
	sink    events.Sink
	logger  *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewRegistrationService wires the registration flow.
func NewRegistrationService(store RegistrationStore, jrnl RegistrationJournal, gw ledger.Gateway, sink events.Sink, logger *slog.Logger, metrics *observability.Metrics) *RegistrationService {
	return &RegistrationService{
		store:   store,
		journal: jrnl,
		gw:      gw,
		sink:    sink,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// WithClock overrides the time source. Testing only.
func (s *RegistrationService) WithClock(now func() time.Time) *RegistrationService {
	s.now = now
	return s
}

func (s *RegistrationService) validate(in RegistrationInput) error {
	switch {
	case in.BatchHash == "":
		return fmt.Errorf("batch hash is required: %w", datatypes.ErrValidation)
	case len(in.BatchHash) > maxBatchHashLen:
		return fmt.Errorf("batch hash exceeds %d characters: %w", maxBatchHashLen, datatypes.ErrValidation)
	case in.BatchNumber == "":
		return fmt.Errorf("batch number is required: %w", datatypes.ErrValidation)
	case in.Quantity <= 0:
		return fmt.Errorf("quantity must be positive: %w", datatypes.ErrValidation)
	case !in.ExpiryDate.After(in.ManufacturingDate):
		return fmt.Errorf("expiry must follow manufacturing date: %w", datatypes.ErrValidation)
	case !in.ExpiryDate.After(s.now()):
		return fmt.Errorf("expiry must be in the future: %w", datatypes.ErrValidation)
	}
	return nil
}

// Register creates a batch for the authenticated caller.
//
// # Inputs
//
//   - caller: the wallet identity proven by the request signature
//   - in: the business payload
//
// # Outputs
//
//   - *datatypes.Batch: the created batch with ledger references
//   - error: ErrValidation, ErrNotFound (manufacturer),
//     ErrOwnershipMismatch, a *ledger.Error, or a store error. A store
//     error after ledger success leaves a journal marker for recovery.
func (s *RegistrationService) Register(ctx context.Context, caller string, in RegistrationInput) (*datatypes.Batch, error) {
	if err := s.validate(in); err != nil {
		return nil, err
	}

	man, err := s.store.ManufacturerByID(ctx, in.ManufacturerID)
	if err != nil {
		return nil, err
	}
	if man.WalletAddress != caller {
		return nil, fmt.Errorf("manufacturer %s: %w", in.ManufacturerID, datatypes.ErrOwnershipMismatch)
	}

	res, err := s.gw.RegisterBatch(ctx, caller, in.BatchHash, in.ManufacturingDate, in.ExpiryDate)
	if err != nil {
		s.metrics.RecordRegistration("ledger_error")
		return nil, fmt.Errorf("register batch %s on ledger: %w", in.BatchHash, err)
	}

	now := s.now().UTC()
	b := &datatypes.Batch{
		ID:                uuid.NewString(),
		BatchHash:         in.BatchHash,
		BatchNumber:       in.BatchNumber,
		ManufacturerID:    in.ManufacturerID,
		MedicineID:        in.MedicineID,
		ManufacturingDate: in.ManufacturingDate,
		ExpiryDate:        in.ExpiryDate,
		Status:            datatypes.BatchValid,
		LifecycleStatus:   datatypes.LifecycleInProduction,
		Quantity:          in.Quantity,
		RemainingQuantity: in.Quantity,
		LedgerTxRef:       res.TxRef,
		LedgerAddress:     res.Address,
		InvoiceNumber:     in.InvoiceNumber,
		InvoiceDate:       in.InvoiceDate,
		GSTNumber:         in.GSTNumber,
		WarehouseLocation: in.WarehouseLocation,
		WarehouseAddress:  in.WarehouseAddress,
		ImageURL:          in.ImageURL,
		CreatedAt:         now,
		UpdatedAt:         now,
		Manufacturer:      man,
	}

	// Marker first: from here until the insert commits, the ledger
	// knows the batch and the database does not.
	entry := journal.Entry{BatchHash: b.BatchHash, Batch: *b, CreatedAt: now}
	if err := s.journal.Put(ctx, entry); err != nil {
		s.logger.Error("journal marker write failed, window uncovered",
			"batch_hash", b.BatchHash, "error", err)
	}

	if err := s.store.InsertBatch(ctx, b); err != nil {
		s.metrics.RecordRegistration("local_error")
		s.logger.Error("local insert failed after ledger commit, marker retained",
			"batch_hash", b.BatchHash, "ledger_tx", res.TxRef, "error", err)
		return nil, fmt.Errorf("persist batch %s: %w", b.BatchHash, err)
	}

	if err := s.journal.Delete(ctx, b.BatchHash); err != nil {
		// Recovery will replay and hit the duplicate, which it treats
		// as completion.
		s.logger.Warn("journal marker delete failed", "batch_hash", b.BatchHash, "error", err)
	}

	s.metrics.RecordRegistration("ok")
	s.sink.Publish(events.New(events.BatchRegistered, map[string]string{
		"batchHash":      b.BatchHash,
		"batchNumber":    b.BatchNumber,
		"manufacturerId": b.ManufacturerID,
		"ledgerTxRef":    b.LedgerTxRef,
	}))
	s.logger.Info("batch registered",
		"batch_hash", b.BatchHash, "ledger_tx", b.LedgerTxRef, "quantity", b.Quantity)
	return b, nil
}

// RecoverPending replays journal markers whose local insert never
// committed. Safe to run concurrently with live registrations: a marker
// whose batch already exists completes via the duplicate path. Returns
// the number of markers cleared.
func (s *RegistrationService) RecoverPending(ctx context.Context) (int, error) {
	entries, err := s.journal.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list journal: %w", err)
	}
	s.metrics.SetJournalPending(len(entries))
	if len(entries) == 0 {
		return 0, nil
	}

	var recovered atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(recoverConcurrency)

	for _, e := range entries {
		g.Go(func() error {
			b := e.Batch
			err := s.store.InsertBatch(ctx, &b)
			if err != nil && !errors.Is(err, datatypes.ErrDuplicate) {
				// Marker stays for the next sweep.
				s.logger.Error("journal recovery insert failed",
					"batch_hash", e.BatchHash, "error", err)
				return nil
			}
			if err := s.journal.Delete(ctx, e.BatchHash); err != nil {
				s.logger.Warn("journal marker delete failed during recovery",
					"batch_hash", e.BatchHash, "error", err)
				return nil
			}
			recovered.Add(1)
			s.metrics.RecordRegistration("recovered")
			s.logger.Info("registration recovered from journal", "batch_hash", e.BatchHash)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(recovered.Load()), err
	}

	s.metrics.SetJournalPending(len(entries) - int(recovered.Load()))
	return int(recovered.Load()), nil
}
