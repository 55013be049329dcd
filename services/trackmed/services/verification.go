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
	"time"

	"github.com/neutron420/Trackmed-sub000/services/trackmed/datatypes"
	"github.com/neutron420/Trackmed-sub000/services/trackmed/ledger"
	"github.com/neutron420/Trackmed-sub000/services/trackmed/observability"
)

// VerificationStore is the persistence surface the reconciler needs.
type VerificationStore interface {
	BatchByHash(ctx context.Context, hash string) (*datatypes.Batch, error)
	BatchByID(ctx context.Context, id string) (*datatypes.Batch, error)
	QRCodeByCode(ctx context.Context, code string) (*datatypes.QRCode, error)
}

// ScanContext carries who scanned and from what device. All fields are
// optional.
type ScanContext struct {
	UserID   string
	Device   datatypes.DeviceInfo
	ScanType datatypes.ScanType
}

// VerificationService reconciles the relational store against the
// ledger.
//
// # Description
//
// The local row is consulted first: a hash with no local row is a 404
// and triggers no ledger call, so probing cannot be used to enumerate
// the ledger. When a local row exists, the ledger record is fetched at
// the derived address and the batch counts as verified only when the
// two sources agree on status, the ledger marks it valid, and it is not
// expired. Disagreement is reported, never auto-corrected.
type VerificationService struct {
	store   VerificationStore
	gw      ledger.Gateway
	scans   ScanRecorder
	logger  *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewVerificationService wires the reconciler.
func NewVerificationService(store VerificationStore, gw ledger.Gateway, scans ScanRecorder, logger *slog.Logger, metrics *observability.Metrics) *VerificationService {
	return &VerificationService{
		store:   store,
		gw:      gw,
		scans:   scans,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// WithClock overrides the time source. Testing only.
func (s *VerificationService) WithClock(now func() time.Time) *VerificationService {
	s.now = now
	return s
}

// VerifyBatch verifies a batch by its hash and returns the client-safe
// projection. The scan is logged best-effort regardless of outcome.
func (s *VerificationService) VerifyBatch(ctx context.Context, hash string, sc ScanContext) (*datatypes.VerifiedBatch, error) {
	b, err := s.store.BatchByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, datatypes.ErrNotFound) {
			s.metrics.RecordVerification("not_found")
		}
		return nil, err
	}
	return s.verify(ctx, b, nil, sc), nil
}

// VerifyQR verifies the batch behind a printed unit code. An unknown
// code is ErrNotFound; a deactivated one is ErrQRInactive. Neither
// reaches the ledger.
func (s *VerificationService) VerifyQR(ctx context.Context, code string, sc ScanContext) (*datatypes.VerifiedBatch, error) {
	qr, err := s.store.QRCodeByCode(ctx, code)
	if err != nil {
		if errors.Is(err, datatypes.ErrNotFound) {
			s.metrics.RecordVerification("not_found")
		}
		return nil, err
	}
	if !qr.IsActive {
		return nil, fmt.Errorf("qr %s: %w", qr.ID, datatypes.ErrQRInactive)
	}

	b, err := s.store.BatchByID(ctx, qr.BatchID)
	if err != nil {
		return nil, err
	}
	ref := &datatypes.QRRef{ID: qr.ID, UnitNumber: qr.UnitNumber}
	return s.verify(ctx, b, ref, sc), nil
}

// verify runs the reconciliation against the ledger and projects the
// result. Never fails: a gateway fault degrades to unverified.
func (s *VerificationService) verify(ctx context.Context, b *datatypes.Batch, qr *datatypes.QRRef, sc ScanContext) *datatypes.VerifiedBatch {
	now := s.now()

	var (
		verified bool
		reason   string
		result   string
	)

	address := b.LedgerAddress
	if address == "" && b.Manufacturer != nil {
		address = ledger.Derive(b.Manufacturer.WalletAddress, b.BatchHash)
	}

	rec, err := s.gw.GetBatch(ctx, address)
	switch {
	case err != nil:
		// Absent record and unreachable ledger collapse into the same
		// client-facing answer; the distinction stays in logs/metrics.
		reason = datatypes.ReasonNotOnLedger
		result = "no_ledger"
		if !errors.Is(err, ledger.ErrNotFound) {
			s.logger.Warn("ledger fetch failed during verification",
				"batch_hash", b.BatchHash, "error", err)
		}
	case string(rec.Status) == b.Status.LedgerString() && rec.Valid() && !rec.Expired(now):
		verified = true
		result = "verified"
	default:
		reason = datatypes.ReasonStatusMismatch
		result = "mismatch"
	}
	s.metrics.RecordVerification(result)

	s.scans.Log(datatypes.ScanLog{
		QRCodeID:       qrID(qr),
		BatchID:        b.ID,
		UserID:         sc.UserID,
		Device:         sc.Device,
		ScanType:       sc.ScanType,
		LedgerVerified: verified,
		StatusSnapshot: string(b.Status),
	})

	return s.project(b, qr, verified, reason, now)
}

func qrID(qr *datatypes.QRRef) string {
	if qr == nil {
		return ""
	}
	return qr.ID
}

// project builds the client-safe view: no row IDs, no wallet address,
// ledger references echoed as opaque strings.
func (s *VerificationService) project(b *datatypes.Batch, qr *datatypes.QRRef, verified bool, reason string, now time.Time) *datatypes.VerifiedBatch {
	out := &datatypes.VerifiedBatch{
		BatchHash:         b.BatchHash,
		BatchNumber:       b.BatchNumber,
		Status:            b.Status,
		LifecycleStatus:   b.LifecycleStatus,
		ManufacturingDate: b.ManufacturingDate,
		ExpiryDate:        b.ExpiryDate,
		IsExpired:         b.Expired(now),
		DaysUntilExpiry:   b.DaysUntilExpiry(now),
		LedgerTxRef:       b.LedgerTxRef,
		LedgerAddress:     b.LedgerAddress,
		IsVerified:        verified,
		VerificationError: reason,
		CanPurchase:       verified && b.RemainingQuantity > 0 && !b.Expired(now),
		AvailableQuantity: b.RemainingQuantity,
		QR:                qr,
	}
	if b.Medicine != nil {
		out.Medicine = datatypes.VerifiedMedicine{
			Name:        b.Medicine.Name,
			GenericName: b.Medicine.GenericName,
			Strength:    b.Medicine.Strength,
			Composition: b.Medicine.Composition,
			DosageForm:  b.Medicine.DosageForm,
			MRP:         b.Medicine.MRP,
			ImageURL:    b.Medicine.ImageURL,
		}
	}
	if b.Manufacturer != nil {
		out.Manufacturer = datatypes.VerifiedManufacturer{
			Name:          b.Manufacturer.Name,
			LicenseNumber: b.Manufacturer.LicenseNumber,
			Address:       b.Manufacturer.Address,
			City:          b.Manufacturer.City,
			State:         b.Manufacturer.State,
			Country:       b.Manufacturer.Country,
			IsVerified:    b.Manufacturer.IsVerified,
		}
	}
	return out
}
