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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neutron420/Trackmed-sub000/services/trackmed/datatypes"
	"github.com/neutron420/Trackmed-sub000/services/trackmed/ledger"
)

type fakeVerificationStore struct {
	batchesByHash map[string]*datatypes.Batch
	batchesByID   map[string]*datatypes.Batch
	qrCodes       map[string]*datatypes.QRCode
}

func (s *fakeVerificationStore) BatchByHash(ctx context.Context, hash string) (*datatypes.Batch, error) {
	b, ok := s.batchesByHash[hash]
	if !ok {
		return nil, fmt.Errorf("batch %s: %w", hash, datatypes.ErrNotFound)
	}
	return b, nil
}

func (s *fakeVerificationStore) BatchByID(ctx context.Context, id string) (*datatypes.Batch, error) {
	b, ok := s.batchesByID[id]
	if !ok {
		return nil, fmt.Errorf("batch %s: %w", id, datatypes.ErrNotFound)
	}
	return b, nil
}

func (s *fakeVerificationStore) QRCodeByCode(ctx context.Context, code string) (*datatypes.QRCode, error) {
	qr, ok := s.qrCodes[code]
	if !ok {
		return nil, fmt.Errorf("qr code: %w", datatypes.ErrNotFound)
	}
	return qr, nil
}

var verifyNow = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func validBatch() *datatypes.Batch {
	return &datatypes.Batch{
		ID:                "batch-1",
		BatchHash:         "hash-1",
		BatchNumber:       "BN-100",
		Status:            datatypes.BatchValid,
		LifecycleStatus:   datatypes.LifecycleAtPharmacy,
		ManufacturingDate: verifyNow.AddDate(0, -6, 0),
		ExpiryDate:        verifyNow.AddDate(1, 0, 0),
		Quantity:          100,
		RemainingQuantity: 40,
		LedgerTxRef:       "tx-1",
		LedgerAddress:     "addr-1",
		Manufacturer: &datatypes.Manufacturer{
			ID:            "man-1",
			Name:          "Acme Pharma",
			LicenseNumber: "LIC-1",
			WalletAddress: "wallet-1",
			IsVerified:    true,
		},
		Medicine: &datatypes.Medicine{ID: "med-1", Name: "Paracetamol"},
	}
}

func ledgerRecord(status ledger.Status, expiry time.Time) *ledger.Record {
	return &ledger.Record{
		BatchHash:         "hash-1",
		Status:            status,
		ManufacturingDate: verifyNow.AddDate(0, -6, 0).Unix(),
		ExpiryDate:        expiry.Unix(),
	}
}

func newVerificationService(store *fakeVerificationStore, gw *fakeGateway, scans *fakeScanRecorder) *VerificationService {
	return NewVerificationService(store, gw, scans, testLogger(), nil).
		WithClock(func() time.Time { return verifyNow })
}

func TestVerifyBatchReconciliation(t *testing.T) {
	future := verifyNow.AddDate(1, 0, 0)
	past := verifyNow.AddDate(-1, 0, 0)

	cases := []struct {
		name         string
		localStatus  datatypes.BatchStatus
		record       *ledger.Record
		wantVerified bool
		wantReason   string
	}{
		{
			name:         "agreement on valid",
			localStatus:  datatypes.BatchValid,
			record:       ledgerRecord(ledger.StatusValid, future),
			wantVerified: true,
		},
		{
			name:        "local valid ledger recalled",
			localStatus: datatypes.BatchValid,
			record:      ledgerRecord(ledger.StatusRecalled, future),
			wantReason:  datatypes.ReasonStatusMismatch,
		},
		{
			name:        "local recalled ledger valid",
			localStatus: datatypes.BatchRecalled,
			record:      ledgerRecord(ledger.StatusValid, future),
			wantReason:  datatypes.ReasonStatusMismatch,
		},
		{
			name:        "agreement on recalled is still unverified",
			localStatus: datatypes.BatchRecalled,
			record:      ledgerRecord(ledger.StatusRecalled, future),
			wantReason:  datatypes.ReasonStatusMismatch,
		},
		{
			name:        "expired on ledger",
			localStatus: datatypes.BatchValid,
			record:      ledgerRecord(ledger.StatusValid, past),
			wantReason:  datatypes.ReasonStatusMismatch,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := validBatch()
			b.Status = tc.localStatus
			store := &fakeVerificationStore{batchesByHash: map[string]*datatypes.Batch{"hash-1": b}}
			gw := &fakeGateway{record: tc.record}
			scans := &fakeScanRecorder{}

			out, err := newVerificationService(store, gw, scans).
				VerifyBatch(context.Background(), "hash-1", ScanContext{})
			require.NoError(t, err)

			assert.Equal(t, tc.wantVerified, out.IsVerified)
			assert.Equal(t, tc.wantReason, out.VerificationError)

			logs := scans.all()
			require.Len(t, logs, 1, "every verification attempt is scan-logged")
			assert.Equal(t, tc.wantVerified, logs[0].LedgerVerified)
			assert.Equal(t, string(tc.localStatus), logs[0].StatusSnapshot)
		})
	}
}

func TestVerifyBatchUnknownHashSkipsLedger(t *testing.T) {
	store := &fakeVerificationStore{batchesByHash: map[string]*datatypes.Batch{}}
	gw := &fakeGateway{}
	scans := &fakeScanRecorder{}

	_, err := newVerificationService(store, gw, scans).
		VerifyBatch(context.Background(), "unknown", ScanContext{})
	require.True(t, errors.Is(err, datatypes.ErrNotFound))
	assert.Zero(t, gw.getCalls, "unknown hash must not trigger a ledger call")
	assert.Empty(t, scans.all())
}

func TestVerifyBatchLedgerUnavailable(t *testing.T) {
	cases := []struct {
		name   string
		getErr error
	}{
		{"record absent", &ledger.Error{Code: ledger.CodeNotFound, Op: "get_batch", Err: errors.New("no record")}},
		{"ledger unreachable", &ledger.Error{Code: ledger.CodeNetwork, Op: "get_batch", Err: errors.New("dial timeout")}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := &fakeVerificationStore{batchesByHash: map[string]*datatypes.Batch{"hash-1": validBatch()}}
			gw := &fakeGateway{getErr: tc.getErr}
			scans := &fakeScanRecorder{}

			out, err := newVerificationService(store, gw, scans).
				VerifyBatch(context.Background(), "hash-1", ScanContext{})
			require.NoError(t, err, "gateway faults degrade, never fail the response")
			assert.False(t, out.IsVerified)
			assert.Equal(t, datatypes.ReasonNotOnLedger, out.VerificationError)
			assert.False(t, out.CanPurchase)
		})
	}
}

func TestVerifyBatchProjectionIsClientSafe(t *testing.T) {
	b := validBatch()
	store := &fakeVerificationStore{batchesByHash: map[string]*datatypes.Batch{"hash-1": b}}
	gw := &fakeGateway{record: ledgerRecord(ledger.StatusValid, verifyNow.AddDate(1, 0, 0))}

	out, err := newVerificationService(store, gw, &fakeScanRecorder{}).
		VerifyBatch(context.Background(), "hash-1", ScanContext{})
	require.NoError(t, err)

	assert.True(t, out.IsVerified)
	assert.True(t, out.CanPurchase)
	assert.Equal(t, 40, out.AvailableQuantity)
	assert.Equal(t, 365, out.DaysUntilExpiry)
	assert.Equal(t, "tx-1", out.LedgerTxRef)
	assert.Equal(t, "addr-1", out.LedgerAddress)
	assert.Equal(t, "Acme Pharma", out.Manufacturer.Name)
	// The projection type carries no row IDs or wallet address by
	// construction; spot-check the medicine view.
	assert.Equal(t, "Paracetamol", out.Medicine.Name)
}

func TestVerifyBatchExhaustedStockBlocksPurchase(t *testing.T) {
	b := validBatch()
	b.RemainingQuantity = 0
	store := &fakeVerificationStore{batchesByHash: map[string]*datatypes.Batch{"hash-1": b}}
	gw := &fakeGateway{record: ledgerRecord(ledger.StatusValid, verifyNow.AddDate(1, 0, 0))}

	out, err := newVerificationService(store, gw, &fakeScanRecorder{}).
		VerifyBatch(context.Background(), "hash-1", ScanContext{})
	require.NoError(t, err)
	assert.True(t, out.IsVerified)
	assert.False(t, out.CanPurchase)
	assert.Zero(t, out.AvailableQuantity)
}

func TestVerifyQR(t *testing.T) {
	b := validBatch()
	store := &fakeVerificationStore{
		batchesByID: map[string]*datatypes.Batch{"batch-1": b},
		qrCodes: map[string]*datatypes.QRCode{
			"QR-ACTIVE":   {ID: "qr-1", Code: "QR-ACTIVE", BatchID: "batch-1", UnitNumber: 7, IsActive: true},
			"QR-INACTIVE": {ID: "qr-2", Code: "QR-INACTIVE", BatchID: "batch-1", IsActive: false},
		},
	}
	gw := &fakeGateway{record: ledgerRecord(ledger.StatusValid, verifyNow.AddDate(1, 0, 0))}
	scans := &fakeScanRecorder{}
	svc := newVerificationService(store, gw, scans)

	t.Run("active code verifies and logs with qr id", func(t *testing.T) {
		out, err := svc.VerifyQR(context.Background(), "QR-ACTIVE", ScanContext{UserID: "user-9"})
		require.NoError(t, err)
		assert.True(t, out.IsVerified)
		require.NotNil(t, out.QR)
		assert.Equal(t, 7, out.QR.UnitNumber)

		logs := scans.all()
		require.Len(t, logs, 1)
		assert.Equal(t, "qr-1", logs[0].QRCodeID)
		assert.Equal(t, "user-9", logs[0].UserID)
	})

	t.Run("inactive code rejected before ledger", func(t *testing.T) {
		before := gw.getCalls
		_, err := svc.VerifyQR(context.Background(), "QR-INACTIVE", ScanContext{})
		require.True(t, errors.Is(err, datatypes.ErrQRInactive))
		assert.Equal(t, before, gw.getCalls)
	})

	t.Run("unknown code is not found", func(t *testing.T) {
		_, err := svc.VerifyQR(context.Background(), "QR-MISSING", ScanContext{})
		require.True(t, errors.Is(err, datatypes.ErrNotFound))
	})
}
