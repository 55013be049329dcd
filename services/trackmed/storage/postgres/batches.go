// Copyright (C) 2025 TrackMed (engineering@trackmed.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/neutron420/Trackmed-sub000/services/trackmed/datatypes"
)

const batchColumns = `
	b.id, b.batch_hash, b.batch_number, b.manufacturer_id, b.medicine_id,
	b.manufacturing_date, b.expiry_date, b.status, b.lifecycle_status,
	b.quantity, b.remaining_quantity, b.ledger_tx_ref, b.ledger_address,
	b.invoice_number, b.invoice_date, b.gst_number,
	b.warehouse_location, b.warehouse_address, b.image_url,
	b.created_at, b.updated_at,
	mf.id, mf.name, mf.license_number, mf.address, mf.city, mf.state,
	mf.country, mf.wallet_address, mf.is_verified,
	md.id, md.name, md.generic_name, md.strength, md.composition,
	md.dosage_form, md.mrp, md.image_url`

const batchJoin = `
	FROM batches b
	JOIN manufacturers mf ON mf.id = b.manufacturer_id
	JOIN medicines md ON md.id = b.medicine_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(row rowScanner) (*datatypes.Batch, error) {
	var (
		b  datatypes.Batch
		mf datatypes.Manufacturer
		md datatypes.Medicine

		ledgerTxRef, ledgerAddress, invoiceNumber, gstNumber sql.NullString
		warehouseLoc, warehouseAddr, batchImage              sql.NullString
		invoiceDate                                          sql.NullTime
		mfAddress, mfCity, mfState, mfCountry                sql.NullString
		mdGeneric, mdStrength, mdComposition, mdForm         sql.NullString
		mdImage                                              sql.NullString
	)

	err := row.Scan(
		&b.ID, &b.BatchHash, &b.BatchNumber, &b.ManufacturerID, &b.MedicineID,
		&b.ManufacturingDate, &b.ExpiryDate, &b.Status, &b.LifecycleStatus,
		&b.Quantity, &b.RemainingQuantity, &ledgerTxRef, &ledgerAddress,
		&invoiceNumber, &invoiceDate, &gstNumber,
		&warehouseLoc, &warehouseAddr, &batchImage,
		&b.CreatedAt, &b.UpdatedAt,
		&mf.ID, &mf.Name, &mf.LicenseNumber, &mfAddress, &mfCity, &mfState,
		&mfCountry, &mf.WalletAddress, &mf.IsVerified,
		&md.ID, &md.Name, &mdGeneric, &mdStrength, &mdComposition,
		&mdForm, &md.MRP, &mdImage,
	)
	if err != nil {
		return nil, err
	}

	b.LedgerTxRef = fromNullString(ledgerTxRef)
	b.LedgerAddress = fromNullString(ledgerAddress)
	b.InvoiceNumber = fromNullString(invoiceNumber)
	b.InvoiceDate = fromNullTime(invoiceDate)
	b.GSTNumber = fromNullString(gstNumber)
	b.WarehouseLocation = fromNullString(warehouseLoc)
	b.WarehouseAddress = fromNullString(warehouseAddr)
	b.ImageURL = fromNullString(batchImage)

	mf.Address = fromNullString(mfAddress)
	mf.City = fromNullString(mfCity)
	mf.State = fromNullString(mfState)
	mf.Country = fromNullString(mfCountry)

	md.GenericName = fromNullString(mdGeneric)
	md.Strength = fromNullString(mdStrength)
	md.Composition = fromNullString(mdComposition)
	md.DosageForm = fromNullString(mdForm)
	md.ImageURL = fromNullString(mdImage)

	b.Manufacturer = &mf
	b.Medicine = &md
	return &b, nil
}

// InsertBatch persists a fully-populated batch row. Returns
// datatypes.ErrDuplicate when the batch hash already exists, which the
// registration recovery path treats as completion.
func (s *Store) InsertBatch(ctx context.Context, b *datatypes.Batch) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO batches (
			id, batch_hash, batch_number, manufacturer_id, medicine_id,
			manufacturing_date, expiry_date, status, lifecycle_status,
			quantity, remaining_quantity, ledger_tx_ref, ledger_address,
			invoice_number, invoice_date, gst_number,
			warehouse_location, warehouse_address, image_url,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)`,
		b.ID, b.BatchHash, b.BatchNumber, b.ManufacturerID, b.MedicineID,
		b.ManufacturingDate, b.ExpiryDate, b.Status, b.LifecycleStatus,
		b.Quantity, b.RemainingQuantity, nullString(b.LedgerTxRef), nullString(b.LedgerAddress),
		nullString(b.InvoiceNumber), nullTime(b.InvoiceDate), nullString(b.GSTNumber),
		nullString(b.WarehouseLocation), nullString(b.WarehouseAddress), nullString(b.ImageURL),
		b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("batch %s: %w", b.BatchHash, datatypes.ErrDuplicate)
		}
		return fmt.Errorf("postgres: insert batch: %w", err)
	}
	return nil
}

// BatchByHash loads a batch with its manufacturer and medicine joined.
func (s *Store) BatchByHash(ctx context.Context, hash string) (*datatypes.Batch, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+batchColumns+batchJoin+` WHERE b.batch_hash = $1`, hash)
	b, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("batch %s: %w", hash, datatypes.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: batch by hash: %w", err)
	}
	return b, nil
}

// BatchByID loads a batch by row ID with joins.
func (s *Store) BatchByID(ctx context.Context, id string) (*datatypes.Batch, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+batchColumns+batchJoin+` WHERE b.id = $1`, id)
	b, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("batch %s: %w", id, datatypes.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: batch by id: %w", err)
	}
	return b, nil
}

// UpdateBatchStatus sets the validity status and, optionally, records the
// ledger transaction reference of the update.
func (s *Store) UpdateBatchStatus(ctx context.Context, id string, status datatypes.BatchStatus, txRef string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE batches
		SET status = $1,
		    ledger_tx_ref = COALESCE(NULLIF($2, ''), ledger_tx_ref),
		    updated_at = now()
		WHERE id = $3`,
		status, txRef, id)
	if err != nil {
		return fmt.Errorf("postgres: update batch status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: update batch status: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("batch %s: %w", id, datatypes.ErrNotFound)
	}
	return nil
}

// TryReserve decrements remaining quantity iff enough stock exists. The
// WHERE clause carries the availability check so concurrent reservations
// serialize on the row without a read-modify-write race.
func (s *Store) TryReserve(ctx context.Context, batchID string, qty int) error {
	return tryReserveExec(ctx, s.db, batchID, qty)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func tryReserveExec(ctx context.Context, ex execer, batchID string, qty int) error {
	res, err := ex.ExecContext(ctx, `
		UPDATE batches
		SET remaining_quantity = remaining_quantity - $1, updated_at = now()
		WHERE id = $2 AND remaining_quantity >= $1`,
		qty, batchID)
	if err != nil {
		return fmt.Errorf("postgres: reserve stock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: reserve stock: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("batch %s qty %d: %w", batchID, qty, datatypes.ErrInventoryConflict)
	}
	return nil
}

func restoreQuantityExec(ctx context.Context, ex execer, batchID string, qty int) error {
	_, err := ex.ExecContext(ctx, `
		UPDATE batches
		SET remaining_quantity = remaining_quantity + $1, updated_at = now()
		WHERE id = $2`,
		qty, batchID)
	if err != nil {
		return fmt.Errorf("postgres: restore stock: %w", err)
	}
	return nil
}

// ManufacturerByID loads one manufacturer row.
func (s *Store) ManufacturerByID(ctx context.Context, id string) (*datatypes.Manufacturer, error) {
	var (
		m                          datatypes.Manufacturer
		address, city, state, ctry sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, license_number, address, city, state, country,
		       wallet_address, is_verified
		FROM manufacturers WHERE id = $1`, id).
		Scan(&m.ID, &m.Name, &m.LicenseNumber, &address, &city, &state, &ctry,
			&m.WalletAddress, &m.IsVerified)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("manufacturer %s: %w", id, datatypes.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: manufacturer by id: %w", err)
	}
	m.Address = fromNullString(address)
	m.City = fromNullString(city)
	m.State = fromNullString(state)
	m.Country = fromNullString(ctry)
	return &m, nil
}
