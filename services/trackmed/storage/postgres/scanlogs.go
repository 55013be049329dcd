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
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/neutron420/Trackmed-sub000/services/trackmed/datatypes"
)

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func fromNullDecimal(nd decimal.NullDecimal) *decimal.Decimal {
	if !nd.Valid {
		return nil
	}
	d := nd.Decimal
	return &d
}

// InsertScanLog appends one scan event.
func (s *Store) InsertScanLog(ctx context.Context, sl *datatypes.ScanLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scan_logs (
			id, qr_code_id, batch_id, user_id,
			device_id, device_model, device_os, app_version,
			location_lat, location_lng, location_address,
			scan_type, ledger_verified, status_snapshot, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		sl.ID, nullString(sl.QRCodeID), sl.BatchID, nullString(sl.UserID),
		nullString(sl.Device.DeviceID), nullString(sl.Device.DeviceModel),
		nullString(sl.Device.DeviceOS), nullString(sl.Device.AppVersion),
		nullDecimal(sl.Device.LocationLat), nullDecimal(sl.Device.LocationLng),
		nullString(sl.Device.LocationAddress),
		sl.ScanType, sl.LedgerVerified, nullString(sl.StatusSnapshot), sl.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert scan log: %w", err)
	}
	return nil
}

// ScansForBatch returns a page of scan events for a batch, newest first,
// with the total count for pagination.
func (s *Store) ScansForBatch(ctx context.Context, batchID string, limit, offset int) ([]datatypes.ScanLog, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM scan_logs WHERE batch_id = $1`, batchID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("postgres: count scans: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, qr_code_id, batch_id, user_id,
		       device_id, device_model, device_os, app_version,
		       location_lat, location_lng, location_address,
		       scan_type, ledger_verified, status_snapshot, created_at
		FROM scan_logs
		WHERE batch_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, batchID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("postgres: list scans: %w", err)
	}
	defer rows.Close()

	var scans []datatypes.ScanLog
	for rows.Next() {
		var (
			sl                                       datatypes.ScanLog
			qrCodeID, userID                         sql.NullString
			devID, devModel, devOS, appVer, locAddr  sql.NullString
			statusSnapshot                           sql.NullString
			lat, lng                                 decimal.NullDecimal
		)
		if err := rows.Scan(
			&sl.ID, &qrCodeID, &sl.BatchID, &userID,
			&devID, &devModel, &devOS, &appVer,
			&lat, &lng, &locAddr,
			&sl.ScanType, &sl.LedgerVerified, &statusSnapshot, &sl.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("postgres: scan row: %w", err)
		}
		sl.QRCodeID = fromNullString(qrCodeID)
		sl.UserID = fromNullString(userID)
		sl.StatusSnapshot = fromNullString(statusSnapshot)
		sl.Device = datatypes.DeviceInfo{
			DeviceID:        fromNullString(devID),
			DeviceModel:     fromNullString(devModel),
			DeviceOS:        fromNullString(devOS),
			AppVersion:      fromNullString(appVer),
			LocationLat:     fromNullDecimal(lat),
			LocationLng:     fromNullDecimal(lng),
			LocationAddress: fromNullString(locAddr),
		}
		scans = append(scans, sl)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("postgres: list scans: %w", err)
	}
	return scans, total, nil
}
