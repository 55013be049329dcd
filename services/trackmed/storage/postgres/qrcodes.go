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

// QRCodeByCode resolves a printed code to its QR row. Codes are minted
// by the admin surface; this service reads them only.
func (s *Store) QRCodeByCode(ctx context.Context, code string) (*datatypes.QRCode, error) {
	var qr datatypes.QRCode
	err := s.db.QueryRowContext(ctx, `
		SELECT id, code, batch_id, unit_number, is_active
		FROM qr_codes WHERE code = $1`, code).
		Scan(&qr.ID, &qr.Code, &qr.BatchID, &qr.UnitNumber, &qr.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("qr code: %w", datatypes.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: qr code by code: %w", err)
	}
	return &qr, nil
}
