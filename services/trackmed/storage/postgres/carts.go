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

	"github.com/google/uuid"

	"github.com/neutron420/Trackmed-sub000/services/trackmed/datatypes"
)

// CartForUser returns the user's cart, creating an empty one on first
// touch. The unique user_id constraint makes concurrent first touches
// converge on a single row.
func (s *Store) CartForUser(ctx context.Context, userID string) (*datatypes.Cart, error) {
	var cart datatypes.Cart
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id FROM carts WHERE user_id = $1`, userID).
		Scan(&cart.ID, &cart.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		cart = datatypes.Cart{ID: uuid.NewString(), UserID: userID}
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO carts (id, user_id) VALUES ($1, $2)
			 ON CONFLICT (user_id) DO NOTHING`, cart.ID, cart.UserID)
		if err != nil {
			return nil, fmt.Errorf("postgres: create cart: %w", err)
		}
		// Re-read in case a concurrent insert won the conflict.
		err = s.db.QueryRowContext(ctx,
			`SELECT id, user_id FROM carts WHERE user_id = $1`, userID).
			Scan(&cart.ID, &cart.UserID)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: cart for user: %w", err)
	}
	return &cart, nil
}

// CartWithItems loads the cart with each item's batch (manufacturer and
// medicine joined) for pricing and availability reads.
func (s *Store) CartWithItems(ctx context.Context, userID string) (*datatypes.Cart, error) {
	cart, err := s.CartForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT ci.id, ci.cart_id, ci.batch_id, ci.quantity, `+batchColumns+`
		FROM cart_items ci
		JOIN batches b ON b.id = ci.batch_id
		JOIN manufacturers mf ON mf.id = b.manufacturer_id
		JOIN medicines md ON md.id = b.medicine_id
		WHERE ci.cart_id = $1
		ORDER BY ci.id`, cart.ID)
	if err != nil {
		return nil, fmt.Errorf("postgres: cart items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item datatypes.CartItem
		batch, err := scanCartItemRow(rows, &item)
		if err != nil {
			return nil, fmt.Errorf("postgres: cart item row: %w", err)
		}
		item.Batch = batch
		cart.Items = append(cart.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: cart items: %w", err)
	}
	return cart, nil
}

// scanCartItemRow scans the cart item columns followed by the joined
// batch columns.
func scanCartItemRow(rows *sql.Rows, item *datatypes.CartItem) (*datatypes.Batch, error) {
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

	err := rows.Scan(
		&item.ID, &item.CartID, &item.BatchID, &item.Quantity,
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

// UpsertCartItem adds a batch to the cart or replaces the quantity if it
// is already present.
func (s *Store) UpsertCartItem(ctx context.Context, cartID, batchID string, quantity int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cart_items (id, cart_id, batch_id, quantity)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (cart_id, batch_id) DO UPDATE SET quantity = EXCLUDED.quantity`,
		uuid.NewString(), cartID, batchID, quantity)
	if err != nil {
		return fmt.Errorf("postgres: upsert cart item: %w", err)
	}
	return nil
}

// RemoveCartItem deletes one item from the cart.
func (s *Store) RemoveCartItem(ctx context.Context, cartID, batchID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cart_items WHERE cart_id = $1 AND batch_id = $2`, cartID, batchID)
	if err != nil {
		return fmt.Errorf("postgres: remove cart item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: remove cart item: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("cart item: %w", datatypes.ErrNotFound)
	}
	return nil
}

// ClearCart removes every item from the cart.
func (s *Store) ClearCart(ctx context.Context, cartID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM cart_items WHERE cart_id = $1`, cartID); err != nil {
		return fmt.Errorf("postgres: clear cart: %w", err)
	}
	return nil
}

// AddressForUser loads an address and confirms it belongs to the user.
func (s *Store) AddressForUser(ctx context.Context, userID, addressID string) (*datatypes.Address, error) {
	var (
		a            datatypes.Address
		line2, phone sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, line1, line2, city, state, postal_code, phone, is_default
		FROM addresses WHERE id = $1 AND user_id = $2`, addressID, userID).
		Scan(&a.ID, &a.UserID, &a.Line1, &line2, &a.City, &a.State, &a.PostalCode, &phone, &a.IsDefault)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("address %s: %w", addressID, datatypes.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: address for user: %w", err)
	}
	a.Line2 = fromNullString(line2)
	a.Phone = fromNullString(phone)
	return &a, nil
}
