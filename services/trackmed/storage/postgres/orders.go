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
	"time"

	"github.com/neutron420/Trackmed-sub000/services/trackmed/datatypes"
)

// CreateOrder atomically persists an order: the order row, its items,
// one conditional stock decrement per item, and the cart item cleanup
// all commit or none do. A decrement touching zero rows aborts the whole
// transaction with ErrInventoryConflict, so an order only ever exists
// with its stock fully reserved.
func (s *Store) CreateOrder(ctx context.Context, o *datatypes.Order, cartID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO orders (
				id, order_number, user_id, address_id,
				subtotal, tax, delivery_fee, total,
				status, payment_status, payment_method,
				notes, prescription_url, estimated_delivery,
				created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
			o.ID, o.OrderNumber, o.UserID, o.AddressID,
			o.Subtotal, o.Tax, o.DeliveryFee, o.Total,
			o.Status, o.PaymentStatus, nullString(o.PaymentMethod),
			nullString(o.Notes), nullString(o.PrescriptionURL), nullTime(o.EstimatedDelivery),
			o.CreatedAt, o.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("order %s: %w", o.OrderNumber, datatypes.ErrDuplicate)
			}
			return fmt.Errorf("postgres: insert order: %w", err)
		}

		for _, item := range o.Items {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO order_items (
					id, order_id, batch_id, medicine_name, medicine_strength,
					quantity, unit_price, total_price
				) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
				item.ID, o.ID, item.BatchID, item.MedicineName, nullString(item.MedicineStrength),
				item.Quantity, item.UnitPrice, item.TotalPrice,
			); err != nil {
				return fmt.Errorf("postgres: insert order item: %w", err)
			}
			if err := tryReserveExec(ctx, tx, item.BatchID, item.Quantity); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM cart_items WHERE cart_id = $1`, cartID); err != nil {
			return fmt.Errorf("postgres: clear cart in order tx: %w", err)
		}
		return nil
	})
}

// CancelOrder atomically marks the order cancelled and restores every
// item's reserved quantity. The status guard in the WHERE clause keeps
// two concurrent cancellations from restoring stock twice.
func (s *Store) CancelOrder(ctx context.Context, o *datatypes.Order, paymentStatus datatypes.PaymentStatus, reason string, at time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE orders
			SET status = $1, payment_status = $2,
			    cancelled_at = $3, cancellation_reason = $4, updated_at = $3
			WHERE id = $5 AND status IN ($6, $7, $8)`,
			datatypes.OrderCancelled, paymentStatus, at, nullString(reason),
			o.ID, datatypes.OrderPending, datatypes.OrderConfirmed, datatypes.OrderProcessing)
		if err != nil {
			return fmt.Errorf("postgres: cancel order: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("postgres: cancel order: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("order %s: %w", o.ID, datatypes.ErrCannotCancel)
		}

		for _, item := range o.Items {
			if err := restoreQuantityExec(ctx, tx, item.BatchID, item.Quantity); err != nil {
				return err
			}
		}
		return nil
	})
}

// SetPayment records the payment method and the opaque gateway ids
// minted at payment initiation. The payment-status guard in the WHERE
// clause rejects an initiation that lost a race with a confirmation or
// cancellation; a retry while still PENDING re-mints the ids.
func (s *Store) SetPayment(ctx context.Context, orderID, method, paymentID, paymentRef string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET payment_method = $1, payment_id = $2, payment_ref = $3, updated_at = now()
		WHERE id = $4 AND payment_status = $5`,
		method, paymentID, paymentRef, orderID, datatypes.PaymentPending)
	if err != nil {
		return fmt.Errorf("postgres: set payment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: set payment: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("order %s payment not pending: %w", orderID, datatypes.ErrAlreadyProcessed)
	}
	return nil
}

// ConfirmPayment marks the order paid and confirmed and stamps the
// estimated delivery date. The status guard keeps a late gateway
// callback from resurrecting a cancelled order whose stock was already
// restored.
func (s *Store) ConfirmPayment(ctx context.Context, orderID string, eta time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET payment_status = $1, status = $2, estimated_delivery = $3, updated_at = now()
		WHERE id = $4 AND status <> $5`,
		datatypes.PaymentPaid, datatypes.OrderConfirmed, eta, orderID, datatypes.OrderCancelled)
	if err != nil {
		return fmt.Errorf("postgres: confirm payment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: confirm payment: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("order %s missing or cancelled: %w", orderID, datatypes.ErrAlreadyProcessed)
	}
	return nil
}

const orderColumns = `
	id, order_number, user_id, address_id,
	subtotal, tax, delivery_fee, total,
	status, payment_status, payment_method, payment_id, payment_ref,
	notes, prescription_url, estimated_delivery,
	cancelled_at, cancellation_reason, created_at, updated_at`

func scanOrder(row rowScanner) (*datatypes.Order, error) {
	var (
		o                                datatypes.Order
		method, payID, payRef            sql.NullString
		notes, prescription, cancelWhy   sql.NullString
		estimatedDelivery, cancelledAt   sql.NullTime
	)
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.UserID, &o.AddressID,
		&o.Subtotal, &o.Tax, &o.DeliveryFee, &o.Total,
		&o.Status, &o.PaymentStatus, &method, &payID, &payRef,
		&notes, &prescription, &estimatedDelivery,
		&cancelledAt, &cancelWhy, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.PaymentMethod = fromNullString(method)
	o.PaymentID = fromNullString(payID)
	o.PaymentRef = fromNullString(payRef)
	o.Notes = fromNullString(notes)
	o.PrescriptionURL = fromNullString(prescription)
	o.EstimatedDelivery = fromNullTime(estimatedDelivery)
	o.CancelledAt = fromNullTime(cancelledAt)
	o.CancellationReason = fromNullString(cancelWhy)
	return &o, nil
}

func (s *Store) loadOrderItems(ctx context.Context, o *datatypes.Order) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, batch_id, medicine_name, medicine_strength,
		       quantity, unit_price, total_price
		FROM order_items WHERE order_id = $1 ORDER BY id`, o.ID)
	if err != nil {
		return fmt.Errorf("postgres: order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			item     datatypes.OrderItem
			strength sql.NullString
		)
		if err := rows.Scan(
			&item.ID, &item.OrderID, &item.BatchID, &item.MedicineName, &strength,
			&item.Quantity, &item.UnitPrice, &item.TotalPrice,
		); err != nil {
			return fmt.Errorf("postgres: order item row: %w", err)
		}
		item.MedicineStrength = fromNullString(strength)
		o.Items = append(o.Items, item)
	}
	return rows.Err()
}

// OrderForUser loads an order with items, scoped to the owning user.
func (s *Store) OrderForUser(ctx context.Context, userID, orderID string) (*datatypes.Order, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 AND user_id = $2`, orderID, userID)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", orderID, datatypes.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: order for user: %w", err)
	}
	if err := s.loadOrderItems(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// OrderByID loads an order with items without user scoping. Used by the
// payment gateway callback, which authenticates by payment reference.
func (s *Store) OrderByID(ctx context.Context, orderID string) (*datatypes.Order, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", orderID, datatypes.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: order by id: %w", err)
	}
	if err := s.loadOrderItems(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// OrdersForUser returns a page of the user's orders, newest first, with
// the total count. Items are loaded per order; pages are small.
func (s *Store) OrdersForUser(ctx context.Context, userID string, limit, offset int) ([]datatypes.Order, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM orders WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("postgres: count orders: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("postgres: list orders: %w", err)
	}
	defer rows.Close()

	var orders []datatypes.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("postgres: order row: %w", err)
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("postgres: list orders: %w", err)
	}

	for i := range orders {
		if err := s.loadOrderItems(ctx, &orders[i]); err != nil {
			return nil, 0, err
		}
	}
	return orders, total, nil
}
