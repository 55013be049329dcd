// Copyright (C) 2025 TrackMed (engineering@trackmed.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "errors"

// Error taxonomy shared across the service layer. Handlers map these onto
// HTTP statuses; services return them wrapped with context via %w so
// callers match with errors.Is.
var (
	// ErrNotFound indicates the referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates caller-supplied data failed a business rule.
	ErrValidation = errors.New("validation failed")

	// ErrUnauthorized indicates the request carried no acceptable
	// ownership proof.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrOwnershipMismatch indicates an authenticated caller attempting
	// an operation on a batch owned by a different manufacturer identity.
	ErrOwnershipMismatch = errors.New("caller does not own this batch")

	// ErrInventoryConflict indicates a conditional stock decrement found
	// insufficient remaining quantity at commit time.
	ErrInventoryConflict = errors.New("insufficient remaining quantity")

	// ErrAlreadyProcessed indicates a state transition was already
	// performed (duplicate payment initiation, repeated cancellation).
	ErrAlreadyProcessed = errors.New("already processed")

	// ErrCannotCancel indicates the order has advanced past the
	// cancellable statuses.
	ErrCannotCancel = errors.New("order can no longer be cancelled")

	// ErrEmptyCart indicates order creation was attempted with no items.
	ErrEmptyCart = errors.New("cart is empty")

	// ErrInvalidAddress indicates the delivery address does not exist or
	// does not belong to the ordering user.
	ErrInvalidAddress = errors.New("invalid delivery address")

	// ErrItemsUnavailable indicates one or more cart items cannot be
	// fulfilled (recalled, expired, or out of stock).
	ErrItemsUnavailable = errors.New("items unavailable")

	// ErrQRInactive indicates the scanned QR code exists but has been
	// deactivated.
	ErrQRInactive = errors.New("qr code deactivated")

	// ErrDuplicate indicates a uniqueness constraint was violated
	// (batch hash, order number).
	ErrDuplicate = errors.New("duplicate record")
)
