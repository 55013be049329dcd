// Copyright (C) 2025 TrackMed (engineering@trackmed.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Status is the ledger's own status vocabulary for a batch record.
type Status string

const (
	StatusValid    Status = "Valid"
	StatusRecalled Status = "Recalled"
)

// ErrorCode classifies gateway failures for callers that branch on
// failure mode without parsing messages.
type ErrorCode string

const (
	CodeNetwork      ErrorCode = "network"
	CodeUnauthorized ErrorCode = "unauthorized"
	CodeRejected     ErrorCode = "rejected"
	CodeNotFound     ErrorCode = "not_found"
)

// ErrNotFound indicates no record exists at the requested address.
var ErrNotFound = errors.New("ledger: record not found")

// Error is the tagged error returned by gateway operations.
type Error struct {
	Code ErrorCode
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("ledger: %s: %s: %v", e.Op, e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrNotFound) match not-found gateway errors
// without unwrapping into the transport error.
func (e *Error) Is(target error) bool {
	return target == ErrNotFound && e.Code == CodeNotFound
}

// Record is a batch record as stored on the ledger. Timestamps are unix
// seconds, matching the ledger's native representation.
type Record struct {
	BatchHash            string `json:"batchHash"`
	ManufacturerIdentity string `json:"manufacturerIdentity"`
	ManufacturingDate    int64  `json:"manufacturingDate"`
	ExpiryDate           int64  `json:"expiryDate"`
	Status               Status `json:"status"`
	CreatedAt            int64  `json:"createdAt"`
	UpdatedAt            int64  `json:"updatedAt"`
}

// Expired reports whether the record is past its expiry at the given
// instant, using the ledger's strict unix-second comparison.
func (r *Record) Expired(now time.Time) bool {
	return now.Unix() > r.ExpiryDate
}

// Valid reports whether the record's status is the ledger's Valid.
func (r *Record) Valid() bool {
	return r.Status == StatusValid
}

// RegisterResult carries the opaque references minted by a successful
// registration. Callers persist them verbatim and never interpret them.
type RegisterResult struct {
	TxRef   string
	Address string
}

// UpdateResult carries the transaction reference of a status update.
type UpdateResult struct {
	TxRef string
}

// Gateway is the ledger client surface.
//
// # Description
//
// Operations perform no internal retries; callers own retry policy and
// deadlines via ctx. Failures are returned as *Error with a Code, so a
// caller can distinguish a rejection (safe to surface) from a network
// fault (record may or may not exist).
type Gateway interface {
	// RegisterBatch creates the batch record on the ledger.
	RegisterBatch(ctx context.Context, owner, batchHash string, manufactured, expiry time.Time) (*RegisterResult, error)

	// UpdateStatus transitions the record's status.
	UpdateStatus(ctx context.Context, owner, batchHash string, status Status) (*UpdateResult, error)

	// GetBatch fetches the record at a derived address. Returns an error
	// matching ErrNotFound when no record exists there.
	GetBatch(ctx context.Context, address string) (*Record, error)
}
