// Copyright (C) 2025 TrackMed (engineering@trackmed.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ledger is the gateway to the append-only provenance ledger. It
// derives deterministic record addresses and exposes the three remote
// operations (register, update status, fetch) behind the Gateway
// interface so the rest of the service never speaks the wire protocol.
package ledger

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/neutron420/Trackmed-sub000/pkg/identity"
)

// addressSeed namespaces batch records within the ledger address space.
const addressSeed = "batch"

// Derive computes the ledger address of a batch record from its owner
// identity and batch hash.
//
// # Description
//
// Pure and deterministic: SHA-256 over the fixed seed, the owner's
// identity bytes, and the batch hash. The same (owner, hash) pair always
// yields the same address, so an address can be recomputed from local
// data without a ledger round trip. No network access, no clock, no
// randomness.
//
// # Inputs
//
//   - ownerIdentity: the manufacturer's wallet identity string
//   - batchHash: the unique batch content hash
//
// # Outputs
//
//   - string: 64-char lowercase hex address
func Derive(ownerIdentity, batchHash string) string {
	h := sha256.New()
	h.Write([]byte(addressSeed))
	h.Write(identity.Bytes(ownerIdentity))
	h.Write([]byte(batchHash))
	return hex.EncodeToString(h.Sum(nil))
}
