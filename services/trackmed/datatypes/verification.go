// Copyright (C) 2025 TrackMed (engineering@trackmed.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"time"

	"github.com/shopspring/decimal"
)

// Fixed reasons reported on a failed verification. Kept deliberately
// coarse so responses do not leak which source disagreed.
const (
	ReasonNotOnLedger    = "not verified on ledger"
	ReasonStatusMismatch = "status mismatch or batch invalid"
)

// VerifiedManufacturer is the manufacturer view exposed to consumers.
// The wallet address never leaves the service.
type VerifiedManufacturer struct {
	Name          string `json:"name"`
	LicenseNumber string `json:"licenseNumber"`
	Address       string `json:"address,omitempty"`
	City          string `json:"city,omitempty"`
	State         string `json:"state,omitempty"`
	Country       string `json:"country,omitempty"`
	IsVerified    bool   `json:"isVerified"`
}

// VerifiedMedicine is the catalog view exposed to consumers.
type VerifiedMedicine struct {
	Name        string          `json:"name"`
	GenericName string          `json:"genericName,omitempty"`
	Strength    string          `json:"strength,omitempty"`
	Composition string          `json:"composition,omitempty"`
	DosageForm  string          `json:"dosageForm,omitempty"`
	MRP         decimal.Decimal `json:"mrp"`
	ImageURL    string          `json:"imageUrl,omitempty"`
}

// QRRef identifies the scanned unit when verification entered via a QR
// code rather than a direct hash lookup.
type QRRef struct {
	ID         string `json:"id"`
	UnitNumber int    `json:"unitNumber"`
}

// VerifiedBatch is the client-safe projection returned by the
// verification reconciler. Ledger references are echoed as opaque
// strings; internal row IDs and wallet addresses are withheld.
type VerifiedBatch struct {
	BatchHash         string               `json:"batchHash"`
	BatchNumber       string               `json:"batchNumber"`
	Status            BatchStatus          `json:"status"`
	LifecycleStatus   LifecycleStatus      `json:"lifecycleStatus"`
	ManufacturingDate time.Time            `json:"manufacturingDate"`
	ExpiryDate        time.Time            `json:"expiryDate"`
	IsExpired         bool                 `json:"isExpired"`
	DaysUntilExpiry   int                  `json:"daysUntilExpiry"`
	Medicine          VerifiedMedicine     `json:"medicine"`
	Manufacturer      VerifiedManufacturer `json:"manufacturer"`
	LedgerTxRef       string               `json:"ledgerTxRef,omitempty"`
	LedgerAddress     string               `json:"ledgerAddress,omitempty"`
	IsVerified        bool                 `json:"isVerified"`
	VerificationError string               `json:"verificationError,omitempty"`
	CanPurchase       bool                 `json:"canPurchase"`
	AvailableQuantity int                  `json:"availableQuantity"`
	QR                *QRRef               `json:"qrCode,omitempty"`
}
