// Copyright (C) 2025 TrackMed (engineering@trackmed.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes defines the domain entities shared by the TrackMed
// service layer: batches, orders, carts, scans, and the client-safe
// verification projection.
package datatypes

import (
	"time"

	"github.com/shopspring/decimal"
)

// BatchStatus is the batch-level validity flag mirrored on the ledger.
type BatchStatus string

const (
	BatchValid    BatchStatus = "VALID"
	BatchRecalled BatchStatus = "RECALLED"
)

// LedgerString maps a local status onto the ledger's native status
// vocabulary. The reconciler compares this against the ledger record.
func (s BatchStatus) LedgerString() string {
	switch s {
	case BatchValid:
		return "Valid"
	case BatchRecalled:
		return "Recalled"
	default:
		return string(s)
	}
}

// LifecycleStatus tracks a batch's position in the supply chain. It is a
// local concern only; the ledger never sees it.
type LifecycleStatus string

const (
	LifecycleInProduction  LifecycleStatus = "IN_PRODUCTION"
	LifecycleInTransit     LifecycleStatus = "IN_TRANSIT"
	LifecycleAtDistributor LifecycleStatus = "AT_DISTRIBUTOR"
	LifecycleAtPharmacy    LifecycleStatus = "AT_PHARMACY"
	LifecycleSold          LifecycleStatus = "SOLD"
	LifecycleExpired       LifecycleStatus = "EXPIRED"
	LifecycleRecalled      LifecycleStatus = "RECALLED"
)

// Manufacturer is the producing entity behind a batch. WalletAddress is
// the identity that must sign registration and status updates.
type Manufacturer struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	LicenseNumber string `json:"licenseNumber"`
	Address       string `json:"address,omitempty"`
	City          string `json:"city,omitempty"`
	State         string `json:"state,omitempty"`
	Country       string `json:"country,omitempty"`
	WalletAddress string `json:"walletAddress,omitempty"`
	IsVerified    bool   `json:"isVerified"`
}

// Medicine is the catalog entry a batch produces units of.
type Medicine struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	GenericName string          `json:"genericName,omitempty"`
	Strength    string          `json:"strength,omitempty"`
	Composition string          `json:"composition,omitempty"`
	DosageForm  string          `json:"dosageForm,omitempty"`
	MRP         decimal.Decimal `json:"mrp"`
	ImageURL    string          `json:"imageUrl,omitempty"`
}

// Batch is a production batch. LedgerTxRef and LedgerAddress are opaque
// references returned by the ledger at registration time; they are echoed
// to clients but never interpreted locally.
type Batch struct {
	ID                string          `json:"id"`
	BatchHash         string          `json:"batchHash"`
	BatchNumber       string          `json:"batchNumber"`
	ManufacturerID    string          `json:"manufacturerId"`
	MedicineID        string          `json:"medicineId"`
	ManufacturingDate time.Time       `json:"manufacturingDate"`
	ExpiryDate        time.Time       `json:"expiryDate"`
	Status            BatchStatus     `json:"status"`
	LifecycleStatus   LifecycleStatus `json:"lifecycleStatus"`
	Quantity          int             `json:"quantity"`
	RemainingQuantity int             `json:"remainingQuantity"`
	LedgerTxRef       string          `json:"ledgerTxRef,omitempty"`
	LedgerAddress     string          `json:"ledgerAddress,omitempty"`
	InvoiceNumber     string          `json:"invoiceNumber,omitempty"`
	InvoiceDate       *time.Time      `json:"invoiceDate,omitempty"`
	GSTNumber         string          `json:"gstNumber,omitempty"`
	WarehouseLocation string          `json:"warehouseLocation,omitempty"`
	WarehouseAddress  string          `json:"warehouseAddress,omitempty"`
	ImageURL          string          `json:"imageUrl,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`

	Manufacturer *Manufacturer `json:"manufacturer,omitempty"`
	Medicine     *Medicine     `json:"medicine,omitempty"`
}

// Expired reports whether the batch is past its expiry date at the given
// instant. Strict comparison: a batch expiring exactly now is not expired.
func (b *Batch) Expired(now time.Time) bool {
	return now.After(b.ExpiryDate)
}

// Purchasable reports whether qty units can be sold from this batch at
// the given instant. It is an advisory read; the store's conditional
// decrement remains the authority under concurrency.
func (b *Batch) Purchasable(qty int, now time.Time) bool {
	return b.Status == BatchValid && !b.Expired(now) && b.RemainingQuantity >= qty
}

// DaysUntilExpiry returns whole days remaining before expiry, rounded up.
// Negative once the batch has expired.
func (b *Batch) DaysUntilExpiry(now time.Time) int {
	d := b.ExpiryDate.Sub(now)
	days := int(d.Hours() / 24)
	if d > 0 && d%(24*time.Hour) != 0 {
		days++
	}
	return days
}

// QRCode is a unit-level code printed on packaging. Codes are minted by
// the admin surface; this service only consumes them read-only.
type QRCode struct {
	ID         string `json:"id"`
	Code       string `json:"code"`
	BatchID    string `json:"batchId"`
	UnitNumber int    `json:"unitNumber"`
	IsActive   bool   `json:"isActive"`
}
