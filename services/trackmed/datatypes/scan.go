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

// ScanType classifies why a unit was scanned.
type ScanType string

const (
	ScanVerification ScanType = "VERIFICATION"
	ScanPurchase     ScanType = "PURCHASE"
	ScanDistribution ScanType = "DISTRIBUTION"
	ScanRecallCheck  ScanType = "RECALL_CHECK"
)

// DeviceInfo is optional client metadata attached to a scan. All fields
// are best-effort; absent values stay zero.
type DeviceInfo struct {
	DeviceID        string           `json:"deviceId,omitempty"`
	DeviceModel     string           `json:"deviceModel,omitempty"`
	DeviceOS        string           `json:"deviceOS,omitempty"`
	AppVersion      string           `json:"appVersion,omitempty"`
	LocationLat     *decimal.Decimal `json:"locationLat,omitempty"`
	LocationLng     *decimal.Decimal `json:"locationLng,omitempty"`
	LocationAddress string           `json:"locationAddress,omitempty"`
}

// ScanLog is one recorded scan event. QRCodeID and UserID are empty for
// direct hash lookups and anonymous scans respectively.
type ScanLog struct {
	ID             string     `json:"id"`
	QRCodeID       string     `json:"qrCodeId,omitempty"`
	BatchID        string     `json:"batchId"`
	UserID         string     `json:"userId,omitempty"`
	Device         DeviceInfo `json:"device"`
	ScanType       ScanType   `json:"scanType"`
	LedgerVerified bool       `json:"ledgerVerified"`
	StatusSnapshot string     `json:"statusSnapshot,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}
