// Copyright (C) 2025 TrackMed (engineering@trackmed.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"time"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/neutron420/Trackmed-sub000/services/trackmed/datatypes"
)

// RegisterBatchRequest is the payload for POST /v1/batches.
type RegisterBatchRequest struct {
	BatchHash         string     `json:"batchHash" binding:"required,batchhash"`
	BatchNumber       string     `json:"batchNumber" binding:"required"`
	ManufacturerID    string     `json:"manufacturerId" binding:"required"`
	MedicineID        string     `json:"medicineId" binding:"required"`
	ManufacturingDate time.Time  `json:"manufacturingDate" binding:"required"`
	ExpiryDate        time.Time  `json:"expiryDate" binding:"required"`
	Quantity          int        `json:"quantity" binding:"required,gt=0"`
	InvoiceNumber     string     `json:"invoiceNumber"`
	InvoiceDate       *time.Time `json:"invoiceDate"`
	GSTNumber         string     `json:"gstNumber"`
	WarehouseLocation string     `json:"warehouseLocation"`
	WarehouseAddress  string     `json:"warehouseAddress"`
	ImageURL          string     `json:"imageUrl"`
}

// UpdateStatusRequest is the payload for PATCH /v1/batches/:hash/status.
type UpdateStatusRequest struct {
	Status datatypes.BatchStatus `json:"status" binding:"required,oneof=VALID RECALLED"`
}

// ScanRequest is the payload for POST /v1/scan.
type ScanRequest struct {
	QRCode   string             `json:"qrCode" binding:"required"`
	ScanType datatypes.ScanType `json:"scanType" binding:"omitempty,oneof=VERIFICATION PURCHASE DISTRIBUTION RECALL_CHECK"`
	Device   DeviceInfoRequest  `json:"device"`
}

// DeviceInfoRequest carries optional scanner metadata.
type DeviceInfoRequest struct {
	DeviceID        string  `json:"deviceId"`
	DeviceModel     string  `json:"deviceModel"`
	DeviceOS        string  `json:"deviceOS"`
	AppVersion      string  `json:"appVersion"`
	LocationLat     *string `json:"locationLat"`
	LocationLng     *string `json:"locationLng"`
	LocationAddress string  `json:"locationAddress"`
}

// CartItemRequest is the payload for PUT /v1/cart/items.
type CartItemRequest struct {
	BatchID  string `json:"batchId" binding:"required"`
	Quantity int    `json:"quantity" binding:"required,gt=0"`
}

// CreateOrderRequest is the payload for POST /v1/orders.
type CreateOrderRequest struct {
	AddressID       string `json:"addressId" binding:"required"`
	Notes           string `json:"notes"`
	PrescriptionURL string `json:"prescriptionUrl" binding:"omitempty,url"`
}

// CancelOrderRequest is the payload for POST /v1/orders/:id/cancel.
type CancelOrderRequest struct {
	Reason string `json:"reason"`
}

// InitiatePaymentRequest is the payload for POST /v1/orders/:id/payment.
type InitiatePaymentRequest struct {
	Method string `json:"method" binding:"required,oneof=upi card netbanking cod"`
}

// VerifyPaymentRequest is the gateway callback payload.
type VerifyPaymentRequest struct {
	OrderID   string `json:"orderId" binding:"required"`
	PaymentID string `json:"paymentId" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

// batchHashValid accepts opaque hashes up to the ledger's 64-char seed
// limit: alphanumerics plus dash and underscore.
func batchHashValid(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" || len(s) > 64 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return false
		}
	}
	return true
}

// RegisterValidations installs the custom rules on gin's validator.
// Call once during startup.
func RegisterValidations() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return nil
	}
	return v.RegisterValidation("batchhash", batchHashValid)
}
