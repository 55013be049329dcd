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

// OrderStatus is the fulfilment state machine. Transitions only move
// forward, except the jump to CANCELLED from the first three states.
type OrderStatus string

const (
	OrderPending        OrderStatus = "PENDING"
	OrderConfirmed      OrderStatus = "CONFIRMED"
	OrderProcessing     OrderStatus = "PROCESSING"
	OrderShipped        OrderStatus = "SHIPPED"
	OrderOutForDelivery OrderStatus = "OUT_FOR_DELIVERY"
	OrderDelivered      OrderStatus = "DELIVERED"
	OrderCancelled      OrderStatus = "CANCELLED"
)

// Cancellable reports whether an order in this status may still be
// cancelled. Shipped and later states are past the point of no return.
func (s OrderStatus) Cancellable() bool {
	switch s {
	case OrderPending, OrderConfirmed, OrderProcessing:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status admits no further transitions.
func (s OrderStatus) Terminal() bool {
	return s == OrderDelivered || s == OrderCancelled
}

// PaymentStatus is the payment sub-state attached to an order.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "PENDING"
	PaymentPaid     PaymentStatus = "PAID"
	PaymentFailed   PaymentStatus = "FAILED"
	PaymentRefunded PaymentStatus = "REFUNDED"
)

// Order is a placed order with its monetary breakdown. All money fields
// are exact base-10 decimals.
type Order struct {
	ID                 string          `json:"id"`
	OrderNumber        string          `json:"orderNumber"`
	UserID             string          `json:"userId"`
	AddressID          string          `json:"addressId"`
	Subtotal           decimal.Decimal `json:"subtotal"`
	Tax                decimal.Decimal `json:"tax"`
	DeliveryFee        decimal.Decimal `json:"deliveryFee"`
	Total              decimal.Decimal `json:"total"`
	Status             OrderStatus     `json:"status"`
	PaymentStatus      PaymentStatus   `json:"paymentStatus"`
	PaymentMethod      string          `json:"paymentMethod,omitempty"`
	PaymentID          string          `json:"paymentId,omitempty"`
	PaymentRef         string          `json:"paymentRef,omitempty"`
	Notes              string          `json:"notes,omitempty"`
	PrescriptionURL    string          `json:"prescriptionUrl,omitempty"`
	EstimatedDelivery  *time.Time      `json:"estimatedDelivery,omitempty"`
	CancelledAt        *time.Time      `json:"cancelledAt,omitempty"`
	CancellationReason string          `json:"cancellationReason,omitempty"`
	CreatedAt          time.Time       `json:"createdAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`

	Items []OrderItem `json:"items,omitempty"`
}

// OrderItem is one line of an order. MedicineName and MedicineStrength
// are denormalized at order time so the line survives catalog edits.
type OrderItem struct {
	ID               string          `json:"id"`
	OrderID          string          `json:"orderId"`
	BatchID          string          `json:"batchId"`
	MedicineName     string          `json:"medicineName"`
	MedicineStrength string          `json:"medicineStrength,omitempty"`
	Quantity         int             `json:"quantity"`
	UnitPrice        decimal.Decimal `json:"unitPrice"`
	TotalPrice       decimal.Decimal `json:"totalPrice"`
}

// Cart is a user's pre-order staging area.
type Cart struct {
	ID     string     `json:"id"`
	UserID string     `json:"userId"`
	Items  []CartItem `json:"items,omitempty"`
}

// CartItem references a batch with a desired quantity. Batch is joined in
// for availability and pricing reads.
type CartItem struct {
	ID       string `json:"id"`
	CartID   string `json:"cartId"`
	BatchID  string `json:"batchId"`
	Quantity int    `json:"quantity"`

	Batch *Batch `json:"batch,omitempty"`
}

// Address is a delivery address owned by a user.
type Address struct {
	ID         string `json:"id"`
	UserID     string `json:"userId"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Phone      string `json:"phone,omitempty"`
	IsDefault  bool   `json:"isDefault"`
}
