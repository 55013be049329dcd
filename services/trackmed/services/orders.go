// Copyright (C) 2025 TrackMed (engineering@trackmed.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/neutron420/Trackmed-sub000/services/trackmed/datatypes"
	"github.com/neutron420/Trackmed-sub000/services/trackmed/events"
	"github.com/neutron420/Trackmed-sub000/services/trackmed/observability"
)

// Pricing policy. GST at 18%; delivery free above the threshold.
var (
	taxRate           = decimal.New(18, -2)
	freeDeliveryAbove = decimal.NewFromInt(500)
	standardDelivery  = decimal.NewFromInt(40)
)

// deliveryLeadDays is the promised delivery window.
const deliveryLeadDays = 4

// orderNumberPrefix brands customer-facing order numbers.
const orderNumberPrefix = "TM"

// OrderStore is the persistence surface the order engine needs. The
// atomicity of creation and cancellation lives behind CreateOrder and
// CancelOrder, each a single transaction in the SQL implementation.
type OrderStore interface {
	AddressForUser(ctx context.Context, userID, addressID string) (*datatypes.Address, error)
	CartWithItems(ctx context.Context, userID string) (*datatypes.Cart, error)
	CreateOrder(ctx context.Context, o *datatypes.Order, cartID string) error
	CancelOrder(ctx context.Context, o *datatypes.Order, paymentStatus datatypes.PaymentStatus, reason string, at time.Time) error
	SetPayment(ctx context.Context, orderID, method, paymentID, paymentRef string) error
	ConfirmPayment(ctx context.Context, orderID string, eta time.Time) error
	OrderForUser(ctx context.Context, userID, orderID string) (*datatypes.Order, error)
	OrderByID(ctx context.Context, orderID string) (*datatypes.Order, error)
	OrdersForUser(ctx context.Context, userID string, limit, offset int) ([]datatypes.Order, int, error)
}

// OrderInput is the payload for order creation.
type OrderInput struct {
	AddressID       string
	Notes           string
	PrescriptionURL string
}

// PaymentIntent is returned by InitiatePayment for the client to hand
// to the payment gateway.
type PaymentIntent struct {
	OrderID     string          `json:"orderId"`
	OrderNumber string          `json:"orderNumber"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	PaymentID   string          `json:"paymentId"`
	PaymentRef  string          `json:"paymentRef"`
	Method      string          `json:"method"`
}

// OrderEngine converts carts into orders and runs the fulfilment and
// payment state machines.
type OrderEngine struct {
	store   OrderStore
	sink    events.Sink
	logger  *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewOrderEngine wires the order flow.
func NewOrderEngine(store OrderStore, sink events.Sink, logger *slog.Logger, metrics *observability.Metrics) *OrderEngine {
	return &OrderEngine{
		store:   store,
		sink:    sink,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// WithClock overrides the time source. Testing only.
func (e *OrderEngine) WithClock(now func() time.Time) *OrderEngine {
	e.now = now
	return e
}

// orderNumber mints a customer-facing number: prefix, date, and a short
// random suffix. Uniqueness is enforced by the store.
func (e *OrderEngine) orderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return orderNumberPrefix + now.Format("060102") + suffix
}

// CreateOrder converts the user's cart into an order.
//
// # Description
//
// Availability is pre-checked against the cart's joined batches, then
// enforced for real by the store's conditional decrements inside the
// order transaction. A concurrent sale that empties a batch between the
// two checks surfaces as ErrInventoryConflict with nothing committed.
//
// # Outputs
//
//   - *datatypes.Order: the created order, totals computed in exact
//     decimals, estimated delivery stamped
//   - error: ErrInvalidAddress, ErrEmptyCart, ErrItemsUnavailable
//     (message lists the offending medicines), or ErrInventoryConflict.
func (e *OrderEngine) CreateOrder(ctx context.Context, userID string, in OrderInput) (*datatypes.Order, error) {
	if _, err := e.store.AddressForUser(ctx, userID, in.AddressID); err != nil {
		if errors.Is(err, datatypes.ErrNotFound) {
			return nil, fmt.Errorf("address %s: %w", in.AddressID, datatypes.ErrInvalidAddress)
		}
		return nil, err
	}

	cart, err := e.store.CartWithItems(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(cart.Items) == 0 {
		return nil, datatypes.ErrEmptyCart
	}

	now := e.now().UTC()

	var unavailable []string
	for _, item := range cart.Items {
		if item.Batch == nil || !item.Batch.Purchasable(item.Quantity, now) {
			name := "unknown item"
			if item.Batch != nil {
				name = medicineName(item.Batch)
			}
			unavailable = append(unavailable, name)
		}
	}
	if len(unavailable) > 0 {
		return nil, fmt.Errorf("%w: %s", datatypes.ErrItemsUnavailable, strings.Join(unavailable, ", "))
	}

	orderID := uuid.NewString()
	subtotal := decimal.Zero
	items := make([]datatypes.OrderItem, 0, len(cart.Items))
	for _, ci := range cart.Items {
		unit := ci.Batch.Medicine.MRP
		line := unit.Mul(decimal.NewFromInt(int64(ci.Quantity)))
		items = append(items, datatypes.OrderItem{
			ID:               uuid.NewString(),
			OrderID:          orderID,
			BatchID:          ci.BatchID,
			MedicineName:     ci.Batch.Medicine.Name,
			MedicineStrength: ci.Batch.Medicine.Strength,
			Quantity:         ci.Quantity,
			UnitPrice:        unit,
			TotalPrice:       line,
		})
		subtotal = subtotal.Add(line)
	}

	tax := subtotal.Mul(taxRate).Round(2)
	fee := standardDelivery
	if subtotal.GreaterThan(freeDeliveryAbove) {
		fee = decimal.Zero
	}
	eta := now.AddDate(0, 0, deliveryLeadDays)

	order := &datatypes.Order{
		ID:                orderID,
		OrderNumber:       e.orderNumber(now),
		UserID:            userID,
		AddressID:         in.AddressID,
		Subtotal:          subtotal,
		Tax:               tax,
		DeliveryFee:       fee,
		Total:             subtotal.Add(tax).Add(fee),
		Status:            datatypes.OrderPending,
		PaymentStatus:     datatypes.PaymentPending,
		Notes:             in.Notes,
		PrescriptionURL:   in.PrescriptionURL,
		EstimatedDelivery: &eta,
		CreatedAt:         now,
		UpdatedAt:         now,
		Items:             items,
	}

	if err := e.store.CreateOrder(ctx, order, cart.ID); err != nil {
		if errors.Is(err, datatypes.ErrInventoryConflict) {
			e.metrics.RecordInventoryConflict()
		}
		return nil, err
	}

	e.metrics.RecordOrderCreated()
	e.sink.Publish(events.New(events.OrderCreated, map[string]any{
		"orderId":     order.ID,
		"orderNumber": order.OrderNumber,
		"userId":      order.UserID,
		"total":       order.Total,
	}))
	e.logger.Info("order created",
		"order_number", order.OrderNumber, "user_id", userID,
		"items", len(items), "total", order.Total.String())
	return order, nil
}

// CancelOrder cancels the user's order and restores reserved stock.
//
// # Outputs
//
//   - *datatypes.Order: the cancelled order
//   - error: ErrNotFound, ErrAlreadyProcessed (already cancelled), or
//     ErrCannotCancel (shipped or later).
func (e *OrderEngine) CancelOrder(ctx context.Context, userID, orderID, reason string) (*datatypes.Order, error) {
	o, err := e.store.OrderForUser(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status == datatypes.OrderCancelled {
		return nil, fmt.Errorf("order %s already cancelled: %w", o.OrderNumber, datatypes.ErrAlreadyProcessed)
	}
	if !o.Status.Cancellable() {
		return nil, fmt.Errorf("order %s in status %s: %w", o.OrderNumber, o.Status, datatypes.ErrCannotCancel)
	}

	paymentStatus := datatypes.PaymentFailed
	if o.PaymentStatus == datatypes.PaymentPaid {
		paymentStatus = datatypes.PaymentRefunded
	}

	now := e.now().UTC()
	if err := e.store.CancelOrder(ctx, o, paymentStatus, reason, now); err != nil {
		return nil, err
	}

	o.Status = datatypes.OrderCancelled
	o.PaymentStatus = paymentStatus
	o.CancelledAt = &now
	o.CancellationReason = reason
	o.UpdatedAt = now

	e.metrics.RecordOrderCancelled()
	e.sink.Publish(events.New(events.OrderStatusChanged, map[string]string{
		"orderId":     o.ID,
		"orderNumber": o.OrderNumber,
		"userId":      o.UserID,
		"status":      string(o.Status),
	}))
	e.logger.Info("order cancelled",
		"order_number", o.OrderNumber, "user_id", userID,
		"payment_status", string(paymentStatus), "reason", reason)
	return o, nil
}

// InitiatePayment opens a payment for a pending order and mints the
// opaque gateway references.
func (e *OrderEngine) InitiatePayment(ctx context.Context, userID, orderID, method string) (*PaymentIntent, error) {
	o, err := e.store.OrderForUser(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	if o.PaymentStatus != datatypes.PaymentPending {
		return nil, fmt.Errorf("order %s payment is %s: %w", o.OrderNumber, o.PaymentStatus, datatypes.ErrAlreadyProcessed)
	}

	compact := strings.ReplaceAll(uuid.NewString(), "-", "")
	paymentID := "pay_" + compact[:14]
	paymentRef := "order_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:10]

	if err := e.store.SetPayment(ctx, o.ID, method, paymentID, paymentRef); err != nil {
		return nil, err
	}

	e.logger.Info("payment initiated",
		"order_number", o.OrderNumber, "payment_id", paymentID, "method", method)
	return &PaymentIntent{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		Amount:      o.Total,
		Currency:    "INR",
		PaymentID:   paymentID,
		PaymentRef:  paymentRef,
		Method:      method,
	}, nil
}

// VerifyPayment completes a payment after the gateway callback. The
// callback authenticates by payment id, not user session, so the order
// is loaded unscoped. A terminal order never leaves its state: a late
// callback for a cancelled order must not resurrect it, since its stock
// was already restored.
func (e *OrderEngine) VerifyPayment(ctx context.Context, orderID, paymentID string) (*datatypes.Order, error) {
	o, err := e.store.OrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.PaymentID == "" || o.PaymentID != paymentID {
		return nil, fmt.Errorf("payment id mismatch for order %s: %w", o.OrderNumber, datatypes.ErrValidation)
	}
	if o.Status.Terminal() {
		return nil, fmt.Errorf("order %s is %s: %w", o.OrderNumber, o.Status, datatypes.ErrAlreadyProcessed)
	}
	if o.PaymentStatus == datatypes.PaymentPaid {
		return nil, fmt.Errorf("order %s already paid: %w", o.OrderNumber, datatypes.ErrAlreadyProcessed)
	}

	now := e.now().UTC()
	eta := now.AddDate(0, 0, deliveryLeadDays)
	if err := e.store.ConfirmPayment(ctx, o.ID, eta); err != nil {
		return nil, err
	}

	o.PaymentStatus = datatypes.PaymentPaid
	o.Status = datatypes.OrderConfirmed
	o.EstimatedDelivery = &eta
	o.UpdatedAt = now

	e.sink.Publish(events.New(events.OrderPaymentUpdate, map[string]string{
		"orderId":       o.ID,
		"orderNumber":   o.OrderNumber,
		"userId":        o.UserID,
		"paymentStatus": string(o.PaymentStatus),
	}))
	e.logger.Info("payment verified", "order_number", o.OrderNumber, "payment_id", paymentID)
	return o, nil
}

// Order returns one of the user's orders with items.
func (e *OrderEngine) Order(ctx context.Context, userID, orderID string) (*datatypes.Order, error) {
	return e.store.OrderForUser(ctx, userID, orderID)
}

// Orders returns a page of the user's orders, newest first.
func (e *OrderEngine) Orders(ctx context.Context, userID string, page, limit int) ([]datatypes.Order, Pagination, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	orders, total, err := e.store.OrdersForUser(ctx, userID, limit, (page-1)*limit)
	if err != nil {
		return nil, Pagination{}, err
	}
	return orders, NewPagination(page, limit, total), nil
}
