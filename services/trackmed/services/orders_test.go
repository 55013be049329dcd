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
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neutron420/Trackmed-sub000/services/trackmed/datatypes"
	"github.com/neutron420/Trackmed-sub000/services/trackmed/events"
)

// fakeOrderStore mimics the SQL store's transactional semantics in
// memory: CreateOrder commits nothing on a conflict, CancelOrder is the
// exact inverse.
type fakeOrderStore struct {
	mu        sync.Mutex
	addresses map[string]*datatypes.Address
	carts     map[string]*datatypes.Cart
	batches   map[string]*datatypes.Batch
	orders    map[string]*datatypes.Order
}

func (s *fakeOrderStore) AddressForUser(ctx context.Context, userID, addressID string) (*datatypes.Address, error) {
	a, ok := s.addresses[addressID]
	if !ok || a.UserID != userID {
		return nil, fmt.Errorf("address %s: %w", addressID, datatypes.ErrNotFound)
	}
	return a, nil
}

func (s *fakeOrderStore) CartWithItems(ctx context.Context, userID string) (*datatypes.Cart, error) {
	cart, ok := s.carts[userID]
	if !ok {
		return &datatypes.Cart{ID: "cart-" + userID, UserID: userID}, nil
	}
	for i := range cart.Items {
		cart.Items[i].Batch = s.batches[cart.Items[i].BatchID]
	}
	return cart, nil
}

func (s *fakeOrderStore) CreateOrder(ctx context.Context, o *datatypes.Order, cartID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Conditional decrements, all-or-nothing.
	for _, item := range o.Items {
		b := s.batches[item.BatchID]
		if b == nil || b.RemainingQuantity < item.Quantity {
			return fmt.Errorf("batch %s qty %d: %w", item.BatchID, item.Quantity, datatypes.ErrInventoryConflict)
		}
	}
	for _, item := range o.Items {
		s.batches[item.BatchID].RemainingQuantity -= item.Quantity
	}
	cp := *o
	s.orders[o.ID] = &cp
	for _, cart := range s.carts {
		if cart.ID == cartID {
			cart.Items = nil
		}
	}
	return nil
}

func (s *fakeOrderStore) CancelOrder(ctx context.Context, o *datatypes.Order, paymentStatus datatypes.PaymentStatus, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.orders[o.ID]
	if !ok || !stored.Status.Cancellable() {
		return fmt.Errorf("order %s: %w", o.ID, datatypes.ErrCannotCancel)
	}
	stored.Status = datatypes.OrderCancelled
	stored.PaymentStatus = paymentStatus
	stored.CancelledAt = &at
	stored.CancellationReason = reason
	for _, item := range stored.Items {
		s.batches[item.BatchID].RemainingQuantity += item.Quantity
	}
	return nil
}

func (s *fakeOrderStore) SetPayment(ctx context.Context, orderID, method, paymentID, paymentRef string) error {
	o, ok := s.orders[orderID]
	if !ok || o.PaymentStatus != datatypes.PaymentPending {
		return fmt.Errorf("order %s payment not pending: %w", orderID, datatypes.ErrAlreadyProcessed)
	}
	o.PaymentMethod = method
	o.PaymentID = paymentID
	o.PaymentRef = paymentRef
	return nil
}

func (s *fakeOrderStore) ConfirmPayment(ctx context.Context, orderID string, eta time.Time) error {
	o, ok := s.orders[orderID]
	if !ok || o.Status == datatypes.OrderCancelled {
		return fmt.Errorf("order %s missing or cancelled: %w", orderID, datatypes.ErrAlreadyProcessed)
	}
	o.PaymentStatus = datatypes.PaymentPaid
	o.Status = datatypes.OrderConfirmed
	o.EstimatedDelivery = &eta
	return nil
}

func (s *fakeOrderStore) OrderForUser(ctx context.Context, userID, orderID string) (*datatypes.Order, error) {
	o, ok := s.orders[orderID]
	if !ok || o.UserID != userID {
		return nil, fmt.Errorf("order %s: %w", orderID, datatypes.ErrNotFound)
	}
	cp := *o
	return &cp, nil
}

func (s *fakeOrderStore) OrderByID(ctx context.Context, orderID string) (*datatypes.Order, error) {
	o, ok := s.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", orderID, datatypes.ErrNotFound)
	}
	cp := *o
	return &cp, nil
}

func (s *fakeOrderStore) OrdersForUser(ctx context.Context, userID string, limit, offset int) ([]datatypes.Order, int, error) {
	var out []datatypes.Order
	for _, o := range s.orders {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out, len(out), nil
}

var orderNow = time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

func newOrderFixture() (*OrderEngine, *fakeOrderStore, *fakeSink) {
	store := &fakeOrderStore{
		addresses: map[string]*datatypes.Address{
			"addr-1": {ID: "addr-1", UserID: "user-1", Line1: "12 MG Road", City: "Pune", State: "MH", PostalCode: "411001"},
		},
		carts:   map[string]*datatypes.Cart{},
		batches: map[string]*datatypes.Batch{},
		orders:  map[string]*datatypes.Order{},
	}
	sink := &fakeSink{}
	engine := NewOrderEngine(store, sink, testLogger(), nil).
		WithClock(func() time.Time { return orderNow })
	return engine, store, sink
}

func sellableBatch(id string, remaining int, mrp int64) *datatypes.Batch {
	return &datatypes.Batch{
		ID:                id,
		BatchHash:         "hash-" + id,
		BatchNumber:       "BN-" + id,
		Status:            datatypes.BatchValid,
		LifecycleStatus:   datatypes.LifecycleAtPharmacy,
		ExpiryDate:        orderNow.AddDate(1, 0, 0),
		Quantity:          remaining,
		RemainingQuantity: remaining,
		Medicine:          &datatypes.Medicine{ID: "med-" + id, Name: "Med " + id, Strength: "500mg", MRP: decimal.NewFromInt(mrp)},
	}
}

func stageCart(store *fakeOrderStore, userID string, quantities map[string]int) {
	cart := &datatypes.Cart{ID: "cart-" + userID, UserID: userID}
	for batchID, qty := range quantities {
		cart.Items = append(cart.Items, datatypes.CartItem{
			ID: "ci-" + batchID, CartID: cart.ID, BatchID: batchID, Quantity: qty,
		})
	}
	store.carts[userID] = cart
}

func TestCreateOrderQuantityConservation(t *testing.T) {
	engine, store, _ := newOrderFixture()
	store.batches["b1"] = sellableBatch("b1", 100, 50)

	// First order takes 30 units.
	stageCart(store, "user-1", map[string]int{"b1": 30})
	first, err := engine.CreateOrder(context.Background(), "user-1", OrderInput{AddressID: "addr-1"})
	require.NoError(t, err)
	assert.Equal(t, 70, store.batches["b1"].RemainingQuantity)

	// A request for 80 exceeds the remainder and commits nothing.
	stageCart(store, "user-1", map[string]int{"b1": 80})
	_, err = engine.CreateOrder(context.Background(), "user-1", OrderInput{AddressID: "addr-1"})
	require.True(t, errors.Is(err, datatypes.ErrItemsUnavailable), "got %v", err)
	assert.Equal(t, 70, store.batches["b1"].RemainingQuantity)
	assert.Len(t, store.orders, 1)

	// Cancelling the first order restores the full quantity.
	_, err = engine.CancelOrder(context.Background(), "user-1", first.ID, "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, 100, store.batches["b1"].RemainingQuantity)
}

// conflictOnCreateStore drains stock between the engine's advisory
// availability check and the store transaction, mimicking a concurrent
// sale winning the race.
type conflictOnCreateStore struct {
	*fakeOrderStore
	drainTo int
}

func (s *conflictOnCreateStore) CreateOrder(ctx context.Context, o *datatypes.Order, cartID string) error {
	s.batches["b1"].RemainingQuantity = s.drainTo
	return s.fakeOrderStore.CreateOrder(ctx, o, cartID)
}

func TestCreateOrderConcurrentConflictCommitsNothing(t *testing.T) {
	_, store, sink := newOrderFixture()
	store.batches["b1"] = sellableBatch("b1", 100, 50)
	stageCart(store, "user-1", map[string]int{"b1": 80})

	racy := &conflictOnCreateStore{fakeOrderStore: store, drainTo: 10}
	engine := NewOrderEngine(racy, sink, testLogger(), nil).
		WithClock(func() time.Time { return orderNow })

	_, err := engine.CreateOrder(context.Background(), "user-1", OrderInput{AddressID: "addr-1"})
	require.True(t, errors.Is(err, datatypes.ErrInventoryConflict), "got %v", err)
	assert.Equal(t, 10, store.batches["b1"].RemainingQuantity, "failed order must not move stock")
	assert.Empty(t, store.orders)
	assert.Empty(t, sink.types())
}

func TestCreateOrderTotals(t *testing.T) {
	cases := []struct {
		name         string
		mrp          int64
		qty          int
		wantSubtotal string
		wantTax      string
		wantFee      string
		wantTotal    string
	}{
		{"above free delivery threshold", 100, 6, "600", "108", "0", "708"},
		{"below threshold pays delivery", 100, 4, "400", "72", "40", "512"},
		{"exactly at threshold pays delivery", 100, 5, "500", "90", "40", "630"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			engine, store, _ := newOrderFixture()
			store.batches["b1"] = sellableBatch("b1", 1000, tc.mrp)
			stageCart(store, "user-1", map[string]int{"b1": tc.qty})

			o, err := engine.CreateOrder(context.Background(), "user-1", OrderInput{AddressID: "addr-1"})
			require.NoError(t, err)

			assert.True(t, o.Subtotal.Equal(decimal.RequireFromString(tc.wantSubtotal)), "subtotal %s", o.Subtotal)
			assert.True(t, o.Tax.Equal(decimal.RequireFromString(tc.wantTax)), "tax %s", o.Tax)
			assert.True(t, o.DeliveryFee.Equal(decimal.RequireFromString(tc.wantFee)), "fee %s", o.DeliveryFee)
			assert.True(t, o.Total.Equal(decimal.RequireFromString(tc.wantTotal)), "total %s", o.Total)
		})
	}
}

func TestCreateOrderDecimalTaxIsExact(t *testing.T) {
	engine, store, _ := newOrderFixture()
	// 3 x 33.33 = 99.99; 18% = 17.9982, rounds to 18.00.
	b := sellableBatch("b1", 10, 0)
	b.Medicine.MRP = decimal.RequireFromString("33.33")
	store.batches["b1"] = b
	stageCart(store, "user-1", map[string]int{"b1": 3})

	o, err := engine.CreateOrder(context.Background(), "user-1", OrderInput{AddressID: "addr-1"})
	require.NoError(t, err)
	assert.Equal(t, "99.99", o.Subtotal.String())
	assert.Equal(t, "18", o.Tax.String())
	assert.Equal(t, "157.99", o.Total.String())
}

func TestCreateOrderGuards(t *testing.T) {
	t.Run("invalid address", func(t *testing.T) {
		engine, store, _ := newOrderFixture()
		store.batches["b1"] = sellableBatch("b1", 10, 100)
		stageCart(store, "user-1", map[string]int{"b1": 1})

		_, err := engine.CreateOrder(context.Background(), "user-1", OrderInput{AddressID: "addr-foreign"})
		require.True(t, errors.Is(err, datatypes.ErrInvalidAddress))
	})

	t.Run("empty cart", func(t *testing.T) {
		engine, _, _ := newOrderFixture()
		_, err := engine.CreateOrder(context.Background(), "user-1", OrderInput{AddressID: "addr-1"})
		require.True(t, errors.Is(err, datatypes.ErrEmptyCart))
	})

	t.Run("unavailable items named in error", func(t *testing.T) {
		engine, store, _ := newOrderFixture()
		recalled := sellableBatch("b1", 10, 100)
		recalled.Status = datatypes.BatchRecalled
		expired := sellableBatch("b2", 10, 100)
		expired.ExpiryDate = orderNow.AddDate(0, 0, -1)
		store.batches["b1"] = recalled
		store.batches["b2"] = expired
		store.batches["b3"] = sellableBatch("b3", 10, 100)
		stageCart(store, "user-1", map[string]int{"b1": 1, "b2": 1, "b3": 1})

		_, err := engine.CreateOrder(context.Background(), "user-1", OrderInput{AddressID: "addr-1"})
		require.True(t, errors.Is(err, datatypes.ErrItemsUnavailable))
		assert.Contains(t, err.Error(), "Med b1")
		assert.Contains(t, err.Error(), "Med b2")
		assert.NotContains(t, err.Error(), "Med b3")
	})
}

func TestCreateOrderFieldsAndEvents(t *testing.T) {
	engine, store, sink := newOrderFixture()
	store.batches["b1"] = sellableBatch("b1", 10, 100)
	stageCart(store, "user-1", map[string]int{"b1": 2})

	o, err := engine.CreateOrder(context.Background(), "user-1", OrderInput{
		AddressID: "addr-1",
		Notes:     "leave at door",
	})
	require.NoError(t, err)

	assert.Equal(t, datatypes.OrderPending, o.Status)
	assert.Equal(t, datatypes.PaymentPending, o.PaymentStatus)
	assert.True(t, strings.HasPrefix(o.OrderNumber, "TM260801"), "order number %s", o.OrderNumber)
	assert.Len(t, o.OrderNumber, len("TM260801")+6)
	require.NotNil(t, o.EstimatedDelivery)
	assert.Equal(t, orderNow.AddDate(0, 0, 4), *o.EstimatedDelivery)
	require.Len(t, o.Items, 1)
	assert.Equal(t, "Med b1", o.Items[0].MedicineName)

	assert.Equal(t, []events.Type{events.OrderCreated}, sink.types())
	assert.Empty(t, store.carts["user-1"].Items, "cart cleared inside the order transaction")
}

func TestCancelOrderStateMachine(t *testing.T) {
	newOrderInState := func(t *testing.T, status datatypes.OrderStatus, payment datatypes.PaymentStatus) (*OrderEngine, *fakeOrderStore, string) {
		t.Helper()
		engine, store, _ := newOrderFixture()
		store.batches["b1"] = sellableBatch("b1", 100, 50)
		stageCart(store, "user-1", map[string]int{"b1": 30})
		o, err := engine.CreateOrder(context.Background(), "user-1", OrderInput{AddressID: "addr-1"})
		require.NoError(t, err)
		store.orders[o.ID].Status = status
		store.orders[o.ID].PaymentStatus = payment
		return engine, store, o.ID
	}

	t.Run("paid order refunds on cancel", func(t *testing.T) {
		engine, store, id := newOrderInState(t, datatypes.OrderConfirmed, datatypes.PaymentPaid)
		o, err := engine.CancelOrder(context.Background(), "user-1", id, "damaged box")
		require.NoError(t, err)
		assert.Equal(t, datatypes.PaymentRefunded, o.PaymentStatus)
		assert.Equal(t, "damaged box", o.CancellationReason)
		assert.Equal(t, 100, store.batches["b1"].RemainingQuantity)
	})

	t.Run("unpaid order fails payment on cancel", func(t *testing.T) {
		engine, _, id := newOrderInState(t, datatypes.OrderPending, datatypes.PaymentPending)
		o, err := engine.CancelOrder(context.Background(), "user-1", id, "")
		require.NoError(t, err)
		assert.Equal(t, datatypes.PaymentFailed, o.PaymentStatus)
	})

	t.Run("shipped order cannot cancel", func(t *testing.T) {
		engine, store, id := newOrderInState(t, datatypes.OrderShipped, datatypes.PaymentPaid)
		_, err := engine.CancelOrder(context.Background(), "user-1", id, "")
		require.True(t, errors.Is(err, datatypes.ErrCannotCancel))
		assert.Equal(t, 70, store.batches["b1"].RemainingQuantity, "no restore without cancellation")
	})

	t.Run("second cancel is already processed", func(t *testing.T) {
		engine, store, id := newOrderInState(t, datatypes.OrderPending, datatypes.PaymentPending)
		_, err := engine.CancelOrder(context.Background(), "user-1", id, "")
		require.NoError(t, err)
		_, err = engine.CancelOrder(context.Background(), "user-1", id, "")
		require.True(t, errors.Is(err, datatypes.ErrAlreadyProcessed))
		assert.Equal(t, 100, store.batches["b1"].RemainingQuantity, "stock restored exactly once")
	})

	t.Run("foreign user cannot cancel", func(t *testing.T) {
		engine, _, id := newOrderInState(t, datatypes.OrderPending, datatypes.PaymentPending)
		_, err := engine.CancelOrder(context.Background(), "user-2", id, "")
		require.True(t, errors.Is(err, datatypes.ErrNotFound))
	})
}

func TestPaymentLifecycle(t *testing.T) {
	engine, store, sink := newOrderFixture()
	store.batches["b1"] = sellableBatch("b1", 100, 200)
	stageCart(store, "user-1", map[string]int{"b1": 2})

	o, err := engine.CreateOrder(context.Background(), "user-1", OrderInput{AddressID: "addr-1"})
	require.NoError(t, err)

	intent, err := engine.InitiatePayment(context.Background(), "user-1", o.ID, "upi")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(intent.PaymentID, "pay_"))
	assert.Len(t, intent.PaymentID, len("pay_")+14)
	assert.Equal(t, "INR", intent.Currency)
	assert.True(t, intent.Amount.Equal(o.Total))

	t.Run("second initiation rejected once paid", func(t *testing.T) {
		paid, err := engine.VerifyPayment(context.Background(), o.ID, intent.PaymentID)
		require.NoError(t, err)
		assert.Equal(t, datatypes.PaymentPaid, paid.PaymentStatus)
		assert.Equal(t, datatypes.OrderConfirmed, paid.Status)
		require.NotNil(t, paid.EstimatedDelivery)

		_, err = engine.InitiatePayment(context.Background(), "user-1", o.ID, "upi")
		require.True(t, errors.Is(err, datatypes.ErrAlreadyProcessed))
	})

	t.Run("replayed verification rejected", func(t *testing.T) {
		_, err := engine.VerifyPayment(context.Background(), o.ID, intent.PaymentID)
		require.True(t, errors.Is(err, datatypes.ErrAlreadyProcessed))
	})

	t.Run("wrong payment id rejected", func(t *testing.T) {
		_, err := engine.VerifyPayment(context.Background(), o.ID, "pay_spoofed000000")
		require.True(t, errors.Is(err, datatypes.ErrValidation))
	})

	assert.Equal(t, []events.Type{events.OrderCreated, events.OrderPaymentUpdate}, sink.types())
}

func TestVerifyPaymentAfterCancelStaysCancelled(t *testing.T) {
	engine, store, sink := newOrderFixture()
	store.batches["b1"] = sellableBatch("b1", 100, 200)
	stageCart(store, "user-1", map[string]int{"b1": 30})

	o, err := engine.CreateOrder(context.Background(), "user-1", OrderInput{AddressID: "addr-1"})
	require.NoError(t, err)
	intent, err := engine.InitiatePayment(context.Background(), "user-1", o.ID, "upi")
	require.NoError(t, err)

	_, err = engine.CancelOrder(context.Background(), "user-1", o.ID, "too slow")
	require.NoError(t, err)
	require.Equal(t, 100, store.batches["b1"].RemainingQuantity)

	// A late gateway callback with the minted payment id must not
	// resurrect the order: its stock is already back on the shelf.
	_, err = engine.VerifyPayment(context.Background(), o.ID, intent.PaymentID)
	require.True(t, errors.Is(err, datatypes.ErrAlreadyProcessed), "got %v", err)

	stored := store.orders[o.ID]
	assert.Equal(t, datatypes.OrderCancelled, stored.Status)
	assert.Equal(t, datatypes.PaymentFailed, stored.PaymentStatus)
	assert.Equal(t, 100, store.batches["b1"].RemainingQuantity)
	assert.Equal(t, []events.Type{events.OrderCreated, events.OrderStatusChanged}, sink.types())
}

// paidBehindBackStore marks the order paid between the engine's read and
// its SetPayment call, mimicking a gateway confirmation winning the race
// against a second initiation.
type paidBehindBackStore struct {
	*fakeOrderStore
}

func (s *paidBehindBackStore) OrderForUser(ctx context.Context, userID, orderID string) (*datatypes.Order, error) {
	o, err := s.fakeOrderStore.OrderForUser(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	s.orders[orderID].PaymentStatus = datatypes.PaymentPaid
	return o, nil
}

func TestInitiatePaymentRaceWithConfirmation(t *testing.T) {
	_, store, sink := newOrderFixture()
	store.batches["b1"] = sellableBatch("b1", 100, 200)
	stageCart(store, "user-1", map[string]int{"b1": 2})

	engine := NewOrderEngine(store, sink, testLogger(), nil).
		WithClock(func() time.Time { return orderNow })
	o, err := engine.CreateOrder(context.Background(), "user-1", OrderInput{AddressID: "addr-1"})
	require.NoError(t, err)
	intent, err := engine.InitiatePayment(context.Background(), "user-1", o.ID, "upi")
	require.NoError(t, err)

	racy := NewOrderEngine(&paidBehindBackStore{fakeOrderStore: store}, sink, testLogger(), nil).
		WithClock(func() time.Time { return orderNow })
	_, err = racy.InitiatePayment(context.Background(), "user-1", o.ID, "card")
	require.True(t, errors.Is(err, datatypes.ErrAlreadyProcessed), "got %v", err)

	stored := store.orders[o.ID]
	assert.Equal(t, intent.PaymentID, stored.PaymentID, "first initiation's ids survive the race")
	assert.Equal(t, "upi", stored.PaymentMethod)
}
