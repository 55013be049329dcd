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
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neutron420/Trackmed-sub000/services/trackmed/datatypes"
)

type fakeCartStore struct {
	batches map[string]*datatypes.Batch
	items   map[string]int // batchID -> quantity
}

func (s *fakeCartStore) BatchByID(ctx context.Context, id string) (*datatypes.Batch, error) {
	b, ok := s.batches[id]
	if !ok {
		return nil, fmt.Errorf("batch %s: %w", id, datatypes.ErrNotFound)
	}
	return b, nil
}

func (s *fakeCartStore) CartForUser(ctx context.Context, userID string) (*datatypes.Cart, error) {
	return &datatypes.Cart{ID: "cart-1", UserID: userID}, nil
}

func (s *fakeCartStore) CartWithItems(ctx context.Context, userID string) (*datatypes.Cart, error) {
	cart := &datatypes.Cart{ID: "cart-1", UserID: userID}
	for batchID, qty := range s.items {
		cart.Items = append(cart.Items, datatypes.CartItem{
			CartID: cart.ID, BatchID: batchID, Quantity: qty, Batch: s.batches[batchID],
		})
	}
	return cart, nil
}

func (s *fakeCartStore) UpsertCartItem(ctx context.Context, cartID, batchID string, quantity int) error {
	s.items[batchID] = quantity
	return nil
}

func (s *fakeCartStore) RemoveCartItem(ctx context.Context, cartID, batchID string) error {
	if _, ok := s.items[batchID]; !ok {
		return fmt.Errorf("cart item: %w", datatypes.ErrNotFound)
	}
	delete(s.items, batchID)
	return nil
}

func (s *fakeCartStore) ClearCart(ctx context.Context, cartID string) error {
	s.items = map[string]int{}
	return nil
}

var cartNow = time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)

func newCartFixture() (*CartService, *fakeCartStore) {
	store := &fakeCartStore{
		batches: map[string]*datatypes.Batch{},
		items:   map[string]int{},
	}
	svc := NewCartService(store).WithClock(func() time.Time { return cartNow })
	return svc, store
}

func cartBatch(id string, remaining int, mrp string) *datatypes.Batch {
	return &datatypes.Batch{
		ID:                id,
		BatchHash:         "hash-" + id,
		Status:            datatypes.BatchValid,
		ExpiryDate:        cartNow.AddDate(1, 0, 0),
		RemainingQuantity: remaining,
		Medicine:          &datatypes.Medicine{Name: "Med " + id, MRP: decimal.RequireFromString(mrp)},
	}
}

func TestCartSetItem(t *testing.T) {
	svc, store := newCartFixture()
	store.batches["b1"] = cartBatch("b1", 10, "25.50")

	t.Run("accepts in-stock quantity", func(t *testing.T) {
		require.NoError(t, svc.SetItem(context.Background(), "user-1", "b1", 3))
		assert.Equal(t, 3, store.items["b1"])
	})

	t.Run("replaces quantity on repeat", func(t *testing.T) {
		require.NoError(t, svc.SetItem(context.Background(), "user-1", "b1", 5))
		assert.Equal(t, 5, store.items["b1"])
	})

	t.Run("rejects over-stock quantity", func(t *testing.T) {
		err := svc.SetItem(context.Background(), "user-1", "b1", 11)
		require.True(t, errors.Is(err, datatypes.ErrItemsUnavailable))
	})

	t.Run("rejects recalled batch", func(t *testing.T) {
		recalled := cartBatch("b2", 10, "10")
		recalled.Status = datatypes.BatchRecalled
		store.batches["b2"] = recalled
		err := svc.SetItem(context.Background(), "user-1", "b2", 1)
		require.True(t, errors.Is(err, datatypes.ErrItemsUnavailable))
	})

	t.Run("rejects non-positive quantity", func(t *testing.T) {
		err := svc.SetItem(context.Background(), "user-1", "b1", 0)
		require.True(t, errors.Is(err, datatypes.ErrValidation))
	})
}

func TestCartGetSummary(t *testing.T) {
	svc, store := newCartFixture()
	store.batches["b1"] = cartBatch("b1", 10, "25.50")
	expired := cartBatch("b2", 10, "100")
	expired.ExpiryDate = cartNow.AddDate(0, 0, -1)
	store.batches["b2"] = expired
	store.items = map[string]int{"b1": 2, "b2": 1}

	summary, err := svc.Get(context.Background(), "user-1")
	require.NoError(t, err)

	require.Len(t, summary.Items, 2)
	assert.Equal(t, 3, summary.ItemCount)
	assert.True(t, summary.Subtotal.Equal(decimal.RequireFromString("51")),
		"subtotal %s counts only available lines", summary.Subtotal)

	byBatch := map[string]CartItemView{}
	for _, v := range summary.Items {
		byBatch[v.BatchID] = v
	}
	assert.True(t, byBatch["b1"].Available)
	assert.False(t, byBatch["b2"].Available, "expired line flagged, not hidden")
}

func TestCartRemoveAndClear(t *testing.T) {
	svc, store := newCartFixture()
	store.batches["b1"] = cartBatch("b1", 10, "10")
	store.items = map[string]int{"b1": 2}

	require.NoError(t, svc.RemoveItem(context.Background(), "user-1", "b1"))
	assert.Empty(t, store.items)

	err := svc.RemoveItem(context.Background(), "user-1", "b1")
	require.True(t, errors.Is(err, datatypes.ErrNotFound))

	store.items = map[string]int{"b1": 2}
	require.NoError(t, svc.Clear(context.Background(), "user-1"))
	assert.Empty(t, store.items)
}
