// Copyright (C) 2025 TrackMed (engineering@trackmed.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package services

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/neutron420/Trackmed-sub000/services/trackmed/datatypes"
)

// CartStore is the persistence surface the cart service needs.
type CartStore interface {
	BatchByID(ctx context.Context, id string) (*datatypes.Batch, error)
	CartForUser(ctx context.Context, userID string) (*datatypes.Cart, error)
	CartWithItems(ctx context.Context, userID string) (*datatypes.Cart, error)
	UpsertCartItem(ctx context.Context, cartID, batchID string, quantity int) error
	RemoveCartItem(ctx context.Context, cartID, batchID string) error
	ClearCart(ctx context.Context, cartID string) error
}

// CartItemView is one cart line with pricing and availability resolved
// at read time.
type CartItemView struct {
	BatchID      string          `json:"batchId"`
	BatchHash    string          `json:"batchHash"`
	MedicineName string          `json:"medicineName"`
	Strength     string          `json:"strength,omitempty"`
	UnitPrice    decimal.Decimal `json:"unitPrice"`
	Quantity     int             `json:"quantity"`
	LineTotal    decimal.Decimal `json:"lineTotal"`
	Available    bool            `json:"available"`
}

// CartSummary is the cart read model. Subtotal covers available items
// only; unavailable lines stay visible so the client can prompt removal.
type CartSummary struct {
	CartID    string          `json:"cartId"`
	Items     []CartItemView  `json:"items"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	ItemCount int             `json:"itemCount"`
}

// CartService manages the pre-order staging area. Availability checks
// here are advisory; the order transaction's conditional decrements
// remain the authority.
type CartService struct {
	store CartStore
	now   func() time.Time
}

// NewCartService wires the cart flow.
func NewCartService(store CartStore) *CartService {
	return &CartService{store: store, now: time.Now}
}

// WithClock overrides the time source. Testing only.
func (s *CartService) WithClock(now func() time.Time) *CartService {
	s.now = now
	return s
}

// Get returns the user's cart with current pricing and availability.
func (s *CartService) Get(ctx context.Context, userID string) (*CartSummary, error) {
	cart, err := s.store.CartWithItems(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	summary := &CartSummary{
		CartID:   cart.ID,
		Items:    make([]CartItemView, 0, len(cart.Items)),
		Subtotal: decimal.Zero,
	}
	for _, item := range cart.Items {
		view := CartItemView{
			BatchID:  item.BatchID,
			Quantity: item.Quantity,
		}
		if b := item.Batch; b != nil {
			view.BatchHash = b.BatchHash
			view.Available = b.Purchasable(item.Quantity, now)
			if b.Medicine != nil {
				view.MedicineName = b.Medicine.Name
				view.Strength = b.Medicine.Strength
				view.UnitPrice = b.Medicine.MRP
				view.LineTotal = b.Medicine.MRP.Mul(decimal.NewFromInt(int64(item.Quantity)))
			}
		}
		if view.Available {
			summary.Subtotal = summary.Subtotal.Add(view.LineTotal)
		}
		summary.ItemCount += item.Quantity
		summary.Items = append(summary.Items, view)
	}
	return summary, nil
}

// SetItem puts a batch in the cart at the given quantity, replacing any
// existing line for the same batch.
func (s *CartService) SetItem(ctx context.Context, userID, batchID string, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("quantity must be positive: %w", datatypes.ErrValidation)
	}

	b, err := s.store.BatchByID(ctx, batchID)
	if err != nil {
		return err
	}
	if !b.Purchasable(quantity, s.now()) {
		return fmt.Errorf("%w: %s", datatypes.ErrItemsUnavailable, medicineName(b))
	}

	cart, err := s.store.CartForUser(ctx, userID)
	if err != nil {
		return err
	}
	return s.store.UpsertCartItem(ctx, cart.ID, batchID, quantity)
}

// RemoveItem deletes one line from the cart.
func (s *CartService) RemoveItem(ctx context.Context, userID, batchID string) error {
	cart, err := s.store.CartForUser(ctx, userID)
	if err != nil {
		return err
	}
	return s.store.RemoveCartItem(ctx, cart.ID, batchID)
}

// Clear empties the cart.
func (s *CartService) Clear(ctx context.Context, userID string) error {
	cart, err := s.store.CartForUser(ctx, userID)
	if err != nil {
		return err
	}
	return s.store.ClearCart(ctx, cart.ID)
}

func medicineName(b *datatypes.Batch) string {
	if b.Medicine != nil && b.Medicine.Name != "" {
		return b.Medicine.Name
	}
	return b.BatchNumber
}
