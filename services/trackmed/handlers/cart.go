// Copyright (C) 2025 TrackMed (engineering@trackmed.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/neutron420/Trackmed-sub000/services/trackmed/middleware"
	"github.com/neutron420/Trackmed-sub000/services/trackmed/services"
)

// GetCart handles GET /v1/cart.
func GetCart(svc *services.CartService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, _ := middleware.UserID(c)
		summary, err := svc.Get(c.Request.Context(), userID)
		if err != nil {
			respondServiceError(c, err)
			return
		}
		respondOK(c, http.StatusOK, summary)
	}
}

// PutCartItem handles PUT /v1/cart/items: sets one line's quantity,
// replacing any existing line for the batch.
func PutCartItem(svc *services.CartService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, _ := middleware.UserID(c)

		var req CartItemRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, err.Error())
			return
		}

		if err := svc.SetItem(c.Request.Context(), userID, req.BatchID, req.Quantity); err != nil {
			respondServiceError(c, err)
			return
		}
		summary, err := svc.Get(c.Request.Context(), userID)
		if err != nil {
			respondServiceError(c, err)
			return
		}
		respondOK(c, http.StatusOK, summary)
	}
}

// DeleteCartItem handles DELETE /v1/cart/items/:batchId.
func DeleteCartItem(svc *services.CartService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, _ := middleware.UserID(c)
		if err := svc.RemoveItem(c.Request.Context(), userID, c.Param("batchId")); err != nil {
			respondServiceError(c, err)
			return
		}
		respondOK(c, http.StatusOK, gin.H{"removed": true})
	}
}

// ClearCart handles DELETE /v1/cart.
func ClearCart(svc *services.CartService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, _ := middleware.UserID(c)
		if err := svc.Clear(c.Request.Context(), userID); err != nil {
			respondServiceError(c, err)
			return
		}
		respondOK(c, http.StatusOK, gin.H{"cleared": true})
	}
}
