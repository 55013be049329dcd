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
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/neutron420/Trackmed-sub000/services/trackmed/middleware"
	"github.com/neutron420/Trackmed-sub000/services/trackmed/services"
)

var orderTracer = otel.Tracer("trackmed/handlers/orders")

// CreateOrder handles POST /v1/orders: converts the caller's cart into
// an order in one transaction.
func CreateOrder(engine *services.OrderEngine) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := orderTracer.Start(c.Request.Context(), "handlers.CreateOrder")
		defer span.End()

		userID, _ := middleware.UserID(c)

		var req CreateOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, err.Error())
			return
		}

		order, err := engine.CreateOrder(ctx, userID, services.OrderInput{
			AddressID:       req.AddressID,
			Notes:           req.Notes,
			PrescriptionURL: req.PrescriptionURL,
		})
		if err != nil {
			respondServiceError(c, err)
			return
		}
		span.SetAttributes(attribute.String("order.number", order.OrderNumber))
		respondOK(c, http.StatusCreated, order)
	}
}

// ListOrders handles GET /v1/orders.
func ListOrders(engine *services.OrderEngine) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, _ := middleware.UserID(c)
		page, limit := pageParams(c)
		orders, pagination, err := engine.Orders(c.Request.Context(), userID, page, limit)
		if err != nil {
			respondServiceError(c, err)
			return
		}
		respondOK(c, http.StatusOK, gin.H{"orders": orders, "pagination": pagination})
	}
}

// GetOrder handles GET /v1/orders/:id.
func GetOrder(engine *services.OrderEngine) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, _ := middleware.UserID(c)
		order, err := engine.Order(c.Request.Context(), userID, c.Param("id"))
		if err != nil {
			respondServiceError(c, err)
			return
		}
		respondOK(c, http.StatusOK, order)
	}
}

// CancelOrder handles POST /v1/orders/:id/cancel.
func CancelOrder(engine *services.OrderEngine) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := orderTracer.Start(c.Request.Context(), "handlers.CancelOrder")
		defer span.End()

		userID, _ := middleware.UserID(c)

		var req CancelOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, err.Error())
			return
		}

		order, err := engine.CancelOrder(ctx, userID, c.Param("id"), req.Reason)
		if err != nil {
			respondServiceError(c, err)
			return
		}
		respondOK(c, http.StatusOK, order)
	}
}

// InitiatePayment handles POST /v1/orders/:id/payment.
func InitiatePayment(engine *services.OrderEngine) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := orderTracer.Start(c.Request.Context(), "handlers.InitiatePayment")
		defer span.End()

		userID, _ := middleware.UserID(c)

		var req InitiatePaymentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, err.Error())
			return
		}

		intent, err := engine.InitiatePayment(ctx, userID, c.Param("id"), req.Method)
		if err != nil {
			respondServiceError(c, err)
			return
		}
		respondOK(c, http.StatusOK, intent)
	}
}

// VerifyPayment handles the payment gateway callback, POST
// /v1/payments/verify. Authenticated by payment id, not user session.
func VerifyPayment(engine *services.OrderEngine) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := orderTracer.Start(c.Request.Context(), "handlers.VerifyPayment")
		defer span.End()

		var req VerifyPaymentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, err.Error())
			return
		}

		order, err := engine.VerifyPayment(ctx, req.OrderID, req.PaymentID)
		if err != nil {
			respondServiceError(c, err)
			return
		}
		respondOK(c, http.StatusOK, order)
	}
}
