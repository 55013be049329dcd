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

var batchTracer = otel.Tracer("trackmed/handlers/batches")

// RegisterBatch handles POST /v1/batches.
//
// # Description
//
// Creates a batch ledger-first for the wallet identity proven by the
// request signature. A ledger failure aborts with no local write; a
// local failure after ledger success returns 500 with the registration
// journal holding the marker for recovery.
func RegisterBatch(svc *services.RegistrationService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := batchTracer.Start(c.Request.Context(), "handlers.RegisterBatch")
		defer span.End()

		caller, ok := middleware.WalletIdentity(c)
		if !ok {
			respondError(c, http.StatusUnauthorized, "missing wallet identity")
			return
		}

		var req RegisterBatchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, err.Error())
			return
		}
		span.SetAttributes(attribute.String("batch.hash", req.BatchHash))

		batch, err := svc.Register(ctx, caller, services.RegistrationInput{
			BatchHash:         req.BatchHash,
			BatchNumber:       req.BatchNumber,
			ManufacturerID:    req.ManufacturerID,
			MedicineID:        req.MedicineID,
			ManufacturingDate: req.ManufacturingDate,
			ExpiryDate:        req.ExpiryDate,
			Quantity:          req.Quantity,
			InvoiceNumber:     req.InvoiceNumber,
			InvoiceDate:       req.InvoiceDate,
			GSTNumber:         req.GSTNumber,
			WarehouseLocation: req.WarehouseLocation,
			WarehouseAddress:  req.WarehouseAddress,
			ImageURL:          req.ImageURL,
		})
		if err != nil {
			respondServiceError(c, err)
			return
		}
		respondOK(c, http.StatusCreated, batch)
	}
}

// UpdateBatchStatus handles PATCH /v1/batches/:hash/status.
func UpdateBatchStatus(svc *services.StatusService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := batchTracer.Start(c.Request.Context(), "handlers.UpdateBatchStatus")
		defer span.End()

		caller, ok := middleware.WalletIdentity(c)
		if !ok {
			respondError(c, http.StatusUnauthorized, "missing wallet identity")
			return
		}

		var req UpdateStatusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, err.Error())
			return
		}

		hash := c.Param("hash")
		span.SetAttributes(
			attribute.String("batch.hash", hash),
			attribute.String("batch.status", string(req.Status)),
		)

		batch, err := svc.UpdateStatus(ctx, caller, hash, req.Status)
		if err != nil {
			respondServiceError(c, err)
			return
		}
		respondOK(c, http.StatusOK, batch)
	}
}

// GetBatch handles GET /v1/batches/:hash. Returns the reconciled,
// client-safe projection rather than the raw row.
func GetBatch(svc *services.VerificationService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := batchTracer.Start(c.Request.Context(), "handlers.GetBatch")
		defer span.End()

		hash := c.Param("hash")
		span.SetAttributes(attribute.String("batch.hash", hash))

		userID, _ := middleware.UserID(c)
		out, err := svc.VerifyBatch(ctx, hash, services.ScanContext{UserID: userID})
		if err != nil {
			respondServiceError(c, err)
			return
		}
		respondOK(c, http.StatusOK, out)
	}
}
