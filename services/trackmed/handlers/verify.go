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
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/neutron420/Trackmed-sub000/services/trackmed/datatypes"
	"github.com/neutron420/Trackmed-sub000/services/trackmed/middleware"
	"github.com/neutron420/Trackmed-sub000/services/trackmed/services"
)

var verifyTracer = otel.Tracer("trackmed/handlers/verify")

// ScanQR handles POST /v1/scan: resolves a printed unit code to its
// batch and returns the reconciled projection. Public, rate limited.
func ScanQR(svc *services.VerificationService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := verifyTracer.Start(c.Request.Context(), "handlers.ScanQR")
		defer span.End()

		var req ScanRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, err.Error())
			return
		}
		span.SetAttributes(attribute.String("scan.type", string(req.ScanType)))

		userID, _ := middleware.UserID(c)
		out, err := svc.VerifyQR(ctx, req.QRCode, services.ScanContext{
			UserID:   userID,
			Device:   deviceInfoFrom(req.Device),
			ScanType: req.ScanType,
		})
		if err != nil {
			respondServiceError(c, err)
			return
		}
		respondOK(c, http.StatusOK, out)
	}
}

// deviceInfoFrom converts the wire metadata into the scan log shape.
// Coordinates that fail to parse are dropped rather than rejecting the
// scan.
func deviceInfoFrom(req DeviceInfoRequest) datatypes.DeviceInfo {
	di := datatypes.DeviceInfo{
		DeviceID:        req.DeviceID,
		DeviceModel:     req.DeviceModel,
		DeviceOS:        req.DeviceOS,
		AppVersion:      req.AppVersion,
		LocationAddress: req.LocationAddress,
	}
	if req.LocationLat != nil {
		if lat, err := decimal.NewFromString(*req.LocationLat); err == nil {
			di.LocationLat = &lat
		}
	}
	if req.LocationLng != nil {
		if lng, err := decimal.NewFromString(*req.LocationLng); err == nil {
			di.LocationLng = &lng
		}
	}
	return di
}
