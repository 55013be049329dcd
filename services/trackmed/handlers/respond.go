// Copyright (C) 2025 TrackMed (engineering@trackmed.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers exposes the TrackMed HTTP API. Handlers are thin:
// bind, call the service, map the error taxonomy onto HTTP statuses,
// and wrap everything in the {success, data, error} envelope.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/neutron420/Trackmed-sub000/services/trackmed/datatypes"
	"github.com/neutron420/Trackmed-sub000/services/trackmed/ledger"
)

func respondOK(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"success": true, "data": data})
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "error": message})
}

// respondServiceError maps the service error taxonomy onto HTTP.
// Internal detail stays in logs; the client sees the category message.
func respondServiceError(c *gin.Context, err error) {
	var le *ledger.Error
	if errors.As(err, &le) {
		switch le.Code {
		case ledger.CodeNotFound:
			respondError(c, http.StatusNotFound, "ledger record not found")
		case ledger.CodeUnauthorized:
			respondError(c, http.StatusForbidden, "ledger rejected the caller's authority")
		case ledger.CodeRejected:
			respondError(c, http.StatusConflict, "ledger rejected the transaction")
		default:
			respondError(c, http.StatusBadGateway, "ledger unavailable")
		}
		return
	}

	switch {
	case errors.Is(err, datatypes.ErrValidation),
		errors.Is(err, datatypes.ErrEmptyCart),
		errors.Is(err, datatypes.ErrInvalidAddress):
		respondError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, datatypes.ErrUnauthorized):
		respondError(c, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, datatypes.ErrOwnershipMismatch):
		respondError(c, http.StatusForbidden, "caller does not own this batch")
	case errors.Is(err, datatypes.ErrNotFound):
		respondError(c, http.StatusNotFound, "not found")
	case errors.Is(err, datatypes.ErrQRInactive):
		respondError(c, http.StatusConflict, "this code has been deactivated")
	case errors.Is(err, datatypes.ErrInventoryConflict),
		errors.Is(err, datatypes.ErrItemsUnavailable),
		errors.Is(err, datatypes.ErrAlreadyProcessed),
		errors.Is(err, datatypes.ErrCannotCancel),
		errors.Is(err, datatypes.ErrDuplicate):
		respondError(c, http.StatusConflict, err.Error())
	default:
		respondError(c, http.StatusInternalServerError, "internal error")
	}
}
