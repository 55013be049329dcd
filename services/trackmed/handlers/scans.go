// Copyright (C) 2025 TrackMed (engineering@trackmed.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/neutron420/Trackmed-sub000/services/trackmed/datatypes"
	"github.com/neutron420/Trackmed-sub000/services/trackmed/middleware"
	"github.com/neutron420/Trackmed-sub000/services/trackmed/services"
)

// BatchResolver looks up a batch row by its hash.
type BatchResolver interface {
	BatchByHash(ctx context.Context, hash string) (*datatypes.Batch, error)
}

// BatchScans handles GET /v1/batches/:hash/scans: paged scan history
// for the batch's owner, newest first. Only the owning wallet may read
// a batch's audit trail.
func BatchScans(resolver BatchResolver, scans *services.ScanLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		caller, ok := middleware.WalletIdentity(c)
		if !ok {
			respondError(c, http.StatusUnauthorized, "missing wallet identity")
			return
		}

		b, err := resolver.BatchByHash(ctx, c.Param("hash"))
		if err != nil {
			respondServiceError(c, err)
			return
		}
		if b.Manufacturer == nil || b.Manufacturer.WalletAddress != caller {
			respondError(c, http.StatusForbidden, "caller does not own this batch")
			return
		}

		page, limit := pageParams(c)
		logs, pagination, err := scans.Scans(ctx, b.ID, page, limit)
		if err != nil {
			respondServiceError(c, err)
			return
		}
		respondOK(c, http.StatusOK, gin.H{"scans": logs, "pagination": pagination})
	}
}

func pageParams(c *gin.Context) (page, limit int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	return page, limit
}
