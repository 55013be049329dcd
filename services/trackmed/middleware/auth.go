// Copyright (C) 2025 TrackMed (engineering@trackmed.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides gin middleware for the TrackMed service:
// wallet-signature authentication and per-IP rate limiting.
package middleware

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/neutron420/Trackmed-sub000/pkg/identity"
)

// Headers carrying the ownership proof. The signature covers the request
// method, path, and body, so a captured header pair cannot be replayed
// against a different endpoint or payload.
const (
	HeaderWalletAddress   = "X-Wallet-Address"
	HeaderWalletSignature = "X-Wallet-Signature"
	HeaderUserID          = "X-User-Id"
)

// Context keys set by the middleware.
const (
	walletContextKey = "trackmed.wallet"
	userContextKey   = "trackmed.user"
)

// WalletIdentity returns the verified wallet identity set by WalletAuth.
func WalletIdentity(c *gin.Context) (string, bool) {
	v, ok := c.Get(walletContextKey)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}

// UserID returns the authenticated user set by RequireUser.
func UserID(c *gin.Context) (string, bool) {
	v, ok := c.Get(userContextKey)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}

// WalletAuth verifies the request signature against the claimed wallet
// identity and stores the identity in the request context. The body is
// read for verification and restored for downstream binding.
func WalletAuth(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		addr := c.GetHeader(HeaderWalletAddress)
		sig := c.GetHeader(HeaderWalletSignature)
		if addr == "" || sig == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "missing wallet credentials",
			})
			return
		}

		var body []byte
		if c.Request.Body != nil {
			var err error
			body, err = io.ReadAll(c.Request.Body)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
					"success": false,
					"error":   "unreadable request body",
				})
				return
			}
			c.Request.Body = io.NopCloser(bytes.NewReader(body))
		}

		if err := identity.VerifyRequest(addr, c.Request.Method, c.Request.URL.Path, body, sig); err != nil {
			logger.Warn("wallet signature rejected",
				"path", c.Request.URL.Path, "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "invalid wallet signature",
			})
			return
		}

		c.Set(walletContextKey, addr)
		c.Next()
	}
}

// RequireUser enforces the authenticated-user header supplied by the
// API gateway. Session issuance itself lives outside this service.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader(HeaderUserID)
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "authentication required",
			})
			return
		}
		c.Set(userContextKey, userID)
		c.Next()
	}
}

// OptionalUser records the user header when present without requiring
// it. Public scan endpoints accept anonymous traffic.
func OptionalUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if userID := c.GetHeader(HeaderUserID); userID != "" {
			c.Set(userContextKey, userID)
		}
		c.Next()
	}
}
