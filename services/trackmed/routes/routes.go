// Copyright (C) 2025 TrackMed (engineering@trackmed.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"context"
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/neutron420/Trackmed-sub000/services/trackmed/handlers"
	"github.com/neutron420/Trackmed-sub000/services/trackmed/middleware"
	"github.com/neutron420/Trackmed-sub000/services/trackmed/services"
	"github.com/neutron420/Trackmed-sub000/services/trackmed/storage/postgres"
)

// Deps bundles everything the route table wires together.
type Deps struct {
	Store        *postgres.Store
	Registration *services.RegistrationService
	Status       *services.StatusService
	Verification *services.VerificationService
	Scans        *services.ScanLogger
	Cart         *services.CartService
	Orders       *services.OrderEngine
	Logger       *slog.Logger
	RateRPS      float64
	RateBurst    int
}

func SetupRoutes(ctx context.Context, router *gin.Engine, d Deps) {
	router.Use(otelgin.Middleware("trackmed"))

	router.GET("/health", handlers.Health())
	router.GET("/ready", handlers.Ready(d.Store))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	{
		// Public verification surface. Unauthenticated, so throttled.
		public := v1.Group("")
		public.Use(middleware.RateLimit(ctx, d.RateRPS, d.RateBurst), middleware.OptionalUser())
		{
			public.POST("/scan", handlers.ScanQR(d.Verification))
			public.GET("/batches/:hash", handlers.GetBatch(d.Verification))
		}

		// Supply-chain writes require a signed wallet request.
		wallet := v1.Group("")
		wallet.Use(middleware.WalletAuth(d.Logger))
		{
			wallet.POST("/batches", handlers.RegisterBatch(d.Registration))
			wallet.PATCH("/batches/:hash/status", handlers.UpdateBatchStatus(d.Status))
			wallet.GET("/batches/:hash/scans", handlers.BatchScans(d.Store, d.Scans))
		}

		// Storefront routes are scoped to the authenticated user.
		user := v1.Group("")
		user.Use(middleware.RequireUser())
		{
			user.GET("/cart", handlers.GetCart(d.Cart))
			user.PUT("/cart/items", handlers.PutCartItem(d.Cart))
			user.DELETE("/cart/items/:batchId", handlers.DeleteCartItem(d.Cart))
			user.DELETE("/cart", handlers.ClearCart(d.Cart))

			orders := user.Group("/orders")
			{
				orders.POST("", handlers.CreateOrder(d.Orders))
				orders.GET("", handlers.ListOrders(d.Orders))
				orders.GET("/:id", handlers.GetOrder(d.Orders))
				orders.POST("/:id/cancel", handlers.CancelOrder(d.Orders))
				orders.POST("/:id/payment", handlers.InitiatePayment(d.Orders))
			}
		}

		// Gateway callback authenticates by payment id, not session.
		v1.POST("/payments/verify", handlers.VerifyPayment(d.Orders))
	}
}
