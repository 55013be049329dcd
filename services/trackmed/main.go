// Copyright (C) 2025 TrackMed (engineering@trackmed.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/neutron420/Trackmed-sub000/services/trackmed/config"
	"github.com/neutron420/Trackmed-sub000/services/trackmed/events"
	"github.com/neutron420/Trackmed-sub000/services/trackmed/handlers"
	"github.com/neutron420/Trackmed-sub000/services/trackmed/ledger"
	"github.com/neutron420/Trackmed-sub000/services/trackmed/observability"
	"github.com/neutron420/Trackmed-sub000/services/trackmed/routes"
	"github.com/neutron420/Trackmed-sub000/services/trackmed/services"
	"github.com/neutron420/Trackmed-sub000/services/trackmed/storage/journal"
	"github.com/neutron420/Trackmed-sub000/services/trackmed/storage/postgres"
)

// recoverySweepInterval paces the periodic journal sweep that retries
// registrations stranded between ledger write and database insert.
const recoverySweepInterval = 5 * time.Minute

func initTracer(endpoint string) (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("trackmed-service")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(os.Getenv("TRACKMED_CONFIG"))
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	cleanup, err := initTracer(cfg.Observability.OTLPEndpoint)
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := postgres.Open(ctx, cfg.Postgres())
	if err != nil {
		log.Fatalf("failed to open postgres: %v", err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	jrnl, err := journal.Open(journal.DefaultConfig(cfg.Journal.Path))
	if err != nil {
		log.Fatalf("failed to open registration journal: %v", err)
	}
	defer jrnl.Close()

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	gw := ledger.NewClient(cfg.Ledger.RPCURL, logger, ledger.WithMetrics(metrics))

	var sink events.Sink = events.NopSink{}
	if cfg.Events.URL != "" {
		ws := events.NewWSSink(events.WSConfig{
			URL:        cfg.Events.URL,
			ServiceKey: cfg.Events.ServiceKey,
		}, logger, metrics)
		go ws.Run(ctx)
		sink = ws
	}

	scanLogger := services.NewScanLogger(store, logger, metrics, 0)
	scanLogger.Start(ctx)

	registration := services.NewRegistrationService(store, jrnl, gw, sink, logger, metrics)
	status := services.NewStatusService(store, gw, sink, logger)
	verification := services.NewVerificationService(store, gw, scanLogger, logger, metrics)
	cart := services.NewCartService(store)
	orders := services.NewOrderEngine(store, sink, logger, metrics)

	// Replay registrations stranded by a crash between ledger write and
	// database insert, then keep sweeping in the background.
	if n, err := registration.RecoverPending(ctx); err != nil {
		logger.Error("journal recovery failed", "error", err)
	} else if n > 0 {
		logger.Info("recovered pending registrations", "count", n)
	}
	go func() {
		ticker := time.NewTicker(recoverySweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := registration.RecoverPending(ctx); err != nil {
					logger.Error("journal sweep failed", "error", err)
				}
			}
		}
	}()

	if err := handlers.RegisterValidations(); err != nil {
		log.Fatalf("failed to register request validations: %v", err)
	}

	router := gin.Default()
	routes.SetupRoutes(ctx, router, routes.Deps{
		Store:        store,
		Registration: registration,
		Status:       status,
		Verification: verification,
		Scans:        scanLogger,
		Cart:         cart,
		Orders:       orders,
		Logger:       logger,
		RateRPS:      cfg.RateLimit.RPS,
		RateBurst:    cfg.RateLimit.Burst,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}
	go func() {
		logger.Info("starting the trackmed server", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	<-scanLogger.Done()
}
