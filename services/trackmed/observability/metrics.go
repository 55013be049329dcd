// Copyright (C) 2025 TrackMed (engineering@trackmed.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the TrackMed
// service. Metrics are registered once via promauto and shared through a
// single Metrics struct; helper methods are nil-safe so unit tests can
// run components without a registry.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the service exports.
type Metrics struct {
	VerificationsTotal     *prometheus.CounterVec
	ScansTotal             *prometheus.CounterVec
	ScanLogDropsTotal      prometheus.Counter
	OrdersCreatedTotal     prometheus.Counter
	OrdersCancelledTotal   prometheus.Counter
	InventoryConflictTotal prometheus.Counter
	RegistrationsTotal     *prometheus.CounterVec
	JournalPendingEntries  prometheus.Gauge
	LedgerCallSeconds      *prometheus.HistogramVec
	EventsDroppedTotal     prometheus.Counter
}

// NewMetrics registers all collectors on the given registerer. Pass
// prometheus.DefaultRegisterer in main; tests pass a fresh registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		VerificationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trackmed",
			Name:      "verifications_total",
			Help:      "Verification attempts by outcome (verified, mismatch, no_ledger, not_found).",
		}, []string{"result"}),
		ScansTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trackmed",
			Name:      "scans_total",
			Help:      "Scan log entries accepted, by scan type.",
		}, []string{"type"}),
		ScanLogDropsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "trackmed",
			Name:      "scan_log_drops_total",
			Help:      "Scan log entries dropped because the writer buffer was full.",
		}),
		OrdersCreatedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "trackmed",
			Name:      "orders_created_total",
			Help:      "Orders successfully created.",
		}),
		OrdersCancelledTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "trackmed",
			Name:      "orders_cancelled_total",
			Help:      "Orders cancelled with inventory restored.",
		}),
		InventoryConflictTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "trackmed",
			Name:      "inventory_conflicts_total",
			Help:      "Conditional stock decrements rejected for insufficient quantity.",
		}),
		RegistrationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trackmed",
			Name:      "batch_registrations_total",
			Help:      "Batch registration attempts by outcome (ok, ledger_error, local_error, recovered).",
		}, []string{"result"}),
		JournalPendingEntries: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "trackmed",
			Name:      "journal_pending_entries",
			Help:      "Registration journal entries awaiting local completion.",
		}),
		LedgerCallSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "trackmed",
			Name:      "ledger_call_duration_seconds",
			Help:      "Latency of ledger gateway calls by operation and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op", "status"}),
		EventsDroppedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "trackmed",
			Name:      "events_dropped_total",
			Help:      "Outbound events dropped because the sink buffer was full.",
		}),
	}
}

// RecordVerification counts one verification attempt by outcome.
func (m *Metrics) RecordVerification(result string) {
	if m == nil {
		return
	}
	m.VerificationsTotal.WithLabelValues(result).Inc()
}

// RecordScan counts one accepted scan log entry.
func (m *Metrics) RecordScan(scanType string) {
	if m == nil {
		return
	}
	m.ScansTotal.WithLabelValues(scanType).Inc()
}

// RecordScanDrop counts one dropped scan log entry.
func (m *Metrics) RecordScanDrop() {
	if m == nil {
		return
	}
	m.ScanLogDropsTotal.Inc()
}

// RecordOrderCreated counts one created order.
func (m *Metrics) RecordOrderCreated() {
	if m == nil {
		return
	}
	m.OrdersCreatedTotal.Inc()
}

// RecordOrderCancelled counts one cancelled order.
func (m *Metrics) RecordOrderCancelled() {
	if m == nil {
		return
	}
	m.OrdersCancelledTotal.Inc()
}

// RecordInventoryConflict counts one rejected stock decrement.
func (m *Metrics) RecordInventoryConflict() {
	if m == nil {
		return
	}
	m.InventoryConflictTotal.Inc()
}

// RecordRegistration counts one registration attempt by outcome.
func (m *Metrics) RecordRegistration(result string) {
	if m == nil {
		return
	}
	m.RegistrationsTotal.WithLabelValues(result).Inc()
}

// SetJournalPending reports the current journal backlog size.
func (m *Metrics) SetJournalPending(n int) {
	if m == nil {
		return
	}
	m.JournalPendingEntries.Set(float64(n))
}

// ObserveLedgerCall records the latency of one gateway call.
func (m *Metrics) ObserveLedgerCall(op, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.LedgerCallSeconds.WithLabelValues(op, status).Observe(d.Seconds())
}

// RecordEventDrop counts one dropped outbound event.
func (m *Metrics) RecordEventDrop() {
	if m == nil {
		return
	}
	m.EventsDroppedTotal.Inc()
}
