// Copyright (C) 2025 TrackMed (engineering@trackmed.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package postgres implements the relational store behind the TrackMed
// service: batches, QR codes, scan logs, carts, and orders.
//
// All multi-row invariants live here in explicit SQL transactions. In
// particular, order creation and cancellation run as single transactions
// whose stock movements use conditional updates with affected-row
// checks, so oversell is impossible regardless of concurrent load.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Config holds database connection settings.
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DSN renders the lib/pq connection string.
func (c Config) DSN() string {
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, sslmode)
}

// Store wraps the SQL connection pool. Safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Store{db: db}, nil
}

// Ping reports connection health for the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// withTx runs fn inside a transaction, committing on nil and rolling
// back otherwise.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// nullString maps empty strings onto SQL NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// nullTime maps nil onto SQL NULL.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func fromNullString(ns sql.NullString) string {
	if !ns.Valid {
		return ""
	}
	return ns.String
}

func fromNullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS manufacturers (
		id             TEXT PRIMARY KEY,
		name           TEXT NOT NULL,
		license_number TEXT NOT NULL,
		address        TEXT,
		city           TEXT,
		state          TEXT,
		country        TEXT,
		wallet_address TEXT NOT NULL,
		is_verified    BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE TABLE IF NOT EXISTS medicines (
		id           TEXT PRIMARY KEY,
		name         TEXT NOT NULL,
		generic_name TEXT,
		strength     TEXT,
		composition  TEXT,
		dosage_form  TEXT,
		mrp          NUMERIC(12,2) NOT NULL DEFAULT 0,
		image_url    TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS batches (
		id                 TEXT PRIMARY KEY,
		batch_hash         TEXT NOT NULL UNIQUE,
		batch_number       TEXT NOT NULL,
		manufacturer_id    TEXT NOT NULL REFERENCES manufacturers(id),
		medicine_id        TEXT NOT NULL REFERENCES medicines(id),
		manufacturing_date TIMESTAMPTZ NOT NULL,
		expiry_date        TIMESTAMPTZ NOT NULL,
		status             TEXT NOT NULL,
		lifecycle_status   TEXT NOT NULL,
		quantity           INTEGER NOT NULL,
		remaining_quantity INTEGER NOT NULL CHECK (remaining_quantity >= 0),
		ledger_tx_ref      TEXT,
		ledger_address     TEXT,
		invoice_number     TEXT,
		invoice_date       TIMESTAMPTZ,
		gst_number         TEXT,
		warehouse_location TEXT,
		warehouse_address  TEXT,
		image_url          TEXT,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_batches_manufacturer ON batches(manufacturer_id)`,
	`CREATE TABLE IF NOT EXISTS qr_codes (
		id          TEXT PRIMARY KEY,
		code        TEXT NOT NULL UNIQUE,
		batch_id    TEXT NOT NULL REFERENCES batches(id),
		unit_number INTEGER NOT NULL,
		is_active   BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE TABLE IF NOT EXISTS scan_logs (
		id               TEXT PRIMARY KEY,
		qr_code_id       TEXT,
		batch_id         TEXT NOT NULL,
		user_id          TEXT,
		device_id        TEXT,
		device_model     TEXT,
		device_os        TEXT,
		app_version      TEXT,
		location_lat     NUMERIC(10,7),
		location_lng     NUMERIC(10,7),
		location_address TEXT,
		scan_type        TEXT NOT NULL,
		ledger_verified  BOOLEAN NOT NULL DEFAULT FALSE,
		status_snapshot  TEXT,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_scan_logs_batch ON scan_logs(batch_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS addresses (
		id          TEXT PRIMARY KEY,
		user_id     TEXT NOT NULL,
		line1       TEXT NOT NULL,
		line2       TEXT,
		city        TEXT NOT NULL,
		state       TEXT NOT NULL,
		postal_code TEXT NOT NULL,
		phone       TEXT,
		is_default  BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE TABLE IF NOT EXISTS carts (
		id      TEXT PRIMARY KEY,
		user_id TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS cart_items (
		id       TEXT PRIMARY KEY,
		cart_id  TEXT NOT NULL REFERENCES carts(id) ON DELETE CASCADE,
		batch_id TEXT NOT NULL REFERENCES batches(id),
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		UNIQUE (cart_id, batch_id)
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id                  TEXT PRIMARY KEY,
		order_number        TEXT NOT NULL UNIQUE,
		user_id             TEXT NOT NULL,
		address_id          TEXT NOT NULL,
		subtotal            NUMERIC(12,2) NOT NULL,
		tax                 NUMERIC(12,2) NOT NULL,
		delivery_fee        NUMERIC(12,2) NOT NULL,
		total               NUMERIC(12,2) NOT NULL,
		status              TEXT NOT NULL,
		payment_status      TEXT NOT NULL,
		payment_method      TEXT,
		payment_id          TEXT,
		payment_ref         TEXT,
		notes               TEXT,
		prescription_url    TEXT,
		estimated_delivery  TIMESTAMPTZ,
		cancelled_at        TIMESTAMPTZ,
		cancellation_reason TEXT,
		created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_user ON orders(user_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		id                TEXT PRIMARY KEY,
		order_id          TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		batch_id          TEXT NOT NULL,
		medicine_name     TEXT NOT NULL,
		medicine_strength TEXT,
		quantity          INTEGER NOT NULL,
		unit_price        NUMERIC(12,2) NOT NULL,
		total_price       NUMERIC(12,2) NOT NULL
	)`,
}

// Migrate applies the schema. Statements are idempotent so repeated
// startups are safe.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: migrate: %w", err)
		}
	}
	return nil
}
