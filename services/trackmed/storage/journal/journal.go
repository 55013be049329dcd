// Copyright (C) 2025 TrackMed (engineering@trackmed.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package journal persists pending-local-write markers for batch
// registration.
//
// Registration is ledger-first: the ledger write commits before the
// relational insert. The window between those two writes is the only
// place the system can become inconsistent (ledger has the batch, the
// database does not). Each marker records one batch inside that window,
// keyed by batch hash, carrying everything needed to complete the local
// insert after a crash. Markers are deleted once the insert commits, so
// an empty journal means no batch is mid-registration.
//
// Backed by BadgerDB for low-latency embedded storage with synchronous
// writes.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/neutron420/Trackmed-sub000/services/trackmed/datatypes"
)

// keyPrefix namespaces journal entries within the Badger keyspace.
const keyPrefix = "regjournal:"

// Entry is one pending local write. Batch is the fully-populated row to
// insert, including the ledger references minted by the registration.
type Entry struct {
	BatchHash string          `json:"batchHash"`
	Batch     datatypes.Batch `json:"batch"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Config holds journal storage configuration.
type Config struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory
	// is true.
	Path string

	// InMemory enables in-memory mode. Testing only: markers must
	// survive a crash in production.
	InMemory bool

	// SyncWrites forces each marker to disk before Put returns.
	SyncWrites bool

	// Logger receives BadgerDB's internal logging. Nil disables it.
	Logger *slog.Logger
}

// DefaultConfig returns the production configuration: persistent,
// synchronous writes.
func DefaultConfig(path string) Config {
	return Config{
		Path:       path,
		SyncWrites: true,
	}
}

// InMemoryConfig returns a test configuration with no disk I/O.
func InMemoryConfig() Config {
	return Config{
		InMemory: true,
	}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Journal is the Badger-backed marker store. Safe for concurrent use.
type Journal struct {
	db *badger.DB
}

// Open creates or opens the journal at the configured location.
//
// # Outputs
//
//   - *Journal: the opened journal. Caller must Close.
//   - error: non-nil if the directory cannot be created or the database
//     cannot be opened.
func Open(cfg Config) (*Journal, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("journal: path is required for persistent mode")
		}
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, fmt.Errorf("journal: create directory: %w", err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("journal: open badger: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close releases the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

func entryKey(batchHash string) []byte {
	return []byte(keyPrefix + batchHash)
}

// Put writes a pending marker. Overwrites any existing marker for the
// same hash, which only happens when a crash interrupted a previous
// attempt at the same batch.
func (j *Journal) Put(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("journal: encode entry %s: %w", e.BatchHash, err)
	}
	err = j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(e.BatchHash), raw)
	})
	if err != nil {
		return fmt.Errorf("journal: put %s: %w", e.BatchHash, err)
	}
	return nil
}

// Delete removes the marker for a batch hash. Deleting an absent marker
// is a no-op: completion paths race benignly with the recovery sweep.
func (j *Journal) Delete(ctx context.Context, batchHash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := j.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(entryKey(batchHash))
	})
	if err != nil {
		return fmt.Errorf("journal: delete %s: %w", batchHash, err)
	}
	return nil
}

// List returns every pending marker, oldest key order.
func (j *Journal) List(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var entries []Entry
	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var e Entry
				if err := json.Unmarshal(val, &e); err != nil {
					return fmt.Errorf("decode entry %s: %w", item.Key(), err)
				}
				entries = append(entries, e)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("journal: list: %w", err)
	}
	return entries, nil
}
