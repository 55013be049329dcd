// Copyright (C) 2025 TrackMed (engineering@trackmed.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package journal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neutron420/Trackmed-sub000/services/trackmed/datatypes"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func testEntry(hash string) Entry {
	return Entry{
		BatchHash: hash,
		Batch: datatypes.Batch{
			ID:          "batch-id-" + hash,
			BatchHash:   hash,
			BatchNumber: "BN-001",
			Status:      datatypes.BatchValid,
			LedgerTxRef: "tx-" + hash,
		},
		CreatedAt: time.Now().UTC(),
	}
}

func TestJournalPutListDelete(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	require.NoError(t, j.Put(ctx, testEntry("hash-a")))
	require.NoError(t, j.Put(ctx, testEntry("hash-b")))

	entries, err := j.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	hashes := map[string]bool{}
	for _, e := range entries {
		hashes[e.BatchHash] = true
		assert.Equal(t, "tx-"+e.BatchHash, e.Batch.LedgerTxRef)
	}
	assert.True(t, hashes["hash-a"])
	assert.True(t, hashes["hash-b"])

	require.NoError(t, j.Delete(ctx, "hash-a"))
	entries, err = j.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "hash-b", entries[0].BatchHash)
}

func TestJournalDeleteAbsentIsNoop(t *testing.T) {
	j := openTestJournal(t)
	assert.NoError(t, j.Delete(context.Background(), "never-written"))
}

func TestJournalPutOverwritesSameHash(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	first := testEntry("hash-a")
	first.Batch.LedgerTxRef = "tx-old"
	require.NoError(t, j.Put(ctx, first))

	second := testEntry("hash-a")
	second.Batch.LedgerTxRef = "tx-new"
	require.NoError(t, j.Put(ctx, second))

	entries, err := j.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "tx-new", entries[0].Batch.LedgerTxRef)
}

func TestJournalHonorsCancelledContext(t *testing.T) {
	j := openTestJournal(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, j.Put(ctx, testEntry("hash-a")))
	_, err := j.List(ctx)
	assert.Error(t, err)
}
