// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianLattice/services/lattice/visitor"
)

func put(t *testing.T, db *DB, kv map[string]string) {
	t.Helper()
	err := db.WithTxn(context.Background(), func(txn *badger.Txn) error {
		for k, v := range kv {
			if err := txn.Set([]byte(k), []byte(v)); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestOpenInMemory(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	put(t, db, map[string]string{"key": "value"})
	v, err := db.Get(context.Background(), []byte("key"))
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), v)

	_, err = db.Get(context.Background(), []byte("missing"))
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestOpen_PathRequired(t *testing.T) {
	_, err := Open(Config{})
	assert.ErrorIs(t, err, ErrPathRequired)
}

func TestOpen_Persists(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Path = t.TempDir()

	db, err := Open(cfg)
	require.NoError(t, err)
	put(t, db, map[string]string{"checkpoint/a": "1"})
	require.NoError(t, db.Close())

	db2, err := Open(cfg)
	require.NoError(t, err)
	defer db2.Close()

	v, err := db2.Get(context.Background(), []byte("checkpoint/a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)
}

func TestScanPrefix(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	put(t, db, map[string]string{
		"checkpoint/b/meta": "B",
		"checkpoint/a/meta": "A",
		"checkpoint/c/meta": "C",
		"other/x":           "X",
	})
	ctx := context.Background()

	var keys []string
	var values []string
	r, err := db.ScanPrefix(ctx, []byte("checkpoint/"), false, visitor.Continue(func(kv KV) {
		keys = append(keys, string(kv.Key))
		values = append(values, string(kv.Value))
	}))
	require.NoError(t, err)
	assert.Equal(t, visitor.NotDone, r)
	assert.Equal(t, []string{"checkpoint/a/meta", "checkpoint/b/meta", "checkpoint/c/meta"}, keys)
	assert.Equal(t, []string{"A", "B", "C"}, values)

	calls := 0
	r, err = db.ScanPrefix(ctx, []byte("checkpoint/"), true, func(kv KV) visitor.Result {
		calls++
		assert.Nil(t, kv.Value)
		return visitor.Done
	})
	require.NoError(t, err)
	assert.Equal(t, visitor.Done, r)
	assert.Equal(t, 1, calls)

	r, err = db.ScanPrefix(ctx, []byte("nothing/"), false, visitor.Continue(func(KV) {}))
	require.NoError(t, err)
	assert.Equal(t, visitor.NoVisits, r)
}

func TestDeletePrefix(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	put(t, db, map[string]string{"c/1/meta": "m", "c/1/data": "d", "c/2/meta": "m"})
	ctx := context.Background()

	n, err := db.DeletePrefix(ctx, []byte("c/1/"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = db.Get(ctx, []byte("c/1/meta"))
	assert.ErrorIs(t, err, ErrKeyNotFound)
	_, err = db.Get(ctx, []byte("c/2/meta"))
	assert.NoError(t, err)

	n, err = db.DeletePrefix(ctx, []byte("c/1/"))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestWithTxn_CancelledContext(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = db.WithTxn(ctx, func(*badger.Txn) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
	err = db.WithReadTxn(ctx, func(*badger.Txn) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewGCRunner_Validation(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	_, err = NewGCRunner(nil, time.Minute, 0.5, nil)
	assert.Error(t, err)
	_, err = NewGCRunner(db.DB, 0, 0.5, nil)
	assert.ErrorIs(t, err, ErrInvalidGC)
	_, err = NewGCRunner(db.DB, time.Minute, 1.5, nil)
	assert.ErrorIs(t, err, ErrInvalidGC)
}

func TestGCRunner_StartStop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Path = t.TempDir()
	cfg.SyncWrites = false
	cfg.GCInterval = 10 * time.Millisecond
	db, err := Open(cfg)
	require.NoError(t, err)

	put(t, db, map[string]string{"k": "v"})
	time.Sleep(30 * time.Millisecond)

	// Close stops the runner; a second Stop is harmless.
	require.NoError(t, db.Close())
	db.gc.Stop()
}

func TestGCRunner_StopWithoutStart(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	r, err := NewGCRunner(db.DB, time.Minute, 0.5, nil)
	require.NoError(t, err)
	r.Stop()
	r.Stop()
}
