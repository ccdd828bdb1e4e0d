// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger opens and manages the embedded BadgerDB instance that
// holds lattice checkpoints.
//
// Checkpoints are written rarely and read back in full, so the defaults
// favor durability (synchronous writes) and a single retained version per
// key. Value log GC runs in the background when a GC interval is set.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianLattice/services/lattice/visitor"
)

var (
	// ErrPathRequired indicates a persistent store without a directory.
	ErrPathRequired = errors.New("path is required for persistent database")

	// ErrInvalidGC indicates a GC interval or discard ratio out of range.
	ErrInvalidGC = errors.New("invalid value log GC settings")

	// ErrKeyNotFound is returned by Get for a missing key.
	ErrKeyNotFound = errors.New("key not found")
)

// Config holds configuration for the store.
type Config struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string

	// InMemory keeps everything in RAM. Used by tests and by `lattice run`
	// without a storage path.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// Logger receives BadgerDB's internal log lines. Nil silences them.
	Logger *slog.Logger

	// GCInterval is the value log GC period. Zero disables GC.
	GCInterval time.Duration

	// GCDiscardRatio is the garbage ratio at which a value log file is
	// rewritten.
	GCDiscardRatio float64
}

// DefaultConfig returns the production settings: synchronous writes and
// value log GC every ten minutes at a 0.5 discard ratio.
func DefaultConfig() Config {
	return Config{
		SyncWrites:     true,
		GCInterval:     10 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func options(cfg Config) (badger.Options, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return opts, ErrPathRequired
		}
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return opts, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger.With(slog.String("component", "badger"))})
	} else {
		opts = opts.WithLogger(nil)
	}
	return opts, nil
}

// -----------------------------------------------------------------------------
// GC runner
// -----------------------------------------------------------------------------

// GCRunner runs value log garbage collection on a timer.
//
// Thread Safety: Start and Stop are safe for concurrent use and idempotent.
type GCRunner struct {
	db       *badger.DB
	interval time.Duration
	ratio    float64
	logger   *slog.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewGCRunner validates the settings. The runner is idle until Start.
func NewGCRunner(db *badger.DB, interval time.Duration, ratio float64, logger *slog.Logger) (*GCRunner, error) {
	if db == nil {
		return nil, errors.New("db must not be nil")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("%w: interval must be positive, got %s", ErrInvalidGC, interval)
	}
	if ratio <= 0 || ratio >= 1 {
		return nil, fmt.Errorf("%w: discard ratio must be in (0,1), got %g", ErrInvalidGC, ratio)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GCRunner{
		db:       db,
		interval: interval,
		ratio:    ratio,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start launches the GC goroutine.
func (r *GCRunner) Start() {
	r.startOnce.Do(func() { go r.run() })
}

// Stop halts the GC goroutine and waits for it. Stopping a runner that was
// never started returns immediately.
func (r *GCRunner) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	started := true
	r.startOnce.Do(func() { started = false })
	if started {
		<-r.doneCh
	}
}

func (r *GCRunner) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.collect()
		}
	}
}

// collect rewrites value log files until badger reports nothing to do.
func (r *GCRunner) collect() {
	rewrites := 0
	for {
		err := r.db.RunValueLogGC(r.ratio)
		if err == nil {
			rewrites++
			continue
		}
		if !errors.Is(err, badger.ErrNoRewrite) {
			r.logger.Warn("badger value log GC failed", slog.String("error", err.Error()))
		}
		break
	}
	if rewrites > 0 {
		r.logger.Debug("badger value log GC completed", slog.Int("rewrites", rewrites))
	}
}

// -----------------------------------------------------------------------------
// DB
// -----------------------------------------------------------------------------

// DB wraps a BadgerDB instance with GC lifecycle and small key/value
// helpers used by the checkpoint store.
type DB struct {
	*badger.DB
	gc *GCRunner
}

// Open opens the database described by cfg and starts GC when configured.
//
// Outputs:
//
//	*DB - The managed database. Call Close when done.
//	error - ErrPathRequired, ErrInvalidGC, or an open failure.
//
// Thread Safety: The returned DB is safe for concurrent use.
func Open(cfg Config) (*DB, error) {
	opts, err := options(cfg)
	if err != nil {
		return nil, err
	}
	raw, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	db := &DB{DB: raw}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		runner, err := NewGCRunner(raw, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
		if err != nil {
			_ = raw.Close()
			return nil, fmt.Errorf("create GC runner: %w", err)
		}
		db.gc = runner
		runner.Start()
	}
	return db, nil
}

// OpenInMemory opens a RAM-only database for tests and throwaway runs.
func OpenInMemory() (*DB, error) {
	return Open(Config{InMemory: true})
}

// Close stops GC and closes the database.
func (d *DB) Close() error {
	if d.gc != nil {
		d.gc.Stop()
	}
	return d.DB.Close()
}

// WithTxn runs fn in a read-write transaction and commits when fn
// succeeds.
func (d *DB) WithTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	txn := d.DB.NewTransaction(true)
	defer txn.Discard()

	if err := fn(txn); err != nil {
		return err
	}
	return txn.Commit()
}

// WithReadTxn runs fn in a read-only transaction.
func (d *DB) WithReadTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	txn := d.DB.NewTransaction(false)
	defer txn.Discard()
	return fn(txn)
}

// Get returns a copy of the value stored under key.
func (d *DB) Get(ctx context.Context, key []byte) ([]byte, error) {
	var out []byte
	err := d.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrKeyNotFound, key)
		}
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	return out, err
}

// ScanPrefix visits every key with prefix in key order. Values passed to
// fn are only valid during the call.
func (d *DB) ScanPrefix(ctx context.Context, prefix []byte, keysOnly bool, fn visitor.Func[KV]) (visitor.Result, error) {
	r := visitor.NoVisits
	err := d.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = !keysOnly
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			kv := KV{Key: item.Key()}
			if !keysOnly {
				v, err := item.ValueCopy(nil)
				if err != nil {
					return fmt.Errorf("read value of %s: %w", item.Key(), err)
				}
				kv.Value = v
			}
			r = fn(kv)
			if r == visitor.Done {
				return nil
			}
		}
		return nil
	})
	return r, err
}

// KV is one key/value pair produced by ScanPrefix.
type KV struct {
	Key   []byte
	Value []byte
}

// DeletePrefix removes every key with prefix in one transaction and
// returns how many were removed.
func (d *DB) DeletePrefix(ctx context.Context, prefix []byte) (int, error) {
	var keys [][]byte
	_, err := d.ScanPrefix(ctx, prefix, true, visitor.Continue(func(kv KV) {
		keys = append(keys, append([]byte(nil), kv.Key...))
	}))
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	err = d.WithTxn(ctx, func(txn *badger.Txn) error {
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}
