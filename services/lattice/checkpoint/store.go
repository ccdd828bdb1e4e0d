// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package checkpoint

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	storage "github.com/AleutianAI/AleutianLattice/services/lattice/storage/badger"
	"github.com/AleutianAI/AleutianLattice/services/lattice/telemetry"
	"github.com/AleutianAI/AleutianLattice/services/lattice/visitor"
)

const keyPrefix = "checkpoint/"

func metaKey(id uuid.UUID) []byte { return []byte(keyPrefix + id.String() + "/meta") }
func dataKey(id uuid.UUID) []byte { return []byte(keyPrefix + id.String() + "/data") }
func idPrefix(id uuid.UUID) []byte { return []byte(keyPrefix + id.String() + "/") }

// -----------------------------------------------------------------------------
// Metrics
// -----------------------------------------------------------------------------

var (
	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lattice_checkpoint_duration_seconds",
		Help:    "Time to save or load a checkpoint",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	}, []string{"operation", "status"})

	checkpointSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lattice_checkpoint_size_bytes",
		Help: "Compressed size of the most recently saved checkpoint",
	})

	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lattice_checkpoint_operations_total",
		Help: "Checkpoint operations by type and status",
	}, []string{"operation", "status"})
)

var tracer = otel.Tracer("lattice.checkpoint")

func observe(op string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	operationDuration.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
	operationsTotal.WithLabelValues(op, status).Inc()
}

// -----------------------------------------------------------------------------
// Store
// -----------------------------------------------------------------------------

// StoreConfig configures a Store.
type StoreConfig struct {
	// CompressionLevel is the gzip level. 0 selects the default.
	CompressionLevel int

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Store keeps checkpoints in BadgerDB under checkpoint/<id>/meta and
// checkpoint/<id>/data.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	db     *storage.DB
	level  int
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewStore wraps an open database. The store does not own db unless
// Close is called, which closes it.
func NewStore(db *storage.DB, cfg StoreConfig) (*Store, error) {
	if db == nil {
		return nil, errors.New("db must not be nil")
	}
	if cfg.CompressionLevel < -2 || cfg.CompressionLevel > 9 {
		return nil, fmt.Errorf("compression level must be -2..9, got %d", cfg.CompressionLevel)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:     db,
		level:  cfg.CompressionLevel,
		logger: logger.With(slog.String("component", "lattice.checkpoint")),
	}, nil
}

func (s *Store) checkOpen() error {
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Save encodes cp and writes metadata and payload in one transaction.
//
// Inputs:
//
//	ctx - Context for tracing and cancellation.
//	cp - The checkpoint. Hash and size fields are filled in.
//
// Outputs:
//
//	Metadata - The stored metadata.
//	error - ErrStoreClosed, ErrInvalidCheckpoint, or a write failure.
func (s *Store) Save(ctx context.Context, cp *Checkpoint) (meta Metadata, err error) {
	start := time.Now()
	defer func() { observe("save", start, err) }()

	ctx, span := tracer.Start(ctx, "lattice.checkpoint.Store.Save")
	defer span.End()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return Metadata{}, err
	}

	data, err := Encode(cp, s.level)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "encode failed")
		return Metadata{}, err
	}
	metaJSON, err := json.Marshal(cp.Metadata)
	if err != nil {
		return Metadata{}, fmt.Errorf("encode metadata: %w", err)
	}

	err = s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if err := txn.Set(dataKey(cp.ID), data); err != nil {
			return err
		}
		return txn.Set(metaKey(cp.ID), metaJSON)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "write failed")
		return Metadata{}, fmt.Errorf("write checkpoint %s: %w", cp.ID, err)
	}

	checkpointSize.Set(float64(cp.CompressedSize))
	span.SetAttributes(
		attribute.String("checkpoint_id", cp.ID.String()),
		attribute.Int64("generation", cp.Generation),
		attribute.Int64("compressed_size", cp.CompressedSize),
	)
	telemetry.LoggerWithTrace(ctx, s.logger).Info("checkpoint saved",
		slog.String("id", cp.ID.String()),
		slog.String("label", cp.Label),
		slog.Int64("generation", cp.Generation),
		slog.Int64("compressed_size", cp.CompressedSize),
		slog.Float64("compression_ratio", cp.CompressionRatio()),
	)
	return cp.Metadata, nil
}

// Metadata returns the stored metadata of id.
func (s *Store) Metadata(ctx context.Context, id uuid.UUID) (Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return Metadata{}, err
	}
	return s.metadata(ctx, id)
}

func (s *Store) metadata(ctx context.Context, id uuid.UUID) (Metadata, error) {
	raw, err := s.db.Get(ctx, metaKey(id))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return Metadata{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Metadata{}, err
	}
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Metadata{}, fmt.Errorf("decode metadata of %s: %w", id, err)
	}
	return meta, nil
}

// LoadRaw returns metadata and the verified compressed payload of id,
// without decoding it.
func (s *Store) LoadRaw(ctx context.Context, id uuid.UUID) (Metadata, []byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return Metadata{}, nil, err
	}
	meta, err := s.metadata(ctx, id)
	if err != nil {
		return Metadata{}, nil, err
	}
	data, err := s.db.Get(ctx, dataKey(id))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return Metadata{}, nil, fmt.Errorf("%w: payload of %s", ErrNotFound, id)
	}
	if err != nil {
		return Metadata{}, nil, err
	}
	if err := Verify(meta, data); err != nil {
		return Metadata{}, nil, err
	}
	return meta, data, nil
}

// Load reads, verifies and decodes checkpoint id.
func (s *Store) Load(ctx context.Context, id uuid.UUID) (cp *Checkpoint, err error) {
	start := time.Now()
	defer func() { observe("load", start, err) }()

	ctx, span := tracer.Start(ctx, "lattice.checkpoint.Store.Load",
		trace.WithAttributes(attribute.String("checkpoint_id", id.String())),
	)
	defer span.End()

	meta, data, err := s.LoadRaw(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read failed")
		return nil, err
	}
	cp, err = Decode(meta, data)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode failed")
		return nil, err
	}
	telemetry.LoggerWithTrace(ctx, s.logger).Debug("checkpoint loaded",
		slog.String("id", id.String()),
		slog.Int64("generation", meta.Generation),
	)
	return cp, nil
}

// List returns the metadata of every checkpoint, newest first.
func (s *Store) List(ctx context.Context) ([]Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var out []Metadata
	var decodeErr error
	_, err := s.db.ScanPrefix(ctx, []byte(keyPrefix), false, func(kv storage.KV) visitor.Result {
		if !strings.HasSuffix(string(kv.Key), "/meta") {
			return visitor.NotDone
		}
		var meta Metadata
		if decodeErr = json.Unmarshal(kv.Value, &meta); decodeErr != nil {
			decodeErr = fmt.Errorf("decode metadata at %s: %w", kv.Key, decodeErr)
			return visitor.Done
		}
		out = append(out, meta)
		return visitor.NotDone
	})
	if err != nil {
		return nil, err
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	slices.SortFunc(out, func(a, b Metadata) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(b.Generation, a.Generation))
	})
	return out, nil
}

// Latest returns the newest checkpoint's metadata.
func (s *Store) Latest(ctx context.Context) (Metadata, error) {
	all, err := s.List(ctx)
	if err != nil {
		return Metadata{}, err
	}
	if len(all) == 0 {
		return Metadata{}, fmt.Errorf("%w: store is empty", ErrNotFound)
	}
	return all[0], nil
}

// Delete removes checkpoint id.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) (err error) {
	start := time.Now()
	defer func() { observe("delete", start, err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	n, err := s.db.DeletePrefix(ctx, idPrefix(id))
	if err != nil {
		return fmt.Errorf("delete checkpoint %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.logger.Info("checkpoint deleted", slog.String("id", id.String()))
	return nil
}

// Prune deletes all but the newest keep checkpoints and returns how many
// were removed.
func (s *Store) Prune(ctx context.Context, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	all, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, meta := range all[min(keep, len(all)):] {
		if err := s.Delete(ctx, meta.ID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Close closes the underlying database. Further calls return
// ErrStoreClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
