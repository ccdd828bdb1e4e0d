// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package inputmap wires each column of a layer to a pool of external
// input bits through one proximal dendrite segment.
//
// The wiring is built lazily, on first use, by an injected SynapseFactory
// that reports its decisions through a Builder. After that the mapping
// behaves like a layer: a live Snapshot holds every proximal permanence and
// boost factor, ProximalSegment and ProximalSynapse are flyweights over it,
// and Snapshot/Restore give copy-on-write history.
package inputmap

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianLattice/services/lattice/layer"
	"github.com/AleutianAI/AleutianLattice/services/lattice/synapse"
	"github.com/AleutianAI/AleutianLattice/services/lattice/visitor"
)

var tracer = otel.Tracer("lattice.inputmap")

// Config describes a mapping.
type Config[ID comparable] struct {
	// Layer owns the columns. Required.
	Layer *layer.Layer

	// Input is the bit source. Required.
	Input Input[ID]

	// Factory decides which bits feed each column. Required.
	Factory SynapseFactory[ID]

	// DefaultPermanence is the initial permanence of every wired synapse.
	DefaultPermanence float64

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Mapping owns the proximal segments of a layer.
//
// Thread Safety: Safe for concurrent use through Mutate, Read, Snapshot
// and Restore. Live views are unlocked, as with layer.Layer.
type Mapping[ID comparable] struct {
	layer   *layer.Layer
	input   Input[ID]
	factory SynapseFactory[ID]
	initial synapse.Permanence

	once     sync.Once
	buildErr error

	mu   sync.RWMutex
	live *Snapshot

	generation atomic.Int64
	logger     *slog.Logger
}

// New validates cfg. No wiring happens until the mapping is first used.
func New[ID comparable](cfg Config[ID]) (*Mapping[ID], error) {
	if cfg.Layer == nil {
		return nil, fmt.Errorf("%w: layer is required", ErrInvalidConfig)
	}
	if cfg.Input == nil {
		return nil, fmt.Errorf("%w: input is required", ErrInvalidConfig)
	}
	if cfg.Factory == nil {
		return nil, fmt.Errorf("%w: synapse factory is required", ErrInvalidConfig)
	}
	if cfg.DefaultPermanence < 0 || cfg.DefaultPermanence > 1 {
		return nil, fmt.Errorf("%w: default permanence must be in [0,1], got %g", ErrInvalidConfig, cfg.DefaultPermanence)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Mapping[ID]{
		layer:   cfg.Layer,
		input:   cfg.Input,
		factory: cfg.Factory,
		initial: synapse.NewPermanence(cfg.DefaultPermanence),
		logger:  logger.With(slog.String("component", "lattice.inputmap")),
	}, nil
}

// Layer returns the owning layer.
func (m *Mapping[ID]) Layer() *layer.Layer { return m.layer }

// Input returns the bit source.
func (m *Mapping[ID]) Input() Input[ID] { return m.input }

// Generation is incremented by every successful Mutate and Restore.
func (m *Mapping[ID]) Generation() int64 { return m.generation.Load() }

// Build runs the synapse factory if it has not run yet.
//
// Every other accessor calls Build, so calling it directly is only needed
// to surface wiring errors early. A failed build is not retried.
func (m *Mapping[ID]) Build() error {
	m.once.Do(m.build)
	return m.buildErr
}

func (m *Mapping[ID]) build() {
	start := time.Now()
	state := newSnapshot(m.layer.ColumnCount(), m.input.Size())
	b := newSegmentBuilder[ID](state, m.initial)

	err := m.factory.Connect(m.layer, b, m.input)
	if err == nil {
		err = b.finish()
	}
	if err != nil {
		m.buildErr = fmt.Errorf("connect proximal synapses: %w", err)
		m.logger.Error("proximal wiring failed", slog.String("error", err.Error()))
		return
	}

	m.mu.Lock()
	m.live = state
	m.mu.Unlock()

	wired := state.WiredColumns()
	if wired < len(state.columns) {
		m.logger.Warn("columns left without a proximal segment",
			slog.Int("unwired", len(state.columns)-wired),
			slog.Int("columns", len(state.columns)),
		)
	}
	m.logger.Info("proximal wiring built",
		slog.Int("columns", wired),
		slog.Int("synapses", state.EntryCount()),
		slog.Int("dendrites_saved", b.saved),
		slog.Duration("elapsed", time.Since(start)),
	)
}

// Live returns a writable view of the live snapshot without locking.
func (m *Mapping[ID]) Live() (View[ID], error) {
	if err := m.Build(); err != nil {
		return View[ID]{}, err
	}
	return View[ID]{mapping: m, state: m.live}, nil
}

// ViewOf returns a read-only view of a captured snapshot.
func (m *Mapping[ID]) ViewOf(s *Snapshot) View[ID] {
	return View[ID]{mapping: m, state: s, readOnly: true}
}

// SegmentFor returns the proximal segment of column.
//
// Outputs:
//
//	ProximalSegment[ID] - The segment, bound to the live snapshot.
//	error - A build error, or ErrNoProximalSegment naming the column.
func (m *Mapping[ID]) SegmentFor(column int) (ProximalSegment[ID], error) {
	v, err := m.Live()
	if err != nil {
		return ProximalSegment[ID]{}, err
	}
	return v.SegmentFor(column)
}

// VisitProximalSegments visits the segment of every wired column in
// column order.
func (m *Mapping[ID]) VisitProximalSegments(fn visitor.Func[ProximalSegment[ID]]) (visitor.Result, error) {
	v, err := m.Live()
	if err != nil {
		return visitor.NoVisits, err
	}
	return v.VisitSegments(fn), nil
}

// Mutate runs fn with a writable live view while holding the write lock.
func (m *Mapping[ID]) Mutate(ctx context.Context, fn func(View[ID]) error) error {
	if ctx == nil {
		return ErrNilContext
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.Build(); err != nil {
		return err
	}
	_, span := tracer.Start(ctx, "lattice.Mapping.Mutate")
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := fn(View[ID]{mapping: m, state: m.live}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "mutating pass failed")
		return err
	}
	gen := m.generation.Add(1)
	m.live.generation = gen
	span.SetAttributes(attribute.Int64("generation", gen))
	return nil
}

// Read runs fn with a read-only live view while holding the read lock.
func (m *Mapping[ID]) Read(fn func(View[ID]) error) error {
	if err := m.Build(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(View[ID]{mapping: m, state: m.live, readOnly: true})
}

// Snapshot captures a deep copy of the live state. Zero permanences are
// kept because they still mark members of a potential pool.
func (m *Mapping[ID]) Snapshot() (*Snapshot, error) {
	if err := m.Build(); err != nil {
		return nil, err
	}
	start := time.Now()

	m.mu.RLock()
	snap := m.live.Clone()
	m.mu.RUnlock()

	snap.generation = m.generation.Load()
	layer.RecordSnapshot("proximal", time.Since(start).Seconds())
	m.logger.Debug("proximal snapshot captured",
		slog.Int64("generation", snap.generation),
		slog.Int("entries", snap.EntryCount()),
	)
	return snap, nil
}

// Restore replaces the live state with a deep copy of s and returns the
// previous live state.
//
// Description:
//
//	A restored snapshot carries complete wiring, so restoring before the
//	first use skips the synapse factory entirely. In that case the
//	returned previous state is nil.
//
// Outputs:
//
//	*Snapshot - The previous live state, detached.
//	error - ErrNilContext, ErrNilSnapshot or ErrSnapshotMismatch.
func (m *Mapping[ID]) Restore(ctx context.Context, s *Snapshot) (*Snapshot, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	_, span := tracer.Start(ctx, "lattice.Mapping.Restore")
	defer span.End()

	if s == nil {
		span.SetStatus(codes.Error, "nil snapshot")
		return nil, ErrNilSnapshot
	}
	if s.ColumnCount() != m.layer.ColumnCount() || s.inputSize != m.input.Size() {
		err := fmt.Errorf("%w: snapshot has %d columns over %d bits, mapping has %d over %d",
			ErrSnapshotMismatch, s.ColumnCount(), s.inputSize, m.layer.ColumnCount(), m.input.Size())
		span.RecordError(err)
		span.SetStatus(codes.Error, "shape mismatch")
		return nil, err
	}

	m.once.Do(func() {
		m.logger.Debug("proximal wiring taken from restored snapshot")
	})
	if m.buildErr != nil {
		return nil, m.buildErr
	}

	restored := s.Clone()

	m.mu.Lock()
	prev := m.live
	m.live = restored
	gen := m.generation.Add(1)
	restored.generation = gen
	m.mu.Unlock()

	layer.RecordRestore("proximal")
	span.SetAttributes(attribute.Int64("generation", gen))
	m.logger.Info("proximal snapshot restored",
		slog.Int64("from_generation", s.generation),
		slog.Int64("generation", gen),
	)
	return prev, nil
}
