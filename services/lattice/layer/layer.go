// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package layer addresses the columns, cells and distal synapses of a
// lattice layer without materializing them.
//
// # Storage
//
// A Layer stores two things: an immutable table of dendrite paths, one per
// (cell, slot) pair, and a live Snapshot holding activation bits and
// permanences. Column, Cell, DistalSegment and DistalSynapse are small
// values computed from integer indices and a View; they are created on
// every access and never stored.
//
// # Addressing
//
// A cell is a single integer pos in [0, columnCount*cellsPerColumn):
//
//	columnIndex   = pos / cellsPerColumn
//	indexInColumn = pos % cellsPerColumn
//
// # Concurrency
//
// The live snapshot is the only shared mutable state. Mutate holds the
// layer's write lock for a whole mutating pass, Read holds the read lock
// for a read-only pass, and Snapshot/Restore take the lock they need. None
// of these are reentrant: do not call Snapshot or Restore from inside
// Mutate or Read. Live returns an unlocked writable view for callers that
// own the layer exclusively, such as a single-threaded cycle driver.
package layer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianLattice/services/lattice/topology"
)

// Config describes the shape of a layer.
type Config struct {
	// Topology addresses the columns. Required.
	Topology topology.Topology

	// CellsPerColumn is the number of cells in each column. Must be positive.
	CellsPerColumn int

	// DendritesPerCell is the number of distal segments per cell. May be 0.
	DendritesPerCell int

	// Layout generates the distal paths. Required when DendritesPerCell > 0.
	Layout DistalLayoutFactory

	// Logger defaults to slog.Default() with a component attribute.
	Logger *slog.Logger
}

// Layer is a grid of columns of cells with fixed distal wiring.
//
// Thread Safety: See the package documentation.
type Layer struct {
	topo             topology.Topology
	cellsPerColumn   int
	dendritesPerCell int
	columnCount      int

	// paths is indexed by cell*dendritesPerCell + slot and never changes
	// after New returns.
	paths []topology.Path

	mu   sync.RWMutex
	live *Snapshot

	generation atomic.Int64
	logger     *slog.Logger
}

// New builds a layer and its distal wiring.
//
// Description:
//
//	Validates the configuration, allocates the path table and asks the
//	layout factory to fill it. Every (cell, slot) pair must receive a path.
//
// Inputs:
//
//	cfg - Layer shape and wiring policy.
//
// Outputs:
//
//	*Layer - The layer with an empty live snapshot.
//	error - ErrInvalidConfig, ErrIncompleteLayout, or the factory's error.
func New(cfg Config) (*Layer, error) {
	if cfg.Topology == nil {
		return nil, fmt.Errorf("%w: topology is required", ErrInvalidConfig)
	}
	if cfg.CellsPerColumn <= 0 {
		return nil, fmt.Errorf("%w: cells per column must be positive, got %d", ErrInvalidConfig, cfg.CellsPerColumn)
	}
	if cfg.DendritesPerCell < 0 {
		return nil, fmt.Errorf("%w: dendrites per cell must not be negative, got %d", ErrInvalidConfig, cfg.DendritesPerCell)
	}
	if cfg.DendritesPerCell > 0 && cfg.Layout == nil {
		return nil, fmt.Errorf("%w: layout factory is required", ErrInvalidConfig)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "lattice.layer"))

	columns := cfg.Topology.ColumnCount()
	l := &Layer{
		topo:             cfg.Topology,
		cellsPerColumn:   cfg.CellsPerColumn,
		dendritesPerCell: cfg.DendritesPerCell,
		columnCount:      columns,
		paths:            make([]topology.Path, columns*cfg.CellsPerColumn*cfg.DendritesPerCell),
		logger:           logger,
	}
	l.live = newSnapshot(l.Shape())

	if cfg.DendritesPerCell > 0 {
		sink := &pathSink{layer: l, filled: make([]bool, len(l.paths))}
		if err := cfg.Layout.CreateLayout(cfg.Topology, l, columns, cfg.CellsPerColumn, cfg.DendritesPerCell, sink); err != nil {
			return nil, fmt.Errorf("create distal layout: %w", err)
		}
		if sink.count != len(l.paths) {
			return nil, fmt.Errorf("%w: %d of %d paths set", ErrIncompleteLayout, sink.count, len(l.paths))
		}
	}

	logger.Info("layer created",
		slog.Int("columns", columns),
		slog.Int("cells", l.CellCount()),
		slog.Int("segments", len(l.paths)),
	)
	return l, nil
}

// Topology returns the column topology.
func (l *Layer) Topology() topology.Topology { return l.topo }

// ColumnCount returns the number of columns.
func (l *Layer) ColumnCount() int { return l.columnCount }

// Shape returns the layer geometry recorded in its snapshots.
func (l *Layer) Shape() Shape {
	return Shape{Columns: l.columnCount, CellsPerColumn: l.cellsPerColumn, DendritesPerCell: l.dendritesPerCell}
}

// CellsPerColumn returns the number of cells per column.
func (l *Layer) CellsPerColumn() int { return l.cellsPerColumn }

// DendritesPerCell returns the number of distal segments per cell.
func (l *Layer) DendritesPerCell() int { return l.dendritesPerCell }

// CellCount returns columnCount*cellsPerColumn.
func (l *Layer) CellCount() int { return l.columnCount * l.cellsPerColumn }

// Generation is incremented by every successful Mutate and Restore.
func (l *Layer) Generation() int64 { return l.generation.Load() }

// Path returns the distal path of (cell, slot).
func (l *Layer) Path(cell, slot int) (topology.Path, bool) {
	if cell < 0 || cell >= l.CellCount() || slot < 0 || slot >= l.dendritesPerCell {
		return topology.Path{}, false
	}
	return l.paths[cell*l.dendritesPerCell+slot], true
}

// Live returns a writable view of the live snapshot without locking.
//
// The caller must be the only goroutine touching the layer while the view
// is in use.
func (l *Layer) Live() View {
	return View{layer: l, state: l.live}
}

// ViewOf returns a read-only view of a captured snapshot.
func (l *Layer) ViewOf(s *Snapshot) View {
	return View{layer: l, state: s, readOnly: true}
}

// Cell is shorthand for l.Live().Cell(pos).
func (l *Layer) Cell(pos int) (Cell, bool) {
	return l.Live().Cell(pos)
}

// Column is shorthand for l.Live().Column(index).
func (l *Layer) Column(index int) (Column, bool) {
	return l.Live().Column(index)
}

// Mutate runs fn with a writable live view while holding the write lock.
//
// Description:
//
//	The lock spans the whole pass, so read-then-update sequences inside
//	fn are atomic with respect to Read, Snapshot and Restore. The
//	generation advances only when fn succeeds.
//
// Inputs:
//
//	ctx - Context for tracing and cancellation before the pass starts.
//	fn - The mutating pass.
//
// Outputs:
//
//	error - ctx.Err() if cancelled before starting, else fn's error.
func (l *Layer) Mutate(ctx context.Context, fn func(View) error) error {
	if ctx == nil {
		return ErrNilContext
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, span := tracer.Start(ctx, "lattice.Layer.Mutate")
	defer span.End()

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := fn(View{layer: l, state: l.live}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "mutating pass failed")
		return err
	}
	gen := l.generation.Add(1)
	l.live.generation = gen
	span.SetAttributes(attribute.Int64("generation", gen))
	return nil
}

// Read runs fn with a read-only live view while holding the read lock.
func (l *Layer) Read(fn func(View) error) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return fn(View{layer: l, state: l.live, readOnly: true})
}

// Snapshot captures a deep copy of the live state.
//
// Description:
//
//	Dead permanence entries are dropped from the copy (see Snapshot.Clone).
//	The live state is not modified.
//
// Outputs:
//
//	*Snapshot - The capture, tagged with the current generation.
//
// Thread Safety: Holds the read lock during the copy.
func (l *Layer) Snapshot() *Snapshot {
	start := time.Now()

	l.mu.RLock()
	snap, culled := l.live.cloneCounting()
	snap.generation = l.generation.Load()
	l.mu.RUnlock()

	RecordSnapshot("layer", time.Since(start).Seconds())
	snapshotCulled.Add(float64(culled))

	l.logger.Debug("layer snapshot captured",
		slog.Int64("generation", snap.generation),
		slog.Int("entries", snap.EntryCount()),
		slog.Int("culled", culled),
	)
	return snap
}

// Restore replaces the live state with a deep copy of s.
//
// Description:
//
//	The caller keeps ownership of s. The previous live state is returned
//	detached from the layer, which makes undo and redo chains possible.
//	Views obtained before Restore must not be used afterwards.
//
// Inputs:
//
//	ctx - Context for tracing.
//	s - A snapshot captured from a layer with the same Shape. Every
//	    stored entry must address a synapse this layer's paths can reach.
//
// Outputs:
//
//	*Snapshot - The previous live state.
//	error - ErrNilSnapshot or ErrSnapshotMismatch.
func (l *Layer) Restore(ctx context.Context, s *Snapshot) (*Snapshot, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	_, span := tracer.Start(ctx, "lattice.Layer.Restore")
	defer span.End()

	if s == nil {
		span.SetStatus(codes.Error, "nil snapshot")
		return nil, ErrNilSnapshot
	}
	span.SetAttributes(attribute.Int64("snapshot_generation", s.generation))
	if err := l.checkSnapshot(s); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "shape mismatch")
		return nil, err
	}

	restored := s.Clone()

	l.mu.Lock()
	prev := l.live
	l.live = restored
	gen := l.generation.Add(1)
	restored.generation = gen
	l.mu.Unlock()

	RecordRestore("layer")
	span.SetAttributes(attribute.Int64("generation", gen))
	span.AddEvent("layer restored")
	l.logger.Info("layer snapshot restored",
		slog.Int64("from_generation", s.generation),
		slog.Int64("generation", gen),
	)
	return prev, nil
}

// checkSnapshot verifies that s has the layer's shape and that every
// stored entry lies on its segment's path. Paths never change after New,
// so no lock is needed.
func (l *Layer) checkSnapshot(s *Snapshot) error {
	if want := l.Shape(); s.shape != want {
		return fmt.Errorf("%w: snapshot is %s, layer is %s", ErrSnapshotMismatch, s.shape, want)
	}
	for seg, table := range s.permanences {
		p, ok := l.Path(int(seg.Cell), int(seg.Slot))
		if !ok {
			return fmt.Errorf("%w: no segment (%d, %d)", ErrSnapshotMismatch, seg.Cell, seg.Slot)
		}
		for syn := range table {
			if syn.Step < 0 || int(syn.Step) >= p.Len() || syn.CellInColumn < 0 || int(syn.CellInColumn) >= l.cellsPerColumn {
				return fmt.Errorf("%w: synapse (%d, %d) unreachable from segment (%d, %d)",
					ErrSnapshotMismatch, syn.Step, syn.CellInColumn, seg.Cell, seg.Slot)
			}
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// Layout sink
// -----------------------------------------------------------------------------

type pathSink struct {
	layer  *Layer
	filled []bool
	count  int
}

func (s *pathSink) Add(p topology.Path, cellIndex, dendriteIndex int) error {
	l := s.layer
	if cellIndex < 0 || cellIndex >= l.CellCount() || dendriteIndex < 0 || dendriteIndex >= l.dendritesPerCell {
		return fmt.Errorf("%w: cell %d slot %d", ErrInvalidLayoutSlot, cellIndex, dendriteIndex)
	}
	i := cellIndex*l.dendritesPerCell + dendriteIndex
	l.paths[i] = p
	if !s.filled[i] {
		s.filled[i] = true
		s.count++
	}
	return nil
}
