// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine drives the lattice one inference cycle at a time.
//
// A cycle writes the next input vector, scores every column by its boosted
// proximal overlap, activates the cells of the best columns and clears
// prediction. Permanences are never changed here; learning rules run on top
// of the same layer and mapping through their Mutate passes.
package engine

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianLattice/services/lattice/checkpoint"
	"github.com/AleutianAI/AleutianLattice/services/lattice/inputmap"
	"github.com/AleutianAI/AleutianLattice/services/lattice/layer"
	"github.com/AleutianAI/AleutianLattice/services/lattice/telemetry"
	"github.com/AleutianAI/AleutianLattice/services/lattice/visitor"
)

var tracer = otel.Tracer("lattice.engine")

// Checkpointer persists periodic checkpoints. *checkpoint.Store satisfies it.
type Checkpointer interface {
	Save(ctx context.Context, cp *checkpoint.Checkpoint) (checkpoint.Metadata, error)
	Prune(ctx context.Context, keep int) (int, error)
}

// Config wires an Engine.
type Config struct {
	Layer   *layer.Layer
	Mapping *inputmap.Mapping[int]

	// Input is the vector the mapping reads. It must be the mapping's input.
	Input  *inputmap.VectorInput
	Source Source

	// ActiveColumns is K, the number of winning columns per cycle.
	ActiveColumns int

	// ConnectedThreshold is the permanence at which a proximal synapse counts.
	ConnectedThreshold float64

	// CyclesPerSecond paces Run. Zero runs unpaced.
	CyclesPerSecond float64
	Burst           int

	// Workers shards the overlap sweep. Zero selects GOMAXPROCS.
	Workers int

	// CheckpointEvery saves a checkpoint every N cycles when Checkpointer
	// is set. KeepCheckpoints > 0 prunes older ones afterwards.
	CheckpointEvery int
	KeepCheckpoints int
	Checkpointer    Checkpointer

	Sinks   []Sink
	Metrics *telemetry.Metrics
	Logger  *slog.Logger
}

// CycleStats summarizes one cycle.
type CycleStats struct {
	Cycle             int64         `json:"cycle"`
	Timestamp         time.Time     `json:"timestamp"`
	InputActive       int           `json:"input_active"`
	ActiveColumns     int           `json:"active_columns"`
	ActiveCells       int           `json:"active_cells"`
	MeanOverlap       float64       `json:"mean_overlap"`
	MaxOverlap        float64       `json:"max_overlap"`
	PermanenceEntries int           `json:"permanence_entries"`
	Duration          time.Duration `json:"duration_ns"`
	Winners           []int         `json:"winners,omitempty"`
}

// Engine runs inference cycles over a layer and its proximal mapping.
//
// Thread Safety: Step and Run are serialized internally. Stats, Cycle and
// SetRate are safe from any goroutine.
type Engine struct {
	cfg      Config
	limiter  *rate.Limiter
	overlaps []float64
	logger   *slog.Logger

	stepMu  sync.Mutex
	running atomic.Bool
	cycle   atomic.Int64

	statsMu sync.RWMutex
	last    CycleStats
	hasLast bool
}

// New validates cfg and builds the proximal wiring if it is not built yet.
//
// Outputs:
//
//	*Engine - Ready to Step or Run.
//	error - ErrInvalidConfig, or the mapping's build error.
func New(cfg Config) (*Engine, error) {
	switch {
	case cfg.Layer == nil:
		return nil, fmt.Errorf("%w: layer is required", ErrInvalidConfig)
	case cfg.Mapping == nil:
		return nil, fmt.Errorf("%w: mapping is required", ErrInvalidConfig)
	case cfg.Input == nil:
		return nil, fmt.Errorf("%w: input is required", ErrInvalidConfig)
	case cfg.Source == nil:
		return nil, fmt.Errorf("%w: source is required", ErrInvalidConfig)
	case cfg.ActiveColumns <= 0 || cfg.ActiveColumns > cfg.Layer.ColumnCount():
		return nil, fmt.Errorf("%w: active columns %d not in [1, %d]", ErrInvalidConfig, cfg.ActiveColumns, cfg.Layer.ColumnCount())
	case cfg.ConnectedThreshold < 0 || cfg.ConnectedThreshold > 1:
		return nil, fmt.Errorf("%w: connected threshold %v not in [0, 1]", ErrInvalidConfig, cfg.ConnectedThreshold)
	case cfg.CyclesPerSecond < 0:
		return nil, fmt.Errorf("%w: negative cycle rate", ErrInvalidConfig)
	case cfg.Mapping.Input() != inputmap.Input[int](cfg.Input):
		return nil, fmt.Errorf("%w: input is not the mapping's input", ErrInvalidConfig)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if err := cfg.Mapping.Build(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:      cfg,
		overlaps: make([]float64, cfg.Layer.ColumnCount()),
		logger:   cfg.Logger.With(slog.String("component", "lattice.engine")),
	}
	e.limiter = rate.NewLimiter(limitFor(cfg.CyclesPerSecond), max(cfg.Burst, 1))
	return e, nil
}

func limitFor(cps float64) rate.Limit {
	if cps <= 0 {
		return rate.Inf
	}
	return rate.Limit(cps)
}

// SetRate changes the pacing of a running engine. Zero removes pacing.
func (e *Engine) SetRate(cyclesPerSecond float64, burst int) {
	e.limiter.SetLimit(limitFor(cyclesPerSecond))
	e.limiter.SetBurst(max(burst, 1))
	e.logger.Info("cycle rate updated",
		slog.Float64("cycles_per_second", cyclesPerSecond),
		slog.Int("burst", max(burst, 1)),
	)
}

// Rate returns the current pacing limit; rate.Inf when unpaced.
func (e *Engine) Rate() rate.Limit {
	return e.limiter.Limit()
}

// Cycle returns the number of completed cycles.
func (e *Engine) Cycle() int64 {
	return e.cycle.Load()
}

// Stats returns the most recent cycle's statistics.
func (e *Engine) Stats() (CycleStats, bool) {
	e.statsMu.RLock()
	defer e.statsMu.RUnlock()
	return e.last, e.hasLast
}

// Running reports whether Run is active.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// Between runs fn while no cycle is in progress. Restores and captures that
// must not interleave with a cycle go through here.
func (e *Engine) Between(fn func() error) error {
	e.stepMu.Lock()
	defer e.stepMu.Unlock()
	return fn()
}

// Run steps until ctx is done or cycles have completed.
//
// Inputs:
//
//	ctx - Cancellation ends the run without error.
//	cycles - Number of cycles; non-positive runs until ctx is done.
//
// Outputs:
//
//	error - ErrAlreadyRunning or the first failing Step.
func (e *Engine) Run(ctx context.Context, cycles int) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer e.running.Store(false)

	e.logger.Info("engine started",
		slog.Int("cycles", cycles),
		slog.Float64("cycles_per_second", float64(e.limiter.Limit())),
	)
	done := 0
	for cycles <= 0 || done < cycles {
		if err := e.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			return fmt.Errorf("pace cycle: %w", err)
		}
		if _, err := e.Step(ctx); err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				break
			}
			return err
		}
		done++
	}
	e.logger.Info("engine stopped", slog.Int("completed", done), slog.Int64("cycle", e.Cycle()))
	return nil
}

// Step runs exactly one cycle.
//
// Description:
//
//	1. The source writes the input vector.
//	2. Every column's boosted overlap is computed in parallel while the
//	   proximal state is read-locked. The sweep walks the layer's live view
//	   without its lock; it reads only column indices, which never change.
//	3. The K columns with the highest positive overlap win, ties going to
//	   the lower index. Under one Mutate pass the previous activation is
//	   cleared, every cell of each winner is activated and prediction is
//	   cleared.
//	4. Stats go to every sink; a sink failure is logged, not returned.
//	5. Every CheckpointEvery cycles a checkpoint is saved.
//
// Outputs:
//
//	CycleStats - The completed cycle.
//	error - Source, sweep, mutation or checkpoint failure.
func (e *Engine) Step(ctx context.Context) (CycleStats, error) {
	e.stepMu.Lock()
	defer e.stepMu.Unlock()

	start := time.Now()
	index := e.cycle.Load()
	ctx, span := tracer.Start(ctx, "lattice.Engine.Step",
		trace.WithAttributes(attribute.Int64("cycle", index+1)),
	)
	defer span.End()
	logger := telemetry.LoggerWithTrace(ctx, e.logger)

	fail := func(stage string, err error) (CycleStats, error) {
		telemetry.RecordError(span, err, attribute.String("stage", stage))
		if m := e.cfg.Metrics; m != nil {
			m.CyclesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "error")))
			m.ErrorsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("component", "engine."+stage)))
		}
		logger.Error("cycle failed", slog.String("stage", stage), slog.String("error", err.Error()))
		return CycleStats{}, fmt.Errorf("cycle %d %s: %w", index+1, stage, err)
	}

	if err := ctx.Err(); err != nil {
		return CycleStats{}, err
	}
	if err := e.cfg.Source.Next(ctx, index, e.cfg.Input); err != nil {
		return fail("input", err)
	}

	if err := e.computeOverlaps(ctx); err != nil {
		return fail("overlap", err)
	}
	winners, mean, peak := e.selectWinners()

	var activeCells, entries int
	err := e.cfg.Layer.Mutate(ctx, func(v layer.View) error {
		if err := v.ClearActivation(); err != nil {
			return err
		}
		for _, idx := range winners {
			col, ok := v.Column(idx)
			if !ok {
				return fmt.Errorf("%w: column %d", layer.ErrInvalidCell, idx)
			}
			if err := col.Activate(); err != nil {
				return err
			}
		}
		if err := v.ClearPrediction(); err != nil {
			return err
		}
		activeCells = v.State().ActiveCellCount()
		entries = v.State().EntryCount()
		return nil
	})
	if err != nil {
		return fail("activate", err)
	}

	cycle := e.cycle.Add(1)
	stats := CycleStats{
		Cycle:             cycle,
		Timestamp:         start,
		InputActive:       e.cfg.Input.ActiveCount(),
		ActiveColumns:     len(winners),
		ActiveCells:       activeCells,
		MeanOverlap:       mean,
		MaxOverlap:        peak,
		PermanenceEntries: entries,
		Duration:          time.Since(start),
		Winners:           winners,
	}

	e.statsMu.Lock()
	e.last, e.hasLast = stats, true
	e.statsMu.Unlock()

	span.SetAttributes(
		attribute.Int("active_columns", stats.ActiveColumns),
		attribute.Float64("mean_overlap", stats.MeanOverlap),
	)
	if m := e.cfg.Metrics; m != nil {
		m.CyclesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "ok")))
		m.CycleDuration.Record(ctx, stats.Duration.Seconds())
		m.ActiveColumns.Record(ctx, int64(stats.ActiveColumns))
		m.MeanOverlap.Record(ctx, stats.MeanOverlap)
	}

	for _, sink := range e.cfg.Sinks {
		if err := sink.Record(ctx, stats); err != nil {
			logger.Warn("stats sink failed", slog.String("sink", sink.Name()), slog.String("error", err.Error()))
		}
	}

	if e.cfg.Checkpointer != nil && e.cfg.CheckpointEvery > 0 && cycle%int64(e.cfg.CheckpointEvery) == 0 {
		if err := e.checkpoint(ctx, cycle); err != nil {
			return fail("checkpoint", err)
		}
	}

	span.SetStatus(codes.Ok, "")
	return stats, nil
}

// computeOverlaps fills e.overlaps. Layer state is not read, so the live
// view is used instead of a capture.
func (e *Engine) computeOverlaps(ctx context.Context) error {
	threshold := e.cfg.ConnectedThreshold
	return e.cfg.Mapping.Read(func(mv inputmap.View[int]) error {
		_, err := e.cfg.Layer.Live().ParallelVisitColumns(ctx, e.cfg.Workers, visitor.Continue(func(c layer.Column) {
			seg, err := mv.SegmentFor(c.Index())
			if err != nil {
				e.overlaps[c.Index()] = 0
				return
			}
			e.overlaps[c.Index()] = seg.BoostedOverlap(threshold)
		}))
		return err
	})
}

// selectWinners returns the winning column indices in ascending order with
// their mean and maximum overlap.
func (e *Engine) selectWinners() ([]int, float64, float64) {
	candidates := make([]int, 0, len(e.overlaps))
	for i, o := range e.overlaps {
		if o > 0 && !math.IsNaN(o) {
			candidates = append(candidates, i)
		}
	}
	slices.SortFunc(candidates, func(a, b int) int {
		if c := cmp.Compare(e.overlaps[b], e.overlaps[a]); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	if len(candidates) > e.cfg.ActiveColumns {
		candidates = candidates[:e.cfg.ActiveColumns]
	}
	if len(candidates) == 0 {
		return nil, 0, 0
	}
	sum, peak := 0.0, 0.0
	for _, idx := range candidates {
		sum += e.overlaps[idx]
		peak = max(peak, e.overlaps[idx])
	}
	slices.Sort(candidates)
	return candidates, sum / float64(len(candidates)), peak
}

func (e *Engine) checkpoint(ctx context.Context, cycle int64) error {
	cp, err := checkpoint.Capture(fmt.Sprintf("cycle-%d", cycle), e.cfg.Layer, e.cfg.Mapping)
	if err != nil {
		return err
	}
	meta, err := e.cfg.Checkpointer.Save(ctx, cp)
	if err != nil {
		return err
	}
	e.logger.Info("checkpoint saved",
		slog.String("id", meta.ID.String()),
		slog.Int64("cycle", cycle),
		slog.Int64("bytes", meta.CompressedSize),
	)
	if e.cfg.KeepCheckpoints > 0 {
		if _, err := e.cfg.Checkpointer.Prune(ctx, e.cfg.KeepCheckpoints); err != nil {
			return fmt.Errorf("prune: %w", err)
		}
	}
	return nil
}
