// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package layer

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianLattice/services/lattice/synapse"
	"github.com/AleutianAI/AleutianLattice/services/lattice/topology"
	"github.com/AleutianAI/AleutianLattice/services/lattice/visitor"
)

// synapsesOf returns the first n synapses of slot 0 of cell pos in v.
func synapsesOf(t *testing.T, v View, pos, n int) []DistalSynapse {
	t.Helper()
	cell, ok := v.Cell(pos)
	require.True(t, ok)
	seg, ok := cell.DistalSegment(0)
	require.True(t, ok)
	var out []DistalSynapse
	seg.VisitSynapses(visitor.Limit(n, visitor.Continue(func(s DistalSynapse) { out = append(out, s) })))
	require.Len(t, out, n)
	return out
}

type observation struct {
	active      []bool
	predictive  []bool
	permanences []float64
}

// observe records activation of every cell and the permanence of the
// first synapses of the first few cells.
func observe(t *testing.T, v View) observation {
	t.Helper()
	var o observation
	v.VisitCells(visitor.Continue(func(c Cell) {
		o.active = append(o.active, c.IsActive())
		o.predictive = append(o.predictive, c.IsPredictive())
	}))
	for pos := 0; pos < 8; pos++ {
		for _, s := range synapsesOf(t, v, pos, 6) {
			o.permanences = append(o.permanences, s.Permanence().Value())
		}
	}
	return o
}

func populate(t *testing.T, l *Layer) {
	t.Helper()
	require.NoError(t, l.Mutate(context.Background(), func(v View) error {
		for _, pos := range []int{0, 5, 6, 100, 513} {
			c, _ := v.Cell(pos)
			if err := c.SetActive(true); err != nil {
				return err
			}
		}
		c, _ := v.Cell(5)
		if err := c.SetPredictive(true); err != nil {
			return err
		}
		for pos := 0; pos < 8; pos++ {
			for i, s := range synapsesOf(t, v, pos, 6) {
				if _, err := s.AdjustPermanence(0.1*float64(i+1), i%2 == 0); err != nil {
					return err
				}
			}
		}
		return nil
	}))
}

func TestSnapshot_RoundTrip(t *testing.T) {
	ctx := context.Background()
	l := newRandomLayer(t, 2)
	populate(t, l)
	before := observe(t, l.Live())

	snap := l.Snapshot()
	assert.Equal(t, before, observe(t, l.ViewOf(snap)))

	_, err := l.Restore(ctx, snap)
	require.NoError(t, err)
	assert.Equal(t, before, observe(t, l.Live()))
}

func TestSnapshot_DeepCopyIsolation(t *testing.T) {
	ctx := context.Background()
	l := newRandomLayer(t, 1)
	populate(t, l)

	snap := l.Snapshot()
	captured := observe(t, l.ViewOf(snap))

	require.NoError(t, l.Mutate(ctx, func(v View) error {
		c, _ := v.Cell(0)
		if err := c.SetActive(false); err != nil {
			return err
		}
		c, _ = v.Cell(1)
		if err := c.SetActive(true); err != nil {
			return err
		}
		_, err := synapsesOf(t, v, 0, 1)[0].AdjustPermanence(0.4, false)
		return err
	}))

	assert.Equal(t, captured, observe(t, l.ViewOf(snap)))
	assert.NotEqual(t, captured, observe(t, l.Live()))
}

func TestSnapshot_RestoreKeepsCallerCopyIndependent(t *testing.T) {
	ctx := context.Background()
	l := newRandomLayer(t, 1)
	populate(t, l)
	snap := l.Snapshot()
	captured := observe(t, l.ViewOf(snap))

	_, err := l.Restore(ctx, snap)
	require.NoError(t, err)
	_, err = synapsesOf(t, l.Live(), 0, 1)[0].AdjustPermanence(0.3, false)
	require.NoError(t, err)

	assert.Equal(t, captured, observe(t, l.ViewOf(snap)))
}

func TestSnapshot_RestoreReturnsPreviousLive(t *testing.T) {
	ctx := context.Background()
	l := newRandomLayer(t, 1)
	empty := l.Snapshot()

	populate(t, l)
	prev, err := l.Restore(ctx, empty)
	require.NoError(t, err)

	assert.True(t, prev.IsActive(100))
	assert.False(t, l.Live().State().IsActive(100))

	// redo
	_, err = l.Restore(ctx, prev)
	require.NoError(t, err)
	assert.True(t, l.Live().State().IsActive(100))
}

func TestSnapshot_DeadEntryCulling(t *testing.T) {
	l := newRandomLayer(t, 1)
	v := l.Live()
	syns := synapsesOf(t, v, 3, 3)

	_, err := syns[0].AdjustPermanence(0.4, false)
	require.NoError(t, err)
	_, err = syns[1].AdjustPermanence(-0.5, false)
	require.NoError(t, err)
	_, err = syns[2].AdjustPermanence(0.3, false)
	require.NoError(t, err)
	_, err = syns[2].AdjustPermanence(-0.3, false)
	require.NoError(t, err)
	require.Equal(t, 3, v.State().EntryCount())

	snap := l.Snapshot()
	assert.Equal(t, 1, snap.EntryCount())

	captured := synapsesOf(t, l.ViewOf(snap), 3, 3)
	assert.Equal(t, synapse.Zero, captured[1].Permanence())
	assert.Equal(t, synapse.Zero, captured[2].Permanence())
	assert.InDelta(t, 0.4, captured[0].Permanence().Scalar(), 1e-12)

	// the live state keeps its entries until the next capture
	assert.Equal(t, 3, l.Live().State().EntryCount())

	// a segment whose entries all died is dropped entirely
	_, err = syns[0].AdjustPermanence(-1, false)
	require.NoError(t, err)
	assert.Zero(t, l.Snapshot().SegmentCount())
}

func TestSnapshot_RestoreValidation(t *testing.T) {
	ctx := context.Background()
	l := newRandomLayer(t, 1)

	_, err := l.Restore(ctx, nil)
	assert.ErrorIs(t, err, ErrNilSnapshot)

	small := newUniformLayer(t, 1)
	_, err = l.Restore(ctx, small.Snapshot())
	assert.ErrorIs(t, err, ErrSnapshotMismatch)

	//nolint:staticcheck // nil context is part of the contract
	_, err = l.Restore(nil, l.Snapshot())
	assert.ErrorIs(t, err, ErrNilContext)
}

func TestSnapshot_GenerationMatchesCapturedState(t *testing.T) {
	ctx := context.Background()
	l := newRandomLayer(t, 1)

	// every Mutate flips cell 0, so it is active exactly at odd generations
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			_ = l.Mutate(ctx, func(v View) error {
				c, _ := v.Cell(0)
				return c.SetActive(!c.IsActive())
			})
		}
	}()

	for i := 0; i < 500; i++ {
		snap := l.Snapshot()
		require.Equal(t, snap.Generation()%2 == 1, snap.IsActive(0),
			"capture tagged %d holds another generation's state", snap.Generation())
	}
	wg.Wait()
	assert.Equal(t, int64(500), l.Generation())
}

func TestSnapshot_RestoreRejectsOtherShape(t *testing.T) {
	ctx := context.Background()
	l := newRandomLayer(t, 1)
	populate(t, l)
	before := observe(t, l.Live())

	// 32x8 holds the same number of cells as 16x16
	wide, err := topology.NewTopology2D(32, 8, topology.Wrap)
	require.NoError(t, err)
	other, err := New(Config{
		Topology:         wide,
		CellsPerColumn:   testCellsPerColumn,
		DendritesPerCell: 1,
		Layout: &RandomDistalLayout{
			Rng:    rand.New(rand.NewPCG(testSeed, testSeed)),
			Length: testDendriteLength,
		},
		Logger: quietLogger,
	})
	require.NoError(t, err)
	require.Equal(t, l.CellCount(), other.CellCount())

	_, err = other.Restore(ctx, l.Snapshot())
	assert.ErrorIs(t, err, ErrSnapshotMismatch)
	assert.Zero(t, other.Generation())

	t.Run("other dendrite count", func(t *testing.T) {
		_, err := l.Restore(ctx, newRandomLayer(t, 2).Snapshot())
		assert.ErrorIs(t, err, ErrSnapshotMismatch)
	})

	t.Run("entry beyond the layer", func(t *testing.T) {
		data := l.Snapshot().Export()
		data.Segments = append(data.Segments, SegmentData{
			Cell: 5, Slot: 99,
			Synapses: []SynapseData{{Step: 500, CellInColumn: 77, Permanence: 0.5}},
		})
		_, err := ImportSnapshot(data)
		assert.ErrorIs(t, err, ErrInvalidSnapshotData)
	})

	t.Run("step beyond the path", func(t *testing.T) {
		data := l.Snapshot().Export()
		data.Segments = append(data.Segments, SegmentData{
			Cell: 9,
			Synapses: []SynapseData{{Step: 500, CellInColumn: 1, Permanence: 0.5}},
		})
		imported, err := ImportSnapshot(data)
		require.NoError(t, err, "steps are checked against the target layer")
		_, err = l.Restore(ctx, imported)
		assert.ErrorIs(t, err, ErrSnapshotMismatch)
	})

	gen := l.Generation()
	assert.Equal(t, before, observe(t, l.Live()), "rejected restores leave the live state alone")
	assert.Equal(t, gen, l.Generation())
}

func TestView_ReadOnly(t *testing.T) {
	l := newRandomLayer(t, 1)
	populate(t, l)
	ro := l.ViewOf(l.Snapshot())

	c, _ := ro.Cell(0)
	assert.ErrorIs(t, c.SetActive(false), ErrReadOnlyView)
	assert.ErrorIs(t, c.SetPredictive(true), ErrReadOnlyView)
	assert.ErrorIs(t, c.Column().Activate(), ErrReadOnlyView)
	assert.ErrorIs(t, ro.ClearActivation(), ErrReadOnlyView)
	assert.ErrorIs(t, ro.ClearPrediction(), ErrReadOnlyView)

	s := synapsesOf(t, ro, 0, 1)[0]
	_, err := s.AdjustPermanence(0.1, false)
	assert.ErrorIs(t, err, ErrReadOnlyView)
	_, err = s.SetPermanence(synapse.NewPermanence(1))
	assert.ErrorIs(t, err, ErrReadOnlyView)
	assert.ErrorIs(t, s.CullTemporaryValues(), ErrReadOnlyView, "first synapse holds a temporary component")

	err = l.Read(func(v View) error {
		c, _ := v.Cell(0)
		return c.SetActive(false)
	})
	assert.ErrorIs(t, err, ErrReadOnlyView)

	require.NoError(t, l.Read(func(v View) error {
		c, _ := v.Cell(0)
		assert.True(t, c.IsActive())
		return nil
	}))
}

func TestLayer_MutateGeneration(t *testing.T) {
	ctx := context.Background()
	l := newRandomLayer(t, 1)
	require.Zero(t, l.Generation())

	require.NoError(t, l.Mutate(ctx, func(View) error { return nil }))
	assert.Equal(t, int64(1), l.Generation())

	boom := errors.New("boom")
	assert.ErrorIs(t, l.Mutate(ctx, func(View) error { return boom }), boom)
	assert.Equal(t, int64(1), l.Generation())

	snap := l.Snapshot()
	assert.Equal(t, int64(1), snap.Generation())

	_, err := l.Restore(ctx, snap)
	require.NoError(t, err)
	assert.Equal(t, int64(2), l.Generation())

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, l.Mutate(cancelled, func(View) error { return nil }), context.Canceled)
}

func TestSnapshot_ExportImport(t *testing.T) {
	ctx := context.Background()
	l := newRandomLayer(t, 2)
	populate(t, l)
	snap := l.Snapshot()

	data := snap.Export()
	assert.Equal(t, l.CellCount(), data.CellCount)
	assert.Equal(t, l.Shape(), data.Shape)
	assert.Equal(t, []int{0, 5, 6, 100, 513}, data.ActiveCells)
	assert.Equal(t, []int{5}, data.PredictiveCells)
	assert.Len(t, data.Segments, 8)

	imported, err := ImportSnapshot(data)
	require.NoError(t, err)
	assert.Equal(t, snap.EntryCount(), imported.EntryCount())

	want := observe(t, l.ViewOf(snap))
	_, err = l.Restore(ctx, imported)
	require.NoError(t, err)
	got := observe(t, l.Live())
	assert.Equal(t, want.active, got.active)
	assert.Equal(t, want.predictive, got.predictive)
	require.Len(t, got.permanences, len(want.permanences))
	for i := range want.permanences {
		assert.InDelta(t, want.permanences[i], got.permanences[i], 1e-9)
	}
}

func TestImportSnapshot_Invalid(t *testing.T) {
	tiny := Shape{Columns: 2, CellsPerColumn: 2, DendritesPerCell: 1}
	tests := []struct {
		name string
		data SnapshotData
	}{
		{"no cells", SnapshotData{}},
		{"cell count disagrees", SnapshotData{CellCount: 8, Shape: tiny}},
		{"active out of range", SnapshotData{CellCount: 4, Shape: tiny, ActiveCells: []int{4}}},
		{"predictive negative", SnapshotData{CellCount: 4, Shape: tiny, PredictiveCells: []int{-1}}},
		{"segment out of range", SnapshotData{CellCount: 4, Shape: tiny, Segments: []SegmentData{{Cell: 9}}}},
		{"slot out of range", SnapshotData{CellCount: 4, Shape: tiny, Segments: []SegmentData{{Cell: 1, Slot: 1}}}},
		{"negative step", SnapshotData{CellCount: 4, Shape: tiny, Segments: []SegmentData{{Cell: 1, Synapses: []SynapseData{{Step: -1}}}}}},
		{"cell in column out of range", SnapshotData{CellCount: 4, Shape: tiny, Segments: []SegmentData{{Cell: 1, Synapses: []SynapseData{{CellInColumn: 2}}}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ImportSnapshot(tt.data)
			assert.ErrorIs(t, err, ErrInvalidSnapshotData)
		})
	}

	s, err := ImportSnapshot(SnapshotData{CellCount: 4, Shape: tiny, Segments: []SegmentData{{
		Cell:     1,
		Synapses: []SynapseData{{Step: 0, Permanence: 0}, {Step: 1, Permanence: 0.5}},
	}}})
	require.NoError(t, err)
	assert.Equal(t, 1, s.EntryCount(), "dead entries are skipped on import")
}
