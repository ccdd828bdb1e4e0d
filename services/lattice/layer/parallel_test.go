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
	"math/rand/v2"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianLattice/services/lattice/topology"
	"github.com/AleutianAI/AleutianLattice/services/lattice/visitor"
)

func TestParallelVisitColumns_VisitsEveryColumnOnce(t *testing.T) {
	l := newRandomLayer(t, 1)
	populate(t, l)
	view := l.ViewOf(l.Snapshot())

	counts := make([]atomic.Int32, l.ColumnCount())
	var activated atomic.Int32
	r, err := view.ParallelVisitColumns(context.Background(), 4, func(c Column) visitor.Result {
		counts[c.Index()].Add(1)
		if c.IsActivated() {
			activated.Add(1)
		}
		return visitor.NotDone
	})
	require.NoError(t, err)
	assert.Equal(t, visitor.NotDone, r)
	for i := range counts {
		assert.Equal(t, int32(1), counts[i].Load(), "column %d", i)
	}
	assert.Equal(t, int32(view.ActivatedColumnCount()), activated.Load())
}

func TestParallelVisitColumns_StopsEarly(t *testing.T) {
	l := newRandomLayer(t, 1)
	var calls atomic.Int32
	r, err := l.Live().ParallelVisitColumns(context.Background(), 4, func(c Column) visitor.Result {
		calls.Add(1)
		return visitor.Of(c.Index() == 0)
	})
	require.NoError(t, err)
	assert.Equal(t, visitor.Done, r)
	assert.Less(t, int(calls.Load()), l.ColumnCount())
}

func TestParallelVisitColumns_SequentialForSmallLayers(t *testing.T) {
	topo, err := topology.NewTopology2D(4, 4, topology.Wrap)
	require.NoError(t, err)
	l, err := New(Config{
		Topology:         topo,
		CellsPerColumn:   2,
		DendritesPerCell: 1,
		Layout:           &RandomDistalLayout{Rng: rand.New(rand.NewPCG(1, 1)), Length: 3},
		Logger:           quietLogger,
	})
	require.NoError(t, err)

	var order []int
	r, err := l.Live().ParallelVisitColumns(context.Background(), 8, visitor.Continue(func(c Column) {
		order = append(order, c.Index())
	}))
	require.NoError(t, err)
	assert.Equal(t, visitor.NotDone, r)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}, order)
}

func TestParallelVisitColumns_Cancelled(t *testing.T) {
	l := newRandomLayer(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.Live().ParallelVisitColumns(ctx, 4, func(Column) visitor.Result {
		return visitor.NotDone
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRandomDistalLayout_ShortPathPolicies(t *testing.T) {
	// a 3x1 strip without wrapping cannot hold a 5-step self-avoiding walk
	topo, err := topology.NewTopology2D(3, 1, topology.Noop)
	require.NoError(t, err)

	build := func(policy ShortPathPolicy) (*Layer, error) {
		return New(Config{
			Topology:         topo,
			CellsPerColumn:   1,
			DendritesPerCell: 1,
			Layout: &RandomDistalLayout{
				Rng:    rand.New(rand.NewPCG(5, 5)),
				Length: 5,
				Policy: policy,
				Logger: quietLogger,
			},
			Logger: quietLogger,
		})
	}

	for _, policy := range []ShortPathPolicy{ShortPathAccept, ShortPathLog, ShortPathRetry} {
		t.Run(string(policy), func(t *testing.T) {
			l, err := build(policy)
			require.NoError(t, err)
			for cell := 0; cell < 3; cell++ {
				p, ok := l.Path(cell, 0)
				require.True(t, ok)
				assert.Less(t, p.Len(), 5)
				assert.Positive(t, p.Len())
			}
		})
	}

	t.Run(string(ShortPathFail), func(t *testing.T) {
		_, err := build(ShortPathFail)
		assert.ErrorIs(t, err, topology.ErrShortPath)
	})
}

func TestParseShortPathPolicy(t *testing.T) {
	p, err := ParseShortPathPolicy("")
	require.NoError(t, err)
	assert.Equal(t, ShortPathAccept, p)

	p, err = ParseShortPathPolicy("RETRY")
	require.NoError(t, err)
	assert.Equal(t, ShortPathRetry, p)

	_, err = ParseShortPathPolicy("panic")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
