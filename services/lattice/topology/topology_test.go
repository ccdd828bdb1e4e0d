// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package topology

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianLattice/services/lattice/visitor"
)

func newGrid(t *testing.T, w, h int, rule EdgeRule) *Topology2D {
	t.Helper()
	topo, err := NewTopology2D(w, h, rule)
	require.NoError(t, err)
	return topo
}

func TestNewTopology2D_RejectsBadExtents(t *testing.T) {
	_, err := NewTopology2D(0, 4, Wrap)
	assert.ErrorIs(t, err, ErrInvalidExtents)
	_, err = NewTopology2D(4, -1, Wrap)
	assert.ErrorIs(t, err, ErrInvalidExtents)

	topo, err := NewTopology2D(3, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, Wrap, topo.EdgeRule())
}

func TestTopology2D_Bijection(t *testing.T) {
	topo := newGrid(t, 16, 9, Wrap)
	require.Equal(t, 144, topo.ColumnCount())

	for i := 0; i < topo.ColumnCount(); i++ {
		c, ok := topo.CoordinateForIndex(i)
		require.True(t, ok)
		require.True(t, topo.IsValid(c))
		assert.Equal(t, i, topo.ToIndex(c))
	}
	for y := 0; y < 9; y++ {
		for x := 0; x < 16; x++ {
			c := Coordinate2D{X: x, Y: y}
			back, ok := topo.CoordinateForIndex(topo.ToIndex(c))
			require.True(t, ok)
			assert.Equal(t, c, back)
		}
	}
}

func TestTopology2D_InvalidAddressing(t *testing.T) {
	topo := newGrid(t, 4, 4, Wrap)
	assert.Equal(t, -1, topo.ToIndex(Coordinate2D{X: 4, Y: 0}))
	assert.Equal(t, -1, topo.ToIndex(Coordinate2D{X: 0, Y: -1}))
	_, ok := topo.CoordinateForIndex(16)
	assert.False(t, ok)
	_, ok = topo.CoordinateForIndex(-1)
	assert.False(t, ok)
}

func TestEdgeRules(t *testing.T) {
	ext := Coordinate2D{X: 16, Y: 16}
	cur := Coordinate2D{X: 0, Y: 15}
	tests := []struct {
		name     string
		rule     EdgeRule
		proposed Coordinate2D
		want     Coordinate2D
	}{
		{"wrap low x", Wrap, Coordinate2D{X: -1, Y: 15}, Coordinate2D{X: 15, Y: 15}},
		{"wrap high y", Wrap, Coordinate2D{X: 0, Y: 16}, Coordinate2D{X: 0, Y: 0}},
		{"wrap far", Wrap, Coordinate2D{X: 35, Y: -17}, Coordinate2D{X: 3, Y: 15}},
		{"constrain low", Constrain, Coordinate2D{X: -1, Y: 16}, Coordinate2D{X: 0, Y: 15}},
		{"constrain inside", Constrain, Coordinate2D{X: 5, Y: 5}, Coordinate2D{X: 5, Y: 5}},
		{"noop passthrough", Noop, Coordinate2D{X: -1, Y: 16}, Coordinate2D{X: -1, Y: 16}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rule.Adjust(cur, tt.proposed, ext))
		})
	}
}

func TestParseEdgeRule(t *testing.T) {
	for name, want := range map[string]EdgeRule{"wrap": Wrap, "Clamp": Constrain, " noop ": Noop} {
		got, err := ParseEdgeRule(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseEdgeRule("mirror")
	assert.ErrorIs(t, err, ErrUnknownEdgeRule)
}

func TestWalk_ScenarioB(t *testing.T) {
	topo := newGrid(t, 16, 16, Wrap)
	p := NewPath(Up, Left, Down, Right)

	var got []Coordinate2D
	r := topo.Walk(Coordinate2D{X: 8, Y: 8}, p, visitor.Continue(func(c Coordinate2D) {
		got = append(got, c)
	}))

	assert.Equal(t, visitor.NotDone, r)
	assert.Equal(t, []Coordinate2D{{8, 7}, {7, 7}, {7, 8}, {8, 8}}, got)
}

func TestWalk_WrapsAndStops(t *testing.T) {
	topo := newGrid(t, 16, 16, Wrap)
	p := NewPath(UpLeft, UpLeft, Right)

	var got []Coordinate2D
	r := topo.Walk(Coordinate2D{X: 0, Y: 0}, p, func(c Coordinate2D) visitor.Result {
		got = append(got, c)
		return visitor.Of(len(got) == 2)
	})
	assert.Equal(t, visitor.Done, r)
	assert.Equal(t, []Coordinate2D{{15, 15}, {14, 14}}, got)

	assert.Equal(t, visitor.NoVisits, topo.Walk(Coordinate2D{}, Path{}, func(Coordinate2D) visitor.Result {
		t.Fatal("empty path must not visit")
		return visitor.NotDone
	}))
}

func TestCreateRandom_SelfAvoiding(t *testing.T) {
	topo := newGrid(t, 16, 16, Wrap)
	rng := rand.New(rand.NewPCG(23, 23))

	for i := 0; i < 200; i++ {
		start, _ := topo.CoordinateForIndex(i)
		p := topo.CreateRandom(rng, start, 7)
		require.Equal(t, 7, p.Len(), "a 16x16 torus always has room for 7 steps")

		seen := map[Coordinate2D]bool{start: true}
		topo.Walk(start, p, visitor.Continue(func(c Coordinate2D) {
			assert.False(t, seen[c], "walk revisited %v", c)
			seen[c] = true
		}))
	}
}

func TestCreateRandom_Deterministic(t *testing.T) {
	topo := newGrid(t, 16, 16, Wrap)
	a := topo.CreateRandom(rand.New(rand.NewPCG(7, 7)), Coordinate2D{X: 3, Y: 3}, 10)
	b := topo.CreateRandom(rand.New(rand.NewPCG(7, 7)), Coordinate2D{X: 3, Y: 3}, 10)
	assert.True(t, a.Equal(b))
}

func TestCreateRandom_ExhaustsEarly(t *testing.T) {
	// a 2x1 grid without wrapping has exactly one other cell to visit
	topo := newGrid(t, 2, 1, Noop)
	p := topo.CreateRandom(rand.New(rand.NewPCG(1, 1)), Coordinate2D{X: 0, Y: 0}, 5)
	assert.Equal(t, 1, p.Len())
	assert.Equal(t, Right, p.At(0))

	// constrain clamps back onto seen cells, which counts as no move
	single := newGrid(t, 1, 1, Constrain)
	assert.Zero(t, single.CreateRandom(rand.New(rand.NewPCG(1, 1)), Coordinate2D{}, 3).Len())
}

func TestVisitNeighbors(t *testing.T) {
	topo := newGrid(t, 4, 4, Wrap)

	var got []int
	topo.VisitNeighbors(0, 1, visitor.Continue(func(i int) { got = append(got, i) }))
	assert.Equal(t, []int{1, 4, 5}, got)

	got = got[:0]
	topo.VisitNeighbors(5, 1, visitor.Continue(func(i int) { got = append(got, i) }))
	assert.Equal(t, []int{0, 1, 2, 4, 6, 8, 9, 10}, got)

	assert.Equal(t, visitor.NoVisits, topo.VisitNeighbors(99, 1, visitor.Continue(func(int) {})))
}

func TestPath(t *testing.T) {
	src := []Direction2D{Up, DownRight}
	p := NewPath(src...)
	src[0] = Left
	assert.Equal(t, Up, p.At(0), "NewPath copies its input")

	dirs := p.Directions()
	dirs[1] = Up
	assert.Equal(t, DownRight, p.At(1), "Directions returns a copy")

	parsed, err := ParsePath("up, down_right")
	require.NoError(t, err)
	assert.True(t, p.Equal(parsed))
	assert.Equal(t, "[UP,DOWN_RIGHT]", p.String())

	_, err = ParsePath("up,sideways")
	assert.ErrorIs(t, err, ErrUnknownDirection)
}
