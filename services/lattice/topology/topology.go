// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package topology maps column coordinates to flat indices and replays
// dendrite paths over the resulting grid.
//
// # Addressing
//
// Columns are stored row-major: index = y*width + x. ToIndex and
// CoordinateForIndex form a bijection over [0, ColumnCount()).
//
// # Paths
//
// A dendrite's reach is a Path of unit moves. Walk replays a Path from a
// start coordinate, applying the topology's EdgeRule after every move, and
// is the only place coordinates are derived from a Path.
package topology

import (
	"fmt"
	"math/rand/v2"
	"slices"

	"github.com/AleutianAI/AleutianLattice/services/lattice/visitor"
)

// Topology is the geometric addressing scheme over columns.
type Topology interface {
	// ColumnCount returns the number of addressable columns.
	ColumnCount() int

	// Extents returns one past the largest valid coordinate per dimension.
	Extents() Coordinate2D

	// EdgeRule returns the rule applied during navigation.
	EdgeRule() EdgeRule

	// IsValid reports whether c lies inside [0, Extents()).
	IsValid(c Coordinate2D) bool

	// ToIndex returns the flat column index of c, or -1 when c is invalid.
	ToIndex(c Coordinate2D) int

	// CoordinateForIndex is the inverse of ToIndex. ok is false when index
	// is outside [0, ColumnCount()).
	CoordinateForIndex(index int) (c Coordinate2D, ok bool)

	// Walk replays p from start and calls fn with each coordinate reached.
	Walk(start Coordinate2D, p Path, fn visitor.Func[Coordinate2D]) visitor.Result

	// CreateRandom builds a self-avoiding random walk of at most length
	// steps starting at start.
	CreateRandom(rng *rand.Rand, start Coordinate2D, length int) Path
}

// Topology2D is a width x height grid of columns.
//
// Thread Safety: Immutable after construction; safe for concurrent use.
type Topology2D struct {
	width  int
	height int
	rule   EdgeRule
}

// NewTopology2D creates a grid.
//
// Inputs:
//
//	width, height - Grid dimensions. Must be positive.
//	rule - Edge rule; nil selects Wrap.
//
// Outputs:
//
//	*Topology2D - The grid.
//	error - ErrInvalidExtents if a dimension is not positive.
func NewTopology2D(width, height int, rule EdgeRule) (*Topology2D, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidExtents, width, height)
	}
	if rule == nil {
		rule = Wrap
	}
	return &Topology2D{width: width, height: height, rule: rule}, nil
}

func (t *Topology2D) Width() int  { return t.width }
func (t *Topology2D) Height() int { return t.height }

func (t *Topology2D) ColumnCount() int {
	return t.width * t.height
}

func (t *Topology2D) Extents() Coordinate2D {
	return Coordinate2D{X: t.width, Y: t.height}
}

func (t *Topology2D) EdgeRule() EdgeRule {
	return t.rule
}

func (t *Topology2D) IsValid(c Coordinate2D) bool {
	return c.X >= 0 && c.X < t.width && c.Y >= 0 && c.Y < t.height
}

func (t *Topology2D) ToIndex(c Coordinate2D) int {
	if !t.IsValid(c) {
		return -1
	}
	return c.Y*t.width + c.X
}

func (t *Topology2D) CoordinateForIndex(index int) (Coordinate2D, bool) {
	if index < 0 || index >= t.ColumnCount() {
		return Coordinate2D{}, false
	}
	return Coordinate2D{X: index % t.width, Y: index / t.width}, true
}

// Walk replays p from start.
//
// Description:
//
//	Applies each direction in order, adjusting with the edge rule, and
//	calls fn with the coordinate after each step. The start coordinate
//	itself is not visited. Stops as soon as fn returns Done.
//
// Outputs:
//
//	visitor.Result - Done if fn stopped the walk, NoVisits for an empty
//	path, otherwise the last result returned by fn.
func (t *Topology2D) Walk(start Coordinate2D, p Path, fn visitor.Func[Coordinate2D]) visitor.Result {
	extents := t.Extents()
	current := start
	result := visitor.NoVisits
	for _, d := range p.dirs {
		current = d.Navigate(extents, current, t.rule)
		result = fn(current)
		if result == visitor.Done {
			return visitor.Done
		}
	}
	return result
}

// CreateRandom builds a self-avoiding random walk.
//
// Description:
//
//	At each step directions are drawn uniformly at random, without
//	repeating a direction within the step, until one leads to a valid
//	coordinate that has not been visited (the start counts as visited).
//	If all eight directions fail, the walk ends early and the returned
//	Path is shorter than length.
//
// Inputs:
//
//	rng - Source of randomness. The same seed yields the same path.
//	start - Coordinate the walk leaves from.
//	length - Requested number of steps.
//
// Outputs:
//
//	Path - Between 0 and length steps.
func (t *Topology2D) CreateRandom(rng *rand.Rand, start Coordinate2D, length int) Path {
	if length <= 0 {
		return Path{}
	}
	extents := t.Extents()
	seen := make([]Coordinate2D, 1, length+1)
	seen[0] = start
	dirs := make([]Direction2D, 0, length)
	current := start

	const allTried = 1<<DirectionCount - 1
	for len(dirs) < length {
		var tried uint16
		moved := false
		for tried != allTried {
			d := Direction2D(rng.IntN(DirectionCount))
			if tried&(1<<d) != 0 {
				continue
			}
			tried |= 1 << d
			next := d.Navigate(extents, current, t.rule)
			if !t.IsValid(next) || slices.Contains(seen, next) {
				continue
			}
			seen = append(seen, next)
			dirs = append(dirs, d)
			current = next
			moved = true
			break
		}
		if !moved {
			break
		}
	}
	return Path{dirs: dirs}
}

// VisitNeighbors visits the columns within Chebyshev distance radius of
// index, excluding index itself, in ascending index order. Coordinates
// outside the grid are skipped rather than wrapped.
func (t *Topology2D) VisitNeighbors(index, radius int, fn visitor.Func[int]) visitor.Result {
	center, ok := t.CoordinateForIndex(index)
	if !ok || radius <= 0 {
		return visitor.NoVisits
	}
	result := visitor.NoVisits
	for y := max(center.Y-radius, 0); y <= min(center.Y+radius, t.height-1); y++ {
		for x := max(center.X-radius, 0); x <= min(center.X+radius, t.width-1); x++ {
			if x == center.X && y == center.Y {
				continue
			}
			result = fn(y*t.width + x)
			if result == visitor.Done {
				return visitor.Done
			}
		}
	}
	return result
}

func (t *Topology2D) String() string {
	return fmt.Sprintf("Topology2D(%dx%d, %s)", t.width, t.height, t.rule)
}

var _ Topology = (*Topology2D)(nil)
