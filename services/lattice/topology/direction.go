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
	"fmt"
	"strings"
)

// Coordinate2D is a column location on a two-dimensional grid.
//
// Y grows downward: Up decrements Y and Left decrements X.
type Coordinate2D struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// String renders the coordinate as "(x,y)".
func (c Coordinate2D) String() string {
	return fmt.Sprintf("(%d,%d)", c.X, c.Y)
}

// Add returns the component-wise sum.
func (c Coordinate2D) Add(dx, dy int) Coordinate2D {
	return Coordinate2D{X: c.X + dx, Y: c.Y + dy}
}

// -----------------------------------------------------------------------------
// Direction
// -----------------------------------------------------------------------------

// Direction2D is a single unit move on the grid.
//
// The underlying value is a small integer so a Path costs one byte per step.
type Direction2D uint8

const (
	Up Direction2D = iota
	Down
	Left
	Right
	UpRight
	DownRight
	UpLeft
	DownLeft

	// DirectionCount is the number of distinct directions.
	DirectionCount = 8
)

var directionDeltas = [DirectionCount][2]int{
	Up:        {0, -1},
	Down:      {0, 1},
	Left:      {-1, 0},
	Right:     {1, 0},
	UpRight:   {1, -1},
	DownRight: {1, 1},
	UpLeft:    {-1, -1},
	DownLeft:  {-1, 1},
}

var directionNames = [DirectionCount]string{
	Up:        "UP",
	Down:      "DOWN",
	Left:      "LEFT",
	Right:     "RIGHT",
	UpRight:   "UP_RIGHT",
	DownRight: "DOWN_RIGHT",
	UpLeft:    "UP_LEFT",
	DownLeft:  "DOWN_LEFT",
}

// AllDirections lists every direction in declaration order.
var AllDirections = [DirectionCount]Direction2D{
	Up, Down, Left, Right, UpRight, DownRight, UpLeft, DownLeft,
}

// Delta returns the unit step of the direction.
func (d Direction2D) Delta() (dx, dy int) {
	if int(d) >= DirectionCount {
		return 0, 0
	}
	return directionDeltas[d][0], directionDeltas[d][1]
}

// Navigate applies one step from current and then the edge rule.
func (d Direction2D) Navigate(extents, current Coordinate2D, rule EdgeRule) Coordinate2D {
	dx, dy := d.Delta()
	return rule.Adjust(current, current.Add(dx, dy), extents)
}

func (d Direction2D) String() string {
	if int(d) >= DirectionCount {
		return fmt.Sprintf("Direction2D(%d)", uint8(d))
	}
	return directionNames[d]
}

// ParseDirection accepts the upper-case names returned by String,
// case-insensitively.
func ParseDirection(s string) (Direction2D, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for i, n := range directionNames {
		if n == name {
			return Direction2D(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownDirection, s)
}

// -----------------------------------------------------------------------------
// Edge rules
// -----------------------------------------------------------------------------

// EdgeRule corrects a proposed coordinate that may lie outside [0, extents).
type EdgeRule interface {
	Adjust(current, proposed, extents Coordinate2D) Coordinate2D
	String() string
}

var (
	// Wrap folds each component back into range modulo the extent.
	Wrap EdgeRule = wrapRule{}

	// Constrain clamps each component into range.
	Constrain EdgeRule = constrainRule{}

	// Noop returns the proposed coordinate unchanged. Callers must check
	// validity themselves.
	Noop EdgeRule = noopRule{}
)

type wrapRule struct{}

func (wrapRule) Adjust(_, proposed, extents Coordinate2D) Coordinate2D {
	return Coordinate2D{X: wrapComponent(proposed.X, extents.X), Y: wrapComponent(proposed.Y, extents.Y)}
}

func (wrapRule) String() string { return "wrap" }

func wrapComponent(v, extent int) int {
	if extent <= 0 {
		return v
	}
	v %= extent
	if v < 0 {
		v += extent
	}
	return v
}

type constrainRule struct{}

func (constrainRule) Adjust(_, proposed, extents Coordinate2D) Coordinate2D {
	return Coordinate2D{
		X: min(max(proposed.X, 0), extents.X-1),
		Y: min(max(proposed.Y, 0), extents.Y-1),
	}
}

func (constrainRule) String() string { return "constrain" }

type noopRule struct{}

func (noopRule) Adjust(_, proposed, _ Coordinate2D) Coordinate2D { return proposed }

func (noopRule) String() string { return "noop" }

// ParseEdgeRule maps "wrap", "constrain" (or "clamp") and "noop" to a rule.
func ParseEdgeRule(name string) (EdgeRule, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "wrap":
		return Wrap, nil
	case "constrain", "clamp":
		return Constrain, nil
	case "noop", "none":
		return Noop, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEdgeRule, name)
	}
}
