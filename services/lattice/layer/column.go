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
	"github.com/AleutianAI/AleutianLattice/services/lattice/topology"
	"github.com/AleutianAI/AleutianLattice/services/lattice/visitor"
)

// Column is a flyweight for one column of the layer.
type Column struct {
	view  View
	index int
}

// Index returns the column's flat topology index.
func (c Column) Index() int { return c.index }

// View returns the view the column was obtained from.
func (c Column) View() View { return c.view }

// Coordinate returns the column's topology coordinate.
func (c Column) Coordinate() topology.Coordinate2D {
	coord, _ := c.view.layer.topo.CoordinateForIndex(c.index)
	return coord
}

// CellCount returns the number of cells in the column.
func (c Column) CellCount() int {
	return c.view.layer.cellsPerColumn
}

// Cell returns the i-th cell of the column.
func (c Column) Cell(i int) (Cell, bool) {
	cpc := c.view.layer.cellsPerColumn
	if i < 0 || i >= cpc {
		return Cell{}, false
	}
	return Cell{view: c.view, pos: c.index*cpc + i}, true
}

// IsActivated reports whether any cell of the column is active.
//
// This is an uncached scan over the column's cells.
func (c Column) IsActivated() bool {
	first := c.index * c.view.layer.cellsPerColumn
	for pos := first; pos < first+c.view.layer.cellsPerColumn; pos++ {
		if c.view.state.activated.Get(pos) {
			return true
		}
	}
	return false
}

// IsPredictivelyActivated reports whether some active cell of the column
// is also predictive.
func (c Column) IsPredictivelyActivated() bool {
	first := c.index * c.view.layer.cellsPerColumn
	for pos := first; pos < first+c.view.layer.cellsPerColumn; pos++ {
		if c.view.state.activated.Get(pos) && c.view.state.predictive.Get(pos) {
			return true
		}
	}
	return false
}

// VisitCells visits the column's cells in order.
func (c Column) VisitCells(fn visitor.Func[Cell]) visitor.Result {
	cpc := c.view.layer.cellsPerColumn
	result := visitor.NoVisits
	for i := 0; i < cpc; i++ {
		result = fn(Cell{view: c.view, pos: c.index*cpc + i})
		if result == visitor.Done {
			return visitor.Done
		}
	}
	return result
}

// VisitActivatedCells visits the column's active cells in order.
func (c Column) VisitActivatedCells(fn visitor.Func[Cell]) visitor.Result {
	cpc := c.view.layer.cellsPerColumn
	result := visitor.NoVisits
	for i := 0; i < cpc; i++ {
		pos := c.index*cpc + i
		if !c.view.state.activated.Get(pos) {
			continue
		}
		result = fn(Cell{view: c.view, pos: pos})
		if result == visitor.Done {
			return visitor.Done
		}
	}
	return result
}

// Activate sets every cell of the column active.
func (c Column) Activate() error {
	if c.view.readOnly {
		return ErrReadOnlyView
	}
	cpc := c.view.layer.cellsPerColumn
	for i := 0; i < cpc; i++ {
		c.view.state.setActive(c.index*cpc+i, true)
	}
	return nil
}
