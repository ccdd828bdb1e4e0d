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

// View binds a layer's fixed wiring to one snapshot of its state.
//
// All flyweights (Column, Cell, DistalSegment, DistalSynapse) carry the
// View they came from. A read-only View rejects mutation with
// ErrReadOnlyView.
type View struct {
	layer    *Layer
	state    *Snapshot
	readOnly bool
}

// Layer returns the owning layer.
func (v View) Layer() *Layer { return v.layer }

// State returns the snapshot the view reads from.
func (v View) State() *Snapshot { return v.state }

// ReadOnly reports whether mutations are rejected.
func (v View) ReadOnly() bool { return v.readOnly }

// Cell returns the cell at pos, or false when pos is out of range.
func (v View) Cell(pos int) (Cell, bool) {
	if pos < 0 || pos >= v.layer.CellCount() {
		return Cell{}, false
	}
	return Cell{view: v, pos: pos}, true
}

// Column returns the column at index, or false when index is out of range.
func (v View) Column(index int) (Column, bool) {
	if index < 0 || index >= v.layer.columnCount {
		return Column{}, false
	}
	return Column{view: v, index: index}, true
}

// ColumnAt returns the column at coordinate c, or false when c is invalid.
func (v View) ColumnAt(c topology.Coordinate2D) (Column, bool) {
	return v.Column(v.layer.topo.ToIndex(c))
}

// VisitColumns visits every column in index order.
func (v View) VisitColumns(fn visitor.Func[Column]) visitor.Result {
	result := visitor.NoVisits
	for i := 0; i < v.layer.columnCount; i++ {
		result = fn(Column{view: v, index: i})
		if result == visitor.Done {
			return visitor.Done
		}
	}
	return result
}

// VisitActivatedColumns visits, in index order, every column with at
// least one active cell.
//
// Active cells are enumerated from the activation vector, so the cost is
// proportional to the number of active cells rather than columns.
func (v View) VisitActivatedColumns(fn visitor.Func[Column]) visitor.Result {
	cpc := v.layer.cellsPerColumn
	last := -1
	return v.state.activated.VisitSet(func(pos int) visitor.Result {
		col := pos / cpc
		if col == last {
			return visitor.NotDone
		}
		last = col
		return fn(Column{view: v, index: col})
	})
}

// VisitCells visits every cell in position order.
func (v View) VisitCells(fn visitor.Func[Cell]) visitor.Result {
	result := visitor.NoVisits
	for pos := 0; pos < v.layer.CellCount(); pos++ {
		result = fn(Cell{view: v, pos: pos})
		if result == visitor.Done {
			return visitor.Done
		}
	}
	return result
}

// VisitActivatedCells visits every active cell in position order.
func (v View) VisitActivatedCells(fn visitor.Func[Cell]) visitor.Result {
	return v.state.activated.VisitSet(func(pos int) visitor.Result {
		return fn(Cell{view: v, pos: pos})
	})
}

// VisitDistalSegments visits every distal segment of every cell, cells in
// position order and segments in slot order.
func (v View) VisitDistalSegments(fn visitor.Func[DistalSegment]) visitor.Result {
	return v.VisitCells(func(c Cell) visitor.Result {
		return c.VisitDistalSegments(fn)
	})
}

// ActivatedColumnCount returns the number of columns with an active cell.
func (v View) ActivatedColumnCount() int {
	n := 0
	v.VisitActivatedColumns(visitor.Continue(func(Column) { n++ }))
	return n
}

// ClearActivation clears both activation vectors.
func (v View) ClearActivation() error {
	if v.readOnly {
		return ErrReadOnlyView
	}
	v.state.activated.ClearAll()
	v.state.predictive.ClearAll()
	return nil
}

// ClearPrediction clears the predictive vector.
func (v View) ClearPrediction() error {
	if v.readOnly {
		return ErrReadOnlyView
	}
	v.state.predictive.ClearAll()
	return nil
}
