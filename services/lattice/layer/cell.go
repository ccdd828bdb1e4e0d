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
	"fmt"

	"github.com/AleutianAI/AleutianLattice/services/lattice/visitor"
)

// Cell is a flyweight for one cell, identified by its global position.
type Cell struct {
	view View
	pos  int
}

// Index returns the cell's global position.
func (c Cell) Index() int { return c.pos }

// ColumnIndex returns pos / cellsPerColumn.
func (c Cell) ColumnIndex() int { return c.pos / c.view.layer.cellsPerColumn }

// IndexInColumn returns pos % cellsPerColumn.
func (c Cell) IndexInColumn() int { return c.pos % c.view.layer.cellsPerColumn }

// Column returns the owning column.
func (c Cell) Column() Column {
	return Column{view: c.view, index: c.ColumnIndex()}
}

// IsActive reports the cell's active bit.
func (c Cell) IsActive() bool {
	return c.view.state.activated.Get(c.pos)
}

// IsPredictive reports whether the cell is active and predictive.
func (c Cell) IsPredictive() bool {
	return c.IsActive() && c.view.state.predictive.Get(c.pos)
}

// State combines the activation bits into an OutputState.
func (c Cell) State() OutputState {
	return ForState(c.IsActive(), c.IsPredictive())
}

// SetActive sets or clears the active bit.
func (c Cell) SetActive(on bool) error {
	if c.view.readOnly {
		return ErrReadOnlyView
	}
	c.view.state.setActive(c.pos, on)
	return nil
}

// SetPredictive sets or clears the predictive bit.
func (c Cell) SetPredictive(on bool) error {
	if c.view.readOnly {
		return ErrReadOnlyView
	}
	c.view.state.setPredictive(c.pos, on)
	return nil
}

// DistalSegment returns the segment in slot.
func (c Cell) DistalSegment(slot int) (DistalSegment, bool) {
	if slot < 0 || slot >= c.view.layer.dendritesPerCell {
		return DistalSegment{}, false
	}
	return DistalSegment{cell: c, slot: slot}, true
}

// VisitDistalSegments visits the cell's segments in slot order.
func (c Cell) VisitDistalSegments(fn visitor.Func[DistalSegment]) visitor.Result {
	result := visitor.NoVisits
	for slot := 0; slot < c.view.layer.dendritesPerCell; slot++ {
		result = fn(DistalSegment{cell: c, slot: slot})
		if result == visitor.Done {
			return visitor.Done
		}
	}
	return result
}

// Equal reports whether both cells have the same position in the same
// layer.
func (c Cell) Equal(o Cell) bool {
	return c.view.layer == o.view.layer && c.pos == o.pos
}

func (c Cell) String() string {
	return fmt.Sprintf("Cell(%d: column %d, #%d)", c.pos, c.ColumnIndex(), c.IndexInColumn())
}
