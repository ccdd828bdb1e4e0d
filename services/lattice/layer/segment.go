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

	"github.com/AleutianAI/AleutianLattice/services/lattice/synapse"
	"github.com/AleutianAI/AleutianLattice/services/lattice/topology"
	"github.com/AleutianAI/AleutianLattice/services/lattice/visitor"
)

// DistalSegment is a flyweight for one distal dendrite of a cell.
//
// Its synapses are not stored. They are derived by replaying the segment's
// path from the source cell's column and enumerating the cells of every
// column reached.
type DistalSegment struct {
	cell Cell
	slot int
}

// Source returns the owning cell.
func (s DistalSegment) Source() Cell { return s.cell }

// Slot returns the segment's slot index within its cell.
func (s DistalSegment) Slot() int { return s.slot }

// Key returns the integer key the segment's permanences are stored under.
func (s DistalSegment) Key() SegmentKey {
	return SegmentKey{Cell: int32(s.cell.pos), Slot: int32(s.slot)}
}

// Path returns the segment's fixed path.
func (s DistalSegment) Path() topology.Path {
	l := s.cell.view.layer
	return l.paths[s.cell.pos*l.dendritesPerCell+s.slot]
}

// Permanences returns a read view of the segment's stored entries.
func (s DistalSegment) Permanences() Permanences {
	return s.cell.view.state.Permanences(s.Key())
}

// VisitSynapses visits the segment's potential synapses.
//
// Description:
//
//	Order is path step first, then cell order within the column reached at
//	that step. Step indices start at 0. A coordinate outside the topology
//	(possible only with the noop edge rule) contributes no synapses.
//
// Outputs:
//
//	visitor.Result - Done if fn stopped the traversal, NoVisits if fn was
//	never called, NotDone otherwise.
func (s DistalSegment) VisitSynapses(fn visitor.Func[DistalSynapse]) visitor.Result {
	v := s.cell.view
	l := v.layer
	start, _ := l.topo.CoordinateForIndex(s.cell.ColumnIndex())
	cpc := l.cellsPerColumn
	step := -1
	visited := false

	return l.topo.Walk(start, s.Path(), func(c topology.Coordinate2D) visitor.Result {
		step++
		col := l.topo.ToIndex(c)
		if col < 0 {
			if visited {
				return visitor.NotDone
			}
			return visitor.NoVisits
		}
		result := visitor.NoVisits
		for i := 0; i < cpc; i++ {
			visited = true
			result = fn(DistalSynapse{
				segment: s,
				step:    step,
				target:  Cell{view: v, pos: col*cpc + i},
			})
			if result == visitor.Done {
				return visitor.Done
			}
		}
		return result
	})
}

// SynapseCount returns the number of potential synapses.
func (s DistalSegment) SynapseCount() int {
	n := 0
	s.VisitSynapses(visitor.Continue(func(DistalSynapse) { n++ }))
	return n
}

// CountSynapsesAboveThreshold counts synapses whose clamped permanence is
// at least threshold.
func (s DistalSegment) CountSynapsesAboveThreshold(threshold float64) int {
	n := 0
	s.VisitSynapses(visitor.Continue(func(syn DistalSynapse) {
		if syn.Permanence().IsConnected(threshold) {
			n++
		}
	}))
	return n
}

// CountActiveConnected counts connected synapses whose target is active.
func (s DistalSegment) CountActiveConnected(threshold float64) int {
	n := 0
	s.VisitSynapses(visitor.Continue(func(syn DistalSynapse) {
		if syn.target.IsActive() && syn.Permanence().IsConnected(threshold) {
			n++
		}
	}))
	return n
}

// Equal reports whether both segments have the same cell and slot.
func (s DistalSegment) Equal(o DistalSegment) bool {
	return s.cell.Equal(o.cell) && s.slot == o.slot
}

func (s DistalSegment) String() string {
	return fmt.Sprintf("DistalSegment(cell %d, slot %d)", s.cell.pos, s.slot)
}

// -----------------------------------------------------------------------------
// DistalSynapse
// -----------------------------------------------------------------------------

// SynapseID is a comparable identity for a distal synapse, suitable as a
// map key for visited-set bookkeeping.
type SynapseID struct {
	Cell   int
	Slot   int
	Step   int
	Target int
}

// DistalSynapse is a flyweight for one potential synapse of a distal
// segment.
type DistalSynapse struct {
	segment DistalSegment
	step    int
	target  Cell
}

// Segment returns the owning segment.
func (s DistalSynapse) Segment() DistalSegment { return s.segment }

// Step returns the path step that reached the target column.
func (s DistalSynapse) Step() int { return s.step }

// Target returns the target cell.
func (s DistalSynapse) Target() Cell { return s.target }

// TargetState returns the target's output state.
func (s DistalSynapse) TargetState() OutputState { return s.target.State() }

// ID returns the synapse's identity.
func (s DistalSynapse) ID() SynapseID {
	return SynapseID{
		Cell:   s.segment.cell.pos,
		Slot:   s.segment.slot,
		Step:   s.step,
		Target: s.target.pos,
	}
}

func (s DistalSynapse) key() SynapseKey {
	return SynapseKey{Step: int32(s.step), CellInColumn: int32(s.target.IndexInColumn())}
}

// Permanence returns the stored permanence, or synapse.Zero.
func (s DistalSynapse) Permanence() synapse.Permanence {
	return s.segment.cell.view.state.permanence(s.segment.Key(), s.key())
}

// AdjustPermanence adds amount to the permanence and returns the new value.
func (s DistalSynapse) AdjustPermanence(amount float64, temporary bool) (synapse.Permanence, error) {
	v := s.segment.cell.view
	if v.readOnly {
		return synapse.Zero, ErrReadOnlyView
	}
	return v.state.updatePermanence(s.segment.Key(), s.key(), amount, temporary), nil
}

// SetPermanence stores p and returns the previous value.
func (s DistalSynapse) SetPermanence(p synapse.Permanence) (synapse.Permanence, error) {
	v := s.segment.cell.view
	if v.readOnly {
		return synapse.Zero, ErrReadOnlyView
	}
	return v.state.setPermanence(s.segment.Key(), s.key(), p), nil
}

// CullTemporaryValues replaces the permanence with its durable part.
func (s DistalSynapse) CullTemporaryValues() error {
	p := s.Permanence()
	if !p.IsCompound() {
		return nil
	}
	_, err := s.SetPermanence(p.CullTemporaryValues())
	return err
}

// RetainTemporaryValues collapses the permanence into a simple value.
func (s DistalSynapse) RetainTemporaryValues() error {
	p := s.Permanence()
	if !p.IsCompound() {
		return nil
	}
	_, err := s.SetPermanence(p.RetainTemporaryValues())
	return err
}

// Equal compares identity: segment, step and target.
func (s DistalSynapse) Equal(o DistalSynapse) bool {
	return s.segment.Equal(o.segment) && s.step == o.step && s.target.Equal(o.target)
}

func (s DistalSynapse) String() string {
	return fmt.Sprintf("DistalSynapse(cell %d, slot %d, step %d -> cell %d)",
		s.segment.cell.pos, s.segment.slot, s.step, s.target.pos)
}
