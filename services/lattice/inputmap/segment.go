// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package inputmap

import (
	"fmt"

	"github.com/AleutianAI/AleutianLattice/services/lattice/synapse"
	"github.com/AleutianAI/AleutianLattice/services/lattice/visitor"
)

// View binds proximal flyweights to one snapshot.
type View[ID comparable] struct {
	mapping  *Mapping[ID]
	state    *Snapshot
	readOnly bool
}

// Mapping returns the owning mapping.
func (v View[ID]) Mapping() *Mapping[ID] { return v.mapping }

// State returns the snapshot the view reads.
func (v View[ID]) State() *Snapshot { return v.state }

// ReadOnly reports whether mutations through the view are rejected.
func (v View[ID]) ReadOnly() bool { return v.readOnly }

// SegmentFor returns the segment of column.
func (v View[ID]) SegmentFor(column int) (ProximalSegment[ID], error) {
	if column < 0 || column >= len(v.state.columns) || !v.state.columns[column].wired {
		return ProximalSegment[ID]{}, fmt.Errorf("%w: column %d", ErrNoProximalSegment, column)
	}
	return ProximalSegment[ID]{view: v, column: column}, nil
}

// VisitSegments visits every wired column's segment in column order.
func (v View[ID]) VisitSegments(fn visitor.Func[ProximalSegment[ID]]) visitor.Result {
	r := visitor.NoVisits
	for i := range v.state.columns {
		if !v.state.columns[i].wired {
			continue
		}
		r = fn(ProximalSegment[ID]{view: v, column: i})
		if r == visitor.Done {
			return r
		}
	}
	return r
}

// -----------------------------------------------------------------------------
// ProximalSegment
// -----------------------------------------------------------------------------

// ProximalSegment is a flyweight for the proximal dendrite of one column.
type ProximalSegment[ID comparable] struct {
	view   View[ID]
	column int
}

// Column returns the owning column's index.
func (s ProximalSegment[ID]) Column() int { return s.column }

func (s ProximalSegment[ID]) state() *segmentState {
	return &s.view.state.columns[s.column]
}

// SynapseCount returns the size of the potential pool.
func (s ProximalSegment[ID]) SynapseCount() int {
	return len(s.state().bits)
}

// VisitSynapses visits the segment's synapses in input bit order.
func (s ProximalSegment[ID]) VisitSynapses(fn visitor.Func[ProximalSynapse[ID]]) visitor.Result {
	return visitor.Range(0, len(s.state().bits), func(i int) visitor.Result {
		return fn(ProximalSynapse[ID]{segment: s, at: i})
	})
}

// CountSynapsesAboveThreshold counts synapses whose clamped permanence is
// at least threshold.
func (s ProximalSegment[ID]) CountSynapsesAboveThreshold(threshold float64) int {
	n := 0
	for _, p := range s.state().perms {
		if p.IsConnected(threshold) {
			n++
		}
	}
	return n
}

// Overlap counts connected synapses whose input bit is active.
func (s ProximalSegment[ID]) Overlap(threshold float64) int {
	in := s.view.mapping.input
	seg := s.state()
	n := 0
	for i, bit := range seg.bits {
		if !seg.perms[i].IsConnected(threshold) {
			continue
		}
		if b, ok := in.Get(int(bit)); ok && b.IsActive() {
			n++
		}
	}
	return n
}

// BoostedOverlap is Overlap scaled by the segment's boost factor.
func (s ProximalSegment[ID]) BoostedOverlap(threshold float64) float64 {
	return s.state().boost.Boost(float64(s.Overlap(threshold)))
}

// BoostFactor returns the column's boost factor.
func (s ProximalSegment[ID]) BoostFactor() synapse.BoostFactor {
	return s.state().boost
}

// SetBoostFactor stores b.
func (s ProximalSegment[ID]) SetBoostFactor(b synapse.BoostFactor) error {
	if s.view.readOnly {
		return ErrReadOnlyView
	}
	s.state().boost = b
	return nil
}

// IncreaseBoostFactor adds by to the multiplier. On a read-only view the
// unchanged factor is returned with the error.
func (s ProximalSegment[ID]) IncreaseBoostFactor(by float64) (synapse.BoostFactor, error) {
	return s.updateBoost(s.BoostFactor().Increase(by))
}

// DecreaseBoostFactor subtracts by from the multiplier, capped at 1.
func (s ProximalSegment[ID]) DecreaseBoostFactor(by float64) (synapse.BoostFactor, error) {
	return s.updateBoost(s.BoostFactor().Decrease(by))
}

func (s ProximalSegment[ID]) updateBoost(b synapse.BoostFactor) (synapse.BoostFactor, error) {
	if err := s.SetBoostFactor(b); err != nil {
		return s.BoostFactor(), err
	}
	return b, nil
}

// Equal reports whether both segments belong to the same column.
func (s ProximalSegment[ID]) Equal(o ProximalSegment[ID]) bool {
	return s.view.mapping == o.view.mapping && s.column == o.column
}

func (s ProximalSegment[ID]) String() string {
	return fmt.Sprintf("ProximalSegment(column %d, %d synapses)", s.column, s.SynapseCount())
}

// -----------------------------------------------------------------------------
// ProximalSynapse
// -----------------------------------------------------------------------------

// ProximalSynapse is a flyweight for one (column, input bit) connection.
type ProximalSynapse[ID comparable] struct {
	segment ProximalSegment[ID]
	at      int
}

// Segment returns the owning segment.
func (s ProximalSynapse[ID]) Segment() ProximalSegment[ID] { return s.segment }

// BitIndex returns the index of the target input bit.
func (s ProximalSynapse[ID]) BitIndex() int {
	return int(s.segment.state().bits[s.at])
}

// Bit resolves the target input bit.
func (s ProximalSynapse[ID]) Bit() (InputBit[ID], bool) {
	return s.segment.view.mapping.input.Get(s.BitIndex())
}

// ID returns the stable id of the target bit.
func (s ProximalSynapse[ID]) ID() (ID, bool) {
	b, ok := s.Bit()
	if !ok {
		var zero ID
		return zero, false
	}
	return b.ID(), true
}

// Permanence returns the stored permanence.
func (s ProximalSynapse[ID]) Permanence() synapse.Permanence {
	return s.segment.state().perms[s.at]
}

// AdjustPermanence adds amount to the permanence and returns the new value.
func (s ProximalSynapse[ID]) AdjustPermanence(amount float64, temporary bool) (synapse.Permanence, error) {
	if s.segment.view.readOnly {
		return synapse.Zero, ErrReadOnlyView
	}
	perms := s.segment.state().perms
	perms[s.at] = perms[s.at].Add(amount, temporary)
	return perms[s.at], nil
}

// SetPermanence stores p and returns the previous value.
func (s ProximalSynapse[ID]) SetPermanence(p synapse.Permanence) (synapse.Permanence, error) {
	if s.segment.view.readOnly {
		return synapse.Zero, ErrReadOnlyView
	}
	perms := s.segment.state().perms
	old := perms[s.at]
	perms[s.at] = p
	return old, nil
}

// CullTemporaryValues replaces the permanence with its durable part.
func (s ProximalSynapse[ID]) CullTemporaryValues() error {
	p := s.Permanence()
	if !p.IsCompound() {
		return nil
	}
	_, err := s.SetPermanence(p.CullTemporaryValues())
	return err
}

// RetainTemporaryValues collapses the permanence into a simple value.
func (s ProximalSynapse[ID]) RetainTemporaryValues() error {
	p := s.Permanence()
	if !p.IsCompound() {
		return nil
	}
	_, err := s.SetPermanence(p.RetainTemporaryValues())
	return err
}

// Equal compares identity: column and input bit.
func (s ProximalSynapse[ID]) Equal(o ProximalSynapse[ID]) bool {
	return s.segment.Equal(o.segment) && s.BitIndex() == o.BitIndex()
}

func (s ProximalSynapse[ID]) String() string {
	return fmt.Sprintf("ProximalSynapse(column %d -> bit %d)", s.segment.column, s.BitIndex())
}
