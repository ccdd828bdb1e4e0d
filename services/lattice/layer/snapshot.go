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
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/AleutianAI/AleutianLattice/services/lattice/bits"
	"github.com/AleutianAI/AleutianLattice/services/lattice/synapse"
	"github.com/AleutianAI/AleutianLattice/services/lattice/visitor"
)

// SegmentKey identifies a distal segment by its owning cell and slot.
type SegmentKey struct {
	Cell int32
	Slot int32
}

// SynapseKey identifies a distal synapse within its segment by the path
// step that reached the target column and the target's index in that
// column.
type SynapseKey struct {
	Step         int32
	CellInColumn int32
}

// Shape is the addressing geometry of a layer. Snapshots carry it so a
// capture is only ever restored into a layer it can address.
type Shape struct {
	Columns          int `json:"columns"`
	CellsPerColumn   int `json:"cells_per_column"`
	DendritesPerCell int `json:"dendrites_per_cell"`
}

// CellCount returns Columns*CellsPerColumn.
func (s Shape) CellCount() int { return s.Columns * s.CellsPerColumn }

func (s Shape) String() string {
	return fmt.Sprintf("%d columns x %d cells x %d dendrites", s.Columns, s.CellsPerColumn, s.DendritesPerCell)
}

// Snapshot holds all mutable state of a layer.
//
// Description:
//
//	Two bit vectors of length columnCount*cellsPerColumn (active and
//	predictive cells) and a sparse permanence table per distal segment.
//	A missing permanence entry reads as synapse.Zero.
//
//	The layer owns exactly one live Snapshot and mutates it in place.
//	Every other Snapshot is a capture: nothing in this package mutates it,
//	and views bound to it are read-only.
//
// Thread Safety: A captured Snapshot is safe for concurrent reads. The live
// Snapshot follows the layer's locking rules.
type Snapshot struct {
	generation  int64
	createdAt   time.Time
	shape       Shape
	activated   bits.Bits
	predictive  bits.Bits
	permanences map[SegmentKey]map[SynapseKey]synapse.Permanence
}

func newSnapshot(shape Shape) *Snapshot {
	cellCount := shape.CellCount()
	return &Snapshot{
		createdAt:   time.Now(),
		shape:       shape,
		activated:   bits.New(cellCount),
		predictive:  bits.New(cellCount),
		permanences: make(map[SegmentKey]map[SynapseKey]synapse.Permanence),
	}
}

// Generation is the layer generation at capture time.
func (s *Snapshot) Generation() int64 {
	return s.generation
}

// CreatedAt is the capture time.
func (s *Snapshot) CreatedAt() time.Time {
	return s.createdAt
}

// Shape returns the geometry of the layer the snapshot belongs to.
func (s *Snapshot) Shape() Shape {
	return s.shape
}

// CellCount returns the length of both activation vectors.
func (s *Snapshot) CellCount() int {
	return s.shape.CellCount()
}

// IsActive reports the active bit of cell pos.
func (s *Snapshot) IsActive(pos int) bool {
	return s.activated.Get(pos)
}

// IsPredictive reports the raw predictive bit of cell pos.
func (s *Snapshot) IsPredictive(pos int) bool {
	return s.predictive.Get(pos)
}

// ActiveCellCount returns the number of active cells.
func (s *Snapshot) ActiveCellCount() int {
	return s.activated.Cardinality()
}

// PredictiveCellCount returns the number of cells with the predictive bit.
func (s *Snapshot) PredictiveCellCount() int {
	return s.predictive.Cardinality()
}

// VisitActiveCells visits active cell positions in ascending order.
func (s *Snapshot) VisitActiveCells(fn visitor.Func[int]) visitor.Result {
	return s.activated.VisitSet(fn)
}

// SegmentCount returns the number of segments holding at least one entry.
func (s *Snapshot) SegmentCount() int {
	return len(s.permanences)
}

// EntryCount returns the number of stored permanence entries.
func (s *Snapshot) EntryCount() int {
	n := 0
	for _, table := range s.permanences {
		n += len(table)
	}
	return n
}

// Permanences returns a read view of one segment's table.
func (s *Snapshot) Permanences(key SegmentKey) Permanences {
	return Permanences{table: s.permanences[key]}
}

// Entry is one stored distal permanence.
type Entry struct {
	Segment    SegmentKey
	Synapse    SynapseKey
	Permanence synapse.Permanence
}

// VisitEntries visits stored entries ordered by segment and then synapse.
//
// The ordering requires collecting and sorting keys, so this is meant for
// export and inspection rather than per-cycle work.
func (s *Snapshot) VisitEntries(fn visitor.Func[Entry]) visitor.Result {
	segs := make([]SegmentKey, 0, len(s.permanences))
	for k := range s.permanences {
		segs = append(segs, k)
	}
	slices.SortFunc(segs, compareSegmentKeys)

	result := visitor.NoVisits
	for _, seg := range segs {
		table := s.permanences[seg]
		syns := make([]SynapseKey, 0, len(table))
		for k := range table {
			syns = append(syns, k)
		}
		slices.SortFunc(syns, compareSynapseKeys)
		for _, syn := range syns {
			result = fn(Entry{Segment: seg, Synapse: syn, Permanence: table[syn]})
			if result == visitor.Done {
				return visitor.Done
			}
		}
	}
	return result
}

// Clone returns a deep copy.
//
// Description:
//
//	Copies both bit vectors and every permanence entry whose clamped
//	scalar is above zero. Dead entries, and tables left empty by dropping
//	them, are not copied, so the copy's size tracks live connections only.
//
// Outputs:
//
//	*Snapshot - The copy. It shares no memory with s.
func (s *Snapshot) Clone() *Snapshot {
	c, _ := s.cloneCounting()
	return c
}

func (s *Snapshot) cloneCounting() (*Snapshot, int) {
	c := &Snapshot{
		generation:  s.generation,
		createdAt:   time.Now(),
		shape:       s.shape,
		activated:   s.activated.Copy(),
		predictive:  s.predictive.Copy(),
		permanences: make(map[SegmentKey]map[SynapseKey]synapse.Permanence, len(s.permanences)),
	}
	culled := 0
	for seg, table := range s.permanences {
		var copied map[SynapseKey]synapse.Permanence
		for syn, p := range table {
			if p.IsDead() {
				culled++
				continue
			}
			if copied == nil {
				copied = make(map[SynapseKey]synapse.Permanence, len(table))
			}
			copied[syn] = p
		}
		if copied != nil {
			c.permanences[seg] = copied
		}
	}
	return c, culled
}

func (s *Snapshot) setActive(pos int, on bool) {
	if on {
		s.activated.Set(pos)
	} else {
		s.activated.Clear(pos)
	}
}

func (s *Snapshot) setPredictive(pos int, on bool) {
	if on {
		s.predictive.Set(pos)
	} else {
		s.predictive.Clear(pos)
	}
}

func (s *Snapshot) permanence(seg SegmentKey, syn SynapseKey) synapse.Permanence {
	return s.permanences[seg][syn]
}

// setPermanence stores p and returns the previous value.
func (s *Snapshot) setPermanence(seg SegmentKey, syn SynapseKey, p synapse.Permanence) synapse.Permanence {
	table, ok := s.permanences[seg]
	if !ok {
		table = make(map[SynapseKey]synapse.Permanence)
		s.permanences[seg] = table
	}
	old := table[syn]
	table[syn] = p
	return old
}

// updatePermanence adds amount to the stored value, starting from Zero,
// and returns the new value.
func (s *Snapshot) updatePermanence(seg SegmentKey, syn SynapseKey, amount float64, temporary bool) synapse.Permanence {
	p := s.permanence(seg, syn).Add(amount, temporary)
	s.setPermanence(seg, syn, p)
	return p
}

// Permanences is a read view of one segment's permanence table.
type Permanences struct {
	table map[SynapseKey]synapse.Permanence
}

// Get returns the permanence of the synapse reached at step whose target
// has index cellInColumn, or synapse.Zero when no entry exists.
func (p Permanences) Get(step, cellInColumn int) synapse.Permanence {
	return p.table[SynapseKey{Step: int32(step), CellInColumn: int32(cellInColumn)}]
}

// Has reports whether an entry is stored.
func (p Permanences) Has(step, cellInColumn int) bool {
	_, ok := p.table[SynapseKey{Step: int32(step), CellInColumn: int32(cellInColumn)}]
	return ok
}

// Len returns the number of stored entries.
func (p Permanences) Len() int {
	return len(p.table)
}

func compareSegmentKeys(a, b SegmentKey) int {
	return cmp.Or(cmp.Compare(a.Cell, b.Cell), cmp.Compare(a.Slot, b.Slot))
}

func compareSynapseKeys(a, b SynapseKey) int {
	return cmp.Or(cmp.Compare(a.Step, b.Step), cmp.Compare(a.CellInColumn, b.CellInColumn))
}
