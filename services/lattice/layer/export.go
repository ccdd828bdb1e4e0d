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
	"time"

	"github.com/AleutianAI/AleutianLattice/services/lattice/bits"
	"github.com/AleutianAI/AleutianLattice/services/lattice/synapse"
	"github.com/AleutianAI/AleutianLattice/services/lattice/visitor"
)

// SnapshotData is the serializable form of a Snapshot.
//
// Permanences are written as their raw sum with temporary components
// retained, so a compound value comes back as a simple one.
type SnapshotData struct {
	Generation      int64         `json:"generation"`
	CreatedAt       time.Time     `json:"created_at"`
	CellCount       int           `json:"cell_count"`
	Shape           Shape         `json:"shape"`
	ActiveCells     []int         `json:"active_cells"`
	PredictiveCells []int         `json:"predictive_cells"`
	Segments        []SegmentData `json:"segments"`
}

// SegmentData holds the stored entries of one distal segment.
type SegmentData struct {
	Cell     int           `json:"cell"`
	Slot     int           `json:"slot"`
	Synapses []SynapseData `json:"synapses"`
}

// SynapseData is one (step, cell-in-column) entry.
type SynapseData struct {
	Step         int     `json:"step"`
	CellInColumn int     `json:"cell_in_column"`
	Permanence   float64 `json:"permanence"`
}

// Export converts s into its serializable form, ordered by segment and
// synapse key.
func (s *Snapshot) Export() SnapshotData {
	d := SnapshotData{
		Generation:      s.generation,
		CreatedAt:       s.createdAt,
		CellCount:       s.shape.CellCount(),
		Shape:           s.shape,
		ActiveCells:     bits.Indices(s.activated),
		PredictiveCells: bits.Indices(s.predictive),
		Segments:        make([]SegmentData, 0, len(s.permanences)),
	}
	s.VisitEntries(visitor.Continue(func(e Entry) {
		n := len(d.Segments)
		if n == 0 || d.Segments[n-1].Cell != int(e.Segment.Cell) || d.Segments[n-1].Slot != int(e.Segment.Slot) {
			d.Segments = append(d.Segments, SegmentData{Cell: int(e.Segment.Cell), Slot: int(e.Segment.Slot)})
			n++
		}
		d.Segments[n-1].Synapses = append(d.Segments[n-1].Synapses, SynapseData{
			Step:         int(e.Synapse.Step),
			CellInColumn: int(e.Synapse.CellInColumn),
			Permanence:   e.Permanence.RetainTemporaryValues().Value(),
		})
	}))
	return d
}

// ImportSnapshot rebuilds a captured Snapshot from exported data.
//
// Description:
//
//	Validates every cell position, slot and cell-in-column against Shape.
//	CellCount must agree with the shape. Steps are checked against the
//	target layer's paths by Layer.Restore. Entries whose clamped value is
//	not above zero are skipped, matching the capture rule.
//
// Outputs:
//
//	*Snapshot - A capture suitable for Layer.Restore.
//	error - ErrInvalidSnapshotData describing the first bad field.
func ImportSnapshot(d SnapshotData) (*Snapshot, error) {
	shape := d.Shape
	if shape.Columns <= 0 || shape.CellsPerColumn <= 0 || shape.DendritesPerCell < 0 {
		return nil, fmt.Errorf("%w: shape %s", ErrInvalidSnapshotData, shape)
	}
	if d.CellCount != shape.CellCount() {
		return nil, fmt.Errorf("%w: cell count %d does not match %s", ErrInvalidSnapshotData, d.CellCount, shape)
	}
	s := newSnapshot(shape)
	s.generation = d.Generation
	if !d.CreatedAt.IsZero() {
		s.createdAt = d.CreatedAt
	}

	for _, pos := range d.ActiveCells {
		if pos < 0 || pos >= d.CellCount {
			return nil, fmt.Errorf("%w: active cell %d out of range", ErrInvalidSnapshotData, pos)
		}
		s.activated.Set(pos)
	}
	for _, pos := range d.PredictiveCells {
		if pos < 0 || pos >= d.CellCount {
			return nil, fmt.Errorf("%w: predictive cell %d out of range", ErrInvalidSnapshotData, pos)
		}
		s.predictive.Set(pos)
	}

	for _, seg := range d.Segments {
		if seg.Cell < 0 || seg.Cell >= d.CellCount || seg.Slot < 0 || seg.Slot >= shape.DendritesPerCell {
			return nil, fmt.Errorf("%w: segment (%d, %d)", ErrInvalidSnapshotData, seg.Cell, seg.Slot)
		}
		key := SegmentKey{Cell: int32(seg.Cell), Slot: int32(seg.Slot)}
		for _, syn := range seg.Synapses {
			if syn.Step < 0 || syn.CellInColumn < 0 || syn.CellInColumn >= shape.CellsPerColumn {
				return nil, fmt.Errorf("%w: synapse (%d, %d) in segment (%d, %d)",
					ErrInvalidSnapshotData, syn.Step, syn.CellInColumn, seg.Cell, seg.Slot)
			}
			p := synapse.NewPermanence(syn.Permanence)
			if p.IsDead() {
				continue
			}
			s.setPermanence(key, SynapseKey{Step: int32(syn.Step), CellInColumn: int32(syn.CellInColumn)}, p)
		}
	}
	return s, nil
}
