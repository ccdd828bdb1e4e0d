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
	"slices"
	"time"

	"github.com/AleutianAI/AleutianLattice/services/lattice/synapse"
)

// SnapshotData is the serializable form of a proximal Snapshot.
type SnapshotData struct {
	Generation int64        `json:"generation"`
	CreatedAt  time.Time    `json:"created_at"`
	InputSize  int          `json:"input_size"`
	Columns    int          `json:"columns"`
	Segments   []ColumnData `json:"segments"`
}

// ColumnData is the wired pool of one column.
type ColumnData struct {
	Column   int                   `json:"column"`
	Boost    float64               `json:"boost"`
	Synapses []ProximalSynapseData `json:"synapses"`
}

// ProximalSynapseData is one (input bit, permanence) pair.
type ProximalSynapseData struct {
	Bit        int     `json:"bit"`
	Permanence float64 `json:"permanence"`
}

// Export converts s into its serializable form. Unwired columns are
// omitted and permanences are written with temporary values retained.
func (s *Snapshot) Export() SnapshotData {
	d := SnapshotData{
		Generation: s.generation,
		CreatedAt:  s.createdAt,
		InputSize:  s.inputSize,
		Columns:    len(s.columns),
		Segments:   make([]ColumnData, 0, s.WiredColumns()),
	}
	for i := range s.columns {
		seg := &s.columns[i]
		if !seg.wired {
			continue
		}
		cd := ColumnData{
			Column:   i,
			Boost:    seg.boost.Multiplier(),
			Synapses: make([]ProximalSynapseData, len(seg.bits)),
		}
		for j, bit := range seg.bits {
			cd.Synapses[j] = ProximalSynapseData{
				Bit:        int(bit),
				Permanence: seg.perms[j].RetainTemporaryValues().Value(),
			}
		}
		d.Segments = append(d.Segments, cd)
	}
	return d
}

// ImportSnapshot rebuilds a proximal Snapshot from exported data.
//
// Zero permanences are kept, matching the capture rule for proximal pools.
// A bit listed twice for one column is rejected.
func ImportSnapshot(d SnapshotData) (*Snapshot, error) {
	if d.Columns <= 0 || d.InputSize <= 0 {
		return nil, fmt.Errorf("%w: %d columns over %d bits", ErrInvalidSnapshotData, d.Columns, d.InputSize)
	}
	s := newSnapshot(d.Columns, d.InputSize)
	s.generation = d.Generation
	if !d.CreatedAt.IsZero() {
		s.createdAt = d.CreatedAt
	}

	for _, cd := range d.Segments {
		if cd.Column < 0 || cd.Column >= d.Columns {
			return nil, fmt.Errorf("%w: column %d out of range", ErrInvalidSnapshotData, cd.Column)
		}
		seg := &s.columns[cd.Column]
		if seg.wired {
			return nil, fmt.Errorf("%w: column %d listed twice", ErrInvalidSnapshotData, cd.Column)
		}
		seg.wired = true
		seg.boost = synapse.NewBoostFactor(cd.Boost)

		syns := slices.Clone(cd.Synapses)
		slices.SortFunc(syns, func(a, b ProximalSynapseData) int { return a.Bit - b.Bit })
		seg.bits = make([]int32, 0, len(syns))
		seg.perms = make([]synapse.Permanence, 0, len(syns))
		for i, syn := range syns {
			if syn.Bit < 0 || syn.Bit >= d.InputSize {
				return nil, fmt.Errorf("%w: bit %d of column %d out of range", ErrInvalidSnapshotData, syn.Bit, cd.Column)
			}
			if i > 0 && syns[i-1].Bit == syn.Bit {
				return nil, fmt.Errorf("%w: bit %d repeated in column %d", ErrInvalidSnapshotData, syn.Bit, cd.Column)
			}
			seg.bits = append(seg.bits, int32(syn.Bit))
			seg.perms = append(seg.perms, synapse.NewPermanence(syn.Permanence))
		}
	}
	return s, nil
}
