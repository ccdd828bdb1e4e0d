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
	"slices"
	"time"

	"github.com/AleutianAI/AleutianLattice/services/lattice/synapse"
)

// segmentState is the stored state of one column's proximal segment.
//
// bits is sorted ascending and perms is parallel to it, so the synapse
// order is input bit order.
type segmentState struct {
	wired bool
	bits  []int32
	perms []synapse.Permanence
	boost synapse.BoostFactor
}

// Snapshot holds the state of every proximal segment: per column a sorted
// set of input bits with their permanences and a boost factor.
//
// Unlike the distal snapshot, entries are not culled when their
// permanence reaches zero. The bit set of a proximal segment is its
// potential pool, and a zero permanence still marks a member of it.
type Snapshot struct {
	generation int64
	createdAt  time.Time
	inputSize  int
	columns    []segmentState
}

func newSnapshot(columns, inputSize int) *Snapshot {
	return &Snapshot{
		createdAt: time.Now(),
		inputSize: inputSize,
		columns:   make([]segmentState, columns),
	}
}

// Generation is the mapping generation at capture time.
func (s *Snapshot) Generation() int64 { return s.generation }

// CreatedAt is the capture time.
func (s *Snapshot) CreatedAt() time.Time { return s.createdAt }

// ColumnCount returns the number of columns covered.
func (s *Snapshot) ColumnCount() int { return len(s.columns) }

// InputSize returns the input width the segments were wired against.
func (s *Snapshot) InputSize() int { return s.inputSize }

// WiredColumns returns the number of columns with a segment.
func (s *Snapshot) WiredColumns() int {
	n := 0
	for i := range s.columns {
		if s.columns[i].wired {
			n++
		}
	}
	return n
}

// EntryCount returns the total number of proximal synapses.
func (s *Snapshot) EntryCount() int {
	n := 0
	for i := range s.columns {
		n += len(s.columns[i].bits)
	}
	return n
}

// Boost returns the boost factor of column, or DefaultBoost when the
// column is not wired.
func (s *Snapshot) Boost(column int) synapse.BoostFactor {
	if column < 0 || column >= len(s.columns) || !s.columns[column].wired {
		return synapse.DefaultBoost
	}
	return s.columns[column].boost
}

// Permanence returns the permanence between column and input bit, or
// synapse.Zero when bit is not in the column's pool.
func (s *Snapshot) Permanence(column, bit int) synapse.Permanence {
	if column < 0 || column >= len(s.columns) {
		return synapse.Zero
	}
	seg := &s.columns[column]
	i, found := slices.BinarySearch(seg.bits, int32(bit))
	if !found {
		return synapse.Zero
	}
	return seg.perms[i]
}

// Clone returns a deep copy.
func (s *Snapshot) Clone() *Snapshot {
	c := &Snapshot{
		generation: s.generation,
		createdAt:  time.Now(),
		inputSize:  s.inputSize,
		columns:    make([]segmentState, len(s.columns)),
	}
	for i := range s.columns {
		src := &s.columns[i]
		c.columns[i] = segmentState{
			wired: src.wired,
			bits:  slices.Clone(src.bits),
			perms: slices.Clone(src.perms),
			boost: src.boost,
		}
	}
	return c
}
