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

	"github.com/AleutianAI/AleutianLattice/services/lattice/layer"
	"github.com/AleutianAI/AleutianLattice/services/lattice/synapse"
)

// Builder receives the wiring decisions of a SynapseFactory.
//
// The expected call sequence per column is NewDendrite, zero or more Add,
// then Save. NewDendrite saves a dendrite that is still open.
type Builder[ID comparable] interface {
	NewDendrite(col layer.Column) error
	Add(bit InputBit[ID]) error
	Save() error
}

// segmentBuilder writes saved dendrites straight into a Snapshot.
type segmentBuilder[ID comparable] struct {
	state   *Snapshot
	initial synapse.Permanence

	open    bool
	column  int
	pending []int32
	saved   int
}

func newSegmentBuilder[ID comparable](state *Snapshot, initial synapse.Permanence) *segmentBuilder[ID] {
	return &segmentBuilder[ID]{state: state, initial: initial}
}

// NewDendrite implements Builder.
func (b *segmentBuilder[ID]) NewDendrite(col layer.Column) error {
	if b.open {
		if err := b.Save(); err != nil {
			return err
		}
	}
	idx := col.Index()
	if idx < 0 || idx >= len(b.state.columns) {
		return fmt.Errorf("%w: %d of %d", ErrInvalidColumn, idx, len(b.state.columns))
	}
	b.open = true
	b.column = idx
	b.pending = b.pending[:0]
	return nil
}

// Add implements Builder. Adding the same bit twice has no extra effect.
func (b *segmentBuilder[ID]) Add(bit InputBit[ID]) error {
	if !b.open {
		return ErrNoOpenDendrite
	}
	i := bit.Index()
	if i < 0 || i >= b.state.inputSize {
		return fmt.Errorf("%w: %d of %d", ErrInvalidInputBit, i, b.state.inputSize)
	}
	b.pending = append(b.pending, int32(i))
	return nil
}

// Save implements Builder.
//
// Saving a column that already has a segment merges the new bits into its
// pool. Existing permanences are kept and new bits start at the initial
// permanence.
func (b *segmentBuilder[ID]) Save() error {
	if !b.open {
		return ErrNoOpenDendrite
	}
	slices.Sort(b.pending)
	added := slices.Compact(b.pending)

	seg := &b.state.columns[b.column]
	if !seg.wired {
		seg.wired = true
		seg.boost = synapse.DefaultBoost
	}
	for _, bit := range added {
		at, found := slices.BinarySearch(seg.bits, bit)
		if found {
			continue
		}
		seg.bits = slices.Insert(seg.bits, at, bit)
		seg.perms = slices.Insert(seg.perms, at, b.initial)
	}

	b.open = false
	b.pending = b.pending[:0]
	b.saved++
	return nil
}

// finish saves a dendrite the factory left open.
func (b *segmentBuilder[ID]) finish() error {
	if b.open {
		return b.Save()
	}
	return nil
}
