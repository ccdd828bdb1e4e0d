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
	"math/rand/v2"

	"github.com/AleutianAI/AleutianLattice/services/lattice/layer"
	"github.com/AleutianAI/AleutianLattice/services/lattice/visitor"
)

// SynapseFactory decides which input bits feed each column.
//
// Connect is called exactly once per Mapping and should open, fill and
// save one dendrite for every column of l.
type SynapseFactory[ID comparable] interface {
	Connect(l *layer.Layer, b Builder[ID], in Input[ID]) error
}

// RandomSynapseFactory wires each column to SynapsesPerDendrite distinct
// random input bits.
//
// Bits are drawn without replacement from a shared pool. When the pool
// runs out it is refilled with every bit, so coverage of the input stays
// even across columns. A column never receives more bits than the input
// has.
type RandomSynapseFactory[ID comparable] struct {
	Rng                 *rand.Rand
	SynapsesPerDendrite int
}

// Connect implements SynapseFactory.
func (f *RandomSynapseFactory[ID]) Connect(l *layer.Layer, b Builder[ID], in Input[ID]) error {
	if f.Rng == nil {
		return fmt.Errorf("%w: random synapse factory needs a generator", ErrInvalidConfig)
	}
	if f.SynapsesPerDendrite < 0 {
		return fmt.Errorf("%w: synapses per dendrite must not be negative, got %d", ErrInvalidConfig, f.SynapsesPerDendrite)
	}
	size := in.Size()
	want := min(f.SynapsesPerDendrite, size)

	pool := newBitPool(size)

	var err error
	l.Live().VisitColumns(func(col layer.Column) visitor.Result {
		if err = b.NewDendrite(col); err != nil {
			return visitor.Done
		}
		for _, idx := range pool.take(f.Rng, want) {
			bit, ok := in.Get(idx)
			if !ok {
				err = fmt.Errorf("%w: %d", ErrInvalidInputBit, idx)
				return visitor.Done
			}
			if err = b.Add(bit); err != nil {
				return visitor.Done
			}
		}
		if err = b.Save(); err != nil {
			return visitor.Done
		}
		return visitor.NotDone
	})
	return err
}

// bitPool deals input bit indices without replacement and refills itself
// with every index once empty. free never holds an index twice.
type bitPool struct {
	size   int
	free   []int
	picked map[int]struct{}
}

func newBitPool(size int) *bitPool {
	return &bitPool{size: size, free: make([]int, 0, size), picked: make(map[int]struct{})}
}

// take draws want distinct indices. Indices drawn again within the same
// call go back to the pool. want must not exceed size.
func (p *bitPool) take(rng *rand.Rand, want int) []int {
	clear(p.picked)
	out := make([]int, 0, want)
	var skipped []int
	for len(out) < want {
		if len(p.free) == 0 {
			// picked indices were all removed from free, so skipped is
			// empty here and the refill cannot run out before want
			for i := 0; i < p.size; i++ {
				p.free = append(p.free, i)
			}
		}
		j := rng.IntN(len(p.free))
		idx := p.free[j]
		p.free[j] = p.free[len(p.free)-1]
		p.free = p.free[:len(p.free)-1]

		if _, dup := p.picked[idx]; dup {
			skipped = append(skipped, idx)
			continue
		}
		p.picked[idx] = struct{}{}
		out = append(out, idx)
	}
	p.free = append(p.free, skipped...)
	return out
}

// ExplicitSynapseFactory wires each column to a fixed list of bit indices.
// Columns missing from Pools are left unwired.
type ExplicitSynapseFactory[ID comparable] struct {
	Pools map[int][]int
}

// Connect implements SynapseFactory.
func (f ExplicitSynapseFactory[ID]) Connect(l *layer.Layer, b Builder[ID], in Input[ID]) error {
	var err error
	l.Live().VisitColumns(func(col layer.Column) visitor.Result {
		pool, ok := f.Pools[col.Index()]
		if !ok {
			return visitor.NotDone
		}
		if err = b.NewDendrite(col); err != nil {
			return visitor.Done
		}
		for _, idx := range pool {
			bit, ok := in.Get(idx)
			if !ok {
				err = fmt.Errorf("%w: %d", ErrInvalidInputBit, idx)
				return visitor.Done
			}
			if err = b.Add(bit); err != nil {
				return visitor.Done
			}
		}
		if err = b.Save(); err != nil {
			return visitor.Done
		}
		return visitor.NotDone
	})
	return err
}
