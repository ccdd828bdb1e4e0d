// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package bits provides the activation bit vectors of the lattice.
//
// Activation patterns are usually very sparse, so an Adaptive vector starts
// out as a sorted list of set positions and switches to a packed bitmap once
// the list would cost more memory than the bitmap. The switch is one way:
// a dense vector stays dense until ToSparse is called explicitly.
package bits

import (
	"fmt"
	"slices"

	"github.com/bits-and-blooms/bitset"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/AleutianLattice/services/lattice/visitor"
)

const (
	// CheckInterval is the number of mutating operations between
	// representation checks.
	CheckInterval = 10

	// Hysteresis is the number of bytes by which the sparse form must
	// exceed the dense form before conversion.
	Hysteresis = 10

	// sparseEntryBytes is the cost of one stored position.
	sparseEntryBytes = 4
)

var (
	// densifiedTotal counts sparse-to-dense conversions.
	densifiedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lattice_bits_densified_total",
		Help: "Total adaptive bit vectors converted from sparse to dense",
	})
)

// Bits is a mutable set of integers in [0, Size()).
//
// Mutators panic on an index outside the range, the same way slice indexing
// does. Get returns false for such an index.
//
// Implementations are not safe for concurrent mutation unless stated.
type Bits interface {
	Size() int
	Get(i int) bool
	Set(i int)
	Clear(i int)
	Flip(i int)
	ClearAll()
	Cardinality() int
	IsEmpty() bool

	// Copy returns an independent deep copy.
	Copy() Bits

	// VisitSet calls fn for each set position in ascending order.
	VisitSet(fn visitor.Func[int]) visitor.Result
}

// Adaptive is a Bits that picks its own internal representation.
//
// Thread Safety: Not safe for concurrent use. Wrap with NewSynchronized
// when shared.
type Adaptive struct {
	size   int
	sparse []uint32
	dense  *bitset.BitSet
	ops    int
}

// New creates an empty sparse vector of the given size.
func New(size int) *Adaptive {
	if size < 0 {
		panic(fmt.Sprintf("bits: negative size %d", size))
	}
	return &Adaptive{size: size}
}

// NewDense creates an empty vector that starts in the dense form.
func NewDense(size int) *Adaptive {
	a := New(size)
	a.dense = bitset.New(uint(size))
	return a
}

// FromIndices creates a vector with the given positions set.
//
// Description:
//
//	Builds the vector through Set, so the representation check runs as it
//	would for any other sequence of writes.
//
// Inputs:
//
//	size - Number of addressable positions.
//	indices - Positions to set. Duplicates are harmless.
//
// Outputs:
//
//	*Adaptive - The populated vector.
func FromIndices(size int, indices []int) *Adaptive {
	a := New(size)
	for _, i := range indices {
		a.Set(i)
	}
	return a
}

// Size returns the number of addressable positions.
func (a *Adaptive) Size() int {
	return a.size
}

// IsDense reports whether the packed bitmap form is in use.
func (a *Adaptive) IsDense() bool {
	return a.dense != nil
}

// Get reports whether position i is set.
func (a *Adaptive) Get(i int) bool {
	if i < 0 || i >= a.size {
		return false
	}
	if a.dense != nil {
		return a.dense.Test(uint(i))
	}
	_, found := slices.BinarySearch(a.sparse, uint32(i))
	return found
}

// Set marks position i.
func (a *Adaptive) Set(i int) {
	a.checkIndex(i)
	if a.dense != nil {
		a.dense.Set(uint(i))
	} else {
		pos, found := slices.BinarySearch(a.sparse, uint32(i))
		if !found {
			a.sparse = slices.Insert(a.sparse, pos, uint32(i))
		}
	}
	a.mutated()
}

// Clear unmarks position i.
func (a *Adaptive) Clear(i int) {
	a.checkIndex(i)
	if a.dense != nil {
		a.dense.Clear(uint(i))
	} else {
		pos, found := slices.BinarySearch(a.sparse, uint32(i))
		if found {
			a.sparse = slices.Delete(a.sparse, pos, pos+1)
		}
	}
	a.mutated()
}

// Flip toggles position i.
func (a *Adaptive) Flip(i int) {
	a.checkIndex(i)
	if a.dense != nil {
		a.dense.Flip(uint(i))
	} else {
		pos, found := slices.BinarySearch(a.sparse, uint32(i))
		if found {
			a.sparse = slices.Delete(a.sparse, pos, pos+1)
		} else {
			a.sparse = slices.Insert(a.sparse, pos, uint32(i))
		}
	}
	a.mutated()
}

// ClearAll unmarks every position. The representation is kept.
func (a *Adaptive) ClearAll() {
	if a.dense != nil {
		a.dense.ClearAll()
	} else {
		a.sparse = a.sparse[:0]
	}
	a.mutated()
}

// Cardinality returns the number of set positions.
func (a *Adaptive) Cardinality() int {
	if a.dense != nil {
		return int(a.dense.Count())
	}
	return len(a.sparse)
}

// IsEmpty reports whether no position is set.
func (a *Adaptive) IsEmpty() bool {
	if a.dense != nil {
		return a.dense.None()
	}
	return len(a.sparse) == 0
}

// Copy returns a deep copy in the same representation.
func (a *Adaptive) Copy() Bits {
	return a.clone()
}

func (a *Adaptive) clone() *Adaptive {
	c := &Adaptive{size: a.size, ops: a.ops}
	if a.dense != nil {
		c.dense = a.dense.Clone()
	} else if len(a.sparse) > 0 {
		c.sparse = slices.Clone(a.sparse)
	}
	return c
}

// VisitSet calls fn for each set position in ascending order.
func (a *Adaptive) VisitSet(fn visitor.Func[int]) visitor.Result {
	result := visitor.NoVisits
	if a.dense != nil {
		for i, ok := a.dense.NextSet(0); ok; i, ok = a.dense.NextSet(i + 1) {
			result = fn(int(i))
			if result == visitor.Done {
				return visitor.Done
			}
		}
		return result
	}
	for _, i := range a.sparse {
		result = fn(int(i))
		if result == visitor.Done {
			return visitor.Done
		}
	}
	return result
}

// MemoryCost returns the approximate payload size in bytes of the current
// representation.
func (a *Adaptive) MemoryCost() int {
	if a.dense != nil {
		return denseCost(a.size)
	}
	return sparseEntryBytes * len(a.sparse)
}

// ToDense switches to the packed bitmap form.
func (a *Adaptive) ToDense() {
	if a.dense != nil {
		return
	}
	d := bitset.New(uint(a.size))
	for _, i := range a.sparse {
		d.Set(uint(i))
	}
	a.dense = d
	a.sparse = nil
}

// ToSparse switches to the position list form. It is never triggered
// automatically.
func (a *Adaptive) ToSparse() {
	if a.dense == nil {
		return
	}
	s := make([]uint32, 0, a.dense.Count())
	for i, ok := a.dense.NextSet(0); ok; i, ok = a.dense.NextSet(i + 1) {
		s = append(s, uint32(i))
	}
	a.sparse = s
	a.dense = nil
}

func (a *Adaptive) mutated() {
	a.ops++
	if a.ops < CheckInterval {
		return
	}
	a.ops = 0
	if a.dense == nil && sparseEntryBytes*len(a.sparse) > denseCost(a.size)+Hysteresis {
		a.ToDense()
		densifiedTotal.Inc()
	}
}

func (a *Adaptive) checkIndex(i int) {
	if i < 0 || i >= a.size {
		panic(fmt.Sprintf("bits: index %d out of range [0,%d)", i, a.size))
	}
}

func denseCost(size int) int {
	return (size + 7) / 8
}

// Indices returns the set positions in ascending order.
func Indices(b Bits) []int {
	out := make([]int, 0, b.Cardinality())
	b.VisitSet(visitor.Continue(func(i int) {
		out = append(out, i)
	}))
	return out
}

// Equal reports whether a and b have the same size and set positions,
// regardless of representation.
func Equal(a, b Bits) bool {
	if a.Size() != b.Size() || a.Cardinality() != b.Cardinality() {
		return false
	}
	return a.VisitSet(func(i int) visitor.Result {
		return visitor.Of(!b.Get(i))
	}) != visitor.Done
}

var _ Bits = (*Adaptive)(nil)
