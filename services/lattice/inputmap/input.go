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

	"github.com/AleutianAI/AleutianLattice/services/lattice/bits"
	"github.com/AleutianAI/AleutianLattice/services/lattice/visitor"
)

// InputBit is one bit of an external input.
type InputBit[ID comparable] interface {
	IsActive() bool
	ID() ID
	Index() int
}

// Input is the external source feeding proximal dendrites.
type Input[ID comparable] interface {
	// Size returns the number of bits.
	Size() int

	// Get returns the bit at index.
	Get(index int) (InputBit[ID], bool)

	// Lookup returns the bit with the given stable id.
	Lookup(id ID) (InputBit[ID], bool)

	// VisitBits visits every bit in index order.
	VisitBits(fn visitor.Func[InputBit[ID]]) visitor.Result
}

// VectorInput is an Input whose bit ids are their indices.
//
// Thread Safety: Not safe for concurrent mutation. Readers must not run
// while the vector is being rewritten.
type VectorInput struct {
	active bits.Bits
}

// NewVectorInput creates an all-inactive input of the given size.
func NewVectorInput(size int) *VectorInput {
	return &VectorInput{active: bits.New(size)}
}

// Size implements Input.
func (v *VectorInput) Size() int {
	return v.active.Size()
}

// Get implements Input.
func (v *VectorInput) Get(index int) (InputBit[int], bool) {
	if index < 0 || index >= v.active.Size() {
		return nil, false
	}
	return vectorBit{in: v, index: index}, true
}

// Lookup implements Input.
func (v *VectorInput) Lookup(id int) (InputBit[int], bool) {
	return v.Get(id)
}

// VisitBits implements Input.
func (v *VectorInput) VisitBits(fn visitor.Func[InputBit[int]]) visitor.Result {
	return visitor.Range(0, v.active.Size(), func(i int) visitor.Result {
		return fn(vectorBit{in: v, index: i})
	})
}

// Set marks bit i active or inactive.
func (v *VectorInput) Set(i int, on bool) error {
	if i < 0 || i >= v.active.Size() {
		return fmt.Errorf("%w: %d of %d", ErrInvalidInputBit, i, v.active.Size())
	}
	if on {
		v.active.Set(i)
	} else {
		v.active.Clear(i)
	}
	return nil
}

// Assign replaces the active set with the given indices.
func (v *VectorInput) Assign(active []int) error {
	for _, i := range active {
		if i < 0 || i >= v.active.Size() {
			return fmt.Errorf("%w: %d of %d", ErrInvalidInputBit, i, v.active.Size())
		}
	}
	v.active.ClearAll()
	for _, i := range active {
		v.active.Set(i)
	}
	return nil
}

// ActiveCount returns the number of active bits.
func (v *VectorInput) ActiveCount() int {
	return v.active.Cardinality()
}

// IsActive reports bit i.
func (v *VectorInput) IsActive(i int) bool {
	return v.active.Get(i)
}

type vectorBit struct {
	in    *VectorInput
	index int
}

func (b vectorBit) IsActive() bool { return b.in.active.Get(b.index) }
func (b vectorBit) ID() int        { return b.index }
func (b vectorBit) Index() int     { return b.index }

var _ Input[int] = (*VectorInput)(nil)
