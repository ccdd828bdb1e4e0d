// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/AleutianAI/AleutianLattice/services/lattice/inputmap"
)

// Source writes the input vector for a cycle.
type Source interface {
	Next(ctx context.Context, cycle int64, in *inputmap.VectorInput) error
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, cycle int64, in *inputmap.VectorInput) error

// Next implements Source.
func (f SourceFunc) Next(ctx context.Context, cycle int64, in *inputmap.VectorInput) error {
	return f(ctx, cycle, in)
}

// RandomSource activates round(Density*size) distinct bits per cycle, at
// least one.
//
// Thread Safety: Not safe for concurrent use; the engine calls it from
// one goroutine.
type RandomSource struct {
	rng     *rand.Rand
	density float64
	scratch []int
}

// NewRandomSource validates density and seeds a PCG generator.
func NewRandomSource(seed uint64, density float64) (*RandomSource, error) {
	if density <= 0 || density > 1 {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidDensity, density)
	}
	return &RandomSource{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)), density: density}, nil
}

// Next implements Source with a partial Fisher-Yates draw.
func (s *RandomSource) Next(_ context.Context, _ int64, in *inputmap.VectorInput) error {
	size := in.Size()
	if size == 0 {
		return nil
	}
	want := max(1, int(s.density*float64(size)+0.5))
	want = min(want, size)

	if len(s.scratch) != size {
		s.scratch = make([]int, size)
	}
	for i := range s.scratch {
		s.scratch[i] = i
	}
	for i := 0; i < want; i++ {
		j := i + s.rng.IntN(size-i)
		s.scratch[i], s.scratch[j] = s.scratch[j], s.scratch[i]
	}
	return in.Assign(s.scratch[:want])
}

// SequenceSource replays fixed patterns, one per cycle, wrapping around.
type SequenceSource struct {
	Patterns [][]int
}

// Next implements Source. An empty sequence clears the input.
func (s SequenceSource) Next(_ context.Context, cycle int64, in *inputmap.VectorInput) error {
	if len(s.Patterns) == 0 {
		return in.Assign(nil)
	}
	return in.Assign(s.Patterns[int(cycle%int64(len(s.Patterns)))])
}
