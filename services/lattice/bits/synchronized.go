// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bits

import (
	"sync"

	"github.com/AleutianAI/AleutianLattice/services/lattice/visitor"
)

// Synchronized serializes every operation on a wrapped Bits.
//
// Thread Safety: Safe for concurrent use. Each call is atomic on its own;
// a read followed by a write is not. VisitSet holds the lock for the whole
// traversal, so the callback must not call back into the same vector.
type Synchronized struct {
	mu    sync.Mutex
	inner Bits
}

// NewSynchronized wraps inner. The caller must stop using inner directly.
func NewSynchronized(inner Bits) *Synchronized {
	return &Synchronized{inner: inner}
}

func (s *Synchronized) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Size()
}

func (s *Synchronized) Get(i int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Get(i)
}

func (s *Synchronized) Set(i int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inner.Set(i)
}

func (s *Synchronized) Clear(i int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inner.Clear(i)
}

func (s *Synchronized) Flip(i int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inner.Flip(i)
}

func (s *Synchronized) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inner.ClearAll()
}

func (s *Synchronized) Cardinality() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Cardinality()
}

func (s *Synchronized) IsEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.IsEmpty()
}

// Copy returns a synchronized deep copy.
func (s *Synchronized) Copy() Bits {
	s.mu.Lock()
	defer s.mu.Unlock()
	return NewSynchronized(s.inner.Copy())
}

func (s *Synchronized) VisitSet(fn visitor.Func[int]) visitor.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.VisitSet(fn)
}

var _ Bits = (*Synchronized)(nil)
