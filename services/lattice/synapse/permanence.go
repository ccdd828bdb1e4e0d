// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package synapse holds the value types attached to potential synapses:
// Permanence and BoostFactor.
//
// Both are small immutable values. Every arithmetic operation returns a new
// value and leaves the receiver untouched, so a value read out of a
// snapshot can never be changed behind the snapshot's back.
package synapse

import (
	"fmt"
	"strconv"
)

// LimitFunction maps a raw permanence sum onto its observable scalar.
type LimitFunction func(float64) float64

// ZeroToOne clamps to [0, 1].
func ZeroToOne(v float64) float64 {
	return min(max(v, 0), 1)
}

// Permanence is a connection strength.
//
// A Permanence is either simple (a single durable value) or compound: the
// previous total, always durable, plus one new component that may be
// temporary. Temporary components can be dropped with CullTemporaryValues
// or made durable with RetainTemporaryValues.
//
// The zero value is Zero.
type Permanence struct {
	base           float64
	delta          float64
	compound       bool
	deltaTemporary bool
}

// Zero is the permanence of an unconnected synapse.
var Zero = Permanence{}

// NewPermanence returns a simple permanence.
func NewPermanence(value float64) Permanence {
	return Permanence{base: value}
}

// Add returns a compound permanence whose durable part is the current total
// and whose second component is amount.
//
// Inputs:
//
//	amount - Value to add; may be negative.
//	temporary - Whether amount may later be culled.
//
// Outputs:
//
//	Permanence - The new value. The receiver is unchanged.
func (p Permanence) Add(amount float64, temporary bool) Permanence {
	return Permanence{
		base:           p.Value(),
		delta:          amount,
		compound:       true,
		deltaTemporary: temporary,
	}
}

// Value returns the unclamped sum of all components.
func (p Permanence) Value() float64 {
	return p.base + p.delta
}

// Scalar returns Value clamped by ZeroToOne.
func (p Permanence) Scalar() float64 {
	return ZeroToOne(p.Value())
}

// Limit returns Value passed through fn.
func (p Permanence) Limit(fn LimitFunction) float64 {
	return fn(p.Value())
}

// IsCompound reports whether p carries a second component.
func (p Permanence) IsCompound() bool {
	return p.compound
}

// HasTemporary reports whether p carries a temporary component.
func (p Permanence) HasTemporary() bool {
	return p.compound && p.deltaTemporary
}

// Durable returns the sum of the non-temporary components.
func (p Permanence) Durable() float64 {
	if p.HasTemporary() {
		return p.base
	}
	return p.Value()
}

// CullTemporaryValues returns a simple permanence equal to the durable
// components only. A simple permanence is returned unchanged.
func (p Permanence) CullTemporaryValues() Permanence {
	if !p.compound {
		return p
	}
	return NewPermanence(p.Durable())
}

// RetainTemporaryValues returns a simple permanence equal to the sum of all
// components.
func (p Permanence) RetainTemporaryValues() Permanence {
	if !p.compound {
		return p
	}
	return NewPermanence(p.Value())
}

// IsConnected reports whether the clamped scalar reaches threshold.
func (p Permanence) IsConnected(threshold float64) bool {
	return p.Scalar() >= threshold
}

// IsDead reports whether the clamped scalar is at or below zero.
func (p Permanence) IsDead() bool {
	return p.Scalar() <= 0
}

func (p Permanence) String() string {
	if !p.compound {
		return strconv.FormatFloat(p.base, 'g', -1, 64)
	}
	tag := ""
	if p.deltaTemporary {
		tag = "~"
	}
	return fmt.Sprintf("%g+%s%g", p.base, tag, p.delta)
}
