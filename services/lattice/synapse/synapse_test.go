// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package synapse

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPermanence_ZeroValue(t *testing.T) {
	var p Permanence
	assert.Equal(t, Zero, p)
	assert.Equal(t, 0.0, p.Scalar())
	assert.False(t, p.IsCompound())
	assert.True(t, p.IsDead())
}

func TestPermanence_AddIsImmutable(t *testing.T) {
	p := NewPermanence(0.4)
	q := p.Add(0.1, false)

	assert.InDelta(t, 0.4, p.Value(), 1e-12)
	assert.InDelta(t, 0.5, q.Value(), 1e-12)
	assert.False(t, p.IsCompound())
	assert.True(t, q.IsCompound())
}

func TestPermanence_CullRetainDuality(t *testing.T) {
	p := NewPermanence(0.2).Add(0.3, true)

	assert.InDelta(t, 0.2, p.CullTemporaryValues().Value(), 1e-12)
	assert.InDelta(t, 0.5, p.RetainTemporaryValues().Value(), 1e-12)
	assert.False(t, p.CullTemporaryValues().IsCompound())
	assert.False(t, p.RetainTemporaryValues().IsCompound())
	assert.True(t, p.HasTemporary())
}

func TestPermanence_PreviousTotalBecomesDurable(t *testing.T) {
	p := NewPermanence(0.1).Add(0.2, true).Add(0.3, true)

	assert.InDelta(t, 0.3, p.CullTemporaryValues().Value(), 1e-12)
	assert.InDelta(t, 0.6, p.RetainTemporaryValues().Value(), 1e-12)
}

func TestPermanence_SimpleCullRetainUnchanged(t *testing.T) {
	p := NewPermanence(0.7)
	assert.Equal(t, p, p.CullTemporaryValues())
	assert.Equal(t, p, p.RetainTemporaryValues())

	durable := NewPermanence(0.2).Add(0.3, false)
	assert.InDelta(t, 0.5, durable.CullTemporaryValues().Value(), 1e-12)
}

func TestPermanence_ScalarAlwaysClamped(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 42))
	p := Zero
	for i := 0; i < 500; i++ {
		p = p.Add(rng.Float64()*4-2, rng.IntN(2) == 0)
		s := p.Scalar()
		assert.GreaterOrEqual(t, s, 0.0)
		assert.LessOrEqual(t, s, 1.0)
	}

	assert.Equal(t, 1.0, NewPermanence(3).Scalar())
	assert.Equal(t, 0.0, NewPermanence(-3).Scalar())
	assert.Equal(t, 3.0, NewPermanence(3).Value())
}

func TestPermanence_ScenarioC(t *testing.T) {
	p := Zero
	for i := 1; i <= 3; i++ {
		p = p.Add(0.25, false)
		assert.InDelta(t, 0.25*float64(i), p.Scalar(), 1e-12)
	}
	assert.InDelta(t, 0.75, p.Scalar(), 1e-12)
}

func TestPermanence_Limit(t *testing.T) {
	p := NewPermanence(0.8)
	half := func(v float64) float64 { return v / 2 }
	assert.InDelta(t, 0.4, p.Limit(half), 1e-12)
	assert.True(t, p.IsConnected(0.8))
	assert.False(t, p.IsConnected(0.81))
}

func TestBoostFactor(t *testing.T) {
	tests := []struct {
		name       string
		factor     BoostFactor
		input      float64
		wantBoost  float64
		multiplier float64
	}{
		{"default is neutral", DefaultBoost, 3, 3, 1},
		{"above one scales", NewBoostFactor(1.5), 4, 6, 1.5},
		{"below one never reduces", NewBoostFactor(0.5), 4, 4, 0.5},
		{"increase", DefaultBoost.Increase(1), 2, 4, 2},
		{"decrease clamps to one", NewBoostFactor(3).Decrease(0.5), 2, 2, 1},
		{"decrease below one", NewBoostFactor(1).Decrease(0.25), 2, 2, 0.75},
		{"decrease can go negative", NewBoostFactor(0.5).Decrease(2), 2, 2, -1.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.wantBoost, tt.factor.Boost(tt.input), 1e-12)
			assert.InDelta(t, tt.multiplier, tt.factor.Multiplier(), 1e-12)
		})
	}
}
