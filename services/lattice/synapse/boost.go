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

import "strconv"

// BoostFactor is a per-column input multiplier.
//
// Multipliers at or below 1.0 are kept for later arithmetic but never reduce
// the boosted value. Decrease clamps from above only, so a multiplier may
// reach zero or go negative; such a factor is inert until increased again.
type BoostFactor struct {
	multiplier float64
}

// DefaultBoost is the neutral multiplier 1.0.
var DefaultBoost = BoostFactor{multiplier: 1}

// NewBoostFactor returns a factor with the given multiplier.
func NewBoostFactor(multiplier float64) BoostFactor {
	return BoostFactor{multiplier: multiplier}
}

// Multiplier returns the stored multiplier.
func (b BoostFactor) Multiplier() float64 {
	return b.multiplier
}

// Boost returns x scaled by the multiplier when it exceeds 1.0, otherwise x.
func (b BoostFactor) Boost(x float64) float64 {
	if b.multiplier > 1 {
		return x * b.multiplier
	}
	return x
}

// Increase returns a factor with by added.
func (b BoostFactor) Increase(by float64) BoostFactor {
	return BoostFactor{multiplier: b.multiplier + by}
}

// Decrease returns a factor with by subtracted, capped at 1.0.
func (b BoostFactor) Decrease(by float64) BoostFactor {
	return BoostFactor{multiplier: min(1, b.multiplier-by)}
}

func (b BoostFactor) String() string {
	return strconv.FormatFloat(b.multiplier, 'g', -1, 64)
}
