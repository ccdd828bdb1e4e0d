// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package layer

// OutputState is the derived activation state of a cell.
type OutputState uint8

const (
	Inactive OutputState = iota
	Active
	Predicted
)

// ForState combines the two activation bits. A cell is Predicted only
// when it is both active and predictive.
func ForState(active, predictive bool) OutputState {
	switch {
	case active && predictive:
		return Predicted
	case active:
		return Active
	default:
		return Inactive
	}
}

func (s OutputState) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case Active:
		return "active"
	case Predicted:
		return "predicted"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name for JSON responses.
func (s OutputState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
