// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package topology

import "errors"

var (
	// ErrInvalidExtents indicates a grid with a non-positive dimension.
	ErrInvalidExtents = errors.New("topology extents must be positive")

	// ErrUnknownEdgeRule indicates an unrecognised edge rule name.
	ErrUnknownEdgeRule = errors.New("unknown edge rule")

	// ErrUnknownDirection indicates an unrecognised direction name.
	ErrUnknownDirection = errors.New("unknown direction")

	// ErrShortPath indicates a random walk that ran out of moves before
	// reaching the requested length.
	ErrShortPath = errors.New("random walk shorter than requested")
)
