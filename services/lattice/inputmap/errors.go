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

import "errors"

var (
	// ErrNoProximalSegment indicates a column the synapse factory never
	// wired. It is an invalid-argument error and is always wrapped with the
	// column index.
	ErrNoProximalSegment = errors.New("invalid argument: no proximal segment for column")

	// ErrNoOpenDendrite indicates Add or Save without a preceding
	// NewDendrite.
	ErrNoOpenDendrite = errors.New("no open dendrite: call NewDendrite first")

	// ErrInvalidInputBit indicates a bit outside the input.
	ErrInvalidInputBit = errors.New("input bit out of range")

	// ErrInvalidColumn indicates a column outside the layer.
	ErrInvalidColumn = errors.New("column out of range")

	// ErrInvalidConfig indicates a mapping configuration that cannot be
	// built.
	ErrInvalidConfig = errors.New("invalid input mapping config")

	// ErrReadOnlyView indicates a mutation through a captured snapshot.
	ErrReadOnlyView = errors.New("unsupported operation: view is read-only")

	// ErrNilContext indicates a nil context passed to Mutate or Restore.
	ErrNilContext = errors.New("context must not be nil")

	// ErrNilSnapshot indicates a nil snapshot passed to Restore.
	ErrNilSnapshot = errors.New("snapshot must not be nil")

	// ErrSnapshotMismatch indicates a snapshot from a mapping of a
	// different shape.
	ErrSnapshotMismatch = errors.New("snapshot does not match input mapping shape")

	// ErrInvalidSnapshotData indicates exported data that cannot be
	// imported.
	ErrInvalidSnapshotData = errors.New("invalid proximal snapshot data")
)
