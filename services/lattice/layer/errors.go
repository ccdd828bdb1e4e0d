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

import "errors"

var (
	// ErrInvalidConfig indicates a layer configuration that cannot be built.
	ErrInvalidConfig = errors.New("invalid layer config")

	// ErrIncompleteLayout indicates a layout factory that left at least one
	// (cell, slot) pair without a path.
	ErrIncompleteLayout = errors.New("distal layout incomplete")

	// ErrInvalidLayoutSlot indicates a layout sink call outside the layer.
	ErrInvalidLayoutSlot = errors.New("distal layout slot out of range")

	// ErrReadOnlyView indicates a mutation through a view of a captured
	// snapshot or a read pass.
	ErrReadOnlyView = errors.New("unsupported operation: view is read-only")

	// ErrNilSnapshot indicates a nil snapshot passed to Restore.
	ErrNilSnapshot = errors.New("snapshot must not be nil")

	// ErrSnapshotMismatch indicates a snapshot taken from a layer of a
	// different shape.
	ErrSnapshotMismatch = errors.New("snapshot does not match layer shape")

	// ErrInvalidSnapshotData indicates exported data that cannot be
	// imported.
	ErrInvalidSnapshotData = errors.New("invalid snapshot data")

	// ErrInvalidCell indicates a cell or column index outside the layer.
	ErrInvalidCell = errors.New("cell index out of range")

	// ErrNilContext indicates a nil context.
	ErrNilContext = errors.New("context must not be nil")
)
