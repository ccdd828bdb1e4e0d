// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package checkpoint

import "errors"

var (
	// ErrNotFound indicates no checkpoint with the requested id.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrChecksumMismatch indicates stored bytes that do not hash to the
	// recorded content hash.
	ErrChecksumMismatch = errors.New("checkpoint corrupted: content hash mismatch")

	// ErrSchemaMismatch indicates a checkpoint written by an incompatible
	// schema version.
	ErrSchemaMismatch = errors.New("checkpoint schema version mismatch")

	// ErrInvalidCheckpoint indicates a checkpoint without layer state or
	// with state that does not fit the target.
	ErrInvalidCheckpoint = errors.New("invalid checkpoint")

	// ErrStoreClosed indicates use of a closed store.
	ErrStoreClosed = errors.New("checkpoint store is closed")
)
