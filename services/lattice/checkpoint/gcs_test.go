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

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGCSUploader_MissingBucket(t *testing.T) {
	_, err := NewGCSUploader(context.Background(), "", "prefix", "", quietLogger)
	assert.Error(t, err)
}

func TestNewGCSUploader_MissingKeyFile(t *testing.T) {
	_, err := NewGCSUploader(context.Background(), "bucket", "", "/nonexistent/key.json", quietLogger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "service account key not found")
	assert.Contains(t, err.Error(), "/nonexistent/key.json")
}

func TestObjectNaming(t *testing.T) {
	id := uuid.MustParse("0b7c9a34-5d1e-4f6a-9b2c-3d4e5f6a7b8c")
	meta := Metadata{ID: id, Label: "nightly", Generation: 42, ContentHash: "abc", SchemaVersion: SchemaVersion}

	assert.Equal(t, "lattice/checkpoints/"+id.String()+".json.gz", objectName("lattice/checkpoints", meta))
	assert.Equal(t, id.String()+".json.gz", objectName("", meta))

	md := objectMetadata(meta)
	assert.Equal(t, "42", md["generation"])
	assert.Equal(t, "abc", md["content-sha256"])
	assert.Equal(t, "nightly", md["label"])
	assert.Equal(t, id.String(), md["checkpoint-id"])
}
