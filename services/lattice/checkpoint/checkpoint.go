// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package checkpoint frames lattice snapshots for storage and transfer.
//
// A checkpoint is the exported distal snapshot of a layer plus, optionally,
// the exported proximal snapshot of its input mapping. The pair is encoded
// as JSON, gzip-compressed and hashed with SHA-256. Metadata travels
// separately so listings never decompress payloads.
package checkpoint

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianLattice/services/lattice/inputmap"
	"github.com/AleutianAI/AleutianLattice/services/lattice/layer"
)

// SchemaVersion is the payload format version. Version 2 records the
// layer shape.
const SchemaVersion = "2"

// DefaultCompressionLevel is used when a store is opened with level 0.
const DefaultCompressionLevel = gzip.DefaultCompression

// Metadata describes a stored checkpoint.
type Metadata struct {
	ID                uuid.UUID `json:"id"`
	Label             string    `json:"label,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	Generation        int64     `json:"generation"`
	MappingGeneration int64     `json:"mapping_generation,omitempty"`
	Cells             int       `json:"cells"`
	Columns           int       `json:"columns"`
	CellsPerColumn    int       `json:"cells_per_column"`
	DendritesPerCell  int       `json:"dendrites_per_cell"`
	InputSize         int       `json:"input_size,omitempty"`
	ContentHash       string    `json:"content_hash"`
	UncompressedSize  int64     `json:"uncompressed_size"`
	CompressedSize    int64     `json:"compressed_size"`
	SchemaVersion     string    `json:"schema_version"`
}

// Age returns the time since the checkpoint was created.
func (m Metadata) Age() time.Duration {
	return time.Since(m.CreatedAt)
}

// CompressionRatio returns compressed over uncompressed size.
func (m Metadata) CompressionRatio() float64 {
	if m.UncompressedSize == 0 {
		return 0
	}
	return float64(m.CompressedSize) / float64(m.UncompressedSize)
}

// payload is the JSON document inside the gzip stream.
type payload struct {
	Layer   layer.SnapshotData     `json:"layer"`
	Mapping *inputmap.SnapshotData `json:"mapping,omitempty"`
}

// Checkpoint pairs metadata with the decoded snapshots.
type Checkpoint struct {
	Metadata
	Layer   *layer.Snapshot
	Mapping *inputmap.Snapshot
}

// New wraps captured snapshots in a checkpoint with a fresh id. mapping
// may be nil.
func New(label string, l *layer.Snapshot, mapping *inputmap.Snapshot) *Checkpoint {
	cp := &Checkpoint{
		Metadata: Metadata{
			ID:            uuid.New(),
			Label:         label,
			CreatedAt:     time.Now().UTC(),
			SchemaVersion: SchemaVersion,
		},
		Layer:   l,
		Mapping: mapping,
	}
	if l != nil {
		cp.Generation = l.Generation()
		shape := l.Shape()
		cp.Cells = shape.CellCount()
		cp.Columns = shape.Columns
		cp.CellsPerColumn = shape.CellsPerColumn
		cp.DendritesPerCell = shape.DendritesPerCell
	}
	if mapping != nil {
		cp.MappingGeneration = mapping.Generation()
		cp.InputSize = mapping.InputSize()
	}
	return cp
}

// Capture snapshots a layer and, when m is not nil, its input mapping.
func Capture[ID comparable](label string, l *layer.Layer, m *inputmap.Mapping[ID]) (*Checkpoint, error) {
	if l == nil {
		return nil, fmt.Errorf("%w: layer is required", ErrInvalidCheckpoint)
	}
	ls := l.Snapshot()
	var ms *inputmap.Snapshot
	if m != nil {
		var err error
		if ms, err = m.Snapshot(); err != nil {
			return nil, fmt.Errorf("capture input mapping: %w", err)
		}
	}
	return New(label, ls, ms), nil
}

// Apply restores the checkpoint into l and, when both are present, into m.
//
// The layer is restored first. If the mapping restore fails the layer is
// rolled back to its previous state.
func Apply[ID comparable](ctx context.Context, cp *Checkpoint, l *layer.Layer, m *inputmap.Mapping[ID]) error {
	if cp == nil || cp.Layer == nil {
		return fmt.Errorf("%w: no layer state", ErrInvalidCheckpoint)
	}
	prev, err := l.Restore(ctx, cp.Layer)
	if err != nil {
		return fmt.Errorf("restore layer: %w", err)
	}
	if m == nil || cp.Mapping == nil {
		return nil
	}
	if _, err := m.Restore(ctx, cp.Mapping); err != nil {
		if _, rbErr := l.Restore(ctx, prev); rbErr != nil {
			return fmt.Errorf("restore input mapping: %w (layer rollback failed: %v)", err, rbErr)
		}
		return fmt.Errorf("restore input mapping: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Codec
// -----------------------------------------------------------------------------

// countingWriter counts bytes written through it.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// Encode serializes cp and fills in its hash and size fields.
//
// Description:
//
//	The payload is streamed through JSON, gzip and SHA-256 in one pass.
//	The returned bytes are the compressed stream; the content hash covers
//	exactly those bytes.
//
// Inputs:
//
//	cp - The checkpoint. Layer is required.
//	level - gzip level; 0 selects DefaultCompressionLevel.
//
// Outputs:
//
//	[]byte - Compressed payload.
//	error - ErrInvalidCheckpoint or an encoding failure.
func Encode(cp *Checkpoint, level int) ([]byte, error) {
	if cp == nil || cp.Layer == nil {
		return nil, fmt.Errorf("%w: no layer state", ErrInvalidCheckpoint)
	}
	if level == 0 {
		level = DefaultCompressionLevel
	}

	doc := payload{Layer: cp.Layer.Export()}
	if cp.Mapping != nil {
		md := cp.Mapping.Export()
		doc.Mapping = &md
	}

	var buf bytes.Buffer
	hasher := sha256.New()
	gz, err := gzip.NewWriterLevel(io.MultiWriter(&buf, hasher), level)
	if err != nil {
		return nil, fmt.Errorf("create gzip writer: %w", err)
	}
	raw := &countingWriter{w: gz}
	if err := json.NewEncoder(raw).Encode(doc); err != nil {
		return nil, fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("finish gzip stream: %w", err)
	}

	cp.ContentHash = hex.EncodeToString(hasher.Sum(nil))
	cp.UncompressedSize = raw.n
	cp.CompressedSize = int64(buf.Len())
	if cp.SchemaVersion == "" {
		cp.SchemaVersion = SchemaVersion
	}
	return buf.Bytes(), nil
}

// Verify checks data against the content hash in meta.
func Verify(meta Metadata, data []byte) error {
	sum := sha256.Sum256(data)
	if got := hex.EncodeToString(sum[:]); got != meta.ContentHash {
		return fmt.Errorf("%w: checkpoint %s expected %s, got %s", ErrChecksumMismatch, meta.ID, meta.ContentHash, got)
	}
	return nil
}

// Decode verifies and decodes a payload produced by Encode.
func Decode(meta Metadata, data []byte) (*Checkpoint, error) {
	if meta.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrSchemaMismatch, meta.SchemaVersion, SchemaVersion)
	}
	if err := Verify(meta, data); err != nil {
		return nil, err
	}

	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open gzip stream: %w", err)
	}
	defer gz.Close()

	var doc payload
	if err := json.NewDecoder(gz).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}

	cp := &Checkpoint{Metadata: meta}
	if cp.Layer, err = layer.ImportSnapshot(doc.Layer); err != nil {
		return nil, fmt.Errorf("import layer snapshot: %w", err)
	}
	if shape := cp.Layer.Shape(); shape.Columns != meta.Columns ||
		shape.CellsPerColumn != meta.CellsPerColumn || shape.DendritesPerCell != meta.DendritesPerCell {
		return nil, fmt.Errorf("%w: payload is %s, metadata says %d columns x %d cells x %d dendrites",
			ErrInvalidCheckpoint, shape, meta.Columns, meta.CellsPerColumn, meta.DendritesPerCell)
	}
	if doc.Mapping != nil {
		if cp.Mapping, err = inputmap.ImportSnapshot(*doc.Mapping); err != nil {
			return nil, fmt.Errorf("import input mapping snapshot: %w", err)
		}
	}
	return cp, nil
}
