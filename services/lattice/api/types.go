// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"github.com/AleutianAI/AleutianLattice/services/lattice/checkpoint"
	"github.com/AleutianAI/AleutianLattice/services/lattice/engine"
	"github.com/AleutianAI/AleutianLattice/services/lattice/layer"
	"github.com/AleutianAI/AleutianLattice/services/lattice/topology"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is a stable machine-readable error code.
	Code string `json:"code,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Columns int    `json:"columns"`
	Cells   int    `json:"cells"`
}

// LayerStats summarizes the live layer state.
type LayerStats struct {
	Generation        int64 `json:"generation"`
	Columns           int   `json:"columns"`
	Cells             int   `json:"cells"`
	DendritesPerCell  int   `json:"dendrites_per_cell"`
	ActiveCells       int   `json:"active_cells"`
	PredictiveCells   int   `json:"predictive_cells"`
	ActivatedColumns  int   `json:"activated_columns"`
	PermanenceEntries int   `json:"permanence_entries"`
}

// MappingStats summarizes the proximal wiring.
type MappingStats struct {
	Generation   int64 `json:"generation"`
	InputSize    int   `json:"input_size"`
	WiredColumns int   `json:"wired_columns"`
	Synapses     int   `json:"synapses"`
}

// StatsResponse is returned by GET /stats.
type StatsResponse struct {
	Layer     LayerStats         `json:"layer"`
	Mapping   MappingStats       `json:"mapping"`
	Cycle     int64              `json:"cycle"`
	Running   bool               `json:"running"`
	LastCycle *engine.CycleStats `json:"last_cycle,omitempty"`
}

// CellSummary is a cell inside a column response.
type CellSummary struct {
	Position      int               `json:"position"`
	IndexInColumn int               `json:"index_in_column"`
	State         layer.OutputState `json:"state"`
}

// ProximalSynapseJSON is one proximal synapse.
type ProximalSynapseJSON struct {
	Bit        int     `json:"bit"`
	Active     bool    `json:"active"`
	Permanence float64 `json:"permanence"`
	Connected  bool    `json:"connected"`
}

// ProximalSummary describes a column's proximal segment.
type ProximalSummary struct {
	Synapses       int                   `json:"synapses"`
	Connected      int                   `json:"connected"`
	Overlap        int                   `json:"overlap"`
	BoostedOverlap float64               `json:"boosted_overlap"`
	Boost          float64               `json:"boost"`
	Bits           []ProximalSynapseJSON `json:"bits,omitempty"`
}

// ColumnResponse is returned by GET /columns/:index.
type ColumnResponse struct {
	Index      int                   `json:"index"`
	Coordinate topology.Coordinate2D `json:"coordinate"`
	Activated  bool                  `json:"activated"`
	Predictive bool                  `json:"predictive"`
	Cells      []CellSummary         `json:"cells"`
	Proximal   *ProximalSummary      `json:"proximal,omitempty"`
}

// SegmentSummary is one distal segment inside a cell response.
type SegmentSummary struct {
	Slot            int    `json:"slot"`
	Path            string `json:"path"`
	Synapses        int    `json:"synapses"`
	AboveThreshold  int    `json:"above_threshold"`
	ActiveConnected int    `json:"active_connected"`
}

// CellResponse is returned by GET /cells/:pos.
type CellResponse struct {
	Position      int               `json:"position"`
	Column        int               `json:"column"`
	IndexInColumn int               `json:"index_in_column"`
	State         layer.OutputState `json:"state"`
	Segments      []SegmentSummary  `json:"segments"`
}

// DistalSynapseJSON is one potential distal synapse.
type DistalSynapseJSON struct {
	Step        int               `json:"step"`
	Target      int               `json:"target"`
	TargetState layer.OutputState `json:"target_state"`
	Permanence  float64           `json:"permanence"`
}

// SegmentResponse is returned by GET /cells/:pos/segments/:slot.
type SegmentResponse struct {
	Cell     int                     `json:"cell"`
	Slot     int                     `json:"slot"`
	Path     string                  `json:"path"`
	Columns  []topology.Coordinate2D `json:"columns"`
	Synapses []DistalSynapseJSON     `json:"synapses"`
}

// CycleRequest is the body of POST /cycles.
type CycleRequest struct {
	Count int `json:"count" binding:"omitempty,min=1,max=10000"`
}

// CycleResponse is returned by POST /cycles.
type CycleResponse struct {
	Cycles []engine.CycleStats `json:"cycles"`
}

// CheckpointRequest is the body of POST /checkpoints.
type CheckpointRequest struct {
	Label string `json:"label" binding:"max=128"`
}

// CheckpointListResponse is returned by GET /checkpoints.
type CheckpointListResponse struct {
	Checkpoints []checkpoint.Metadata `json:"checkpoints"`
}

// RestoreResponse is returned by POST /checkpoints/:id/restore.
type RestoreResponse struct {
	Restored   checkpoint.Metadata `json:"restored"`
	Generation int64               `json:"generation"`
}
