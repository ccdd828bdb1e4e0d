// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api serves a read-mostly HTTP view of a running lattice.
//
// Every read handler takes the owning structure's read lock for the
// duration of the request, so responses describe one consistent state.
// Cycles, checkpoint capture and restore are serialized with the engine.
package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianLattice/services/lattice/checkpoint"
	"github.com/AleutianAI/AleutianLattice/services/lattice/engine"
	"github.com/AleutianAI/AleutianLattice/services/lattice/inputmap"
	"github.com/AleutianAI/AleutianLattice/services/lattice/layer"
	"github.com/AleutianAI/AleutianLattice/services/lattice/topology"
	"github.com/AleutianAI/AleutianLattice/services/lattice/visitor"
)

// ServiceVersion is reported by the health endpoint.
const ServiceVersion = "0.1.0"

// Config wires Handlers. Engine, Stream and Store are optional; their
// endpoints answer 503 without them. Stream must be one of the engine's
// sinks.
type Config struct {
	Layer              *layer.Layer
	Mapping            *inputmap.Mapping[int]
	Engine             *engine.Engine
	Stream             *engine.BroadcastSink
	Store              *checkpoint.Store
	ConnectedThreshold float64
	Logger             *slog.Logger
}

// Handlers holds the HTTP handlers.
type Handlers struct {
	layer     *layer.Layer
	mapping   *inputmap.Mapping[int]
	engine    *engine.Engine
	stream    *engine.BroadcastSink
	store     *checkpoint.Store
	threshold float64
	logger    *slog.Logger
}

// NewHandlers validates cfg.
func NewHandlers(cfg Config) (*Handlers, error) {
	if cfg.Layer == nil || cfg.Mapping == nil {
		return nil, errors.New("api: layer and mapping are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handlers{
		layer:     cfg.Layer,
		mapping:   cfg.Mapping,
		engine:    cfg.Engine,
		stream:    cfg.Stream,
		store:     cfg.Store,
		threshold: cfg.ConnectedThreshold,
		logger:    cfg.Logger.With(slog.String("component", "lattice.api")),
	}, nil
}

func abort(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: msg, Code: code})
}

func (h *Handlers) internal(c *gin.Context, code string, err error) {
	h.logger.Error("request failed",
		slog.String("path", c.FullPath()),
		slog.String("code", code),
		slog.String("error", err.Error()),
	)
	abort(c, http.StatusInternalServerError, code, err.Error())
}

func intParam(c *gin.Context, name string) (int, bool) {
	v, err := strconv.Atoi(c.Param(name))
	if err != nil {
		abort(c, http.StatusBadRequest, "INVALID_"+name, fmt.Sprintf("%s must be an integer", name))
		return 0, false
	}
	return v, true
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: ServiceVersion,
		Columns: h.layer.ColumnCount(),
		Cells:   h.layer.CellCount(),
	})
}

// HandleStats handles GET /stats.
//
// Response:
//
//	200 OK: StatsResponse
//	500 Internal Server Error: proximal wiring could not be built
func (h *Handlers) HandleStats(c *gin.Context) {
	var resp StatsResponse
	_ = h.layer.Read(func(v layer.View) error {
		st := v.State()
		resp.Layer = LayerStats{
			Generation:        h.layer.Generation(),
			Columns:           h.layer.ColumnCount(),
			Cells:             h.layer.CellCount(),
			DendritesPerCell:  h.layer.DendritesPerCell(),
			ActiveCells:       st.ActiveCellCount(),
			PredictiveCells:   st.PredictiveCellCount(),
			ActivatedColumns:  v.ActivatedColumnCount(),
			PermanenceEntries: st.EntryCount(),
		}
		return nil
	})
	err := h.mapping.Read(func(v inputmap.View[int]) error {
		st := v.State()
		resp.Mapping = MappingStats{
			Generation:   h.mapping.Generation(),
			InputSize:    st.InputSize(),
			WiredColumns: st.WiredColumns(),
			Synapses:     st.EntryCount(),
		}
		return nil
	})
	if err != nil {
		h.internal(c, "MAPPING_UNAVAILABLE", err)
		return
	}
	if h.engine != nil {
		resp.Cycle = h.engine.Cycle()
		resp.Running = h.engine.Running()
		if last, ok := h.engine.Stats(); ok {
			resp.LastCycle = &last
		}
	}
	c.JSON(http.StatusOK, resp)
}

// HandleColumn handles GET /columns/:index.
//
// Query Parameters:
//
//	bits=true - include every proximal synapse
//
// Response:
//
//	200 OK: ColumnResponse
//	400 Bad Request: non-integer index
//	404 Not Found: index outside the layer
func (h *Handlers) HandleColumn(c *gin.Context) {
	index, ok := intParam(c, "index")
	if !ok {
		return
	}
	withBits := c.Query("bits") == "true"

	var resp ColumnResponse
	found := false
	_ = h.layer.Read(func(v layer.View) error {
		col, ok := v.Column(index)
		if !ok {
			return nil
		}
		found = true
		resp.Index = index
		resp.Coordinate = col.Coordinate()
		resp.Activated = col.IsActivated()
		resp.Predictive = col.IsPredictivelyActivated()
		col.VisitCells(visitor.Continue(func(cell layer.Cell) {
			resp.Cells = append(resp.Cells, CellSummary{
				Position:      cell.Index(),
				IndexInColumn: cell.IndexInColumn(),
				State:         cell.State(),
			})
		}))
		return nil
	})
	if !found {
		abort(c, http.StatusNotFound, "COLUMN_NOT_FOUND", fmt.Sprintf("%v: column %d", layer.ErrInvalidCell, index))
		return
	}

	err := h.mapping.Read(func(v inputmap.View[int]) error {
		seg, err := v.SegmentFor(index)
		if errors.Is(err, inputmap.ErrNoProximalSegment) {
			return nil
		}
		if err != nil {
			return err
		}
		p := &ProximalSummary{
			Synapses:       seg.SynapseCount(),
			Connected:      seg.CountSynapsesAboveThreshold(h.threshold),
			Overlap:        seg.Overlap(h.threshold),
			BoostedOverlap: seg.BoostedOverlap(h.threshold),
			Boost:          seg.BoostFactor().Multiplier(),
		}
		if withBits {
			seg.VisitSynapses(visitor.Continue(func(s inputmap.ProximalSynapse[int]) {
				perm := s.Permanence()
				active := false
				if b, ok := s.Bit(); ok {
					active = b.IsActive()
				}
				p.Bits = append(p.Bits, ProximalSynapseJSON{
					Bit:        s.BitIndex(),
					Active:     active,
					Permanence: perm.Scalar(),
					Connected:  perm.IsConnected(h.threshold),
				})
			}))
		}
		resp.Proximal = p
		return nil
	})
	if err != nil {
		h.internal(c, "MAPPING_UNAVAILABLE", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleCell handles GET /cells/:pos.
func (h *Handlers) HandleCell(c *gin.Context) {
	pos, ok := intParam(c, "pos")
	if !ok {
		return
	}
	var resp CellResponse
	found := false
	_ = h.layer.Read(func(v layer.View) error {
		cell, ok := v.Cell(pos)
		if !ok {
			return nil
		}
		found = true
		resp = CellResponse{
			Position:      pos,
			Column:        cell.ColumnIndex(),
			IndexInColumn: cell.IndexInColumn(),
			State:         cell.State(),
			Segments:      []SegmentSummary{},
		}
		cell.VisitDistalSegments(visitor.Continue(func(s layer.DistalSegment) {
			resp.Segments = append(resp.Segments, SegmentSummary{
				Slot:            s.Slot(),
				Path:            s.Path().String(),
				Synapses:        s.SynapseCount(),
				AboveThreshold:  s.CountSynapsesAboveThreshold(h.threshold),
				ActiveConnected: s.CountActiveConnected(h.threshold),
			})
		}))
		return nil
	})
	if !found {
		abort(c, http.StatusNotFound, "CELL_NOT_FOUND", fmt.Sprintf("%v: cell %d", layer.ErrInvalidCell, pos))
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleSegment handles GET /cells/:pos/segments/:slot.
//
// Description:
//
//	Lists every potential synapse of the segment in traversal order:
//	path steps in order, cells within a column in index order.
func (h *Handlers) HandleSegment(c *gin.Context) {
	pos, ok := intParam(c, "pos")
	if !ok {
		return
	}
	slot, ok := intParam(c, "slot")
	if !ok {
		return
	}

	var resp SegmentResponse
	status, code := 0, ""
	_ = h.layer.Read(func(v layer.View) error {
		cell, ok := v.Cell(pos)
		if !ok {
			status, code = http.StatusNotFound, "CELL_NOT_FOUND"
			return nil
		}
		seg, ok := cell.DistalSegment(slot)
		if !ok {
			status, code = http.StatusNotFound, "SEGMENT_NOT_FOUND"
			return nil
		}
		resp = SegmentResponse{
			Cell:     pos,
			Slot:     slot,
			Path:     seg.Path().String(),
			Columns:  []topology.Coordinate2D{},
			Synapses: []DistalSynapseJSON{},
		}
		start := cell.Column().Coordinate()
		h.layer.Topology().Walk(start, seg.Path(), visitor.Continue(func(at topology.Coordinate2D) {
			resp.Columns = append(resp.Columns, at)
		}))
		seg.VisitSynapses(visitor.Continue(func(s layer.DistalSynapse) {
			resp.Synapses = append(resp.Synapses, DistalSynapseJSON{
				Step:        s.Step(),
				Target:      s.Target().Index(),
				TargetState: s.TargetState(),
				Permanence:  s.Permanence().Scalar(),
			})
		}))
		return nil
	})
	if status != 0 {
		abort(c, status, code, fmt.Sprintf("no segment %d on cell %d", slot, pos))
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleCycles handles POST /cycles.
//
// Request Body (optional):
//
//	CycleRequest; count defaults to 1
//
// Response:
//
//	200 OK: CycleResponse
//	409 Conflict: the engine is running continuously
//	503 Service Unavailable: no engine
func (h *Handlers) HandleCycles(c *gin.Context) {
	if h.engine == nil {
		abort(c, http.StatusServiceUnavailable, "ENGINE_UNAVAILABLE", "no engine configured")
		return
	}
	req := CycleRequest{Count: 1}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			abort(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
			return
		}
		if req.Count == 0 {
			req.Count = 1
		}
	}
	if h.engine.Running() {
		abort(c, http.StatusConflict, "ENGINE_RUNNING", "engine is running; stop it before stepping manually")
		return
	}

	resp := CycleResponse{Cycles: make([]engine.CycleStats, 0, req.Count)}
	for i := 0; i < req.Count; i++ {
		st, err := h.engine.Step(c.Request.Context())
		if err != nil {
			h.internal(c, "CYCLE_FAILED", err)
			return
		}
		resp.Cycles = append(resp.Cycles, st)
	}
	c.JSON(http.StatusOK, resp)
}

// HandleListCheckpoints handles GET /checkpoints.
func (h *Handlers) HandleListCheckpoints(c *gin.Context) {
	if h.store == nil {
		abort(c, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "no checkpoint store configured")
		return
	}
	list, err := h.store.List(c.Request.Context())
	if err != nil {
		h.internal(c, "LIST_FAILED", err)
		return
	}
	if list == nil {
		list = []checkpoint.Metadata{}
	}
	c.JSON(http.StatusOK, CheckpointListResponse{Checkpoints: list})
}

// HandleCreateCheckpoint handles POST /checkpoints.
//
// Response:
//
//	201 Created: checkpoint.Metadata
func (h *Handlers) HandleCreateCheckpoint(c *gin.Context) {
	if h.store == nil {
		abort(c, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "no checkpoint store configured")
		return
	}
	var req CheckpointRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			abort(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
			return
		}
	}

	var meta checkpoint.Metadata
	err := h.between(func() error {
		cp, err := checkpoint.Capture(req.Label, h.layer, h.mapping)
		if err != nil {
			return err
		}
		meta, err = h.store.Save(c.Request.Context(), cp)
		return err
	})
	if err != nil {
		h.internal(c, "CHECKPOINT_FAILED", err)
		return
	}
	c.JSON(http.StatusCreated, meta)
}

// HandleRestoreCheckpoint handles POST /checkpoints/:id/restore.
//
// Response:
//
//	200 OK: RestoreResponse
//	400 Bad Request: malformed id
//	404 Not Found: unknown checkpoint
//	409 Conflict: checkpoint shape does not match this lattice
//	422 Unprocessable Entity: stored payload failed verification
func (h *Handlers) HandleRestoreCheckpoint(c *gin.Context) {
	if h.store == nil {
		abort(c, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "no checkpoint store configured")
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		abort(c, http.StatusBadRequest, "INVALID_ID", "id must be a UUID")
		return
	}

	ctx := c.Request.Context()
	var meta checkpoint.Metadata
	err = h.between(func() error {
		cp, err := h.store.Load(ctx, id)
		if err != nil {
			return err
		}
		meta = cp.Metadata
		return checkpoint.Apply(ctx, cp, h.layer, h.mapping)
	})
	switch {
	case err == nil:
	case errors.Is(err, checkpoint.ErrNotFound):
		abort(c, http.StatusNotFound, "CHECKPOINT_NOT_FOUND", err.Error())
		return
	case errors.Is(err, checkpoint.ErrChecksumMismatch), errors.Is(err, checkpoint.ErrSchemaMismatch):
		abort(c, http.StatusUnprocessableEntity, "CHECKPOINT_CORRUPT", err.Error())
		return
	case errors.Is(err, layer.ErrSnapshotMismatch), errors.Is(err, inputmap.ErrSnapshotMismatch):
		abort(c, http.StatusConflict, "CHECKPOINT_MISMATCH", err.Error())
		return
	default:
		h.internal(c, "RESTORE_FAILED", err)
		return
	}

	h.logger.Info("checkpoint restored", slog.String("id", id.String()), slog.Int64("generation", h.layer.Generation()))
	c.JSON(http.StatusOK, RestoreResponse{Restored: meta, Generation: h.layer.Generation()})
}

func (h *Handlers) between(fn func() error) error {
	if h.engine == nil {
		return fn()
	}
	return h.engine.Between(fn)
}
