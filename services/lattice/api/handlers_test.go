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
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianLattice/services/lattice/checkpoint"
	"github.com/AleutianAI/AleutianLattice/services/lattice/engine"
	"github.com/AleutianAI/AleutianLattice/services/lattice/inputmap"
	"github.com/AleutianAI/AleutianLattice/services/lattice/layer"
	storage "github.com/AleutianAI/AleutianLattice/services/lattice/storage/badger"
	"github.com/AleutianAI/AleutianLattice/services/lattice/topology"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type testServer struct {
	router  *gin.Engine
	layer   *layer.Layer
	mapping *inputmap.Mapping[int]
	engine  *engine.Engine
	stream  *engine.BroadcastSink
}

type options struct {
	withEngine bool
	withStream bool
	withStore  bool
}

// newTestServer builds a 4x4 wrapped layer, two cells per column, one
// dendrite per cell walking RIGHT then DOWN. Column i is wired to input
// bits i and i+16 of a 32-bit input.
func newTestServer(t *testing.T, opts options) testServer {
	t.Helper()
	topo, err := topology.NewTopology2D(4, 4, topology.Wrap)
	require.NoError(t, err)
	l, err := layer.New(layer.Config{
		Topology:         topo,
		CellsPerColumn:   2,
		DendritesPerCell: 1,
		Layout:           layer.UniformLayout{Paths: []topology.Path{topology.NewPath(topology.Right, topology.Down)}},
		Logger:           quietLogger,
	})
	require.NoError(t, err)

	pools := make(map[int][]int, 16)
	for i := 0; i < 16; i++ {
		pools[i] = []int{i, i + 16}
	}
	in := inputmap.NewVectorInput(32)
	m, err := inputmap.New(inputmap.Config[int]{
		Layer:             l,
		Input:             in,
		Factory:           inputmap.ExplicitSynapseFactory[int]{Pools: pools},
		DefaultPermanence: 0.5,
		Logger:            quietLogger,
	})
	require.NoError(t, err)

	cfg := Config{Layer: l, Mapping: m, ConnectedThreshold: 0.2, Logger: quietLogger}
	if opts.withStream {
		cfg.Stream = engine.NewBroadcastSink()
	}
	if opts.withEngine {
		var sinks []engine.Sink
		if cfg.Stream != nil {
			sinks = append(sinks, cfg.Stream)
		}
		e, err := engine.New(engine.Config{
			Layer:              l,
			Mapping:            m,
			Input:              in,
			Source:             engine.SequenceSource{Patterns: [][]int{{3, 19}, {5}}},
			ActiveColumns:      1,
			ConnectedThreshold: 0.2,
			Sinks:              sinks,
			Logger:             quietLogger,
		})
		require.NoError(t, err)
		cfg.Engine = e
	}
	if opts.withStore {
		db, err := storage.OpenInMemory()
		require.NoError(t, err)
		s, err := checkpoint.NewStore(db, checkpoint.StoreConfig{Logger: quietLogger})
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		cfg.Store = s
	}

	h, err := NewHandlers(cfg)
	require.NoError(t, err)
	return testServer{
		router:  NewRouter(h, RouterConfig{Logger: quietLogger}),
		layer:   l,
		mapping: m,
		engine:  cfg.Engine,
		stream:  cfg.Stream,
	}
}

func (s testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestNewHandlers_Validation(t *testing.T) {
	_, err := NewHandlers(Config{})
	assert.Error(t, err)
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t, options{})
	w := s.do(t, http.MethodGet, "/v1/lattice/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	resp := decode[HealthResponse](t, w)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, ServiceVersion, resp.Version)
	assert.Equal(t, 16, resp.Columns)
	assert.Equal(t, 32, resp.Cells)
}

func TestHandleStats(t *testing.T) {
	s := newTestServer(t, options{withEngine: true})
	_, err := s.engine.Step(context.Background())
	require.NoError(t, err)

	w := s.do(t, http.MethodGet, "/v1/lattice/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[StatsResponse](t, w)
	assert.Equal(t, 16, resp.Layer.Columns)
	assert.Equal(t, 2, resp.Layer.ActiveCells)
	assert.Equal(t, 1, resp.Layer.ActivatedColumns)
	assert.Equal(t, 16, resp.Mapping.WiredColumns)
	assert.Equal(t, 32, resp.Mapping.Synapses)
	assert.Equal(t, int64(1), resp.Cycle)
	require.NotNil(t, resp.LastCycle)
	assert.Equal(t, []int{3}, resp.LastCycle.Winners)
}

func TestHandleColumn(t *testing.T) {
	s := newTestServer(t, options{withEngine: true})
	_, err := s.engine.Step(context.Background())
	require.NoError(t, err)

	w := s.do(t, http.MethodGet, "/v1/lattice/columns/3?bits=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[ColumnResponse](t, w)
	assert.Equal(t, topology.Coordinate2D{X: 3, Y: 0}, resp.Coordinate)
	assert.True(t, resp.Activated)
	require.Len(t, resp.Cells, 2)
	assert.Equal(t, layer.Active, resp.Cells[0].State)
	require.NotNil(t, resp.Proximal)
	assert.Equal(t, 2, resp.Proximal.Synapses)
	assert.Equal(t, 2, resp.Proximal.Overlap)
	require.Len(t, resp.Proximal.Bits, 2)
	assert.Equal(t, 3, resp.Proximal.Bits[0].Bit)
	assert.True(t, resp.Proximal.Bits[0].Active)
	assert.InDelta(t, 0.5, resp.Proximal.Bits[1].Permanence, 1e-12)

	w = s.do(t, http.MethodGet, "/v1/lattice/columns/4", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp = decode[ColumnResponse](t, w)
	assert.False(t, resp.Activated)
	assert.Empty(t, resp.Proximal.Bits)

	w = s.do(t, http.MethodGet, "/v1/lattice/columns/99", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "COLUMN_NOT_FOUND", decode[ErrorResponse](t, w).Code)

	w = s.do(t, http.MethodGet, "/v1/lattice/columns/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleCell(t *testing.T) {
	s := newTestServer(t, options{})

	w := s.do(t, http.MethodGet, "/v1/lattice/cells/1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[CellResponse](t, w)
	assert.Equal(t, 0, resp.Column)
	assert.Equal(t, 1, resp.IndexInColumn)
	assert.Equal(t, layer.Inactive, resp.State)
	require.Len(t, resp.Segments, 1)
	assert.Equal(t, topology.NewPath(topology.Right, topology.Down).String(), resp.Segments[0].Path)
	assert.Equal(t, 4, resp.Segments[0].Synapses)
	assert.Equal(t, 0, resp.Segments[0].AboveThreshold)

	w = s.do(t, http.MethodGet, "/v1/lattice/cells/32", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleSegment(t *testing.T) {
	s := newTestServer(t, options{})

	w := s.do(t, http.MethodGet, "/v1/lattice/cells/0/segments/0", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[SegmentResponse](t, w)
	assert.Equal(t, []topology.Coordinate2D{{X: 1, Y: 0}, {X: 1, Y: 1}}, resp.Columns)

	targets := make([]int, 0, len(resp.Synapses))
	for _, syn := range resp.Synapses {
		targets = append(targets, syn.Target)
	}
	assert.Equal(t, []int{2, 3, 10, 11}, targets)
	assert.Equal(t, 0, resp.Synapses[0].Step)
	assert.Equal(t, 1, resp.Synapses[3].Step)

	w = s.do(t, http.MethodGet, "/v1/lattice/cells/0/segments/1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "SEGMENT_NOT_FOUND", decode[ErrorResponse](t, w).Code)
}

func TestHandleCycles(t *testing.T) {
	t.Run("without engine", func(t *testing.T) {
		s := newTestServer(t, options{})
		w := s.do(t, http.MethodPost, "/v1/lattice/cycles", nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("steps count cycles", func(t *testing.T) {
		s := newTestServer(t, options{withEngine: true})
		w := s.do(t, http.MethodPost, "/v1/lattice/cycles", CycleRequest{Count: 3})
		require.Equal(t, http.StatusOK, w.Code)
		resp := decode[CycleResponse](t, w)
		require.Len(t, resp.Cycles, 3)
		assert.Equal(t, []int{3}, resp.Cycles[0].Winners)
		assert.Equal(t, []int{5}, resp.Cycles[1].Winners)
		assert.Equal(t, int64(3), resp.Cycles[2].Cycle)
	})

	t.Run("default count", func(t *testing.T) {
		s := newTestServer(t, options{withEngine: true})
		w := s.do(t, http.MethodPost, "/v1/lattice/cycles", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Len(t, decode[CycleResponse](t, w).Cycles, 1)
	})

	t.Run("count out of range", func(t *testing.T) {
		s := newTestServer(t, options{withEngine: true})
		w := s.do(t, http.MethodPost, "/v1/lattice/cycles", CycleRequest{Count: 100000})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestCheckpointEndpoints(t *testing.T) {
	s := newTestServer(t, options{withEngine: true, withStore: true})
	ctx := context.Background()

	w := s.do(t, http.MethodGet, "/v1/lattice/checkpoints", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[CheckpointListResponse](t, w).Checkpoints)

	_, err := s.engine.Step(ctx)
	require.NoError(t, err)
	w = s.do(t, http.MethodPost, "/v1/lattice/checkpoints", CheckpointRequest{Label: "after-one"})
	require.Equal(t, http.StatusCreated, w.Code)
	meta := decode[checkpoint.Metadata](t, w)
	assert.Equal(t, "after-one", meta.Label)

	// move on, then roll back
	_, err = s.engine.Step(ctx)
	require.NoError(t, err)
	c5, _ := s.layer.Column(5)
	require.True(t, c5.IsActivated())

	w = s.do(t, http.MethodPost, "/v1/lattice/checkpoints/"+meta.ID.String()+"/restore", nil)
	require.Equal(t, http.StatusOK, w.Code)
	restored := decode[RestoreResponse](t, w)
	assert.Equal(t, meta.ID, restored.Restored.ID)

	c3, _ := s.layer.Column(3)
	c5, _ = s.layer.Column(5)
	assert.True(t, c3.IsActivated())
	assert.False(t, c5.IsActivated())

	w = s.do(t, http.MethodGet, "/v1/lattice/checkpoints", nil)
	assert.Len(t, decode[CheckpointListResponse](t, w).Checkpoints, 1)

	w = s.do(t, http.MethodPost, "/v1/lattice/checkpoints/"+uuid.NewString()+"/restore", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPost, "/v1/lattice/checkpoints/not-a-uuid/restore", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCheckpointEndpoints_NoStore(t *testing.T) {
	s := newTestServer(t, options{})
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/v1/lattice/checkpoints"},
		{http.MethodPost, "/v1/lattice/checkpoints"},
		{http.MethodPost, "/v1/lattice/checkpoints/" + uuid.NewString() + "/restore"},
	} {
		w := s.do(t, tc.method, tc.path, nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, tc.path)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, options{})
	w := s.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
