// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianLattice/services/lattice/checkpoint"
	"github.com/AleutianAI/AleutianLattice/services/lattice/inputmap"
	"github.com/AleutianAI/AleutianLattice/services/lattice/layer"
	"github.com/AleutianAI/AleutianLattice/services/lattice/synapse"
	"github.com/AleutianAI/AleutianLattice/services/lattice/telemetry"
	"github.com/AleutianAI/AleutianLattice/services/lattice/topology"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fixture struct {
	layer   *layer.Layer
	mapping *inputmap.Mapping[int]
	input   *inputmap.VectorInput
}

// newFixture wires column i to input bit i, and column 3 also to bit 4.
func newFixture(t *testing.T) fixture {
	t.Helper()
	topo, err := topology.NewTopology2D(4, 4, topology.Wrap)
	require.NoError(t, err)
	l, err := layer.New(layer.Config{Topology: topo, CellsPerColumn: 2, Logger: quietLogger})
	require.NoError(t, err)

	pools := make(map[int][]int, 16)
	for i := 0; i < 16; i++ {
		pools[i] = []int{i}
	}
	pools[3] = []int{3, 4}

	in := inputmap.NewVectorInput(16)
	m, err := inputmap.New(inputmap.Config[int]{
		Layer:             l,
		Input:             in,
		Factory:           inputmap.ExplicitSynapseFactory[int]{Pools: pools},
		DefaultPermanence: 0.5,
		Logger:            quietLogger,
	})
	require.NoError(t, err)
	return fixture{layer: l, mapping: m, input: in}
}

func (f fixture) config(src Source) Config {
	return Config{
		Layer:              f.layer,
		Mapping:            f.mapping,
		Input:              f.input,
		Source:             src,
		ActiveColumns:      2,
		ConnectedThreshold: 0.2,
		Workers:            2,
		Logger:             quietLogger,
	}
}

func pattern(bits ...int) SequenceSource {
	return SequenceSource{Patterns: [][]int{bits}}
}

type recordingSink struct {
	mu    sync.Mutex
	stats []CycleStats
	err   error
}

func (s *recordingSink) Name() string { return "recording" }
func (s *recordingSink) Close() error { return nil }
func (s *recordingSink) Record(_ context.Context, st CycleStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = append(s.stats, st)
	return s.err
}

type fakeCheckpointer struct {
	saved  []*checkpoint.Checkpoint
	pruned []int
	err    error
}

func (f *fakeCheckpointer) Save(_ context.Context, cp *checkpoint.Checkpoint) (checkpoint.Metadata, error) {
	if f.err != nil {
		return checkpoint.Metadata{}, f.err
	}
	f.saved = append(f.saved, cp)
	return cp.Metadata, nil
}

func (f *fakeCheckpointer) Prune(_ context.Context, keep int) (int, error) {
	f.pruned = append(f.pruned, keep)
	return 0, nil
}

func TestNew_Validation(t *testing.T) {
	f := newFixture(t)
	other := inputmap.NewVectorInput(16)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing layer", func(c *Config) { c.Layer = nil }},
		{"missing mapping", func(c *Config) { c.Mapping = nil }},
		{"missing input", func(c *Config) { c.Input = nil }},
		{"missing source", func(c *Config) { c.Source = nil }},
		{"zero active columns", func(c *Config) { c.ActiveColumns = 0 }},
		{"too many active columns", func(c *Config) { c.ActiveColumns = 17 }},
		{"threshold above one", func(c *Config) { c.ConnectedThreshold = 2 }},
		{"negative rate", func(c *Config) { c.CyclesPerSecond = -1 }},
		{"foreign input", func(c *Config) { c.Input = other }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := f.config(pattern(1))
			tt.mutate(&cfg)
			_, err := New(cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestStep_ActivatesTopColumns(t *testing.T) {
	f := newFixture(t)
	sink := &recordingSink{}
	cfg := f.config(pattern(1, 2, 3, 4))
	cfg.Sinks = []Sink{sink}
	e, err := New(cfg)
	require.NoError(t, err)

	// predictions from a previous pass must not survive a cycle
	require.NoError(t, f.layer.Mutate(context.Background(), func(v layer.View) error {
		c, _ := v.Cell(31)
		require.NoError(t, c.SetActive(true))
		return c.SetPredictive(true)
	}))

	st, err := e.Step(context.Background())
	require.NoError(t, err)

	// column 3 sees bits 3 and 4; the 1-1-1 tie goes to column 1
	assert.Equal(t, []int{1, 3}, st.Winners)
	assert.Equal(t, int64(1), st.Cycle)
	assert.Equal(t, 4, st.InputActive)
	assert.Equal(t, 2, st.ActiveColumns)
	assert.Equal(t, 4, st.ActiveCells)
	assert.InDelta(t, 1.5, st.MeanOverlap, 1e-12)
	assert.InDelta(t, 2.0, st.MaxOverlap, 1e-12)

	snap := f.layer.Snapshot()
	assert.Equal(t, 4, snap.ActiveCellCount())
	assert.Equal(t, 0, snap.PredictiveCellCount())
	for _, pos := range []int{2, 3, 6, 7} {
		assert.True(t, snap.IsActive(pos), "cell %d", pos)
	}

	last, ok := e.Stats()
	require.True(t, ok)
	assert.Equal(t, st.Winners, last.Winners)
	require.Len(t, sink.stats, 1)
	assert.Equal(t, int64(1), e.Cycle())
}

func TestStep_BoostChangesWinners(t *testing.T) {
	f := newFixture(t)
	e, err := New(f.config(pattern(1, 2, 3, 4)))
	require.NoError(t, err)

	require.NoError(t, f.mapping.Mutate(context.Background(), func(v inputmap.View[int]) error {
		seg, err := v.SegmentFor(4)
		if err != nil {
			return err
		}
		return seg.SetBoostFactor(synapse.NewBoostFactor(3))
	}))

	st, err := e.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4}, st.Winners)
	assert.InDelta(t, 3.0, st.MaxOverlap, 1e-12)
}

func TestStep_NoOverlapActivatesNothing(t *testing.T) {
	f := newFixture(t)
	e, err := New(f.config(SequenceSource{}))
	require.NoError(t, err)

	st, err := e.Step(context.Background())
	require.NoError(t, err)
	assert.Empty(t, st.Winners)
	assert.Zero(t, st.MeanOverlap)
	assert.Equal(t, 0, f.layer.Snapshot().ActiveCellCount())
}

func TestStep_DisconnectedSynapsesDoNotCount(t *testing.T) {
	f := newFixture(t)
	cfg := f.config(pattern(1, 2))
	cfg.ConnectedThreshold = 0.6
	e, err := New(cfg)
	require.NoError(t, err)

	st, err := e.Step(context.Background())
	require.NoError(t, err)
	assert.Empty(t, st.Winners)
}

func TestStep_SourceFailure(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("sensor offline")
	e, err := New(f.config(SourceFunc(func(context.Context, int64, *inputmap.VectorInput) error { return boom })))
	require.NoError(t, err)

	_, err = e.Step(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int64(0), e.Cycle())
	_, ok := e.Stats()
	assert.False(t, ok)
}

func TestStep_SinkFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	cfg := f.config(pattern(1))
	cfg.Sinks = []Sink{&recordingSink{err: errors.New("disk full")}}
	e, err := New(cfg)
	require.NoError(t, err)

	_, err = e.Step(context.Background())
	assert.NoError(t, err)
}

func TestStep_Cancelled(t *testing.T) {
	f := newFixture(t)
	e, err := New(f.config(pattern(1)))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Step(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStep_PeriodicCheckpoint(t *testing.T) {
	f := newFixture(t)
	cp := &fakeCheckpointer{}
	cfg := f.config(pattern(1, 2))
	cfg.Checkpointer = cp
	cfg.CheckpointEvery = 2
	cfg.KeepCheckpoints = 5
	e, err := New(cfg)
	require.NoError(t, err)

	require.NoError(t, e.Run(context.Background(), 5))
	require.Len(t, cp.saved, 2)
	assert.Equal(t, "cycle-2", cp.saved[0].Label)
	assert.Equal(t, "cycle-4", cp.saved[1].Label)
	assert.Equal(t, []int{5, 5}, cp.pruned)
	assert.Equal(t, 16, cp.saved[0].Columns)

	cp.err = errors.New("store closed")
	_, err = e.Step(context.Background())
	assert.ErrorContains(t, err, "store closed")
}

func TestRun_SequenceAndMetrics(t *testing.T) {
	f := newFixture(t)
	metrics, err := telemetry.NewMetrics(noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)
	sink := &recordingSink{}

	cfg := f.config(SequenceSource{Patterns: [][]int{{0}, {5, 6}, {3, 4}}})
	cfg.Sinks = []Sink{sink}
	cfg.Metrics = metrics
	e, err := New(cfg)
	require.NoError(t, err)

	require.NoError(t, e.Run(context.Background(), 3))
	require.Len(t, sink.stats, 3)
	assert.Equal(t, []int{0}, sink.stats[0].Winners)
	assert.Equal(t, []int{5, 6}, sink.stats[1].Winners)
	assert.Equal(t, []int{3, 4}, sink.stats[2].Winners)
	assert.False(t, e.Running())
}

func TestRun_StopsOnCancelAndRejectsConcurrentRun(t *testing.T) {
	f := newFixture(t)
	cfg := f.config(pattern(1))
	cfg.CyclesPerSecond = 2
	e, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx, 0) }()

	require.Eventually(t, e.Running, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, e.Run(context.Background(), 1), ErrAlreadyRunning)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop")
	}
	assert.GreaterOrEqual(t, e.Cycle(), int64(1))
}

func TestSetRate(t *testing.T) {
	f := newFixture(t)
	e, err := New(f.config(pattern(1)))
	require.NoError(t, err)
	assert.Equal(t, rate.Inf, e.Rate())

	e.SetRate(25, 3)
	assert.Equal(t, rate.Limit(25), e.Rate())
	e.SetRate(0, 0)
	assert.Equal(t, rate.Inf, e.Rate())
}

func TestRandomSource(t *testing.T) {
	_, err := NewRandomSource(1, 0)
	assert.ErrorIs(t, err, ErrInvalidDensity)
	_, err = NewRandomSource(1, 1.5)
	assert.ErrorIs(t, err, ErrInvalidDensity)

	src, err := NewRandomSource(9, 0.25)
	require.NoError(t, err)
	in := inputmap.NewVectorInput(40)
	for cycle := int64(0); cycle < 5; cycle++ {
		require.NoError(t, src.Next(context.Background(), cycle, in))
		assert.Equal(t, 10, in.ActiveCount())
	}

	tiny, err := NewRandomSource(9, 0.001)
	require.NoError(t, err)
	require.NoError(t, tiny.Next(context.Background(), 0, in))
	assert.Equal(t, 1, in.ActiveCount(), "at least one bit")

	again, err := NewRandomSource(9, 0.25)
	require.NoError(t, err)
	a, b := inputmap.NewVectorInput(40), inputmap.NewVectorInput(40)
	require.NoError(t, again.Next(context.Background(), 0, a))
	src2, _ := NewRandomSource(9, 0.25)
	require.NoError(t, src2.Next(context.Background(), 0, b))
	for i := 0; i < 40; i++ {
		assert.Equal(t, a.IsActive(i), b.IsActive(i), "same seed, same draw")
	}
}

// --- sinks ---

type mockWriteAPI struct {
	points  []*write.Point
	err     error
	flushed bool
}

func (m *mockWriteAPI) WritePoint(_ context.Context, point ...*write.Point) error {
	if m.err != nil {
		return m.err
	}
	m.points = append(m.points, point...)
	return nil
}
func (m *mockWriteAPI) WriteRecord(context.Context, ...string) error { return nil }
func (m *mockWriteAPI) EnableBatching()                               {}
func (m *mockWriteAPI) Flush(context.Context) error {
	m.flushed = true
	return nil
}

func TestInfluxSink(t *testing.T) {
	w := &mockWriteAPI{}
	s := NewInfluxSinkWithWriter(w, map[string]string{"run": "test"})
	st := CycleStats{Cycle: 7, Timestamp: time.Unix(100, 0), ActiveColumns: 2, MeanOverlap: 1.5, Duration: time.Millisecond}

	require.NoError(t, s.Record(context.Background(), st))
	require.Len(t, w.points, 1)
	p := w.points[0]
	assert.Equal(t, Measurement, p.Name())
	assert.Equal(t, time.Unix(100, 0), p.Time())

	fields := map[string]interface{}{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	assert.EqualValues(t, 7, fields["cycle"])
	assert.EqualValues(t, 2, fields["active_columns"])
	assert.InDelta(t, 1.5, fields["mean_overlap"], 1e-12)
	require.Len(t, p.TagList(), 1)
	assert.Equal(t, "run", p.TagList()[0].Key)

	w.err = errors.New("unauthorized")
	assert.ErrorContains(t, s.Record(context.Background(), st), "unauthorized")

	require.NoError(t, CloseSinks([]Sink{s}))
	assert.True(t, w.flushed)
}

func TestNewInfluxSink_Validation(t *testing.T) {
	_, err := NewInfluxSink(context.Background(), InfluxConfig{URL: "http://localhost:8086"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSink(slog.New(slog.NewTextHandler(&buf, nil)), 2)
	require.NoError(t, s.Record(context.Background(), CycleStats{Cycle: 1}))
	assert.Empty(t, buf.String())
	require.NoError(t, s.Record(context.Background(), CycleStats{Cycle: 2, ActiveColumns: 3}))
	assert.Contains(t, buf.String(), "active_columns=3")
	assert.NoError(t, s.Close())
}

func TestBetween_SerializesWithStep(t *testing.T) {
	f := newFixture(t)
	e, err := New(f.config(pattern(1)))
	require.NoError(t, err)

	var during int64
	require.NoError(t, e.Between(func() error {
		during = e.Cycle()
		return nil
	}))
	assert.Equal(t, int64(0), during)

	boom := errors.New("restore failed")
	assert.ErrorIs(t, e.Between(func() error { return boom }), boom)
}
