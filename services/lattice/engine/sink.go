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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Sink receives the statistics of every completed cycle.
type Sink interface {
	Name() string
	Record(ctx context.Context, s CycleStats) error
	Close() error
}

// -----------------------------------------------------------------------------
// Log sink
// -----------------------------------------------------------------------------

// LogSink logs every Nth cycle at Info.
type LogSink struct {
	logger *slog.Logger
	every  int64
}

// NewLogSink logs one line per every cycles; non-positive means each cycle.
func NewLogSink(logger *slog.Logger, every int) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{
		logger: logger.With(slog.String("component", "lattice.engine.stats")),
		every:  int64(max(every, 1)),
	}
}

// Name implements Sink.
func (s *LogSink) Name() string { return "log" }

// Record implements Sink.
func (s *LogSink) Record(_ context.Context, st CycleStats) error {
	if st.Cycle%s.every != 0 {
		return nil
	}
	s.logger.Info("cycle",
		slog.Int64("cycle", st.Cycle),
		slog.Int("input_active", st.InputActive),
		slog.Int("active_columns", st.ActiveColumns),
		slog.Int("active_cells", st.ActiveCells),
		slog.Float64("mean_overlap", st.MeanOverlap),
		slog.Int("permanence_entries", st.PermanenceEntries),
		slog.Duration("duration", st.Duration),
	)
	return nil
}

// Close implements Sink.
func (s *LogSink) Close() error { return nil }

// -----------------------------------------------------------------------------
// InfluxDB sink
// -----------------------------------------------------------------------------

// Measurement is the InfluxDB measurement cycle points are written to.
const Measurement = "lattice_cycle"

// InfluxConfig locates the InfluxDB bucket.
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string

	// Tags are attached to every point, e.g. {"run": "nightly"}.
	Tags map[string]string

	// HealthTimeout bounds the startup health check. Zero skips it.
	HealthTimeout time.Duration
}

// InfluxSink writes one point per cycle with a blocking write API.
//
// Thread Safety: Safe for concurrent use if the write API is.
type InfluxSink struct {
	client influxdb2.Client
	writer api.WriteAPIBlocking
	tags   map[string]string
}

// NewInfluxSink connects to InfluxDB and optionally checks its health.
func NewInfluxSink(ctx context.Context, cfg InfluxConfig) (*InfluxSink, error) {
	if cfg.URL == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: influx url, org and bucket are required", ErrInvalidConfig)
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	if cfg.HealthTimeout > 0 {
		hctx, cancel := context.WithTimeout(ctx, cfg.HealthTimeout)
		defer cancel()
		health, err := client.Health(hctx)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("influx health check: %w", err)
		}
		if health.Status != "pass" {
			client.Close()
			return nil, fmt.Errorf("influx health check: status %s", health.Status)
		}
	}
	s := NewInfluxSinkWithWriter(client.WriteAPIBlocking(cfg.Org, cfg.Bucket), cfg.Tags)
	s.client = client
	return s, nil
}

// NewInfluxSinkWithWriter wraps an existing write API. Close does not
// close anything it did not open.
func NewInfluxSinkWithWriter(w api.WriteAPIBlocking, tags map[string]string) *InfluxSink {
	return &InfluxSink{writer: w, tags: tags}
}

// Name implements Sink.
func (s *InfluxSink) Name() string { return "influx" }

// Point converts stats into the point Record writes.
func (s *InfluxSink) Point(st CycleStats) *write.Point {
	tags := make(map[string]string, len(s.tags))
	for k, v := range s.tags {
		tags[k] = v
	}
	return influxdb2.NewPoint(
		Measurement,
		tags,
		map[string]interface{}{
			"cycle":              st.Cycle,
			"input_active":       st.InputActive,
			"active_columns":     st.ActiveColumns,
			"active_cells":       st.ActiveCells,
			"mean_overlap":       st.MeanOverlap,
			"max_overlap":        st.MaxOverlap,
			"permanence_entries": st.PermanenceEntries,
			"duration_seconds":   st.Duration.Seconds(),
		},
		st.Timestamp,
	)
}

// Record implements Sink.
func (s *InfluxSink) Record(ctx context.Context, st CycleStats) error {
	if err := s.writer.WritePoint(ctx, s.Point(st)); err != nil {
		return fmt.Errorf("write cycle point: %w", err)
	}
	return nil
}

// Close flushes the writer and closes the client if NewInfluxSink opened it.
func (s *InfluxSink) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.writer.Flush(ctx)
	if s.client != nil {
		s.client.Close()
	}
	return err
}

// CloseSinks closes every sink and joins their errors.
func CloseSinks(sinks []Sink) error {
	var errs []error
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s sink: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
