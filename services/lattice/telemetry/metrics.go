// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the instruments recorded by the simulation engine and
// the HTTP API. All names carry the "lattice_" prefix.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// --- Engine ---

	// CyclesTotal counts completed cycles by status.
	CyclesTotal metric.Int64Counter

	// CycleDuration records wall time per cycle in seconds.
	CycleDuration metric.Float64Histogram

	// ActiveColumns records how many columns won each cycle.
	ActiveColumns metric.Int64Histogram

	// MeanOverlap records the mean boosted overlap of winning columns.
	MeanOverlap metric.Float64Histogram

	// --- HTTP ---

	// HTTPRequestsTotal counts API requests by route and status.
	HTTPRequestsTotal metric.Int64Counter

	// --- Errors ---

	// ErrorsTotal counts errors by component.
	ErrorsTotal metric.Int64Counter
}

// NewMetrics registers every instrument with meter.
//
// Outputs:
//
//	*Metrics - Ready to record.
//	error - Non-nil if any registration fails.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.CyclesTotal, err = meter.Int64Counter(
		"lattice_cycles_total",
		metric.WithDescription("Total simulation cycles"),
	)
	if err != nil {
		return nil, fmt.Errorf("create lattice_cycles_total: %w", err)
	}

	m.CycleDuration, err = meter.Float64Histogram(
		"lattice_cycle_duration_seconds",
		metric.WithDescription("Simulation cycle duration"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1),
	)
	if err != nil {
		return nil, fmt.Errorf("create lattice_cycle_duration_seconds: %w", err)
	}

	m.ActiveColumns, err = meter.Int64Histogram(
		"lattice_active_columns",
		metric.WithDescription("Columns activated per cycle"),
	)
	if err != nil {
		return nil, fmt.Errorf("create lattice_active_columns: %w", err)
	}

	m.MeanOverlap, err = meter.Float64Histogram(
		"lattice_mean_overlap",
		metric.WithDescription("Mean boosted overlap of active columns"),
	)
	if err != nil {
		return nil, fmt.Errorf("create lattice_mean_overlap: %w", err)
	}

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"lattice_http_requests_total",
		metric.WithDescription("Total API requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("create lattice_http_requests_total: %w", err)
	}

	m.ErrorsTotal, err = meter.Int64Counter(
		"lattice_errors_total",
		metric.WithDescription("Total errors by component"),
	)
	if err != nil {
		return nil, fmt.Errorf("create lattice_errors_total: %w", err)
	}

	return m, nil
}
