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

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("lattice.layer")

var (
	// snapshotTotal counts captures by owner ("layer" or "proximal").
	snapshotTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lattice_snapshot_total",
		Help: "Total snapshots captured by owner",
	}, []string{"owner"})

	// restoreTotal counts restores by owner.
	restoreTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lattice_restore_total",
		Help: "Total snapshots restored by owner",
	}, []string{"owner"})

	// snapshotCulled counts dead permanence entries dropped during capture.
	snapshotCulled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lattice_snapshot_culled_entries_total",
		Help: "Total dead permanence entries dropped while capturing snapshots",
	})

	// snapshotDuration tracks deep copy latency by owner.
	snapshotDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lattice_snapshot_duration_seconds",
		Help:    "Snapshot deep copy duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 0.1ms to ~1.6s
	}, []string{"owner"})

	// shortPaths counts random dendrite walks that ended early, by policy.
	shortPaths = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lattice_layout_short_paths_total",
		Help: "Total distal paths shorter than requested by short path policy",
	}, []string{"policy"})
)

// RecordSnapshot and RecordRestore let other owners of snapshot state
// (the proximal input mapping) report into the same metric families.
func RecordSnapshot(owner string, seconds float64) {
	snapshotTotal.WithLabelValues(owner).Inc()
	snapshotDuration.WithLabelValues(owner).Observe(seconds)
}

func RecordRestore(owner string) {
	restoreTotal.WithLabelValues(owner).Inc()
}
