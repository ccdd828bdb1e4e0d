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
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"

	"github.com/AleutianAI/AleutianLattice/services/lattice/topology"
)

// PathSink receives the distal path of every (cell, slot) pair.
type PathSink interface {
	Add(p topology.Path, cellIndex, dendriteIndex int) error
}

// DistalLayoutFactory decides the fixed distal wiring of a layer.
//
// CreateLayout is called once from New and must call sink.Add for every
// cell in [0, columnCount*cellsPerColumn) and every slot in
// [0, dendritesPerCell). The layer is not usable yet while the call runs;
// only its shape accessors may be read.
type DistalLayoutFactory interface {
	CreateLayout(topo topology.Topology, l *Layer, columnCount, cellsPerColumn, dendritesPerCell int, sink PathSink) error
}

// ShortPathPolicy decides what happens when a random walk runs out of
// moves before reaching the requested length.
type ShortPathPolicy string

const (
	// ShortPathAccept keeps the shorter path silently.
	ShortPathAccept ShortPathPolicy = "accept"

	// ShortPathLog keeps the shorter path and logs a warning.
	ShortPathLog ShortPathPolicy = "log"

	// ShortPathRetry draws up to Retries more walks and keeps the longest.
	ShortPathRetry ShortPathPolicy = "retry"

	// ShortPathFail aborts layer construction with topology.ErrShortPath.
	ShortPathFail ShortPathPolicy = "fail"
)

// ParseShortPathPolicy accepts the policy names case-insensitively. The
// empty string selects ShortPathAccept.
func ParseShortPathPolicy(s string) (ShortPathPolicy, error) {
	switch p := ShortPathPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return ShortPathAccept, nil
	case ShortPathAccept, ShortPathLog, ShortPathRetry, ShortPathFail:
		return p, nil
	default:
		return "", fmt.Errorf("%w: unknown short path policy %q", ErrInvalidConfig, s)
	}
}

// RandomDistalLayout gives every (cell, slot) a self-avoiding random walk
// starting at the cell's column.
type RandomDistalLayout struct {
	// Rng drives path generation. Required.
	Rng *rand.Rand

	// Length is the requested number of steps per path.
	Length int

	// Policy handles walks shorter than Length. Empty means accept.
	Policy ShortPathPolicy

	// Retries bounds extra attempts under ShortPathRetry. Defaults to 3.
	Retries int

	// Logger is used by ShortPathLog and ShortPathRetry.
	Logger *slog.Logger
}

// CreateLayout implements DistalLayoutFactory.
func (r *RandomDistalLayout) CreateLayout(topo topology.Topology, _ *Layer, columnCount, cellsPerColumn, dendritesPerCell int, sink PathSink) error {
	if r.Rng == nil {
		return fmt.Errorf("%w: random layout needs a random source", ErrInvalidConfig)
	}
	policy := r.Policy
	if policy == "" {
		policy = ShortPathAccept
	}
	retries := r.Retries
	if retries <= 0 {
		retries = 3
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	short := 0
	for cell := 0; cell < columnCount*cellsPerColumn; cell++ {
		start, _ := topo.CoordinateForIndex(cell / cellsPerColumn)
		for slot := 0; slot < dendritesPerCell; slot++ {
			p := topo.CreateRandom(r.Rng, start, r.Length)
			if p.Len() < r.Length {
				if policy == ShortPathRetry {
					for i := 0; i < retries && p.Len() < r.Length; i++ {
						if alt := topo.CreateRandom(r.Rng, start, r.Length); alt.Len() > p.Len() {
							p = alt
						}
					}
				}
				if p.Len() < r.Length {
					short++
					shortPaths.WithLabelValues(string(policy)).Inc()
					switch policy {
					case ShortPathFail:
						return fmt.Errorf("%w: cell %d slot %d got %d of %d steps",
							topology.ErrShortPath, cell, slot, p.Len(), r.Length)
					case ShortPathLog, ShortPathRetry:
						logger.Warn("distal path shorter than requested",
							slog.Int("cell", cell),
							slog.Int("slot", slot),
							slog.Int("length", p.Len()),
							slog.Int("requested", r.Length),
						)
					}
				}
			}
			if err := sink.Add(p, cell, slot); err != nil {
				return err
			}
		}
	}
	if short > 0 {
		logger.Debug("random distal layout finished with short paths", slog.Int("short_paths", short))
	}
	return nil
}

// UniformLayout gives slot s of every cell the path Paths[s]. It is mainly
// useful for deterministic wiring in tools and tests.
type UniformLayout struct {
	Paths []topology.Path
}

// CreateLayout implements DistalLayoutFactory.
func (u UniformLayout) CreateLayout(_ topology.Topology, _ *Layer, columnCount, cellsPerColumn, dendritesPerCell int, sink PathSink) error {
	if len(u.Paths) < dendritesPerCell {
		return fmt.Errorf("%w: uniform layout has %d paths for %d slots", ErrInvalidConfig, len(u.Paths), dendritesPerCell)
	}
	for cell := 0; cell < columnCount*cellsPerColumn; cell++ {
		for slot := 0; slot < dendritesPerCell; slot++ {
			if err := sink.Add(u.Paths[slot], cell, slot); err != nil {
				return err
			}
		}
	}
	return nil
}

var (
	_ DistalLayoutFactory = (*RandomDistalLayout)(nil)
	_ DistalLayoutFactory = UniformLayout{}
)
