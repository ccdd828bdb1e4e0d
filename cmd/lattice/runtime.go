// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/AleutianAI/AleutianLattice/pkg/logging"
	"github.com/AleutianAI/AleutianLattice/services/lattice/checkpoint"
	"github.com/AleutianAI/AleutianLattice/services/lattice/config"
	"github.com/AleutianAI/AleutianLattice/services/lattice/engine"
	"github.com/AleutianAI/AleutianLattice/services/lattice/inputmap"
	"github.com/AleutianAI/AleutianLattice/services/lattice/layer"
	storage "github.com/AleutianAI/AleutianLattice/services/lattice/storage/badger"
	"github.com/AleutianAI/AleutianLattice/services/lattice/telemetry"
	"github.com/AleutianAI/AleutianLattice/services/lattice/topology"
)

// Separate PCG streams keep layout, proximal wiring and input generation
// independent when they share a seed.
const (
	layoutStream  = 0x6c61796f7574
	synapseStream = 0x73796e61707365
)

// runtimeOptions selects the optional parts newRuntime builds.
type runtimeOptions struct {
	// Engine builds the cycle driver and its sinks.
	Engine bool

	// Telemetry installs the OpenTelemetry providers.
	Telemetry bool

	// Store opens the checkpoint store.
	Store bool
}

// runtime is everything a command needs, built from one Config.
type runtime struct {
	cfg    config.Config
	logger *logging.Logger
	log    *slog.Logger

	topo    *topology.Topology2D
	layer   *layer.Layer
	input   *inputmap.VectorInput
	mapping *inputmap.Mapping[int]

	store   *checkpoint.Store
	engine  *engine.Engine
	sinks   []engine.Sink
	stream  *engine.BroadcastSink
	metrics *telemetry.Metrics

	telemetry *telemetry.Providers
}

// newLogger maps the logging section onto pkg/logging.
func newLogger(cfg config.Config) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	format := logging.FormatAuto
	if cfg.Logging.JSON {
		format = logging.FormatJSON
	}
	return logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: cfg.Telemetry.ServiceName,
		Format:  format,
		Quiet:   cfg.Logging.Quiet,
	}), nil
}

// buildLattice creates the topology, the layer with random distal paths,
// the input vector and the lazily wired proximal mapping.
func buildLattice(cfg config.Config, logger *slog.Logger) (*topology.Topology2D, *layer.Layer, *inputmap.VectorInput, *inputmap.Mapping[int], error) {
	rule, err := topology.ParseEdgeRule(cfg.Lattice.EdgeRule)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	topo, err := topology.NewTopology2D(cfg.Lattice.Width, cfg.Lattice.Height, rule)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	policy, err := layer.ParseShortPathPolicy(cfg.Lattice.ShortPathPolicy)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	lcfg := layer.Config{
		Topology:         topo,
		CellsPerColumn:   cfg.Lattice.CellsPerColumn,
		DendritesPerCell: cfg.Lattice.DendritesPerCell,
		Logger:           logger,
	}
	if cfg.Lattice.DendritesPerCell > 0 {
		lcfg.Layout = &layer.RandomDistalLayout{
			Rng:     rand.New(rand.NewPCG(cfg.Lattice.Seed, layoutStream)),
			Length:  cfg.Lattice.DendriteLength,
			Policy:  policy,
			Retries: cfg.Lattice.ShortPathRetries,
			Logger:  logger,
		}
	}
	l, err := layer.New(lcfg)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("build layer: %w", err)
	}

	in := inputmap.NewVectorInput(cfg.Input.Size)
	m, err := inputmap.New(inputmap.Config[int]{
		Layer: l,
		Input: in,
		Factory: &inputmap.RandomSynapseFactory[int]{
			Rng:                 rand.New(rand.NewPCG(cfg.Input.Seed, synapseStream)),
			SynapsesPerDendrite: cfg.Input.SynapsesPerDendrite,
		},
		DefaultPermanence: cfg.Input.DefaultPermanence,
		Logger:            logger,
	})
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("build mapping: %w", err)
	}
	return topo, l, in, m, nil
}

// openStore opens BadgerDB as the storage section describes and wraps it
// in a checkpoint store.
func openStore(cfg config.Config, logger *slog.Logger) (*checkpoint.Store, error) {
	path, err := expandHome(cfg.Storage.Path)
	if err != nil {
		return nil, err
	}
	db, err := storage.Open(storage.Config{
		Path:           path,
		InMemory:       cfg.Storage.InMemory,
		SyncWrites:     true,
		Logger:         logger,
		GCInterval:     cfg.Storage.GCInterval,
		GCDiscardRatio: cfg.Storage.GCDiscardRatio,
	})
	if err != nil {
		return nil, err
	}
	store, err := checkpoint.NewStore(db, checkpoint.StoreConfig{
		CompressionLevel: cfg.Storage.CompressionLevel,
		Logger:           logger,
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expand %s: %w", path, err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// newRuntime builds the parts of the service selected by opts.
//
// Description:
//
//	The lattice itself is always built. Telemetry comes first so the
//	engine's instruments bind to the installed meter provider. On any
//	failure everything already built is closed.
//
// Inputs:
//
//	ctx - Used for telemetry and sink startup.
//	cfg - A validated configuration.
//	logger - Owned by the caller.
//	opts - Optional parts.
//
// Outputs:
//
//	*runtime - Call Close when done.
//	error - The first construction failure.
func newRuntime(ctx context.Context, cfg config.Config, logger *logging.Logger, opts runtimeOptions) (rt *runtime, err error) {
	rt = &runtime{cfg: cfg, logger: logger, log: logger.Slog()}
	defer func() {
		if err != nil {
			_ = rt.Close(context.Background())
			rt = nil
		}
	}()

	if opts.Telemetry && cfg.Telemetry.Enabled {
		tcfg := telemetry.DefaultConfig()
		tcfg.ServiceName = cfg.Telemetry.ServiceName
		tcfg.TraceExporter = cfg.Telemetry.TraceExporter
		tcfg.MetricExporter = cfg.Telemetry.MetricsExporter
		if cfg.Telemetry.OTLPEndpoint != "" {
			tcfg.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
		}
		tcfg.Attributes = map[string]string{
			"lattice.width":            strconv.Itoa(cfg.Lattice.Width),
			"lattice.height":           strconv.Itoa(cfg.Lattice.Height),
			"lattice.edge_rule":        cfg.Lattice.EdgeRule,
			"lattice.cells_per_column": strconv.Itoa(cfg.Lattice.CellsPerColumn),
		}
		if rt.telemetry, err = telemetry.Init(ctx, tcfg); err != nil {
			return rt, fmt.Errorf("init telemetry: %w", err)
		}
		rt.metrics = rt.telemetry.Metrics()
	}

	if rt.topo, rt.layer, rt.input, rt.mapping, err = buildLattice(cfg, rt.log); err != nil {
		return rt, err
	}

	if opts.Store || opts.Engine {
		if rt.store, err = openStore(cfg, rt.log); err != nil {
			return rt, fmt.Errorf("open checkpoint store: %w", err)
		}
	}

	if !opts.Engine {
		return rt, nil
	}

	rt.stream = engine.NewBroadcastSink()
	rt.sinks = append(rt.sinks, engine.NewLogSink(rt.log, 100), rt.stream)
	if cfg.Influx.Enabled {
		sink, err := engine.NewInfluxSink(ctx, engine.InfluxConfig{
			URL:           cfg.Influx.URL,
			Token:         cfg.Influx.Token,
			Org:           cfg.Influx.Org,
			Bucket:        cfg.Influx.Bucket,
			Tags:          map[string]string{"service": cfg.Telemetry.ServiceName},
			HealthTimeout: influxHealthTimeout,
		})
		if err != nil {
			return rt, fmt.Errorf("connect influx: %w", err)
		}
		rt.sinks = append(rt.sinks, sink)
	}

	source, err := engine.NewRandomSource(cfg.Input.Seed, cfg.Input.Density)
	if err != nil {
		return rt, err
	}
	ecfg := engine.Config{
		Layer:              rt.layer,
		Mapping:            rt.mapping,
		Input:              rt.input,
		Source:             source,
		ActiveColumns:      cfg.Engine.ActiveColumns,
		ConnectedThreshold: cfg.Input.ConnectedThreshold,
		CyclesPerSecond:    cfg.Engine.CyclesPerSecond,
		Burst:              cfg.Engine.Burst,
		Workers:            cfg.Engine.Workers,
		CheckpointEvery:    cfg.Engine.CheckpointEvery,
		KeepCheckpoints:    cfg.Storage.KeepCheckpoints,
		Sinks:              rt.sinks,
		Metrics:            rt.metrics,
		Logger:             rt.log,
	}
	if cfg.Engine.CheckpointEvery > 0 {
		ecfg.Checkpointer = rt.store
	}
	if rt.engine, err = engine.New(ecfg); err != nil {
		return rt, fmt.Errorf("build engine: %w", err)
	}
	return rt, nil
}

// Close releases sinks, the store and telemetry, in that order.
func (r *runtime) Close(ctx context.Context) error {
	var errs []error
	if err := engine.CloseSinks(r.sinks); err != nil {
		errs = append(errs, err)
	}
	r.sinks = nil
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	if r.telemetry != nil {
		if err := r.telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
		}
	}
	return errors.Join(errs...)
}

// restore applies a stored checkpoint to the freshly built lattice.
func (r *runtime) restore(ctx context.Context, ref string) (checkpoint.Metadata, error) {
	meta, err := resolveCheckpoint(ctx, r.store, ref)
	if err != nil {
		return checkpoint.Metadata{}, err
	}
	cp, err := r.store.Load(ctx, meta.ID)
	if err != nil {
		return checkpoint.Metadata{}, err
	}
	if err := checkpoint.Apply(ctx, cp, r.layer, r.mapping); err != nil {
		return checkpoint.Metadata{}, err
	}
	r.log.Info("checkpoint restored",
		slog.String("id", meta.ID.String()),
		slog.String("label", meta.Label),
		slog.Int64("generation", r.layer.Generation()))
	return meta, nil
}

// metricsHandler returns the Prometheus handler Init installed, if any.
func (r *runtime) metricsHandler() http.Handler {
	if r.telemetry == nil {
		return nil
	}
	return r.telemetry.Handler()
}
