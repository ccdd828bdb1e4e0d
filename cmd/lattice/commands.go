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
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianLattice/pkg/logging"
	"github.com/AleutianAI/AleutianLattice/pkg/ux"
	"github.com/AleutianAI/AleutianLattice/services/lattice/api"
	"github.com/AleutianAI/AleutianLattice/services/lattice/config"
	"github.com/AleutianAI/AleutianLattice/services/lattice/topology"
	"github.com/AleutianAI/AleutianLattice/services/lattice/visitor"
)

const (
	influxHealthTimeout = 5 * time.Second
	shutdownTimeout     = 10 * time.Second
)

// cli holds the flags shared by every command and the loaded config.
type cli struct {
	configPath string
	output     string
	cfg        config.Config
	level      ux.Level
}

// printer returns a Printer for cmd's stdout at the chosen level.
func (c *cli) printer(cmd *cobra.Command) *ux.Printer {
	return ux.NewPrinter(cmd.OutOrStdout(), c.level)
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "lattice",
		Short:         "Build, run and inspect a neural-simulation lattice",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := ux.ParseLevel(c.output)
			if err != nil {
				return err
			}
			c.level = level
			if c.configPath == "" {
				c.configPath = os.Getenv("LATTICE_CONFIG")
			}
			cfg, err := config.Load(c.configPath)
			if err != nil {
				return err
			}
			c.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "config file (YAML or JSON); defaults to $LATTICE_CONFIG")
	root.PersistentFlags().StringVar(&c.output, "output", "auto", "output style: auto, rich, plain or machine")

	root.AddCommand(
		newRunCmd(c),
		newServeCmd(c),
		newWalkCmd(c),
		newCheckpointCmd(c),
	)
	return root
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// withRuntime loads a logger and runtime, runs fn, and tears both down.
func (c *cli) withRuntime(ctx context.Context, opts runtimeOptions, fn func(ctx context.Context, rt *runtime) error) error {
	logger, err := newLogger(c.cfg)
	if err != nil {
		return err
	}
	defer logger.Close()

	rt, err := newRuntime(ctx, c.cfg, logger, opts)
	if err != nil {
		logger.Error("startup failed", slog.String("error", err.Error()))
		return err
	}
	runErr := fn(ctx, rt)

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := rt.Close(closeCtx); err != nil {
		logger.Warn("shutdown incomplete", slog.String("error", err.Error()))
		if runErr == nil {
			runErr = err
		}
	}
	return runErr
}

// watchRate follows config file changes and applies the new cycle rate.
// Other settings need a restart.
func (c *cli) watchRate(ctx context.Context, rt *runtime) {
	if c.configPath == "" || rt.engine == nil {
		return
	}
	go func() {
		err := config.Watch(ctx, c.configPath, config.DefaultDebounce, func(next config.Config) {
			rt.engine.SetRate(next.Engine.CyclesPerSecond, next.Engine.Burst)
		}, rt.log)
		if err != nil {
			rt.log.Warn("config watch stopped", slog.String("error", err.Error()))
		}
	}()
}

// -----------------------------------------------------------------------------
// run
// -----------------------------------------------------------------------------

func newRunCmd(c *cli) *cobra.Command {
	var (
		cycles  int
		restore string
		watch   bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Step the engine until interrupted or --cycles complete",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return c.withRuntime(ctx, runtimeOptions{Engine: true, Telemetry: true}, func(ctx context.Context, rt *runtime) error {
				if restore != "" {
					if _, err := rt.restore(ctx, restore); err != nil {
						return fmt.Errorf("restore %s: %w", restore, err)
					}
				}
				if watch {
					c.watchRate(ctx, rt)
				}
				if err := rt.engine.Run(ctx, cycles); err != nil {
					return err
				}
				if st, ok := rt.engine.Stats(); ok {
					c.printer(cmd).Success("completed %d cycles; last: %d active columns, mean overlap %.2f",
						rt.engine.Cycle(), st.ActiveColumns, st.MeanOverlap)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&cycles, "cycles", "n", 0, "number of cycles; 0 runs until interrupted")
	cmd.Flags().StringVar(&restore, "restore", "", "checkpoint id, or \"latest\", to resume from")
	cmd.Flags().BoolVar(&watch, "watch", true, "apply cycle rate changes from the config file while running")
	return cmd
}

// -----------------------------------------------------------------------------
// serve
// -----------------------------------------------------------------------------

func newServeCmd(c *cli) *cobra.Command {
	var (
		addr    string
		run     bool
		restore string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the inspection API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = c.cfg.Server.Addr
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return c.withRuntime(ctx, runtimeOptions{Engine: true, Telemetry: true, Store: true}, func(ctx context.Context, rt *runtime) error {
				if restore != "" {
					if _, err := rt.restore(ctx, restore); err != nil {
						return fmt.Errorf("restore %s: %w", restore, err)
					}
				}
				return serve(ctx, rt, addr, run, c)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address; defaults to server.addr")
	cmd.Flags().BoolVar(&run, "run", false, "also run the engine continuously")
	cmd.Flags().StringVar(&restore, "restore", "", "checkpoint id, or \"latest\", to resume from")
	return cmd
}

func serve(ctx context.Context, rt *runtime, addr string, run bool, c *cli) error {
	gin.SetMode(gin.ReleaseMode)
	h, err := api.NewHandlers(api.Config{
		Layer:              rt.layer,
		Mapping:            rt.mapping,
		Engine:             rt.engine,
		Stream:             rt.stream,
		Store:              rt.store,
		ConnectedThreshold: rt.cfg.Input.ConnectedThreshold,
		Logger:             rt.log,
	})
	if err != nil {
		return err
	}
	router := api.NewRouter(h, api.RouterConfig{
		ServiceName:    rt.cfg.Telemetry.ServiceName,
		Metrics:        rt.metrics,
		MetricsHandler: rt.metricsHandler(),
		Logger:         rt.log,
	})
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		rt.log.Info("inspection API listening", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("listen %s: %w", addr, err)
		}
	}()
	if run {
		c.watchRate(ctx, rt)
		go func() {
			if err := rt.engine.Run(ctx, 0); err != nil {
				errCh <- fmt.Errorf("engine: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		rt.log.Warn("http shutdown", slog.String("error", err.Error()))
	}
	rt.log.Info("inspection API stopped")
	return runErr
}

// -----------------------------------------------------------------------------
// walk
// -----------------------------------------------------------------------------

func newWalkCmd(c *cli) *cobra.Command {
	var (
		x, y       int
		cell, slot int
	)
	cmd := &cobra.Command{
		Use:   "walk [PATH]",
		Short: "Print the columns a path visits on the configured grid",
		Long: `Replays PATH (comma separated directions such as UP,RIGHT,DOWN_LEFT)
from --x,--y. With --cell instead of PATH, replays that cell's distal
path from its own column.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := c.printer(cmd)
			if len(args) == 1 {
				topo, err := gridFor(c.cfg)
				if err != nil {
					return err
				}
				p, err := topology.ParsePath(args[0])
				if err != nil {
					return err
				}
				start := topology.Coordinate2D{X: x, Y: y}
				if !topo.IsValid(start) {
					return fmt.Errorf("%w: start %v outside %v", topology.ErrInvalidExtents, start, topo.Extents())
				}
				return printWalk(out, topo, start, p)
			}
			if cell < 0 {
				return errors.New("give a PATH or --cell")
			}
			logger := logging.Discard()
			topo, l, _, _, err := buildLattice(c.cfg, logger)
			if err != nil {
				return err
			}
			p, ok := l.Path(cell, slot)
			if !ok {
				return fmt.Errorf("no distal segment %d on cell %d", slot, cell)
			}
			col, _ := topo.CoordinateForIndex(cell / l.CellsPerColumn())
			return printWalk(out, topo, col, p)
		},
	}
	cmd.Flags().IntVar(&x, "x", 0, "start column x")
	cmd.Flags().IntVar(&y, "y", 0, "start column y")
	cmd.Flags().IntVar(&cell, "cell", -1, "cell whose distal path to replay")
	cmd.Flags().IntVar(&slot, "slot", 0, "distal segment slot of --cell")
	return cmd
}

func gridFor(cfg config.Config) (*topology.Topology2D, error) {
	rule, err := topology.ParseEdgeRule(cfg.Lattice.EdgeRule)
	if err != nil {
		return nil, err
	}
	return topology.NewTopology2D(cfg.Lattice.Width, cfg.Lattice.Height, rule)
}

func printWalk(out *ux.Printer, topo *topology.Topology2D, start topology.Coordinate2D, p topology.Path) error {
	out.Info("path %s from %s on %s", p, start, topo)
	rows := make([][]string, 0, p.Len())
	topo.Walk(start, p, visitor.Continue(func(at topology.Coordinate2D) {
		step := len(rows)
		rows = append(rows, []string{
			strconv.Itoa(step), p.At(step).String(), at.String(), strconv.Itoa(topo.ToIndex(at)),
		})
	}))
	return out.Table([]string{"STEP", "DIRECTION", "COORDINATE", "COLUMN"}, rows)
}
