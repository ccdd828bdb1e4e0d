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
	"context"
	"runtime"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianLattice/services/lattice/visitor"
)

const (
	// parallelThreshold is the column count below which ParallelVisitColumns
	// runs sequentially.
	parallelThreshold = 64

	// maxParallelWorkers caps the worker count regardless of CPU count.
	maxParallelWorkers = 16
)

// ParallelVisitColumns shards the columns into contiguous ranges and visits
// each range on its own goroutine.
//
// Description:
//
//	Intended for the read-only inference phase of a cycle. fn is called
//	concurrently and must not mutate the view's snapshot. If fn reads layer
//	state, use a view of a captured snapshot or hold Read for the duration.
//	Within a shard columns are visited in index order; across shards there
//	is no ordering. A Done from any shard stops every shard at its next
//	column.
//
// Inputs:
//
//	ctx - Cancellation stops all shards; the context error is returned.
//	workers - Shard count. Non-positive selects GOMAXPROCS, capped at 16.
//	fn - Column callback, safe for concurrent use.
//
// Outputs:
//
//	visitor.Result - Done if any callback stopped, NoVisits for an empty
//	layer, NotDone otherwise.
//	error - Context error, if any.
func (v View) ParallelVisitColumns(ctx context.Context, workers int, fn visitor.Func[Column]) (visitor.Result, error) {
	n := v.layer.columnCount
	if n == 0 {
		return visitor.NoVisits, nil
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	workers = min(workers, maxParallelWorkers, n)

	ctx, span := tracer.Start(ctx, "lattice.View.ParallelVisitColumns",
		trace.WithAttributes(
			attribute.Int("columns", n),
			attribute.Int("workers", workers),
		),
	)
	defer span.End()

	if n < parallelThreshold || workers == 1 {
		if err := ctx.Err(); err != nil {
			return visitor.NoVisits, err
		}
		r := v.VisitColumns(fn)
		if r == visitor.Done {
			return visitor.Done, nil
		}
		return visitor.NotDone, nil
	}

	var stopped atomic.Bool
	g, gctx := errgroup.WithContext(ctx)
	chunk := (n + workers - 1) / workers
	for from := 0; from < n; from += chunk {
		to := min(from+chunk, n)
		g.Go(func() error {
			for i := from; i < to; i++ {
				if stopped.Load() {
					return nil
				}
				if (i-from)%256 == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				if fn(Column{view: v, index: i}) == visitor.Done {
					stopped.Store(true)
					return nil
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "parallel column visit cancelled")
		return visitor.NotDone, err
	}
	if stopped.Load() {
		span.SetAttributes(attribute.Bool("stopped", true))
		return visitor.Done, nil
	}
	return visitor.NotDone, nil
}
