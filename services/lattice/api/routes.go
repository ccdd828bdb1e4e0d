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
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/AleutianLattice/services/lattice/telemetry"
)

// RegisterRoutes mounts the lattice endpoints under rg.
//
// Endpoints:
//
//	GET  /lattice/health
//	GET  /lattice/stats
//	GET  /lattice/columns/:index
//	GET  /lattice/cells/:pos
//	GET  /lattice/cells/:pos/segments/:slot
//	POST /lattice/cycles
//	GET  /lattice/stream
//	GET  /lattice/checkpoints
//	POST /lattice/checkpoints
//	POST /lattice/checkpoints/:id/restore
func RegisterRoutes(rg *gin.RouterGroup, h *Handlers) {
	lattice := rg.Group("/lattice")
	{
		lattice.GET("/health", h.HandleHealth)
		lattice.GET("/stats", h.HandleStats)

		// Flyweight inspection
		lattice.GET("/columns/:index", h.HandleColumn)
		lattice.GET("/cells/:pos", h.HandleCell)
		lattice.GET("/cells/:pos/segments/:slot", h.HandleSegment)

		// Driving
		lattice.POST("/cycles", h.HandleCycles)
		lattice.GET("/stream", h.HandleStream)

		// Checkpoints
		lattice.GET("/checkpoints", h.HandleListCheckpoints)
		lattice.POST("/checkpoints", h.HandleCreateCheckpoint)
		lattice.POST("/checkpoints/:id/restore", h.HandleRestoreCheckpoint)
	}
}

// RouterConfig configures NewRouter.
type RouterConfig struct {
	// ServiceName names the otelgin server spans.
	ServiceName string

	// Metrics, when set, counts requests per route and status.
	Metrics *telemetry.Metrics

	// MetricsHandler serves GET /metrics. Nil selects promhttp.Handler.
	MetricsHandler http.Handler

	Logger *slog.Logger
}

// NewRouter builds a gin engine with recovery, tracing, request logging,
// the /v1 routes and /metrics.
func NewRouter(h *Handlers, cfg RouterConfig) *gin.Engine {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "aleutian-lattice"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(requestLogger(cfg.Logger, cfg.Metrics))

	RegisterRoutes(router.Group("/v1"), h)

	metricsHandler := cfg.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	router.GET("/metrics", gin.WrapH(metricsHandler))
	return router
}

// requestLogger tags each request with an X-Request-ID and logs it at
// Debug, or at Warn for 5xx responses.
func requestLogger(logger *slog.Logger, metrics *telemetry.Metrics) gin.HandlerFunc {
	logger = logger.With(slog.String("component", "lattice.api"))
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-ID", requestID)

		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		if metrics != nil {
			metrics.HTTPRequestsTotal.Add(c.Request.Context(), 1, metric.WithAttributes(
				attribute.String("route", route),
				attribute.String("status", strconv.Itoa(status)),
			))
		}
		level := slog.LevelDebug
		if status >= 500 {
			level = slog.LevelWarn
		}
		telemetry.LoggerWithTrace(c.Request.Context(), logger).Log(c.Request.Context(), level, "request",
			slog.String("request_id", requestID),
			slog.String("method", c.Request.Method),
			slog.String("route", route),
			slog.Int("status", status),
			slog.Duration("duration", time.Since(start)),
		)
	}
}
