// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry wires the OpenTelemetry SDK for the lattice service.
//
// Init installs global tracer and meter providers so packages keep calling
// otel.Tracer and otel.Meter directly. The returned Providers owns the
// exporters, the cycle instruments and, with Prometheus, a /metrics
// handler that also serves the promauto collectors of the layer and
// checkpoint packages.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Exporter names accepted in Config.
const (
	ExporterNone       = "none"
	ExporterOTLP       = "otlp"
	ExporterStdout     = "stdout"
	ExporterPrometheus = "prometheus"
)

// InstrumentationName is the meter name the cycle instruments use.
const InstrumentationName = "lattice"

var (
	// ErrNilContext is returned by Init when ctx is nil.
	ErrNilContext = errors.New("telemetry: nil context")

	// ErrUnknownExporter is returned for an exporter name Init does not know.
	ErrUnknownExporter = errors.New("telemetry: unknown exporter")
)

// Config selects exporters and describes the service.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	// Attributes are added to the resource, e.g. lattice dimensions.
	Attributes map[string]string

	// TraceExporter is "otlp", "stdout" or "none".
	TraceExporter string

	// MetricExporter is "prometheus", "stdout" or "none".
	MetricExporter string

	// OTLPEndpoint is host:port of the OTLP gRPC receiver.
	OTLPEndpoint string

	// OTLPInsecure dials the receiver without TLS.
	OTLPInsecure bool

	// SampleRatio samples root spans at this ratio. Zero or >= 1 samples
	// everything.
	SampleRatio float64

	// Writer receives stdout exporter output. Defaults to os.Stdout.
	Writer io.Writer
}

// DefaultConfig returns a development configuration: no trace export and
// Prometheus metrics.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "aleutian-lattice",
		ServiceVersion: "0.1.0",
		Environment:    "development",
		TraceExporter:  ExporterNone,
		MetricExporter: ExporterPrometheus,
		OTLPEndpoint:   "localhost:4317",
		OTLPInsecure:   true,
	}
}

// Providers is what Init installed.
//
// Thread Safety: Safe for concurrent use. Shutdown is idempotent.
type Providers struct {
	traces  *sdktrace.TracerProvider
	metrics *sdkmetric.MeterProvider
	handler http.Handler
	inst    *Metrics

	once        sync.Once
	shutdownErr error
}

// Init installs the global providers described by cfg.
//
// Description:
//
//	Builds one resource from the service identity and cfg.Attributes,
//	then a TracerProvider and MeterProvider for the selected exporters.
//	"none" leaves that global provider untouched. The cycle instruments
//	are registered against the new meter provider, or a no-op meter when
//	metrics are off.
//
// Inputs:
//
//	ctx - Used when dialing the OTLP exporter. Must not be nil.
//	cfg - Exporter selection.
//
// Outputs:
//
//	*Providers - Call Shutdown to flush and stop exporters.
//	error - ErrNilContext, ErrUnknownExporter or an exporter failure.
//
// Thread Safety: Call once at startup.
func Init(ctx context.Context, cfg Config) (*Providers, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}
	res, err := newResource(cfg)
	if err != nil {
		return nil, err
	}

	p := &Providers{}
	if name := cfg.TraceExporter; name != "" && name != ExporterNone {
		if p.traces, err = newTracerProvider(ctx, cfg, res); err != nil {
			return nil, fmt.Errorf("init tracer: %w", err)
		}
		otel.SetTracerProvider(p.traces)
	}
	if name := cfg.MetricExporter; name != "" && name != ExporterNone {
		if p.metrics, p.handler, err = newMeterProvider(cfg, res); err != nil {
			_ = p.Shutdown(ctx)
			return nil, fmt.Errorf("init meter: %w", err)
		}
		otel.SetMeterProvider(p.metrics)
	}

	meter := noop.NewMeterProvider().Meter(InstrumentationName)
	if p.metrics != nil {
		meter = p.metrics.Meter(InstrumentationName)
	}
	if p.inst, err = NewMetrics(meter); err != nil {
		_ = p.Shutdown(ctx)
		return nil, err
	}
	return p, nil
}

// Metrics returns the cycle instruments. Never nil after Init.
func (p *Providers) Metrics() *Metrics { return p.inst }

// Handler returns the Prometheus /metrics handler, or nil unless the
// Prometheus exporter is installed.
func (p *Providers) Handler() http.Handler { return p.handler }

// Shutdown flushes and stops every installed provider.
func (p *Providers) Shutdown(ctx context.Context) error {
	p.once.Do(func() {
		var errs []error
		if p.traces != nil {
			if err := p.traces.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider: %w", err))
			}
		}
		if p.metrics != nil {
			if err := p.metrics.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("meter provider: %w", err))
			}
		}
		p.shutdownErr = errors.Join(errs...)
	})
	return p.shutdownErr
}

// newResource merges the SDK defaults with the service identity. Extra
// attributes are added in key order.
func newResource(cfg Config) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
		attribute.String("deployment.environment", cfg.Environment),
	}
	keys := make([]string, 0, len(cfg.Attributes))
	for k := range cfg.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, attribute.String(k, cfg.Attributes[k]))
	}
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(attrs...))
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}
	return res, nil
}

func sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

func newTracerProvider(ctx context.Context, cfg Config, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	var (
		exp sdktrace.SpanExporter
		err error
	)
	switch cfg.TraceExporter {
	case ExporterOTLP:
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts,
				otlptracegrpc.WithInsecure(),
				otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
			)
		}
		exp, err = otlptracegrpc.New(ctx, opts...)
	case ExporterStdout:
		exp, err = stdouttrace.New(stdouttrace.WithWriter(cfg.Writer))
	default:
		return nil, fmt.Errorf("%w: trace exporter %q", ErrUnknownExporter, cfg.TraceExporter)
	}
	if err != nil {
		return nil, fmt.Errorf("%s span exporter: %w", cfg.TraceExporter, err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
	), nil
}

// newMeterProvider builds the meter provider. The Prometheus exporter gets
// a private registry; its handler gathers from that registry and the
// default one, where promauto collectors live.
func newMeterProvider(cfg Config, res *resource.Resource) (*sdkmetric.MeterProvider, http.Handler, error) {
	switch cfg.MetricExporter {
	case ExporterPrometheus:
		reg := prometheus.NewRegistry()
		exp, err := promexporter.New(promexporter.WithRegisterer(reg))
		if err != nil {
			return nil, nil, fmt.Errorf("prometheus exporter: %w", err)
		}
		handler := promhttp.HandlerFor(
			prometheus.Gatherers{reg, prometheus.DefaultGatherer},
			promhttp.HandlerOpts{},
		)
		mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(exp))
		return mp, handler, nil

	case ExporterStdout:
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(cfg.Writer))
		if err != nil {
			return nil, nil, fmt.Errorf("stdout metric exporter: %w", err)
		}
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)),
		)
		return mp, nil, nil

	default:
		return nil, nil, fmt.Errorf("%w: metric exporter %q", ErrUnknownExporter, cfg.MetricExporter)
	}
}
