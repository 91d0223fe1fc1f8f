// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

// Package telemetry provides OpenTelemetry tracing initialization for the
// relay and a gin middleware that opens a server span per request.
package telemetry

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/telekom/signature-relay/pkg/config"
)

// DefaultServiceName is the service.name used when none is configured.
const DefaultServiceName = "signature-relay"

// Supported span exporters.
const (
	ExporterOTLP   = "otlp"
	ExporterStdout = "stdout"
	ExporterNone   = "none"
)

// Options configures the OpenTelemetry TracerProvider.
type Options struct {
	// Enabled installs a real provider. Otherwise a no-op provider is used.
	Enabled bool

	// ServiceName defaults to "signature-relay".
	ServiceName    string
	ServiceVersion string

	// Exporter is one of otlp (default), stdout or none. With none, spans
	// are sampled and ended but never exported.
	Exporter string

	// Endpoint and Insecure configure the OTLP gRPC connection.
	Endpoint string
	Insecure bool
	// Headers are sent with every OTLP export, e.g. collector credentials.
	Headers map[string]string

	// SamplingRate is the root span sampling probability. Zero means 1.0.
	SamplingRate float64

	Logger *zap.SugaredLogger
}

// ShutdownFunc flushes pending spans and stops the provider.
type ShutdownFunc func(ctx context.Context) error

// Init installs the global TracerProvider and the W3C trace context and
// baggage propagators. The returned ShutdownFunc must run on exit.
func Init(ctx context.Context, opts Options) (trace.TracerProvider, ShutdownFunc, error) {
	if !opts.Enabled {
		tp := noop.NewTracerProvider()
		otel.SetTracerProvider(tp)
		return tp, func(context.Context) error { return nil }, nil
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if opts.ServiceName == "" {
		opts.ServiceName = DefaultServiceName
	}
	rate := clampSamplingRate(opts.SamplingRate, log)

	res, err := newResource(opts)
	if err != nil {
		return nil, nil, err
	}
	exporter, err := newExporter(ctx, opts)
	if err != nil {
		return nil, nil, err
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))),
	}
	if exporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		log.Warnw("OpenTelemetry internal error", "error", err)
	}))

	log.Infow("Tracing enabled",
		"serviceName", opts.ServiceName,
		"exporter", exporterName(opts.Exporter),
		"endpoint", opts.Endpoint,
		"samplingRate", rate)

	return tp, func(ctx context.Context) error {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return tp.Shutdown(shutdownCtx)
	}, nil
}

func exporterName(name string) string {
	if name == "" {
		return ExporterOTLP
	}
	return name
}

func clampSamplingRate(rate float64, log *zap.SugaredLogger) float64 {
	switch {
	case rate == 0:
		return 1
	case rate < 0 || rate > 1:
		log.Warnw("Sampling rate out of range, sampling everything", "provided", rate)
		return 1
	default:
		return rate
	}
}

func newResource(opts Options) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		attribute.String("service.name", opts.ServiceName),
		attribute.String("service.version", opts.ServiceVersion),
	}
	if host, err := os.Hostname(); err == nil {
		attrs = append(attrs, attribute.String("service.instance.id", host))
	}
	// Schemaless so the merge never conflicts with the default schema URL.
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(attrs...))
	if err != nil {
		return nil, fmt.Errorf("creating OTel resource: %w", err)
	}
	return res, nil
}

// newExporter returns a nil exporter for ExporterNone.
func newExporter(ctx context.Context, opts Options) (sdktrace.SpanExporter, error) {
	switch exporterName(opts.Exporter) {
	case ExporterOTLP:
		grpcOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(opts.Endpoint)}
		if opts.Insecure {
			grpcOpts = append(grpcOpts, otlptracegrpc.WithInsecure())
		}
		if len(opts.Headers) > 0 {
			grpcOpts = append(grpcOpts, otlptracegrpc.WithHeaders(opts.Headers))
		}
		exp, err := otlptracegrpc.New(ctx, grpcOpts...)
		if err != nil {
			return nil, fmt.Errorf("creating OTLP gRPC exporter: %w", err)
		}
		return exp, nil
	case ExporterStdout:
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("creating stdout exporter: %w", err)
		}
		return exp, nil
	case ExporterNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown OTel exporter %q: supported values are otlp, stdout, none", opts.Exporter)
	}
}

// OptionsFromConfig maps the telemetry section of the relay configuration.
func OptionsFromConfig(cfg config.Telemetry, serviceVersion string, log *zap.SugaredLogger) Options {
	return Options{
		Enabled:        cfg.Enabled,
		ServiceName:    DefaultServiceName,
		ServiceVersion: serviceVersion,
		Exporter:       cfg.Exporter,
		Endpoint:       cfg.Endpoint,
		Insecure:       cfg.Insecure,
		Headers:        cfg.Headers,
		SamplingRate:   cfg.SamplingRate,
		Logger:         log,
	}
}
