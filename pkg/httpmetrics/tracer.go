/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package httpmetrics

import (
	"context"

	"cloud.google.com/go/compute/metadata"
	texporter "github.com/GoogleCloudPlatform/opentelemetry-operations-go/exporter/trace"
	"github.com/chainguard-dev/clog"
	"github.com/sethvargo/go-envconfig"
	"go.opentelemetry.io/contrib/detectors/gcp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/api/option"
)

func tracerOptionsGCP(ctx context.Context) []trace.TracerProviderOption {
	traceExporter, err := texporter.New(
		// Avoid infinite recursion in trace uploads
		//   https://github.com/open-telemetry/opentelemetry-go/issues/1928
		texporter.WithTraceClientOptions([]option.ClientOption{option.WithTelemetryDisabled()}),
	)
	if err != nil {
		clog.FromContext(ctx).Fatalf("tracerOptionsGCP() = %v", err)
	}
	res, err := resource.New(ctx,
		resource.WithDetectors(gcp.NewDetector()),
		resource.WithTelemetrySDK(),
	)
	if err != nil {
		clog.FromContext(ctx).Fatalf("tracerOptionsGCP() = %v", err)
	}
	return []trace.TracerProviderOption{
		trace.WithResource(res),
		trace.WithBatcher(traceExporter),
		trace.WithSampler(trace.AlwaysSample()),
	}
}

func tracerOptions(ctx context.Context) []trace.TracerProviderOption {
	traceExporter, err := otlptracehttp.New(ctx)
	if err != nil {
		clog.FromContext(ctx).Fatalf("tracerOptions() = %v", err)
	}
	return []trace.TracerProviderOption{
		trace.WithResource(resource.Default()),
		trace.WithBatcher(traceExporter),
	}
}

// useCloudTrace reports whether spans go straight to Cloud Trace: only on GCP,
// and only when no OTLP collector is configured.
func useCloudTrace(endpoint, projectID string) bool {
	return endpoint == "" && projectID != ""
}

// SetupTracer installs the global tracer provider and propagators. On GCP
// without an OTEL_EXPORTER_OTLP_TRACES_ENDPOINT, spans are uploaded to Cloud
// Trace; otherwise they are exported over OTLP/HTTP.
//
// Expected usage:
//
//	defer httpmetrics.SetupTracer(ctx)()
func SetupTracer(ctx context.Context) func() {
	var cfg struct {
		Endpoint string `env:"OTEL_EXPORTER_OTLP_TRACES_ENDPOINT"`
	}
	if err := envconfig.Process(ctx, &cfg); err != nil {
		clog.FromContext(ctx).Fatalf("SetupTracer() = %v", err)
	}

	var projectID string
	if metadata.OnGCE() {
		projectID, _ = metadata.ProjectIDWithContext(ctx)
	}

	var options []trace.TracerProviderOption
	if useCloudTrace(cfg.Endpoint, projectID) {
		options = tracerOptionsGCP(ctx)
	} else {
		options = tracerOptions(ctx)
	}
	tp := trace.NewTracerProvider(options...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return func() {
		if err := tp.Shutdown(context.WithoutCancel(ctx)); err != nil {
			clog.FromContext(ctx).Infof("Error shutting down tracer provider: %v", err)
		}
	}
}
