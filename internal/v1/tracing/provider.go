// Package tracing wires the relay into an optional OpenTelemetry collector.
// Tracing is off by default (see cmd/relay/main.go) — a relay session is one
// producer streaming audio for minutes at a time through dozens of short gin
// requests (upgrade, REST room lookups) plus two long-lived WebSocket
// upgrades; the spans otelgin emits around those HTTP/WS upgrade handlers
// are what's useful here, not per-audio-frame tracing, so there is no
// manual span creation inside room/transcription/transport.
package tracing

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

// defaultSampleRatio traces every request unless OTEL_TRACE_SAMPLE_RATIO
// narrows it — a relay process handles far fewer requests per unit time
// than the video-conferencing control plane this package is adapted from,
// so there is no default need to downsample.
const defaultSampleRatio = 1.0

// InitTracer dials collectorAddr over gRPC and installs the resulting
// exporter as the global TracerProvider. environment is stamped onto every
// span's resource (deployment.environment) so a shared collector can
// separate staging relay traces from production ones.
func InitTracer(ctx context.Context, serviceName, environment, collectorAddr string) (*sdktrace.TracerProvider, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	// OTEL_INSECURE_SKIP_VERIFY exists for the common local-dev shape of this
	// relay: a collector sidecar on localhost or a docker-compose network
	// presenting a self-signed cert. It must never be set in a deployment
	// that sends spans over a real network.
	if os.Getenv("OTEL_INSECURE_SKIP_VERIFY") == "true" {
		tlsConfig.InsecureSkipVerify = true
	}

	creds := credentials.NewTLS(tlsConfig)
	conn, err := grpc.NewClient(collectorAddr, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC client to collector: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(serviceName),
			semconv.DeploymentEnvironmentKey.String(environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	sampler := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRatio()))

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(tp)

	// W3C TraceContext/Baggage propagation: the relay itself never calls
	// downstream HTTP services that would need a trace header propagated
	// (the transcription backend speaks a raw WebSocket handshake, not
	// traceparent headers), but otelgin still needs a propagator registered
	// to read an inbound traceparent from a caller's REST request.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp, nil
}

// sampleRatio reads OTEL_TRACE_SAMPLE_RATIO (0.0-1.0), falling back to
// defaultSampleRatio on an absent or malformed value.
func sampleRatio() float64 {
	raw := os.Getenv("OTEL_TRACE_SAMPLE_RATIO")
	if raw == "" {
		return defaultSampleRatio
	}
	ratio, err := strconv.ParseFloat(raw, 64)
	if err != nil || ratio < 0 || ratio > 1 {
		return defaultSampleRatio
	}
	return ratio
}
