// Package tracing wires the relay into an OTLP collector over gRPC.
package tracing

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// InitTracer builds a TracerProvider exporting to the collector at
// collectorAddr and installs it as the global provider. The caller owns the
// returned provider and must Shutdown it on exit to flush pending spans.
func InitTracer(ctx context.Context, serviceName string, collectorAddr string) (*sdktrace.TracerProvider, error) {
	conn, err := dialCollector(collectorAddr)
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
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)

	// W3C TraceContext plus Baggage so correlation survives hops through
	// gateways that speak either.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp, nil
}

// dialCollector connects to the collector with TLS by default. Local
// collectors without certificates can opt into plaintext or skip
// verification via environment toggles.
func dialCollector(collectorAddr string) (*grpc.ClientConn, error) {
	if os.Getenv("OTEL_EXPORTER_INSECURE") == "true" {
		return grpc.NewClient(collectorAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}
	if os.Getenv("OTEL_INSECURE_SKIP_VERIFY") == "true" {
		tlsConfig.InsecureSkipVerify = true
	}

	return grpc.NewClient(collectorAddr, grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)))
}
