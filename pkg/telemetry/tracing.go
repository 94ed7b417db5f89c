package telemetry

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const (
	serviceName    = "pam-core"
	serviceVersion = "1.0.0"
)

var (
	tracer oteltrace.Tracer
)

// TracingConfig holds configuration for tracing
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled" json:"enabled"`
	Exporter    string  `yaml:"exporter" json:"exporter"` // "otlp", "console"
	Endpoint    string  `yaml:"endpoint" json:"endpoint"`
	ServiceName string  `yaml:"serviceName" json:"serviceName"`
	Environment string  `yaml:"environment" json:"environment"`
	SampleRate  float64 `yaml:"sampleRate" json:"sampleRate"`
}

// InitTracing initializes OpenTelemetry tracing
func InitTracing(ctx context.Context, config TracingConfig) (*trace.TracerProvider, error) {
	if !config.Enabled {
		// Return a no-op tracer provider
		tp := trace.NewTracerProvider()
		otel.SetTracerProvider(tp)
		tracer = tp.Tracer(serviceName)
		return tp, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(getServiceName(config.ServiceName)),
			semconv.ServiceVersion(serviceVersion),
			semconv.DeploymentEnvironment(getEnvironment(config.Environment)),
			attribute.String("component", "pam-core"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := createOTLPExporter(ctx, config.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	sampleRate := config.SampleRate
	if sampleRate <= 0 {
		sampleRate = 0.1 // Default 10% sampling
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(trace.TraceIDRatioBased(sampleRate)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	tracer = tp.Tracer(serviceName)

	return tp, nil
}

func createOTLPExporter(ctx context.Context, endpoint string) (trace.SpanExporter, error) {
	if endpoint == "" {
		endpoint = "localhost:4317"
	}

	return otlptrace.New(ctx, otlptracegrpc.NewClient(
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	))
}

func getServiceName(configName string) string {
	if configName != "" {
		return configName
	}
	if name := os.Getenv("OTEL_SERVICE_NAME"); name != "" {
		return name
	}
	return serviceName
}

func getEnvironment(configEnv string) string {
	if configEnv != "" {
		return configEnv
	}
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		return env
	}
	return "development"
}

// Span helper functions

// StartSpan starts a new span with the given name and attributes
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	return tracer.Start(ctx, name, oteltrace.WithAttributes(attrs...))
}

// StartElevationSpan starts a span for elevation request operations
func StartElevationSpan(ctx context.Context, operation, requester, roleID string) (context.Context, oteltrace.Span) {
	return tracer.Start(ctx, fmt.Sprintf("elevation.%s", operation),
		oteltrace.WithAttributes(
			attribute.String("pam.operation", operation),
			attribute.String("pam.requester", requester),
			attribute.String("pam.role_id", roleID),
			attribute.String("pam.component", "elevation"),
		),
	)
}

// StartMFASpan starts a span for MFA challenge operations
func StartMFASpan(ctx context.Context, operation, challengeID string) (context.Context, oteltrace.Span) {
	return tracer.Start(ctx, fmt.Sprintf("mfa.%s", operation),
		oteltrace.WithAttributes(
			attribute.String("pam.operation", operation),
			attribute.String("pam.challenge_id", challengeID),
			attribute.String("pam.component", "mfa"),
		),
	)
}

// StartSessionSpan starts a span for privileged session operations
func StartSessionSpan(ctx context.Context, operation, sessionID string) (context.Context, oteltrace.Span) {
	return tracer.Start(ctx, fmt.Sprintf("session.%s", operation),
		oteltrace.WithAttributes(
			attribute.String("pam.operation", operation),
			attribute.String("pam.session_id", sessionID),
			attribute.String("pam.component", "session"),
		),
	)
}

// StartDutySpan starts a span for separation-of-duties checks
func StartDutySpan(ctx context.Context, operation, principal, category string) (context.Context, oteltrace.Span) {
	return tracer.Start(ctx, fmt.Sprintf("duty.%s", operation),
		oteltrace.WithAttributes(
			attribute.String("pam.operation", operation),
			attribute.String("pam.principal", principal),
			attribute.String("pam.category", category),
			attribute.String("pam.component", "duty"),
		),
	)
}

// Span event and status helper functions

// AddSpanEvent adds an event to the current span
func AddSpanEvent(span oteltrace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, oteltrace.WithAttributes(attrs...))
}

// SetSpanStatus sets the status of a span
func SetSpanStatus(span oteltrace.Span, err error, message string) {
	if err != nil {
		span.SetStatus(codes.Error, message)
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, message)
	}
}

// SetSpanAttributes sets attributes on a span
func SetSpanAttributes(span oteltrace.Span, attrs ...attribute.KeyValue) {
	span.SetAttributes(attrs...)
}

// Common attribute helpers

func PrincipalAttributes(principal string, roles []string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("pam.principal", principal),
		attribute.StringSlice("pam.roles", roles),
	}
}

func RequestAttributes(requestID, reason, duration string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("pam.request_id", requestID),
		attribute.String("pam.reason", reason),
		attribute.String("pam.duration", duration),
	}
}

func RiskAttributes(score int, factors []string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int("pam.risk_score", score),
		attribute.StringSlice("pam.risk_factors", factors),
	}
}

// Instrumentation helpers for common operations

// InstrumentElevation wraps elevation lifecycle operations with tracing
func InstrumentElevation(ctx context.Context, operation, requester, roleID string, fn func(context.Context) error) error {
	ctx, span := StartElevationSpan(ctx, operation, requester, roleID)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	duration := time.Since(start)

	span.SetAttributes(attribute.Int64("pam.duration_ms", duration.Milliseconds()))

	if err != nil {
		SetSpanStatus(span, err, fmt.Sprintf("Elevation %s failed", operation))
		return err
	}

	SetSpanStatus(span, nil, fmt.Sprintf("Elevation %s succeeded", operation))
	return nil
}

// InstrumentDutyCheck wraps conflict detection with tracing
func InstrumentDutyCheck(ctx context.Context, principal, category string, fn func(context.Context) error) error {
	ctx, span := StartDutySpan(ctx, "authorize", principal, category)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	duration := time.Since(start)

	span.SetAttributes(attribute.Int64("pam.duration_ms", duration.Milliseconds()))

	if err != nil {
		SetSpanStatus(span, err, "Duty authorization failed")
		return err
	}

	SetSpanStatus(span, nil, "Duty authorization succeeded")
	return nil
}

// TraceID returns the trace ID from the current span context
func TraceID(ctx context.Context) string {
	span := oteltrace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		return span.SpanContext().TraceID().String()
	}
	return ""
}

// SpanID returns the span ID from the current span context
func SpanID(ctx context.Context) string {
	span := oteltrace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		return span.SpanContext().SpanID().String()
	}
	return ""
}

// Context propagation helpers

// InjectTraceContext injects trace context into a map (for HTTP headers, etc.)
func InjectTraceContext(ctx context.Context, carrier map[string]string) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(carrier))
}

// ExtractTraceContext extracts trace context from a map
func ExtractTraceContext(ctx context.Context, carrier map[string]string) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(carrier))
}
