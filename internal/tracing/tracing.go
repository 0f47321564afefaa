// Package tracing provides OpenTelemetry tracing for exportd.
package tracing

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	// TracerName is the name of the exportd tracer.
	TracerName = "github.com/RandaGharbi/Dar-Darkom-sub004"
)

// Config holds tracing configuration.
type Config struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"service_name"`
	Endpoint    string  `yaml:"endpoint"`    // OTLP/HTTP host:port
	SampleRate  float64 `yaml:"sample_rate"` // 0.0 to 1.0
}

// DefaultConfig returns the default tracing configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:     false,
		ServiceName: "exportd",
		Endpoint:    "localhost:4318",
		SampleRate:  1.0,
	}
}

var tracer trace.Tracer

func init() {
	tracer = otel.Tracer(TracerName)
}

// GetTracer returns the exportd tracer.
func GetTracer() trace.Tracer {
	return tracer
}

// SetTracer sets a custom tracer (useful for testing).
func SetTracer(t trace.Tracer) {
	tracer = t
}

// Span attributes for exportd operations.
var (
	AttrScheduleID   = attribute.Key("exportd.schedule.id")
	AttrScheduleName = attribute.Key("exportd.schedule.name")
	AttrReportType   = attribute.Key("exportd.report.type")
	AttrReportFormat = attribute.Key("exportd.report.format")
	AttrDueAt        = attribute.Key("exportd.schedule.due_at")
	AttrNextRun      = attribute.Key("exportd.schedule.next_run")
	AttrClaimOutcome = attribute.Key("exportd.claim.outcome")
	AttrFailureCount = attribute.Key("exportd.failure.count")
	AttrNodeID       = attribute.Key("exportd.node.id")
	AttrDueCount     = attribute.Key("exportd.cycle.due")
	AttrHTTPStatus   = attribute.Key("http.status_code")
)

// StartCycleSpan starts a span for one dispatch cycle.
func StartCycleSpan(ctx context.Context, nodeID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "dispatcher.cycle",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(AttrNodeID.String(nodeID)),
	)
}

// StartDispatchSpan starts a span for one schedule's execution and commit.
func StartDispatchSpan(ctx context.Context, scheduleID, name, reportType, format string, dueAt time.Time) (context.Context, trace.Span) {
	return tracer.Start(ctx, "dispatcher.dispatch",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			AttrScheduleID.String(scheduleID),
			AttrScheduleName.String(name),
			AttrReportType.String(reportType),
			AttrReportFormat.String(format),
			AttrDueAt.String(dueAt.Format(time.RFC3339)),
		),
	)
}

// StartExecutorSpan starts a span for a report executor stage (fetch, render, send).
func StartExecutorSpan(ctx context.Context, stage string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "executor."+stage,
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartAPISpan starts a span for API request handling.
func StartAPISpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "api."+operation,
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// RecordError records an error on the span.
func RecordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetSpanOK marks the span as successful.
func SetSpanOK(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// AddCommitAttributes adds the committed state to a dispatch span.
func AddCommitAttributes(span trace.Span, nextRun time.Time, failureCount int) {
	span.SetAttributes(
		AttrNextRun.String(nextRun.Format(time.RFC3339)),
		AttrFailureCount.Int(failureCount),
	)
}

// Propagator returns the context propagator for distributed tracing.
func Propagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
}

// ExtractHTTP extracts trace context from incoming request headers.
func ExtractHTTP(ctx context.Context, h http.Header) context.Context {
	return Propagator().Extract(ctx, propagation.HeaderCarrier(h))
}
