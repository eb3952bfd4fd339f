// Package telemetry provides the Logger/Tracer seam the rest of the
// repository logs and traces through, plus the observation recorder that
// turns per-request start/complete/error events into counters, gauges, and
// latency/queue-wait histograms, renderable as Prometheus text exposition
// or an OpenTelemetry snapshot.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Logger is the structured logging seam every package in this repository
// logs through, so the concrete backend (ClueLogger, NoopLogger, or a test
// double) is swappable without touching call sites.
type Logger interface {
	Debug(ctx context.Context, msg string, keyvals ...any)
	Info(ctx context.Context, msg string, keyvals ...any)
	Warn(ctx context.Context, msg string, keyvals ...any)
	Error(ctx context.Context, msg string, keyvals ...any)
}

// Span is a single tracing span.
type Span interface {
	End(opts ...trace.SpanEndOption)
	AddEvent(name string, attrs ...any)
	SetStatus(code codes.Code, description string)
	RecordError(err error, opts ...trace.EventOption)
}

// Tracer starts and retrieves spans.
type Tracer interface {
	Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
	Span(ctx context.Context) Span
}

// RequestInfo is the subset of an execution request the recorder needs.
type RequestInfo struct {
	Name, Version string
	RequestID     string
	TraceID       string
	TenantID      string
	UserID        string
}

// ResultInfo is the subset of an execution result the recorder needs.
type ResultInfo struct {
	Success     bool
	ErrorKind   string
	ErrorMsg    string
	QueueWaitMS float64
	DurationMS  float64
}

// Recorder observes the three request event kinds: start, complete, error.
// OnStart returns a context carrying the request's span; callers must pass
// that context (or one derived from it) to OnComplete/OnError so both
// operate on the span OnStart opened. Implementations must otherwise be
// structurally optional and side-effect-only: the executor and runners
// never read values back from a Recorder, so a slow or missing exporter
// cannot affect the request path.
type Recorder interface {
	OnStart(ctx context.Context, req RequestInfo) context.Context
	OnComplete(ctx context.Context, req RequestInfo, res ResultInfo)
	OnError(ctx context.Context, req RequestInfo, res ResultInfo)
}

// BucketBoundsMS are the fixed histogram bucket bounds in milliseconds,
// not including the implicit +Inf bucket.
var BucketBoundsMS = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}
