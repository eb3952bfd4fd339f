// Package execution defines the internal Request/Result types that flow
// between the HTTP layer (package httpapi), the dispatching executor
// (package executor), and the two concrete runners (packages runner and
// workerpool) —/"ExecutionResult".
package execution

import (
	"context"
	"time"

	"github.com/bottomsky/algotirhm-sdk/internal/envelope"
	"github.com/bottomsky/algotirhm-sdk/internal/spec"
)

// Request is the internal execution request built by the HTTP layer from an
// envelope.Request plus the resolved spec.
type Request struct {
	Spec            spec.Spec
	Payload         any
	RequestID       string
	RequestDatetime time.Time
	TraceID         string
	Context         *envelope.Context
	TimeoutS        *float64
}

// EffectiveTimeout applies the minimum rule using this request's
// own TimeoutS and the bound spec's configured timeout.
func (r Request) EffectiveTimeout() *float64 {
	return r.Spec.EffectiveTimeout(r.TimeoutS)
}

// ResponseMetaSnapshot carries the harvested ambient response-meta
// overrides from wherever the algorithm ran.
type ResponseMetaSnapshot struct {
	Code    *int
	Message *string
	Context map[string]any
}

// Result is the internal execution result produced by a Runner.
type Result struct {
	Success     bool
	Data        any
	Error       *envelope.ExecError
	ResponseMeta ResponseMetaSnapshot

	StartedAt   time.Time // monotonic-ish wall clock is fine for in-process; workers report their own
	EndedAt     time.Time
	WorkerID    string
	QueueWaitMS float64
}

// DurationMS returns the elapsed time between StartedAt and EndedAt in
// milliseconds, 0 if EndedAt is zero.
func (r Result) DurationMS() float64 {
	if r.EndedAt.IsZero() {
		return 0
	}
	return float64(r.EndedAt.Sub(r.StartedAt)) / float64(time.Millisecond)
}

// Runner is the contract shared by the in-process runner (package runner)
// and the supervised worker pool (package workerpool). The dispatching
// executor (package executor) routes to whichever Runner matches a spec's
// execution hints.
type Runner interface {
	// Submit runs (or dispatches) req and returns its Result. Submit never
	// panics; all algorithm failures are captured in Result.Error.
	Submit(ctx context.Context, req Request) (Result, error)
	// Start idempotently brings the runner up.
	Start(ctx context.Context) error
	// Shutdown tears the runner down. If wait is true, the teardown is
	// graceful, bounded by an internal grace period; otherwise it terminates
	// immediately. In either case in-flight work is not guaranteed to
	// complete: the worker pool fails its pending tasks at once.
	Shutdown(ctx context.Context, wait bool) error
}
