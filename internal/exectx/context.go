// Package exectx implements the per-execution ambient: the values bound
// for the lifetime of a single algorithm invocation, including the mutable
// response-meta slots an algorithm can set to override the envelope's
// code/message/context on its way out.
//
// The ambient is bound with a context.Context key rather than a goroutine-
// local, so it survives exactly as long as the context passed into Run and
// is never visible outside that call tree — including when Run executes
// inside a child worker process, where the ambient is rebuilt at message
// dispatch time (see package workerpool).
package exectx

import (
	"context"
	"sync"
	"time"
)

type ambientKey struct{}

// ResponseMeta holds the three ambient slots an algorithm may set to
// override the outgoing envelope.
type ResponseMeta struct {
	mu      sync.Mutex
	code    *int
	message *string
	context map[string]any
}

// SetCode overrides the response envelope's code.
func (m *ResponseMeta) SetCode(code int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.code = &code
}

// SetMessage overrides the response envelope's message.
func (m *ResponseMeta) SetMessage(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.message = &msg
}

// SetContext overrides the response envelope's context payload.
func (m *ResponseMeta) SetContext(ctx map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.context = ctx
}

// Snapshot returns the current values of all three slots, safe to call
// after the algorithm returns (the engine harvests this to build the
// envelope).
func (m *ResponseMeta) Snapshot() (code *int, message *string, context map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.code, m.message, m.context
}

// Ambient is the full per-execution context bound before Run and unbound on
// return, including on panic.
type Ambient struct {
	RequestID       string
	TraceID         string
	RequestDatetime time.Time
	AlgorithmCtx    map[string]any
	Meta            *ResponseMeta
}

// Bind returns a new context carrying amb, scoped strictly to the returned
// context and anything derived from it.
func Bind(ctx context.Context, amb *Ambient) context.Context {
	return context.WithValue(ctx, ambientKey{}, amb)
}

// From retrieves the Ambient bound to ctx, or nil if none is bound.
// Algorithm code should treat a nil Ambient as "no-op" rather than panic,
// so the same code can run unmodified outside the engine (e.g. in unit
// tests).
func From(ctx context.Context) *Ambient {
	amb, _ := ctx.Value(ambientKey{}).(*Ambient)
	return amb
}

// SetCode is a convenience accessor that no-ops if ctx has no bound ambient.
func SetCode(ctx context.Context, code int) {
	if amb := From(ctx); amb != nil {
		amb.Meta.SetCode(code)
	}
}

// SetMessage is a convenience accessor that no-ops if ctx has no bound ambient.
func SetMessage(ctx context.Context, msg string) {
	if amb := From(ctx); amb != nil {
		amb.Meta.SetMessage(msg)
	}
}

// SetResponseContext is a convenience accessor that no-ops if ctx has no
// bound ambient.
func SetResponseContext(ctx context.Context, rc map[string]any) {
	if amb := From(ctx); amb != nil {
		amb.Meta.SetContext(rc)
	}
}

// New constructs a fresh Ambient with an empty ResponseMeta.
func New(requestID, traceID string, requestDatetime time.Time, algoCtx map[string]any) *Ambient {
	return &Ambient{
		RequestID:       requestID,
		TraceID:         traceID,
		RequestDatetime: requestDatetime,
		AlgorithmCtx:    algoCtx,
		Meta:            &ResponseMeta{},
	}
}
