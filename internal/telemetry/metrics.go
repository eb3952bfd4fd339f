package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/codes"
)

// metricKey identifies a per-algorithm metric family.
type metricKey struct{ Name, Version string }

type histogram struct {
	buckets []float64 // counts aligned with BucketBoundsMS, plus one +Inf slot
	sum     float64
	count   uint64
}

func newHistogram() *histogram {
	return &histogram{buckets: make([]float64, len(BucketBoundsMS)+1)}
}

func (h *histogram) observe(v float64) {
	h.sum += v
	h.count++
	for i, bound := range BucketBoundsMS {
		if v <= bound {
			h.buckets[i]++
		}
	}
	h.buckets[len(h.buckets)-1]++ // +Inf always increments
}

// cumulativeAt returns the cumulative count for the bucket whose upper bound
// is boundIndex (monotonic across increasing indices by construction, since
// every observation increments every bucket whose bound it is <= to).
func (h *histogram) cumulativeAt(boundIndex int) float64 {
	return h.buckets[boundIndex]
}

type algoMetrics struct {
	mu             sync.Mutex
	requestsTotal  uint64
	requestsFailed uint64
	inflight       int64
	latency        *histogram
	queueWait      *histogram
}

func newAlgoMetrics() *algoMetrics {
	return &algoMetrics{latency: newHistogram(), queueWait: newHistogram()}
}

// Store is the in-memory metrics state shared by the Prometheus and
// OpenTelemetry snapshot renderers (prometheus.go, otel.go), so both
// exposition formats read from one source of truth.
type Store struct {
	mu   sync.RWMutex
	byKV map[metricKey]*algoMetrics
}

// NewStore returns an empty metrics Store.
func NewStore() *Store {
	return &Store{byKV: make(map[metricKey]*algoMetrics)}
}

func (s *Store) get(name, version string) *algoMetrics {
	key := metricKey{name, version}
	s.mu.RLock()
	m, ok := s.byKV[key]
	s.mu.RUnlock()
	if ok {
		return m
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.byKV[key]; ok {
		return m
	}
	m = newAlgoMetrics()
	s.byKV[key] = m
	return m
}

// StoreRecorder is the storage-backed Recorder implementation. Histogram
// and counter state is guarded by one mutex per metric family; snapshot
// reads copy out so exporters never hold a lock across I/O.
type StoreRecorder struct {
	store  *Store
	logger Logger
	tracer Tracer
}

// NewRecorder constructs a StoreRecorder backed by store, logging through
// logger and tracing through tracer. Pass NoopLogger{}/NoopTracer{} to
// disable either independently of metrics collection.
func NewRecorder(store *Store, logger Logger, tracer Tracer) *StoreRecorder {
	if logger == nil {
		logger = NoopLogger{}
	}
	if tracer == nil {
		tracer = NoopTracer{}
	}
	return &StoreRecorder{store: store, logger: logger, tracer: tracer}
}

// OnStart increments requests_total and inflight, and opens a trace span.
// The returned context carries the span; OnComplete/OnError close it.
func (r *StoreRecorder) OnStart(ctx context.Context, req RequestInfo) context.Context {
	m := r.store.get(req.Name, req.Version)
	m.mu.Lock()
	m.requestsTotal++
	m.inflight++
	m.mu.Unlock()

	ctx, span := r.tracer.Start(ctx, "algorithm.invoke")
	span.AddEvent("start",
		"name", req.Name, "version", req.Version,
		"request_id", req.RequestID, "trace_id", req.TraceID,
		"tenant_id", req.TenantID, "user_id", req.UserID)
	r.logger.Debug(ctx, "algorithm invocation started", "name", req.Name, "version", req.Version, "request_id", req.RequestID)
	return ctx
}

// OnComplete records latency/queue-wait observations and decrements inflight.
func (r *StoreRecorder) OnComplete(ctx context.Context, req RequestInfo, res ResultInfo) {
	r.finish(ctx, req, res, false)
}

// OnError records a failed observation, increments requests_failed, and
// decrements inflight.
func (r *StoreRecorder) OnError(ctx context.Context, req RequestInfo, res ResultInfo) {
	r.finish(ctx, req, res, true)
}

func (r *StoreRecorder) finish(ctx context.Context, req RequestInfo, res ResultInfo, failed bool) {
	m := r.store.get(req.Name, req.Version)
	m.mu.Lock()
	m.inflight--
	if failed {
		m.requestsFailed++
	}
	m.latency.observe(res.DurationMS)
	m.queueWait.observe(res.QueueWaitMS)
	m.mu.Unlock()

	span := r.tracer.Span(ctx)
	span.SetStatus(statusCode(failed), res.ErrorMsg)
	span.AddEvent("finish", "queue_wait_ms", res.QueueWaitMS, "duration_ms", res.DurationMS)
	if failed {
		span.AddEvent("error", "kind", res.ErrorKind, "message", res.ErrorMsg)
		r.logger.Warn(ctx, "algorithm invocation failed", "name", req.Name, "version", req.Version, "kind", res.ErrorKind, "message", res.ErrorMsg)
	} else {
		r.logger.Debug(ctx, "algorithm invocation completed", "name", req.Name, "version", req.Version, "duration_ms", res.DurationMS)
	}
	span.End()
}

func statusCode(failed bool) codes.Code {
	if failed {
		return codes.Error
	}
	return codes.Ok
}
