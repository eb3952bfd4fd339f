package telemetry_test

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/bottomsky/algotirhm-sdk/internal/telemetry"
)

func TestRecorderAccumulatesAcrossRequests(t *testing.T) {
	store := telemetry.NewStore()
	rec := telemetry.NewRecorder(store, telemetry.NoopLogger{}, telemetry.NoopTracer{})
	req := telemetry.RequestInfo{Name: "Double", Version: "v1", RequestID: "r1"}

	ctx := rec.OnStart(context.Background(), req)
	rec.OnComplete(ctx, req, telemetry.ResultInfo{Success: true, DurationMS: 12, QueueWaitMS: 1})

	ctx = rec.OnStart(context.Background(), req)
	rec.OnError(ctx, req, telemetry.ResultInfo{Success: false, ErrorKind: "runtime", DurationMS: 30, QueueWaitMS: 2})

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(store))
	families, err := reg.Gather()
	require.NoError(t, err)

	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		byName[f.GetName()] = f
	}

	require.Contains(t, byName, "algo_requests_total")
	require.Contains(t, byName, "algo_requests_failed_total")
	total := byName["algo_requests_total"].GetMetric()[0].GetCounter().GetValue()
	failed := byName["algo_requests_failed_total"].GetMetric()[0].GetCounter().GetValue()
	assert.Equal(t, 2.0, total)
	assert.Equal(t, 1.0, failed)

	inflight := byName["algo_inflight_requests"].GetMetric()[0].GetGauge().GetValue()
	assert.Equal(t, 0.0, inflight)

	latencyHist := byName["algo_latency_ms"].GetMetric()[0].GetHistogram()
	assert.Equal(t, uint64(2), latencyHist.GetSampleCount())
	assert.Equal(t, 42.0, latencyHist.GetSampleSum())
}

func TestRecorderSeparatesFamiliesByNameVersion(t *testing.T) {
	store := telemetry.NewStore()
	rec := telemetry.NewRecorder(store, telemetry.NoopLogger{}, telemetry.NoopTracer{})

	ctx := rec.OnStart(context.Background(), telemetry.RequestInfo{Name: "A", Version: "v1"})
	rec.OnComplete(ctx, telemetry.RequestInfo{Name: "A", Version: "v1"}, telemetry.ResultInfo{Success: true})

	ctx = rec.OnStart(context.Background(), telemetry.RequestInfo{Name: "A", Version: "v2"})
	rec.OnComplete(ctx, telemetry.RequestInfo{Name: "A", Version: "v2"}, telemetry.ResultInfo{Success: true})

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(store))
	families, err := reg.Gather()
	require.NoError(t, err)

	for _, f := range families {
		if f.GetName() != "algo_requests_total" {
			continue
		}
		assert.Len(t, f.GetMetric(), 2)
	}
}

// recordingTracer hands out spans through the returned context so the test
// can verify OnComplete/OnError close the same span OnStart opened.
type recordingTracer struct{ spans []*recordingSpan }

type recordingSpan struct {
	ended     bool
	endCount  int
	status    codes.Code
	statusMsg string
}

type recordingSpanKey struct{}

func (tr *recordingTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, telemetry.Span) {
	s := &recordingSpan{}
	tr.spans = append(tr.spans, s)
	return context.WithValue(ctx, recordingSpanKey{}, s), s
}

func (tr *recordingTracer) Span(ctx context.Context) telemetry.Span {
	if s, ok := ctx.Value(recordingSpanKey{}).(*recordingSpan); ok {
		return s
	}
	return &recordingSpan{}
}

func (s *recordingSpan) End(opts ...trace.SpanEndOption) { s.ended = true; s.endCount++ }
func (s *recordingSpan) AddEvent(name string, attrs ...any) {}
func (s *recordingSpan) SetStatus(code codes.Code, description string) {
	s.status = code
	s.statusMsg = description
}
func (s *recordingSpan) RecordError(err error, opts ...trace.EventOption) {}

func TestRecorderClosesTheSpanItOpened(t *testing.T) {
	store := telemetry.NewStore()
	tracer := &recordingTracer{}
	rec := telemetry.NewRecorder(store, telemetry.NoopLogger{}, tracer)
	req := telemetry.RequestInfo{Name: "Double", Version: "v1", RequestID: "r1"}

	ctx := rec.OnStart(context.Background(), req)
	rec.OnComplete(ctx, req, telemetry.ResultInfo{Success: true, DurationMS: 5})

	require.Len(t, tracer.spans, 1)
	span := tracer.spans[0]
	assert.True(t, span.ended)
	assert.Equal(t, 1, span.endCount)
	assert.Equal(t, codes.Ok, span.status)

	ctx = rec.OnStart(context.Background(), req)
	rec.OnError(ctx, req, telemetry.ResultInfo{ErrorKind: "runtime", ErrorMsg: "boom"})

	require.Len(t, tracer.spans, 2)
	failed := tracer.spans[1]
	assert.True(t, failed.ended)
	assert.Equal(t, codes.Error, failed.status)
	assert.Equal(t, "boom", failed.statusMsg)
}
