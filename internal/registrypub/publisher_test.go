package registrypub_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bottomsky/algotirhm-sdk/algo"
	"github.com/bottomsky/algotirhm-sdk/internal/lifecycle"
	"github.com/bottomsky/algotirhm-sdk/internal/registrypub"
	"github.com/bottomsky/algotirhm-sdk/internal/spec"
	"github.com/bottomsky/algotirhm-sdk/internal/telemetry"
)

type fakeMap struct {
	mu      sync.Mutex
	data    map[string]string
	failSet bool
}

func newFakeMap() *fakeMap { return &fakeMap{data: map[string]string{}} }

func (f *fakeMap) Set(ctx context.Context, key, value string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSet {
		return "", errors.New("redis unavailable")
	}
	prev := f.data[key]
	f.data[key] = value
	return prev, nil
}

func (f *fakeMap) Delete(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prev := f.data[key]
	delete(f.data, key)
	return prev, nil
}

type pubInput struct{ Value int }
type pubOutput struct{ Doubled int }

var pubDoubleID = algo.Identity{Module: "internal/registrypub/testalgos", Symbol: "Double"}

func testRegistry(t *testing.T) *spec.Registry {
	t.Helper()
	r := spec.New()
	require.NoError(t, r.Register(spec.Spec{
		Name: "Double", Version: "v1", Kind: spec.KindPrediction,
		InputSchema: []byte(`{"type":"object"}`),
		Entrypoint:  spec.Entrypoint{Identity: pubDoubleID},
		InputModel:  pubInput{},
		OutputModel: pubOutput{},
		Execution:   spec.ExecutionHints{Mode: spec.ModeInProcess},
		Metadata:    spec.Metadata{Description: "doubles an integer", Category: "math"},
	}))
	return r
}

func testPublisher(t *testing.T, m registrypub.Map) *registrypub.Publisher {
	t.Helper()
	pub, err := registrypub.New(registrypub.Config{
		ServiceName:         "algo-svc",
		InstanceID:          "inst-1",
		ServiceVersion:      "1.2.3",
		BaseURL:             "http://10.0.0.5:8080",
		HealthCheckInterval: "10s",
		HealthCheckTimeout:  "5s",
		Registry:            testRegistry(t),
		Map:                 m,
		Logger:              telemetry.NoopLogger{},
	})
	require.NoError(t, err)
	return pub
}

func TestPublishWritesInstanceAndCatalog(t *testing.T) {
	m := newFakeMap()
	pub := testPublisher(t, m)

	require.NoError(t, pub.Publish(context.Background()))

	instJSON, ok := m.data["services/algo-svc/inst-1"]
	require.True(t, ok)
	var inst registrypub.InstanceRecord
	require.NoError(t, json.Unmarshal([]byte(instJSON), &inst))
	assert.Equal(t, "http://10.0.0.5:8080/healthz", inst.HealthCheck.URL)
	assert.Equal(t, "10s", inst.HealthCheck.Interval)

	catJSON, ok := m.data["services/algo-svc/inst-1/algorithms"]
	require.True(t, ok)
	var cat registrypub.Catalog
	require.NoError(t, json.Unmarshal([]byte(catJSON), &cat))
	assert.Equal(t, "algo-svc", cat.Service)
	assert.Equal(t, "http://10.0.0.5:8080/algorithms", cat.ListURL)
	require.Len(t, cat.Algorithms, 1)
	entry := cat.Algorithms[0]
	assert.Equal(t, "/algorithms/Double/v1", entry.Route)
	assert.Equal(t, "http://10.0.0.5:8080/algorithms/Double/v1/schema", entry.AbsoluteSchemaURL)
	assert.JSONEq(t, `{"type":"object"}`, string(entry.InputSchema))
}

func TestPublishFailureBlocksRunningTransition(t *testing.T) {
	m := newFakeMap()
	m.failSet = true
	pub := testPublisher(t, m)

	machine := lifecycle.New(telemetry.NoopLogger{})
	machine.RegisterHook(pub)
	ctx := context.Background()
	require.NoError(t, machine.Transition(ctx, lifecycle.Provisioning))
	require.NoError(t, machine.Transition(ctx, lifecycle.Ready))

	err := machine.Transition(ctx, lifecycle.Running)
	require.Error(t, err)
	assert.Equal(t, lifecycle.Ready, machine.State())
}

func TestShutdownDeregistersBestEffort(t *testing.T) {
	m := newFakeMap()
	pub := testPublisher(t, m)

	machine := lifecycle.New(telemetry.NoopLogger{})
	machine.RegisterHook(pub)
	machine.RegisterHook(pub.DeregisterHook())
	ctx := context.Background()
	for _, s := range []lifecycle.State{lifecycle.Provisioning, lifecycle.Ready, lifecycle.Running} {
		require.NoError(t, machine.Transition(ctx, s))
	}
	assert.Len(t, m.data, 2)

	require.NoError(t, machine.Transition(ctx, lifecycle.Shutdown))
	assert.Empty(t, m.data)
}

func TestCatalogIsDeterministicallyOrdered(t *testing.T) {
	r := testRegistry(t)
	require.NoError(t, r.Register(spec.Spec{
		Name: "Aardvark", Version: "v1", Kind: spec.KindPrepare,
		Entrypoint:  spec.Entrypoint{Identity: pubDoubleID},
		InputModel:  pubInput{},
		OutputModel: pubOutput{},
		Execution:   spec.ExecutionHints{Mode: spec.ModeInProcess},
	}))

	cat := registrypub.BuildCatalog(r, "svc", "i1", "http://x")
	require.Len(t, cat.Algorithms, 2)
	assert.Equal(t, "Aardvark", cat.Algorithms[0].Name)
	assert.Equal(t, "Double", cat.Algorithms[1].Name)
}
