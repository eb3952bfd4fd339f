package runner_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bottomsky/algotirhm-sdk/algo"
	"github.com/bottomsky/algotirhm-sdk/internal/envelope"
	"github.com/bottomsky/algotirhm-sdk/internal/execution"
	"github.com/bottomsky/algotirhm-sdk/internal/runner"
	"github.com/bottomsky/algotirhm-sdk/internal/spec"
)

type doubleInput struct{ Value int }
type doubleOutput struct{ Doubled int }

var doubleID = algo.Identity{Module: "internal/runner/testalgos", Symbol: "Double"}

func init() {
	algo.RegisterFunc(doubleID, algo.AdaptFunc(func(ctx context.Context, in doubleInput) (doubleOutput, error) {
		return doubleOutput{Doubled: in.Value * 2}, nil
	}))
}

func doubleSpec() spec.Spec {
	return spec.Spec{
		Name: "Double", Version: "v1", Kind: spec.KindPrediction,
		Entrypoint:  spec.Entrypoint{Identity: doubleID},
		InputModel:  doubleInput{},
		OutputModel: doubleOutput{},
		Execution:   spec.ExecutionHints{Mode: spec.ModeInProcess},
	}
}

func TestSubmitHappyPath(t *testing.T) {
	r := runner.New()
	res, err := r.Submit(context.Background(), execution.Request{
		Spec: doubleSpec(), Payload: map[string]any{"Value": 3},
		RequestID: "r1", RequestDatetime: time.Now().UTC(),
	})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, doubleOutput{Doubled: 6}, res.Data)
}

func TestSubmitValidationFailure(t *testing.T) {
	r := runner.New()
	res, err := r.Submit(context.Background(), execution.Request{
		Spec: doubleSpec(), Payload: map[string]any{"Bogus": 3},
		RequestID: "r1", RequestDatetime: time.Now().UTC(),
	})
	require.NoError(t, err)
	require.False(t, res.Success)
	assert.Equal(t, envelope.KindValidation, res.Error.Kind)
}

var crashID = algo.Identity{Module: "internal/runner/testalgos", Symbol: "Crash"}

func init() {
	algo.RegisterFunc(crashID, algo.AdaptFunc(func(ctx context.Context, in doubleInput) (doubleOutput, error) {
		return doubleOutput{}, errors.New("boom")
	}))
}

func TestSubmitRuntimeFailure(t *testing.T) {
	r := runner.New()
	res, err := r.Submit(context.Background(), execution.Request{
		Spec: spec.Spec{
			Name: "Crash", Version: "v1", Kind: spec.KindPrediction,
			Entrypoint: spec.Entrypoint{Identity: crashID}, InputModel: doubleInput{}, OutputModel: doubleOutput{},
			Execution: spec.ExecutionHints{Mode: spec.ModeInProcess},
		},
		Payload: doubleInput{Value: 1}, RequestID: "r1", RequestDatetime: time.Now().UTC(),
	})
	require.NoError(t, err)
	require.False(t, res.Success)
	assert.Equal(t, envelope.KindRuntime, res.Error.Kind)
}

type statefulAlgo struct{ initCount, afterCount int }

func (s *statefulAlgo) Initialize(ctx context.Context) error { s.initCount++; return nil }
func (s *statefulAlgo) Run(ctx context.Context, in doubleInput) (doubleOutput, error) {
	return doubleOutput{Doubled: in.Value * 2}, nil
}
func (s *statefulAlgo) AfterRun(ctx context.Context) error { s.afterCount++; return nil }
func (s *statefulAlgo) Shutdown(ctx context.Context) error { return nil }

var statefulID = algo.Identity{Module: "internal/runner/testalgos", Symbol: "Stateful"}
var sharedStateful = &statefulAlgo{}

func init() {
	algo.RegisterLifecycleFactory(statefulID, func() (algo.LifecycleAny, error) {
		return algo.Adapt[doubleInput, doubleOutput](sharedStateful), nil
	})
}

func TestStatefulInstanceReusedAcrossRequests(t *testing.T) {
	r := runner.New()
	s := spec.Spec{
		Name: "Stateful", Version: "v1", Kind: spec.KindPrediction,
		Entrypoint:  spec.Entrypoint{Identity: statefulID, IsClass: true},
		InputModel:  doubleInput{}, OutputModel: doubleOutput{},
		Execution: spec.ExecutionHints{Mode: spec.ModeInProcess, Stateful: true},
	}
	for i := 0; i < 3; i++ {
		res, err := r.Submit(context.Background(), execution.Request{
			Spec: s, Payload: doubleInput{Value: i}, RequestID: "r", RequestDatetime: time.Now().UTC(),
		})
		require.NoError(t, err)
		require.True(t, res.Success)
	}
	assert.Equal(t, 1, sharedStateful.initCount)
	assert.Equal(t, 3, sharedStateful.afterCount)
}
