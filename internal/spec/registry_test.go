package spec_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bottomsky/algotirhm-sdk/algo"
	"github.com/bottomsky/algotirhm-sdk/internal/spec"
)

type doubleInput struct{ Value int }
type doubleOutput struct{ Doubled int }

func validSpec(name, version string) spec.Spec {
	return spec.Spec{
		Name:    name,
		Version: version,
		Kind:    spec.KindPrediction,
		Entrypoint: spec.Entrypoint{
			Identity: algo.Identity{Module: "algorithms/double", Symbol: "Run"},
		},
		InputModel:  doubleInput{},
		OutputModel: doubleOutput{},
		Execution:   spec.ExecutionHints{Mode: spec.ModeInProcess},
	}
}

func TestRegisterGetList(t *testing.T) {
	r := spec.New()
	s1 := validSpec("Double", "v1")
	require.NoError(t, r.Register(s1))

	got, err := r.Get("Double", "v1")
	require.NoError(t, err)
	assert.Equal(t, s1.Name, got.Name)

	_, err = r.Get("Double", "v2")
	require.ErrorIs(t, err, spec.ErrNotFound)

	require.NoError(t, r.Register(validSpec("Double", "v2")))
	list := r.List()
	assert.Len(t, list, 2)
}

func TestRegisterDuplicateFails(t *testing.T) {
	r := spec.New()
	require.NoError(t, r.Register(validSpec("Double", "v1")))
	err := r.Register(validSpec("Double", "v1"))
	require.ErrorIs(t, err, spec.ErrAlreadyRegistered)
}

func TestRegisterRejectsAnonymousEntrypoint(t *testing.T) {
	r := spec.New()
	s := validSpec("Double", "v1")
	s.Entrypoint.Identity = algo.Identity{}
	err := r.Register(s)
	require.ErrorIs(t, err, spec.ErrValidation)
}

func TestRegisterRejectsBadSampleRate(t *testing.T) {
	r := spec.New()
	s := validSpec("Double", "v1")
	s.Observability.SampleRate = 1.5
	err := r.Register(s)
	require.ErrorIs(t, err, spec.ErrValidation)
}

func TestRegisterValidatesJSONSchema(t *testing.T) {
	r := spec.New()
	s := validSpec("Double", "v1")
	s.InputSchema = []byte(`{"type": "object", "properties": {"value": {"type": "integer"}}}`)
	require.NoError(t, r.Register(s))

	s2 := validSpec("Bad", "v1")
	s2.InputSchema = []byte(`not json`)
	err := r.Register(s2)
	require.ErrorIs(t, err, spec.ErrValidation)
}

func TestEffectiveTimeoutMinRule(t *testing.T) {
	specTimeout := 10.0
	reqTimeout := 2.0
	s := validSpec("Sleep", "v1")
	s.Execution.TimeoutS = &specTimeout

	got := s.EffectiveTimeout(&reqTimeout)
	require.NotNil(t, got)
	assert.Equal(t, 2.0, *got)

	got = s.EffectiveTimeout(nil)
	require.NotNil(t, got)
	assert.Equal(t, 10.0, *got)

	s.Execution.TimeoutS = nil
	got = s.EffectiveTimeout(&reqTimeout)
	require.NotNil(t, got)
	assert.Equal(t, 2.0, *got)

	got = s.EffectiveTimeout(nil)
	assert.Nil(t, got)
}

func TestLoadOverridesAppliesToExistingAndFutureSpecs(t *testing.T) {
	r := spec.New()
	require.NoError(t, r.Register(validSpec("Double", "v1")))

	overrides := []byte(`[
		{"name":"Double","version":"v1","category":"","kind":"Prediction","description":"doubles a number"},
		{"name":"Double","version":"v2","category":"","kind":"Prediction","description":"v2 doubles too"}
	]`)
	require.NoError(t, r.LoadOverrides(bytes.NewReader(overrides), nil))

	got, err := r.Get("Double", "v1")
	require.NoError(t, err)
	assert.Equal(t, "doubles a number", got.Metadata.Description)

	require.NoError(t, r.Register(validSpec("Double", "v2")))
	got2, err := r.Get("Double", "v2")
	require.NoError(t, err)
	assert.Equal(t, "v2 doubles too", got2.Metadata.Description)
}
