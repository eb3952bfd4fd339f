package lifecycle_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bottomsky/algotirhm-sdk/internal/lifecycle"
	"github.com/bottomsky/algotirhm-sdk/internal/telemetry"
)

// recordingHook appends its hook name to a shared trace on Before/After so
// tests can assert ordering.
type recordingHook struct {
	name      string
	priority  int
	phases    func(t lifecycle.Transition) bool
	beforeErr error
	afterErr  error
	trace     *[]string
}

func (h *recordingHook) CanHandle(t lifecycle.Transition) bool {
	if h.phases == nil {
		return true
	}
	return h.phases(t)
}

func (h *recordingHook) Priority() int { return h.priority }

func (h *recordingHook) Before(ctx context.Context, t lifecycle.Transition) error {
	*h.trace = append(*h.trace, "before:"+h.name)
	return h.beforeErr
}

func (h *recordingHook) After(ctx context.Context, t lifecycle.Transition, transitionErr error) error {
	*h.trace = append(*h.trace, "after:"+h.name)
	return h.afterErr
}

func advance(t *testing.T, m *lifecycle.Machine, states ...lifecycle.State) {
	t.Helper()
	for _, s := range states {
		require.NoError(t, m.Transition(context.Background(), s))
	}
}

func TestOrderedTransitions(t *testing.T) {
	m := lifecycle.New(telemetry.NoopLogger{})
	assert.Equal(t, lifecycle.Created, m.State())
	assert.False(t, m.AcceptingRequests())

	advance(t, m, lifecycle.Provisioning, lifecycle.Ready, lifecycle.Running)
	assert.True(t, m.AcceptingRequests())

	advance(t, m, lifecycle.Degraded)
	assert.False(t, m.AcceptingRequests())
	advance(t, m, lifecycle.Running, lifecycle.Draining)
	assert.False(t, m.AcceptingRequests())
	advance(t, m, lifecycle.Shutdown)
}

func TestTransitionToCurrentStateFails(t *testing.T) {
	m := lifecycle.New(telemetry.NoopLogger{})
	err := m.Transition(context.Background(), lifecycle.Created)
	require.ErrorIs(t, err, lifecycle.ErrAlreadyInState)
}

func TestInvalidTransitionCarriesAllowedSet(t *testing.T) {
	m := lifecycle.New(telemetry.NoopLogger{})
	err := m.Transition(context.Background(), lifecycle.Running)
	var invalid *lifecycle.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, lifecycle.Created, invalid.From)
	assert.Contains(t, invalid.Allowed, lifecycle.Provisioning)
	assert.Contains(t, invalid.Allowed, lifecycle.Shutdown)
}

func TestShutdownReachableFromEverywhereExceptItself(t *testing.T) {
	paths := [][]lifecycle.State{
		{},
		{lifecycle.Provisioning},
		{lifecycle.Provisioning, lifecycle.Ready},
		{lifecycle.Provisioning, lifecycle.Ready, lifecycle.Running},
		{lifecycle.Provisioning, lifecycle.Ready, lifecycle.Running, lifecycle.Degraded},
		{lifecycle.Provisioning, lifecycle.Ready, lifecycle.Running, lifecycle.Draining},
	}
	for _, path := range paths {
		m := lifecycle.New(telemetry.NoopLogger{})
		advance(t, m, path...)
		advance(t, m, lifecycle.Shutdown)
		err := m.Transition(context.Background(), lifecycle.Shutdown)
		require.ErrorIs(t, err, lifecycle.ErrAlreadyInState)
	}
}

func TestHookOrderingDescendingPriorityWithReverseAfter(t *testing.T) {
	var trace []string
	m := lifecycle.New(telemetry.NoopLogger{})
	m.RegisterHook(&recordingHook{name: "low", priority: 1, trace: &trace})
	m.RegisterHook(&recordingHook{name: "high", priority: 10, trace: &trace})
	m.RegisterHook(&recordingHook{name: "low2", priority: 1, trace: &trace})

	advance(t, m, lifecycle.Provisioning)

	assert.Equal(t, []string{
		"before:high", "before:low", "before:low2",
		"after:low2", "after:low", "after:high",
	}, trace)
}

func TestBeforeFailureAbortsAndUnwinds(t *testing.T) {
	var trace []string
	m := lifecycle.New(telemetry.NoopLogger{})
	m.RegisterHook(&recordingHook{name: "first", priority: 3, trace: &trace})
	m.RegisterHook(&recordingHook{name: "failing", priority: 2, trace: &trace, beforeErr: errors.New("boom")})
	m.RegisterHook(&recordingHook{name: "never", priority: 1, trace: &trace})

	err := m.Transition(context.Background(), lifecycle.Provisioning)
	require.Error(t, err)
	assert.Equal(t, lifecycle.Created, m.State())
	require.Error(t, m.LastAbortError())

	// The failing hook's own After does not run; only hooks whose Before
	// completed unwind, in reverse order.
	assert.Equal(t, []string{"before:first", "before:failing", "after:first"}, trace)
	assert.NotContains(t, trace, "before:never")
}

func TestAfterErrorsDoNotBlockTransition(t *testing.T) {
	var trace []string
	m := lifecycle.New(telemetry.NoopLogger{})
	m.RegisterHook(&recordingHook{name: "noisy", priority: 0, trace: &trace, afterErr: errors.New("after failed")})

	advance(t, m, lifecycle.Provisioning)
	assert.Equal(t, lifecycle.Provisioning, m.State())
	assert.Nil(t, m.LastAbortError())
}

func TestSuccessfulTransitionClearsLastAbortError(t *testing.T) {
	var trace []string
	m := lifecycle.New(telemetry.NoopLogger{})
	failing := &recordingHook{
		name: "flaky", priority: 0, trace: &trace,
		phases:    func(tr lifecycle.Transition) bool { return tr.To == lifecycle.Provisioning },
		beforeErr: errors.New("not yet"),
	}
	m.RegisterHook(failing)

	require.Error(t, m.Transition(context.Background(), lifecycle.Provisioning))
	require.Error(t, m.LastAbortError())

	failing.beforeErr = nil
	advance(t, m, lifecycle.Provisioning)
	assert.Nil(t, m.LastAbortError())
}
