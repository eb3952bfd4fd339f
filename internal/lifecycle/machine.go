package lifecycle

import (
	"context"
	"fmt"
	"sync"

	"github.com/bottomsky/algotirhm-sdk/internal/telemetry"
)

// Machine is the single-writer service runtime state machine of
// One async lock guards the entire transition including
// hook execution, so Before/After hooks never race a concurrent
// transition attempt.
type Machine struct {
	mu    sync.Mutex
	state State
	hooks []Hook

	logger telemetry.Logger

	// lastAbortErr is the Before error that most recently aborted a
	// transition, if the machine is not presently Running. /readyz
	// surfaces this alongside the state name.
	lastAbortErr error
}

// New constructs a Machine starting in Created.
func New(logger telemetry.Logger) *Machine {
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	return &Machine{state: Created, logger: logger}
}

// RegisterHook appends h to the hook set. Registration order is the
// insertion-order tiebreak used by eligible() for same-priority hooks.
func (m *Machine) RegisterHook(h Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, h)
}

// State returns the current lifecycle state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// AcceptingRequests implements the admission gate:
// accepting_requests iff state == Running.
func (m *Machine) AcceptingRequests() bool {
	return m.State() == Running
}

// LastAbortError returns the Before error that most recently aborted a
// transition attempt, or nil if the last attempted transition (if any)
// succeeded.
func (m *Machine) LastAbortError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastAbortErr
}

// Transition attempts to move the machine to `to`. It runs every eligible
// hook's Before in descending-priority, insertion-stable order; if any
// Before fails, the transition aborts, the state does not advance, and
// After still runs (in reverse) for every hook whose Before already ran.
// After errors are logged and collected but never propagated.
func (m *Machine) Transition(ctx context.Context, to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.state
	if to == from {
		return fmt.Errorf("%w: %s", ErrAlreadyInState, to)
	}
	if !isAllowed(from, to) {
		return &InvalidTransitionError{From: from, To: to, Allowed: allowedFrom(from)}
	}

	t := Transition{From: from, To: to}
	hooks := eligible(m.hooks, t)

	ran := make([]Hook, 0, len(hooks))
	var beforeErr error
	for _, h := range hooks {
		if err := h.Before(ctx, t); err != nil {
			beforeErr = err
			break
		}
		ran = append(ran, h)
	}

	for i := len(ran) - 1; i >= 0; i-- {
		m.runAfterSafely(ctx, ran[i], t, beforeErr)
	}

	if beforeErr != nil {
		m.lastAbortErr = beforeErr
		return fmt.Errorf("lifecycle hook aborted transition %s -> %s: %w", from, to, beforeErr)
	}

	m.state = to
	m.lastAbortErr = nil
	return nil
}

// runAfterSafely invokes h.After, recovering any panic and logging any
// returned error rather than letting either affect the transition outcome.
func (m *Machine) runAfterSafely(ctx context.Context, h Hook, t Transition, transitionErr error) {
	defer func() {
		if p := recover(); p != nil {
			m.logger.Error(ctx, "lifecycle hook After panicked", "panic", p)
		}
	}()
	if err := h.After(ctx, t, transitionErr); err != nil {
		m.logger.Error(ctx, "lifecycle hook After failed", "error", err)
	}
}
