package lifecycle

import (
	"context"
	"sort"
)

// Transition names a single lifecycle phase move, the unit hooks declare
// interest in via CanHandle.
type Transition struct {
	From State
	To   State
}

// Hook is a declarative before/after lifecycle callback.
// Eligible hooks for a phase run Before in descending-priority,
// insertion-stable order; After runs in the exact reverse of whichever
// Before calls actually executed.
type Hook interface {
	// CanHandle reports whether this hook participates in t.
	CanHandle(t Transition) bool
	// Before runs before the state advances. A non-nil error aborts the
	// transition; the state is not advanced, and After still runs for
	// every hook whose Before already executed (unwind), in reverse order.
	Before(ctx context.Context, t Transition) error
	// After runs once the transition's Before phase has finished, whether
	// or not it succeeded. transitionErr is the error that aborted the
	// transition (if any) or nil on success. Any error After returns is
	// collected and logged, never propagated — After failures must never
	// block lifecycle.
	After(ctx context.Context, t Transition, transitionErr error) error
	// Priority orders Before execution (descending) within a phase.
	Priority() int
}

// eligible returns the hooks that CanHandle(t), sorted by descending
// Priority with ties broken by registration order (stable sort over the
// registration-ordered input slice achieves this directly).
func eligible(hooks []Hook, t Transition) []Hook {
	var out []Hook
	for _, h := range hooks {
		if h.CanHandle(t) {
			out = append(out, h)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority() > out[j].Priority() })
	return out
}
