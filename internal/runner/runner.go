// Package runner implements the in-process runner: it invokes an algorithm
// synchronously in the caller's own goroutine, caches stateful class-based
// instances per (name, version), and coerces input/output against the
// spec's declared models.
package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bottomsky/algotirhm-sdk/algo"
	"github.com/bottomsky/algotirhm-sdk/internal/envelope"
	"github.com/bottomsky/algotirhm-sdk/internal/exectx"
	"github.com/bottomsky/algotirhm-sdk/internal/execution"
	"github.com/bottomsky/algotirhm-sdk/internal/spec"
)

// Runner is the in-process execution.Runner implementation. It is
// appropriate only for light, trusted code: a hung algorithm blocks the
// calling goroutine indefinitely since there is no hard cancellation here.
type Runner struct {
	mu        sync.Mutex
	instances map[spec.Key]algo.LifecycleAny
}

// New returns a ready-to-use in-process Runner.
func New() *Runner {
	return &Runner{instances: make(map[spec.Key]algo.LifecycleAny)}
}

// Start is a no-op; the in-process runner has no resources to provision.
func (r *Runner) Start(ctx context.Context) error { return nil }

// Shutdown calls Shutdown on every cached stateful instance, best-effort,
// and clears the instance cache.
func (r *Runner) Shutdown(ctx context.Context, wait bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, inst := range r.instances {
		func() {
			defer func() { _ = recover() }()
			if err := inst.Shutdown(ctx); err != nil {
				_ = err // best-effort: shutdown errors are discarded, neither logged nor propagated
			}
		}()
		delete(r.instances, key)
	}
	return nil
}

// Submit runs req's algorithm synchronously and returns its Result. It never
// returns a non-nil error itself (all failures classify into Result.Error);
// the error return exists to satisfy execution.Runner uniformly with the
// worker pool, whose Submit can fail at the admission step.
func (r *Runner) Submit(ctx context.Context, req execution.Request) (execution.Result, error) {
	startedAt := time.Now()
	res := execution.Result{StartedAt: startedAt, WorkerID: "in-process"}

	amb := exectx.New(req.RequestID, req.TraceID, req.RequestDatetime, ambientExtra(req.Context))
	ctx = exectx.Bind(ctx, amb)

	data, execErr := r.run(ctx, req)
	res.EndedAt = time.Now()
	if execErr != nil {
		res.Success = false
		res.Error = execErr
	} else {
		res.Success = true
		res.Data = data
	}
	code, msg, rc := amb.Meta.Snapshot()
	res.ResponseMeta = execution.ResponseMetaSnapshot{Code: code, Message: msg, Context: rc}
	return res, nil
}

func ambientExtra(c *envelope.Context) map[string]any {
	if c == nil {
		return nil
	}
	out := map[string]any{"tenantId": c.TenantID, "userId": c.UserID}
	for k, v := range c.Extra {
		out[k] = v
	}
	return out
}

func (r *Runner) run(ctx context.Context, req execution.Request) (data any, execErr *envelope.ExecError) {
	defer func() {
		if p := recover(); p != nil {
			execErr = &envelope.ExecError{Kind: envelope.KindRuntime, Message: fmt.Sprintf("panic: %v", p)}
		}
	}()

	s := req.Spec
	input, err := envelope.Coerce(req.Payload, s.InputModel)
	if err != nil {
		return nil, &envelope.ExecError{Kind: envelope.KindValidation, Message: err.Error()}
	}

	var out any
	var runErr error
	if s.Entrypoint.IsClass {
		out, runErr = r.invokeClass(ctx, s, input)
	} else {
		fn, ok := algo.LookupFunc(s.Entrypoint.Identity)
		if !ok {
			return nil, &envelope.ExecError{Kind: envelope.KindSystem, Message: (&algo.ErrUnregisteredEntrypoint{ID: s.Entrypoint.Identity}).Error()}
		}
		out, runErr = fn(ctx, input)
	}
	if runErr != nil {
		return nil, &envelope.ExecError{Kind: envelope.KindRuntime, Message: runErr.Error()}
	}

	coerced, err := envelope.Coerce(out, s.OutputModel)
	if err != nil {
		return nil, &envelope.ExecError{Kind: envelope.KindValidation, Message: err.Error()}
	}
	return coerced, nil
}

// invokeClass implements the class-entrypoint lifecycle:
// stateful specs reuse a single cached instance (Initialize runs once);
// stateless specs get a fresh instance per call
// (Initialize -> Run -> AfterRun -> Shutdown). If Run fails, AfterRun is
// skipped but Shutdown still runs for a stateless instance, best-effort.
func (r *Runner) invokeClass(ctx context.Context, s spec.Spec, input any) (any, error) {
	factory, ok := algo.LookupLifecycleFactory(s.Entrypoint.Identity)
	if !ok {
		return nil, &algo.ErrUnregisteredEntrypoint{ID: s.Entrypoint.Identity}
	}

	if s.Execution.Stateful {
		inst, err := r.statefulInstance(ctx, s.Key(), factory)
		if err != nil {
			return nil, err
		}
		out, runErr := inst.Run(ctx, input)
		if runErr != nil {
			return nil, runErr
		}
		if err := inst.AfterRun(ctx); err != nil {
			return nil, err
		}
		return out, nil
	}

	inst, err := factory()
	if err != nil {
		return nil, err
	}
	if err := inst.Initialize(ctx); err != nil {
		return nil, err
	}
	out, runErr := inst.Run(ctx, input)
	if runErr == nil {
		if afterErr := inst.AfterRun(ctx); afterErr != nil {
			runErr = afterErr
		}
	}
	func() {
		defer func() { _ = recover() }()
		_ = inst.Shutdown(ctx) // best-effort; shutdown errors are never propagated
	}()
	if runErr != nil {
		return nil, runErr
	}
	return out, nil
}

func (r *Runner) statefulInstance(ctx context.Context, key spec.Key, factory algo.LifecycleFactory) (algo.LifecycleAny, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inst, ok := r.instances[key]; ok {
		return inst, nil
	}
	inst, err := factory()
	if err != nil {
		return nil, err
	}
	if err := inst.Initialize(ctx); err != nil {
		return nil, err
	}
	r.instances[key] = inst
	return inst, nil
}
