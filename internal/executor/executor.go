// Package executor implements the dispatching executor: it routes each
// execution.Request to the in-process runner, the shared supervised worker
// pool, or a lazily-created per-spec isolated pool, according to the spec's
// execution hints.
package executor

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/bottomsky/algotirhm-sdk/internal/envelope"
	"github.com/bottomsky/algotirhm-sdk/internal/execution"
	"github.com/bottomsky/algotirhm-sdk/internal/spec"
	"github.com/bottomsky/algotirhm-sdk/internal/telemetry"
	"github.com/bottomsky/algotirhm-sdk/internal/workerpool"
)

// IsolatedPoolFactory builds a fresh workerpool.Pool sized for s's own
// execution hints. The executor calls this lazily, the first time a request
// for an isolated-pool spec is dispatched.
type IsolatedPoolFactory func(s spec.Spec) *workerpool.Pool

// Executor is the dispatching executor.
type Executor struct {
	inProcess execution.Runner
	shared    execution.Runner
	recorder  telemetry.Recorder

	isolatedFactory IsolatedPoolFactory
	mu              sync.Mutex
	isolated        map[spec.Key]execution.Runner
	started         bool
}

// New constructs an Executor. inProcess and shared back spec.ModeInProcess
// and spec.ModeProcessPool (non-isolated) dispatch respectively;
// isolatedFactory lazily builds a per-spec pool for
// spec.ModeProcessPool+IsolatedPool specs. recorder observes every
// submission; pass telemetry.NoopRecorder{} to disable observation.
func New(inProcess, shared execution.Runner, isolatedFactory IsolatedPoolFactory, recorder telemetry.Recorder) *Executor {
	if recorder == nil {
		recorder = telemetry.NoopRecorder{}
	}
	return &Executor{
		inProcess:       inProcess,
		shared:          shared,
		recorder:        recorder,
		isolatedFactory: isolatedFactory,
		isolated:        make(map[spec.Key]execution.Runner),
	}
}

// Start is idempotent and brings up only the underlying executors that
// exist at call time (isolated pools are started lazily on first dispatch,
// not here, since their config comes from specs that may not exist yet).
func (e *Executor) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	e.mu.Unlock()

	if e.inProcess != nil {
		if err := e.inProcess.Start(ctx); err != nil {
			return fmt.Errorf("start in-process runner: %w", err)
		}
	}
	if e.shared != nil {
		if err := e.shared.Start(ctx); err != nil {
			return fmt.Errorf("start shared worker pool: %w", err)
		}
	}
	return nil
}

// Submit routes req by its spec's execution hints. Every submission emits
// exactly one OnStart followed by exactly one of OnComplete or OnError on
// the recorder, on every return path.
func (e *Executor) Submit(ctx context.Context, req execution.Request) (execution.Result, error) {
	info := requestInfo(req)
	ctx = e.recorder.OnStart(ctx, info)

	res, err := e.route(ctx, req)

	ri := telemetry.ResultInfo{
		Success:     res.Success,
		QueueWaitMS: res.QueueWaitMS,
		DurationMS:  res.DurationMS(),
	}
	if res.Error != nil {
		ri.ErrorKind = string(res.Error.Kind)
		ri.ErrorMsg = res.Error.Message
	}
	if err != nil && ri.ErrorMsg == "" {
		ri.ErrorKind = string(envelope.KindSystem)
		ri.ErrorMsg = err.Error()
	}
	if res.Success && err == nil {
		e.recorder.OnComplete(ctx, info, ri)
	} else {
		e.recorder.OnError(ctx, info, ri)
	}
	return res, err
}

func requestInfo(req execution.Request) telemetry.RequestInfo {
	info := telemetry.RequestInfo{
		Name:      req.Spec.Name,
		Version:   req.Spec.Version,
		RequestID: req.RequestID,
		TraceID:   req.TraceID,
	}
	if req.Context != nil {
		info.TenantID = req.Context.TenantID
		info.UserID = req.Context.UserID
	}
	return info
}

func (e *Executor) route(ctx context.Context, req execution.Request) (execution.Result, error) {
	s := req.Spec
	switch {
	case s.Execution.Mode == spec.ModeInProcess:
		if e.inProcess == nil {
			return rejectedResult("in-process execution not configured"), nil
		}
		return e.inProcess.Submit(ctx, req)

	case s.Execution.Mode == spec.ModeProcessPool && !s.Execution.IsolatedPool:
		if e.shared == nil {
			return rejectedResult("shared worker pool not configured"), nil
		}
		return e.shared.Submit(ctx, req)

	case s.Execution.Mode == spec.ModeProcessPool && s.Execution.IsolatedPool:
		pool, err := e.isolatedPoolFor(ctx, s)
		if err != nil {
			return rejectedResult(err.Error()), nil
		}
		return pool.Submit(ctx, req)

	default:
		return rejectedResult(fmt.Sprintf("unroutable execution mode %q", s.Execution.Mode)), nil
	}
}

func (e *Executor) isolatedPoolFor(ctx context.Context, s spec.Spec) (execution.Runner, error) {
	key := s.Key()

	e.mu.Lock()
	if r, ok := e.isolated[key]; ok {
		e.mu.Unlock()
		return r, nil
	}
	e.mu.Unlock()

	if e.isolatedFactory == nil {
		return nil, fmt.Errorf("isolated pool requested for %s but no isolated pool factory is configured", key)
	}
	pool := e.isolatedFactory(s)

	e.mu.Lock()
	defer e.mu.Unlock()
	if r, ok := e.isolated[key]; ok {
		return r, nil // another goroutine won the race to create it
	}
	if err := pool.Start(ctx); err != nil {
		return nil, fmt.Errorf("start isolated pool for %s: %w", key, err)
	}
	e.isolated[key] = pool
	return pool, nil
}

// Shutdown cascades to every child executor in parallel, best-effort,
// using errgroup so one child's failure doesn't block the others from
// being asked to shut down.
func (e *Executor) Shutdown(ctx context.Context, wait bool) error {
	e.mu.Lock()
	children := make([]execution.Runner, 0, 2+len(e.isolated))
	if e.inProcess != nil {
		children = append(children, e.inProcess)
	}
	if e.shared != nil {
		children = append(children, e.shared)
	}
	for _, r := range e.isolated {
		children = append(children, r)
	}
	e.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, child := range children {
		child := child
		g.Go(func() error { return child.Shutdown(gctx, wait) })
	}
	return g.Wait()
}

func rejectedResult(msg string) execution.Result {
	return execution.Result{
		Success: false,
		Error:   &envelope.ExecError{Kind: envelope.KindRejected, Message: msg},
	}
}
