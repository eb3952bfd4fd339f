// Package algo defines the entrypoint contracts that concrete algorithm
// implementations satisfy. Authoring concrete algorithms and any
// decorator-style registration sugar around this package is out of scope
// for this repository — this package exists only to name the
// interface the runner (package runner) and worker pool (package
// workerpool) invoke against.
package algo

import "context"

// Lifecycle is the class-based entrypoint contract. Initialize runs once per cached instance, Run/AfterRun run
// per request, and Shutdown tears the instance down.
//
// Req and Resp must be the spec's declared input/output model types; the
// runner coerces payloads to/from these types before and after Run.
type Lifecycle[Req, Resp any] interface {
	Initialize(ctx context.Context) error
	Run(ctx context.Context, req Req) (Resp, error)
	AfterRun(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// Func is the function-based entrypoint contract ( "a function
// (run only)"). There is no instance, no Initialize/AfterRun/Shutdown —
// just a single call per request.
type Func[Req, Resp any] func(ctx context.Context, req Req) (Resp, error)

// adaptedLifecycle type-erases a typed Lifecycle[Req, Resp] into the
// LifecycleAny shape the runner drives. Req/Resp coercion has already
// happened by the time Run is called (see package envelope), so the type
// assertions here only need to succeed for well-formed callers.
type adaptedLifecycle[Req, Resp any] struct {
	inner Lifecycle[Req, Resp]
}

func (a *adaptedLifecycle[Req, Resp]) Initialize(ctx context.Context) error {
	return a.inner.Initialize(ctx)
}

func (a *adaptedLifecycle[Req, Resp]) Run(ctx context.Context, payload any) (any, error) {
	req, ok := payload.(Req)
	if !ok {
		var zero Resp
		return zero, &typeMismatchError{want: req, got: payload}
	}
	return a.inner.Run(ctx, req)
}

func (a *adaptedLifecycle[Req, Resp]) AfterRun(ctx context.Context) error {
	return a.inner.AfterRun(ctx)
}

func (a *adaptedLifecycle[Req, Resp]) Shutdown(ctx context.Context) error {
	return a.inner.Shutdown(ctx)
}

type typeMismatchError struct{ want, got any }

func (e *typeMismatchError) Error() string {
	return "payload type mismatch for lifecycle entrypoint"
}

// Adapt type-erases a typed Lifecycle[Req, Resp] into a LifecycleAny,
// suitable for passing to RegisterLifecycleFactory.
func Adapt[Req, Resp any](l Lifecycle[Req, Resp]) LifecycleAny {
	return &adaptedLifecycle[Req, Resp]{inner: l}
}

// AdaptFunc type-erases a typed Func[Req, Resp] into a FuncEntry, suitable
// for passing to RegisterFunc.
func AdaptFunc[Req, Resp any](fn Func[Req, Resp]) FuncEntry {
	return func(ctx context.Context, payload any) (any, error) {
		req, ok := payload.(Req)
		if !ok {
			var zero Resp
			return zero, &typeMismatchError{want: req, got: payload}
		}
		return fn(ctx, req)
	}
}
