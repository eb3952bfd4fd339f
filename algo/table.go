package algo

import (
	"context"
	"fmt"
	"sync"
)

// FuncEntry is the type-erased form of a registered Func entrypoint.
// AdaptFunc wraps a typed algo.Func[Req, Resp] into this shape at
// package init() time; both the in-process runner and a re-exec'd worker
// process end up with an identical FuncEntry for the same Identity because
// each process runs the same init() code, not a value copied across the
// fork/spawn boundary.
type FuncEntry func(ctx context.Context, payload any) (any, error)

// LifecycleFactory is the type-erased form of a registered class-based
// entrypoint: it constructs a fresh instance satisfying Lifecycle[Req, Resp]
// for some Req/Resp, returned as a LifecycleAny so the runner and worker
// processes can drive it without knowing Req/Resp.
type LifecycleFactory func() (LifecycleAny, error)

// LifecycleAny is the type-erased Lifecycle contract invoked by the runner.
// Generated/typed wrappers (one per concrete algorithm) adapt a
// Lifecycle[Req, Resp] to this shape so the runner can drive Initialize/
// Run/AfterRun/Shutdown without knowing Req/Resp at compile time.
type LifecycleAny interface {
	Initialize(ctx context.Context) error
	Run(ctx context.Context, payload any) (any, error)
	AfterRun(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

var (
	mu        sync.RWMutex
	funcs     = map[Identity]FuncEntry{}
	factories = map[Identity]LifecycleFactory{}
)

// RegisterFunc registers a function-based entrypoint under id. Intended to
// be called from a package init() so that every process that imports the
// algorithm's package — including a re-exec'd worker — ends up with the
// same registration.
func RegisterFunc(id Identity, fn FuncEntry) {
	mu.Lock()
	defer mu.Unlock()
	funcs[id] = fn
}

// RegisterLifecycleFactory registers a class-based entrypoint factory under id.
func RegisterLifecycleFactory(id Identity, factory LifecycleFactory) {
	mu.Lock()
	defer mu.Unlock()
	factories[id] = factory
}

// LookupFunc returns the function-based entrypoint registered under id.
func LookupFunc(id Identity) (FuncEntry, bool) {
	mu.RLock()
	defer mu.RUnlock()
	fn, ok := funcs[id]
	return fn, ok
}

// LookupLifecycleFactory returns the class-based entrypoint factory
// registered under id.
func LookupLifecycleFactory(id Identity) (LifecycleFactory, bool) {
	mu.RLock()
	defer mu.RUnlock()
	f, ok := factories[id]
	return f, ok
}

// ErrUnregisteredEntrypoint is returned when a spec names an Identity that
// no init()-time registration has populated in this process image — this is
// always a deployment/build error (the worker binary was built without the
// algorithm package linked in), never a per-request condition.
type ErrUnregisteredEntrypoint struct{ ID Identity }

func (e *ErrUnregisteredEntrypoint) Error() string {
	return fmt.Sprintf("no entrypoint registered for identity %s", e.ID)
}
