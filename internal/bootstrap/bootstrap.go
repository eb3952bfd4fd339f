// Package bootstrap collects algorithm spec providers registered at init()
// time and builds the spec registry from them. Because the worker pool
// re-execs this same binary, both the supervisor process and every worker
// process run the same init() registrations and therefore build identical
// registries — specs are never serialized across the process boundary, only
// referred to by (name, version).
package bootstrap

import (
	"fmt"
	"sync"

	"github.com/bottomsky/algotirhm-sdk/internal/spec"
)

// Provider registers one module's specs into the given registry. Providers
// are registered under a module name; the ALGO_MODULES environment variable
// selects which modules load at startup.
type Provider func(r *spec.Registry) error

var (
	mu        sync.Mutex
	providers = map[string]Provider{}
	order     []string
)

// RegisterModule records a provider under the given module name. Intended
// to be called from an algorithm package's init(). Registering the same
// module name twice panics: two packages claiming one module name is a
// build error, not a runtime condition.
func RegisterModule(name string, p Provider) {
	mu.Lock()
	defer mu.Unlock()
	if _, dup := providers[name]; dup {
		panic(fmt.Sprintf("bootstrap: module %q registered twice", name))
	}
	providers[name] = p
	order = append(order, name)
}

// Build constructs a registry from the named modules, in the order given.
// An empty modules list loads every registered module, in registration
// order. Naming a
// module that was never linked into this binary is an error — it means the
// deployment expects an algorithm this build cannot provide.
func Build(modules []string) (*spec.Registry, error) {
	mu.Lock()
	defer mu.Unlock()

	selected := order
	if len(modules) > 0 {
		selected = selected[:0:0]
		for _, m := range modules {
			if _, ok := providers[m]; !ok {
				return nil, fmt.Errorf("bootstrap: module %q is not linked into this binary", m)
			}
			selected = append(selected, m)
		}
	}

	r := spec.New()
	for _, name := range selected {
		if err := providers[name](r); err != nil {
			return nil, fmt.Errorf("bootstrap: load module %q: %w", name, err)
		}
	}
	return r, nil
}
