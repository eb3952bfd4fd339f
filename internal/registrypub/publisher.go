package registrypub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/rmap"

	"github.com/bottomsky/algotirhm-sdk/internal/lifecycle"
	"github.com/bottomsky/algotirhm-sdk/internal/spec"
	"github.com/bottomsky/algotirhm-sdk/internal/telemetry"
)

// Map is the minimal replicated-map contract the publisher writes through.
//
// Map is satisfied by *rmap.Map from goa.design/pulse/rmap. It is defined
// here to keep the publisher unit-testable without Redis and to avoid
// coupling callers to a concrete Pulse implementation.
type Map interface {
	Delete(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) (string, error)
}

// Config configures a Publisher.
type Config struct {
	// ServiceName and InstanceID identify this instance in the registry.
	ServiceName string
	InstanceID  string
	// ServiceVersion is recorded on the instance registration.
	ServiceVersion string
	// BaseURL is the externally reachable root of this instance's HTTP
	// surface; published routes are absolute against it.
	BaseURL string
	// HealthCheckInterval/HealthCheckTimeout populate the health-check
	// descriptor peers use to probe /healthz.
	HealthCheckInterval string
	HealthCheckTimeout  string

	Registry *spec.Registry
	Map      Map
	Logger   telemetry.Logger
}

// Publisher is the lifecycle hook that registers this instance and writes
// the algorithm catalog into the service registry on the transition into
// Running; its companion hook from DeregisterHook retracts both on
// Shutdown. Registration failures block the Running transition;
// deregistration failures are logged and swallowed so they can never block
// shutdown.
type Publisher struct {
	cfg Config
}

// New constructs a Publisher. The Map is typically joined with Connect.
func New(cfg Config) (*Publisher, error) {
	if cfg.Map == nil {
		return nil, fmt.Errorf("registrypub: Map is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registrypub: Registry is required")
	}
	if cfg.ServiceName == "" || cfg.InstanceID == "" {
		return nil, fmt.Errorf("registrypub: ServiceName and InstanceID are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = telemetry.NoopLogger{}
	}
	return &Publisher{cfg: cfg}, nil
}

// Connect joins the named replicated map over rdb. Multiple service
// instances joining the same map name on the same Redis see each other's
// registrations.
func Connect(ctx context.Context, name string, rdb *redis.Client) (Map, error) {
	m, err := rmap.Join(ctx, name, rdb)
	if err != nil {
		return nil, fmt.Errorf("join registry map %q: %w", name, err)
	}
	return m, nil
}

func (p *Publisher) instanceKey() string {
	return fmt.Sprintf("services/%s/%s", p.cfg.ServiceName, p.cfg.InstanceID)
}

func (p *Publisher) catalogKey() string {
	return p.instanceKey() + "/algorithms"
}

// CanHandle participates in the transition into Running. Deregistration on
// Shutdown runs through the separate hook returned by DeregisterHook, which
// carries its own (much higher) priority: publication must happen after the
// HTTP server is up, but retraction must happen before it drains.
func (p *Publisher) CanHandle(t lifecycle.Transition) bool {
	return t.To == lifecycle.Running
}

// Priority places publication after the HTTP server hook: the instance
// must be reachable before peers can discover it.
func (p *Publisher) Priority() int { return 0 }

// Before publishes on the way into Running. A publish failure propagates,
// aborting the transition.
func (p *Publisher) Before(ctx context.Context, t lifecycle.Transition) error {
	return p.Publish(ctx)
}

// After is a no-op; the publisher has no post-transition work.
func (p *Publisher) After(ctx context.Context, t lifecycle.Transition, transitionErr error) error {
	return nil
}

// DeregisterHook returns the Shutdown-phase hook that retracts this
// instance's registration. It runs before every other shutdown hook so
// peers stop routing new traffic here before the HTTP server drains and
// the worker pools come down. Deregistration failures are swallowed after
// logging and can never block shutdown.
func (p *Publisher) DeregisterHook() lifecycle.Hook { return &deregisterHook{p: p} }

type deregisterHook struct{ p *Publisher }

func (h *deregisterHook) CanHandle(t lifecycle.Transition) bool {
	return t.To == lifecycle.Shutdown
}

func (h *deregisterHook) Priority() int { return 40 }

func (h *deregisterHook) Before(ctx context.Context, t lifecycle.Transition) error {
	h.p.Deregister(ctx)
	return nil
}

func (h *deregisterHook) After(ctx context.Context, t lifecycle.Transition, transitionErr error) error {
	return nil
}

// Publish registers the instance record and writes the catalog document.
func (p *Publisher) Publish(ctx context.Context) error {
	rec := InstanceRecord{
		Service:    p.cfg.ServiceName,
		InstanceID: p.cfg.InstanceID,
		Version:    p.cfg.ServiceVersion,
		Address:    p.cfg.BaseURL,
		HealthCheck: HealthCheck{
			URL:      p.cfg.BaseURL + "/healthz",
			Interval: p.cfg.HealthCheckInterval,
			Timeout:  p.cfg.HealthCheckTimeout,
		},
		RegisteredAt: time.Now().UTC(),
	}
	recJSON, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal instance record: %w", err)
	}
	if _, err := p.cfg.Map.Set(ctx, p.instanceKey(), string(recJSON)); err != nil {
		return fmt.Errorf("register instance %s: %w", p.instanceKey(), err)
	}

	catalog := BuildCatalog(p.cfg.Registry, p.cfg.ServiceName, p.cfg.InstanceID, p.cfg.BaseURL)
	catJSON, err := json.Marshal(catalog)
	if err != nil {
		return fmt.Errorf("marshal catalog: %w", err)
	}
	if _, err := p.cfg.Map.Set(ctx, p.catalogKey(), string(catJSON)); err != nil {
		return fmt.Errorf("publish catalog %s: %w", p.catalogKey(), err)
	}
	p.cfg.Logger.Info(ctx, "algorithm catalog published",
		"key", p.catalogKey(), "algorithms", len(catalog.Algorithms))
	return nil
}

// Deregister removes the instance record and the catalog document,
// best-effort: every failure is logged, none propagate.
func (p *Publisher) Deregister(ctx context.Context) {
	if _, err := p.cfg.Map.Delete(ctx, p.catalogKey()); err != nil {
		p.cfg.Logger.Warn(ctx, "failed to delete catalog entry", "key", p.catalogKey(), "error", err)
	}
	if _, err := p.cfg.Map.Delete(ctx, p.instanceKey()); err != nil {
		p.cfg.Logger.Warn(ctx, "failed to deregister instance", "key", p.instanceKey(), "error", err)
	}
}
