// Package service wires the full runtime together: the lifecycle state
// machine, the dispatching executor with its worker pools, the HTTP layer,
// and the registry publisher. The state machine owns sequencing — worker
// pools come up during Provisioning, the HTTP server and catalog publisher
// during the transition into Running, and everything tears down on
// Shutdown.
package service

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/bottomsky/algotirhm-sdk/internal/config"
	"github.com/bottomsky/algotirhm-sdk/internal/executor"
	"github.com/bottomsky/algotirhm-sdk/internal/httpapi"
	"github.com/bottomsky/algotirhm-sdk/internal/lifecycle"
	"github.com/bottomsky/algotirhm-sdk/internal/registrypub"
	"github.com/bottomsky/algotirhm-sdk/internal/runner"
	"github.com/bottomsky/algotirhm-sdk/internal/spec"
	"github.com/bottomsky/algotirhm-sdk/internal/telemetry"
	"github.com/bottomsky/algotirhm-sdk/internal/workerpool"
)

// Runtime is the assembled service instance.
type Runtime struct {
	cfg      config.Config
	registry *spec.Registry
	machine  *lifecycle.Machine
	executor *executor.Executor
	server   *httpapi.Server
	store    *telemetry.Store
	logger   telemetry.Logger
	redis    *redis.Client
}

// New assembles a Runtime from configuration and an already-populated spec
// registry. workerCommand and workerArgs describe how to re-exec this
// binary in worker mode; pass the values from os.Executable() and the
// worker subcommand.
func New(ctx context.Context, cfg config.Config, registry *spec.Registry, workerCommand string, workerArgs []string, logger telemetry.Logger) (*Runtime, error) {
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}

	store := telemetry.NewStore()
	recorder := telemetry.NewRecorder(store, logger, telemetry.NewClueTracer(cfg.ServiceName))

	poolEnv := os.Environ()
	sharedPool := workerpool.New(workerpool.Config{
		MaxWorkers: cfg.GlobalMaxWorkers,
		QueueSize:  cfg.GlobalQueueSize,
		KillGraceS: cfg.KillGraceS,
		KillTree:   cfg.KillTree,
		Command:    workerCommand,
		Args:       workerArgs,
		Env:        poolEnv,
		Logger:     logger,
	})

	isolatedFactory := func(s spec.Spec) *workerpool.Pool {
		maxWorkers := 1
		if s.Execution.MaxWorkers != nil && *s.Execution.MaxWorkers > 0 {
			maxWorkers = *s.Execution.MaxWorkers
		}
		return workerpool.New(workerpool.Config{
			MaxWorkers: maxWorkers,
			KillGraceS: cfg.KillGraceS,
			KillTree:   cfg.KillTree,
			Command:    workerCommand,
			Args:       workerArgs,
			Env:        poolEnv,
			Logger:     logger,
		})
	}

	exec := executor.New(runner.New(), sharedPool, isolatedFactory, recorder)
	machine := lifecycle.New(logger)

	server := httpapi.New(httpapi.Config{
		Addr:         cfg.Addr(),
		Registry:     registry,
		Executor:     exec,
		Machine:      machine,
		Metrics:      store,
		Logger:       logger,
		AdminEnabled: cfg.AdminEnabled,
		CORS:         cfg.CORS,
	})

	rt := &Runtime{
		cfg:      cfg,
		registry: registry,
		machine:  machine,
		executor: exec,
		server:   server,
		store:    store,
		logger:   logger,
	}

	machine.RegisterHook(&executorHook{executor: exec, logger: logger})
	machine.RegisterHook(&serverHook{server: server, logger: logger})

	if cfg.RegistryEnabled {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RegistryHost})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect to service registry at %s: %w", cfg.RegistryHost, err)
		}
		rt.redis = rdb

		m, err := registrypub.Connect(ctx, "services", rdb)
		if err != nil {
			return nil, err
		}
		pub, err := registrypub.New(registrypub.Config{
			ServiceName:         cfg.ServiceName,
			InstanceID:          cfg.InstanceID,
			ServiceVersion:      cfg.ServiceVersion,
			BaseURL:             fmt.Sprintf("http://%s", cfg.Addr()),
			HealthCheckInterval: cfg.HealthCheckInterval,
			HealthCheckTimeout:  cfg.HealthCheckTimeout,
			Registry:            registry,
			Map:                 m,
			Logger:              logger,
		})
		if err != nil {
			return nil, err
		}
		machine.RegisterHook(pub)
		machine.RegisterHook(pub.DeregisterHook())
	}

	return rt, nil
}

// Machine exposes the lifecycle machine, e.g. for admin-driven transitions
// in tests.
func (rt *Runtime) Machine() *lifecycle.Machine { return rt.machine }

// Run drives the service through its startup sequence and blocks until ctx
// is canceled, then drains and shuts down.
func (rt *Runtime) Run(ctx context.Context) error {
	for _, state := range []lifecycle.State{
		lifecycle.Provisioning, lifecycle.Ready, lifecycle.Running,
	} {
		if err := rt.machine.Transition(ctx, state); err != nil {
			// Tear down whatever already came up before reporting.
			_ = rt.machine.Transition(context.Background(), lifecycle.Shutdown)
			return fmt.Errorf("startup halted before %s: %w", state, err)
		}
	}
	rt.logger.Info(ctx, "service running",
		"addr", rt.cfg.Addr(), "service", rt.cfg.ServiceName, "instance", rt.cfg.InstanceID)

	<-ctx.Done()

	drainCtx := context.Background()
	if err := rt.machine.Transition(drainCtx, lifecycle.Draining); err != nil {
		rt.logger.Warn(drainCtx, "drain transition failed", "error", err)
	}
	if err := rt.machine.Transition(drainCtx, lifecycle.Shutdown); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if rt.redis != nil {
		_ = rt.redis.Close()
	}
	return nil
}

// executorHook brings the executor (and its worker pools) up during
// Provisioning and cascades shutdown. Teardown failures are logged rather
// than propagated so a slow pool can never wedge the Shutdown transition.
// Its priority sits below serverHook's so that on Shutdown the HTTP server
// drains first: a still-running handler may be blocked inside a pool
// Submit, and killing workers out from under it before the drain would
// strand that request.
type executorHook struct {
	executor *executor.Executor
	logger   telemetry.Logger
}

func (h *executorHook) CanHandle(t lifecycle.Transition) bool {
	return t.To == lifecycle.Provisioning || t.To == lifecycle.Shutdown
}

func (h *executorHook) Priority() int { return 10 }

func (h *executorHook) Before(ctx context.Context, t lifecycle.Transition) error {
	if t.To == lifecycle.Provisioning {
		return h.executor.Start(ctx)
	}
	if err := h.executor.Shutdown(ctx, true); err != nil {
		h.logger.Warn(ctx, "executor shutdown reported errors", "error", err)
	}
	return nil
}

func (h *executorHook) After(ctx context.Context, t lifecycle.Transition, transitionErr error) error {
	return nil
}

// serverHook starts the HTTP listener on the way into Running and drains it
// on Shutdown. On Running it runs before the registry publisher (higher
// priority) so the instance is reachable before peers can discover it; on
// Shutdown it runs after the publisher's deregister hook and before the
// executor hook, so traffic stops being routed here, then in-flight
// handlers drain, then the worker pools come down.
type serverHook struct {
	server *httpapi.Server
	logger telemetry.Logger
}

func (h *serverHook) CanHandle(t lifecycle.Transition) bool {
	return (t.From == lifecycle.Ready && t.To == lifecycle.Running) || t.To == lifecycle.Shutdown
}

func (h *serverHook) Priority() int { return 30 }

func (h *serverHook) Before(ctx context.Context, t lifecycle.Transition) error {
	if t.To == lifecycle.Running {
		return h.server.Start(ctx)
	}
	// Bounded drain: an in-flight handler blocked on the lifecycle lock
	// (held for the duration of this transition) must not wedge shutdown.
	drainCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := h.server.Shutdown(drainCtx); err != nil {
		h.logger.Warn(ctx, "http server shutdown failed", "error", err)
	}
	return nil
}

func (h *serverHook) After(ctx context.Context, t lifecycle.Transition, transitionErr error) error {
	return nil
}
