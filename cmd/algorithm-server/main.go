// Command algorithm-server runs the algorithm execution service.
//
// The same binary serves two roles. Invoked with no arguments it runs the
// HTTP service: it loads configuration from the environment, builds the
// algorithm registry from the modules named in ALGO_MODULES, and drives the
// lifecycle state machine to Running. Invoked as "algorithm-server worker"
// it runs in worker mode: a single-task-at-a-time child process that reads
// task frames from stdin and writes response frames to stdout. The worker
// pool re-execs this binary in worker mode, so both processes build an
// identical registry from the same linked-in algorithm modules.
//
// Configuration environment variables:
//
//	SERVICE_HOST, SERVICE_PORT          - bind address (default 0.0.0.0:8080)
//	SERVICE_NAME, SERVICE_VERSION       - identity published to the registry
//	SERVICE_INSTANCE_ID                 - instance id (default: random UUID)
//	SERVICE_REGISTRY_ENABLED            - publish catalog to the service registry
//	SERVICE_REGISTRY_HOST               - Redis address backing the registry
//	HEALTH_CHECK_INTERVAL/_TIMEOUT      - health descriptor published with the instance
//	EXECUTOR_GLOBAL_MAX_WORKERS         - shared pool size (default 4)
//	EXECUTOR_GLOBAL_QUEUE_SIZE          - admission queue size (default 2x workers)
//	EXECUTOR_KILL_TREE, EXECUTOR_KILL_GRACE_S - timeout kill semantics
//	ALGO_MODULES                        - comma-separated algorithm modules to load
//	SERVICE_ADMIN_ENABLED               - expose admin lifecycle endpoints
//	CORS_ENABLED, CORS_ALLOWED_*        - optional CORS policy
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"goa.design/clue/log"

	"github.com/bottomsky/algotirhm-sdk/internal/bootstrap"
	"github.com/bottomsky/algotirhm-sdk/internal/config"
	"github.com/bottomsky/algotirhm-sdk/internal/service"
	"github.com/bottomsky/algotirhm-sdk/internal/telemetry"
	"github.com/bottomsky/algotirhm-sdk/internal/workerpool"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "worker" {
		if err := runWorker(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}
	if err := runServer(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServer() error {
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	logger := telemetry.ClueLogger{}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	registry, err := bootstrap.Build(cfg.AlgoModules)
	if err != nil {
		return err
	}

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable path: %w", err)
	}

	rt, err := service.New(ctx, cfg, registry, self, []string{"worker"}, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rt.Run(ctx)
}

// runWorker is the worker-mode entry point. Stdout carries the response
// frame protocol, so logs go to stderr.
func runWorker() error {
	ctx := log.Context(context.Background(),
		log.WithFormat(log.FormatJSON), log.WithOutput(os.Stderr))

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	registry, err := bootstrap.Build(cfg.AlgoModules)
	if err != nil {
		return err
	}
	return workerpool.RunWorkerMain(ctx, os.Stdin, os.Stdout, registry, telemetry.ClueLogger{})
}
