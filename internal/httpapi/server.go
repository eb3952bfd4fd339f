// Package httpapi exposes the service over HTTP: liveness/readiness probes,
// the Prometheus metrics exposition, the algorithm catalog, and the invoke
// endpoint that maps the wire envelope onto the execution engine. Admission
// is gated by the lifecycle state machine: only a Running service accepts
// invocations.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bottomsky/algotirhm-sdk/internal/config"
	"github.com/bottomsky/algotirhm-sdk/internal/execution"
	"github.com/bottomsky/algotirhm-sdk/internal/lifecycle"
	"github.com/bottomsky/algotirhm-sdk/internal/spec"
	"github.com/bottomsky/algotirhm-sdk/internal/telemetry"
)

// Submitter dispatches one execution request; satisfied by *executor.Executor.
type Submitter interface {
	Submit(ctx context.Context, req execution.Request) (execution.Result, error)
}

// Server is the HTTP handler layer.
type Server struct {
	registry *spec.Registry
	executor Submitter
	machine  *lifecycle.Machine
	metrics  *telemetry.Store
	logger   telemetry.Logger

	adminEnabled bool
	cors         config.CORSConfig

	httpServer *http.Server
}

// Config configures a Server.
type Config struct {
	Addr         string
	Registry     *spec.Registry
	Executor     Submitter
	Machine      *lifecycle.Machine
	Metrics      *telemetry.Store
	Logger       telemetry.Logger
	AdminEnabled bool
	CORS         config.CORSConfig
}

// New constructs a Server. Metrics may be nil to disable /metrics.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = telemetry.NoopLogger{}
	}
	s := &Server{
		registry:     cfg.Registry,
		executor:     cfg.Executor,
		machine:      cfg.Machine,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		adminEnabled: cfg.AdminEnabled,
		cors:         cfg.CORS,
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler builds the chi router. Exposed separately from Start so tests can
// drive the full routing stack through httptest.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if s.cors.Enabled {
		r.Use(corsMiddleware(s.cors))
	}

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	if s.metrics != nil {
		reg := prometheus.NewRegistry()
		reg.MustRegister(s.metrics)
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	r.Route("/algorithms", func(r chi.Router) {
		r.Get("/", s.handleListAlgorithms)
		r.Get("/{name}/{version}/schema", s.handleSchema)
		r.Post("/{name}/{version}", s.handleInvoke)
	})

	if s.adminEnabled {
		r.Post("/admin/lifecycle/{state}", s.handleAdminTransition)
	}

	return r
}

// Start begins serving in a background goroutine and waits 100ms: a listen
// error within that window is returned, otherwise Start returns nil. Errors
// after that window surface through the logger only.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			s.logger.Error(ctx, "http server failed", "error", err)
		}
	}()
	select {
	case err := <-errCh:
		return err
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Shutdown drains the HTTP server with the given context's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz reports 200 only when the service admits requests. The
// non-ready payload names the current state and, if the last transition
// attempt aborted, why.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.machine.AcceptingRequests() {
		writeJSON(w, http.StatusOK, map[string]string{"state": string(lifecycle.Running)})
		return
	}
	body := map[string]string{"state": string(s.machine.State())}
	if err := s.machine.LastAbortError(); err != nil {
		body["reason"] = err.Error()
	}
	writeJSON(w, http.StatusServiceUnavailable, body)
}

type algorithmSummary struct {
	Name                 string            `json:"name"`
	Version              string            `json:"version"`
	Description          string            `json:"description"`
	Kind                 string            `json:"kind"`
	Author               string            `json:"author,omitempty"`
	Category             string            `json:"category,omitempty"`
	CreatedTime          string            `json:"created_time,omitempty"`
	ApplicationScenarios []string          `json:"application_scenarios,omitempty"`
	Extra                map[string]string `json:"extra,omitempty"`
}

func (s *Server) handleListAlgorithms(w http.ResponseWriter, r *http.Request) {
	specs := s.registry.List()
	out := make([]algorithmSummary, 0, len(specs))
	for _, sp := range specs {
		summary := algorithmSummary{
			Name:                 sp.Name,
			Version:              sp.Version,
			Description:          sp.Metadata.Description,
			Kind:                 string(sp.Kind),
			Author:               sp.Metadata.Author,
			Category:             sp.Metadata.Category,
			ApplicationScenarios: sp.Metadata.ApplicationScenarios,
			Extra:                sp.Metadata.Extra,
		}
		if !sp.Metadata.CreatedTime.IsZero() {
			summary.CreatedTime = sp.Metadata.CreatedTime.Format("2006-01-02")
		}
		out = append(out, summary)
	}
	writeJSON(w, http.StatusOK, out)
}

type schemaResponse struct {
	Input     json.RawMessage `json:"input"`
	Output    json.RawMessage `json:"output"`
	Execution executionView   `json:"execution"`
	Kind      string          `json:"kind"`
}

type executionView struct {
	Mode         string   `json:"mode"`
	Stateful     bool     `json:"stateful"`
	IsolatedPool bool     `json:"isolated_pool"`
	MaxWorkers   *int     `json:"max_workers,omitempty"`
	TimeoutS     *float64 `json:"timeout_s,omitempty"`
	GPU          bool     `json:"gpu,omitempty"`
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	name, version := chi.URLParam(r, "name"), chi.URLParam(r, "version")
	sp, err := s.registry.Get(name, version)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, schemaResponse{
		Input:  json.RawMessage(sp.InputSchema),
		Output: json.RawMessage(sp.OutputSchema),
		Kind:   string(sp.Kind),
		Execution: executionView{
			Mode:         string(sp.Execution.Mode),
			Stateful:     sp.Execution.Stateful,
			IsolatedPool: sp.Execution.IsolatedPool,
			MaxWorkers:   sp.Execution.MaxWorkers,
			TimeoutS:     sp.Execution.TimeoutS,
			GPU:          sp.Execution.GPU,
		},
	})
}

// handleAdminTransition drives the lifecycle machine explicitly. Gated
// behind SERVICE_ADMIN_ENABLED.
func (s *Server) handleAdminTransition(w http.ResponseWriter, r *http.Request) {
	target := lifecycle.State(chi.URLParam(r, "state"))
	if err := s.machine.Transition(r.Context(), target); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": err.Error(),
			"state": string(s.machine.State()),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": string(s.machine.State())})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
