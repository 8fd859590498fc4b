// Package server exposes the schedflow JSON API over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/rendis/schedflow/internal/service"
	"github.com/rendis/schedflow/internal/streaming"
)

const shutdownTimeout = 10 * time.Second

// Deps holds the dependencies for the API server.
type Deps struct {
	Service *service.Service
	Hub     streaming.EventHub
	Logger  *slog.Logger
}

// Server serves the workflow, run, approval and trigger routes.
type Server struct {
	svc    *service.Service
	hub    streaming.EventHub
	logger *slog.Logger
}

// New creates a Server.
func New(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{svc: deps.Service, hub: deps.Hub, logger: logger}
}

// Handler returns the HTTP handler for the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	// Workflows.
	mux.HandleFunc("POST /api/workflows", s.handleCreateWorkflow)
	mux.HandleFunc("GET /api/workflows", s.handleListWorkflows)
	mux.HandleFunc("GET /api/workflows/{id}", s.handleGetWorkflow)
	mux.HandleFunc("PUT /api/workflows/{id}/status", s.handleSetWorkflowStatus)
	mux.HandleFunc("GET /api/workflows/{id}/diagram", s.handleDiagram)
	mux.HandleFunc("POST /api/workflows/{id}/runs", s.handleStartRun)

	// Runs and approvals.
	mux.HandleFunc("GET /api/runs/{id}", s.handleGetRun)
	mux.HandleFunc("GET /api/runs/{id}/events", s.handleRunEvents)
	mux.HandleFunc("POST /api/runs/{id}/approve", s.handleApprove)
	mux.HandleFunc("POST /api/runs/{id}/reject", s.handleReject)
	mux.HandleFunc("GET /api/approvals", s.handlePendingApprovals)

	mux.HandleFunc("GET /api/actions", s.handleListActions)

	// Triggers.
	mux.HandleFunc("POST /api/triggers", s.handleCreateTrigger)
	mux.HandleFunc("GET /api/triggers", s.handleListTriggers)
	mux.HandleFunc("DELETE /api/triggers/{id}", s.handleDeleteTrigger)

	// SSE.
	mux.HandleFunc("GET /api/stream", s.handleStream)

	return otelhttp.NewHandler(mux, "schedflow.http",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}))
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		s.logger.Info("http server shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}
