package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"dispatch/internal/config"
	"dispatch/internal/logging"
	"dispatch/internal/services"
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	if cfg == nil || d == nil {
		return nil, nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}

	srv := &apiServer{
		bind:   bind,
		logger: logger,
		daemon: d,
	}

	token := strings.TrimSpace(cfg.Paths.APIToken)
	mux := http.NewServeMux()
	route := func(pattern string, handler http.HandlerFunc) {
		mux.HandleFunc(pattern, authMiddleware(token, handler))
	}

	route("GET /api/status", srv.handleStatus)

	route("GET /api/agents", srv.handleAgentList)
	route("POST /api/agents", srv.handleAgentRegister)
	route("GET /api/agents/{id}/work", srv.handleAgentWork)
	route("POST /api/agents/{id}/heartbeat", srv.handleAgentHeartbeat)
	route("POST /api/agents/{id}/status", srv.handleAgentStatus)
	route("DELETE /api/agents/{id}", srv.handleAgentDeregister)

	route("GET /api/work", srv.handleWorkList)
	route("POST /api/work", srv.handleWorkEnqueue)
	route("GET /api/work/{id}", srv.handleWorkDescribe)
	route("POST /api/work/{id}/start", srv.handleWorkStart)
	route("POST /api/work/{id}/complete", srv.handleWorkComplete)
	route("POST /api/work/{id}/fail", srv.handleWorkFail)
	route("POST /api/work/{id}/cancel", srv.handleWorkCancel)

	route("GET /api/sessions", srv.handleSessionList)
	route("POST /api/sessions", srv.handleSessionCreate)
	route("GET /api/sessions/{id}", srv.handleSessionProgress)
	route("POST /api/sessions/{id}/complete", srv.handleSessionComplete)

	route("GET /api/dlq", srv.handleDLQList)
	route("POST /api/dlq/{id}/reprocess", srv.handleDLQReprocess)
	route("POST /api/dlq/{id}/escalate", srv.handleDLQEscalate)

	route("POST /api/workflows", srv.handleWorkflowStart)
	route("GET /api/workflows/{id}", srv.handleWorkflowDescribe)
	route("POST /api/workflows/{id}/advance", srv.handleWorkflowAdvance)
	route("POST /api/workflows/{id}/suspend", srv.handleWorkflowSuspend)
	route("POST /api/workflows/{id}/resume", srv.handleWorkflowResume)
	route("POST /api/workflows/{id}/complete", srv.handleWorkflowComplete)
	route("POST /api/workflows/{id}/fail", srv.handleWorkflowFail)
	route("GET /api/phase-summary", srv.handlePhaseSummary)

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

// addr returns the bound listen address, empty before start.
func (s *apiServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps the service error taxonomy onto HTTP statuses.
func (s *apiServer) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrValidation):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrConflict):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *apiServer) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(logging.String(logging.FieldComponent, "api-server"))
	}
	return logging.NewNop()
}
