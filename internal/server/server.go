// Package server exposes the copilot engine over HTTP: message submission,
// confirmation and cancellation of pending actions, history and tool catalog
// reads, plus health and metrics endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/civicworks/copilot/internal/copilot"
	"github.com/civicworks/copilot/internal/history"
)

// Server wraps the orchestrator in an HTTP API.
type Server struct {
	orch     *copilot.Orchestrator
	registry *copilot.ToolRegistry
	logger   *slog.Logger
	http     *http.Server
}

// New builds the server. addr is the listen address, e.g. ":8080".
func New(addr string, orch *copilot.Orchestrator, registry *copilot.ToolRegistry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		orch:     orch,
		registry: registry,
		logger:   logger,
	}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sessions/{id}/messages", s.handleMessage)
	mux.HandleFunc("POST /v1/sessions/{id}/confirm", s.handleConfirm)
	mux.HandleFunc("POST /v1/sessions/{id}/cancel", s.handleCancel)
	mux.HandleFunc("GET /v1/sessions/{id}/history", s.handleHistory)
	mux.HandleFunc("GET /v1/sessions/{id}/status", s.handleStatus)
	mux.HandleFunc("GET /v1/tools", s.handleTools)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// ListenAndServe blocks until the listener fails or Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", "addr", s.http.Addr)
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler returns the routing handler, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

type messageRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" {
		s.writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	reply, err := s.orch.ProcessMessage(r.Context(), sessionID, req.Text)
	if err != nil {
		s.writeOrchestratorError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	reply, err := s.orch.Confirm(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeOrchestratorError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	reply, err := s.orch.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeOrchestratorError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	messages, err := s.orch.History(r.Context(), r.PathValue("id"), 0)
	if err != nil {
		s.writeOrchestratorError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, proposal := s.orch.Status(r.PathValue("id"))
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":   status,
		"proposal": proposal,
	})
}

type toolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Risk        string          `json:"risk"`
	InputSchema json.RawMessage `json:"input_schema"`
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	defs := s.registry.Definitions()
	infos := make([]toolInfo, len(defs))
	for i, def := range defs {
		infos[i] = toolInfo{
			Name:        def.Name,
			Description: def.Description,
			Risk:        string(def.Risk),
			InputSchema: def.InputSchema,
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"tools": infos})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeOrchestratorError maps engine errors onto HTTP status codes. Domain
// conflicts are 409, caller mistakes 400 or 404, persistence trouble 500.
func (s *Server) writeOrchestratorError(w http.ResponseWriter, r *http.Request, err error) {
	var perr *history.PersistenceError
	switch {
	case errors.Is(err, copilot.ErrSessionBusy):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, copilot.ErrNoPendingProposal):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, copilot.ErrConfirmationExpired):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, copilot.ErrUnknownTool):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &perr):
		s.logger.Error("persistence failure", "path", r.URL.Path, "error", err)
		s.writeError(w, http.StatusInternalServerError, "storage failure")
	default:
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
