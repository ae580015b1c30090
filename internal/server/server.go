// Package server exposes the chat turn loop over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/autostream/leadflow/internal/agent"
	"github.com/autostream/leadflow/internal/memory"
	"github.com/autostream/leadflow/internal/models"
)

const maxBodyBytes = 64 << 10

// ChatService runs turns and exposes stored threads
type ChatService interface {
	Chat(ctx context.Context, threadID, message string) (agent.Reply, error)
	State(ctx context.Context, threadID string) (*models.ConversationState, error)
}

// HealthChecker reports whether the state store is reachable
type HealthChecker interface {
	Count(ctx context.Context) (int64, error)
}

// Server is the HTTP API
type Server struct {
	server   *http.Server
	chat     ChatService
	health   HealthChecker
	gatherer prometheus.Gatherer
	logger   zerolog.Logger
}

// New creates a server listening on addr. gatherer backs /metrics and may be nil.
func New(addr string, chat ChatService, health HealthChecker, gatherer prometheus.Gatherer, logger zerolog.Logger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		chat:     chat,
		health:   health,
		gatherer: gatherer,
		logger:   logger,
	}

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the routed handler with request logging
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat", s.handleChat)
	mux.HandleFunc("GET /v1/threads/{id}", s.handleThread)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return s.loggingMiddleware(mux)
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("starting HTTP API")

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight turns
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down HTTP API")
	return s.server.Shutdown(ctx)
}

type chatRequest struct {
	ThreadID string `json:"thread_id"`
	Message  string `json:"message"`
}

type chatResponse struct {
	ThreadID     string   `json:"thread_id"`
	Reply        string   `json:"reply"`
	Intent       string   `json:"intent"`
	Missing      []string `json:"missing"`
	LeadCaptured bool     `json:"lead_captured"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	if strings.TrimSpace(req.Message) == "" {
		writeJSONError(w, http.StatusBadRequest, "message field cannot be empty")
		return
	}
	if req.ThreadID == "" {
		req.ThreadID = uuid.NewString()
	}

	reply, err := s.chat.Chat(r.Context(), req.ThreadID, req.Message)
	if err != nil {
		var turnErr *agent.TurnError
		switch {
		case errors.Is(err, agent.ErrInvalidInput):
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		case errors.As(err, &turnErr):
			// the fallback reply is still a valid answer for the user
			s.logger.Warn().Err(err).Str("thread_id", req.ThreadID).Msg("turn aborted")
		default:
			writeJSONError(w, http.StatusInternalServerError, "internal error")
			s.logger.Error().Err(err).Str("thread_id", req.ThreadID).Msg("chat failed")
			return
		}
	}

	missing := reply.Missing
	if missing == nil {
		missing = []string{}
	}

	writeJSON(w, http.StatusOK, chatResponse{
		ThreadID:     req.ThreadID,
		Reply:        reply.Text,
		Intent:       string(reply.Intent),
		Missing:      missing,
		LeadCaptured: reply.LeadCaptured,
	})
}

func (s *Server) handleThread(w http.ResponseWriter, r *http.Request) {
	state, err := s.chat.State(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, memory.ErrThreadNotFound):
		writeJSONError(w, http.StatusNotFound, "thread not found")
	case err != nil:
		s.logger.Error().Err(err).Msg("failed to load thread")
		writeJSONError(w, http.StatusInternalServerError, "internal error")
	default:
		writeJSON(w, http.StatusOK, state)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "healthy"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	threads, err := s.health.Count(ctx)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"status": "unhealthy", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "healthy", "threads": threads})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
