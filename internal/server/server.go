// Package server exposes the chat service to remote UIs.
//
// DESIGN: A small HTTP surface in front of chat.Service:
//   - GET /health:          liveness plus in-flight state
//   - GET /metrics:         Prometheus metrics (when enabled)
//   - POST /v1/conversations: create a conversation
//   - GET /v1/stream:       WebSocket bridge carrying Send/Stop/Summarize
//
// Every route runs through the middleware chain in middleware.go.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/compresr/streamchat/internal/chat"
	"github.com/compresr/streamchat/internal/config"
	"github.com/compresr/streamchat/internal/conversation"
	"github.com/compresr/streamchat/internal/monitoring"
)

// Deps are the collaborators a Server serves.
type Deps struct {
	Service       *chat.Service
	Conversations *conversation.MemorySource
	Metrics       *monitoring.Metrics // Optional
	Logger        *monitoring.Logger
	Alerts        monitoring.AlertConfig
}

// Server is the HTTP/WebSocket front end.
type Server struct {
	config        config.ServerConfig
	service       *chat.Service
	conversations *conversation.MemorySource
	metrics       *monitoring.Metrics
	alerts        *monitoring.AlertManager
	requestLogger *monitoring.RequestLogger
	limiter       *rateLimiter
	httpServer    *http.Server
}

// New creates a Server.
func New(cfg config.ServerConfig, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = monitoring.FromGlobal()
	}
	s := &Server{
		config:        cfg,
		service:       deps.Service,
		conversations: deps.Conversations,
		metrics:       deps.Metrics,
		alerts:        monitoring.NewAlertManager(logger, deps.Alerts),
		requestLogger: monitoring.NewRequestLogger(logger),
	}
	if cfg.RateLimit > 0 {
		s.limiter = newRateLimiter(cfg.RateLimit, cfg.RateBurst)
	}
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler returns the routed handler with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /v1/conversations", s.handleCreateConversation)
	mux.HandleFunc("GET /v1/stream", s.handleStream)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	var h http.Handler = mux
	h = s.security(h)
	h = s.loggingMiddleware(h)
	h = s.rateLimit(h)
	h = s.panicRecovery(h)
	return h
}

// Start serves until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	log.Info().Str("addr", s.httpServer.Addr).Msg("server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown aborts every stream and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.service.StopAll()
	if s.limiter != nil {
		s.limiter.close()
	}
	return s.httpServer.Shutdown(ctx)
}

// =============================================================================
// HANDLERS
// =============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"pending":       s.service.Pending(),
		"conversations": s.conversations.Len(),
	})
}

// CreateConversationRequest is the body of POST /v1/conversations.
type CreateConversationRequest struct {
	Topic   string                    `json:"topic"`
	Config  *conversation.ModelConfig `json:"config,omitempty"`
	Context []conversation.Message    `json:"context,omitempty"`
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req CreateConversationRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxFrameSize)).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	cfg := conversation.ModelConfig{}
	if req.Config != nil {
		cfg = *req.Config
	}
	for _, m := range req.Context {
		if !m.Role.Valid() {
			writeError(w, fmt.Sprintf("invalid role %q", m.Role), http.StatusBadRequest)
			return
		}
	}
	idx := s.conversations.Create(req.Topic, cfg, req.Context...)
	writeJSON(w, http.StatusCreated, map[string]any{"conversation": idx})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("failed to write response")
	}
}

func writeError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]any{"error": map[string]any{"message": msg, "type": "streamchat_error"}})
}

// =============================================================================
// NOTIFIER
// =============================================================================

// LogNotifier reports service notifications through the logger. Remote
// clients receive the same failures as error frames.
type LogNotifier struct{}

// ShowError implements conversation.Notifier.
func (LogNotifier) ShowError(conv int, messageID int64, err error) {
	log.Warn().Err(err).Int("conversation", conv).Int64("message_id", messageID).Msg("chat: request failed")
}

// PromptCredentials implements conversation.Notifier.
func (LogNotifier) PromptCredentials(conv int) {
	log.Warn().Int("conversation", conv).Msg("chat: endpoint rejected credentials")
}

var _ conversation.Notifier = LogNotifier{}
