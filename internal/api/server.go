package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/alinzhou20/miniServer/internal/auth"
	"github.com/alinzhou20/miniServer/pkg/event"
)

// Store is the maintenance slice of the durable store the API exposes.
type Store interface {
	Reset(ctx context.Context) error
	HealthCheck(ctx context.Context) error
}

// Registry exposes the connection stats surfaced by the health endpoint.
type Registry interface {
	Stats() map[string]int
}

// Server is the thin HTTP layer around the core: credential exchange for
// handshake tokens, teacher-initiated bulk reset, and health. No business
// logic, only HTTP handling and JSON serialization.
type Server struct {
	resolver *auth.Resolver
	store    Store
	registry Registry
	router   *http.ServeMux
	log      zerolog.Logger
}

func NewServer(resolver *auth.Resolver, store Store, registry Registry, logger zerolog.Logger) *Server {
	s := &Server{
		resolver: resolver,
		store:    store,
		registry: registry,
		router:   http.NewServeMux(),
		log:      logger.With().Str("comp", "api").Logger(),
	}
	s.router.Handle("/api/login", s.corsMiddleware(http.HandlerFunc(s.handleLogin)))
	s.router.Handle("/api/reset", s.corsMiddleware(http.HandlerFunc(s.handleReset)))
	s.router.Handle("/health", s.corsMiddleware(http.HandlerFunc(s.handleHealth)))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type loginResponse struct {
	Token       string          `json:"token"`
	Participant *event.Identity `json:"participant"`
}

// handleLogin exchanges a credential for a participant identity and a
// signed handshake token. First successful student login creates the
// identity.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var cred auth.Credential
	if err := json.NewDecoder(r.Body).Decode(&cred); err != nil {
		s.sendError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	identity, err := s.resolver.Resolve(r.Context(), cred)
	if err != nil {
		s.log.Warn().Err(err).Str("role", cred.Role).Msg("login rejected")
		s.sendError(w, "authentication failed", http.StatusUnauthorized)
		return
	}

	token, err := s.resolver.IssueToken(identity)
	if err != nil {
		s.sendError(w, "token issuance failed", http.StatusInternalServerError)
		return
	}

	s.sendJSON(w, http.StatusOK, loginResponse{Token: token, Participant: identity})
}

// handleReset empties the message store. Teacher only; identities survive.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	identity, err := s.bearerIdentity(r)
	if err != nil || !identity.IsTeacher() {
		s.sendError(w, "teacher authorization required", http.StatusForbidden)
		return
	}

	if err := s.store.Reset(r.Context()); err != nil {
		s.log.Error().Err(err).Msg("reset failed")
		s.sendError(w, "reset failed", http.StatusInternalServerError)
		return
	}

	s.log.Info().Msg("message store reset")
	s.sendJSON(w, http.StatusOK, map[string]any{"reset": true, "at": time.Now().UnixMilli()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	code := http.StatusOK
	if err := s.store.HealthCheck(ctx); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	s.sendJSON(w, code, map[string]any{
		"status":    status,
		"registry":  s.registry.Stats(),
		"timestamp": time.Now().UnixMilli(),
	})
}

func (s *Server) bearerIdentity(r *http.Request) (*event.Identity, error) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return nil, auth.ErrInvalidToken
	}
	return s.resolver.VerifyToken(strings.TrimPrefix(header, "Bearer "))
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("response encoding failed")
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.sendJSON(w, code, map[string]string{"error": message})
}
