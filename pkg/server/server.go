// Copyright 2026 The Fablegrid Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package server exposes the HTTP surface: the REST endpoints, the SSE
// action stream, the websocket upgrade, and the auth endpoints.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fablegrid/fablegrid/internal/log"
	"github.com/fablegrid/fablegrid/pkg/game"
	"github.com/fablegrid/fablegrid/pkg/hub"
	"github.com/fablegrid/fablegrid/pkg/storage"
	"github.com/fablegrid/fablegrid/pkg/world"
)

// CORSConfig holds the CORS settings applied to every response.
type CORSConfig struct {
	Enabled          bool
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	AllowCredentials bool
	MaxAge           int
}

// DefaultCORSConfig returns a permissive CORS configuration.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		Enabled:        true,
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		MaxAge:         86400,
	}
}

// Config carries the server settings.
type Config struct {
	Addr      string
	APIKey    string
	JWTSecret string
	CORS      CORSConfig
}

// Server is the HTTP front of the game.
type Server struct {
	cfg      Config
	store    *storage.Store
	engine   *world.Engine
	pipeline *game.Pipeline
	limiter  *game.RateLimiter
	hub      *hub.Hub

	httpServer *http.Server
}

// New assembles the server; Start wires the routes.
func New(cfg Config, store *storage.Store, engine *world.Engine, pipeline *game.Pipeline,
	limiter *game.RateLimiter, h *hub.Hub) *Server {
	return &Server{
		cfg:      cfg,
		store:    store,
		engine:   engine,
		pipeline: pipeline,
		limiter:  limiter,
		hub:      h,
		httpServer: &http.Server{
			Addr:        cfg.Addr,
			ReadTimeout: 30 * time.Second,
			// SSE and websockets manage their own write lifetimes.
			WriteTimeout: 0,
			IdleTimeout:  120 * time.Second,
		},
	}
}

// Handler builds the full route table with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /start", s.handleStart)
	mux.HandleFunc("POST /player", s.handleCreatePlayer)
	mux.HandleFunc("GET /player/{id}", s.handleGetPlayer)
	mux.HandleFunc("POST /action/stream", s.handleActionStream)
	mux.HandleFunc("GET /room/{id}", s.handleGetRoom)
	mux.HandleFunc("GET /world/structure", s.handleWorldStructure)

	mux.HandleFunc("GET /rate-limit/status/{id}", s.handleRateLimitStatus)
	mux.HandleFunc("POST /rate-limit/config", s.handleRateLimitConfig)

	mux.HandleFunc("GET /actions/history/{id}", s.handleActionHistory)
	mux.HandleFunc("GET /chat/history/{room}", s.handleChatHistory)
	mux.HandleFunc("GET /analytics/player/{id}", s.handlePlayerAnalytics)

	mux.HandleFunc("POST /auth/register", s.handleRegister)
	mux.HandleFunc("POST /auth/login", s.handleLogin)
	mux.HandleFunc("GET /auth/profile", s.handleProfile)
	mux.HandleFunc("POST /auth/username", s.handleUsername)

	mux.HandleFunc("GET /ws", s.handleWebsocket)

	var handler http.Handler = s.apiKeyMiddleware(mux)
	if s.cfg.CORS.Enabled {
		handler = s.corsMiddleware(handler)
	}
	return handler
}

// Start blocks serving HTTP until the listener fails or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer.Handler = s.Handler()

	log.Info("starting http server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	log.Info("stopping http server")
	return s.httpServer.Shutdown(ctx)
}

// apiKeyMiddleware enforces the X-API-Key header on every route except the
// health check and CORS preflights. An empty configured key disables the
// check.
func (s *Server) apiKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIKey == "" || r.URL.Path == "/health" || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get("X-API-Key")
		if key == "" {
			// Browser websocket clients cannot set custom headers.
			key = r.URL.Query().Get("api_key")
		}
		if key != s.cfg.APIKey {
			writeError(w, http.StatusUnauthorized, "invalid api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware applies the configured CORS headers and answers preflights.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := s.allowedOrigin(r.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		if s.cfg.CORS.AllowCredentials {
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		if len(s.cfg.CORS.AllowedMethods) > 0 {
			w.Header().Set("Access-Control-Allow-Methods", strings.Join(s.cfg.CORS.AllowedMethods, ", "))
		}
		if len(s.cfg.CORS.AllowedHeaders) > 0 {
			w.Header().Set("Access-Control-Allow-Headers", strings.Join(s.cfg.CORS.AllowedHeaders, ", "))
		}
		if s.cfg.CORS.MaxAge > 0 {
			w.Header().Set("Access-Control-Max-Age", fmt.Sprintf("%d", s.cfg.CORS.MaxAge))
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) allowedOrigin(origin string) string {
	if origin == "" {
		return ""
	}
	for _, allowed := range s.cfg.CORS.AllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if allowed == origin {
			return origin
		}
	}
	return ""
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "healthy"}
	code := http.StatusOK
	if err := s.store.Transient.Ping(r.Context()); err != nil {
		status["transient"] = "unreachable"
		status["status"] = "degraded"
		code = http.StatusServiceUnavailable
	}
	if err := s.store.Durable.Ping(r.Context()); err != nil {
		status["durable"] = "unreachable"
		status["status"] = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug("response encoding failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func decodeBody(r *http.Request, v interface{}) error {
	defer r.Body.Close() //nolint:errcheck
	return json.NewDecoder(r.Body).Decode(v)
}
