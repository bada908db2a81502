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

package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/fablegrid/fablegrid/internal/log"
	"github.com/fablegrid/fablegrid/pkg/storage"
	"github.com/fablegrid/fablegrid/pkg/storage/postgres"
	"github.com/fablegrid/fablegrid/pkg/types"
)

const (
	tokenLifetime = 24 * time.Hour
	tokenAudience = "authenticated"
)

// errAuthNotConfigured marks a server running without a JWT secret. That is
// an operator error, not a client one, so it maps to a 500 rather than 401.
var errAuthNotConfigured = errors.New("jwt secret is not configured")

// authErrorStatus maps an authentication failure to its HTTP status.
func authErrorStatus(err error) int {
	if errors.Is(err, errAuthNotConfigured) {
		return http.StatusInternalServerError
	}
	return http.StatusUnauthorized
}

// userBackend returns the account store, or nil when the durable backend is
// not postgres (tests use in-memory stores without accounts). Account
// operations live on the concrete store, beyond the DurableStore interface.
func (s *Server) userBackend() *postgres.Store {
	pg, _ := s.store.Durable.(*postgres.Store)
	return pg
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	pg := s.userBackend()
	if pg == nil {
		writeError(w, http.StatusNotImplemented, "accounts are not enabled")
		return
	}
	var req struct {
		Email    string `json:"email"`
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}
	if len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not hash password")
		return
	}
	user := &types.User{
		ID:           "user_" + uuid.NewString(),
		Email:        req.Email,
		Username:     req.Username,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	if err := pg.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, postgres.ErrDuplicateUser) {
			writeError(w, http.StatusConflict, "email already registered")
			return
		}
		log.Error("user registration failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	token, err := s.issueToken(user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"user":  user,
		"token": token,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	pg := s.userBackend()
	if pg == nil {
		writeError(w, http.StatusNotImplemented, "accounts are not enabled")
		return
	}
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := pg.GetUserByEmail(r.Context(), req.Email)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := s.issueToken(user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user":  user,
		"token": token,
	})
}

// handleProfile returns the account behind the bearer token plus the user's
// characters.
func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	pg := s.userBackend()
	if pg == nil {
		writeError(w, http.StatusNotImplemented, "accounts are not enabled")
		return
	}
	userID, err := s.authenticate(r)
	if err != nil {
		writeError(w, authErrorStatus(err), err.Error())
		return
	}
	user, err := pg.GetUser(r.Context(), userID)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load user")
		return
	}
	players, err := s.store.Durable.ListPlayersByUser(r.Context(), userID)
	if err != nil {
		log.Warn("could not list user players", zap.String("user_id", userID), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user":    user,
		"players": players,
	})
}

func (s *Server) handleUsername(w http.ResponseWriter, r *http.Request) {
	pg := s.userBackend()
	if pg == nil {
		writeError(w, http.StatusNotImplemented, "accounts are not enabled")
		return
	}
	userID, err := s.authenticate(r)
	if err != nil {
		writeError(w, authErrorStatus(err), err.Error())
		return
	}
	var req struct {
		Username string `json:"username"`
	}
	if err := decodeBody(r, &req); err != nil || req.Username == "" {
		writeError(w, http.StatusBadRequest, "username is required")
		return
	}
	user, err := pg.GetUser(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load user")
		return
	}
	user.Username = req.Username
	if err := pg.UpdateUser(r.Context(), user); err != nil {
		writeError(w, http.StatusInternalServerError, "could not update username")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// issueToken mints an HS256 token for the user. A server without a configured
// secret cannot issue tokens; that is an operator error, not a client one.
func (s *Server) issueToken(user *types.User) (string, error) {
	if s.cfg.JWTSecret == "" {
		return "", errAuthNotConfigured
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   user.ID,
		Audience:  jwt.ClaimStrings{tokenAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenLifetime)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.cfg.JWTSecret))
}

// authenticate validates the Authorization bearer token and returns the user
// id from its subject claim.
func (s *Server) authenticate(r *http.Request) (string, error) {
	if s.cfg.JWTSecret == "" {
		return "", errAuthNotConfigured
	}
	header := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return "", fmt.Errorf("missing bearer token")
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	}, jwt.WithAudience(tokenAudience))
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("token has no subject")
	}
	return claims.Subject, nil
}
