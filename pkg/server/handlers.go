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
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fablegrid/fablegrid/internal/log"
	"github.com/fablegrid/fablegrid/pkg/storage"
	"github.com/fablegrid/fablegrid/pkg/types"
)

// handleStart bootstraps the world (idempotent) and returns the game state
// with the starting room.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Seed string `json:"seed,omitempty"`
	}
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	state, err := s.engine.EnsureWorld(r.Context(), req.Seed)
	if err != nil {
		log.Error("world bootstrap failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "world bootstrap failed")
		return
	}
	room, err := s.store.Durable.GetRoom(r.Context(), types.StartRoomID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "starting room unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"game_state": state,
		"room":       room,
	})
}

// handleCreatePlayer creates a player at the starting room, or returns the
// existing record when the id is already taken.
func (s *Server) handleCreatePlayer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     string `json:"id,omitempty"`
		Name   string `json:"name"`
		UserID string `json:"user_id,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "player name is required")
		return
	}

	id := req.ID
	if id == "" {
		id = "player_" + uuid.NewString()
	}
	if existing, err := s.store.Durable.GetPlayer(r.Context(), id); err == nil {
		writeJSON(w, http.StatusOK, existing)
		return
	}

	player := &types.Player{
		ID:          id,
		UserID:      req.UserID,
		Name:        req.Name,
		CurrentRoom: types.StartRoomID,
		Health:      types.PlayerMaxVital,
		Inventory:   []string{},
	}
	if err := s.store.Durable.SavePlayer(r.Context(), player); err != nil {
		log.Error("could not create player", zap.String("player_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not create player")
		return
	}
	writeJSON(w, http.StatusCreated, player)
}

func (s *Server) handleGetPlayer(w http.ResponseWriter, r *http.Request) {
	player, err := s.store.Durable.GetPlayer(r.Context(), r.PathValue("id"))
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "player not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load player")
		return
	}
	writeJSON(w, http.StatusOK, player)
}

// handleGetRoom returns the room with its live occupants and expanded
// inhabitants.
func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	room, err := s.store.Durable.GetRoom(ctx, r.PathValue("id"))
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load room")
		return
	}
	if players, err := s.store.RoomPlayers(ctx, room.ID); err == nil {
		room.Players = players
	}

	items, err := s.store.Durable.GetItems(ctx, room.Items)
	if err != nil {
		log.Warn("could not expand room items", zap.String("room_id", room.ID), zap.Error(err))
	}
	monsters, err := s.store.Durable.GetMonsters(ctx, room.Monsters)
	if err != nil {
		log.Warn("could not expand room monsters", zap.String("room_id", room.ID), zap.Error(err))
	}
	npcs, err := s.store.Durable.GetNPCs(ctx, room.NPCs)
	if err != nil {
		log.Warn("could not expand room npcs", zap.String("room_id", room.ID), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"room":     room,
		"items":    items,
		"monsters": monsters,
		"npcs":     npcs,
	})
}

// handleWorldStructure returns the discovered map: every coordinate with its
// room id, discovery flag, and biome.
func (s *Server) handleWorldStructure(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	coords, err := s.store.Durable.ListCoordinates(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not list coordinates")
		return
	}
	rooms, err := s.store.Durable.ListRooms(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not list rooms")
		return
	}

	biomeByRoom := make(map[string]string, len(rooms))
	titleByRoom := make(map[string]string, len(rooms))
	for _, room := range rooms {
		biomeByRoom[room.ID] = room.Biome
		titleByRoom[room.ID] = room.Title
	}

	type cell struct {
		X            int    `json:"x"`
		Y            int    `json:"y"`
		RoomID       string `json:"room_id"`
		Title        string `json:"title,omitempty"`
		Biome        string `json:"biome,omitempty"`
		IsDiscovered bool   `json:"is_discovered"`
	}
	cells := make([]cell, 0, len(coords))
	for _, c := range coords {
		cells = append(cells, cell{
			X:            c.X,
			Y:            c.Y,
			RoomID:       c.RoomID,
			Title:        titleByRoom[c.RoomID],
			Biome:        biomeByRoom[c.RoomID],
			IsDiscovered: c.IsDiscovered,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rooms": cells,
		"count": len(cells),
	})
}

func (s *Server) handleRateLimitStatus(w http.ResponseWriter, r *http.Request) {
	info, err := s.limiter.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "rate limit status unavailable")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleRateLimitConfig(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Limit           int `json:"limit"`
		IntervalMinutes int `json:"interval_minutes"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.limiter.SetConfig(req.Limit, time.Duration(req.IntervalMinutes)*time.Minute)
	limit, interval := s.limiter.Config()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"limit":            limit,
		"interval_minutes": int(interval.Minutes()),
	})
}

func (s *Server) handleActionHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	records, err := s.store.ActionHistory(r.Context(), r.PathValue("id"), int64(limit))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load action history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"actions": records,
		"count":   len(records),
	})
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	messages, err := s.store.RoomChatHistory(r.Context(), r.PathValue("room"), int64(limit))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load chat history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"messages": messages,
		"count":    len(messages),
	})
}

// handlePlayerAnalytics derives usage statistics from the action log.
func (s *Server) handlePlayerAnalytics(w http.ResponseWriter, r *http.Request) {
	playerID := r.PathValue("id")
	records, err := s.store.ActionHistory(r.Context(), playerID, int64(storage.ActionHistoryMax))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load action history")
		return
	}

	sessions := make(map[string]int)
	rooms := make(map[string]struct{})
	var first, last time.Time
	for _, rec := range records {
		sessions[rec.SessionID]++
		rooms[rec.RoomID] = struct{}{}
		if first.IsZero() || rec.Timestamp.Before(first) {
			first = rec.Timestamp
		}
		if rec.Timestamp.After(last) {
			last = rec.Timestamp
		}
	}

	out := map[string]interface{}{
		"player_id":     playerID,
		"total_actions": len(records),
		"sessions":      len(sessions),
		"rooms_visited": len(rooms),
	}
	if !first.IsZero() {
		out["first_action_at"] = first
		out["last_action_at"] = last
	}
	writeJSON(w, http.StatusOK, out)
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
