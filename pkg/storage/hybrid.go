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

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fablegrid/fablegrid/internal/log"
	"github.com/fablegrid/fablegrid/pkg/types"
)

// Store is the hybrid facade (C3): one object the upper layers talk to, which
// routes each operation to the transient or durable backend.
type Store struct {
	Transient TransientStore
	Durable   DurableStore
}

// NewStore wires the two backends behind the facade.
func NewStore(transient TransientStore, durable DurableStore) *Store {
	return &Store{Transient: transient, Durable: durable}
}

// --- Presence (transient; the connection hub is the only mutator) ---

// AddPlayerToRoom records presence in the room's player set.
func (s *Store) AddPlayerToRoom(ctx context.Context, roomID, playerID string) error {
	return s.Transient.SetAdd(ctx, RoomPlayersKey(roomID), playerID)
}

// RemovePlayerFromRoom clears presence from the room's player set.
func (s *Store) RemovePlayerFromRoom(ctx context.Context, roomID, playerID string) error {
	return s.Transient.SetRemove(ctx, RoomPlayersKey(roomID), playerID)
}

// RoomPlayers returns the live presence set for a room.
func (s *Store) RoomPlayers(ctx context.Context, roomID string) ([]string, error) {
	return s.Transient.SetMembers(ctx, RoomPlayersKey(roomID))
}

// --- Advisory locks (transient; SetIfAbsent with TTL) ---

// AcquireLock takes an advisory lock; false means another holder owns it.
func (s *Store) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.Transient.SetIfAbsent(ctx, key, "1", ttl)
}

// ReleaseLock drops an advisory lock.
func (s *Store) ReleaseLock(ctx context.Context, key string) error {
	return s.Transient.Delete(ctx, key)
}

// --- Generation status (transient) ---

// SetGenerationStatus publishes a room's generation phase.
func (s *Store) SetGenerationStatus(ctx context.Context, roomID string, status types.ImageStatus) error {
	return s.Transient.SetString(ctx, RoomGenerationStatusKey(roomID), string(status), GenerationLockTTL)
}

// GenerationStatus reads a room's generation phase; ok is false when no
// generation is in flight.
func (s *Store) GenerationStatus(ctx context.Context, roomID string) (types.ImageStatus, bool, error) {
	v, ok, err := s.Transient.GetString(ctx, RoomGenerationStatusKey(roomID))
	if err != nil || !ok {
		return "", false, err
	}
	return types.ImageStatus(v), true, nil
}

// ClearGenerationStatus removes the status key once a room is fully built.
func (s *Store) ClearGenerationStatus(ctx context.Context, roomID string) error {
	return s.Transient.Delete(ctx, RoomGenerationStatusKey(roomID))
}

// --- Action history / rate-limit log (transient, append-only) ---

// RecordAction prepends the action to the player's history list and trims it.
func (s *Store) RecordAction(ctx context.Context, rec *types.ActionRecord) error {
	if types.IsPseudoPlayer(rec.PlayerID) {
		return nil
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal action record: %w", err)
	}
	key := ActionsKey(rec.PlayerID)
	if err := s.Transient.ListPushFront(ctx, key, string(raw)); err != nil {
		return err
	}
	if err := s.Transient.ListTrim(ctx, key, ActionHistoryMax); err != nil {
		return err
	}
	return s.Transient.Expire(ctx, key, ActionHistoryTTL)
}

// ActionHistory returns up to limit most recent actions, newest first.
func (s *Store) ActionHistory(ctx context.Context, playerID string, limit int64) ([]*types.ActionRecord, error) {
	raws, err := s.Transient.ListRange(ctx, ActionsKey(playerID), 0, limit-1)
	if err != nil {
		return nil, err
	}
	records := make([]*types.ActionRecord, 0, len(raws))
	for _, raw := range raws {
		var rec types.ActionRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			log.Warn("skipping malformed action record", zap.String("player_id", playerID), zap.Error(err))
			continue
		}
		records = append(records, &rec)
	}
	return records, nil
}

// --- Chat history (transient) ---

// RecordChat appends a chat message to both the room and player histories.
func (s *Store) RecordChat(ctx context.Context, msg *types.ChatMessage) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal chat message: %w", err)
	}
	roomKey := RoomChatKey(msg.RoomID)
	if err := s.Transient.ListPushFront(ctx, roomKey, string(raw)); err != nil {
		return err
	}
	if err := s.Transient.ListTrim(ctx, roomKey, ChatHistoryMax); err != nil {
		return err
	}
	if types.IsPseudoPlayer(msg.PlayerID) {
		return nil
	}
	playerKey := MessagesKey(msg.PlayerID)
	if err := s.Transient.ListPushFront(ctx, playerKey, string(raw)); err != nil {
		return err
	}
	if err := s.Transient.ListTrim(ctx, playerKey, ChatHistoryMax); err != nil {
		return err
	}
	return s.Transient.Expire(ctx, playerKey, ChatHistoryTTL)
}

// RoomChatHistory returns up to limit recent chat messages for a room,
// newest first.
func (s *Store) RoomChatHistory(ctx context.Context, roomID string, limit int64) ([]*types.ChatMessage, error) {
	raws, err := s.Transient.ListRange(ctx, RoomChatKey(roomID), 0, limit-1)
	if err != nil {
		return nil, err
	}
	msgs := make([]*types.ChatMessage, 0, len(raws))
	for _, raw := range raws {
		var msg types.ChatMessage
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			continue
		}
		msgs = append(msgs, &msg)
	}
	return msgs, nil
}

// --- Active duel mirror (transient, best-effort disconnect recovery) ---

// SaveActiveDuel mirrors the duel and points both participants at it.
func (s *Store) SaveActiveDuel(ctx context.Context, duel *types.Duel) error {
	raw, err := json.Marshal(duel)
	if err != nil {
		return fmt.Errorf("marshal duel: %w", err)
	}
	if err := s.Transient.SetString(ctx, ActiveDuelKey(duel.ID), string(raw), 24*time.Hour); err != nil {
		return err
	}
	for _, pid := range []string{duel.Player1ID, duel.Player2ID} {
		if err := s.Transient.SetString(ctx, PlayerActiveDuelKey(pid), duel.ID, 24*time.Hour); err != nil {
			return err
		}
	}
	return nil
}

// ActiveDuel loads the mirrored duel record, if any.
func (s *Store) ActiveDuel(ctx context.Context, duelID string) (*types.Duel, error) {
	raw, ok, err := s.Transient.GetString(ctx, ActiveDuelKey(duelID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	var duel types.Duel
	if err := json.Unmarshal([]byte(raw), &duel); err != nil {
		return nil, fmt.Errorf("unmarshal duel: %w", err)
	}
	return &duel, nil
}

// ActiveDuelForPlayer resolves a participant's active duel id, if any.
func (s *Store) ActiveDuelForPlayer(ctx context.Context, playerID string) (string, bool, error) {
	return s.Transient.GetString(ctx, PlayerActiveDuelKey(playerID))
}

// DeleteActiveDuel erases the mirror and the participant pointers.
func (s *Store) DeleteActiveDuel(ctx context.Context, duel *types.Duel) error {
	return s.Transient.Delete(ctx,
		ActiveDuelKey(duel.ID),
		PlayerActiveDuelKey(duel.Player1ID),
		PlayerActiveDuelKey(duel.Player2ID),
	)
}

// --- Sessions (transient hash) ---

// SaveSession stores a session hash with the standard TTL.
func (s *Store) SaveSession(ctx context.Context, sessionID string, fields map[string]string) error {
	return s.Transient.HashSet(ctx, SessionKey(sessionID), fields, SessionTTL)
}

// Session loads a session hash; an empty map means no such session.
func (s *Store) Session(ctx context.Context, sessionID string) (map[string]string, error) {
	return s.Transient.HashGetAll(ctx, SessionKey(sessionID))
}

// --- World reset ---

// ResetWorld clears all game tables in the durable store (user profiles
// survive) and flushes the transient store.
func (s *Store) ResetWorld(ctx context.Context) error {
	if err := s.Durable.ResetGameTables(ctx); err != nil {
		return fmt.Errorf("reset durable game tables: %w", err)
	}
	if err := s.Transient.FlushAll(ctx); err != nil {
		return fmt.Errorf("flush transient store: %w", err)
	}
	log.Info("world reset complete")
	return nil
}
