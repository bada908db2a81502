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

// Package hub manages the live websocket sessions. It is the gameplay
// layer's messenger and relays the world engine's room-update events to
// connected clients.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/fablegrid/fablegrid/internal/csync"
	"github.com/fablegrid/fablegrid/internal/log"
	"github.com/fablegrid/fablegrid/pkg/game"
	"github.com/fablegrid/fablegrid/pkg/storage"
	"github.com/fablegrid/fablegrid/pkg/types"
	"github.com/fablegrid/fablegrid/pkg/world"
)

const (
	// DefaultRoomCapacity caps concurrent players per room.
	DefaultRoomCapacity = 8

	// badMessageLimit is how many unparseable client messages are tolerated
	// before the connection is dropped.
	badMessageLimit = 3

	storylineChunkSize = 80
	storylineChunkWait = 300 * time.Millisecond
)

// Hub tracks one session per connected player and routes messages between
// the gameplay layer and the clients.
type Hub struct {
	store    *storage.Store
	engine   *world.Engine
	combat   *game.CombatEngine
	behavior *game.BehaviorManager
	quests   *game.QuestManager

	sessions     *csync.Map[string, *session]
	roomCapacity int
}

// New creates the hub. Wire the combat engine, behavior manager, and quest
// manager afterwards; they need the hub as their messenger first.
func New(store *storage.Store, engine *world.Engine, roomCapacity int) *Hub {
	if roomCapacity <= 0 {
		roomCapacity = DefaultRoomCapacity
	}
	h := &Hub{
		store:        store,
		engine:       engine,
		sessions:     csync.NewMap[string, *session](),
		roomCapacity: roomCapacity,
	}
	go h.relayRoomEvents(context.Background())
	return h
}

// relayRoomEvents forwards the engine's room-update events, published by the
// preload and image/3D background jobs, to everyone in the room.
func (h *Hub) relayRoomEvents(ctx context.Context) {
	for ev := range h.engine.Events().Subscribe(ctx) {
		h.BroadcastRoomUpdate(ev.Payload.ID, ev.Payload)
	}
}

// Attach hands the hub its gameplay collaborators after construction.
func (h *Hub) Attach(combat *game.CombatEngine, behavior *game.BehaviorManager, quests *game.QuestManager) {
	h.combat = combat
	h.behavior = behavior
	h.quests = quests
}

// ErrRoomFull is returned when a join would exceed the room capacity.
var ErrRoomFull = errors.New("room is at capacity")

// Connect registers an upgraded websocket for the player and starts its read
// and write loops. The call returns once the initial snapshot is sent; the
// loops run until the peer disconnects.
func (h *Hub) Connect(ctx context.Context, conn *websocket.Conn, playerID string) error {
	player, err := h.store.Durable.GetPlayer(ctx, playerID)
	if err != nil {
		return fmt.Errorf("load player %s: %w", playerID, err)
	}
	roomID := player.CurrentRoom
	if roomID == "" {
		roomID = types.StartRoomID
	}
	room, err := h.store.Durable.GetRoom(ctx, roomID)
	if err != nil {
		return fmt.Errorf("load room %s: %w", roomID, err)
	}

	occupants, err := h.store.RoomPlayers(ctx, room.ID)
	if err == nil && len(occupants) >= h.roomCapacity && !contains(occupants, playerID) {
		return ErrRoomFull
	}

	// A reconnect replaces the previous session.
	if old, ok := h.sessions.Get(playerID); ok {
		old.close()
	}

	s := newSession(conn, playerID, room.ID)
	h.sessions.Set(playerID, s)
	go s.writeLoop()

	if err := h.store.AddPlayerToRoom(ctx, room.ID, playerID); err != nil {
		log.Warn("could not record presence", zap.String("room_id", room.ID), zap.Error(err))
	}
	h.BroadcastToRoom(room.ID, types.NewWireMessage(types.MsgPresence, map[string]interface{}{
		"event":     "player_joined",
		"player_id": playerID,
	}), playerID)

	h.sendSnapshot(ctx, s, player, room)
	go h.maybeSendStoryline(context.WithoutCancel(ctx), s)
	go h.readLoop(s)

	log.Info("player connected", zap.String("player_id", playerID), zap.String("room_id", room.ID))
	return nil
}

// sendSnapshot delivers the full join state: room, occupants, and the active
// monster behaviors.
func (h *Hub) sendSnapshot(ctx context.Context, s *session, player *types.Player, room *types.Room) {
	if players, err := h.store.RoomPlayers(ctx, room.ID); err == nil {
		room.Players = players
	}
	fields := map[string]interface{}{
		"room":   room,
		"player": player,
	}
	if h.behavior != nil {
		fields["behaviors"] = h.behavior.Summary(room)
	}
	s.deliver(types.NewWireMessage(types.MsgRoomUpdate, fields))
}

// maybeSendStoryline plays the opening quest storyline once per world, in
// typewriter chunks.
func (h *Hub) maybeSendStoryline(ctx context.Context, s *session) {
	if h.quests == nil {
		return
	}
	state, err := h.engine.GameState(ctx)
	if err != nil || state.StorylineShown {
		return
	}
	quest, err := h.quests.FirstQuest(ctx)
	if err != nil || quest.Storyline == "" {
		return
	}

	text := quest.Storyline
	for start := 0; start < len(text); start += storylineChunkSize {
		end := start + storylineChunkSize
		if end > len(text) {
			end = len(text)
		}
		if !s.deliver(types.NewWireMessage(types.MsgQuestStoryline, map[string]interface{}{
			"quest_id": quest.ID,
			"chunk":    text[start:end],
			"done":     end == len(text),
		})) {
			return
		}
		if end < len(text) {
			time.Sleep(storylineChunkWait)
		}
	}

	state.StorylineShown = true
	if err := h.engine.SaveGameState(ctx, state); err != nil {
		log.Warn("could not mark storyline shown", zap.Error(err))
	}
}

// readLoop consumes client messages until the connection dies.
func (h *Hub) readLoop(s *session) {
	defer h.disconnect(s)

	s.conn.SetReadLimit(16 * 1024)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	badMessages := 0
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg types.WireMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			badMessages++
			s.deliver(types.ErrorMessage("malformed message"))
			if badMessages >= badMessageLimit {
				log.Warn("dropping session after repeated bad messages",
					zap.String("player_id", s.playerID))
				return
			}
			continue
		}
		badMessages = 0
		h.dispatch(s, msg)
	}
}

// dispatch routes one client message. Unknown types get an error envelope.
func (h *Hub) dispatch(s *session, msg types.WireMessage) {
	ctx := context.Background()
	msgType, _ := msg["type"].(string)
	switch msgType {
	case types.MsgChat:
		h.handleChat(ctx, s, msg)
	case types.MsgDuelChallenge:
		h.handleDuelChallenge(ctx, s, msg)
	case types.MsgDuelResponse:
		h.handleDuelResponse(ctx, s, msg)
	case types.MsgDuelMove:
		h.handleDuelMove(ctx, s, msg)
	default:
		s.deliver(types.ErrorMessage(fmt.Sprintf("unsupported message type %q", msgType)))
	}
}

func (h *Hub) handleChat(ctx context.Context, s *session, msg types.WireMessage) {
	content, _ := msg["content"].(string)
	if content == "" {
		s.deliver(types.ErrorMessage("empty chat message"))
		return
	}
	playerName, _ := msg["player_name"].(string)
	chat := &types.ChatMessage{
		PlayerID:   s.playerID,
		PlayerName: playerName,
		RoomID:     s.room(),
		Content:    content,
		Timestamp:  time.Now().UTC(),
	}
	if err := h.store.RecordChat(ctx, chat); err != nil {
		log.Warn("could not record chat", zap.String("room_id", chat.RoomID), zap.Error(err))
	}
	h.BroadcastToRoom(chat.RoomID, types.NewWireMessage(types.MsgChat, map[string]interface{}{
		"player_id":   chat.PlayerID,
		"player_name": chat.PlayerName,
		"content":     chat.Content,
		"timestamp":   chat.Timestamp,
	}), "")
}

func (h *Hub) handleDuelChallenge(ctx context.Context, s *session, msg types.WireMessage) {
	if h.combat == nil {
		return
	}
	opponentID, _ := msg["opponent_id"].(string)
	if opponentID == "" {
		s.deliver(types.ErrorMessage("duel challenge needs opponent_id"))
		return
	}
	if _, err := h.combat.Challenge(ctx, s.playerID, opponentID, s.room()); err != nil {
		s.deliver(types.ErrorMessage(err.Error()))
	}
}

func (h *Hub) handleDuelResponse(ctx context.Context, s *session, msg types.WireMessage) {
	if h.combat == nil {
		return
	}
	duelID, _ := msg["duel_id"].(string)
	accept, _ := msg["accept"].(bool)
	if _, err := h.combat.Respond(ctx, duelID, accept); err != nil {
		s.deliver(types.ErrorMessage(err.Error()))
	}
}

func (h *Hub) handleDuelMove(ctx context.Context, s *session, msg types.WireMessage) {
	if h.combat == nil {
		return
	}
	duelID, _ := msg["duel_id"].(string)
	move, _ := msg["move"].(string)
	if duelID == "" || move == "" {
		s.deliver(types.ErrorMessage("duel move needs duel_id and move"))
		return
	}
	if err := h.combat.SubmitMove(ctx, duelID, s.playerID, move); err != nil {
		s.deliver(types.ErrorMessage(err.Error()))
	}
}

// disconnect tears a session down: duel forfeiture, presence removal, and
// behavior cleanup for emptied rooms.
func (h *Hub) disconnect(s *session) {
	s.close()
	if current, ok := h.sessions.Get(s.playerID); !ok || current != s {
		// Already replaced by a reconnect.
		return
	}
	h.sessions.Delete(s.playerID)

	ctx := context.Background()
	if h.combat != nil {
		h.combat.HandleDisconnect(ctx, s.playerID)
	}

	roomID := s.room()
	if err := h.store.RemovePlayerFromRoom(ctx, roomID, s.playerID); err != nil {
		log.Warn("could not remove presence", zap.String("room_id", roomID), zap.Error(err))
	}
	h.BroadcastToRoom(roomID, types.NewWireMessage(types.MsgPresence, map[string]interface{}{
		"event":     "player_left",
		"player_id": s.playerID,
	}), "")

	if h.behavior != nil {
		if remaining, err := h.store.RoomPlayers(ctx, roomID); err == nil && len(remaining) == 0 {
			h.behavior.ClearRoom(roomID)
		}
	}
	log.Info("player disconnected", zap.String("player_id", s.playerID), zap.String("room_id", roomID))
}

// MovePlayer updates the session's room pointer after pipeline movement so
// later broadcasts reach the right peers.
func (h *Hub) MovePlayer(playerID, roomID string) {
	if s, ok := h.sessions.Get(playerID); ok {
		s.setRoom(roomID)
	}
}

// ConnectedPlayers reports the current session count.
func (h *Hub) ConnectedPlayers() int {
	return h.sessions.Len()
}

// BroadcastToRoom implements game.Messenger.
func (h *Hub) BroadcastToRoom(roomID string, msg types.WireMessage, excludePlayerID string) {
	for s := range h.sessions.Values() {
		if s.room() != roomID || s.playerID == excludePlayerID {
			continue
		}
		s.deliver(msg)
	}
}

// SendToPlayer implements game.Messenger. The room id narrows delivery to a
// player actually present there.
func (h *Hub) SendToPlayer(roomID, playerID string, msg types.WireMessage) {
	if s, ok := h.sessions.Get(playerID); ok && s.room() == roomID {
		s.deliver(msg)
	}
}

// SendPersonal implements game.Messenger without the room constraint.
func (h *Hub) SendPersonal(playerID string, msg types.WireMessage) {
	if s, ok := h.sessions.Get(playerID); ok {
		s.deliver(msg)
	}
}

// BroadcastRoomUpdate pushes a fresh room snapshot to everyone in the room.
func (h *Hub) BroadcastRoomUpdate(roomID string, room *types.Room) {
	h.BroadcastToRoom(roomID, types.NewWireMessage(types.MsgRoomUpdate, map[string]interface{}{
		"room": room,
	}), "")
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
