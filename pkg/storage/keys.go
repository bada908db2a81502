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
	"fmt"
	"time"
)

// Transient key namespace. Discovery flags are authoritative in the durable
// store; everything under these keys is ephemeral.
const (
	// GenerationLockTTL bounds generation locks so crashed workers cannot
	// wedge a coordinate.
	GenerationLockTTL = 300 * time.Second
	// ActionHistoryMax is the per-player action list cap.
	ActionHistoryMax = 500
	// ChatHistoryMax is the per-player message list cap.
	ChatHistoryMax = 1000
	// ChatHistoryTTL expires idle chat history.
	ChatHistoryTTL = 30 * 24 * time.Hour
	// ActionHistoryTTL keeps the rate-limit log for about 90 days.
	ActionHistoryTTL = 90 * 24 * time.Hour
	// SessionTTL expires session hashes.
	SessionTTL = 7 * 24 * time.Hour
)

// RoomPlayersKey is the presence set for a room.
func RoomPlayersKey(roomID string) string {
	return fmt.Sprintf("room:%s:players", roomID)
}

// RoomGenerationStatusKey tracks in-flight room generation.
func RoomGenerationStatusKey(roomID string) string {
	return fmt.Sprintf("room:%s:generation_status", roomID)
}

// RoomGenerationLockKey is the per-room generation advisory lock.
func RoomGenerationLockKey(roomID string) string {
	return fmt.Sprintf("room:%s:generation_lock", roomID)
}

// CoordLockKey is the per-coordinate advisory lock.
func CoordLockKey(x, y int) string {
	return fmt.Sprintf("coord_lock:%d:%d", x, y)
}

// ChunkLockKey serializes first-time biome assignment per chunk.
func ChunkLockKey(chunkID string) string {
	return fmt.Sprintf("chunk_lock:%s", chunkID)
}

// ActiveDuelKey mirrors an in-process duel for disconnect recovery.
func ActiveDuelKey(duelID string) string {
	return fmt.Sprintf("active_duel:%s", duelID)
}

// PlayerActiveDuelKey points a participant at their active duel.
func PlayerActiveDuelKey(playerID string) string {
	return fmt.Sprintf("player_duel:%s", playerID)
}

// ActionsKey is the per-player action history list (rate-limit log).
func ActionsKey(playerID string) string {
	return fmt.Sprintf("actions:player:%s", playerID)
}

// MessagesKey is the per-player chat history list.
func MessagesKey(playerID string) string {
	return fmt.Sprintf("messages:player:%s", playerID)
}

// RoomChatKey is the per-room chat history list.
func RoomChatKey(roomID string) string {
	return fmt.Sprintf("messages:room:%s", roomID)
}

// SessionKey is a session hash.
func SessionKey(sessionID string) string {
	return fmt.Sprintf("session:%s", sessionID)
}
