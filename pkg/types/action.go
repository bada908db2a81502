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

package types

import "time"

// ActionRecord is one processed player action; the per-player list of these
// is also the authoritative rate-limit log.
type ActionRecord struct {
	ID         string                 `json:"id"`
	PlayerID   string                 `json:"player_id"`
	RoomID     string                 `json:"room_id"`
	Action     string                 `json:"action"`
	AIResponse string                 `json:"ai_response"`
	Timestamp  time.Time              `json:"timestamp"`
	SessionID  string                 `json:"session_id"`
	Updates    *ActionUpdates         `json:"updates,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// ChatMessage is a room chat entry kept in the transient history lists.
type ChatMessage struct {
	PlayerID   string    `json:"player_id"`
	PlayerName string    `json:"player_name"`
	RoomID     string    `json:"room_id"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
}

// ActionEnvelope is the terminal record of an action stream: prose followed
// by the structured updates block.
type ActionEnvelope struct {
	Response string         `json:"response"`
	Updates  *ActionUpdates `json:"updates,omitempty"`
}

// ActionUpdates is the closed update schema an action may apply. Unknown
// fields are rejected during validation.
type ActionUpdates struct {
	Player         *PlayerUpdate   `json:"player,omitempty"`
	Room           *RoomUpdate     `json:"room,omitempty"`
	NPCs           []NPCUpdate     `json:"npcs,omitempty"`
	RoomGeneration *RoomGeneration `json:"room_generation,omitempty"`
}

// PlayerUpdate mutates player state; Direction triggers movement through the
// world engine rather than a direct field write.
type PlayerUpdate struct {
	Direction     string   `json:"direction,omitempty"`
	Gold          *int     `json:"gold,omitempty"`
	Health        *int     `json:"health,omitempty"`
	AddItems      []string `json:"add_items,omitempty"`
	RemoveItems   []string `json:"remove_items,omitempty"`
	AddMemory     string   `json:"add_memory,omitempty"`
	ActiveQuestID string   `json:"active_quest_id,omitempty"`
}

// RoomUpdate mutates the current room.
type RoomUpdate struct {
	Description    string   `json:"description,omitempty"`
	AddItems       []string `json:"add_items,omitempty"`
	RemoveItems    []string `json:"remove_items,omitempty"`
	RemoveMonsters []string `json:"remove_monsters,omitempty"`
}

// NPCUpdate appends dialogue or memory to an NPC.
type NPCUpdate struct {
	ID          string `json:"id"`
	AddDialogue string `json:"add_dialogue,omitempty"`
	AddMemory   string `json:"add_memory,omitempty"`
}

// RoomGeneration asks the engine to generate content in place.
type RoomGeneration struct {
	Hint string `json:"hint,omitempty"`
}

// RateLimitInfo describes a rate-limit denial.
type RateLimitInfo struct {
	ActionCount     int     `json:"action_count"`
	Limit           int     `json:"limit"`
	IntervalMinutes int     `json:"interval_minutes"`
	TimeUntilReset  float64 `json:"time_until_reset"`
}

// RateLimitError is the structured denial envelope; it is a typed result, not
// an internal failure.
type RateLimitError struct {
	Info    RateLimitInfo
	Message string
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return e.Message
}
