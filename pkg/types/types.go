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

// Package types defines the entities shared by the world engine, the stores,
// the combat engine, and the wire protocol.
package types

import (
	"math"
	"strings"
)

// Direction is one of the six movement directions.
type Direction string

const (
	North Direction = "north"
	South Direction = "south"
	East  Direction = "east"
	West  Direction = "west"
	Up    Direction = "up"
	Down  Direction = "down"
)

// Directions lists the four planar directions used for adjacency and preload.
var Directions = []Direction{North, South, East, West}

// Delta returns the coordinate offset for the direction. Up and down stay on
// the same grid cell.
func (d Direction) Delta() (int, int) {
	switch d {
	case North:
		return 0, 1
	case South:
		return 0, -1
	case East:
		return 1, 0
	case West:
		return -1, 0
	default:
		return 0, 0
	}
}

// Opposite returns the reverse direction.
func (d Direction) Opposite() Direction {
	switch d {
	case North:
		return South
	case South:
		return North
	case East:
		return West
	case West:
		return East
	case Up:
		return Down
	case Down:
		return Up
	default:
		return d
	}
}

// ParseDirection normalizes a direction string; ok is false for anything that
// is not one of the six directions.
func ParseDirection(s string) (Direction, bool) {
	switch Direction(strings.ToLower(strings.TrimSpace(s))) {
	case North:
		return North, true
	case South:
		return South, true
	case East:
		return East, true
	case West:
		return West, true
	case Up:
		return Up, true
	case Down:
		return Down, true
	default:
		return "", false
	}
}

// ImageStatus tracks the lifecycle of a room's generated image.
type ImageStatus string

const (
	ImagePending      ImageStatus = "pending"
	ImageGenerating   ImageStatus = "generating"
	ImageContentReady ImageStatus = "content_ready"
	ImageReady        ImageStatus = "ready"
	ImageError        ImageStatus = "error"
)

// StartRoomID is the id of the bootstrap room at the origin.
const StartRoomID = "room_start"

// Room is a single grid cell with narrative content and inhabitants.
type Room struct {
	ID          string                 `json:"id"`
	X           int                    `json:"x"`
	Y           int                    `json:"y"`
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	ImageURL    string                 `json:"image_url,omitempty"`
	ImageStatus ImageStatus            `json:"image_status"`
	ModelURL    string                 `json:"model_url,omitempty"`
	Biome       string                 `json:"biome"`
	Connections map[Direction]string   `json:"connections"`
	NPCs        []string               `json:"npcs"`
	Items       []string               `json:"items"`
	Monsters    []string               `json:"monsters"`
	Players     []string               `json:"players"`
	Properties  map[string]interface{} `json:"properties,omitempty"`
}

// TerritorialBlocks returns the persisted monster→direction exit blocks.
func (r *Room) TerritorialBlocks() map[string]Direction {
	blocks := make(map[string]Direction)
	raw, ok := r.Properties["territorial_blocks"].(map[string]interface{})
	if !ok {
		return blocks
	}
	for monsterID, v := range raw {
		if s, ok := v.(string); ok {
			if d, ok := ParseDirection(s); ok {
				blocks[monsterID] = d
			}
		}
	}
	return blocks
}

// SetTerritorialBlock records a blocked exit in the room properties.
func (r *Room) SetTerritorialBlock(monsterID string, d Direction) {
	if r.Properties == nil {
		r.Properties = make(map[string]interface{})
	}
	raw, ok := r.Properties["territorial_blocks"].(map[string]interface{})
	if !ok {
		raw = make(map[string]interface{})
		r.Properties["territorial_blocks"] = raw
	}
	raw[monsterID] = string(d)
}

// Player is a user's character.
type Player struct {
	ID             string                 `json:"id"`
	UserID         string                 `json:"user_id,omitempty"`
	Name           string                 `json:"name"`
	CurrentRoom    string                 `json:"current_room"`
	Inventory      []string               `json:"inventory"`
	Gold           int                    `json:"gold"`
	Health         int                    `json:"health"`
	QuestProgress  map[string]interface{} `json:"quest_progress,omitempty"`
	ActiveQuestID  string                 `json:"active_quest_id,omitempty"`
	MemoryLog      []string               `json:"memory_log,omitempty"`
	LastAction     string                 `json:"last_action,omitempty"`
	LastActionAt   string                 `json:"last_action_at,omitempty"`
	RejoinImmunity bool                   `json:"rejoin_immunity,omitempty"`
}

// IsPseudo reports whether the id belongs to a guest/dummy/system player that
// must never be written to the durable store.
func IsPseudoPlayer(id string) bool {
	return id == "system" ||
		strings.HasPrefix(id, "guest_") ||
		strings.HasPrefix(id, "dummy_")
}

// Item is a collectible object. Rarity 3 items are unique per biome.
type Item struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Rarity         int      `json:"rarity"`
	Capabilities   []string `json:"capabilities,omitempty"`
	SpecialEffects string   `json:"special_effects,omitempty"`
}

// HasSpecialEffects reports whether the item carries a real special effect;
// the item generator uses "No special effects" / "None" as empty markers.
func (i *Item) HasSpecialEffects() bool {
	switch strings.TrimSpace(i.SpecialEffects) {
	case "", "No special effects", "None", "none":
		return false
	default:
		return true
	}
}

// Aggressiveness classifies monster behavior toward players.
type Aggressiveness string

const (
	Passive     Aggressiveness = "passive"
	Aggressive  Aggressiveness = "aggressive"
	Neutral     Aggressiveness = "neutral"
	Territorial Aggressiveness = "territorial"
)

// Intelligence classifies a monster's wit, used by the move generator.
type Intelligence string

const (
	IntelligenceHuman      Intelligence = "human"
	IntelligenceSubhuman   Intelligence = "subhuman"
	IntelligenceAnimal     Intelligence = "animal"
	IntelligenceOmnipotent Intelligence = "omnipotent"
)

// MonsterSize scales health and combat vital maximums.
type MonsterSize string

const (
	SizeColossal MonsterSize = "colossal"
	SizeDinosaur MonsterSize = "dinosaur"
	SizeHorse    MonsterSize = "horse"
	SizeHuman    MonsterSize = "human"
	SizeChicken  MonsterSize = "chicken"
	SizeInsect   MonsterSize = "insect"
)

// Multiplier returns the size scale factor shared by monster health and the
// combat vital maximum.
func (s MonsterSize) Multiplier() float64 {
	switch s {
	case SizeInsect:
		return 0.4
	case SizeChicken:
		return 0.6
	case SizeHuman:
		return 1.0
	case SizeHorse:
		return 1.4
	case SizeDinosaur:
		return 1.8
	case SizeColossal:
		return 2.4
	default:
		return 1.0
	}
}

// Monster inhabits a room and may force combat depending on its behavior.
type Monster struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Description    string         `json:"description"`
	Aggressiveness Aggressiveness `json:"aggressiveness"`
	Intelligence   Intelligence   `json:"intelligence"`
	Size           MonsterSize    `json:"size"`
	Health         int            `json:"health"`
	IsAlive        bool           `json:"is_alive"`
	SpecialEffects []string       `json:"special_effects,omitempty"`
	Location       string         `json:"location"`
}

// MaxVital returns the combat vital ceiling for the monster.
func (m *Monster) MaxVital() int {
	v := int(math.Round(6 * m.Size.Multiplier()))
	if v < 1 {
		v = 1
	}
	return v
}

// NPC is a conversational room inhabitant.
type NPC struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	Location        string   `json:"location"`
	Personality     string   `json:"personality,omitempty"`
	DialogueHistory []string `json:"dialogue_history,omitempty"`
	MemoryLog       []string `json:"memory_log,omitempty"`
}

// Biome describes a world region shared by every room in a chunk.
type Biome struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Color       string `json:"color"`
}

// CoordinateRecord maps a grid coordinate to its room.
type CoordinateRecord struct {
	X            int    `json:"x"`
	Y            int    `json:"y"`
	RoomID       string `json:"room_id"`
	IsDiscovered bool   `json:"is_discovered"`
}

// GameState holds world-level data created at bootstrap.
type GameState struct {
	WorldSeed        string `json:"world_seed"`
	MainQuestSummary string `json:"main_quest_summary"`
	StartingState    string `json:"starting_state"`
	StorylineShown   bool   `json:"storyline_shown"`
}
