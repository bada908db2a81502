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

package llm

import (
	"fmt"
	"strings"

	"github.com/fablegrid/fablegrid/pkg/types"
)

const worldSystemPrompt = `You are the world generator for a procedurally ` +
	`generated fantasy exploration game on an infinite 2D grid. You respond ` +
	`only with the requested JSON object, no commentary.`

const narratorSystemPrompt = `You are the narrator of a multiplayer fantasy ` +
	`exploration game. You describe the outcome of a player's action in ` +
	`second person, present tense, 2-5 sentences. After the narrative, output ` +
	`a blank line and then a single JSON object:
{"response": "<the same narrative>", "updates": {...}}
The optional "updates" object may only contain the keys "player" ` +
	`(direction, gold, health, add_items, remove_items, add_memory, ` +
	`active_quest_id), "room" (description, add_items, remove_items, ` +
	`remove_monsters), "npcs" (array of {id, add_dialogue, add_memory}), and ` +
	`"room_generation" ({hint}). Never invent other keys. Only include ` +
	`"direction" when the player explicitly moves.`

const worldSeedPrompt = `Invent the premise for a new game world. Respond with JSON:
{"world_seed": "<two-sentence setting>", "main_quest_summary": "<one-paragraph main quest>", "starting_state": "<one-paragraph opening situation>"}`

func biomePrompt(chunkID string, excluded []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Invent a biome for world region %s.\n", chunkID)
	if len(excluded) > 0 {
		fmt.Fprintf(&b, "It must be clearly distinct from these adjacent biomes: %s.\n",
			strings.Join(excluded, ", "))
	}
	b.WriteString(`Respond with JSON: {"name": "<lowercase one or two words>", "description": "<two sentences>", "color": "<hex color like #4a7c59>"}`)
	return b.String()
}

func roomPrompt(biome *types.Biome, x, y int, hint string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Describe a location at grid (%d,%d) in the %q biome: %s\n",
		x, y, biome.Name, biome.Description)
	if hint != "" {
		fmt.Fprintf(&b, "Incorporate this detail: %s\n", hint)
	}
	b.WriteString(`Respond with JSON: {"title": "<3-6 words>", "description": "<3-5 sentences>", "image_prompt": "<one-sentence scene prompt for an image model>"}`)
	return b.String()
}

func itemPrompt(biome string, rarity int, recent []*types.Item) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Invent a rarity-%d item found in the %s biome.\n", rarity, biome)
	if rarity <= 2 {
		b.WriteString("It is mundane: special_effects must be exactly \"No special effects\".\n")
	} else {
		b.WriteString("It is legendary: special_effects must describe one concrete magical power.\n")
	}
	if len(recent) > 0 {
		names := make([]string, 0, len(recent))
		for _, item := range recent {
			names = append(names, item.Name)
		}
		fmt.Fprintf(&b, "Do not resemble these recent items: %s.\n", strings.Join(names, ", "))
	}
	b.WriteString(`Respond with JSON: {"name": "...", "description": "<two sentences>", "special_effects": "...", "capabilities": ["..."]}`)
	return b.String()
}

func monsterPrompt(biome string, m *types.Monster) string {
	return fmt.Sprintf(`Invent a monster living in the %s biome. It is %s, `+
		`roughly the size of a %s, with %s-level intelligence. Respond with `+
		`JSON: {"name": "<2-4 words>", "description": "<two sentences>"}`,
		biome, m.Aggressiveness, m.Size, m.Intelligence)
}

func npcPrompt(npc *types.NPC, player *types.Player, message string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s: %s\n", npc.Name, npc.Description)
	if npc.Personality != "" {
		fmt.Fprintf(&b, "Personality: %s\n", npc.Personality)
	}
	if len(npc.MemoryLog) > 0 {
		fmt.Fprintf(&b, "You remember: %s\n", strings.Join(tailStrings(npc.MemoryLog, 5), "; "))
	}
	fmt.Fprintf(&b, "%s says to you: %q\n", player.Name, message)
	b.WriteString(`Respond with JSON: {"response": "<your in-character reply>", "new_memory": "<one line you will remember about this exchange>"}`)
	return b.String()
}

func actionPrompt(actx *ActionContext) string {
	var b strings.Builder

	if actx.GameState != nil {
		fmt.Fprintf(&b, "World: %s\n", actx.GameState.WorldSeed)
	}
	fmt.Fprintf(&b, "Room %q (%s biome): %s\n",
		actx.Room.Title, actx.Room.Biome, actx.Room.Description)
	if len(actx.Room.Connections) > 0 {
		exits := make([]string, 0, len(actx.Room.Connections))
		for d := range actx.Room.Connections {
			exits = append(exits, string(d))
		}
		fmt.Fprintf(&b, "Exits: %s\n", strings.Join(exits, ", "))
	}
	for _, item := range actx.RoomItems {
		fmt.Fprintf(&b, "Item here: %s (rarity %d): %s\n", item.Name, item.Rarity, item.Description)
	}
	for _, m := range actx.Monsters {
		if m.IsAlive {
			fmt.Fprintf(&b, "Monster here: %s (%s, %s-sized): %s\n",
				m.Name, m.Aggressiveness, m.Size, m.Description)
		}
	}
	for _, npc := range actx.NPCs {
		fmt.Fprintf(&b, "NPC here: %s: %s\n", npc.Name, npc.Description)
	}

	fmt.Fprintf(&b, "\nPlayer %s: health %d, gold %d", actx.Player.Name,
		actx.Player.Health, actx.Player.Gold)
	if len(actx.Player.Inventory) > 0 {
		fmt.Fprintf(&b, ", carrying item ids %s", strings.Join(actx.Player.Inventory, ", "))
	}
	b.WriteString("\n")
	if len(actx.Player.MemoryLog) > 0 {
		fmt.Fprintf(&b, "Player memories: %s\n", strings.Join(tailStrings(actx.Player.MemoryLog, 5), "; "))
	}

	if len(actx.ChatHistory) > 0 {
		b.WriteString("\nRecent room chat:\n")
		for _, msg := range actx.ChatHistory {
			fmt.Fprintf(&b, "%s: %s\n", msg.PlayerName, msg.Content)
		}
	}

	fmt.Fprintf(&b, "\nThe player's action: %q\n", actx.Action)
	return b.String()
}

func tailStrings(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}
