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

// Package llm is the stateless gateway between the game and its generative
// backends: narrative streaming, structured content generation, combat
// judging, and room images.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/fablegrid/fablegrid/internal/log"
	"github.com/fablegrid/fablegrid/pkg/types"
)

// ErrNoEnvelope is returned when an action stream closes without a parseable
// terminal envelope.
var ErrNoEnvelope = errors.New("stream ended without a structured envelope")

// TextClient produces completions from a text model. GenerateStream invokes
// onToken for every token before returning the full accumulated text.
type TextClient interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
	GenerateStream(ctx context.Context, system, prompt string, onToken func(token string)) (string, error)
}

// ImageClient renders a single image; it returns the raw bytes and the file
// extension (webp, jpg, png).
type ImageClient interface {
	Generate(ctx context.Context, prompt string) (data []byte, ext string, err error)
}

// RoomContent is the generated narrative payload for a new room.
type RoomContent struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	ImagePrompt string `json:"image_prompt"`
}

// ActionContext carries everything the narrator needs to judge one action.
type ActionContext struct {
	Player      *types.Player
	Room        *types.Room
	GameState   *types.GameState
	NPCs        []*types.NPC
	Monsters    []*types.Monster
	RoomItems   []*types.Item
	ChatHistory []*types.ChatMessage
	Action      string
}

// Gateway adapts the game's generation operations onto a text client and an
// optional image client.
type Gateway struct {
	text  TextClient
	image ImageClient
}

// New creates a gateway. image may be nil when image generation is disabled.
func New(text TextClient, image ImageClient) *Gateway {
	return &Gateway{text: text, image: image}
}

// GenerateText runs a bare completion; used for combat judging and intent
// classification.
func (g *Gateway) GenerateText(ctx context.Context, prompt string) (string, error) {
	return g.text.Generate(ctx, "", prompt)
}

// GenerateWorldSeed produces the world premise stored as game state.
func (g *Gateway) GenerateWorldSeed(ctx context.Context) (*types.GameState, error) {
	out, err := g.text.Generate(ctx, worldSystemPrompt, worldSeedPrompt)
	if err != nil {
		return nil, fmt.Errorf("generate world seed: %w", err)
	}
	var state types.GameState
	if err := decodeJSONBlock(out, &state); err != nil {
		return nil, fmt.Errorf("parse world seed: %w", err)
	}
	return &state, nil
}

// GenerateBiomeChunk produces a biome distinct from the excluded adjacent
// names.
func (g *Gateway) GenerateBiomeChunk(ctx context.Context, chunkID string, excluded []string) (*types.Biome, error) {
	out, err := g.text.Generate(ctx, worldSystemPrompt, biomePrompt(chunkID, excluded))
	if err != nil {
		return nil, fmt.Errorf("generate biome for %s: %w", chunkID, err)
	}
	var biome types.Biome
	if err := decodeJSONBlock(out, &biome); err != nil {
		return nil, fmt.Errorf("parse biome for %s: %w", chunkID, err)
	}
	biome.Name = strings.ToLower(strings.TrimSpace(biome.Name))
	if biome.Name == "" {
		return nil, fmt.Errorf("biome for %s has no name", chunkID)
	}
	return &biome, nil
}

// GenerateRoomDescription produces title, description, and an image prompt for
// a room in the given biome.
func (g *Gateway) GenerateRoomDescription(ctx context.Context, biome *types.Biome, x, y int, hint string) (*RoomContent, error) {
	out, err := g.text.Generate(ctx, worldSystemPrompt, roomPrompt(biome, x, y, hint))
	if err != nil {
		return nil, fmt.Errorf("generate room at (%d,%d): %w", x, y, err)
	}
	var content RoomContent
	if err := decodeJSONBlock(out, &content); err != nil {
		return nil, fmt.Errorf("parse room at (%d,%d): %w", x, y, err)
	}
	return &content, nil
}

// GenerateItem produces an item of the requested rarity. The rarity rule is
// enforced after parsing: rarity <= 2 never carries special effects, rarity 3
// always does.
func (g *Gateway) GenerateItem(ctx context.Context, biome string, rarity int, recent []*types.Item) (*types.Item, error) {
	out, err := g.text.Generate(ctx, worldSystemPrompt, itemPrompt(biome, rarity, recent))
	if err != nil {
		return nil, fmt.Errorf("generate rarity-%d item: %w", rarity, err)
	}
	var item types.Item
	if err := decodeJSONBlock(out, &item); err != nil {
		return nil, fmt.Errorf("parse rarity-%d item: %w", rarity, err)
	}
	item.Rarity = rarity
	if rarity <= 2 {
		item.SpecialEffects = "No special effects"
	} else if !item.HasSpecialEffects() {
		item.SpecialEffects = "Hums with an unidentified power"
	}
	return &item, nil
}

// GenerateMonsterFlavor names and describes a monster whose mechanical
// attributes were already rolled.
func (g *Gateway) GenerateMonsterFlavor(ctx context.Context, biome string, m *types.Monster) error {
	out, err := g.text.Generate(ctx, worldSystemPrompt, monsterPrompt(biome, m))
	if err != nil {
		return fmt.Errorf("generate monster flavor: %w", err)
	}
	var flavor struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := decodeJSONBlock(out, &flavor); err != nil {
		return fmt.Errorf("parse monster flavor: %w", err)
	}
	m.Name = flavor.Name
	m.Description = flavor.Description
	return nil
}

// ProcessNPCInteraction produces an NPC reply plus a memory line for the NPC's
// log.
func (g *Gateway) ProcessNPCInteraction(ctx context.Context, npc *types.NPC, player *types.Player, message string) (string, string, error) {
	out, err := g.text.Generate(ctx, narratorSystemPrompt, npcPrompt(npc, player, message))
	if err != nil {
		return "", "", fmt.Errorf("npc interaction with %s: %w", npc.ID, err)
	}
	var reply struct {
		Response  string `json:"response"`
		NewMemory string `json:"new_memory"`
	}
	if err := decodeJSONBlock(out, &reply); err != nil {
		return "", "", fmt.Errorf("parse npc reply from %s: %w", npc.ID, err)
	}
	return reply.Response, reply.NewMemory, nil
}

// StreamAction streams the narrator's response token by token and returns the
// terminal envelope parsed from the tail of the full response.
func (g *Gateway) StreamAction(ctx context.Context, actx *ActionContext, onToken func(token string)) (*types.ActionEnvelope, error) {
	full, err := g.text.GenerateStream(ctx, narratorSystemPrompt, actionPrompt(actx), onToken)
	if err != nil {
		return nil, fmt.Errorf("stream action: %w", err)
	}
	envelope, err := ParseEnvelope(full)
	if err != nil {
		log.Warn("action stream produced no valid envelope",
			zap.String("player_id", actx.Player.ID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrNoEnvelope, err)
	}
	return envelope, nil
}

// GenerateRoomImage renders a room image, retrying up to 3 attempts with
// exponential backoff. A nil slice without error means image generation is
// disabled or permanently failed; callers mark the room image as errored.
func (g *Gateway) GenerateRoomImage(ctx context.Context, prompt string) ([]byte, string, error) {
	if g.image == nil {
		return nil, "", nil
	}
	var data []byte
	var ext string
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(2*time.Second),
	), 2), ctx)
	err := backoff.Retry(func() error {
		var genErr error
		data, ext, genErr = g.image.Generate(ctx, prompt)
		return genErr
	}, policy)
	if err != nil {
		log.Warn("image generation failed after retries", zap.Error(err))
		return nil, "", nil
	}
	return data, ext, nil
}

// decodeJSONBlock extracts the last JSON object from a model response (which
// may wrap it in prose or code fences) and unmarshals it into out.
func decodeJSONBlock(s string, out interface{}) error {
	block, ok := ExtractJSONObject(s)
	if !ok {
		return fmt.Errorf("no JSON object in response")
	}
	return json.Unmarshal([]byte(block), out)
}
