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

package world

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fablegrid/fablegrid/internal/log"
	"github.com/fablegrid/fablegrid/pkg/llm"
	"github.com/fablegrid/fablegrid/pkg/storage"
	"github.com/fablegrid/fablegrid/pkg/types"
)

// gameStateKey is the global-data key for world-level state.
const gameStateKey = "game_state"

// RoomContentFallback is used when the starting room's description cannot be
// generated; the world must still come up.
var RoomContentFallback = llm.RoomContent{
	Title: "The Crossroads",
	Description: "Four worn paths meet at a weathered stone marker. " +
		"The carvings on the marker have been smoothed by countless hands, " +
		"and the horizon promises something different in every direction.",
	ImagePrompt: "a weathered stone waymarker at a grassy crossroads, fantasy painting",
}

// GameState loads the current game state, or ErrNotFound when the world has
// never been started.
func (e *Engine) GameState(ctx context.Context) (*types.GameState, error) {
	var state types.GameState
	if err := e.store.Durable.GetGlobalData(ctx, gameStateKey, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// SaveGameState persists world-level state.
func (e *Engine) SaveGameState(ctx context.Context, state *types.GameState) error {
	return e.store.Durable.SetGlobalData(ctx, gameStateKey, state)
}

// EnsureWorld initializes the world on first start: game state seeded by the
// LLM (falling back to defaultSeed) and the starting room at the origin.
// Calling it on an existing world is a no-op beyond sanitation.
func (e *Engine) EnsureWorld(ctx context.Context, defaultSeed string) (*types.GameState, error) {
	state, err := e.GameState(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		state = e.seedWorld(ctx, defaultSeed)
		if err := e.SaveGameState(ctx, state); err != nil {
			return nil, fmt.Errorf("save game state: %w", err)
		}
	} else if err != nil {
		return nil, err
	}

	if _, err := e.EnsureStartingRoom(ctx); err != nil {
		return nil, err
	}
	return state, nil
}

func (e *Engine) seedWorld(ctx context.Context, defaultSeed string) *types.GameState {
	state, err := e.gw.GenerateWorldSeed(ctx)
	if err != nil {
		log.Warn("world seed generation failed, using default", zap.Error(err))
		return &types.GameState{
			WorldSeed:        defaultSeed,
			MainQuestSummary: "Rumors speak of a power buried beneath the shifting biomes.",
			StartingState:    "You wake at a crossroads under an unfamiliar sky.",
		}
	}
	if state.WorldSeed == "" {
		state.WorldSeed = defaultSeed
	}
	return state
}

// EnsureStartingRoom guarantees a room exists at the origin reachable as
// room_start. An existing origin room under another id gets an alias; any
// aggressive monster in it is sanitized to neutral; the four neighbors are
// preloaded asynchronously.
func (e *Engine) EnsureStartingRoom(ctx context.Context) (*types.Room, error) {
	room, err := e.RoomAt(ctx, 0, 0)
	switch {
	case err == nil:
		if room.ID != types.StartRoomID {
			if err := e.store.Durable.SaveRoomAlias(ctx, types.StartRoomID, room.ID); err != nil {
				return nil, fmt.Errorf("alias starting room: %w", err)
			}
		}
	case errors.Is(err, storage.ErrNotFound):
		room, err = e.createStartingRoom(ctx)
		if err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	if err := e.sanitizeStartingMonsters(ctx, room); err != nil {
		log.Warn("starting room sanitation failed", zap.Error(err))
	}
	go e.PreloadNeighbors(room)
	return room, nil
}

func (e *Engine) createStartingRoom(ctx context.Context) (*types.Room, error) {
	biome, err := e.biomes.BiomeFor(ctx, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("starting biome: %w", err)
	}
	content, err := e.gw.GenerateRoomDescription(ctx, biome, 0, 0, "the place where every traveler's journey begins")
	if err != nil {
		log.Warn("starting room description failed, using fallback", zap.Error(err))
		content = &RoomContentFallback
	}
	room, err := e.CreateRoomWithCoordinates(ctx, CreateRoomParams{
		ID:             types.StartRoomID,
		X:              0,
		Y:              0,
		Title:          content.Title,
		Description:    content.Description,
		Biome:          biome,
		ImagePrompt:    content.ImagePrompt,
		MarkDiscovered: true,
	})
	if err != nil {
		return nil, err
	}
	if e.imageEnabled && content.ImagePrompt != "" {
		go e.runImageJob(room.ID, content.ImagePrompt)
	}
	log.Info("created starting room", zap.String("biome", biome.Name))
	return room, nil
}

// sanitizeStartingMonsters rewrites any aggressive monster at the origin to
// neutral so new players are never jumped on arrival.
func (e *Engine) sanitizeStartingMonsters(ctx context.Context, room *types.Room) error {
	monsters, err := e.store.Durable.GetMonsters(ctx, room.Monsters)
	if err != nil {
		return err
	}
	for _, m := range monsters {
		if m.Aggressiveness == types.Aggressive {
			m.Aggressiveness = types.Neutral
			if err := e.store.Durable.SaveMonster(ctx, m); err != nil {
				return err
			}
			log.Info("sanitized aggressive monster in starting room",
				zap.String("monster_id", m.ID))
		}
	}
	return nil
}
