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
	"time"

	"go.uber.org/zap"

	"github.com/fablegrid/fablegrid/internal/log"
	"github.com/fablegrid/fablegrid/pkg/storage"
	"github.com/fablegrid/fablegrid/pkg/types"
)

const (
	// generationWait bounds how long movement waits for a neighbor that is
	// being generated by a preload task.
	generationWait = 60 * time.Second
	// generationPollEvery paces the wait loop.
	generationPollEvery = 500 * time.Millisecond
)

// Move resolves a movement action from the given room. It returns the
// destination room, waiting out any in-flight generation and falling back to
// a placeholder at the deadline.
func (e *Engine) Move(ctx context.Context, from *types.Room, d types.Direction) (*types.Room, error) {
	dx, dy := d.Delta()
	x, y := from.X+dx, from.Y+dy

	room, err := e.RoomAt(ctx, x, y)
	if err == nil {
		e.attachPresence(ctx, room)
		go e.PreloadNeighbors(room)
		return room, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("resolve movement target (%d,%d): %w", x, y, err)
	}

	// Undiscovered: a preload may be generating it right now.
	if room := e.waitForGeneration(ctx, x, y); room != nil {
		e.attachPresence(ctx, room)
		go e.PreloadNeighbors(room)
		return room, nil
	}

	log.Info("generation wait expired, creating placeholder",
		zap.Int("x", x), zap.Int("y", y), zap.String("direction", string(d)))
	room, err = e.createPlaceholder(ctx, x, y, d)
	if err != nil {
		return nil, err
	}
	e.attachPresence(ctx, room)
	go e.PreloadNeighbors(room)
	return room, nil
}

// waitForGeneration polls until the room becomes loadable or the deadline
// passes. Nil means the caller should place-hold. An absent status key does
// not end the wait: a generator claims the coordinate lock before it
// publishes any status, and a placeholder stamped into that window destroys
// the coordinate for good.
func (e *Engine) waitForGeneration(ctx context.Context, x, y int) *types.Room {
	roomID := RoomID(x, y)
	deadline := time.Now().Add(e.genWait)
	ticker := time.NewTicker(e.genPoll)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		status, inFlight, err := e.store.GenerationStatus(ctx, roomID)
		if err != nil {
			// Transient store trouble; keep waiting rather than place-hold.
			log.Warn("generation status read failed",
				zap.String("room_id", roomID), zap.Error(err))
		} else if !inFlight || status == types.ImageContentReady || status == types.ImageReady {
			// The status clears once the room is saved, and an absent key
			// can also mean a generator that has not published yet.
			// Either way discovery decides.
			if room, err := e.RoomAt(ctx, x, y); err == nil {
				return room
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
	return nil
}

// createPlaceholder claims the coordinate with a bare room so the player is
// never stranded. Placeholders are permanent; later preloads skip the
// discovered coordinate.
func (e *Engine) createPlaceholder(ctx context.Context, x, y int, d types.Direction) (*types.Room, error) {
	biome, err := e.biomes.BiomeFor(ctx, x, y)
	if err != nil {
		log.Warn("placeholder biome resolution failed", zap.Error(err))
		biome = &types.Biome{Name: "wilderness", Description: "Untamed land."}
	}
	return e.CreateRoomWithCoordinates(ctx, CreateRoomParams{
		ID:             RoomID(x, y),
		X:              x,
		Y:              y,
		Title:          fmt.Sprintf("Unexplored Area (%s)", d),
		Description:    terrainFlavor(e.biomes.TerrainSample(x, y)),
		Biome:          biome,
		MarkDiscovered: true,
		Placeholder:    true,
	})
}

// terrainFlavor picks the placeholder description from the terrain noise, so
// recreating the same coordinate reads the same.
func terrainFlavor(sample float64) string {
	const tail = " The terrain fades into haze in every direction."
	switch {
	case sample < -0.3:
		return "Low ground no chronicler has described, half swallowed by standing water." + tail
	case sample > 0.3:
		return "Broken high ground no chronicler has described." + tail
	default:
		return "A stretch of land the chroniclers have not yet described." + tail
	}
}

func (e *Engine) attachPresence(ctx context.Context, room *types.Room) {
	players, err := e.store.RoomPlayers(ctx, room.ID)
	if err == nil {
		room.Players = players
	}
}
