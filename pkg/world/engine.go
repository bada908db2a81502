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
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/fablegrid/fablegrid/internal/log"
	"github.com/fablegrid/fablegrid/internal/pubsub"
	"github.com/fablegrid/fablegrid/pkg/llm"
	"github.com/fablegrid/fablegrid/pkg/llm/model3d"
	"github.com/fablegrid/fablegrid/pkg/objectstore"
	"github.com/fablegrid/fablegrid/pkg/storage"
	"github.com/fablegrid/fablegrid/pkg/types"
)

// Engine owns room creation, movement, and the preload/image/3D background
// jobs. Room changes made by background jobs are published on the event
// broker; the hub subscribes and relays them to connected clients.
type Engine struct {
	store   *storage.Store
	gw      *llm.Gateway
	biomes  *BiomeManager
	objects *objectstore.Client // nil disables uploads
	models  *model3d.Client     // nil disables 3D jobs
	events  *pubsub.Broker[*types.Room]

	genWait time.Duration
	genPoll time.Duration

	imageEnabled bool
}

// NewEngine creates the world engine. objects and models may be nil.
func NewEngine(store *storage.Store, gw *llm.Gateway, biomes *BiomeManager,
	objects *objectstore.Client, models *model3d.Client, imageEnabled bool) *Engine {
	return &Engine{
		store:        store,
		gw:           gw,
		biomes:       biomes,
		objects:      objects,
		models:       models,
		events:       pubsub.NewBroker[*types.Room](),
		genWait:      generationWait,
		genPoll:      generationPollEvery,
		imageEnabled: imageEnabled && objects != nil,
	}
}

// Events exposes the room-update broker for subscribers.
func (e *Engine) Events() *pubsub.Broker[*types.Room] {
	return e.events
}

// RoomID returns the canonical room id for a coordinate.
func RoomID(x, y int) string {
	return fmt.Sprintf("room_%d_%d", x, y)
}

// CreateRoomParams describes a room to create at a coordinate.
type CreateRoomParams struct {
	ID             string
	X, Y           int
	Title          string
	Description    string
	Biome          *types.Biome
	ImageURL       string
	ImagePrompt    string
	Players        []string
	MarkDiscovered bool
	// Placeholder rooms skip monster and item generation entirely.
	Placeholder bool
}

// CreateRoomWithCoordinates generates inhabitants and items, then atomically
// claims the coordinate. When another writer wins the claim, the existing
// room is loaded and returned instead.
func (e *Engine) CreateRoomWithCoordinates(ctx context.Context, p CreateRoomParams) (*types.Room, error) {
	room := &types.Room{
		ID:          p.ID,
		X:           p.X,
		Y:           p.Y,
		Title:       p.Title,
		Description: p.Description,
		ImageURL:    p.ImageURL,
		ImageStatus: types.ImagePending,
		Biome:       p.Biome.Name,
		Connections: make(map[types.Direction]string),
		NPCs:        []string{},
		Items:       []string{},
		Monsters:    []string{},
		Players:     p.Players,
	}
	if p.ImageURL != "" {
		room.ImageStatus = types.ImageReady
	}
	if p.ImagePrompt != "" {
		room.Properties = map[string]interface{}{"image_prompt": p.ImagePrompt}
	}

	if !p.Placeholder {
		room.Monsters = e.generateMonsters(ctx, room.ID, p.X, p.Y, p.Biome.Name)
		room.Items = e.generateItems(ctx, room)
	}

	if p.MarkDiscovered {
		created, err := e.store.Durable.AtomicCreateRoomAtCoordinates(ctx, room)
		if err != nil {
			return nil, fmt.Errorf("create room %s: %w", room.ID, err)
		}
		if !created {
			// Another writer claimed the coordinate; theirs is the room.
			existing, err := e.RoomAt(ctx, p.X, p.Y)
			if err != nil {
				return nil, fmt.Errorf("load winning room at (%d,%d): %w", p.X, p.Y, err)
			}
			return existing, nil
		}
	} else {
		if err := e.store.Durable.SaveRoom(ctx, room); err != nil {
			return nil, err
		}
	}

	if err := e.autoConnect(ctx, room); err != nil {
		log.Warn("failed to connect room to neighbors",
			zap.String("room_id", room.ID), zap.Error(err))
	}
	return room, nil
}

// RoomAt loads the room at a discovered coordinate.
func (e *Engine) RoomAt(ctx context.Context, x, y int) (*types.Room, error) {
	coord, err := e.store.Durable.GetCoordinate(ctx, x, y)
	if err != nil {
		return nil, err
	}
	return e.store.Durable.GetRoom(ctx, coord.RoomID)
}

// autoConnect links the room to every existing adjacent room, both ways.
func (e *Engine) autoConnect(ctx context.Context, room *types.Room) error {
	changed := false
	for _, d := range types.Directions {
		dx, dy := d.Delta()
		neighbor, err := e.RoomAt(ctx, room.X+dx, room.Y+dy)
		if err != nil {
			continue
		}
		room.Connections[d] = neighbor.ID
		changed = true
		if neighbor.Connections == nil {
			neighbor.Connections = make(map[types.Direction]string)
		}
		if neighbor.Connections[d.Opposite()] != room.ID {
			neighbor.Connections[d.Opposite()] = room.ID
			if err := e.store.Durable.SaveRoom(ctx, neighbor); err != nil {
				return err
			}
		}
	}
	if changed {
		return e.store.Durable.SaveRoom(ctx, room)
	}
	return nil
}

// generateItems rolls the room's item distribution: 0-4 two-star items, plus
// the biome's single 3-star item when this is its preallocated room.
func (e *Engine) generateItems(ctx context.Context, room *types.Room) []string {
	recent, err := e.store.Durable.GetRecentHighRarityItems(ctx, 2, 10)
	if err != nil {
		log.Warn("could not load recent items for dedup", zap.Error(err))
	}

	var ids []string
	if e.isThreeStarRoom(ctx, room) {
		if id := e.generateItem(ctx, room.Biome, 3, recent); id != "" {
			ids = append(ids, id)
		}
	}
	twoStarCount := rand.IntN(5)
	for i := 0; i < twoStarCount; i++ {
		if id := e.generateItem(ctx, room.Biome, 2, recent); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func (e *Engine) generateItem(ctx context.Context, biome string, rarity int, recent []*types.Item) string {
	item, err := e.gw.GenerateItem(ctx, biome, rarity, recent)
	if err != nil {
		log.Warn("item generation failed", zap.Int("rarity", rarity), zap.Error(err))
		return ""
	}
	if item.ID == "" {
		item.ID = "item_" + newID()
	}
	if err := e.store.Durable.SaveItem(ctx, item); err != nil {
		log.Error("failed to persist item", zap.String("item_id", item.ID), zap.Error(err))
		return ""
	}
	return item.ID
}

// isThreeStarRoom reports whether this room is its biome's preallocated
// 3-star room. The origin special case treats room_0_0 and room_start as the
// same room.
func (e *Engine) isThreeStarRoom(ctx context.Context, room *types.Room) bool {
	recorded := e.biomes.ThreeStarRoomFor(ctx, room.Biome)
	if recorded == "" {
		return false
	}
	if recorded == room.ID {
		return true
	}
	origin := RoomID(0, 0)
	return (recorded == origin && room.ID == types.StartRoomID) ||
		(recorded == types.StartRoomID && room.ID == origin)
}

// BroadcastRoom publishes the full room snapshot with live presence injected.
func (e *Engine) BroadcastRoom(ctx context.Context, room *types.Room) {
	players, err := e.store.RoomPlayers(ctx, room.ID)
	if err != nil {
		log.Warn("could not load presence for broadcast",
			zap.String("room_id", room.ID), zap.Error(err))
	} else {
		room.Players = players
	}
	e.events.Publish(pubsub.UpdatedEvent, room)
}
