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

package game

import (
	"context"
	"fmt"
	"math/rand/v2"

	"go.uber.org/zap"

	"github.com/fablegrid/fablegrid/internal/csync"
	"github.com/fablegrid/fablegrid/internal/log"
	"github.com/fablegrid/fablegrid/pkg/storage"
	"github.com/fablegrid/fablegrid/pkg/types"
)

// AnyActionSentinel marks a non-movement action in the aggressive-monster
// guard.
const AnyActionSentinel = "any_action"

// BehaviorManager tracks territorial exit blocks, aggressive monsters, and
// each player's previous room. Territorial blocks are rehydrated from the
// room's persisted properties on first access.
type BehaviorManager struct {
	store *storage.Store
	msgr  Messenger

	territorialBlocks  *csync.Map[string, map[string]types.Direction]
	aggressiveMonsters *csync.Map[string, map[string]string]
	playerLastRoom     *csync.Map[string, string]
}

// NewBehaviorManager creates the manager.
func NewBehaviorManager(store *storage.Store, msgr Messenger) *BehaviorManager {
	return &BehaviorManager{
		store:              store,
		msgr:               msgr,
		territorialBlocks:  csync.NewMap[string, map[string]types.Direction](),
		aggressiveMonsters: csync.NewMap[string, map[string]string](),
		playerLastRoom:     csync.NewMap[string, string](),
	}
}

// OnPlayerEnter registers room monsters against the arriving player:
// territorial monsters claim an exit (never the way back), aggressive ones
// announce themselves.
func (b *BehaviorManager) OnPlayerEnter(ctx context.Context, player *types.Player, room *types.Room, entry types.Direction) {
	monsters, err := b.store.Durable.GetMonsters(ctx, room.Monsters)
	if err != nil {
		log.Warn("could not load room monsters", zap.String("room_id", room.ID), zap.Error(err))
		return
	}

	blocks := b.blocksFor(room)
	for _, m := range monsters {
		if !m.IsAlive {
			continue
		}
		switch m.Aggressiveness {
		case types.Territorial:
			if _, blocked := blocks[m.ID]; blocked {
				continue
			}
			dir, ok := b.pickBlockedExit(room, entry)
			if !ok {
				continue
			}
			blocks[m.ID] = dir
			b.territorialBlocks.Set(room.ID, blocks)
			room.SetTerritorialBlock(m.ID, dir)
			if err := b.store.Durable.SaveRoom(ctx, room); err != nil {
				log.Warn("could not persist territorial block",
					zap.String("room_id", room.ID), zap.Error(err))
			}
			b.msgr.BroadcastToRoom(room.ID, types.NewWireMessage(types.MsgRoomUpdate, map[string]interface{}{
				"event": "monster_behavior",
				"message": fmt.Sprintf("%s plants itself before the %s exit, daring anyone to pass.",
					m.Name, dir),
			}), "")
		case types.Aggressive:
			aggressive, _ := b.aggressiveMonsters.GetOrSet(room.ID, map[string]string{})
			aggressive[m.ID] = m.Name
			b.msgr.SendPersonal(player.ID, types.NewWireMessage(types.MsgRoomUpdate, map[string]interface{}{
				"event":   "monster_behavior",
				"message": fmt.Sprintf("%s turns toward you with unmistakable intent.", m.Name),
			}))
		}
	}
}

// CheckAction returns the monster forced into combat by this action, if any.
// attemptedDirection is the movement direction, or AnyActionSentinel for
// non-movement actions.
func (b *BehaviorManager) CheckAction(ctx context.Context, playerID string, room *types.Room, attemptedDirection string) (*types.Monster, bool) {
	lastRoom, _ := b.playerLastRoom.Get(playerID)

	// Retreat to the previous room is always allowed.
	if dir, ok := types.ParseDirection(attemptedDirection); ok {
		if target, connected := room.Connections[dir]; connected && target == lastRoom {
			return nil, false
		}
		// Territorial guard: exact blocked direction.
		for monsterID, blocked := range b.blocksFor(room) {
			if blocked == dir {
				if m := b.aliveMonster(ctx, monsterID); m != nil {
					return m, true
				}
				b.ClearMonster(room.ID, monsterID)
			}
		}
	}

	// Aggressive guard: anything except a retreat triggers the first
	// aggressive monster.
	aggressive, ok := b.aggressiveMonsters.Get(room.ID)
	if !ok {
		return nil, false
	}
	for monsterID := range aggressive {
		if m := b.aliveMonster(ctx, monsterID); m != nil {
			return m, true
		}
		b.ClearMonster(room.ID, monsterID)
	}
	return nil, false
}

// SetPlayerLastRoom records where the player came from, enabling retreats.
func (b *BehaviorManager) SetPlayerLastRoom(playerID, roomID string) {
	b.playerLastRoom.Set(playerID, roomID)
}

// ClearMonster removes one monster's bookkeeping after death or departure.
func (b *BehaviorManager) ClearMonster(roomID, monsterID string) {
	if blocks, ok := b.territorialBlocks.Get(roomID); ok {
		delete(blocks, monsterID)
		if len(blocks) == 0 {
			b.territorialBlocks.Delete(roomID)
		}
	}
	if aggressive, ok := b.aggressiveMonsters.Get(roomID); ok {
		delete(aggressive, monsterID)
		if len(aggressive) == 0 {
			b.aggressiveMonsters.Delete(roomID)
		}
	}
}

// ClearRoom drops all bookkeeping for an emptied room.
func (b *BehaviorManager) ClearRoom(roomID string) {
	b.territorialBlocks.Delete(roomID)
	b.aggressiveMonsters.Delete(roomID)
}

// Summary describes the room's active behaviors for the join snapshot.
func (b *BehaviorManager) Summary(room *types.Room) map[string]interface{} {
	blocks := make(map[string]string)
	for monsterID, dir := range b.blocksFor(room) {
		blocks[monsterID] = string(dir)
	}
	aggressive := []string{}
	if names, ok := b.aggressiveMonsters.Get(room.ID); ok {
		for _, name := range names {
			aggressive = append(aggressive, name)
		}
	}
	return map[string]interface{}{
		"territorial_blocks":  blocks,
		"aggressive_monsters": aggressive,
	}
}

// blocksFor returns the room's territorial blocks, rehydrating the in-memory
// map from the persisted room properties on first access.
func (b *BehaviorManager) blocksFor(room *types.Room) map[string]types.Direction {
	blocks, _ := b.territorialBlocks.GetOrSet(room.ID, room.TerritorialBlocks())
	return blocks
}

// pickBlockedExit chooses uniformly among the room's exits, excluding the
// opposite of the entry direction so the player can always retreat.
func (b *BehaviorManager) pickBlockedExit(room *types.Room, entry types.Direction) (types.Direction, bool) {
	retreat := entry.Opposite()
	var exits []types.Direction
	for d := range room.Connections {
		if d != retreat {
			exits = append(exits, d)
		}
	}
	if len(exits) == 0 {
		return "", false
	}
	return exits[rand.IntN(len(exits))], true
}

func (b *BehaviorManager) aliveMonster(ctx context.Context, monsterID string) *types.Monster {
	m, err := b.store.Durable.GetMonster(ctx, monsterID)
	if err != nil || !m.IsAlive {
		return nil
	}
	return m
}
