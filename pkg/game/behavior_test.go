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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fablegrid/fablegrid/pkg/types"
)

func testRoom(monsterIDs ...string) *types.Room {
	return &types.Room{
		ID: "room_1_0",
		X:  1, Y: 0,
		Connections: map[types.Direction]string{
			types.North: "room_1_1",
			types.West:  "room_0_0",
			types.East:  "room_2_0",
		},
		Monsters: monsterIDs,
	}
}

func TestPickBlockedExitExcludesRetreat(t *testing.T) {
	b := NewBehaviorManager(newGameStore(), newRecorder())
	room := testRoom()

	// Entering from the west means west is the way back; it must never be
	// blocked no matter how often we roll.
	for i := 0; i < 100; i++ {
		dir, ok := b.pickBlockedExit(room, types.East)
		require.True(t, ok)
		assert.NotEqual(t, types.West, dir)
	}

	// A dead end has nothing left to block once the retreat is excluded.
	deadEnd := &types.Room{
		ID:          "room_x",
		Connections: map[types.Direction]string{types.South: "room_below"},
	}
	_, ok := b.pickBlockedExit(deadEnd, types.North)
	assert.False(t, ok)
}

func TestOnPlayerEnterTerritorial(t *testing.T) {
	ctx := context.Background()
	s := newGameStore()
	msgr := newRecorder()
	b := NewBehaviorManager(s, msgr)

	m := &types.Monster{
		ID: "monster_1", Name: "Ridge Stalker",
		Aggressiveness: types.Territorial, Size: types.SizeHorse,
		Health: 7, IsAlive: true, Location: "room_1_0",
	}
	require.NoError(t, s.Durable.SaveMonster(ctx, m))
	room := testRoom(m.ID)
	require.NoError(t, s.Durable.SaveRoom(ctx, room))

	player := &types.Player{ID: "p1", Name: "Ash", CurrentRoom: room.ID}
	b.OnPlayerEnter(ctx, player, room, types.East)

	summary := b.Summary(room)
	blocks := summary["territorial_blocks"].(map[string]string)
	require.Len(t, blocks, 1)
	blocked := blocks[m.ID]
	assert.NotEqual(t, string(types.West), blocked, "the way back stays open")

	// The block is announced to the room and persisted on the room record.
	assert.NotEmpty(t, msgr.ofType(types.MsgRoomUpdate))
	saved, err := s.Durable.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Len(t, saved.TerritorialBlocks(), 1)
}

func TestCheckActionTerritorialGuard(t *testing.T) {
	ctx := context.Background()
	s := newGameStore()
	b := NewBehaviorManager(s, newRecorder())

	m := &types.Monster{
		ID: "monster_1", Name: "Ridge Stalker",
		Aggressiveness: types.Territorial, Health: 7, IsAlive: true,
	}
	require.NoError(t, s.Durable.SaveMonster(ctx, m))
	room := testRoom(m.ID)
	room.SetTerritorialBlock(m.ID, types.North)

	// Fresh manager rehydrates the block from the room record.
	triggered, forced := b.CheckAction(ctx, "p1", room, string(types.North))
	require.True(t, forced)
	assert.Equal(t, m.ID, triggered.ID)

	// Other directions pass.
	_, forced = b.CheckAction(ctx, "p1", room, string(types.East))
	assert.False(t, forced)

	// Non-movement actions pass a territorial room too.
	_, forced = b.CheckAction(ctx, "p1", room, AnyActionSentinel)
	assert.False(t, forced)
}

func TestCheckActionRetreatAlwaysAllowed(t *testing.T) {
	ctx := context.Background()
	s := newGameStore()
	b := NewBehaviorManager(s, newRecorder())

	m := &types.Monster{
		ID: "monster_1", Name: "Ridge Stalker",
		Aggressiveness: types.Territorial, Health: 7, IsAlive: true,
	}
	require.NoError(t, s.Durable.SaveMonster(ctx, m))
	room := testRoom(m.ID)
	room.SetTerritorialBlock(m.ID, types.West)

	b.SetPlayerLastRoom("p1", "room_0_0")
	_, forced := b.CheckAction(ctx, "p1", room, string(types.West))
	assert.False(t, forced, "retreat to the previous room beats the block")
}

func TestCheckActionAggressiveGuard(t *testing.T) {
	ctx := context.Background()
	s := newGameStore()
	b := NewBehaviorManager(s, newRecorder())

	m := &types.Monster{
		ID: "monster_1", Name: "Pit Fiend",
		Aggressiveness: types.Aggressive, Health: 7, IsAlive: true,
	}
	require.NoError(t, s.Durable.SaveMonster(ctx, m))
	room := testRoom(m.ID)
	player := &types.Player{ID: "p1", Name: "Ash"}
	b.OnPlayerEnter(ctx, player, room, types.East)

	// Any non-retreat action is intercepted, movement or not.
	triggered, forced := b.CheckAction(ctx, "p1", room, AnyActionSentinel)
	require.True(t, forced)
	assert.Equal(t, m.ID, triggered.ID)

	_, forced = b.CheckAction(ctx, "p1", room, string(types.North))
	assert.True(t, forced)

	// Retreating the way we came is still allowed.
	b.SetPlayerLastRoom("p1", "room_0_0")
	_, forced = b.CheckAction(ctx, "p1", room, string(types.West))
	assert.False(t, forced)
}

func TestCheckActionSkipsDeadMonsters(t *testing.T) {
	ctx := context.Background()
	s := newGameStore()
	b := NewBehaviorManager(s, newRecorder())

	m := &types.Monster{
		ID: "monster_1", Name: "Pit Fiend",
		Aggressiveness: types.Aggressive, Health: 7, IsAlive: true,
	}
	require.NoError(t, s.Durable.SaveMonster(ctx, m))
	room := testRoom(m.ID)
	b.OnPlayerEnter(ctx, &types.Player{ID: "p1"}, room, types.East)

	// The monster dies outside this manager's view; the guard cleans up
	// lazily on the next check.
	m.IsAlive = false
	require.NoError(t, s.Durable.SaveMonster(ctx, m))

	_, forced := b.CheckAction(ctx, "p1", room, AnyActionSentinel)
	assert.False(t, forced)

	summary := b.Summary(room)
	assert.Empty(t, summary["aggressive_monsters"].([]string))
}

func TestClearMonsterAndClearRoom(t *testing.T) {
	ctx := context.Background()
	s := newGameStore()
	b := NewBehaviorManager(s, newRecorder())

	m := &types.Monster{
		ID: "monster_1", Name: "Pit Fiend",
		Aggressiveness: types.Aggressive, Health: 7, IsAlive: true,
	}
	require.NoError(t, s.Durable.SaveMonster(ctx, m))
	room := testRoom(m.ID)
	b.OnPlayerEnter(ctx, &types.Player{ID: "p1"}, room, types.East)

	b.ClearMonster(room.ID, m.ID)
	_, forced := b.CheckAction(ctx, "p1", room, AnyActionSentinel)
	assert.False(t, forced)

	b.OnPlayerEnter(ctx, &types.Player{ID: "p1"}, room, types.East)
	b.ClearRoom(room.ID)
	_, forced = b.CheckAction(ctx, "p1", room, AnyActionSentinel)
	assert.False(t, forced)
}
