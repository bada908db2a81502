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

package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fablegrid/fablegrid/pkg/storage"
	"github.com/fablegrid/fablegrid/pkg/storage/memory"
	"github.com/fablegrid/fablegrid/pkg/types"
)

func newStore() *storage.Store {
	return storage.NewStore(memory.NewTransient(), memory.NewDurable())
}

func TestPresence(t *testing.T) {
	ctx := context.Background()
	s := newStore()

	require.NoError(t, s.AddPlayerToRoom(ctx, "room_0_0", "p1"))
	require.NoError(t, s.AddPlayerToRoom(ctx, "room_0_0", "p2"))

	players, err := s.RoomPlayers(ctx, "room_0_0")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"p1", "p2"}, players)

	require.NoError(t, s.RemovePlayerFromRoom(ctx, "room_0_0", "p1"))
	players, err = s.RoomPlayers(ctx, "room_0_0")
	require.NoError(t, err)
	assert.Equal(t, []string{"p2"}, players)
}

func TestAdvisoryLocks(t *testing.T) {
	ctx := context.Background()
	s := newStore()

	got, err := s.AcquireLock(ctx, "coord_lock:1:1", time.Minute)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = s.AcquireLock(ctx, "coord_lock:1:1", time.Minute)
	require.NoError(t, err)
	assert.False(t, got)

	require.NoError(t, s.ReleaseLock(ctx, "coord_lock:1:1"))
	got, err = s.AcquireLock(ctx, "coord_lock:1:1", time.Minute)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestActionHistory(t *testing.T) {
	ctx := context.Background()
	s := newStore()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.RecordAction(ctx, &types.ActionRecord{
			ID:        "action_" + string(rune('a'+i)),
			PlayerID:  "p1",
			RoomID:    "room_0_0",
			Action:    "look around",
			Timestamp: time.Now().UTC(),
		}))
	}

	records, err := s.ActionHistory(ctx, "p1", 10)
	require.NoError(t, err)
	require.Len(t, records, 3)
	// Newest first.
	assert.Equal(t, "action_c", records[0].ID)

	limited, err := s.ActionHistory(ctx, "p1", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestActionHistorySkipsPseudoPlayers(t *testing.T) {
	ctx := context.Background()
	s := newStore()

	require.NoError(t, s.RecordAction(ctx, &types.ActionRecord{
		ID: "a1", PlayerID: "guest_7", Action: "look",
	}))
	records, err := s.ActionHistory(ctx, "guest_7", 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestChatHistoryFansOut(t *testing.T) {
	ctx := context.Background()
	s := newStore()

	require.NoError(t, s.RecordChat(ctx, &types.ChatMessage{
		PlayerID: "p1", PlayerName: "Ash", RoomID: "room_0_0",
		Content: "hello", Timestamp: time.Now().UTC(),
	}))

	msgs, err := s.RoomChatHistory(ctx, "room_0_0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Content)
}

func TestActiveDuelMirror(t *testing.T) {
	ctx := context.Background()
	s := newStore()

	duel := &types.Duel{
		ID: "duel_1", Player1ID: "p1", Player2ID: "p2",
		RoomID: "room_0_0", Round: 2, MaxVital1: 6, MaxVital2: 6,
	}
	require.NoError(t, s.SaveActiveDuel(ctx, duel))

	got, err := s.ActiveDuel(ctx, "duel_1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Round)

	id, ok, err := s.ActiveDuelForPlayer(ctx, "p2")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "duel_1", id)

	require.NoError(t, s.DeleteActiveDuel(ctx, duel))
	_, err = s.ActiveDuel(ctx, "duel_1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, ok, err = s.ActiveDuelForPlayer(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResetWorld(t *testing.T) {
	ctx := context.Background()
	s := newStore()

	require.NoError(t, s.Durable.SaveRoom(ctx, &types.Room{ID: "room_0_0"}))
	require.NoError(t, s.AddPlayerToRoom(ctx, "room_0_0", "p1"))

	require.NoError(t, s.ResetWorld(ctx))

	_, err := s.Durable.GetRoom(ctx, "room_0_0")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	players, err := s.RoomPlayers(ctx, "room_0_0")
	require.NoError(t, err)
	assert.Empty(t, players)
}
