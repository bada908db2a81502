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
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fablegrid/fablegrid/internal/pubsub"
	"github.com/fablegrid/fablegrid/pkg/llm"
	"github.com/fablegrid/fablegrid/pkg/storage"
	"github.com/fablegrid/fablegrid/pkg/storage/memory"
	"github.com/fablegrid/fablegrid/pkg/types"
)

// worldText answers every generator prompt with minimal valid JSON.
type worldText struct{}

func (worldText) Generate(ctx context.Context, system, prompt string) (string, error) {
	switch {
	case strings.HasPrefix(prompt, "Invent a biome"):
		return `{"name": "emberwood", "description": "Scorched pines under ashen light.", "color": "#aa3311"}`, nil
	case strings.HasPrefix(prompt, "Describe a location"):
		return `{"title": "Ashen Clearing", "description": "Burnt trunks ring a patch of grey grass.", "image_prompt": "a burnt forest clearing"}`, nil
	case strings.HasPrefix(prompt, "Invent a rarity-"):
		return `{"name": "Cinder Token", "description": "Still warm.", "special_effects": "No special effects"}`, nil
	case strings.HasPrefix(prompt, "Invent a monster"):
		return `{"name": "Ash Hound", "description": "A lean hound trailing smoke."}`, nil
	case strings.HasPrefix(prompt, "Invent the premise"):
		return `{"world_seed": "A realm of cinders.", "main_quest_summary": "Find the first flame.", "starting_state": "You wake in ash."}`, nil
	default:
		return `{}`, nil
	}
}

func (w worldText) GenerateStream(ctx context.Context, system, prompt string, onToken func(string)) (string, error) {
	out, err := w.Generate(ctx, system, prompt)
	if err == nil && onToken != nil {
		onToken(out)
	}
	return out, err
}

func newTestEngine(t *testing.T) (*Engine, *storage.Store) {
	t.Helper()
	store := storage.NewStore(memory.NewTransient(), memory.NewDurable())
	gw := llm.New(worldText{}, nil)
	biomes := NewBiomeManager(1, store, gw)
	return NewEngine(store, gw, biomes, nil, nil, false), store
}

func TestChunkIndices(t *testing.T) {
	tests := []struct {
		x, y   int
		cx, cy int
	}{
		{0, 0, 0, 0},
		{3, 0, 0, 0},
		{4, 0, 1, 0},
		{-1, -1, -1, -1},
		{-4, 8, -2, 2},
	}
	for _, tc := range tests {
		cx, cy := chunkIndices(tc.x, tc.y)
		assert.Equal(t, tc.cx, cx, "x=%d", tc.x)
		assert.Equal(t, tc.cy, cy, "y=%d", tc.y)
	}
}

func TestChunkIDAndThreeStarRoom(t *testing.T) {
	assert.Equal(t, "chunk_0_0", ChunkID(0, 0))
	assert.Equal(t, "chunk_1_0", ChunkID(4, 0))
	assert.Equal(t, "room_0_0", ThreeStarRoomID(1, 1))
	assert.Equal(t, "room_3_0", ThreeStarRoomID(4, 0))
	assert.Equal(t, "room_-3_-3", ThreeStarRoomID(-1, -1))
}

func TestRingFor(t *testing.T) {
	assert.Equal(t, 0, ringFor(0, 0))
	assert.Equal(t, 0, ringFor(5, -5))
	assert.Equal(t, 1, ringFor(6, 0))
	assert.Equal(t, 2, ringFor(0, -13))
	assert.Equal(t, maxRing, ringFor(1000, 3))
}

func TestShiftWeightsEndpoints(t *testing.T) {
	base := easyWeights(4) // 4,3,2,1

	ring0 := shiftWeights(base, 0)
	assert.Equal(t, base, ring0)

	hardest := shiftWeights(base, maxRing)
	assert.Equal(t, []float64{1, 2, 3, 4}, hardest)
}

func TestRollMonsterStartRoomNeverAggressive(t *testing.T) {
	for i := 0; i < 300; i++ {
		m := rollMonster(types.StartRoomID, 0, 0)
		assert.NotEqual(t, types.Aggressive, m.Aggressiveness)
		assert.True(t, m.IsAlive)
		assert.Greater(t, m.Health, 0)
		assert.GreaterOrEqual(t, m.MaxVital(), 1)
	}
}

func TestBiomeForIsStablePerChunk(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	b1, err := engine.biomes.BiomeFor(ctx, 0, 0)
	require.NoError(t, err)
	b2, err := engine.biomes.BiomeFor(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, b1.Name, b2.Name, "coordinates in one chunk share a biome")
	assert.Equal(t, "emberwood", b1.Name)
}

func TestEnsureWorldBootstraps(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	state, err := engine.EnsureWorld(ctx, "fallback premise")
	require.NoError(t, err)
	assert.Equal(t, "A realm of cinders.", state.WorldSeed)

	room, err := store.Durable.GetRoom(ctx, types.StartRoomID)
	require.NoError(t, err)
	assert.Equal(t, 0, room.X)
	assert.Equal(t, 0, room.Y)
	assert.Equal(t, "emberwood", room.Biome)

	// Second call is a no-op, not a second world.
	again, err := engine.EnsureWorld(ctx, "other")
	require.NoError(t, err)
	assert.Equal(t, state.WorldSeed, again.WorldSeed)
}

func TestCreateRoomCoordinateRace(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	biome := &types.Biome{Name: "emberwood"}

	first, err := engine.CreateRoomWithCoordinates(ctx, CreateRoomParams{
		ID: RoomID(2, 2), X: 2, Y: 2, Title: "First",
		Biome: biome, MarkDiscovered: true, Placeholder: true,
	})
	require.NoError(t, err)

	// A second writer loses the claim and gets the winner's room back.
	second, err := engine.CreateRoomWithCoordinates(ctx, CreateRoomParams{
		ID: "room_other", X: 2, Y: 2, Title: "Second",
		Biome: biome, MarkDiscovered: true, Placeholder: true,
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "First", second.Title)
}

func TestAutoConnectLinksBothWays(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	biome := &types.Biome{Name: "emberwood"}

	a, err := engine.CreateRoomWithCoordinates(ctx, CreateRoomParams{
		ID: RoomID(0, 0), X: 0, Y: 0, Biome: biome,
		MarkDiscovered: true, Placeholder: true,
	})
	require.NoError(t, err)

	b, err := engine.CreateRoomWithCoordinates(ctx, CreateRoomParams{
		ID: RoomID(1, 0), X: 1, Y: 0, Biome: biome,
		MarkDiscovered: true, Placeholder: true,
	})
	require.NoError(t, err)

	assert.Equal(t, a.ID, b.Connections[types.West])

	reloaded, err := store.Durable.GetRoom(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, reloaded.Connections[types.East])
}

func TestMoveCreatesPlaceholderOnlyAfterDeadline(t *testing.T) {
	engine, store := newTestEngine(t)
	engine.genWait = 150 * time.Millisecond
	engine.genPoll = 10 * time.Millisecond
	ctx := context.Background()
	biome := &types.Biome{Name: "emberwood"}

	from, err := engine.CreateRoomWithCoordinates(ctx, CreateRoomParams{
		ID: RoomID(10, 10), X: 10, Y: 10, Biome: biome,
		MarkDiscovered: true, Placeholder: true,
	})
	require.NoError(t, err)

	start := time.Now()
	dest, err := engine.Move(ctx, from, types.North)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), engine.genWait,
		"the wait must run to the deadline before place-holding")
	assert.Equal(t, RoomID(10, 11), dest.ID)
	assert.Contains(t, dest.Title, "Unexplored")
	assert.Contains(t, dest.Description, "haze")

	coord, err := store.Durable.GetCoordinate(ctx, 10, 11)
	require.NoError(t, err)
	assert.Equal(t, dest.ID, coord.RoomID)
}

func TestMoveWaitsOutUnpublishedGeneration(t *testing.T) {
	engine, store := newTestEngine(t)
	engine.genWait = 5 * time.Second
	engine.genPoll = 10 * time.Millisecond
	ctx := context.Background()
	biome := &types.Biome{Name: "emberwood"}

	from, err := engine.CreateRoomWithCoordinates(ctx, CreateRoomParams{
		ID: RoomID(20, 20), X: 20, Y: 20, Biome: biome,
		MarkDiscovered: true, Placeholder: true,
	})
	require.NoError(t, err)

	// A generator has claimed the coordinate but published no status yet.
	acquired, err := store.AcquireLock(ctx, storage.CoordLockKey(20, 21), storage.GenerationLockTTL)
	require.NoError(t, err)
	require.True(t, acquired)

	type moveResult struct {
		room *types.Room
		err  error
	}
	results := make(chan moveResult, 1)
	go func() {
		room, err := engine.Move(ctx, from, types.North)
		results <- moveResult{room, err}
	}()

	// Mid-wait, the generator finishes and saves the real room.
	time.Sleep(100 * time.Millisecond)
	_, err = engine.CreateRoomWithCoordinates(ctx, CreateRoomParams{
		ID: RoomID(20, 21), X: 20, Y: 21, Title: "Grown Glade",
		Biome: biome, MarkDiscovered: true, Placeholder: true,
	})
	require.NoError(t, err)

	select {
	case got := <-results:
		require.NoError(t, got.err)
		assert.Equal(t, "Grown Glade", got.room.Title)
		assert.NotContains(t, got.room.Title, "Unexplored")
	case <-time.After(4 * time.Second):
		t.Fatal("movement never returned the generated room")
	}
}

func TestBroadcastRoomPublishesEvent(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := engine.Events().Subscribe(ctx)
	engine.BroadcastRoom(ctx, &types.Room{ID: "room_5_5", Title: "Cinder Rise"})

	select {
	case ev := <-events:
		assert.Equal(t, pubsub.UpdatedEvent, ev.Type)
		assert.Equal(t, "room_5_5", ev.Payload.ID)
	case <-time.After(time.Second):
		t.Fatal("room update was never published")
	}
}

func TestTerrainFlavorIsStablePerCoordinate(t *testing.T) {
	engine, _ := newTestEngine(t)

	sample := engine.biomes.TerrainSample(7, -3)
	assert.Equal(t, sample, engine.biomes.TerrainSample(7, -3))
	assert.GreaterOrEqual(t, sample, -1.0)
	assert.LessOrEqual(t, sample, 1.0)

	low, mid, high := terrainFlavor(-0.8), terrainFlavor(0), terrainFlavor(0.8)
	assert.NotEqual(t, low, mid)
	assert.NotEqual(t, mid, high)
	for _, desc := range []string{low, mid, high} {
		assert.Contains(t, desc, "haze")
	}
}

func TestStartingRoomAliasForForeignOrigin(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	// An origin room that predates the canonical id.
	_, err := store.Durable.AtomicCreateRoomAtCoordinates(ctx, &types.Room{
		ID: "room_0_0", X: 0, Y: 0, Biome: "emberwood",
		Connections: map[types.Direction]string{},
	})
	require.NoError(t, err)

	room, err := engine.EnsureStartingRoom(ctx)
	require.NoError(t, err)
	assert.Equal(t, "room_0_0", room.ID)

	aliased, err := store.Durable.GetRoom(ctx, types.StartRoomID)
	require.NoError(t, err)
	assert.Equal(t, "room_0_0", aliased.ID)
}

func TestSanitizeStartingMonsters(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	m := &types.Monster{
		ID: "monster_1", Name: "Ash Hound", Aggressiveness: types.Aggressive,
		Size: types.SizeHuman, Health: 5, IsAlive: true, Location: types.StartRoomID,
	}
	require.NoError(t, store.Durable.SaveMonster(ctx, m))
	room := &types.Room{ID: types.StartRoomID, Monsters: []string{m.ID}}

	require.NoError(t, engine.sanitizeStartingMonsters(ctx, room))

	got, err := store.Durable.GetMonster(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, types.Neutral, got.Aggressiveness)
}
