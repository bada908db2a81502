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

package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fablegrid/fablegrid/pkg/game"
	"github.com/fablegrid/fablegrid/pkg/hub"
	"github.com/fablegrid/fablegrid/pkg/llm"
	"github.com/fablegrid/fablegrid/pkg/storage"
	"github.com/fablegrid/fablegrid/pkg/storage/memory"
	"github.com/fablegrid/fablegrid/pkg/types"
	"github.com/fablegrid/fablegrid/pkg/world"
)

// stubClient routes generator prompts to canned JSON and everything else to
// a narration with a trailing envelope.
type stubClient struct{}

func (stubClient) Generate(ctx context.Context, system, prompt string) (string, error) {
	switch {
	case strings.HasPrefix(prompt, "Invent a biome"):
		return `{"name": "saltfen", "description": "White crusts over grey mud.", "color": "#99aabb"}`, nil
	case strings.HasPrefix(prompt, "Describe a location"):
		return `{"title": "Salt Flats", "description": "Cracked white ground to the horizon.", "image_prompt": "salt flats"}`, nil
	case strings.HasPrefix(prompt, "Invent a rarity-"):
		return `{"name": "Brine Shard", "description": "Sharp and wet.", "special_effects": "No special effects"}`, nil
	case strings.HasPrefix(prompt, "Invent a monster"):
		return `{"name": "Salt Strider", "description": "It skates on crusted brine."}`, nil
	case strings.HasPrefix(prompt, "Invent the premise"):
		return `{"world_seed": "A drowned kingdom dried out.", "main_quest_summary": "Find the last spring.", "starting_state": "Salt on your lips."}`, nil
	case strings.Contains(prompt, `"is_attack"`):
		return `{"is_attack": false, "target_monster_id": ""}`, nil
	case strings.Contains(prompt, `"advances"`):
		return `{"advances": false}`, nil
	default:
		return "The flats stretch on.\n\n" + `{"response": "The flats stretch on."}`, nil
	}
}

func (s stubClient) GenerateStream(ctx context.Context, system, prompt string, onToken func(string)) (string, error) {
	out, err := s.Generate(ctx, system, prompt)
	if err == nil && onToken != nil {
		onToken(out)
	}
	return out, err
}

type serverFixture struct {
	srv    *Server
	store  *storage.Store
	combat *game.CombatEngine
	url    string
	client *http.Client
}

func newServerFixture(t *testing.T, cfg Config) *serverFixture {
	t.Helper()
	store := storage.NewStore(memory.NewTransient(), memory.NewDurable())
	gw := llm.New(stubClient{}, nil)
	biomes := world.NewBiomeManager(1, store, gw)
	engine := world.NewEngine(store, gw, biomes, nil, nil, false)

	h := hub.New(store, engine, 0)
	limiter := game.NewRateLimiter(store)
	combat := game.NewCombatEngine(store, gw, h, true)
	behavior := game.NewBehaviorManager(store, h)
	quests := game.NewQuestManager(store, gw, h)
	h.Attach(combat, behavior, quests)
	pipeline := game.NewPipeline(store, gw, engine, limiter, combat, behavior, quests, h)

	srv := New(cfg, store, engine, pipeline, limiter, h)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &serverFixture{srv: srv, store: store, combat: combat, url: ts.URL, client: ts.Client()}
}

func (f *serverFixture) postJSON(t *testing.T, path string, body interface{}) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := f.client.Post(f.url+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealth(t *testing.T) {
	f := newServerFixture(t, Config{CORS: DefaultCORSConfig()})

	resp, err := f.client.Get(f.url + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	decodeJSON(t, resp, &body)
	assert.Equal(t, "healthy", body["status"])
}

func TestStartBootstrapsWorld(t *testing.T) {
	f := newServerFixture(t, Config{})

	resp := f.postJSON(t, "/start", map[string]string{})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		GameState types.GameState `json:"game_state"`
		Room      types.Room      `json:"room"`
	}
	decodeJSON(t, resp, &body)
	assert.Equal(t, "A drowned kingdom dried out.", body.GameState.WorldSeed)
	assert.Equal(t, types.StartRoomID, body.Room.ID)
	assert.Equal(t, "saltfen", body.Room.Biome)
}

func TestCreatePlayerIdempotent(t *testing.T) {
	f := newServerFixture(t, Config{})

	resp := f.postJSON(t, "/player", map[string]string{"id": "player_x", "name": "Ash"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	var created types.Player
	decodeJSON(t, resp, &created)
	assert.Equal(t, types.StartRoomID, created.CurrentRoom)
	assert.Equal(t, types.PlayerMaxVital, created.Health)

	// Re-posting the same id returns the existing record untouched.
	resp = f.postJSON(t, "/player", map[string]string{"id": "player_x", "name": "Imposter"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var existing types.Player
	decodeJSON(t, resp, &existing)
	assert.Equal(t, "Ash", existing.Name)
}

func TestCreatePlayerRequiresName(t *testing.T) {
	f := newServerFixture(t, Config{})
	resp := f.postJSON(t, "/player", map[string]string{"id": "player_x"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetPlayerAndRoomNotFound(t *testing.T) {
	f := newServerFixture(t, Config{})

	resp, err := f.client.Get(f.url + "/player/player_missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = f.client.Get(f.url + "/room/room_missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetRoomExpandsInhabitants(t *testing.T) {
	f := newServerFixture(t, Config{})
	ctx := context.Background()

	monster := &types.Monster{ID: "monster_1", Name: "Salt Strider", IsAlive: true}
	require.NoError(t, f.store.Durable.SaveMonster(ctx, monster))
	require.NoError(t, f.store.Durable.SaveRoom(ctx, &types.Room{
		ID: "room_0_0", Title: "Salt Flats", Monsters: []string{monster.ID},
	}))
	require.NoError(t, f.store.AddPlayerToRoom(ctx, "room_0_0", "player_x"))

	resp, err := f.client.Get(f.url + "/room/room_0_0")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Room     types.Room       `json:"room"`
		Monsters []*types.Monster `json:"monsters"`
	}
	decodeJSON(t, resp, &body)
	assert.Equal(t, []string{"player_x"}, body.Room.Players)
	require.Len(t, body.Monsters, 1)
	assert.Equal(t, "Salt Strider", body.Monsters[0].Name)
}

func TestWorldStructure(t *testing.T) {
	f := newServerFixture(t, Config{})
	ctx := context.Background()

	created, err := f.store.Durable.AtomicCreateRoomAtCoordinates(ctx, &types.Room{
		ID: "room_2_3", X: 2, Y: 3, Biome: "saltfen", Title: "Salt Flats",
	})
	require.NoError(t, err)
	require.True(t, created)

	resp, err := f.client.Get(f.url + "/world/structure")
	require.NoError(t, err)
	var body struct {
		Rooms []struct {
			X      int    `json:"x"`
			Y      int    `json:"y"`
			RoomID string `json:"room_id"`
			Biome  string `json:"biome"`
		} `json:"rooms"`
		Count int `json:"count"`
	}
	decodeJSON(t, resp, &body)
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "room_2_3", body.Rooms[0].RoomID)
	assert.Equal(t, "saltfen", body.Rooms[0].Biome)
}

func TestRateLimitConfigEndpoint(t *testing.T) {
	f := newServerFixture(t, Config{})

	resp := f.postJSON(t, "/rate-limit/config", map[string]int{
		"limit": 10, "interval_minutes": 5,
	})
	var body map[string]int
	decodeJSON(t, resp, &body)
	assert.Equal(t, 10, body["limit"])
	assert.Equal(t, 5, body["interval_minutes"])

	resp, err := f.client.Get(f.url + "/rate-limit/status/player_x")
	require.NoError(t, err)
	var info types.RateLimitInfo
	decodeJSON(t, resp, &info)
	assert.Equal(t, 10, info.Limit)
	assert.Equal(t, 0, info.ActionCount)
}

func TestAPIKeyMiddleware(t *testing.T) {
	f := newServerFixture(t, Config{APIKey: "secret"})

	// Health is exempt.
	resp, err := f.client.Get(f.url + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Everything else is not.
	resp, err = f.client.Get(f.url + "/player/player_x")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, f.url+"/player/player_x", nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", "secret")
	resp, err = f.client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "authorized request reaches the handler")

	// Websocket-style clients pass the key as a query parameter.
	resp, err = f.client.Get(f.url + "/player/player_x?api_key=secret")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAuthDisabledWithoutPostgres(t *testing.T) {
	f := newServerFixture(t, Config{JWTSecret: "test-secret"})

	resp := f.postJSON(t, "/auth/register", map[string]string{
		"email": "a@b.c", "password": "longenough",
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)

	resp = f.postJSON(t, "/auth/login", map[string]string{
		"email": "a@b.c", "password": "longenough",
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestActionStreamSSE(t *testing.T) {
	f := newServerFixture(t, Config{})
	ctx := context.Background()

	require.NoError(t, f.store.Durable.SaveRoom(ctx, &types.Room{
		ID: types.StartRoomID, Title: "Salt Flats",
		Connections: map[types.Direction]string{},
	}))
	require.NoError(t, f.store.Durable.SavePlayer(ctx, &types.Player{
		ID: "player_x", Name: "Ash", CurrentRoom: types.StartRoomID,
	}))

	resp := f.postJSON(t, "/action/stream", map[string]string{
		"player_id": "player_x", "action": "survey the flats",
	})
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var sawToken, sawResult bool
	var result struct {
		Type   string `json:"type"`
		Result struct {
			Response string `json:"response"`
		} `json:"result"`
	}
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		var event map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(payload), &event))
		switch event["type"] {
		case "token":
			sawToken = true
		case "result":
			sawResult = true
			require.NoError(t, json.Unmarshal([]byte(payload), &result))
		}
	}
	assert.True(t, sawToken, "narration tokens streamed")
	require.True(t, sawResult, "terminal result event sent")
	assert.Equal(t, "The flats stretch on.", result.Result.Response)
}

func TestActionStreamRateLimited(t *testing.T) {
	f := newServerFixture(t, Config{})
	ctx := context.Background()

	require.NoError(t, f.store.Durable.SaveRoom(ctx, &types.Room{ID: types.StartRoomID}))
	require.NoError(t, f.store.Durable.SavePlayer(ctx, &types.Player{
		ID: "player_x", Name: "Ash", CurrentRoom: types.StartRoomID,
	}))
	f.srv.limiter.SetConfig(1, time.Minute)
	require.NoError(t, f.store.RecordAction(ctx, &types.ActionRecord{
		ID: "a1", PlayerID: "player_x", Action: "look", Timestamp: time.Now().UTC(),
	}))

	resp := f.postJSON(t, "/action/stream", map[string]string{
		"player_id": "player_x", "action": "look again",
	})
	defer resp.Body.Close()

	var sawRateLimited bool
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if strings.Contains(scanner.Text(), `"rate_limited"`) {
			sawRateLimited = true
		}
	}
	assert.True(t, sawRateLimited)
}

func TestMaintenanceSweepsStaleDuels(t *testing.T) {
	f := newServerFixture(t, Config{})
	ctx := context.Background()

	// A mirror without a live in-memory duel is stale.
	stale := &types.Duel{ID: "duel_stale", Player1ID: "p1", Player2ID: "p2", RoomID: "room_0_0"}
	require.NoError(t, f.store.SaveActiveDuel(ctx, stale))

	live, err := f.combat.Challenge(ctx, "p3", "p4", "room_0_0")
	require.NoError(t, err)

	m := NewMaintenance(f.store, f.combat)
	m.sweepStaleDuels()

	_, err = f.store.ActiveDuel(ctx, "duel_stale")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = f.store.ActiveDuel(ctx, live.ID)
	assert.NoError(t, err, "live duels keep their mirror")
}

func TestMaintenanceTrimsHistories(t *testing.T) {
	f := newServerFixture(t, Config{})
	ctx := context.Background()

	key := "actions:player:player_x"
	for i := 0; i < int(storage.ActionHistoryMax)+25; i++ {
		require.NoError(t, f.store.Transient.ListPushFront(ctx, key, "{}"))
	}

	m := NewMaintenance(f.store, f.combat)
	m.trimHistories()

	entries, err := f.store.Transient.ListRange(ctx, key, 0, -1)
	require.NoError(t, err)
	assert.Len(t, entries, int(storage.ActionHistoryMax))
}
