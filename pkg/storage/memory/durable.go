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

package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/fablegrid/fablegrid/pkg/storage"
	"github.com/fablegrid/fablegrid/pkg/types"
)

// Durable is an in-memory storage.DurableStore. Documents are stored as JSON
// so reads never alias writer memory, matching the JSONB store's semantics.
type Durable struct {
	mu sync.RWMutex

	rooms       map[string][]byte
	aliases     map[string]string
	coords      map[string]*types.CoordinateRecord
	players     map[string][]byte
	items       map[string][]byte
	itemOrder   []string
	monsters    map[string][]byte
	npcs        map[string][]byte
	biomes      map[string][]byte
	chunkBiomes map[string]string
	global      map[string][]byte

	quests        map[string][]byte
	questProgress map[string][]byte
	badges        map[string]struct{}
	goldTx        []*types.GoldTransaction
}

// NewDurable creates an empty durable store.
func NewDurable() *Durable {
	d := &Durable{}
	d.reset()
	return d
}

func (d *Durable) reset() {
	d.rooms = make(map[string][]byte)
	d.aliases = make(map[string]string)
	d.coords = make(map[string]*types.CoordinateRecord)
	d.players = make(map[string][]byte)
	d.items = make(map[string][]byte)
	d.itemOrder = nil
	d.monsters = make(map[string][]byte)
	d.npcs = make(map[string][]byte)
	d.biomes = make(map[string][]byte)
	d.chunkBiomes = make(map[string]string)
	d.global = make(map[string][]byte)
	d.questProgress = make(map[string][]byte)
	d.badges = make(map[string]struct{})
	d.goldTx = nil
	if d.quests == nil {
		d.quests = make(map[string][]byte)
	}
}

func put(m map[string][]byte, id string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m[id] = raw
	return nil
}

func get[T any](m map[string][]byte, id string) (*T, error) {
	raw, ok := m[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func coordKey(x, y int) string { return fmt.Sprintf("%d,%d", x, y) }

func (d *Durable) SaveRoom(ctx context.Context, room *types.Room) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return put(d.rooms, room.ID, room)
}

func (d *Durable) GetRoom(ctx context.Context, id string) (*types.Room, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	room, err := get[types.Room](d.rooms, id)
	if err == storage.ErrNotFound {
		if target, ok := d.aliases[id]; ok {
			return get[types.Room](d.rooms, target)
		}
	}
	return room, err
}

func (d *Durable) ListRooms(ctx context.Context) ([]*types.Room, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rooms := make([]*types.Room, 0, len(d.rooms))
	for id := range d.rooms {
		room, err := get[types.Room](d.rooms, id)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, nil
}

func (d *Durable) AtomicCreateRoomAtCoordinates(ctx context.Context, room *types.Room) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := coordKey(room.X, room.Y)
	if _, taken := d.coords[key]; taken {
		return false, nil
	}
	if err := put(d.rooms, room.ID, room); err != nil {
		return false, err
	}
	d.coords[key] = &types.CoordinateRecord{X: room.X, Y: room.Y, RoomID: room.ID}
	return true, nil
}

func (d *Durable) GetCoordinate(ctx context.Context, x, y int) (*types.CoordinateRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	coord, ok := d.coords[coordKey(x, y)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c := *coord
	return &c, nil
}

func (d *Durable) ListCoordinates(ctx context.Context) ([]*types.CoordinateRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	coords := make([]*types.CoordinateRecord, 0, len(d.coords))
	for _, coord := range d.coords {
		c := *coord
		coords = append(coords, &c)
	}
	return coords, nil
}

func (d *Durable) SaveRoomAlias(ctx context.Context, aliasID, roomID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.aliases[aliasID] = roomID
	return nil
}

func (d *Durable) SavePlayer(ctx context.Context, player *types.Player) error {
	if types.IsPseudoPlayer(player.ID) {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return put(d.players, player.ID, player)
}

func (d *Durable) GetPlayer(ctx context.Context, id string) (*types.Player, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return get[types.Player](d.players, id)
}

func (d *Durable) ListPlayersByUser(ctx context.Context, userID string) ([]*types.Player, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var players []*types.Player
	for id := range d.players {
		player, err := get[types.Player](d.players, id)
		if err != nil {
			return nil, err
		}
		if player.UserID == userID {
			players = append(players, player)
		}
	}
	return players, nil
}

func (d *Durable) SaveItem(ctx context.Context, item *types.Item) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.items[item.ID]; !exists {
		d.itemOrder = append(d.itemOrder, item.ID)
	}
	return put(d.items, item.ID, item)
}

func (d *Durable) GetItem(ctx context.Context, id string) (*types.Item, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return get[types.Item](d.items, id)
}

func (d *Durable) GetItems(ctx context.Context, ids []string) ([]*types.Item, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var items []*types.Item
	for _, id := range ids {
		item, err := get[types.Item](d.items, id)
		if err == storage.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (d *Durable) GetRecentHighRarityItems(ctx context.Context, minRarity, limit int) ([]*types.Item, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var items []*types.Item
	for i := len(d.itemOrder) - 1; i >= 0 && len(items) < limit; i-- {
		item, err := get[types.Item](d.items, d.itemOrder[i])
		if err != nil {
			continue
		}
		if item.Rarity >= minRarity {
			items = append(items, item)
		}
	}
	return items, nil
}

func (d *Durable) SaveMonster(ctx context.Context, monster *types.Monster) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return put(d.monsters, monster.ID, monster)
}

func (d *Durable) GetMonster(ctx context.Context, id string) (*types.Monster, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return get[types.Monster](d.monsters, id)
}

func (d *Durable) GetMonsters(ctx context.Context, ids []string) ([]*types.Monster, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var monsters []*types.Monster
	for _, id := range ids {
		m, err := get[types.Monster](d.monsters, id)
		if err == storage.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		monsters = append(monsters, m)
	}
	return monsters, nil
}

func (d *Durable) SaveNPC(ctx context.Context, npc *types.NPC) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return put(d.npcs, npc.ID, npc)
}

func (d *Durable) GetNPC(ctx context.Context, id string) (*types.NPC, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return get[types.NPC](d.npcs, id)
}

func (d *Durable) GetNPCs(ctx context.Context, ids []string) ([]*types.NPC, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var npcs []*types.NPC
	for _, id := range ids {
		npc, err := get[types.NPC](d.npcs, id)
		if err == storage.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		npcs = append(npcs, npc)
	}
	return npcs, nil
}

func (d *Durable) SaveBiome(ctx context.Context, biome *types.Biome) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	b := *biome
	b.Name = strings.ToLower(strings.TrimSpace(b.Name))
	return put(d.biomes, b.Name, &b)
}

func (d *Durable) GetBiome(ctx context.Context, name string) (*types.Biome, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return get[types.Biome](d.biomes, strings.ToLower(strings.TrimSpace(name)))
}

func (d *Durable) ListBiomes(ctx context.Context) ([]*types.Biome, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	biomes := make([]*types.Biome, 0, len(d.biomes))
	for name := range d.biomes {
		biome, err := get[types.Biome](d.biomes, name)
		if err != nil {
			return nil, err
		}
		biomes = append(biomes, biome)
	}
	return biomes, nil
}

func (d *Durable) SaveChunkBiome(ctx context.Context, chunkID, biomeName string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.chunkBiomes[chunkID]; !exists {
		d.chunkBiomes[chunkID] = biomeName
	}
	return nil
}

func (d *Durable) GetChunkBiome(ctx context.Context, chunkID string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	name, ok := d.chunkBiomes[chunkID]
	if !ok {
		return "", storage.ErrNotFound
	}
	return name, nil
}

func (d *Durable) SetGlobalData(ctx context.Context, key string, value interface{}) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return put(d.global, key, value)
}

func (d *Durable) GetGlobalData(ctx context.Context, key string, out interface{}) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	raw, ok := d.global[key]
	if !ok {
		return storage.ErrNotFound
	}
	return json.Unmarshal(raw, out)
}

func (d *Durable) SaveQuest(ctx context.Context, quest *types.Quest) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return put(d.quests, quest.ID, quest)
}

func (d *Durable) ListQuests(ctx context.Context) ([]*types.Quest, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	quests := make([]*types.Quest, 0, len(d.quests))
	for id := range d.quests {
		quest, err := get[types.Quest](d.quests, id)
		if err != nil {
			return nil, err
		}
		quests = append(quests, quest)
	}
	sort.Slice(quests, func(i, j int) bool {
		return quests[i].OrderIndex < quests[j].OrderIndex
	})
	return quests, nil
}

func (d *Durable) GetQuest(ctx context.Context, id string) (*types.Quest, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return get[types.Quest](d.quests, id)
}

func progressKey(playerID, questID string) string { return playerID + "|" + questID }

func (d *Durable) SaveQuestProgress(ctx context.Context, progress *types.QuestProgress) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return put(d.questProgress, progressKey(progress.PlayerID, progress.QuestID), progress)
}

func (d *Durable) GetQuestProgress(ctx context.Context, playerID, questID string) (*types.QuestProgress, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return get[types.QuestProgress](d.questProgress, progressKey(playerID, questID))
}

func (d *Durable) AwardBadge(ctx context.Context, playerID, badgeID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := playerID + "|" + badgeID
	if _, held := d.badges[key]; held {
		return false, nil
	}
	d.badges[key] = struct{}{}
	return true, nil
}

func (d *Durable) RecordGoldTransaction(ctx context.Context, tx *types.GoldTransaction) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := *tx
	d.goldTx = append(d.goldTx, &t)
	return nil
}

// GoldTransactions returns the recorded transactions, oldest first.
func (d *Durable) GoldTransactions() []*types.GoldTransaction {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*types.GoldTransaction, len(d.goldTx))
	copy(out, d.goldTx)
	return out
}

// ResetGameTables clears game state; quest definitions survive like the SQL
// store's TRUNCATE list.
func (d *Durable) ResetGameTables(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reset()
	return nil
}

func (d *Durable) Ping(ctx context.Context) error { return nil }

func (d *Durable) Close() {}

var _ storage.DurableStore = (*Durable)(nil)
