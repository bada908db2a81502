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

// Package storage composes the transient and durable stores behind one
// facade. Entities (rooms, players, items, monsters, NPCs, coordinates,
// biomes, quests, game state) are durable; presence, locks, generation
// status, histories, and session records are transient.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/fablegrid/fablegrid/pkg/types"
)

// ErrUnavailable wraps failures to reach a storage backend.
var ErrUnavailable = errors.New("storage backend unavailable")

// ErrNotFound is returned by typed getters when no row exists.
var ErrNotFound = errors.New("not found")

// TransientStore is the fast, TTL-capable store (C1). All operations are
// single-shot and non-transactional; atomicity above it is built from
// SetIfAbsent advisory locks.
type TransientStore interface {
	GetString(ctx context.Context, key string) (string, bool, error)
	SetString(ctx context.Context, key, value string, ttl time.Duration) error
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error

	SetAdd(ctx context.Context, key string, members ...string) error
	SetRemove(ctx context.Context, key string, members ...string) error
	SetMembers(ctx context.Context, key string) ([]string, error)

	ListPushFront(ctx context.Context, key, value string) error
	ListRange(ctx context.Context, key string, from, to int64) ([]string, error)
	ListTrim(ctx context.Context, key string, max int64) error

	HashSet(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error
	HashGetAll(ctx context.Context, key string) (map[string]string, error)

	// Keys scans for keys matching a glob pattern; the maintenance sweeps
	// use it, nothing on the hot path should.
	Keys(ctx context.Context, pattern string) ([]string, error)

	FlushAll(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// DurableStore is the persistent record store (C2).
type DurableStore interface {
	SaveRoom(ctx context.Context, room *types.Room) error
	GetRoom(ctx context.Context, id string) (*types.Room, error)
	ListRooms(ctx context.Context) ([]*types.Room, error)

	// AtomicCreateRoomAtCoordinates inserts the room row and its coordinate
	// row in one transaction. It returns false when another writer has already
	// claimed the coordinate.
	AtomicCreateRoomAtCoordinates(ctx context.Context, room *types.Room) (bool, error)
	GetCoordinate(ctx context.Context, x, y int) (*types.CoordinateRecord, error)
	ListCoordinates(ctx context.Context) ([]*types.CoordinateRecord, error)
	SaveRoomAlias(ctx context.Context, aliasID, roomID string) error

	SavePlayer(ctx context.Context, player *types.Player) error
	GetPlayer(ctx context.Context, id string) (*types.Player, error)
	ListPlayersByUser(ctx context.Context, userID string) ([]*types.Player, error)

	SaveItem(ctx context.Context, item *types.Item) error
	GetItem(ctx context.Context, id string) (*types.Item, error)
	GetItems(ctx context.Context, ids []string) ([]*types.Item, error)
	// GetRecentHighRarityItems returns up to limit items with rarity >=
	// minRarity, newest first; UUIDv4 ids stand in for creation order.
	GetRecentHighRarityItems(ctx context.Context, minRarity, limit int) ([]*types.Item, error)

	SaveMonster(ctx context.Context, monster *types.Monster) error
	GetMonster(ctx context.Context, id string) (*types.Monster, error)
	GetMonsters(ctx context.Context, ids []string) ([]*types.Monster, error)

	SaveNPC(ctx context.Context, npc *types.NPC) error
	GetNPC(ctx context.Context, id string) (*types.NPC, error)
	GetNPCs(ctx context.Context, ids []string) ([]*types.NPC, error)

	SaveBiome(ctx context.Context, biome *types.Biome) error
	GetBiome(ctx context.Context, name string) (*types.Biome, error)
	ListBiomes(ctx context.Context) ([]*types.Biome, error)
	SaveChunkBiome(ctx context.Context, chunkID, biomeName string) error
	GetChunkBiome(ctx context.Context, chunkID string) (string, error)

	SetGlobalData(ctx context.Context, key string, value interface{}) error
	GetGlobalData(ctx context.Context, key string, out interface{}) error

	SaveQuest(ctx context.Context, quest *types.Quest) error
	ListQuests(ctx context.Context) ([]*types.Quest, error)
	GetQuest(ctx context.Context, id string) (*types.Quest, error)
	SaveQuestProgress(ctx context.Context, progress *types.QuestProgress) error
	GetQuestProgress(ctx context.Context, playerID, questID string) (*types.QuestProgress, error)
	// AwardBadge returns false without error when the player already holds
	// the badge.
	AwardBadge(ctx context.Context, playerID, badgeID string) (bool, error)
	RecordGoldTransaction(ctx context.Context, tx *types.GoldTransaction) error

	// ResetGameTables clears all game state but preserves user profiles.
	ResetGameTables(ctx context.Context) error
	Ping(ctx context.Context) error
	Close()
}
