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

package postgres

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/fablegrid/fablegrid/internal/log"
	"github.com/fablegrid/fablegrid/pkg/storage"
	"github.com/fablegrid/fablegrid/pkg/types"
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// saveDoc upserts a JSONB document row.
func (s *Store) saveDoc(ctx context.Context, table, id string, doc interface{}) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal %s %s: %w", table, id, err)
	}
	_, err = s.pool.Exec(ctx, fmt.Sprintf(`
	INSERT INTO %s (id, data) VALUES ($1, $2)
	ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data`, table),
		id, data)
	if err != nil {
		return fmt.Errorf("save %s %s: %w", table, id, err)
	}
	return nil
}

// loadDoc reads a JSONB document row into out.
func (s *Store) loadDoc(ctx context.Context, table, id string, out interface{}) error {
	var data []byte
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT data FROM %s WHERE id = $1", table), id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load %s %s: %w", table, id, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal %s %s: %w", table, id, err)
	}
	return nil
}

func (s *Store) loadDocs(ctx context.Context, table string, ids []string, decode func([]byte) error) error {
	if len(ids) == 0 {
		return nil
	}
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf("SELECT data FROM %s WHERE id = ANY($1)", table), ids)
	if err != nil {
		return fmt.Errorf("load %s batch: %w", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return err
		}
		if err := decode(data); err != nil {
			return err
		}
	}
	return rows.Err()
}

// --- Rooms & coordinates ---

// SaveRoom upserts a room document.
func (s *Store) SaveRoom(ctx context.Context, room *types.Room) error {
	return s.saveDoc(ctx, "rooms", room.ID, room)
}

// GetRoom loads a room, following the alias table when the id is an alias.
func (s *Store) GetRoom(ctx context.Context, id string) (*types.Room, error) {
	var room types.Room
	err := s.loadDoc(ctx, "rooms", id, &room)
	if err == nil {
		return &room, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	var target string
	aliasErr := s.pool.QueryRow(ctx,
		"SELECT room_id FROM room_aliases WHERE alias_id = $1", id).Scan(&target)
	if errors.Is(aliasErr, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if aliasErr != nil {
		return nil, fmt.Errorf("resolve room alias %s: %w", id, aliasErr)
	}
	if err := s.loadDoc(ctx, "rooms", target, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// ListRooms returns every room in the world.
func (s *Store) ListRooms(ctx context.Context) ([]*types.Room, error) {
	rows, err := s.pool.Query(ctx, "SELECT data FROM rooms")
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()
	var rooms []*types.Room
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var room types.Room
		if err := json.Unmarshal(data, &room); err != nil {
			return nil, err
		}
		rooms = append(rooms, &room)
	}
	return rooms, rows.Err()
}

// AtomicCreateRoomAtCoordinates inserts the room and claims its coordinate in
// one transaction. Returns false when another writer got there first; the
// partial room insert is rolled back in that case.
func (s *Store) AtomicCreateRoomAtCoordinates(ctx context.Context, room *types.Room) (bool, error) {
	created := false
	err := execInTx(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM coordinates WHERE x = $1 AND y = $2)",
			room.X, room.Y).Scan(&exists); err != nil {
			return fmt.Errorf("check coordinate (%d,%d): %w", room.X, room.Y, err)
		}
		if exists {
			return nil
		}

		data, err := json.Marshal(room)
		if err != nil {
			return fmt.Errorf("marshal room %s: %w", room.ID, err)
		}
		if _, err := tx.Exec(ctx, `
		INSERT INTO rooms (id, data) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data`,
			room.ID, data); err != nil {
			return fmt.Errorf("insert room %s: %w", room.ID, err)
		}

		if _, err := tx.Exec(ctx, `
		INSERT INTO coordinates (x, y, room_id, is_discovered) VALUES ($1, $2, $3, TRUE)`,
			room.X, room.Y, room.ID); err != nil {
			// The unique (x,y) key lost a race since the check above; the
			// room insert rolls back with the transaction.
			if isUniqueViolation(err) {
				return errCoordinateRace
			}
			return fmt.Errorf("insert coordinate (%d,%d): %w", room.X, room.Y, err)
		}
		created = true
		return nil
	})
	if errors.Is(err, errCoordinateRace) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return created, nil
}

var errCoordinateRace = errors.New("coordinate claimed concurrently")

// GetCoordinate returns the coordinate record at (x,y), if discovered.
func (s *Store) GetCoordinate(ctx context.Context, x, y int) (*types.CoordinateRecord, error) {
	rec := &types.CoordinateRecord{X: x, Y: y}
	err := s.pool.QueryRow(ctx,
		"SELECT room_id, is_discovered FROM coordinates WHERE x = $1 AND y = $2",
		x, y).Scan(&rec.RoomID, &rec.IsDiscovered)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load coordinate (%d,%d): %w", x, y, err)
	}
	return rec, nil
}

// ListCoordinates returns every discovered coordinate.
func (s *Store) ListCoordinates(ctx context.Context) ([]*types.CoordinateRecord, error) {
	rows, err := s.pool.Query(ctx, "SELECT x, y, room_id, is_discovered FROM coordinates")
	if err != nil {
		return nil, fmt.Errorf("list coordinates: %w", err)
	}
	defer rows.Close()
	var records []*types.CoordinateRecord
	for rows.Next() {
		rec := &types.CoordinateRecord{}
		if err := rows.Scan(&rec.X, &rec.Y, &rec.RoomID, &rec.IsDiscovered); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// SaveRoomAlias maps an alias id onto an existing room.
func (s *Store) SaveRoomAlias(ctx context.Context, aliasID, roomID string) error {
	_, err := s.pool.Exec(ctx, `
	INSERT INTO room_aliases (alias_id, room_id) VALUES ($1, $2)
	ON CONFLICT (alias_id) DO UPDATE SET room_id = EXCLUDED.room_id`,
		aliasID, roomID)
	if err != nil {
		return fmt.Errorf("save room alias %s: %w", aliasID, err)
	}
	return nil
}

// --- Players ---

// SavePlayer upserts a player. Guest/dummy/system pseudo-players are skipped
// silently so they never trip foreign keys.
func (s *Store) SavePlayer(ctx context.Context, player *types.Player) error {
	if types.IsPseudoPlayer(player.ID) {
		log.Debug("skipping pseudo player save", zap.String("player_id", player.ID))
		return nil
	}
	data, err := json.Marshal(player)
	if err != nil {
		return fmt.Errorf("marshal player %s: %w", player.ID, err)
	}
	_, err = s.pool.Exec(ctx, `
	INSERT INTO players (id, user_id, data, updated_at) VALUES ($1, $2, $3, now())
	ON CONFLICT (id) DO UPDATE SET user_id = EXCLUDED.user_id, data = EXCLUDED.data, updated_at = now()`,
		player.ID, player.UserID, data)
	if err != nil {
		return fmt.Errorf("save player %s: %w", player.ID, err)
	}
	return nil
}

// GetPlayer loads a player by id.
func (s *Store) GetPlayer(ctx context.Context, id string) (*types.Player, error) {
	var player types.Player
	if err := s.loadDoc(ctx, "players", id, &player); err != nil {
		return nil, err
	}
	return &player, nil
}

// ListPlayersByUser returns all characters owned by a user.
func (s *Store) ListPlayersByUser(ctx context.Context, userID string) ([]*types.Player, error) {
	rows, err := s.pool.Query(ctx, "SELECT data FROM players WHERE user_id = $1", userID)
	if err != nil {
		return nil, fmt.Errorf("list players for user %s: %w", userID, err)
	}
	defer rows.Close()
	var players []*types.Player
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var player types.Player
		if err := json.Unmarshal(data, &player); err != nil {
			return nil, err
		}
		players = append(players, &player)
	}
	return players, rows.Err()
}

// --- Items ---

// SaveItem upserts an item.
func (s *Store) SaveItem(ctx context.Context, item *types.Item) error {
	return s.saveDoc(ctx, "items", item.ID, item)
}

// GetItem loads one item.
func (s *Store) GetItem(ctx context.Context, id string) (*types.Item, error) {
	var item types.Item
	if err := s.loadDoc(ctx, "items", id, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// GetItems loads a batch of items; missing ids are skipped.
func (s *Store) GetItems(ctx context.Context, ids []string) ([]*types.Item, error) {
	var items []*types.Item
	err := s.loadDocs(ctx, "items", ids, func(data []byte) error {
		var item types.Item
		if err := json.Unmarshal(data, &item); err != nil {
			return err
		}
		items = append(items, &item)
		return nil
	})
	return items, err
}

// GetRecentHighRarityItems returns recent items with rarity >= minRarity,
// newest first. UUIDv4 ids serve as a creation-order proxy.
func (s *Store) GetRecentHighRarityItems(ctx context.Context, minRarity, limit int) ([]*types.Item, error) {
	rows, err := s.pool.Query(ctx, `
	SELECT data FROM items
	WHERE (data->>'rarity')::int >= $1
	ORDER BY id DESC
	LIMIT $2`, minRarity, limit)
	if err != nil {
		return nil, fmt.Errorf("list high-rarity items: %w", err)
	}
	defer rows.Close()
	var items []*types.Item
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var item types.Item
		if err := json.Unmarshal(data, &item); err != nil {
			return nil, err
		}
		items = append(items, &item)
	}
	return items, rows.Err()
}

// --- Monsters ---

// SaveMonster upserts a monster.
func (s *Store) SaveMonster(ctx context.Context, monster *types.Monster) error {
	return s.saveDoc(ctx, "monsters", monster.ID, monster)
}

// GetMonster loads one monster.
func (s *Store) GetMonster(ctx context.Context, id string) (*types.Monster, error) {
	var monster types.Monster
	if err := s.loadDoc(ctx, "monsters", id, &monster); err != nil {
		return nil, err
	}
	return &monster, nil
}

// GetMonsters loads a batch of monsters; missing ids are skipped.
func (s *Store) GetMonsters(ctx context.Context, ids []string) ([]*types.Monster, error) {
	var monsters []*types.Monster
	err := s.loadDocs(ctx, "monsters", ids, func(data []byte) error {
		var m types.Monster
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		monsters = append(monsters, &m)
		return nil
	})
	return monsters, err
}

// --- NPCs ---

// SaveNPC upserts an NPC.
func (s *Store) SaveNPC(ctx context.Context, npc *types.NPC) error {
	return s.saveDoc(ctx, "npcs", npc.ID, npc)
}

// GetNPC loads one NPC.
func (s *Store) GetNPC(ctx context.Context, id string) (*types.NPC, error) {
	var npc types.NPC
	if err := s.loadDoc(ctx, "npcs", id, &npc); err != nil {
		return nil, err
	}
	return &npc, nil
}

// GetNPCs loads a batch of NPCs; missing ids are skipped.
func (s *Store) GetNPCs(ctx context.Context, ids []string) ([]*types.NPC, error) {
	var npcs []*types.NPC
	err := s.loadDocs(ctx, "npcs", ids, func(data []byte) error {
		var npc types.NPC
		if err := json.Unmarshal(data, &npc); err != nil {
			return err
		}
		npcs = append(npcs, &npc)
		return nil
	})
	return npcs, err
}

// --- Biomes ---

// biomeID hashes the lowercased biome name; deduplication key.
func biomeID(name string) string {
	sum := sha1.Sum([]byte(strings.ToLower(strings.TrimSpace(name))))
	return hex.EncodeToString(sum[:])
}

// SaveBiome upserts a biome, deduplicated by lowercased name.
func (s *Store) SaveBiome(ctx context.Context, biome *types.Biome) error {
	biome.Name = strings.ToLower(strings.TrimSpace(biome.Name))
	return s.saveDoc(ctx, "biomes", biomeID(biome.Name), biome)
}

// GetBiome loads a biome by name.
func (s *Store) GetBiome(ctx context.Context, name string) (*types.Biome, error) {
	var biome types.Biome
	if err := s.loadDoc(ctx, "biomes", biomeID(name), &biome); err != nil {
		return nil, err
	}
	return &biome, nil
}

// ListBiomes returns every saved biome.
func (s *Store) ListBiomes(ctx context.Context) ([]*types.Biome, error) {
	rows, err := s.pool.Query(ctx, "SELECT data FROM biomes")
	if err != nil {
		return nil, fmt.Errorf("list biomes: %w", err)
	}
	defer rows.Close()
	var biomes []*types.Biome
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var biome types.Biome
		if err := json.Unmarshal(data, &biome); err != nil {
			return nil, err
		}
		biomes = append(biomes, &biome)
	}
	return biomes, rows.Err()
}

// SaveChunkBiome records the biome owning a chunk.
func (s *Store) SaveChunkBiome(ctx context.Context, chunkID, biomeName string) error {
	_, err := s.pool.Exec(ctx, `
	INSERT INTO chunk_biomes (chunk_id, biome_name) VALUES ($1, $2)
	ON CONFLICT (chunk_id) DO NOTHING`,
		chunkID, strings.ToLower(biomeName))
	if err != nil {
		return fmt.Errorf("save chunk biome %s: %w", chunkID, err)
	}
	return nil
}

// GetChunkBiome returns the biome name for a chunk.
func (s *Store) GetChunkBiome(ctx context.Context, chunkID string) (string, error) {
	var name string
	err := s.pool.QueryRow(ctx,
		"SELECT biome_name FROM chunk_biomes WHERE chunk_id = $1", chunkID).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load chunk biome %s: %w", chunkID, err)
	}
	return name, nil
}

// --- Global data ---

// SetGlobalData stores a world-level key.
func (s *Store) SetGlobalData(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal global data %s: %w", key, err)
	}
	_, err = s.pool.Exec(ctx, `
	INSERT INTO global_data (key, data) VALUES ($1, $2)
	ON CONFLICT (key) DO UPDATE SET data = EXCLUDED.data`,
		key, data)
	if err != nil {
		return fmt.Errorf("save global data %s: %w", key, err)
	}
	return nil
}

// GetGlobalData loads a world-level key into out.
func (s *Store) GetGlobalData(ctx context.Context, key string, out interface{}) error {
	var data []byte
	err := s.pool.QueryRow(ctx,
		"SELECT data FROM global_data WHERE key = $1", key).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load global data %s: %w", key, err)
	}
	return json.Unmarshal(data, out)
}

// --- World reset ---

// ResetGameTables truncates all game state but preserves user accounts.
func (s *Store) ResetGameTables(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
	TRUNCATE rooms, room_aliases, coordinates, players, items, monsters, npcs,
	         biomes, chunk_biomes, global_data, quest_progress, player_badges,
	         gold_transactions`)
	if err != nil {
		return fmt.Errorf("truncate game tables: %w", err)
	}
	return nil
}

var _ storage.DurableStore = (*Store)(nil)
