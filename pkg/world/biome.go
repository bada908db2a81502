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

// Package world implements the procedural world: biome chunks, room creation
// with coordinate claims, movement, and neighbor preloading.
package world

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	opensimplex "github.com/ojrac/opensimplex-go"
	"go.uber.org/zap"

	"github.com/fablegrid/fablegrid/internal/log"
	"github.com/fablegrid/fablegrid/pkg/llm"
	"github.com/fablegrid/fablegrid/pkg/storage"
	"github.com/fablegrid/fablegrid/pkg/types"
)

const (
	// noiseScale maps grid coordinates into noise space.
	noiseScale = 0.09
	// chunkQuant is the noise-space width of one biome chunk.
	chunkQuant = 0.35

	// newBiomeSentinel stands in for "invent a new biome" in the candidate
	// pool, so a fresh biome is exactly as likely as each existing one.
	newBiomeSentinel = "__new__"

	chunkAssignWait = 10 * time.Second
)

// BiomeManager assigns one biome per noise-space chunk.
type BiomeManager struct {
	noise opensimplex.Noise
	store *storage.Store
	gw    *llm.Gateway
}

// NewBiomeManager creates the manager with a deterministic noise field for
// the given world seed.
func NewBiomeManager(seed int64, store *storage.Store, gw *llm.Gateway) *BiomeManager {
	return &BiomeManager{
		noise: opensimplex.New(seed),
		store: store,
		gw:    gw,
	}
}

// chunkIndices quantizes a room coordinate into chunk indices, flooring
// toward negative infinity.
func chunkIndices(x, y int) (int, int) {
	nx := float64(x) * noiseScale
	ny := float64(y) * noiseScale
	return int(math.Floor(nx / chunkQuant)), int(math.Floor(ny / chunkQuant))
}

// ChunkID returns the chunk id owning the room coordinate.
func ChunkID(x, y int) string {
	cx, cy := chunkIndices(x, y)
	return fmt.Sprintf("chunk_%d_%d", cx, cy)
}

// ThreeStarRoomID returns the preallocated 3-star room id for the chunk
// containing (x,y). The chunk center in room space is (3*cx, 3*cy).
func ThreeStarRoomID(x, y int) string {
	cx, cy := chunkIndices(x, y)
	return fmt.Sprintf("room_%d_%d", 3*cx, 3*cy)
}

// BiomeFor resolves the biome of the chunk containing (x,y), assigning one on
// first access.
func (m *BiomeManager) BiomeFor(ctx context.Context, x, y int) (*types.Biome, error) {
	cx, cy := chunkIndices(x, y)
	chunkID := fmt.Sprintf("chunk_%d_%d", cx, cy)

	name, err := m.store.Durable.GetChunkBiome(ctx, chunkID)
	if err == nil {
		return m.store.Durable.GetBiome(ctx, name)
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	return m.assignChunk(ctx, x, y, cx, cy, chunkID)
}

// assignChunk runs the first-request assignment policy under a per-chunk
// advisory lock.
func (m *BiomeManager) assignChunk(ctx context.Context, x, y, cx, cy int, chunkID string) (*types.Biome, error) {
	acquired, err := m.store.AcquireLock(ctx, storage.ChunkLockKey(chunkID), storage.GenerationLockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire chunk lock %s: %w", chunkID, err)
	}
	if !acquired {
		return m.waitForChunk(ctx, chunkID)
	}
	defer func() {
		if err := m.store.ReleaseLock(context.WithoutCancel(ctx), storage.ChunkLockKey(chunkID)); err != nil {
			log.Warn("failed to release chunk lock", zap.String("chunk_id", chunkID), zap.Error(err))
		}
	}()

	// Re-check under the lock.
	if name, err := m.store.Durable.GetChunkBiome(ctx, chunkID); err == nil {
		return m.store.Durable.GetBiome(ctx, name)
	}

	adjacent := m.adjacentBiomes(ctx, cx, cy)

	saved, err := m.store.Durable.ListBiomes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list biomes: %w", err)
	}
	candidates := make([]string, 0, len(saved)+1)
	for _, b := range saved {
		if _, taken := adjacent[b.Name]; !taken {
			candidates = append(candidates, b.Name)
		}
	}
	candidates = append(candidates, newBiomeSentinel)

	// Uniform over existing candidates plus one fresh biome. The chunk lock
	// (with the post-lock re-check above) means only one process ever
	// chooses for this chunk.
	choice := candidates[rand.IntN(len(candidates))]

	var biome *types.Biome
	if choice == newBiomeSentinel {
		biome, err = m.createBiome(ctx, cx, cy, chunkID, adjacent)
		if err != nil {
			return nil, err
		}
	} else {
		biome, err = m.store.Durable.GetBiome(ctx, choice)
		if err != nil {
			return nil, fmt.Errorf("load chosen biome %s: %w", choice, err)
		}
	}

	if err := m.store.Durable.SaveChunkBiome(ctx, chunkID, biome.Name); err != nil {
		return nil, err
	}
	log.Info("assigned biome to chunk",
		zap.String("chunk_id", chunkID), zap.String("biome", biome.Name))
	return biome, nil
}

// createBiome asks the LLM for a biome distinct from the adjacent ones and
// preallocates its 3-star room at the chunk center.
func (m *BiomeManager) createBiome(ctx context.Context, cx, cy int, chunkID string, adjacent map[string]struct{}) (*types.Biome, error) {
	excluded := make([]string, 0, len(adjacent))
	for name := range adjacent {
		excluded = append(excluded, name)
	}
	biome, err := m.gw.GenerateBiomeChunk(ctx, chunkID, excluded)
	if err != nil {
		return nil, err
	}
	if err := m.store.Durable.SaveBiome(ctx, biome); err != nil {
		return nil, err
	}
	threeStarID := fmt.Sprintf("room_%d_%d", 3*cx, 3*cy)
	if err := m.store.Durable.SetGlobalData(ctx, threeStarKey(biome.Name), threeStarID); err != nil {
		return nil, err
	}
	return biome, nil
}

// ThreeStarRoomFor returns the room id allowed to hold the biome's rarity-3
// item, or "" when none was recorded.
func (m *BiomeManager) ThreeStarRoomFor(ctx context.Context, biomeName string) string {
	var roomID string
	if err := m.store.Durable.GetGlobalData(ctx, threeStarKey(biomeName), &roomID); err != nil {
		return ""
	}
	return roomID
}

func threeStarKey(biomeName string) string {
	return "three_star_room:" + biomeName
}

// adjacentBiomes collects the biomes of the 4 Manhattan-adjacent chunks.
func (m *BiomeManager) adjacentBiomes(ctx context.Context, cx, cy int) map[string]struct{} {
	adjacent := make(map[string]struct{})
	for _, d := range [][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}} {
		id := fmt.Sprintf("chunk_%d_%d", cx+d[0], cy+d[1])
		name, err := m.store.Durable.GetChunkBiome(ctx, id)
		if err == nil {
			adjacent[name] = struct{}{}
		}
	}
	return adjacent
}

// TerrainSample returns the value-noise sample at a room coordinate, in
// [-1, 1]. Worlds with the same seed sample the same terrain.
func (m *BiomeManager) TerrainSample(x, y int) float64 {
	return m.noise.Eval2(float64(x)*noiseScale, float64(y)*noiseScale)
}

// waitForChunk polls for the winner's assignment when the chunk lock is held
// elsewhere.
func (m *BiomeManager) waitForChunk(ctx context.Context, chunkID string) (*types.Biome, error) {
	deadline := time.Now().Add(chunkAssignWait)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
		if name, err := m.store.Durable.GetChunkBiome(ctx, chunkID); err == nil {
			return m.store.Durable.GetBiome(ctx, name)
		}
	}
	return nil, fmt.Errorf("biome assignment for %s did not finish in time", chunkID)
}
