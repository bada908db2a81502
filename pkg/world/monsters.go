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
	"math"
	"math/rand/v2"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fablegrid/fablegrid/internal/log"
	"github.com/fablegrid/fablegrid/pkg/types"
)

// maxRing caps the difficulty scaling; everything past 48 cells from the
// origin rolls the hardest table.
const maxRing = 8

// monsterCountWeights biases rooms toward one or two monsters; index picked
// uniformly.
var monsterCountWeights = []int{0, 0, 1, 1, 2, 3}

// Attribute keys ordered easy to hard. The ring shifts weight from the front
// of each list toward the back.
var (
	aggressivenessLadder = []types.Aggressiveness{
		types.Passive, types.Neutral, types.Territorial, types.Aggressive,
	}
	intelligenceLadder = []types.Intelligence{
		types.IntelligenceAnimal, types.IntelligenceSubhuman,
		types.IntelligenceHuman, types.IntelligenceOmnipotent,
	}
	sizeLadder = []types.MonsterSize{
		types.SizeInsect, types.SizeChicken, types.SizeHuman,
		types.SizeHorse, types.SizeDinosaur, types.SizeColossal,
	}
)

// easyWeights are the ring-0 weights for a ladder of n attributes, heaviest
// on the easy end.
func easyWeights(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = float64(n - i)
	}
	return w
}

// ringFor computes the difficulty ring of a coordinate.
func ringFor(x, y int) int {
	ring := max(abs(x), abs(y)) / 6
	if ring > maxRing {
		ring = maxRing
	}
	return ring
}

// shiftWeights interpolates between the easy-heavy base distribution and its
// reverse as the ring grows.
func shiftWeights(base []float64, ring int) []float64 {
	t := float64(ring) / float64(maxRing)
	out := make([]float64, len(base))
	for i := range base {
		out[i] = base[i]*(1-t) + base[len(base)-1-i]*t
	}
	return out
}

// weightedPick draws an index from the weight slice.
func weightedPick(weights []float64) int {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	r := rand.Float64() * total
	for i, w := range weights {
		r -= w
		if r <= 0 {
			return i
		}
	}
	return len(weights) - 1
}

// specialEffectCount rolls how many special effects a monster carries; the
// center of the world is almost always effect-free.
func specialEffectCount(ring int) int {
	weights := []float64{float64(10 - ring), float64(ring), float64(ring) / 2}
	return weightedPick(weights)
}

var monsterEffectPool = []string{
	"venomous bite",
	"stone hide",
	"shadow step",
	"ear-splitting shriek",
	"regenerating flesh",
	"burning touch",
}

// rollMonster draws one monster's attributes for a room at (x,y). The
// starting room never rolls aggressive.
func rollMonster(roomID string, x, y int) *types.Monster {
	ring := ringFor(x, y)

	aggr := aggressivenessLadder[weightedPick(shiftWeights(easyWeights(len(aggressivenessLadder)), ring))]
	if roomID == types.StartRoomID && aggr == types.Aggressive {
		aggr = types.Neutral
	}
	intel := intelligenceLadder[weightedPick(shiftWeights(easyWeights(len(intelligenceLadder)), ring))]
	size := sizeLadder[weightedPick(shiftWeights(easyWeights(len(sizeLadder)), ring))]

	var effects []string
	for _, i := range rand.Perm(len(monsterEffectPool))[:specialEffectCount(ring)] {
		effects = append(effects, monsterEffectPool[i])
	}

	return &types.Monster{
		ID:             "monster_" + uuid.NewString(),
		Aggressiveness: aggr,
		Intelligence:   intel,
		Size:           size,
		Health:         int(math.Round(5 * size.Multiplier())),
		IsAlive:        true,
		SpecialEffects: effects,
		Location:       roomID,
	}
}

// generateMonsters rolls, names, and persists the monsters for a new room.
func (e *Engine) generateMonsters(ctx context.Context, roomID string, x, y int, biome string) []string {
	count := monsterCountWeights[rand.IntN(len(monsterCountWeights))]
	ids := make([]string, 0, count)
	for i := 0; i < count; i++ {
		m := rollMonster(roomID, x, y)
		if err := e.gw.GenerateMonsterFlavor(ctx, biome, m); err != nil {
			log.Warn("monster flavor generation failed, using fallback",
				zap.String("room_id", roomID), zap.Error(err))
			m.Name = "Strange Creature"
			m.Description = "A creature twisted into something unrecognizable by this land."
		}
		if err := e.store.Durable.SaveMonster(ctx, m); err != nil {
			log.Error("failed to persist monster",
				zap.String("monster_id", m.ID), zap.Error(err))
			continue
		}
		ids = append(ids, m.ID)
	}
	return ids
}

func newID() string {
	return uuid.NewString()
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
