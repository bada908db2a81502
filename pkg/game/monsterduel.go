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
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sergi/go-diff/diffmatchpatch"
	"go.uber.org/zap"

	"github.com/fablegrid/fablegrid/internal/log"
	"github.com/fablegrid/fablegrid/pkg/llm"
	"github.com/fablegrid/fablegrid/pkg/types"
)

const (
	classifyRetries    = 3
	classifyRetryDelay = 300 * time.Millisecond
	monsterCandidates  = 5
	monsterMoveWindow  = 5
)

// ClassifyAttack asks the LLM whether the action is an attack on one of the
// room's monsters. Parse failures are retried with short sleeps; after the
// retries the action is treated as no-attack.
func (c *CombatEngine) ClassifyAttack(ctx context.Context, action string, monsters []*types.Monster) (*types.Monster, bool) {
	alive := make([]*types.Monster, 0, len(monsters))
	for _, m := range monsters {
		if m.IsAlive {
			alive = append(alive, m)
		}
	}
	if len(alive) == 0 {
		return nil, false
	}

	for attempt := 0; attempt < classifyRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, false
			case <-time.After(classifyRetryDelay):
			}
		}
		out, err := c.gw.GenerateText(ctx, classifyPrompt(action, alive))
		if err != nil {
			continue
		}
		raw, ok := llm.ExtractJSONObject(out)
		if !ok {
			continue
		}
		var verdict struct {
			IsAttack        bool   `json:"is_attack"`
			TargetMonsterID string `json:"target_monster_id"`
		}
		if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
			continue
		}
		if !verdict.IsAttack {
			return nil, false
		}
		for _, m := range alive {
			if m.ID == verdict.TargetMonsterID {
				return m, true
			}
		}
		// Attack without a recognizable target defaults to the first monster.
		return alive[0], true
	}
	log.Warn("attack classification failed, treating as no-attack",
		zap.String("action", action))
	return nil, false
}

// StartMonsterDuel creates and auto-accepts a duel against the monster.
func (c *CombatEngine) StartMonsterDuel(ctx context.Context, playerID string, monster *types.Monster, roomID string) (*types.Duel, error) {
	duel := &types.Duel{
		ID:                   "duel_" + uuid.NewString(),
		Player1ID:            playerID,
		Player2ID:            monster.ID,
		RoomID:               roomID,
		Round:                1,
		IsMonsterDuel:        true,
		MonsterData:          monster,
		MaxVital1:            types.PlayerMaxVital,
		MaxVital2:            monster.MaxVital(),
		FinishingWindowOwner: types.WindowNone,
	}
	c.duels.Set(duel.ID, duel)
	if err := c.store.SaveActiveDuel(ctx, duel); err != nil {
		log.Warn("could not mirror monster duel", zap.String("duel_id", duel.ID), zap.Error(err))
	}

	c.msgr.SendToPlayer(roomID, playerID, types.NewWireMessage(types.MsgDuelChallenge, map[string]interface{}{
		"duel_id":         duel.ID,
		"challenger_id":   monster.ID,
		"monster_name":    monster.Name,
		"is_monster_duel": true,
		"room_id":         roomID,
	}))
	// Monsters always accept.
	if _, err := c.Respond(ctx, duel.ID, true); err != nil {
		return nil, err
	}
	log.Info("monster duel started", zap.String("duel_id", duel.ID),
		zap.String("player_id", playerID), zap.String("monster_id", monster.ID))
	return duel, nil
}

// generateMonsterMove produces the monster's move for the current round:
// five LLM candidates, then the one least similar to the monster's recent
// moves wins, so fights do not loop on a single verb.
func (c *CombatEngine) generateMonsterMove(ctx context.Context, duel *types.Duel) string {
	recent := c.recentMonsterMoves(duel)

	candidates := c.moveCandidates(ctx, duel, recent)
	if len(candidates) == 0 {
		return "lashes out wildly"
	}

	best := candidates[0]
	bestScore := 2.0
	for _, candidate := range candidates {
		score := 0.0
		for _, prev := range recent {
			if s := similarityRatio(candidate, prev); s > score {
				score = s
			}
		}
		if score < bestScore {
			bestScore = score
			best = candidate
		}
	}
	return best
}

func (c *CombatEngine) moveCandidates(ctx context.Context, duel *types.Duel, recent []string) []string {
	out, err := c.gw.GenerateText(ctx, monsterMovePrompt(duel, recent))
	if err != nil {
		log.Warn("monster move generation failed", zap.String("duel_id", duel.ID), zap.Error(err))
		return nil
	}
	var candidates []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "0123456789.-) "))
		if line != "" {
			candidates = append(candidates, line)
		}
		if len(candidates) == monsterCandidates {
			break
		}
	}
	return candidates
}

func (c *CombatEngine) recentMonsterMoves(duel *types.Duel) []string {
	var moves []string
	start := maxInt(0, len(duel.History)-monsterMoveWindow)
	for _, r := range duel.History[start:] {
		if r.Move2 != "" {
			moves = append(moves, r.Move2)
		}
	}
	return moves
}

// similarityRatio returns 1 for identical strings and 0 for entirely
// different ones, based on edit distance.
func similarityRatio(a, b string) float64 {
	if a == b {
		return 1
	}
	longest := maxInt(len(a), len(b))
	if longest == 0 {
		return 1
	}
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(a, b, false)
	distance := dmp.DiffLevenshtein(diffs)
	return 1 - float64(distance)/float64(longest)
}

func classifyPrompt(action string, monsters []*types.Monster) string {
	var b strings.Builder
	b.WriteString("Decide whether the player's action is an attack on one of these monsters:\n")
	for _, m := range monsters {
		fmt.Fprintf(&b, "- id %s: %s (%s)\n", m.ID, m.Name, m.Aggressiveness)
	}
	fmt.Fprintf(&b, "Action: %q\n", action)
	b.WriteString(`Respond with JSON only: {"is_attack": false, "target_monster_id": ""}`)
	return b.String()
}

func monsterMovePrompt(duel *types.Duel, recent []string) string {
	var b strings.Builder
	m := duel.MonsterData
	fmt.Fprintf(&b, "You fight as %s: %s It is %s-sized with %s-level intelligence.\n",
		m.Name, m.Description, m.Size, m.Intelligence)
	if len(recent) > 0 {
		fmt.Fprintf(&b, "Avoid repeating the verbs of its recent moves: %s\n",
			strings.Join(recent, "; "))
	}
	b.WriteString("Write 5 distinct combat moves for this creature, one per line, " +
		"each a short third-person clause. No numbering beyond the line itself.")
	return b.String()
}
