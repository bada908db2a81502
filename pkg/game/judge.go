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
	"sync"

	"go.uber.org/zap"

	"github.com/fablegrid/fablegrid/internal/log"
	"github.com/fablegrid/fablegrid/pkg/llm"
	"github.com/fablegrid/fablegrid/pkg/types"
)

// judgeRound scores one round once both moves are in. Per-duel serialization
// guarantees no two rounds of the same duel are judged concurrently.
func (c *CombatEngine) judgeRound(ctx context.Context, duel *types.Duel) error {
	mu, _ := c.roundLock.GetOrSet(duel.ID, &sync.Mutex{})
	mu.Lock()
	defer mu.Unlock()

	pending, ok := c.moves.Get(duel.ID)
	if !ok {
		return fmt.Errorf("no moves recorded for duel %s", duel.ID)
	}
	move1, move2 := pending[duel.Player1ID], pending[duel.Player2ID]
	if move1 == "" || move2 == "" {
		// A concurrent submission already consumed this round.
		return nil
	}
	c.moves.Set(duel.ID, map[string]string{})

	judgment := c.scoreRound(ctx, duel, move1, move2)
	c.postProcess(judgment)

	// Meters. Vital counts damage taken; a side dies when it reaches max.
	prevOwner := duel.FinishingWindowOwner
	duel.Vital1 = maxInt(0, duel.Vital1+judgment.VitalDelta1)
	duel.Vital2 = maxInt(0, duel.Vital2+judgment.VitalDelta2)
	duel.Control1 = clampInt(duel.Control1+judgment.ControlDelta1, 0, types.MaxControl)
	duel.Control2 = clampInt(duel.Control2+judgment.ControlDelta2, 0, types.MaxControl)

	// Finishing window. An owner from the previous round converts any
	// positive vital delta on the opponent into an instant kill.
	switch {
	case prevOwner == types.WindowP1 && judgment.VitalDelta2 > 0:
		duel.Vital2 = duel.MaxVital2
		duel.FinishingWindowOwner = types.WindowNone
	case prevOwner == types.WindowP2 && judgment.VitalDelta1 > 0:
		duel.Vital1 = duel.MaxVital1
		duel.FinishingWindowOwner = types.WindowNone
	case duel.FinishingWindowOwner == types.WindowNone && duel.Control1 == types.MaxControl:
		duel.FinishingWindowOwner = types.WindowP1
	case duel.FinishingWindowOwner == types.WindowNone && duel.Control2 == types.MaxControl:
		duel.FinishingWindowOwner = types.WindowP2
	}

	round := types.DuelRound{
		Round:         duel.Round,
		Move1:         move1,
		Move2:         move2,
		VitalDelta1:   judgment.VitalDelta1,
		VitalDelta2:   judgment.VitalDelta2,
		ControlDelta1: judgment.ControlDelta1,
		ControlDelta2: judgment.ControlDelta2,
		Reason1:       judgment.Reason1,
		Reason2:       judgment.Reason2,
	}
	round.Narrative = c.roundNarrative(ctx, duel, round)

	duel.History = append(duel.History, round)
	if len(duel.History) > duelHistoryMax {
		duel.History = duel.History[len(duel.History)-duelHistoryMax:]
	}
	duel.Round++

	ended := duel.Ended()
	c.broadcastRound(duel, round, ended)

	if ended {
		c.finishDuel(ctx, duel)
		return nil
	}
	if err := c.store.SaveActiveDuel(ctx, duel); err != nil {
		log.Warn("could not mirror duel state", zap.String("duel_id", duel.ID), zap.Error(err))
	}
	return nil
}

// scoreRound asks the LLM judge for deltas, degrading to the deterministic
// fallback on any parse failure.
func (c *CombatEngine) scoreRound(ctx context.Context, duel *types.Duel, move1, move2 string) *types.RoundJudgment {
	items1, items2 := c.loadInventories(ctx, duel)

	out, err := c.gw.GenerateText(ctx, judgePrompt(duel, move1, move2, items1, items2))
	if err == nil {
		raw, ok := llm.ExtractJSONObject(out)
		if ok {
			var judgment types.RoundJudgment
			if jsonErr := json.Unmarshal([]byte(raw), &judgment); jsonErr == nil {
				return &judgment
			}
		}
		err = fmt.Errorf("unparseable judge output")
	}
	log.Warn("combat judge failed, using deterministic fallback",
		zap.String("duel_id", duel.ID), zap.Error(err))
	return c.fallbackJudgment(duel, move1, move2, items1, items2)
}

// fallbackJudgment is the deterministic scoring rule: a move backed by valid
// equipment lands a small hit on the opponent; an invalid move costs control.
func (c *CombatEngine) fallbackJudgment(duel *types.Duel, move1, move2 string, items1, items2 []*types.Item) *types.RoundJudgment {
	judgment := &types.RoundJudgment{}
	known := append(append([]*types.Item{}, items1...), items2...)

	if c.moveIsValid(move1, items1, known, false) {
		judgment.VitalDelta2 = 1
		judgment.Reason1 = "a clean strike lands"
	} else {
		judgment.ControlDelta1 = -1
		judgment.Reason1 = "the attack falters without the right equipment"
	}
	monster := duel.IsMonsterDuel
	if c.moveIsValid(move2, items2, known, monster) {
		judgment.VitalDelta1 = 1
		judgment.Reason2 = "a clean strike lands"
	} else {
		judgment.ControlDelta2 = -1
		judgment.Reason2 = "the attack falters without the right equipment"
	}
	return judgment
}

// moveIsValid checks equipment: a move is invalid only when it names an item
// the side does not own. Monsters (and the global bypass) always pass.
func (c *CombatEngine) moveIsValid(move string, owned, known []*types.Item, isMonster bool) bool {
	if c.allowAnyMove || isMonster {
		return true
	}
	lower := strings.ToLower(move)
	ownedNames := make(map[string]struct{}, len(owned))
	for _, item := range owned {
		ownedNames[strings.ToLower(item.Name)] = struct{}{}
	}
	for _, item := range known {
		name := strings.ToLower(item.Name)
		if name == "" {
			continue
		}
		if strings.Contains(lower, name) {
			if _, ok := ownedNames[name]; !ok {
				return false
			}
		}
	}
	return true
}

// postProcess clamps deltas and applies the consistency rules.
func (c *CombatEngine) postProcess(j *types.RoundJudgment) {
	// Vital deltas live in -1..3; -1 is only reachable with a healing flag.
	j.VitalDelta1 = clampInt(j.VitalDelta1, -1, 3)
	j.VitalDelta2 = clampInt(j.VitalDelta2, -1, 3)
	if j.VitalDelta1 < 0 && !j.Healing1 {
		j.VitalDelta1 = 0
	}
	if j.VitalDelta2 < 0 && !j.Healing2 {
		j.VitalDelta2 = 0
	}
	j.ControlDelta1 = clampInt(j.ControlDelta1, -2, 2)
	j.ControlDelta2 = clampInt(j.ControlDelta2, -2, 2)

	// The side taking more vital loss does not also gain control.
	if j.VitalDelta1 > j.VitalDelta2 && j.ControlDelta1 > 0 {
		j.ControlDelta1 = 0
	}
	if j.VitalDelta2 > j.VitalDelta1 && j.ControlDelta2 > 0 {
		j.ControlDelta2 = 0
	}
	// Control is contested: both sides cannot gain it in the same round.
	if j.ControlDelta1 > 0 && j.ControlDelta2 > 0 {
		if j.ControlDelta1 <= j.ControlDelta2 {
			j.ControlDelta1 = 0
		} else {
			j.ControlDelta2 = 0
		}
	}
}

// roundNarrative produces the 2-4 sentence description of the round.
func (c *CombatEngine) roundNarrative(ctx context.Context, duel *types.Duel, round types.DuelRound) string {
	out, err := c.gw.GenerateText(ctx, narrativePrompt(duel, round))
	if err != nil || strings.TrimSpace(out) == "" {
		return fmt.Sprintf("Both combatants clash. %s %s", round.Reason1, round.Reason2)
	}
	return strings.TrimSpace(out)
}

func (c *CombatEngine) broadcastRound(duel *types.Duel, round types.DuelRound, ended bool) {
	result := types.NewWireMessage(types.MsgDuelRoundResult, map[string]interface{}{
		"duel_id":   duel.ID,
		"round":     round.Round,
		"narrative": round.Narrative,
		"vital1":    duel.Vital1,
		"vital2":    duel.Vital2,
		"control1":  duel.Control1,
		"control2":  duel.Control2,
		"window":    string(duel.FinishingWindowOwner),
		"ended":     ended,
	})
	c.msgr.SendToPlayer(duel.RoomID, duel.Player1ID, result)
	if !duel.IsMonsterDuel {
		c.msgr.SendToPlayer(duel.RoomID, duel.Player2ID, result)
	}
	if !ended {
		next := types.NewWireMessage(types.MsgDuelNextRound, map[string]interface{}{
			"duel_id": duel.ID,
			"round":   duel.Round,
		})
		c.msgr.SendToPlayer(duel.RoomID, duel.Player1ID, next)
		if !duel.IsMonsterDuel {
			c.msgr.SendToPlayer(duel.RoomID, duel.Player2ID, next)
		}
	}
}

// finishDuel broadcasts the outcome, applies monster death, and erases state.
func (c *CombatEngine) finishDuel(ctx context.Context, duel *types.Duel) {
	winner := duel.Winner()
	msgType := types.MsgDuelOutcome
	if duel.IsMonsterDuel {
		msgType = types.MsgMonsterCombatOutcome
	}
	outcome := types.NewWireMessage(msgType, map[string]interface{}{
		"duel_id": duel.ID,
		"winner":  winner,
		"draw":    winner == "",
	})
	c.msgr.BroadcastToRoom(duel.RoomID, outcome, "")

	if duel.IsMonsterDuel && winner == duel.Player1ID {
		c.killMonster(ctx, duel)
	}

	log.Info("duel finished", zap.String("duel_id", duel.ID),
		zap.String("winner", winner), zap.Bool("monster", duel.IsMonsterDuel))
	c.cleanup(ctx, duel)
}

func (c *CombatEngine) killMonster(ctx context.Context, duel *types.Duel) {
	monster, err := c.store.Durable.GetMonster(ctx, duel.Player2ID)
	if err != nil {
		log.Warn("slain monster not found", zap.String("monster_id", duel.Player2ID), zap.Error(err))
		return
	}
	monster.IsAlive = false
	monster.Health = 0
	if err := c.store.Durable.SaveMonster(ctx, monster); err != nil {
		log.Error("could not persist monster death", zap.String("monster_id", monster.ID), zap.Error(err))
	}
	if c.onMonsterDeath != nil {
		c.onMonsterDeath(duel.RoomID, monster.ID)
	}
}

// loadInventories resolves both sides' items; monsters have none.
func (c *CombatEngine) loadInventories(ctx context.Context, duel *types.Duel) ([]*types.Item, []*types.Item) {
	var items1, items2 []*types.Item
	if p1, err := c.store.Durable.GetPlayer(ctx, duel.Player1ID); err == nil {
		items1, _ = c.store.Durable.GetItems(ctx, p1.Inventory)
	}
	if !duel.IsMonsterDuel {
		if p2, err := c.store.Durable.GetPlayer(ctx, duel.Player2ID); err == nil {
			items2, _ = c.store.Durable.GetItems(ctx, p2.Inventory)
		}
	}
	return items1, items2
}

func judgePrompt(duel *types.Duel, move1, move2 string, items1, items2 []*types.Item) string {
	var b strings.Builder
	b.WriteString("You judge one round of a duel. Score both sides strictly.\n\n")
	fmt.Fprintf(&b, "Side 1 move: %q\n", move1)
	fmt.Fprintf(&b, "Side 1 equipment: %s\n", itemNames(items1))
	fmt.Fprintf(&b, "Side 2 move: %q\n", move2)
	if duel.IsMonsterDuel && duel.MonsterData != nil {
		fmt.Fprintf(&b, "Side 2 is a monster: %s (%s-sized). Its moves are always physically possible for it.\n",
			duel.MonsterData.Name, duel.MonsterData.Size)
	} else {
		fmt.Fprintf(&b, "Side 2 equipment: %s\n", itemNames(items2))
	}
	if n := len(duel.History); n > 0 {
		b.WriteString("Previous rounds:\n")
		start := maxInt(0, n-5)
		for _, r := range duel.History[start:] {
			fmt.Fprintf(&b, "- round %d: %s / %s\n", r.Round, r.Move1, r.Move2)
		}
	}
	b.WriteString("\nvital_delta is damage INFLICTED ON that side this round (0..3; " +
		"-1 only for genuine self-healing with the matching healingN flag true). " +
		"control_delta is -2..2. A move using equipment the side does not have " +
		"must fail and lose control.\n")
	b.WriteString(`Respond with JSON only: {"vital_delta1": 0, "vital_delta2": 0, "control_delta1": 0, "control_delta2": 0, "healing1": false, "healing2": false, "reason1": "...", "reason2": "..."}`)
	return b.String()
}

func narrativePrompt(duel *types.Duel, round types.DuelRound) string {
	var b strings.Builder
	b.WriteString("Narrate one duel round in 2-4 sentences, second person plural is forbidden, " +
		"present tense. Never invent actions beyond the two moves. If an attack " +
		"misses or fails, explain why (invalid equipment, target defended, dodge).\n\n")
	if n := len(duel.History); n > 0 {
		b.WriteString("Earlier rounds:\n")
		for _, r := range duel.History {
			fmt.Fprintf(&b, "- %s / %s\n", r.Move1, r.Move2)
		}
	}
	fmt.Fprintf(&b, "\nThis round:\nSide 1: %q (%s)\nSide 2: %q (%s)\n",
		round.Move1, round.Reason1, round.Move2, round.Reason2)
	return b.String()
}

func itemNames(items []*types.Item) string {
	if len(items) == 0 {
		return "bare hands"
	}
	names := make([]string, 0, len(items))
	for _, item := range items {
		names = append(names, item.Name)
	}
	return strings.Join(names, ", ")
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
