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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fablegrid/fablegrid/pkg/storage"
	"github.com/fablegrid/fablegrid/pkg/types"
)

func erroringGateway() func(system, prompt string) (string, error) {
	return func(system, prompt string) (string, error) {
		return "", errors.New("model unavailable")
	}
}

func newCombatEngine(t *testing.T, allowAnyMove bool) (*CombatEngine, *storage.Store, *recorder) {
	t.Helper()
	s := newGameStore()
	msgr := newRecorder()
	c := NewCombatEngine(s, scriptedGateway(erroringGateway()), msgr, allowAnyMove)
	return c, s, msgr
}

func TestPostProcessClamps(t *testing.T) {
	c, _, _ := newCombatEngine(t, false)

	j := &types.RoundJudgment{
		VitalDelta1: 9, VitalDelta2: -5,
		ControlDelta1: 7, ControlDelta2: -9,
	}
	c.postProcess(j)
	assert.Equal(t, 3, j.VitalDelta1)
	assert.Equal(t, 0, j.VitalDelta2, "negative vital needs the healing flag")
	// Side 1 took the bigger hit; its control gain is voided.
	assert.Equal(t, 0, j.ControlDelta1)
	assert.Equal(t, -2, j.ControlDelta2)
}

func TestPostProcessHealingFlag(t *testing.T) {
	c, _, _ := newCombatEngine(t, false)

	j := &types.RoundJudgment{VitalDelta1: -1, Healing1: true}
	c.postProcess(j)
	assert.Equal(t, -1, j.VitalDelta1)
}

func TestPostProcessContestedControl(t *testing.T) {
	c, _, _ := newCombatEngine(t, false)

	j := &types.RoundJudgment{ControlDelta1: 2, ControlDelta2: 1}
	c.postProcess(j)
	assert.Equal(t, 2, j.ControlDelta1)
	assert.Equal(t, 0, j.ControlDelta2, "only one side gains control per round")

	j = &types.RoundJudgment{ControlDelta1: 1, ControlDelta2: 1}
	c.postProcess(j)
	assert.Equal(t, 0, j.ControlDelta1, "ties void the first side")
	assert.Equal(t, 1, j.ControlDelta2)
}

func TestMoveIsValid(t *testing.T) {
	c, _, _ := newCombatEngine(t, false)

	sword := &types.Item{ID: "i1", Name: "Iron Sword"}
	owned := []*types.Item{sword}
	known := []*types.Item{sword, {ID: "i2", Name: "Fire Staff"}}

	assert.True(t, c.moveIsValid("swing the iron sword", owned, known, false))
	assert.False(t, c.moveIsValid("blast them with the fire staff", owned, known, false),
		"naming an unowned item invalidates the move")
	assert.True(t, c.moveIsValid("throw a punch", nil, known, false))
	assert.True(t, c.moveIsValid("blast them with the fire staff", owned, known, true),
		"monsters bypass equipment checks")

	anyMove, _, _ := newCombatEngine(t, true)
	assert.True(t, anyMove.moveIsValid("blast them with the fire staff", owned, known, false))
}

func TestFallbackJudgment(t *testing.T) {
	c, _, _ := newCombatEngine(t, false)
	duel := &types.Duel{ID: "duel_1"}

	staff := &types.Item{ID: "i2", Name: "Fire Staff"}

	// Neither move names unknown equipment; both land.
	j := c.fallbackJudgment(duel, "punch", "throw a rock", nil, nil)
	assert.Equal(t, 1, j.VitalDelta1)
	assert.Equal(t, 1, j.VitalDelta2)

	// Side 1 swings an item only side 2 owns.
	j = c.fallbackJudgment(duel, "swing the fire staff", "punch", nil, []*types.Item{staff})
	assert.Equal(t, 0, j.VitalDelta2)
	assert.Equal(t, -1, j.ControlDelta1)
	assert.Equal(t, 1, j.VitalDelta1)
}

func TestSimilarityRatio(t *testing.T) {
	assert.Equal(t, 1.0, similarityRatio("bite", "bite"))
	assert.Equal(t, 1.0, similarityRatio("", ""))
	assert.Less(t, similarityRatio("bite the leg", "spit acid"), 0.5)
	assert.Greater(t, similarityRatio("bite the leg", "bite the arm"), 0.5)
}

func TestClampAndMax(t *testing.T) {
	assert.Equal(t, 3, clampInt(9, -1, 3))
	assert.Equal(t, -1, clampInt(-4, -1, 3))
	assert.Equal(t, 2, clampInt(2, -1, 3))
	assert.Equal(t, 7, maxInt(7, 2))
	assert.Equal(t, 7, maxInt(2, 7))
}

func TestChallengeAndDecline(t *testing.T) {
	ctx := context.Background()
	c, s, msgr := newCombatEngine(t, true)

	duel, err := c.Challenge(ctx, "p1", "p2", "room_0_0")
	require.NoError(t, err)
	assert.Equal(t, 1, c.ActiveDuelCount())
	assert.Len(t, msgr.ofType(types.MsgDuelChallenge), 1)

	mirrored, err := s.ActiveDuel(ctx, duel.ID)
	require.NoError(t, err)
	assert.Equal(t, "p1", mirrored.Player1ID)

	declined, err := c.Respond(ctx, duel.ID, false)
	require.NoError(t, err)
	assert.Nil(t, declined)
	assert.Equal(t, 0, c.ActiveDuelCount())
	_, err = s.ActiveDuel(ctx, duel.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestChallengeSelfRejected(t *testing.T) {
	c, _, _ := newCombatEngine(t, true)
	_, err := c.Challenge(context.Background(), "p1", "p1", "room_0_0")
	assert.Error(t, err)
}

func TestFinishingWindowConvertsHitToKill(t *testing.T) {
	ctx := context.Background()
	c, _, msgr := newCombatEngine(t, true)

	duel, err := c.Challenge(ctx, "p1", "p2", "room_0_0")
	require.NoError(t, err)
	_, err = c.Respond(ctx, duel.ID, true)
	require.NoError(t, err)

	// Side 1 earned the window last round.
	duel.FinishingWindowOwner = types.WindowP1

	// With the judge down, the fallback lands one hit on each side; the
	// window converts side 2's hit into a kill.
	require.NoError(t, c.SubmitMove(ctx, duel.ID, "p1", "strike"))
	require.NoError(t, c.SubmitMove(ctx, duel.ID, "p2", "strike back"))

	outcomes := msgr.ofType(types.MsgDuelOutcome)
	require.Len(t, outcomes, 1)
	assert.Equal(t, "p1", outcomes[0]["winner"])
	assert.Equal(t, 0, c.ActiveDuelCount())
}

func TestMonsterDuelFallbackToTheDeath(t *testing.T) {
	ctx := context.Background()
	c, s, msgr := newCombatEngine(t, true)

	var deadRoom, deadMonster string
	c.SetMonsterDeathHook(func(roomID, monsterID string) {
		deadRoom, deadMonster = roomID, monsterID
	})

	monster := &types.Monster{
		ID: "monster_1", Name: "Mire Gnat",
		Aggressiveness: types.Aggressive,
		Size:           types.SizeInsect,
		Health:         2, IsAlive: true, Location: "room_0_0",
	}
	require.NoError(t, s.Durable.SaveMonster(ctx, monster))
	require.NoError(t, s.Durable.SavePlayer(ctx, &types.Player{ID: "p1", Name: "Ash"}))

	duel, err := c.StartMonsterDuel(ctx, "p1", monster, "room_0_0")
	require.NoError(t, err)
	assert.Equal(t, 2, duel.MaxVital2, "insect monsters die at two vital")

	// Each player move triggers the monster's counter-move; with the model
	// down that counter is the canned lunge and the fallback judge scores
	// one hit per side per round.
	require.NoError(t, c.SubmitMove(ctx, duel.ID, "p1", "stomp on it"))
	assert.Equal(t, 1, duel.Vital2)
	require.False(t, duel.Ended())

	require.NoError(t, c.SubmitMove(ctx, duel.ID, "p1", "stomp again"))

	outcomes := msgr.ofType(types.MsgMonsterCombatOutcome)
	require.Len(t, outcomes, 1)
	assert.Equal(t, "p1", outcomes[0]["winner"])

	slain, err := s.Durable.GetMonster(ctx, monster.ID)
	require.NoError(t, err)
	assert.False(t, slain.IsAlive)
	assert.Equal(t, 0, slain.Health)
	assert.Equal(t, "room_0_0", deadRoom)
	assert.Equal(t, monster.ID, deadMonster)

	assert.Equal(t, 0, c.ActiveDuelCount())
	_, err = s.ActiveDuel(ctx, duel.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSubmitMoveRejectsOutsiders(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newCombatEngine(t, true)

	duel, err := c.Challenge(ctx, "p1", "p2", "room_0_0")
	require.NoError(t, err)

	assert.Error(t, c.SubmitMove(ctx, duel.ID, "p3", "interfere"))
	assert.Error(t, c.SubmitMove(ctx, "duel_missing", "p1", "swing"))
}

func TestMoveAfterJudgedRoundCountsForNextRound(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newCombatEngine(t, true)

	duel, err := c.Challenge(ctx, "p1", "p2", "room_0_0")
	require.NoError(t, err)
	require.NoError(t, c.SubmitMove(ctx, duel.ID, "p1", "swing high"))
	require.NoError(t, c.SubmitMove(ctx, duel.ID, "p2", "swing low"))
	require.Equal(t, 2, duel.Round)

	// Judging swapped in a fresh pending map; the next submission must land
	// there and not in the map the judge already consumed.
	require.NoError(t, c.SubmitMove(ctx, duel.ID, "p1", "second strike"))
	pending, ok := c.moves.Get(duel.ID)
	require.True(t, ok)
	assert.Len(t, pending, 1)
	assert.Equal(t, "second strike", pending["p1"])
}

func TestHandleDisconnectDecidesDuel(t *testing.T) {
	ctx := context.Background()
	c, s, msgr := newCombatEngine(t, true)

	duel, err := c.Challenge(ctx, "p1", "p2", "room_0_0")
	require.NoError(t, err)

	c.HandleDisconnect(ctx, "p1")

	outcomes := msgr.ofType(types.MsgDuelOutcome)
	require.Len(t, outcomes, 1)
	assert.Equal(t, "p2", outcomes[0]["winner"])
	assert.Equal(t, 0, c.ActiveDuelCount())
	_, err = s.ActiveDuel(ctx, duel.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestHandleDisconnectNeutralizesMonsterDuel(t *testing.T) {
	ctx := context.Background()
	c, s, msgr := newCombatEngine(t, true)

	monster := &types.Monster{
		ID: "monster_1", Name: "Mire Gnat", Size: types.SizeInsect,
		Health: 2, IsAlive: true,
	}
	require.NoError(t, s.Durable.SaveMonster(ctx, monster))
	_, err := c.StartMonsterDuel(ctx, "p1", monster, "room_0_0")
	require.NoError(t, err)

	c.HandleDisconnect(ctx, "p1")

	assert.Empty(t, msgr.ofType(types.MsgDuelOutcome), "fleeing scores nothing")
	assert.Equal(t, 0, c.ActiveDuelCount())

	alive, err := s.Durable.GetMonster(ctx, monster.ID)
	require.NoError(t, err)
	assert.True(t, alive.IsAlive)
}

func TestClassifyAttackTargetsMonster(t *testing.T) {
	ctx := context.Background()
	s := newGameStore()
	c := NewCombatEngine(s, scriptedGateway(func(system, prompt string) (string, error) {
		return `{"is_attack": true, "target_monster_id": "monster_2"}`, nil
	}), newRecorder(), true)

	monsters := []*types.Monster{
		{ID: "monster_1", Name: "Gnat", IsAlive: true},
		{ID: "monster_2", Name: "Hound", IsAlive: true},
	}
	target, isAttack := c.ClassifyAttack(ctx, "stab the hound", monsters)
	require.True(t, isAttack)
	assert.Equal(t, "monster_2", target.ID)
}

func TestClassifyAttackDeadMonstersOnly(t *testing.T) {
	c, _, _ := newCombatEngine(t, true)
	_, isAttack := c.ClassifyAttack(context.Background(), "stab it",
		[]*types.Monster{{ID: "monster_1", IsAlive: false}})
	assert.False(t, isAttack)
}

func TestClassifyAttackGivesUpAfterRetries(t *testing.T) {
	calls := 0
	c := NewCombatEngine(newGameStore(), scriptedGateway(func(system, prompt string) (string, error) {
		calls++
		return "no json here", nil
	}), newRecorder(), true)

	_, isAttack := c.ClassifyAttack(context.Background(), "stab it",
		[]*types.Monster{{ID: "monster_1", IsAlive: true}})
	assert.False(t, isAttack)
	assert.Equal(t, 3, calls)
}
