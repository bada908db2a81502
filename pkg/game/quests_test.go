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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fablegrid/fablegrid/pkg/storage"
	"github.com/fablegrid/fablegrid/pkg/types"
)

func noAdvanceGateway() *scriptedClient {
	return &scriptedClient{respond: func(system, prompt string) (string, error) {
		return `{"advances": false}`, nil
	}}
}

func newQuestManager(t *testing.T) (*QuestManager, *storage.Store, *recorder) {
	t.Helper()
	s := newGameStore()
	msgr := newRecorder()
	q := NewQuestManager(s, scriptedGateway(noAdvanceGateway().respond), msgr)
	require.NoError(t, q.SeedDefaultQuests(context.Background()))
	return q, s, msgr
}

func movementEnvelope() *types.ActionEnvelope {
	return &types.ActionEnvelope{
		Response: "You walk north.",
		Updates: &types.ActionUpdates{
			Player: &types.PlayerUpdate{Direction: "north"},
		},
	}
}

func TestSeedDefaultQuestsIdempotent(t *testing.T) {
	q, s, _ := newQuestManager(t)
	ctx := context.Background()

	require.NoError(t, q.SeedDefaultQuests(ctx))
	quests, err := s.Durable.ListQuests(ctx)
	require.NoError(t, err)
	assert.Len(t, quests, 4)
	assert.Equal(t, "quest_first_steps", quests[0].ID)
	assert.Equal(t, "quest_deep_wilds", quests[3].ID)
}

func TestActiveQuestFollowsChainOrder(t *testing.T) {
	q, s, _ := newQuestManager(t)
	ctx := context.Background()
	player := &types.Player{ID: "player_1", Name: "Ash"}

	quest, err := q.ActiveQuest(ctx, player)
	require.NoError(t, err)
	assert.Equal(t, "quest_first_steps", quest.ID)

	// Completing the first quest moves the chain along.
	require.NoError(t, s.Durable.SaveQuestProgress(ctx, &types.QuestProgress{
		QuestID: "quest_first_steps", PlayerID: player.ID,
		Progress: 3, Completed: true,
	}))
	quest, err = q.ActiveQuest(ctx, player)
	require.NoError(t, err)
	assert.Equal(t, "quest_collector", quest.ID)
}

func TestProcessActionMovementProgress(t *testing.T) {
	q, _, msgr := newQuestManager(t)
	ctx := context.Background()
	player := &types.Player{ID: "player_1", Name: "Ash"}

	result, err := q.ProcessAction(ctx, player, "go north", movementEnvelope())
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "quest_progress", result.Type)
	assert.Equal(t, 1, result.Progress)
	assert.Equal(t, 3, result.Target)
	assert.Len(t, msgr.ofType(types.MsgQuestProgress), 1)
}

func TestProcessActionNonAdvancingAction(t *testing.T) {
	q, _, _ := newQuestManager(t)
	ctx := context.Background()
	player := &types.Player{ID: "player_1", Name: "Ash"}

	// No movement in the envelope and the judge says no.
	result, err := q.ProcessAction(ctx, player, "hum a tune",
		&types.ActionEnvelope{Response: "You hum."})
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestProcessActionIgnoresPseudoPlayers(t *testing.T) {
	q, _, _ := newQuestManager(t)
	result, err := q.ProcessAction(context.Background(),
		&types.Player{ID: "guest_1"}, "go north", movementEnvelope())
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestProcessActionCompletion(t *testing.T) {
	q, s, msgr := newQuestManager(t)
	ctx := context.Background()
	player := &types.Player{ID: "player_1", Name: "Ash", Gold: 5}

	var result *types.QuestResult
	var err error
	for i := 0; i < 3; i++ {
		result, err = q.ProcessAction(ctx, player, "go north", movementEnvelope())
		require.NoError(t, err)
		require.NotNil(t, result)
	}

	assert.Equal(t, "quest_completed", result.Type)
	assert.Equal(t, 10, result.GoldReward)
	assert.Equal(t, "badge_wanderer", result.BadgeID)
	require.NotNil(t, result.NextQuest)
	assert.Equal(t, "quest_collector", result.NextQuest.ID)

	assert.Equal(t, 15, player.Gold)
	assert.Equal(t, "quest_collector", player.ActiveQuestID)
	assert.Len(t, msgr.ofType(types.MsgQuestCompleted), 1)

	// The badge cannot be won twice.
	awarded, err := s.Durable.AwardBadge(ctx, player.ID, "badge_wanderer")
	require.NoError(t, err)
	assert.False(t, awarded)

	progress, err := s.Durable.GetQuestProgress(ctx, player.ID, "quest_first_steps")
	require.NoError(t, err)
	assert.True(t, progress.Completed)
}

func TestProcessActionCollectorCountsPickups(t *testing.T) {
	q, _, _ := newQuestManager(t)
	ctx := context.Background()
	player := &types.Player{ID: "player_1", ActiveQuestID: "quest_collector"}

	pickup := &types.ActionEnvelope{
		Response: "You pocket the token.",
		Updates: &types.ActionUpdates{
			Player: &types.PlayerUpdate{AddItems: []string{"Cinder Token"}},
		},
	}
	result, err := q.ProcessAction(ctx, player, "take the token", pickup)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "quest_progress", result.Type)
	assert.Equal(t, 1, result.Progress)
}

func TestRecordMonsterKill(t *testing.T) {
	q, s, msgr := newQuestManager(t)
	ctx := context.Background()

	player := &types.Player{ID: "player_1", Name: "Ash", ActiveQuestID: "quest_first_blood"}
	require.NoError(t, s.Durable.SavePlayer(ctx, player))

	q.RecordMonsterKill(ctx, player.ID)

	progress, err := s.Durable.GetQuestProgress(ctx, player.ID, "quest_first_blood")
	require.NoError(t, err)
	assert.True(t, progress.Completed)

	saved, err := s.Durable.GetPlayer(ctx, player.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, saved.Gold)
	assert.Equal(t, "quest_deep_wilds", saved.ActiveQuestID)
	assert.Len(t, msgr.ofType(types.MsgQuestCompleted), 1)
}

func TestRecordMonsterKillWrongQuestIsNoop(t *testing.T) {
	q, s, _ := newQuestManager(t)
	ctx := context.Background()

	player := &types.Player{ID: "player_1", ActiveQuestID: "quest_first_steps"}
	require.NoError(t, s.Durable.SavePlayer(ctx, player))

	q.RecordMonsterKill(ctx, player.ID)

	_, err := s.Durable.GetQuestProgress(ctx, player.ID, "quest_first_blood")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
