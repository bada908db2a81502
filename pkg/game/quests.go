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
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fablegrid/fablegrid/internal/log"
	"github.com/fablegrid/fablegrid/pkg/llm"
	"github.com/fablegrid/fablegrid/pkg/storage"
	"github.com/fablegrid/fablegrid/pkg/types"
)

// QuestManager advances players along the ordered quest chain and hands out
// the rewards. Badge awards are at-most-once per (player, badge).
type QuestManager struct {
	store *storage.Store
	gw    *llm.Gateway
	msgr  Messenger
}

// NewQuestManager creates the manager.
func NewQuestManager(store *storage.Store, gw *llm.Gateway, msgr Messenger) *QuestManager {
	return &QuestManager{store: store, gw: gw, msgr: msgr}
}

// defaultQuests is the built-in chain seeded on first start.
var defaultQuests = []*types.Quest{
	{
		ID:             "quest_first_steps",
		Title:          "First Steps",
		Description:    "Leave the crossroads and see what the world holds.",
		Objective:      "explore rooms beyond the starting area",
		ObjectiveCount: 3,
		GoldReward:     10,
		BadgeID:        "badge_wanderer",
		OrderIndex:     0,
		Storyline: "The crossroads has stood empty for a generation. " +
			"Travelers speak of lights beyond the tree line and of doors " +
			"that were not there yesterday. Someone has to go look.",
	},
	{
		ID:             "quest_collector",
		Title:          "The Collector",
		Description:    "Gather curiosities from the wilds.",
		Objective:      "pick up items found in the world",
		ObjectiveCount: 3,
		GoldReward:     25,
		BadgeID:        "badge_collector",
		OrderIndex:     1,
	},
	{
		ID:             "quest_first_blood",
		Title:          "First Blood",
		Description:    "Prove yourself against the creatures of the grid.",
		Objective:      "defeat a monster in combat",
		ObjectiveCount: 1,
		GoldReward:     50,
		BadgeID:        "badge_duelist",
		OrderIndex:     2,
	},
	{
		ID:             "quest_deep_wilds",
		Title:          "Into the Deep Wilds",
		Description:    "Push past the sixth ring, where the maps give out.",
		Objective:      "travel far from the starting room",
		ObjectiveCount: 6,
		GoldReward:     100,
		BadgeID:        "badge_pathfinder",
		OrderIndex:     3,
	},
}

// SeedDefaultQuests installs the built-in chain when no quests exist yet.
func (q *QuestManager) SeedDefaultQuests(ctx context.Context) error {
	existing, err := q.store.Durable.ListQuests(ctx)
	if err != nil {
		return fmt.Errorf("list quests: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}
	for _, quest := range defaultQuests {
		if err := q.store.Durable.SaveQuest(ctx, quest); err != nil {
			return fmt.Errorf("seed quest %s: %w", quest.ID, err)
		}
	}
	log.Info("seeded default quest chain", zap.Int("count", len(defaultQuests)))
	return nil
}

// FirstQuest returns the chain's opening quest, used for the storyline intro.
func (q *QuestManager) FirstQuest(ctx context.Context) (*types.Quest, error) {
	quests, err := q.store.Durable.ListQuests(ctx)
	if err != nil {
		return nil, err
	}
	if len(quests) == 0 {
		return nil, storage.ErrNotFound
	}
	return quests[0], nil
}

// ActiveQuest resolves the player's current quest: the explicit active quest
// if set, otherwise the first quest in chain order they have not completed.
func (q *QuestManager) ActiveQuest(ctx context.Context, player *types.Player) (*types.Quest, error) {
	if player.ActiveQuestID != "" {
		quest, err := q.store.Durable.GetQuest(ctx, player.ActiveQuestID)
		if err == nil {
			return quest, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
	}
	quests, err := q.store.Durable.ListQuests(ctx)
	if err != nil {
		return nil, err
	}
	for _, quest := range quests {
		progress, err := q.store.Durable.GetQuestProgress(ctx, player.ID, quest.ID)
		if errors.Is(err, storage.ErrNotFound) {
			return quest, nil
		}
		if err != nil {
			return nil, err
		}
		if !progress.Completed {
			return quest, nil
		}
	}
	return nil, storage.ErrNotFound
}

// ProcessAction checks the action against the player's active quest objective
// and applies progress, completion rewards, and the hand-off to the next
// quest. A nil result means nothing quest-related happened.
func (q *QuestManager) ProcessAction(ctx context.Context, player *types.Player, action string, envelope *types.ActionEnvelope) (*types.QuestResult, error) {
	if types.IsPseudoPlayer(player.ID) {
		return nil, nil
	}
	quest, err := q.ActiveQuest(ctx, player)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if !q.actionAdvances(ctx, quest, action, envelope) {
		return nil, nil
	}

	progress, err := q.store.Durable.GetQuestProgress(ctx, player.ID, quest.ID)
	if errors.Is(err, storage.ErrNotFound) {
		progress = &types.QuestProgress{QuestID: quest.ID, PlayerID: player.ID}
	} else if err != nil {
		return nil, err
	}
	if progress.Completed {
		return nil, nil
	}

	progress.Progress++
	if progress.Progress < quest.ObjectiveCount {
		if err := q.store.Durable.SaveQuestProgress(ctx, progress); err != nil {
			return nil, err
		}
		result := &types.QuestResult{
			Type:     "quest_progress",
			Quest:    quest,
			Progress: progress.Progress,
			Target:   quest.ObjectiveCount,
		}
		q.msgr.SendPersonal(player.ID, types.NewWireMessage(types.MsgQuestProgress, map[string]interface{}{
			"quest_id": quest.ID,
			"title":    quest.Title,
			"progress": progress.Progress,
			"target":   quest.ObjectiveCount,
		}))
		return result, nil
	}

	return q.completeQuest(ctx, player, quest, progress)
}

func (q *QuestManager) completeQuest(ctx context.Context, player *types.Player, quest *types.Quest, progress *types.QuestProgress) (*types.QuestResult, error) {
	progress.Progress = quest.ObjectiveCount
	progress.Completed = true
	if err := q.store.Durable.SaveQuestProgress(ctx, progress); err != nil {
		return nil, err
	}

	if quest.GoldReward > 0 {
		player.Gold += quest.GoldReward
		tx := &types.GoldTransaction{
			ID:        "goldtx_" + uuid.NewString(),
			PlayerID:  player.ID,
			Amount:    quest.GoldReward,
			Reason:    "quest completed: " + quest.ID,
			Timestamp: time.Now().UTC(),
		}
		if err := q.store.Durable.RecordGoldTransaction(ctx, tx); err != nil {
			log.Warn("could not record gold transaction",
				zap.String("player_id", player.ID), zap.Error(err))
		}
	}

	badgeAwarded := false
	if quest.BadgeID != "" {
		awarded, err := q.store.Durable.AwardBadge(ctx, player.ID, quest.BadgeID)
		if err != nil {
			log.Warn("could not award badge", zap.String("badge_id", quest.BadgeID), zap.Error(err))
		}
		badgeAwarded = awarded
	}

	next, err := q.nextQuest(ctx, quest)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Warn("could not resolve next quest", zap.String("quest_id", quest.ID), zap.Error(err))
	}
	if next != nil {
		player.ActiveQuestID = next.ID
	} else {
		player.ActiveQuestID = ""
	}

	result := &types.QuestResult{
		Type:       "quest_completed",
		Quest:      quest,
		Progress:   progress.Progress,
		Target:     quest.ObjectiveCount,
		GoldReward: quest.GoldReward,
		NextQuest:  next,
	}
	if badgeAwarded {
		result.BadgeID = quest.BadgeID
	}

	fields := map[string]interface{}{
		"quest_id":    quest.ID,
		"title":       quest.Title,
		"gold_reward": quest.GoldReward,
	}
	if badgeAwarded {
		fields["badge_id"] = quest.BadgeID
	}
	if next != nil {
		fields["next_quest_id"] = next.ID
		fields["next_quest_title"] = next.Title
	}
	q.msgr.SendPersonal(player.ID, types.NewWireMessage(types.MsgQuestCompleted, fields))

	log.Info("quest completed", zap.String("player_id", player.ID),
		zap.String("quest_id", quest.ID), zap.Int("gold_reward", quest.GoldReward))
	return result, nil
}

// nextQuest returns the chain entry after the given quest, by order index.
func (q *QuestManager) nextQuest(ctx context.Context, current *types.Quest) (*types.Quest, error) {
	quests, err := q.store.Durable.ListQuests(ctx)
	if err != nil {
		return nil, err
	}
	for _, quest := range quests {
		if quest.OrderIndex > current.OrderIndex {
			return quest, nil
		}
	}
	return nil, storage.ErrNotFound
}

// actionAdvances asks the LLM whether the action satisfies the objective.
// Movement and item objectives short-circuit on the envelope so common cases
// stay deterministic and cheap.
func (q *QuestManager) actionAdvances(ctx context.Context, quest *types.Quest, action string, envelope *types.ActionEnvelope) bool {
	if envelope.Updates != nil && envelope.Updates.Player != nil {
		pu := envelope.Updates.Player
		switch quest.ID {
		case "quest_first_steps", "quest_deep_wilds":
			if pu.Direction != "" {
				return true
			}
		case "quest_collector":
			if len(pu.AddItems) > 0 {
				return true
			}
		}
	}

	out, err := q.gw.GenerateText(ctx, questJudgePrompt(quest, action))
	if err != nil {
		log.Warn("quest judge failed", zap.String("quest_id", quest.ID), zap.Error(err))
		return false
	}
	raw, ok := llm.ExtractJSONObject(out)
	if !ok {
		return false
	}
	var verdict struct {
		Advances bool `json:"advances"`
	}
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		return false
	}
	return verdict.Advances
}

// RecordMonsterKill advances kill-objective quests outside the action
// pipeline; the combat engine ends duels on its own thread.
func (q *QuestManager) RecordMonsterKill(ctx context.Context, playerID string) {
	player, err := q.store.Durable.GetPlayer(ctx, playerID)
	if err != nil {
		return
	}
	quest, err := q.ActiveQuest(ctx, player)
	if err != nil || quest.ID != "quest_first_blood" {
		return
	}
	progress, err := q.store.Durable.GetQuestProgress(ctx, playerID, quest.ID)
	if errors.Is(err, storage.ErrNotFound) {
		progress = &types.QuestProgress{QuestID: quest.ID, PlayerID: playerID}
	} else if err != nil {
		return
	}
	if progress.Completed {
		return
	}
	progress.Progress++
	if progress.Progress >= quest.ObjectiveCount {
		if _, err := q.completeQuest(ctx, player, quest, progress); err != nil {
			log.Warn("could not complete kill quest", zap.String("player_id", playerID), zap.Error(err))
			return
		}
		if err := q.store.Durable.SavePlayer(ctx, player); err != nil {
			log.Warn("could not persist quest reward", zap.String("player_id", playerID), zap.Error(err))
		}
		return
	}
	if err := q.store.Durable.SaveQuestProgress(ctx, progress); err != nil {
		log.Warn("could not persist quest progress", zap.String("player_id", playerID), zap.Error(err))
	}
}

func questJudgePrompt(quest *types.Quest, action string) string {
	return fmt.Sprintf(`The player's current quest objective is: %q.
The player just did: %q.
Does this action make concrete progress toward the objective?
Respond with JSON only: {"advances": false}`, quest.Objective, action)
}
