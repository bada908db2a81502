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
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/fablegrid/fablegrid/pkg/storage"
	"github.com/fablegrid/fablegrid/pkg/types"
)

// SaveQuest upserts a quest definition.
func (s *Store) SaveQuest(ctx context.Context, quest *types.Quest) error {
	data, err := json.Marshal(quest)
	if err != nil {
		return fmt.Errorf("marshal quest %s: %w", quest.ID, err)
	}
	_, err = s.pool.Exec(ctx, `
	INSERT INTO quests (id, data, order_index) VALUES ($1, $2, $3)
	ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, order_index = EXCLUDED.order_index`,
		quest.ID, data, quest.OrderIndex)
	if err != nil {
		return fmt.Errorf("save quest %s: %w", quest.ID, err)
	}
	return nil
}

// ListQuests returns all quests in chain order.
func (s *Store) ListQuests(ctx context.Context) ([]*types.Quest, error) {
	rows, err := s.pool.Query(ctx, "SELECT data FROM quests ORDER BY order_index")
	if err != nil {
		return nil, fmt.Errorf("list quests: %w", err)
	}
	defer rows.Close()
	var quests []*types.Quest
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var quest types.Quest
		if err := json.Unmarshal(data, &quest); err != nil {
			return nil, err
		}
		quests = append(quests, &quest)
	}
	return quests, rows.Err()
}

// GetQuest loads one quest.
func (s *Store) GetQuest(ctx context.Context, id string) (*types.Quest, error) {
	var quest types.Quest
	if err := s.loadDoc(ctx, "quests", id, &quest); err != nil {
		return nil, err
	}
	return &quest, nil
}

// SaveQuestProgress upserts a player's progress row for a quest.
func (s *Store) SaveQuestProgress(ctx context.Context, progress *types.QuestProgress) error {
	_, err := s.pool.Exec(ctx, `
	INSERT INTO quest_progress (player_id, quest_id, progress, completed)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (player_id, quest_id)
	DO UPDATE SET progress = EXCLUDED.progress, completed = EXCLUDED.completed`,
		progress.PlayerID, progress.QuestID, progress.Progress, progress.Completed)
	if err != nil {
		return fmt.Errorf("save quest progress %s/%s: %w", progress.PlayerID, progress.QuestID, err)
	}
	return nil
}

// GetQuestProgress returns a player's progress on one quest.
func (s *Store) GetQuestProgress(ctx context.Context, playerID, questID string) (*types.QuestProgress, error) {
	progress := &types.QuestProgress{PlayerID: playerID, QuestID: questID}
	err := s.pool.QueryRow(ctx, `
	SELECT progress, completed FROM quest_progress
	WHERE player_id = $1 AND quest_id = $2`,
		playerID, questID).Scan(&progress.Progress, &progress.Completed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load quest progress %s/%s: %w", playerID, questID, err)
	}
	return progress, nil
}

// AwardBadge grants a badge at most once per player. Returns false when the
// player already holds it.
func (s *Store) AwardBadge(ctx context.Context, playerID, badgeID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
	INSERT INTO player_badges (player_id, badge_id) VALUES ($1, $2)
	ON CONFLICT (player_id, badge_id) DO NOTHING`,
		playerID, badgeID)
	if err != nil {
		return false, fmt.Errorf("award badge %s to %s: %w", badgeID, playerID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// RecordGoldTransaction appends a row to the gold ledger.
func (s *Store) RecordGoldTransaction(ctx context.Context, tx *types.GoldTransaction) error {
	_, err := s.pool.Exec(ctx, `
	INSERT INTO gold_transactions (id, player_id, amount, reason, created_at)
	VALUES ($1, $2, $3, $4, $5)`,
		tx.ID, tx.PlayerID, tx.Amount, tx.Reason, tx.Timestamp)
	if err != nil {
		return fmt.Errorf("record gold transaction %s: %w", tx.ID, err)
	}
	return nil
}
