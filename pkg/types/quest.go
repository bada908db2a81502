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

package types

import "time"

// Quest is an ordered objective chain entry.
type Quest struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	Objective      string `json:"objective"`
	ObjectiveCount int    `json:"objective_count"`
	GoldReward     int    `json:"gold_reward"`
	BadgeID        string `json:"badge_id,omitempty"`
	OrderIndex     int    `json:"order_index"`
	Storyline      string `json:"storyline,omitempty"`
}

// QuestProgress tracks a player's progress on one quest.
type QuestProgress struct {
	QuestID   string `json:"quest_id"`
	PlayerID  string `json:"player_id"`
	Progress  int    `json:"progress"`
	Completed bool   `json:"completed"`
}

// Badge is an at-most-once award per (player, badge).
type Badge struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// GoldTransaction records a gold award or spend.
type GoldTransaction struct {
	ID        string    `json:"id"`
	PlayerID  string    `json:"player_id"`
	Amount    int       `json:"amount"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// QuestResult is the quest manager's verdict after an action.
type QuestResult struct {
	Type       string `json:"type"` // quest_progress or quest_completed
	Quest      *Quest `json:"quest,omitempty"`
	Progress   int    `json:"progress,omitempty"`
	Target     int    `json:"target,omitempty"`
	GoldReward int    `json:"gold_reward,omitempty"`
	BadgeID    string `json:"badge_id,omitempty"`
	NextQuest  *Quest `json:"next_quest,omitempty"`
}
