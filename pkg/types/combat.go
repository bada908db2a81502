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

// PlayerMaxVital is the vital ceiling for human combatants.
const PlayerMaxVital = 6

// MaxControl is the control meter ceiling; reaching it opens a finishing
// window.
const MaxControl = 5

// WindowOwner identifies which side currently owns the finishing window.
type WindowOwner string

const (
	WindowNone WindowOwner = "none"
	WindowP1   WindowOwner = "p1"
	WindowP2   WindowOwner = "p2"
)

// Duel is the round-based combat state shared by player-vs-player and
// player-vs-monster fights. Participant 2 is a monster id when IsMonsterDuel
// is set.
type Duel struct {
	ID                   string      `json:"duel_id"`
	Player1ID            string      `json:"player1_id"`
	Player2ID            string      `json:"player2_id"`
	RoomID               string      `json:"room_id"`
	Round                int         `json:"round"`
	IsMonsterDuel        bool        `json:"is_monster_duel"`
	MonsterData          *Monster    `json:"monster_data,omitempty"`
	Vital1               int         `json:"vital1"`
	Vital2               int         `json:"vital2"`
	MaxVital1            int         `json:"max_vital1"`
	MaxVital2            int         `json:"max_vital2"`
	Control1             int         `json:"control1"`
	Control2             int         `json:"control2"`
	FinishingWindowOwner WindowOwner `json:"finishing_window_owner"`
	History              []DuelRound `json:"history,omitempty"`
}

// Opponent returns the other participant's id, or "" when id is not part of
// the duel.
func (d *Duel) Opponent(id string) string {
	switch id {
	case d.Player1ID:
		return d.Player2ID
	case d.Player2ID:
		return d.Player1ID
	default:
		return ""
	}
}

// HasParticipant reports whether id fights in this duel.
func (d *Duel) HasParticipant(id string) bool {
	return id == d.Player1ID || id == d.Player2ID
}

// Ended reports whether any side has reached its vital ceiling.
func (d *Duel) Ended() bool {
	return d.Vital1 >= d.MaxVital1 || d.Vital2 >= d.MaxVital2
}

// Winner returns the winning participant id, or "" for an unfinished duel or
// a draw.
func (d *Duel) Winner() string {
	v1 := d.Vital1 >= d.MaxVital1
	v2 := d.Vital2 >= d.MaxVital2
	switch {
	case v1 && v2:
		return ""
	case v1:
		return d.Player2ID
	case v2:
		return d.Player1ID
	default:
		return ""
	}
}

// DuelRound records one judged round.
type DuelRound struct {
	Round         int    `json:"round"`
	Move1         string `json:"move1"`
	Move2         string `json:"move2"`
	VitalDelta1   int    `json:"vital_delta1"`
	VitalDelta2   int    `json:"vital_delta2"`
	ControlDelta1 int    `json:"control_delta1"`
	ControlDelta2 int    `json:"control_delta2"`
	Reason1       string `json:"reason1,omitempty"`
	Reason2       string `json:"reason2,omitempty"`
	Narrative     string `json:"narrative,omitempty"`
}

// RoundJudgment is the combat scorer's structured output before clamping.
type RoundJudgment struct {
	VitalDelta1   int    `json:"vital_delta1"`
	VitalDelta2   int    `json:"vital_delta2"`
	ControlDelta1 int    `json:"control_delta1"`
	ControlDelta2 int    `json:"control_delta2"`
	Healing1      bool   `json:"healing1"`
	Healing2      bool   `json:"healing2"`
	Reason1       string `json:"reason1"`
	Reason2       string `json:"reason2"`
}
