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

// Message type discriminators for the websocket channel. Every message is a
// single JSON object with a "type" field.
const (
	MsgRoomUpdate           = "room_update"
	MsgPresence             = "presence"
	MsgChat                 = "chat"
	MsgAction               = "action"
	MsgDuelChallenge        = "duel_challenge"
	MsgDuelResponse         = "duel_response"
	MsgDuelMove             = "duel_move"
	MsgDuelRoundResult      = "duel_round_result"
	MsgDuelNextRound        = "duel_next_round"
	MsgDuelOutcome          = "duel_outcome"
	MsgMonsterCombatOutcome = "monster_combat_outcome"
	MsgQuestStoryline       = "quest_storyline"
	MsgQuestProgress        = "quest_progress"
	MsgQuestCompleted       = "quest_completed"
	MsgError                = "error"
)

// WireMessage is the envelope every client and server message uses.
type WireMessage map[string]interface{}

// NewWireMessage builds a message with the mandatory type discriminator.
func NewWireMessage(msgType string, fields map[string]interface{}) WireMessage {
	msg := WireMessage{"type": msgType}
	for k, v := range fields {
		msg[k] = v
	}
	return msg
}

// ErrorMessage builds a standard error envelope.
func ErrorMessage(text string) WireMessage {
	return WireMessage{"type": MsgError, "message": text}
}
