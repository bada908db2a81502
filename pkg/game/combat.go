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
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fablegrid/fablegrid/internal/csync"
	"github.com/fablegrid/fablegrid/internal/log"
	"github.com/fablegrid/fablegrid/pkg/llm"
	"github.com/fablegrid/fablegrid/pkg/storage"
	"github.com/fablegrid/fablegrid/pkg/types"
)

// duelHistoryMax caps the round history carried on a duel.
const duelHistoryMax = 10

// Messenger is the slice of the connection hub the gameplay layer needs.
type Messenger interface {
	BroadcastToRoom(roomID string, msg types.WireMessage, excludePlayerID string)
	SendToPlayer(roomID, playerID string, msg types.WireMessage)
	SendPersonal(playerID string, msg types.WireMessage)
}

// CombatEngine owns all duel state. Rounds for one duel are serialized by a
// per-duel mutex; different duels judge concurrently.
type CombatEngine struct {
	store *storage.Store
	gw    *llm.Gateway
	msgr  Messenger

	duels     *csync.Map[string, *types.Duel]
	moves     *csync.Map[string, map[string]string]
	roundLock *csync.Map[string, *sync.Mutex]

	// allowAnyMove disables equipment validation globally.
	allowAnyMove bool

	// onMonsterDeath lets the behavior manager clear its bookkeeping when a
	// duel kills a monster.
	onMonsterDeath func(roomID, monsterID string)
}

// NewCombatEngine creates the combat engine.
func NewCombatEngine(store *storage.Store, gw *llm.Gateway, msgr Messenger, allowAnyMove bool) *CombatEngine {
	return &CombatEngine{
		store:        store,
		gw:           gw,
		msgr:         msgr,
		duels:        csync.NewMap[string, *types.Duel](),
		moves:        csync.NewMap[string, map[string]string](),
		roundLock:    csync.NewMap[string, *sync.Mutex](),
		allowAnyMove: allowAnyMove,
	}
}

// SetMonsterDeathHook registers the behavior-manager cleanup callback.
func (c *CombatEngine) SetMonsterDeathHook(hook func(roomID, monsterID string)) {
	c.onMonsterDeath = hook
}

// ActiveDuelFor returns the in-memory duel a participant fights in, if any.
func (c *CombatEngine) ActiveDuelFor(playerID string) (*types.Duel, bool) {
	for duel := range c.duels.Values() {
		if duel.HasParticipant(playerID) {
			return duel, true
		}
	}
	return nil, false
}

// Challenge creates a player-vs-player duel and notifies the opponent.
func (c *CombatEngine) Challenge(ctx context.Context, challengerID, opponentID, roomID string) (*types.Duel, error) {
	if challengerID == opponentID {
		return nil, fmt.Errorf("cannot duel yourself")
	}
	duel := &types.Duel{
		ID:                   "duel_" + uuid.NewString(),
		Player1ID:            challengerID,
		Player2ID:            opponentID,
		RoomID:               roomID,
		Round:                1,
		MaxVital1:            types.PlayerMaxVital,
		MaxVital2:            types.PlayerMaxVital,
		FinishingWindowOwner: types.WindowNone,
	}
	c.duels.Set(duel.ID, duel)
	if err := c.store.SaveActiveDuel(ctx, duel); err != nil {
		log.Warn("could not mirror duel", zap.String("duel_id", duel.ID), zap.Error(err))
	}
	c.msgr.SendToPlayer(roomID, opponentID, types.NewWireMessage(types.MsgDuelChallenge, map[string]interface{}{
		"duel_id":       duel.ID,
		"challenger_id": challengerID,
		"room_id":       roomID,
	}))
	log.Info("duel challenge issued", zap.String("duel_id", duel.ID),
		zap.String("challenger", challengerID), zap.String("opponent", opponentID))
	return duel, nil
}

// Respond accepts or declines a pending challenge. Accepting a duel whose
// in-memory record is gone recreates it from the transient mirror.
func (c *CombatEngine) Respond(ctx context.Context, duelID string, accept bool) (*types.Duel, error) {
	duel, ok := c.duels.Get(duelID)
	if !ok {
		restored, err := c.store.ActiveDuel(ctx, duelID)
		if err != nil {
			return nil, fmt.Errorf("no such duel %s", duelID)
		}
		duel = restored
		c.duels.Set(duelID, duel)
	}

	if !accept {
		c.cleanup(ctx, duel)
		c.msgr.BroadcastToRoom(duel.RoomID, types.NewWireMessage(types.MsgDuelResponse, map[string]interface{}{
			"duel_id":  duelID,
			"accepted": false,
		}), "")
		return nil, nil
	}

	c.msgr.BroadcastToRoom(duel.RoomID, types.NewWireMessage(types.MsgDuelResponse, map[string]interface{}{
		"duel_id":         duelID,
		"accepted":        true,
		"is_monster_duel": duel.IsMonsterDuel,
	}), "")
	return duel, nil
}

// SubmitMove records a participant's move; when both moves for the round are
// present the round is judged.
func (c *CombatEngine) SubmitMove(ctx context.Context, duelID, participantID, move string) error {
	duel, ok := c.duels.Get(duelID)
	if !ok {
		return fmt.Errorf("no such duel %s", duelID)
	}
	if !duel.HasParticipant(participantID) {
		return fmt.Errorf("%s is not part of duel %s", participantID, duelID)
	}

	// The pending map is fetched under the round mutex: judging swaps in a
	// fresh map, and a move written to the judged round's map would vanish.
	mu, _ := c.roundLock.GetOrSet(duelID, &sync.Mutex{})
	mu.Lock()
	pending, _ := c.moves.GetOrSet(duelID, map[string]string{})
	pending[participantID] = move
	ready := len(pending) == 2
	mu.Unlock()

	if duel.IsMonsterDuel && participantID == duel.Player1ID && !ready {
		monsterMove := c.generateMonsterMove(ctx, duel)
		return c.SubmitMove(ctx, duelID, duel.Player2ID, monsterMove)
	}

	if ready {
		return c.judgeRound(ctx, duel)
	}
	c.msgr.SendToPlayer(duel.RoomID, duel.Opponent(participantID),
		types.NewWireMessage(types.MsgDuelNextRound, map[string]interface{}{
			"duel_id": duelID,
			"round":   duel.Round,
			"waiting": "opponent has moved",
		}))
	return nil
}

// HandleDisconnect applies the disconnect policy: the remaining participant
// wins; a dropped monster duel is neutralized.
func (c *CombatEngine) HandleDisconnect(ctx context.Context, playerID string) {
	duel, ok := c.ActiveDuelFor(playerID)
	if !ok {
		duelID, found, err := c.store.ActiveDuelForPlayer(ctx, playerID)
		if err != nil || !found {
			return
		}
		restored, err := c.store.ActiveDuel(ctx, duelID)
		if err != nil {
			return
		}
		duel = restored
	}

	if duel.IsMonsterDuel {
		// The player fled; the monster keeps the room and nothing is scored.
		log.Info("monster duel neutralized by disconnect",
			zap.String("duel_id", duel.ID), zap.String("player_id", playerID))
		c.cleanup(ctx, duel)
		return
	}

	winnerID := duel.Opponent(playerID)
	c.msgr.BroadcastToRoom(duel.RoomID, types.NewWireMessage(types.MsgDuelOutcome, map[string]interface{}{
		"duel_id": duel.ID,
		"winner":  winnerID,
		"reason":  "opponent disconnected",
	}), "")
	log.Info("duel decided by disconnect",
		zap.String("duel_id", duel.ID), zap.String("winner", winnerID))
	c.cleanup(ctx, duel)
}

// cleanup erases all in-memory and mirrored state for a duel.
func (c *CombatEngine) cleanup(ctx context.Context, duel *types.Duel) {
	c.duels.Delete(duel.ID)
	c.moves.Delete(duel.ID)
	c.roundLock.Delete(duel.ID)
	if err := c.store.DeleteActiveDuel(ctx, duel); err != nil {
		log.Warn("could not delete duel mirror", zap.String("duel_id", duel.ID), zap.Error(err))
	}
}

// ActiveDuelCount reports how many duels are currently in progress.
func (c *CombatEngine) ActiveDuelCount() int {
	return c.duels.Len()
}

// HasDuel reports whether the duel id is live in this process; the cron
// sweeper uses it to spot orphaned transient mirrors.
func (c *CombatEngine) HasDuel(duelID string) bool {
	_, ok := c.duels.Get(duelID)
	return ok
}
