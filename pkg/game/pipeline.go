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
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fablegrid/fablegrid/internal/log"
	"github.com/fablegrid/fablegrid/pkg/llm"
	"github.com/fablegrid/fablegrid/pkg/storage"
	"github.com/fablegrid/fablegrid/pkg/types"
	"github.com/fablegrid/fablegrid/pkg/world"
)

// chatContextSize is how many recent room chat lines the narrator sees.
const chatContextSize = 20

// Pipeline runs a player action end to end: rate limit, context assembly,
// behavior guards, combat interception, narration, and state application.
type Pipeline struct {
	store    *storage.Store
	gw       *llm.Gateway
	engine   *world.Engine
	limiter  *RateLimiter
	combat   *CombatEngine
	behavior *BehaviorManager
	quests   *QuestManager
	msgr     Messenger
}

// NewPipeline wires the gameplay layer together.
func NewPipeline(store *storage.Store, gw *llm.Gateway, engine *world.Engine,
	limiter *RateLimiter, combat *CombatEngine, behavior *BehaviorManager,
	quests *QuestManager, msgr Messenger) *Pipeline {
	return &Pipeline{
		store:    store,
		gw:       gw,
		engine:   engine,
		limiter:  limiter,
		combat:   combat,
		behavior: behavior,
		quests:   quests,
		msgr:     msgr,
	}
}

// ActionResult is the terminal outcome of one processed action.
type ActionResult struct {
	Response    string               `json:"response"`
	Updates     *types.ActionUpdates `json:"updates,omitempty"`
	Room        *types.Room          `json:"room,omitempty"`
	Player      *types.Player        `json:"player,omitempty"`
	ForcedDuel  string               `json:"forced_duel,omitempty"`
	QuestResult *types.QuestResult   `json:"quest_result,omitempty"`
}

// Process handles one free-text action. onToken receives narration tokens as
// they stream; it may be nil. A *types.RateLimitError is returned as-is so
// callers can shape the denial response.
func (p *Pipeline) Process(ctx context.Context, playerID, action string, onToken func(token string)) (*ActionResult, error) {
	if err := p.limiter.Check(ctx, playerID); err != nil {
		return nil, err
	}

	player, err := p.store.Durable.GetPlayer(ctx, playerID)
	if err != nil {
		return nil, fmt.Errorf("load player %s: %w", playerID, err)
	}
	room, err := p.loadCurrentRoom(ctx, player)
	if err != nil {
		return nil, err
	}

	// Actions during an active duel are the player's combat moves.
	if duel, fighting := p.combat.ActiveDuelFor(playerID); fighting {
		if err := p.combat.SubmitMove(ctx, duel.ID, playerID, action); err != nil {
			return nil, err
		}
		return &ActionResult{Response: "Your move is committed. The duel decides the rest."}, nil
	}

	monsters, err := p.store.Durable.GetMonsters(ctx, room.Monsters)
	if err != nil {
		log.Warn("could not load room monsters", zap.String("room_id", room.ID), zap.Error(err))
	}

	// Behavior guard before narration: territorial exits and aggressive
	// monsters convert the action into forced combat.
	intent := movementIntent(action)
	if monster, triggered := p.behavior.CheckAction(ctx, playerID, room, intent); triggered {
		return p.forceDuel(ctx, player, room, monster)
	}

	// Explicit attacks bypass narration entirely.
	if monster, isAttack := p.combat.ClassifyAttack(ctx, action, monsters); isAttack {
		return p.forceDuel(ctx, player, room, monster)
	}

	actx, err := p.buildContext(ctx, player, room, monsters, action)
	if err != nil {
		return nil, err
	}

	var streamed strings.Builder
	capture := func(token string) {
		streamed.WriteString(token)
		if onToken != nil {
			onToken(token)
		}
	}

	envelope, err := p.gw.StreamAction(ctx, actx, capture)
	if err != nil {
		if !errors.Is(err, llm.ErrNoEnvelope) {
			return nil, err
		}
		// Narration without a parseable envelope still reaches the player;
		// it just cannot change state.
		envelope = &types.ActionEnvelope{Response: strings.TrimSpace(streamed.String())}
	}

	result := &ActionResult{
		Response: envelope.Response,
		Updates:  envelope.Updates,
		Room:     room,
		Player:   player,
	}
	if err := p.applyUpdates(ctx, result, action); err != nil {
		return nil, err
	}

	p.recordAction(ctx, player, room, action, envelope)

	if qr, err := p.quests.ProcessAction(ctx, player, action, envelope); err != nil {
		log.Warn("quest processing failed", zap.String("player_id", playerID), zap.Error(err))
	} else {
		result.QuestResult = qr
	}

	if err := p.store.Durable.SavePlayer(ctx, player); err != nil {
		return nil, fmt.Errorf("persist player %s: %w", playerID, err)
	}
	return result, nil
}

// loadCurrentRoom resolves the player's room, falling back to the start room
// when the recorded one is gone.
func (p *Pipeline) loadCurrentRoom(ctx context.Context, player *types.Player) (*types.Room, error) {
	roomID := player.CurrentRoom
	if roomID == "" {
		roomID = types.StartRoomID
	}
	room, err := p.store.Durable.GetRoom(ctx, roomID)
	if errors.Is(err, storage.ErrNotFound) && roomID != types.StartRoomID {
		log.Warn("player room missing, relocating to start",
			zap.String("player_id", player.ID), zap.String("room_id", roomID))
		player.CurrentRoom = types.StartRoomID
		return p.store.Durable.GetRoom(ctx, types.StartRoomID)
	}
	return room, err
}

// forceDuel starts a monster duel and returns the interception result.
func (p *Pipeline) forceDuel(ctx context.Context, player *types.Player, room *types.Room, monster *types.Monster) (*ActionResult, error) {
	duel, err := p.combat.StartMonsterDuel(ctx, player.ID, monster, room.ID)
	if err != nil {
		return nil, fmt.Errorf("start forced duel: %w", err)
	}
	return &ActionResult{
		Response: fmt.Sprintf("%s will not let that pass. It rounds on you, and the fight is on.",
			monster.Name),
		ForcedDuel: duel.ID,
		Room:       room,
		Player:     player,
	}, nil
}

func (p *Pipeline) buildContext(ctx context.Context, player *types.Player, room *types.Room, monsters []*types.Monster, action string) (*llm.ActionContext, error) {
	state, err := p.engine.GameState(ctx)
	if err != nil {
		log.Warn("game state unavailable for action context", zap.Error(err))
		state = &types.GameState{}
	}
	npcs, err := p.store.Durable.GetNPCs(ctx, room.NPCs)
	if err != nil {
		log.Warn("could not load room npcs", zap.String("room_id", room.ID), zap.Error(err))
	}
	items, err := p.store.Durable.GetItems(ctx, room.Items)
	if err != nil {
		log.Warn("could not load room items", zap.String("room_id", room.ID), zap.Error(err))
	}
	chat, err := p.store.RoomChatHistory(ctx, room.ID, chatContextSize)
	if err != nil {
		log.Warn("could not load chat history", zap.String("room_id", room.ID), zap.Error(err))
	}
	return &llm.ActionContext{
		Player:      player,
		Room:        room,
		GameState:   state,
		NPCs:        npcs,
		Monsters:    monsters,
		RoomItems:   items,
		ChatHistory: chat,
		Action:      action,
	}, nil
}

// applyUpdates mutates world state per the envelope, in a fixed order: player
// fields, room, NPCs, then movement last so every other change lands in the
// room the action happened in.
func (p *Pipeline) applyUpdates(ctx context.Context, result *ActionResult, action string) error {
	updates := result.Updates
	if updates == nil {
		return nil
	}
	player, room := result.Player, result.Room

	if pu := updates.Player; pu != nil {
		p.applyPlayerUpdate(ctx, player, room, pu)
	}
	if ru := updates.Room; ru != nil {
		p.applyRoomUpdate(ctx, room, ru)
	}
	for _, nu := range updates.NPCs {
		p.applyNPCUpdate(ctx, nu)
	}
	if rg := updates.RoomGeneration; rg != nil {
		p.regenerateRoom(ctx, room, rg.Hint)
	}

	if pu := updates.Player; pu != nil && pu.Direction != "" {
		if err := p.movePlayer(ctx, result, pu.Direction); err != nil {
			// Movement failure downgrades to narration; the rest of the
			// updates already applied.
			log.Warn("movement failed", zap.String("player_id", player.ID),
				zap.String("direction", pu.Direction), zap.Error(err))
			result.Response += "\n\nSomething bars the way, and you remain where you are."
		}
	}
	return nil
}

func (p *Pipeline) applyPlayerUpdate(ctx context.Context, player *types.Player, room *types.Room, pu *types.PlayerUpdate) {
	if pu.Gold != nil {
		player.Gold = *pu.Gold
		if player.Gold < 0 {
			player.Gold = 0
		}
	}
	if pu.Health != nil {
		player.Health = clampInt(*pu.Health, 0, types.PlayerMaxVital)
	}
	for _, name := range pu.AddItems {
		p.grantItem(ctx, player, room, name)
	}
	for _, name := range pu.RemoveItems {
		player.Inventory = removeItemRef(player.Inventory, name)
	}
	if pu.AddMemory != "" {
		player.MemoryLog = append(player.MemoryLog, pu.AddMemory)
		if len(player.MemoryLog) > 50 {
			player.MemoryLog = player.MemoryLog[len(player.MemoryLog)-50:]
		}
	}
	if pu.ActiveQuestID != "" {
		player.ActiveQuestID = pu.ActiveQuestID
	}
}

// grantItem moves a room item into the inventory when the name matches one,
// and mints a plain rarity-1 item otherwise.
func (p *Pipeline) grantItem(ctx context.Context, player *types.Player, room *types.Room, name string) {
	items, err := p.store.Durable.GetItems(ctx, room.Items)
	if err == nil {
		for _, item := range items {
			if strings.EqualFold(item.Name, name) || item.ID == name {
				room.Items = removeItemRef(room.Items, item.ID)
				player.Inventory = append(player.Inventory, item.ID)
				if err := p.store.Durable.SaveRoom(ctx, room); err != nil {
					log.Warn("could not persist item pickup", zap.String("room_id", room.ID), zap.Error(err))
				}
				return
			}
		}
	}
	item := &types.Item{
		ID:             "item_" + uuid.NewString(),
		Name:           name,
		Description:    name,
		Rarity:         1,
		SpecialEffects: "No special effects",
	}
	if err := p.store.Durable.SaveItem(ctx, item); err != nil {
		log.Warn("could not save granted item", zap.String("name", name), zap.Error(err))
		return
	}
	player.Inventory = append(player.Inventory, item.ID)
}

func (p *Pipeline) applyRoomUpdate(ctx context.Context, room *types.Room, ru *types.RoomUpdate) {
	if ru.Description != "" {
		room.Description = ru.Description
	}
	for _, name := range ru.AddItems {
		item := &types.Item{
			ID:             "item_" + uuid.NewString(),
			Name:           name,
			Description:    name,
			Rarity:         1,
			SpecialEffects: "No special effects",
		}
		if err := p.store.Durable.SaveItem(ctx, item); err != nil {
			log.Warn("could not save room item", zap.String("name", name), zap.Error(err))
			continue
		}
		room.Items = append(room.Items, item.ID)
	}
	for _, ref := range ru.RemoveItems {
		room.Items = removeItemRef(room.Items, ref)
	}
	for _, monsterID := range ru.RemoveMonsters {
		room.Monsters = removeItemRef(room.Monsters, monsterID)
		p.behavior.ClearMonster(room.ID, monsterID)
	}
	if err := p.store.Durable.SaveRoom(ctx, room); err != nil {
		log.Warn("could not persist room update", zap.String("room_id", room.ID), zap.Error(err))
	}
}

func (p *Pipeline) applyNPCUpdate(ctx context.Context, nu types.NPCUpdate) {
	npc, err := p.store.Durable.GetNPC(ctx, nu.ID)
	if err != nil {
		log.Warn("npc update for unknown npc", zap.String("npc_id", nu.ID), zap.Error(err))
		return
	}
	if nu.AddDialogue != "" {
		npc.DialogueHistory = append(npc.DialogueHistory, nu.AddDialogue)
	}
	if nu.AddMemory != "" {
		npc.MemoryLog = append(npc.MemoryLog, nu.AddMemory)
	}
	if err := p.store.Durable.SaveNPC(ctx, npc); err != nil {
		log.Warn("could not persist npc update", zap.String("npc_id", nu.ID), zap.Error(err))
	}
}

// regenerateRoom rewrites the room's narrative content in place.
func (p *Pipeline) regenerateRoom(ctx context.Context, room *types.Room, hint string) {
	biome, err := p.store.Durable.GetBiome(ctx, room.Biome)
	if err != nil {
		biome = &types.Biome{Name: room.Biome}
	}
	content, err := p.gw.GenerateRoomDescription(ctx, biome, room.X, room.Y, hint)
	if err != nil {
		log.Warn("room regeneration failed", zap.String("room_id", room.ID), zap.Error(err))
		return
	}
	room.Title = content.Title
	room.Description = content.Description
	if err := p.store.Durable.SaveRoom(ctx, room); err != nil {
		log.Warn("could not persist regenerated room", zap.String("room_id", room.ID), zap.Error(err))
	}
}

// movePlayer executes a direction update: guard check against the envelope's
// direction, presence bookkeeping, and the behavior hooks on both rooms.
func (p *Pipeline) movePlayer(ctx context.Context, result *ActionResult, direction string) error {
	player, from := result.Player, result.Room
	dir, ok := types.ParseDirection(direction)
	if !ok {
		return fmt.Errorf("unknown direction %q", direction)
	}

	if monster, triggered := p.behavior.CheckAction(ctx, player.ID, from, string(dir)); triggered {
		forced, err := p.forceDuel(ctx, player, from, monster)
		if err != nil {
			return err
		}
		result.Response += "\n\n" + forced.Response
		result.ForcedDuel = forced.ForcedDuel
		return nil
	}

	dest, err := p.engine.Move(ctx, from, dir)
	if err != nil {
		return err
	}

	if err := p.store.RemovePlayerFromRoom(ctx, from.ID, player.ID); err != nil {
		log.Warn("could not remove presence", zap.String("room_id", from.ID), zap.Error(err))
	}
	if err := p.store.AddPlayerToRoom(ctx, dest.ID, player.ID); err != nil {
		log.Warn("could not add presence", zap.String("room_id", dest.ID), zap.Error(err))
	}
	if remaining, err := p.store.RoomPlayers(ctx, from.ID); err == nil && len(remaining) == 0 {
		p.behavior.ClearRoom(from.ID)
	}

	p.behavior.SetPlayerLastRoom(player.ID, from.ID)
	player.CurrentRoom = dest.ID
	player.RejoinImmunity = false

	p.msgr.BroadcastToRoom(from.ID, types.NewWireMessage(types.MsgPresence, map[string]interface{}{
		"event":     "player_left",
		"player_id": player.ID,
		"direction": string(dir),
	}), player.ID)
	p.msgr.BroadcastToRoom(dest.ID, types.NewWireMessage(types.MsgPresence, map[string]interface{}{
		"event":     "player_entered",
		"player_id": player.ID,
		"direction": string(dir.Opposite()),
	}), player.ID)

	p.behavior.OnPlayerEnter(ctx, player, dest, dir)
	result.Room = dest
	return nil
}

// recordAction appends to the per-player action log, which also feeds the
// rate limiter and the analytics endpoints.
func (p *Pipeline) recordAction(ctx context.Context, player *types.Player, room *types.Room, action string, envelope *types.ActionEnvelope) {
	now := time.Now().UTC()
	rec := &types.ActionRecord{
		ID:         "action_" + uuid.NewString(),
		PlayerID:   player.ID,
		RoomID:     room.ID,
		Action:     action,
		AIResponse: envelope.Response,
		Timestamp:  now,
		SessionID:  fmt.Sprintf("session_%s_%s", player.ID, now.Format("20060102")),
		Updates:    envelope.Updates,
	}
	if err := p.store.RecordAction(ctx, rec); err != nil {
		log.Warn("could not record action", zap.String("player_id", player.ID), zap.Error(err))
	}
	player.LastAction = action
	player.LastActionAt = now.Format(time.RFC3339)
}

// movementIntent extracts a direction from the raw action text for the
// pre-narration behavior guard. Anything non-directional is the any-action
// sentinel.
func movementIntent(action string) string {
	fields := strings.Fields(strings.ToLower(action))
	for _, f := range fields {
		if d, ok := types.ParseDirection(strings.Trim(f, ".,!?")); ok {
			return string(d)
		}
	}
	return AnyActionSentinel
}

// removeItemRef deletes the first occurrence of ref from the list.
func removeItemRef(list []string, ref string) []string {
	for i, v := range list {
		if v == ref {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}
