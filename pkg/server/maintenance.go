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

package server

import (
	"context"
	"strings"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/fablegrid/fablegrid/internal/log"
	"github.com/fablegrid/fablegrid/pkg/game"
	"github.com/fablegrid/fablegrid/pkg/storage"
)

// Maintenance runs the periodic housekeeping jobs: history list trims and the
// stale duel-mirror sweep.
type Maintenance struct {
	store  *storage.Store
	combat *game.CombatEngine
	cron   *cron.Cron
}

// NewMaintenance creates the scheduler without starting it.
func NewMaintenance(store *storage.Store, combat *game.CombatEngine) *Maintenance {
	return &Maintenance{
		store:  store,
		combat: combat,
		cron:   cron.New(),
	}
}

// Start registers the hourly jobs and launches the scheduler.
func (m *Maintenance) Start() error {
	if _, err := m.cron.AddFunc("@hourly", m.trimHistories); err != nil {
		return err
	}
	if _, err := m.cron.AddFunc("@hourly", m.sweepStaleDuels); err != nil {
		return err
	}
	m.cron.Start()
	log.Info("maintenance scheduler started")
	return nil
}

// Stop halts the scheduler and waits for running jobs.
func (m *Maintenance) Stop() {
	ctx := m.cron.Stop()
	<-ctx.Done()
	log.Info("maintenance scheduler stopped")
}

// trimHistories re-caps every action and chat list. Pushes trim inline too,
// so this only matters for lists grown by older writers.
func (m *Maintenance) trimHistories() {
	ctx := context.Background()
	trimmed := 0
	for pattern, max := range map[string]int64{
		"actions:player:*":  storage.ActionHistoryMax,
		"messages:player:*": storage.ChatHistoryMax,
		"messages:room:*":   storage.ChatHistoryMax,
	} {
		keys, err := m.store.Transient.Keys(ctx, pattern)
		if err != nil {
			log.Warn("history trim scan failed", zap.String("pattern", pattern), zap.Error(err))
			continue
		}
		for _, key := range keys {
			if err := m.store.Transient.ListTrim(ctx, key, max); err != nil {
				log.Warn("history trim failed", zap.String("key", key), zap.Error(err))
				continue
			}
			trimmed++
		}
	}
	log.Info("history lists trimmed", zap.Int("lists", trimmed))
}

// sweepStaleDuels deletes duel mirrors whose duel no longer lives in this
// process. Mirrors exist for disconnect recovery; once the in-memory duel is
// gone they are garbage.
func (m *Maintenance) sweepStaleDuels() {
	ctx := context.Background()
	keys, err := m.store.Transient.Keys(ctx, "active_duel:*")
	if err != nil {
		log.Warn("duel sweep scan failed", zap.Error(err))
		return
	}
	swept := 0
	for _, key := range keys {
		duelID := strings.TrimPrefix(key, "active_duel:")
		if m.combat.HasDuel(duelID) {
			continue
		}
		duel, err := m.store.ActiveDuel(ctx, duelID)
		if err != nil {
			if err := m.store.Transient.Delete(ctx, key); err != nil {
				log.Warn("could not delete unreadable duel mirror", zap.String("key", key), zap.Error(err))
			}
			continue
		}
		if err := m.store.DeleteActiveDuel(ctx, duel); err != nil {
			log.Warn("could not delete stale duel mirror", zap.String("duel_id", duelID), zap.Error(err))
			continue
		}
		swept++
	}
	if swept > 0 {
		log.Info("stale duel mirrors swept", zap.Int("count", swept))
	}
}
