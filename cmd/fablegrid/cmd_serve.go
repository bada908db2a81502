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
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fablegrid/fablegrid/internal/log"
	"github.com/fablegrid/fablegrid/pkg/game"
	"github.com/fablegrid/fablegrid/pkg/hub"
	"github.com/fablegrid/fablegrid/pkg/llm"
	"github.com/fablegrid/fablegrid/pkg/llm/anthropic"
	"github.com/fablegrid/fablegrid/pkg/llm/image"
	"github.com/fablegrid/fablegrid/pkg/llm/model3d"
	"github.com/fablegrid/fablegrid/pkg/objectstore"
	"github.com/fablegrid/fablegrid/pkg/server"
	"github.com/fablegrid/fablegrid/pkg/storage"
	"github.com/fablegrid/fablegrid/pkg/storage/postgres"
	"github.com/fablegrid/fablegrid/pkg/storage/redis"
	"github.com/fablegrid/fablegrid/pkg/world"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Fablegrid game server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	if err := log.Init(config.Logging.Level, config.Logging.Format); err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	if config.Database.URL == "" {
		return fmt.Errorf("database.url is required (FABLEGRID_DATABASE_URL)")
	}
	if config.LLM.AnthropicAPIKey == "" {
		return fmt.Errorf("llm.anthropic_api_key is required (FABLEGRID_LLM_ANTHROPIC_API_KEY)")
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Stores.
	transient, err := redis.New(ctx, config.Redis.URL)
	if err != nil {
		return fmt.Errorf("connect transient store: %w", err)
	}
	defer transient.Close() //nolint:errcheck

	durable, err := postgres.New(ctx, config.Database.URL)
	if err != nil {
		return fmt.Errorf("connect durable store: %w", err)
	}
	defer durable.Close()

	store := storage.NewStore(transient, durable)

	// Generation gateway.
	text := anthropic.NewClient(anthropic.Config{
		APIKey:    config.LLM.AnthropicAPIKey,
		Model:     config.LLM.AnthropicModel,
		MaxTokens: config.LLM.MaxTokens,
	})
	gw := llm.New(text, imageClient())

	// World engine.
	var objects *objectstore.Client
	if config.ObjectStore.Enabled {
		objects = objectstore.New(objectstore.Config{
			BaseURL:    config.ObjectStore.BaseURL,
			ServiceKey: config.ObjectStore.ServiceKey,
		})
	}
	var models *model3d.Client
	if config.Model3D.Enabled {
		models = model3d.New(model3d.Config{
			APIKey:   config.Model3D.APIKey,
			Endpoint: config.Model3D.Endpoint,
			Model:    config.Model3D.Model,
		})
	}
	biomes := world.NewBiomeManager(config.World.Seed, store, gw)
	imageEnabled := config.ObjectStore.Enabled && config.LLM.ImageProvider != "disabled"
	engine := world.NewEngine(store, gw, biomes, objects, models, imageEnabled)

	// Gameplay layer. The hub is the messenger for every component, so it is
	// built first and attached afterwards. It subscribes to the engine's
	// room-update events on construction.
	h := hub.New(store, engine, config.Server.RoomCapacity)

	combat := game.NewCombatEngine(store, gw, h, config.Game.AllowAnyCombatMove)
	behavior := game.NewBehaviorManager(store, h)
	combat.SetMonsterDeathHook(behavior.ClearMonster)
	quests := game.NewQuestManager(store, gw, h)
	h.Attach(combat, behavior, quests)

	limiter := game.NewRateLimiter(store)
	limiter.SetConfig(config.Game.RateLimit,
		time.Duration(config.Game.RateIntervalMinutes)*time.Minute)

	pipeline := game.NewPipeline(store, gw, engine, limiter, combat, behavior, quests, h)

	// World bootstrap and quest seeding happen before the listener opens so
	// the first request always finds a start room.
	if err := quests.SeedDefaultQuests(ctx); err != nil {
		return fmt.Errorf("seed quests: %w", err)
	}
	if _, err := engine.EnsureWorld(ctx, config.World.DefaultPremise); err != nil {
		return fmt.Errorf("bootstrap world: %w", err)
	}

	srv := server.New(server.Config{
		Addr:      fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port),
		APIKey:    config.Server.APIKey,
		JWTSecret: config.Server.JWTSecret,
		CORS: server.CORSConfig{
			Enabled:          config.Server.CORS.Enabled,
			AllowedOrigins:   config.Server.CORS.AllowedOrigins,
			AllowedMethods:   config.Server.CORS.AllowedMethods,
			AllowedHeaders:   config.Server.CORS.AllowedHeaders,
			AllowCredentials: config.Server.CORS.AllowCredentials,
			MaxAge:           config.Server.CORS.MaxAge,
		},
	}, store, engine, pipeline, limiter, h)

	maintenance := server.NewMaintenance(store, combat)
	if err := maintenance.Start(); err != nil {
		return fmt.Errorf("start maintenance: %w", err)
	}
	defer maintenance.Stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			log.Warn("http shutdown incomplete", zap.Error(err))
		}
		return nil
	}
}

// imageClient builds the configured image provider, or nil when disabled.
func imageClient() llm.ImageClient {
	switch config.LLM.ImageProvider {
	case "openai":
		if config.LLM.OpenAIAPIKey == "" {
			log.Warn("openai image provider selected without api key, disabling images")
			return nil
		}
		return image.NewOpenAIClient(image.OpenAIConfig{APIKey: config.LLM.OpenAIAPIKey})
	case "flux":
		if config.LLM.FluxAPIKey == "" {
			log.Warn("flux image provider selected without api key, disabling images")
			return nil
		}
		return image.NewFluxClient(image.FluxConfig{APIKey: config.LLM.FluxAPIKey})
	default:
		return nil
	}
}
