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
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fablegrid/fablegrid/internal/log"
	"github.com/fablegrid/fablegrid/pkg/storage"
	"github.com/fablegrid/fablegrid/pkg/storage/postgres"
	"github.com/fablegrid/fablegrid/pkg/storage/redis"
)

var resetForce bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Wipe all game state, preserving user accounts",
	Long:  `Reset truncates every game table (rooms, players, items, monsters, biomes, quest progress) and flushes the transient store. User accounts and quest definitions are preserved. The next serve run regenerates the world.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReset(cmd.Context())
	},
}

func init() {
	resetCmd.Flags().BoolVarP(&resetForce, "force", "f", false, "skip the confirmation prompt")
	rootCmd.AddCommand(resetCmd)
}

func runReset(ctx context.Context) error {
	if err := log.Init(config.Logging.Level, config.Logging.Format); err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	if config.Database.URL == "" {
		return fmt.Errorf("database.url is required (FABLEGRID_DATABASE_URL)")
	}

	if !resetForce {
		fmt.Print("This wipes all world state. Type 'reset' to confirm: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil || strings.TrimSpace(line) != "reset" {
			fmt.Println("Aborted.")
			return nil
		}
	}

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
	if err := store.ResetWorld(ctx); err != nil {
		return err
	}
	fmt.Println("World reset. Restart the server to regenerate.")
	return nil
}
