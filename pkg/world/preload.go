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

package world

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/fablegrid/fablegrid/internal/log"
	"github.com/fablegrid/fablegrid/pkg/storage"
	"github.com/fablegrid/fablegrid/pkg/types"
)

// preloadTimeout bounds one neighbor's generation end to end.
const preloadTimeout = 5 * time.Minute

// PreloadNeighbors fans out generation of the four neighbor coordinates.
// Fire-and-forget: callers do not wait, failures are logged.
func (e *Engine) PreloadNeighbors(room *types.Room) {
	for _, d := range types.Directions {
		dx, dy := d.Delta()
		go func(x, y int) {
			ctx, cancel := context.WithTimeout(context.Background(), preloadTimeout)
			defer cancel()
			if err := e.preloadCoordinate(ctx, x, y); err != nil {
				log.Warn("neighbor preload failed",
					zap.Int("x", x), zap.Int("y", y), zap.Error(err))
			}
		}(room.X+dx, room.Y+dy)
	}
}

// preloadCoordinate generates the room at (x,y) unless it exists or another
// worker holds one of the locks. Every lock taken is released on every exit
// path.
func (e *Engine) preloadCoordinate(ctx context.Context, x, y int) error {
	if _, err := e.store.Durable.GetCoordinate(ctx, x, y); err == nil {
		return nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	coordLock := storage.CoordLockKey(x, y)
	acquired, err := e.store.AcquireLock(ctx, coordLock, storage.GenerationLockTTL)
	if err != nil || !acquired {
		return err
	}
	defer e.releaseLock(coordLock)

	// Re-check under the lock; the winner of a race may have finished.
	if _, err := e.store.Durable.GetCoordinate(ctx, x, y); err == nil {
		return nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	roomID := RoomID(x, y)
	genLock := storage.RoomGenerationLockKey(roomID)
	acquired, err = e.store.AcquireLock(ctx, genLock, storage.GenerationLockTTL)
	if err != nil || !acquired {
		return err
	}
	defer e.releaseLock(genLock)
	defer func() {
		if err := e.store.ClearGenerationStatus(context.WithoutCancel(ctx), roomID); err != nil {
			log.Warn("failed to clear generation status", zap.String("room_id", roomID), zap.Error(err))
		}
	}()

	if err := e.store.SetGenerationStatus(ctx, roomID, types.ImageGenerating); err != nil {
		return err
	}

	biome, err := e.biomes.BiomeFor(ctx, x, y)
	if err != nil {
		return err
	}
	content, err := e.gw.GenerateRoomDescription(ctx, biome, x, y, "")
	if err != nil {
		return err
	}

	room, err := e.CreateRoomWithCoordinates(ctx, CreateRoomParams{
		ID:             roomID,
		X:              x,
		Y:              y,
		Title:          content.Title,
		Description:    content.Description,
		Biome:          biome,
		ImagePrompt:    content.ImagePrompt,
		MarkDiscovered: true,
	})
	if err != nil {
		return err
	}

	if err := e.store.SetGenerationStatus(ctx, roomID, types.ImageContentReady); err != nil {
		log.Warn("failed to publish content_ready", zap.String("room_id", roomID), zap.Error(err))
	}

	if e.imageEnabled {
		go e.runImageJob(room.ID, content.ImagePrompt)
	}
	log.Info("preloaded room", zap.String("room_id", room.ID),
		zap.Int("x", x), zap.Int("y", y), zap.String("biome", biome.Name))
	return nil
}

func (e *Engine) releaseLock(key string) {
	if err := e.store.ReleaseLock(context.Background(), key); err != nil {
		log.Warn("failed to release lock", zap.String("key", key), zap.Error(err))
	}
}

// runImageJob renders the room image, uploads it, attaches the URL, and
// broadcasts the updated room. Failures mark the room's image as errored but
// never abort anything else.
func (e *Engine) runImageJob(roomID, imagePrompt string) {
	ctx, cancel := context.WithTimeout(context.Background(), preloadTimeout)
	defer cancel()

	data, ext, err := e.gw.GenerateRoomImage(ctx, imagePrompt)
	if err != nil || data == nil {
		e.markImageStatus(ctx, roomID, types.ImageError)
		return
	}
	url, err := e.objects.UploadRoomImage(ctx, roomID, data, ext)
	if err != nil {
		e.markImageStatus(ctx, roomID, types.ImageError)
		return
	}

	room, err := e.store.Durable.GetRoom(ctx, roomID)
	if err != nil {
		log.Error("image job lost its room", zap.String("room_id", roomID), zap.Error(err))
		return
	}
	room.ImageURL = url
	room.ImageStatus = types.ImageReady
	if err := e.store.Durable.SaveRoom(ctx, room); err != nil {
		log.Error("failed to save room image", zap.String("room_id", roomID), zap.Error(err))
		return
	}
	e.BroadcastRoom(ctx, room)

	if e.models != nil {
		go e.runModelJob(roomID, url)
	}
}

// runModelJob turns the room image into a 3D model: submit, poll, upload,
// attach, broadcast.
func (e *Engine) runModelJob(roomID, imageURL string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()

	data, ext, err := e.models.GenerateModel(ctx, imageURL)
	if err != nil {
		log.Warn("3d model job failed", zap.String("room_id", roomID), zap.Error(err))
		return
	}
	url, err := e.objects.UploadRoomModel(ctx, roomID, data, ext)
	if err != nil {
		return
	}

	room, err := e.store.Durable.GetRoom(ctx, roomID)
	if err != nil {
		return
	}
	room.ModelURL = url
	if err := e.store.Durable.SaveRoom(ctx, room); err != nil {
		log.Error("failed to save room model", zap.String("room_id", roomID), zap.Error(err))
		return
	}
	e.BroadcastRoom(ctx, room)
}

func (e *Engine) markImageStatus(ctx context.Context, roomID string, status types.ImageStatus) {
	room, err := e.store.Durable.GetRoom(ctx, roomID)
	if err != nil {
		return
	}
	room.ImageStatus = status
	if err := e.store.Durable.SaveRoom(ctx, room); err != nil {
		log.Error("failed to update image status", zap.String("room_id", roomID), zap.Error(err))
		return
	}
	e.BroadcastRoom(ctx, room)
}
