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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fablegrid/fablegrid/pkg/storage"
	"github.com/fablegrid/fablegrid/pkg/storage/memory"
	"github.com/fablegrid/fablegrid/pkg/types"
)

func recordActions(t *testing.T, s *storage.Store, playerID string, n int, at time.Time) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, s.RecordAction(context.Background(), &types.ActionRecord{
			ID:        fmt.Sprintf("action_%d_%d", at.UnixNano(), i),
			PlayerID:  playerID,
			Action:    "look around",
			Timestamp: at,
		}))
	}
}

func TestRateLimiterDeniesOverLimit(t *testing.T) {
	s := newGameStore()
	limiter := NewRateLimiter(s)
	limiter.SetConfig(3, time.Minute)

	recordActions(t, s, "p1", 2, time.Now().UTC())
	require.NoError(t, limiter.Check(context.Background(), "p1"))

	recordActions(t, s, "p1", 1, time.Now().UTC())
	err := limiter.Check(context.Background(), "p1")
	require.Error(t, err)

	var rle *types.RateLimitError
	require.True(t, errors.As(err, &rle))
	assert.Equal(t, 3, rle.Info.ActionCount)
	assert.Equal(t, 3, rle.Info.Limit)
	assert.Greater(t, rle.Info.TimeUntilReset, 0.0)
}

func TestRateLimiterIgnoresActionsOutsideWindow(t *testing.T) {
	s := newGameStore()
	limiter := NewRateLimiter(s)
	limiter.SetConfig(2, time.Minute)

	recordActions(t, s, "p1", 5, time.Now().UTC().Add(-2*time.Minute))

	info, err := limiter.Status(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 0, info.ActionCount)
	assert.Equal(t, 0.0, info.TimeUntilReset)
	require.NoError(t, limiter.Check(context.Background(), "p1"))
}

func TestRateLimiterSetConfigRejectsNonPositive(t *testing.T) {
	s := newGameStore()
	limiter := NewRateLimiter(s)

	limiter.SetConfig(0, 0)
	limit, interval := limiter.Config()
	assert.Equal(t, DefaultRateLimit, limit)
	assert.Equal(t, DefaultRateInterval, interval)

	limiter.SetConfig(10, 5*time.Minute)
	limit, interval = limiter.Config()
	assert.Equal(t, 10, limit)
	assert.Equal(t, 5*time.Minute, interval)
}

// brokenTransient fails every list read so Status errors.
type brokenTransient struct {
	storage.TransientStore
}

func (brokenTransient) ListRange(ctx context.Context, key string, from, to int64) ([]string, error) {
	return nil, errors.New("transient store down")
}

func TestRateLimiterFailsOpen(t *testing.T) {
	s := storage.NewStore(brokenTransient{memory.NewTransient()}, memory.NewDurable())
	limiter := NewRateLimiter(s)
	limiter.SetConfig(1, time.Minute)

	_, err := limiter.Status(context.Background(), "p1")
	require.Error(t, err)

	// Denial requires evidence; a broken store lets the action through.
	assert.NoError(t, limiter.Check(context.Background(), "p1"))
}
