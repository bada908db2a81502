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

// Package game implements the gameplay layer: the action pipeline with its
// rate limiter, the combat engine, monster behavior, and the quest manager.
package game

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fablegrid/fablegrid/internal/log"
	"github.com/fablegrid/fablegrid/pkg/storage"
	"github.com/fablegrid/fablegrid/pkg/types"
)

const (
	// DefaultRateLimit is the default action budget per window.
	DefaultRateLimit = 50
	// DefaultRateInterval is the default sliding window width.
	DefaultRateInterval = 30 * time.Minute
)

// RateLimiter enforces a per-player sliding window over the action history
// log. The log in the transient store is authoritative; the limiter holds no
// counters of its own.
type RateLimiter struct {
	store *storage.Store

	mu       sync.RWMutex
	limit    int
	interval time.Duration
}

// NewRateLimiter creates a limiter with the default 50 actions / 30 minutes.
func NewRateLimiter(store *storage.Store) *RateLimiter {
	return &RateLimiter{
		store:    store,
		limit:    DefaultRateLimit,
		interval: DefaultRateInterval,
	}
}

// Config returns the current limit and window.
func (r *RateLimiter) Config() (int, time.Duration) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.limit, r.interval
}

// SetConfig changes the limit and window at runtime.
func (r *RateLimiter) SetConfig(limit int, interval time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit > 0 {
		r.limit = limit
	}
	if interval > 0 {
		r.interval = interval
	}
	log.Info("rate limiter reconfigured",
		zap.Int("limit", r.limit), zap.Duration("interval", r.interval))
}

// Check counts the player's actions inside the window. A *types.RateLimitError
// is returned on denial; store failures fail open with a warning.
func (r *RateLimiter) Check(ctx context.Context, playerID string) error {
	info, err := r.Status(ctx, playerID)
	if err != nil {
		log.Warn("rate limiter failing open", zap.String("player_id", playerID), zap.Error(err))
		return nil
	}
	if info.ActionCount >= info.Limit {
		return &types.RateLimitError{
			Info: *info,
			Message: fmt.Sprintf("Rate limit exceeded: %d actions in the last %d minutes. Try again in %.0f seconds.",
				info.ActionCount, info.IntervalMinutes, info.TimeUntilReset),
		}
	}
	return nil
}

// Status reports the player's current window usage without denying anything.
func (r *RateLimiter) Status(ctx context.Context, playerID string) (*types.RateLimitInfo, error) {
	limit, interval := r.Config()

	records, err := r.store.ActionHistory(ctx, playerID, int64(storage.ActionHistoryMax))
	if err != nil {
		return nil, err
	}

	now := time.Now()
	cutoff := now.Add(-interval)
	count := 0
	var oldestInWindow time.Time
	for _, rec := range records {
		if rec.Timestamp.Before(cutoff) {
			continue
		}
		count++
		if oldestInWindow.IsZero() || rec.Timestamp.Before(oldestInWindow) {
			oldestInWindow = rec.Timestamp
		}
	}

	reset := 0.0
	if count > 0 {
		reset = oldestInWindow.Add(interval).Sub(now).Seconds()
		if reset < 0 {
			reset = 0
		}
	}
	return &types.RateLimitInfo{
		ActionCount:     count,
		Limit:           limit,
		IntervalMinutes: int(interval.Minutes()),
		TimeUntilReset:  reset,
	}, nil
}
