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

// Package redis implements the transient store on go-redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/fablegrid/fablegrid/pkg/storage"
)

// Store implements storage.TransientStore.
type Store struct {
	client *goredis.Client
}

// New connects to redis at url (redis://host:port/db) and verifies the
// connection.
func New(ctx context.Context, url string) (*Store, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	return &Store{client: client}, nil
}

// NewWithClient wraps an existing client; used by tests with miniredis-style
// fakes.
func NewWithClient(client *goredis.Client) *Store {
	return &Store{client: client}
}

func wrap(err error) error {
	if err == nil || errors.Is(err, goredis.Nil) {
		return nil
	}
	return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
}

// GetString reads a string key; ok is false when the key is absent.
func (s *Store) GetString(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrap(err)
	}
	return v, true, nil
}

// SetString writes a string key with an optional TTL (0 = no expiry).
func (s *Store) SetString(ctx context.Context, key, value string, ttl time.Duration) error {
	return wrap(s.client.Set(ctx, key, value, ttl).Err())
}

// SetIfAbsent is the advisory-lock primitive.
func (s *Store) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	return ok, wrap(err)
}

// Delete removes keys.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return wrap(s.client.Del(ctx, keys...).Err())
}

// Expire sets a TTL on an existing key.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return wrap(s.client.Expire(ctx, key, ttl).Err())
}

// SetAdd adds members to a set.
func (s *Store) SetAdd(ctx context.Context, key string, members ...string) error {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return wrap(s.client.SAdd(ctx, key, args...).Err())
}

// SetRemove removes members from a set.
func (s *Store) SetRemove(ctx context.Context, key string, members ...string) error {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return wrap(s.client.SRem(ctx, key, args...).Err())
}

// SetMembers returns all members of a set.
func (s *Store) SetMembers(ctx context.Context, key string) ([]string, error) {
	members, err := s.client.SMembers(ctx, key).Result()
	return members, wrap(err)
}

// ListPushFront prepends to a list.
func (s *Store) ListPushFront(ctx context.Context, key, value string) error {
	return wrap(s.client.LPush(ctx, key, value).Err())
}

// ListRange returns list entries in [from, to].
func (s *Store) ListRange(ctx context.Context, key string, from, to int64) ([]string, error) {
	vals, err := s.client.LRange(ctx, key, from, to).Result()
	return vals, wrap(err)
}

// ListTrim keeps at most max entries from the front of the list.
func (s *Store) ListTrim(ctx context.Context, key string, max int64) error {
	return wrap(s.client.LTrim(ctx, key, 0, max-1).Err())
}

// HashSet writes hash fields and refreshes the key TTL.
func (s *Store) HashSet(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	args := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		args[k] = v
	}
	if err := s.client.HSet(ctx, key, args).Err(); err != nil {
		return wrap(err)
	}
	if ttl > 0 {
		return wrap(s.client.Expire(ctx, key, ttl).Err())
	}
	return nil
}

// HashGetAll reads all hash fields; an empty map means no such key.
func (s *Store) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	fields, err := s.client.HGetAll(ctx, key).Result()
	return fields, wrap(err)
}

// Keys scans for keys matching the glob pattern. Cursor iteration keeps the
// sweep from blocking the server the way KEYS would.
func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, wrap(err)
		}
		keys = append(keys, batch...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

// FlushAll wipes the whole transient database. Only ResetWorld calls this.
func (s *Store) FlushAll(ctx context.Context) error {
	return wrap(s.client.FlushDB(ctx).Err())
}

// Ping verifies the connection.
func (s *Store) Ping(ctx context.Context) error {
	return wrap(s.client.Ping(ctx).Err())
}

// Close releases the client.
func (s *Store) Close() error {
	return s.client.Close()
}

var _ storage.TransientStore = (*Store)(nil)
