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

// Package memory implements both store interfaces in process memory. It
// backs tests and single-node development runs; TTLs are honored lazily on
// read.
package memory

import (
	"context"
	"path"
	"sync"
	"time"

	"github.com/fablegrid/fablegrid/pkg/storage"
)

type entry struct {
	value     string
	expiresAt time.Time
}

func (e entry) expired() bool {
	return !e.expiresAt.IsZero() && time.Now().After(e.expiresAt)
}

// Transient is an in-memory storage.TransientStore.
type Transient struct {
	mu      sync.RWMutex
	strings map[string]entry
	sets    map[string]map[string]struct{}
	lists   map[string][]string
	hashes  map[string]map[string]string
}

// NewTransient creates an empty transient store.
func NewTransient() *Transient {
	t := &Transient{}
	t.reset()
	return t
}

func (t *Transient) reset() {
	t.strings = make(map[string]entry)
	t.sets = make(map[string]map[string]struct{})
	t.lists = make(map[string][]string)
	t.hashes = make(map[string]map[string]string)
}

func (t *Transient) GetString(ctx context.Context, key string) (string, bool, error) {
	t.mu.RLock()
	e, ok := t.strings[key]
	t.mu.RUnlock()
	if !ok || e.expired() {
		return "", false, nil
	}
	return e.value, true, nil
}

func (t *Transient) SetString(ctx context.Context, key, value string, ttl time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.strings[key] = newEntry(value, ttl)
	return nil
}

func (t *Transient) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.strings[key]; ok && !e.expired() {
		return false, nil
	}
	t.strings[key] = newEntry(value, ttl)
	return true, nil
}

func (t *Transient) Delete(ctx context.Context, keys ...string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, key := range keys {
		delete(t.strings, key)
		delete(t.sets, key)
		delete(t.lists, key)
		delete(t.hashes, key)
	}
	return nil
}

func (t *Transient) Expire(ctx context.Context, key string, ttl time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.strings[key]; ok {
		e.expiresAt = time.Now().Add(ttl)
		t.strings[key] = e
	}
	return nil
}

func (t *Transient) SetAdd(ctx context.Context, key string, members ...string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.sets[key]
	if !ok {
		set = make(map[string]struct{})
		t.sets[key] = set
	}
	for _, m := range members {
		set[m] = struct{}{}
	}
	return nil
}

func (t *Transient) SetRemove(ctx context.Context, key string, members ...string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.sets[key]
	if !ok {
		return nil
	}
	for _, m := range members {
		delete(set, m)
	}
	return nil
}

func (t *Transient) SetMembers(ctx context.Context, key string) ([]string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	members := make([]string, 0, len(t.sets[key]))
	for m := range t.sets[key] {
		members = append(members, m)
	}
	return members, nil
}

func (t *Transient) ListPushFront(ctx context.Context, key, value string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lists[key] = append([]string{value}, t.lists[key]...)
	return nil
}

func (t *Transient) ListRange(ctx context.Context, key string, from, to int64) ([]string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	list := t.lists[key]
	n := int64(len(list))
	if from < 0 {
		from = 0
	}
	if to < 0 || to >= n {
		to = n - 1
	}
	if from > to || n == 0 {
		return nil, nil
	}
	out := make([]string, to-from+1)
	copy(out, list[from:to+1])
	return out, nil
}

func (t *Transient) ListTrim(ctx context.Context, key string, max int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if list := t.lists[key]; int64(len(list)) > max {
		t.lists[key] = list[:max]
	}
	return nil
}

func (t *Transient) HashSet(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	hash, ok := t.hashes[key]
	if !ok {
		hash = make(map[string]string)
		t.hashes[key] = hash
	}
	for k, v := range fields {
		hash[k] = v
	}
	return nil
}

func (t *Transient) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]string, len(t.hashes[key]))
	for k, v := range t.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (t *Transient) Keys(ctx context.Context, pattern string) ([]string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var keys []string
	match := func(key string) {
		if ok, _ := path.Match(pattern, key); ok {
			keys = append(keys, key)
		}
	}
	for key := range t.strings {
		match(key)
	}
	for key := range t.sets {
		match(key)
	}
	for key := range t.lists {
		match(key)
	}
	for key := range t.hashes {
		match(key)
	}
	return keys, nil
}

func (t *Transient) FlushAll(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reset()
	return nil
}

func (t *Transient) Ping(ctx context.Context) error { return nil }

func (t *Transient) Close() error { return nil }

func newEntry(value string, ttl time.Duration) entry {
	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	return e
}

var _ storage.TransientStore = (*Transient)(nil)
