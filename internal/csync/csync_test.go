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

package csync

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapGetOrSet(t *testing.T) {
	m := NewMap[string, int]()

	v, loaded := m.GetOrSet("a", 1)
	assert.Equal(t, 1, v)
	assert.False(t, loaded)

	v, loaded = m.GetOrSet("a", 2)
	assert.Equal(t, 1, v, "existing value wins")
	assert.True(t, loaded)
}

func TestMapValuesAndDelete(t *testing.T) {
	m := NewMap[string, int]()
	m.Set("a", 1)
	m.Set("b", 2)

	var got []int
	for v := range m.Values() {
		got = append(got, v)
	}
	sort.Ints(got)
	assert.Equal(t, []int{1, 2}, got)

	m.Delete("a")
	assert.Equal(t, 1, m.Len())
	_, ok := m.Get("a")
	assert.False(t, ok)
}

func TestSliceConcurrentAppend(t *testing.T) {
	s := NewSlice[int]()
	const writers = 8
	const perWriter = 100

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				s.Append(i)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, writers*perWriter, s.Len())
}

func TestSliceItemsIsACopy(t *testing.T) {
	s := NewSlice[string]()
	s.Append("a")

	items := s.Items()
	items[0] = "mutated"

	assert.Equal(t, []string{"a"}, s.Items())
}
