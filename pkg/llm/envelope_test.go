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

package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnvelopeTailBlock(t *testing.T) {
	full := "You push through the bracken and the trees thin out.\n\n" +
		`{"response": "You push through the bracken.", "updates": {"player": {"direction": "north"}}}`

	env, err := ParseEnvelope(full)
	require.NoError(t, err)
	assert.Equal(t, "You push through the bracken.", env.Response)
	require.NotNil(t, env.Updates)
	require.NotNil(t, env.Updates.Player)
	assert.Equal(t, "north", env.Updates.Player.Direction)
}

func TestParseEnvelopeCodeFence(t *testing.T) {
	full := "The merchant eyes you warily.\n\n```json\n" +
		`{"response": "The merchant eyes you warily."}` + "\n```"

	env, err := ParseEnvelope(full)
	require.NoError(t, err)
	assert.Equal(t, "The merchant eyes you warily.", env.Response)
	assert.Nil(t, env.Updates)
}

func TestParseEnvelopeFallsBackToLastObject(t *testing.T) {
	// No blank-line separator at all; the parser must find the trailing
	// object anyway.
	full := `Narration without separator {"response": "ok", "updates": {"room": {"description": "A bare cave."}}}`

	env, err := ParseEnvelope(full)
	require.NoError(t, err)
	assert.Equal(t, "ok", env.Response)
	require.NotNil(t, env.Updates.Room)
	assert.Equal(t, "A bare cave.", env.Updates.Room.Description)
}

func TestParseEnvelopeRejectsUnknownKeys(t *testing.T) {
	cases := map[string]string{
		"top level":     `{"response": "x", "teleport": true}`,
		"player update": `{"response": "x", "updates": {"player": {"level": 99}}}`,
		"room update":   `{"response": "x", "updates": {"room": {"connections": {}}}}`,
		"npc update":    `{"response": "x", "updates": {"npcs": [{"id": "npc_1", "kill": true}]}}`,
		"unknown block": `{"response": "x", "updates": {"world": {}}}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseEnvelope("prose\n\n" + raw)
			assert.Error(t, err)
		})
	}
}

func TestParseEnvelopeRequiresResponse(t *testing.T) {
	_, err := ParseEnvelope("prose\n\n" + `{"updates": {}}`)
	assert.Error(t, err)
}

func TestParseEnvelopeNoJSON(t *testing.T) {
	_, err := ParseEnvelope("pure prose with no structure at all")
	assert.Error(t, err)
}

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"bare object", `{"a": 1}`, `{"a": 1}`, true},
		{"surrounded", `noise {"a": 1} trailing`, `{"a": 1}`, true},
		{"trailing", `noise before {"a": {"b": 2}}`, `{"a": {"b": 2}}`, true},
		{"fenced", "```json\n{\"a\": 1}\n```", `{"a": 1}`, true},
		{"brace in string", `{"a": "close } brace"}`, `{"a": "close } brace"}`, true},
		{"no object", "nothing here", "", false},
		{"unbalanced", `"a": 1}`, "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ExtractJSONObject(tc.in)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.want, got)
			}
		})
	}
}
