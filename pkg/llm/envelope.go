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
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/fablegrid/fablegrid/pkg/types"
)

// envelopeSchema is the closed schema for the terminal action envelope.
// Unknown fields anywhere in the updates block are rejected so a drifting
// model cannot smuggle arbitrary writes into game state.
const envelopeSchema = `{
	"type": "object",
	"required": ["response"],
	"additionalProperties": false,
	"properties": {
		"response": {"type": "string"},
		"updates": {
			"type": "object",
			"additionalProperties": false,
			"properties": {
				"player": {
					"type": "object",
					"additionalProperties": false,
					"properties": {
						"direction": {"type": "string"},
						"gold": {"type": "integer"},
						"health": {"type": "integer"},
						"add_items": {"type": "array", "items": {"type": "string"}},
						"remove_items": {"type": "array", "items": {"type": "string"}},
						"add_memory": {"type": "string"},
						"active_quest_id": {"type": "string"}
					}
				},
				"room": {
					"type": "object",
					"additionalProperties": false,
					"properties": {
						"description": {"type": "string"},
						"add_items": {"type": "array", "items": {"type": "string"}},
						"remove_items": {"type": "array", "items": {"type": "string"}},
						"remove_monsters": {"type": "array", "items": {"type": "string"}}
					}
				},
				"npcs": {
					"type": "array",
					"items": {
						"type": "object",
						"required": ["id"],
						"additionalProperties": false,
						"properties": {
							"id": {"type": "string"},
							"add_dialogue": {"type": "string"},
							"add_memory": {"type": "string"}
						}
					}
				},
				"room_generation": {
					"type": "object",
					"additionalProperties": false,
					"properties": {
						"hint": {"type": "string"}
					}
				}
			}
		}
	}
}`

var compiledEnvelopeSchema = mustCompileSchema(envelopeSchema)

func mustCompileSchema(raw string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(raw))
	if err != nil {
		panic(fmt.Sprintf("invalid envelope schema: %v", err))
	}
	return schema
}

// ParseEnvelope parses the terminal envelope from a complete narrator
// response: prose, two newlines, then a single JSON object. When the
// two-newline split fails it falls back to the last JSON object anywhere in
// the text.
func ParseEnvelope(full string) (*types.ActionEnvelope, error) {
	raw, ok := tailJSON(full)
	if !ok {
		raw, ok = ExtractJSONObject(full)
	}
	if !ok {
		return nil, fmt.Errorf("no JSON object found")
	}

	result, err := compiledEnvelopeSchema.Validate(gojsonschema.NewStringLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("validate envelope: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("envelope schema violation: %s", strings.Join(msgs, "; "))
	}

	var envelope types.ActionEnvelope
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return &envelope, nil
}

// tailJSON returns the block after the last blank-line separator, if it looks
// like a JSON object.
func tailJSON(full string) (string, bool) {
	idx := strings.LastIndex(full, "\n\n")
	if idx < 0 {
		return "", false
	}
	tail := strings.TrimSpace(full[idx+2:])
	tail = stripCodeFence(tail)
	if strings.HasPrefix(tail, "{") && strings.HasSuffix(tail, "}") {
		return tail, true
	}
	return "", false
}

// ExtractJSONObject finds the last balanced top-level JSON object in s.
func ExtractJSONObject(s string) (string, bool) {
	s = stripCodeFence(strings.TrimSpace(s))
	end := strings.LastIndex(s, "}")
	if end < 0 {
		return "", false
	}
	depth := 0
	inString := false
	for i := end; i >= 0; i-- {
		c := s[i]
		if inString {
			// Walking backwards, a quote is only a string boundary when the
			// preceding byte is not a backslash.
			if c == '"' && (i == 0 || s[i-1] != '\\') {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '}':
			depth++
		case '{':
			depth--
			if depth == 0 {
				candidate := s[i : end+1]
				if json.Valid([]byte(candidate)) {
					return candidate, true
				}
				return "", false
			}
		}
	}
	return "", false
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
