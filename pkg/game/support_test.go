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

	"github.com/fablegrid/fablegrid/internal/csync"
	"github.com/fablegrid/fablegrid/pkg/llm"
	"github.com/fablegrid/fablegrid/pkg/storage"
	"github.com/fablegrid/fablegrid/pkg/storage/memory"
	"github.com/fablegrid/fablegrid/pkg/types"
)

// scriptedClient satisfies llm.TextClient with a canned respond function.
type scriptedClient struct {
	respond func(system, prompt string) (string, error)
}

func (s *scriptedClient) Generate(ctx context.Context, system, prompt string) (string, error) {
	return s.respond(system, prompt)
}

func (s *scriptedClient) GenerateStream(ctx context.Context, system, prompt string, onToken func(string)) (string, error) {
	out, err := s.respond(system, prompt)
	if err == nil && onToken != nil {
		onToken(out)
	}
	return out, err
}

func scriptedGateway(respond func(system, prompt string) (string, error)) *llm.Gateway {
	return llm.New(&scriptedClient{respond: respond}, nil)
}

// recorder captures every message the gameplay layer sends. Combat and
// behavior broadcast from their own goroutines, so the capture log is a
// csync.Slice.
type recorder struct {
	sent *csync.Slice[recordedMsg]
}

type recordedMsg struct {
	method   string // "broadcast", "player", "personal"
	roomID   string
	playerID string
	msg      types.WireMessage
}

func newRecorder() *recorder {
	return &recorder{sent: csync.NewSlice[recordedMsg]()}
}

func (r *recorder) BroadcastToRoom(roomID string, msg types.WireMessage, excludePlayerID string) {
	r.sent.Append(recordedMsg{method: "broadcast", roomID: roomID, msg: msg})
}

func (r *recorder) SendToPlayer(roomID, playerID string, msg types.WireMessage) {
	r.sent.Append(recordedMsg{method: "player", roomID: roomID, playerID: playerID, msg: msg})
}

func (r *recorder) SendPersonal(playerID string, msg types.WireMessage) {
	r.sent.Append(recordedMsg{method: "personal", playerID: playerID, msg: msg})
}

// ofType returns every captured message with the given type discriminator.
func (r *recorder) ofType(msgType string) []types.WireMessage {
	var out []types.WireMessage
	for _, rec := range r.sent.Items() {
		if rec.msg["type"] == msgType {
			out = append(out, rec.msg)
		}
	}
	return out
}

func newGameStore() *storage.Store {
	return storage.NewStore(memory.NewTransient(), memory.NewDurable())
}
