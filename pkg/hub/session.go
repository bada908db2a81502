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

package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/fablegrid/fablegrid/internal/log"
	"github.com/fablegrid/fablegrid/pkg/types"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second

	// sendBuffer absorbs broadcast bursts; a session that cannot drain it
	// is dropped rather than allowed to stall the hub.
	sendBuffer = 64
)

// session is one live websocket connection for one player.
type session struct {
	playerID string
	conn     *websocket.Conn

	mu     sync.RWMutex
	roomID string

	send      chan types.WireMessage
	closeOnce sync.Once
	done      chan struct{}
}

func newSession(conn *websocket.Conn, playerID, roomID string) *session {
	return &session{
		playerID: playerID,
		conn:     conn,
		roomID:   roomID,
		send:     make(chan types.WireMessage, sendBuffer),
		done:     make(chan struct{}),
	}
}

func (s *session) room() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roomID
}

func (s *session) setRoom(roomID string) {
	s.mu.Lock()
	s.roomID = roomID
	s.mu.Unlock()
}

// deliver enqueues a message; a full buffer drops the session.
func (s *session) deliver(msg types.WireMessage) bool {
	select {
	case <-s.done:
		return false
	case s.send <- msg:
		return true
	default:
		log.Warn("session send buffer full, dropping connection",
			zap.String("player_id", s.playerID))
		s.close()
		return false
	}
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

// writeLoop owns the connection's write side: queued messages plus pings.
func (s *session) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.close()
	}()
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(msg); err != nil {
				log.Debug("session write failed",
					zap.String("player_id", s.playerID), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
