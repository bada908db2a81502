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

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/fablegrid/fablegrid/internal/log"
	"github.com/fablegrid/fablegrid/pkg/types"
)

// handleActionStream runs one action through the pipeline, streaming the
// narration as SSE token events followed by a single terminal result event.
func (s *Server) handleActionStream(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PlayerID string `json:"player_id"`
		Action   string `json:"action"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PlayerID == "" || req.Action == "" {
		writeError(w, http.StatusBadRequest, "player_id and action are required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	flusher.Flush()

	onToken := func(token string) {
		sendSSE(w, flusher, map[string]interface{}{
			"type":  "token",
			"token": token,
		})
	}

	result, err := s.pipeline.Process(r.Context(), req.PlayerID, req.Action, onToken)
	if err != nil {
		var rateErr *types.RateLimitError
		if errors.As(err, &rateErr) {
			sendSSE(w, flusher, map[string]interface{}{
				"type":       "rate_limited",
				"message":    rateErr.Message,
				"rate_limit": rateErr.Info,
			})
			return
		}
		log.Error("action pipeline failed",
			zap.String("player_id", req.PlayerID), zap.Error(err))
		sendSSE(w, flusher, map[string]interface{}{
			"type":  "error",
			"error": "action processing failed",
		})
		return
	}

	// Session room pointers follow pipeline movement.
	if result.Player != nil {
		s.hub.MovePlayer(result.Player.ID, result.Player.CurrentRoom)
	}

	sendSSE(w, flusher, map[string]interface{}{
		"type":   "result",
		"result": result,
	})
}

func sendSSE(w http.ResponseWriter, flusher http.Flusher, event map[string]interface{}) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Debug("sse event marshal failed", zap.Error(err))
		return
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return
	}
	flusher.Flush()
}
